// Package config loads and validates the delta-updater's YAML
// configuration, following the teacher's node.Config/node.ValidateConfig
// idiom (SPEC_FULL.md AMBIENT STACK): fail fast, one explicit check per
// field, errors wrapped with context.
package config

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"graphsense.dev/deltaupdater/internal/ioutil"
)

// Keyspace is one currency's connection and bucketing parameters
// (spec.md §3, §6).
type Keyspace struct {
	Currency                 string   `yaml:"currency"`
	SchemaType               string   `yaml:"schema_type"` // "utxo" | "account"
	DataDir                  string   `yaml:"data_dir"`
	BucketSize               int      `yaml:"bucket_size"`
	TxPrefixLength           int      `yaml:"tx_prefix_length"`
	AddressPrefixLength      int      `yaml:"address_prefix_length"`
	RelationSecondaryBuckets int      `yaml:"relation_secondary_buckets"`
	FiatCurrencies           []string `yaml:"fiat_currencies"`
	NativeDecimals           int      `yaml:"native_decimals"`
}

// Config is the top-level delta-updater configuration (SPEC_FULL.md
// AMBIENT STACK "Config").
type Config struct {
	LogLevel        string     `yaml:"log_level"`
	Keyspaces       []Keyspace `yaml:"keyspaces"`
	WriteBatchSize  int        `yaml:"write_batch_size"`
	SafetyMargin    int64      `yaml:"safety_margin"`
	RetryMaxRetries int        `yaml:"retry_max_retries"`
	ForwardFillRates bool      `yaml:"forward_fill_rates"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {}, "info": {}, "warn": {}, "error": {},
}

var allowedSchemaTypes = map[string]struct{}{
	"utxo": {}, "account": {},
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		LogLevel:        "info",
		WriteBatchSize:  500,
		SafetyMargin:    6,
		RetryMaxRetries: 5,
	}
}

// Load reads and parses a YAML config file from path, validating path
// itself against directory traversal the way the teacher's
// node.readFileFromDir does (see internal/ioutil).
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := ioutil.ReadFileByPath(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field of cfg, per-field, returning the first
// failure wrapped with context (spec.md §3, §6).
func Validate(cfg Config) error {
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.WriteBatchSize <= 0 {
		return errors.New("write_batch_size must be > 0")
	}
	if cfg.SafetyMargin < 0 {
		return errors.New("safety_margin must be >= 0")
	}
	if cfg.RetryMaxRetries < 0 {
		return errors.New("retry_max_retries must be >= 0")
	}
	if len(cfg.Keyspaces) == 0 {
		return errors.New("keyspaces must list at least one currency")
	}
	seen := make(map[string]bool, len(cfg.Keyspaces))
	for _, ks := range cfg.Keyspaces {
		if err := validateKeyspace(ks); err != nil {
			return fmt.Errorf("keyspace %q: %w", ks.Currency, err)
		}
		if seen[ks.Currency] {
			return fmt.Errorf("duplicate keyspace currency %q", ks.Currency)
		}
		seen[ks.Currency] = true
	}
	return nil
}

func validateKeyspace(ks Keyspace) error {
	if strings.TrimSpace(ks.Currency) == "" {
		return errors.New("currency is required")
	}
	if _, ok := allowedSchemaTypes[ks.SchemaType]; !ok {
		return fmt.Errorf("invalid schema_type %q", ks.SchemaType)
	}
	if strings.TrimSpace(ks.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if ks.BucketSize <= 0 {
		return errors.New("bucket_size must be > 0")
	}
	if ks.TxPrefixLength <= 0 {
		return errors.New("tx_prefix_length must be > 0")
	}
	if ks.AddressPrefixLength <= 0 {
		return errors.New("address_prefix_length must be > 0")
	}
	if ks.RelationSecondaryBuckets <= 0 {
		return errors.New("relation_secondary_buckets must be > 0")
	}
	if len(ks.FiatCurrencies) == 0 {
		return errors.New("fiat_currencies must list at least one currency")
	}
	if ks.NativeDecimals < 0 {
		return errors.New("native_decimals must be >= 0")
	}
	return nil
}
