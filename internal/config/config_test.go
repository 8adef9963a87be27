package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validKeyspace() Keyspace {
	return Keyspace{
		Currency:                 "btc",
		SchemaType:               "utxo",
		DataDir:                  "/var/lib/deltaupdater/btc",
		BucketSize:               25000,
		TxPrefixLength:           5,
		AddressPrefixLength:      5,
		RelationSecondaryBuckets: 2,
		FiatCurrencies:           []string{"usd", "eur"},
		NativeDecimals:           8,
	}
}

func validConfig() Config {
	cfg := Default()
	cfg.Keyspaces = []Keyspace{validKeyspace()}
	return cfg
}

func TestValidateConfigOK(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateConfigRejectsBadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateConfigRejectsNoKeyspaces(t *testing.T) {
	cfg := validConfig()
	cfg.Keyspaces = nil
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateConfigRejectsDuplicateKeyspace(t *testing.T) {
	cfg := validConfig()
	cfg.Keyspaces = []Keyspace{validKeyspace(), validKeyspace()}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateConfigRejectsBadSchemaType(t *testing.T) {
	cfg := validConfig()
	ks := validKeyspace()
	ks.SchemaType = "ledger"
	cfg.Keyspaces = []Keyspace{ks}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadParsesYAMLAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deltaupdater.yaml")
	yamlDoc := `
log_level: debug
write_batch_size: 1000
safety_margin: 3
retry_max_retries: 2
keyspaces:
  - currency: btc
    schema_type: utxo
    data_dir: /data/btc
    bucket_size: 25000
    tx_prefix_length: 5
    address_prefix_length: 5
    relation_secondary_buckets: 2
    fiat_currencies: [usd, eur]
    native_decimals: 8
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.WriteBatchSize != 1000 {
		t.Errorf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.Keyspaces) != 1 || cfg.Keyspaces[0].Currency != "btc" {
		t.Errorf("unexpected keyspaces: %+v", cfg.Keyspaces)
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
