package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunResolveAddressSucceeds(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"resolve-address", "--payload", "deadbeef"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "sha256d=") {
		t.Fatalf("expected sha256d in output, got %q", stdout.String())
	}
}

func TestRunResolveAddressRejectsBadHex(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"resolve-address", "--payload", "not-hex"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestRunStatusMissingConfigFileIsFatal(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"status", "--currency", "btc", "--config", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1; stderr=%q", code, stderr.String())
	}
}

func TestRunUnknownCommandIsFatal(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"bogus"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestRunValidateMissingCurrencyFlagIsFatal(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"validate"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestRunUpdateCreateSchemaProvisionsStorageAndExits(t *testing.T) {
	dataDir := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "log_level: info\n" +
		"write_batch_size: 10\n" +
		"safety_margin: 0\n" +
		"retry_max_retries: 1\n" +
		"keyspaces:\n" +
		"  - currency: btc\n" +
		"    schema_type: utxo\n" +
		"    data_dir: " + dataDir + "\n" +
		"    bucket_size: 1000\n" +
		"    tx_prefix_length: 1\n" +
		"    address_prefix_length: 1\n" +
		"    relation_secondary_buckets: 1\n" +
		"    fiat_currencies: [usd]\n" +
		"    native_decimals: 8\n"
	if err := os.WriteFile(configPath, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"update", "--currency", "btc", "--config", configPath, "--create-schema"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "schema created") {
		t.Fatalf("expected schema created message, got %q", stdout.String())
	}

	entries, err := os.ReadDir(filepath.Join(dataDir, "keyspaces", "btc"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected keyspace storage files to be created")
	}
}
