package config

import (
	"os"
	"testing"
	"time"

	"whaleflow/models"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, extra string) string {
	t.Helper()
	content := `whaleflow:
  name: "TestApp"
  version: "1.0"
channels:
  raw_buffer: 1
  annotated_buffer: 1
  report_buffer: 1
  sweep_buffer: 1
reader:
  max_workers: 1
processor:
  max_workers: 1
  batch_size: 1
  batch_timeout: 1s
storage:
  s3:
    enabled: false
` + extra
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, "")
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Whaleflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Whaleflow.Name)
	}
	if cfg.Reader.MaxWorkers != 1 {
		t.Errorf("unexpected max workers: %d", cfg.Reader.MaxWorkers)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString("whaleflow:\n  version: \"1.0\"\n"); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatalf("expected validation error for missing name")
	}
}

func TestLoadConfigAlpacaEnvOverride(t *testing.T) {
	t.Setenv("APCA_API_KEY_ID", "key-from-env")
	t.Setenv("APCA_API_SECRET_KEY", "secret-from-env")

	path := writeTempConfig(t, `source:
  alpaca:
    key_id: "key-from-file"
    secret_key: "secret-from-file"
`)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Source.Alpaca.KeyID != "key-from-env" {
		t.Errorf("environment should override file key, got %s", cfg.Source.Alpaca.KeyID)
	}
	if cfg.Source.Alpaca.SecretKey != "secret-from-env" {
		t.Errorf("environment should override file secret, got %s", cfg.Source.Alpaca.SecretKey)
	}
}

func TestLoadConfigRejectsBadLadder(t *testing.T) {
	path := writeTempConfig(t, `engine:
  thresholds:
    otm:
      notable: 10000
      unusual: 5000
      whale: 100000
      strong_whale: 250000
      headline: 1000000
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for non-increasing ladder")
	}
}

func TestLoadConfigRejectsUnknownLiquidityClass(t *testing.T) {
	path := writeTempConfig(t, `engine:
  liquidity_classes:
    AAPL: "gigantic"
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for unknown liquidity class")
	}
}

func TestEngineConfigOverrides(t *testing.T) {
	path := writeTempConfig(t, `engine:
  moneyness_boundary: 3.5
  sweep_window: 90s
  sweep_min_legs: 4
  thresholds:
    otm:
      notable: 1000
      unusual: 2000
      whale: 3000
      strong_whale: 4000
      headline: 5000
  liquidity_classes:
    xyz: "small"
`)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	ec := cfg.EngineConfig()
	if ec.MoneynessBoundary != 3.5 {
		t.Errorf("unexpected boundary: %f", ec.MoneynessBoundary)
	}
	if ec.SweepWindow != 90*time.Second {
		t.Errorf("unexpected sweep window: %v", ec.SweepWindow)
	}
	if ec.SweepMinLegs != 4 {
		t.Errorf("unexpected min legs: %d", ec.SweepMinLegs)
	}
	if ec.Thresholds[models.OTM].Notable != 1000 {
		t.Errorf("OTM ladder override not applied: %+v", ec.Thresholds[models.OTM])
	}
	// Untouched ladders keep their defaults.
	if ec.Thresholds[models.ITM].Notable != 25_000 {
		t.Errorf("ITM ladder should stay default: %+v", ec.Thresholds[models.ITM])
	}
	if cls := ec.LiquidityClassFor("XYZ"); string(cls) != "small" {
		t.Errorf("ticker class override not applied: %s", cls)
	}
}

func TestMinReportTierDefault(t *testing.T) {
	cfg := &Config{}
	if tier := cfg.MinReportTier(); tier != models.TierWhale {
		t.Errorf("expected whale default, got %s", tier)
	}
	cfg.Writer.MinTier = "strong_whale"
	if tier := cfg.MinReportTier(); tier != models.TierStrongWhale {
		t.Errorf("expected strong_whale, got %s", tier)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
