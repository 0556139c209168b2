package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Escrow.PlatformFeeRate != 0.10 {
		t.Fatalf("expected 10%% fee, got %v", cfg.Escrow.PlatformFeeRate)
	}
	if cfg.AI.ViabilityTimeout != 30*time.Second {
		t.Fatalf("expected 30s viability timeout, got %v", cfg.AI.ViabilityTimeout)
	}
	if cfg.AI.SafetyThreshold != 70 {
		t.Fatalf("expected threshold 70, got %d", cfg.AI.SafetyThreshold)
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("escrow:\n  platform_fee_rate: 0.2\nanalysis:\n  max_attempts: 5\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Escrow.PlatformFeeRate != 0.2 {
		t.Fatalf("fee rate not applied: %v", cfg.Escrow.PlatformFeeRate)
	}
	if cfg.Escrow.Currency != "usd" {
		t.Fatalf("currency default lost: %q", cfg.Escrow.Currency)
	}
	if cfg.Analysis.MaxAttempts != 5 {
		t.Fatalf("max attempts not applied: %d", cfg.Analysis.MaxAttempts)
	}
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"fee too high":     "escrow:\n  platform_fee_rate: 1.5\n",
		"unknown provider": "ai:\n  provider: other\n",
		"zero attempts":    "analysis:\n  max_attempts: 0\n",
		"bad yaml":         "escrow: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if cfg.AI.Provider != "mock" {
		t.Fatalf("expected default provider, got %s", cfg.AI.Provider)
	}
	if err := os.WriteFile(filepath.Join(dir, "rentman.yml"), []byte("ai:\n  provider: gemini\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.AI.Provider != "gemini" {
		t.Fatalf("expected gemini, got %s", cfg.AI.Provider)
	}
}
