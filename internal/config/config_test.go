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
		t.Fatalf("default config ongeldig: %v", err)
	}
	if cfg.PollInterval() != 4*time.Second {
		t.Fatalf("poll interval = %s, want 4s", cfg.PollInterval())
	}
	if cfg.TaskTimeout() != 5*time.Minute {
		t.Fatalf("task timeout = %s, want 5m", cfg.TaskTimeout())
	}
	for _, status := range []string{"queued", "scanning", "generating_stabu", "calculating", "scan_completed"} {
		if !cfg.IsActiveStatus(status) {
			t.Errorf("status %s hoort actief te zijn", status)
		}
	}
	for _, status := range []string{"done", "failed", ""} {
		if cfg.IsActiveStatus(status) {
			t.Errorf("status %q hoort niet actief te zijn", status)
		}
	}
}

func TestFromYAMLValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		ok   bool
	}{
		{
			"valid",
			"poller:\n  interval_ms: 2000\nrun:\n  active_statuses: [queued, scanning]\n",
			true,
		},
		{
			"negative interval",
			"poller:\n  interval_ms: -1\nrun:\n  active_statuses: [queued]\n",
			false,
		},
		{
			"missing active statuses",
			"poller:\n  interval_ms: 2000\n",
			false,
		},
		{
			"empty status",
			"run:\n  active_statuses: [queued, '']\n",
			false,
		},
		{
			"webhook without url",
			"run:\n  active_statuses: [queued]\nwebhooks:\n  - secret: s\n",
			false,
		},
		{
			"bad yaml",
			"run: [",
			false,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := FromYAML([]byte(c.yaml))
			if c.ok && err != nil {
				t.Fatalf("onverwachte fout: %v", err)
			}
			if !c.ok && err == nil {
				t.Fatal("verwachtte validatiefout")
			}
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("ontbrekend bestand: %v", err)
	}
	if len(cfg.Run.ActiveStatuses) == 0 {
		t.Fatal("verwachtte default actieve statussen")
	}

	custom := "poller:\n  interval_ms: 1500\nrun:\n  active_statuses: [queued]\n"
	if err := os.WriteFile(filepath.Join(dir, "rekenwolk.yml"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PollInterval() != 1500*time.Millisecond {
		t.Fatalf("poll interval = %s, want 1.5s", cfg.PollInterval())
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("gegenereerde config parset niet: %v", err)
	}
	if !cfg.Auth.AllowLegacyActorHeader {
		t.Fatal("default staat de legacy actor header toe")
	}
}
