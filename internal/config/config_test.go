package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OpenTraceLab/OpenTraceNAND/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceNAND/pkg/joiner"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "otn.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigMatchesPackages(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	jc, err := cfg.Joiner()
	if err != nil {
		t.Fatalf("Joiner: %v", err)
	}
	if jc != joiner.DefaultConfig() {
		t.Errorf("joiner config = %+v, want %+v", jc, joiner.DefaultConfig())
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
resync:
  tolerance: 2
  max_live_offset: 5
sync:
  command: zz
fudge:
  reset_card_sec: 3
log:
  format: json
`)
	t.Setenv("OTN_RESYNC_TOLERANCE", "0")
	t.Setenv("OTN_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Resync.Tolerance != 0 {
		t.Errorf("tolerance = %d, environment should win", cfg.Resync.Tolerance)
	}
	if cfg.Resync.MaxLiveOffset != 5 || cfg.Resync.Capacity != 80 {
		t.Errorf("resync = %+v", cfg.Resync)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}

	jc, err := cfg.Joiner()
	if err != nil {
		t.Fatal(err)
	}
	if jc.SyncCommand != [2]byte{'z', 'z'} {
		t.Errorf("sync command = %q", jc.SyncCommand[:])
	}
	if jc.ResetCardTime != (capture.Timestamp{Sec: 3}) {
		t.Errorf("reset card time = %s", jc.ResetCardTime)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
		want string
	}{
		{"unknown key", "resync:\n  windw: 3\n", nil, "field windw not found"},
		{"bad command", "sync:\n  command: long\n", nil, "two characters"},
		{"bad window", "resync:\n  window_percent: 0\n", nil, "window percent"},
		{"bad level", "", map[string]string{"OTN_LOG_LEVEL": "loud"}, "log.level"},
		{"bad format", "log:\n  format: xml\n", nil, "log.format"},
		{"bad env", "", map[string]string{"OTN_RESYNC_CAPACITY": "many"}, "parse env"},
		{"registry", "decoder:\n  registry_capacity: 0\n", nil, "registry_capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
