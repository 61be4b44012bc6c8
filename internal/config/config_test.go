package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stratdeck.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const sampleConfig = `
target: staging
endpoints:
  staging:
    url: http://staging:8089/graphql
    ws: ws://staging:8089/ws
  prod:
    url: http://prod:8089/graphql
    ws: ws://prod:8089/ws
dashboard:
  page_size: 25
  refresh_interval: 5s
export:
  type: localfs
  path: /tmp/snapshots
`

func TestLoad(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Target != "staging" {
		t.Errorf("target = %s", cfg.Target)
	}
	if len(cfg.Endpoints) != 2 {
		t.Errorf("endpoints = %d, want 2", len(cfg.Endpoints))
	}
	if cfg.Endpoints["prod"].URL != "http://prod:8089/graphql" {
		t.Errorf("prod url = %s", cfg.Endpoints["prod"].URL)
	}
	if cfg.Dashboard.PageSize != 25 {
		t.Errorf("page size = %d", cfg.Dashboard.PageSize)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("STRATDECK_TEST_BUCKET", "ops-snapshots")
	path := writeConfig(t, `
target: local
endpoints:
  local:
    url: http://127.0.0.1:8089/graphql
export:
  type: s3
  s3:
    bucket: ${STRATDECK_TEST_BUCKET}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Export.S3.Bucket != "ops-snapshots" {
		t.Errorf("bucket = %s", cfg.Export.S3.Bucket)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/stratdeck.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	if _, ok := cfg.Endpoints[cfg.Target]; !ok {
		t.Error("default target must be a configured endpoint")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no endpoints", func(c *Config) { c.Endpoints = nil }, true},
		{"unknown target", func(c *Config) { c.Target = "ghost" }, true},
		{"endpoint without url", func(c *Config) {
			c.Endpoints["local"] = EndpointConfig{WS: "ws://x"}
		}, true},
		{"bad export type", func(c *Config) { c.Export.Type = "ftp" }, true},
		{"s3 without bucket", func(c *Config) {
			c.Export.Type = "s3"
			c.Export.S3.Bucket = ""
		}, true},
		{"bad sim port", func(c *Config) { c.Sim.Port = 70000 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
