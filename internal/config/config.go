package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"stratdeck/internal/core"
)

// Config is the full stratdeck configuration.
type Config struct {
	// Target names the endpoint the dashboard talks to.
	Target    string                    `mapstructure:"target"`
	Endpoints map[string]EndpointConfig `mapstructure:"endpoints"`
	Dashboard DashboardConfig           `mapstructure:"dashboard"`
	Export    ExportConfig              `mapstructure:"export"`
	Sim       SimConfig                 `mapstructure:"sim"`
}

// EndpointConfig is one named engine endpoint.
type EndpointConfig struct {
	URL string `mapstructure:"url"`
	WS  string `mapstructure:"ws"`
}

// DashboardConfig holds display options.
type DashboardConfig struct {
	PageSize        int           `mapstructure:"page_size"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// ExportConfig selects the snapshot export backend.
type ExportConfig struct {
	Type string   `mapstructure:"type"` // "localfs" or "s3"
	Path string   `mapstructure:"path"` // For localfs
	S3   S3Config `mapstructure:"s3"`   // For S3
}

// S3Config holds S3 connection configuration.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// SimConfig holds engine simulator settings.
type SimConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Strategies   int           `mapstructure:"strategies"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	Metrics      MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Target: "local",
		Endpoints: map[string]EndpointConfig{
			"local": {
				URL: "http://127.0.0.1:8089/graphql",
				WS:  "ws://127.0.0.1:8089/ws",
			},
		},
		Dashboard: DashboardConfig{
			PageSize:        10,
			RefreshInterval: 2 * time.Second,
		},
		Export: ExportConfig{
			Type: "localfs",
			Path: "snapshots",
		},
		Sim: SimConfig{
			Host:         "127.0.0.1",
			Port:         8089,
			Strategies:   12,
			TickInterval: time.Second,
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("at least one endpoint is required"))
	}
	ep, ok := c.Endpoints[c.Target]
	if !ok {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("target %q is not a configured endpoint", c.Target))
	}
	if ep.URL == "" {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("endpoint %q has no url", c.Target))
	}

	if c.Dashboard.PageSize < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("page_size cannot be negative, got %d", c.Dashboard.PageSize))
	}

	switch c.Export.Type {
	case "", "localfs", "s3":
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("export type must be localfs or s3, got %q", c.Export.Type))
	}
	if c.Export.Type == "s3" && c.Export.S3.Bucket == "" {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("s3 export requires a bucket"))
	}

	if c.Sim.Port < 0 || c.Sim.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("sim port must be between 0 and 65535, got %d", c.Sim.Port))
	}

	return nil
}
