package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, substitutes ${VAR:default} references from
// the environment, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	substituted := SubstituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(substituted), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config suitable for local development.
func Default() *Config {
	cfg := &Config{}
	cfg.SQRL.LocalDomainName = "localhost"
	cfg.SQRL.ClientLoginSuccessURL = "/loginSuccess"
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with working values.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.SQRL.URLPath == "" {
		c.SQRL.URLPath = "/sqrl"
	}
	if c.SQRL.NutTTL == 0 {
		c.SQRL.NutTTL = Duration(12 * time.Hour)
	}
	if c.SQRL.NutGenerator.Type == "" {
		c.SQRL.NutGenerator.Type = "random"
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.Type == "postgres" && c.Storage.Postgres.SSLMode == "" {
		c.Storage.Postgres.SSLMode = "disable"
	}
	if c.Session.TokenTTL == 0 {
		c.Session.TokenTTL = Duration(time.Hour)
	}
	if c.Session.TokenIssuer == "" {
		c.Session.TokenIssuer = c.SQRL.LocalDomainName
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.SQRL.LocalDomainName == "" {
		return fmt.Errorf("config: sqrl.local_domain_name is required")
	}
	if c.SQRL.ClientLoginSuccessURL == "" {
		return fmt.Errorf("config: sqrl.client_login_success_url is required")
	}
	switch c.SQRL.NutGenerator.Type {
	case "random":
	case "encrypted":
		if c.SQRL.NutGenerator.Key == "" {
			return fmt.Errorf("config: sqrl.nut_generator.key is required for encrypted nuts")
		}
	default:
		return fmt.Errorf("config: unsupported nut generator type %q", c.SQRL.NutGenerator.Type)
	}
	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.Host == "" || c.Storage.Postgres.Database == "" {
			return fmt.Errorf("config: storage.postgres.host and database are required")
		}
	default:
		return fmt.Errorf("config: unsupported storage type %q", c.Storage.Type)
	}
	return nil
}
