// Package config provides configuration management for the SQRL server
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts human-readable forms
// ("12h", "90s") as well as integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.ShortTag() == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return fmt.Errorf("invalid duration value: %w", err)
		}
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	return fmt.Errorf("invalid duration value")
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the main configuration structure
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	SQRL    SQRLConfig    `yaml:"sqrl" json:"sqrl"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Session SessionConfig `yaml:"session" json:"session"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig contains HTTP listener configuration
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr" json:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
}

// SQRLConfig contains the protocol-facing site identity
type SQRLConfig struct {
	// LocalDomainName is the host rendered into issued sqrl:// URLs.
	LocalDomainName string `yaml:"local_domain_name" json:"local_domain_name"`

	// Port is rendered into issued URLs when nonzero (nonstandard port).
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// URLPath is the path of the SQRL POST endpoint.
	URLPath string `yaml:"url_path" json:"url_path"`

	// DomainExtension emits the x= hint: how many leading path characters
	// participate in the client's per-site key derivation.
	DomainExtension int `yaml:"domain_extension,omitempty" json:"domain_extension,omitempty"`

	// NutTTL bounds how long an issued nut stays presentable.
	NutTTL Duration `yaml:"nut_ttl,omitempty" json:"nut_ttl,omitempty"`

	// NutGenerator selects the nut minting strategy.
	NutGenerator NutGeneratorConfig `yaml:"nut_generator,omitempty" json:"nut_generator,omitempty"`

	// ClientLoginSuccessURL is where a client or polling browser is sent
	// after a completed login.
	ClientLoginSuccessURL string `yaml:"client_login_success_url" json:"client_login_success_url"`

	// ClientCancelAuthURL is rendered as can= so the client can bail out.
	ClientCancelAuthURL string `yaml:"client_cancel_auth_url,omitempty" json:"client_cancel_auth_url,omitempty"`
}

// NutGeneratorConfig contains nut generator configuration
type NutGeneratorConfig struct {
	Type string `yaml:"type" json:"type"` // random, encrypted
	// Key seals encrypted nuts; required for type "encrypted". Hex or raw.
	Key string `yaml:"key,omitempty" json:"key,omitempty"`
}

// StorageConfig contains persistence configuration
type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"` // memory, postgres
	Postgres PostgresConfig `yaml:"postgres,omitempty" json:"postgres,omitempty"`
}

// PostgresConfig contains PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Database string `yaml:"database" json:"database"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode"`
}

// SessionConfig contains login session token configuration
type SessionConfig struct {
	// TokenSecret signs the JWT minted when a poll observes a completed
	// login.
	TokenSecret string `yaml:"token_secret" json:"token_secret"`

	// TokenIssuer is stamped as iss.
	TokenIssuer string `yaml:"token_issuer,omitempty" json:"token_issuer,omitempty"`

	// TokenTTL bounds token validity.
	TokenTTL Duration `yaml:"token_ttl,omitempty" json:"token_ttl,omitempty"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Output string `yaml:"output" json:"output"` // stdout, stderr, file path
}
