// Package config loads environment-sourced application configuration.
// All settings come from FACILITYHUB_* environment variables with development
// defaults; nothing here is security policy (see internal/security.Config).
package config

import (
	"crypto/sha256"
	"strings"

	"github.com/spf13/viper"
)

// Config holds process-level configuration.
type Config struct {
	Env         string // "development" or "production"
	Port        string // HTTP(S) listen port
	DatabaseURL string // PostgreSQL connection string

	DataDir string // directory for the rate-limit store, audit log and digest

	TLSCertFile string
	TLSKeyFile  string

	// Raw key material; empty means "derive a weak development key".
	EncryptionKey string
	SigningKey    string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FACILITYHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("database_url", "")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("tls_cert_file", "./cert.pem")
	v.SetDefault("tls_key_file", "./key.pem")
	v.SetDefault("encryption_key", "")
	v.SetDefault("signing_key", "")

	cfg := &Config{
		Env:           v.GetString("env"),
		Port:          v.GetString("port"),
		DatabaseURL:   v.GetString("database_url"),
		DataDir:       v.GetString("data_dir"),
		TLSCertFile:   v.GetString("tls_cert_file"),
		TLSKeyFile:    v.GetString("tls_key_file"),
		EncryptionKey: v.GetString("encryption_key"),
		SigningKey:    v.GetString("signing_key"),
	}
	return cfg, nil
}

// IsProduction reports whether the process runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// EncryptionKeyBytes returns 32 bytes of AES key material and whether the key
// came from configuration. When FACILITYHUB_ENCRYPTION_KEY is unset the key
// is derived deterministically from local settings - fine for development,
// worthless against anyone holding a copy of the binary and the environment.
// Callers must treat configured=false as development-only.
func (c *Config) EncryptionKeyBytes() (key []byte, configured bool) {
	if c.EncryptionKey != "" {
		sum := sha256.Sum256([]byte(c.EncryptionKey))
		return sum[:], true
	}
	sum := sha256.Sum256([]byte("facilityhub-dev-encryption|" + c.DatabaseURL))
	return sum[:], false
}

// SigningKeyBytes returns HMAC signing key material and whether it came from
// configuration, with the same development-fallback caveat as the encryption
// key.
func (c *Config) SigningKeyBytes() (key []byte, configured bool) {
	if c.SigningKey != "" {
		sum := sha256.Sum256([]byte(c.SigningKey))
		return sum[:], true
	}
	sum := sha256.Sum256([]byte("facilityhub-dev-signing|" + c.DatabaseURL))
	return sum[:], false
}
