package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "ATTENDANCE"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "attendance.db"
	defaultLogLevel         = "info"
	defaultTokenTTLMinutes  = 30
	defaultBatchLimit       = 100
	defaultWorkersPageLimit = 100
	defaultEmbeddingBytes   = 512 // 128 float32 values
)

// AppConfig captures runtime configuration for the API server. All values
// are resolved once at startup and passed into components explicitly; no
// component reads ambient global state.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	SigningSecret    string
	TokenTTL         time.Duration
	BatchLimit       int
	WorkersPageLimit int
	EmbeddingBytes   int
	DevTokenEndpoint bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.dev_token_endpoint", false)
	configViper.SetDefault("sync.batch_limit", defaultBatchLimit)
	configViper.SetDefault("workers.page_limit", defaultWorkersPageLimit)
	configViper.SetDefault("workers.embedding_bytes", defaultEmbeddingBytes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenTTL:         time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		BatchLimit:       configViper.GetInt("sync.batch_limit"),
		WorkersPageLimit: configViper.GetInt("workers.page_limit"),
		EmbeddingBytes:   configViper.GetInt("workers.embedding_bytes"),
		DevTokenEndpoint: configViper.GetBool("auth.dev_token_endpoint"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.BatchLimit <= 0 {
		return fmt.Errorf("sync.batch_limit must be positive")
	}
	if c.WorkersPageLimit <= 0 {
		return fmt.Errorf("workers.page_limit must be positive")
	}
	if c.EmbeddingBytes <= 0 {
		return fmt.Errorf("workers.embedding_bytes must be positive")
	}
	return nil
}
