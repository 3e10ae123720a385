package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "INKWELL"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "inkwell.db"
	defaultLogLevel      = "info"
	defaultStorageDriver = "local"
	defaultStorageDir    = "uploads"
	defaultStorageURL    = "http://localhost:8080/files"
	defaultTokenTTL      = 720
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	SigningSecret   string
	TokenTTLMinutes int
	StorageDriver   string
	StorageDir      string
	StorageBaseURL  string
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioUseSSL     bool
	RedisURL        string
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
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("storage.driver", defaultStorageDriver)
	configViper.SetDefault("storage.dir", defaultStorageDir)
	configViper.SetDefault("storage.base_url", defaultStorageURL)
	configViper.SetDefault("minio.use_ssl", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenTTLMinutes: configViper.GetInt("token.ttl_minutes"),
		StorageDriver:   configViper.GetString("storage.driver"),
		StorageDir:      configViper.GetString("storage.dir"),
		StorageBaseURL:  configViper.GetString("storage.base_url"),
		MinioEndpoint:   configViper.GetString("minio.endpoint"),
		MinioAccessKey:  configViper.GetString("minio.access_key"),
		MinioSecretKey:  configViper.GetString("minio.secret_key"),
		MinioBucket:     configViper.GetString("minio.bucket"),
		MinioUseSSL:     configViper.GetBool("minio.use_ssl"),
		RedisURL:        configViper.GetString("redis.url"),
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
	switch strings.ToLower(strings.TrimSpace(c.StorageDriver)) {
	case "local":
		if strings.TrimSpace(c.StorageDir) == "" {
			return fmt.Errorf("storage.dir is required for the local driver")
		}
	case "minio":
		if strings.TrimSpace(c.MinioEndpoint) == "" {
			return fmt.Errorf("minio.endpoint is required for the minio driver")
		}
		if strings.TrimSpace(c.MinioBucket) == "" {
			return fmt.Errorf("minio.bucket is required for the minio driver")
		}
	default:
		return fmt.Errorf("storage.driver must be local or minio")
	}
	return nil
}
