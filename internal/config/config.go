package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/gregtusar/gasprice/pkg/secrets"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Auth     AuthConfig     `mapstructure:"auth"`
	GCP      GCPConfig      `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatasetConfig points at the MIBGAS trading data export.
type DatasetConfig struct {
	Path       string `mapstructure:"path"`
	Sheet      string `mapstructure:"sheet"`
	MinIndices int    `mapstructure:"min_indices"`
}

type BatchConfig struct {
	Workers int    `mapstructure:"workers"`
	Input   string `mapstructure:"input"`
	Output  string `mapstructure:"output"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// AuthConfig protects the API. An empty JWTSecret disables token checks.
type AuthConfig struct {
	JWTSecret string  `mapstructure:"jwt_secret"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/gasprice")
	}

	v.SetEnvPrefix("GASPRICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		sm, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
		if err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
		defer sm.Close()
		loadSecrets(ctx, &config, sm, logger)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("dataset.path", "./data/MIBGAS_Data.xlsx")
	v.SetDefault("dataset.sheet", "Trading Data PVB&VTP")
	v.SetDefault("dataset.min_indices", 8)

	v.SetDefault("batch.workers", 4)
	v.SetDefault("batch.input", "")
	v.SetDefault("batch.output", "")

	v.SetDefault("database.path", "./data/gasprice.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.rate_limit", 10.0)
	v.SetDefault("auth.burst", 20)

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.api_jwt_secret", secretNames.APIJWTSecret)
}

func overrideFromEnv(config *Config) {
	if path := os.Getenv("MIBGAS_DATA_FILE"); path != "" {
		config.Dataset.Path = path
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" && config.GCP.CredentialsFile == "" {
		config.GCP.CredentialsFile = creds
	}
}

// loadSecrets fills values that neither the file nor the environment set.
func loadSecrets(ctx context.Context, config *Config, source secrets.Source, logger *logrus.Logger) {
	if config.Auth.JWTSecret == "" {
		config.Auth.JWTSecret = source.GetSecretWithDefault(ctx, config.GCP.SecretNames.APIJWTSecret, "")
	}
	logger.Info("Loaded secrets from GCP Secret Manager")
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch workers must be at least 1, got %d", c.Batch.Workers)
	}
	if c.Dataset.MinIndices < 1 {
		return fmt.Errorf("dataset min_indices must be at least 1, got %d", c.Dataset.MinIndices)
	}
	if c.Auth.RateLimit < 0 || c.Auth.Burst < 0 {
		return errors.New("auth rate_limit and burst must not be negative")
	}
	return nil
}

// NewLogger builds the process logger from the logging section.
func (c LoggingConfig) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()
	if strings.EqualFold(c.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.File != "" {
		f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(f)
	}
	return logger, nil
}
