// Package config loads SFTP admin backend settings.
// Values come from an optional YAML file, then the environment (which wins),
// then profile defaults for anything still unset.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Profiles selected by APP_ENV.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"
)

// DevJWTSecret is the development fallback secret. Production refuses it.
const DevJWTSecret = "simple-secret-for-dev"

// JWTConfig holds token signing settings. Expiries are in seconds.
type JWTConfig struct {
	SecretKey           string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	AccessTokenExpires  int    `yaml:"access_token_expires" envconfig:"ACCESS_TOKEN_EXPIRES"`
	RefreshTokenExpires int    `yaml:"refresh_token_expires" envconfig:"REFRESH_TOKEN_EXPIRES"`
}

// AWSConfig holds credentials shared by the S3 and Transfer clients.
// Empty keys fall back to the SDK default credential chain.
type AWSConfig struct {
	Region          string `yaml:"region" envconfig:"REGION"`
	AccessKeyID     string `yaml:"access_key_id" envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" envconfig:"SECRET_ACCESS_KEY"`
	Endpoint        string `yaml:"endpoint" envconfig:"ENDPOINT"`
}

// TransferConfig identifies the Transfer Family server.
type TransferConfig struct {
	ServerID string `yaml:"server_id" envconfig:"SERVER_ID"`
	SFTPHost string `yaml:"sftp_host" envconfig:"SFTP_HOST"`
}

// IAMConfig holds the role assumed by Transfer Family users.
type IAMConfig struct {
	RoleARN string `yaml:"role_arn" envconfig:"ROLE_ARN"`
}

// S3Config holds bucket settings.
type S3Config struct {
	BucketName     string `yaml:"bucket_name" envconfig:"BUCKET_NAME"`
	UploadMaxSize  int64  `yaml:"upload_max_size" envconfig:"UPLOAD_MAX_SIZE"`
	ForcePathStyle bool   `yaml:"force_path_style" envconfig:"FORCE_PATH_STYLE"`
}

// CORSConfig lists allowed browser origins.
type CORSConfig struct {
	Origins []string `yaml:"origins" envconfig:"ORIGINS"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level" envconfig:"LEVEL"`
	JSON  bool   `yaml:"json" envconfig:"JSON"`
	File  string `yaml:"file" envconfig:"FILE"`
}

// RateLimitConfig holds the per-client request budget.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute" envconfig:"PER_MINUTE"`
}

// DatabaseConfig selects the credential store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver" envconfig:"DRIVER"`
	URL    string `yaml:"url" envconfig:"URL"`
}

// RedisConfig enables the optional folder statistics cache.
type RedisConfig struct {
	URL string `yaml:"url" envconfig:"URL"`
}

// Config mirrors the sftpadmin.yaml schema and the environment.
type Config struct {
	Env   string `yaml:"env" envconfig:"APP_ENV"`
	Debug bool   `yaml:"debug" envconfig:"DEBUG"`
	Host  string `yaml:"host" envconfig:"HOST"`
	Port  int    `yaml:"port" envconfig:"PORT"`

	JWT       JWTConfig       `yaml:"jwt" envconfig:"JWT"`
	AWS       AWSConfig       `yaml:"aws" envconfig:"AWS"`
	Transfer  TransferConfig  `yaml:"transfer" envconfig:"TRANSFER"`
	IAM       IAMConfig       `yaml:"iam" envconfig:"IAM"`
	S3        S3Config        `yaml:"s3" envconfig:"S3"`
	CORS      CORSConfig      `yaml:"cors" envconfig:"CORS"`
	Log       LogConfig       `yaml:"log" envconfig:"LOG"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Redis     RedisConfig     `yaml:"redis" envconfig:"REDIS"`

	// FolderStatsTTL caches folder statistics for this many seconds. Zero disables caching.
	FolderStatsTTL int `yaml:"folder_stats_ttl" envconfig:"FOLDER_STATS_TTL"`
	// DownloadMaxExpires caps presigned download lifetimes. Zero means no local cap.
	DownloadMaxExpires int    `yaml:"download_max_expires" envconfig:"DOWNLOAD_MAX_EXPIRES"`
	MetricsEnabled     bool   `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
	SentryDSN          string `yaml:"sentry_dsn" envconfig:"SENTRY_DSN"`
	// TrustedProxies may set X-Forwarded-For. Entries are IPs or CIDRs.
	TrustedProxies []string `yaml:"trusted_proxies" envconfig:"TRUSTED_PROXIES"`
}

// Load reads an optional YAML file from fsys, overlays the environment,
// applies profile defaults and validates the result.
func Load(fsys afero.Fs, path string) (Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := afero.ReadFile(fsys, path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("failed to process env vars: %w", err)
	}
	applyDefaults(&c)
	if err := validate(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadDotEnv exports variables from a .env file without overriding ones that
// are already set. A missing file is not an error.
func LoadDotEnv(fsys afero.Fs, path string) error {
	f, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	vals, err := godotenv.Parse(f)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for k, v := range vals {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}

// applyDefaults populates zero values. Some defaults depend on the profile.
func applyDefaults(c *Config) {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env == "" {
		c.Env = EnvDevelopment
	}
	prod := c.Env == EnvProduction

	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 5050
	}
	if c.JWT.AccessTokenExpires == 0 {
		c.JWT.AccessTokenExpires = 3600
		if prod {
			c.JWT.AccessTokenExpires = 1800
		}
	}
	if c.JWT.RefreshTokenExpires == 0 {
		c.JWT.RefreshTokenExpires = 86400
	}
	if c.AWS.Region == "" {
		c.AWS.Region = "us-east-1"
	}
	if c.S3.UploadMaxSize == 0 {
		c.S3.UploadMaxSize = 100 << 20
	}
	if len(c.CORS.Origins) == 0 {
		c.CORS.Origins = []string{"http://localhost:3000"}
	}
	for i, o := range c.CORS.Origins {
		c.CORS.Origins[i] = strings.TrimSpace(o)
	}
	for i, p := range c.TrustedProxies {
		c.TrustedProxies[i] = strings.TrimSpace(p)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if prod {
		c.Log.JSON = true
		c.Debug = false
	}
	if c.RateLimit.PerMinute == 0 {
		c.RateLimit.PerMinute = 60
		if prod {
			c.RateLimit.PerMinute = 30
		}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.URL == "" {
		c.Database.URL = "./data/sftpadmin.db"
	}

	switch c.Env {
	case EnvTesting:
		if c.JWT.SecretKey == "" {
			c.JWT.SecretKey = "test-secret-key"
		}
		if c.S3.BucketName == "" {
			c.S3.BucketName = "test-bucket"
		}
	default:
		if c.S3.BucketName == "" {
			c.S3.BucketName = "atari-files-transfer"
		}
	}
}

// validate collects every problem and reports them together.
func validate(c *Config) error {
	var errs []string
	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTesting:
	default:
		errs = append(errs, "APP_ENV must be one of development, production, testing")
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "PORT is invalid")
	}
	if c.JWT.AccessTokenExpires <= 0 || c.JWT.RefreshTokenExpires <= 0 {
		errs = append(errs, "token expiries must be positive")
	}
	if c.JWT.AccessTokenExpires > c.JWT.RefreshTokenExpires {
		errs = append(errs, "JWT_ACCESS_TOKEN_EXPIRES must not exceed JWT_REFRESH_TOKEN_EXPIRES")
	}
	if c.S3.UploadMaxSize <= 0 {
		errs = append(errs, "S3_UPLOAD_MAX_SIZE must be positive")
	}
	if c.RateLimit.PerMinute < 0 {
		errs = append(errs, "RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if c.FolderStatsTTL < 0 {
		errs = append(errs, "FOLDER_STATS_TTL must not be negative")
	}
	if c.DownloadMaxExpires < 0 {
		errs = append(errs, "DOWNLOAD_MAX_EXPIRES must not be negative")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "DATABASE_DRIVER must be sqlite or postgres")
	}
	if c.Env == EnvProduction {
		if c.JWT.SecretKey == "" || c.JWT.SecretKey == DevJWTSecret {
			errs = append(errs, "JWT_SECRET_KEY must be set in production")
		}
		if c.Transfer.ServerID == "" {
			errs = append(errs, "Missing required environment variable: TRANSFER_SERVER_ID")
		}
		if c.IAM.RoleARN == "" {
			errs = append(errs, "Missing required environment variable: IAM_ROLE_ARN")
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// IsProduction reports whether the production profile is active.
func (c Config) IsProduction() bool { return c.Env == EnvProduction }

// AccessTTL returns the access token lifetime.
func (c Config) AccessTTL() time.Duration {
	return time.Duration(c.JWT.AccessTokenExpires) * time.Second
}

// RefreshTTL returns the refresh token lifetime.
func (c Config) RefreshTTL() time.Duration {
	return time.Duration(c.JWT.RefreshTokenExpires) * time.Second
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SFTPHost returns the public SFTP endpoint shown to users.
func (c Config) SFTPHost() string {
	if h := strings.TrimSpace(c.Transfer.SFTPHost); h != "" {
		return h
	}
	if c.Transfer.ServerID == "" {
		return ""
	}
	return fmt.Sprintf("%s.server.transfer.%s.amazonaws.com", c.Transfer.ServerID, c.AWS.Region)
}
