package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	S3      S3Config
	App     AppConfig
	Payment PaymentConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host string
	Port string
}

type S3Config struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
	Region          string
}

type AppConfig struct {
	MaxUploadSize    int64
	HistorySize      int
	Workers          int
	TransformTimeout time.Duration
	MaxPixels        int
	RateLimit        float64
	RateBurst        int
}

type PaymentConfig struct {
	Endpoint string
	Amount   int64
	Currency string
	Timeout  time.Duration
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("SERVER_HOST", "localhost")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("S3_ENABLED", false)
	v.SetDefault("S3_ENDPOINT", "localhost:9000")
	v.SetDefault("S3_ACCESS_KEY_ID", "minioadmin")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "minioadmin")
	v.SetDefault("S3_USE_SSL", false)
	v.SetDefault("S3_BUCKET_NAME", "filtered-images")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("APP_MAX_UPLOAD_SIZE", 5*1024*1024) // 5MiB
	v.SetDefault("APP_HISTORY_SIZE", 6)
	v.SetDefault("APP_WORKERS", 4)
	v.SetDefault("APP_TRANSFORM_TIMEOUT", 30*time.Second)
	v.SetDefault("APP_MAX_PIXELS", 40_000_000)
	v.SetDefault("APP_RATE_LIMIT", 5.0)
	v.SetDefault("APP_RATE_BURST", 10)
	v.SetDefault("PAYMENT_ENDPOINT", "http://localhost:4242/api/create-payment-session")
	v.SetDefault("PAYMENT_AMOUNT", 5)
	v.SetDefault("PAYMENT_CURRENCY", "npr")
	v.SetDefault("PAYMENT_TIMEOUT", 10*time.Second)

	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetString("SERVER_PORT"),
		},
		S3: S3Config{
			Enabled:         v.GetBool("S3_ENABLED"),
			Endpoint:        v.GetString("S3_ENDPOINT"),
			AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
			UseSSL:          v.GetBool("S3_USE_SSL"),
			BucketName:      v.GetString("S3_BUCKET_NAME"),
			Region:          v.GetString("S3_REGION"),
		},
		App: AppConfig{
			MaxUploadSize:    v.GetInt64("APP_MAX_UPLOAD_SIZE"),
			HistorySize:      v.GetInt("APP_HISTORY_SIZE"),
			Workers:          v.GetInt("APP_WORKERS"),
			TransformTimeout: v.GetDuration("APP_TRANSFORM_TIMEOUT"),
			MaxPixels:        v.GetInt("APP_MAX_PIXELS"),
			RateLimit:        v.GetFloat64("APP_RATE_LIMIT"),
			RateBurst:        v.GetInt("APP_RATE_BURST"),
		},
		Payment: PaymentConfig{
			Endpoint: v.GetString("PAYMENT_ENDPOINT"),
			Amount:   v.GetInt64("PAYMENT_AMOUNT"),
			Currency: v.GetString("PAYMENT_CURRENCY"),
			Timeout:  v.GetDuration("PAYMENT_TIMEOUT"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.App.MaxUploadSize <= 0 {
		return fmt.Errorf("APP_MAX_UPLOAD_SIZE must be positive, got %d", c.App.MaxUploadSize)
	}
	if c.App.HistorySize <= 0 {
		return fmt.Errorf("APP_HISTORY_SIZE must be positive, got %d", c.App.HistorySize)
	}
	if c.App.Workers <= 0 {
		return fmt.Errorf("APP_WORKERS must be positive, got %d", c.App.Workers)
	}
	if c.App.TransformTimeout <= 0 {
		return fmt.Errorf("APP_TRANSFORM_TIMEOUT must be positive, got %s", c.App.TransformTimeout)
	}
	if c.App.RateLimit <= 0 || c.App.RateBurst <= 0 {
		return fmt.Errorf("APP_RATE_LIMIT and APP_RATE_BURST must be positive")
	}
	if c.Payment.Amount <= 0 {
		return fmt.Errorf("PAYMENT_AMOUNT must be positive, got %d", c.Payment.Amount)
	}
	if c.S3.Enabled && c.S3.BucketName == "" {
		return fmt.Errorf("S3_BUCKET_NAME is required when S3_ENABLED is set")
	}
	return nil
}
