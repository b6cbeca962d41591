package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultAllowedHosts are the origins accepted by the CORS filter when
// ALLOWED_HOSTS is not set
var DefaultAllowedHosts = []string{"localhost", "127.0.0.1", "michaelriffle.com"}

// Config holds all configuration for the application
type Config struct {
	Stage       string
	Port        string
	PrettyPrint bool
	AWS         AWSConfig
	Store       StoreConfig
	CORS        CORSConfig
	Log         LogConfig
	RateLimit   RateLimitConfig
}

// AWSConfig holds the settings used to reach DynamoDB
type AWSConfig struct {
	Region          string
	Endpoint        string // local DynamoDB, empty in AWS
	AccessKeyID     string
	SecretAccessKey string
}

// StoreConfig holds table and cursor settings
type StoreConfig struct {
	FactoidTable string
	CursorSecret string
}

// CORSConfig holds the allowed origin domains
type CORSConfig struct {
	AllowedHosts []string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level   string
	Sources string
}

// RateLimitConfig holds token bucket settings; RPS <= 0 disables limiting
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// IsProduction reports whether the stage is the production stage
func (c *Config) IsProduction() bool {
	return c.Stage == "prod"
}

// Load loads configuration from environment variables and, when running
// locally, from a .env file
func Load() (*Config, error) {
	if !isRunningInLambda() || GetEnvAsBool("IS_LOCAL", false) || GetEnvAsBool("IS_OFFLINE", false) {
		_ = godotenv.Load()
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("STAGE", "dev")
	v.SetDefault("PORT", "8081")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("FACTOID_TABLE", "factoids")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RATE_LIMIT_RPS", 0)
	v.SetDefault("RATE_LIMIT_BURST", 20)

	region := v.GetString("SERVERLESS_REGION")
	if region == "" {
		region = v.GetString("AWS_REGION")
	}

	stage := v.GetString("STAGE")
	prettyPrint := stage != "prod"
	if v.IsSet("PRETTY_PRINT") {
		prettyPrint = v.GetBool("PRETTY_PRINT")
	}

	allowedHosts := DefaultAllowedHosts
	if hosts := v.GetString("ALLOWED_HOSTS"); hosts != "" {
		allowedHosts = splitList(hosts)
	}

	config := &Config{
		Stage:       stage,
		Port:        v.GetString("PORT"),
		PrettyPrint: prettyPrint,
		AWS: AWSConfig{
			Region:          region,
			Endpoint:        v.GetString("DYNAMODB_ENDPOINT"),
			AccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
		},
		Store: StoreConfig{
			FactoidTable: v.GetString("FACTOID_TABLE"),
			CursorSecret: v.GetString("CURSOR_SECRET"),
		},
		CORS: CORSConfig{
			AllowedHosts: allowedHosts,
		},
		Log: LogConfig{
			Level:   v.GetString("LOG_LEVEL"),
			Sources: v.GetString("LOGGER_LOG_SOURCES"),
		},
		RateLimit: RateLimitConfig{
			RPS:   v.GetFloat64("RATE_LIMIT_RPS"),
			Burst: v.GetInt("RATE_LIMIT_BURST"),
		},
	}

	return config, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetEnv gets an environment variable with a fallback value
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvAsBool gets an environment variable as boolean with a fallback value
func GetEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}
