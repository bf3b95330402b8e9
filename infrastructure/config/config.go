package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds all application configuration, loaded from the environment
// (with an optional .env file for local development).
type Config struct {
	// Server
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:":8080"`
	Environment   string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// AWS
	AWSRegion    string `env:"AWS_REGION" envDefault:"us-east-1"`
	EchoTable    string `env:"ECHO_TABLE" envDefault:"echovault-echoes"`
	EmotionIndex string `env:"EMOTION_INDEX" envDefault:"EmotionIndex"`
	AudioBucket  string `env:"AUDIO_BUCKET" envDefault:"echovault-audio"`

	// Presigned URL validity. Uploads get the shorter window.
	DownloadURLTTL time.Duration `env:"DOWNLOAD_URL_TTL" envDefault:"1h"`
	UploadURLTTL   time.Duration `env:"UPLOAD_URL_TTL" envDefault:"15m"`

	// Upload limits
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"26214400"` // 25 MiB

	// Rediscovery tuning
	CandidatePoolSize int     `env:"CANDIDATE_POOL_SIZE" envDefault:"100"`
	AgeWeightPerDay   float64 `env:"AGE_WEIGHT_PER_DAY" envDefault:"0.1"`
	AgeWeightCap      float64 `env:"AGE_WEIGHT_CAP" envDefault:"5"`
	PlayWeightPenalty float64 `env:"PLAY_WEIGHT_PENALTY" envDefault:"0.1"`
	PlayWeightFloor   float64 `env:"PLAY_WEIGHT_FLOOR" envDefault:"0.1"`

	// Authentication (local JWT path; in Lambda the gateway authorizer
	// verifies identity and this secret is unused)
	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"echovault"`

	// CORS
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required configuration and bounds.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.AudioBucket == "" {
			return fmt.Errorf("AUDIO_BUCKET is required")
		}
	}
	if c.CandidatePoolSize <= 0 || c.CandidatePoolSize > 100 {
		return fmt.Errorf("CANDIDATE_POOL_SIZE must be between 1 and 100")
	}
	if c.UploadURLTTL > 30*time.Minute {
		return fmt.Errorf("UPLOAD_URL_TTL must not exceed 30m")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
