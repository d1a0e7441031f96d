package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config is the full service configuration, read from the environment and an optional .env file
type Config struct {
	Server    Server
	Log       Log
	Artifacts Artifacts
	Database  Database
	Redis     Redis
	RateLimit RateLimit
	Auth      Auth
	Cache     Cache
}

type Server struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	GinMode         string        `env:"GIN_MODE" envDefault:"release"`
	FrontendURL     string        `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MetricsAddr     string        `env:"METRICS_ADDR"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Artifacts holds the four optional artifact paths. An empty or missing path leaves the slot absent.
type Artifacts struct {
	ModelPath       string `env:"MODEL_PATH" envDefault:"./models/lightgbm.txt"`
	TransformerPath string `env:"TRANSFORMER_PATH" envDefault:"./models/transformer.json"`
	CalibratorPath  string `env:"ISO_PATH" envDefault:"./models/isotonic.json"`
	ExplainerPath   string `env:"SHAP_EXPLAINER_PATH" envDefault:"./models/shap_explainer.txt"`
}

type Database struct {
	URL             string        `env:"DATABASE_URL" envDefault:"sqlite://./data/loan_ai.db" json:"-"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
}

type Redis struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD" json:"-"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type RateLimit struct {
	PerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	Burst     int `env:"RATE_LIMIT_BURST" envDefault:"10"`
}

// DevJWTSecret is the signing secret used when JWT_SECRET_KEY is unset
const DevJWTSecret = "change-me"

type Auth struct {
	JWTSecret  string        `env:"JWT_SECRET_KEY" envDefault:"change-me" json:"-"`
	TokenTTL   time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRES" envDefault:"24h"`
	RefreshTTL time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRES" envDefault:"720h"`
}

// UsesDevSecret reports whether tokens would be signed with the public development secret
func (a Auth) UsesDevSecret() bool {
	return a.JWTSecret == "" || a.JWTSecret == DevJWTSecret
}

type Cache struct {
	PredictionTTL time.Duration `env:"PREDICTION_CACHE_TTL" envDefault:"5m"`
}

// Load reads .env when present, then parses the environment
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("env.Parse: %w", err)
	}

	return cfg, nil
}

// ValidateServer checks settings the HTTP server cannot safely run with.
// Release mode refuses the development JWT secret.
func (c Config) ValidateServer() error {
	if c.Server.GinMode == "release" && c.Auth.UsesDevSecret() {
		return fmt.Errorf("JWT_SECRET_KEY must be set when GIN_MODE=release")
	}
	return nil
}
