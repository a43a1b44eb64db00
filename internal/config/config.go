package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// RateTableDir points at a directory of per-year rate table YAML files.
	// Empty means the embedded defaults are used.
	RateTableDir string

	Gateway GatewayConfig
}

// GatewayConfig controls the revenue authority gateway client.
type GatewayConfig struct {
	Mode           string
	BaseURL        string
	Timeout        time.Duration
	MaxElapsedTime time.Duration
}

const (
	GatewayModeSimulated = "simulated"
	GatewayModeRemote    = "remote"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "taxcore"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "taxcore"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RateTableDir: strings.TrimSpace(getenv("RATE_TABLE_DIR", "")),

		Gateway: GatewayConfig{
			Mode:           normalizeGatewayMode(getenv("GATEWAY_MODE", GatewayModeSimulated)),
			BaseURL:        strings.TrimSpace(getenv("GATEWAY_BASE_URL", "")),
			Timeout:        getenvDuration("GATEWAY_TIMEOUT", 10*time.Second),
			MaxElapsedTime: getenvDuration("GATEWAY_MAX_ELAPSED_TIME", 30*time.Second),
		},
	}

	return cfg
}

func normalizeGatewayMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case GatewayModeRemote:
		return GatewayModeRemote
	default:
		return GatewayModeSimulated
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
