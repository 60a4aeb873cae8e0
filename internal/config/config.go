// Package config loads process configuration from flags and environment,
// with a .env file picked up in local development.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	Env      string
	LLM      LLMConfig
	Pipeline PipelineConfig
	Ledger   LedgerConfig
	Artifact ArtifactConfig
	Credit   CreditConfig
}

type LLMConfig struct {
	// Provider is "gemini" or "fake".
	Provider string
	APIKey   string
	Model    string
	RPS      float64
	Burst    int
}

type PipelineConfig struct {
	ExemplarCount int
	MaxInFlight   int
	Deadline      time.Duration
}

type LedgerConfig struct {
	// PostgresDSN wins over SQLitePath; with neither set the ledger runs
	// in memory.
	PostgresDSN string
	SQLitePath  string
}

type ArtifactConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type CreditConfig struct {
	// Allocation is the per-period regular grant; RolloverFraction caps
	// how much leftover carries into the next period.
	Allocation       int64
	RolloverFraction float64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8084", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port: *port,
		Env:  env,
		LLM: LLMConfig{
			Provider: firstNonEmpty(strings.TrimSpace(os.Getenv("LLM_PROVIDER")), defaultProvider()),
			APIKey:   strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			Model:    firstNonEmpty(strings.TrimSpace(os.Getenv("LLM_MODEL")), "gemini-2.0-flash"),
			RPS:      envFloat("LLM_RPS", 2),
			Burst:    envInt("LLM_BURST", 4),
		},
		Pipeline: PipelineConfig{
			ExemplarCount: envInt("PIPELINE_EXEMPLARS", 3),
			MaxInFlight:   envInt("PIPELINE_MAX_IN_FLIGHT", 4),
			Deadline:      envDuration("PIPELINE_DEADLINE", 3*time.Minute),
		},
		Ledger: LedgerConfig{
			PostgresDSN: strings.TrimSpace(os.Getenv("LEDGER_PG_DSN")),
			SQLitePath:  strings.TrimSpace(os.Getenv("LEDGER_SQLITE_PATH")),
		},
		Artifact: loadArtifactConfig(env),
		Credit: CreditConfig{
			Allocation:       int64(envInt("CREDIT_ALLOCATION", 100)),
			RolloverFraction: envFloat("CREDIT_ROLLOVER_FRACTION", 0.5),
		},
	}, nil
}

func defaultProvider() string {
	if strings.TrimSpace(os.Getenv("GEMINI_API_KEY")) != "" {
		return "gemini"
	}
	return "fake"
}

func loadArtifactConfig(env string) ArtifactConfig {
	endpoint := strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT"))
	if endpoint == "" && strings.EqualFold(env, "local") {
		endpoint = strings.TrimSpace(os.Getenv("ARTIFACT_MINIO_ENDPOINT"))
	}
	return ArtifactConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "flowsmith-artifacts"),
		UseSSL:    envBool("ARTIFACT_S3_USE_SSL", !strings.EqualFold(env, "local")),
	}
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
