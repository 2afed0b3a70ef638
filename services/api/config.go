package api

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the modelscout API service.
type Config struct {
	Addr            string        `env:"ADDR,default=:8080"`
	DBDSN           string        `env:"DB_DSN"`
	NATSURL         string        `env:"NATS_URL"`
	PolicyFile      string        `env:"POLICY_FILE"`
	RegistryBaseURL string        `env:"CIVITAI_BASE_URL"`
	RegistryTimeout time.Duration `env:"REGISTRY_TIMEOUT,default=30s"`
	ArtifactBucket  string        `env:"ARTIFACT_BUCKET"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS,default=*"`
	WatchInterval   time.Duration `env:"WATCH_INTERVAL,default=500ms"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoadConfig returns a Config populated from environment variables.
func LoadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
