package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-relay/internal/backend"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

const (
	DefaultListenAddr         = ":8080"
	DefaultRequestTimeout     = 10 * time.Second
	DefaultFeedbackCollection = "push-feedback"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// BackendConfig declares one push backend.
type BackendConfig struct {
	Kind    push.Kind
	Host    string
	AppName string

	// REST (fcm, http)
	AuthKey            string
	URL                string
	CertFile           string
	InsecureSkipVerify bool

	// apns; CertFile is shared with REST.
	CertPassword string
	Sandbox      bool
	Topic        string

	// webpush
	Vapid VapidConfig
}

func (b BackendConfig) Identity() push.Identity {
	return push.Identity{Kind: b.Kind, Host: b.Host, AppName: b.AppName}
}

// ApnsTopic is the bundle id pushes are addressed to; it defaults to the app name.
func (b BackendConfig) ApnsTopic() string {
	if b.Topic != "" {
		return b.Topic
	}
	return b.AppName
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	UnsubscribeTopicID     string
	NumPipelineWorkers     int
	IdentityServiceURL     string

	FeedbackCollection string
	RequestTimeout     time.Duration
	Retry              backend.RetryConfig

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Backends   []BackendConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("UNSUBSCRIBE_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "UNSUBSCRIBE_TOPIC_ID", "source", "env")
		cfg.UnsubscribeTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_SERVICE_URL", "source", "env")
		cfg.IdentityServiceURL = val
	}
	if val := os.Getenv("FEEDBACK_COLLECTION"); val != "" {
		logger.Debug("Overriding config value", "key", "FEEDBACK_COLLECTION", "source", "env")
		cfg.FeedbackCollection = val
	}

	// Duration Overrides
	for _, d := range []struct {
		key    string
		target *time.Duration
	}{
		{"RETRY_INITIAL_INTERVAL", &cfg.Retry.InitialInterval},
		{"RETRY_MAX_INTERVAL", &cfg.Retry.MaxInterval},
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout},
	} {
		val := os.Getenv(d.key)
		if val == "" {
			continue
		}
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.key, val, err)
		}
		logger.Debug("Overriding config value", "key", d.key, "source", "env")
		*d.target = parsed
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.FeedbackCollection == "" {
		cfg.FeedbackCollection = DefaultFeedbackCollection
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = backend.DefaultRetryConfig.InitialInterval
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = backend.DefaultRetryConfig.MaxInterval
	}
	if cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return nil, fmt.Errorf("retry max interval %s is shorter than initial interval %s", cfg.Retry.MaxInterval, cfg.Retry.InitialInterval)
	}
	if err := validateBackends(cfg.Backends); err != nil {
		return nil, err
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully", "backends", len(cfg.Backends))
	return cfg, nil
}

func validateBackends(backends []BackendConfig) error {
	seen := make(map[string]bool, len(backends))
	var errs []error
	for i, b := range backends {
		if !b.Kind.Valid() {
			errs = append(errs, fmt.Errorf("backend %d: unknown kind %q", i, b.Kind))
			continue
		}
		if b.Host == "" || b.AppName == "" {
			errs = append(errs, fmt.Errorf("backend %d: host and app_name are required", i))
			continue
		}
		id := b.Identity().ID()
		if seen[id] {
			errs = append(errs, fmt.Errorf("backend %s: duplicate id", id))
			continue
		}
		seen[id] = true

		switch b.Kind {
		case push.KindFCM:
			if b.AuthKey == "" {
				errs = append(errs, fmt.Errorf("backend %s: auth_key is required", id))
			}
		case push.KindHTTP:
			if b.AuthKey == "" || b.URL == "" {
				errs = append(errs, fmt.Errorf("backend %s: auth_key and url are required", id))
			}
		case push.KindAPNS:
			if b.CertFile == "" {
				errs = append(errs, fmt.Errorf("backend %s: cert_file is required", id))
			}
		case push.KindWebPush:
			if b.Vapid.PublicKey == "" || b.Vapid.PrivateKey == "" {
				errs = append(errs, fmt.Errorf("backend %s: vapid public_key and private_key are required", id))
			}
		}
	}
	return errors.Join(errs...)
}
