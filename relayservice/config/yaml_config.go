package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlRetryConfig struct {
	InitialInterval string `yaml:"initial_interval"`
	MaxInterval     string `yaml:"max_interval"`
}

type YamlBackendConfig struct {
	Kind               string          `yaml:"kind"`
	Host               string          `yaml:"host"`
	AppName            string          `yaml:"app_name"`
	AuthKey            string          `yaml:"auth_key"`
	URL                string          `yaml:"url"`
	CertFile           string          `yaml:"cert_file"`
	CertPassword       string          `yaml:"cert_password"`
	InsecureSkipVerify bool            `yaml:"insecure_skip_verify"`
	Sandbox            bool            `yaml:"sandbox"`
	Topic              string          `yaml:"topic"`
	Vapid              YamlVapidConfig `yaml:"vapid"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string              `yaml:"project_id"`
	ListenAddr             string              `yaml:"listen_addr"`
	TopicID                string              `yaml:"topic_id"`
	SubscriptionID         string              `yaml:"subscription_id"`
	SubscriptionDLQTopicID string              `yaml:"subscription_dlq_topic_id"`
	UnsubscribeTopicID     string              `yaml:"unsubscribe_topic_id"`
	IdentityServiceURL     string              `yaml:"identity_service_url"`
	FeedbackCollection     string              `yaml:"feedback_collection"`
	RequestTimeout         string              `yaml:"request_timeout"`
	Retry                  YamlRetryConfig     `yaml:"retry"`
	CorsConfig             YamlCorsConfig      `yaml:"cors"`
	RedisConfig            YamlRedisConfig     `yaml:"redis"`
	Backends               []YamlBackendConfig `yaml:"backends"`
	NumPipelineWorkers     int                 `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		TopicID:            baseCfg.TopicID,
		SubscriptionID:     baseCfg.SubscriptionID,
		UnsubscribeTopicID: baseCfg.UnsubscribeTopicID,
		IdentityServiceURL: baseCfg.IdentityServiceURL,
		FeedbackCollection: baseCfg.FeedbackCollection,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	var err error
	if cfg.RequestTimeout, err = parseDuration("request_timeout", baseCfg.RequestTimeout); err != nil {
		return nil, err
	}
	if cfg.Retry.InitialInterval, err = parseDuration("retry.initial_interval", baseCfg.Retry.InitialInterval); err != nil {
		return nil, err
	}
	if cfg.Retry.MaxInterval, err = parseDuration("retry.max_interval", baseCfg.Retry.MaxInterval); err != nil {
		return nil, err
	}

	for _, b := range baseCfg.Backends {
		cfg.Backends = append(cfg.Backends, BackendConfig{
			Kind:               push.Kind(b.Kind),
			Host:               b.Host,
			AppName:            b.AppName,
			AuthKey:            b.AuthKey,
			URL:                b.URL,
			CertFile:           b.CertFile,
			CertPassword:       b.CertPassword,
			InsecureSkipVerify: b.InsecureSkipVerify,
			Sandbox:            b.Sandbox,
			Topic:              b.Topic,
			Vapid: VapidConfig{
				PublicKey:       b.Vapid.PublicKey,
				PrivateKey:      b.Vapid.PrivateKey,
				SubscriberEmail: b.Vapid.SubscriberEmail,
			},
		})
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"backends", len(cfg.Backends),
	)

	return cfg, nil
}

// parseDuration leaves an empty value as zero so defaults apply later.
func parseDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
