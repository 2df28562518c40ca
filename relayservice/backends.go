package relayservice

import (
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-relay/internal/backend"
	"github.com/tinywideclouds/go-push-relay/internal/platform/apns"
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/internal/platform/rest"
	"github.com/tinywideclouds/go-push-relay/internal/platform/web"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
	"github.com/tinywideclouds/go-push-relay/relayservice/config"
)

// Clients carries provider clients that are built once per process.
type Clients struct {
	// Messaging serves every fcm-v1 backend. Required only when one is configured.
	Messaging fcm.MessagingClient
}

// NewSender builds the provider Sender for one configured backend.
func NewSender(b config.BackendConfig, cfg *config.Config, clients Clients, logger *slog.Logger) (push.Sender, error) {
	logger = logger.With("backend", b.Identity().ID(), "kind", b.Kind)

	switch b.Kind {
	case push.KindFCM:
		return rest.NewFCMSender(rest.Config{
			Endpoint:           b.URL,
			AuthKey:            b.AuthKey,
			CertFile:           b.CertFile,
			InsecureSkipVerify: b.InsecureSkipVerify,
			Timeout:            cfg.RequestTimeout,
		}, logger)
	case push.KindHTTP:
		return rest.NewHTTPSender(rest.Config{
			Endpoint:           b.URL,
			AuthKey:            b.AuthKey,
			CertFile:           b.CertFile,
			InsecureSkipVerify: b.InsecureSkipVerify,
			Timeout:            cfg.RequestTimeout,
		}, logger)
	case push.KindAPNS:
		session, err := apns.NewCertSession(apns.SessionConfig{
			CertFile:     b.CertFile,
			CertPassword: b.CertPassword,
			Sandbox:      b.Sandbox,
			Timeout:      cfg.RequestTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return apns.NewSender(session, b.ApnsTopic(), cfg.RequestTimeout, logger), nil
	case push.KindFCMv1:
		if clients.Messaging == nil {
			return nil, fmt.Errorf("backend %s: no firebase messaging client", b.Identity().ID())
		}
		return fcm.NewSender(clients.Messaging, cfg.RequestTimeout, logger), nil
	case push.KindWebPush:
		return web.NewSender(web.Config{
			PublicKey:       b.Vapid.PublicKey,
			PrivateKey:      b.Vapid.PrivateKey,
			SubscriberEmail: b.Vapid.SubscriberEmail,
			Timeout:         cfg.RequestTimeout,
		}, logger)
	}
	return nil, fmt.Errorf("backend %s: unknown kind %q", b.Identity().ID(), b.Kind)
}

// NewRegistry builds and registers one Backend per configured backend.
func NewRegistry(cfg *config.Config, clients Clients, logger *slog.Logger) (*backend.Registry, error) {
	registry := backend.NewRegistry(logger)
	for _, b := range cfg.Backends {
		sender, err := NewSender(b, cfg, clients, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build backend %s: %w", b.Identity(), err)
		}
		if err := registry.Register(backend.New(b.Identity(), sender, cfg.Retry, logger)); err != nil {
			return nil, err
		}
		logger.Info("Backend configured", "backend", b.Identity().ID(), "kind", b.Kind)
	}
	return registry, nil
}
