// Package web implements the Web Push (VAPID) backend. The device token of a
// web client is its JSON push subscription.
package web

import (
	"context"
	"crypto/ecdh"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-push-relay/internal/platform/rest"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// MaxPayloadSize keeps the plaintext inside one 4096 byte encrypted record.
const MaxPayloadSize = 3072

type Config struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	Timeout         time.Duration
	// HTTPClient replaces the default client built from Timeout.
	HTTPClient *http.Client
}

type Sender struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	if cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil, errors.New("webpush backend requires VAPID public and private keys")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Sender{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushSender"),
		httpClient: client,
	}, nil
}

// Send posts each notification to its subscription endpoint in order.
func (s *Sender) Send(ctx context.Context, batch push.Batch) push.Batch {
	var retry push.Batch

	for i, n := range batch {
		sub, err := ParseSubscription(n.Token)
		if err != nil {
			s.logger.Warn("Undecodable web push subscription; unsubscribing", "recipient", n.Recipient, "err", err)
			n.Unsubscribe()
			continue
		}

		resp, err := webpush.SendNotificationWithContext(ctx, Body(n.Payload), sub, &webpush.Options{
			Subscriber:      s.subscriber,
			VAPIDPublicKey:  s.publicKey,
			VAPIDPrivateKey: s.privateKey,
			TTL:             int(push.NotificationExpireTime.Seconds()),
			HTTPClient:      s.httpClient,
		})
		if err != nil {
			s.logger.Warn("WebPush transport error; requeueing rest of batch", "endpoint", sub.Endpoint, "requeued", len(batch)-i, "err", err)
			return append(retry, batch[i:]...)
		}
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			s.logger.Debug("WebPush accepted", "endpoint", sub.Endpoint)
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			// 410 Gone / 404 Not Found -> subscription is dead
			s.logger.Info("WebPush subscription expired; unsubscribing", "endpoint", sub.Endpoint, "status", resp.StatusCode)
			n.Unsubscribe()
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			s.logger.Info("WebPush deferred", "endpoint", sub.Endpoint, "status", resp.StatusCode)
			retry = append(retry, n)
		default:
			s.logger.Warn("WebPush rejected; unsubscribing", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			n.Unsubscribe()
		}
	}
	return retry
}

// Body encodes the payload as an ordered JSON object with the same value
// coercion as the REST backends, or {} when it would not fit MaxPayloadSize.
func Body(payload push.Payload) []byte {
	body, err := json.Marshal(rest.Data(payload))
	if err != nil || len(body) > MaxPayloadSize {
		return []byte("{}")
	}
	return body
}

// ParseSubscription decodes a JSON push subscription and checks that its
// client key is a valid P-256 point, so that a broken token is reported as
// permanent instead of failing at encryption time on every retry.
func ParseSubscription(token string) (*webpush.Subscription, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil {
		return nil, fmt.Errorf("invalid subscription json: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, errors.New("subscription has no endpoint")
	}
	raw, err := decodeKey(sub.Keys.P256dh)
	if err != nil {
		return nil, fmt.Errorf("invalid p256dh key: %w", err)
	}
	if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
		return nil, fmt.Errorf("invalid p256dh key: %w", err)
	}
	if _, err := decodeKey(sub.Keys.Auth); err != nil {
		return nil, fmt.Errorf("invalid auth secret: %w", err)
	}
	return &sub, nil
}

func decodeKey(key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("empty key")
	}
	encodings := []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.StdEncoding}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(key)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
