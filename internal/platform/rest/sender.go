package rest

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// FCMEndpoint is the FCM legacy send endpoint.
const FCMEndpoint = "https://fcm.googleapis.com/fcm/send"

const (
	defaultAuthScheme = "key="
	defaultTimeout    = 10 * time.Second
	maxResponseSize   = 1 << 20
)

// Config holds the connection parameters of a REST backend.
type Config struct {
	// Endpoint is the target URL. NewFCMSender defaults it to FCMEndpoint.
	Endpoint string
	AuthKey  string
	// AuthScheme prefixes AuthKey in the Authorization header. Defaults to "key=".
	AuthScheme string
	// CertFile is a PEM file holding both the client certificate and its key.
	// Empty disables client-certificate TLS.
	CertFile string
	// InsecureSkipVerify disables server certificate and host name checks.
	InsecureSkipVerify bool
	Timeout            time.Duration
	// MaxPayloadSize defaults to MaxPayloadSize.
	MaxPayloadSize int
	// HTTPClient replaces the client built from CertFile/InsecureSkipVerify/Timeout.
	HTTPClient *http.Client
}

// Sender delivers notifications one request at a time.
type Sender struct {
	kind       push.Kind
	endpoint   string
	authHeader string
	maxPayload int
	client     *http.Client
	logger     *slog.Logger
}

// NewFCMSender creates a sender for the FCM legacy endpoint.
func NewFCMSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = FCMEndpoint
	}
	return newSender(push.KindFCM, cfg, logger.With("component", "FCMSender"))
}

// NewHTTPSender creates a sender for a generic HTTP push relay.
func NewHTTPSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("http backend requires an endpoint url")
	}
	return newSender(push.KindHTTP, cfg, logger.With("component", "HTTPSender"))
}

func newSender(kind push.Kind, cfg Config, logger *slog.Logger) (*Sender, error) {
	if cfg.AuthKey == "" {
		return nil, fmt.Errorf("%s backend requires an auth key", kind)
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = defaultAuthScheme
	}
	if cfg.MaxPayloadSize <= 0 {
		cfg.MaxPayloadSize = MaxPayloadSize
	}

	client := cfg.HTTPClient
	if client == nil {
		var err error
		client, err = NewHTTPClient(cfg.CertFile, cfg.InsecureSkipVerify, cfg.Timeout)
		if err != nil {
			return nil, err
		}
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("TLS peer verification is disabled for this backend", "endpoint", cfg.Endpoint)
	}

	return &Sender{
		kind:       kind,
		endpoint:   cfg.Endpoint,
		authHeader: cfg.AuthScheme + cfg.AuthKey,
		maxPayload: cfg.MaxPayloadSize,
		client:     client,
		logger:     logger,
	}, nil
}

// NewHTTPClient builds a client presenting the certificate in certFile (cert
// and key in one PEM file). A zero timeout means 10s.
func NewHTTPClient(certFile string, insecureSkipVerify bool, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecureSkipVerify,
	}
	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, certFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate %s: %w", certFile, err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg

	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// Send posts each notification in order. A transport failure aborts the batch:
// the failed notification and every one not yet attempted come back for retry.
func (s *Sender) Send(ctx context.Context, batch push.Batch) push.Batch {
	var retry push.Batch

	for i, n := range batch {
		body, silent, err := BuildPayload(n.Token, n.Payload, s.maxPayload)
		if err != nil {
			s.logger.Error("Failed to encode payload; dropping as permanent", "token", n.ShortToken(), "err", err)
			n.Unsubscribe()
			continue
		}
		if silent {
			s.logger.Debug("Payload exceeds provider limit; sending silent push", "token", n.ShortToken())
		}

		status, respBody, err := s.post(ctx, body)
		if err != nil {
			s.logger.Warn("Push transport failed; requeueing rest of batch",
				"token", n.ShortToken(), "requeued", len(batch)-i, "err", err)
			retry = append(retry, batch[i:]...)
			break
		}

		outcome, reason := Classify(status, respBody)
		switch outcome {
		case Retry:
			s.logger.Info("Push deferred", "token", n.ShortToken(), "status", status, "reason", reason)
			retry = append(retry, n)
		case Permanent:
			s.logger.Warn("Push rejected; unsubscribing", "token", n.ShortToken(), "status", status, "reason", reason)
			n.Unsubscribe()
		default:
			s.logger.Debug("Push delivered", "token", n.ShortToken())
		}
	}

	return retry
}

// post issues one request with fresh headers and returns the status and body.
func (s *Sender) post(ctx context.Context, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", s.authHeader)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
