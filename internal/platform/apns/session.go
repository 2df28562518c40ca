package apns

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
)

var ErrNotConnected = errors.New("apns session is not connected")

// Feedback is the provider's verdict on one submitted notification,
// correlated by the apns-id the sender assigned at submission.
type Feedback struct {
	ApnsID     string
	StatusCode int
	Reason     string
	Timestamp  time.Time
}

// Sent reports whether the provider accepted the notification.
func (f Feedback) Sent() bool {
	return f.StatusCode == apns2.StatusSent
}

// Session is the narrow capability a sender needs from a provider session.
// Submit only fails for session-level problems; per-notification verdicts
// arrive on Feedback.
type Session interface {
	Connect(ctx context.Context) error
	Connected() bool
	Submit(ctx context.Context, n *apns2.Notification) error
	Feedback() <-chan Feedback
	Disconnect()
}

// Client is the subset of *apns2.Client a CertSession drives.
type Client interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type idleCloser interface {
	CloseIdleConnections()
}

// SessionConfig selects the certificate and environment of a session.
type SessionConfig struct {
	// CertFile is a .p12 bundle or a PEM file holding certificate and key.
	CertFile     string
	CertPassword string
	Sandbox      bool
	// Timeout bounds each submission. Defaults to 10s.
	Timeout time.Duration
}

const (
	defaultTimeout = 10 * time.Second
	feedbackBuffer = 64
)

type dialFunc func(cert tls.Certificate, sandbox bool, timeout time.Duration) Client

// CertSession owns one certificate-authenticated HTTP/2 connection to APNs.
// It is driven by a single backend worker.
type CertSession struct {
	cert     tls.Certificate
	sandbox  bool
	timeout  time.Duration
	dial     dialFunc
	feedback chan Feedback
	logger   *slog.Logger

	mu        sync.Mutex
	client    Client
	connected bool
}

// NewCertSession loads the certificate immediately so bad credentials fail at startup.
func NewCertSession(cfg SessionConfig, logger *slog.Logger) (*CertSession, error) {
	cert, err := loadCertificate(cfg.CertFile, cfg.CertPassword)
	if err != nil {
		return nil, err
	}
	return newCertSession(cert, cfg, dialAPNs, logger), nil
}

func newCertSession(cert tls.Certificate, cfg SessionConfig, dial dialFunc, logger *slog.Logger) *CertSession {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &CertSession{
		cert:     cert,
		sandbox:  cfg.Sandbox,
		timeout:  timeout,
		dial:     dial,
		feedback: make(chan Feedback, feedbackBuffer),
		logger:   logger.With("component", "APNSSession"),
	}
}

func loadCertificate(path, password string) (tls.Certificate, error) {
	var (
		cert tls.Certificate
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".p12") {
		cert, err = certificate.FromP12File(path, password)
	} else {
		cert, err = certificate.FromPemFile(path, password)
	}
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load APNs certificate %s: %w", path, err)
	}
	return cert, nil
}

func dialAPNs(cert tls.Certificate, sandbox bool, timeout time.Duration) Client {
	client := apns2.NewClient(cert)
	if sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}
	client.HTTPClient.Timeout = timeout
	return &closingClient{Client: client}
}

// closingClient lets Disconnect drop the pooled HTTP/2 connection.
type closingClient struct {
	*apns2.Client
}

func (c *closingClient) CloseIdleConnections() {
	c.HTTPClient.CloseIdleConnections()
}

func (s *CertSession) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	s.client = s.dial(s.cert, s.sandbox, s.timeout)
	s.connected = true
	s.logger.Info("APNs session connected", "sandbox", s.sandbox)
	return nil
}

func (s *CertSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Submit pushes one notification and publishes the verdict on Feedback.
func (s *CertSession) Submit(ctx context.Context, n *apns2.Notification) error {
	s.mu.Lock()
	client, connected := s.client, s.connected
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	pushCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := client.PushWithContext(pushCtx, n)
	if err != nil {
		return fmt.Errorf("apns push failed: %w", err)
	}

	fb := Feedback{
		ApnsID:     n.ApnsID,
		StatusCode: res.StatusCode,
		Reason:     res.Reason,
		Timestamp:  res.Timestamp.Time,
	}
	if fb.ApnsID == "" {
		fb.ApnsID = res.ApnsID
	}

	// APNs has answered, so the verdict is published even if ctx is done.
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case s.feedback <- fb:
		return nil
	case <-timer.C:
		return fmt.Errorf("apns feedback channel full; verdict for %s dropped", fb.ApnsID)
	}
}

func (s *CertSession) Feedback() <-chan Feedback {
	return s.feedback
}

// Disconnect drops the connection; the next Connect dials again.
func (s *CertSession) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	if c, ok := s.client.(idleCloser); ok {
		c.CloseIdleConnections()
	}
	s.client = nil
	s.connected = false
	s.logger.Info("APNs session disconnected")
}
