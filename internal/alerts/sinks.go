package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/cipherzeroprotocol/solana-guard/internal/logger"
)

// NATSSink publishes alerts as JSON on a NATS subject.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	log     *logger.Logger
}

// NewNATSSink connects to the NATS server at url.
func NewNATSSink(url, subject string, log *logger.Logger) (*NATSSink, error) {
	l := logger.OrNop(log).WithComponent("nats-alerts")
	l.Info("connecting to NATS", zap.String("url", url), zap.String("subject", subject))

	conn, err := nats.Connect(url,
		nats.Name("solana-guard"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSSink{conn: conn, subject: subject, log: l}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Publish sends the alert. Severity is appended to the subject so consumers
// can subscribe to e.g. "solguard.alerts.critical".
func (s *NATSSink) Publish(_ context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := s.conn.Publish(s.subject+"."+a.Severity, data); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

// WebhookSink POSTs alerts as JSON to an HTTP endpoint (Slack, Discord,
// SIEM collectors).
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink with a 5s request timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

func (s *WebhookSink) Name() string { return "webhook:" + s.url }

func (s *WebhookSink) Publish(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
