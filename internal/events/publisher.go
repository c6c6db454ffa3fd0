// Package events publishes history lifecycle events to NATS.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/eva-ai/platform/internal/model"
	"github.com/eva-ai/platform/pkg/logger"
)

const subjectPrefix = "eva.history."

// Config holds NATS connection configuration.
type Config struct {
	URL   string
	Token string
}

// Publisher emits history events on NATS subjects. Durability lives in
// the history snapshot; the feed is best-effort fan-out for dashboards
// and downstream consumers.
type Publisher struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// Connect establishes a connection to the NATS server.
func Connect(cfg Config, log *logger.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Publisher{
		conn:   nc,
		logger: log,
	}, nil
}

// Publish emits a history event on its type subject. Failures are
// logged, not surfaced; the store mutation has already committed.
func (p *Publisher) Publish(ev model.HistoryEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("failed to encode history event", zap.Error(err))
		return
	}
	subject := subjectPrefix + string(ev.Type)
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn("failed to publish history event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// IsConnected returns true if connected to NATS.
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
