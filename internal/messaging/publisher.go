package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/journeytrack/service/internal/contracts"
)

// Publisher sends outbox envelopes to the journey event stream. The
// connection is established lazily and re-established after failures; the
// (re)connect path is mutually exclusive while publishing itself proceeds
// concurrently once a context is live.
type Publisher struct {
	URL    string
	Logger *zap.Logger

	mu   sync.Mutex
	conn *nats.Conn
	js   nats.JetStreamContext
}

func NewPublisher(url string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{URL: url, Logger: logger}
}

// Publish sends the envelope to journey.event.<type> as a persistent
// message and returns only after the stream acknowledges receipt. A crash
// between this ack and the outbox row update yields a duplicate delivery on
// restart; consumers are responsible for tolerating it.
func (p *Publisher) Publish(ctx context.Context, envelope contracts.Envelope) error {
	js, err := p.ensureConnected()
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	msg := &nats.Msg{
		Subject: EventSubject(envelope.Type),
		Data:    body,
		Header:  nats.Header{},
	}
	// Message id enables broker-side duplicate windowing on top of
	// consumer idempotency.
	msg.Header.Set(nats.MsgIdHdr, envelope.MessageID)

	if _, err := js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s (%s): %w", envelope.Type, envelope.MessageID, err)
	}

	p.Logger.Debug("published outbox event",
		zap.String("type", envelope.Type),
		zap.String("message_id", envelope.MessageID))
	return nil
}

// JetStream exposes the live context for consumer-side introspection (the
// broker lag gauge). Connects lazily like Publish.
func (p *Publisher) JetStream() (nats.JetStreamContext, error) {
	return p.ensureConnected()
}

// Ping reports whether the broker is currently reachable, connecting if
// necessary. Used by the readiness probe.
func (p *Publisher) Ping() error {
	if _, err := p.ensureConnected(); err != nil {
		return err
	}
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil || conn.Status() != nats.CONNECTED {
		return errors.New("nats is not connected")
	}
	return nil
}

func (p *Publisher) ensureConnected() (nats.JetStreamContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil && p.conn.Status() == nats.CONNECTED && p.js != nil {
		return p.js, nil
	}

	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		p.js = nil
	}

	conn, err := nats.Connect(p.URL)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := EnsureStream(js); err != nil {
		conn.Close()
		return nil, err
	}

	p.conn = conn
	p.js = js
	p.Logger.Info("broker connection established", zap.String("url", p.URL))
	return js, nil
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.Drain()
		p.conn.Close()
		p.conn = nil
		p.js = nil
	}
}
