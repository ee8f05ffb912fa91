// Package publish hands canonical reports to downstream consumers over NATS.
package publish

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const (
	HeaderRunID       = "Allocator-Run-Id"
	HeaderFingerprint = "Allocator-Fingerprint"
	HeaderStage       = "Allocator-Stage"

	defaultTimeout = 5 * time.Second
)

type conn interface {
	PublishMsg(m *nats.Msg) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

// Report is one canonical report ready to leave the process.
type Report struct {
	RunID       string
	Fingerprint string
	Stage       string
	Body        []byte
}

// Publisher sends reports to a single subject.
type Publisher struct {
	nc      conn
	subject string
	timeout time.Duration
	logger  *zap.Logger
}

// Connect dials the NATS server at url.
func Connect(url, subject string, timeout time.Duration, logger *zap.Logger) (*Publisher, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	nc, err := nats.Connect(url, nats.Name("allocator"), nats.Timeout(timeout))
	if err != nil {
		return nil, eris.Wrapf(err, "connect nats %s", url)
	}
	return newPublisher(nc, subject, timeout, logger), nil
}

func newPublisher(nc conn, subject string, timeout time.Duration, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, subject: subject, timeout: timeout, logger: logger}
}

// Publish sends the report body unchanged and waits for the server to
// acknowledge the flush. Trace context from ctx travels in the headers.
func (p *Publisher) Publish(ctx context.Context, r Report) error {
	if len(r.Body) == 0 {
		return eris.New("publish: empty report")
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = r.Body
	msg.Header.Set(nats.MsgIdHdr, r.RunID)
	msg.Header.Set(HeaderRunID, r.RunID)
	msg.Header.Set(HeaderFingerprint, r.Fingerprint)
	msg.Header.Set(HeaderStage, r.Stage)
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(msg.Header))

	if err := p.nc.PublishMsg(msg); err != nil {
		return eris.Wrapf(err, "publish report %s", r.RunID)
	}
	if err := p.nc.FlushTimeout(p.timeout); err != nil {
		return eris.Wrapf(err, "flush report %s", r.RunID)
	}

	p.logger.Info("report published",
		zap.String("subject", p.subject),
		zap.String("run_id", r.RunID),
		zap.Int("bytes", len(r.Body)),
	)
	return nil
}

func (p *Publisher) Close() error {
	return p.nc.Drain()
}

// headerCarrier adapts nats headers for the otel propagator.
type headerCarrier nats.Header

func (c headerCarrier) Get(key string) string { return nats.Header(c).Get(key) }

func (c headerCarrier) Set(key, val string) { nats.Header(c).Set(key, val) }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
