// Package natsconn carries telemetry and recommendations over core NATS
// subjects. Delivery is at-most-once; a slow consumer drops messages at the
// subscription instead of stalling the server.
package natsconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mohammed-shakir/stream-optimizer/internal/transport"
)

type Config struct {
	URL           string
	Name          string
	Subject       string
	Buffer        int
	MaxReconnects int
	ReconnectWait time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.URL) == "" {
		c.URL = nats.DefaultURL
	}
	if c.Name == "" {
		c.Name = "stream-optimizer"
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = time.Second
	}
	return c
}

// Connect dials the server. The connection keeps reconnecting in the
// background; Ready reflects its current state.
func Connect(cfg Config, log *slog.Logger) (*nats.Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				log.Warn("nats subscription error", "subject", sub.Subject, "err", err)
				return
			}
			log.Warn("nats error", "err", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// Source receives telemetry payloads published on one subject.
type Source struct {
	log    *slog.Logger
	nc     *nats.Conn
	sub    *nats.Subscription
	msgs   chan *nats.Msg
	closed chan struct{}
	once   sync.Once
}

func NewSource(nc *nats.Conn, cfg Config, log *slog.Logger) (*Source, error) {
	if nc == nil {
		return nil, errors.New("nats source: nil connection")
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		return nil, errors.New("nats source: subject is required")
	}
	cfg = cfg.withDefaults()
	s := newSource(make(chan *nats.Msg, cfg.Buffer), log)
	s.nc = nc
	sub, err := nc.ChanSubscribe(cfg.Subject, s.msgs)
	if err != nil {
		return nil, fmt.Errorf("nats source: subscribe %q: %w", cfg.Subject, err)
	}
	s.sub = sub
	s.log.Info("nats telemetry source started", "subject", cfg.Subject)
	return s, nil
}

func newSource(msgs chan *nats.Msg, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		log:    log.With("component", "nats_source"),
		msgs:   msgs,
		closed: make(chan struct{}),
	}
}

func (s *Source) Receive(ctx context.Context) ([]byte, error) {
	select {
	case m := <-s.msgs:
		return m.Data, nil
	case <-s.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Source) Ready() bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	return s.nc != nil && s.nc.IsConnected()
}

// Close drops the subscription. The connection belongs to the caller.
func (s *Source) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		if s.sub != nil {
			if uerr := s.sub.Unsubscribe(); uerr != nil && !errors.Is(uerr, nats.ErrConnectionClosed) {
				err = fmt.Errorf("nats source: unsubscribe: %w", uerr)
			}
		}
	})
	return err
}

// Publisher sends recommendations to a subject with session headers.
type Publisher struct {
	nc      *nats.Conn
	subject string
	mu      sync.RWMutex
	closed  bool
}

func NewPublisher(nc *nats.Conn, subject string) (*Publisher, error) {
	if nc == nil {
		return nil, errors.New("nats publisher: nil connection")
	}
	if strings.TrimSpace(subject) == "" {
		return nil, errors.New("nats publisher: subject is required")
	}
	return &Publisher{nc: nc, subject: subject}, nil
}

func (p *Publisher) Send(_ context.Context, env transport.Envelope) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return transport.ErrClosed
	}
	if err := p.nc.PublishMsg(envelopeMsg(p.subject, env)); err != nil {
		return fmt.Errorf("nats publisher: %w", err)
	}
	return nil
}

// Close flushes pending publishes. The connection belongs to the caller.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.nc.IsClosed() {
		return nil
	}
	if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
		return fmt.Errorf("nats publisher: flush: %w", err)
	}
	return nil
}

func envelopeMsg(subject string, env transport.Envelope) *nats.Msg {
	m := nats.NewMsg(subject)
	m.Data = env.Payload
	m.Header.Set("session_id", env.SessionID)
	m.Header.Set("seq", strconv.FormatUint(env.Seq, 10))
	return m
}
