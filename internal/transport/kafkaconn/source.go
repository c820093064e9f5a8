// Package kafkaconn consumes telemetry from a Kafka topic through a consumer
// group and publishes recommendations to another topic.
package kafkaconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/stream-optimizer/internal/transport"
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
	Buffer           int
}

func (c Config) withDefaults() Config {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	if c.Buffer < 0 {
		c.Buffer = 0
	}
	return c
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
}

// Source hands message values from every claimed partition to Receive. The
// handoff blocks, so the group never runs ahead of the control loop.
type Source struct {
	log    *slog.Logger
	cfg    Config
	ms     *metricSet
	frames chan []byte

	assigned atomic.Bool
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	closed   chan struct{}
	once     sync.Once
}

func NewSource(cfg Config, opts Options) *Source {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Source{
		log:    opts.Logger.With("component", "kafka_source"),
		cfg:    cfg,
		ms:     newMetricSet(opts.Register),
		frames: make(chan []byte, cfg.Buffer),
		closed: make(chan struct{}),
	}
}

func (s *Source) saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = s.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = s.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = s.cfg.RebalanceTimeout
	if s.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true
	return cfg
}

func (s *Source) Start(ctx context.Context) error {
	if len(s.cfg.Brokers) == 0 || strings.TrimSpace(s.cfg.Topic) == "" {
		return errors.New("kafka source: brokers and topic are required")
	}
	group, err := sarama.NewConsumerGroup(s.cfg.Brokers, s.cfg.GroupID, s.saramaConfig())
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	h := s.handler()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				s.log.Error("kafka consumer group close", "err", err)
			}
		}()
		for {
			if err := group.Consume(ctx, []string{s.cfg.Topic}, h); err != nil {
				s.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for err := range group.Errors() {
			s.log.Error("kafka group error", "err", err)
		}
	}()

	s.log.Info("kafka telemetry source started",
		"topic", s.cfg.Topic, "group", s.cfg.GroupID, "brokers", s.cfg.Brokers)
	return nil
}

func (s *Source) handler() *groupHandler {
	return &groupHandler{
		setup:   func(sarama.ConsumerGroupSession) { s.assigned.Store(true) },
		cleanup: func(sarama.ConsumerGroupSession) { s.assigned.Store(false) },
		process: s.handleMessage,
	}
}

// Ready reports whether the group currently holds partitions.
func (s *Source) Ready() bool { return s.assigned.Load() }

func (s *Source) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if !msg.Timestamp.IsZero() {
		s.ms.lag.Set(time.Since(msg.Timestamp).Seconds())
	}
	select {
	case s.frames <- msg.Value:
		s.ms.msgs.WithLabelValues("ok").Inc()
		return nil
	case <-ctx.Done():
		s.ms.msgs.WithLabelValues("abandoned").Inc()
		return ctx.Err()
	case <-s.closed:
		return transport.ErrClosed
	}
}

func (s *Source) Receive(ctx context.Context) ([]byte, error) {
	select {
	case b := <-s.frames:
		return b, nil
	case <-s.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Source) Close() error {
	s.once.Do(func() {
		close(s.closed)
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.log.Info("kafka telemetry source stopped")
	})
	return nil
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

// ConsumeClaim marks a message only after it was handed off.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
