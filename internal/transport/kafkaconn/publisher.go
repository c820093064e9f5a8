package kafkaconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/stream-optimizer/internal/transport"
)

// ErrQueueFull is returned when the publish queue is saturated; the envelope
// is dropped rather than blocking the control loop.
var ErrQueueFull = errors.New("kafka publisher: queue full")

// Publisher writes recommendations asynchronously, keyed by session id.
type Publisher struct {
	log     *slog.Logger
	topic   string
	ms      *metricSet
	events  chan transport.Envelope
	prod    sarama.AsyncProducer
	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}
	errDone chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, opts Options) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: create async producer: %w", err)
	}
	return NewPublisherWithProducer(prod, topic, queueSize, opts), nil
}

// NewPublisherWithProducer wraps an existing producer.
func NewPublisherWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, opts Options) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Publisher{
		log:     opts.Logger.With("component", "kafka_publisher", "topic", topic),
		topic:   topic,
		ms:      newMetricSet(opts.Register),
		events:  make(chan transport.Envelope, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for env := range p.events {
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(env.SessionID),
				Value: sarama.ByteEncoder(env.Payload),
				Headers: []sarama.RecordHeader{
					{Key: []byte("session_id"), Value: []byte(env.SessionID)},
					{Key: []byte("seq"), Value: []byte(strconv.FormatUint(env.Seq, 10))},
				},
			}
			p.ms.publish.WithLabelValues("sent").Inc()
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.ms.publish.WithLabelValues("error").Inc()
				p.log.Warn("kafka producer error", "err", err)
			}
		}
	}()

	return p
}

// Send enqueues env without blocking.
func (p *Publisher) Send(_ context.Context, env transport.Envelope) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return transport.ErrClosed
	}
	select {
	case p.events <- env:
		return nil
	default:
		p.ms.publish.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

// Close flushes queued envelopes and closes the producer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("kafka publisher: close producer: %w", err)
	}
	<-p.errDone
	return nil
}
