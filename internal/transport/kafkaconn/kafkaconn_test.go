package kafkaconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/stream-optimizer/internal/transport"
)

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Commit()                                          {}

func (s *sess) Marked() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "telemetry" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func TestConsumeClaimHandsOffInOrderThenMarks(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := NewSource(Config{Brokers: []string{"x"}, Topic: "telemetry"}, Options{Register: reg})
	h := src.handler()

	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Offset: 10, Value: []byte(`{"latency_ms":10}`), Timestamp: time.Now()}
	ch <- &sarama.ConsumerMessage{Offset: 11, Value: []byte(`{"latency_ms":11}`)}
	close(ch)

	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(s, &claim{msgs: ch}) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i, want := range []string{`{"latency_ms":10}`, `{"latency_ms":11}`} {
		got, err := src.Receive(ctx)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if string(got) != want {
			t.Fatalf("receive %d = %s want %s", i, got, want)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if m := s.Marked(); len(m) != 2 || m[0] != 10 || m[1] != 11 {
		t.Fatalf("marked=%v want [10 11]", m)
	}
	if got := testutil.ToFloat64(src.ms.msgs.WithLabelValues("ok")); got != 2 {
		t.Fatalf("ok count=%v", got)
	}
}

func TestUnreadMessageIsNotMarked(t *testing.T) {
	src := NewSource(Config{Brokers: []string{"x"}, Topic: "telemetry"}, Options{})
	h := src.handler()

	ctx, cancel := context.WithCancel(context.Background())
	s := &sess{ctx: ctx}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- &sarama.ConsumerMessage{Offset: 3, Value: []byte(`{}`)}
	close(ch)

	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(s, &claim{msgs: ch}) }()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want canceled", err)
	}
	if m := s.Marked(); len(m) != 0 {
		t.Fatalf("abandoned message marked: %v", m)
	}
}

func TestSourceCloseUnblocksReceive(t *testing.T) {
	src := NewSource(Config{Brokers: []string{"x"}, Topic: "telemetry"}, Options{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = src.Close()
	}()
	if _, err := src.Receive(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
	if src.Ready() {
		t.Fatalf("closed source reported ready")
	}
}

func TestStartRequiresBrokersAndTopic(t *testing.T) {
	if err := NewSource(Config{}, Options{}).Start(t.Context()); err == nil {
		t.Fatalf("expected config error")
	}
}

func testProducerConfig() *sarama.Config {
	cfg := mocks.NewTestConfig()
	cfg.Version = sarama.V2_5_0_0
	return cfg
}

func TestPublisherKeysBySession(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, testProducerConfig())
	prod.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Topic != "recs" {
			return fmt.Errorf("topic=%s", m.Topic)
		}
		k, _ := m.Key.Encode()
		if string(k) != "sess-1" {
			return fmt.Errorf("key=%s", k)
		}
		v, _ := m.Value.Encode()
		if string(v) != `{"bitrate_kbps":4000}` {
			return fmt.Errorf("value=%s", v)
		}
		for _, h := range m.Headers {
			if string(h.Key) == "seq" && string(h.Value) != "7" {
				return fmt.Errorf("seq header=%s", h.Value)
			}
		}
		return nil
	})

	reg := prometheus.NewRegistry()
	p := NewPublisherWithProducer(prod, "recs", 4, Options{Register: reg})
	env := transport.Envelope{SessionID: "sess-1", Seq: 7, Payload: []byte(`{"bitrate_kbps":4000}`)}
	if err := p.Send(t.Context(), env); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Send(t.Context(), env); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("send after close err=%v", err)
	}
	if got := testutil.ToFloat64(p.ms.publish.WithLabelValues("sent")); got != 1 {
		t.Fatalf("sent=%v", got)
	}
}

func TestSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := NewSource(Config{Brokers: []string{"x"}, Topic: "t"}, Options{Register: reg})
	prod := mocks.NewAsyncProducer(t, testProducerConfig())
	p := NewPublisherWithProducer(prod, "recs", 1, Options{Register: reg})
	if src.ms.publish != p.ms.publish {
		t.Fatalf("publisher did not reuse the registered collector")
	}
	_ = p.Close()
}
