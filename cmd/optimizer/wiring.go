package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/stream-optimizer/internal/config"
	"github.com/mohammed-shakir/stream-optimizer/internal/transport"
	"github.com/mohammed-shakir/stream-optimizer/internal/transport/kafkaconn"
	"github.com/mohammed-shakir/stream-optimizer/internal/transport/natsconn"
	"github.com/mohammed-shakir/stream-optimizer/internal/transport/wsconn"
)

// transportSet is the ingress source, the fan-out sink and everything that
// must be closed on the way out, in order.
type transportSet struct {
	src     transport.Source
	sink    transport.Sink
	ready   func() bool
	closers []func() error
}

func (t *transportSet) Close(log *slog.Logger) {
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i](); err != nil {
			log.Warn("transport close", "err", err)
		}
	}
}

func openTransport(ctx context.Context, cfg config.Config, log *slog.Logger, reg prometheus.Registerer) (*transportSet, error) {
	ts := &transportSet{}
	var sinks transport.MultiSink
	kopts := kafkaconn.Options{Logger: log, Register: reg}

	// the nats connection is shared by the source and the publisher
	var nc *nats.Conn
	needNATS := cfg.Transport == "nats" || cfg.NATS.RecommendationsSubject != ""
	if needNATS {
		c, err := natsconn.Connect(natsconn.Config{URL: cfg.NATS.URL, Name: "stream-optimizer-" + cfg.Stream}, log)
		if err != nil {
			return nil, err
		}
		nc = c
		ts.closers = append(ts.closers, func() error { nc.Close(); return nil })
	}

	switch cfg.Transport {
	case "kafka":
		src := kafkaconn.NewSource(kafkaconn.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.MetricsTopic,
			GroupID: cfg.Kafka.GroupID,
		}, kopts)
		if err := src.Start(ctx); err != nil {
			ts.Close(log)
			return nil, err
		}
		ts.src, ts.ready = src, src.Ready
		ts.closers = append(ts.closers, src.Close)

	case "nats":
		src, err := natsconn.NewSource(nc, natsconn.Config{Subject: cfg.NATS.MetricsSubject}, log)
		if err != nil {
			ts.Close(log)
			return nil, err
		}
		ts.src, ts.ready = src, src.Ready
		ts.closers = append(ts.closers, src.Close)

	default:
		client := wsconn.New(wsconn.Config{URL: cfg.MetricsURL}, log)
		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := client.Connect(cctx)
		cancel()
		if err != nil {
			ts.Close(log)
			return nil, fmt.Errorf("connect %s: %w", cfg.MetricsURL, err)
		}
		ts.src, ts.ready = client, client.Connected
		sinks = append(sinks, client)
		ts.closers = append(ts.closers, client.Close)
	}

	if topic := cfg.Kafka.RecommendationsTopic; topic != "" {
		pub, err := kafkaconn.NewPublisher(cfg.Kafka.Brokers, topic, 1024, kopts)
		if err != nil {
			ts.Close(log)
			return nil, err
		}
		sinks = append(sinks, pub)
		ts.closers = append(ts.closers, pub.Close)
	}
	if subj := cfg.NATS.RecommendationsSubject; subj != "" {
		pub, err := natsconn.NewPublisher(nc, subj)
		if err != nil {
			ts.Close(log)
			return nil, err
		}
		sinks = append(sinks, pub)
		ts.closers = append(ts.closers, pub.Close)
	}

	if len(sinks) > 0 {
		ts.sink = sinks
	}
	return ts, nil
}
