package kafkaconn

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	msgs    *prometheus.CounterVec
	publish *prometheus.CounterVec
	lag     prometheus.Gauge
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		msgs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_kafka_messages_total",
				Help: "Telemetry messages consumed from Kafka by result.",
			},
			[]string{"result"},
		),
		publish: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimizer_kafka_publish_total",
				Help: "Recommendations handed to the Kafka producer by result.",
			},
			[]string{"result"},
		),
		lag: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "optimizer_kafka_lag_seconds",
				Help: "Approximate lag: now - message.timestamp.",
			},
		),
	}
	if r != nil {
		m.msgs = register(r, m.msgs)
		m.publish = register(r, m.publish)
		m.lag = register(r, m.lag)
	}
	return m
}

// register tolerates a source and a publisher sharing one registry.
func register[T prometheus.Collector](r prometheus.Registerer, c T) T {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
