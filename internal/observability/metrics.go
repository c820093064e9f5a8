// Package observability defines the optimizer's Prometheus series. A nil
// *Metrics is valid and records nothing.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	iterations    *prometheus.CounterVec
	recs          *prometheus.CounterVec
	epsilon       prometheus.Gauge
	replaySize    prometheus.Gauge
	trainLoss     prometheus.Gauge
	trainSteps    prometheus.Counter
	iterSeconds   prometheus.Histogram
	recvErrors    *prometheus.CounterVec
	checkpointOps *prometheus.CounterVec
	bitrate       prometheus.Gauge
	reward        prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds the metric set and registers it on r when r is non-nil.
func New(r prometheus.Registerer) *Metrics {
	m := &Metrics{
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_iterations_total",
			Help: "Control loop iterations by loop state.",
		}, []string{"state"}),
		recs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_recommendations_total",
			Help: "Recommendations emitted by quality action.",
		}, []string{"action"}),
		epsilon: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optimizer_epsilon",
			Help: "Current exploration rate of the quality policy.",
		}),
		replaySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optimizer_replay_size",
			Help: "Transitions held in the replay buffer.",
		}),
		trainLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optimizer_train_loss",
			Help: "Mean loss of the last replay step.",
		}),
		trainSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optimizer_train_steps_total",
			Help: "Completed replay training steps.",
		}),
		iterSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "optimizer_iteration_seconds",
			Help:    "Wall time of one control loop iteration.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}),
		recvErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_receive_errors_total",
			Help: "Ingress failures by kind.",
		}, []string{"kind"}),
		checkpointOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_checkpoint_ops_total",
			Help: "Checkpoint saves and loads by model and result.",
		}, []string{"model", "op", "result"}),
		bitrate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optimizer_predicted_bitrate_kbps",
			Help: "Last recommended bitrate.",
		}),
		reward: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optimizer_reward",
			Help: "Reward of the last recorded transition.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_http_requests_total",
			Help: "Admin HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optimizer_http_request_duration_seconds",
			Help:    "Duration of admin HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "route", "status"}),
	}
	if r != nil {
		r.MustRegister(
			m.iterations, m.recs, m.epsilon, m.replaySize, m.trainLoss, m.trainSteps,
			m.iterSeconds, m.recvErrors, m.checkpointOps, m.bitrate, m.reward,
			m.httpRequests, m.httpDuration,
		)
	}
	return m
}

func (m *Metrics) ObserveIteration(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.iterations.WithLabelValues(state).Inc()
	m.iterSeconds.Observe(d.Seconds())
}

func (m *Metrics) ObserveRecommendation(action string, bitrateKbps int, epsilon float64, replay int) {
	if m == nil {
		return
	}
	m.recs.WithLabelValues(action).Inc()
	m.bitrate.Set(float64(bitrateKbps))
	m.epsilon.Set(epsilon)
	m.replaySize.Set(float64(replay))
}

func (m *Metrics) ObserveTrainStep(loss float64) {
	if m == nil {
		return
	}
	m.trainSteps.Inc()
	m.trainLoss.Set(loss)
}

func (m *Metrics) ObserveReward(r float64) {
	if m == nil {
		return
	}
	m.reward.Set(r)
}

// ReceiveError counts ingress failures: timeout, transport, decode, duplicate.
func (m *Metrics) ReceiveError(kind string) {
	if m == nil {
		return
	}
	m.recvErrors.WithLabelValues(kind).Inc()
}

// CheckpointOp has the checkpoint.Observer signature.
func (m *Metrics) CheckpointOp(model, op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.checkpointOps.WithLabelValues(model, op, result).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	st := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, st).Inc()
	m.httpDuration.WithLabelValues(method, route, st).Observe(d.Seconds())
}
