// Package control runs the feedback loop: every telemetry sample updates the
// feature window, yields a bitrate prediction and a policy action, feeds the
// replay buffer and periodically trains the policy.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/stream-optimizer/internal/bitrate"
	"github.com/mohammed-shakir/stream-optimizer/internal/checkpoint"
	"github.com/mohammed-shakir/stream-optimizer/internal/observability"
	"github.com/mohammed-shakir/stream-optimizer/internal/policy"
	"github.com/mohammed-shakir/stream-optimizer/internal/telemetry"
	"github.com/mohammed-shakir/stream-optimizer/internal/window"
)

type State string

const (
	StateWarmup State = "warmup"
	StateSteady State = "steady"
)

type Config struct {
	SessionID       string
	WindowSize      int
	MinSamples      int
	TrainEvery      int
	TargetSyncEvery int
	LogEvery        int
	Training        bool
	MinBitrateKbps  int
	MaxBitrateKbps  int
	RecvTimeout     time.Duration
	ErrorBackoff    time.Duration
	SaveTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if c.WindowSize <= 0 {
		c.WindowSize = window.DefaultSize
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 5
	}
	if c.TrainEvery <= 0 {
		c.TrainEvery = 10
	}
	if c.TargetSyncEvery <= 0 {
		c.TargetSyncEvery = 10
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 10
	}
	if c.MinBitrateKbps <= 0 {
		c.MinBitrateKbps = DefaultMinBitrateKbps
	}
	if c.MaxBitrateKbps <= c.MinBitrateKbps {
		c.MaxBitrateKbps = DefaultMaxBitrateKbps
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = 5 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = time.Second
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 30 * time.Second
	}
	return c
}

type Options struct {
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Checkpoints *checkpoint.Manager
	Ingestor    *telemetry.Ingestor
}

// Loop owns both models and all per-stream state. Every exported method
// takes the same mutex, so one iteration is the unit of atomicity.
type Loop struct {
	mu sync.Mutex

	cfg     Config
	log     *slog.Logger
	metrics *observability.Metrics
	ckpt    *checkpoint.Manager
	ingest  *telemetry.Ingestor

	regressor *bitrate.Regressor
	agent     *policy.Agent
	window    *window.Window

	cur        telemetry.Sample
	hasCur     bool
	lastAction policy.Action
	hasAction  bool

	iterations uint64
	seq        uint64
	lastLoss   *float64
	last       *Recommendation
}

func New(reg *bitrate.Regressor, agent *policy.Agent, cfg Config, opts Options) *Loop {
	cfg = cfg.withDefaults()
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Ingestor == nil {
		opts.Ingestor = telemetry.NewIngestor(telemetry.IngestOptions{Logger: opts.Logger})
	}
	return &Loop{
		cfg:       cfg,
		log:       opts.Logger.With("component", "control", "session_id", cfg.SessionID),
		metrics:   opts.Metrics,
		ckpt:      opts.Checkpoints,
		ingest:    opts.Ingestor,
		regressor: reg,
		agent:     agent,
		window:    window.New(cfg.WindowSize),
	}
}

func (l *Loop) Config() Config { return l.cfg }

func (l *Loop) History() *telemetry.History { return l.ingest.History() }

// Step processes one sample to completion. A panic inside the iteration is
// returned as an error; the loop stays usable.
func (l *Loop) Step(ctx context.Context, s telemetry.Sample) (Recommendation, error) {
	rec, _, err := l.step(ctx, s)
	return rec, err
}

func (l *Loop) step(ctx context.Context, s telemetry.Sample) (rec Recommendation, seq uint64, err error) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("control: iteration %d panicked: %v", l.iterations, r)
		}
	}()

	prev, hadPrev := l.cur, l.hasCur
	l.cur, l.hasCur = s, true
	l.window.Add(s.Window())
	l.iterations++

	state := StateSteady
	if l.window.Len() < l.cfg.MinSamples {
		state = StateWarmup
	}

	var kbps int
	if state == StateWarmup {
		kbps = echoKbps(s.BitrateKbps)
	} else {
		kbps = l.regressor.Predict(l.window.Features())
	}

	cur := policy.Featurize(s)
	if l.cfg.Training && hadPrev && l.hasAction {
		r := policy.Reward(s, prev)
		l.agent.Remember(policy.Transition{
			State:  policy.Featurize(prev),
			Action: l.lastAction,
			Reward: r,
			Next:   cur,
		})
		l.metrics.ObserveReward(r)
	}

	action := l.agent.Act(cur)
	l.lastAction, l.hasAction = action, true

	if l.cfg.Training && state == StateSteady && l.iterations%uint64(l.cfg.TrainEvery) == 0 {
		l.train(ctx)
	}

	rec = Recommendation{
		BitrateKbps:   kbps,
		QualityAction: mapAction(action, s, l.cfg.MinBitrateKbps, l.cfg.MaxBitrateKbps),
		Confidence:    l.agent.Confidence(),
		Timestamp:     s.Timestamp,
	}
	l.last = &rec
	l.seq++

	l.metrics.ObserveIteration(string(state), time.Since(start))
	l.metrics.ObserveRecommendation(rec.QualityAction.Action, kbps, l.agent.Epsilon(), l.agent.MemoryLen())
	if l.iterations%uint64(l.cfg.LogEvery) == 0 {
		l.log.InfoContext(ctx, "recommendations progress",
			"bitrate_kbps", kbps,
			"action", rec.QualityAction.Action,
			"sent", l.iterations,
			"epsilon", l.agent.Epsilon())
	}
	return rec, l.seq, nil
}

func (l *Loop) train(ctx context.Context) {
	loss, ok := l.agent.Replay()
	if !ok {
		return
	}
	l.lastLoss = &loss
	l.metrics.ObserveTrainStep(loss)
	l.log.DebugContext(ctx, "policy replay step", "loss", loss, "epsilon", l.agent.Epsilon())
	if l.agent.TrainSteps()%l.cfg.TargetSyncEvery == 0 {
		l.agent.SyncTarget()
		l.log.DebugContext(ctx, "target network synced", "train_steps", l.agent.TrainSteps())
	}
}

// Status is a point-in-time view for the admin surface.
type Status struct {
	SessionID      string          `json:"session_id"`
	State          State           `json:"state"`
	Training       bool            `json:"training"`
	Iterations     uint64          `json:"iterations"`
	WindowLen      int             `json:"window_len"`
	Epsilon        float64         `json:"epsilon"`
	ReplaySize     int             `json:"replay_size"`
	TrainSteps     int             `json:"train_steps"`
	LastLoss       *float64        `json:"last_loss,omitempty"`
	Recommendation *Recommendation `json:"last_recommendation,omitempty"`
}

func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := Status{
		SessionID:  l.cfg.SessionID,
		State:      StateSteady,
		Training:   l.cfg.Training,
		Iterations: l.iterations,
		WindowLen:  l.window.Len(),
		Epsilon:    l.agent.Epsilon(),
		ReplaySize: l.agent.MemoryLen(),
		TrainSteps: l.agent.TrainSteps(),
	}
	if l.window.Len() < l.cfg.MinSamples {
		st.State = StateWarmup
	}
	if l.lastLoss != nil {
		v := *l.lastLoss
		st.LastLoss = &v
	}
	if l.last != nil {
		r := *l.last
		st.Recommendation = &r
	}
	return st
}

// Last returns the most recent recommendation, if any.
func (l *Loop) Last() (Recommendation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return Recommendation{}, false
	}
	return *l.last, true
}

// SaveModels persists both models. It waits for any in-flight iteration.
func (l *Loop) SaveModels(ctx context.Context) error {
	if l.ckpt == nil {
		return errors.New("control: no checkpoint store configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return errors.Join(
		l.ckpt.Save(ctx, bitrate.ModelName, l.regressor),
		l.ckpt.Save(ctx, policy.ModelName, l.agent),
	)
}

// LoadModels restores both models. A missing checkpoint is expected on first
// start; a malformed one is logged and the current weights stay in place. The
// returned error carries the malformed ones only.
func (l *Loop) LoadModels(ctx context.Context) error {
	if l.ckpt == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for name, m := range map[string]checkpoint.Model{
		bitrate.ModelName: l.regressor,
		policy.ModelName:  l.agent,
	} {
		err := l.ckpt.Load(ctx, name, m)
		switch {
		case err == nil:
		case errors.Is(err, checkpoint.ErrNotFound):
			l.log.InfoContext(ctx, "no checkpoint found, starting fresh", "model", name)
		default:
			l.log.WarnContext(ctx, "checkpoint load failed, keeping current weights", "model", name, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// echoKbps converts a reported bitrate without overflowing int32 range.
func echoKbps(v float64) int {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	}
	return int(v)
}
