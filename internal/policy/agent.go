package policy

import (
	"math/rand/v2"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/mohammed-shakir/stream-optimizer/internal/nn"
)

type Config struct {
	Gamma        float64
	Epsilon      float64
	EpsilonMin   float64
	EpsilonDecay float64
	LearningRate float64
	MemorySize   int
	BatchSize    int
	Hidden       []int
	Dropout      float64
	// DropoutLayers is how many leading hidden layers are followed by dropout.
	DropoutLayers int
	Seed          uint64
}

func DefaultConfig() Config {
	return Config{
		Gamma:         0.95,
		Epsilon:       1.0,
		EpsilonMin:    0.01,
		EpsilonDecay:  0.995,
		LearningRate:  1e-3,
		MemorySize:    2000,
		BatchSize:     32,
		Hidden:        []int{128, 128, 64},
		Dropout:       0.2,
		DropoutLayers: 2,
		Seed:          42,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Gamma <= 0 || c.Gamma > 1 {
		c.Gamma = d.Gamma
	}
	if c.Epsilon <= 0 || c.Epsilon > 1 {
		c.Epsilon = d.Epsilon
	}
	if c.EpsilonMin < 0 || c.EpsilonMin > 1 {
		c.EpsilonMin = d.EpsilonMin
	}
	if c.EpsilonDecay <= 0 || c.EpsilonDecay > 1 {
		c.EpsilonDecay = d.EpsilonDecay
	}
	if c.LearningRate <= 0 {
		c.LearningRate = d.LearningRate
	}
	if c.MemorySize <= 0 {
		c.MemorySize = d.MemorySize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Hidden == nil {
		c.Hidden = d.Hidden
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		c.Dropout = d.Dropout
	}
	if c.DropoutLayers < 0 {
		c.DropoutLayers = 0
	}
	return c
}

// Agent is a DQN with an online and a lagging target network. It is not safe
// for concurrent use; the control loop serializes whole iterations.
type Agent struct {
	cfg     Config
	online  *nn.Sequential
	target  *nn.Sequential
	opt     *nn.Adam
	rng     *rand.Rand
	memory  *ReplayBuffer
	epsilon float64
	steps   int
}

func NewAgent(cfg Config) *Agent {
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0xda942042e4dd58b5))
	online := buildQNet(cfg, rng)
	target := buildQNet(cfg, rng)
	nn.CopyParams(target.Params(), online.Params())
	return &Agent{
		cfg:     cfg,
		online:  online,
		target:  target,
		opt:     nn.NewAdam(online.Params(), cfg.LearningRate),
		rng:     rng,
		memory:  NewReplayBuffer(cfg.MemorySize),
		epsilon: cfg.Epsilon,
	}
}

func buildQNet(cfg Config, rng *rand.Rand) *nn.Sequential {
	var layers []nn.Layer
	in := StateSize
	for i, h := range cfg.Hidden {
		layers = append(layers, nn.NewDense("fc"+strconv.Itoa(i), in, h, rng), &nn.ReLU{})
		if i < cfg.DropoutLayers {
			layers = append(layers, &nn.Dropout{Rate: cfg.Dropout})
		}
		in = h
	}
	layers = append(layers, nn.NewDense("fc"+strconv.Itoa(len(cfg.Hidden)), in, NumActions, rng))
	return &nn.Sequential{Layers: layers}
}

func (a *Agent) Config() Config { return a.cfg }

func (a *Agent) Epsilon() float64 { return a.epsilon }

// Confidence is 1 - epsilon.
func (a *Agent) Confidence() float64 { return 1 - a.epsilon }

func (a *Agent) MemoryLen() int { return a.memory.Len() }

// TrainSteps counts completed batched updates.
func (a *Agent) TrainSteps() int { return a.steps }

func statesMatrix(states []State) *mat.Dense {
	m := mat.NewDense(len(states), StateSize, nil)
	for i := range states {
		copy(m.RawRowView(i), states[i][:])
	}
	return m
}

// QValues evaluates the online network in inference mode.
func (a *Agent) QValues(s State) [NumActions]float64 {
	var out [NumActions]float64
	copy(out[:], a.online.Infer(statesMatrix([]State{s})).RawRowView(0))
	return out
}

// Act picks a random action with probability epsilon, otherwise the first
// action with the highest Q value.
func (a *Agent) Act(s State) Action {
	if a.rng.Float64() < a.epsilon {
		return Action(a.rng.IntN(NumActions))
	}
	return argmax(a.QValues(s))
}

func argmax(q [NumActions]float64) Action {
	best := 0
	for i := 1; i < NumActions; i++ {
		if q[i] > q[best] {
			best = i
		}
	}
	return Action(best)
}

func (a *Agent) Remember(t Transition) { a.memory.Push(t) }

// Replay runs one batched update. It is a no-op returning ok=false while the
// buffer holds fewer than BatchSize transitions.
func (a *Agent) Replay() (float64, bool) {
	batch := a.memory.Sample(a.rng, a.cfg.BatchSize)
	if batch == nil {
		return 0, false
	}

	n := len(batch)
	cur := make([]State, n)
	next := make([]State, n)
	for i, t := range batch {
		cur[i] = t.State
		next[i] = t.Next
	}

	nextQ := a.target.Infer(statesMatrix(next))
	targets := make([]float64, n)
	for i, t := range batch {
		var best [NumActions]float64
		copy(best[:], nextQ.RawRowView(i))
		bootstrap := best[argmax(best)]
		if t.Terminal {
			bootstrap = 0
		}
		targets[i] = t.Reward + a.cfg.Gamma*bootstrap
	}

	a.opt.ZeroGrad()
	q := a.online.Forward(statesMatrix(cur), a.rng)
	dq := mat.NewDense(n, NumActions, nil)
	var loss float64
	for i, t := range batch {
		d := q.At(i, int(t.Action)) - targets[i]
		loss += d * d
		dq.Set(i, int(t.Action), 2*d/float64(n))
	}
	a.online.Backward(dq)
	a.opt.Update()

	a.steps++
	a.epsilon = max(a.cfg.EpsilonMin, a.epsilon*a.cfg.EpsilonDecay)
	return loss / float64(n), true
}

// SyncTarget copies online weights into the target network.
func (a *Agent) SyncTarget() {
	nn.CopyParams(a.target.Params(), a.online.Params())
}
