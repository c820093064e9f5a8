// Package bitrate predicts a target encode bitrate from a window of network
// feature rows with a stacked LSTM regressor.
package bitrate

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/mohammed-shakir/stream-optimizer/internal/nn"
	"github.com/mohammed-shakir/stream-optimizer/internal/window"
)

type Config struct {
	InputDim     int
	Hidden       int
	Layers       int
	Head         []int
	Dropout      float64
	LearningRate float64
	MinKbps      int
	MaxKbps      int
	Seed         uint64
}

func DefaultConfig() Config {
	return Config{
		InputDim:     window.FeatureDim,
		Hidden:       128,
		Layers:       2,
		Head:         []int{64, 32},
		Dropout:      0.2,
		LearningRate: 1e-3,
		MinKbps:      2000,
		MaxKbps:      20000,
		Seed:         42,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InputDim <= 0 {
		c.InputDim = d.InputDim
	}
	if c.Hidden <= 0 {
		c.Hidden = d.Hidden
	}
	if c.Layers <= 0 {
		c.Layers = d.Layers
	}
	if c.Head == nil {
		c.Head = d.Head
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		c.Dropout = d.Dropout
	}
	if c.LearningRate <= 0 {
		c.LearningRate = d.LearningRate
	}
	if c.MinKbps <= 0 {
		c.MinKbps = d.MinKbps
	}
	if c.MaxKbps <= c.MinKbps {
		c.MaxKbps = max(d.MaxKbps, c.MinKbps+1)
	}
	return c
}

// Regressor owns the network, its optimizer and the RNG used for dropout and
// shuffling. It is not safe for concurrent use.
type Regressor struct {
	cfg Config
	net *nn.Sequential
	opt *nn.Adam
	rng *rand.Rand
}

func New(cfg Config) *Regressor {
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	var layers []nn.Layer
	in := cfg.InputDim
	for i := 0; i < cfg.Layers; i++ {
		layers = append(layers, nn.NewLSTM(layerName("lstm", i), in, cfg.Hidden, rng))
		if i < cfg.Layers-1 {
			layers = append(layers, &nn.Dropout{Rate: cfg.Dropout})
		}
		in = cfg.Hidden
	}
	layers = append(layers, &nn.LastStep{})
	for i, h := range cfg.Head {
		layers = append(layers,
			nn.NewDense(layerName("fc", i), in, h, rng),
			&nn.ReLU{},
			&nn.Dropout{Rate: cfg.Dropout},
		)
		in = h
	}
	layers = append(layers, nn.NewDense(layerName("fc", len(cfg.Head)), in, 1, rng), &nn.Sigmoid{})

	net := &nn.Sequential{Layers: layers}
	return &Regressor{
		cfg: cfg,
		net: net,
		opt: nn.NewAdam(net.Params(), cfg.LearningRate),
		rng: rng,
	}
}

func layerName(prefix string, i int) string {
	return prefix + strconv.Itoa(i)
}

func (r *Regressor) Config() Config { return r.cfg }

func toMatrix(features []window.FeatureVector, dim int) *mat.Dense {
	if len(features) == 0 {
		return mat.NewDense(1, dim, nil)
	}
	m := mat.NewDense(len(features), dim, nil)
	for i, f := range features {
		copy(m.RawRowView(i), f[:min(dim, len(f))])
	}
	return m
}

// Normalized returns the raw model output in (0,1) without touching any
// training state.
func (r *Regressor) Normalized(features []window.FeatureVector) float64 {
	return r.net.Infer(toMatrix(features, r.cfg.InputDim)).At(0, 0)
}

// Predict maps the model output onto [MinKbps, MaxKbps].
func (r *Regressor) Predict(features []window.FeatureVector) int {
	return r.scale(r.Normalized(features))
}

func (r *Regressor) scale(y float64) int {
	lo, hi := r.cfg.MinKbps, r.cfg.MaxKbps
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return lo
	}
	kbps := int(float64(lo) + y*float64(hi-lo))
	return min(max(kbps, lo), hi)
}

// Example is one training sequence with its normalized target in [0,1].
type Example struct {
	Features []window.FeatureVector `json:"features"`
	Target   float64                `json:"target"`
}

type TrainOptions struct {
	Epochs    int
	BatchSize int
	LogEvery  int
	Logger    *slog.Logger
}

// Train runs mini-batch Adam epochs minimizing MSE and returns the average
// batch loss of every epoch. A trailing incomplete batch is dropped unless the
// whole dataset is smaller than one batch.
func (r *Regressor) Train(samples []Example, opts TrainOptions) []float64 {
	if opts.Epochs <= 0 {
		opts.Epochs = 100
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.LogEvery <= 0 {
		opts.LogEvery = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	losses := make([]float64, 0, opts.Epochs)
	if len(samples) == 0 {
		return losses
	}

	batch := min(opts.BatchSize, len(samples))
	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}

	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		r.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var total float64
		var batches int
		for start := 0; start+batch <= len(order); start += batch {
			total += r.step(samples, order[start:start+batch])
			batches++
		}
		avg := total / float64(batches)
		losses = append(losses, avg)
		if epoch%opts.LogEvery == 0 {
			opts.Logger.Info("bitrate training progress",
				"epoch", epoch, "epochs", opts.Epochs, "loss", avg)
		}
	}
	return losses
}

func (r *Regressor) step(samples []Example, idx []int) float64 {
	r.opt.ZeroGrad()
	n := float64(len(idx))
	var loss float64
	for _, i := range idx {
		ex := samples[i]
		y := r.net.Forward(toMatrix(ex.Features, r.cfg.InputDim), r.rng).At(0, 0)
		d := y - ex.Target
		loss += d * d
		r.net.Backward(mat.NewDense(1, 1, []float64{2 * d / n}))
	}
	r.opt.Update()
	return loss / n
}

// SyntheticSeqLen is the sequence length the offline trainer generates by
// default.
const SyntheticSeqLen = 10

// Synthetic generates n sequences of seqLen rows whose target falls with
// latency and loss and rises with bandwidth.
func Synthetic(rng *rand.Rand, n, seqLen int) []Example {
	out := make([]Example, 0, n)
	for i := 0; i < n; i++ {
		latency := 10 + rng.Float64()*190
		jitter := rng.Float64() * 50
		loss := rng.Float64() * 0.1
		bw := 5000 + rng.Float64()*45000

		seq := make([]window.FeatureVector, seqLen)
		for t := range seq {
			seq[t] = window.FeatureVector{
				latency/window.LatencyScale + rng.NormFloat64()*0.1,
				jitter/window.JitterScale + rng.NormFloat64()*0.1,
				loss + rng.NormFloat64()*0.01,
				bw/window.BandwidthScale + rng.NormFloat64()*0.1,
				0.5, 0.5, 0.1, 0.5, loss, 0.5,
			}
		}
		target := (bw / 50000) * (1 - 2*loss) * (1 - latency/400)
		out = append(out, Example{Features: seq, Target: min(max(target, 0.1), 1)})
	}
	return out
}
