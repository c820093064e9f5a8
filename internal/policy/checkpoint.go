package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/mohammed-shakir/stream-optimizer/internal/nn"
)

// ModelName identifies the agent artifact in a checkpoint store.
const ModelName = "quality_optimizer"

type checkpointPayload struct {
	Hidden    []int        `json:"hidden"`
	Online    []nn.Tensor  `json:"online"`
	Target    []nn.Tensor  `json:"target"`
	Optimizer nn.AdamState `json:"optimizer"`
	Epsilon   float64      `json:"epsilon"`
	Steps     int          `json:"steps"`
}

// MarshalCheckpoint serializes both networks, optimizer state and epsilon as
// one unit.
func (a *Agent) MarshalCheckpoint() ([]byte, error) {
	b, err := json.Marshal(checkpointPayload{
		Hidden:    a.cfg.Hidden,
		Online:    nn.Snapshot(a.online.Params()),
		Target:    nn.Snapshot(a.target.Params()),
		Optimizer: a.opt.State(),
		Epsilon:   a.epsilon,
		Steps:     a.steps,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ModelName, err)
	}
	return b, nil
}

// RestoreCheckpoint validates every part of the payload before applying any
// of it, so a bad artifact never leaves weights and epsilon out of step.
func (a *Agent) RestoreCheckpoint(b []byte) error {
	var p checkpointPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("decode %s: %w", ModelName, err)
	}
	if !slices.Equal(p.Hidden, a.cfg.Hidden) {
		return fmt.Errorf("%s: hidden layers %v, want %v", ModelName, p.Hidden, a.cfg.Hidden)
	}
	if math.IsNaN(p.Epsilon) || p.Epsilon < 0 || p.Epsilon > 1 {
		return fmt.Errorf("%s: epsilon %v out of range", ModelName, p.Epsilon)
	}
	if p.Steps < 0 {
		return fmt.Errorf("%s: negative step count", ModelName)
	}
	if err := nn.Validate(a.online.Params(), p.Online); err != nil {
		return fmt.Errorf("%s online: %w", ModelName, err)
	}
	if err := nn.Validate(a.target.Params(), p.Target); err != nil {
		return fmt.Errorf("%s target: %w", ModelName, err)
	}
	if err := a.opt.ValidateState(p.Optimizer); err != nil {
		return fmt.Errorf("%s: %w", ModelName, err)
	}

	// all parts validated; the restores below cannot fail
	_ = nn.Restore(a.online.Params(), p.Online)
	_ = nn.Restore(a.target.Params(), p.Target)
	_ = a.opt.RestoreState(p.Optimizer)
	a.epsilon = max(p.Epsilon, a.cfg.EpsilonMin)
	a.steps = p.Steps
	return nil
}
