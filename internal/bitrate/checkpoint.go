package bitrate

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/mohammed-shakir/stream-optimizer/internal/nn"
)

// ModelName identifies the regressor artifact in a checkpoint store.
const ModelName = "bitrate_predictor"

type checkpointPayload struct {
	InputDim  int          `json:"input_dim"`
	Hidden    int          `json:"hidden"`
	Layers    int          `json:"layers"`
	Head      []int        `json:"head"`
	Weights   []nn.Tensor  `json:"weights"`
	Optimizer nn.AdamState `json:"optimizer"`
}

// MarshalCheckpoint serializes weights and optimizer state together.
func (r *Regressor) MarshalCheckpoint() ([]byte, error) {
	p := checkpointPayload{
		InputDim:  r.cfg.InputDim,
		Hidden:    r.cfg.Hidden,
		Layers:    r.cfg.Layers,
		Head:      r.cfg.Head,
		Weights:   nn.Snapshot(r.net.Params()),
		Optimizer: r.opt.State(),
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ModelName, err)
	}
	return b, nil
}

// RestoreCheckpoint loads a payload produced by MarshalCheckpoint. Nothing is
// modified unless the whole payload is valid for this architecture.
func (r *Regressor) RestoreCheckpoint(b []byte) error {
	var p checkpointPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("decode %s: %w", ModelName, err)
	}
	if p.InputDim != r.cfg.InputDim || p.Hidden != r.cfg.Hidden || p.Layers != r.cfg.Layers || !slices.Equal(p.Head, r.cfg.Head) {
		return fmt.Errorf("%s: architecture mismatch (in=%d hidden=%d layers=%d head=%v)",
			ModelName, p.InputDim, p.Hidden, p.Layers, p.Head)
	}
	if err := nn.Validate(r.net.Params(), p.Weights); err != nil {
		return fmt.Errorf("%s weights: %w", ModelName, err)
	}
	if err := r.opt.ValidateState(p.Optimizer); err != nil {
		return fmt.Errorf("%s: %w", ModelName, err)
	}
	if err := nn.Restore(r.net.Params(), p.Weights); err != nil {
		return fmt.Errorf("%s weights: %w", ModelName, err)
	}
	if err := r.opt.RestoreState(p.Optimizer); err != nil {
		return fmt.Errorf("%s: %w", ModelName, err)
	}
	return nil
}
