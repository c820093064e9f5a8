package bitrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// LoadDataset reads a JSON array of examples and rejects empty sequences,
// non-finite values and targets outside [0,1].
func LoadDataset(r io.Reader) ([]Example, error) {
	var out []Example
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("dataset is empty")
	}
	for i, ex := range out {
		if len(ex.Features) == 0 {
			return nil, fmt.Errorf("example %d: empty feature sequence", i)
		}
		if math.IsNaN(ex.Target) || ex.Target < 0 || ex.Target > 1 {
			return nil, fmt.Errorf("example %d: target %v outside [0,1]", i, ex.Target)
		}
		for t, row := range ex.Features {
			for j, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, fmt.Errorf("example %d row %d col %d: non-finite value", i, t, j)
				}
			}
		}
	}
	return out, nil
}
