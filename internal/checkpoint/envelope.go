// Package checkpoint persists model artifacts behind a small Store interface
// with file, Redis and MinIO backends. Every artifact is wrapped in a
// versioned envelope carrying an xxhash checksum of its payload.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrNotFound = errors.New("checkpoint: not found")
	ErrCorrupt  = errors.New("checkpoint: corrupt")
)

const FormatVersion = 1

// Store saves and loads raw artifacts by model name.
type Store interface {
	Put(ctx context.Context, model string, data []byte) error
	Get(ctx context.Context, model string) ([]byte, error)
	Close() error
}

type envelope struct {
	FormatVersion int             `json:"format_version"`
	Model         string          `json:"model"`
	SavedAt       time.Time       `json:"saved_at"`
	Checksum      string          `json:"checksum"`
	Payload       json.RawMessage `json:"payload"`
}

func checksum(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// Seal wraps a JSON payload for model.
func Seal(model string, payload []byte, now time.Time) ([]byte, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		return nil, fmt.Errorf("seal %s: payload is not JSON: %w", model, err)
	}
	b, err := json.Marshal(envelope{
		FormatVersion: FormatVersion,
		Model:         model,
		SavedAt:       now.UTC(),
		Checksum:      checksum(compact.Bytes()),
		Payload:       compact.Bytes(),
	})
	if err != nil {
		return nil, fmt.Errorf("seal %s: %w", model, err)
	}
	return b, nil
}

// Unseal verifies the envelope and returns the payload. Any mismatch is
// reported as ErrCorrupt.
func Unseal(model string, b []byte) ([]byte, time.Time, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, model, err)
	}
	if env.FormatVersion != FormatVersion {
		return nil, time.Time{}, fmt.Errorf("%w: %s: format version %d", ErrCorrupt, model, env.FormatVersion)
	}
	if env.Model != model {
		return nil, time.Time{}, fmt.Errorf("%w: %s: artifact is for %q", ErrCorrupt, model, env.Model)
	}
	if got := checksum(env.Payload); got != env.Checksum {
		return nil, time.Time{}, fmt.Errorf("%w: %s: checksum %s, want %s", ErrCorrupt, model, got, env.Checksum)
	}
	return env.Payload, env.SavedAt, nil
}
