package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Model is anything that serializes itself into a checkpoint payload.
type Model interface {
	MarshalCheckpoint() ([]byte, error)
	RestoreCheckpoint([]byte) error
}

// Observer is notified of every save and load.
type Observer func(model, op string, err error)

// Manager seals models into a Store and restores them.
type Manager struct {
	store   Store
	log     *slog.Logger
	now     func() time.Time
	observe Observer
}

type ManagerOptions struct {
	Logger   *slog.Logger
	Now      func() time.Time
	Observer Observer
}

func NewManager(store Store, opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Observer == nil {
		opts.Observer = func(string, string, error) {}
	}
	return &Manager{store: store, log: opts.Logger, now: opts.Now, observe: opts.Observer}
}

func (m *Manager) Save(ctx context.Context, name string, model Model) (err error) {
	defer func() { m.observe(name, "save", err) }()

	payload, err := model.MarshalCheckpoint()
	if err != nil {
		return err
	}
	b, err := Seal(name, payload, m.now())
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, name, b); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	m.log.Info("checkpoint saved", "model", name, "bytes", len(b))
	return nil
}

// Load restores name into model. A missing artifact returns ErrNotFound and
// leaves model untouched.
func (m *Manager) Load(ctx context.Context, name string, model Model) (err error) {
	defer func() {
		if !errors.Is(err, ErrNotFound) {
			m.observe(name, "load", err)
		}
	}()

	b, err := m.store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	payload, savedAt, err := Unseal(name, b)
	if err != nil {
		return err
	}
	if err := model.RestoreCheckpoint(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	m.log.Info("checkpoint loaded", "model", name, "saved_at", savedAt)
	return nil
}

func (m *Manager) Close() error { return m.store.Close() }
