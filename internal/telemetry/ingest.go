package telemetry

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrDuplicate is returned for a redelivered record.
var ErrDuplicate = errors.New("telemetry: duplicate record")

// Deduper drops redelivered payloads. Only timestamped records take part:
// two identical untimestamped records are legitimately distinct readings.
type Deduper struct {
	mu  sync.Mutex
	lru *lru.Cache[uint64, struct{}]
}

func NewDeduper(size int) *Deduper {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[uint64, struct{}](size)
	return &Deduper{lru: c}
}

// Seen reports whether raw was already accepted, recording it if not.
func (d *Deduper) Seen(raw []byte, ts float64) bool {
	if ts <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	seen, _ := d.lru.ContainsOrAdd(xxhash.Sum64(raw), struct{}{})
	return seen
}

// Ingestor is the single validation boundary for raw ingress payloads.
type Ingestor struct {
	log     *slog.Logger
	dedupe  *Deduper
	history *History
}

type IngestOptions struct {
	Logger      *slog.Logger
	HistorySize int
	DedupeSize  int
}

func NewIngestor(opts IngestOptions) *Ingestor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ingestor{
		log:     opts.Logger,
		dedupe:  NewDeduper(opts.DedupeSize),
		history: NewHistory(opts.HistorySize),
	}
}

func (in *Ingestor) History() *History { return in.history }

// Ingest decodes raw, logs corrections, filters redeliveries and records the
// accepted sample in history.
func (in *Ingestor) Ingest(raw []byte) (Sample, error) {
	s, warns, err := Decode(raw)
	if err != nil {
		return Sample{}, err
	}
	for _, w := range warns {
		in.log.Warn("telemetry field corrected", "detail", w)
	}
	if in.dedupe.Seen(raw, s.Timestamp) {
		return Sample{}, ErrDuplicate
	}
	in.history.Add(s)
	return s, nil
}
