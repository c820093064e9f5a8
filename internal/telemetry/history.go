package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

const DefaultHistorySize = 1000

// History keeps the last N ingested records for export.
type History struct {
	mu   sync.RWMutex
	data []Sample
	head int
	size int
}

func NewHistory(n int) *History {
	if n <= 0 {
		n = DefaultHistorySize
	}
	return &History{data: make([]Sample, n)}
}

func (h *History) Add(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data[h.head] = s
	h.head = (h.head + 1) % len(h.data)
	if h.size < len(h.data) {
		h.size++
	}
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Recent returns up to n newest records, oldest first. n <= 0 returns all.
func (h *History) Recent(n int) []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > h.size {
		n = h.size
	}
	out := make([]Sample, n)
	first := h.head - n
	for i := 0; i < n; i++ {
		idx := (first + i + len(h.data)) % len(h.data)
		out[i] = h.data[idx]
	}
	return out
}

// WriteJSON writes all held records as an indented JSON array.
func (h *History) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(h.Recent(0)); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}
