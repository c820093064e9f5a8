package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, b *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestSlogBridgeCarriesContextAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info", Stream: "cam-1", Component: "optimizer"}, &buf)
	log := NewSlog(&zl).With("model", "bitrate_predictor")

	ctx := WithSession(context.Background(), "sess-1")
	log.InfoContext(ctx, "checkpoint saved", "bytes", 12, "err", errors.New("boom"))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines=%d want 1", len(lines))
	}
	l := lines[0]
	for k, want := range map[string]any{
		"msg":        "checkpoint saved",
		"level":      "info",
		"stream":     "cam-1",
		"component":  "optimizer",
		"session_id": "sess-1",
		"model":      "bitrate_predictor",
		"bytes":      float64(12),
		"err":        "boom",
	} {
		if l[k] != want {
			t.Fatalf("%s=%v want %v (line=%v)", k, l[k], want, l)
		}
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	log := NewSlog(&zl)
	log.Info("dropped")
	log.Debug("dropped")
	log.Warn("kept")
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["msg"] != "kept" {
		t.Fatalf("lines=%v", lines)
	}
	if log.Enabled(context.Background(), -4) {
		t.Fatalf("debug should be disabled at warn level")
	}
}

func TestGroupPrefixesKeys(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{}, &buf)
	NewSlog(&zl).WithGroup("agent").Info("replay", "loss", 0.5)
	lines := decodeLines(t, &buf)
	if lines[0]["agent.loss"] != 0.5 {
		t.Fatalf("line=%v", lines[0])
	}
}

func TestWithSessionGeneratesID(t *testing.T) {
	ctx := WithSession(context.Background(), "")
	if id := SessionFrom(ctx); len(id) != 36 {
		t.Fatalf("id=%q", id)
	}
}
