package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestDecodeFillsDefaults(t *testing.T) {
	s, warns, err := Decode([]byte(`{"latency_ms": 80, "fps": 30}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(warns) != 0 {
		t.Fatalf("unexpected warnings: %v", warns)
	}
	want := Default()
	want.LatencyMs = 80
	want.FPS = 30
	if s != want {
		t.Fatalf("got %+v\nwant %+v", s, want)
	}
}

func TestDecodeClampsAndReplaces(t *testing.T) {
	s, warns, err := Decode([]byte(`{"packet_loss": 1.7, "cpu_usage": -0.2, "latency_ms": -5, "resolution": ""}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.PacketLoss != 1 || s.CPUUsage != 0 {
		t.Fatalf("fractions not clamped: loss=%v cpu=%v", s.PacketLoss, s.CPUUsage)
	}
	if s.LatencyMs != Default().LatencyMs {
		t.Fatalf("negative latency not replaced: %v", s.LatencyMs)
	}
	if s.Resolution != "1920x1080" {
		t.Fatalf("resolution=%q", s.Resolution)
	}
	if len(warns) != 3 {
		t.Fatalf("warnings=%v", warns)
	}
}

func TestSanitizeNonFinite(t *testing.T) {
	s := Default()
	s.BandwidthKbps = math.Inf(1)
	s.QualityScore = math.NaN()
	got, warns := Sanitize(s)
	if got.BandwidthKbps != 15000 || got.QualityScore != 0.9 {
		t.Fatalf("non-finite not replaced: %+v", got)
	}
	if len(warns) != 2 {
		t.Fatalf("warnings=%v", warns)
	}
}

func TestSanitizeOversizedRates(t *testing.T) {
	s := Default()
	s.BitrateKbps = 1e30
	s.BandwidthKbps = MaxRateKbps
	got, warns := Sanitize(s)
	if got.BitrateKbps != 10000 {
		t.Fatalf("bitrate=%g want default", got.BitrateKbps)
	}
	if got.BandwidthKbps != MaxRateKbps {
		t.Fatalf("bandwidth at the bound was replaced: %g", got.BandwidthKbps)
	}
	if len(warns) != 1 {
		t.Fatalf("warnings=%v", warns)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, _, err := Decode([]byte(`{"latency_ms": "fast"`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestHistoryBounded(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		s := Default()
		s.Timestamp = float64(i)
		h.Add(s)
	}
	if h.Len() != 3 {
		t.Fatalf("len=%d", h.Len())
	}
	got := h.Recent(2)
	if len(got) != 2 || got[0].Timestamp != 4 || got[1].Timestamp != 5 {
		t.Fatalf("recent=%v", got)
	}

	var buf bytes.Buffer
	if err := h.WriteJSON(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	var back []Sample
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back) != 3 || back[0].Timestamp != 3 {
		t.Fatalf("exported=%v", back)
	}
}

func TestIngestorDropsRedelivery(t *testing.T) {
	in := NewIngestor(IngestOptions{HistorySize: 10, DedupeSize: 10})
	raw := []byte(`{"timestamp": 1700000000.5, "latency_ms": 40}`)
	if _, err := in.Ingest(raw); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := in.Ingest(raw); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second ingest err=%v want ErrDuplicate", err)
	}

	plain := []byte(`{"latency_ms": 40}`)
	for i := 0; i < 2; i++ {
		if _, err := in.Ingest(plain); err != nil {
			t.Fatalf("untimestamped ingest %d: %v", i, err)
		}
	}
	if got := in.History().Len(); got != 3 {
		t.Fatalf("history len=%d want 3", got)
	}
}
