package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/minio/minio-go/v7"
)

type fakeModel struct {
	Value   float64 `json:"value"`
	failOn  string
	restore int
}

func (f *fakeModel) MarshalCheckpoint() ([]byte, error) {
	return json.Marshal(map[string]float64{"value": f.Value})
}

func (f *fakeModel) RestoreCheckpoint(b []byte) error {
	var p map[string]float64
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if f.failOn != "" {
		return errors.New(f.failOn)
	}
	f.Value = p["value"]
	f.restore++
	return nil
}

var fixedNow = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func TestSealUnseal(t *testing.T) {
	b, err := Seal("m", []byte(`{ "a": 1 }`), fixedNow())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	payload, savedAt, err := Unseal("m", b)
	if err != nil {
		t.Fatalf("unseal: %v", err)
	}
	if string(payload) != `{"a":1}` {
		t.Fatalf("payload=%s", payload)
	}
	if !savedAt.Equal(fixedNow()) {
		t.Fatalf("saved_at=%v", savedAt)
	}

	if _, _, err := Unseal("other", b); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("wrong model err=%v", err)
	}
	tampered := strings.Replace(string(b), `"a":1`, `"a":2`, 1)
	if _, _, err := Unseal("m", []byte(tampered)); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("tampered err=%v", err)
	}
	if _, _, err := Unseal("m", []byte("garbage")); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("garbage err=%v", err)
	}
	if _, err := Seal("m", []byte("not json"), fixedNow()); err == nil {
		t.Fatalf("expected seal error for non-JSON payload")
	}
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := t.Context()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err=%v", err)
	}
	if err := s.Put(ctx, "m", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "m", []byte("v2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "m")
	if err != nil || string(got) != "v2" {
		t.Fatalf("get=%q err=%v", got, err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("leftover temp files: %v", entries)
	}
}

func newMini(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	s, err := NewRedisStore(ctx, mr.Addr(), "test:")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore(t *testing.T) {
	s := newMini(t)
	ctx := t.Context()
	if _, err := s.Get(ctx, "m"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err=%v", err)
	}
	if err := s.Put(ctx, "m", []byte("payload")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "m")
	if err != nil || string(got) != "payload" {
		t.Fatalf("get=%q err=%v", got, err)
	}
}

func TestRedisStoreRequiresAddr(t *testing.T) {
	if _, err := NewRedisStore(t.Context(), "", ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestManagerSaveLoad(t *testing.T) {
	s := newMini(t)
	var ops []string
	m := NewManager(s, ManagerOptions{
		Now: fixedNow,
		Observer: func(model, op string, err error) {
			res := "ok"
			if err != nil {
				res = "error"
			}
			ops = append(ops, model+":"+op+":"+res)
		},
	})
	ctx := t.Context()

	dst := &fakeModel{Value: -1}
	if err := m.Load(ctx, "m", dst); !errors.Is(err, ErrNotFound) {
		t.Fatalf("load missing err=%v", err)
	}
	if dst.Value != -1 {
		t.Fatalf("missing checkpoint mutated model")
	}

	if err := m.Save(ctx, "m", &fakeModel{Value: 3.5}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := m.Load(ctx, "m", dst); err != nil {
		t.Fatalf("load: %v", err)
	}
	if dst.Value != 3.5 || dst.restore != 1 {
		t.Fatalf("value=%v restores=%d", dst.Value, dst.restore)
	}

	bad := &fakeModel{failOn: "shape mismatch"}
	if err := m.Load(ctx, "m", bad); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("bad restore err=%v", err)
	}

	want := []string{"m:save:ok", "m:load:ok", "m:load:error"}
	if strings.Join(ops, ",") != strings.Join(want, ",") {
		t.Fatalf("observed %v want %v", ops, want)
	}
}

func TestMinIONoSuchKey(t *testing.T) {
	if !isNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}) {
		t.Fatalf("NoSuchKey not detected")
	}
	if isNoSuchKey(errors.New("boom")) {
		t.Fatalf("plain error reported as NoSuchKey")
	}
	if _, err := NewMinIOStore(t.Context(), MinIOConfig{Bucket: "b"}); err == nil {
		t.Fatalf("expected endpoint error")
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open(t.Context(), BackendConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open file backend: %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Fatalf("store=%T want *FileStore", s)
	}
	if _, err := Open(t.Context(), BackendConfig{Backend: "tape"}); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestOpenRedisAppliesTimeouts(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := Open(t.Context(), BackendConfig{
		Backend:           "redis",
		RedisAddr:         mr.Addr(),
		RedisDialTimeout:  750 * time.Millisecond,
		RedisReadTimeout:  300 * time.Millisecond,
		RedisWriteTimeout: 400 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("open redis backend: %v", err)
	}
	rs, ok := s.(*RedisStore)
	if !ok {
		t.Fatalf("store=%T want *RedisStore", s)
	}
	t.Cleanup(func() { _ = rs.Close() })

	o := rs.rdb.Options()
	if o.DialTimeout != 750*time.Millisecond || o.ReadTimeout != 300*time.Millisecond || o.WriteTimeout != 400*time.Millisecond {
		t.Fatalf("timeouts dial=%v read=%v write=%v", o.DialTimeout, o.ReadTimeout, o.WriteTimeout)
	}
	if rs.prefix != "stream-optimizer:checkpoint:" {
		t.Fatalf("prefix=%q", rs.prefix)
	}

	// zero values keep the store defaults
	d, err := NewRedisStore(t.Context(), mr.Addr(), "", BackendConfig{}.redisOptions()...)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if got := d.rdb.Options().ReadTimeout; got != 2*time.Second {
		t.Fatalf("default read timeout=%v", got)
	}
}
