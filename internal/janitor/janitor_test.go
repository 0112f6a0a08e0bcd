package janitor

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/axiomvault/vault/internal/objectstore/memstore"
)

func TestRunCycleLeavesFreshStagingObjects(t *testing.T) {
	store := memstore.New()
	if _, err := store.Put(context.Background(), "files/abc.stage.1", strings.NewReader(""), nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	j := New(store, Config{Interval: time.Hour, MaxAge: time.Hour, Logger: slog.Default()})
	j.RunCycle(context.Background())

	mv := j.MetricsSnapshot()
	if mv.Deleted != 0 || mv.Cycles != 1 {
		t.Fatalf("expected no deletions on a fresh object, got %+v", mv)
	}
	if _, ok := store.RawBytes("files/abc.stage.1"); !ok {
		t.Fatalf("staging object was deleted prematurely")
	}
}

func TestRunCycleDeletesAgedStagingObjects(t *testing.T) {
	store := memstore.New()
	if _, err := store.Put(context.Background(), "files/abc.stage.1", strings.NewReader(""), nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	j := New(store, Config{Interval: time.Hour, MaxAge: time.Millisecond, Logger: slog.Default()})

	j.RunCycle(context.Background()) // first sight: starts the clock
	time.Sleep(5 * time.Millisecond)
	j.RunCycle(context.Background()) // now past MaxAge

	mv := j.MetricsSnapshot()
	if mv.Deleted != 1 || mv.Cycles != 2 {
		t.Fatalf("expected one deletion across two cycles, got %+v", mv)
	}
	if _, ok := store.RawBytes("files/abc.stage.1"); ok {
		t.Fatalf("staging object was not cleaned up")
	}
}

func TestRunCycleIgnoresCommittedContentObjects(t *testing.T) {
	store := memstore.New()
	if _, err := store.Put(context.Background(), "files/abc", strings.NewReader(""), nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	j := New(store, Config{Interval: time.Hour, MaxAge: time.Millisecond, Logger: slog.Default()})

	j.RunCycle(context.Background())
	time.Sleep(5 * time.Millisecond)
	j.RunCycle(context.Background())

	if _, ok := store.RawBytes("files/abc"); !ok {
		t.Fatalf("committed content object must never be swept")
	}
}

func TestRunCycleForgetsKeysThatDisappear(t *testing.T) {
	store := memstore.New()
	if _, err := store.Put(context.Background(), "files/abc.stage.1", strings.NewReader(""), nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	j := New(store, Config{Interval: time.Hour, MaxAge: time.Hour, Logger: slog.Default()})
	j.RunCycle(context.Background())

	if err := store.Delete(context.Background(), "files/abc.stage.1", nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	j.RunCycle(context.Background())

	j.firstSeenMu.Lock()
	n := len(j.firstSeen)
	j.firstSeenMu.Unlock()
	if n != 0 {
		t.Fatalf("expected first-seen map to be forgotten, got %d entries", n)
	}
}

func TestStartStopLoop(t *testing.T) {
	store := memstore.New()
	j := New(store, Config{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	j.Stop()
	cancel()

	mv := j.MetricsSnapshot()
	if mv.Cycles == 0 {
		t.Fatalf("expected at least one cycle")
	}
}

func TestNewDefaults(t *testing.T) {
	store := memstore.New()
	j := New(store, Config{})
	if j.cfg.Interval <= 0 || j.cfg.Logger == nil || j.cfg.MaxAge != MaxStageAge {
		t.Fatalf("defaults not applied: %+v", j.cfg)
	}
}

func TestStartAlreadyStarted(t *testing.T) {
	store := memstore.New()
	j := New(store, Config{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)
	tkr := j.ticker
	j.Start(ctx)
	if j.ticker != tkr {
		t.Fatalf("ticker replaced unexpectedly")
	}
	j.Stop()
}
