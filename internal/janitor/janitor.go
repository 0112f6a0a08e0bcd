// Package janitor implements background cleanup of abandoned staging
// objects (files/<hex-id>.stage.<hex-suffix> — transient write staging;
// any instance older than one hour is safe to garbage-collect). It is
// vault lifecycle tooling, not part of the core read/write path: the
// engine is correct without it, it only bounds storage growth from
// writers that crashed before Session.Close committed or aborted their
// staging object.
//
// A ticker-driven loop runs one cleanup cycle per tick and logs the
// outcome, built around ObjectStore.List plus an in-memory first-seen
// clock, since the abstract ObjectStore contract carries no
// object-modification-time field.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/axiomvault/vault/internal/objectstore"
)

// MaxStageAge is the age after which an untouched staging object is safe
// to delete.
const MaxStageAge = time.Hour

const stagingMarker = ".stage."

// Config holds the janitor's tunables.
type Config struct {
	Interval time.Duration
	MaxAge   time.Duration
	Logger   *slog.Logger
}

// Metrics accumulates counters for operational insight.
type Metrics struct {
	mu                  sync.Mutex
	Cycles              uint64
	Deleted             uint64
	CycleLastDurationMS int64
}

// MetricsView is a read-only snapshot safe to copy.
type MetricsView struct {
	Cycles              uint64
	Deleted             uint64
	CycleLastDurationMS int64
}

func (m *Metrics) addDeleted(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.Deleted += uint64(n)
	m.mu.Unlock()
}

func (m *Metrics) recordCycle(d time.Duration) {
	m.mu.Lock()
	m.Cycles++
	m.CycleLastDurationMS = d.Milliseconds()
	m.mu.Unlock()
}

// Janitor periodically sweeps "files/" for orphaned staging objects.
type Janitor struct {
	store   objectstore.Store
	cfg     Config
	metrics *Metrics

	firstSeenMu sync.Mutex
	firstSeen   map[string]time.Time

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Janitor over store.
func New(store objectstore.Store, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = MaxStageAge
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{
		store:     store,
		cfg:       cfg,
		metrics:   &Metrics{},
		firstSeen: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the janitor loop in a new goroutine.
func (j *Janitor) Start(ctx context.Context) {
	if j.ticker != nil {
		return
	}
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx)
}

// Stop signals the loop to exit and waits for it to finish.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopCh) })
	<-j.doneCh
}

// MetricsSnapshot returns a copy of current metrics.
func (j *Janitor) MetricsSnapshot() MetricsView {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()
	return MetricsView{
		Cycles:              j.metrics.Cycles,
		Deleted:             j.metrics.Deleted,
		CycleLastDurationMS: j.metrics.CycleLastDurationMS,
	}
}

func (j *Janitor) loop(ctx context.Context) {
	log := j.cfg.Logger.With("component", "janitor")
	defer func() {
		if j.ticker != nil {
			j.ticker.Stop()
		}
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			log.Info("janitor stop", "reason", "stop_signal")
			return
		case <-j.ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep of "files/" for staging objects older than
// cfg.MaxAge, deleting them. Exported so callers (and tests) can drive a
// cycle synchronously instead of waiting on the ticker.
func (j *Janitor) RunCycle(ctx context.Context) {
	start := time.Now()
	log := j.cfg.Logger.With("component", "janitor", "action", "cycle")

	keys, err := j.store.List(ctx, "files/")
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("list staging objects", "error", err)
		j.metrics.recordCycle(time.Since(start))
		return
	}

	now := time.Now()
	seenThisCycle := make(map[string]struct{}, len(keys))
	deleted := 0

	for _, key := range keys {
		if !strings.Contains(key, stagingMarker) {
			continue
		}
		seenThisCycle[key] = struct{}{}

		j.firstSeenMu.Lock()
		first, ok := j.firstSeen[key]
		if !ok {
			j.firstSeen[key] = now
			first = now
		}
		j.firstSeenMu.Unlock()

		if now.Sub(first) < j.cfg.MaxAge {
			continue
		}
		if err := j.store.Delete(ctx, key, nil); err != nil && !objectstore.IsNotFound(err) {
			log.Error("delete staging object", "key", key, "error", err)
			continue
		}
		deleted++
		j.firstSeenMu.Lock()
		delete(j.firstSeen, key)
		j.firstSeenMu.Unlock()
	}

	// Forget keys that disappeared between cycles (committed, or already
	// reaped by a concurrent janitor instance) so the first-seen map never
	// grows without bound.
	j.firstSeenMu.Lock()
	for key := range j.firstSeen {
		if _, ok := seenThisCycle[key]; !ok {
			delete(j.firstSeen, key)
		}
	}
	j.firstSeenMu.Unlock()

	j.metrics.addDeleted(deleted)
	j.metrics.recordCycle(time.Since(start))
	log.Info("cycle complete", "deleted", deleted, "ms", time.Since(start).Milliseconds())
}
