// Package snapshot decides when to materialize compressed full-state
// snapshots and writes them.
//
// Snapshot creation is deliberately off the synchronous recording path: the
// manager is handed a point-in-time reconstructed state, so heavy
// serialization and compression never add latency to input handling.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/teacurran/WireTuner-sub012/internal/document"
	"github.com/teacurran/WireTuner-sub012/internal/storage"
	"github.com/teacurran/WireTuner-sub012/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// CompressionGzip is the only compression kind written by this build.
const CompressionGzip = "gzip"

// Config tunes the snapshot cadence and size guards.
type Config struct {
	// BaseInterval is the event-count cadence. The canonical value was
	// never pinned down upstream (500 vs 1000), so it stays configurable.
	BaseInterval int64
	// IdleTimer forces a snapshot when this much wall-clock time passed
	// since the last one and new events exist.
	IdleTimer time.Duration
	// BurstRate is the events/sec above which the interval halves.
	BurstRate float64
	// IdleRate is the events/sec below which the interval doubles.
	IdleRate float64
	// RateWindow is the rolling window for the event-rate estimate.
	RateWindow time.Duration
	// WarnSize logs a warning for serialized states above it.
	WarnSize int64
	// MaxSize rejects serialized states above it with TooLargeError.
	MaxSize int64
}

// Defaults for Config fields left zero.
const (
	DefaultBaseInterval       = 500
	DefaultIdleTimer          = 10 * time.Minute
	DefaultBurstRate          = 20.0
	DefaultIdleRate           = 1.0
	DefaultRateWindow         = 30 * time.Second
	DefaultWarnSize     int64 = 8 << 20
	DefaultMaxSize      int64 = 64 << 20
)

func (c Config) withDefaults() Config {
	if c.BaseInterval <= 0 {
		c.BaseInterval = DefaultBaseInterval
	}
	if c.IdleTimer <= 0 {
		c.IdleTimer = DefaultIdleTimer
	}
	if c.BurstRate <= 0 {
		c.BurstRate = DefaultBurstRate
	}
	if c.IdleRate <= 0 {
		c.IdleRate = DefaultIdleRate
	}
	if c.RateWindow <= 0 {
		c.RateWindow = DefaultRateWindow
	}
	if c.WarnSize <= 0 {
		c.WarnSize = DefaultWarnSize
	}
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	return c
}

// TooLargeError reports a serialized state over the hard memory guard. The
// snapshot is skipped and recording continues unsnapshotted.
type TooLargeError struct {
	Size int64
	Max  int64
}

func (e TooLargeError) Error() string {
	return fmt.Sprintf("snapshot state is %d bytes, above the %d byte limit", e.Size, e.Max)
}

// Backlog exposes outstanding snapshot work for observability.
type Backlog struct {
	PendingSnapshots    int
	EventsSinceSnapshot int64
}

// Manager tracks snapshot cadence for one document.
type Manager struct {
	cfg     Config
	snaps   storage.SnapshotStore
	metrics *telemetry.Metrics
	now     func() time.Time

	mu              sync.Mutex
	lastSnapshotSeq int64
	lastSnapshotAt  time.Time
	lastObservedSeq int64
	manual          bool
	pending         int
	recent          []time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time measurement.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a snapshot manager writing into snaps.
func NewManager(snaps storage.SnapshotStore, metrics *telemetry.Metrics, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:             cfg.withDefaults(),
		snaps:           snaps,
		metrics:         metrics,
		now:             time.Now,
		lastObservedSeq: -1,
		lastSnapshotSeq: -1,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastSnapshotAt = m.now()
	return m
}

// ObserveEvent feeds the rolling rate estimate. Call it for every recorded
// event.
func (m *Manager) ObserveEvent(seq int64) {
	now := m.now()
	m.mu.Lock()
	if seq > m.lastObservedSeq {
		m.lastObservedSeq = seq
	}
	m.recent = append(m.recent, now)
	m.trimRecentLocked(now)
	m.mu.Unlock()
}

// RequestManual arms a manual-save or pre-migration trigger. The next
// ShouldSnapshot call returns true regardless of cadence.
func (m *Manager) RequestManual() {
	m.mu.Lock()
	m.manual = true
	m.mu.Unlock()
}

// EffectiveInterval is the base interval scaled by the current event rate:
// halved under burst, doubled when idle.
func (m *Manager) EffectiveInterval() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveIntervalLocked(m.now())
}

// ShouldSnapshot reports whether a snapshot is due at currentSeq.
func (m *Manager) ShouldSnapshot(currentSeq int64) bool {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.manual {
		return true
	}
	// A fresh document counts the interval from sequence 0, so the first
	// snapshot lands exactly at the interval boundary.
	base := m.lastSnapshotSeq
	if base < 0 {
		base = 0
	}
	if currentSeq-base >= m.effectiveIntervalLocked(now) {
		return true
	}
	if now.Sub(m.lastSnapshotAt) > m.cfg.IdleTimer && currentSeq > m.lastSnapshotSeq {
		return true
	}
	return false
}

// Create serializes, guards, compresses, and persists a snapshot of state at
// seq. state must be a point-in-time copy; the manager never touches live
// editor state.
func (m *Manager) Create(ctx context.Context, state document.Document, seq int64) (storage.Snapshot, error) {
	tracer := otel.Tracer("snapshot")
	ctx, span := tracer.Start(ctx, "snapshot.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", state.ID),
		attribute.Int64("document.seq", seq),
	)

	m.mu.Lock()
	m.pending++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.pending--
		m.mu.Unlock()
	}()

	start := m.now()

	data, err := json.Marshal(state)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("serialize snapshot state: %w", err)
	}
	size := int64(len(data))
	if size > m.cfg.MaxSize {
		m.metrics.SnapshotSkipped()
		return storage.Snapshot{}, TooLargeError{Size: size, Max: m.cfg.MaxSize}
	}
	if size > m.cfg.WarnSize {
		log.Printf("snapshot: document %s state is %d bytes at seq %d", state.ID, size, seq)
	}

	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	if _, err := gzw.Write(data); err != nil {
		return storage.Snapshot{}, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return storage.Snapshot{}, fmt.Errorf("compress snapshot: %w", err)
	}

	snap := storage.Snapshot{
		DocumentID:       state.ID,
		Seq:              seq,
		CompressedState:  buf.Bytes(),
		CompressionKind:  CompressionGzip,
		UncompressedSize: size,
		CreatedAt:        m.now().UTC(),
	}
	if err := m.snaps.PutSnapshot(ctx, snap); err != nil {
		return storage.Snapshot{}, fmt.Errorf("persist snapshot: %w", err)
	}

	took := m.now().Sub(start)
	m.metrics.SnapshotCreated(size, took)

	m.mu.Lock()
	if seq > m.lastSnapshotSeq {
		m.lastSnapshotSeq = seq
	}
	m.lastSnapshotAt = m.now()
	m.manual = false
	m.mu.Unlock()

	return snap, nil
}

// Backlog reports outstanding snapshot work.
func (m *Manager) Backlog() Backlog {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.lastObservedSeq - m.lastSnapshotSeq
	if events < 0 {
		events = 0
	}
	return Backlog{
		PendingSnapshots:    m.pending,
		EventsSinceSnapshot: events,
	}
}

func (m *Manager) effectiveIntervalLocked(now time.Time) int64 {
	m.trimRecentLocked(now)
	windowSeconds := m.cfg.RateWindow.Seconds()
	rate := float64(len(m.recent)) / windowSeconds

	interval := m.cfg.BaseInterval
	switch {
	case rate >= m.cfg.BurstRate:
		interval /= 2
	case rate < m.cfg.IdleRate:
		interval *= 2
	}
	if interval < 1 {
		interval = 1
	}
	return interval
}

func (m *Manager) trimRecentLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.RateWindow)
	trim := 0
	for trim < len(m.recent) && m.recent[trim].Before(cutoff) {
		trim++
	}
	if trim > 0 {
		m.recent = append(m.recent[:0], m.recent[trim:]...)
	}
}
