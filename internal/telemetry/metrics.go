// Package telemetry provides the operational metrics sink for the history
// engine. Recorder, snapshot manager, replayer, and exporter all take an
// injected *Metrics; a nil sink disables collection.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's counters and histograms.
type Metrics struct {
	enabled bool

	eventsRecorded   prometheus.Counter
	recordFailures   prometheus.Counter
	snapshotsCreated prometheus.Counter
	snapshotsSkipped prometheus.Counter
	corruptSnapshots prometheus.Counter
	eventsReplayed   prometheus.Counter

	snapshotBytes    prometheus.Histogram
	snapshotDuration prometheus.Histogram
	replayDuration   prometheus.Histogram
}

// NewMetrics registers the engine collectors. A nil registerer returns a
// disabled sink, which keeps tests and headless tools quiet.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	if reg == nil {
		return m, nil
	}
	m.enabled = true

	var err error
	if m.eventsRecorded, err = newCounter(reg,
		"history_events_recorded_total", "Count of events persisted to the log"); err != nil {
		return nil, err
	}
	if m.recordFailures, err = newCounter(reg,
		"history_record_failures_total", "Count of recording-path persistence failures"); err != nil {
		return nil, err
	}
	if m.snapshotsCreated, err = newCounter(reg,
		"history_snapshots_created_total", "Count of snapshots persisted"); err != nil {
		return nil, err
	}
	if m.snapshotsSkipped, err = newCounter(reg,
		"history_snapshots_skipped_total", "Count of snapshots skipped by the size guard"); err != nil {
		return nil, err
	}
	if m.corruptSnapshots, err = newCounter(reg,
		"history_corrupt_snapshots_total", "Count of snapshots that failed integrity validation on load"); err != nil {
		return nil, err
	}
	if m.eventsReplayed, err = newCounter(reg,
		"history_events_replayed_total", "Count of events re-applied during reconstruction"); err != nil {
		return nil, err
	}

	m.snapshotBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "history_snapshot_bytes",
		Help:    "Uncompressed snapshot size in bytes",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})
	if err := reg.Register(m.snapshotBytes); err != nil {
		return nil, err
	}
	m.snapshotDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "history_snapshot_duration_seconds",
		Help:    "Snapshot serialize+compress+persist duration",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	if err := reg.Register(m.snapshotDuration); err != nil {
		return nil, err
	}
	m.replayDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "history_replay_duration_seconds",
		Help:    "State reconstruction duration",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	if err := reg.Register(m.replayDuration); err != nil {
		return nil, err
	}

	return m, nil
}

func newCounter(reg prometheus.Registerer, name, help string) (prometheus.Counter, error) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// EventRecorded counts one persisted event.
func (m *Metrics) EventRecorded() {
	if m == nil || !m.enabled {
		return
	}
	m.eventsRecorded.Inc()
}

// RecordFailure counts a recording-path persistence failure. These are
// logged and counted, never surfaced to interactive callers.
func (m *Metrics) RecordFailure() {
	if m == nil || !m.enabled {
		return
	}
	m.recordFailures.Inc()
}

// SnapshotCreated records a persisted snapshot with its size and duration.
func (m *Metrics) SnapshotCreated(uncompressedBytes int64, took time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.snapshotsCreated.Inc()
	m.snapshotBytes.Observe(float64(uncompressedBytes))
	m.snapshotDuration.Observe(took.Seconds())
}

// SnapshotSkipped counts a snapshot rejected by the hard size guard.
func (m *Metrics) SnapshotSkipped() {
	if m == nil || !m.enabled {
		return
	}
	m.snapshotsSkipped.Inc()
}

// CorruptSnapshot counts a snapshot that failed validation on load.
func (m *Metrics) CorruptSnapshot() {
	if m == nil || !m.enabled {
		return
	}
	m.corruptSnapshots.Inc()
}

// ReplayObserved records a completed reconstruction.
func (m *Metrics) ReplayObserved(events int, took time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.eventsReplayed.Add(float64(events))
	m.replayDuration.Observe(took.Seconds())
}
