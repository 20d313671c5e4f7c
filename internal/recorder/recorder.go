// Package recorder is the public ingress for all document change events.
//
// Recording is asynchronous and non-blocking: Record returns immediately and
// persistence happens on a background queue with one consuming worker per
// document, which preserves strict sequence ordering. Persistence failures
// are logged and counted, never propagated to the interactive caller.
package recorder

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teacurran/WireTuner-sub012/internal/event"
	"github.com/teacurran/WireTuner-sub012/internal/sampler"
	"github.com/teacurran/WireTuner-sub012/internal/storage"
	"github.com/teacurran/WireTuner-sub012/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Mode gates the recorder boundary. Replay-driven reconstruction switches to
// ModeReplaying so re-applied state changes cannot feed back into the log.
type Mode int32

const (
	// ModeRecording accepts and persists input.
	ModeRecording Mode = iota
	// ModeReplaying silently discards input.
	ModeReplaying
)

// DefaultQueueSize bounds each document's pending-write queue.
const DefaultQueueSize = 256

// Recorded is delivered to subscribers after an event commits, carrying the
// grouping context alongside the stored event.
type Recorded struct {
	Event         event.Event
	ContextID     string
	Label         string
	EndsOperation bool
}

type queued struct {
	in  event.Input
	evt event.Event
}

// Recorder routes input through the sampler onto per-document write queues.
type Recorder struct {
	store     storage.EventStore
	metrics   *telemetry.Metrics
	sampler   *sampler.Sampler
	queueSize int
	now       func() time.Time

	mode atomic.Int32

	mu       sync.Mutex
	queues   map[string]chan queued
	subs     []func(Recorded)
	closed   bool
	group    errgroup.Group
	inflight sync.WaitGroup
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithQueueSize overrides the per-document queue bound.
func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithSamplerWindow overrides the sampling window.
func WithSamplerWindow(window time.Duration) Option {
	return func(r *Recorder) {
		r.sampler = sampler.New(window, r.enqueue)
	}
}

// WithClock overrides event timestamping.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a recorder persisting into store.
func New(store storage.EventStore, metrics *telemetry.Metrics, opts ...Option) *Recorder {
	r := &Recorder{
		store:     store,
		metrics:   metrics,
		queueSize: DefaultQueueSize,
		now:       time.Now,
		queues:    make(map[string]chan queued),
	}
	r.sampler = sampler.New(sampler.DefaultWindow, r.enqueue)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record submits one change event. It returns immediately; if the recorder
// is replaying, the event is silently discarded.
func (r *Recorder) Record(in event.Input) {
	if r == nil {
		return
	}
	if r.Mode() == ModeReplaying {
		return
	}
	r.sampler.Submit(in)
}

// Pause switches to ModeReplaying. Pausing does not flush buffered input.
func (r *Recorder) Pause() {
	r.mode.Store(int32(ModeReplaying))
}

// Resume switches back to ModeRecording.
func (r *Recorder) Resume() {
	r.mode.Store(int32(ModeRecording))
}

// Mode reports the current recorder mode.
func (r *Recorder) Mode() Mode {
	return Mode(r.mode.Load())
}

// Subscribe registers a callback invoked after each committed event.
// Callbacks run on the document's writer goroutine and must not block.
func (r *Recorder) Subscribe(fn func(Recorded)) {
	if r == nil || fn == nil {
		return
	}
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

// Flush forces buffered sampler state through and waits until every queued
// event has committed or failed.
func (r *Recorder) Flush(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.sampler.Flush()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes, stops the writer goroutines, and waits for them.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.sampler.Flush()
	r.inflight.Wait()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, ch := range r.queues {
		close(ch)
	}
	r.mu.Unlock()

	return r.group.Wait()
}

// enqueue receives sampled input, stamps it into an event, and hands it to
// the document's writer.
func (r *Recorder) enqueue(in event.Input) {
	evt, err := event.New(in, r.now())
	if err != nil {
		log.Printf("recorder: drop unencodable event for document %s: %v", in.DocumentID, err)
		r.metrics.RecordFailure()
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		log.Printf("recorder: drop event for document %s: recorder is closed", in.DocumentID)
		return
	}
	ch, ok := r.queues[in.DocumentID]
	if !ok {
		ch = make(chan queued, r.queueSize)
		r.queues[in.DocumentID] = ch
		r.group.Go(func() error {
			r.writeLoop(ch)
			return nil
		})
	}
	r.inflight.Add(1)
	r.mu.Unlock()

	ch <- queued{in: in, evt: evt}
}

// writeLoop is the single writer for one document's queue.
func (r *Recorder) writeLoop(ch chan queued) {
	for item := range ch {
		stored, err := r.store.AppendEvent(context.Background(), item.evt)
		if err != nil {
			log.Printf("recorder: persist event for document %s: %v", item.evt.DocumentID, err)
			r.metrics.RecordFailure()
			r.inflight.Done()
			continue
		}
		r.metrics.EventRecorded()
		r.notify(Recorded{
			Event:         stored,
			ContextID:     item.in.ContextID,
			Label:         item.in.Label,
			EndsOperation: item.in.EndsOperation,
		})
		r.inflight.Done()
	}
}

func (r *Recorder) notify(rec Recorded) {
	r.mu.Lock()
	subs := make([]func(Recorded), len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()
	for _, fn := range subs {
		fn(rec)
	}
}
