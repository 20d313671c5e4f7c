// Package grouping clusters recorded events into labeled, atomic operations.
//
// An operation opens on the first event of a run for a tool context and
// closes on an explicit end marker or after the idle window expires. Closed
// operations are immutable and persisted for undo history.
package grouping

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/teacurran/WireTuner-sub012/internal/id"
	"github.com/teacurran/WireTuner-sub012/internal/recorder"
	"github.com/teacurran/WireTuner-sub012/internal/storage"
)

// DefaultIdleWindow closes an open operation after input goes quiet.
const DefaultIdleWindow = 200 * time.Millisecond

// ErrOperationOpen signals a missing-close bug: a new operation tried to
// open while one was still open for the same context.
var ErrOperationOpen = errors.New("operation already open for context")

// fallbackLabel names operations whose events carried no label.
const fallbackLabel = "Edit"

type openOperation struct {
	op    storage.Operation
	timer *time.Timer
}

// Grouper maintains at most one open operation per tool context.
type Grouper struct {
	idle  time.Duration
	store storage.OperationStore

	mu   sync.Mutex
	open map[string]*openOperation
	subs []func(storage.Operation)
}

// Option configures a Grouper.
type Option func(*Grouper)

// WithIdleWindow overrides the idle-close window.
func WithIdleWindow(idle time.Duration) Option {
	return func(g *Grouper) {
		if idle > 0 {
			g.idle = idle
		}
	}
}

// New creates a grouper persisting closed operations into store.
func New(store storage.OperationStore, opts ...Option) *Grouper {
	g := &Grouper{
		idle:  DefaultIdleWindow,
		store: store,
		open:  make(map[string]*openOperation),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Begin explicitly opens an operation for a context. Most tools let the
// first event auto-open instead; Begin exists for tools that know the label
// before any event fires, and it surfaces the missing-close defect.
func (g *Grouper) Begin(contextID, label string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.open[contextID]; ok {
		return ErrOperationOpen
	}
	g.open[contextID] = &openOperation{op: newOperation(label)}
	return nil
}

// Observe consumes the recorder's output stream. Wire it with
// recorder.Subscribe.
func (g *Grouper) Observe(rec recorder.Recorded) {
	g.mu.Lock()
	current, ok := g.open[rec.ContextID]
	if !ok {
		label := rec.Label
		if label == "" {
			label = fallbackLabel
		}
		current = &openOperation{op: newOperation(label)}
		g.open[rec.ContextID] = current
	}

	if current.op.DocumentID == "" {
		current.op.DocumentID = rec.Event.DocumentID
	}
	if current.op.StartSeq < 0 {
		current.op.StartSeq = rec.Event.Seq
	}
	current.op.EndSeq = rec.Event.Seq

	if rec.EndsOperation {
		op, closed := g.closeLocked(rec.ContextID)
		g.mu.Unlock()
		if closed {
			g.finish(op)
		}
		return
	}

	if current.timer != nil {
		current.timer.Stop()
	}
	contextID := rec.ContextID
	current.timer = time.AfterFunc(g.idle, func() { g.End(contextID) })
	g.mu.Unlock()
}

// End closes the open operation for a context. Closing an idle context is a
// no-op. The idle timer lands here too.
func (g *Grouper) End(contextID string) {
	g.mu.Lock()
	op, closed := g.closeLocked(contextID)
	g.mu.Unlock()
	if closed {
		g.finish(op)
	}
}

// Subscribe registers a callback for closed operations.
func (g *Grouper) Subscribe(fn func(storage.Operation)) {
	if g == nil || fn == nil {
		return
	}
	g.mu.Lock()
	g.subs = append(g.subs, fn)
	g.mu.Unlock()
}

// Close closes every open operation.
func (g *Grouper) Close() {
	g.mu.Lock()
	var closed []storage.Operation
	for contextID := range g.open {
		if op, ok := g.closeLocked(contextID); ok {
			closed = append(closed, op)
		}
	}
	g.mu.Unlock()
	for _, op := range closed {
		g.finish(op)
	}
}

func newOperation(label string) storage.Operation {
	return storage.Operation{
		ID:       id.New(),
		Label:    label,
		StartSeq: -1,
		EndSeq:   -1,
	}
}

// closeLocked removes the open operation for contextID and reports whether
// it recorded any events. Callers hold mu and notify outside the lock.
func (g *Grouper) closeLocked(contextID string) (storage.Operation, bool) {
	current, ok := g.open[contextID]
	if !ok {
		return storage.Operation{}, false
	}
	delete(g.open, contextID)
	if current.timer != nil {
		current.timer.Stop()
	}
	if current.op.StartSeq < 0 {
		// Explicit Begin with no events; nothing to record.
		return storage.Operation{}, false
	}
	return current.op, true
}

// finish persists a closed operation and notifies subscribers.
func (g *Grouper) finish(op storage.Operation) {
	if g.store != nil {
		if err := g.store.PutOperation(context.Background(), op); err != nil {
			log.Printf("grouping: persist operation %s: %v", op.ID, err)
		}
	}

	g.mu.Lock()
	subs := make([]func(storage.Operation), len(g.subs))
	copy(subs, g.subs)
	g.mu.Unlock()

	for _, fn := range subs {
		fn(op)
	}
}
