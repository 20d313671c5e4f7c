// Package navigator drives undo and redo over the operation timeline.
//
// Each editing session owns exactly one Navigator. The cursor is in-memory
// and never shared: two sessions on the same document read the same log and
// snapshots but keep independent undo state.
package navigator

import (
	"context"
	"errors"
	"sync"

	"github.com/teacurran/WireTuner-sub012/internal/document"
	"github.com/teacurran/WireTuner-sub012/internal/recorder"
	"github.com/teacurran/WireTuner-sub012/internal/storage"
)

// ErrNothingToUndo indicates an empty operation stack.
var ErrNothingToUndo = errors.New("nothing to undo")

// ErrNothingToRedo indicates an empty redo branch.
var ErrNothingToRedo = errors.New("nothing to redo")

// Replayer reconstructs document state at a sequence.
type Replayer interface {
	Reconstruct(ctx context.Context, documentID string, targetSeq int64) (document.Document, error)
}

// Pauser suppresses re-entrant recording while replayed state is pushed back
// into the editor.
type Pauser interface {
	Pause()
	Resume()
}

// ChangeKind tags navigator notifications.
type ChangeKind string

const (
	// ChangeUndo follows a completed undo.
	ChangeUndo ChangeKind = "undo"
	// ChangeRedo follows a completed redo.
	ChangeRedo ChangeKind = "redo"
)

// Change describes a cursor move delivered to observers.
type Change struct {
	Kind       ChangeKind
	DocumentID string
	Seq        int64
	Label      string
	State      document.Document
}

// Navigator is one session's cursor over a document's operation timeline.
type Navigator struct {
	documentID string
	replayer   Replayer
	rec        Pauser

	mu         sync.Mutex
	currentSeq int64
	undoStack  []storage.Operation
	redoStack  []storage.Operation
	subs       []func(Change)
}

// New creates a navigator positioned before any events.
func New(documentID string, replayer Replayer, rec Pauser) *Navigator {
	return &Navigator{
		documentID: documentID,
		replayer:   replayer,
		rec:        rec,
		currentSeq: -1,
	}
}

// LoadHistory seeds the operation stack from persisted operations, so a
// reopened session can undo work from earlier ones.
func (n *Navigator) LoadHistory(ctx context.Context, ops storage.OperationStore, upToSeq int64) error {
	closed, err := ops.ListOperations(ctx, n.documentID, upToSeq)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.undoStack = append(n.undoStack[:0], closed...)
	n.redoStack = nil
	if len(closed) > 0 {
		n.currentSeq = closed[len(closed)-1].EndSeq
	}
	n.mu.Unlock()
	return nil
}

// OnOperationClosed pushes a newly closed operation onto the undo stack.
// Wire it with grouping.Subscribe.
func (n *Navigator) OnOperationClosed(op storage.Operation) {
	if op.DocumentID != n.documentID {
		return
	}
	n.mu.Lock()
	n.undoStack = append(n.undoStack, op)
	if op.EndSeq > n.currentSeq {
		n.currentSeq = op.EndSeq
	}
	n.mu.Unlock()
}

// OnRecorded advances the cursor and invalidates the redo branch: new work
// supersedes forward history and the branch is not recoverable. Wire it with
// recorder.Subscribe.
func (n *Navigator) OnRecorded(rec recorder.Recorded) {
	if rec.Event.DocumentID != n.documentID {
		return
	}
	n.mu.Lock()
	n.redoStack = nil
	if rec.Event.Seq > n.currentSeq {
		n.currentSeq = rec.Event.Seq
	}
	n.mu.Unlock()
}

// Undo pops the most recent operation, rewinds to just before it, and
// returns the reconstructed state.
func (n *Navigator) Undo(ctx context.Context) (document.Document, error) {
	n.mu.Lock()
	if len(n.undoStack) == 0 {
		n.mu.Unlock()
		return document.Document{}, ErrNothingToUndo
	}
	op := n.undoStack[len(n.undoStack)-1]
	n.mu.Unlock()

	target := op.StartSeq - 1
	state, err := n.reconstruct(ctx, target)
	if err != nil {
		return document.Document{}, err
	}

	n.mu.Lock()
	n.undoStack = n.undoStack[:len(n.undoStack)-1]
	n.redoStack = append(n.redoStack, op)
	n.currentSeq = target
	n.mu.Unlock()

	n.notify(Change{
		Kind:       ChangeUndo,
		DocumentID: n.documentID,
		Seq:        target,
		Label:      op.Label,
		State:      state,
	})
	return state, nil
}

// Redo re-applies the most recently undone operation.
func (n *Navigator) Redo(ctx context.Context) (document.Document, error) {
	n.mu.Lock()
	if len(n.redoStack) == 0 {
		n.mu.Unlock()
		return document.Document{}, ErrNothingToRedo
	}
	op := n.redoStack[len(n.redoStack)-1]
	n.mu.Unlock()

	state, err := n.reconstruct(ctx, op.EndSeq)
	if err != nil {
		return document.Document{}, err
	}

	n.mu.Lock()
	n.redoStack = n.redoStack[:len(n.redoStack)-1]
	n.undoStack = append(n.undoStack, op)
	n.currentSeq = op.EndSeq
	n.mu.Unlock()

	n.notify(Change{
		Kind:       ChangeRedo,
		DocumentID: n.documentID,
		Seq:        op.EndSeq,
		Label:      op.Label,
		State:      state,
	})
	return state, nil
}

// CanUndo reports whether the operation stack is non-empty.
func (n *Navigator) CanUndo() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.undoStack) > 0
}

// CanRedo reports whether a redo branch exists.
func (n *Navigator) CanRedo() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.redoStack) > 0
}

// UndoLabel returns the label for the next undoable operation, for menu
// text.
func (n *Navigator) UndoLabel() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.undoStack) == 0 {
		return "", false
	}
	return n.undoStack[len(n.undoStack)-1].Label, true
}

// RedoLabel returns the label for the next redoable operation.
func (n *Navigator) RedoLabel() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.redoStack) == 0 {
		return "", false
	}
	return n.redoStack[len(n.redoStack)-1].Label, true
}

// CurrentSeq reports the cursor position. -1 means the empty initial state.
func (n *Navigator) CurrentSeq() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentSeq
}

// Subscribe registers an observer for cursor moves.
func (n *Navigator) Subscribe(fn func(Change)) {
	if n == nil || fn == nil {
		return
	}
	n.mu.Lock()
	n.subs = append(n.subs, fn)
	n.mu.Unlock()
}

// reconstruct rebuilds state with the recorder paused, so replayed changes
// pushed into the editor cannot loop back into the log.
func (n *Navigator) reconstruct(ctx context.Context, targetSeq int64) (document.Document, error) {
	if n.rec != nil {
		n.rec.Pause()
		defer n.rec.Resume()
	}
	return n.replayer.Reconstruct(ctx, n.documentID, targetSeq)
}

func (n *Navigator) notify(change Change) {
	n.mu.Lock()
	subs := make([]func(Change), len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()
	for _, fn := range subs {
		fn(change)
	}
}
