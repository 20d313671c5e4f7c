// Package session wires the history engine together for one open document.
//
// A session owns its navigator cursor exclusively. Multiple sessions may be
// open on the same store concurrently; they share the log and snapshots but
// never each other's undo state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/teacurran/WireTuner-sub012/internal/document"
	"github.com/teacurran/WireTuner-sub012/internal/event"
	"github.com/teacurran/WireTuner-sub012/internal/grouping"
	"github.com/teacurran/WireTuner-sub012/internal/navigator"
	"github.com/teacurran/WireTuner-sub012/internal/recorder"
	"github.com/teacurran/WireTuner-sub012/internal/replay"
	"github.com/teacurran/WireTuner-sub012/internal/snapshot"
	"github.com/teacurran/WireTuner-sub012/internal/storage"
	"github.com/teacurran/WireTuner-sub012/internal/telemetry"
)

// Store is the full persistence surface a session needs.
type Store interface {
	storage.EventStore
	storage.DocumentStore
	storage.SnapshotStore
	storage.OperationStore
}

// Config tunes a session's components. Zero values fall back to defaults.
type Config struct {
	Snapshot      snapshot.Config
	SamplerWindow time.Duration
	IdleWindow    time.Duration
}

// Session is one editing window's view of a document's history.
type Session struct {
	DocumentID string

	Recorder  *recorder.Recorder
	Grouper   *grouping.Grouper
	Snapshots *snapshot.Manager
	Replayer  *replay.Replayer
	Navigator *navigator.Navigator

	store Store

	mu           sync.Mutex
	snapshotting bool
	background   sync.WaitGroup
}

// Open creates a session over an existing document and seeds its undo
// history from persisted operations.
func Open(ctx context.Context, store Store, documentID string, metrics *telemetry.Metrics, cfg Config) (*Session, error) {
	if _, err := store.GetDocument(ctx, documentID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, storage.ErrDocumentNotFound
		}
		return nil, err
	}

	replayer := replay.New(store, store, metrics)
	rec := recorder.New(store, metrics, recorder.WithSamplerWindow(cfg.SamplerWindow))
	grouper := grouping.New(store, grouping.WithIdleWindow(cfg.IdleWindow))
	manager := snapshot.NewManager(store, metrics, cfg.Snapshot)
	nav := navigator.New(documentID, replayer, rec)

	latest, err := store.LatestSeq(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := nav.LoadHistory(ctx, store, latest); err != nil {
		return nil, err
	}

	s := &Session{
		DocumentID: documentID,
		Recorder:   rec,
		Grouper:    grouper,
		Snapshots:  manager,
		Replayer:   replayer,
		Navigator:  nav,
		store:      store,
	}

	rec.Subscribe(grouper.Observe)
	rec.Subscribe(nav.OnRecorded)
	rec.Subscribe(s.onRecorded)
	grouper.Subscribe(nav.OnOperationClosed)

	return s, nil
}

// Record submits one change event for this session's document.
func (s *Session) Record(in event.Input) {
	in.DocumentID = s.DocumentID
	s.Recorder.Record(in)
}

// Undo rewinds the most recent operation.
func (s *Session) Undo(ctx context.Context) (document.Document, error) {
	return s.Navigator.Undo(ctx)
}

// Redo re-applies the most recently undone operation.
func (s *Session) Redo(ctx context.Context) (document.Document, error) {
	return s.Navigator.Redo(ctx)
}

// SaveCheckpoint forces a manual snapshot at the latest sequence. File-save
// flows call this after flushing pending input.
func (s *Session) SaveCheckpoint(ctx context.Context) error {
	if err := s.Recorder.Flush(ctx); err != nil {
		return err
	}
	latest, err := s.store.LatestSeq(ctx, s.DocumentID)
	if err != nil {
		return err
	}
	if latest < 0 {
		return nil
	}
	s.Snapshots.RequestManual()
	state, err := s.Replayer.Reconstruct(ctx, s.DocumentID, latest)
	if err != nil {
		return err
	}
	if _, err := s.Snapshots.Create(ctx, state, latest); err != nil {
		return fmt.Errorf("checkpoint snapshot: %w", err)
	}
	return nil
}

// Close flushes pending input, closes open operations, and waits for
// background snapshot work.
func (s *Session) Close(ctx context.Context) error {
	if err := s.Recorder.Flush(ctx); err != nil {
		return err
	}
	s.Grouper.Close()
	if err := s.Recorder.Close(); err != nil {
		return err
	}
	s.background.Wait()
	return nil
}

// onRecorded feeds the snapshot cadence and kicks off background snapshot
// creation when one is due. Snapshot input is a point-in-time state
// reconstructed from the committed log, never the live editor state, so it
// cannot observe a torn document.
func (s *Session) onRecorded(rec recorder.Recorded) {
	seq := rec.Event.Seq
	s.Snapshots.ObserveEvent(seq)
	if !s.Snapshots.ShouldSnapshot(seq) {
		return
	}

	s.mu.Lock()
	if s.snapshotting {
		s.mu.Unlock()
		return
	}
	s.snapshotting = true
	s.background.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.snapshotting = false
			s.mu.Unlock()
			s.background.Done()
		}()

		ctx := context.Background()
		state, err := s.Replayer.Reconstruct(ctx, s.DocumentID, seq)
		if err != nil {
			log.Printf("session: reconstruct for snapshot at seq %d: %v", seq, err)
			return
		}
		if _, err := s.Snapshots.Create(ctx, state, seq); err != nil {
			var tooLarge snapshot.TooLargeError
			if errors.As(err, &tooLarge) {
				log.Printf("session: snapshot skipped at seq %d: %v", seq, err)
				return
			}
			log.Printf("session: create snapshot at seq %d: %v", seq, err)
		}
	}()
}
