package storage

import (
	"context"
	"sync"

	"github.com/phanngoc/notebooklm/pkg/common"
)

// Workspace bundles the four stores of one namespace and drives their
// lifecycle together. It admits one kind of session at a time: a query
// cannot open while an insert bracket is still running, so readers see
// either the pre-insert state or the fully merged batch, never a
// half-written one. Sessions of the same kind share the open store
// session through a refcount.
type Workspace struct {
	Namespace common.Namespace

	Vector VectorStore
	Graph  GraphStore
	KV     KVStore
	Blob   BlobStore

	mu      sync.Mutex
	inserts int
	queries int
	settled chan struct{}
}

func (w *Workspace) stores() []Lifecycle {
	return []Lifecycle{w.Vector, w.Graph, w.KV, w.Blob}
}

// settledLocked returns a channel closed on the next session-count
// change. Callers must hold mu.
func (w *Workspace) settledLocked() chan struct{} {
	if w.settled == nil {
		w.settled = make(chan struct{})
	}
	return w.settled
}

func (w *Workspace) wakeLocked() {
	if w.settled != nil {
		close(w.settled)
		w.settled = nil
	}
}

// waitLocked blocks until the session counts change or ctx ends. It
// releases mu while waiting and reacquires it before returning.
func (w *Workspace) waitLocked(ctx context.Context) error {
	ch := w.settledLocked()
	w.mu.Unlock()
	defer w.mu.Lock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// InsertStart opens a write session on every store, blocking while query
// sessions are open. On failure the stores already opened are closed
// again so the workspace is never half-open.
func (w *Workspace) InsertStart(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.queries > 0 {
		if err := w.waitLocked(ctx); err != nil {
			return err
		}
	}
	if w.inserts > 0 {
		w.inserts++
		return nil
	}

	opened := make([]Lifecycle, 0, 4)
	for _, s := range w.stores() {
		if err := s.InsertStart(ctx); err != nil {
			for _, o := range opened {
				o.InsertDone(ctx)
			}
			return err
		}
		opened = append(opened, s)
	}
	w.inserts = 1
	return nil
}

// InsertDone closes one write bracket. The stores flush only when the
// last bracket closes; all stores are attempted even when one fails and
// the first error is returned.
func (w *Workspace) InsertDone(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inserts > 1 {
		w.inserts--
		return nil
	}
	w.inserts = 0

	var first error
	for _, s := range w.stores() {
		if err := s.InsertDone(ctx); err != nil && first == nil {
			first = err
		}
	}
	w.wakeLocked()
	return first
}

// QueryStart opens a read session on every store, blocking while insert
// brackets are open.
func (w *Workspace) QueryStart(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.inserts > 0 {
		if err := w.waitLocked(ctx); err != nil {
			return err
		}
	}
	if w.queries > 0 {
		w.queries++
		return nil
	}

	opened := make([]Lifecycle, 0, 4)
	for _, s := range w.stores() {
		if err := s.QueryStart(ctx); err != nil {
			for _, o := range opened {
				o.QueryDone(ctx)
			}
			return err
		}
		opened = append(opened, s)
	}
	w.queries = 1
	return nil
}

// QueryDone closes one read bracket, releasing the snapshot when the
// last bracket closes.
func (w *Workspace) QueryDone(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.queries > 1 {
		w.queries--
		return nil
	}
	w.queries = 0

	var first error
	for _, s := range w.stores() {
		if err := s.QueryDone(ctx); err != nil && first == nil {
			first = err
		}
	}
	w.wakeLocked()
	return first
}

// Close ends whatever session is open.
func (w *Workspace) Close(ctx context.Context) error {
	if err := w.InsertDone(ctx); err != nil {
		return err
	}
	return w.QueryDone(ctx)
}

// Drop wipes all stored data for the namespace.
func (w *Workspace) Drop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var first error
	for _, err := range []error{
		w.Vector.Drop(ctx),
		w.Graph.Drop(ctx),
		w.KV.Drop(ctx),
		w.Blob.Drop(ctx),
	} {
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}
