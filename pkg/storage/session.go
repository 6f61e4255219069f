package storage

import (
	"context"
	"sync"
)

// SessionHooks are the backend-specific actions driven by the lifecycle
// state machine. File-backed stores load from and flush to disk;
// networked stores with native transactional semantics leave Load and
// Flush nil.
type SessionHooks struct {
	// Load materializes persisted state into memory.
	Load func(ctx context.Context) error
	// Flush persists in-memory state; it must be atomic (either the
	// pre-session or the fully-flushed state survives a crash).
	Flush func(ctx context.Context) error
	// Release drops the in-memory snapshot.
	Release func()
}

// Session implements Lifecycle over a set of hooks. Backends embed it
// and guard their operations with Require.
type Session struct {
	mu    sync.Mutex
	mode  Mode
	hooks SessionHooks
}

// NewSession creates a Session driving the given hooks.
func NewSession(hooks SessionHooks) Session {
	return Session{hooks: hooks}
}

func (s *Session) load(ctx context.Context) error {
	if s.hooks.Load == nil {
		return nil
	}
	return s.hooks.Load(ctx)
}

func (s *Session) flush(ctx context.Context) error {
	if s.hooks.Flush == nil {
		return nil
	}
	return s.hooks.Flush(ctx)
}

func (s *Session) release() {
	if s.hooks.Release != nil {
		s.hooks.Release()
	}
}

// InsertStart opens a write session. From query mode the snapshot is
// discarded and reloaded so upserts merge into persisted data.
func (s *Session) InsertStart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case ModeInsert:
		return nil
	case ModeQuery:
		s.release()
	}
	if err := s.load(ctx); err != nil {
		return err
	}
	s.mode = ModeInsert
	return nil
}

// InsertDone flushes and closes the write session.
func (s *Session) InsertDone(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModeInsert {
		return nil
	}
	if err := s.flush(ctx); err != nil {
		return err
	}
	s.release()
	s.mode = ModeUninitialized
	return nil
}

// QueryStart opens a read session. From insert mode pending writes are
// flushed first, then the loaded state is reused as the query snapshot.
func (s *Session) QueryStart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case ModeQuery:
		return nil
	case ModeInsert:
		if err := s.flush(ctx); err != nil {
			return err
		}
		s.mode = ModeQuery
		return nil
	}
	if err := s.load(ctx); err != nil {
		return err
	}
	s.mode = ModeQuery
	return nil
}

// QueryDone releases the read snapshot.
func (s *Session) QueryDone(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModeQuery {
		return nil
	}
	s.release()
	s.mode = ModeUninitialized
	return nil
}

// Require returns ErrWrongMode unless the session is in one of the given
// modes.
func (s *Session) Require(modes ...Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range modes {
		if s.mode == m {
			return nil
		}
	}
	return ErrWrongMode
}

// Mode returns the current lifecycle mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}
