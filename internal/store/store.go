// Package store owns all mutable domain state behind a single-writer
// transactional interface. There is no ambient singleton; a Store is
// constructed once at startup and injected into every component.
package store

import (
	"sync"
	"sync/atomic"
	"time"

	"agentmarket/internal/models"
)

type Store struct {
	mu        sync.Mutex
	committed atomic.Pointer[models.State]
}

func New(initial *models.State) *Store {
	if initial == nil {
		initial = models.NewState()
	}
	s := &Store{}
	s.committed.Store(initial.Clone())
	return s
}

// Snapshot returns a deep copy of the last committed state. It never
// blocks writers: the committed pointer is immutable once published, so
// readers only pay for their own copy.
func (s *Store) Snapshot() *models.State {
	return s.committed.Load().Clone()
}

// Update runs fn as a transaction. Exactly one transaction executes at a
// time; fn receives a working clone of the committed state, so an error
// return aborts with zero partial effects; the commit is a single
// pointer swap. The working reference must not be retained past fn.
func (s *Store) Update(fn func(st *models.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.committed.Load().Clone()
	if err := fn(work); err != nil {
		return err
	}
	work.UpdatedAt = time.Now().UTC()
	s.committed.Store(work)
	return nil
}
