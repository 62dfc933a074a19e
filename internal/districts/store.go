// Package districts holds the in-memory per-workspace district table.
// The table is the one shared mutable resource in the system: the resolution
// engine is the only writer of the derived fields, and every pass overwrites
// them wholesale. Districts are created once from an external geographic
// source and live for the whole planning session.
package districts

import (
	"sync"

	"github.com/opensource-health/kestrel/internal/domain"
)

// Store is a thread-safe district table keyed by workspace.
type Store struct {
	mu          sync.RWMutex
	byWorkspace map[string][]*domain.District
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byWorkspace: make(map[string][]*domain.District),
	}
}

// Replace installs a workspace's district set, discarding any previous one.
func (s *Store) Replace(workspaceID string, ds []*domain.District) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byWorkspace[workspaceID] = ds
}

// Update runs fn while holding the write lock, giving the resolver exclusive
// access to the workspace's districts for the duration of a pass.
func (s *Store) Update(workspaceID string, fn func([]*domain.District)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.byWorkspace[workspaceID])
}

// Snapshot returns deep copies of the workspace's districts for read-side
// consumers (tabular views, CSV export).
func (s *Store) Snapshot(workspaceID string) []domain.District {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := s.byWorkspace[workspaceID]
	out := make([]domain.District, 0, len(live))
	for _, d := range live {
		out = append(out, d.Clone())
	}
	return out
}

// Get returns a copy of a single district.
func (s *Store) Get(workspaceID, districtID string) (domain.District, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.byWorkspace[workspaceID] {
		if d.ID == districtID {
			return d.Clone(), true
		}
	}
	return domain.District{}, false
}

// Count returns the number of districts loaded for a workspace.
func (s *Store) Count(workspaceID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byWorkspace[workspaceID])
}
