package overlay

import "sync"

// Store owns VisibilityState and FocusedTarget.
//
// Every lifecycle write (Reset, Remove) invalidates the target's revision. A toggle captures
// the revision before its round-trip and commits only if nothing reset or removed the
// target in the meantime, so a reload that lands mid-toggle is never overwritten by a
// stale ack.
type Store interface {
	// Visible reports VisibilityState[t]; absent means false.
	Visible(t TargetID) bool
	// Revision returns the current lifecycle revision of t. Revisions are unique across
	// all targets for the life of the store.
	Revision(t TargetID) uint64
	// Commit sets VisibilityState[t] if t's revision still equals rev and t was not
	// removed since.
	Commit(t TargetID, visible bool, rev uint64) bool
	// Reset forces VisibilityState[t] to false.
	Reset(t TargetID)
	// Remove deletes t's entry entirely.
	Remove(t TargetID)
	// SwapFocused records t as focused and returns the previous focus, if any.
	SwapFocused(t TargetID) (prev TargetID, had bool)
	// Focused returns the current focus, if any.
	Focused() (TargetID, bool)
	// Snapshot copies VisibilityState.
	Snapshot() map[TargetID]bool
}

// MemoryStore is the in-process Store. Closed targets leave no entries behind.
type MemoryStore struct {
	mu       sync.RWMutex
	clock    uint64
	visible  map[TargetID]bool
	revision map[TargetID]uint64
	focused  TargetID
	hasFocus bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		visible:  make(map[TargetID]bool),
		revision: make(map[TargetID]uint64),
	}
}

func (s *MemoryStore) Visible(t TargetID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible[t]
}

func (s *MemoryStore) Revision(t TargetID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rev, ok := s.revision[t]; ok {
		return rev
	}
	return s.advance(t)
}

func (s *MemoryStore) Commit(t TargetID, visible bool, rev uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.revision[t]; !ok || cur != rev {
		return false
	}
	s.visible[t] = visible
	return true
}

func (s *MemoryStore) Reset(t TargetID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible[t] = false
	s.advance(t)
}

// Remove drops both entries. A revision captured before the removal no longer matches
// anything, so an in-flight toggle cannot resurrect the target.
func (s *MemoryStore) Remove(t TargetID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.visible, t)
	delete(s.revision, t)
}

// advance gives t a fresh revision. Callers hold s.mu.
func (s *MemoryStore) advance(t TargetID) uint64 {
	s.clock++
	s.revision[t] = s.clock
	return s.clock
}

func (s *MemoryStore) SwapFocused(t TargetID) (TargetID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.focused, s.hasFocus
	s.focused, s.hasFocus = t, true
	return prev, had
}

func (s *MemoryStore) Focused() (TargetID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focused, s.hasFocus
}

func (s *MemoryStore) Snapshot() map[TargetID]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[TargetID]bool, len(s.visible))
	for t, v := range s.visible {
		out[t] = v
	}
	return out
}

// Known reports whether t has a VisibilityState entry.
func (s *MemoryStore) Known(t TargetID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.visible[t]
	return ok
}
