package index

import (
	"sort"
	"sync"
	"sync/atomic"

	"go.lsp.dev/uri"
)

// State is the index lifecycle: Building during the initial sweep, Ready
// after it, Degraded while any URI failed to index.
type State int

const (
	StateBuilding State = iota
	StateReady
	StateDegraded
)

var stateNames = map[State]string{
	StateBuilding: "building",
	StateReady:    "ready",
	StateDegraded: "degraded",
}

// String returns the state name.
func (s State) String() string {
	return stateNames[s]
}

// Snapshot is one immutable revision of the index. Readers hold it for
// the duration of a request; the store swaps in fresh snapshots on write.
type Snapshot struct {
	// Symbols maps symbol key to its declaration.
	Symbols map[string]Symbol
	// Refs maps symbol key to its ordered use sites.
	Refs map[string][]Reference
	// state of the whole index at this revision.
	state State
	// degraded lists URIs whose last index attempt failed, with the
	// failure message.
	degraded map[uri.URI]string
}

// State returns the index state at this revision.
func (s *Snapshot) State() State {
	return s.state
}

// Degraded returns the failure message for a URI, if its last index
// attempt failed.
func (s *Snapshot) Degraded(u uri.URI) (string, bool) {
	msg, ok := s.degraded[u]
	return msg, ok
}

// Resolved reports whether a reference key has a matching symbol. A key
// with no symbol is unresolved, never dangling.
func (s *Snapshot) Resolved(key string) bool {
	_, ok := s.Symbols[key]
	return ok
}

// Store owns the mutable index. Single writer, many snapshot readers.
type Store struct {
	mu sync.Mutex

	// per-URI contributions, used to retract a file on update/removal
	symsByURI map[uri.URI][]string
	refsByURI map[uri.URI][]Reference

	building bool
	degraded map[uri.URI]string

	snap atomic.Pointer[Snapshot]
}

// NewStore creates an empty store in the Building state.
func NewStore() *Store {
	s := &Store{
		symsByURI: make(map[uri.URI][]string),
		refsByURI: make(map[uri.URI][]Reference),
		building:  true,
		degraded:  make(map[uri.URI]string),
	}
	s.snap.Store(&Snapshot{
		Symbols:  make(map[string]Symbol),
		Refs:     make(map[string][]Reference),
		state:    StateBuilding,
		degraded: make(map[uri.URI]string),
	})
	return s
}

// Snapshot returns the current immutable revision.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Update replaces one file's contribution atomically: compute the new
// sets, then swap the snapshot in under the store lock. Readers observe
// either the pre- or post-update index, never a partial state.
func (s *Store) Update(u uri.URI, symbols []Symbol, refs []Reference) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.snap.Load()
	next := s.retractLocked(old, u)

	keys := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		key := sym.Key()
		next.Symbols[key] = sym
		keys = append(keys, key)
	}
	byKey := make(map[string][]Reference)
	for _, ref := range refs {
		byKey[ref.Key] = append(byKey[ref.Key], ref)
	}
	for key, added := range byKey {
		merged := make([]Reference, 0, len(next.Refs[key])+len(added))
		merged = append(merged, next.Refs[key]...)
		merged = append(merged, added...)
		sortRefs(merged)
		next.Refs[key] = merged
	}

	s.symsByURI[u] = keys
	s.refsByURI[u] = refs
	delete(s.degraded, u)

	s.publishLocked(next)
}

// Remove retracts a deleted file's contribution.
func (s *Store) Remove(u uri.URI) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.retractLocked(s.snap.Load(), u)
	delete(s.symsByURI, u)
	delete(s.refsByURI, u)
	delete(s.degraded, u)
	s.publishLocked(next)
}

// MarkDegraded records an index failure for a URI; the index serves
// degraded answers for it until a successful re-sweep.
func (s *Store) MarkDegraded(u uri.URI, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded[u] = msg
	s.publishLocked(s.cloneLocked(s.snap.Load()))
}

// SetReady marks the initial sweep complete.
func (s *Store) SetReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.building = false
	s.publishLocked(s.cloneLocked(s.snap.Load()))
}

// retractLocked returns a fresh snapshot without u's contribution.
func (s *Store) retractLocked(old *Snapshot, u uri.URI) *Snapshot {
	next := s.cloneLocked(old)
	for _, key := range s.symsByURI[u] {
		delete(next.Symbols, key)
	}
	for _, ref := range s.refsByURI[u] {
		refs := next.Refs[ref.Key]
		kept := refs[:0:0]
		for _, r := range refs {
			if r.URI != u {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(next.Refs, ref.Key)
		} else {
			next.Refs[ref.Key] = kept
		}
	}
	return next
}

func (s *Store) cloneLocked(old *Snapshot) *Snapshot {
	next := &Snapshot{
		Symbols:  make(map[string]Symbol, len(old.Symbols)),
		Refs:     make(map[string][]Reference, len(old.Refs)),
		degraded: make(map[uri.URI]string, len(s.degraded)),
	}
	for k, v := range old.Symbols {
		next.Symbols[k] = v
	}
	for k, v := range old.Refs {
		next.Refs[k] = v
	}
	return next
}

func (s *Store) publishLocked(next *Snapshot) {
	for k, v := range s.degraded {
		next.degraded[k] = v
	}
	switch {
	case s.building:
		next.state = StateBuilding
	case len(s.degraded) > 0:
		next.state = StateDegraded
	default:
		next.state = StateReady
	}
	s.snap.Store(next)
}

func sortRefs(refs []Reference) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].URI != refs[j].URI {
			return refs[i].URI < refs[j].URI
		}
		return refs[i].Start < refs[j].Start
	})
}
