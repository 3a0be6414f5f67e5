package document

import (
	"sync"

	"go.lsp.dev/uri"
)

// Store is the process-wide open-document map. The dispatcher is the only
// writer; providers read snapshots. Many readers or one writer.
type Store struct {
	mu   sync.RWMutex
	docs map[uri.URI]*Document
	cfg  ParseConfig
}

// NewStore creates an empty store with the given parse configuration.
func NewStore(cfg ParseConfig) *Store {
	return &Store{docs: make(map[uri.URI]*Document), cfg: cfg}
}

// SetParseConfig replaces the parse configuration for documents opened
// from now on.
func (s *Store) SetParseConfig(cfg ParseConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Open creates the document for a didOpen. Reopening an open URI replaces
// the document.
func (s *Store) Open(u uri.URI, text string, version int32) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := New(u, text, version, s.cfg)
	s.docs[u] = d
	return d
}

// Apply routes a didChange to the open document in receipt order.
// Changes for an unopened URI are rejected.
func (s *Store) Apply(u uri.URI, changes []Change, version int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[u]
	if !ok {
		return &NotOpenError{URI: u}
	}
	for _, ch := range changes {
		if err := d.Apply(ch, version); err != nil {
			return err
		}
	}
	return nil
}

// Close destroys the document for a didClose.
func (s *Store) Close(u uri.URI) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, u)
}

// Get returns the open document, if any.
func (s *Store) Get(u uri.URI) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[u]
	return d, ok
}

// Snapshot returns an immutable view of the open document, if any.
func (s *Store) Snapshot(u uri.URI) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[u]
	if !ok {
		return nil, false
	}
	return d.Snapshot(), true
}

// Snapshots returns a snapshot of every open document.
func (s *Store) Snapshots() []*Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Snapshot, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d.Snapshot())
	}
	return out
}

// IsOpen reports whether the URI has an open document shadowing disk.
func (s *Store) IsOpen(u uri.URI) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[u]
	return ok
}

// NotOpenError reports a change routed to a URI with no open document.
type NotOpenError struct {
	URI uri.URI
}

func (e *NotOpenError) Error() string {
	return "document not open: " + string(e.URI)
}
