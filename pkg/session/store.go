package session

import (
	"github.com/kadirpekel/accord/pkg/registry"
)

// Store keeps live sessions in memory, keyed by negotiation id.
// Sessions are garbage-collected only by higher-level retention policy;
// Remove is exposed for that caller.
type Store struct {
	*registry.BaseRegistry[*Session]
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		BaseRegistry: registry.NewBaseRegistry[*Session](),
	}
}

// Put registers a session under its negotiation id. Duplicate ids are
// rejected.
func (s *Store) Put(sess *Session) error {
	return s.Register(sess.ID(), sess)
}

// Snapshots returns a snapshot of every stored session, ordered by
// negotiation id.
func (s *Store) Snapshots() []Snapshot {
	ids := s.Names()
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if sess, ok := s.Get(id); ok {
			out = append(out, sess.Snapshot())
		}
	}
	return out
}
