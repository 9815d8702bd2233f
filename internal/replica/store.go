package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/reportcollab/collabd/internal/models"
	"github.com/reportcollab/collabd/internal/repository"

	"github.com/automerge/automerge-go"
	"github.com/rs/zerolog"
)

/*
REPLICA STORE

Each open document has one automerge document in memory. Clients send and
receive automerge changes. The server never edits text itself; it only
merges what peers send and hands back what they are missing.

Lifecycle:
  first access   seed the replicated text fields from the stored report
  delta          merge, then return only the changes that were new
  state vector   a peer's heads; the reply is every change after them

Replicas live until the process exits. The stored report is written through
the operation journal, not from here.
*/

// Loader reads the persisted report a replica is hydrated from.
type Loader interface {
	GetByID(ctx context.Context, id string) (*models.Report, error)
}

// Replica is the in-memory CRDT document for one document id.
type Replica struct {
	mu       sync.Mutex
	doc      *automerge.Doc
	hydrated bool
}

// Store keeps one replica per document for the lifetime of the process.
type Store struct {
	loader Loader
	logger zerolog.Logger

	mu   sync.Mutex
	docs map[string]*Replica
}

// NewStore creates a replica store. A nil loader disables hydration.
func NewStore(loader Loader, logger zerolog.Logger) *Store {
	return &Store{
		loader: loader,
		logger: logger.With().Str("component", "replica").Logger(),
		docs:   make(map[string]*Replica),
	}
}

// GetOrCreate returns the replica for documentID, creating it on first use.
// The first successful access seeds it from the persisted report; a failed
// hydration is retried on the next access.
func (s *Store) GetOrCreate(ctx context.Context, documentID string) *Replica {
	s.mu.Lock()
	r, ok := s.docs[documentID]
	if !ok {
		r = &Replica{doc: automerge.New()}
		s.docs[documentID] = r
	}
	s.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hydrated {
		s.hydrate(ctx, documentID, r)
	}
	return r
}

// caller holds r.mu
func (s *Store) hydrate(ctx context.Context, documentID string, r *Replica) {
	if s.loader == nil {
		r.hydrated = true
		return
	}

	report, err := s.loader.GetByID(ctx, documentID)
	if errors.Is(err, repository.ErrNotFound) {
		r.hydrated = true
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("document_id", documentID).Msg("hydration failed, will retry")
		return
	}

	seeded := 0
	for field, value := range report.ReplicatedFields() {
		if TextField(r.doc, field) != "" {
			continue
		}
		if err := r.doc.Path(field).Set(automerge.NewText(value)); err != nil {
			s.logger.Warn().Err(err).Str("document_id", documentID).Str("field", field).Msg("failed to seed field")
			continue
		}
		seeded++
	}
	if seeded > 0 {
		if _, err := r.doc.Commit("hydrate"); err != nil {
			s.logger.Warn().Err(err).Str("document_id", documentID).Msg("failed to commit hydration")
			return
		}
	}

	r.hydrated = true
	s.logger.Debug().Str("document_id", documentID).Int("fields", seeded).Msg("replica hydrated")
}

// ApplyRemoteDelta merges delta into the document. It returns the delta of
// changes that were new to the replica, or nil when the merge was a no-op.
func (s *Store) ApplyRemoteDelta(ctx context.Context, documentID string, delta []byte) ([]byte, error) {
	r := s.GetOrCreate(ctx, documentID)

	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.doc.Heads()
	if err := ApplyDelta(r.doc, delta); err != nil {
		return nil, err
	}
	if sameHeads(before, r.doc.Heads()) {
		return nil, nil
	}

	changes, err := r.doc.Changes(before...)
	if err != nil {
		return nil, fmt.Errorf("failed to collect merged changes: %w", err)
	}
	return ChangesDelta(changes), nil
}

// EncodeFullState returns the whole document in automerge's save format.
func (s *Store) EncodeFullState(ctx context.Context, documentID string) []byte {
	r := s.GetOrCreate(ctx, documentID)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Save()
}

// DiffSince returns the changes a peer with the given state vector is
// missing. Unknown hashes fall back to the full change set.
func (s *Store) DiffSince(ctx context.Context, documentID string, peerStateVector []string) ([]byte, error) {
	r := s.GetOrCreate(ctx, documentID)

	r.mu.Lock()
	defer r.mu.Unlock()

	heads, err := parseStateVector(peerStateVector)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDelta, err)
	}

	changes, err := r.doc.Changes(heads...)
	if err != nil {
		s.logger.Debug().Err(err).Str("document_id", documentID).Msg("peer heads unknown, sending all changes")
		if changes, err = r.doc.Changes(); err != nil {
			return nil, fmt.Errorf("failed to collect changes: %w", err)
		}
	}
	return ChangesDelta(changes), nil
}

// StateVector returns the current heads of the document.
func (s *Store) StateVector(ctx context.Context, documentID string) []string {
	r := s.GetOrCreate(ctx, documentID)

	r.mu.Lock()
	defer r.mu.Unlock()
	return StateVector(r.doc)
}

// Text reads one replicated field.
func (s *Store) Text(ctx context.Context, documentID, field string) string {
	r := s.GetOrCreate(ctx, documentID)

	r.mu.Lock()
	defer r.mu.Unlock()
	return TextField(r.doc, field)
}

// Len is the number of documents held in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}
