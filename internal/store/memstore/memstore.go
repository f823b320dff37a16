// Package memstore keeps every repository in process memory. Transactions
// run one at a time against a copy of the data that replaces the live copy
// on commit.
package memstore

import (
	"context"
	"maps"
	"sync"

	"safeworks.org/ptw/internal/directory"
	"safeworks.org/ptw/internal/evidence"
	"safeworks.org/ptw/internal/permit"
)

// Hooks inject failures in tests.
type Hooks struct {
	BeforeEvidenceInsert func(e *evidence.Evidence) error
}

// Store is the in-memory backend.
type Store struct {
	mu    sync.Mutex
	data  *state
	Hooks Hooks
}

type state struct {
	seq        int64
	permits    map[int64]permit.Permit
	team       map[int64][]permit.TeamMember
	approvals  map[int64]permit.Approval
	closures   map[int64]permit.Closure
	extensions map[int64]permit.Extension
	evidence   map[int64]evidence.Evidence
	users      map[int64]directory.User
	sites      map[int64]directory.Site
	vendors    map[int64]directory.Vendor
}

func newState() *state {
	return &state{
		permits:    map[int64]permit.Permit{},
		team:       map[int64][]permit.TeamMember{},
		approvals:  map[int64]permit.Approval{},
		closures:   map[int64]permit.Closure{},
		extensions: map[int64]permit.Extension{},
		evidence:   map[int64]evidence.Evidence{},
		users:      map[int64]directory.User{},
		sites:      map[int64]directory.Site{},
		vendors:    map[int64]directory.Vendor{},
	}
}

// clone copies the maps. Team slices are replaced, never mutated, so
// sharing them is safe.
func (s *state) clone() *state {
	return &state{
		seq:        s.seq,
		permits:    maps.Clone(s.permits),
		team:       maps.Clone(s.team),
		approvals:  maps.Clone(s.approvals),
		closures:   maps.Clone(s.closures),
		extensions: maps.Clone(s.extensions),
		evidence:   maps.Clone(s.evidence),
		users:      maps.Clone(s.users),
		sites:      maps.Clone(s.sites),
		vendors:    maps.Clone(s.vendors),
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newState()}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// inTx runs fn on a snapshot and publishes it when fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.data.clone()
	if err := fn(snap); err != nil {
		return err
	}
	s.data = snap
	return nil
}

// read runs fn against committed state.
func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.data)
}

// Permits returns the permit repository view.
func (s *Store) Permits() permit.Repository { return permitRepo{s} }

// Evidence returns the evidence repository view.
func (s *Store) Evidence() evidence.Repository { return evidenceRepo{s} }

// Directory returns the reference data repository view.
func (s *Store) Directory() directory.Repository { return directoryRepo{s} }
