// Package memory provides an in-memory orchestrator.Store for tests and
// for orchestrators whose crash-recovery guarantee is intentionally
// scoped to "process lifetime only". Grounded on the teacher's in-memory
// test backend that predates its sqlite one.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/kortschak/orkestra/orchestrator"
)

type record struct {
	snapshot    []byte
	snapshotSeq uint64
	events      []orchestrator.Event
}

// Store is a goroutine-safe, in-memory orchestrator.Store.
type Store struct {
	mu   sync.Mutex
	logs map[string]*record
}

// New returns an empty Store.
func New() *Store {
	return &Store{logs: make(map[string]*record)}
}

func (s *Store) Append(ctx context.Context, orchestratorID string, seq uint64, event orchestrator.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.record(orchestratorID)
	wantSeq := r.snapshotSeq + uint64(len(r.events)) + 1
	if seq != wantSeq {
		return fmt.Errorf("memory store: out-of-order append for %q: got seq %d, want %d", orchestratorID, seq, wantSeq)
	}
	r.events = append(r.events, event)
	return nil
}

func (s *Store) SaveSnapshot(ctx context.Context, orchestratorID string, snapshotSeq uint64, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.record(orchestratorID)
	// Only events after snapshotSeq remain relevant; drop the rest, the
	// same compaction the sqlite Store's SaveSnapshot performs.
	keepFrom := snapshotSeq - r.snapshotSeq
	if keepFrom <= uint64(len(r.events)) {
		r.events = append([]orchestrator.Event(nil), r.events[keepFrom:]...)
	}
	r.snapshot = append([]byte(nil), snapshot...)
	r.snapshotSeq = snapshotSeq
	return nil
}

func (s *Store) Load(ctx context.Context, orchestratorID string) ([]byte, uint64, []orchestrator.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.logs[orchestratorID]
	if !ok {
		return nil, 0, nil, nil
	}
	events := append([]orchestrator.Event(nil), r.events...)
	return append([]byte(nil), r.snapshot...), r.snapshotSeq, events, nil
}

func (s *Store) record(orchestratorID string) *record {
	r, ok := s.logs[orchestratorID]
	if !ok {
		r = &record{}
		s.logs[orchestratorID] = r
	}
	return r
}
