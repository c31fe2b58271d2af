// Package registry is the authoritative store of connected participants.
//
// One entry per live connection, keyed by transport connection id. All operations
// are serialised by a single RWMutex; callers only ever see copies.
package registry

import (
	"cmp"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/radar/internal/domain"
	"github.com/pscheid92/radar/internal/metrics"
	"github.com/samber/lo"
)

// Mutator changes a participant in place. It runs under the registry lock and
// must not call back into the registry.
type Mutator func(p *domain.Participant)

// Entry pairs a connection with its participant.
type Entry struct {
	Conn        domain.ConnID
	Participant domain.Participant
}

type record struct {
	seq         uint64
	participant domain.Participant
}

type Registry struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	newID   func() string
	entries map[domain.ConnID]*record
	nextSeq uint64
}

func New(clock clockwork.Clock) *Registry {
	return &Registry{
		clock:   clock,
		newID:   domain.NewParticipantID,
		entries: make(map[domain.ConnID]*record),
	}
}

// Create registers a participant with default fields for conn and returns it.
// Registering the same connection twice replaces the earlier entry.
func (r *Registry) Create(conn domain.ConnID) domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := domain.NewParticipant(r.newID(), r.clock.Now())
	r.nextSeq++
	r.entries[conn] = &record{seq: r.nextSeq, participant: p}

	metrics.RegistryParticipants.Set(float64(len(r.entries)))
	metrics.RegistryOperationsTotal.WithLabelValues("create", "hit").Inc()
	return p.Clone()
}

// Greeter receives a freshly admitted participant and the registry snapshot
// that includes it. It runs under the registry lock and must not call back
// into the registry.
type Greeter func(self domain.Participant, all []domain.Participant)

// Admit registers conn like Create and calls greet before the lock is
// released. Anything greet queues for the new connection is therefore
// ordered ahead of frames produced by later registry operations.
func (r *Registry) Admit(conn domain.ConnID, greet Greeter) domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := domain.NewParticipant(r.newID(), r.clock.Now())
	r.nextSeq++
	r.entries[conn] = &record{seq: r.nextSeq, participant: p}

	metrics.RegistryParticipants.Set(float64(len(r.entries)))
	metrics.RegistryOperationsTotal.WithLabelValues("admit", "hit").Inc()

	if greet != nil {
		greet(p.Clone(), lo.Map(r.entriesLocked(), func(e Entry, _ int) domain.Participant { return e.Participant }))
	}
	return p.Clone()
}

// Get returns the participant for conn. false means the connection is not
// (or no longer) registered; callers treat that as a no-op.
func (r *Registry) Get(conn domain.ConnID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.entries[conn]
	if !ok {
		metrics.RegistryOperationsTotal.WithLabelValues("get", "miss").Inc()
		return domain.Participant{}, false
	}
	metrics.RegistryOperationsTotal.WithLabelValues("get", "hit").Inc()
	return rec.participant.Clone(), true
}

// Update applies mutate to the participant of conn and refreshes LastSeen.
// A nil mutator only refreshes LastSeen. Returns the updated participant,
// or false if conn is not registered.
func (r *Registry) Update(conn domain.ConnID, mutate Mutator) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entries[conn]
	if !ok {
		metrics.RegistryOperationsTotal.WithLabelValues("update", "miss").Inc()
		return domain.Participant{}, false
	}

	if mutate != nil {
		mutate(&rec.participant)
	}
	rec.participant.LastSeen = r.clock.Now()

	metrics.RegistryOperationsTotal.WithLabelValues("update", "hit").Inc()
	return rec.participant.Clone(), true
}

// Remove deletes conn and returns the removed participant. A second call for
// the same connection returns false.
func (r *Registry) Remove(conn domain.ConnID) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.entries[conn]
	if !ok {
		metrics.RegistryOperationsTotal.WithLabelValues("remove", "miss").Inc()
		return domain.Participant{}, false
	}
	delete(r.entries, conn)

	metrics.RegistryParticipants.Set(float64(len(r.entries)))
	metrics.RegistryOperationsTotal.WithLabelValues("remove", "hit").Inc()
	return rec.participant, true
}

// Entries returns a snapshot of all connections and participants in
// registration order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entriesLocked()
}

func (r *Registry) entriesLocked() []Entry {
	type ordered struct {
		seq   uint64
		entry Entry
	}
	snapshot := make([]ordered, 0, len(r.entries))
	for conn, rec := range r.entries {
		snapshot = append(snapshot, ordered{
			seq:   rec.seq,
			entry: Entry{Conn: conn, Participant: rec.participant.Clone()},
		})
	}
	slices.SortFunc(snapshot, func(a, b ordered) int {
		return cmp.Compare(a.seq, b.seq)
	})

	return lo.Map(snapshot, func(o ordered, _ int) Entry { return o.entry })
}

// List returns a snapshot of all participants in registration order.
func (r *Registry) List() []domain.Participant {
	return lo.Map(r.Entries(), func(e Entry, _ int) domain.Participant { return e.Participant })
}

// Connections returns a snapshot of all registered connections in
// registration order.
func (r *Registry) Connections() []domain.ConnID {
	return lo.Map(r.Entries(), func(e Entry, _ int) domain.ConnID { return e.Conn })
}

// Len returns the number of registered participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
