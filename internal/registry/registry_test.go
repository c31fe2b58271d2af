package registry

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/radar/internal/domain"
	"github.com/pscheid92/radar/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	return New(clock), clock
}

func TestCreate_Defaults(t *testing.T) {
	r, clock := newTestRegistry(t)
	conn := uuid.New()

	p := r.Create(conn)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, domain.DefaultName, p.Name)
	assert.Equal(t, domain.DefaultBio, p.Bio)
	assert.Equal(t, domain.DefaultColor, p.Color)
	assert.Nil(t, p.Coords)
	assert.Equal(t, clock.Now(), p.LastSeen)
	assert.Equal(t, 1, r.Len())
}

func TestCreate_DistinctIDs(t *testing.T) {
	r, _ := newTestRegistry(t)

	a := r.Create(uuid.New())
	b := r.Create(uuid.New())

	assert.NotEqual(t, a.ID, b.ID)
}

func TestGet(t *testing.T) {
	r, _ := newTestRegistry(t)
	conn := uuid.New()
	created := r.Create(conn)

	got, ok := r.Get(conn)
	require.True(t, ok)
	assert.Equal(t, created, got)

	_, ok = r.Get(uuid.New())
	assert.False(t, ok)
}

func TestUpdate_AppliesMutatorAndTouches(t *testing.T) {
	r, clock := newTestRegistry(t)
	conn := uuid.New()
	r.Create(conn)

	clock.Advance(3 * time.Second)
	updated, ok := r.Update(conn, func(p *domain.Participant) {
		p.Name = "Ada"
		p.Coords = &domain.Coords{Latitude: 1, Longitude: 2}
	})

	require.True(t, ok)
	assert.Equal(t, "Ada", updated.Name)
	assert.Equal(t, &domain.Coords{Latitude: 1, Longitude: 2}, updated.Coords)
	assert.Equal(t, clock.Now(), updated.LastSeen)

	stored, _ := r.Get(conn)
	assert.Equal(t, updated, stored)
}

func TestUpdate_NilMutatorOnlyTouches(t *testing.T) {
	r, clock := newTestRegistry(t)
	conn := uuid.New()
	before := r.Create(conn)

	clock.Advance(time.Minute)
	after, ok := r.Update(conn, nil)

	require.True(t, ok)
	assert.Equal(t, before.Name, after.Name)
	assert.True(t, after.LastSeen.After(before.LastSeen))
}

func TestUpdate_UnknownConnection(t *testing.T) {
	r, _ := newTestRegistry(t)

	called := false
	_, ok := r.Update(uuid.New(), func(*domain.Participant) { called = true })

	assert.False(t, ok)
	assert.False(t, called)
}

func TestUpdate_ReturnedCopyIsDetached(t *testing.T) {
	r, _ := newTestRegistry(t)
	conn := uuid.New()
	r.Create(conn)

	p, _ := r.Update(conn, func(p *domain.Participant) {
		p.Coords = &domain.Coords{Latitude: 10, Longitude: 10}
	})
	p.Coords.Latitude = -1

	stored, _ := r.Get(conn)
	assert.Equal(t, 10.0, stored.Coords.Latitude)
}

func TestRemove_OnlyOnce(t *testing.T) {
	r, _ := newTestRegistry(t)
	conn := uuid.New()
	created := r.Create(conn)

	removed, ok := r.Remove(conn)
	require.True(t, ok)
	assert.Equal(t, created.ID, removed.ID)

	_, ok = r.Remove(conn)
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestEntries_RegistrationOrder(t *testing.T) {
	r, _ := newTestRegistry(t)

	conns := make([]domain.ConnID, 10)
	for i := range conns {
		conns[i] = uuid.New()
		r.Create(conns[i])
	}
	r.Remove(conns[3])

	want := append(append([]domain.ConnID{}, conns[:3]...), conns[4:]...)
	assert.Equal(t, want, r.Connections())

	entries := r.Entries()
	list := r.List()
	require.Len(t, list, len(entries))
	for i, e := range entries {
		assert.Equal(t, e.Participant, list[i])
	}
}

func TestList_Empty(t *testing.T) {
	r, _ := newTestRegistry(t)

	assert.Empty(t, r.List())
	assert.Empty(t, r.Connections())
}

func TestParticipantsGauge(t *testing.T) {
	r, _ := newTestRegistry(t)
	a, b := uuid.New(), uuid.New()

	r.Create(a)
	r.Create(b)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RegistryParticipants))

	r.Remove(a)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RegistryParticipants))
}

// Any interleaving of connects and disconnects leaves exactly the connections
// that connected and have not yet disconnected, with pairwise distinct ids.
func TestRandomConnectDisconnectSequences(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for round := range 50 {
		r, _ := newTestRegistry(t)
		live := make(map[domain.ConnID]bool)
		var all []domain.ConnID

		for range 200 {
			if len(all) == 0 || rng.IntN(3) > 0 {
				conn := uuid.New()
				all = append(all, conn)
				live[conn] = true
				r.Create(conn)
				continue
			}
			conn := all[rng.IntN(len(all))]
			_, ok := r.Remove(conn)
			assert.Equal(t, live[conn], ok, "round %d", round)
			delete(live, conn)
		}

		require.Equal(t, len(live), r.Len())
		ids := make(map[string]struct{})
		for _, e := range r.Entries() {
			assert.True(t, live[e.Conn])
			ids[e.Participant.ID] = struct{}{}
		}
		assert.Len(t, ids, len(live))
	}
}

func TestConcurrentAccess(t *testing.T) {
	r, _ := newTestRegistry(t)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := uuid.New()
			r.Create(conn)
			for range 50 {
				r.Update(conn, func(p *domain.Participant) { p.Name = "x" })
				_ = r.List()
			}
			r.Remove(conn)
		}()
	}
	wg.Wait()

	assert.Zero(t, r.Len())
}

func TestAdmit_GreetSeesSnapshotWithSelf(t *testing.T) {
	r, _ := newTestRegistry(t)
	first := r.Create(uuid.New())

	var greeted domain.Participant
	var snapshot []domain.Participant
	conn := uuid.New()
	p := r.Admit(conn, func(self domain.Participant, all []domain.Participant) {
		greeted = self
		snapshot = all
	})

	assert.Equal(t, p.ID, greeted.ID)
	require.Len(t, snapshot, 2)
	assert.Equal(t, first.ID, snapshot[0].ID)
	assert.Equal(t, p.ID, snapshot[1].ID)

	got, ok := r.Get(conn)
	require.True(t, ok)
	assert.Equal(t, p.ID, got.ID)
}

func TestAdmit_GreetRunsBeforeOtherWriters(t *testing.T) {
	r, _ := newTestRegistry(t)
	conn := uuid.New()

	released := make(chan struct{})
	updated := make(chan struct{})
	r.Admit(conn, func(domain.Participant, []domain.Participant) {
		go func() {
			defer close(updated)
			r.Update(conn, func(p *domain.Participant) { p.Name = "later" })
		}()
		select {
		case <-updated:
			t.Error("update completed while greet held the lock")
		case <-time.After(20 * time.Millisecond):
		}
		close(released)
	})
	<-released
	<-updated

	p, _ := r.Get(conn)
	assert.Equal(t, "later", p.Name)
}
