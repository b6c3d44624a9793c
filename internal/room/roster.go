package room

import (
	"sort"
	"sync"

	"github.com/rsmnv/meshlook/internal/core"
	"github.com/rsmnv/meshlook/internal/telemetry"
)

type EventKind string

const (
	ParticipantJoined  EventKind = "joined"
	ParticipantUpdated EventKind = "updated"
	ParticipantLeft    EventKind = "left"
)

// Event is pushed to listeners on every roster mutation, so the layer
// rendering participant tiles observes explicit state changes instead
// of polling.
type Event struct {
	Kind        EventKind
	Participant core.Participant
}

// Roster is the authoritative in-memory membership table of the room.
// All writes come from the session's event handling; reads may come
// from any goroutine.
type Roster struct {
	mu           sync.RWMutex
	participants map[core.ParticipantID]*core.Participant
	listeners    []func(Event)
}

func NewRoster() *Roster {
	return &Roster{
		participants: make(map[core.ParticipantID]*core.Participant),
	}
}

// AddListener registers an observer. Listeners run synchronously on the
// mutating goroutine and must not call back into the roster.
func (r *Roster) AddListener(listener func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, listener)
}

// Upsert merges the patch into the participant, inserting it if
// unknown. Fields absent from the patch are left untouched.
func (r *Roster) Upsert(id core.ParticipantID, patch core.ParticipantPatch) core.Participant {
	r.mu.Lock()

	kind := ParticipantUpdated
	p, ok := r.participants[id]
	if !ok {
		kind = ParticipantJoined
		p = &core.Participant{ID: id, State: core.ConnStateNew}
		r.participants[id] = p
	}
	p.Apply(patch)

	updated := *p
	listeners := r.listeners
	size := len(r.participants)
	r.mu.Unlock()

	telemetry.RosterSize(size)
	for _, listener := range listeners {
		listener(Event{Kind: kind, Participant: updated})
	}

	return updated
}

func (r *Roster) Remove(id core.ParticipantID) bool {
	r.mu.Lock()

	p, ok := r.participants[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	removed := *p
	delete(r.participants, id)

	listeners := r.listeners
	size := len(r.participants)
	r.mu.Unlock()

	telemetry.RosterSize(size)
	for _, listener := range listeners {
		listener(Event{Kind: ParticipantLeft, Participant: removed})
	}

	return true
}

func (r *Roster) Get(id core.ParticipantID) (core.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[id]
	if !ok {
		return core.Participant{}, false
	}
	return *p, true
}

func (r *Roster) Has(id core.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.participants[id]
	return ok
}

// Snapshot returns a stable-ordered copy of the current membership.
func (r *Roster) Snapshot() []core.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]core.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		snapshot = append(snapshot, *p)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].ID < snapshot[j].ID
	})

	return snapshot
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.participants)
}
