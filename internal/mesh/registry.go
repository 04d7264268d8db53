package mesh

import (
	"log/slog"
	"sort"

	"github.com/BioHazard786/meshcall/internal/peernet"
)

// ConnState is the lifecycle of one registry entry.
type ConnState int

const (
	StatePending ConnState = iota
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// Direction records which side placed a call.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// Entry is the registry's record of one remote participant.
type Entry struct {
	Peer      peernet.ID
	Handle    peernet.Call
	Stream    *peernet.Stream
	State     ConnState
	Direction Direction

	seq uint64
}

// Registry maps remote identities to their single live call. It is not safe
// for concurrent use; the session loop owns it.
type Registry struct {
	entries map[peernet.ID]*Entry
	seq     uint64
	log     *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{entries: make(map[peernet.ID]*Entry), log: log}
}

// Register records a pending call to id. It reports false, leaving the
// registry untouched, when id already has an entry.
func (r *Registry) Register(id peernet.ID, handle peernet.Call, dir Direction) bool {
	if _, ok := r.entries[id]; ok {
		return false
	}
	r.seq++
	r.entries[id] = &Entry{Peer: id, Handle: handle, State: StatePending, Direction: dir, seq: r.seq}
	r.log.Debug("connection registered", "peer", id, "outbound", dir == Outbound)
	return true
}

// AttachStream marks id's call active.
func (r *Registry) AttachStream(id peernet.ID, stream *peernet.Stream) bool {
	e, ok := r.entries[id]
	if !ok {
		r.log.Debug("stream for unknown peer ignored", "peer", id)
		return false
	}
	e.Stream = stream
	e.State = StateActive
	return true
}

// Remove evicts id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id peernet.ID) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.State = StateClosed
	delete(r.entries, id)
	r.log.Debug("connection removed", "peer", id)
	return true
}

func (r *Registry) Lookup(id peernet.ID) (Entry, bool) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (r *Registry) Has(id peernet.ID) bool {
	_, ok := r.entries[id]
	return ok
}

// Owns reports whether handle is the call currently registered for id.
func (r *Registry) Owns(id peernet.ID, handle peernet.Call) bool {
	e, ok := r.entries[id]
	return ok && e.Handle == handle
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Snapshot lists registered identities in registration order, leaving out
// any in exclude.
func (r *Registry) Snapshot(exclude ...peernet.ID) []peernet.ID {
	entries := r.sorted()
	ids := make([]peernet.ID, 0, len(entries))
next:
	for _, e := range entries {
		for _, x := range exclude {
			if e.Peer == x {
				continue next
			}
		}
		ids = append(ids, e.Peer)
	}
	return ids
}

// Entries returns copies of every entry in registration order.
func (r *Registry) Entries() []Entry {
	entries := r.sorted()
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = *e
	}
	return out
}

// Handles returns every registered call.
func (r *Registry) Handles() []peernet.Call {
	entries := r.sorted()
	out := make([]peernet.Call, len(entries))
	for i, e := range entries {
		out[i] = e.Handle
	}
	return out
}

func (r *Registry) sorted() []*Entry {
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}
