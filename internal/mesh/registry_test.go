package mesh

import (
	"testing"

	"github.com/BioHazard786/meshcall/internal/peernet"
	"github.com/BioHazard786/meshcall/internal/peernet/memnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsSecondEntry(t *testing.T) {
	r := NewRegistry(nil)
	first, second := &memnet.Call{}, &memnet.Call{}

	require.True(t, r.Register("a", first, Outbound))
	assert.False(t, r.Register("a", second, Inbound))

	e, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Same(t, first, e.Handle)
	assert.Equal(t, Outbound, e.Direction)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryAttachStream(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("a", &memnet.Call{}, Inbound)

	assert.False(t, r.AttachStream("ghost", &peernet.Stream{ID: "ghost"}))
	assert.False(t, r.Has("ghost"))

	require.True(t, r.AttachStream("a", &peernet.Stream{ID: "a", Audio: true}))
	e, _ := r.Lookup("a")
	assert.Equal(t, StateActive, e.State)
	assert.True(t, e.Stream.Audio)
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("a", &memnet.Call{}, Inbound)

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.Zero(t, r.Len())
	assert.False(t, r.AttachStream("a", &peernet.Stream{}))
}

func TestRegistrySnapshotOrder(t *testing.T) {
	r := NewRegistry(nil)
	for _, id := range []peernet.ID{"c", "a", "b"} {
		r.Register(id, &memnet.Call{}, Inbound)
	}

	assert.Equal(t, []peernet.ID{"c", "a", "b"}, r.Snapshot())
	assert.Equal(t, []peernet.ID{"c", "b"}, r.Snapshot("a"))
	assert.Empty(t, r.Snapshot("a", "b", "c"))

	r.Remove("c")
	r.Register("c", &memnet.Call{}, Outbound)
	assert.Equal(t, []peernet.ID{"a", "b", "c"}, r.Snapshot())
}

func TestRegistryOwns(t *testing.T) {
	r := NewRegistry(nil)
	current, stale := &memnet.Call{}, &memnet.Call{}
	r.Register("a", current, Outbound)

	assert.True(t, r.Owns("a", current))
	assert.False(t, r.Owns("a", stale))
	assert.False(t, r.Owns("b", current))
}
