package peernet

// Kind is the media kind of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track is a local media source. Disabled tracks stay attached to their
// connections but send nothing.
type Track interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop ends the track for good. Stopping twice is a no-op.
	Stop()
	// OnEnded registers fn to run once the track ends, whether through Stop
	// or because its source went away.
	OnEnded(fn func())
}
