package mesh

import "github.com/BioHazard786/meshcall/internal/peernet"

// PeerState describes one remote participant as seen from here.
type PeerState struct {
	ID        peernet.ID
	State     ConnState
	Direction Direction
	HasStream bool
	Audio     bool
	Video     bool
}

// MediaFlags mirrors LocalMediaState without the track itself.
type MediaFlags struct {
	Microphone    bool
	Camera        bool
	ScreenSharing bool
}

// State is a point-in-time view of a session.
type State struct {
	Joined       bool
	Room         string
	Role         Role
	Self         peernet.ID
	Participants int
	Peers        []PeerState
	Media        MediaFlags
}

func buildState(s *Session) State {
	st := State{
		Joined: !s.left,
		Room:   s.room,
		Role:   s.role,
		Self:   s.self,
	}
	if s.left {
		return st
	}

	entries := s.registry.Entries()
	st.Participants = len(entries) + 1
	st.Peers = make([]PeerState, 0, len(entries))
	for _, e := range entries {
		ps := PeerState{ID: e.Peer, State: e.State, Direction: e.Direction, HasStream: e.Stream != nil}
		if e.Stream != nil {
			ps.Audio = e.Stream.Audio
			ps.Video = e.Stream.Video
		}
		st.Peers = append(st.Peers, ps)
	}

	m := s.media.State()
	st.Media = MediaFlags{
		Microphone:    m.MicrophoneEnabled,
		Camera:        m.CameraEnabled,
		ScreenSharing: m.ScreenSharing,
	}
	return st
}
