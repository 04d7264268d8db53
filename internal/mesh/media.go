package mesh

import (
	"log/slog"

	"github.com/BioHazard786/meshcall/internal/peernet"
)

// LocalMediaState is what this participant is currently sending.
type LocalMediaState struct {
	MicrophoneEnabled bool
	CameraEnabled     bool
	ScreenSharing     bool
	VideoTrack        peernet.Track
}

// TrackController keeps the local tracks and every call's outbound video in
// agreement. There is at most one video track, and every call sends it (or
// nothing). Owned by the session loop.
type TrackController struct {
	audio peernet.Track
	state LocalMediaState
	calls func() []peernet.Call
	log   *slog.Logger
}

func NewTrackController(audio, video peernet.Track, calls func() []peernet.Call, log *slog.Logger) *TrackController {
	if log == nil {
		log = slog.Default()
	}
	if audio != nil {
		audio.SetEnabled(true)
	}
	return &TrackController{
		audio: audio,
		calls: calls,
		log:   log,
		state: LocalMediaState{
			MicrophoneEnabled: audio != nil,
			CameraEnabled:     video != nil,
			VideoTrack:        video,
		},
	}
}

func (c *TrackController) State() LocalMediaState {
	return c.state
}

func (c *TrackController) Audio() peernet.Track {
	return c.audio
}

// Tracks lists what a new call should carry.
func (c *TrackController) Tracks() []peernet.Track {
	tracks := make([]peernet.Track, 0, 2)
	if c.audio != nil {
		tracks = append(tracks, c.audio)
	}
	if c.state.VideoTrack != nil {
		tracks = append(tracks, c.state.VideoTrack)
	}
	return tracks
}

// ToggleMicrophone flips the audio track on or off and returns the new state.
func (c *TrackController) ToggleMicrophone() bool {
	if c.audio == nil {
		return false
	}
	enabled := !c.state.MicrophoneEnabled
	c.audio.SetEnabled(enabled)
	c.state.MicrophoneEnabled = enabled
	return enabled
}

// ToggleCamera flips the existing video track. It reports true when there is
// no video track and the caller has to acquire one for AttachCamera.
func (c *TrackController) ToggleCamera() (bool, error) {
	if c.state.ScreenSharing {
		return false, ErrScreenSharing
	}
	if c.state.VideoTrack == nil {
		return true, nil
	}
	enabled := !c.state.CameraEnabled
	c.state.VideoTrack.SetEnabled(enabled)
	c.state.CameraEnabled = enabled
	return false, nil
}

// AttachCamera installs a freshly acquired camera track. The track is
// stopped and ErrStaleMedia returned if video changed while it was acquired.
func (c *TrackController) AttachCamera(t peernet.Track) error {
	if c.state.ScreenSharing || c.state.VideoTrack != nil {
		t.Stop()
		return ErrStaleMedia
	}
	t.SetEnabled(true)
	c.state.VideoTrack = t
	c.state.CameraEnabled = true
	c.replace(t)
	return nil
}

// AttachScreen swaps the camera for a display capture.
func (c *TrackController) AttachScreen(t peernet.Track) error {
	if c.state.ScreenSharing {
		t.Stop()
		return ErrStaleMedia
	}
	prev := c.state.VideoTrack
	c.state.VideoTrack = t
	c.state.ScreenSharing = true
	c.state.CameraEnabled = false
	c.replace(t)
	if prev != nil {
		prev.Stop()
	}
	return nil
}

// DetachScreen ends the capture and leaves every call without video. It
// reports false when nothing was being shared.
func (c *TrackController) DetachScreen() bool {
	if !c.state.ScreenSharing {
		return false
	}
	capture := c.state.VideoTrack
	c.state.VideoTrack = nil
	c.state.ScreenSharing = false
	c.state.CameraEnabled = false
	c.replace(nil)
	if capture != nil {
		capture.Stop()
	}
	return true
}

// DropVideo removes t after its source went away. Tracks that are no longer
// current are ignored.
func (c *TrackController) DropVideo(t peernet.Track) bool {
	if c.state.VideoTrack == nil || c.state.VideoTrack != t {
		return false
	}
	c.state.VideoTrack = nil
	c.state.CameraEnabled = false
	c.state.ScreenSharing = false
	c.replace(nil)
	return true
}

func (c *TrackController) IsCurrentVideo(t peernet.Track) bool {
	return t != nil && c.state.VideoTrack == t
}

// StopAll ends every local track.
func (c *TrackController) StopAll() {
	if c.audio != nil {
		c.audio.Stop()
	}
	if c.state.VideoTrack != nil {
		c.state.VideoTrack.Stop()
		c.state.VideoTrack = nil
	}
	c.state.CameraEnabled = false
	c.state.ScreenSharing = false
}

func (c *TrackController) replace(t peernet.Track) {
	for _, call := range c.calls() {
		if err := call.ReplaceVideoTrack(t); err != nil {
			c.log.Warn("replace video track failed", "peer", call.Peer(), "error", err)
		}
	}
}
