package mesh

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/BioHazard786/meshcall/internal/peernet"
	"github.com/BioHazard786/meshcall/internal/peernet/memnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var fastTiming = Timing{
	SettleDelay:    20 * time.Millisecond,
	StaggerDelay:   5 * time.Millisecond,
	ChannelGrace:   50 * time.Millisecond,
	ChannelTimeout: 150 * time.Millisecond,
}

type participant struct {
	session *Session
	peer    *memnet.Peer
	devices *memnet.Devices
	id      peernet.ID
	role    Role
}

func newParticipant(t *testing.T, n *memnet.Network) *participant {
	t.Helper()
	p := &participant{peer: n.NewPeer(), devices: &memnet.Devices{}}
	p.session = NewSession(p.peer, p.devices, Options{Timing: fastTiming})
	t.Cleanup(func() { p.session.Leave() })
	return p
}

func joinRoom(t *testing.T, n *memnet.Network, room string, video bool) *participant {
	t.Helper()
	p := newParticipant(t, n)
	role, id, err := p.session.Join(context.Background(), room, video)
	require.NoError(t, err)
	p.role, p.id = role, id
	return p
}

// connected lists the peers p has a live stream from.
func (p *participant) connected() []peernet.ID {
	var ids []peernet.ID
	for _, ps := range p.session.State().Peers {
		if ps.HasStream {
			ids = append(ids, ps.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func ids(ps ...*participant) []peernet.ID {
	out := make([]peernet.ID, len(ps))
	for i, p := range ps {
		out[i] = p.id
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func requireMesh(t *testing.T, all ...*participant) {
	t.Helper()
	for _, p := range all {
		var others []*participant
		for _, o := range all {
			if o != p {
				others = append(others, o)
			}
		}
		want := ids(others...)
		require.Eventually(t, func() bool {
			got := p.connected()
			return assert.ObjectsAreEqual(want, got) && len(p.session.State().Peers) == len(want)
		}, waitFor, tick, "participant %s should see %v, has %v", p.id, want, p.connected())
	}
}

func TestHostAndGuest(t *testing.T) {
	n := memnet.New()
	host := joinRoom(t, n, "alpha", false)
	guest := joinRoom(t, n, "alpha", false)

	assert.Equal(t, RoleHost, host.role)
	assert.Equal(t, peernet.ID("alpha"), host.id)
	assert.Equal(t, RoleGuest, guest.role)

	requireMesh(t, host, guest)
	assert.Equal(t, 2, host.session.State().Participants)
	assert.Equal(t, 2, guest.session.State().Participants)

	hs := host.session.State().Peers[0]
	assert.Equal(t, Inbound, hs.Direction)
	assert.Equal(t, StateActive, hs.State)
	assert.True(t, hs.Audio)
	assert.False(t, hs.Video)
}

func TestGossipCompletesMesh(t *testing.T) {
	n := memnet.New()
	host := joinRoom(t, n, "alpha", true)
	g1 := joinRoom(t, n, "alpha", true)
	requireMesh(t, host, g1)

	g2 := joinRoom(t, n, "alpha", false)
	requireMesh(t, host, g1, g2)

	g3 := joinRoom(t, n, "alpha", false)
	requireMesh(t, host, g1, g2, g3)

	for _, p := range []*participant{host, g1, g2, g3} {
		assert.Equal(t, 4, p.session.State().Participants)
		assert.Len(t, p.peer.Calls(), 3, "one call per remote participant")
	}
}

func TestLeavingParticipantIsRemovedEverywhere(t *testing.T) {
	n := memnet.New()
	host := joinRoom(t, n, "alpha", false)
	g1 := joinRoom(t, n, "alpha", false)
	requireMesh(t, host, g1)
	g2 := joinRoom(t, n, "alpha", false)
	requireMesh(t, host, g1, g2)

	require.NoError(t, g1.session.Leave())
	requireMesh(t, host, g2)

	assert.Equal(t, 2, host.session.State().Participants)
	assert.Equal(t, 2, g2.session.State().Participants)
	assert.NotContains(t, n.Registered(), g1.id)
	assert.False(t, g1.session.State().Joined)
}

func TestLeaveIsIdempotent(t *testing.T) {
	n := memnet.New()
	p := joinRoom(t, n, "alpha", true)

	require.NoError(t, p.session.Leave())
	require.NoError(t, p.session.Leave())

	for _, tr := range p.devices.Issued() {
		assert.True(t, tr.Ended(), "track %s still running", tr.ID())
	}
	assert.Empty(t, n.Registered())
	assert.NoError(t, p.session.Err())

	_, err := p.session.ToggleMicrophone(context.Background())
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestLeaveWithoutJoin(t *testing.T) {
	s := NewSession(memnet.New().NewPeer(), &memnet.Devices{}, Options{})
	require.NoError(t, s.Leave())
	select {
	case <-s.Done():
	default:
		t.Fatal("session should be done")
	}
}

func TestJoinAbortsWhenMicrophoneDenied(t *testing.T) {
	n := memnet.New()
	p := newParticipant(t, n)
	p.devices.MicErr = peernet.ErrPermissionDenied

	_, _, err := p.session.Join(context.Background(), "alpha", false)
	require.ErrorIs(t, err, peernet.ErrPermissionDenied)
	assert.Empty(t, n.Registered())
}

func TestJoinAbortsWhenCameraDenied(t *testing.T) {
	n := memnet.New()
	p := newParticipant(t, n)
	p.devices.CameraErr = peernet.ErrPermissionDenied

	_, _, err := p.session.Join(context.Background(), "alpha", true)
	require.ErrorIs(t, err, peernet.ErrPermissionDenied)
	assert.Empty(t, n.Registered())
	require.Len(t, p.devices.Issued(), 1)
	assert.True(t, p.devices.Issued()[0].Ended(), "microphone released")
}

func TestJoinTwice(t *testing.T) {
	p := joinRoom(t, memnet.New(), "alpha", false)
	_, _, err := p.session.Join(context.Background(), "alpha", false)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestToggleMicrophoneThroughSession(t *testing.T) {
	p := joinRoom(t, memnet.New(), "alpha", false)
	ctx := context.Background()
	mic := p.devices.Last("mic")

	on, err := p.session.ToggleMicrophone(ctx)
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, mic.Enabled())
	assert.False(t, p.session.State().Media.Microphone)

	on, err = p.session.ToggleMicrophone(ctx)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, mic.Enabled())
}

func TestToggleCameraAcquiresAndPushesTrack(t *testing.T) {
	n := memnet.New()
	host := joinRoom(t, n, "alpha", false)
	guest := joinRoom(t, n, "alpha", false)
	requireMesh(t, host, guest)

	require.NoError(t, host.session.ToggleCamera(context.Background()))
	cam := host.devices.Last("camera")
	require.NotNil(t, cam)
	assert.True(t, host.session.State().Media.Camera)
	for _, c := range host.peer.Calls() {
		assert.Same(t, cam, c.OutboundVideo())
	}

	require.NoError(t, host.session.ToggleCamera(context.Background()))
	assert.False(t, cam.Enabled())
	assert.False(t, host.session.State().Media.Camera)
}

func TestToggleCameraDenied(t *testing.T) {
	p := joinRoom(t, memnet.New(), "alpha", false)
	p.devices.SetCameraErr(peernet.ErrPermissionDenied)

	err := p.session.ToggleCamera(context.Background())
	assert.ErrorIs(t, err, peernet.ErrPermissionDenied)
	assert.False(t, p.session.State().Media.Camera)
}

func TestScreenShareRoundTrip(t *testing.T) {
	n := memnet.New()
	host := joinRoom(t, n, "alpha", true)
	g1 := joinRoom(t, n, "alpha", true)
	g2 := joinRoom(t, n, "alpha", true)
	requireMesh(t, host, g1, g2)
	ctx := context.Background()
	original := host.devices.Last("camera")

	require.NoError(t, host.session.StartScreenShare(ctx))
	screen := host.devices.Last("display")
	require.NotNil(t, screen)
	assert.True(t, original.Ended())
	assert.True(t, host.session.State().Media.ScreenSharing)
	for _, c := range host.peer.Calls() {
		assert.Same(t, screen, c.OutboundVideo())
	}

	err := host.session.ToggleCamera(ctx)
	assert.ErrorIs(t, err, ErrScreenSharing)

	require.NoError(t, host.session.StopScreenShare(ctx))
	restored := host.devices.Last("camera")
	assert.NotSame(t, original, restored)
	assert.True(t, screen.Ended())

	st := host.session.State()
	assert.False(t, st.Media.ScreenSharing)
	assert.True(t, st.Media.Camera)
	calls := host.peer.Calls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Same(t, restored, c.OutboundVideo())
	}
}

func TestStopScreenShareWithoutCamera(t *testing.T) {
	n := memnet.New()
	host := joinRoom(t, n, "alpha", true)
	guest := joinRoom(t, n, "alpha", false)
	requireMesh(t, host, guest)
	ctx := context.Background()

	require.NoError(t, host.session.ToggleScreenShare(ctx))
	host.devices.SetCameraErr(peernet.ErrDeviceUnavailable)
	require.NoError(t, host.session.ToggleScreenShare(ctx))

	st := host.session.State()
	assert.False(t, st.Media.ScreenSharing)
	assert.False(t, st.Media.Camera)
	for _, c := range host.peer.Calls() {
		assert.Nil(t, c.OutboundVideo())
	}
}

func TestScreenShareCancelledIsNoop(t *testing.T) {
	p := joinRoom(t, memnet.New(), "alpha", true)
	p.devices.SetDisplayErr(peernet.ErrCaptureCancelled)

	require.NoError(t, p.session.StartScreenShare(context.Background()))
	st := p.session.State()
	assert.False(t, st.Media.ScreenSharing)
	assert.True(t, st.Media.Camera)
	assert.False(t, p.devices.Last("camera").Ended())
}

func TestCaptureEndedFromOutside(t *testing.T) {
	n := memnet.New()
	host := joinRoom(t, n, "alpha", false)
	guest := joinRoom(t, n, "alpha", false)
	requireMesh(t, host, guest)

	require.NoError(t, host.session.StartScreenShare(context.Background()))
	host.devices.Last("display").End()

	require.Eventually(t, func() bool {
		st := host.session.State()
		return !st.Media.ScreenSharing && st.Media.Camera
	}, waitFor, tick)
	cam := host.devices.Last("camera")
	for _, c := range host.peer.Calls() {
		assert.Same(t, cam, c.OutboundVideo())
	}
}

func TestCameraLossFallsBackToNoVideo(t *testing.T) {
	n := memnet.New()
	host := joinRoom(t, n, "alpha", true)
	guest := joinRoom(t, n, "alpha", false)
	requireMesh(t, host, guest)

	host.devices.Last("camera").End()
	require.Eventually(t, func() bool {
		return !host.session.State().Media.Camera
	}, waitFor, tick)
	for _, c := range host.peer.Calls() {
		assert.Nil(t, c.OutboundVideo())
	}
	assert.True(t, host.session.State().Joined)
}

func TestMicrophoneLossEndsSession(t *testing.T) {
	n := memnet.New()
	host := joinRoom(t, n, "alpha", false)
	guest := joinRoom(t, n, "alpha", false)
	requireMesh(t, host, guest)

	guest.devices.Last("mic").End()

	select {
	case <-guest.session.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not end")
	}
	assert.ErrorIs(t, guest.session.Err(), ErrMicrophoneLost)
	require.Eventually(t, func() bool {
		return len(host.session.State().Peers) == 0
	}, waitFor, tick)
	assert.Equal(t, []peernet.ID{"alpha"}, n.Registered())
}

func TestMediaRequestsWhileAcquiringAreBusy(t *testing.T) {
	p := joinRoom(t, memnet.New(), "alpha", false)
	ctx := context.Background()
	gate := make(chan struct{})
	p.devices.Gate = gate

	first := make(chan error, 1)
	go func() { first <- p.session.ToggleCamera(ctx) }()
	require.Eventually(t, func() bool { return p.devices.Waiting() == 1 }, waitFor, tick)

	assert.ErrorIs(t, p.session.ToggleCamera(ctx), ErrMediaBusy)
	assert.ErrorIs(t, p.session.StartScreenShare(ctx), ErrMediaBusy)
	assert.ErrorIs(t, p.session.ToggleScreenShare(ctx), ErrMediaBusy)
	assert.False(t, p.session.State().Media.Camera)

	close(gate)
	select {
	case err := <-first:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("camera toggle did not finish")
	}
	assert.True(t, p.session.State().Media.Camera)
	assert.Len(t, p.devices.Issued(), 2, "microphone and one camera")
}

func TestLeaveDuringAcquisitionStopsLateTrack(t *testing.T) {
	p := joinRoom(t, memnet.New(), "alpha", false)
	gate := make(chan struct{})
	p.devices.Gate = gate

	pending := make(chan error, 1)
	go func() { pending <- p.session.ToggleCamera(context.Background()) }()
	require.Eventually(t, func() bool { return p.devices.Waiting() == 1 }, waitFor, tick)

	require.NoError(t, p.session.Leave())
	select {
	case err := <-pending:
		assert.ErrorIs(t, err, ErrNotJoined)
	case <-time.After(waitFor):
		t.Fatal("pending toggle was not released by Leave")
	}

	close(gate)
	require.Eventually(t, func() bool {
		return p.devices.Last("camera") != nil
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		for _, tr := range p.devices.Issued() {
			if !tr.Ended() {
				return false
			}
		}
		return true
	}, waitFor, tick)
	assert.False(t, p.session.State().Media.Camera)
}

func TestNetworkLossEndsSession(t *testing.T) {
	n := memnet.New()
	host := joinRoom(t, n, "alpha", false)
	guest := joinRoom(t, n, "alpha", false)
	requireMesh(t, host, guest)

	require.NoError(t, guest.peer.Close())

	select {
	case <-guest.session.Done():
	case <-time.After(waitFor):
		t.Fatal("session survived losing its network")
	}
	assert.ErrorIs(t, guest.session.Err(), ErrNetworkLost)
	assert.False(t, guest.session.State().Joined)
	assert.True(t, guest.devices.Last("mic").Ended())
	require.Eventually(t, func() bool {
		return len(host.session.State().Peers) == 0
	}, waitFor, tick)
}

func TestStalledGossipIsNotFatal(t *testing.T) {
	n := memnet.New()
	n.StallChannels(true)
	host := joinRoom(t, n, "alpha", false)
	g1 := joinRoom(t, n, "alpha", false)
	requireMesh(t, host, g1)
	g2 := joinRoom(t, n, "alpha", false)

	require.Eventually(t, func() bool {
		return len(host.session.State().Peers) == 2
	}, waitFor, tick)
	time.Sleep(2 * fastTiming.ChannelTimeout)

	assert.Equal(t, []peernet.ID{host.id}, g2.connected(), "no peer list, no call to g1")
	assert.True(t, host.session.State().Joined)
	assert.True(t, g2.session.State().Joined)
}

func TestCrossedCallsKeepOne(t *testing.T) {
	n := memnet.New()
	host := joinRoom(t, n, "alpha", false)
	a := joinRoom(t, n, "alpha", false)
	b := joinRoom(t, n, "alpha", false)
	requireMesh(t, host, a, b)

	// Tear the a-b link down and have both ends redial at once.
	for _, c := range a.peer.Calls() {
		if c.Peer() == b.id {
			c.Close()
		}
	}
	require.Eventually(t, func() bool {
		return len(a.session.State().Peers) == 1 && len(b.session.State().Peers) == 1
	}, waitFor, tick)

	a.session.postLive(func() { a.session.dial(b.id) })
	b.session.postLive(func() { b.session.dial(a.id) })

	requireMesh(t, host, a, b)
	for _, p := range []*participant{a, b} {
		var live int
		for _, c := range p.peer.Calls() {
			if c.Peer() != host.id {
				live++
			}
		}
		assert.Equal(t, 1, live)
	}
}

func TestChangesSignalsUpdates(t *testing.T) {
	p := joinRoom(t, memnet.New(), "alpha", false)
	drain(p.session.Changes())

	_, err := p.session.ToggleMicrophone(context.Background())
	require.NoError(t, err)
	select {
	case <-p.session.Changes():
	case <-time.After(waitFor):
		t.Fatal("no change notification")
	}
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
