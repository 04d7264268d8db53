// Package mesh coordinates a full-mesh group call: it decides who hosts a
// room, introduces newcomers to everyone already present, and keeps local
// media consistent across every connection.
package mesh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/peernet"
)

// Devices acquires local media tracks.
type Devices interface {
	Microphone(ctx context.Context) (peernet.Track, error)
	Camera(ctx context.Context) (peernet.Track, error)
	Display(ctx context.Context) (peernet.Track, error)
}

type Options struct {
	Timing Timing
	Logger *slog.Logger
}

type phase int

const (
	phaseIdle phase = iota
	phaseJoining
	phaseJoined
	phaseLeft
)

// Session is one participant's membership in one call. All call state is
// owned by a single goroutine; public methods hand work to it and wait.
// A Session cannot be rejoined after Leave.
type Session struct {
	net     peernet.Service
	devices Devices
	timing  Timing
	log     *slog.Logger

	wake     chan struct{}
	changes  chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	postMu  sync.Mutex
	pending []func()
	exited  bool

	mu         sync.Mutex
	phase      phase
	abandoned  bool
	joinCancel context.CancelFunc
	snapshot   State
	cause      error
	closeErr   error

	// Owned by the loop once joined.
	ctx       context.Context
	cancel    context.CancelFunc
	room      string
	role      Role
	self      peernet.ID
	registry  *Registry
	media     *TrackController
	gossip    *Gossip
	timers    map[*time.Timer]struct{}
	mediaBusy bool
	left      bool
}

func NewSession(net peernet.Service, devices Devices, opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		net:     net,
		devices: devices,
		timing:  opts.Timing.withDefaults(),
		log:     log.With("component", "mesh"),
		wake:    make(chan struct{}, 1),
		changes: make(chan struct{}, 1),
		stopped: make(chan struct{}),
		timers:  make(map[*time.Timer]struct{}),
	}
}

// Join acquires local media, settles our role in room and starts the
// session. A microphone is required; the camera only when withVideo is set.
// Any failure leaves nothing registered and no track running.
func (s *Session) Join(ctx context.Context, room string, withVideo bool) (Role, peernet.ID, error) {
	if room == "" {
		return 0, "", ErrEmptyRoom
	}

	s.mu.Lock()
	if s.phase != phaseIdle {
		s.mu.Unlock()
		return 0, "", ErrAlreadyJoined
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.phase = phaseJoining
	s.joinCancel = cancel
	s.mu.Unlock()

	role, id, err := s.join(ctx, room, withVideo)
	if err != nil {
		s.mu.Lock()
		s.phase = phaseLeft
		s.cause = err
		s.mu.Unlock()
		s.closeStopped()
		return 0, "", err
	}
	return role, id, nil
}

func (s *Session) join(ctx context.Context, room string, withVideo bool) (Role, peernet.ID, error) {
	audio, err := s.devices.Microphone(ctx)
	if err != nil {
		s.net.Close()
		return 0, "", NewError("acquire microphone", err)
	}

	var video peernet.Track
	if withVideo {
		video, err = s.devices.Camera(ctx)
		if err != nil {
			audio.Stop()
			s.net.Close()
			return 0, "", NewError("acquire camera", err)
		}
	}

	abort := func() {
		audio.Stop()
		if video != nil {
			video.Stop()
		}
		s.net.Close()
	}

	role, id, err := ResolveIdentity(ctx, s.net, room)
	if err != nil {
		abort()
		return 0, "", err
	}

	s.mu.Lock()
	if s.abandoned {
		s.mu.Unlock()
		abort()
		return 0, "", context.Canceled
	}
	s.phase = phaseJoined
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.room, s.role, s.self = room, role, id
	s.registry = NewRegistry(s.log)
	s.media = NewTrackController(audio, video, s.registry.Handles, s.log)
	s.gossip = newGossip(s.ctx, id, s.net, s.registry, s.timing, s.after, s.dial, s.log)
	s.watchAudio(audio)
	if video != nil {
		s.watchVideo(video)
	}
	st := buildState(s)
	s.mu.Lock()
	s.snapshot = st
	s.mu.Unlock()

	go s.run()

	s.log.Info("joined room", "room", room, "role", role, "id", id)
	if role == RoleGuest {
		s.postLive(func() { s.dial(peernet.ID(room)) })
	}
	s.postLive(s.publish)
	return role, id, nil
}

// Leave closes every connection, stops every local track and releases our
// identity, in that order. It is safe to call more than once and on a
// session that never joined.
func (s *Session) Leave() error {
	s.mu.Lock()
	switch s.phase {
	case phaseIdle:
		s.phase = phaseLeft
		s.mu.Unlock()
		s.closeStopped()
		return nil
	case phaseJoining:
		s.abandoned = true
		cancel := s.joinCancel
		s.mu.Unlock()
		cancel()
		<-s.stopped
		return nil
	case phaseLeft:
		err := s.closeErr
		s.mu.Unlock()
		<-s.stopped
		return err
	}
	s.mu.Unlock()

	s.post(func() { s.leave(nil) })
	<-s.stopped

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// ToggleMicrophone mutes or unmutes and returns whether the microphone is
// now on.
func (s *Session) ToggleMicrophone(ctx context.Context) (bool, error) {
	var enabled bool
	err := s.exec(ctx, func() error {
		enabled = s.media.ToggleMicrophone()
		s.publish()
		return nil
	})
	return enabled, err
}

// ToggleCamera turns the camera off or on, acquiring one if there is none.
func (s *Session) ToggleCamera(ctx context.Context) error {
	return s.async(ctx, s.toggleCamera)
}

func (s *Session) StartScreenShare(ctx context.Context) error {
	return s.async(ctx, s.startScreenShare)
}

func (s *Session) StopScreenShare(ctx context.Context) error {
	return s.async(ctx, s.stopScreenShare)
}

func (s *Session) ToggleScreenShare(ctx context.Context) error {
	return s.async(ctx, func(reply func(error)) {
		if s.media.State().ScreenSharing {
			s.stopScreenShare(reply)
			return
		}
		s.startScreenShare(reply)
	})
}

// State returns the latest published view of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Changes receives a value whenever State may have changed.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

// Done is closed once the session has ended, by Leave or on its own.
func (s *Session) Done() <-chan struct{} {
	return s.stopped
}

// Err reports why the session ended on its own, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Session) run() {
	defer s.closeStopped()

	events := s.net.Events()
	for !s.left {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				s.log.Error("peer network closed unexpectedly")
				s.leave(ErrNetworkLost)
				continue
			}
			s.handle(ev)
		case <-s.wake:
			for _, fn := range s.take() {
				fn()
			}
		}
	}

	s.postMu.Lock()
	s.exited = true
	rest := s.pending
	s.pending = nil
	s.postMu.Unlock()
	for _, fn := range rest {
		fn()
	}
}

func (s *Session) handle(ev peernet.Event) {
	s.log.Debug("network event", "kind", ev.Kind, "peer", ev.Peer)

	switch ev.Kind {
	case peernet.EventCall:
		s.accept(ev.Peer, ev.Call)

	case peernet.EventStream:
		if !s.registry.Owns(ev.Peer, ev.Call) {
			s.log.Debug("stream for unregistered call ignored", "peer", ev.Peer)
			return
		}
		s.registry.AttachStream(ev.Peer, ev.Stream)
		s.log.Info("participant connected", "peer", ev.Peer)
		s.publish()

	case peernet.EventClosed, peernet.EventError:
		if ev.Channel != nil {
			s.gossip.Forget(ev.Channel)
			return
		}
		if ev.Call == nil {
			s.log.Warn("peer network error", "error", ev.Err)
			return
		}
		if !s.registry.Owns(ev.Peer, ev.Call) {
			return
		}
		s.registry.Remove(ev.Peer)
		if ev.Kind == peernet.EventError {
			s.log.Warn("connection failed", "peer", ev.Peer, "error", ev.Err)
		} else {
			s.log.Info("participant left", "peer", ev.Peer)
		}
		s.publish()

	case peernet.EventChannel:
		s.gossip.Accept(ev.Channel)

	case peernet.EventChannelOpen:
		s.gossip.Opened(ev.Channel)

	case peernet.EventData:
		s.gossip.Receive(ev.Peer, ev.Data)

	case peernet.EventChannelClosed:
		s.gossip.Forget(ev.Channel)
	}
}

// accept answers an inbound call unless we already have one with that
// participant. When both sides called each other at once, the call placed
// by the smaller identity wins on both ends.
func (s *Session) accept(peer peernet.ID, call peernet.Call) {
	if e, ok := s.registry.Lookup(peer); ok {
		if e.Direction == Outbound && e.State == StatePending && peer < s.self {
			s.log.Debug("yielding crossed call", "peer", peer)
			s.registry.Remove(peer)
			e.Handle.Close()
		} else {
			s.log.Debug("duplicate call rejected", "peer", peer)
			call.Close()
			return
		}
	}

	s.registry.Register(peer, call, Inbound)
	if err := call.Answer(s.media.Tracks()); err != nil {
		s.log.Warn("answer failed", "peer", peer, "error", err)
		s.registry.Remove(peer)
		call.Close()
		s.publish()
		return
	}
	if s.role == RoleHost {
		s.gossip.Welcome(peer)
	}
	s.publish()
}

// dial is the one path for outbound calls.
func (s *Session) dial(peer peernet.ID) {
	if peer == s.self || s.registry.Has(peer) {
		return
	}

	call, err := s.net.Call(s.ctx, peer, s.media.Tracks())
	if err != nil {
		s.log.Warn("call failed", "peer", peer, "error", err)
		return
	}
	s.registry.Register(peer, call, Outbound)
	s.publish()
}

func (s *Session) toggleCamera(reply func(error)) {
	if s.mediaBusy {
		reply(ErrMediaBusy)
		return
	}
	need, err := s.media.ToggleCamera()
	if err != nil || !need {
		s.publish()
		reply(err)
		return
	}

	s.acquire(s.devices.Camera, func(t peernet.Track, err error) {
		if err != nil {
			reply(NewError("acquire camera", err))
			return
		}
		if err := s.media.AttachCamera(t); err != nil {
			reply(err)
			return
		}
		s.watchVideo(t)
		s.publish()
		reply(nil)
	})
}

func (s *Session) startScreenShare(reply func(error)) {
	if s.media.State().ScreenSharing {
		reply(nil)
		return
	}
	if s.mediaBusy {
		reply(ErrMediaBusy)
		return
	}

	s.acquire(s.devices.Display, func(t peernet.Track, err error) {
		if errors.Is(err, peernet.ErrCaptureCancelled) {
			reply(nil)
			return
		}
		if err != nil {
			reply(NewError("acquire display", err))
			return
		}
		if err := s.media.AttachScreen(t); err != nil {
			reply(err)
			return
		}
		t.OnEnded(func() {
			s.postLive(func() {
				if s.media.IsCurrentVideo(t) {
					s.log.Info("screen capture ended")
					s.stopScreenShare(func(error) {})
				}
			})
		})
		s.publish()
		reply(nil)
	})
}

// stopScreenShare drops the capture straight away, then tries to bring the
// camera back. No camera just means no video.
func (s *Session) stopScreenShare(reply func(error)) {
	if !s.media.State().ScreenSharing {
		reply(nil)
		return
	}
	if s.mediaBusy {
		reply(ErrMediaBusy)
		return
	}

	s.media.DetachScreen()
	s.publish()

	s.acquire(s.devices.Camera, func(t peernet.Track, err error) {
		if err != nil {
			s.log.Warn("camera unavailable after screen share", "error", err)
			reply(nil)
			return
		}
		if err := s.media.AttachCamera(t); err != nil {
			reply(err)
			return
		}
		s.watchVideo(t)
		s.publish()
		reply(nil)
	})
}

// acquire runs get off the loop and continues with then on the loop. Only
// one acquisition runs at a time. If the session ended meanwhile the track
// is stopped and then is not called.
func (s *Session) acquire(get func(context.Context) (peernet.Track, error), then func(peernet.Track, error)) {
	s.mediaBusy = true
	ctx := s.ctx

	go func() {
		t, err := get(ctx)
		posted := s.post(func() {
			s.mediaBusy = false
			if s.left {
				if t != nil {
					t.Stop()
				}
				return
			}
			then(t, err)
		})
		if !posted && t != nil {
			t.Stop()
		}
	}()
}

func (s *Session) watchAudio(t peernet.Track) {
	t.OnEnded(func() {
		s.postLive(func() {
			if s.media.Audio() == t {
				s.log.Error("microphone lost")
				s.leave(ErrMicrophoneLost)
			}
		})
	})
}

func (s *Session) watchVideo(t peernet.Track) {
	t.OnEnded(func() {
		s.postLive(func() {
			if s.media.State().ScreenSharing {
				return
			}
			if s.media.DropVideo(t) {
				s.log.Warn("camera lost")
				s.publish()
			}
		})
	})
}

func (s *Session) leave(cause error) {
	if s.left {
		return
	}
	s.left = true

	for _, e := range s.registry.Entries() {
		s.registry.Remove(e.Peer)
		if err := e.Handle.Close(); err != nil {
			s.log.Debug("close call", "peer", e.Peer, "error", err)
		}
	}
	s.gossip.Close()
	s.media.StopAll()
	for t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.cancel()
	err := s.net.Close()

	s.mu.Lock()
	s.phase = phaseLeft
	s.cause = cause
	s.closeErr = err
	s.mu.Unlock()

	s.publish()
	s.log.Info("left room", "room", s.room)
}

func (s *Session) publish() {
	st := buildState(s)
	s.mu.Lock()
	s.snapshot = st
	s.mu.Unlock()

	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// after runs fn on the loop once d has passed, unless the session ended.
func (s *Session) after(d time.Duration, fn func()) {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.postLive(func() {
			delete(s.timers, t)
			fn()
		})
	})
	s.timers[t] = struct{}{}
}

// post queues fn for the loop without blocking. It reports false once the
// loop has exited.
func (s *Session) post(fn func()) bool {
	s.postMu.Lock()
	if s.exited {
		s.postMu.Unlock()
		return false
	}
	s.pending = append(s.pending, fn)
	s.postMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// postLive is post for work that only makes sense while joined.
func (s *Session) postLive(fn func()) bool {
	return s.post(func() {
		if !s.left {
			fn()
		}
	})
}

func (s *Session) take() []func() {
	s.postMu.Lock()
	defer s.postMu.Unlock()
	fns := s.pending
	s.pending = nil
	return fns
}

func (s *Session) joined() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != phaseJoined {
		return ErrNotJoined
	}
	return nil
}

// exec runs fn on the loop and returns its result.
func (s *Session) exec(ctx context.Context, fn func() error) error {
	if err := s.joined(); err != nil {
		return err
	}

	result := make(chan error, 1)
	if !s.postLive(func() { result <- fn() }) {
		return ErrNotJoined
	}
	return s.wait(ctx, result)
}

// async starts an operation on the loop that replies later, possibly after
// an acquisition.
func (s *Session) async(ctx context.Context, start func(reply func(error))) error {
	if err := s.joined(); err != nil {
		return err
	}

	result := make(chan error, 1)
	reply := func(err error) {
		select {
		case result <- err:
		default:
		}
	}
	if !s.postLive(func() { start(reply) }) {
		return ErrNotJoined
	}
	return s.wait(ctx, result)
}

func (s *Session) wait(ctx context.Context, result <-chan error) error {
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		select {
		case err := <-result:
			return err
		default:
			return ErrNotJoined
		}
	}
}

func (s *Session) closeStopped() {
	s.stopOnce.Do(func() { close(s.stopped) })
}
