// Package rtc implements the peer network over WebRTC, with connection setup
// relayed through the broker.
package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/peernet"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v4"
)

// Options configures a Service.
type Options struct {
	BrokerURL string

	STUN       []string
	TURN       []string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// RegisterTimeout bounds each registration attempt. Zero means the
	// caller's context alone decides.
	RegisterTimeout time.Duration

	Logger *slog.Logger
}

// OptionsFromConfig maps the loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config, log *slog.Logger) Options {
	user, pass := cfg.TURNCredentials()
	return Options{
		BrokerURL:       cfg.BrokerURL,
		STUN:            cfg.STUNServers(),
		TURN:            cfg.TURNServers(),
		TURNUser:        user,
		TURNPass:        pass,
		ForceRelay:      cfg.ForceRelay,
		RegisterTimeout: cfg.Timing.RegisterTimeout,
		Logger:          log,
	}
}

// Service is one participant on the WebRTC peer network. Each call and each
// channel gets its own peer connection, identified on the broker by a
// connection id.
type Service struct {
	opts   Options
	api    *pion.API
	log    *slog.Logger
	events *peernet.Queue

	connectOnce sync.Once
	connectErr  error
	client      *signaling.Client
	handler     *signaling.Handler
	done        chan struct{}

	mu     sync.Mutex
	self   peernet.ID
	conns  map[string]*conn
	closed bool
}

var _ peernet.Service = (*Service)(nil)

func NewService(opts Options) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	api, err := newAPI()
	if err != nil {
		return nil, WrapError("create webrtc api", err, "codec or interceptor registration")
	}

	return &Service{
		opts:   opts,
		api:    api,
		log:    opts.Logger.With("component", "rtc"),
		events: peernet.NewQueue(),
		done:   make(chan struct{}),
		conns:  make(map[string]*conn),
	}, nil
}

func newAPI() (*pion.API, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, err
	}

	return pion.NewAPI(pion.WithMediaEngine(m), pion.WithInterceptorRegistry(registry)), nil
}

// newPeerConnection applies the ICE servers and relay policy.
func (s *Service) newPeerConnection() (*pion.PeerConnection, error) {
	var iceServers []pion.ICEServer
	if len(s.opts.STUN) > 0 {
		iceServers = append(iceServers, pion.ICEServer{URLs: s.opts.STUN})
	}
	if len(s.opts.TURN) > 0 {
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       s.opts.TURN,
			Username:   s.opts.TURNUser,
			Credential: s.opts.TURNPass,
		})
	}

	// Relay-only needs somewhere to relay through.
	policy := pion.ICETransportPolicyAll
	if len(s.opts.TURN) > 0 && (s.opts.ForceRelay || ShouldForceRelay()) {
		policy = pion.ICETransportPolicyRelay
	}

	return s.api.NewPeerConnection(pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
}

func (s *Service) connect(ctx context.Context) error {
	s.connectOnce.Do(func() {
		client := signaling.NewClient(s.opts.BrokerURL, s.opts.Logger)
		if err := client.Connect(ctx); err != nil {
			s.connectErr = WrapError("connect to broker", err, s.opts.BrokerURL)
			return
		}
		s.client = client
		s.handler = signaling.NewHandler(client)
		go s.handler.Start()
		go s.route()
	})
	return s.connectErr
}

func (s *Service) Register(ctx context.Context, desired peernet.ID) (peernet.ID, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return "", peernet.ErrClosed
	case s.self != "":
		s.mu.Unlock()
		return "", peernet.ErrAlreadyRegistered
	}
	s.mu.Unlock()

	if s.opts.RegisterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RegisterTimeout)
		defer cancel()
	}

	if err := s.connect(ctx); err != nil {
		return "", err
	}
	if err := s.client.SendMessage(signaling.NewRegister(string(desired))); err != nil {
		return "", peernet.ErrClosed
	}

	select {
	case id := <-s.handler.Registered:
		s.mu.Lock()
		s.self = peernet.ID(id)
		s.mu.Unlock()
		s.log.Debug("registered", "id", id)
		return peernet.ID(id), nil

	case rej := <-s.handler.Rejected:
		switch rej.Kind {
		case signaling.ErrorKindUnavailableID:
			return "", fmt.Errorf("register %q: %w", desired, peernet.ErrUnavailableID)
		case signaling.ErrorKindAlreadyRegistered:
			return "", peernet.ErrAlreadyRegistered
		default:
			return "", WrapError("register", fmt.Errorf("broker refused: %s", rej.Error), rej.Kind)
		}

	case <-s.handler.Disconnected:
		return "", peernet.ErrClosed

	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// registered returns our identity or ErrNotRegistered.
func (s *Service) registered() (peernet.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", peernet.ErrClosed
	}
	if s.self == "" {
		return "", peernet.ErrNotRegistered
	}
	return s.self, nil
}

func (s *Service) Call(ctx context.Context, remote peernet.ID, tracks []peernet.Track) (peernet.Call, error) {
	if _, err := s.registered(); err != nil {
		return nil, err
	}

	c, err := s.newConn(uuid.NewString(), remote, signaling.KindMedia)
	if err != nil {
		return nil, NewError("call", remote, err)
	}
	call := newMediaCall(c)
	if err := call.attach(tracks); err != nil {
		c.finish(peernet.EventError, err, false)
		return nil, NewError("call", remote, err)
	}
	if err := c.offer(ctx); err != nil {
		c.finish(peernet.EventError, err, false)
		return nil, NewError("call", remote, err)
	}
	return call, nil
}

func (s *Service) Open(ctx context.Context, remote peernet.ID) (peernet.Channel, error) {
	if _, err := s.registered(); err != nil {
		return nil, err
	}

	c, err := s.newConn(uuid.NewString(), remote, signaling.KindData)
	if err != nil {
		return nil, NewError("open channel", remote, err)
	}
	ch := newDataChannel(c)
	if err := ch.create(); err != nil {
		c.finish(peernet.EventError, err, false)
		return nil, NewError("open channel", remote, err)
	}
	if err := c.offer(ctx); err != nil {
		c.finish(peernet.EventError, err, false)
		return nil, NewError("open channel", remote, err)
	}
	return ch, nil
}

func (s *Service) Events() <-chan peernet.Event {
	return s.events.Events()
}

func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.finish(peernet.EventClosed, nil, true)
	}

	close(s.done)
	if s.client != nil {
		s.client.Close()
	}
	s.events.Close()
	return nil
}

// route applies broker traffic to the connections it belongs to.
func (s *Service) route() {
	for {
		select {
		case sig := <-s.handler.Signal:
			s.handleSignal(sig)

		case e := <-s.handler.PeerError:
			c := s.lookup(e.ConnectionID)
			if c == nil {
				s.log.Debug("peer error for unknown connection", "peer", e.Peer)
				continue
			}
			c.finish(peernet.EventError, fmt.Errorf("%w: %s", peernet.ErrPeerUnavailable, e.Peer), false)

		case <-s.handler.Disconnected:
			select {
			case <-s.done:
			default:
				s.log.Warn("broker connection lost")
				s.events.Push(peernet.Event{Kind: peernet.EventError, Err: ErrBrokerLost})
			}
			return

		case <-s.done:
			return
		}
	}
}

func (s *Service) handleSignal(sig *signaling.Signal) {
	p := sig.Payload
	from := peernet.ID(sig.From)

	c := s.lookup(p.ConnectionID)
	if c == nil {
		if p.Type == signaling.SignalOffer {
			s.accept(from, p)
		} else {
			s.log.Debug("signal for unknown connection", "type", p.Type, "from", from)
		}
		return
	}
	if c.peer != from {
		s.log.Warn("signal from wrong participant", "from", from, "connection", p.ConnectionID)
		return
	}

	var err error
	switch p.Type {
	case signaling.SignalAnswer:
		err = c.setRemote(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: p.SDP})
	case signaling.SignalCandidate:
		err = c.addCandidate(p.ICECandidate)
	case signaling.SignalBye:
		c.finish(peernet.EventClosed, nil, false)
	default:
		err = fmt.Errorf("%w: %s", ErrUnexpectedSignal, p.Type)
	}
	if err != nil {
		s.log.Warn("signal handling failed", "type", p.Type, "peer", from, "error", err)
	}
}

// accept sets up the answering side of a connection.
func (s *Service) accept(from peernet.ID, p signaling.SignalPayload) {
	if _, err := s.registered(); err != nil {
		return
	}

	c, err := s.newConn(p.ConnectionID, from, p.Kind)
	if err != nil {
		s.log.Warn("inbound connection failed", "peer", from, "error", err)
		return
	}

	offer := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: p.SDP}

	switch p.Kind {
	case signaling.KindMedia:
		call := newMediaCall(c)
		if err := c.setRemote(offer); err != nil {
			c.finish(peernet.EventError, err, true)
			return
		}
		s.events.Push(peernet.Event{Kind: peernet.EventCall, Peer: from, Call: call})

	case signaling.KindData:
		ch := newDataChannel(c)
		ch.await()
		if err := c.setRemote(offer); err != nil {
			c.finish(peernet.EventError, err, true)
			return
		}
		if err := c.answer(); err != nil {
			c.finish(peernet.EventError, err, true)
		}

	default:
		s.log.Warn("unknown connection kind", "kind", p.Kind, "peer", from)
		c.finish(peernet.EventError, ErrUnexpectedSignal, true)
	}
}

func (s *Service) newConn(id string, peer peernet.ID, kind string) (*conn, error) {
	pc, err := s.newPeerConnection()
	if err != nil {
		return nil, err
	}

	c := &conn{
		svc:  s,
		id:   id,
		peer: peer,
		kind: kind,
		pc:   pc,
		log:  s.log.With("peer", peer, "connection", id, "kind", kind),
	}
	c.watch()

	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()
	return c, nil
}

func (s *Service) lookup(id string) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[id]
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *Service) signal(to peernet.ID, payload signaling.SignalPayload) error {
	msg, err := signaling.NewSignal(string(to), payload)
	if err != nil {
		return err
	}
	return s.client.SendMessage(msg)
}
