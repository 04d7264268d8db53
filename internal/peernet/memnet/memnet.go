// Package memnet is an in-process peer network. Every participant created
// from the same Network can reach every other one; calls and channels are
// delivered through the same event stream a real network would use.
package memnet

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BioHazard786/meshcall/internal/peernet"
	"github.com/google/uuid"
)

// Network is a shared identity namespace.
type Network struct {
	mu      sync.Mutex
	peers   map[peernet.ID]*Peer
	stalled bool
}

func New() *Network {
	return &Network{peers: make(map[peernet.ID]*Peer)}
}

// NewPeer returns an unregistered participant attached to n.
func (n *Network) NewPeer() *Peer {
	return &Peer{
		net:      n,
		queue:    peernet.NewQueue(),
		calls:    make(map[*Call]struct{}),
		channels: make(map[*Channel]struct{}),
	}
}

// StallChannels makes channels opened from now on never become usable.
func (n *Network) StallChannels(stall bool) {
	n.mu.Lock()
	n.stalled = stall
	n.mu.Unlock()
}

// Registered lists the identities currently claimed, sorted.
func (n *Network) Registered() []peernet.ID {
	n.mu.Lock()
	defer n.mu.Unlock()

	ids := make([]peernet.ID, 0, len(n.peers))
	for id := range n.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (n *Network) claim(id peernet.ID, p *Peer) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, taken := n.peers[id]; taken {
		return fmt.Errorf("register %q: %w", id, peernet.ErrUnavailableID)
	}
	n.peers[id] = p
	return nil
}

func (n *Network) release(id peernet.ID, p *Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.peers[id] == p {
		delete(n.peers, id)
	}
}

func (n *Network) lookup(id peernet.ID) *Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[id]
}

func (n *Network) channelsStalled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stalled
}

// Peer is one participant. It implements peernet.Service.
type Peer struct {
	net   *Network
	queue *peernet.Queue

	mu       sync.Mutex
	id       peernet.ID
	closed   bool
	calls    map[*Call]struct{}
	channels map[*Channel]struct{}
}

var _ peernet.Service = (*Peer)(nil)

func (p *Peer) Register(_ context.Context, desired peernet.ID) (peernet.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", peernet.ErrClosed
	}
	if p.id != "" {
		return "", peernet.ErrAlreadyRegistered
	}
	if desired == "" {
		desired = peernet.ID(uuid.NewString())
	}
	if err := p.net.claim(desired, p); err != nil {
		return "", err
	}
	p.id = desired
	return desired, nil
}

// ID returns the registered identity, or "" before Register.
func (p *Peer) ID() peernet.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

func (p *Peer) self() (peernet.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return "", peernet.ErrClosed
	case p.id == "":
		return "", peernet.ErrNotRegistered
	}
	return p.id, nil
}

func (p *Peer) Call(_ context.Context, remote peernet.ID, tracks []peernet.Track) (peernet.Call, error) {
	self, err := p.self()
	if err != nil {
		return nil, err
	}
	r := p.net.lookup(remote)
	if r == nil {
		return nil, fmt.Errorf("call %s: %w", remote, peernet.ErrPeerUnavailable)
	}

	local := &Call{owner: p, self: self, peer: remote, tracks: tracks, video: videoOf(tracks)}
	far := &Call{owner: r, self: remote, peer: self}
	local.other = far
	far.other = local

	p.adopt(local)
	if !r.adopt(far) {
		local.markClosed()
		p.drop(local)
		return nil, fmt.Errorf("call %s: %w", remote, peernet.ErrPeerUnavailable)
	}
	r.queue.Push(peernet.Event{Kind: peernet.EventCall, Peer: self, Call: far})
	return local, nil
}

func (p *Peer) Open(_ context.Context, remote peernet.ID) (peernet.Channel, error) {
	self, err := p.self()
	if err != nil {
		return nil, err
	}
	r := p.net.lookup(remote)
	if r == nil {
		return nil, fmt.Errorf("open %s: %w", remote, peernet.ErrPeerUnavailable)
	}

	local := &Channel{owner: p, self: self, peer: remote}
	far := &Channel{owner: r, self: remote, peer: self}
	local.other = far
	far.other = local

	p.adoptChannel(local)
	if !r.adoptChannel(far) {
		local.markClosed()
		p.dropChannel(local)
		return nil, fmt.Errorf("open %s: %w", remote, peernet.ErrPeerUnavailable)
	}
	r.queue.Push(peernet.Event{Kind: peernet.EventChannel, Peer: self, Channel: far})

	if !p.net.channelsStalled() {
		local.setOpen()
		far.setOpen()
		r.queue.Push(peernet.Event{Kind: peernet.EventChannelOpen, Peer: self, Channel: far})
		p.queue.Push(peernet.Event{Kind: peernet.EventChannelOpen, Peer: remote, Channel: local})
	}
	return local, nil
}

func (p *Peer) Events() <-chan peernet.Event {
	return p.queue.Events()
}

// Calls returns the calls this participant still holds open.
func (p *Peer) Calls() []*Call {
	p.mu.Lock()
	defer p.mu.Unlock()

	calls := make([]*Call, 0, len(p.calls))
	for c := range p.calls {
		calls = append(calls, c)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].peer < calls[j].peer })
	return calls
}

func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	id := p.id
	calls := make([]*Call, 0, len(p.calls))
	for c := range p.calls {
		calls = append(calls, c)
	}
	channels := make([]*Channel, 0, len(p.channels))
	for c := range p.channels {
		channels = append(channels, c)
	}
	p.mu.Unlock()

	for _, c := range calls {
		c.Close()
	}
	for _, c := range channels {
		c.Close()
	}
	if id != "" {
		p.net.release(id, p)
	}
	p.queue.Close()
	return nil
}

func (p *Peer) adopt(c *Call) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.calls[c] = struct{}{}
	return true
}

func (p *Peer) drop(c *Call) {
	p.mu.Lock()
	delete(p.calls, c)
	p.mu.Unlock()
}

func (p *Peer) adoptChannel(c *Channel) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.channels[c] = struct{}{}
	return true
}

func (p *Peer) dropChannel(c *Channel) {
	p.mu.Lock()
	delete(p.channels, c)
	p.mu.Unlock()
}

func videoOf(tracks []peernet.Track) peernet.Track {
	for _, t := range tracks {
		if t != nil && t.Kind() == peernet.KindVideo {
			return t
		}
	}
	return nil
}

func streamOf(id peernet.ID, tracks []peernet.Track) *peernet.Stream {
	s := &peernet.Stream{ID: string(id)}
	for _, t := range tracks {
		if t == nil {
			continue
		}
		switch t.Kind() {
		case peernet.KindAudio:
			s.Audio = true
		case peernet.KindVideo:
			s.Video = true
		}
	}
	return s
}
