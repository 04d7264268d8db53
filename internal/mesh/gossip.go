package mesh

import (
	"context"
	"log/slog"
	"time"

	"github.com/BioHazard786/meshcall/internal/peernet"
	"github.com/BioHazard786/meshcall/internal/wire"
)

// Timing holds the delays the mesh protocol relies on.
type Timing struct {
	// SettleDelay is how long the host waits after accepting a newcomer
	// before sending it the peer list.
	SettleDelay time.Duration
	// StaggerDelay spaces out a newcomer's outbound calls.
	StaggerDelay time.Duration
	// ChannelGrace keeps a peer-list channel open after sending so the
	// message drains before close.
	ChannelGrace time.Duration
	// ChannelTimeout bounds how long a peer-list channel may take to open.
	ChannelTimeout time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		SettleDelay:    time.Second,
		StaggerDelay:   300 * time.Millisecond,
		ChannelGrace:   2 * time.Second,
		ChannelTimeout: 10 * time.Second,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t == (Timing{}) {
		return d
	}
	if t.SettleDelay <= 0 {
		t.SettleDelay = d.SettleDelay
	}
	if t.StaggerDelay < 0 {
		t.StaggerDelay = d.StaggerDelay
	}
	if t.ChannelGrace <= 0 {
		t.ChannelGrace = d.ChannelGrace
	}
	if t.ChannelTimeout <= 0 {
		t.ChannelTimeout = d.ChannelTimeout
	}
	return t
}

type delivery struct {
	to   peernet.ID
	sent bool
}

// Gossip hands newcomers the list of participants they still have to call,
// and calls the participants listed in lists we receive. Lists are pushed
// once per newcomer and never re-sent; a lost list leaves that newcomer
// unconnected to the peers on it.
type Gossip struct {
	ctx      context.Context
	self     peernet.ID
	net      peernet.Service
	registry *Registry
	timing   Timing
	log      *slog.Logger

	// after runs fn on the owning loop once d has passed.
	after func(d time.Duration, fn func())
	dial  func(peernet.ID)

	pending map[peernet.Channel]*delivery
	inbound map[peernet.Channel]struct{}
}

func newGossip(ctx context.Context, self peernet.ID, net peernet.Service, registry *Registry, timing Timing,
	after func(time.Duration, func()), dial func(peernet.ID), log *slog.Logger,
) *Gossip {
	return &Gossip{
		ctx:      ctx,
		self:     self,
		net:      net,
		registry: registry,
		timing:   timing,
		log:      log,
		after:    after,
		dial:     dial,
		pending:  make(map[peernet.Channel]*delivery),
		inbound:  make(map[peernet.Channel]struct{}),
	}
}

// Welcome schedules the peer-list push to a newcomer we just accepted.
func (g *Gossip) Welcome(newcomer peernet.ID) {
	g.after(g.timing.SettleDelay, func() { g.push(newcomer) })
}

func (g *Gossip) push(newcomer peernet.ID) {
	if !g.registry.Has(newcomer) {
		return
	}
	if len(g.registry.Snapshot(newcomer)) == 0 {
		return
	}

	ch, err := g.net.Open(g.ctx, newcomer)
	if err != nil {
		g.log.Warn("peer list channel failed", "peer", newcomer, "error", err)
		return
	}
	g.pending[ch] = &delivery{to: newcomer}

	g.after(g.timing.ChannelTimeout, func() {
		d, ok := g.pending[ch]
		if !ok || d.sent {
			return
		}
		g.log.Warn("peer list channel timed out", "peer", newcomer)
		delete(g.pending, ch)
		ch.Close()
	})
}

// Opened sends the list on a channel we opened once it becomes usable.
func (g *Gossip) Opened(ch peernet.Channel) {
	d, ok := g.pending[ch]
	if !ok || d.sent {
		return
	}

	peers := g.registry.Snapshot(d.to)
	data, err := wire.EncodePeerList(peers)
	if err == nil {
		err = ch.Send(data)
	}
	if err != nil {
		g.log.Warn("peer list send failed", "peer", d.to, "error", err)
		delete(g.pending, ch)
		ch.Close()
		return
	}
	d.sent = true
	g.log.Debug("peer list sent", "peer", d.to, "peers", len(peers))

	g.after(g.timing.ChannelGrace, func() {
		delete(g.pending, ch)
		ch.Close()
	})
}

// Accept tracks a channel a remote participant opened to us.
func (g *Gossip) Accept(ch peernet.Channel) {
	g.inbound[ch] = struct{}{}
}

// Receive handles a message on any channel. Every listed participant we
// are not yet connected to gets a call, spaced StaggerDelay apart.
func (g *Gossip) Receive(from peernet.ID, data []byte) {
	msg, err := wire.DecodePeerList(data)
	if err != nil {
		g.log.Warn("discarding channel message", "peer", from, "error", err)
		return
	}

	n := 0
	for _, id := range msg.IDs() {
		if id == g.self || g.registry.Has(id) {
			continue
		}
		id := id
		g.after(time.Duration(n)*g.timing.StaggerDelay, func() { g.dial(id) })
		n++
	}
	g.log.Debug("peer list received", "peer", from, "listed", len(msg.Peers), "calling", n)
}

// Forget drops a closed channel.
func (g *Gossip) Forget(ch peernet.Channel) {
	delete(g.pending, ch)
	delete(g.inbound, ch)
}

// Close shuts every channel still open.
func (g *Gossip) Close() {
	for ch := range g.pending {
		ch.Close()
	}
	for ch := range g.inbound {
		ch.Close()
	}
	g.pending = make(map[peernet.Channel]*delivery)
	g.inbound = make(map[peernet.Channel]struct{})
}
