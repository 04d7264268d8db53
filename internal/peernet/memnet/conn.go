package memnet

import (
	"errors"
	"sync"

	"github.com/BioHazard786/meshcall/internal/peernet"
)

var errAlreadyAnswered = errors.New("call already answered")

// Call is one end of an in-process media call.
type Call struct {
	owner *Peer
	other *Call
	self  peernet.ID
	peer  peernet.ID

	mu       sync.Mutex
	tracks   []peernet.Track
	video    peernet.Track
	answered bool
	closed   bool
	replaced int
}

var _ peernet.Call = (*Call)(nil)

func (c *Call) Peer() peernet.ID { return c.peer }

func (c *Call) Answer(tracks []peernet.Track) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return peernet.ErrClosed
	case c.answered:
		c.mu.Unlock()
		return errAlreadyAnswered
	}
	c.answered = true
	c.tracks = tracks
	c.video = videoOf(tracks)
	c.mu.Unlock()

	o := c.other
	o.mu.Lock()
	offered := o.tracks
	o.mu.Unlock()

	o.owner.queue.Push(peernet.Event{Kind: peernet.EventStream, Peer: c.self, Call: o, Stream: streamOf(c.self, tracks)})
	c.owner.queue.Push(peernet.Event{Kind: peernet.EventStream, Peer: c.peer, Call: c, Stream: streamOf(c.peer, offered)})
	return nil
}

func (c *Call) ReplaceVideoTrack(track peernet.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return peernet.ErrClosed
	}
	c.video = track
	c.replaced++
	return nil
}

// OutboundVideo is the video track currently sent on this call.
func (c *Call) OutboundVideo() peernet.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video
}

// Replacements counts ReplaceVideoTrack calls.
func (c *Call) Replacements() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaced
}

func (c *Call) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close ends the call on both sides. Each side sees EventClosed.
func (c *Call) Close() error {
	if !c.markClosed() {
		return nil
	}
	c.other.markClosed()

	c.owner.drop(c)
	c.other.owner.drop(c.other)

	c.owner.queue.Push(peernet.Event{Kind: peernet.EventClosed, Peer: c.peer, Call: c})
	c.other.owner.queue.Push(peernet.Event{Kind: peernet.EventClosed, Peer: c.self, Call: c.other})
	return nil
}

func (c *Call) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

// Channel is one end of an in-process signaling channel.
type Channel struct {
	owner *Peer
	other *Channel
	self  peernet.ID
	peer  peernet.ID

	mu     sync.Mutex
	open   bool
	closed bool
}

var _ peernet.Channel = (*Channel)(nil)

func (c *Channel) Peer() peernet.ID { return c.peer }

func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	ok := c.open && !c.closed
	c.mu.Unlock()
	if !ok {
		return peernet.ErrChannelNotOpen
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	c.other.owner.queue.Push(peernet.Event{Kind: peernet.EventData, Peer: c.self, Channel: c.other, Data: buf})
	return nil
}

func (c *Channel) Close() error {
	if !c.markClosed() {
		return nil
	}
	c.other.markClosed()

	c.owner.dropChannel(c)
	c.other.owner.dropChannel(c.other)

	c.owner.queue.Push(peernet.Event{Kind: peernet.EventChannelClosed, Peer: c.peer, Channel: c})
	c.other.owner.queue.Push(peernet.Event{Kind: peernet.EventChannelClosed, Peer: c.self, Channel: c.other})
	return nil
}

func (c *Channel) setOpen() {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
}

func (c *Channel) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}
