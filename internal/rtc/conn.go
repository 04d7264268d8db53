package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BioHazard786/meshcall/internal/peernet"
	"github.com/BioHazard786/meshcall/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

// conn is one peer connection with one remote participant. Exactly one of
// call and channel is set.
type conn struct {
	svc  *Service
	id   string
	peer peernet.ID
	kind string
	pc   *pion.PeerConnection
	log  *slog.Logger

	call    *mediaCall
	channel *dataChannel

	mu        sync.Mutex
	remoteSet bool
	pending   []pion.ICECandidateInit
	finished  bool
}

func (c *conn) event(kind peernet.EventKind) peernet.Event {
	ev := peernet.Event{Kind: kind, Peer: c.peer}
	if c.call != nil {
		ev.Call = c.call
	}
	if c.channel != nil {
		ev.Channel = c.channel
	}
	return ev
}

func (c *conn) push(ev peernet.Event) {
	c.svc.events.Push(ev)
}

// watch wires trickle ICE and connection state reporting.
func (c *conn) watch() {
	c.pc.OnICECandidate(func(candidate *pion.ICECandidate) {
		if candidate == nil {
			return
		}
		raw, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			c.log.Warn("marshal candidate", "error", err)
			return
		}
		c.send(signaling.SignalPayload{Type: signaling.SignalCandidate, ICECandidate: raw})
	})

	c.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		c.log.Debug("connection state", "state", state.String())
		switch state {
		case pion.PeerConnectionStateFailed:
			c.finish(peernet.EventError, ErrConnectionFailed, true)
		case pion.PeerConnectionStateClosed:
			c.finish(peernet.EventClosed, nil, false)
		}
	})
}

func (c *conn) send(p signaling.SignalPayload) {
	p.ConnectionID = c.id
	p.Kind = c.kind
	if err := c.svc.signal(c.peer, p); err != nil {
		c.log.Debug("signal not sent", "type", p.Type, "error", err)
	}
}

// offer starts the connection from our side. Candidates trickle afterwards.
func (c *conn) offer(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	c.send(signaling.SignalPayload{Type: signaling.SignalOffer, SDP: offer.SDP})
	return nil
}

func (c *conn) answer() error {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	c.send(signaling.SignalPayload{Type: signaling.SignalAnswer, SDP: answer.SDP})
	return nil
}

// setRemote applies the remote description and any candidates that arrived
// ahead of it.
func (c *conn) setRemote(desc pion.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, candidate := range pending {
		if err := c.pc.AddICECandidate(candidate); err != nil {
			c.log.Debug("queued candidate rejected", "error", err)
		}
	}
	return nil
}

func (c *conn) addCandidate(raw json.RawMessage) error {
	var candidate pion.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return fmt.Errorf("parse ICE candidate: %w", err)
	}

	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, candidate)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

// finish tears the connection down once and reports why. The terminal
// event for a channel that simply closed is EventChannelClosed.
func (c *conn) finish(kind peernet.EventKind, err error, bye bool) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.mu.Unlock()

	c.svc.forget(c.id)
	if bye {
		c.send(signaling.SignalPayload{Type: signaling.SignalBye})
	}
	if cerr := c.pc.Close(); cerr != nil {
		c.log.Debug("close peer connection", "error", cerr)
	}

	if kind == peernet.EventClosed && c.channel != nil {
		kind = peernet.EventChannelClosed
	}
	ev := c.event(kind)
	ev.Err = err
	if err != nil {
		c.log.Info("connection ended", "error", err)
	}
	c.push(ev)
}

func (c *conn) isFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}
