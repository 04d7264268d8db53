package broker

import (
	"context"
	"time"

	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxIDLength   = 256
	guestAttempts = 3
	opTimeout     = 5 * time.Second
)

type envelope struct {
	client *Client
	msg    *signaling.Message
}

// Hub owns the identity table. All of its state is touched only by the Run
// goroutine.
type Hub struct {
	joins   chan *Client
	leaves  chan *Client
	inbound chan envelope
	done    chan struct{}

	clients map[*Client]struct{}
	peers   map[string]*Client

	dir Directory
	log zerolog.Logger
}

func NewHub(dir Directory, log zerolog.Logger) *Hub {
	return &Hub{
		joins:   make(chan *Client),
		leaves:  make(chan *Client),
		inbound: make(chan envelope),
		done:    make(chan struct{}),
		clients: make(map[*Client]struct{}),
		peers:   make(map[string]*Client),
		dir:     dir,
		log:     log,
	}
}

// Run processes hub events until ctx is cancelled. Connected clients are
// closed on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case c := <-h.joins:
			h.clients[c] = struct{}{}
			h.log.Debug().Str("remote", c.Conn.RemoteAddr().String()).Msg("client connected")

		case c := <-h.leaves:
			h.drop(ctx, c)

		case env := <-h.inbound:
			h.handle(ctx, env.client, env.msg)

		case msg, ok := <-h.dir.Inbound():
			if !ok {
				h.log.Error().Msg("directory feed closed")
				return
			}
			h.deliverForwarded(ctx, msg)

		case <-ctx.Done():
			for c := range h.clients {
				h.drop(context.Background(), c)
			}
			return
		}
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.joins <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.leaves <- c:
	case <-h.done:
	}
}

func (h *Hub) dispatch(c *Client, msg *signaling.Message) bool {
	select {
	case h.inbound <- envelope{client: c, msg: msg}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) drop(ctx context.Context, c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.Send)

	if c.ID == "" || h.peers[c.ID] != c {
		return
	}
	delete(h.peers, c.ID)

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := h.dir.Release(ctx, c.ID); err != nil {
		h.log.Warn().Err(err).Str("id", c.ID).Msg("release failed")
	}
	h.log.Info().Str("id", c.ID).Msg("identity released")
}

func (h *Hub) handle(ctx context.Context, c *Client, msg *signaling.Message) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	switch msg.Type {
	case signaling.MessageTypeRegister:
		h.handleRegister(ctx, c, msg.ID)
	case signaling.MessageTypeSignal:
		h.handleSignal(ctx, c, msg)
	default:
		h.reply(c, signaling.ErrorPayload{
			Kind:  signaling.ErrorKindInvalid,
			Error: "unknown message type " + msg.Type,
		})
	}
}

func (h *Hub) handleRegister(ctx context.Context, c *Client, desired string) {
	if c.ID != "" {
		h.reply(c, signaling.ErrorPayload{
			Kind:  signaling.ErrorKindAlreadyRegistered,
			Error: "connection already holds " + c.ID,
		})
		return
	}
	if len(desired) > maxIDLength {
		h.reply(c, signaling.ErrorPayload{Kind: signaling.ErrorKindInvalid, Error: "identity too long"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	id, taken, err := h.claim(ctx, desired)
	switch {
	case err != nil:
		h.log.Error().Err(err).Str("id", desired).Msg("claim failed")
		h.reply(c, signaling.ErrorPayload{Kind: signaling.ErrorKindInvalid, Error: "directory unavailable"})
		return
	case taken:
		h.log.Debug().Str("id", desired).Msg("identity unavailable")
		h.reply(c, signaling.ErrorPayload{
			Kind:  signaling.ErrorKindUnavailableID,
			Error: "identity is taken",
			Peer:  desired,
		})
		return
	}

	c.ID = id
	h.peers[id] = c
	h.send(c, &signaling.Message{Type: signaling.MessageTypeRegistered, ID: id})
	h.log.Info().Str("id", id).Msg("identity registered")
}

// claim takes desired, or a fresh identity when desired is empty.
func (h *Hub) claim(ctx context.Context, desired string) (id string, taken bool, err error) {
	if desired != "" {
		if _, local := h.peers[desired]; local {
			return "", true, nil
		}
		ok, err := h.dir.Claim(ctx, desired)
		return desired, !ok, err
	}

	for range guestAttempts {
		id := uuid.NewString()
		ok, err := h.dir.Claim(ctx, id)
		if err != nil {
			return "", false, err
		}
		if ok {
			return id, false, nil
		}
	}
	return "", true, nil
}

func (h *Hub) handleSignal(ctx context.Context, c *Client, msg *signaling.Message) {
	if c.ID == "" {
		h.reply(c, signaling.ErrorPayload{Kind: signaling.ErrorKindNotRegistered, Error: "register first"})
		return
	}

	out := &signaling.Message{
		Type:    signaling.MessageTypeSignal,
		From:    c.ID,
		To:      msg.To,
		Payload: msg.Payload,
	}

	if target, ok := h.peers[msg.To]; ok {
		h.send(target, out)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	forwarded, err := h.dir.Forward(ctx, out)
	if err != nil {
		h.log.Warn().Err(err).Str("to", msg.To).Msg("forward failed")
	}
	if !forwarded {
		h.reply(c, unavailable(out))
	}
}

// deliverForwarded hands a message from another instance to its local
// recipient, bouncing undeliverable signals back to their sender.
func (h *Hub) deliverForwarded(ctx context.Context, msg *signaling.Message) {
	if target, ok := h.peers[msg.To]; ok {
		h.send(target, msg)
		return
	}
	if msg.Type != signaling.MessageTypeSignal {
		return
	}

	bounce := signaling.NewError(unavailable(msg))
	bounce.To = msg.From

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := h.dir.Forward(ctx, bounce); err != nil {
		h.log.Debug().Err(err).Str("to", msg.From).Msg("bounce failed")
	}
}

func unavailable(msg *signaling.Message) signaling.ErrorPayload {
	var payload signaling.SignalPayload
	_ = msg.DecodePayload(&payload)

	return signaling.ErrorPayload{
		Kind:         signaling.ErrorKindPeerUnavailable,
		Error:        "peer is not connected",
		Peer:         msg.To,
		ConnectionID: payload.ConnectionID,
	}
}

func (h *Hub) reply(c *Client, payload signaling.ErrorPayload) {
	h.send(c, signaling.NewError(payload))
}

// send never blocks the hub; a client that cannot keep up is dropped.
func (h *Hub) send(c *Client, msg *signaling.Message) {
	select {
	case c.Send <- msg:
	default:
		h.log.Warn().Str("id", c.ID).Msg("send buffer full, disconnecting")
		h.drop(context.Background(), c)
	}
}
