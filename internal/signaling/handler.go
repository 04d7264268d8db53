package signaling

import "log/slog"

// Handler routes incoming broker messages to typed channels.
type Handler struct {
	client *Client
	log    *slog.Logger

	// Registered carries the identity the broker granted us.
	Registered chan string
	// Rejected carries registration failures.
	Rejected chan *ErrorPayload
	// Signal carries connection setup messages from other participants.
	Signal chan *Signal
	// PeerError carries failures to reach another participant.
	PeerError chan *ErrorPayload
	// Disconnected is closed once the broker connection is gone.
	Disconnected chan struct{}
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client:       client,
		log:          client.log,
		Registered:   make(chan string, 1),
		Rejected:     make(chan *ErrorPayload, 1),
		Signal:       make(chan *Signal, 64),
		PeerError:    make(chan *ErrorPayload, 16),
		Disconnected: make(chan struct{}),
	}
}

// Start routes messages until the connection closes. Run it in its own
// goroutine.
func (h *Handler) Start() {
	defer close(h.Disconnected)

	for msg := range h.client.Incoming() {
		switch msg.Type {
		case MessageTypeRegistered:
			select {
			case h.Registered <- msg.ID:
			default:
				h.log.Warn("unexpected registration reply", "id", msg.ID)
			}

		case MessageTypeSignal:
			h.handleSignal(msg)

		case MessageTypeError:
			h.handleError(msg)

		default:
			h.log.Debug("ignoring broker message", "type", msg.Type)
		}
	}
}

// handleSignal parses the signaling payload and passes it on.
func (h *Handler) handleSignal(msg *Message) {
	var payload SignalPayload
	if err := msg.DecodePayload(&payload); err != nil {
		h.log.Warn("malformed signal", "from", msg.From, "error", err)
		return
	}
	h.Signal <- &Signal{From: msg.From, Payload: payload}
}

// handleError splits registration failures from delivery failures.
func (h *Handler) handleError(msg *Message) {
	var payload ErrorPayload
	if err := msg.DecodePayload(&payload); err != nil {
		payload = ErrorPayload{Kind: ErrorKindInvalid, Error: "unknown error from broker"}
	}

	switch payload.Kind {
	case ErrorKindPeerUnavailable:
		h.PeerError <- &payload
	case ErrorKindNotRegistered:
		h.log.Warn("broker says we are not registered", "error", payload.Error)
	default:
		// Nobody reads Rejected once registration is settled.
		select {
		case h.Rejected <- &payload:
		default:
			h.log.Warn("broker error", "kind", payload.Kind, "error", payload.Error)
		}
	}
}
