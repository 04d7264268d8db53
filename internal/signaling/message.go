package signaling

import (
	"encoding/json"
	"errors"
)

// Message represents all WebSocket messages between participants and the
// broker.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants.
const (
	MessageTypeRegister = "register"
	MessageTypeSignal   = "signal"

	MessageTypeRegistered = "registered"
	MessageTypeError      = "error"
)

// Error kinds reported by the broker.
const (
	ErrorKindUnavailableID     = "unavailable-id"
	ErrorKindPeerUnavailable   = "peer-unavailable"
	ErrorKindAlreadyRegistered = "already-registered"
	ErrorKindNotRegistered     = "not-registered"
	ErrorKindInvalid           = "invalid"
)

// Connection kinds carried in a signal.
const (
	KindMedia = "media"
	KindData  = "data"
)

// Signal types.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
	SignalBye       = "bye"
)

var ErrNoPayload = errors.New("message has no payload")

// SignalPayload is one step of connection setup between two participants.
// Every peer connection has its own ConnectionID so several can be set up
// with the same participant at once.
type SignalPayload struct {
	ConnectionID string          `json:"connection_id"`
	Kind         string          `json:"kind"`
	Type         string          `json:"type"`
	SDP          string          `json:"sdp,omitempty"`
	ICECandidate json.RawMessage `json:"ice_candidate,omitempty"`
}

// ErrorPayload represents error messages from the broker.
type ErrorPayload struct {
	Kind         string `json:"kind"`
	Error        string `json:"error"`
	Peer         string `json:"peer,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// Signal is a SignalPayload together with its sender.
type Signal struct {
	From    string
	Payload SignalPayload
}

func NewRegister(id string) *Message {
	return &Message{Type: MessageTypeRegister, ID: id}
}

func NewSignal(to string, payload SignalPayload) (*Message, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: MessageTypeSignal, To: to, Payload: b}, nil
}

func NewError(payload ErrorPayload) *Message {
	b, _ := json.Marshal(payload)
	return &Message{Type: MessageTypeError, Payload: b}
}

// DecodePayload decodes the message payload into v.
func (m *Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return ErrNoPayload
	}
	return json.Unmarshal(m.Payload, v)
}
