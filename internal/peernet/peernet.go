// Package peernet defines the contract between the call coordinator and the
// network layer that registers identities, places calls and opens low-volume
// signaling channels between participants.
package peernet

import (
	"context"
	"errors"
)

var (
	ErrUnavailableID     = errors.New("identity already taken")
	ErrPeerUnavailable   = errors.New("peer unavailable")
	ErrNotRegistered     = errors.New("not registered")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrClosed            = errors.New("peer network closed")
	ErrChannelNotOpen    = errors.New("channel not open")

	ErrPermissionDenied  = errors.New("media permission denied")
	ErrDeviceUnavailable = errors.New("media device unavailable")
	ErrCaptureCancelled  = errors.New("capture cancelled")
)

// ID is a participant identity, unique among everyone registered with the
// same network at the same time.
type ID string

// Service is one participant's view of the peer network.
type Service interface {
	// Register claims desired as this participant's identity. An empty
	// desired identity asks the network to generate one. A collision is
	// reported as ErrUnavailableID.
	Register(ctx context.Context, desired ID) (ID, error)

	// Call places a media call to remote offering tracks. It returns as soon
	// as the call is placed; the remote stream arrives later as EventStream.
	Call(ctx context.Context, remote ID, tracks []Track) (Call, error)

	// Open starts a signaling channel to remote. EventChannelOpen follows once
	// it can carry data.
	Open(ctx context.Context, remote ID) (Channel, error)

	Events() <-chan Event

	// Close tears down every call and channel and releases the identity.
	Close() error
}

// Call is a single media connection to one remote participant.
type Call interface {
	Peer() ID
	// Answer accepts an inbound call, offering tracks in return.
	Answer(tracks []Track) error
	// ReplaceVideoTrack swaps the outbound video without renegotiation.
	// A nil track sends no video.
	ReplaceVideoTrack(track Track) error
	Close() error
}

// Channel is a reliable ordered message channel to one remote participant.
type Channel interface {
	Peer() ID
	Send(data []byte) error
	Close() error
}

// Stream describes the media a remote participant is sending on a call.
type Stream struct {
	ID    string
	Audio bool
	Video bool
}

// EventKind enumerates network notifications.
type EventKind int

const (
	EventCall EventKind = iota + 1
	EventStream
	EventClosed
	EventError
	EventChannel
	EventChannelOpen
	EventData
	EventChannelClosed
)

func (k EventKind) String() string {
	switch k {
	case EventCall:
		return "call"
	case EventStream:
		return "stream"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	case EventChannel:
		return "channel"
	case EventChannelOpen:
		return "channel-open"
	case EventData:
		return "data"
	case EventChannelClosed:
		return "channel-closed"
	default:
		return "unknown"
	}
}

// Event is a notification from the network. Call is set for call events,
// Channel for channel events.
type Event struct {
	Kind    EventKind
	Peer    ID
	Call    Call
	Channel Channel
	Stream  *Stream
	Data    []byte
	Err     error
}
