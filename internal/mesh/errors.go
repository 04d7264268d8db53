package mesh

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/meshcall/internal/peernet"
)

var (
	ErrEmptyRoom        = errors.New("room name is empty")
	ErrAlreadyJoined    = errors.New("session already joined")
	ErrNotJoined        = errors.New("session not joined")
	ErrScreenSharing    = errors.New("camera is unavailable while screen sharing")
	ErrMediaBusy        = errors.New("another media operation is in progress")
	ErrStaleMedia       = errors.New("media state changed during acquisition")
	ErrMicrophoneLost   = errors.New("microphone track ended")
	ErrNetworkLost      = errors.New("peer network connection lost")
	ErrRegistrationLost = errors.New("identity registration failed")
)

// Error records the operation and remote participant a failure belongs to.
type Error struct {
	Op   string
	Peer peernet.ID
	Err  error
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewPeerError(op string, peer peernet.ID, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}
