package rtc

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/meshcall/internal/peernet"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrUnexpectedSignal = errors.New("unexpected signal")
	ErrUnsupportedTrack = errors.New("track cannot be sent over rtc")
	ErrBrokerLost       = errors.New("broker connection lost")
)

type Error struct {
	Op      string
	Peer    peernet.ID
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, peer peernet.ID, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
