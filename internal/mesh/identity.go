package mesh

import (
	"context"
	"errors"

	"github.com/BioHazard786/meshcall/internal/peernet"
)

// Role is fixed at join and never changes for the session.
type Role int

const (
	RoleHost Role = iota + 1
	RoleGuest
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	default:
		return "none"
	}
}

// ResolveIdentity claims the room name as our identity. Whoever gets it is
// the host; everyone else falls back to a network-assigned identity and
// joins as a guest.
func ResolveIdentity(ctx context.Context, svc peernet.Service, room string) (Role, peernet.ID, error) {
	if room == "" {
		return 0, "", ErrEmptyRoom
	}

	id, err := svc.Register(ctx, peernet.ID(room))
	if err == nil {
		return RoleHost, id, nil
	}
	if !errors.Is(err, peernet.ErrUnavailableID) {
		return 0, "", NewError("register host identity", errors.Join(ErrRegistrationLost, err))
	}

	id, err = svc.Register(ctx, "")
	if err != nil {
		return 0, "", NewError("register guest identity", errors.Join(ErrRegistrationLost, err))
	}
	return RoleGuest, id, nil
}
