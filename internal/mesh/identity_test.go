package mesh

import (
	"context"
	"errors"
	"testing"

	"github.com/BioHazard786/meshcall/internal/peernet"
	"github.com/BioHazard786/meshcall/internal/peernet/memnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// refusingService fails every registration with err.
type refusingService struct {
	peernet.Service
	err   error
	tries []peernet.ID
}

func (r *refusingService) Register(_ context.Context, desired peernet.ID) (peernet.ID, error) {
	r.tries = append(r.tries, desired)
	return "", r.err
}

func TestResolveIdentity(t *testing.T) {
	ctx := context.Background()
	n := memnet.New()

	role, id, err := ResolveIdentity(ctx, n.NewPeer(), "standup")
	require.NoError(t, err)
	assert.Equal(t, RoleHost, role)
	assert.Equal(t, peernet.ID("standup"), id)

	role, id, err = ResolveIdentity(ctx, n.NewPeer(), "standup")
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, role)
	assert.NotEqual(t, peernet.ID("standup"), id)
	assert.NotEmpty(t, id)

	assert.ElementsMatch(t, []peernet.ID{"standup", id}, n.Registered())
}

func TestResolveIdentityFatalErrors(t *testing.T) {
	boom := errors.New("broker unreachable")
	svc := &refusingService{err: boom}

	_, _, err := ResolveIdentity(context.Background(), svc, "standup")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrRegistrationLost)
	assert.Equal(t, []peernet.ID{"standup"}, svc.tries, "no retry after a non-collision failure")
}

func TestResolveIdentityGuestRegistrationFails(t *testing.T) {
	svc := &refusingService{err: peernet.ErrUnavailableID}

	_, _, err := ResolveIdentity(context.Background(), svc, "standup")
	require.Error(t, err)
	assert.Equal(t, []peernet.ID{"standup", ""}, svc.tries)
}

func TestResolveIdentityEmptyRoom(t *testing.T) {
	_, _, err := ResolveIdentity(context.Background(), memnet.New().NewPeer(), "")
	assert.ErrorIs(t, err, ErrEmptyRoom)
}
