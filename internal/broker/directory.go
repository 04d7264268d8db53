// Package broker is the rendezvous service participants register their
// identities with and relay connection setup through.
package broker

import (
	"context"
	"sync"

	"github.com/BioHazard786/meshcall/internal/signaling"
)

// Directory is the authority on which identities are taken. A shared
// directory lets several broker instances serve one namespace.
type Directory interface {
	// Claim takes id. It reports false when someone already holds it.
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
	// Forward hands msg to whichever instance holds msg.To. It reports
	// false when nobody does.
	Forward(ctx context.Context, msg *signaling.Message) (bool, error)
	// Inbound delivers messages other instances forwarded to us.
	Inbound() <-chan *signaling.Message
	Close() error
}

// MemoryDirectory serves a single broker instance.
type MemoryDirectory struct {
	mu     sync.Mutex
	claims map[string]struct{}
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{claims: make(map[string]struct{})}
}

func (d *MemoryDirectory) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, taken := d.claims[id]; taken {
		return false, nil
	}
	d.claims[id] = struct{}{}
	return true, nil
}

func (d *MemoryDirectory) Release(_ context.Context, id string) error {
	d.mu.Lock()
	delete(d.claims, id)
	d.mu.Unlock()
	return nil
}

// Forward always fails; there is nobody to forward to.
func (d *MemoryDirectory) Forward(context.Context, *signaling.Message) (bool, error) {
	return false, nil
}

func (d *MemoryDirectory) Inbound() <-chan *signaling.Message { return nil }

func (d *MemoryDirectory) Close() error { return nil }
