// Package wire encodes the messages participants exchange over signaling
// channels.
package wire

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/meshcall/internal/peernet"
	"github.com/vmihailenco/msgpack/v5"
)

const KindPeerList = "peer-list"

var (
	ErrUnknownKind = errors.New("unknown message kind")
	ErrMalformed   = errors.New("malformed message")
)

// PeerList tells a newcomer who else is in the call.
type PeerList struct {
	Kind  string   `msgpack:"kind"`
	Peers []string `msgpack:"peers"`
}

// IDs returns the listed identities, skipping blanks.
func (p PeerList) IDs() []peernet.ID {
	ids := make([]peernet.ID, 0, len(p.Peers))
	for _, s := range p.Peers {
		if s != "" {
			ids = append(ids, peernet.ID(s))
		}
	}
	return ids
}

// EncodePeerList builds a peer-list message.
func EncodePeerList(peers []peernet.ID) ([]byte, error) {
	msg := PeerList{Kind: KindPeerList, Peers: make([]string, len(peers))}
	for i, id := range peers {
		msg.Peers[i] = string(id)
	}
	return msgpack.Marshal(msg)
}

// DecodePeerList parses data, rejecting anything that is not a peer-list.
func DecodePeerList(data []byte) (PeerList, error) {
	var msg PeerList
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return PeerList{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Kind != KindPeerList {
		return PeerList{}, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
	return msg, nil
}
