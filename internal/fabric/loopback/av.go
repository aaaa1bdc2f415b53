package loopback

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fabtsuite/fabtsuite/internal/fabric"
)

// addressVector resolves the byte-encoded endpoint addresses this
// package hands out (8-byte big-endian endpoint IDs) to the peer
// endpoint they name, caching the resolution under a PeerAddr handle.
type addressVector struct {
	mu       sync.Mutex
	domain   *Domain
	byPeer   map[fabric.PeerAddr]*Endpoint
	nextPeer fabric.PeerAddr
}

func newAddressVector() *addressVector {
	return &addressVector{byPeer: make(map[fabric.PeerAddr]*Endpoint)}
}

func (a *addressVector) Insert(addr []byte) (fabric.PeerAddr, error) {
	if len(addr) != 8 {
		return 0, fmt.Errorf("loopback: malformed address (want 8 bytes, got %d)", len(addr))
	}
	id := binary.BigEndian.Uint64(addr)
	target, ok := a.domain.lookupByID(id)
	if !ok {
		return 0, fmt.Errorf("loopback: no endpoint with id %d", id)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextPeer++
	peer := a.nextPeer
	a.byPeer[peer] = target
	return peer, nil
}

func (a *addressVector) Remove(peer fabric.PeerAddr) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byPeer, peer)
	return nil
}

func (a *addressVector) resolve(peer fabric.PeerAddr) (*Endpoint, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ep, ok := a.byPeer[peer]
	return ep, ok
}

func (a *addressVector) insertEndpoint(ep *Endpoint) fabric.PeerAddr {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextPeer++
	peer := a.nextPeer
	a.byPeer[peer] = ep
	return peer
}
