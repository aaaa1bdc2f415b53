// Package loopback is the one concrete, hardware-free implementation
// of internal/fabric in this repository: two or more endpoints created
// from the same Domain exchange messages over in-process channels and
// service RDMA writes by copying directly into a registered region's
// backing slice, located by (key, offset) exactly as a real provider
// would via FI_MR_PROV_KEY offset-based addressing (spec §6.1).
//
// It exists so the transport engine can be exercised end to end
// (connection bring-up, vector/progress exchange, RDMA writes, EOF
// handshake) without a real RDMA-capable NIC, and is the substitute
// the out-of-scope fabric library contract names in spec §6.1.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/fabtsuite/fabtsuite/internal/fabric"
	"github.com/fabtsuite/fabtsuite/internal/keysource"
)

// Domain is the shared in-process switch: it owns the listening
// address book and the global memory-region registry every endpoint's
// RDMA writes resolve against.
type Domain struct {
	mu        sync.Mutex
	keys      *keysource.Source
	listenAt  map[string]*Endpoint
	regions   map[uint64]*segment
	endpoints map[uint64]*Endpoint
	nextAddr  uint64
}

// NewDomain creates an empty loopback domain.
func NewDomain() *Domain {
	return &Domain{
		keys:      keysource.New(),
		listenAt:  make(map[string]*Endpoint),
		regions:   make(map[uint64]*segment),
		endpoints: make(map[uint64]*Endpoint),
	}
}

// NewEndpoint creates a new endpoint bound to this domain.
func (d *Domain) NewEndpoint(ctx context.Context) (fabric.Endpoint, error) {
	d.mu.Lock()
	d.nextAddr++
	id := d.nextAddr
	d.mu.Unlock()

	ep := &Endpoint{
		domain:  d,
		localID: id,
		eq:      newEventQueue(),
		cq:      newCompletionQueue(),
	}
	ep.av = newAddressVector()
	ep.av.domain = d

	d.mu.Lock()
	d.endpoints[id] = ep
	d.mu.Unlock()
	return ep, nil
}

func (d *Domain) lookupByID(id uint64) (*Endpoint, bool) {
	d.mu.Lock()
	ep, ok := d.endpoints[id]
	d.mu.Unlock()
	return ep, ok
}

// Close is a no-op; the domain holds no external resources.
func (d *Domain) Close() error {
	return nil
}

func (d *Domain) registerSegment(buf []byte, access fabric.AccessMode) *segment {
	key := d.keys.Next()
	seg := &segment{buf: buf, key: key, access: access}
	d.mu.Lock()
	d.regions[key] = seg
	d.mu.Unlock()
	return seg
}

func (d *Domain) unregisterSegment(key uint64) {
	d.mu.Lock()
	delete(d.regions, key)
	d.mu.Unlock()
}

func (d *Domain) lookupSegment(key uint64) (*segment, bool) {
	d.mu.Lock()
	seg, ok := d.regions[key]
	d.mu.Unlock()
	return seg, ok
}

func (d *Domain) listen(addr string, ep *Endpoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.listenAt[addr]; exists {
		return fmt.Errorf("loopback: address %q already listening", addr)
	}
	d.listenAt[addr] = ep
	return nil
}

func (d *Domain) dial(addr string) (*Endpoint, bool) {
	d.mu.Lock()
	ep, ok := d.listenAt[addr]
	d.mu.Unlock()
	return ep, ok
}

// segment is one registered, addressable span of local memory.
type segment struct {
	buf    []byte
	key    uint64
	access fabric.AccessMode
}
