// Package packet implements the router's packet store: a fixed-capacity
// pool of reusable packet records backed by reference-counted buffers.
//
// A single buffer may back several packet records at once — Clone gives
// split-horizon multicast fan-out a cheap way to enqueue the same
// payload on many links without copying it per link. Grounded on
// _examples/original_source/cpp/common/PacketStoreTs.cpp (mutex-guarded
// free list, alloc/free/fullCopy) and trunk/pktStore.h's buffer
// reference-count scheme (buffer freed only when its last packet is
// freed).
package packet

import (
	"errors"
	"sync"

	"forest.net/router/internal/forest/wire"
)

// ErrExhausted is returned by Alloc and Clone when the store has no
// free packet records left.
var ErrExhausted = errors.New("packet: store exhausted")

// Ref is an opaque handle to a packet record held by the store. The
// zero Ref is never valid.
type Ref uint32

// Packet is a forwarding-path packet record: a decoded header plus a
// reference to its payload buffer.
type Packet struct {
	Header  wire.Header
	Link    int // inbound link number (-1 if locally generated); the forwarding engine sets it to the outbound link on each enqueued copy
	Payload []byte
}

type slot struct {
	inUse bool
	pkt   Packet
	buf   []byte
	// owner is the slot whose buf backs this record's payload: itself for
	// a slot allocated by Alloc/FullCopy, or the source slot for one
	// produced by Clone. refs is the reference count shared by owner and
	// every clone of it, so Free can tell when the owner's buffer is
	// truly done with regardless of free order.
	owner Ref
	refs  *int32
}

// Store is a fixed-size, thread-safe pool of packet records.
type Store struct {
	mu        sync.Mutex
	slots     []slot
	free      []Ref
	maxPktLen int
}

// New creates a Store with room for n packets, each with a buffer of
// maxPktLen bytes.
func New(n, maxPktLen int) *Store {
	s := &Store{
		slots:     make([]slot, n+1), // index 0 unused, matches original 1-based scheme
		free:      make([]Ref, 0, n),
		maxPktLen: maxPktLen,
	}
	for i := n; i >= 1; i-- {
		s.slots[i].buf = make([]byte, maxPktLen)
		s.free = append(s.free, Ref(i))
	}
	return s
}

// Alloc reserves a packet record and returns its reference. The
// returned packet's Payload aliases the record's private buffer,
// sliced to zero length.
func (s *Store) Alloc() (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.free) == 0 {
		return 0, ErrExhausted
	}
	r := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	sl := &s.slots[r]
	sl.inUse = true
	sl.owner = r
	sl.refs = new(int32)
	*sl.refs = 1
	sl.pkt = Packet{Payload: sl.buf[:0]}
	return r, nil
}

// Get returns a pointer to the packet record for r. The caller must
// hold no expectation of safety across concurrent Free/Clone calls on
// r; the forwarding engine owns a ref for the duration of its use.
func (s *Store) Get(r Ref) *Packet {
	return &s.slots[r].pkt
}

// Clone allocates a new packet record that shares the same underlying
// buffer as src, bumping its reference count. Header and Link are
// copied by value so the clone can be routed to a different link
// without disturbing the original. Mirrors pktStore::clone: multiple
// packet records, one shared buffer, freed only when the last
// reference drops.
func (s *Store) Clone(src Ref) (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.free) == 0 {
		return 0, ErrExhausted
	}
	r := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]

	srcSlot := &s.slots[src]
	*srcSlot.refs++

	dst := &s.slots[r]
	dst.inUse = true
	dst.owner = srcSlot.owner
	dst.refs = srcSlot.refs
	dst.pkt = srcSlot.pkt
	dst.pkt.Payload = srcSlot.pkt.Payload
	return r, nil
}

// FullCopy allocates a new packet record with an independent copy of
// src's buffer contents. Mirrors PacketStoreTs::fullCopy.
func (s *Store) FullCopy(src Ref) (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.free) == 0 {
		return 0, ErrExhausted
	}
	r := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]

	srcSlot := &s.slots[src]
	dst := &s.slots[r]
	dst.inUse = true
	dst.owner = r
	dst.refs = new(int32)
	*dst.refs = 1
	n := copy(dst.buf, srcSlot.pkt.Payload)
	dst.pkt = srcSlot.pkt
	dst.pkt.Payload = dst.buf[:n]
	return r, nil
}

// Free releases r's packet record back to the pool, regardless of free
// order among an owner and its clones. If other records still share
// r's buffer, the buffer itself outlives the call: clones hold the
// bytes alive through their own Payload slices, and r's slot gets a
// fresh buffer before rejoining the free list so a subsequent Alloc
// never overwrites data a surviving clone still reads.
func (s *Store) Free(r Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == 0 || int(r) >= len(s.slots) {
		return
	}
	sl := &s.slots[r]
	if !sl.inUse {
		return
	}
	sl.inUse = false
	remaining := *sl.refs - 1
	*sl.refs = remaining
	if remaining > 0 && r == sl.owner {
		sl.buf = make([]byte, s.maxPktLen)
	}
	sl.pkt = Packet{}
	s.free = append(s.free, r)
}

// InUse reports the number of packet records currently allocated.
func (s *Store) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots) - 1 - len(s.free)
}

// Capacity returns the total number of packet records the store holds.
func (s *Store) Capacity() int {
	return len(s.slots) - 1
}
