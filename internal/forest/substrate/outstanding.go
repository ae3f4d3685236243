package substrate

import (
	"sync"
	"time"

	"forest.net/router/internal/clock"
)

// outstandingKey identifies a request the router itself originated,
// keyed on the destination network endpoint rather than a forest
// address, so a request can be tracked toward a peer whose forest
// address is not known.
type outstandingKey struct {
	peer PeerEndpoint
	seq  uint64
}

type outstandingEntry struct {
	replyCh chan ControlReply
	savedAt time.Time
}

// ControlReply is what an outstanding outbound request eventually
// receives back: either the reply control packet's encoded bytes, or an error if
// the entry aged out with no reply.
type ControlReply struct {
	Payload []byte
	Err     error
}

// Outstanding tracks control requests the substrate has sent to a peer
// on a worker's behalf and is waiting on a reply for. The
// CONNECT/DISCONNECT handshake does not use it.
type Outstanding struct {
	mu      sync.Mutex
	clk     clock.Clock
	maxAge  time.Duration
	entries map[outstandingKey]*outstandingEntry
}

// NewOutstanding returns an empty outstanding-request table.
func NewOutstanding(clk clock.Clock, maxAge time.Duration) *Outstanding {
	if maxAge <= 0 {
		maxAge = DefaultRepeatAge
	}
	return &Outstanding{
		clk:     clk,
		maxAge:  maxAge,
		entries: make(map[outstandingKey]*outstandingEntry),
	}
}

// Register records that a request to peer with sequence seq is in
// flight, returning the channel its eventual reply (or aging-out error)
// will be delivered on.
func (o *Outstanding) Register(peer PeerEndpoint, seq uint64) <-chan ControlReply {
	ch := make(chan ControlReply, 1)
	o.mu.Lock()
	o.entries[outstandingKey{peer, seq}] = &outstandingEntry{replyCh: ch, savedAt: o.clk.Now()}
	o.mu.Unlock()
	return ch
}

// Resolve delivers payload to the waiting registrant for (peer, seq),
// if one exists, and removes the entry. Reports whether a match was found.
func (o *Outstanding) Resolve(peer PeerEndpoint, seq uint64, payload []byte) bool {
	o.mu.Lock()
	e, ok := o.entries[outstandingKey{peer, seq}]
	if ok {
		delete(o.entries, outstandingKey{peer, seq})
	}
	o.mu.Unlock()
	if !ok {
		return false
	}
	e.replyCh <- ControlReply{Payload: payload}
	return true
}

// Cancel removes the entry for (peer, seq) without delivering a reply.
func (o *Outstanding) Cancel(peer PeerEndpoint, seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, outstandingKey{peer, seq})
}

// EvictAged fails out every entry older than maxAge with a timeout
// error, so a goroutine blocked waiting on its channel is released even
// if the peer never replies.
func (o *Outstanding) EvictAged() int {
	o.mu.Lock()
	now := o.clk.Now()
	var stale []*outstandingEntry
	for k, e := range o.entries {
		if now.Sub(e.savedAt) > o.maxAge {
			stale = append(stale, e)
			delete(o.entries, k)
		}
	}
	o.mu.Unlock()
	for _, e := range stale {
		e.replyCh <- ControlReply{Err: ErrTimedOut}
	}
	return len(stale)
}
