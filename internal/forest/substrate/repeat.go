package substrate

import (
	"sync"
	"time"

	"forest.net/router/internal/clock"
	"forest.net/router/internal/forest/wire"
)

// DefaultRepeatAge is the default bound on how long a repeat-handler
// entry survives without a reply before it is evicted.
const DefaultRepeatAge = 20 * time.Second

type repeatKey struct {
	peer wire.Address
	seq  uint64
}

type repeatEntry struct {
	request wire.ControlPacket
	reply   *wire.ControlPacket
	savedAt time.Time
}

// RepeatHandler is the substrate's duplicate-request suppression table,
// keyed on (peer forest address, sequence number). A request is saved
// on arrival so a retransmit while the worker pool is still processing
// it is dropped; once the worker's reply is known it is cached in the
// same entry so a later retransmit gets the identical reply instead of
// re-entering the worker.
//
// Grounded on the aged key/value eviction map in
// _examples/grimm-is-glacic's internal/services/dhcp lease store
// (leaseExpiry plus a periodic sweep), adapted from a MAC-keyed map to
// the (peer, seqNum) key this substrate needs.
type RepeatHandler struct {
	mu      sync.Mutex
	clk     clock.Clock
	maxAge  time.Duration
	entries map[repeatKey]*repeatEntry
}

// NewRepeatHandler returns an empty repeat handler that evicts entries
// older than maxAge. A non-positive maxAge defaults to DefaultRepeatAge.
func NewRepeatHandler(clk clock.Clock, maxAge time.Duration) *RepeatHandler {
	if maxAge <= 0 {
		maxAge = DefaultRepeatAge
	}
	return &RepeatHandler{
		clk:     clk,
		maxAge:  maxAge,
		entries: make(map[repeatKey]*repeatEntry),
	}
}

// Lookup returns the saved entry for (peer, seq), if any.
func (h *RepeatHandler) Lookup(peer wire.Address, seq uint64) (request wire.ControlPacket, reply *wire.ControlPacket, found bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[repeatKey{peer, seq}]
	if !ok {
		return wire.ControlPacket{}, nil, false
	}
	return e.request, e.reply, true
}

// Save records a newly arrived request, with no reply yet.
func (h *RepeatHandler) Save(peer wire.Address, seq uint64, req wire.ControlPacket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[repeatKey{peer, seq}] = &repeatEntry{request: req, savedAt: h.clk.Now()}
}

// SaveReply attaches a worker's reply to an existing entry, refreshing
// its age so the cached reply survives long enough to answer a
// retransmit. A no-op if the entry was already evicted.
func (h *RepeatHandler) SaveReply(peer wire.Address, seq uint64, reply wire.ControlPacket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[repeatKey{peer, seq}]
	if !ok {
		return
	}
	e.reply = &reply
	e.savedAt = h.clk.Now()
}

// Free removes the entry for (peer, seq).
func (h *RepeatHandler) Free(peer wire.Address, seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, repeatKey{peer, seq})
}

// EvictAged drops every entry older than the handler's maxAge, and
// reports how many were evicted.
func (h *RepeatHandler) EvictAged() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.clk.Now()
	n := 0
	for k, e := range h.entries {
		if now.Sub(e.savedAt) > h.maxAge {
			delete(h.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of entries currently held.
func (h *RepeatHandler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
