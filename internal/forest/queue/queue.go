// Package queue implements the router's per-link Queue Manager: a set
// of numbered, bounded packet queues per link, served by weighted
// round-robin scheduling and governed by a leaky-bucket rate limit on
// each link's egress traffic.
//
// The bounded-queue semantics (block-or-reject on a full queue, a
// single-writer reset/drain operation) are grounded on
// _examples/original_source/control/Gqueue.cpp's mutex+condvar
// circular buffer, re-expressed here with a slice and a mutex since
// the forwarding engine polls rather than blocks on an empty queue.
// The per-link rate limiting follows the token-bucket style of the
// teacher's rate limiter package, generalized from a single rate to
// the paired bit-rate/packet-rate budget the comtree-link rate spec
// carries.
package queue

import (
	"errors"
	"sort"
	"sync"
	"time"

	"forest.net/router/internal/clock"
	"forest.net/router/internal/forest/packet"
	"forest.net/router/internal/forest/wire"
)

// Errors returned by Manager operations.
var (
	ErrQueueFull   = errors.New("queue: full")
	ErrNoSuchQueue = errors.New("queue: no such queue")
	ErrNoSuchLink  = errors.New("queue: no such link")
	ErrConflict    = errors.New("queue: queue number already allocated")
)

// DefaultMaxPackets and DefaultMaxBytes bound every queue Allocate
// creates.
const (
	DefaultMaxPackets = 256
	DefaultMaxBytes   = 256 * wire.MaxPktLength
)

// Item is a single enqueued packet: a reference into the packet store
// plus its length in bytes, tracked separately so the queue can
// enforce a byte ceiling without touching the store.
type Item struct {
	Ref   packet.Ref
	Bytes int
}

type boundedQueue struct {
	mu         sync.Mutex
	items      []Item
	bytes      int
	maxPackets int
	maxBytes   int
}

func newBoundedQueue(maxPackets, maxBytes int) *boundedQueue {
	return &boundedQueue{maxPackets: maxPackets, maxBytes: maxBytes}
}

func (q *boundedQueue) enqueue(it Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.maxPackets || q.bytes+it.Bytes > q.maxBytes {
		return ErrQueueFull
	}
	q.items = append(q.items, it)
	q.bytes += it.Bytes
	return nil
}

func (q *boundedQueue) peek() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

func (q *boundedQueue) pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	q.bytes -= it.Bytes
	return it, true
}

func (q *boundedQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain empties the queue and returns its former contents, mirroring
// Gqueue::reset — intended for a single owning writer, e.g. when a
// comtree-link is torn down and its queue's packets must be freed.
func (q *boundedQueue) drain() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.bytes = 0
	return items
}

// limiter is a leaky bucket over a link's bit rate and packet rate,
// refilled continuously based on elapsed time since the last check.
type limiter struct {
	mu       sync.Mutex
	clk      clock.Clock
	bitCap   float64 // bits
	pktCap   float64 // packets
	bitRate  float64 // bits/sec
	pktRate  float64 // packets/sec
	bitAvail float64
	pktAvail float64
	last     time.Time
}

func newLimiter(clk clock.Clock, bitRateKbps, pktRate int64) *limiter {
	now := clk.Now()
	bitRate := float64(bitRateKbps) * 1000
	return &limiter{
		clk:      clk,
		bitRate:  bitRate,
		pktRate:  float64(pktRate),
		bitCap:   bitRate, // one second of burst
		pktCap:   float64(pktRate),
		bitAvail: bitRate,
		pktAvail: float64(pktRate),
		last:     now,
	}
}

func (l *limiter) setRate(bitRateKbps, pktRate int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bitRate = float64(bitRateKbps) * 1000
	l.pktRate = float64(pktRate)
	l.bitCap = l.bitRate
	l.pktCap = l.pktRate
}

func (l *limiter) allow(bytes int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk.Now()
	elapsed := now.Sub(l.last).Seconds()
	if elapsed > 0 {
		l.bitAvail = minF(l.bitCap, l.bitAvail+elapsed*l.bitRate)
		l.pktAvail = minF(l.pktCap, l.pktAvail+elapsed*l.pktRate)
		l.last = now
	}
	needBits := float64(bytes) * 8
	if l.bitAvail >= needBits && l.pktAvail >= 1 {
		l.bitAvail -= needBits
		l.pktAvail--
		return true
	}
	return false
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

type linkState struct {
	mu      sync.Mutex
	queues  map[int]*boundedQueue
	weight  map[int]int
	deficit map[int]int
	cursor  int // index into the sorted queue-number list of the queue currently being drained
	limiter *limiter
}

// Manager is the thread-safe queue manager for every link on the router.
type Manager struct {
	mu    sync.RWMutex
	clk   clock.Clock
	links map[int]*linkState
}

// New returns an empty queue manager using clk as its time source for
// rate limiting.
func New(clk clock.Clock) *Manager {
	return &Manager{clk: clk, links: make(map[int]*linkState)}
}

// AddLink registers link with an egress leaky bucket sized to rates.
func (m *Manager) AddLink(link int, rates wire.RateSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[link] = &linkState{
		queues:  make(map[int]*boundedQueue),
		weight:  make(map[int]int),
		deficit: make(map[int]int),
		limiter: newLimiter(m.clk, rates.BitRateUp, rates.PktRateUp),
	}
}

// DropLink removes link and every queue allocated on it.
func (m *Manager) DropLink(link int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, link)
}

// SetLinkRate updates link's egress rate budget.
func (m *Manager) SetLinkRate(link int, rates wire.RateSpec) error {
	m.mu.RLock()
	ls, ok := m.links[link]
	m.mu.RUnlock()
	if !ok {
		return ErrNoSuchLink
	}
	ls.limiter.setRate(rates.BitRateUp, rates.PktRateUp)
	return nil
}

// Allocate creates queue qnum on link with the given weight, used to
// give it a proportional share of the link's weighted round robin.
func (m *Manager) Allocate(link, qnum, weight int) error {
	m.mu.RLock()
	ls, ok := m.links[link]
	m.mu.RUnlock()
	if !ok {
		return ErrNoSuchLink
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if _, exists := ls.queues[qnum]; exists {
		return ErrConflict
	}
	ls.queues[qnum] = newBoundedQueue(DefaultMaxPackets, DefaultMaxBytes)
	if weight < 1 {
		weight = 1
	}
	ls.weight[qnum] = weight
	ls.deficit[qnum] = 0
	return nil
}

// Free removes queue qnum from link and returns its contents so the
// caller can release the underlying packet store references.
func (m *Manager) Free(link, qnum int) ([]Item, error) {
	m.mu.RLock()
	ls, ok := m.links[link]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNoSuchLink
	}
	ls.mu.Lock()
	q, exists := ls.queues[qnum]
	if !exists {
		ls.mu.Unlock()
		return nil, ErrNoSuchQueue
	}
	delete(ls.queues, qnum)
	delete(ls.weight, qnum)
	delete(ls.deficit, qnum)
	ls.mu.Unlock()
	return q.drain(), nil
}

// Enqueue places it on link's queue qnum, failing with ErrQueueFull if
// the queue's packet or byte ceiling would be exceeded.
func (m *Manager) Enqueue(link, qnum int, it Item) error {
	m.mu.RLock()
	ls, ok := m.links[link]
	m.mu.RUnlock()
	if !ok {
		return ErrNoSuchLink
	}
	ls.mu.Lock()
	q, exists := ls.queues[qnum]
	ls.mu.Unlock()
	if !exists {
		return ErrNoSuchQueue
	}
	return q.enqueue(it)
}

// Dequeue selects the next item to transmit on link using weighted
// round robin across its non-empty queues, subject to the link's
// leaky-bucket rate limit. It returns ok=false if no queue has both a
// ready packet and available rate budget.
func (m *Manager) Dequeue(link int) (qnum int, it Item, ok bool) {
	m.mu.RLock()
	ls, exists := m.links[link]
	m.mu.RUnlock()
	if !exists {
		return 0, Item{}, false
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	nums := make([]int, 0, len(ls.queues))
	for n := range ls.queues {
		nums = append(nums, n)
	}
	if len(nums) == 0 {
		return 0, Item{}, false
	}
	sort.Ints(nums)

	// Deficit round robin: the queue at cursor keeps its turn (and its
	// accumulated deficit) across calls until its deficit counter runs
	// dry, at which point the cursor advances and the next queue tops
	// up its own deficit by its weight. A queue's weight is its
	// quantum, so a weight-3 queue is served roughly three packets for
	// every one a weight-1 queue gets.
	n := len(nums)
	for attempts := 0; attempts < 2*n; attempts++ {
		idx := ((ls.cursor % n) + n) % n
		qn := nums[idx]
		q := ls.queues[qn]
		item, has := q.peek()
		if !has {
			ls.deficit[qn] = 0
			ls.cursor = idx + 1
			continue
		}
		if ls.deficit[qn] < 1 {
			ls.deficit[qn] += ls.weight[qn]
		}
		if ls.deficit[qn] < 1 {
			ls.cursor = idx + 1
			continue
		}
		if !ls.limiter.allow(item.Bytes) {
			return 0, Item{}, false
		}
		popped, _ := q.pop()
		ls.deficit[qn]--
		if ls.deficit[qn] < 1 {
			ls.cursor = idx + 1
		}
		return qn, popped, true
	}
	return 0, Item{}, false
}

// QueueLen returns the number of packets waiting on link's queue qnum.
func (m *Manager) QueueLen(link, qnum int) (int, error) {
	m.mu.RLock()
	ls, ok := m.links[link]
	m.mu.RUnlock()
	if !ok {
		return 0, ErrNoSuchLink
	}
	ls.mu.Lock()
	q, exists := ls.queues[qnum]
	ls.mu.Unlock()
	if !exists {
		return 0, ErrNoSuchQueue
	}
	return q.len(), nil
}
