// Package comtree implements the router's Comtree Table: per-comtree
// membership and the per-comtree-link state (rate allocation, queue
// binding, core flag, parent link) that ties a comtree to the links
// carrying its traffic.
//
// The add/drop-with-rollback shape for comtree-links and the
// cascading drop semantics for comtrees are grounded on
// _examples/original_source/trunk/ComtreeController.cpp's comtree
// lifecycle (link add/remove walks the comtree's link set, tearing
// down children before the comtree entry itself), adapted here to the
// router's table-local view: queue allocation and rate bookkeeping
// live in this package rather than being delegated to a separate
// controller process.
package comtree

import (
	"errors"
	"fmt"
	"sync"

	"forest.net/router/internal/forest/link"
	"forest.net/router/internal/forest/queue"
	"forest.net/router/internal/forest/wire"
)

// Errors returned by Table operations.
var (
	ErrConflict    = errors.New("comtree: number already in use")
	ErrNoSuchComtree = errors.New("comtree: no such comtree")
	ErrNoSuchLink  = errors.New("comtree: no such comtree-link")
	ErrLinkConflict = errors.New("comtree: link already attached to this comtree")
	ErrNoCapacity  = errors.New("comtree: insufficient link rate budget")
	ErrBadState    = errors.New("comtree: membership state transition not allowed")
)

// MemberState is a leaf's comtree membership state machine, per the
// absent -> pending -> joined -> leaving -> absent cycle the router
// tracks so it can reject duplicate joins and correctly order rate
// accounting with the external comtree controller.
type MemberState int

const (
	Absent MemberState = iota
	Pending
	Joined
	Leaving
)

// ComtreeLink is one link's participation in a comtree.
type ComtreeLink struct {
	Link    int
	IsCore  bool
	PeerAdr wire.Address
	Queue   int
	Rates   wire.RateSpec
}

// Comtree is a single comtree's membership and link-attachment state.
type Comtree struct {
	Num     uint32
	Links   map[int]*ComtreeLink
	Members map[wire.Address]MemberState
}

// LinkRateSetter is the subset of the link table a comtree table uses
// to draw down and restore per-comtree-link rate budgets.
type LinkRateSetter interface {
	AdjustRate(num int, newRates wire.RateSpec) error
	Get(num int) (link.Link, error)
}

// QueueAllocator is the subset of the queue manager a comtree table
// uses when attaching or detaching a link.
type QueueAllocator interface {
	Allocate(link, qnum, weight int) error
	Free(link, qnum int) ([]queue.Item, error)
}

// RouteInstaller is the subset of the route table a comtree table
// uses to install default routes and purge them on teardown.
type RouteInstaller interface {
	AddRoute(comt uint32, dest wire.Address, link int) error
	Purge(comt uint32, cLink int)
}

// Table is the thread-safe comtree table.
type Table struct {
	mu       sync.RWMutex
	links    LinkRateSetter
	queues   QueueAllocator
	routes   RouteInstaller
	byNum    map[uint32]*Comtree
	nextQnum int
}

// New returns an empty comtree table wired to the given link, queue,
// and route collaborators.
func New(links LinkRateSetter, queues QueueAllocator, routes RouteInstaller) *Table {
	return &Table{
		links:    links,
		queues:   queues,
		routes:   routes,
		byNum:    make(map[uint32]*Comtree),
		nextQnum: 1,
	}
}

// AddComtree inserts an empty comtree numbered c.
func (t *Table) AddComtree(c uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byNum[c]; exists {
		return ErrConflict
	}
	t.byNum[c] = &Comtree{
		Num:     c,
		Links:   make(map[int]*ComtreeLink),
		Members: make(map[wire.Address]MemberState),
	}
	return nil
}

// AddComtreeLink attaches lnk to comtree c. It allocates a queue bound
// to lnk, deducts the minimum per-comtree-link rate from the link's
// available budget, and, when peerAdr is a unicast address, installs
// a default route for it through this comtree-link. Any failure
// partway through rolls back every step already taken.
func (t *Table) AddComtreeLink(c uint32, lnk int, isCore bool, peerAdr wire.Address) (qnum int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ct, ok := t.byNum[c]
	if !ok {
		return 0, ErrNoSuchComtree
	}
	if _, exists := ct.Links[lnk]; exists {
		return 0, ErrLinkConflict
	}

	lnkInfo, err := t.links.Get(lnk)
	if err != nil {
		return 0, ErrNoSuchLink
	}

	qn := t.nextQnum
	t.nextQnum++
	if err := t.queues.Allocate(lnk, qn, weightFromRate(wire.MinComtreeLinkRate)); err != nil {
		return 0, fmt.Errorf("comtree: allocate queue: %w", err)
	}

	newRates := lnkInfo.Rates.Sub(wire.MinComtreeLinkRate)
	if !newRates.Nonnegative() {
		t.queues.Free(lnk, qn)
		return 0, ErrNoCapacity
	}
	if err := t.links.AdjustRate(lnk, newRates); err != nil {
		t.queues.Free(lnk, qn)
		return 0, ErrNoCapacity
	}

	if !peerAdr.IsMulticast() && peerAdr != 0 {
		if err := t.routes.AddRoute(c, peerAdr, lnk); err != nil {
			t.links.AdjustRate(lnk, lnkInfo.Rates)
			t.queues.Free(lnk, qn)
			return 0, fmt.Errorf("comtree: install default route: %w", err)
		}
	}

	ct.Links[lnk] = &ComtreeLink{Link: lnk, IsCore: isCore, PeerAdr: peerAdr, Queue: qn, Rates: wire.MinComtreeLinkRate}
	return qn, nil
}

// weightFromRate derives a WRR weight from a rate spec's upstream bit
// rate, used as the quantum the queue manager assigns this
// comtree-link's queue.
func weightFromRate(r wire.RateSpec) int {
	w := int(r.BitRateUp / wire.MinBitRate)
	if w < 1 {
		w = 1
	}
	return w
}

// ModComtreeLink changes the rate allocation of an already-attached
// comtree-link, adjusting the owning link's available budget by the
// delta between the old and new comtree-link rate.
func (t *Table) ModComtreeLink(c uint32, lnk int, newCLRate wire.RateSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ct, ok := t.byNum[c]
	if !ok {
		return ErrNoSuchComtree
	}
	cl, ok := ct.Links[lnk]
	if !ok {
		return ErrNoSuchLink
	}

	lnkInfo, err := t.links.Get(lnk)
	if err != nil {
		return ErrNoSuchLink
	}
	delta := newCLRate.Sub(cl.Rates)
	adjusted := lnkInfo.Rates.Sub(delta)
	if !adjusted.Nonnegative() {
		return ErrNoCapacity
	}
	if err := t.links.AdjustRate(lnk, adjusted); err != nil {
		return ErrNoCapacity
	}
	cl.Rates = newCLRate
	return nil
}

// DropComtreeLink detaches lnk from comtree c: frees its queue
// (dropping any packets still enqueued), returns the rate allocation
// to the link, and purges routes in c whose only egress was this
// comtree-link.
func (t *Table) DropComtreeLink(c uint32, lnk int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ct, ok := t.byNum[c]
	if !ok {
		return ErrNoSuchComtree
	}
	cl, ok := ct.Links[lnk]
	if !ok {
		return ErrNoSuchLink
	}

	t.queues.Free(lnk, cl.Queue)

	if lnkInfo, err := t.links.Get(lnk); err == nil {
		t.links.AdjustRate(lnk, lnkInfo.Rates.Add(cl.Rates))
	}

	t.routes.Purge(c, lnk)
	delete(ct.Links, lnk)
	return nil
}

// DropComtree cascades DropComtreeLink over every member link, then
// removes the comtree entry itself.
func (t *Table) DropComtree(c uint32) error {
	t.mu.Lock()
	ct, ok := t.byNum[c]
	if !ok {
		t.mu.Unlock()
		return ErrNoSuchComtree
	}
	lnks := make([]int, 0, len(ct.Links))
	for l := range ct.Links {
		lnks = append(lnks, l)
	}
	t.mu.Unlock()

	for _, l := range lnks {
		t.DropComtreeLink(c, l)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byNum, c)
	return nil
}

// IsAttached reports whether lnk is a comtree-link of comtree c,
// satisfying the forwarding engine's narrow membership-check need.
func (t *Table) IsAttached(c uint32, lnk int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ct, ok := t.byNum[c]
	if !ok {
		return false
	}
	_, ok = ct.Links[lnk]
	return ok
}

// ComtreesForLink returns every comtree number that has lnk attached,
// used by the control handler to cascade a link drop across comtrees.
func (t *Table) ComtreesForLink(lnk int) []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []uint32
	for num, ct := range t.byNum {
		if _, ok := ct.Links[lnk]; ok {
			out = append(out, num)
		}
	}
	return out
}

// GetComtreeLink returns a copy of comtree c's attachment state for lnk.
func (t *Table) GetComtreeLink(c uint32, lnk int) (ComtreeLink, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ct, ok := t.byNum[c]
	if !ok {
		return ComtreeLink{}, ErrNoSuchComtree
	}
	cl, ok := ct.Links[lnk]
	if !ok {
		return ComtreeLink{}, ErrNoSuchLink
	}
	return *cl, nil
}

// LinkQueue returns the queue number bound to lnk within comtree c,
// the accessor the forwarding engine's split-horizon fan-out uses to
// place each outgoing copy on its own comtree-link's queue.
func (t *Table) LinkQueue(c uint32, lnk int) (int, error) {
	cl, err := t.GetComtreeLink(c, lnk)
	if err != nil {
		return 0, err
	}
	return cl.Queue, nil
}

// GetComtree reports whether comtree c exists and, if so, its set of
// attached link numbers.
func (t *Table) GetComtree(c uint32) ([]int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ct, ok := t.byNum[c]
	if !ok {
		return nil, ErrNoSuchComtree
	}
	lnks := make([]int, 0, len(ct.Links))
	for l := range ct.Links {
		lnks = append(lnks, l)
	}
	return lnks, nil
}

// transitions enumerates the member state machine's legal moves.
var transitions = map[MemberState]map[MemberState]bool{
	Absent:  {Pending: true},
	Pending: {Joined: true, Absent: true}, // controller ack, or join denied
	Joined:  {Leaving: true},
	Leaving: {Absent: true},
}

// MemberState returns a leaf's current comtree membership state,
// Absent if it has never joined.
func (t *Table) MemberState(c uint32, leaf wire.Address) (MemberState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ct, ok := t.byNum[c]
	if !ok {
		return Absent, ErrNoSuchComtree
	}
	return ct.Members[leaf], nil
}

// TransitionMember advances leaf's membership state in comtree c to
// next, rejecting moves the state machine does not allow — e.g. a
// second join-request while one is already Pending.
func (t *Table) TransitionMember(c uint32, leaf wire.Address, next MemberState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ct, ok := t.byNum[c]
	if !ok {
		return ErrNoSuchComtree
	}
	cur := ct.Members[leaf]
	if !transitions[cur][next] {
		return ErrBadState
	}
	if next == Absent {
		delete(ct.Members, leaf)
	} else {
		ct.Members[leaf] = next
	}
	return nil
}
