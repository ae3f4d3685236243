// Package link implements the router's Link Table: the numbered set of
// peer connections carried over the router's interfaces, each with its
// own rate budget drawn from its owning interface.
//
// Grounded on _examples/original_source/lfs/lnkTbl.cpp: a fixed
// numbered table (addEntry/removeEntry/valid) indexed by a hash of the
// peer's (IP, forest address) pair, generalized here to three lookup
// indices (peer endpoint, peer forest address, pending nonce) since
// the Go table backs three distinct request paths — administrative
// lookups, data-plane peer resolution, and CONNECT handshake
// correlation — where the original used one.
package link

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"forest.net/router/internal/forest/wire"
)

// Errors returned by Table operations.
var (
	ErrConflict   = fmt.Errorf("link: number already in use")
	ErrNoCapacity = fmt.Errorf("link: requested rate exceeds interface budget")
	ErrBadLink    = fmt.Errorf("link: no such link")
)

// PeerType classifies what kind of node a link connects to, following
// the original's ENDSYS/ROUTER/CONTROLLER distinction.
type PeerType int

const (
	PeerUndefined PeerType = iota
	PeerClient
	PeerRouter
	PeerController
)

// PeerEndpoint is a link's peer identified by network address, used as
// a lookup key for inbound packets before a forest address is known.
type PeerEndpoint struct {
	IP   netip.Addr
	Port uint16
}

// Link is a single peer connection entry.
type Link struct {
	Num      int
	Iface    int
	Peer     PeerEndpoint
	PeerAdr  wire.Address
	PeerType PeerType
	Rates    wire.RateSpec
	Nonce    uint64 // outstanding CONNECT nonce, 0 if none pending
	Connected bool
}

// IfaceReserver is the subset of the interface table a link table
// needs to draw down and restore rate budgets.
type IfaceReserver interface {
	Reserve(num int, amt wire.RateSpec) error
	Release(num int, amt wire.RateSpec) error
}

// Table is the thread-safe set of configured links.
type Table struct {
	mu        sync.RWMutex
	ifaces    IfaceReserver
	byNum     map[int]*Link
	byPeer    map[PeerEndpoint]int
	byPeerAdr map[wire.Address]int
	byNonce   map[uint64]int
}

// New returns an empty link table that reserves rate budget from ifaces.
func New(ifaces IfaceReserver) *Table {
	return &Table{
		ifaces:    ifaces,
		byNum:     make(map[int]*Link),
		byPeer:    make(map[PeerEndpoint]int),
		byPeerAdr: make(map[wire.Address]int),
		byNonce:   make(map[uint64]int),
	}
}

// Add creates link num on iface, reserving rates from the owning
// interface's budget. Fails with ErrNoCapacity if the interface cannot
// support the requested rate.
func (t *Table) Add(num, ifaceNum int, peer PeerEndpoint, peerAdr wire.Address, ptype PeerType, rates wire.RateSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byNum[num]; exists {
		return ErrConflict
	}
	rates = rates.Clamped()
	if err := t.ifaces.Reserve(ifaceNum, rates); err != nil {
		return ErrNoCapacity
	}
	lnk := &Link{Num: num, Iface: ifaceNum, Peer: peer, PeerAdr: peerAdr, PeerType: ptype, Rates: rates}
	t.byNum[num] = lnk
	t.byPeer[peer] = num
	if peerAdr != 0 {
		t.byPeerAdr[peerAdr] = num
	}
	return nil
}

// Drop removes link num, releasing its rate budget back to the owning
// interface.
func (t *Table) Drop(num int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	lnk, ok := t.byNum[num]
	if !ok {
		return ErrBadLink
	}
	t.ifaces.Release(lnk.Iface, lnk.Rates)
	delete(t.byNum, num)
	delete(t.byPeer, lnk.Peer)
	if lnk.PeerAdr != 0 {
		delete(t.byPeerAdr, lnk.PeerAdr)
	}
	if lnk.Nonce != 0 {
		delete(t.byNonce, lnk.Nonce)
	}
	return nil
}

// Get returns a copy of link num's current state.
func (t *Table) Get(num int) (Link, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	lnk, ok := t.byNum[num]
	if !ok {
		return Link{}, ErrBadLink
	}
	return *lnk, nil
}

// ByPeer finds a link by the peer's network endpoint.
func (t *Table) ByPeer(peer PeerEndpoint) (Link, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	num, ok := t.byPeer[peer]
	if !ok {
		return Link{}, ErrBadLink
	}
	return *t.byNum[num], nil
}

// ByPeerAddr finds a link by the peer's forest address.
func (t *Table) ByPeerAddr(adr wire.Address) (Link, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	num, ok := t.byPeerAdr[adr]
	if !ok {
		return Link{}, ErrBadLink
	}
	return *t.byNum[num], nil
}

// ByNonce finds the link awaiting a CONNECT reply carrying nonce.
func (t *Table) ByNonce(nonce uint64) (Link, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	num, ok := t.byNonce[nonce]
	if !ok {
		return Link{}, ErrBadLink
	}
	return *t.byNum[num], nil
}

// SetNonce records that link num has an outstanding CONNECT handshake
// identified by nonce, clearing any previous nonce for this link.
func (t *Table) SetNonce(num int, nonce uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	lnk, ok := t.byNum[num]
	if !ok {
		return ErrBadLink
	}
	if lnk.Nonce != 0 {
		delete(t.byNonce, lnk.Nonce)
	}
	lnk.Nonce = nonce
	if nonce != 0 {
		t.byNonce[nonce] = num
	}
	return nil
}

// Connect marks link num connected, assigns its peer forest address,
// and clears its pending nonce. Called when a CONNECT handshake
// completes.
func (t *Table) Connect(num int, peerAdr wire.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	lnk, ok := t.byNum[num]
	if !ok {
		return ErrBadLink
	}
	if lnk.Nonce != 0 {
		delete(t.byNonce, lnk.Nonce)
		lnk.Nonce = 0
	}
	if lnk.PeerAdr != 0 {
		delete(t.byPeerAdr, lnk.PeerAdr)
	}
	lnk.PeerAdr = peerAdr
	lnk.Connected = true
	if peerAdr != 0 {
		t.byPeerAdr[peerAdr] = num
	}
	return nil
}

// Disconnect marks link num disconnected and clears its peer forest
// address, leaving the link entry itself (and its rate budget) intact.
// The symmetric counterpart of Connect, invoked when a DISCONNECT
// handshake completes.
func (t *Table) Disconnect(num int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	lnk, ok := t.byNum[num]
	if !ok {
		return ErrBadLink
	}
	if lnk.PeerAdr != 0 {
		delete(t.byPeerAdr, lnk.PeerAdr)
		lnk.PeerAdr = 0
	}
	lnk.Connected = false
	return nil
}

// AdjustRate sets link num's committed rate to newRates, reserving or
// releasing the difference from the current rate against the owning
// interface.
func (t *Table) AdjustRate(num int, newRates wire.RateSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	lnk, ok := t.byNum[num]
	if !ok {
		return ErrBadLink
	}
	newRates = newRates.Clamped()
	delta := newRates.Sub(lnk.Rates)
	if delta.Nonnegative() {
		if err := t.ifaces.Reserve(lnk.Iface, delta); err != nil {
			return ErrNoCapacity
		}
	} else {
		t.ifaces.Release(lnk.Iface, wire.RateSpec{}.Sub(delta))
	}
	lnk.Rates = newRates
	return nil
}

// Iterate calls fn for every link in ascending numeric order, stopping
// early if fn returns false.
func (t *Table) Iterate(fn func(Link) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	nums := make([]int, 0, len(t.byNum))
	for n := range t.byNum {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, n := range nums {
		if !fn(*t.byNum[n]) {
			return
		}
	}
}
