// Package iface implements the router's Interface Table: the set of
// local network interfaces the router forwards traffic over, each
// with a configured rate budget that its links draw down against.
//
// Grounded on _examples/original_source/lfs/lnkTbl.cpp's entry
// lifecycle (addEntry/removeEntry/valid/disable, a fixed numbered
// table with enable/disable instead of deletion) adapted from link
// granularity to interface granularity, since the original treats
// interfaces as a property of a link rather than a table of their own.
package iface

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"forest.net/router/internal/forest/wire"
)

// Errors returned by Table operations.
var (
	ErrConflict   = fmt.Errorf("iface: number already in use")
	ErrNoCapacity = fmt.Errorf("iface: requested rate exceeds available budget")
	ErrBadIface   = fmt.Errorf("iface: no such interface")
)

// Interface is a single local network interface entry.
type Interface struct {
	Num       int
	LocalIP   netip.Addr
	Max       wire.RateSpec // configured budget
	Available wire.RateSpec // budget not yet committed to links
}

// Table is the thread-safe set of configured interfaces.
type Table struct {
	mu   sync.RWMutex
	byNum map[int]*Interface
}

// New returns an empty interface table.
func New() *Table {
	return &Table{byNum: make(map[int]*Interface)}
}

// Add creates interface num with the given local IP and rate budget.
// Available starts out equal to Max.
func (t *Table) Add(num int, localIP netip.Addr, max wire.RateSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byNum[num]; exists {
		return ErrConflict
	}
	max = max.Clamped()
	t.byNum[num] = &Interface{Num: num, LocalIP: localIP, Max: max, Available: max}
	return nil
}

// Drop removes interface num. Callers must ensure no link still
// references it before calling Drop.
func (t *Table) Drop(num int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byNum[num]; !exists {
		return ErrBadIface
	}
	delete(t.byNum, num)
	return nil
}

// Get returns a copy of interface num's current state.
func (t *Table) Get(num int) (Interface, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	iff, ok := t.byNum[num]
	if !ok {
		return Interface{}, ErrBadIface
	}
	return *iff, nil
}

// Modify updates interface num's configured Max, re-deriving Available
// by the same delta. Fails if shrinking Max would drive Available
// negative, meaning links have already committed more than the new
// budget allows.
func (t *Table) Modify(num int, max wire.RateSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	iff, ok := t.byNum[num]
	if !ok {
		return ErrBadIface
	}
	max = max.Clamped()
	committed := iff.Max.Sub(iff.Available)
	newAvail := max.Sub(committed)
	if !newAvail.Nonnegative() {
		return ErrNoCapacity
	}
	iff.Max = max
	iff.Available = newAvail
	return nil
}

// Reserve deducts amt from interface num's available budget. Used when
// a link is added or its rate is increased.
func (t *Table) Reserve(num int, amt wire.RateSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	iff, ok := t.byNum[num]
	if !ok {
		return ErrBadIface
	}
	remaining := iff.Available.Sub(amt)
	if !remaining.Nonnegative() {
		return ErrNoCapacity
	}
	iff.Available = remaining
	return nil
}

// Release credits amt back to interface num's available budget. Used
// when a link is dropped or its rate is decreased.
func (t *Table) Release(num int, amt wire.RateSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	iff, ok := t.byNum[num]
	if !ok {
		return ErrBadIface
	}
	iff.Available = iff.Available.Add(amt).Clamped()
	return nil
}

// Iterate calls fn for every interface in ascending numeric order,
// stopping early if fn returns false.
func (t *Table) Iterate(fn func(Interface) bool) {
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
