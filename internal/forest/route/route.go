// Package route implements the router's Route Table: for each
// (comtree, destination) pair, the outbound link (unicast) or set of
// links (multicast) a matching packet is forwarded on.
//
// Grounded on _examples/original_source/RouteTable.cpp's hash-indexed
// table (hashkey(comt,adr) -> entry) re-expressed with a Go map,
// addEntry's unicast-aggregation rule (destinations outside the
// router's own zip are stored as (zip,0) rather than per-leaf), and
// getLinks's bit-vector link set for multicast entries, generalized
// to a map[int]struct{} since Go has no fixed link-count ceiling to
// pack into a machine word.
//
// Links are identified by plain link numbers, so this package imports
// nothing from comtree and comtree can depend on route without a
// cycle.
package route

import (
	"fmt"
	"sync"

	"forest.net/router/internal/forest/wire"
)

// ErrNoRoute is returned by Lookup when no entry matches.
var ErrNoRoute = fmt.Errorf("route: no matching entry")

// ErrDuplicate is returned by AddRoute when a unicast entry for
// (comt, dest) already exists. Re-pointing an existing route to a
// different link is ModRoute's job, not AddRoute's.
var ErrDuplicate = fmt.Errorf("route: entry already exists")

// key identifies a route table entry by comtree and destination.
type key struct {
	Comtree uint32
	Dest    wire.Address
}

// Entry is a route table entry: either a single outbound link
// (unicast) or a set of links (multicast). The queue a forwarded copy
// lands in is a property of the comtree-link it goes out on, not of
// the route; see comtree.Table.LinkQueue.
type Entry struct {
	Comtree uint32
	Dest    wire.Address
	Link    int             // unicast: the single outbound link, 0 if unset
	Links   map[int]struct{} // multicast: the set of outbound links
}

// Table is the thread-safe route table.
type Table struct {
	mu     sync.RWMutex
	myAdr  wire.Address
	byKey  map[key]*Entry
}

// New returns an empty route table for a router at myAdr. myAdr
// determines which destinations fall within the router's own zip and
// so are kept as exact entries rather than aggregated.
func New(myAdr wire.Address) *Table {
	return &Table{myAdr: myAdr, byKey: make(map[key]*Entry)}
}

// AddRoute inserts a unicast route for (comtree, dest) via link. Per
// the original's addEntry, if dest's zip differs from the router's
// own, the stored destination is aggregated to (zip, 0) so that all
// leaves in a foreign zip share one entry. Returns ErrDuplicate if an
// entry for the resulting key already exists; use ModRoute to
// re-point an existing route to a different link.
func (t *Table) AddRoute(comt uint32, dest wire.Address, link int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	stored := dest
	if !dest.IsMulticast() && dest.Zip() != t.myAdr.Zip() {
		stored = wire.Aggregate(dest)
	}
	k := key{Comtree: comt, Dest: stored}
	if _, ok := t.byKey[k]; ok {
		return ErrDuplicate
	}
	t.byKey[k] = &Entry{Comtree: comt, Dest: stored, Link: link}
	return nil
}

// ModRoute re-points an existing unicast route for (comtree, dest) to
// link, applying the same foreign-zip aggregation AddRoute does.
// Returns ErrNoRoute if no entry exists yet to re-point.
func (t *Table) ModRoute(comt uint32, dest wire.Address, link int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	stored := dest
	if !dest.IsMulticast() && dest.Zip() != t.myAdr.Zip() {
		stored = wire.Aggregate(dest)
	}
	k := key{Comtree: comt, Dest: stored}
	e, ok := t.byKey[k]
	if !ok {
		return ErrNoRoute
	}
	e.Link = link
	return nil
}

// AddMcastRoute inserts a multicast route for (comtree, dest) with an
// empty link set, a no-op if the entry already exists.
func (t *Table) AddMcastRoute(comt uint32, dest wire.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !dest.IsMulticast() {
		return fmt.Errorf("route: AddMcastRoute called with unicast address %v", dest)
	}
	k := key{Comtree: comt, Dest: dest}
	if _, ok := t.byKey[k]; ok {
		return nil
	}
	t.byKey[k] = &Entry{Comtree: comt, Dest: dest, Links: make(map[int]struct{})}
	return nil
}

// AddLink adds link to the multicast route (comtree, dest)'s link set.
func (t *Table) AddLink(comt uint32, dest wire.Address, link int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byKey[key{Comtree: comt, Dest: dest}]
	if !ok {
		return ErrNoRoute
	}
	if e.Links == nil {
		e.Links = make(map[int]struct{})
	}
	e.Links[link] = struct{}{}
	return nil
}

// DropLink removes link from the multicast route (comtree, dest)'s
// link set, per the lookup/purge pattern used when a comtree-link
// goes down.
func (t *Table) DropLink(comt uint32, dest wire.Address, link int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byKey[key{Comtree: comt, Dest: dest}]
	if !ok {
		return ErrNoRoute
	}
	delete(e.Links, link)
	return nil
}

// Lookup finds the route table entry for (comtree, dest). For
// unicast addresses outside the router's own zip, it retries against
// the aggregated (zip, 0) entry if no exact match exists, mirroring
// the asymmetry addEntry bakes into storage.
func (t *Table) Lookup(comt uint32, dest wire.Address) (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.byKey[key{Comtree: comt, Dest: dest}]; ok {
		return cloneEntry(e), nil
	}
	if !dest.IsMulticast() && dest.Zip() != t.myAdr.Zip() {
		if e, ok := t.byKey[key{Comtree: comt, Dest: wire.Aggregate(dest)}]; ok {
			return cloneEntry(e), nil
		}
	}
	return Entry{}, ErrNoRoute
}

func cloneEntry(e *Entry) Entry {
	cp := *e
	if e.Links != nil {
		cp.Links = make(map[int]struct{}, len(e.Links))
		for l := range e.Links {
			cp.Links[l] = struct{}{}
		}
	}
	return cp
}

// Purge removes every route entry in comt that references cLink,
// either as its unicast link or as a member of its multicast link
// set, dropping the entry entirely if doing so empties it. Called
// when a comtree-link is dropped.
func (t *Table) Purge(comt uint32, cLink int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.byKey {
		if e.Comtree != comt {
			continue
		}
		if e.Links != nil {
			delete(e.Links, cLink)
			if len(e.Links) == 0 {
				delete(t.byKey, k)
			}
			continue
		}
		if e.Link == cLink {
			delete(t.byKey, k)
		}
	}
}

// DropRoute removes the route table entry for (comtree, dest),
// applying the same foreign-zip aggregation AddRoute does so a caller
// can drop a route using the same destination address it added it with.
func (t *Table) DropRoute(comt uint32, dest wire.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	stored := dest
	if !dest.IsMulticast() && dest.Zip() != t.myAdr.Zip() {
		stored = wire.Aggregate(dest)
	}
	k := key{Comtree: comt, Dest: stored}
	if _, ok := t.byKey[k]; !ok {
		return ErrNoRoute
	}
	delete(t.byKey, k)
	return nil
}
