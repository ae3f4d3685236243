package route

import (
	"testing"

	"forest.net/router/internal/forest/wire"
)

func TestUnicastLookupExact(t *testing.T) {
	myAdr := wire.ForestAddr(1, 1)
	tbl := New(myAdr)
	dest := wire.ForestAddr(1, 5)
	if err := tbl.AddRoute(100, dest, 3); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	e, err := tbl.Lookup(100, dest)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if e.Link != 3 {
		t.Fatalf("Link = %d, want 3", e.Link)
	}
}

func TestUnicastForeignZipAggregated(t *testing.T) {
	myAdr := wire.ForestAddr(1, 1)
	tbl := New(myAdr)
	dest := wire.ForestAddr(9, 5) // foreign zip
	if err := tbl.AddRoute(100, dest, 7); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	// A different leaf in the same foreign zip should hit the
	// aggregated entry.
	other := wire.ForestAddr(9, 77)
	e, err := tbl.Lookup(100, other)
	if err != nil {
		t.Fatalf("Lookup aggregated: %v", err)
	}
	if e.Link != 7 {
		t.Fatalf("Link = %d, want 7", e.Link)
	}
}

func TestMulticastAddDropLink(t *testing.T) {
	myAdr := wire.ForestAddr(1, 1)
	tbl := New(myAdr)
	dest := wire.Address(0x80010000) // multicast bit set, zip 1

	if err := tbl.AddMcastRoute(200, dest); err != nil {
		t.Fatalf("AddMcastRoute: %v", err)
	}
	if err := tbl.AddLink(200, dest, 3); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := tbl.AddLink(200, dest, 4); err != nil {
		t.Fatalf("AddLink: %v", err)
	}

	e, err := tbl.Lookup(200, dest)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(e.Links) != 2 {
		t.Fatalf("Links = %v, want 2 entries", e.Links)
	}

	if err := tbl.DropLink(200, dest, 3); err != nil {
		t.Fatalf("DropLink: %v", err)
	}
	e, _ = tbl.Lookup(200, dest)
	if len(e.Links) != 1 {
		t.Fatalf("Links after drop = %v, want 1 entry", e.Links)
	}
	if _, ok := e.Links[4]; !ok {
		t.Fatal("expected link 4 to remain")
	}
}

func TestLookupNoRoute(t *testing.T) {
	tbl := New(wire.ForestAddr(1, 1))
	if _, err := tbl.Lookup(1, wire.ForestAddr(2, 2)); err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestPurgeRemovesUnicastAndEmptiesMulticast(t *testing.T) {
	myAdr := wire.ForestAddr(1, 1)
	tbl := New(myAdr)
	tbl.AddRoute(100, wire.ForestAddr(1, 5), 3)
	mcast := wire.Address(0x80010000)
	tbl.AddMcastRoute(100, mcast)
	tbl.AddLink(100, mcast, 3)

	tbl.Purge(100, 3)

	if _, err := tbl.Lookup(100, wire.ForestAddr(1, 5)); err != ErrNoRoute {
		t.Fatal("expected unicast route referencing purged link to be removed")
	}
	if _, err := tbl.Lookup(100, mcast); err != ErrNoRoute {
		t.Fatal("expected multicast route emptied by purge to be removed")
	}
}

func TestDropRouteAppliesSameAggregation(t *testing.T) {
	myAdr := wire.ForestAddr(1, 1)
	tbl := New(myAdr)
	dest := wire.ForestAddr(9, 5) // foreign zip, stored aggregated
	if err := tbl.AddRoute(100, dest, 7); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	if err := tbl.DropRoute(100, dest); err != nil {
		t.Fatalf("DropRoute: %v", err)
	}
	if _, err := tbl.Lookup(100, dest); err != ErrNoRoute {
		t.Fatal("expected route removed after DropRoute")
	}
}

func TestCloneIsolatesLinkSet(t *testing.T) {
	myAdr := wire.ForestAddr(1, 1)
	tbl := New(myAdr)
	mcast := wire.Address(0x80010000)
	tbl.AddMcastRoute(100, mcast)
	tbl.AddLink(100, mcast, 1)

	e, _ := tbl.Lookup(100, mcast)
	e.Links[99] = struct{}{} // mutate the returned copy

	e2, _ := tbl.Lookup(100, mcast)
	if _, ok := e2.Links[99]; ok {
		t.Fatal("mutating a returned Entry should not affect table state")
	}
}

func TestAddRouteRejectsDuplicate(t *testing.T) {
	myAdr := wire.ForestAddr(1, 1)
	tbl := New(myAdr)
	dest := wire.ForestAddr(1, 5)
	if err := tbl.AddRoute(100, dest, 3); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	if err := tbl.AddRoute(100, dest, 4); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	e, err := tbl.Lookup(100, dest)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if e.Link != 3 {
		t.Fatalf("Link = %d, want 3 (rejected overwrite must not change the entry)", e.Link)
	}
}

func TestModRouteRepointsExistingEntry(t *testing.T) {
	myAdr := wire.ForestAddr(1, 1)
	tbl := New(myAdr)
	dest := wire.ForestAddr(9, 5) // foreign zip, stored aggregated
	if err := tbl.AddRoute(100, dest, 3); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	if err := tbl.ModRoute(100, dest, 4); err != nil {
		t.Fatalf("ModRoute: %v", err)
	}
	e, err := tbl.Lookup(100, dest)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if e.Link != 4 {
		t.Fatalf("Link = %d, want 4", e.Link)
	}
}

func TestModRouteNoSuchEntry(t *testing.T) {
	tbl := New(wire.ForestAddr(1, 1))
	if err := tbl.ModRoute(100, wire.ForestAddr(2, 2), 3); err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}
