package rconfig

import (
	"testing"
	"time"

	"forest.net/router/internal/clock"
	"forest.net/router/internal/forest/comtree"
	"forest.net/router/internal/forest/control"
	"forest.net/router/internal/forest/iface"
	"forest.net/router/internal/forest/link"
	"forest.net/router/internal/forest/queue"
	"forest.net/router/internal/forest/route"
	"forest.net/router/internal/forest/wire"
)

func newTestHandler(t *testing.T) (*control.Handler, *link.Table, *comtree.Table, *route.Table) {
	t.Helper()
	ifaces := iface.New()
	links := link.New(ifaces)
	clk := clock.NewMockClock(time.Unix(0, 0))
	queues := queue.New(clk)
	routes := route.New(wire.ForestAddr(1, 0))
	comtrees := comtree.New(links, queues, routes)
	ctrl := control.NewHandler(control.Tables{
		Ifaces: ifaces, Links: links, Comtrees: comtrees, Routes: routes, Queues: queues,
	}, 1)
	return ctrl, links, comtrees, routes
}

func TestApplyProvisionsIfacesLinksComtreesAndRoutes(t *testing.T) {
	ctrl, links, comtrees, routes := newTestHandler(t)

	cfg := &Config{
		RouterAddr: "1.0",
		LeafLo:     100,
		LeafHi:     199,
		Interfaces: []Interface{
			{Num: 1, LocalIP: "10.0.0.1", MaxBitRate: 500000, MaxPktRate: 500000},
		},
		Links: []Link{
			{Num: 1, Iface: 1, PeerIP: "10.0.0.2", PeerPort: 1111, PeerType: "router"},
			{Num: 2, Iface: 1, PeerIP: "10.0.0.3", PeerPort: 2222, PeerType: "client", PeerAddr: uint32(wire.ForestAddr(1, 5))},
		},
		Comtrees: []Comtree{
			{Num: 100, MemberLinks: []int{1, 2}, CoreLinks: []int{1}},
		},
		Routes: []Route{
			{Comt: 100, Dest: uint32(wire.ForestAddr(1, 5)), Links: []int{2}},
		},
	}

	if err := Apply(cfg, ctrl); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if _, err := links.Get(1); err != nil {
		t.Fatalf("link 1 not provisioned: %v", err)
	}
	lnk2, err := links.Get(2)
	if err != nil {
		t.Fatalf("link 2 not provisioned: %v", err)
	}
	if lnk2.PeerAdr != wire.ForestAddr(1, 5) {
		t.Fatalf("link 2 peerAdr = %v, want %v", lnk2.PeerAdr, wire.ForestAddr(1, 5))
	}
	if !comtrees.IsAttached(100, 1) || !comtrees.IsAttached(100, 2) {
		t.Fatal("expected both links attached to comtree 100")
	}
	entry, err := routes.Lookup(100, wire.ForestAddr(1, 5))
	if err != nil {
		t.Fatalf("route lookup: %v", err)
	}
	if entry.Link != 2 {
		t.Fatalf("route link = %d, want 2", entry.Link)
	}
}

func TestApplyRejectsUnknownPeerType(t *testing.T) {
	ctrl, _, _, _ := newTestHandler(t)
	cfg := &Config{
		Interfaces: []Interface{{Num: 1, LocalIP: "10.0.0.1"}},
		Links:      []Link{{Num: 1, Iface: 1, PeerIP: "10.0.0.2", PeerPort: 1, PeerType: "bogus"}},
	}
	if err := Apply(cfg, ctrl); err == nil {
		t.Fatal("expected error for unrecognized peer_type")
	}
}
