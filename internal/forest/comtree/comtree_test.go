package comtree

import (
	"net/netip"
	"testing"
	"time"

	"forest.net/router/internal/clock"
	"forest.net/router/internal/forest/iface"
	"forest.net/router/internal/forest/link"
	"forest.net/router/internal/forest/queue"
	"forest.net/router/internal/forest/route"
	"forest.net/router/internal/forest/wire"
)

func rate(n int64) wire.RateSpec {
	return wire.RateSpec{BitRateUp: n, BitRateDown: n, PktRateUp: n, PktRateDown: n}
}

func harness(t *testing.T) (*Table, *link.Table, *queue.Manager) {
	t.Helper()
	ifaces := iface.New()
	if err := ifaces.Add(1, netip.MustParseAddr("10.0.0.1"), rate(1000)); err != nil {
		t.Fatalf("iface.Add: %v", err)
	}
	links := link.New(ifaces)
	peer := link.PeerEndpoint{IP: netip.MustParseAddr("192.168.1.5"), Port: 30123}
	if err := links.Add(7, 1, peer, 0, link.PeerRouter, rate(100)); err != nil {
		t.Fatalf("links.Add: %v", err)
	}

	clk := clock.NewMockClock(time.Unix(0, 0))
	queues := queue.New(clk)
	queues.AddLink(7, rate(100))

	routes := route.New(wire.ForestAddr(1, 0))

	return New(links, queues, routes), links, queues
}

func TestAddComtreeLinkAllocatesQueueAndDeductsRate(t *testing.T) {
	ct, links, queues := harness(t)
	if err := ct.AddComtree(100); err != nil {
		t.Fatalf("AddComtree: %v", err)
	}

	qnum, err := ct.AddComtreeLink(100, 7, false, wire.ForestAddr(2, 5))
	if err != nil {
		t.Fatalf("AddComtreeLink: %v", err)
	}
	if qnum == 0 {
		t.Fatal("expected a nonzero queue number")
	}

	lnk, _ := links.Get(7)
	want := rate(100).Sub(wire.MinComtreeLinkRate)
	if lnk.Rates != want {
		t.Fatalf("link rates after attach = %+v, want %+v", lnk.Rates, want)
	}

	if _, err := queues.QueueLen(7, qnum); err != nil {
		t.Fatalf("expected queue %d allocated on link 7: %v", qnum, err)
	}
}

func TestAddComtreeLinkInstallsUnicastRoute(t *testing.T) {
	ct, _, _ := harness(t)
	ct.AddComtree(100)
	peer := wire.ForestAddr(2, 5)
	qnum, err := ct.AddComtreeLink(100, 7, false, peer)
	if err != nil {
		t.Fatalf("AddComtreeLink: %v", err)
	}
	_ = qnum
	rt := ct.routes.(*route.Table)
	e, err := rt.Lookup(100, peer)
	if err != nil || e.Link != 7 {
		t.Fatalf("route to peer = %+v, err=%v, want link 7", e, err)
	}
}

func TestAddComtreeLinkRejectsUnknownComtree(t *testing.T) {
	ct, _, _ := harness(t)
	if _, err := ct.AddComtreeLink(999, 7, false, 0); err != ErrNoSuchComtree {
		t.Fatalf("expected ErrNoSuchComtree, got %v", err)
	}
}

func TestAddComtreeLinkRejectsUnknownLink(t *testing.T) {
	ct, _, _ := harness(t)
	ct.AddComtree(100)
	if _, err := ct.AddComtreeLink(100, 42, false, 0); err != ErrNoSuchLink {
		t.Fatalf("expected ErrNoSuchLink, got %v", err)
	}
}

func TestAddComtreeLinkRejectsDuplicateAttach(t *testing.T) {
	ct, _, _ := harness(t)
	ct.AddComtree(100)
	if _, err := ct.AddComtreeLink(100, 7, false, 0); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if _, err := ct.AddComtreeLink(100, 7, false, 0); err != ErrLinkConflict {
		t.Fatalf("expected ErrLinkConflict, got %v", err)
	}
}

func TestDropComtreeLinkReleasesRateAndQueue(t *testing.T) {
	ct, links, queues := harness(t)
	ct.AddComtree(100)
	qnum, _ := ct.AddComtreeLink(100, 7, false, 0)

	if err := ct.DropComtreeLink(100, 7); err != nil {
		t.Fatalf("DropComtreeLink: %v", err)
	}

	lnk, _ := links.Get(7)
	if lnk.Rates != rate(100) {
		t.Fatalf("link rates after drop = %+v, want %+v", lnk.Rates, rate(100))
	}
	if _, err := queues.QueueLen(7, qnum); err != queue.ErrNoSuchQueue {
		t.Fatalf("expected queue freed, got %v", err)
	}
}

func TestDropComtreeCascadesToAllLinks(t *testing.T) {
	ct, links, _ := harness(t)
	ct.AddComtree(100)
	ct.AddComtreeLink(100, 7, false, 0)

	if err := ct.DropComtree(100); err != nil {
		t.Fatalf("DropComtree: %v", err)
	}
	if _, err := ct.GetComtree(100); err != ErrNoSuchComtree {
		t.Fatalf("expected comtree removed, got %v", err)
	}
	lnk, _ := links.Get(7)
	if lnk.Rates != rate(100) {
		t.Fatalf("expected link rate restored after cascade, got %+v", lnk.Rates)
	}
}

func TestModComtreeLinkAdjustsRateDelta(t *testing.T) {
	ct, links, _ := harness(t)
	ct.AddComtree(100)
	ct.AddComtreeLink(100, 7, false, 0)

	if err := ct.ModComtreeLink(100, 7, rate(30)); err != nil {
		t.Fatalf("ModComtreeLink: %v", err)
	}
	lnk, _ := links.Get(7)
	want := rate(100).Sub(rate(30))
	if lnk.Rates != want {
		t.Fatalf("link rates after mod = %+v, want %+v", lnk.Rates, want)
	}

	if err := ct.ModComtreeLink(100, 7, rate(1000)); err != ErrNoCapacity {
		t.Fatalf("expected ErrNoCapacity for oversized request, got %v", err)
	}
}

func TestMemberStateMachine(t *testing.T) {
	ct, _, _ := harness(t)
	ct.AddComtree(100)
	leaf := wire.ForestAddr(9, 1)

	st, err := ct.MemberState(100, leaf)
	if err != nil || st != Absent {
		t.Fatalf("initial state = %v, err=%v, want Absent", st, err)
	}

	if err := ct.TransitionMember(100, leaf, Pending); err != nil {
		t.Fatalf("Absent->Pending: %v", err)
	}
	if err := ct.TransitionMember(100, leaf, Pending); err != ErrBadState {
		t.Fatalf("expected duplicate join rejected, got %v", err)
	}
	if err := ct.TransitionMember(100, leaf, Joined); err != nil {
		t.Fatalf("Pending->Joined: %v", err)
	}
	if err := ct.TransitionMember(100, leaf, Leaving); err != nil {
		t.Fatalf("Joined->Leaving: %v", err)
	}
	if err := ct.TransitionMember(100, leaf, Absent); err != nil {
		t.Fatalf("Leaving->Absent: %v", err)
	}
	st, _ = ct.MemberState(100, leaf)
	if st != Absent {
		t.Fatalf("final state = %v, want Absent", st)
	}
}
