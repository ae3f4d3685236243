package substrate

import (
	"net/netip"
	"testing"
	"time"

	"forest.net/router/internal/clock"
)

func TestOutstandingRegisterResolve(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	o := NewOutstanding(clk, time.Second)

	peer := PeerEndpoint{IP: netip.MustParseAddr("10.0.0.5"), Port: 4321}
	ch := o.Register(peer, 1)

	if !o.Resolve(peer, 1, []byte("reply")) {
		t.Fatal("expected Resolve to find registered entry")
	}
	select {
	case r := <-ch:
		if r.Err != nil || string(r.Payload) != "reply" {
			t.Fatalf("unexpected reply: %+v", r)
		}
	default:
		t.Fatal("expected reply delivered to channel")
	}
}

func TestOutstandingResolveNoMatch(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	o := NewOutstanding(clk, time.Second)
	peer := PeerEndpoint{IP: netip.MustParseAddr("10.0.0.5"), Port: 1}
	if o.Resolve(peer, 99, nil) {
		t.Fatal("expected no match for unregistered (peer, seq)")
	}
}

func TestOutstandingCancel(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	o := NewOutstanding(clk, time.Second)
	peer := PeerEndpoint{IP: netip.MustParseAddr("10.0.0.5"), Port: 1}
	o.Register(peer, 1)
	o.Cancel(peer, 1)
	if o.Resolve(peer, 1, nil) {
		t.Fatal("expected cancelled entry to not resolve")
	}
}

func TestOutstandingEvictAgedDeliversTimeout(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	o := NewOutstanding(clk, 5*time.Second)
	peer := PeerEndpoint{IP: netip.MustParseAddr("10.0.0.5"), Port: 1}
	ch := o.Register(peer, 1)

	clk.Advance(6 * time.Second)
	if n := o.EvictAged(); n != 1 {
		t.Fatalf("EvictAged = %d, want 1", n)
	}
	select {
	case r := <-ch:
		if r.Err != ErrTimedOut {
			t.Fatalf("expected ErrTimedOut, got %v", r.Err)
		}
	default:
		t.Fatal("expected timeout delivered to channel")
	}
}
