package link

import (
	"net/netip"
	"testing"

	"forest.net/router/internal/forest/iface"
	"forest.net/router/internal/forest/wire"
)

func rate(n int64) wire.RateSpec {
	return wire.RateSpec{BitRateUp: n, BitRateDown: n, PktRateUp: n, PktRateDown: n}
}

func setup(t *testing.T) (*iface.Table, *Table) {
	t.Helper()
	ifaces := iface.New()
	if err := ifaces.Add(1, netip.MustParseAddr("10.0.0.1"), rate(1000)); err != nil {
		t.Fatalf("iface.Add: %v", err)
	}
	return ifaces, New(ifaces)
}

func TestAddReservesFromInterface(t *testing.T) {
	ifaces, links := setup(t)
	peer := PeerEndpoint{IP: netip.MustParseAddr("192.168.1.5"), Port: 30123}
	if err := links.Add(7, 1, peer, 0, PeerClient, rate(100)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, _ := ifaces.Get(1)
	if got.Available.BitRateUp != 900 {
		t.Fatalf("interface available = %+v, want 900", got.Available)
	}

	lnk, err := links.ByPeer(peer)
	if err != nil {
		t.Fatalf("ByPeer: %v", err)
	}
	if lnk.Num != 7 {
		t.Fatalf("ByPeer returned link %d, want 7", lnk.Num)
	}
}

func TestAddExceedsCapacity(t *testing.T) {
	_, links := setup(t)
	peer := PeerEndpoint{IP: netip.MustParseAddr("192.168.1.5"), Port: 1}
	if err := links.Add(1, 1, peer, 0, PeerClient, rate(5000)); err != ErrNoCapacity {
		t.Fatalf("expected ErrNoCapacity, got %v", err)
	}
}

func TestDropReleasesBudget(t *testing.T) {
	ifaces, links := setup(t)
	peer := PeerEndpoint{IP: netip.MustParseAddr("192.168.1.5"), Port: 1}
	links.Add(1, 1, peer, 0, PeerClient, rate(100))
	if err := links.Drop(1); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	got, _ := ifaces.Get(1)
	if got.Available.BitRateUp != 1000 {
		t.Fatalf("available after drop = %+v, want 1000", got.Available)
	}
	if _, err := links.ByPeer(peer); err != ErrBadLink {
		t.Fatalf("expected peer index cleared, got %v", err)
	}
}

func TestNonceHandshake(t *testing.T) {
	_, links := setup(t)
	peer := PeerEndpoint{IP: netip.MustParseAddr("192.168.1.5"), Port: 1}
	links.Add(3, 1, peer, 0, PeerClient, rate(10))

	if err := links.SetNonce(3, 0xdeadbeef); err != nil {
		t.Fatalf("SetNonce: %v", err)
	}
	lnk, err := links.ByNonce(0xdeadbeef)
	if err != nil {
		t.Fatalf("ByNonce: %v", err)
	}
	if lnk.Num != 3 {
		t.Fatalf("ByNonce returned %d, want 3", lnk.Num)
	}

	if err := links.Connect(3, wire.ForestAddr(1, 99)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := links.ByNonce(0xdeadbeef); err != ErrBadLink {
		t.Fatal("expected nonce cleared after Connect")
	}
	got, _ := links.Get(3)
	if !got.Connected || got.PeerAdr != wire.ForestAddr(1, 99) {
		t.Fatalf("link state after connect: %+v", got)
	}
}

func TestDisconnectClearsPeerAdrKeepsBudget(t *testing.T) {
	_, links := setup(t)
	peer := PeerEndpoint{IP: netip.MustParseAddr("192.168.1.6"), Port: 2}
	links.Add(4, 1, peer, 0, PeerClient, rate(10))
	links.Connect(4, wire.ForestAddr(1, 55))

	if err := links.Disconnect(4); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	got, _ := links.Get(4)
	if got.Connected || got.PeerAdr != 0 {
		t.Fatalf("link state after disconnect: %+v", got)
	}
	if _, err := links.ByPeerAddr(wire.ForestAddr(1, 55)); err != ErrBadLink {
		t.Fatal("expected peer address index cleared after disconnect")
	}
}

func TestAdjustRateGrowAndShrink(t *testing.T) {
	ifaces, links := setup(t)
	peer := PeerEndpoint{IP: netip.MustParseAddr("192.168.1.5"), Port: 1}
	links.Add(1, 1, peer, 0, PeerClient, rate(100))

	if err := links.AdjustRate(1, rate(200)); err != nil {
		t.Fatalf("AdjustRate grow: %v", err)
	}
	got, _ := ifaces.Get(1)
	if got.Available.BitRateUp != 800 {
		t.Fatalf("available after growth = %+v, want 800", got.Available)
	}

	if err := links.AdjustRate(1, rate(50)); err != nil {
		t.Fatalf("AdjustRate shrink: %v", err)
	}
	got, _ = ifaces.Get(1)
	if got.Available.BitRateUp != 950 {
		t.Fatalf("available after shrink = %+v, want 950", got.Available)
	}
}

func TestIterateOrder(t *testing.T) {
	_, links := setup(t)
	links.Add(5, 1, PeerEndpoint{IP: netip.MustParseAddr("1.1.1.1"), Port: 1}, 0, PeerClient, rate(1))
	links.Add(1, 1, PeerEndpoint{IP: netip.MustParseAddr("1.1.1.2"), Port: 1}, 0, PeerClient, rate(1))

	var order []int
	links.Iterate(func(l Link) bool {
		order = append(order, l.Num)
		return true
	})
	if len(order) != 2 || order[0] != 1 || order[1] != 5 {
		t.Fatalf("Iterate order = %v, want [1 5]", order)
	}
}
