package wire

import (
	"net/netip"
	"testing"
)

func TestIPUint32RoundTrip(t *testing.T) {
	ip := netip.MustParseAddr("192.168.1.5")
	v, err := IPToUint32(ip)
	if err != nil {
		t.Fatalf("IPToUint32: %v", err)
	}
	if got := Uint32ToIP(v); got != ip {
		t.Fatalf("round trip = %v, want %v", got, ip)
	}
}

func TestIPToUint32RejectsIPv6(t *testing.T) {
	ip := netip.MustParseAddr("::1")
	if _, err := IPToUint32(ip); err == nil {
		t.Fatal("expected error for IPv6 address")
	}
}
