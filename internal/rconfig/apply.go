package rconfig

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"dario.cat/mergo"

	"forest.net/router/internal/forest/control"
	"forest.net/router/internal/forest/link"
	"forest.net/router/internal/forest/wire"
)

// defaultRate is merged onto an interface's zero max rates and onto a
// link whose rate_spec block is absent or partially specified, the way the
// teacher's QoS policy loader fills in partial per-class rates.
var defaultRate = wire.RateSpec{BitRateUp: 10000, BitRateDown: 10000, PktRateUp: 10000, PktRateDown: 10000}

// Apply provisions ctrl's tables from cfg, in the only order the
// loader's invariant allows: interfaces before links (a link reserves
// rate out of its interface's budget), links before comtree
// membership, and comtrees before routes (a route names a comtree and
// a link that must already exist).
func Apply(cfg *Config, ctrl *control.Handler) error {
	if cfg.LeafHi > 0 {
		if err := applyLeafRange(cfg, ctrl); err != nil {
			return err
		}
	}
	for _, ifc := range cfg.Interfaces {
		if err := applyInterface(ifc, ctrl); err != nil {
			return fmt.Errorf("rconfig: interface %d: %w", ifc.Num, err)
		}
	}
	for _, lk := range cfg.Links {
		if err := applyLink(lk, ctrl); err != nil {
			return fmt.Errorf("rconfig: link %d: %w", lk.Num, err)
		}
	}
	for _, ct := range cfg.Comtrees {
		if err := applyComtree(ct, ctrl); err != nil {
			return fmt.Errorf("rconfig: comtree %d: %w", ct.Num, err)
		}
	}
	for i, rt := range cfg.Routes {
		if err := applyRoute(rt, ctrl); err != nil {
			return fmt.Errorf("rconfig: route #%d: %w", i, err)
		}
	}
	return nil
}

func applyLeafRange(cfg *Config, ctrl *control.Handler) error {
	rtrAdr, err := ParseForestAddr(cfg.RouterAddr)
	if err != nil {
		return fmt.Errorf("rconfig: router_addr: %w", err)
	}
	cp := wire.NewRequest(wire.SetLeafRange, 0)
	cp.Set(wire.AttrRtrAdr, int64(rtrAdr))
	cp.Set(wire.AttrLeafAdr, int64(cfg.LeafLo))
	cp.Set(wire.AttrLeafCount, int64(cfg.LeafHi))
	return requireOK(ctrl.Handle(cp))
}

func applyInterface(ifc Interface, ctrl *control.Handler) error {
	localIP, err := netip.ParseAddr(ifc.LocalIP)
	if err != nil {
		return fmt.Errorf("local_ip: %w", err)
	}
	ipv4, err := wire.IPToUint32(localIP)
	if err != nil {
		return fmt.Errorf("local_ip: %w", err)
	}
	rate := wire.RateSpec{BitRateUp: ifc.MaxBitRate, BitRateDown: ifc.MaxBitRate, PktRateUp: ifc.MaxPktRate, PktRateDown: ifc.MaxPktRate}
	if err := mergo.Merge(&rate, defaultRate); err != nil {
		return err
	}

	cp := wire.NewRequest(wire.AddIface, 0)
	cp.Set(wire.AttrIfaceNum, int64(ifc.Num))
	cp.Set(wire.AttrLocalIP, int64(ipv4))
	cp.Set(wire.AttrMaxBitRate, rate.BitRateUp)
	cp.Set(wire.AttrMaxPktRate, rate.PktRateUp)
	return requireOK(ctrl.Handle(cp))
}

func applyLink(lk Link, ctrl *control.Handler) error {
	peerIP, err := netip.ParseAddr(lk.PeerIP)
	if err != nil {
		return fmt.Errorf("peer_ip: %w", err)
	}
	ipv4, err := wire.IPToUint32(peerIP)
	if err != nil {
		return fmt.Errorf("peer_ip: %w", err)
	}
	peerType, err := parsePeerType(lk.PeerType)
	if err != nil {
		return err
	}
	rate := defaultRate
	if lk.RateSpec != nil {
		rate = wire.RateSpec{
			BitRateUp: lk.RateSpec.BitRateUp, BitRateDown: lk.RateSpec.BitRateDown,
			PktRateUp: lk.RateSpec.PktRateUp, PktRateDown: lk.RateSpec.PktRateDown,
		}
		if err := mergo.Merge(&rate, defaultRate); err != nil {
			return err
		}
	}

	cp := wire.NewRequest(wire.AddLink, 0)
	cp.Set(wire.AttrIfaceNum, int64(lk.Iface))
	cp.Set(wire.AttrPeerIP, int64(ipv4))
	cp.Set(wire.AttrPeerPort, int64(lk.PeerPort))
	cp.Set(wire.AttrPeerType, int64(peerType))
	if lk.PeerAddr != 0 {
		cp.Set(wire.AttrPeerAdr, int64(lk.PeerAddr))
	}
	if lk.Nonce != 0 {
		cp.Set(wire.AttrNonce, int64(lk.Nonce))
	}
	setRateSpecAttrs(&cp, rate)
	return requireOK(ctrl.Handle(cp))
}

func applyComtree(ct Comtree, ctrl *control.Handler) error {
	add := wire.NewRequest(wire.AddComtree, 0)
	add.Set(wire.AttrComtreeNum, int64(ct.Num))
	if err := requireOK(ctrl.Handle(add)); err != nil {
		return err
	}

	core := make(map[int]bool, len(ct.CoreLinks))
	for _, l := range ct.CoreLinks {
		core[l] = true
	}
	for _, l := range ct.MemberLinks {
		cp := wire.NewRequest(wire.AddComtreeLink, 0)
		cp.Set(wire.AttrComtreeNum, int64(ct.Num))
		cp.Set(wire.AttrLinkNum, int64(l))
		if core[l] {
			cp.Set(wire.AttrCoreFlag, 1)
		}
		if err := requireOK(ctrl.Handle(cp)); err != nil {
			return fmt.Errorf("member link %d: %w", l, err)
		}
	}
	return nil
}

func applyRoute(rt Route, ctrl *control.Handler) error {
	if len(rt.Links) == 0 {
		return fmt.Errorf("route has no links")
	}
	dest := wire.Address(rt.Dest)
	if !dest.IsMulticast() {
		if len(rt.Links) > 1 {
			return fmt.Errorf("unicast destination %v given %d links, want 1", dest, len(rt.Links))
		}
		add := wire.NewRequest(wire.AddRoute, 0)
		add.Set(wire.AttrComtreeNum, int64(rt.Comt))
		add.Set(wire.AttrDestAdr, int64(rt.Dest))
		add.Set(wire.AttrLinkNum, int64(rt.Links[0]))
		return requireOK(ctrl.Handle(add))
	}

	add := wire.NewRequest(wire.AddRoute, 0)
	add.Set(wire.AttrComtreeNum, int64(rt.Comt))
	add.Set(wire.AttrDestAdr, int64(rt.Dest))
	add.Set(wire.AttrLinkNum, int64(rt.Links[0]))
	if err := requireOK(ctrl.Handle(add)); err != nil {
		return err
	}
	for _, l := range rt.Links[1:] {
		cp := wire.NewRequest(wire.AddRouteLink, 0)
		cp.Set(wire.AttrComtreeNum, int64(rt.Comt))
		cp.Set(wire.AttrDestAdr, int64(rt.Dest))
		cp.Set(wire.AttrLinkNum, int64(l))
		if err := requireOK(ctrl.Handle(cp)); err != nil {
			return fmt.Errorf("extra link %d: %w", l, err)
		}
	}
	return nil
}

func requireOK(reply wire.ControlPacket) error {
	if reply.Mode == wire.ModeNegReply {
		return fmt.Errorf("rejected: %s", reply.ErrMsg)
	}
	return nil
}

func parsePeerType(s string) (link.PeerType, error) {
	switch strings.ToLower(s) {
	case "client":
		return link.PeerClient, nil
	case "router":
		return link.PeerRouter, nil
	default:
		return 0, fmt.Errorf("peer_type: unrecognized %q", s)
	}
}

// ParseForestAddr parses the "zip.local" decimal notation used
// throughout bootstrap config for Forest addresses.
func ParseForestAddr(s string) (wire.Address, error) {
	zipStr, localStr, ok := strings.Cut(s, ".")
	if !ok {
		return 0, fmt.Errorf("want \"zip.local\", got %q", s)
	}
	zip, err := strconv.ParseUint(zipStr, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("zip: %w", err)
	}
	local, err := strconv.ParseUint(localStr, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("local: %w", err)
	}
	return wire.ForestAddr(uint16(zip), uint16(local)), nil
}

// setRateSpecAttrs mirrors the unexported helper of the same name in
// internal/forest/control: the four discrete rate attributes a
// RateSpec is carried as on the wire.
func setRateSpecAttrs(cp *wire.ControlPacket, r wire.RateSpec) {
	cp.Set(wire.AttrBitRateUp, r.BitRateUp)
	cp.Set(wire.AttrBitRateDown, r.BitRateDown)
	cp.Set(wire.AttrPktRateUp, r.PktRateUp)
	cp.Set(wire.AttrPktRateDown, r.PktRateDown)
}
