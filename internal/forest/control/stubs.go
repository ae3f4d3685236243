package control

import "forest.net/router/internal/forest/wire"

// handleFilterStub answers every packet-filter and logged-packet
// request with a not-implemented negative reply. The filter/logging
// subsystem these requests belong to is out of scope for this router;
// they stay in the dispatch table so a request of this type gets a
// well-formed reply instead of falling through as unrecognized.
func (h *Handler) handleFilterStub(cp wire.ControlPacket) wire.ControlPacket {
	return cp.NegReply(string(ErrNotImplemented))
}

// handleSetLeafRange records the router's configured leaf address
// allocation range.
func (h *Handler) handleSetLeafRange(cp wire.ControlPacket) wire.ControlPacket {
	rtrAdr, _ := cp.Get(wire.AttrRtrAdr)
	lo, _ := cp.Get(wire.AttrLeafAdr)
	hi, _ := cp.Get(wire.AttrLeafCount)

	h.leafRangeMu.Lock()
	h.leafRange = LeafRange{RtrAdr: wire.Address(uint32(rtrAdr)), LoNode: uint16(lo), HiNode: uint16(hi)}
	h.leafRangeMu.Unlock()
	return cp.PosReply()
}

// LeafRangeSnapshot returns the most recently configured leaf range.
func (h *Handler) LeafRangeSnapshot() LeafRange {
	h.leafRangeMu.Lock()
	defer h.leafRangeMu.Unlock()
	return h.leafRange
}

// handleCtBuildStub acks every comtree-build primitive without
// mutating state. The build protocol (how an external comtree
// controller actually grows or prunes a comtree's branch set) is not
// reimplemented here; the router only exposes the field-level request
// shape so a controller can talk to it without erroring on an
// unrecognized type.
func (h *Handler) handleCtBuildStub(cp wire.ControlPacket) wire.ControlPacket {
	return cp.PosReply()
}
