package control

import (
	"fmt"

	"forest.net/router/internal/forest/iface"
	"forest.net/router/internal/forest/link"
	"forest.net/router/internal/forest/wire"
)

func (h *Handler) handleAddIface(cp wire.ControlPacket) wire.ControlPacket {
	num, _ := cp.Get(wire.AttrIfaceNum)
	localIPv, _ := cp.Get(wire.AttrLocalIP)
	maxBit, _ := cp.Get(wire.AttrMaxBitRate)
	maxPkt, _ := cp.Get(wire.AttrMaxPktRate)

	rates := wire.RateSpec{BitRateUp: maxBit, BitRateDown: maxBit, PktRateUp: maxPkt, PktRateDown: maxPkt}

	h.commitMu.Lock()
	err := h.tables.Ifaces.Add(int(num), wire.Uint32ToIP(uint32(localIPv)), rates)
	h.commitMu.Unlock()

	if err == iface.ErrConflict {
		return cp.NegReply(string(ErrDuplicate))
	}
	if err != nil {
		return cp.NegReply(string(ErrInvalidParam))
	}
	rep := cp.PosReply()
	rep.Set(wire.AttrIfaceNum, num)
	return rep
}

func (h *Handler) handleDropIface(cp wire.ControlPacket) wire.ControlPacket {
	num, _ := cp.Get(wire.AttrIfaceNum)
	h.commitMu.Lock()
	err := h.tables.Ifaces.Drop(int(num))
	h.commitMu.Unlock()
	if err != nil {
		return cp.NegReply(string(ErrNotFound))
	}
	return cp.PosReply()
}

func (h *Handler) handleGetIface(cp wire.ControlPacket) wire.ControlPacket {
	num, _ := cp.Get(wire.AttrIfaceNum)
	iff, err := h.tables.Ifaces.Get(int(num))
	if err != nil {
		return cp.NegReply(string(ErrNotFound))
	}
	ipv, ipErr := wire.IPToUint32(iff.LocalIP)
	if ipErr != nil {
		return cp.NegReply(string(ErrInvalidParam))
	}
	rep := cp.PosReply()
	rep.Set(wire.AttrIfaceNum, num)
	rep.Set(wire.AttrLocalIP, int64(ipv))
	rep.Set(wire.AttrMaxBitRate, iff.Max.BitRateUp)
	rep.Set(wire.AttrMaxPktRate, iff.Max.PktRateUp)
	return rep
}

func (h *Handler) handleModIface(cp wire.ControlPacket) wire.ControlPacket {
	num, _ := cp.Get(wire.AttrIfaceNum)
	h.commitMu.Lock()
	defer h.commitMu.Unlock()
	cur, err := h.tables.Ifaces.Get(int(num))
	if err != nil {
		return cp.NegReply(string(ErrNotFound))
	}
	newMax := cur.Max
	if v, ok := cp.Get(wire.AttrMaxBitRate); ok {
		newMax.BitRateUp, newMax.BitRateDown = v, v
	}
	if v, ok := cp.Get(wire.AttrMaxPktRate); ok {
		newMax.PktRateUp, newMax.PktRateDown = v, v
	}
	if err := h.tables.Ifaces.Modify(int(num), newMax); err != nil {
		return cp.NegReply(string(ErrNoCapacity))
	}
	return cp.PosReply()
}

func (h *Handler) handleAddLink(cp wire.ControlPacket) wire.ControlPacket {
	ifaceNum, _ := cp.Get(wire.AttrIfaceNum)
	peerIPv, _ := cp.Get(wire.AttrPeerIP)
	peerPort, _ := cp.Get(wire.AttrPeerPort)
	peerTypeVal, _ := cp.Get(wire.AttrPeerType)
	peerAdrVal, _ := cp.Get(wire.AttrPeerAdr)
	nonceVal, hasNonce := cp.Get(wire.AttrNonce)
	rates := rateSpecFromAttrs(cp, wire.RateSpec{
		BitRateUp: wire.MinBitRate, BitRateDown: wire.MinBitRate,
		PktRateUp: wire.MinPktRate, PktRateDown: wire.MinPktRate,
	})

	peer := link.PeerEndpoint{IP: wire.Uint32ToIP(uint32(peerIPv)), Port: uint16(peerPort)}

	h.commitMu.Lock()
	peerAdr := wire.Address(uint32(peerAdrVal))
	if peerAdr == 0 {
		allocated, err := h.allocLeafAddr()
		if err != nil {
			h.commitMu.Unlock()
			return cp.NegReply(string(ErrNoCapacity))
		}
		peerAdr = allocated
	}
	num := h.nextFreeLinkNum()
	err := h.tables.Links.Add(num, int(ifaceNum), peer, peerAdr, link.PeerType(peerTypeVal), rates)
	if err == nil && hasNonce {
		h.tables.Links.SetNonce(num, uint64(nonceVal))
	}
	if err == nil {
		h.tables.Queues.AddLink(num, rates)
	}
	h.commitMu.Unlock()

	if err == link.ErrNoCapacity {
		return cp.NegReply(string(ErrNoCapacity))
	}
	if err != nil {
		return cp.NegReply(string(ErrInvalidParam))
	}
	rep := cp.PosReply()
	rep.Set(wire.AttrLinkNum, int64(num))
	rep.Set(wire.AttrPeerAdr, int64(peerAdr))
	return rep
}

// nextFreeLinkNum picks the lowest unused link number. Callers must
// hold commitMu.
func (h *Handler) nextFreeLinkNum() int {
	n := 1
	for {
		if _, err := h.tables.Links.Get(n); err != nil {
			return n
		}
		n++
	}
}

// allocLeafAddr picks the first address in the configured leaf range
// with no link currently bound to it. Callers must hold commitMu.
func (h *Handler) allocLeafAddr() (wire.Address, error) {
	lr := h.LeafRangeSnapshot()
	if lr.HiNode == 0 && lr.LoNode == 0 {
		return 0, fmt.Errorf("control: leaf range not configured")
	}
	for n := int(lr.LoNode); n <= int(lr.HiNode); n++ {
		cand := wire.ForestAddr(lr.RtrAdr.Zip(), uint16(n))
		if _, err := h.tables.Links.ByPeerAddr(cand); err != nil {
			return cand, nil
		}
	}
	return 0, fmt.Errorf("control: leaf range exhausted")
}

func (h *Handler) handleDropLink(cp wire.ControlPacket) wire.ControlPacket {
	num, _ := cp.Get(wire.AttrLinkNum)
	h.commitMu.Lock()
	defer h.commitMu.Unlock()
	if err := h.dropLinkCascade(int(num)); err != nil {
		return cp.NegReply(string(ErrNotFound))
	}
	return cp.PosReply()
}

// dropLinkCascade detaches lnk from every comtree that still attaches
// it (which in turn purges lnk's routes and frees its queues) before
// dropping the link entry itself. Callers must hold commitMu.
func (h *Handler) dropLinkCascade(lnk int) error {
	if _, err := h.tables.Links.Get(lnk); err != nil {
		return err
	}
	for _, c := range h.tables.Comtrees.ComtreesForLink(lnk) {
		h.tables.Comtrees.DropComtreeLink(c, lnk)
	}
	return h.tables.Links.Drop(lnk)
}

func (h *Handler) handleGetLink(cp wire.ControlPacket) wire.ControlPacket {
	num, _ := cp.Get(wire.AttrLinkNum)
	lnk, err := h.tables.Links.Get(int(num))
	if err != nil {
		return cp.NegReply(string(ErrNotFound))
	}
	ipv, ipErr := wire.IPToUint32(lnk.Peer.IP)
	if ipErr != nil {
		return cp.NegReply(string(ErrInvalidParam))
	}
	rep := cp.PosReply()
	rep.Set(wire.AttrLinkNum, num)
	rep.Set(wire.AttrIfaceNum, int64(lnk.Iface))
	rep.Set(wire.AttrPeerIP, int64(ipv))
	rep.Set(wire.AttrPeerPort, int64(lnk.Peer.Port))
	rep.Set(wire.AttrPeerType, int64(lnk.PeerType))
	rep.Set(wire.AttrPeerAdr, int64(lnk.PeerAdr))
	setRateSpecAttrs(&rep, lnk.Rates)
	rep.Set(wire.AttrNonce, int64(lnk.Nonce))
	return rep
}

func (h *Handler) handleModLink(cp wire.ControlPacket) wire.ControlPacket {
	num, _ := cp.Get(wire.AttrLinkNum)
	h.commitMu.Lock()
	defer h.commitMu.Unlock()
	cur, err := h.tables.Links.Get(int(num))
	if err != nil {
		return cp.NegReply(string(ErrNotFound))
	}
	newRates := rateSpecFromAttrs(cp, cur.Rates)
	if err := h.tables.Links.AdjustRate(int(num), newRates); err != nil {
		return cp.NegReply(string(ErrNoCapacity))
	}
	return cp.PosReply()
}
