package control

import (
	"forest.net/router/internal/forest/comtree"
	"forest.net/router/internal/forest/route"
	"forest.net/router/internal/forest/wire"
)

func (h *Handler) handleAddComtree(cp wire.ControlPacket) wire.ControlPacket {
	num, _ := cp.Get(wire.AttrComtreeNum)
	h.commitMu.Lock()
	err := h.tables.Comtrees.AddComtree(uint32(num))
	h.commitMu.Unlock()
	if err == comtree.ErrConflict {
		return cp.NegReply(string(ErrDuplicate))
	}
	if err != nil {
		return cp.NegReply(string(ErrInvalidParam))
	}
	return cp.PosReply()
}

func (h *Handler) handleDropComtree(cp wire.ControlPacket) wire.ControlPacket {
	num, _ := cp.Get(wire.AttrComtreeNum)
	h.commitMu.Lock()
	err := h.tables.Comtrees.DropComtree(uint32(num))
	h.commitMu.Unlock()
	if err != nil {
		return cp.NegReply(string(ErrNotFound))
	}
	return cp.PosReply()
}

// handleGetComtree replies with comtreeNum and linkCount only; the
// coreFlag and parentLink reply attributes listed for getComtree in the
// wire catalogue are not set.
func (h *Handler) handleGetComtree(cp wire.ControlPacket) wire.ControlPacket {
	num, _ := cp.Get(wire.AttrComtreeNum)
	lnks, err := h.tables.Comtrees.GetComtree(uint32(num))
	if err != nil {
		return cp.NegReply(string(ErrNotFound))
	}
	rep := cp.PosReply()
	rep.Set(wire.AttrComtreeNum, num)
	rep.Set(wire.AttrLinkCount, int64(len(lnks)))
	return rep
}

// handleModComtree always fails: the comtree entry has no mutable
// top-level field in this implementation (core flag and parent link
// live per comtree-link, changed via modComtreeLink instead).
func (h *Handler) handleModComtree(cp wire.ControlPacket) wire.ControlPacket {
	return cp.NegReply(string(ErrInvalidParam))
}

func (h *Handler) handleAddComtreeLink(cp wire.ControlPacket) wire.ControlPacket {
	c, _ := cp.Get(wire.AttrComtreeNum)
	lnk, _ := cp.Get(wire.AttrLinkNum)
	isCore, _ := cp.Get(wire.AttrCoreFlag)
	peerAdr, _ := cp.Get(wire.AttrPeerAdr)

	h.commitMu.Lock()
	qnum, err := h.tables.Comtrees.AddComtreeLink(uint32(c), int(lnk), isCore != 0, wire.Address(uint32(peerAdr)))
	h.commitMu.Unlock()

	switch err {
	case nil:
		rep := cp.PosReply()
		rep.Set(wire.AttrQueueNum, int64(qnum))
		return rep
	case comtree.ErrNoSuchComtree, comtree.ErrNoSuchLink:
		return cp.NegReply(string(ErrNotFound))
	case comtree.ErrLinkConflict:
		return cp.NegReply(string(ErrDuplicate))
	case comtree.ErrNoCapacity:
		return cp.NegReply(string(ErrNoCapacity))
	default:
		return cp.NegReply(string(ErrQueueAlloc))
	}
}

func (h *Handler) handleDropComtreeLink(cp wire.ControlPacket) wire.ControlPacket {
	c, _ := cp.Get(wire.AttrComtreeNum)
	lnk, _ := cp.Get(wire.AttrLinkNum)
	h.commitMu.Lock()
	err := h.tables.Comtrees.DropComtreeLink(uint32(c), int(lnk))
	h.commitMu.Unlock()
	if err != nil {
		return cp.NegReply(string(ErrNotFound))
	}
	return cp.PosReply()
}

func (h *Handler) handleGetComtreeLink(cp wire.ControlPacket) wire.ControlPacket {
	c, _ := cp.Get(wire.AttrComtreeNum)
	lnk, _ := cp.Get(wire.AttrLinkNum)
	cl, err := h.tables.Comtrees.GetComtreeLink(uint32(c), int(lnk))
	if err != nil {
		return cp.NegReply(string(ErrNotFound))
	}
	rep := cp.PosReply()
	rep.Set(wire.AttrQueueNum, int64(cl.Queue))
	coreFlag := int64(0)
	if cl.IsCore {
		coreFlag = 1
	}
	rep.Set(wire.AttrCoreFlag, coreFlag)
	rep.Set(wire.AttrPeerAdr, int64(cl.PeerAdr))
	setRateSpecAttrs(&rep, cl.Rates)
	return rep
}

func (h *Handler) handleModComtreeLink(cp wire.ControlPacket) wire.ControlPacket {
	c, _ := cp.Get(wire.AttrComtreeNum)
	lnk, _ := cp.Get(wire.AttrLinkNum)

	h.commitMu.Lock()
	defer h.commitMu.Unlock()
	cur, err := h.tables.Comtrees.GetComtreeLink(uint32(c), int(lnk))
	if err != nil {
		return cp.NegReply(string(ErrNotFound))
	}
	newRates := rateSpecFromAttrs(cp, cur.Rates)
	if err := h.tables.Comtrees.ModComtreeLink(uint32(c), int(lnk), newRates); err != nil {
		return cp.NegReply(string(ErrNoCapacity))
	}
	return cp.PosReply()
}

func (h *Handler) handleAddRoute(cp wire.ControlPacket) wire.ControlPacket {
	c, _ := cp.Get(wire.AttrComtreeNum)
	dest, _ := cp.Get(wire.AttrDestAdr)
	lnk, _ := cp.Get(wire.AttrLinkNum)

	destAdr := wire.Address(uint32(dest))
	h.commitMu.Lock()
	var err error
	if destAdr.IsMulticast() {
		err = h.tables.Routes.AddMcastRoute(uint32(c), destAdr)
		if err == nil {
			err = h.tables.Routes.AddLink(uint32(c), destAdr, int(lnk))
		}
	} else {
		err = h.tables.Routes.AddRoute(uint32(c), destAdr, int(lnk))
	}
	h.commitMu.Unlock()
	if err == route.ErrDuplicate {
		return cp.NegReply(string(ErrDuplicate))
	}
	if err != nil {
		return cp.NegReply(string(ErrInvalidParam))
	}
	return cp.PosReply()
}

func (h *Handler) handleDropRoute(cp wire.ControlPacket) wire.ControlPacket {
	c, _ := cp.Get(wire.AttrComtreeNum)
	dest, _ := cp.Get(wire.AttrDestAdr)
	h.commitMu.Lock()
	err := h.tables.Routes.DropRoute(uint32(c), wire.Address(uint32(dest)))
	h.commitMu.Unlock()
	if err == route.ErrNoRoute {
		return cp.NegReply(string(ErrNotFound))
	}
	if err != nil {
		return cp.NegReply(string(ErrInvalidParam))
	}
	return cp.PosReply()
}

func (h *Handler) handleGetRoute(cp wire.ControlPacket) wire.ControlPacket {
	c, _ := cp.Get(wire.AttrComtreeNum)
	dest, _ := cp.Get(wire.AttrDestAdr)
	entry, err := h.tables.Routes.Lookup(uint32(c), wire.Address(uint32(dest)))
	if err != nil {
		return cp.NegReply(string(ErrNotFound))
	}
	rep := cp.PosReply()
	rep.Set(wire.AttrComtreeNum, c)
	rep.Set(wire.AttrDestAdr, dest)
	if entry.Links != nil {
		rep.Set(wire.AttrLinkCount, int64(len(entry.Links)))
	} else {
		rep.Set(wire.AttrLinkCount, 1)
		rep.Set(wire.AttrLinkNum, int64(entry.Link))
	}
	return rep
}

// handleModRoute only supports changing a unicast route's outbound
// link; multicast subscriber changes go through addRouteLink/dropRouteLink.
func (h *Handler) handleModRoute(cp wire.ControlPacket) wire.ControlPacket {
	c, _ := cp.Get(wire.AttrComtreeNum)
	dest, _ := cp.Get(wire.AttrDestAdr)
	lnk, ok := cp.Get(wire.AttrLinkNum)
	if !ok {
		return cp.NegReply(string(ErrInvalidParam))
	}
	destAdr := wire.Address(uint32(dest))

	h.commitMu.Lock()
	defer h.commitMu.Unlock()
	if err := h.tables.Routes.ModRoute(uint32(c), destAdr, int(lnk)); err != nil {
		return cp.NegReply(string(ErrNotFound))
	}
	return cp.PosReply()
}

func (h *Handler) handleAddRouteLink(cp wire.ControlPacket) wire.ControlPacket {
	c, _ := cp.Get(wire.AttrComtreeNum)
	dest, _ := cp.Get(wire.AttrDestAdr)
	lnk, _ := cp.Get(wire.AttrLinkNum)
	h.commitMu.Lock()
	err := h.tables.Routes.AddLink(uint32(c), wire.Address(uint32(dest)), int(lnk))
	h.commitMu.Unlock()
	if err == route.ErrNoRoute {
		return cp.NegReply(string(ErrNotFound))
	}
	if err != nil {
		return cp.NegReply(string(ErrInvalidParam))
	}
	return cp.PosReply()
}

func (h *Handler) handleDropRouteLink(cp wire.ControlPacket) wire.ControlPacket {
	c, _ := cp.Get(wire.AttrComtreeNum)
	dest, _ := cp.Get(wire.AttrDestAdr)
	lnk, _ := cp.Get(wire.AttrLinkNum)
	h.commitMu.Lock()
	err := h.tables.Routes.DropLink(uint32(c), wire.Address(uint32(dest)), int(lnk))
	h.commitMu.Unlock()
	if err == route.ErrNoRoute {
		return cp.NegReply(string(ErrNotFound))
	}
	if err != nil {
		return cp.NegReply(string(ErrInvalidParam))
	}
	return cp.PosReply()
}
