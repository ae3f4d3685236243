// Package forward implements the router's Forwarding Engine: the
// per-packet pipeline from an inbound datagram to either the local
// signalling dispatcher or an outbound link's queue.
//
// The validate -> classify -> route -> split-horizon-clone -> enqueue
// pipeline and its silent-drop-on-failure philosophy are grounded on
// _examples/original_source/trunk/cpp/mtrouter/Router.cpp's main
// forwarding loop (the original's run() method performs exactly this
// sequence per received packet, counting failures rather than
// propagating them to the sender).
package forward

import (
	"strconv"

	"forest.net/router/internal/forest/packet"
	"forest.net/router/internal/forest/queue"
	"forest.net/router/internal/forest/route"
	"forest.net/router/internal/forest/wire"
	"forest.net/router/internal/metrics"
)

// DropReason enumerates why the engine discarded a packet.
type DropReason string

const (
	DropChecksum   DropReason = "checksum"
	DropNoRoute    DropReason = "no-route"
	DropQueueFull  DropReason = "queue-full"
	DropExhausted  DropReason = "exhausted"
	DropBadComtree DropReason = "bad-comtree"
	DropBadSource  DropReason = "bad-source"
)

// ComtreeMembership reports whether a link is attached to a comtree
// and, for an attached link, the queue number bound to it — the
// narrow view the engine needs to validate an inbound packet's
// comtree membership and to place each split-horizon copy on its own
// comtree-link's queue, without depending on the full comtree table
// type.
type ComtreeMembership interface {
	IsAttached(comtree uint32, link int) bool
	LinkQueue(comtree uint32, link int) (int, error)
}

// InboundHandler receives packets addressed to the router itself
// carrying a signalling packet type, handing classification off to
// whatever owns request/reply processing (the substrate) without the
// forwarding engine importing it directly.
type InboundHandler interface {
	Inbound(pkt *packet.Packet, inLink int)
}

// Engine wires the packet store, route table, and queue manager into
// the per-packet forwarding pipeline.
type Engine struct {
	MyAddr   wire.Address
	Store    *packet.Store
	Routes   *route.Table
	Queues   *queue.Manager
	Comtrees ComtreeMembership
	Inbound  InboundHandler
	Metrics  *metrics.Registry
}

// New returns a forwarding engine for a router at myAddr.
func New(myAddr wire.Address, store *packet.Store, routes *route.Table, queues *queue.Manager, comtrees ComtreeMembership, inbound InboundHandler) *Engine {
	return &Engine{
		MyAddr:   myAddr,
		Store:    store,
		Routes:   routes,
		Queues:   queues,
		Comtrees: comtrees,
		Inbound:  inbound,
		Metrics:  metrics.Get(),
	}
}

func isSignalling(t wire.PktType) bool {
	switch t {
	case wire.PktConnect, wire.PktDisconnect, wire.PktSubUnsub, wire.PktClientSig, wire.PktNetSig, wire.PktNaborSig:
		return true
	default:
		return false
	}
}

// Forward runs the full pipeline for ref, a packet record already
// allocated in the store and populated with header and payload. inLink
// is the link the packet arrived on, or -1 for locally generated
// traffic. Copies the engine enqueues pass to their queue and are freed
// by whoever dequeues them; every other copy, and ref itself when it is
// not enqueued, is freed before Forward returns. Callers must not touch
// ref again afterward.
func (e *Engine) Forward(ref packet.Ref, inLink int) {
	pkt := e.Store.Get(ref)

	if !e.validate(pkt, inLink) {
		e.drop(ref, DropBadSource)
		return
	}

	if pkt.Header.DstAdr == e.MyAddr && isSignalling(pkt.Header.Type) {
		e.Inbound.Inbound(pkt, inLink)
		e.Store.Free(ref)
		return
	}

	entry, err := e.Routes.Lookup(pkt.Header.ComtreeNum, pkt.Header.DstAdr)
	if err != nil {
		e.drop(ref, DropNoRoute)
		return
	}

	recipients := make([]int, 0, len(entry.Links)+1)
	for _, l := range routeLinks(entry) {
		if l != inLink {
			recipients = append(recipients, l)
		}
	}
	if len(recipients) == 0 {
		e.drop(ref, DropNoRoute)
		return
	}

	for i, l := range recipients {
		var outRef packet.Ref
		if i == len(recipients)-1 {
			outRef = ref // last recipient reuses the original record
		} else {
			var cloneErr error
			outRef, cloneErr = e.Store.Clone(ref)
			if cloneErr != nil {
				e.Metrics.PacketsDropped.WithLabelValues(string(DropExhausted)).Inc()
				continue
			}
		}
		qnum, err := e.Comtrees.LinkQueue(pkt.Header.ComtreeNum, l)
		if err != nil {
			e.Store.Free(outRef)
			e.Metrics.PacketsDropped.WithLabelValues(string(DropNoRoute)).Inc()
			continue
		}
		outPkt := e.Store.Get(outRef)
		outPkt.Link = l
		if err := e.Queues.Enqueue(l, qnum, queue.Item{Ref: outRef, Bytes: len(outPkt.Payload) + wire.HdrLength}); err != nil {
			e.Store.Free(outRef)
			e.Metrics.PacketsDropped.WithLabelValues(string(DropQueueFull)).Inc()
			continue
		}
		e.Metrics.PacketsForwarded.WithLabelValues(strconv.Itoa(l), "out").Inc()
	}
}

// routeLinks flattens a route entry's unicast Link or multicast Links
// set into a single slice for the split-horizon fan-out loop.
func routeLinks(e route.Entry) []int {
	if e.Links != nil {
		out := make([]int, 0, len(e.Links))
		for l := range e.Links {
			out = append(out, l)
		}
		return out
	}
	if e.Link == 0 {
		return nil
	}
	return []int{e.Link}
}

func (e *Engine) validate(pkt *packet.Packet, inLink int) bool {
	if pkt.Header.Version == 0 {
		return false
	}
	if pkt.Header.Type == wire.PktData && inLink >= 0 && !e.Comtrees.IsAttached(pkt.Header.ComtreeNum, inLink) {
		return false
	}
	if pkt.Header.SrcAdr.IsMulticast() {
		return false
	}
	return true
}

func (e *Engine) drop(ref packet.Ref, reason DropReason) {
	e.Metrics.PacketsDropped.WithLabelValues(string(reason)).Inc()
	e.Store.Free(ref)
}
