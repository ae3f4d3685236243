// Package substrate implements the router's Signalling Substrate: the
// single owner of the UDP socket, responsible for classifying inbound
// datagrams, deduplicating retransmitted requests, correlating replies
// to outbound requests the router itself originated, and draining the
// per-link data queues back onto the wire.
//
// Grounded on _examples/original_source/cpp/control/Substrate.cpp: one
// thread doing read/classify, reply-queue drain, and aged-entry
// expiry in a single loop (mainLoop below), plus the nonce-carrying
// CONNECT/DISCONNECT handshake in connect()/disconnect() (see
// handshake.go). The socket lifecycle (ipv4.PacketConn,
// context-cancelled goroutines joined through a sync.WaitGroup) follows
// the shape of _examples/grimm-is-glacic's
// internal/services/dhcp/dhcp_sniffer.go Start/Stop/run.
package substrate

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"forest.net/router/internal/clock"
	"forest.net/router/internal/forest/comtree"
	"forest.net/router/internal/forest/control"
	"forest.net/router/internal/forest/forward"
	"forest.net/router/internal/forest/iface"
	"forest.net/router/internal/forest/link"
	"forest.net/router/internal/forest/packet"
	"forest.net/router/internal/forest/queue"
	"forest.net/router/internal/forest/wire"
	"forest.net/router/internal/logging"
	"forest.net/router/internal/metrics"
)

// PeerEndpoint identifies a signalling peer by network address, the
// key an outbound request is tracked under before any forest address
// is known.
type PeerEndpoint = link.PeerEndpoint

// ErrTimedOut is delivered on an outstanding request's reply channel
// if it ages out with no answer.
var ErrTimedOut = errors.New("substrate: request timed out")

// readDeadline bounds each socket read so the main loop can drain retQ
// and sweep aged entries even when no datagram arrives.
const readDeadline = 50 * time.Millisecond

// outputIdleSleep is how long the output loop sleeps after a pass over
// every link finds nothing ready to send, per spec.md's ~1ms idle figure.
const outputIdleSleep = time.Millisecond

// Tables bundles the router tables the substrate annotates or consults
// while classifying inbound traffic.
type Tables struct {
	Ifaces   *iface.Table
	Links    *link.Table
	Comtrees *comtree.Table
	Queues   *queue.Manager
}

type outboundDatagram struct {
	dst  net.Addr
	data []byte
}

// Substrate is the router's signalling substrate.
type Substrate struct {
	myAddr  wire.Address
	conn    *ipv4.PacketConn
	store   *packet.Store
	engine  *forward.Engine
	control *control.Handler
	tables  Tables

	repeatIn    *RepeatHandler
	outstanding *Outstanding
	seqNum      uint64

	clk     clock.Clock
	log     *logging.Logger
	metrics *metrics.Registry

	retQ chan outboundDatagram

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New binds a UDP socket at listenAddr and returns a substrate wired to
// store, engine, ctrl and tables. The forwarding engine's Inbound field
// must be set to the returned Substrate by the caller (New cannot do
// this itself: the engine is constructed before the substrate that
// implements its InboundHandler).
func New(listenAddr string, myAddr wire.Address, store *packet.Store, engine *forward.Engine, ctrl *control.Handler, tables Tables, clk clock.Clock) (*Substrate, error) {
	pc, err := net.ListenPacket("udp4", listenAddr)
	if err != nil {
		return nil, err
	}
	conn := ipv4.NewPacketConn(pc)
	if err := conn.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		conn.Close()
		return nil, err
	}
	return &Substrate{
		myAddr:      myAddr,
		conn:        conn,
		store:       store,
		engine:      engine,
		control:     ctrl,
		tables:      tables,
		repeatIn:    NewRepeatHandler(clk, DefaultRepeatAge),
		outstanding: NewOutstanding(clk, DefaultRepeatAge),
		clk:         clk,
		log:         logging.WithComponent("substrate"),
		metrics:     metrics.Get(),
		retQ:        make(chan outboundDatagram, 256),
	}, nil
}

// Start launches the main classifier loop and the data-queue output
// loop, both joined by Stop.
func (s *Substrate) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(2)
	go s.mainLoop(ctx)
	go s.outputLoop(ctx)
}

// Stop cancels both loops, waits for them to exit, and closes the socket.
func (s *Substrate) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.conn.Close()
}

// nextSeq returns the next monotonically increasing sequence number for
// an outbound request this substrate instance originates.
func (s *Substrate) nextSeq() uint64 {
	return atomic.AddUint64(&s.seqNum, 1)
}

// mainLoop is the substrate's single thread: read one datagram (or time
// out), drain the reply queue, and on a read timeout sweep aged
// repeat-handler and outstanding entries.
func (s *Substrate) mainLoop(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, wire.MaxPktLength)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.conn.SetReadDeadline(s.clk.Now().Add(readDeadline))
		n, cm, src, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.drainRetQ()
				s.repeatIn.EvictAged()
				s.outstanding.EvictAged()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("read error", "err", err)
			continue
		}

		s.drainRetQ()
		s.handleDatagram(buf[:n], cm, src)
	}
}

func (s *Substrate) drainRetQ() {
	for {
		select {
		case dg := <-s.retQ:
			if _, err := s.conn.WriteTo(dg.data, nil, dg.dst); err != nil {
				s.log.Warn("write error", "err", err)
			}
		default:
			return
		}
	}
}

func (s *Substrate) handleDatagram(data []byte, cm *ipv4.ControlMessage, src net.Addr) {
	hdr, ok := wire.DecodeHeader(data)
	if !ok {
		return
	}
	if hdr.HdrChksum != wire.HeaderChecksum(data) {
		s.metrics.PacketsDropped.WithLabelValues("checksum").Inc()
		return
	}
	payload := data[wire.HdrLength:]
	if len(payload) > 0 && hdr.PayChksum != wire.PayloadChecksum(payload) {
		s.metrics.PacketsDropped.WithLabelValues("checksum").Inc()
		return
	}

	udpAddr, ok := src.(*net.UDPAddr)
	if !ok {
		return
	}
	peer := PeerEndpoint{IP: netAddrToNetip(udpAddr), Port: uint16(udpAddr.Port)}

	lnk, err := s.tables.Links.ByPeer(peer)
	inLink := -1
	if err == nil {
		inLink = lnk.Num
	} else if hdr.Type != wire.PktConnect {
		// Only a fresh CONNECT may arrive from a peer the link table
		// cannot yet resolve by network endpoint.
		return
	}

	ref, err := s.store.Alloc()
	if err != nil {
		s.metrics.PacketStoreExhausted.Inc()
		return
	}
	pkt := s.store.Get(ref)
	pkt.Header = hdr
	pkt.Link = inLink
	pkt.Payload = append(pkt.Payload, payload...)

	if cm != nil {
		s.log.Debug("received datagram", "iface", cm.IfIndex, "peer", udpAddr.String(), "type", hdr.Type)
	}

	s.engine.Forward(ref, inLink)
}

func netAddrToNetip(u *net.UDPAddr) netip.Addr {
	a, ok := netip.AddrFromSlice(u.IP)
	if !ok {
		return netip.Addr{}
	}
	return a.Unmap()
}

// outputLoop polls every link's queues in turn, serializing and sending
// whatever the scheduler has made ready, sleeping briefly whenever a
// full pass finds nothing to send.
func (s *Substrate) outputLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sentAny := false
		s.tables.Links.Iterate(func(lnk link.Link) bool {
			qnum, item, ok := s.tables.Queues.Dequeue(lnk.Num)
			if !ok {
				return true
			}
			sentAny = true
			s.sendQueuedPacket(lnk, qnum, item)
			return true
		})
		if !sentAny {
			time.Sleep(outputIdleSleep)
		}
	}
}

func (s *Substrate) sendQueuedPacket(lnk link.Link, _ int, item queue.Item) {
	pkt := s.store.Get(item.Ref)
	dst := &net.UDPAddr{IP: lnk.Peer.IP.AsSlice(), Port: int(lnk.Peer.Port)}
	data := serialize(pkt.Header, pkt.Payload)
	s.store.Free(item.Ref)
	if _, err := s.conn.WriteTo(data, nil, dst); err != nil {
		s.log.Warn("write error", "link", lnk.Num, "err", err)
		return
	}
	s.metrics.BytesForwarded.WithLabelValues(strconv.Itoa(lnk.Num), "out").Inc()
}

// serialize encodes h and payload into a single wire-format datagram,
// computing both checksum fields.
func serialize(h wire.Header, payload []byte) []byte {
	h.Length = uint16(wire.HdrLength + len(payload))
	h.PayChksum = wire.PayloadChecksum(payload)
	buf := make([]byte, wire.HdrLength+len(payload))
	h.Encode(buf)
	h.HdrChksum = wire.HeaderChecksum(buf)
	binary.BigEndian.PutUint16(buf[16:18], h.HdrChksum)
	copy(buf[wire.HdrLength:], payload)
	return buf
}

// Inbound implements forward.InboundHandler: every self-addressed
// signalling packet the forwarding engine classifies is handed here.
func (s *Substrate) Inbound(pkt *packet.Packet, inLink int) {
	switch pkt.Header.Type {
	case wire.PktConnect:
		s.handleConnect(pkt, inLink)
	case wire.PktDisconnect:
		s.handleDisconnect(pkt, inLink)
	default:
		s.handleControlPacket(pkt, inLink)
	}
}

func (s *Substrate) handleControlPacket(pkt *packet.Packet, inLink int) {
	cp, err := wire.ParseControlPacket(pkt.Payload)
	if err != nil {
		return
	}
	peerAdr := pkt.Header.SrcAdr

	switch cp.Mode {
	case wire.ModeRequest:
		s.handleRequest(peerAdr, pkt.Header, cp)
	case wire.ModePosReply, wire.ModeNegReply:
		s.handleReply(pkt.Header, cp)
	}
}

func (s *Substrate) handleRequest(peerAdr wire.Address, hdr wire.Header, cp wire.ControlPacket) {
	if savedReq, reply, found := s.repeatIn.Lookup(peerAdr, cp.SeqNum); found {
		s.metrics.SubstrateDuplicates.Inc()
		if reply != nil {
			s.sendReplyTo(hdr, *reply)
		}
		_ = savedReq
		return
	}
	s.repeatIn.Save(peerAdr, cp.SeqNum, cp)

	replyCh, err := s.control.Submit(cp)
	if err != nil {
		s.metrics.SubstratePoolExhaust.Inc()
		s.repeatIn.Free(peerAdr, cp.SeqNum)
		return
	}
	go s.awaitWorkerReply(peerAdr, hdr, replyCh)
}

func (s *Substrate) awaitWorkerReply(peerAdr wire.Address, hdr wire.Header, replyCh <-chan wire.ControlPacket) {
	reply := <-replyCh
	s.repeatIn.SaveReply(peerAdr, reply.SeqNum, reply)
	s.sendReplyTo(hdr, reply)
}

func (s *Substrate) sendReplyTo(reqHdr wire.Header, reply wire.ControlPacket) {
	respHdr := reqHdr
	respHdr.SrcAdr, respHdr.DstAdr = reqHdr.DstAdr, reqHdr.SrcAdr
	lnk, err := s.tables.Links.ByPeerAddr(reqHdr.SrcAdr)
	if err != nil {
		return
	}
	dst := &net.UDPAddr{IP: lnk.Peer.IP.AsSlice(), Port: int(lnk.Peer.Port)}
	s.enqueueReply(dst, serialize(respHdr, reply.Encode()))
}

func (s *Substrate) handleReply(hdr wire.Header, cp wire.ControlPacket) {
	lnk, err := s.tables.Links.ByPeerAddr(hdr.SrcAdr)
	if err != nil {
		return
	}
	peer := PeerEndpoint{IP: lnk.Peer.IP, Port: lnk.Peer.Port}
	s.outstanding.Resolve(peer, cp.SeqNum, cp.Encode())
}

// enqueueReply pushes a serialized datagram onto the substrate's own
// reply queue, drained by mainLoop — distinct from the per-link data
// queues the output loop drains.
func (s *Substrate) enqueueReply(dst net.Addr, data []byte) {
	select {
	case s.retQ <- outboundDatagram{dst: dst, data: data}:
	default:
		s.log.Warn("reply queue full, dropping reply")
	}
}

// SendOutboundRequest assigns a sequence number, registers it in the
// outstanding table, and sends cp to peer as a worker-originated
// request toward another router. The handshake in handshake.go does
// not go through it.
func (s *Substrate) SendOutboundRequest(peer PeerEndpoint, srcAdr, dstAdr wire.Address, comtreeNum uint32, pktType wire.PktType, cp wire.ControlPacket) <-chan ControlReply {
	cp.SeqNum = s.nextSeq()
	ch := s.outstanding.Register(peer, cp.SeqNum)
	hdr := wire.Header{Version: 1, Type: pktType, ComtreeNum: comtreeNum, SrcAdr: srcAdr, DstAdr: dstAdr}
	dst := &net.UDPAddr{IP: peer.IP.AsSlice(), Port: int(peer.Port)}
	s.enqueueReply(dst, serialize(hdr, cp.Encode()))
	return ch
}
