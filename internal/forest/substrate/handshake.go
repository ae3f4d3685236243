package substrate

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	"forest.net/router/internal/forest/link"
	"forest.net/router/internal/forest/packet"
	"forest.net/router/internal/forest/wire"
)

// handshakeRetries and handshakeInterval match the cadence spec.md
// fixes for the CONNECT/DISCONNECT handshake: three attempts at
// one-second intervals.
const (
	handshakeRetries  = 3
	handshakeInterval = time.Second
	handshakePoll     = 10 * time.Millisecond
)

// handleConnect answers an inbound CONNECT from a peer whose (ip,port)
// and nonce were pre-provisioned by an addLink request. A peer whose
// network endpoint isn't yet resolvable (inLink < 0) is matched by the
// nonce it carries instead, grounded on
// _examples/original_source/cpp/control/Substrate.cpp's connect(): the
// nonce is the only credential a not-yet-bound peer can present.
func (s *Substrate) handleConnect(pkt *packet.Packet, inLink int) {
	if len(pkt.Payload) < 16 {
		return
	}
	nonce := binary.BigEndian.Uint64(pkt.Payload[8:16])

	var lnk link.Link
	var err error
	if inLink >= 0 {
		lnk, err = s.tables.Links.Get(inLink)
	} else {
		lnk, err = s.tables.Links.ByNonce(nonce)
	}
	if err != nil || lnk.Nonce == 0 || lnk.Nonce != nonce {
		return
	}
	if err := s.tables.Links.Connect(lnk.Num, pkt.Header.SrcAdr); err != nil {
		return
	}
	s.metrics.LinkConnected.WithLabelValues(strconv.Itoa(lnk.Num)).Set(1)
	s.ackTo(lnk.Peer, pkt.Header, wire.PktConnect)
}

// handleDisconnect answers an inbound DISCONNECT from an already
// connected peer. Once CONNECT has bound a link's (ip,port) the peer's
// network endpoint is itself the credential; no second nonce check is
// needed (the nonce is cleared from the link entry by Connect, mirroring
// the one-shot-handshake use the original gives it).
func (s *Substrate) handleDisconnect(pkt *packet.Packet, inLink int) {
	if inLink < 0 {
		return
	}
	lnk, err := s.tables.Links.Get(inLink)
	if err != nil {
		return
	}
	if err := s.tables.Links.Disconnect(lnk.Num); err != nil {
		return
	}
	s.metrics.LinkConnected.WithLabelValues(strconv.Itoa(lnk.Num)).Set(0)
	s.ackTo(lnk.Peer, pkt.Header, wire.PktDisconnect)
}

func (s *Substrate) ackTo(peer link.PeerEndpoint, reqHdr wire.Header, pktType wire.PktType) {
	ackHdr := reqHdr
	ackHdr.SrcAdr, ackHdr.DstAdr = reqHdr.DstAdr, reqHdr.SrcAdr
	ackHdr.Flags |= wire.FlagAck
	ackHdr.Type = pktType
	dst := &net.UDPAddr{IP: peer.IP.AsSlice(), Port: int(peer.Port)}
	s.enqueueReply(dst, serialize(ackHdr, nil))
}

// ConnectUpstream runs the leaf-role side of the handshake: it sends a
// CONNECT packet carrying seqNum and nonce to parent every
// handshakeInterval, up to handshakeRetries attempts, and succeeds when
// an ACK-flagged CONNECT reply arrives from parent (the reply's comtree
// number is not checked). Used by a
// component that is itself a Forest leaf of another router (the
// control plane's own uplink, per spec.md §4.8).
//
// Reads its own socket directly rather than going through mainLoop, so
// callers must run it before Start (or on a substrate instance whose
// mainLoop is not running): two goroutines racing ReadFrom on the same
// UDP socket can each steal the other's datagram.
func (s *Substrate) ConnectUpstream(parent PeerEndpoint, myAdr, rtrAdr wire.Address, comtreeNum uint32, nonce uint64) error {
	payload := make([]byte, 16)
	binary.BigEndian.PutUint64(payload[0:8], s.nextSeq())
	binary.BigEndian.PutUint64(payload[8:16], nonce)
	hdr := wire.Header{Version: 1, Type: wire.PktConnect, ComtreeNum: comtreeNum, SrcAdr: myAdr, DstAdr: rtrAdr}
	return s.runHandshake(parent, hdr, payload, wire.PktConnect)
}

// DisconnectUpstream is ConnectUpstream's symmetric counterpart.
func (s *Substrate) DisconnectUpstream(parent PeerEndpoint, myAdr, rtrAdr wire.Address, comtreeNum uint32, nonce uint64) error {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload[0:8], nonce)
	hdr := wire.Header{Version: 1, Type: wire.PktDisconnect, ComtreeNum: comtreeNum, SrcAdr: myAdr, DstAdr: rtrAdr}
	return s.runHandshake(parent, hdr, payload, wire.PktDisconnect)
}

// runHandshake resends hdr/payload at handshakeInterval (measured
// against s.clk, so tests can drive it with a MockClock) up to
// handshakeRetries times, succeeding when a datagram of pktType with
// FlagAck set arrives from parent.
func (s *Substrate) runHandshake(parent PeerEndpoint, hdr wire.Header, payload []byte, pktType wire.PktType) error {
	dst := &net.UDPAddr{IP: parent.IP.AsSlice(), Port: int(parent.Port)}
	data := serialize(hdr, payload)

	attempts := 0
	nextSend := s.clk.Now()
	for attempts < handshakeRetries {
		if !s.clk.Now().Before(nextSend) {
			if _, err := s.conn.WriteTo(data, nil, dst); err != nil {
				return err
			}
			attempts++
			nextSend = s.clk.Now().Add(handshakeInterval)
		}
		time.Sleep(handshakePoll)

		ackHdr, ok := s.pollForAck(parent, pktType)
		if ok && ackHdr.Flags&wire.FlagAck != 0 {
			return nil
		}
	}
	return fmt.Errorf("substrate: handshake with %s timed out after %d attempts", dst, handshakeRetries)
}

// pollForAck does a single non-blocking read, returning the decoded
// header of a matching reply from parent if one is waiting.
func (s *Substrate) pollForAck(parent PeerEndpoint, pktType wire.PktType) (wire.Header, bool) {
	s.conn.SetReadDeadline(time.Now())
	buf := make([]byte, wire.MaxPktLength)
	n, _, src, err := s.conn.ReadFrom(buf)
	if err != nil {
		return wire.Header{}, false
	}
	udpAddr, ok := src.(*net.UDPAddr)
	if !ok || !udpAddr.IP.Equal(net.IP(parent.IP.AsSlice())) || udpAddr.Port != int(parent.Port) {
		return wire.Header{}, false
	}
	hdr, ok := wire.DecodeHeader(buf[:n])
	if !ok || hdr.Type != pktType {
		return wire.Header{}, false
	}
	return hdr, true
}
