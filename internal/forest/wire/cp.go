package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// ControlPacket is the decoded payload of a signalling packet whose
// header type is one of PktConnect, PktDisconnect, PktSubUnsub,
// PktClientSig, PktNetSig, or PktNaborSig: a request or reply against
// the router's tables. The wire encoding is the line-oriented text
// format the original control-plane substrate used, kept here instead
// of a binary TLV scheme since error messages and peer-readable traces
// matter as much as compactness for this traffic class.
type ControlPacket struct {
	Type   CpType
	Mode   Mode
	SeqNum uint64
	Attrs  map[CpAttr]int64
	ErrMsg string
}

// NewRequest builds an empty request control packet of the given type.
func NewRequest(t CpType, seqNum uint64) ControlPacket {
	return ControlPacket{Type: t, Mode: ModeRequest, SeqNum: seqNum, Attrs: make(map[CpAttr]int64)}
}

// PosReply builds a positive reply to cp.
func (cp ControlPacket) PosReply() ControlPacket {
	return ControlPacket{Type: cp.Type, Mode: ModePosReply, SeqNum: cp.SeqNum, Attrs: make(map[CpAttr]int64)}
}

// NegReply builds a negative reply to cp carrying the given error text.
func (cp ControlPacket) NegReply(errMsg string) ControlPacket {
	return ControlPacket{Type: cp.Type, Mode: ModeNegReply, SeqNum: cp.SeqNum, ErrMsg: errMsg}
}

// Set stores an attribute value, creating the map on first use.
func (cp *ControlPacket) Set(a CpAttr, v int64) {
	if cp.Attrs == nil {
		cp.Attrs = make(map[CpAttr]int64)
	}
	cp.Attrs[a] = v
}

// Get returns an attribute value and whether it was present.
func (cp ControlPacket) Get(a CpAttr) (int64, bool) {
	v, ok := cp.Attrs[a]
	return v, ok
}

// HasRequired reports whether cp carries every attribute its type
// requires, per the type catalogue's required-attribute set.
func (cp ControlPacket) HasRequired() (missing CpAttr, ok bool) {
	for _, a := range cp.Type.RequiredAttrs() {
		if _, present := cp.Attrs[a]; !present {
			return a, false
		}
	}
	return AttrUndefined, true
}

func modeName(m Mode) string {
	switch m {
	case ModeRequest:
		return "REQUEST"
	case ModePosReply:
		return "POS_REPLY"
	case ModeNegReply:
		return "NEG_REPLY"
	default:
		return "UNDEFINED"
	}
}

func parseMode(s string) (Mode, bool) {
	switch s {
	case "REQUEST":
		return ModeRequest, true
	case "POS_REPLY":
		return ModePosReply, true
	case "NEG_REPLY":
		return ModeNegReply, true
	default:
		return 0, false
	}
}

// Encode renders cp as the payload bytes of a signalling packet.
func (cp ControlPacket) Encode() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %d\n", cp.Type.Name(), modeName(cp.Mode), cp.SeqNum)
	if cp.Mode == ModeNegReply {
		if cp.ErrMsg != "" {
			fmt.Fprintf(&b, "errMsg=%s\n", cp.ErrMsg)
		}
		return []byte(b.String())
	}
	for a, v := range cp.Attrs {
		fmt.Fprintf(&b, "%s=%d\n", a.Name(), v)
	}
	return []byte(b.String())
}

var nameToAttr map[string]CpAttr
var nameToType map[string]CpType

func init() {
	nameToAttr = make(map[string]CpAttr, len(attrNames))
	for a, n := range attrNames {
		nameToAttr[n] = a
	}
	nameToType = make(map[string]CpType, len(typeCatalogue))
	for t, info := range typeCatalogue {
		nameToType[info.name] = t
	}
}

// ParseControlPacket decodes a signalling packet payload produced by Encode.
func ParseControlPacket(payload []byte) (ControlPacket, error) {
	lines := strings.Split(string(payload), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return ControlPacket{}, fmt.Errorf("wire: empty control packet")
	}
	head := strings.Fields(lines[0])
	if len(head) != 3 {
		return ControlPacket{}, fmt.Errorf("wire: malformed control packet header %q", lines[0])
	}
	t, ok := nameToType[head[0]]
	if !ok {
		return ControlPacket{}, fmt.Errorf("wire: unknown control packet type %q", head[0])
	}
	mode, ok := parseMode(head[1])
	if !ok {
		return ControlPacket{}, fmt.Errorf("wire: unknown control packet mode %q", head[1])
	}
	seq, err := strconv.ParseUint(head[2], 10, 64)
	if err != nil {
		return ControlPacket{}, fmt.Errorf("wire: bad sequence number %q: %w", head[2], err)
	}
	cp := ControlPacket{Type: t, Mode: mode, SeqNum: seq, Attrs: make(map[CpAttr]int64)}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		k, v, found := strings.Cut(line, "=")
		if !found {
			return ControlPacket{}, fmt.Errorf("wire: malformed attribute line %q", line)
		}
		if mode == ModeNegReply && k == "errMsg" {
			cp.ErrMsg = v
			continue
		}
		a, ok := nameToAttr[k]
		if !ok {
			return ControlPacket{}, fmt.Errorf("wire: unknown attribute %q", k)
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ControlPacket{}, fmt.Errorf("wire: bad value for %q: %w", k, err)
		}
		cp.Attrs[a] = n
	}
	return cp, nil
}
