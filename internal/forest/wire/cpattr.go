package wire

// CpAttr identifies a control-packet attribute. The numbering and naming
// follow _examples/original_source/include/CpAttr.h's CpAttrIndex enum.
type CpAttr int

const (
	AttrUndefined CpAttr = iota
	AttrBitRate
	AttrBitRateDown
	AttrBitRateUp
	AttrPktRate
	AttrPktRateDown
	AttrPktRateUp
	AttrRateSpec // names the 4-tuple grouping; on the wire it travels as the four rate attributes above
	AttrClientAdr
	AttrClientIP
	AttrComtreeNum
	AttrCoreFlag
	AttrDestAdr
	AttrIfaceNum
	AttrLeafAdr
	AttrLeafCount
	AttrLinkNum
	AttrLinkCount
	AttrLocalIP
	AttrMaxBitRate
	AttrMaxPktRate
	AttrParentLink
	AttrPeerAdr
	AttrPeerDest
	AttrPeerIP
	AttrPeerPort
	AttrPeerType
	AttrQueueNum
	AttrRtrAdr
	AttrRtrIP
	AttrNonce
	AttrErrMsg
	attrEnd
)

var attrNames = map[CpAttr]string{
	AttrUndefined:   "undefined",
	AttrBitRate:     "bitRate",
	AttrBitRateDown: "bitRateDown",
	AttrBitRateUp:   "bitRateUp",
	AttrPktRate:     "pktRate",
	AttrPktRateDown: "pktRateDown",
	AttrPktRateUp:   "pktRateUp",
	AttrRateSpec:    "rateSpec",
	AttrClientAdr:   "clientAdr",
	AttrClientIP:    "clientIp",
	AttrComtreeNum:  "comtreeNum",
	AttrCoreFlag:    "coreFlag",
	AttrDestAdr:     "destAdr",
	AttrIfaceNum:    "ifaceNum",
	AttrLeafAdr:     "leafAdr",
	AttrLeafCount:   "leafCount",
	AttrLinkNum:     "linkNum",
	AttrLinkCount:   "linkCount",
	AttrLocalIP:     "localIp",
	AttrMaxBitRate:  "maxBitRate",
	AttrMaxPktRate:  "maxPktRate",
	AttrParentLink:  "parentLink",
	AttrPeerAdr:     "peerAdr",
	AttrPeerDest:    "peerDest",
	AttrPeerIP:      "peerIp",
	AttrPeerPort:    "peerPort",
	AttrPeerType:    "peerType",
	AttrQueueNum:    "queueNum",
	AttrRtrAdr:      "rtrAdr",
	AttrRtrIP:       "rtrIp",
	AttrNonce:       "nonce",
	AttrErrMsg:      "errMsg",
}

// Name returns the human-readable attribute name, or "undefined" if a is
// not a valid attribute.
func (a CpAttr) Name() string {
	if n, ok := attrNames[a]; ok {
		return n
	}
	return "undefined"
}

// Valid reports whether a is a recognized attribute index.
func (a CpAttr) Valid() bool {
	return a > AttrUndefined && a < attrEnd
}
