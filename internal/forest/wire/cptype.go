package wire

// CpType identifies a control-packet request/reply type. Naming and
// grouping follow _examples/original_source/include/CpType.h's
// CpTypeIndex enum: interface, link, comtree, comtree-link, route,
// packet-filter and comtree-build primitives.
type CpType int

const (
	CpUndefined CpType = iota

	AddIface
	DropIface
	GetIface
	ModIface

	AddLink
	DropLink
	GetLink
	ModLink

	AddComtree
	DropComtree
	GetComtree
	ModComtree

	AddComtreeLink
	DropComtreeLink
	GetComtreeLink
	ModComtreeLink

	AddRoute
	DropRoute
	GetRoute
	ModRoute

	AddRouteLink
	DropRouteLink

	AddFilter
	DropFilter
	GetFilter
	ModFilter
	GetLoggedPackets

	SetLeafRange

	// Comtree-build primitives — pass-through stubs. The router exposes
	// the field-level request catalogue for these, but the build
	// protocol itself (how join/leave/add-branch/prune/confirm/abort
	// actually shape a comtree) belongs to the external comtree
	// controller and is not reimplemented here.
	CtBuildJoin
	CtBuildLeave
	CtBuildAddBranch
	CtBuildPrune
	CtBuildConfirm
	CtBuildAbort

	cpTypeEnd
)

// typeInfo mirrors CpType::CpTypeInfo: each type's attribute sets.
type typeInfo struct {
	name      string
	required  []CpAttr // reqReqAttr
	optional  []CpAttr // reqAttr, beyond required
	replyAttr []CpAttr
}

var typeCatalogue = map[CpType]typeInfo{
	AddIface: {"addIface", []CpAttr{AttrIfaceNum, AttrLocalIP, AttrMaxBitRate, AttrMaxPktRate}, nil, []CpAttr{AttrIfaceNum}},
	DropIface: {"dropIface", []CpAttr{AttrIfaceNum}, nil, nil},
	GetIface: {"getIface", []CpAttr{AttrIfaceNum}, nil, []CpAttr{AttrIfaceNum, AttrLocalIP, AttrMaxBitRate, AttrMaxPktRate, AttrRateSpec}},
	ModIface: {"modIface", []CpAttr{AttrIfaceNum}, []CpAttr{AttrMaxBitRate, AttrMaxPktRate}, nil},

	AddLink: {"addLink", []CpAttr{AttrIfaceNum, AttrPeerIP, AttrPeerPort, AttrPeerType}, []CpAttr{AttrPeerAdr, AttrNonce, AttrRateSpec}, []CpAttr{AttrLinkNum, AttrPeerAdr}},
	DropLink: {"dropLink", []CpAttr{AttrLinkNum}, nil, nil},
	GetLink: {"getLink", []CpAttr{AttrLinkNum}, nil, []CpAttr{AttrLinkNum, AttrIfaceNum, AttrPeerIP, AttrPeerPort, AttrPeerType, AttrPeerAdr, AttrRateSpec, AttrNonce}},
	ModLink: {"modLink", []CpAttr{AttrLinkNum}, []CpAttr{AttrRateSpec}, nil},

	AddComtree: {"addComtree", []CpAttr{AttrComtreeNum}, nil, nil},
	DropComtree: {"dropComtree", []CpAttr{AttrComtreeNum}, nil, nil},
	GetComtree: {"getComtree", []CpAttr{AttrComtreeNum}, nil, []CpAttr{AttrComtreeNum, AttrCoreFlag, AttrParentLink, AttrLinkCount}},
	ModComtree: {"modComtree", []CpAttr{AttrComtreeNum}, []CpAttr{AttrCoreFlag, AttrParentLink}, nil},

	AddComtreeLink: {"addComtreeLink", []CpAttr{AttrComtreeNum, AttrLinkNum}, []CpAttr{AttrCoreFlag, AttrPeerAdr, AttrRateSpec}, []CpAttr{AttrQueueNum}},
	DropComtreeLink: {"dropComtreeLink", []CpAttr{AttrComtreeNum, AttrLinkNum}, nil, nil},
	GetComtreeLink: {"getComtreeLink", []CpAttr{AttrComtreeNum, AttrLinkNum}, nil, []CpAttr{AttrQueueNum, AttrCoreFlag, AttrRateSpec, AttrPeerAdr}},
	ModComtreeLink: {"modComtreeLink", []CpAttr{AttrComtreeNum, AttrLinkNum}, []CpAttr{AttrRateSpec}, nil},

	AddRoute: {"addRoute", []CpAttr{AttrComtreeNum, AttrDestAdr, AttrLinkNum}, nil, nil},
	DropRoute: {"dropRoute", []CpAttr{AttrComtreeNum, AttrDestAdr}, nil, nil},
	GetRoute: {"getRoute", []CpAttr{AttrComtreeNum, AttrDestAdr}, nil, []CpAttr{AttrComtreeNum, AttrDestAdr, AttrLinkCount}},
	ModRoute: {"modRoute", []CpAttr{AttrComtreeNum, AttrDestAdr}, []CpAttr{AttrLinkNum}, nil},

	AddRouteLink: {"addRouteLink", []CpAttr{AttrComtreeNum, AttrDestAdr, AttrLinkNum}, nil, nil},
	DropRouteLink: {"dropRouteLink", []CpAttr{AttrComtreeNum, AttrDestAdr, AttrLinkNum}, nil, nil},

	AddFilter: {"addFilter", nil, nil, nil},
	DropFilter: {"dropFilter", nil, nil, nil},
	GetFilter: {"getFilter", nil, nil, nil},
	ModFilter: {"modFilter", nil, nil, nil},
	GetLoggedPackets: {"getLoggedPackets", nil, nil, nil},

	SetLeafRange: {"setLeafRange", []CpAttr{AttrRtrAdr}, nil, nil},

	CtBuildJoin: {"ctBuildJoin", []CpAttr{AttrComtreeNum, AttrLeafAdr}, nil, nil},
	CtBuildLeave: {"ctBuildLeave", []CpAttr{AttrComtreeNum, AttrLeafAdr}, nil, nil},
	CtBuildAddBranch: {"ctBuildAddBranch", []CpAttr{AttrComtreeNum, AttrLinkNum}, nil, nil},
	CtBuildPrune: {"ctBuildPrune", []CpAttr{AttrComtreeNum, AttrLinkNum}, nil, nil},
	CtBuildConfirm: {"ctBuildConfirm", []CpAttr{AttrComtreeNum}, nil, nil},
	CtBuildAbort: {"ctBuildAbort", []CpAttr{AttrComtreeNum}, nil, nil},
}

// Name returns the human-readable type name.
func (t CpType) Name() string {
	if info, ok := typeCatalogue[t]; ok {
		return info.name
	}
	return "undefined"
}

// Valid reports whether t is a recognized control-packet type.
func (t CpType) Valid() bool {
	_, ok := typeCatalogue[t]
	return ok
}

// RequiredAttrs returns the attributes a request of type t must carry.
func (t CpType) RequiredAttrs() []CpAttr {
	return typeCatalogue[t].required
}

// OptionalAttrs returns the attributes a request of type t may carry
// beyond its required set.
func (t CpType) OptionalAttrs() []CpAttr {
	return typeCatalogue[t].optional
}

// Mode distinguishes a control packet's role on the wire.
type Mode uint8

const (
	ModeRequest Mode = iota
	ModePosReply
	ModeNegReply
)
