// Package rconfig defines the router's bootstrap configuration shape and
// the apply-to-tables step that provisions a freshly constructed router
// from it.
//
// Grounded on _examples/grimm-is-glacic's internal/config/config.go
// (top-level struct tagged for gohcl, one block type per nested
// collection) and loader.go (hclparse + gohcl.DecodeBody). This package
// defines the decoded shape, a thin hclsimple-based decoder (Load and
// LoadBytes in loader.go), and the apply step, which spec.md §6 does
// ask for (the router's own Forest address, listening endpoint, and its
// initial interfaces/links/comtrees/routes).
package rconfig

// Config is the top-level bootstrap document: the router's own identity
// and listening endpoint, plus every interface, link, comtree and route
// it should be provisioned with before accepting traffic.
type Config struct {
	RouterAddr  string       `hcl:"router_addr"`
	ListenAddr  string       `hcl:"listen_addr"`
	LeafLo      int          `hcl:"leaf_lo,optional"`
	LeafHi      int          `hcl:"leaf_hi,optional"`
	Interfaces  []Interface  `hcl:"interface,block"`
	Links       []Link       `hcl:"link,block"`
	Comtrees    []Comtree    `hcl:"comtree,block"`
	Routes      []Route     `hcl:"route,block"`
}

// Interface mirrors the attributes of an AddIface control request.
type Interface struct {
	Num         int    `hcl:"num,label"`
	LocalIP     string `hcl:"local_ip"`
	MaxBitRate  int64  `hcl:"max_bit_rate,optional"`
	MaxPktRate  int64  `hcl:"max_pkt_rate,optional"`
}

// Link mirrors the attributes of an AddLink control request. PeerAddr
// of 0 (the default) asks the control handler to auto-allocate a leaf
// address from the configured leaf range, the same as a live addLink
// request with no peerAdr attribute set.
type Link struct {
	Num         int    `hcl:"num,label"`
	Iface       int    `hcl:"iface"`
	PeerIP      string `hcl:"peer_ip"`
	PeerPort    int    `hcl:"peer_port"`
	PeerType    string `hcl:"peer_type"` // "client" or "router"
	PeerAddr    uint32 `hcl:"peer_addr,optional"`
	Nonce       uint64 `hcl:"nonce,optional"`
	RateSpec    *RateSpec `hcl:"rate_spec,block"`
}

// RateSpec mirrors wire.RateSpec; a zero field is filled from the
// package's defaultRate (applyLink merges it in with mergo before
// dispatch), and an absent block takes defaultRate whole.
type RateSpec struct {
	BitRateUp   int64 `hcl:"bit_rate_up,optional"`
	BitRateDown int64 `hcl:"bit_rate_down,optional"`
	PktRateUp   int64 `hcl:"pkt_rate_up,optional"`
	PktRateDown int64 `hcl:"pkt_rate_down,optional"`
}

// Comtree provisions a comtree and its member links. CoreLinks lists
// the link numbers, from Links above, that are core (backbone) links
// rather than leaf-facing ones.
type Comtree struct {
	Num        uint32   `hcl:"num,label"`
	MemberLinks []int   `hcl:"member_links,optional"`
	CoreLinks   []int   `hcl:"core_links,optional"`
}

// Route provisions one static route: destination dest in comtree Comt,
// reachable over Links. Dest's multicast bit decides the kind: a
// multicast Dest may list several links, a unicast Dest exactly one.
type Route struct {
	Comt  uint32 `hcl:"comtree"`
	Dest  uint32 `hcl:"dest"`
	Links []int  `hcl:"links"`
}
