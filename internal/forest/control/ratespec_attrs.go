package control

import "forest.net/router/internal/forest/wire"

// rateSpecFromAttrs reads the per-direction rate attributes from cp,
// falling back to the corresponding field of deflt for any that are
// absent. The catalogue's AttrRateSpec entry marks where a rate
// belongs in a request; on the wire it is carried as these four
// discrete attributes rather than a single packed value, since a
// control packet's attribute map holds one int64 per key.
func rateSpecFromAttrs(cp wire.ControlPacket, deflt wire.RateSpec) wire.RateSpec {
	r := deflt
	if v, ok := cp.Get(wire.AttrBitRateUp); ok {
		r.BitRateUp = v
	}
	if v, ok := cp.Get(wire.AttrBitRateDown); ok {
		r.BitRateDown = v
	}
	if v, ok := cp.Get(wire.AttrPktRateUp); ok {
		r.PktRateUp = v
	}
	if v, ok := cp.Get(wire.AttrPktRateDown); ok {
		r.PktRateDown = v
	}
	return r.Clamped()
}

// setRateSpecAttrs writes r's four fields into cp's reply attributes.
func setRateSpecAttrs(cp *wire.ControlPacket, r wire.RateSpec) {
	cp.Set(wire.AttrBitRateUp, r.BitRateUp)
	cp.Set(wire.AttrBitRateDown, r.BitRateDown)
	cp.Set(wire.AttrPktRateUp, r.PktRateUp)
	cp.Set(wire.AttrPktRateDown, r.PktRateDown)
}
