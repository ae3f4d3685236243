// Package wire implements the Forest wire format: the 32-bit address
// scheme, the 20-byte packet header, its checksums, and the control-packet
// attribute/type catalogue used by every signalling request and reply.
//
// Grounded on _examples/original_source/include/CpType.h, CpAttr.h/.cpp,
// and CpType.cpp: the attribute and type enumerations there are carried
// over as typed Go constants with the same required/optional attribute
// sets, re-expressed with Go maps instead of a hand-rolled C array.
package wire

// Address is a 32-bit Forest address: a 16-bit zip in the high half and a
// 16-bit local part in the low half. A zero local part denotes a router;
// a non-zero local part denotes a leaf. The top bit of the zip marks a
// multicast address.
type Address uint32

const multicastBit = 0x80000000

// Zip returns the zip (routing) portion of the address.
func (a Address) Zip() uint16 {
	return uint16(uint32(a) >> 16)
}

// Local returns the local (host) portion of the address.
func (a Address) Local() uint16 {
	return uint16(uint32(a))
}

// IsRouter reports whether a is a router address (zero local part).
func (a Address) IsRouter() bool {
	return a.Local() == 0 && !a.IsMulticast()
}

// IsMulticast reports whether the high bit of the address is set.
func (a Address) IsMulticast() bool {
	return uint32(a)&multicastBit != 0
}

// ForestAddr composes an address from a zip and local part.
func ForestAddr(zip, local uint16) Address {
	return Address(uint32(zip)<<16 | uint32(local))
}

// SameZip reports whether a and b share a zip code.
func SameZip(a, b Address) bool {
	return a.Zip() == b.Zip()
}

// Aggregate returns the (zip, 0) router address for a, used when a
// unicast destination lies in a foreign zip and no exact route exists.
func Aggregate(a Address) Address {
	return ForestAddr(a.Zip(), 0)
}
