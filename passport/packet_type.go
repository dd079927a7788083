package passport

import "fmt"

// PacketType identifies one of the fixed packet kinds a passport manages.
type PacketType uint8

const (
	UnknownPacket PacketType = iota
	AnMid
	AnSmid
	AnTmid
	AnMaid
	Maid
	Pmid
	Mid
	Smid
	Tmid
	Stmid
	// AnMpid and Mpid mark the messaging group. No passport operation creates
	// them and the handler refuses them.
	AnMpid
	Mpid
)

// SigningPacketTypes lists the signing group in creation and confirmation order.
var SigningPacketTypes = []PacketType{AnMid, AnSmid, AnTmid, AnMaid, Maid, Pmid}

// IdentityPacketTypes lists the identity group in confirmation order.
var IdentityPacketTypes = []PacketType{Mid, Smid, Tmid, Stmid}

var packetTypeNames = map[PacketType]string{
	UnknownPacket: "Unknown",
	AnMid:         "ANMID",
	AnSmid:        "ANSMID",
	AnTmid:        "ANTMID",
	AnMaid:        "ANMAID",
	Maid:          "MAID",
	Pmid:          "PMID",
	Mid:           "MID",
	Smid:          "SMID",
	Tmid:          "TMID",
	Stmid:         "STMID",
	AnMpid:        "ANMPID",
	Mpid:          "MPID",
}

func (t PacketType) String() string {
	if s, ok := packetTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("PacketType(%d)", uint8(t))
}

// IsSigning reports whether t belongs to the signing group.
func (t PacketType) IsSigning() bool {
	switch t {
	case AnMid, AnSmid, AnTmid, AnMaid, Maid, Pmid:
		return true
	}
	return false
}

// IsIdentity reports whether t belongs to the identity group.
func (t PacketType) IsIdentity() bool {
	switch t {
	case Mid, Smid, Tmid, Stmid:
		return true
	}
	return false
}

// IsMessaging reports whether t is one of the messaging group markers.
func (t PacketType) IsMessaging() bool {
	return t == AnMpid || t == Mpid
}

// ParsePacketType maps a debug name (as returned by String) back to its type.
func ParsePacketType(s string) (PacketType, bool) {
	for t, name := range packetTypeNames {
		if t != UnknownPacket && name == s {
			return t, true
		}
	}
	return UnknownPacket, false
}

// signerOf returns the signing packet whose private key signs an identity packet.
func signerOf(t PacketType) (PacketType, bool) {
	switch t {
	case Mid:
		return AnMid, true
	case Smid:
		return AnSmid, true
	case Tmid, Stmid:
		return AnTmid, true
	}
	return UnknownPacket, false
}

// chainParentOf returns the packet that signs a signing packet. Self-signed
// packets return themselves.
func chainParentOf(t PacketType) PacketType {
	switch t {
	case Maid:
		return AnMaid
	case Pmid:
		return Maid
	}
	return t
}
