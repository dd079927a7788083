package passport

// Packet is a named, valued unit of credential data.
//
// The set of implementations is closed: *SignaturePacket, *MidPacket and
// *TmidPacket. Packets never change after construction; the byte slices
// returned by Name and Value are copies.
type Packet interface {
	Type() PacketType
	Name() []byte
	Value() []byte

	packet()
}

func (*SignaturePacket) packet() {}
func (*MidPacket) packet()       {}
func (*TmidPacket) packet()      {}

// validatePacket rejects nil packets, packets whose variant does not match
// their type group and packets missing the fields their invariants rely on.
func validatePacket(p Packet) error {
	switch v := p.(type) {
	case *SignaturePacket:
		if v == nil {
			return newError(KindDuplicateOrInvalid, UnknownPacket, "nil signature packet")
		}
		if v.typ.IsMessaging() {
			return newError(KindDuplicateOrInvalid, v.typ, "messaging packets are not held by a passport")
		}
		if !v.typ.IsSigning() {
			return newError(KindDuplicateOrInvalid, v.typ, "signature packet has non-signing type")
		}
		if len(v.publicKey) == 0 || len(v.signature) == 0 || len(v.name) == 0 {
			return newError(KindDuplicateOrInvalid, v.typ, "signature packet is incomplete")
		}
	case *MidPacket:
		if v == nil {
			return newError(KindDuplicateOrInvalid, UnknownPacket, "nil mid packet")
		}
		if v.typ != Mid && v.typ != Smid {
			return newError(KindDuplicateOrInvalid, v.typ, "mid packet has wrong type")
		}
		if len(v.name) == 0 {
			return newError(KindDuplicateOrInvalid, v.typ, "mid packet has no name")
		}
	case *TmidPacket:
		if v == nil {
			return newError(KindDuplicateOrInvalid, UnknownPacket, "nil tmid packet")
		}
		if v.typ != Tmid && v.typ != Stmid {
			return newError(KindDuplicateOrInvalid, v.typ, "tmid packet has wrong type")
		}
		if len(v.name) == 0 || len(v.value) == 0 {
			return newError(KindDuplicateOrInvalid, v.typ, "tmid packet is incomplete")
		}
	default:
		return newError(KindDuplicateOrInvalid, UnknownPacket, "nil or unknown packet")
	}
	return nil
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
