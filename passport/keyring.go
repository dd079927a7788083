package passport

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"xdao.co/passport/pki"
)

// Keyring wire format (protobuf encoding, no generated code):
//
//	message Keyring {
//	  uint32 version = 1;
//	  repeated Entry entries = 2;
//	}
//	message Entry {
//	  uint32 type = 1;
//	  bool confirmed = 2;
//	  string algorithm = 3;
//	  bytes public_key = 4;
//	  bytes private_key = 5;
//	  bytes signature = 6;
//	  bytes name = 7;
//	  bytes value = 8;
//	}
//
// Entries are written in type order, confirmed before pending, so equal
// handler contents always serialise to equal bytes.
const keyringVersion = 1

const (
	fieldKeyringVersion protowire.Number = 1
	fieldKeyringEntry   protowire.Number = 2

	fieldEntryType       protowire.Number = 1
	fieldEntryConfirmed  protowire.Number = 2
	fieldEntryAlgorithm  protowire.Number = 3
	fieldEntryPublicKey  protowire.Number = 4
	fieldEntryPrivateKey protowire.Number = 5
	fieldEntrySignature  protowire.Number = 6
	fieldEntryName       protowire.Number = 7
	fieldEntryValue      protowire.Number = 8
)

type keyringEntry struct {
	typ        PacketType
	confirmed  bool
	algorithm  string
	publicKey  []byte
	privateKey []byte
	signature  []byte
	name       []byte
	value      []byte
}

type slotKey struct {
	typ       PacketType
	confirmed bool
}

// SerializeKeyring encodes every confirmed and pending packet.
func (h *Handler) SerializeKeyring() ([]byte, error) {
	return h.serializeKeyring(append(append([]PacketType(nil), SigningPacketTypes...), IdentityPacketTypes...))
}

func (h *Handler) serializeKeyring(order []PacketType) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldKeyringVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, keyringVersion)

	for _, t := range order {
		for _, confirmed := range []bool{true, false} {
			p, ok := h.Get(t, confirmed)
			if !ok {
				continue
			}
			e, err := entryFor(p, confirmed)
			if err != nil {
				return nil, err
			}
			b = protowire.AppendTag(b, fieldKeyringEntry, protowire.BytesType)
			b = protowire.AppendBytes(b, e.marshal())
		}
	}
	return b, nil
}

// ParseKeyring decodes b and installs its packets. Confirmed entries replace
// the confirmed slot of their type; pending entries only fill pending slots
// that are empty. Nothing is installed unless the whole keyring is valid.
func (h *Handler) ParseKeyring(b []byte) error {
	if len(b) == 0 {
		return newError(KindEmptyParameter, UnknownPacket, "empty keyring")
	}
	entries, err := parseKeyring(b)
	if err != nil {
		return err
	}

	restored := make(map[slotKey]Packet, len(entries))
	for _, e := range entries {
		k := slotKey{typ: e.typ, confirmed: e.confirmed}
		if _, dup := restored[k]; dup {
			return newError(KindKeyring, e.typ, "duplicate keyring entry")
		}
		p, err := e.packet()
		if err != nil {
			return err
		}
		restored[k] = p
	}
	if err := verifyRestoredChain(restored); err != nil {
		return err
	}

	for k, p := range restored {
		if k.confirmed {
			h.confirmed[k.typ] = p
			continue
		}
		if _, busy := h.pending[k.typ]; !busy {
			h.pending[k.typ] = p
		}
	}
	return nil
}

// verifyRestoredChain checks every signing packet against its chain parent.
// The parent is looked up in the same state first and then in the other one,
// so a keyring taken between partial confirmations (AnMaid confirmed, Maid
// still pending) restores.
func verifyRestoredChain(restored map[slotKey]Packet) error {
	for k, p := range restored {
		sp, ok := p.(*SignaturePacket)
		if !ok {
			continue
		}
		parentType := chainParentOf(k.typ)
		found := false
		verified := false
		for _, confirmed := range []bool{k.confirmed, !k.confirmed} {
			parent, ok := restored[slotKey{typ: parentType, confirmed: confirmed}].(*SignaturePacket)
			if !ok {
				continue
			}
			found = true
			if sp.VerifiedBy(parent.publicKey) {
				verified = true
				break
			}
		}
		switch {
		case !found:
			return newError(KindKeyring, k.typ, "keyring is missing the signer "+parentType.String())
		case !verified:
			return newError(KindKeyring, k.typ, "signature does not verify")
		}
	}
	return nil
}

func entryFor(p Packet, confirmed bool) (keyringEntry, error) {
	e := keyringEntry{typ: p.Type(), confirmed: confirmed, name: p.Name(), value: p.Value()}
	switch v := p.(type) {
	case *SignaturePacket:
		e.algorithm = string(v.alg)
		e.publicKey = v.PublicKey()
		e.privateKey = v.PrivateKey()
		e.signature = v.Signature()
		e.value = nil
	case *MidPacket, *TmidPacket:
	default:
		return keyringEntry{}, newError(KindKeyring, p.Type(), "unsupported packet")
	}
	return e, nil
}

func (e keyringEntry) packet() (Packet, error) {
	switch {
	case e.typ.IsSigning():
		alg, err := pki.ParseAlgorithm(e.algorithm)
		if err != nil {
			return nil, wrapError(KindKeyring, e.typ, "bad algorithm", err)
		}
		if len(e.publicKey) == 0 || len(e.privateKey) == 0 || len(e.signature) == 0 {
			return nil, newError(KindKeyring, e.typ, "incomplete signing entry")
		}
		p := restoreSignaturePacket(e.typ, alg, e.publicKey, e.privateKey, e.signature, e.name)
		if !p.consistent() {
			return nil, newError(KindKeyring, e.typ, "name does not match public key and signature")
		}
		return p, nil
	case e.typ == Mid || e.typ == Smid:
		if len(e.name) == 0 {
			return nil, newError(KindKeyring, e.typ, "missing name")
		}
		return restoreMidPacket(e.typ, e.name, e.value), nil
	case e.typ == Tmid || e.typ == Stmid:
		p := restoreTmidPacket(e.typ, e.name, e.value)
		if len(e.value) == 0 || !p.consistent() {
			return nil, newError(KindKeyring, e.typ, "name does not match value")
		}
		return p, nil
	default:
		return nil, newError(KindKeyring, e.typ, "unsupported packet type")
	}
}

func (e keyringEntry) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldEntryType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.typ))
	if e.confirmed {
		b = protowire.AppendTag(b, fieldEntryConfirmed, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	b = appendBytesField(b, fieldEntryAlgorithm, []byte(e.algorithm))
	b = appendBytesField(b, fieldEntryPublicKey, e.publicKey)
	b = appendBytesField(b, fieldEntryPrivateKey, e.privateKey)
	b = appendBytesField(b, fieldEntrySignature, e.signature)
	b = appendBytesField(b, fieldEntryName, e.name)
	b = appendBytesField(b, fieldEntryValue, e.value)
	return b
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func parseKeyring(b []byte) ([]keyringEntry, error) {
	var (
		version    uint64
		sawVersion bool
		entries    []keyringEntry
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, wrapError(KindKeyring, UnknownPacket, "bad tag", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldKeyringVersion && typ == protowire.VarintType:
			version, n = protowire.ConsumeVarint(b)
			sawVersion = true
		case num == fieldKeyringEntry && typ == protowire.BytesType:
			var raw []byte
			raw, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				e, err := parseEntry(raw)
				if err != nil {
					return nil, err
				}
				entries = append(entries, e)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, wrapError(KindKeyring, UnknownPacket, "bad field", protowire.ParseError(n))
		}
		b = b[n:]
	}
	if !sawVersion || version != keyringVersion {
		return nil, newError(KindKeyring, UnknownPacket, fmt.Sprintf("unsupported keyring version %d", version))
	}
	return entries, nil
}

func parseEntry(b []byte) (keyringEntry, error) {
	var e keyringEntry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, wrapError(KindKeyring, UnknownPacket, "bad entry tag", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldEntryType && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			if v > 0xff {
				return e, newError(KindKeyring, UnknownPacket, "packet type out of range")
			}
			e.typ = PacketType(v)
		case num == fieldEntryConfirmed && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			e.confirmed = protowire.DecodeBool(v)
		case typ == protowire.BytesType && num >= fieldEntryAlgorithm && num <= fieldEntryValue:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			v = clone(v)
			switch num {
			case fieldEntryAlgorithm:
				e.algorithm = string(v)
			case fieldEntryPublicKey:
				e.publicKey = v
			case fieldEntryPrivateKey:
				e.privateKey = v
			case fieldEntrySignature:
				e.signature = v
			case fieldEntryName:
				e.name = v
			case fieldEntryValue:
				e.value = v
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return e, wrapError(KindKeyring, UnknownPacket, "bad entry field", protowire.ParseError(n))
		}
		b = b[n:]
	}
	return e, nil
}
