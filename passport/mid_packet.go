package passport

import (
	"xdao.co/passport/pki"
)

// MidPacket locates session data. Its name is Hash(username ++ pin ++
// appendix) and its value is the obfuscated name ("rid") of the TmidPacket it
// points at. An empty appendix makes a Mid, any other an Smid.
//
// A MidPacket restored from a keyring carries no credentials: Name and Value
// work, SetRid and DecryptRid fail with ErrEmptyCredential.
type MidPacket struct {
	typ      PacketType
	username string
	pin      string
	appendix string
	kdf      pki.KDFParams
	value    []byte
	name     []byte
}

// NewMidPacket derives the Mid (empty appendix) or Smid packet for the credentials.
func NewMidPacket(kdf pki.KDFParams, username, pin, appendix string) (*MidPacket, error) {
	t := Mid
	if appendix != "" {
		t = Smid
	}
	if username == "" || pin == "" {
		return nil, newError(KindEmptyCredential, t, "username and pin are required")
	}
	return &MidPacket{
		typ:      t,
		username: username,
		pin:      pin,
		appendix: appendix,
		kdf:      kdf,
		name:     midName(username, pin, appendix),
	}, nil
}

func restoreMidPacket(t PacketType, name, value []byte) *MidPacket {
	return &MidPacket{typ: t, name: clone(name), value: clone(value)}
}

func midName(username, pin, appendix string) []byte {
	return pki.Hash([]byte(username), []byte(pin), []byte(appendix))
}

func midKey(kdf pki.KDFParams, username, pin, appendix string) []byte {
	salt := pki.Hash([]byte("passport/mid/v1"), []byte{0}, []byte(username), []byte{0}, []byte(appendix))
	return pki.DeriveKey(kdf, []byte(pin), salt)
}

func (p *MidPacket) Type() PacketType { return p.typ }
func (p *MidPacket) Name() []byte     { return clone(p.name) }
func (p *MidPacket) Value() []byte    { return clone(p.value) }

func (p *MidPacket) hasCredentials() bool { return p.username != "" && p.pin != "" }

// SetRid returns a copy of p pointing at rid.
func (p *MidPacket) SetRid(rid []byte) (*MidPacket, error) {
	if !p.hasCredentials() {
		return nil, newError(KindEmptyCredential, p.typ, "packet has no credentials")
	}
	if len(rid) == 0 {
		return nil, newError(KindEmptyParameter, p.typ, "empty rid")
	}
	value, err := pki.Obfuscate(midKey(p.kdf, p.username, p.pin, p.appendix), rid)
	if err != nil {
		return nil, wrapError(KindCrypto, p.typ, "obfuscate rid", err)
	}
	out := *p
	out.value = value
	return &out, nil
}

// DecryptRid recovers the pointer held in encrypted, which must have been
// produced by a packet with the same username, pin and appendix.
func (p *MidPacket) DecryptRid(encrypted []byte) ([]byte, error) {
	if !p.hasCredentials() {
		return nil, newError(KindEmptyCredential, p.typ, "packet has no credentials")
	}
	if len(encrypted) == 0 {
		return nil, newError(KindEmptyParameter, p.typ, "empty encrypted rid")
	}
	rid, err := pki.Deobfuscate(midKey(p.kdf, p.username, p.pin, p.appendix), encrypted)
	if err != nil {
		return nil, wrapError(KindCrypto, p.typ, "decrypt rid", err)
	}
	return rid, nil
}
