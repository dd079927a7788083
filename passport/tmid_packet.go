package passport

import (
	"bytes"

	"xdao.co/passport/pki"
)

// TmidPacket holds session data encrypted under username, pin and password.
// Its name is Hash(value). A surrogate packet is an Stmid, the backup copy
// kept from the previous session save.
//
// A TmidPacket restored from a keyring carries no credentials.
type TmidPacket struct {
	typ      PacketType
	username string
	pin      string
	password string
	kdf      pki.KDFParams
	plain    []byte
	value    []byte
	name     []byte
}

// NewTmidPacket encrypts plain for the credentials.
func NewTmidPacket(kdf pki.KDFParams, username, pin string, surrogate bool, password string, plain []byte) (*TmidPacket, error) {
	t := Tmid
	if surrogate {
		t = Stmid
	}
	if username == "" || pin == "" || password == "" {
		return nil, newError(KindEmptyCredential, t, "username, pin and password are required")
	}
	p := &TmidPacket{
		typ:      t,
		username: username,
		pin:      pin,
		password: password,
		kdf:      kdf,
	}
	return p.SetPlainData(plain)
}

func restoreTmidPacket(t PacketType, name, value []byte) *TmidPacket {
	return &TmidPacket{typ: t, name: clone(name), value: clone(value)}
}

// tmidKey is shared by Tmid and Stmid so that rotating a payload into the
// backup slot reproduces the exact bytes it had as the current session.
func tmidKey(kdf pki.KDFParams, username, pin, password string) []byte {
	salt := pki.Hash([]byte("passport/tmid/v1"), []byte{0}, []byte(username), []byte{0}, []byte(pin))
	return pki.DeriveKey(kdf, []byte(password), salt)
}

func (p *TmidPacket) Type() PacketType { return p.typ }
func (p *TmidPacket) Name() []byte     { return clone(p.name) }
func (p *TmidPacket) Value() []byte    { return clone(p.value) }

// PlainData returns the unencrypted payload, or nil for a restored packet.
func (p *TmidPacket) PlainData() []byte { return clone(p.plain) }

func (p *TmidPacket) hasCredentials() bool {
	return p.username != "" && p.pin != "" && p.password != ""
}

// SetPlainData returns a copy of p holding plain.
func (p *TmidPacket) SetPlainData(plain []byte) (*TmidPacket, error) {
	if !p.hasCredentials() {
		return nil, newError(KindEmptyCredential, p.typ, "packet has no credentials")
	}
	value, err := pki.Obfuscate(tmidKey(p.kdf, p.username, p.pin, p.password), plain)
	if err != nil {
		return nil, wrapError(KindCrypto, p.typ, "encrypt plain data", err)
	}
	out := *p
	out.plain = clone(plain)
	out.value = value
	out.name = pki.Hash(value)
	return &out, nil
}

// DecryptPlainData decrypts value with password and the packet's username and pin.
func (p *TmidPacket) DecryptPlainData(password string, value []byte) ([]byte, error) {
	if p.username == "" || p.pin == "" {
		return nil, newError(KindEmptyCredential, p.typ, "packet has no credentials")
	}
	if password == "" || len(value) == 0 {
		return nil, newError(KindEmptyParameter, p.typ, "password and value are required")
	}
	plain, err := pki.Deobfuscate(tmidKey(p.kdf, p.username, p.pin, password), value)
	if err != nil {
		return nil, wrapError(KindCrypto, p.typ, "decrypt plain data", err)
	}
	return plain, nil
}

func (p *TmidPacket) consistent() bool {
	return bytes.Equal(p.name, pki.Hash(p.value))
}
