package passport

import (
	"bytes"
	"io"

	"xdao.co/passport/pki"
)

// SignaturePacket is a signing key pair. Its value is the public key and its
// name is Hash(value ++ signature).
type SignaturePacket struct {
	typ        PacketType
	alg        pki.Algorithm
	publicKey  []byte
	privateKey []byte
	signature  []byte
	name       []byte
}

// NewSignaturePacket returns a self-signed packet of type t for kp.
func NewSignaturePacket(t PacketType, kp pki.KeyPair) (*SignaturePacket, error) {
	return newSignaturePacket(t, kp.Algorithm, kp.Public, kp.Private, kp.Private)
}

func newSignaturePacket(t PacketType, alg pki.Algorithm, pub, priv, signerPriv []byte) (*SignaturePacket, error) {
	if len(pub) == 0 || len(priv) == 0 {
		return nil, newError(KindEmptyCredential, t, "missing key material")
	}
	sig, err := pki.Sign(alg, signerPriv, pub)
	if err != nil {
		return nil, wrapError(KindCrypto, t, "sign public key", err)
	}
	return &SignaturePacket{
		typ:        t,
		alg:        alg,
		publicKey:  clone(pub),
		privateKey: clone(priv),
		signature:  sig,
		name:       pki.Hash(pub, sig),
	}, nil
}

// restoreSignaturePacket rebuilds a packet from stored fields without signing.
// The result is not checked; see consistent.
func restoreSignaturePacket(t PacketType, alg pki.Algorithm, pub, priv, sig, name []byte) *SignaturePacket {
	return &SignaturePacket{
		typ:        t,
		alg:        alg,
		publicKey:  clone(pub),
		privateKey: clone(priv),
		signature:  clone(sig),
		name:       clone(name),
	}
}

// CreateChainedID generates count self-signed signing packets of UnknownPacket
// type. Callers assign types with WithType and, for a chain, re-sign each
// packet after the first with its predecessor via Resign.
func CreateChainedID(alg pki.Algorithm, count int, random io.Reader) ([]*SignaturePacket, error) {
	if count <= 0 {
		return nil, newError(KindEmptyParameter, UnknownPacket, "chain length must be positive")
	}
	out := make([]*SignaturePacket, 0, count)
	for i := 0; i < count; i++ {
		kp, err := pki.GenerateKeyPair(alg, random)
		if err != nil {
			return nil, wrapError(KindCrypto, UnknownPacket, "generate key pair", err)
		}
		p, err := NewSignaturePacket(UnknownPacket, kp)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (p *SignaturePacket) Type() PacketType         { return p.typ }
func (p *SignaturePacket) Name() []byte             { return clone(p.name) }
func (p *SignaturePacket) Value() []byte            { return clone(p.publicKey) }
func (p *SignaturePacket) Algorithm() pki.Algorithm { return p.alg }
func (p *SignaturePacket) PublicKey() []byte        { return clone(p.publicKey) }
func (p *SignaturePacket) PrivateKey() []byte       { return clone(p.privateKey) }
func (p *SignaturePacket) Signature() []byte        { return clone(p.signature) }

// WithType returns a copy of p carrying type t.
func (p *SignaturePacket) WithType(t PacketType) *SignaturePacket {
	out := *p
	out.typ = t
	return &out
}

// Resign returns a copy of p whose signature is made with signer's private
// key. The name changes with the signature.
func (p *SignaturePacket) Resign(signer *SignaturePacket) (*SignaturePacket, error) {
	if signer == nil || len(signer.privateKey) == 0 {
		return nil, newError(KindEmptyCredential, p.typ, "signer has no private key")
	}
	return newSignaturePacket(p.typ, p.alg, p.publicKey, p.privateKey, signer.privateKey)
}

// VerifiedBy reports whether p's signature verifies under signerPublic.
func (p *SignaturePacket) VerifiedBy(signerPublic []byte) bool {
	return pki.Verify(p.alg, signerPublic, p.publicKey, p.signature)
}

// Sign signs message with p's private key.
func (p *SignaturePacket) Sign(message []byte) ([]byte, error) {
	if len(p.privateKey) == 0 {
		return nil, newError(KindEmptyCredential, p.typ, "no private key")
	}
	sig, err := pki.Sign(p.alg, p.privateKey, message)
	if err != nil {
		return nil, wrapError(KindCrypto, p.typ, "sign", err)
	}
	return sig, nil
}

// consistent reports whether the stored name matches Hash(value ++ signature).
func (p *SignaturePacket) consistent() bool {
	return bytes.Equal(p.name, pki.Hash(p.publicKey, p.signature))
}
