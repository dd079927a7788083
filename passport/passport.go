package passport

import (
	"io"
	"log/slog"

	"xdao.co/passport/pki"
)

// DefaultSmidAppendix is appended to username and PIN to name the Smid.
const DefaultSmidAppendix = "surrogate"

// Passport creates, confirms and exposes the packets of one user.
type Passport struct {
	handler      *Handler
	alg          pki.Algorithm
	kdf          pki.KDFParams
	smidAppendix string
	random       io.Reader
	log          *slog.Logger
}

// Option configures a Passport.
type Option func(*Passport)

// WithAlgorithm selects the signature scheme for new signing packets.
func WithAlgorithm(alg pki.Algorithm) Option {
	return func(p *Passport) { p.alg = alg }
}

// WithKDF sets the Argon2id cost used for Mid and Tmid keys.
func WithKDF(kdf pki.KDFParams) Option {
	return func(p *Passport) { p.kdf = kdf }
}

// WithSmidAppendix overrides DefaultSmidAppendix.
func WithSmidAppendix(appendix string) Option {
	return func(p *Passport) { p.smidAppendix = appendix }
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(p *Passport) {
		if l != nil {
			p.log = l
		}
	}
}

// WithRandom sets the entropy source for key generation (crypto/rand by default).
func WithRandom(r io.Reader) Option {
	return func(p *Passport) { p.random = r }
}

// New returns an empty passport.
func New(opts ...Option) (*Passport, error) {
	p := &Passport{
		handler:      NewHandler(),
		alg:          pki.DefaultAlgorithm,
		kdf:          pki.DefaultKDFParams(),
		smidAppendix: DefaultSmidAppendix,
		log:          slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	alg, err := pki.ParseAlgorithm(string(p.alg))
	if err != nil {
		return nil, wrapError(KindEmptyParameter, UnknownPacket, "signature algorithm", err)
	}
	p.alg = alg
	if err := p.kdf.Validate(); err != nil {
		return nil, wrapError(KindEmptyParameter, UnknownPacket, "kdf parameters", err)
	}
	if p.smidAppendix == "" {
		return nil, newError(KindEmptyParameter, Smid, "smid appendix must not be empty")
	}
	return p, nil
}

// Algorithm returns the configured signature scheme.
func (p *Passport) Algorithm() pki.Algorithm { return p.alg }

// SmidAppendix returns the configured Smid appendix.
func (p *Passport) SmidAppendix() string { return p.smidAppendix }

// CreateSigningPackets generates a pending AnMid, AnSmid and AnTmid, each
// self-signed, and the chain AnMaid -> Maid -> Pmid. Packets created before a
// failure stay pending.
func (p *Passport) CreateSigningPackets() error {
	for _, t := range []PacketType{AnMid, AnSmid, AnTmid} {
		ids, err := CreateChainedID(p.alg, 1, p.random)
		if err != nil {
			return p.creationFailed(t, err)
		}
		if err := p.handler.AddPending(ids[0].WithType(t)); err != nil {
			return p.creationFailed(t, err)
		}
	}

	ids, err := CreateChainedID(p.alg, 3, p.random)
	if err != nil {
		return p.creationFailed(AnMaid, err)
	}
	anmaid := ids[0].WithType(AnMaid)
	maid, err := ids[1].WithType(Maid).Resign(anmaid)
	if err != nil {
		return p.creationFailed(Maid, err)
	}
	pmid, err := ids[2].WithType(Pmid).Resign(maid)
	if err != nil {
		return p.creationFailed(Pmid, err)
	}
	for _, sp := range []*SignaturePacket{anmaid, maid, pmid} {
		if err := p.handler.AddPending(sp); err != nil {
			return p.creationFailed(sp.Type(), err)
		}
	}
	return nil
}

// ConfirmSigningPackets confirms the signing group in order, stopping at the
// first type with nothing pending. Types confirmed before that stay confirmed.
func (p *Passport) ConfirmSigningPackets() error {
	return p.confirmAll(SigningPacketTypes)
}

// SetIdentityPackets stages a new generation of identity packets: Tmid holds
// masterData, Stmid holds surrogateData (the previous session), and Mid/Smid
// point at them. All arguments are required.
func (p *Passport) SetIdentityPackets(username, pin, password string, masterData, surrogateData []byte) error {
	if username == "" || pin == "" || password == "" || len(masterData) == 0 || len(surrogateData) == 0 {
		p.log.Debug("passport: identity packets need every credential and both payloads")
		return newError(KindEmptyParameter, UnknownPacket, "username, pin, password, master and surrogate data are required")
	}

	tmid, err := NewTmidPacket(p.kdf, username, pin, false, password, masterData)
	if err != nil {
		return p.creationFailed(Tmid, err)
	}
	stmid, err := NewTmidPacket(p.kdf, username, pin, true, password, surrogateData)
	if err != nil {
		return p.creationFailed(Stmid, err)
	}
	mid, err := NewMidPacket(p.kdf, username, pin, "")
	if err != nil {
		return p.creationFailed(Mid, err)
	}
	if mid, err = mid.SetRid(tmid.Name()); err != nil {
		return p.creationFailed(Mid, err)
	}
	smid, err := NewMidPacket(p.kdf, username, pin, p.smidAppendix)
	if err != nil {
		return p.creationFailed(Smid, err)
	}
	if smid, err = smid.SetRid(stmid.Name()); err != nil {
		return p.creationFailed(Smid, err)
	}

	for _, pkt := range []Packet{mid, smid, tmid, stmid} {
		if err := p.handler.AddPending(pkt); err != nil {
			return p.creationFailed(pkt.Type(), err)
		}
	}
	return nil
}

// ConfirmIdentityPackets confirms Mid, Smid, Tmid and Stmid in that order.
func (p *Passport) ConfirmIdentityPackets() error {
	return p.confirmAll(IdentityPacketTypes)
}

// SerializeKeyring encodes every pending and confirmed packet.
func (p *Passport) SerializeKeyring() ([]byte, error) {
	b, err := p.handler.SerializeKeyring()
	if err != nil {
		p.log.Error("passport: serialise keyring", "err", err)
	}
	return b, err
}

// SerializeSigningKeyring encodes only the signing group. Session blobs
// carry this form: identity packets are derived from the credentials at
// login, and embedding the previous Tmid would nest every earlier session.
func (p *Passport) SerializeSigningKeyring() ([]byte, error) {
	b, err := p.handler.serializeKeyring(SigningPacketTypes)
	if err != nil {
		p.log.Error("passport: serialise signing keyring", "err", err)
	}
	return b, err
}

// ParseKeyring installs the packets in keyring and then confirms every
// identity type that has a pending packet.
func (p *Passport) ParseKeyring(keyring []byte) error {
	if err := p.handler.ParseKeyring(keyring); err != nil {
		p.log.Error("passport: parse keyring", "err", err)
		return err
	}
	for _, t := range IdentityPacketTypes {
		if _, ok := p.handler.Get(t, false); !ok {
			continue
		}
		if err := p.handler.Confirm(t); err != nil {
			p.log.Error("passport: confirm identity packet after keyring parse", "packet", t.String(), "err", err)
			return wrapError(KindPacketConfirmationFailed, t, "confirm after keyring parse", err)
		}
	}
	return nil
}

// Packet returns the pending or confirmed packet of type t.
func (p *Passport) Packet(t PacketType, confirmed bool) (Packet, bool) {
	pkt, ok := p.handler.Get(t, confirmed)
	if !ok {
		p.log.Debug("passport: packet not found", "packet", t.String(), "confirmed", confirmed)
	}
	return pkt, ok
}

// PacketName returns the name of the pending or confirmed packet of type t.
func (p *Passport) PacketName(t PacketType, confirmed bool) ([]byte, bool) {
	pkt, ok := p.Packet(t, confirmed)
	if !ok {
		return nil, false
	}
	return pkt.Name(), true
}

// PacketValue returns the value of the pending or confirmed packet of type t.
func (p *Passport) PacketValue(t PacketType, confirmed bool) ([]byte, bool) {
	pkt, ok := p.Packet(t, confirmed)
	if !ok {
		return nil, false
	}
	return pkt.Value(), true
}

// PacketPublicKey returns the public key of a signing packet.
func (p *Passport) PacketPublicKey(t PacketType, confirmed bool) ([]byte, bool) {
	sp, ok := p.handler.signing(t, confirmed)
	if !ok {
		return nil, false
	}
	return sp.PublicKey(), true
}

// PacketSignature returns the stored signature of a signing packet. For an
// identity packet it signs the packet's value with the private key of its
// signer (AnMid, AnSmid or AnTmid) in the same state. Missing packets,
// missing signers and signers without a private key report false.
func (p *Passport) PacketSignature(t PacketType, confirmed bool) ([]byte, bool) {
	if t.IsSigning() {
		sp, ok := p.handler.signing(t, confirmed)
		if !ok {
			p.log.Debug("passport: signing packet not found", "packet", t.String(), "confirmed", confirmed)
			return nil, false
		}
		return sp.Signature(), true
	}

	signerType, ok := signerOf(t)
	if !ok {
		return nil, false
	}
	pkt, ok := p.Packet(t, confirmed)
	if !ok {
		return nil, false
	}
	signer, ok := p.handler.signing(signerType, confirmed)
	if !ok {
		p.log.Debug("passport: signer not found", "packet", t.String(), "signer", signerType.String(), "confirmed", confirmed)
		return nil, false
	}
	sig, err := signer.Sign(pkt.Value())
	if err != nil {
		p.log.Debug("passport: sign identity packet", "packet", t.String(), "err", err)
		return nil, false
	}
	return sig, true
}

// MidName returns the name of the Mid, or of the Smid when surrogate is set,
// for the credentials. It needs no packets to be present.
func (p *Passport) MidName(username, pin string, surrogate bool) ([]byte, error) {
	if username == "" || pin == "" {
		return nil, newError(KindEmptyParameter, Mid, "username and pin are required")
	}
	return midName(username, pin, p.appendix(surrogate)), nil
}

// DecryptRid recovers the Tmid (or Stmid) name from a fetched Mid (or Smid) value.
func (p *Passport) DecryptRid(username, pin string, encryptedRid []byte, surrogate bool) ([]byte, error) {
	if username == "" || pin == "" || len(encryptedRid) == 0 {
		return nil, newError(KindEmptyParameter, Mid, "username, pin and encrypted rid are required")
	}
	mid, err := NewMidPacket(p.kdf, username, pin, p.appendix(surrogate))
	if err != nil {
		return nil, err
	}
	rid, err := mid.DecryptRid(encryptedRid)
	if err != nil {
		p.log.Debug("passport: decrypt rid", "packet", mid.Type().String(), "err", err)
		return nil, err
	}
	return rid, nil
}

// DecryptPlainData decrypts a fetched Tmid or Stmid value.
func (p *Passport) DecryptPlainData(username, pin, password string, value []byte) ([]byte, error) {
	if username == "" || pin == "" || password == "" || len(value) == 0 {
		return nil, newError(KindEmptyParameter, Tmid, "username, pin, password and value are required")
	}
	shell := &TmidPacket{typ: Tmid, username: username, pin: pin, kdf: p.kdf}
	plain, err := shell.DecryptPlainData(password, value)
	if err != nil {
		p.log.Debug("passport: decrypt plain data", "err", err)
		return nil, err
	}
	return plain, nil
}

// Clear drops every packet.
func (p *Passport) Clear() { p.handler.Clear() }

func (p *Passport) appendix(surrogate bool) string {
	if surrogate {
		return p.smidAppendix
	}
	return ""
}

func (p *Passport) confirmAll(types []PacketType) error {
	for _, t := range types {
		if err := p.handler.Confirm(t); err != nil {
			p.log.Error("passport: confirm packet", "packet", t.String(), "err", err)
			return wrapError(KindPacketConfirmationFailed, t, "confirm", err)
		}
	}
	return nil
}

func (p *Passport) creationFailed(t PacketType, cause error) error {
	p.log.Error("passport: create packet", "packet", t.String(), "err", cause)
	return wrapError(KindPacketCreationFailed, t, "create", cause)
}
