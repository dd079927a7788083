// Package session stores a user's passport and application payload in a
// content-addressed store and a locator directory, and gets them back from
// username, PIN and password alone.
//
// Layout of one user:
//
//	locator[Mid name]  -> Mid value (encrypted Tmid name) + AnMid signature
//	locator[Smid name] -> Smid value (encrypted Stmid name) + AnSmid signature
//	CAS[Tmid name]     -> current session, sealed
//	CAS[Stmid name]    -> previous session, sealed
//	CAS[signing names] -> public key ++ signature of each signing packet
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ipfs/go-cid"

	"xdao.co/passport/cidutil"
	"xdao.co/passport/internal/logutil"
	"xdao.co/passport/locator"
	"xdao.co/passport/passport"
	"xdao.co/passport/pki"
	"xdao.co/passport/storage"
)

var (
	ErrNotLoggedIn     = errors.New("session: not logged in")
	ErrLoggedIn        = errors.New("session: already logged in")
	ErrUserExists      = errors.New("session: an account already uses these credentials")
	ErrBadCredentials  = errors.New("session: no session found for these credentials")
	ErrBadSignature    = errors.New("session: locator record signature does not verify")
	ErrEmptyCredential = errors.New("session: username, pin and password are required")
)

// Directory is the mutable name -> record store for Mid and Smid.
// *locator.Store implements it.
type Directory interface {
	Put(ctx context.Context, rec locator.Record) error
	Get(ctx context.Context, name []byte) (locator.Record, error)
	Delete(ctx context.Context, name []byte) error
}

// Credentials identify and unlock one account.
type Credentials struct {
	Username string
	PIN      string
	Password string
}

func (c Credentials) validate() error {
	if c.Username == "" || c.PIN == "" || c.Password == "" {
		return ErrEmptyCredential
	}
	return nil
}

// Manager hosts one user's passport. All methods are serialised by a
// single mutex.
type Manager struct {
	cas    storage.CAS
	dir    Directory
	ppOpts []passport.Option
	log    *slog.Logger

	mu      sync.Mutex
	pp      *passport.Passport
	creds   Credentials
	current []byte // plaintext of the confirmed Tmid
	payload []byte
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger; the default discards.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithPassportOptions sets the options every new passport is created with.
func WithPassportOptions(opts ...passport.Option) Option {
	return func(m *Manager) { m.ppOpts = append(m.ppOpts, opts...) }
}

// New returns a logged-out manager.
func New(cas storage.CAS, dir Directory, opts ...Option) (*Manager, error) {
	if cas == nil || dir == nil {
		return nil, errors.New("session: CAS and directory are required")
	}
	m := &Manager{cas: cas, dir: dir, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) newPassport() (*passport.Passport, error) {
	return passport.New(append(m.ppOpts, passport.WithLogger(m.log))...)
}

// Register creates a new account: fresh signing packets, published, and a
// first session holding payload. The manager is logged in afterwards.
func (m *Manager) Register(ctx context.Context, creds Credentials, payload []byte) error {
	if err := creds.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pp != nil {
		return ErrLoggedIn
	}

	pp, err := m.newPassport()
	if err != nil {
		return err
	}
	if err := m.ensureUnused(ctx, pp, creds); err != nil {
		return err
	}
	if err := pp.CreateSigningPackets(); err != nil {
		return err
	}
	if err := pp.ConfirmSigningPackets(); err != nil {
		return err
	}
	for _, t := range passport.SigningPacketTypes {
		if err := m.publishSigning(ctx, pp, t); err != nil {
			return err
		}
	}

	if err := m.save(ctx, pp, creds, nil, payload); err != nil {
		return err
	}
	m.pp, m.creds = pp, creds
	m.log.InfoContext(ctx, "session: registered", "username", creds.Username)
	return nil
}

// Login finds the user's current session, falling back to the previous one
// when the current one cannot be fetched, decrypted, parsed or verified.
// recovered reports the fallback. When both fail the current session's
// error is returned.
func (m *Manager) Login(ctx context.Context, creds Credentials) (recovered bool, err error) {
	if err := creds.validate(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pp != nil {
		return false, ErrLoggedIn
	}

	lookup, err := m.newPassport()
	if err != nil {
		return false, err
	}
	master, masterErr := m.fetch(ctx, lookup, creds, false)
	backup, backupErr := m.fetch(ctx, lookup, creds, true)
	if masterErr != nil {
		masterErr = fmt.Errorf("%w: %w", ErrBadCredentials, masterErr)
	}
	if backupErr != nil {
		m.log.DebugContext(ctx, "session: backup session unreadable", "err", backupErr)
	}

	if masterErr == nil {
		surrogate := backup.plain
		if backupErr != nil {
			surrogate = master.plain
		}
		if masterErr = m.restore(ctx, creds, master, surrogate); masterErr == nil {
			return false, nil
		}
	}
	if backupErr == nil {
		m.log.WarnContext(ctx, "session: current session unusable, trying backup", "err", masterErr)
		restoreErr := m.restore(ctx, creds, backup, backup.plain)
		if restoreErr == nil {
			return true, nil
		}
		m.log.WarnContext(ctx, "session: backup session unusable", "err", restoreErr)
	}
	m.log.InfoContext(ctx, "session: login failed", "username", creds.Username, "err", masterErr)
	return false, masterErr
}

// restore rebuilds a passport from one fetched session and, on success,
// installs it as the logged-in state.
func (m *Manager) restore(ctx context.Context, creds Credentials, f fetched, surrogate []byte) error {
	pp, err := m.newPassport()
	if err != nil {
		return err
	}
	env, err := parseEnvelope(f.plain)
	if err != nil {
		return err
	}
	if err := pp.SetIdentityPackets(creds.Username, creds.PIN, creds.Password, f.plain, surrogate); err != nil {
		return err
	}
	if err := pp.ParseKeyring(env.keyring); err != nil {
		return err
	}
	if err := verifyRecord(pp, f.record, f.signer); err != nil {
		return err
	}
	m.pp, m.creds, m.current, m.payload = pp, creds, f.plain, env.payload
	m.log.InfoContext(ctx, "session: logged in", "username", creds.Username, "via", f.signer.String())
	return nil
}

// Save stores payload as the new current session. The session it replaces
// becomes the backup. On error the previous session stays current.
func (m *Manager) Save(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pp == nil {
		return ErrNotLoggedIn
	}
	return m.save(ctx, m.pp, m.creds, m.current, payload)
}

// ChangeCredentials re-keys the account under creds. The old locator
// records are removed once the new ones are in place.
func (m *Manager) ChangeCredentials(ctx context.Context, creds Credentials) error {
	if err := creds.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pp == nil {
		return ErrNotLoggedIn
	}

	oldMid, _ := m.pp.PacketName(passport.Mid, true)
	oldSmid, _ := m.pp.PacketName(passport.Smid, true)
	newMid, err := m.pp.MidName(creds.Username, creds.PIN, false)
	if err != nil {
		return err
	}
	if !bytes.Equal(oldMid, newMid) {
		if err := m.ensureUnused(ctx, m.pp, creds); err != nil {
			return err
		}
	}

	if err := m.save(ctx, m.pp, creds, m.current, m.payload); err != nil {
		return err
	}
	m.creds = creds
	if !bytes.Equal(oldMid, newMid) {
		for _, name := range [][]byte{oldMid, oldSmid} {
			if err := m.dir.Delete(ctx, name); err != nil {
				m.log.WarnContext(ctx, "session: could not remove old locator record", "err", err)
			}
		}
	}
	m.log.InfoContext(ctx, "session: credentials changed", "username", creds.Username)
	return nil
}

// Logout forgets the passport and payload.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pp != nil {
		m.pp.Clear()
	}
	m.pp, m.creds, m.current, m.payload = nil, Credentials{}, nil, nil
}

// CAS returns the store blocks are published to.
func (m *Manager) CAS() storage.CAS { return m.cas }

// Payload returns a copy of the current application payload.
func (m *Manager) Payload() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pp == nil {
		return nil, ErrNotLoggedIn
	}
	return append([]byte(nil), m.payload...), nil
}

// PacketInfo is a read-only view of one confirmed packet.
type PacketInfo struct {
	Type  passport.PacketType
	Name  []byte
	Value []byte
}

// Packets lists the confirmed packets of the logged-in passport.
func (m *Manager) Packets() ([]PacketInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pp == nil {
		return nil, ErrNotLoggedIn
	}
	var out []PacketInfo
	for _, t := range allTypes() {
		pkt, ok := m.pp.Packet(t, true)
		if !ok {
			continue
		}
		out = append(out, PacketInfo{Type: t, Name: pkt.Name(), Value: pkt.Value()})
	}
	return out, nil
}

// Blocks returns the CID of every CAS block the confirmed passport
// references, keyed by packet type.
func (m *Manager) Blocks() (map[passport.PacketType]cid.Cid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pp == nil {
		return nil, ErrNotLoggedIn
	}
	types := append(append([]passport.PacketType(nil), passport.SigningPacketTypes...), passport.Tmid, passport.Stmid)
	out := make(map[passport.PacketType]cid.Cid, len(types))
	for _, t := range types {
		name, ok := m.pp.PacketName(t, true)
		if !ok {
			continue
		}
		id, err := cidutil.CIDFromName(name)
		if err != nil {
			return nil, err
		}
		out[t] = id
	}
	return out, nil
}

// SortedCIDs flattens a Blocks result in CID order.
func SortedCIDs(blocks map[passport.PacketType]cid.Cid) []cid.Cid {
	out := make([]cid.Cid, 0, len(blocks))
	for _, id := range blocks {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// save stages a new identity generation in pp, publishes it, and confirms
// it. previous is the plaintext of the confirmed Tmid; nil on first save.
func (m *Manager) save(ctx context.Context, pp *passport.Passport, creds Credentials, previous, payload []byte) error {
	keyring, err := pp.SerializeSigningKeyring()
	if err != nil {
		return err
	}
	master := envelope{keyring: keyring, payload: payload}.marshal()
	if previous == nil {
		previous = master
	}
	if err := pp.SetIdentityPackets(creds.Username, creds.PIN, creds.Password, master, previous); err != nil {
		return err
	}

	for _, t := range []passport.PacketType{passport.Tmid, passport.Stmid} {
		name, _ := pp.PacketName(t, false)
		value, _ := pp.PacketValue(t, false)
		if _, err := storage.PutNamed(ctx, m.cas, name, value); err != nil {
			m.log.ErrorContext(ctx, "session: publish failed", "packet", t.String(), "name", logutil.Hex(name), "err", err)
			return fmt.Errorf("session: publish %s: %w", t, err)
		}
	}
	// Smid first: if the Mid write is lost, Mid still names the old Tmid and
	// the new Stmid holds a copy of that same session.
	for _, t := range []passport.PacketType{passport.Smid, passport.Mid} {
		rec, err := pendingRecord(pp, t)
		if err != nil {
			return err
		}
		if err := m.dir.Put(ctx, rec); err != nil {
			m.log.ErrorContext(ctx, "session: locator update failed", "packet", t.String(), "name", logutil.Hex(rec.Name), "err", err)
			return fmt.Errorf("session: publish %s: %w", t, err)
		}
	}

	if err := pp.ConfirmIdentityPackets(); err != nil {
		return err
	}
	m.current = master
	m.payload = append([]byte(nil), payload...)
	return nil
}

func (m *Manager) publishSigning(ctx context.Context, pp *passport.Passport, t passport.PacketType) error {
	pkt, ok := pp.Packet(t, true)
	sp, isSigning := pkt.(*passport.SignaturePacket)
	if !ok || !isSigning {
		return fmt.Errorf("session: no confirmed %s", t)
	}
	block := append(sp.PublicKey(), sp.Signature()...)
	if _, err := storage.PutNamed(ctx, m.cas, sp.Name(), block); err != nil {
		return fmt.Errorf("session: publish %s: %w", t, err)
	}
	return nil
}

func (m *Manager) ensureUnused(ctx context.Context, pp *passport.Passport, creds Credentials) error {
	name, err := pp.MidName(creds.Username, creds.PIN, false)
	if err != nil {
		return err
	}
	_, err = m.dir.Get(ctx, name)
	switch {
	case err == nil:
		return ErrUserExists
	case errors.Is(err, locator.ErrNotFound):
		return nil
	default:
		return err
	}
}

type fetched struct {
	record locator.Record
	signer passport.PacketType
	plain  []byte
}

// fetch follows Mid (or Smid) -> Tmid (or Stmid) and decrypts the session.
func (m *Manager) fetch(ctx context.Context, pp *passport.Passport, creds Credentials, surrogate bool) (fetched, error) {
	signer := passport.AnMid
	if surrogate {
		signer = passport.AnSmid
	}
	name, err := pp.MidName(creds.Username, creds.PIN, surrogate)
	if err != nil {
		return fetched{}, err
	}
	rec, err := m.dir.Get(ctx, name)
	if err != nil {
		return fetched{}, err
	}
	rid, err := pp.DecryptRid(creds.Username, creds.PIN, rec.Value, surrogate)
	if err != nil {
		return fetched{}, err
	}
	sealed, err := storage.GetNamed(ctx, m.cas, rid)
	if err != nil {
		return fetched{}, err
	}
	plain, err := pp.DecryptPlainData(creds.Username, creds.PIN, creds.Password, sealed)
	if err != nil {
		return fetched{}, err
	}
	if _, err := parseEnvelope(plain); err != nil {
		return fetched{}, err
	}
	return fetched{record: rec, signer: signer, plain: plain}, nil
}

// pendingRecord builds the locator record for a pending Mid or Smid, signed
// with the confirmed signer (signing packets are never pending during a save).
func pendingRecord(pp *passport.Passport, t passport.PacketType) (locator.Record, error) {
	signerType := passport.AnMid
	if t == passport.Smid {
		signerType = passport.AnSmid
	}
	name, _ := pp.PacketName(t, false)
	value, _ := pp.PacketValue(t, false)
	pkt, ok := pp.Packet(signerType, true)
	signer, isSigning := pkt.(*passport.SignaturePacket)
	if !ok || !isSigning {
		return locator.Record{}, fmt.Errorf("session: no confirmed %s to sign %s", signerType, t)
	}
	sig, err := signer.Sign(value)
	if err != nil {
		return locator.Record{}, err
	}
	return locator.Record{Name: name, Value: value, Signature: sig}, nil
}

func verifyRecord(pp *passport.Passport, rec locator.Record, signerType passport.PacketType) error {
	pkt, ok := pp.Packet(signerType, true)
	signer, isSigning := pkt.(*passport.SignaturePacket)
	if !ok || !isSigning {
		return fmt.Errorf("%w: keyring has no %s", ErrBadSignature, signerType)
	}
	if !pki.Verify(signer.Algorithm(), signer.PublicKey(), rec.Value, rec.Signature) {
		return ErrBadSignature
	}
	return nil
}

func allTypes() []passport.PacketType {
	return append(append([]passport.PacketType(nil), passport.SigningPacketTypes...), passport.IdentityPacketTypes...)
}
