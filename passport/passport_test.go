package passport

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"xdao.co/passport/pki"
)

var testKDF = pki.KDFParams{Time: 1, MemoryKB: 8 * 1024, Threads: 1}

func newTestPassport(t *testing.T, opts ...Option) *Passport {
	t.Helper()
	p, err := New(append([]Option{WithKDF(testKDF)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func mustSigning(t *testing.T, p *Passport, typ PacketType, confirmed bool) *SignaturePacket {
	t.Helper()
	sp, ok := p.handler.signing(typ, confirmed)
	if !ok {
		t.Fatalf("%s (confirmed=%v) missing", typ, confirmed)
	}
	return sp
}

func mustName(t *testing.T, p *Passport, typ PacketType, confirmed bool) []byte {
	t.Helper()
	n, ok := p.PacketName(typ, confirmed)
	if !ok || len(n) == 0 {
		t.Fatalf("PacketName(%s, %v) missing", typ, confirmed)
	}
	return n
}

func mustValue(t *testing.T, p *Passport, typ PacketType, confirmed bool) []byte {
	t.Helper()
	v, ok := p.PacketValue(typ, confirmed)
	if !ok {
		t.Fatalf("PacketValue(%s, %v) missing", typ, confirmed)
	}
	return v
}

func fullPassport(t *testing.T, username, pin, password string, master, surrogate []byte) *Passport {
	t.Helper()
	p := newTestPassport(t)
	if err := p.CreateSigningPackets(); err != nil {
		t.Fatalf("CreateSigningPackets: %v", err)
	}
	if err := p.ConfirmSigningPackets(); err != nil {
		t.Fatalf("ConfirmSigningPackets: %v", err)
	}
	if err := p.SetIdentityPackets(username, pin, password, master, surrogate); err != nil {
		t.Fatalf("SetIdentityPackets: %v", err)
	}
	if err := p.ConfirmIdentityPackets(); err != nil {
		t.Fatalf("ConfirmIdentityPackets: %v", err)
	}
	return p
}

func TestNewRejectsBadOptions(t *testing.T) {
	cases := map[string][]Option{
		"algorithm": {WithAlgorithm("rsa")},
		"kdf":       {WithKDF(pki.KDFParams{})},
		"appendix":  {WithKDF(testKDF), WithSmidAppendix("")},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(opts...); !errors.Is(err, ErrEmptyParameter) {
				t.Fatalf("err = %v, want EmptyParameter", err)
			}
		})
	}
}

func TestSigningPackets(t *testing.T) {
	for _, alg := range []pki.Algorithm{pki.Ed25519, pki.Dilithium3} {
		t.Run(string(alg), func(t *testing.T) {
			p := newTestPassport(t, WithAlgorithm(alg))
			if err := p.CreateSigningPackets(); err != nil {
				t.Fatalf("CreateSigningPackets: %v", err)
			}

			check := func(confirmed bool) {
				for _, typ := range []PacketType{AnMid, AnSmid, AnTmid, AnMaid} {
					sp := mustSigning(t, p, typ, confirmed)
					if !bytes.Equal(sp.Name(), pki.Hash(sp.Value(), sp.Signature())) {
						t.Fatalf("%s name is not Hash(value ++ signature)", typ)
					}
					if !pki.Verify(alg, sp.PublicKey(), sp.Value(), sp.Signature()) {
						t.Fatalf("%s is not self-signed", typ)
					}
				}
				anmaid := mustSigning(t, p, AnMaid, confirmed)
				maid := mustSigning(t, p, Maid, confirmed)
				pmid := mustSigning(t, p, Pmid, confirmed)
				if !pki.Verify(alg, anmaid.PublicKey(), maid.Value(), maid.Signature()) {
					t.Fatalf("MAID is not signed by ANMAID")
				}
				if !pki.Verify(alg, maid.PublicKey(), pmid.Value(), pmid.Signature()) {
					t.Fatalf("PMID is not signed by MAID")
				}
				if maid.VerifiedBy(maid.PublicKey()) {
					t.Fatalf("MAID should not be self-signed")
				}
			}

			check(false)
			for _, typ := range SigningPacketTypes {
				if _, ok := p.PacketName(typ, true); ok {
					t.Fatalf("%s confirmed before ConfirmSigningPackets", typ)
				}
			}
			pending := mustName(t, p, AnMid, false)

			if err := p.ConfirmSigningPackets(); err != nil {
				t.Fatalf("ConfirmSigningPackets: %v", err)
			}
			check(true)
			for _, typ := range SigningPacketTypes {
				mustName(t, p, typ, true)
				if _, ok := p.PacketName(typ, false); ok {
					t.Fatalf("%s still pending after confirmation", typ)
				}
			}
			if !bytes.Equal(pending, mustName(t, p, AnMid, true)) {
				t.Fatalf("confirmation changed ANMID name")
			}
		})
	}
}

func TestConfirmSigningPacketsNothingPending(t *testing.T) {
	p := newTestPassport(t)
	err := p.ConfirmSigningPackets()
	if !errors.Is(err, ErrPacketConfirmationFailed) || !errors.Is(err, ErrNothingPending) {
		t.Fatalf("err = %v", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Type != AnMid {
		t.Fatalf("failure should name ANMID, got %v", err)
	}
}

func TestConfirmDoesNotRollBack(t *testing.T) {
	p := newTestPassport(t)
	if err := p.CreateSigningPackets(); err != nil {
		t.Fatal(err)
	}
	// Drop MAID so confirmation stops half way.
	delete(p.handler.pending, Maid)

	err := p.ConfirmSigningPackets()
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindPacketConfirmationFailed || pe.Type != Maid {
		t.Fatalf("err = %v, want confirmation failure on MAID", err)
	}
	for _, typ := range []PacketType{AnMid, AnSmid, AnTmid, AnMaid} {
		mustName(t, p, typ, true)
	}
	if _, ok := p.PacketName(Pmid, true); ok {
		t.Fatalf("PMID confirmed past the failure")
	}
	mustName(t, p, Pmid, false)
}

func TestSetIdentityPacketsEmptyParameters(t *testing.T) {
	p := newTestPassport(t)
	m, s := []byte("m"), []byte("s")
	cases := []struct {
		name              string
		user, pin, pw     string
		master, surrogate []byte
	}{
		{"username", "", "1", "p", m, s},
		{"pin", "u", "", "p", m, s},
		{"password", "u", "1", "", m, s},
		{"master", "u", "1", "p", nil, s},
		{"surrogate", "u", "1", "p", m, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.SetIdentityPackets(tc.user, tc.pin, tc.pw, tc.master, tc.surrogate)
			if !errors.Is(err, ErrEmptyParameter) {
				t.Fatalf("err = %v, want EmptyParameter", err)
			}
			for _, typ := range IdentityPacketTypes {
				if _, ok := p.Packet(typ, false); ok {
					t.Fatalf("%s pending after failed call", typ)
				}
			}
		})
	}
}

func TestIdentityPackets(t *testing.T) {
	const username, pin, password = "user1", "1234", "password1"
	master, surrogate := []byte("master data"), []byte("surrogate data")
	p := fullPassport(t, username, pin, password, master, surrogate)

	if got := mustName(t, p, Mid, true); !bytes.Equal(got, pki.Hash([]byte(username+pin))) {
		t.Fatalf("MID name mismatch")
	}
	if got := mustName(t, p, Smid, true); !bytes.Equal(got, pki.Hash([]byte(username+pin+DefaultSmidAppendix))) {
		t.Fatalf("SMID name mismatch")
	}
	for _, typ := range []PacketType{Tmid, Stmid} {
		if !bytes.Equal(mustName(t, p, typ, true), pki.Hash(mustValue(t, p, typ, true))) {
			t.Fatalf("%s name is not Hash(value)", typ)
		}
	}

	for _, tc := range []struct {
		mid, tmid PacketType
		appendix  string
		plain     []byte
	}{
		{Mid, Tmid, "", master},
		{Smid, Stmid, DefaultSmidAppendix, surrogate},
	} {
		rid, err := pki.Deobfuscate(midKey(testKDF, username, pin, tc.appendix), mustValue(t, p, tc.mid, true))
		if err != nil {
			t.Fatalf("deobfuscate %s: %v", tc.mid, err)
		}
		if !bytes.Equal(rid, mustName(t, p, tc.tmid, true)) {
			t.Fatalf("%s rid does not point at %s", tc.mid, tc.tmid)
		}
		viaAPI, err := p.DecryptRid(username, pin, mustValue(t, p, tc.mid, true), tc.mid == Smid)
		if err != nil || !bytes.Equal(viaAPI, rid) {
			t.Fatalf("DecryptRid(%s) = %x, %v", tc.mid, viaAPI, err)
		}
		plain, err := p.DecryptPlainData(username, pin, password, mustValue(t, p, tc.tmid, true))
		if err != nil || !bytes.Equal(plain, tc.plain) {
			t.Fatalf("DecryptPlainData(%s) = %q, %v", tc.tmid, plain, err)
		}
	}

	if _, err := p.DecryptPlainData(username, pin, "wrong", mustValue(t, p, Tmid, true)); !errors.Is(err, ErrCrypto) {
		t.Fatalf("wrong password: err = %v, want Crypto", err)
	}
	if _, err := p.DecryptRid(username, "9999", mustValue(t, p, Mid, true), false); !errors.Is(err, ErrCrypto) {
		t.Fatalf("wrong pin: err = %v, want Crypto", err)
	}

	name, err := p.MidName(username, pin, false)
	if err != nil || !bytes.Equal(name, mustName(t, p, Mid, true)) {
		t.Fatalf("MidName = %x, %v", name, err)
	}
	name, err = p.MidName(username, pin, true)
	if err != nil || !bytes.Equal(name, mustName(t, p, Smid, true)) {
		t.Fatalf("MidName(surrogate) = %x, %v", name, err)
	}
	if _, err := p.MidName("", pin, false); !errors.Is(err, ErrEmptyParameter) {
		t.Fatalf("MidName empty username: %v", err)
	}
}

func TestIdentitySignatures(t *testing.T) {
	p := fullPassport(t, "user1", "1234", "password1", []byte("m"), []byte("s"))
	for _, typ := range IdentityPacketTypes {
		signerType, _ := signerOf(typ)
		signer := mustSigning(t, p, signerType, true)
		sig, ok := p.PacketSignature(typ, true)
		if !ok {
			t.Fatalf("PacketSignature(%s) missing", typ)
		}
		if !pki.Verify(signer.Algorithm(), signer.PublicKey(), mustValue(t, p, typ, true), sig) {
			t.Fatalf("%s signature does not verify under %s", typ, signerType)
		}
	}
	if _, ok := p.PacketSignature(Mid, false); ok {
		t.Fatalf("pending MID signature should be absent")
	}
	if _, ok := p.PacketSignature(Mpid, true); ok {
		t.Fatalf("MPID signature should be absent")
	}

	q := newTestPassport(t)
	if err := q.SetIdentityPackets("u", "1", "p", []byte("m"), []byte("s")); err != nil {
		t.Fatal(err)
	}
	if _, ok := q.PacketSignature(Mid, false); ok {
		t.Fatalf("signature without a signer should be absent")
	}
}

func TestSaveSession(t *testing.T) {
	const username, pin, password = "user1", "1234", "password1"
	first := []byte(strings.Repeat("1", 100))
	p := fullPassport(t, username, pin, password, first, []byte("initial"))

	oldMid := mustName(t, p, Mid, true)
	oldSmid := mustName(t, p, Smid, true)
	oldTmid := mustName(t, p, Tmid, true)
	oldTmidValue := mustValue(t, p, Tmid, true)

	second := []byte(strings.Repeat("2", 100))
	if err := p.SetIdentityPackets(username, pin, password, second, first); err != nil {
		t.Fatalf("SetIdentityPackets: %v", err)
	}
	if bytes.Equal(mustName(t, p, Tmid, false), oldTmid) {
		t.Fatalf("pending TMID name equals confirmed")
	}
	if !bytes.Equal(mustValue(t, p, Stmid, false), oldTmidValue) {
		t.Fatalf("pending STMID value != confirmed TMID value")
	}
	if !bytes.Equal(mustName(t, p, Stmid, false), oldTmid) {
		t.Fatalf("pending STMID name != confirmed TMID name")
	}
	if !bytes.Equal(mustName(t, p, Mid, false), oldMid) || !bytes.Equal(mustName(t, p, Smid, false), oldSmid) {
		t.Fatalf("MID/SMID names changed with unchanged credentials")
	}

	if err := p.ConfirmIdentityPackets(); err != nil {
		t.Fatalf("ConfirmIdentityPackets: %v", err)
	}
	if !bytes.Equal(mustValue(t, p, Stmid, true), oldTmidValue) {
		t.Fatalf("confirmed STMID is not the previous TMID")
	}
	for _, typ := range IdentityPacketTypes {
		if _, ok := p.Packet(typ, false); ok {
			t.Fatalf("%s still pending", typ)
		}
	}
}

func TestChangeUsernamePin(t *testing.T) {
	const password = "password1"
	master := []byte("session")
	p := fullPassport(t, "user1", "1234", password, master, []byte("old"))
	oldMid := mustName(t, p, Mid, true)
	oldSmid := mustName(t, p, Smid, true)
	oldTmidValue := mustValue(t, p, Tmid, true)

	if err := p.SetIdentityPackets("user2", "5678", password, []byte("next"), master); err != nil {
		t.Fatalf("SetIdentityPackets: %v", err)
	}
	if bytes.Equal(mustName(t, p, Mid, false), oldMid) || bytes.Equal(mustName(t, p, Smid, false), oldSmid) {
		t.Fatalf("MID/SMID names did not change with credentials")
	}
	// The backup is re-encrypted under the new credentials.
	if bytes.Equal(mustValue(t, p, Stmid, false), oldTmidValue) {
		t.Fatalf("STMID value not re-encrypted")
	}
	if err := p.ConfirmIdentityPackets(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(mustName(t, p, Mid, true), pki.Hash([]byte("user2"+"5678"))) {
		t.Fatalf("new MID name mismatch")
	}
	plain, err := p.DecryptPlainData("user2", "5678", password, mustValue(t, p, Stmid, true))
	if err != nil || !bytes.Equal(plain, master) {
		t.Fatalf("STMID under new credentials = %q, %v", plain, err)
	}
}

func TestChangePassword(t *testing.T) {
	master := []byte("session")
	p := fullPassport(t, "user1", "1234", "password1", master, []byte("old"))
	oldMid := mustName(t, p, Mid, true)
	oldTmid := mustName(t, p, Tmid, true)

	if err := p.SetIdentityPackets("user1", "1234", "password2", master, master); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(mustName(t, p, Mid, false), oldMid) {
		t.Fatalf("MID name changed with password")
	}
	if bytes.Equal(mustName(t, p, Tmid, false), oldTmid) {
		t.Fatalf("TMID name unchanged after password change")
	}
	if err := p.ConfirmIdentityPackets(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.DecryptPlainData("user1", "1234", "password1", mustValue(t, p, Tmid, true)); err == nil {
		t.Fatalf("old password still decrypts TMID")
	}
	plain, err := p.DecryptPlainData("user1", "1234", "password2", mustValue(t, p, Tmid, true))
	if err != nil || !bytes.Equal(plain, master) {
		t.Fatalf("DecryptPlainData = %q, %v", plain, err)
	}
}

func TestKeyringRoundTrip(t *testing.T) {
	p := fullPassport(t, "user1", "1234", "password1", []byte("m"), []byte("s"))
	keyring, err := p.SerializeKeyring()
	if err != nil {
		t.Fatalf("SerializeKeyring: %v", err)
	}

	q := newTestPassport(t)
	if err := q.ParseKeyring(keyring); err != nil {
		t.Fatalf("ParseKeyring: %v", err)
	}
	types := append(append([]PacketType(nil), SigningPacketTypes...), IdentityPacketTypes...)
	for _, typ := range types {
		if !bytes.Equal(mustName(t, p, typ, true), mustName(t, q, typ, true)) {
			t.Fatalf("%s name differs after round trip", typ)
		}
		if !bytes.Equal(mustValue(t, p, typ, true), mustValue(t, q, typ, true)) {
			t.Fatalf("%s value differs after round trip", typ)
		}
		a, _ := p.PacketSignature(typ, true)
		b, ok := q.PacketSignature(typ, true)
		if !ok || !bytes.Equal(a, b) {
			t.Fatalf("%s signature differs after round trip", typ)
		}
	}

	again, err := q.SerializeKeyring()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(keyring, again) {
		t.Fatalf("keyring bytes are not stable across a round trip")
	}
}

func TestParseKeyringConfirmsPendingIdentity(t *testing.T) {
	p := fullPassport(t, "user1", "1234", "password1", []byte("m"), []byte("s"))
	keyring, err := p.SerializeKeyring()
	if err != nil {
		t.Fatal(err)
	}

	q := newTestPassport(t)
	if err := q.SetIdentityPackets("user1", "1234", "password1", []byte("m"), []byte("s")); err != nil {
		t.Fatal(err)
	}
	pendingTmid := mustName(t, q, Tmid, false)
	if err := q.ParseKeyring(keyring); err != nil {
		t.Fatalf("ParseKeyring: %v", err)
	}
	for _, typ := range IdentityPacketTypes {
		if _, ok := q.Packet(typ, false); ok {
			t.Fatalf("%s still pending after parse", typ)
		}
	}
	// The pending packet set before parsing wins over the keyring copy, and
	// keeps its credentials.
	pkt, _ := q.Packet(Tmid, true)
	tm, ok := pkt.(*TmidPacket)
	if !ok || !bytes.Equal(tm.Name(), pendingTmid) || tm.PlainData() == nil {
		t.Fatalf("confirmed TMID is not the pre-parse pending packet")
	}
}

func TestAlice7Scenario(t *testing.T) {
	master := bytes.Repeat([]byte("M"), 1000)
	surrogate := bytes.Repeat([]byte("S"), 1000)
	p := fullPassport(t, "alice7", "1111", "p@ss1234", master, surrogate)

	anmid := mustSigning(t, p, AnMid, true)
	want, err := pki.Sign(anmid.Algorithm(), anmid.PrivateKey(), mustValue(t, p, Mid, true))
	if err != nil {
		t.Fatal(err)
	}
	got, ok := p.PacketSignature(Mid, true)
	if !ok || !bytes.Equal(got, want) {
		t.Fatalf("PacketSignature(MID) != sign(MID value, ANMID private key)")
	}
}

func TestClear(t *testing.T) {
	p := fullPassport(t, "u", "1", "p", []byte("m"), []byte("s"))
	p.Clear()
	for _, typ := range append(append([]PacketType(nil), SigningPacketTypes...), IdentityPacketTypes...) {
		if _, ok := p.Packet(typ, true); ok {
			t.Fatalf("%s survived Clear", typ)
		}
	}
}

func TestPacketPublicKey(t *testing.T) {
	p := fullPassport(t, "user1", "1234", "password1", []byte("m"), []byte("s"))
	for _, typ := range SigningPacketTypes {
		pub, ok := p.PacketPublicKey(typ, true)
		if !ok || !bytes.Equal(pub, mustValue(t, p, typ, true)) {
			t.Fatalf("PacketPublicKey(%s) = %x, %v", typ, pub, ok)
		}
		if _, ok := p.PacketPublicKey(typ, false); ok {
			t.Fatalf("PacketPublicKey(%s, pending) found a packet", typ)
		}
	}
	if _, ok := p.PacketPublicKey(Mid, true); ok {
		t.Fatalf("PacketPublicKey(MID) should report false")
	}
}
