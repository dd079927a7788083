package session

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"

	"xdao.co/passport/locator"
	"xdao.co/passport/passport"
	"xdao.co/passport/pki"
	"xdao.co/passport/storage"
	"xdao.co/passport/storage/memcas"
)

var testKDF = pki.KDFParams{Time: 1, MemoryKB: 8 * 1024, Threads: 1}

var alice = Credentials{Username: "alice", PIN: "1234", Password: "correct horse"}

type fixture struct {
	cas *hidingCAS
	dir *locator.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir, err := locator.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = dir.Close() })
	return fixture{cas: &hidingCAS{CAS: memcas.New(), hidden: map[string]bool{}}, dir: dir}
}

func (f fixture) manager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(f.cas, f.dir, WithPassportOptions(passport.WithKDF(testKDF)))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// hidingCAS reports selected blocks as missing.
type hidingCAS struct {
	*memcas.CAS
	hidden map[string]bool
}

func (h *hidingCAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if h.hidden[id.KeyString()] {
		return nil, storage.ErrNotFound
	}
	return h.CAS.Get(ctx, id)
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	m := f.manager(t)
	if err := m.Register(ctx, alice, []byte("v1")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	blocks, err := m.Blocks()
	if err != nil {
		t.Fatal(err)
	}
	// Six signing packets plus Tmid and Stmid, which share a block on the
	// first save.
	if len(blocks) != 8 || len(SortedCIDs(blocks)) != 8 {
		t.Fatalf("Blocks = %d entries", len(blocks))
	}
	if !blocks[passport.Tmid].Equals(blocks[passport.Stmid]) {
		t.Fatalf("first save should store the same session as Tmid and Stmid")
	}
	for typ, id := range blocks {
		if !f.cas.Has(ctx, id) {
			t.Fatalf("%s block %s not published", typ, id)
		}
	}
	m.Logout()
	if _, err := m.Payload(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Payload after logout: %v", err)
	}

	other := f.manager(t)
	recovered, err := other.Login(ctx, alice)
	if err != nil || recovered {
		t.Fatalf("Login = %v, %v", recovered, err)
	}
	got, err := other.Payload()
	if err != nil || string(got) != "v1" {
		t.Fatalf("Payload = %q, %v", got, err)
	}
	again, err := other.Blocks()
	if err != nil {
		t.Fatal(err)
	}
	for typ, id := range blocks {
		if !again[typ].Equals(id) {
			t.Fatalf("%s block differs after login", typ)
		}
	}
}

func TestRegisterRejectsExistingUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.manager(t).Register(ctx, alice, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	err := f.manager(t).Register(ctx, Credentials{Username: "alice", PIN: "1234", Password: "other"}, []byte("x"))
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("err = %v, want ErrUserExists", err)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if err := f.manager(t).Register(ctx, alice, []byte("v1")); err != nil {
		t.Fatal(err)
	}

	cases := []Credentials{
		{Username: "alice", PIN: "1234", Password: "wrong"},
		{Username: "alice", PIN: "9999", Password: alice.Password},
		{Username: "bob", PIN: "1234", Password: alice.Password},
	}
	for _, c := range cases {
		if _, err := f.manager(t).Login(ctx, c); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("Login(%+v) = %v, want ErrBadCredentials", c, err)
		}
	}
	if _, err := f.manager(t).Login(ctx, Credentials{Username: "alice"}); !errors.Is(err, ErrEmptyCredential) {
		t.Fatalf("empty pin: %v", err)
	}
}

func TestSaveRotatesSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager(t)
	if err := m.Save(ctx, []byte("x")); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Save before login: %v", err)
	}
	if err := m.Register(ctx, alice, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	before, _ := m.Blocks()
	if err := m.Save(ctx, []byte("v2")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	after, _ := m.Blocks()
	if after[passport.Tmid].Equals(before[passport.Tmid]) {
		t.Fatalf("Tmid unchanged after save")
	}
	if !after[passport.Stmid].Equals(before[passport.Tmid]) {
		t.Fatalf("Stmid should hold the previous Tmid")
	}
	for _, typ := range passport.SigningPacketTypes {
		if !after[typ].Equals(before[typ]) {
			t.Fatalf("%s changed across saves", typ)
		}
	}

	other := f.manager(t)
	if _, err := other.Login(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if got, _ := other.Payload(); string(got) != "v2" {
		t.Fatalf("Payload = %q, want v2", got)
	}
}

func TestLoginFallsBackToBackupSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager(t)
	if err := m.Register(ctx, alice, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(ctx, []byte("v2")); err != nil {
		t.Fatal(err)
	}
	blocks, _ := m.Blocks()
	f.cas.hidden[blocks[passport.Tmid].KeyString()] = true

	other := f.manager(t)
	recovered, err := other.Login(ctx, alice)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !recovered {
		t.Fatalf("expected recovered login")
	}
	if got, _ := other.Payload(); string(got) != "v1" {
		t.Fatalf("Payload = %q, want backup v1", got)
	}
	if err := other.Save(ctx, []byte("v3")); err != nil {
		t.Fatalf("Save after recovery: %v", err)
	}
}

func forgeSignature(t *testing.T, dir *locator.Store, name []byte) {
	t.Helper()
	ctx := context.Background()
	rec, err := dir.Get(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	rec.Signature = bytes.Repeat([]byte{1}, len(rec.Signature))
	if err := dir.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}
}

func TestLoginRejectsForgedLocatorRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager(t)
	if err := m.Register(ctx, alice, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	midName, _ := m.pp.PacketName(passport.Mid, true)
	smidName, _ := m.pp.PacketName(passport.Smid, true)

	forgeSignature(t, f.dir, midName)
	recovered, err := f.manager(t).Login(ctx, alice)
	if err != nil || !recovered {
		t.Fatalf("forged Mid: Login = %v, %v; want recovery from Smid", recovered, err)
	}

	forgeSignature(t, f.dir, smidName)
	if _, err := f.manager(t).Login(ctx, alice); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestLoginFallsBackWhenCurrentKeyringIsCorrupt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager(t)
	if err := m.Register(ctx, alice, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(ctx, []byte("v2")); err != nil {
		t.Fatal(err)
	}

	// A current session that decrypts but whose keyring does not parse.
	bad := envelope{keyring: []byte{0xff, 0xff}, payload: []byte("forged")}.marshal()
	pp, err := passport.New(passport.WithKDF(testKDF))
	if err != nil {
		t.Fatal(err)
	}
	if err := pp.SetIdentityPackets(alice.Username, alice.PIN, alice.Password, bad, bad); err != nil {
		t.Fatal(err)
	}
	tmidName, _ := pp.PacketName(passport.Tmid, false)
	tmidValue, _ := pp.PacketValue(passport.Tmid, false)
	if _, err := storage.PutNamed(ctx, f.cas, tmidName, tmidValue); err != nil {
		t.Fatal(err)
	}
	midName, _ := pp.PacketName(passport.Mid, false)
	midValue, _ := pp.PacketValue(passport.Mid, false)
	if err := f.dir.Put(ctx, locator.Record{Name: midName, Value: midValue, Signature: []byte("sig")}); err != nil {
		t.Fatal(err)
	}

	other := f.manager(t)
	recovered, err := other.Login(ctx, alice)
	if err != nil || !recovered {
		t.Fatalf("Login = %v, %v; want recovery", recovered, err)
	}
	if got, _ := other.Payload(); string(got) != "v1" {
		t.Fatalf("Payload = %q, want backup v1", got)
	}
}

var errInjected = errors.New("injected put failure")

// failingDir fails Put for one record name.
type failingDir struct {
	*locator.Store
	failName []byte
}

func (d *failingDir) Put(ctx context.Context, rec locator.Record) error {
	if d.failName != nil && bytes.Equal(rec.Name, d.failName) {
		return errInjected
	}
	return d.Store.Put(ctx, rec)
}

func TestFailedSaveKeepsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dir := &failingDir{Store: f.dir}
	m, err := New(f.cas, dir, WithPassportOptions(passport.WithKDF(testKDF)))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Register(ctx, alice, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(ctx, []byte("v2")); err != nil {
		t.Fatal(err)
	}
	midName, _ := m.pp.PacketName(passport.Mid, true)
	smidName, _ := m.pp.PacketName(passport.Smid, true)

	loginPayload := func(t *testing.T, wantRecovered bool) string {
		t.Helper()
		other := f.manager(t)
		recovered, err := other.Login(ctx, alice)
		if err != nil || recovered != wantRecovered {
			t.Fatalf("Login = %v, %v; want recovered=%v", recovered, err, wantRecovered)
		}
		got, _ := other.Payload()
		return string(got)
	}

	for _, tc := range []struct {
		name string
		fail []byte
	}{
		{"smid write fails", smidName},
		{"mid write fails", midName},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir.failName = tc.fail
			defer func() { dir.failName = nil }()
			if err := m.Save(ctx, []byte("v3")); !errors.Is(err, errInjected) {
				t.Fatalf("Save err = %v, want injected failure", err)
			}
			if got, _ := m.Payload(); string(got) != "v2" {
				t.Fatalf("manager payload = %q, want v2", got)
			}
			if got := loginPayload(t, false); got != "v2" {
				t.Fatalf("current session = %q, want v2", got)
			}

			// Without Mid, Smid must lead to v2 once it has moved, and to
			// v1 when it has not.
			rec, err := f.dir.Get(ctx, midName)
			if err != nil {
				t.Fatal(err)
			}
			if err := f.dir.Delete(ctx, midName); err != nil {
				t.Fatal(err)
			}
			want := "v1"
			if bytes.Equal(tc.fail, midName) {
				want = "v2"
			}
			if got := loginPayload(t, true); got != want {
				t.Fatalf("backup session = %q, want %s", got, want)
			}
			if err := f.dir.Put(ctx, rec); err != nil {
				t.Fatal(err)
			}
		})
	}

	if err := m.Save(ctx, []byte("v4")); err != nil {
		t.Fatalf("Save after failures: %v", err)
	}
	if got := loginPayload(t, false); got != "v4" {
		t.Fatalf("current session = %q, want v4", got)
	}
}

func TestChangeCredentials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager(t)
	if err := m.Register(ctx, alice, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	oldMid, _ := m.pp.PacketName(passport.Mid, true)

	renamed := Credentials{Username: "alice2", PIN: "4321", Password: "battery staple"}
	if err := m.ChangeCredentials(ctx, renamed); err != nil {
		t.Fatalf("ChangeCredentials: %v", err)
	}
	if _, err := f.dir.Get(ctx, oldMid); !errors.Is(err, locator.ErrNotFound) {
		t.Fatalf("old Mid record still present: %v", err)
	}
	if _, err := f.manager(t).Login(ctx, alice); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("old credentials: %v", err)
	}
	other := f.manager(t)
	if _, err := other.Login(ctx, renamed); err != nil {
		t.Fatalf("Login with new credentials: %v", err)
	}
	if got, _ := other.Payload(); string(got) != "v1" {
		t.Fatalf("Payload = %q", got)
	}

	// Password only: same Mid name, old password stops working.
	newPassword := Credentials{Username: renamed.Username, PIN: renamed.PIN, Password: "third"}
	if err := other.ChangeCredentials(ctx, newPassword); err != nil {
		t.Fatal(err)
	}
	if _, err := f.manager(t).Login(ctx, renamed); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("old password: %v", err)
	}
	if _, err := f.manager(t).Login(ctx, newPassword); err != nil {
		t.Fatalf("new password: %v", err)
	}
}

func TestChangeCredentialsCollision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bob := Credentials{Username: "bob", PIN: "0000", Password: "pw"}
	if err := f.manager(t).Register(ctx, bob, []byte("b")); err != nil {
		t.Fatal(err)
	}
	m := f.manager(t)
	if err := m.Register(ctx, alice, []byte("a")); err != nil {
		t.Fatal(err)
	}
	err := m.ChangeCredentials(ctx, Credentials{Username: "bob", PIN: "0000", Password: "mine"})
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("err = %v, want ErrUserExists", err)
	}
}

func TestPackets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager(t)
	if _, err := m.Packets(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Packets before login: %v", err)
	}
	if err := m.Register(ctx, alice, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	pkts, err := m.Packets()
	if err != nil {
		t.Fatal(err)
	}
	if len(pkts) != len(passport.SigningPacketTypes)+len(passport.IdentityPacketTypes) {
		t.Fatalf("Packets = %d", len(pkts))
	}
	if pkts[0].Type != passport.AnMid || pkts[len(pkts)-1].Type != passport.Stmid {
		t.Fatalf("unexpected order: first %s last %s", pkts[0].Type, pkts[len(pkts)-1].Type)
	}
}

func TestEnvelope(t *testing.T) {
	e := envelope{keyring: []byte("k"), payload: []byte("p")}
	got, err := parseEnvelope(e.marshal())
	if err != nil || string(got.keyring) != "k" || string(got.payload) != "p" {
		t.Fatalf("parseEnvelope = %+v, %v", got, err)
	}
	if _, err := parseEnvelope(envelope{payload: []byte("p")}.marshal()); err == nil {
		t.Fatalf("expected error for envelope without keyring")
	}
	if _, err := parseEnvelope([]byte{0xff}); err == nil {
		t.Fatalf("expected error for garbage")
	}
}
