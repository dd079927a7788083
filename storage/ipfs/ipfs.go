// Package ipfs stores passport blocks in a local Kubo repository by shelling
// out to the "ipfs" CLI. No daemon is required.
package ipfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/passport/cidutil"
	"xdao.co/passport/pki"
	"xdao.co/passport/storage"
	"xdao.co/passport/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "ipfs",
		Description: "Local Kubo repository via the ipfs CLI",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		Flags: []casregistry.Flag{
			{Name: "ipfs-bin", Default: "ipfs", Usage: "Path to the ipfs binary"},
			{Name: "ipfs-path", Usage: "IPFS_PATH of the repository (empty uses the environment)"},
			{Name: "ipfs-pin", Default: "true", Usage: "Pin blocks on put"},
		},
		Open: func(cfg map[string]string) (storage.CAS, func() error, error) {
			pin, err := strconv.ParseBool(cfg["ipfs-pin"])
			if err != nil {
				return nil, nil, fmt.Errorf("ipfs: bad ipfs-pin: %w", err)
			}
			opts := Options{Bin: cfg["ipfs-bin"], Pin: pin}
			if p := cfg["ipfs-path"]; p != "" {
				opts.Env = append(os.Environ(), "IPFS_PATH="+p)
			}
			return New(opts), nil, nil
		},
	})
}

// CAS is a content-addressable store backed by the Kubo CLI.
//
// Blocks are written as raw CIDv1 with a sha2-512 multihash, matching
// cidutil.CIDv1RawSHA512CID. Reads are verified against the CID; the
// repository is not trusted.
type CAS struct {
	bin string
	env []string
	pin bool
}

var _ storage.CAS = (*CAS)(nil)

type Options struct {
	// Bin is the path to the ipfs binary. Empty means "ipfs" on PATH.
	Bin string
	// Env overrides the command environment (e.g. to set IPFS_PATH).
	Env []string
	// Pin keeps written blocks from being garbage collected.
	Pin bool
}

func New(opts Options) *CAS {
	bin := opts.Bin
	if bin == "" {
		bin = "ipfs"
	}
	return &CAS{bin: bin, env: opts.Env, pin: opts.Pin}
}

func (c *CAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := cidutil.CIDv1RawSHA512CID(data)
	if err != nil {
		return cid.Undef, err
	}

	out, err := c.run(ctx, data,
		"block", "put",
		"--quiet",
		"--cid-codec=raw",
		"--mhtype=sha2-512",
		"--mhlen="+strconv.Itoa(pki.HashSize),
		"--pin="+strconv.FormatBool(c.pin),
		"/dev/stdin",
	)
	if err != nil {
		return cid.Undef, err
	}

	got, err := cid.Decode(strings.TrimSpace(string(out)))
	if err != nil {
		return cid.Undef, fmt.Errorf("ipfs: unexpected block put output: %w", err)
	}
	if !got.Equals(id) {
		return cid.Undef, storage.ErrCIDMismatch
	}
	return id, nil
}

func (c *CAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	out, err := c.run(ctx, nil, "block", "get", id.String())
	if err != nil {
		if isLikelyNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if !cidutil.Matches(id, out) {
		return nil, storage.ErrCIDMismatch
	}
	return out, nil
}

func (c *CAS) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := c.run(ctx, nil, "block", "stat", "--offline", id.String())
	return err == nil
}

func (c *CAS) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	if c.env != nil {
		cmd.Env = c.env
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if s := strings.TrimSpace(string(ee.Stderr)); s != "" {
			return nil, fmt.Errorf("ipfs: %s", s)
		}
	}
	return nil, fmt.Errorf("ipfs: %w", err)
}

func isLikelyNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found")
}
