// Package bundle moves published passport blocks between stores as a
// deterministic TAR archive:
//
//	blocks/<cid>   raw block bytes
//	index.json     optional; block list and packet-type labels
//
// The index is informational. Import trusts only the block bytes, each of
// which must hash to the CID in its file name.
package bundle

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/passport/cidutil"
	"xdao.co/passport/storage"
)

// FormatVersion is the current index schema version.
const FormatVersion = 1

const (
	blockDir  = "blocks/"
	indexName = "index.json"
)

var epoch = time.Unix(0, 0).UTC()

var ErrNilCAS = errors.New("bundle: nil CAS")

// ExportOptions controls Export.
type ExportOptions struct {
	// Labels maps a human name (usually a packet type such as "TMID") to one
	// of the exported CIDs. Written to the index only.
	Labels map[string]cid.Cid
	// IncludeIndex adds index.json.
	IncludeIndex bool
}

type index struct {
	Version   int          `json:"version"`
	CIDCodec  string       `json:"cidCodec"`
	Multihash string       `json:"multihash"`
	Blocks    []indexBlock `json:"blocks"`
	Labels    []indexLabel `json:"labels,omitempty"`
}

type indexBlock struct {
	CID  string `json:"cid"`
	Size int    `json:"size"`
}

type indexLabel struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
}

// Export writes the blocks for ids to w. Equal inputs give byte-identical
// archives: entries are sorted by CID and headers carry no host data.
func Export(ctx context.Context, w io.Writer, cas storage.CAS, ids []cid.Cid, opts ExportOptions) (err error) {
	if cas == nil {
		return ErrNilCAS
	}
	sorted, err := sortedUnique(ids)
	if err != nil {
		return err
	}
	labels, err := sortedLabels(opts.Labels)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(w)
	defer func() {
		if cerr := tw.Close(); err == nil {
			err = cerr
		}
	}()

	idx := index{Version: FormatVersion, CIDCodec: "raw", Multihash: "sha2-512", Labels: labels}
	for _, id := range sorted {
		b, err := cas.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("bundle: %s: %w", id, err)
		}
		if !cidutil.Matches(id, b) {
			return storage.ErrCIDMismatch
		}
		if err := writeEntry(tw, blockDir+id.String(), b); err != nil {
			return err
		}
		idx.Blocks = append(idx.Blocks, indexBlock{CID: id.String(), Size: len(b)})
	}

	if !opts.IncludeIndex {
		return nil
	}
	b, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	return writeEntry(tw, indexName, append(b, '\n'))
}

// ImportOptions controls Import.
type ImportOptions struct {
	// IgnoreUnknown skips entries that are neither blocks nor the index.
	// By default they fail the import.
	IgnoreUnknown bool
}

// Import copies every block in r into cas and returns their CIDs in archive
// order.
func Import(ctx context.Context, r io.Reader, cas storage.CAS, opts ImportOptions) ([]cid.Cid, error) {
	if cas == nil {
		return nil, ErrNilCAS
	}
	tr := tar.NewReader(r)
	seen := map[string]struct{}{}
	var out []cid.Cid

	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		name, ok := cleanPath(h.Name)
		if !ok {
			return out, fmt.Errorf("bundle: invalid entry path %q", h.Name)
		}

		switch {
		case name == indexName && h.Typeflag == tar.TypeReg:
			continue
		case strings.HasPrefix(name, blockDir) && h.Typeflag == tar.TypeReg:
		default:
			if opts.IgnoreUnknown {
				continue
			}
			return out, fmt.Errorf("bundle: unexpected entry %s", name)
		}

		id, err := cid.Decode(strings.TrimPrefix(name, blockDir))
		if err != nil || !id.Defined() {
			return out, storage.ErrInvalidCID
		}
		if _, dup := seen[id.KeyString()]; dup {
			return out, fmt.Errorf("bundle: duplicate block %s", id)
		}
		seen[id.KeyString()] = struct{}{}

		payload, err := io.ReadAll(tr)
		if err != nil {
			return out, err
		}
		if !cidutil.Matches(id, payload) {
			return out, storage.ErrCIDMismatch
		}
		got, err := cas.Put(ctx, payload)
		if err != nil {
			return out, err
		}
		if !got.Equals(id) {
			return out, storage.ErrCIDMismatch
		}
		out = append(out, id)
	}
}

func sortedUnique(ids []cid.Cid) ([]cid.Cid, error) {
	byString := make(map[string]cid.Cid, len(ids))
	for _, id := range ids {
		if !id.Defined() {
			return nil, storage.ErrInvalidCID
		}
		byString[id.String()] = id
	}
	out := make([]cid.Cid, 0, len(byString))
	for _, id := range byString {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func sortedLabels(labels map[string]cid.Cid) ([]indexLabel, error) {
	out := make([]indexLabel, 0, len(labels))
	for name, id := range labels {
		if name == "" {
			return nil, errors.New("bundle: empty label")
		}
		if !id.Defined() {
			return nil, storage.ErrInvalidCID
		}
		out = append(out, indexLabel{Name: name, CID: id.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// writeEntry writes one regular file. PAX is required: a sha2-512 CID is
// longer than the 100-byte USTAR name field.
func writeEntry(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}

// cleanPath normalises an entry name and rejects anything that could escape
// the archive root.
func cleanPath(name string) (string, bool) {
	name = strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"), "./")
	if name == "" || strings.HasPrefix(name, "/") {
		return "", false
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return "", false
		}
	}
	return path.Clean(name), true
}
