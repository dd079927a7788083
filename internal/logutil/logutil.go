// Package logutil builds the slog loggers used by the passport binaries.
// Every logger it returns redacts credential-bearing attributes.
package logutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const redacted = "[REDACTED]"

var (
	// fingerprintKey is per process so fingerprints cannot be joined across runs.
	fingerprintKey = randomKey()

	sensitiveKeyParts = []string{"password", "pin", "secret", "private", "token", "plain", "payload", "keyring"}
	fingerprintKeys   = map[string]struct{}{"username": {}, "user": {}}
)

// New returns a logger writing to w. format is "text" or "json"; level is
// any slog level name ("debug", "info", "warn", "error").
func New(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if level == "" {
		level = "info"
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("logutil: bad level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("logutil: unknown format %q", format)
	}
	return slog.New(Redact(h)), nil
}

// RedactingHandler rewrites attributes before passing records on: values of
// credential keys are replaced, usernames are fingerprinted.
type RedactingHandler struct {
	next slog.Handler
}

// Redact wraps next.
func Redact(next slog.Handler) slog.Handler {
	return &RedactingHandler{next: next}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(RedactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = RedactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(clean)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

// RedactAttr applies the redaction rules to one attribute, recursing into groups.
func RedactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(strings.TrimSpace(a.Key))
	switch {
	case isSensitive(key):
		return slog.String(a.Key, redacted)
	case isFingerprinted(key):
		return slog.String(a.Key+"_fp", Fingerprint(a.Value.Resolve().String()))
	case a.Value.Kind() == slog.KindGroup:
		group := a.Value.Group()
		clean := make([]any, len(group))
		for i, g := range group {
			clean[i] = RedactAttr(g)
		}
		return slog.Group(a.Key, clean...)
	}
	return a
}

// Fingerprint returns a short, per-process stable token for v.
func Fingerprint(v string) string {
	if v == "" {
		return ""
	}
	mac, _ := blake2b.New(8, fingerprintKey)
	mac.Write([]byte(v))
	return "fp_" + hex.EncodeToString(mac.Sum(nil))
}

func isSensitive(key string) bool {
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func isFingerprinted(key string) bool {
	_, ok := fingerprintKeys[key]
	return ok
}

func randomKey() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("logutil: no entropy: " + err.Error())
	}
	return b
}

// Hex renders a packet name for logs.
func Hex(b []byte) string {
	if len(b) > 8 {
		b = b[:8]
	}
	return hex.EncodeToString(b)
}
