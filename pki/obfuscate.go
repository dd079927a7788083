package pki

import (
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of a key returned by DeriveKey.
const KeySize = 32

const (
	hkdfInfoSeal  = "passport/obfuscate/seal/v1"
	hkdfInfoNonce = "passport/obfuscate/nonce/v1"
)

var (
	ErrKeySize    = errors.New("pki: obfuscation key must be 32 bytes")
	ErrCiphertext = errors.New("pki: ciphertext is malformed or was sealed under another key")
)

// KDFParams are the Argon2id cost parameters used by DeriveKey.
type KDFParams struct {
	Time     uint32 `yaml:"time" json:"time"`
	MemoryKB uint32 `yaml:"memory_kb" json:"memory_kb"`
	Threads  uint8  `yaml:"threads" json:"threads"`
}

// DefaultKDFParams matches the interactive Argon2id profile used for seed envelopes.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 2, MemoryKB: 64 * 1024, Threads: 1}
}

// Validate reports whether p can be used with Argon2id.
func (p KDFParams) Validate() error {
	if p.Time == 0 {
		return errors.New("pki: kdf time must be positive")
	}
	if p.MemoryKB < 8*uint32(p.Threads) || p.MemoryKB == 0 {
		return errors.New("pki: kdf memory too small")
	}
	if p.Threads == 0 {
		return errors.New("pki: kdf threads must be positive")
	}
	return nil
}

// DeriveKey stretches secret into an obfuscation key bound to salt.
func DeriveKey(p KDFParams, secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, p.Time, p.MemoryKB, p.Threads, KeySize)
}

// Obfuscate seals plain under key. The transform is deterministic: the
// nonce is a keyed BLAKE2b digest of plain, so equal inputs give equal output.
func Obfuscate(key, plain []byte) ([]byte, error) {
	sealKey, nonceKey, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	defer zero(sealKey)
	defer zero(nonceKey)

	nonce, err := syntheticNonce(nonceKey, plain)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(sealKey)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plain)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, nil), nil
}

// Deobfuscate is the inverse of Obfuscate.
func Deobfuscate(key, sealed []byte) ([]byte, error) {
	sealKey, nonceKey, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	defer zero(sealKey)
	defer zero(nonceKey)

	aead, err := chacha20poly1305.NewX(sealKey)
	if err != nil {
		return nil, err
	}
	if len(sealed) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, ErrCiphertext
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrCiphertext
	}
	want, err := syntheticNonce(nonceKey, plain)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(want, nonce) != 1 {
		return nil, ErrCiphertext
	}
	return plain, nil
}

func splitKey(key []byte) (sealKey, nonceKey []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, ErrKeySize
	}
	sealKey = make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha512.New, key, nil, []byte(hkdfInfoSeal)), sealKey); err != nil {
		return nil, nil, err
	}
	nonceKey = make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha512.New, key, nil, []byte(hkdfInfoNonce)), nonceKey); err != nil {
		return nil, nil, err
	}
	return sealKey, nonceKey, nil
}

func syntheticNonce(nonceKey, plain []byte) ([]byte, error) {
	mac, err := blake2b.New(chacha20poly1305.NonceSizeX, nonceKey)
	if err != nil {
		return nil, err
	}
	_, _ = mac.Write(plain)
	return mac.Sum(nil), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
