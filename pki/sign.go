package pki

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Algorithm names a signature scheme.
type Algorithm string

const (
	Ed25519    Algorithm = "ed25519"
	Dilithium3 Algorithm = "dilithium3"
)

// DefaultAlgorithm is used when no algorithm is configured.
const DefaultAlgorithm = Ed25519

var (
	ErrUnsupportedAlgorithm = errors.New("pki: unsupported signature algorithm")
	ErrInvalidKey           = errors.New("pki: invalid key")
)

// KeyPair holds the raw encodings of a signing key pair.
type KeyPair struct {
	Algorithm Algorithm
	Public    []byte
	Private   []byte
}

// ParseAlgorithm validates s and returns it as an Algorithm. Empty selects the default.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "":
		return DefaultAlgorithm, nil
	case Ed25519, Dilithium3:
		return Algorithm(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

// GenerateKeyPair returns a fresh key pair for alg. A nil random source uses crypto/rand.
func GenerateKeyPair(alg Algorithm, random io.Reader) (KeyPair, error) {
	if random == nil {
		random = rand.Reader
	}
	switch alg {
	case Ed25519:
		pub, priv, err := ed25519.GenerateKey(random)
		if err != nil {
			return KeyPair{}, err
		}
		return KeyPair{Algorithm: alg, Public: pub, Private: priv}, nil
	case Dilithium3:
		pk, sk, err := mode3.GenerateKey(random)
		if err != nil {
			return KeyPair{}, err
		}
		pub, err := pk.MarshalBinary()
		if err != nil {
			return KeyPair{}, err
		}
		priv, err := sk.MarshalBinary()
		if err != nil {
			return KeyPair{}, err
		}
		return KeyPair{Algorithm: alg, Public: pub, Private: priv}, nil
	default:
		return KeyPair{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// Sign signs message with the raw private key priv.
func Sign(alg Algorithm, priv, message []byte) ([]byte, error) {
	switch alg {
	case Ed25519:
		if len(priv) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("%w: ed25519 private key must be %d bytes, got %d", ErrInvalidKey, ed25519.PrivateKeySize, len(priv))
		}
		return ed25519.Sign(ed25519.PrivateKey(priv), message), nil
	case Dilithium3:
		var sk mode3.PrivateKey
		if err := sk.UnmarshalBinary(priv); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		sig := make([]byte, mode3.SignatureSize)
		mode3.SignTo(&sk, message, sig)
		return sig, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// Verify reports whether sig is a valid signature of message under pub.
// Malformed keys and unknown algorithms verify as false.
func Verify(alg Algorithm, pub, message, sig []byte) bool {
	switch alg {
	case Ed25519:
		if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pub), message, sig)
	case Dilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return false
		}
		if len(sig) != mode3.SignatureSize {
			return false
		}
		return mode3.Verify(&pk, message, sig)
	default:
		return false
	}
}
