package passport

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind (via IsKind or errors.Is against the Err*
// sentinels) rather than matching error strings.
type Kind string

const (
	KindEmptyParameter           Kind = "EmptyParameter"
	KindEmptyCredential          Kind = "EmptyCredential"
	KindPacketCreationFailed     Kind = "PacketCreationFailed"
	KindPacketConfirmationFailed Kind = "PacketConfirmationFailed"
	KindNothingPending           Kind = "NothingPending"
	KindDuplicateOrInvalid       Kind = "DuplicateOrInvalid"
	KindNotFound                 Kind = "NotFound"
	KindKeyring                  Kind = "Keyring"
	KindCrypto                   Kind = "Crypto"
)

// Error is the package's structured error type.
//
// Type names the packet the failure concerns, when there is one.
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	Type    PacketType
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "passport: " + e.Message
	if e.Type != UnknownPacket {
		msg += " (" + e.Type.String() + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches any *Error of the same Kind, so the Err* sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrEmptyParameter           = &Error{Kind: KindEmptyParameter, Message: "empty parameter"}
	ErrEmptyCredential          = &Error{Kind: KindEmptyCredential, Message: "empty credential"}
	ErrPacketCreationFailed     = &Error{Kind: KindPacketCreationFailed, Message: "packet creation failed"}
	ErrPacketConfirmationFailed = &Error{Kind: KindPacketConfirmationFailed, Message: "packet confirmation failed"}
	ErrNothingPending           = &Error{Kind: KindNothingPending, Message: "nothing pending"}
	ErrDuplicateOrInvalid       = &Error{Kind: KindDuplicateOrInvalid, Message: "invalid packet"}
	ErrNotFound                 = &Error{Kind: KindNotFound, Message: "packet not found"}
	ErrKeyring                  = &Error{Kind: KindKeyring, Message: "invalid keyring"}
	ErrCrypto                   = &Error{Kind: KindCrypto, Message: "cryptographic failure"}
)

func newError(kind Kind, t PacketType, msg string) error {
	return &Error{Kind: kind, Type: t, Message: msg}
}

func wrapError(kind Kind, t PacketType, msg string, cause error) error {
	return &Error{Kind: kind, Type: t, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
