package session

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// The plaintext sealed into a Tmid:
//
//	message Envelope {
//	  bytes keyring = 1;  // signing keyring only
//	  bytes payload = 2;  // application data
//	}
const (
	fieldKeyring protowire.Number = 1
	fieldPayload protowire.Number = 2
)

var errEnvelope = errors.New("session: malformed session envelope")

type envelope struct {
	keyring []byte
	payload []byte
}

func (e envelope) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKeyring, protowire.BytesType)
	b = protowire.AppendBytes(b, e.keyring)
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, e.payload)
	return b
}

func parseEnvelope(b []byte) (envelope, error) {
	var e envelope
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return envelope{}, errEnvelope
		}
		b = b[n:]
		if typ == protowire.BytesType && (num == fieldKeyring || num == fieldPayload) {
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if num == fieldKeyring {
				e.keyring = append([]byte(nil), v...)
			} else {
				e.payload = append([]byte(nil), v...)
			}
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return envelope{}, errEnvelope
		}
		b = b[n:]
	}
	if len(e.keyring) == 0 {
		return envelope{}, errEnvelope
	}
	return e, nil
}
