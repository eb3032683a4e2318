package wire

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// IdentitySize is the size of an identity in its raw wire form.
const IdentitySize = 16

// ErrInvalidIdentity indicates a payload that does not hold a node identity.
var ErrInvalidIdentity = errors.New("invalid identity")

// EncodeIdentity returns the raw 16-byte form of id.
func EncodeIdentity(id uuid.UUID) []byte {
	out := make([]byte, IdentitySize)
	copy(out, id[:])
	return out
}

// DecodeIdentity parses an identity payload. Raw 16-byte payloads are the
// canonical form; 32-character hex and 36-character UUID text are accepted
// from peers that send text.
func DecodeIdentity(payload []byte) (uuid.UUID, error) {
	var (
		id  uuid.UUID
		err error
	)
	switch len(payload) {
	case IdentitySize:
		id, err = uuid.FromBytes(payload)
	case 32, 36:
		id, err = uuid.ParseBytes(payload)
	default:
		return uuid.Nil, fmt.Errorf("%w: unexpected length %d", ErrInvalidIdentity, len(payload))
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: nil uuid", ErrInvalidIdentity)
	}
	return id, nil
}
