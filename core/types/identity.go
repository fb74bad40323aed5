package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

// IdentityLength is the size in bytes of an account identity.
const IdentityLength = 32

// Identity is the 32-byte public identifier of an account. Its canonical text
// form is base58, matching the way wallet public keys are usually rendered.
type Identity [IdentityLength]byte

// IdentityFromBytes copies b into an Identity, rejecting any other length.
func IdentityFromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != IdentityLength {
		return id, fmt.Errorf("identity must be %d bytes (got %d)", IdentityLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ParseIdentity decodes an identity from base58 or from 0x-prefixed hex.
func ParseIdentity(raw string) (Identity, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Identity{}, fmt.Errorf("identity required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		decoded, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return Identity{}, fmt.Errorf("decode identity hex: %w", err)
		}
		return IdentityFromBytes(decoded)
	}
	decoded := base58.Decode(trimmed)
	if len(decoded) == 0 {
		return Identity{}, fmt.Errorf("identity %q is not valid base58", trimmed)
	}
	return IdentityFromBytes(decoded)
}

// String renders the identity as base58.
func (id Identity) String() string { return base58.Encode(id[:]) }

// Bytes returns a copy of the raw identity bytes.
func (id Identity) Bytes() []byte { return append([]byte(nil), id[:]...) }

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool { return id == Identity{} }

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
