package kv

import (
	"fmt"
	"strings"

	"github.com/soloist-io/soloist/types"
)

// Key codec.
//
// The transport restricts key characters (NATS KV accepts only
// [-/_=.a-zA-Z0-9], with '.' as the subject separator). Raw identifiers
// such as service names, instance IDs, and group IDs may contain anything,
// so they are mapped into the safe alphabet before touching the store.
//
// The encoding is injective: every byte outside [A-Za-z0-9_-] is written
// as '=' followed by two uppercase hex digits, and '=' itself is always
// escaped. Distinct raw identifiers therefore never collide in the store,
// and DecodeKey recovers the original exactly. The price is that EncodeKey
// is not idempotent — encoding an already-encoded segment escapes its '='
// markers again — so segments are encoded exactly once, at the boundary
// where raw identifiers enter the store.

const escapeChar = '='

// safeKeyByte reports whether b may appear verbatim in an encoded segment.
// '.' is excluded: it is reserved as the segment separator and only Join
// may introduce it. '/' and '=' are excluded so encoded segments stay
// unambiguous.
func safeKeyByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '-' || b == '_':
		return true
	default:
		return false
	}
}

// EncodeKey maps a raw identifier to a transport-safe key segment.
//
// The mapping is deterministic and injective. Empty input encodes to the
// empty string; callers reject empty identifiers before encoding.
func EncodeKey(raw string) string {
	var sb strings.Builder
	sb.Grow(len(raw))

	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if safeKeyByte(b) {
			sb.WriteByte(b)
			continue
		}
		fmt.Fprintf(&sb, "%c%02X", escapeChar, b)
	}

	return sb.String()
}

// DecodeKey reverses EncodeKey.
//
// Returns types.ErrInvalidKey if the segment contains characters outside
// the safe alphabet or a malformed escape sequence.
func DecodeKey(encoded string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(encoded))

	for i := 0; i < len(encoded); i++ {
		b := encoded[i]
		if b == escapeChar {
			if i+2 >= len(encoded) {
				return "", fmt.Errorf("%w: truncated escape in %q", types.ErrInvalidKey, encoded)
			}
			hi, ok1 := unhex(encoded[i+1])
			lo, ok2 := unhex(encoded[i+2])
			if !ok1 || !ok2 {
				return "", fmt.Errorf("%w: bad escape %q in %q", types.ErrInvalidKey, encoded[i:i+3], encoded)
			}
			sb.WriteByte(hi<<4 | lo)
			i += 2

			continue
		}
		if !safeKeyByte(b) {
			return "", fmt.Errorf("%w: character %q in %q", types.ErrInvalidKey, b, encoded)
		}
		sb.WriteByte(b)
	}

	return sb.String(), nil
}

// IsValidKey reports whether key is a well-formed store key: one or more
// non-empty dot-separated segments, each consisting of safe characters and
// complete escape sequences.
func IsValidKey(key string) bool {
	if key == "" {
		return false
	}
	for _, segment := range strings.Split(key, ".") {
		if segment == "" {
			return false
		}
		if _, err := DecodeKey(segment); err != nil {
			return false
		}
	}

	return true
}

// Join encodes each raw part and joins the segments with '.'. This is the
// only place the separator is introduced, so raw identifiers containing
// dots stay confined to their own segment.
func Join(parts ...string) string {
	encoded := make([]string, len(parts))
	for i, part := range parts {
		encoded[i] = EncodeKey(part)
	}

	return strings.Join(encoded, ".")
}

// SplitKey decodes a dotted key produced by Join back into its raw parts.
func SplitKey(key string) ([]string, error) {
	segments := strings.Split(key, ".")
	parts := make([]string, len(segments))
	for i, segment := range segments {
		raw, err := DecodeKey(segment)
		if err != nil {
			return nil, err
		}
		parts[i] = raw
	}

	return parts, nil
}

func unhex(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}
