package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeKey_SafeCharsPassThrough(t *testing.T) {
	require.Equal(t, "order-service_v2", EncodeKey("order-service_v2"))
	require.Equal(t, "ABC123", EncodeKey("ABC123"))
}

func TestEncodeKey_EscapesUnsafeChars(t *testing.T) {
	tests := []struct {
		raw     string
		encoded string
	}{
		{"a.b", "a=2Eb"},
		{"a/b", "a=2Fb"},
		{"a=b", "a=3Db"},
		{"a b", "a=20b"},
		{"host:8080", "host=3A8080"},
		{"", ""},
	}

	for _, tt := range tests {
		require.Equal(t, tt.encoded, EncodeKey(tt.raw), "raw=%q", tt.raw)
	}
}

func TestDecodeKey_RoundTrip(t *testing.T) {
	raws := []string{
		"plain",
		"with.dots.and/slashes",
		"spaces and = signs",
		"unicode-π-∂",
		"trailing.",
		"=leading-escape-char",
	}

	for _, raw := range raws {
		decoded, err := DecodeKey(EncodeKey(raw))
		require.NoError(t, err, "raw=%q", raw)
		require.Equal(t, raw, decoded)
	}
}

// Distinct raw identifiers must never map to the same store key. The lossy
// replace-with-placeholder scheme this codec replaces collided on inputs
// like "a.b" vs "a/b".
func TestEncodeKey_Injective(t *testing.T) {
	raws := []string{"a.b", "a/b", "a_b", "a=2Eb", "a=b", "a b", "a\tb"}

	seen := make(map[string]string, len(raws))
	for _, raw := range raws {
		enc := EncodeKey(raw)
		if prev, ok := seen[enc]; ok {
			t.Fatalf("collision: %q and %q both encode to %q", prev, raw, enc)
		}
		seen[enc] = raw
	}
}

func TestDecodeKey_Malformed(t *testing.T) {
	_, err := DecodeKey("abc=")
	require.Error(t, err)

	_, err = DecodeKey("abc=2")
	require.Error(t, err)

	_, err = DecodeKey("abc=zz")
	require.Error(t, err)

	_, err = DecodeKey("has space")
	require.Error(t, err)

	// Lowercase hex is not produced by the encoder and is rejected.
	_, err = DecodeKey("a=2eb")
	require.Error(t, err)
}

func TestIsValidKey(t *testing.T) {
	require.True(t, IsValidKey("election.orders.default"))
	require.True(t, IsValidKey(Join("svc", "order service", "host:1")))
	require.False(t, IsValidKey(""))
	require.False(t, IsValidKey(".leading"))
	require.False(t, IsValidKey("trailing."))
	require.False(t, IsValidKey("a..b"))
	require.False(t, IsValidKey("a b.c"))
}

func TestJoinSplit_RoundTrip(t *testing.T) {
	parts := []string{"election", "order.service", "group/7"}
	key := Join(parts...)
	require.True(t, IsValidKey(key))

	got, err := SplitKey(key)
	require.NoError(t, err)
	require.Equal(t, parts, got)

	// Dots inside raw parts never produce extra segments.
	require.Len(t, got, 3)
}
