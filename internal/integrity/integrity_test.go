package integrity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// emptyPayloadDigest is the SHA-256 digest of a zero-byte input.
const emptyPayloadDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// TestDigest_KnownVectors checks Digest against published SHA-256 test vectors.
func TestDigest_KnownVectors(t *testing.T) {
	t.Parallel()

	require.Equal(t, emptyPayloadDigest, Digest(nil))
	require.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		Digest([]byte("abc")))
}

// TestVerify_MatchIsCaseInsensitive verifies a correct digest passes in any
// hex case and the computed digest is returned alongside.
func TestVerify_MatchIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	payload := []byte("robot firmware image payload")
	declared := Digest(payload)

	// Lowercase declared digest.
	computed, err := Verify(payload, declared)
	require.NoError(t, err)
	require.Equal(t, declared, computed)

	// Uppercase declared digest.
	computed, err = Verify(payload, strings.ToUpper(declared))
	require.NoError(t, err)
	require.Equal(t, declared, computed)
}

// TestVerify_CorruptedPayloadsFail verifies that empty, truncated, and
// bit-flipped payloads all fail against the digest of the original bytes.
func TestVerify_CorruptedPayloadsFail(t *testing.T) {
	t.Parallel()

	payload := []byte("robot firmware image payload")
	declared := Digest(payload)

	var mismatch *MismatchError

	// Empty payload.
	computed, err := Verify(nil, declared)
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, emptyPayloadDigest, computed)

	// Truncated payload.
	_, err = Verify(payload[:len(payload)-1], declared)
	require.ErrorAs(t, err, &mismatch)

	// Single flipped bit.
	flipped := append([]byte(nil), payload...)
	flipped[0] ^= 0x01

	computed, err = Verify(flipped, declared)
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, declared, mismatch.Expected)
	require.Equal(t, computed, mismatch.Computed)
	require.Equal(t, len(flipped), mismatch.Size)
}

// TestVerify_EmptyImageDigestAgainstRealPayload covers a feed that declares
// the digest of a zero-byte image while serving a non-empty binary.
func TestVerify_EmptyImageDigestAgainstRealPayload(t *testing.T) {
	t.Parallel()

	payload := []byte{0xE9, 0x01, 0x02, 0x03}

	computed, err := Verify(payload, strings.ToUpper(emptyPayloadDigest))

	var mismatch *MismatchError

	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, emptyPayloadDigest, mismatch.Expected)
	require.Equal(t, computed, mismatch.Computed)
	require.Equal(t, len(payload), mismatch.Size)
}
