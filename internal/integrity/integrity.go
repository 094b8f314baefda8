package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// MismatchError reports a firmware payload whose computed digest differs from
// the digest declared in the release metadata. A run receiving it must stop
// before the flashing step.
type MismatchError struct {
	// Expected is the declared digest, normalized to lowercase hex.
	Expected string
	// Computed is the digest of the bytes actually received.
	Computed string
	// Size is the length of the checked payload in bytes.
	Size int
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("firmware digest mismatch over %d bytes: declared %s, computed %s",
		e.Size, e.Expected, e.Computed)
}

// Digest returns the SHA-256 digest of payload as a lowercase hex string.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)

	return hex.EncodeToString(sum[:])
}

// Verify computes the SHA-256 digest of payload and compares it to declared,
// ignoring hex case. The computed digest is returned on both outcomes so
// callers can log it; on mismatch the error is a *MismatchError.
//
// Verify never retries: a payload that fails here has to be downloaded again,
// and that decision belongs to the caller.
func Verify(payload []byte, declared string) (string, error) {
	computed := Digest(payload)
	expected := strings.ToLower(declared)

	if computed != expected {
		return computed, &MismatchError{
			Expected: expected,
			Computed: computed,
			Size:     len(payload),
		}
	}

	return computed, nil
}
