package pin

import (
	"crypto/sha256"

	"golang.org/x/text/unicode/norm"
)

// Provider supplies the user's PIN on demand. Implementations range from a
// terminal prompt to a pre-populated value in tests; the orchestrator never
// assumes an interactive caller.
type Provider interface {
	// ProvidePin is called once per user_verification round that needs a
	// PIN. Returning an error or an empty PIN aborts the operation with
	// fido.ErrPINRequired. The authenticator's remaining PIN retry count is
	// not passed in.
	ProvidePin() (string, error)
}

// StaticProvider returns a fixed PIN; used by tests and by callers that
// already collected the PIN out of band.
type StaticProvider string

func (p StaticProvider) ProvidePin() (string, error) { return string(p), nil }

// Hash normalizes pin to NFKC (spec.md §4.3.3, matching WebAuthn's PIN
// normalization rule) and returns the left 16 bytes of its SHA-256 digest,
// the pinHashEnc plaintext before protocol-specific encryption.
func Hash(pin string) []byte {
	normalized := norm.NFKC.String(pin)
	sum := sha256.Sum256([]byte(normalized))
	return sum[:16]
}
