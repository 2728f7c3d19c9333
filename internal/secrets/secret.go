// Package secrets resolves ${scheme:key} references through a chain of
// pluggable providers and wraps the results so plaintext never leaks into
// logs or error messages.
package secrets

import "encoding/json"

// Secret is an opaque wrapper around a resolved value. Formatting a Secret
// in any way yields a placeholder; only Reveal returns the plaintext, and it
// should be called exactly where the value leaves the process (e.g. building
// adapter connection args).
type Secret struct {
	value string
}

// NewSecret wraps a plaintext value.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Reveal returns the plaintext. Call sites are the audit boundary.
func (s Secret) Reveal() string {
	return s.value
}

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool {
	return s.value == ""
}

// String implements fmt.Stringer and hides the value.
func (s Secret) String() string {
	return "[redacted]"
}

// GoString hides the value from %#v as well.
func (s Secret) GoString() string {
	return "secrets.Secret{[redacted]}"
}

// MarshalJSON hides the value from JSON serialization.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal("[redacted]")
}
