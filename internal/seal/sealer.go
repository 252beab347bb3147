package seal

import (
	"strings"

	"github.com/rendis/keyvault/pkg/schema"
)

// EnvelopePrefix marks a sealed value in the secrets table. Values
// without the prefix are stored plaintext, so a vault can carry a mix
// of sealed and plain rows while sealing is being rolled out.
const EnvelopePrefix = "enc:v1:"

// Sealer converts secret values between their plaintext and at-rest
// forms. Implementations are safe for concurrent use.
type Sealer interface {
	// Seal transforms a plaintext value into its stored form.
	Seal(plaintext []byte) (string, error)
	// Open reverses Seal. Plaintext rows pass through unchanged.
	Open(stored string) ([]byte, error)
	// Enabled reports whether values are actually protected at rest.
	Enabled() bool
}

// IsSealed reports whether a stored value carries the seal envelope.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, EnvelopePrefix)
}

// NoopSealer stores values as-is. It refuses to open sealed envelopes
// rather than hand back ciphertext.
type NoopSealer struct{}

func (NoopSealer) Enabled() bool { return false }

func (NoopSealer) Seal(plaintext []byte) (string, error) {
	return string(plaintext), nil
}

func (NoopSealer) Open(stored string) ([]byte, error) {
	if IsSealed(stored) {
		return nil, schema.NewError(schema.ErrCodeSeal,
			"value is sealed but no sealing passphrase is configured")
	}
	return []byte(stored), nil
}
