package trust

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/alal76/inkpad/internal/log"
)

// SigSuffix is appended to a module path to form its signature path.
const SigSuffix = ".sig"

// ErrSignatureInvalid is returned for any verification failure:
// missing or malformed signature file, unknown signing key, or a
// digest that does not match the module bytes.
var ErrSignatureInvalid = errors.New("module signature invalid")

// Verifier checks module signatures against a trusted keyring.
//
// A signature file holds one line: the signing key ID, a space, and
// the base64 Ed25519 signature over the BLAKE2b-256 digest of the
// module file. Digesting the whole file means any byte-level tamper,
// in any architecture slice, fails verification.
type Verifier struct {
	keyring *Keyring
	enabled bool
	logger  *log.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithKeyring sets the trusted keyring.
func WithKeyring(k *Keyring) VerifierOption {
	return func(v *Verifier) {
		v.keyring = k
	}
}

// WithVerificationDisabled turns verification off. Development
// opt-out only; every bypass is logged.
func WithVerificationDisabled() VerifierOption {
	return func(v *Verifier) {
		v.enabled = false
	}
}

// WithLogger sets the verifier's logger.
func WithLogger(l *log.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = l
	}
}

// NewVerifier creates a verifier. Verification is enabled by default.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		keyring: NewKeyring(),
		enabled: true,
		logger:  log.Discard,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = log.Discard
	}
	return v
}

// Enabled reports whether verification is enabled.
func (v *Verifier) Enabled() bool {
	return v.enabled
}

// SetEnabled toggles verification.
func (v *Verifier) SetEnabled(enabled bool) {
	v.enabled = enabled
}

// Verify checks the detached signature of the module file at path.
// It returns nil on success or an error wrapping ErrSignatureInvalid.
// When verification is disabled it always returns nil and logs the
// bypass.
func (v *Verifier) Verify(path string) error {
	if !v.enabled {
		v.logger.Warn("signature verification disabled, skipping %s", path)
		return nil
	}

	keyID, sig, err := readSigFile(path + SigSuffix)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSignatureInvalid, path, err)
	}

	pub, ok := v.keyring.Lookup(keyID)
	if !ok {
		return fmt.Errorf("%w: %s: signing key %q is not trusted", ErrSignatureInvalid, path, keyID)
	}

	digest, err := fileDigest(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSignatureInvalid, path, err)
	}

	if !ed25519.Verify(pub, digest, sig) {
		return fmt.Errorf("%w: %s: digest mismatch", ErrSignatureInvalid, path)
	}
	return nil
}

// Sign writes the detached signature for the module file at path.
// Used by the development CLI and by test fixtures.
func Sign(path, keyID string, priv ed25519.PrivateKey) error {
	digest, err := fileDigest(path)
	if err != nil {
		return fmt.Errorf("trust: sign %s: %w", path, err)
	}
	sig := ed25519.Sign(priv, digest)
	line := keyID + " " + base64.StdEncoding.EncodeToString(sig) + "\n"
	return os.WriteFile(path+SigSuffix, []byte(line), 0o644)
}

// readSigFile parses "keyID base64sig" from a signature file.
func readSigFile(path string) (keyID string, sig []byte, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("signature file: %v", err)
	}

	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return "", nil, fmt.Errorf("signature file: want \"keyID signature\", got %d fields", len(fields))
	}

	sig, err = base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return "", nil, fmt.Errorf("signature encoding: %v", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return "", nil, fmt.Errorf("signature length %d", len(sig))
	}
	return fields[0], sig, nil
}

// fileDigest computes the BLAKE2b-256 digest of the whole file.
func fileDigest(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(data)
	return sum[:], nil
}
