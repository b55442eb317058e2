// Package trust provides module signature verification. Every module
// file must carry a detached signature (module path plus ".sig")
// produced by a key listed in the host's trusted keyring; the
// verifier checks it before any module code is mapped or executed.
package trust

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// KeyAlgEd25519 is the only supported signing algorithm.
const KeyAlgEd25519 = "ed25519"

// Keyring errors.
var (
	ErrUnknownAlgorithm = errors.New("trust: unknown key algorithm")
	ErrBadPublicKey     = errors.New("trust: malformed public key")
	ErrDuplicateKeyID   = errors.New("trust: duplicate key id")
)

// KeyEntry is one trusted signer in the keyring file.
type KeyEntry struct {
	// ID names the key and appears in signature files.
	ID string `yaml:"id"`

	// Alg is the signing algorithm. Only "ed25519" is accepted.
	Alg string `yaml:"alg"`

	// PublicKey is the base64-encoded public key.
	PublicKey string `yaml:"public_key"`

	// Comment is free-form and ignored by the verifier.
	Comment string `yaml:"comment,omitempty"`
}

type keyringFile struct {
	Keys []KeyEntry `yaml:"keys"`
}

// Keyring maps key IDs to trusted public keys.
type Keyring struct {
	keys map[string]ed25519.PublicKey
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]ed25519.PublicKey)}
}

// LoadKeyring reads a YAML keyring file. A missing file yields an
// empty keyring: with verification enabled, an empty keyring trusts
// nothing.
func LoadKeyring(path string) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewKeyring(), nil
		}
		return nil, fmt.Errorf("trust: read keyring: %w", err)
	}

	var file keyringFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("trust: parse keyring: %w", err)
	}

	ring := NewKeyring()
	for _, entry := range file.Keys {
		if entry.Alg != KeyAlgEd25519 {
			return nil, fmt.Errorf("%w: %q (key %q)", ErrUnknownAlgorithm, entry.Alg, entry.ID)
		}
		raw, err := base64.StdEncoding.DecodeString(entry.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrBadPublicKey, entry.ID, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: key %q: %d bytes", ErrBadPublicKey, entry.ID, len(raw))
		}
		if err := ring.Add(entry.ID, ed25519.PublicKey(raw)); err != nil {
			return nil, err
		}
	}
	return ring, nil
}

// Add registers a trusted key.
func (k *Keyring) Add(id string, pub ed25519.PublicKey) error {
	if _, exists := k.keys[id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateKeyID, id)
	}
	k.keys[id] = pub
	return nil
}

// Lookup returns the public key for an ID.
func (k *Keyring) Lookup(id string) (ed25519.PublicKey, bool) {
	pub, ok := k.keys[id]
	return pub, ok
}

// Len returns the number of trusted keys.
func (k *Keyring) Len() int {
	return len(k.keys)
}

// Save writes the keyring to a YAML file. Used by the signing CLI.
func (k *Keyring) Save(path string) error {
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	file := keyringFile{}
	for _, id := range ids {
		file.Keys = append(file.Keys, KeyEntry{
			ID:        id,
			Alg:       KeyAlgEd25519,
			PublicKey: base64.StdEncoding.EncodeToString(k.keys[id]),
		})
	}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("trust: encode keyring: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
