package extapi

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Maximum byte lengths for metadata fields. These mirror the host's
// bounded storage and are enforced by Clamp at the module boundary.
const (
	MaxNameLen        = 64
	MaxVersionLen     = 32
	MaxAuthorLen      = 64
	MaxDescriptionLen = 256
	MaxHomepageLen    = 128
)

// Metadata describes one module. A module fills it in from GetInfo;
// the host clamps it and validates it before accepting the module.
type Metadata struct {
	// APIVersion is the extension API version the module was built
	// against. Must equal the host's APIVersion.
	APIVersion int

	// Name uniquely identifies the module. Lowercase alphanumeric
	// with hyphens.
	Name string

	// Version is the module's own version string.
	Version string

	// Author is the module author or organization.
	Author string

	// Description is a short human-readable description.
	Description string

	// Homepage is the module's origin URL.
	Homepage string
}

// Metadata validation errors.
var (
	ErrMissingName = errors.New("metadata: name is required")
	ErrInvalidName = errors.New("metadata: name must be lowercase alphanumeric with hyphens")
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Clamp truncates every field to its maximum length in place.
// Truncation is rune-safe: a multi-byte rune straddling the limit is
// dropped entirely.
func (m *Metadata) Clamp() {
	m.Name = TruncateString(m.Name, MaxNameLen)
	m.Version = TruncateString(m.Version, MaxVersionLen)
	m.Author = TruncateString(m.Author, MaxAuthorLen)
	m.Description = TruncateString(m.Description, MaxDescriptionLen)
	m.Homepage = TruncateString(m.Homepage, MaxHomepageLen)
}

// Validate checks the metadata after clamping. It does not check the
// API version; version compatibility is a distinct load failure.
func (m *Metadata) Validate() error {
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, m.Name)
	}
	return nil
}

// String returns "name vVersion".
func (m *Metadata) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}

// TruncateString truncates s to at most max bytes without splitting a
// rune. Invalid UTF-8 is truncated bytewise.
func TruncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if !utf8.ValidString(s) {
		return s[:max]
	}
	end := 0
	for i := range s {
		if i > max {
			break
		}
		end = i
	}
	// end is the start of the last rune that begins at or before max;
	// include it only if the whole rune fits.
	if end <= max {
		_, size := utf8.DecodeRuneInString(s[end:])
		if end+size <= max {
			end += size
		}
	}
	return s[:end]
}
