package extension

import (
	"errors"

	"github.com/alal76/inkpad/internal/extension/trust"
)

// Extension subsystem errors.
var (
	// ErrNotFound is returned when a module file or a loaded module
	// cannot be located.
	ErrNotFound = errors.New("module not found")

	// ErrInvalidFormat is returned when a candidate file is not a
	// loadable module or carries invalid metadata.
	ErrInvalidFormat = errors.New("invalid module format")

	// ErrSignatureInvalid is returned when trust verification rejects
	// a candidate before any of its code runs.
	ErrSignatureInvalid = trust.ErrSignatureInvalid

	// ErrMissingSymbol is returned when a mandatory entry point is
	// missing or has the wrong type.
	ErrMissingSymbol = errors.New("missing mandatory entry point")

	// ErrInitFailed is returned when a module's init hook reports
	// failure or faults.
	ErrInitFailed = errors.New("module initialization failed")

	// ErrAlreadyLoaded is returned when a module with the same name is
	// already registered.
	ErrAlreadyLoaded = errors.New("module already loaded")

	// ErrVersionMismatch is returned when a module declares an API
	// version the host does not support.
	ErrVersionMismatch = errors.New("module API version mismatch")

	// ErrLoadFailed is returned when the dynamic loader cannot map a
	// module file.
	ErrLoadFailed = errors.New("module load failed")
)
