package bootenv

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig is the sentinel every ConfigError unwraps to.
	ErrConfig = errors.New("bootenv: invalid configuration")
	// ErrCorrupt is the sentinel every CorruptionError unwraps to.
	ErrCorrupt = errors.New("bootenv: corrupted copy")
	// ErrIO is the sentinel every IOError unwraps to.
	ErrIO = errors.New("bootenv: device i/o failed")
	// ErrNoValidCopy signals that no stored copy decoded. Callers fall back to
	// defaults instead of failing.
	ErrNoValidCopy = errors.New("bootenv: no valid copy")
	// ErrEnvironmentTooLarge indicates the environment does not fit the slot.
	ErrEnvironmentTooLarge = errors.New("bootenv: environment exceeds slot capacity")
	// ErrInvalidKey indicates a key that cannot be serialized.
	ErrInvalidKey = errors.New("bootenv: invalid key")
	// ErrInvalidValue indicates a value that cannot be serialized.
	ErrInvalidValue = errors.New("bootenv: invalid value")
)

// ConfigError reports an invalid backend registration. It is fatal and is
// surfaced at startup.
type ConfigError struct {
	Backend string
	Field   string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Field == "" {
		return fmt.Sprintf("bootenv: backend %q: %s", e.Backend, e.Reason)
	}
	return fmt.Sprintf("bootenv: backend %q: %s: %s", e.Backend, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

// CorruptionError reports a checksum, length or parse failure on one copy.
type CorruptionError struct {
	Offset int
	Reason string
}

func (e *CorruptionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("bootenv: corrupted copy at byte %d: %s", e.Offset, e.Reason)
}

func (e *CorruptionError) Unwrap() error {
	return ErrCorrupt
}

// IOError reports a short or failed block operation. Copy is the slot index
// (-1 when the failure is not tied to one copy).
type IOError struct {
	Op        string
	Copy      int
	Requested uint64
	Completed uint64
	Err       error
}

func (e *IOError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "bootenv: %s", e.Op)
	if e.Copy >= 0 {
		fmt.Fprintf(&b, " copy %d", e.Copy)
	}
	fmt.Fprintf(&b, ": %d of %d blocks", e.Completed, e.Requested)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both ErrIO and the device error, when one was returned.
func (e *IOError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{ErrIO}
	}
	return []error{ErrIO, e.Err}
}

// IsFallback reports whether err should be masked by defaults: no valid copy
// or an i/o failure.
func IsFallback(err error) bool {
	return errors.Is(err, ErrNoValidCopy) || errors.Is(err, ErrIO)
}

func corruptf(offset int, format string, args ...any) error {
	return &CorruptionError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}
