package state

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a variable missing from the environment.
	ErrNotFound = errors.New("state: variable not found")
	// ErrNotDirty reports a commit with no pending changes.
	ErrNotDirty = errors.New("state: environment has no pending changes")
	// ErrNotLoaded reports a mutation before BootLoad.
	ErrNotLoaded = errors.New("state: environment not loaded")
	// ErrNoBackend reports a commit on a store configured without backends.
	ErrNoBackend = errors.New("state: no backend configured")
	// ErrUnknownBackend reports an erase of a backend the store does not know.
	ErrUnknownBackend = errors.New("state: unknown backend")
)

// State is the lifecycle position of a Store.
type State int

const (
	StateUninitialized State = iota
	StateLoaded
	StateDefaulted
	StateDirty
	StateErased
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoaded:
		return "loaded"
	case StateDefaulted:
		return "defaulted"
	case StateDirty:
		return "dirty"
	case StateErased:
		return "erased"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
