// Package backend defines the storage contract an environment store persists
// through, the block-device implementation of that contract and an in-memory
// one for tests and examples.
//
// A backend owns one or two fixed-size copies of the environment on a medium.
// Load picks the authoritative copy, Save writes the inactive copy and then
// demotes the previous one, and Erase returns every copy to the erased state.
// Corruption is never fatal: Load reports bootenv.ErrNoValidCopy and the
// caller falls back to defaults.
package backend

import (
	"context"

	bootenv "github.com/goliatone/go-bootenv"
)

// Descriptor is the static configuration of a backend. Offsets are byte
// offsets on the device; negative values count back from the device end.
// Offsets[1] is only used when Redundant is set.
type Descriptor struct {
	Name      string   `json:"name"`
	Priority  int      `json:"priority"`
	Offsets   [2]int64 `json:"offsets"`
	SlotSize  int      `json:"slot_size"`
	Redundant bool     `json:"redundant"`
}

// Layout returns the stored copy layout the descriptor implies.
func (d Descriptor) Layout() bootenv.Layout {
	return bootenv.Layout{SlotSize: d.SlotSize, Redundant: d.Redundant}
}

// Copies returns how many copies the backend keeps.
func (d Descriptor) Copies() int {
	if d.Redundant {
		return 2
	}
	return 1
}

// LoadResult is a successfully loaded environment.
type LoadResult struct {
	Env  *bootenv.Environment
	Slot bootenv.Slot
	Flag bootenv.Flag
	// Degraded is set when the other copy failed to read or decode.
	Degraded bool
	// CopyErrors holds the failure of each copy, indexed by slot.
	CopyErrors [2]error
}

// SaveResult describes where Save wrote the environment.
type SaveResult struct {
	Slot bootenv.Slot
	// Offset is the resolved, block-aligned byte offset of the written copy.
	Offset uint64
	// Demoted is set when the previous copy was re-flagged as redundant.
	Demoted bool
}

// Backend persists one environment.
type Backend interface {
	Descriptor() Descriptor
	// Load returns the authoritative copy. bootenv.ErrNoValidCopy (or an
	// error matching bootenv.ErrIO when every copy failed on the device)
	// tells the caller to use defaults.
	Load(ctx context.Context) (LoadResult, error)
	// Save persists env. On error the previously active copy stays
	// authoritative.
	Save(ctx context.Context, env *bootenv.Environment) (SaveResult, error)
	// Erase returns every copy to the erased state.
	Erase(ctx context.Context) error
}
