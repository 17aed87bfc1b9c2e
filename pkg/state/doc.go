// Package state holds the environment store: the in-memory environment a
// firmware command layer reads and edits, and the orchestration that loads it
// from backends at boot and writes it back on commit.
//
// Lifecycle:
//
//	Uninitialized -> BootLoad -> Loaded | Defaulted
//	Loaded | Defaulted | Erased -> Set/Unset/Reset -> Dirty
//	Dirty -> Commit -> Loaded
//	Loaded | Defaulted -> Erase -> Erased
//
// BootLoad tries backends from highest to lowest priority and takes the first
// valid environment. When none yields one, the store falls back to the
// defaults provider and reports the reason through the logger and activity
// hooks; boot is never blocked by corrupt or unreadable storage.
//
// Commit writes to the backend the environment was loaded from, or to the
// highest priority backend when the environment was defaulted. A failed
// commit leaves the store Dirty so the caller can retry.
//
// A Store is meant for a single caller and does no locking.
package state
