package bootenv

import "errors"

// Slot identifies a copy position inside one backend.
type Slot int

const (
	// SlotNone means no copy is active yet (fresh or erased medium).
	SlotNone Slot = -1
	// SlotPrimary is the copy at the primary offset.
	SlotPrimary Slot = 0
	// SlotRedundant is the copy at the redundant offset.
	SlotRedundant Slot = 1
)

func (s Slot) String() string {
	switch s {
	case SlotPrimary:
		return "primary"
	case SlotRedundant:
		return "redundant"
	default:
		return "none"
	}
}

// Other returns the opposite slot of a redundant pair. SlotNone maps to
// SlotPrimary so the first save lands on the primary copy.
func (s Slot) Other() Slot {
	if s == SlotPrimary {
		return SlotRedundant
	}
	return SlotPrimary
}

// DecodeResult is the outcome of reading and decoding one copy. Err holds a
// read failure or a decode failure; either disqualifies the copy.
type DecodeResult struct {
	Record Record
	Err    error
}

// OK reports whether the copy decoded.
func (r DecodeResult) OK() bool {
	return r.Err == nil && r.Record.Env != nil
}

// Selection is the authoritative copy picked by Select.
type Selection struct {
	Slot   Slot
	Record Record
	// Degraded is set when the other copy failed, so the backend is running on
	// a single good copy.
	Degraded bool
}

// Select decides which of two redundant copies is authoritative:
//
//  1. both decode and exactly one carries FlagValid: that one;
//  2. exactly one decodes: that one, whatever its flag says;
//  3. none decodes: ErrNoValidCopy.
//
// When both decode and the flags do not tell them apart the primary wins. A
// flag is never trusted over a failed checksum.
func Select(primary, redundant DecodeResult) (Selection, error) {
	okPrimary, okRedundant := primary.OK(), redundant.OK()
	switch {
	case okPrimary && okRedundant:
		if redundant.Record.Flag == FlagValid && primary.Record.Flag != FlagValid {
			return Selection{Slot: SlotRedundant, Record: redundant.Record}, nil
		}
		return Selection{Slot: SlotPrimary, Record: primary.Record}, nil
	case okPrimary:
		return Selection{Slot: SlotPrimary, Record: primary.Record, Degraded: true}, nil
	case okRedundant:
		return Selection{Slot: SlotRedundant, Record: redundant.Record, Degraded: true}, nil
	default:
		return Selection{Slot: SlotNone}, noValidCopy(primary.Err, redundant.Err)
	}
}

// SelectSingle is Select for backends without a redundant copy.
func SelectSingle(only DecodeResult) (Selection, error) {
	if only.OK() {
		return Selection{Slot: SlotPrimary, Record: only.Record}, nil
	}
	return Selection{Slot: SlotNone}, noValidCopy(only.Err)
}

// noValidCopy returns an IOError when every copy failed on the device, and
// ErrNoValidCopy joined with the causes otherwise.
func noValidCopy(causes ...error) error {
	allIO := true
	var errs []error
	for _, cause := range causes {
		if cause == nil {
			cause = corruptf(0, "empty record")
		}
		if !errors.Is(cause, ErrIO) {
			allIO = false
		}
		errs = append(errs, cause)
	}
	if allIO {
		return errors.Join(errs...)
	}
	return errors.Join(append([]error{ErrNoValidCopy}, errs...)...)
}
