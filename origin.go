package bootenv

import (
	"encoding/json"
	"time"
)

// Origin records where the in-memory environment came from.
type Origin struct {
	Backend   string
	Slot      Slot
	Flag      Flag
	Degraded  bool
	Defaulted bool
	Reason    string
	LoadedAt  time.Time
	// Sources maps keys to the defaults layer that supplied them, when the
	// environment was built from LayeredDefaults.
	Sources map[string]string
}

type originJSON struct {
	Backend   string            `json:"backend,omitempty"`
	Slot      string            `json:"slot"`
	Flag      string            `json:"flag,omitempty"`
	Degraded  bool              `json:"degraded,omitempty"`
	Defaulted bool              `json:"defaulted,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	LoadedAt  time.Time         `json:"loaded_at"`
	Sources   map[string]string `json:"sources,omitempty"`
}

// ToJSON renders the origin with slot and flag names spelled out.
func (o Origin) ToJSON() ([]byte, error) {
	out := originJSON{
		Backend:   o.Backend,
		Slot:      o.Slot.String(),
		Degraded:  o.Degraded,
		Defaulted: o.Defaulted,
		Reason:    o.Reason,
		LoadedAt:  o.LoadedAt,
		Sources:   o.Sources,
	}
	if !o.Defaulted {
		out.Flag = o.Flag.String()
	}
	return json.Marshal(out)
}

// MarshalJSON implements json.Marshaler.
func (o Origin) MarshalJSON() ([]byte, error) {
	return o.ToJSON()
}
