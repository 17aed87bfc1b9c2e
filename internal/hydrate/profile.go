package hydrate

import (
	"errors"
	"fmt"
	"strings"

	bootenv "github.com/goliatone/go-bootenv"
	"github.com/goliatone/go-bootenv/pkg/backend"
	"github.com/goliatone/go-bootenv/pkg/blockdev"
)

// Profile describes a board: where its environment lives and what the
// compiled-in defaults and variable rules are.
type Profile struct {
	Board    string           `json:"board"`
	Backends []BackendProfile `json:"backends"`
	Defaults []DefaultsLayer  `json:"defaults"`
	Rules    []bootenv.Rule   `json:"rules"`
}

// BackendProfile is one backend entry. Offsets and SlotSize may be written as
// JSON numbers or as strings with a 0x prefix; negative offsets count back
// from the end of the device.
type BackendProfile struct {
	Name      string  `json:"name"`
	Device    string  `json:"device"`
	Priority  int     `json:"priority"`
	Offsets   []int64 `json:"offsets"`
	SlotSize  int     `json:"slot_size"`
	Redundant bool    `json:"redundant"`
	// FixedBase places the primary copy at an absolute address regardless of
	// the configured offset.
	FixedBase *uint64 `json:"fixed_base,omitempty"`
}

// DefaultsLayer is one named set of defaults in "name=value" form, listed
// strongest layer first in Profile.Defaults.
type DefaultsLayer struct {
	Name   string   `json:"name"`
	Vars   []string `json:"vars"`
	Remove []string `json:"remove,omitempty"`
}

// DeviceOpener returns the block device a backend entry refers to.
type DeviceOpener func(BackendProfile) (blockdev.Device, error)

// NewProfileDecoder returns a decoder that accepts hex sizes and rejects
// unknown fields and inconsistent profiles.
func NewProfileDecoder(opts ...DecoderOption[Profile]) *Decoder[Profile] {
	base := []DecoderOption[Profile]{
		WithPreHook[Profile](SizeFields("backends", "offsets", "slot_size", "fixed_base")),
		WithDisallowUnknownFields[Profile](),
		WithPostHook[Profile](validateProfile),
	}
	return NewDecoder(append(base, opts...)...)
}

// LoadProfile reads and decodes a profile document from path.
func LoadProfile(path string) (Profile, error) {
	return NewProfileDecoder().DecodeFile(path)
}

func validateProfile(ctx Context, profile *Profile) error {
	if profile == nil {
		return errors.New("profile is nil")
	}
	if strings.TrimSpace(profile.Board) == "" {
		profile.Board = ctx.Board
	}
	if profile.Board == "" {
		return errors.New("board name is required")
	}
	seen := make(map[string]struct{}, len(profile.Backends))
	for _, b := range profile.Backends {
		if b.Name == "" {
			return errors.New("backend name is required")
		}
		if _, ok := seen[b.Name]; ok {
			return fmt.Errorf("backend %q listed twice", b.Name)
		}
		seen[b.Name] = struct{}{}
	}
	for _, layer := range profile.Defaults {
		if _, err := layer.Environment(); err != nil {
			return err
		}
	}
	return nil
}

// Environment parses the layer's variables in order.
func (l DefaultsLayer) Environment() (*bootenv.Environment, error) {
	env := bootenv.NewEnvironment()
	for _, entry := range l.Vars {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("defaults %q: %q is not name=value", l.Name, entry)
		}
		if err := bootenv.ValidatePair(key, value); err != nil {
			return nil, fmt.Errorf("defaults %q: %w", l.Name, err)
		}
		env.Set(key, value)
	}
	return env, nil
}

// LayeredDefaults builds the defaults provider of the profile.
func (p Profile) LayeredDefaults() (*bootenv.LayeredDefaults, error) {
	layers := make([]bootenv.DefaultsLayer, 0, len(p.Defaults))
	for _, layer := range p.Defaults {
		env, err := layer.Environment()
		if err != nil {
			return nil, err
		}
		layers = append(layers, bootenv.DefaultsLayer{Name: layer.Name, Env: env, Remove: layer.Remove})
	}
	return bootenv.NewLayeredDefaults(layers...), nil
}

// RuleSet compiles the profile's variable rules. A profile without rules
// yields a nil set, which accepts every change.
func (p Profile) RuleSet(opts ...bootenv.RuleOption) (*bootenv.RuleSet, error) {
	if len(p.Rules) == 0 {
		return nil, nil
	}
	return bootenv.NewRuleSet(p.Rules, opts...)
}

// RegisterBackends opens each backend's device and registers it. opts apply
// to every backend; the profile's priority and fixed base are added last.
func (p Profile) RegisterBackends(open DeviceOpener, opts ...backend.RegisterOption) ([]backend.Backend, error) {
	if open == nil {
		return nil, errors.New("hydrate: device opener is required")
	}
	out := make([]backend.Backend, 0, len(p.Backends))
	for _, entry := range p.Backends {
		dev, err := open(entry)
		if err != nil {
			return nil, fmt.Errorf("hydrate: open device for %s: %w", entry.Name, err)
		}
		entryOpts := append(append([]backend.RegisterOption{}, opts...), backend.WithPriority(entry.Priority))
		if entry.FixedBase != nil && len(entry.Offsets) > 0 {
			entryOpts = append(entryOpts, backend.WithAddressResolver(backend.FixedAddress(*entry.FixedBase, entry.Offsets[0])))
		}
		b, err := backend.Register(entry.Name, entry.Offsets, entry.SlotSize, entry.Redundant, dev, entryOpts...)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
