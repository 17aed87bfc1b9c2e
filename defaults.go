package bootenv

import (
	layering "github.com/goliatone/go-bootenv/layering"
)

// DefaultsProvider supplies the compiled-in environment used when no backend
// holds a valid copy. Implementations return a fresh Environment per call.
type DefaultsProvider interface {
	Defaults() *Environment
}

// DefaultsFunc adapts a function to DefaultsProvider.
type DefaultsFunc func() *Environment

// Defaults implements DefaultsProvider.
func (f DefaultsFunc) Defaults() *Environment {
	if f == nil {
		return NewEnvironment()
	}
	env := f()
	if env == nil {
		return NewEnvironment()
	}
	return env
}

// StaticDefaults returns a provider that clones env on every call.
func StaticDefaults(env *Environment) DefaultsProvider {
	snapshot := env.Clone()
	return DefaultsFunc(func() *Environment {
		return snapshot.Clone()
	})
}

// DefaultsLayer is one named source of defaults, such as a board or SoC.
type DefaultsLayer struct {
	Name   string
	Env    *Environment
	Remove []string
}

// LayeredDefaults merges layers ordered from strongest to weakest, so board
// defaults can override SoC defaults which override generic ones.
type LayeredDefaults struct {
	layers []DefaultsLayer
}

// NewLayeredDefaults copies layers so later caller mutation has no effect.
func NewLayeredDefaults(layers ...DefaultsLayer) *LayeredDefaults {
	copied := make([]DefaultsLayer, len(layers))
	for i, layer := range layers {
		copied[i] = DefaultsLayer{
			Name:   layer.Name,
			Env:    layer.Env.Clone(),
			Remove: append([]string(nil), layer.Remove...),
		}
	}
	return &LayeredDefaults{layers: copied}
}

// Defaults implements DefaultsProvider.
func (d *LayeredDefaults) Defaults() *Environment {
	env, _ := d.Resolve()
	return env
}

// Resolve returns the merged environment and, for each key, the name of the
// layer it came from.
func (d *LayeredDefaults) Resolve() (*Environment, map[string]string) {
	if d == nil || len(d.layers) == 0 {
		return NewEnvironment(), map[string]string{}
	}
	layers := make([]layering.Layer, len(d.layers))
	for i, layer := range d.layers {
		entries := make([]layering.Entry, 0, layer.Env.Len())
		for _, pair := range layer.Env.Pairs() {
			entries = append(entries, layering.Entry{Key: pair.Key, Value: pair.Value})
		}
		layers[i] = layering.Layer{Name: layer.Name, Entries: entries, Remove: layer.Remove}
	}
	merged := layering.Merge(layers...)
	env := NewEnvironment()
	for _, entry := range merged.Entries {
		env.Set(entry.Key, entry.Value)
	}
	return env, merged.Sources
}
