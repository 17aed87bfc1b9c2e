package bootenv

import (
	"sort"
	"strings"
)

// Pair is one name/value entry of an Environment.
type Pair struct {
	Key   string
	Value string
}

// Environment is an ordered set of unique name/value strings. Insertion order is
// kept so that serialization is deterministic; it carries no other meaning.
type Environment struct {
	keys   []string
	values map[string]string
}

// NewEnvironment builds an Environment from pairs. Later duplicates overwrite
// earlier values without changing their position.
func NewEnvironment(pairs ...Pair) *Environment {
	env := &Environment{values: make(map[string]string, len(pairs))}
	for _, pair := range pairs {
		env.Set(pair.Key, pair.Value)
	}
	return env
}

// FromMap builds an Environment from m with keys sorted, since map order is
// not stable.
func FromMap(m map[string]string) *Environment {
	env := &Environment{values: make(map[string]string, len(m))}
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env.Set(key, m[key])
	}
	return env
}

// Get returns the value stored for key.
func (e *Environment) Get(key string) (string, bool) {
	if e == nil || e.values == nil {
		return "", false
	}
	value, ok := e.values[key]
	return value, ok
}

// Set stores value under key, appending key when it is new.
func (e *Environment) Set(key, value string) {
	if e.values == nil {
		e.values = map[string]string{}
	}
	if _, ok := e.values[key]; !ok {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
}

// Unset removes key. It reports whether the key was present.
func (e *Environment) Unset(key string) bool {
	if e == nil || e.values == nil {
		return false
	}
	if _, ok := e.values[key]; !ok {
		return false
	}
	delete(e.values, key)
	for i, existing := range e.keys {
		if existing == key {
			e.keys = append(e.keys[:i], e.keys[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of pairs.
func (e *Environment) Len() int {
	if e == nil {
		return 0
	}
	return len(e.keys)
}

// Keys returns the keys in insertion order.
func (e *Environment) Keys() []string {
	if e == nil || len(e.keys) == 0 {
		return nil
	}
	return append([]string(nil), e.keys...)
}

// Pairs returns the entries in insertion order.
func (e *Environment) Pairs() []Pair {
	if e == nil || len(e.keys) == 0 {
		return nil
	}
	out := make([]Pair, len(e.keys))
	for i, key := range e.keys {
		out[i] = Pair{Key: key, Value: e.values[key]}
	}
	return out
}

// Map returns a detached copy of the entries.
func (e *Environment) Map() map[string]string {
	out := make(map[string]string, e.Len())
	if e == nil {
		return out
	}
	for key, value := range e.values {
		out[key] = value
	}
	return out
}

// Clone returns a deep copy. Cloning nil yields an empty Environment.
func (e *Environment) Clone() *Environment {
	if e == nil {
		return NewEnvironment()
	}
	return NewEnvironment(e.Pairs()...)
}

// Equal reports whether both environments hold the same pairs. Order is not
// compared.
func (e *Environment) Equal(other *Environment) bool {
	if e.Len() != other.Len() {
		return false
	}
	for _, pair := range e.Pairs() {
		value, ok := other.Get(pair.Key)
		if !ok || value != pair.Value {
			return false
		}
	}
	return true
}

// String renders the environment the way printenv does, one key=value per line.
func (e *Environment) String() string {
	var b strings.Builder
	for _, pair := range e.Pairs() {
		b.WriteString(pair.Key)
		b.WriteByte('=')
		b.WriteString(pair.Value)
		b.WriteByte('\n')
	}
	return b.String()
}
