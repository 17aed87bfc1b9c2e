package bootenv

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Function represents a callable exposed to rule expressions.
type Function func(args ...any) (any, error)

// FunctionRegistry stores rule functions. Lookups ignore case; Names keeps the
// spelling used at registration so expressions can call them as written.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]registeredFunction
}

type registeredFunction struct {
	name string
	fn   Function
}

// NewFunctionRegistry constructs an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{
		functions: make(map[string]registeredFunction),
	}
}

// NewTypeRegistry returns a registry preloaded with the variable type checks
// boot environments use for well-known variables: isDecimal, isHex, isBool,
// isIPAddr and isMACAddr. Each takes one string and returns a bool.
func NewTypeRegistry() *FunctionRegistry {
	r := NewFunctionRegistry()
	_ = r.Register("isDecimal", stringPredicate(func(s string) bool {
		_, err := strconv.ParseUint(s, 10, 64)
		return err == nil
	}))
	_ = r.Register("isHex", stringPredicate(func(s string) bool {
		_, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
		return err == nil
	}))
	_ = r.Register("isBool", stringPredicate(func(s string) bool {
		if s == "" {
			return false
		}
		switch s[0] {
		case '1', 'y', 'Y', 't', 'T', '0', 'n', 'N', 'f', 'F':
			return true
		}
		return false
	}))
	_ = r.Register("isIPAddr", stringPredicate(func(s string) bool {
		ip := net.ParseIP(s)
		return ip != nil && ip.To4() != nil
	}))
	_ = r.Register("isMACAddr", stringPredicate(func(s string) bool {
		hw, err := net.ParseMAC(s)
		return err == nil && len(hw) == 6
	}))
	return r
}

func stringPredicate(fn func(string) bool) Function {
	return func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("bootenv: expected 1 argument, got %d", len(args))
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("bootenv: expected string argument, got %T", args[0])
		}
		return fn(s), nil
	}
}

// Register stores fn under name guarding against duplicates.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	if fn == nil {
		return fmt.Errorf("bootenv: function %q is nil", name)
	}
	if name == "" {
		return fmt.Errorf("bootenv: function name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.functions == nil {
		r.functions = make(map[string]registeredFunction)
	}
	key := strings.ToLower(name)
	if _, exists := r.functions[key]; exists {
		return fmt.Errorf("bootenv: function %q already registered", name)
	}
	r.functions[key] = registeredFunction{name: name, fn: fn}
	return nil
}

// Clone returns a shallow copy of the registry.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := &FunctionRegistry{
		functions: make(map[string]registeredFunction, len(r.functions)),
	}
	for key, entry := range r.functions {
		clone.functions[key] = entry
	}
	return clone
}

// Call executes the function registered for name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("bootenv: function registry is nil")
	}
	r.mu.RLock()
	entry, ok := r.functions[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("bootenv: function %q not registered", name)
	}
	return entry.fn(args...)
}

// Names returns registered function names sorted alphabetically.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for _, entry := range r.functions {
		names = append(names, entry.name)
	}
	sort.Strings(names)
	return names
}
