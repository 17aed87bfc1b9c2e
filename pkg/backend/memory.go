package backend

import (
	"context"
	"sync"

	bootenv "github.com/goliatone/go-bootenv"
)

// MemoryBackend is a minimal in-memory Backend intended for tests and
// examples. It keeps a single copy and makes no durability claims.
type MemoryBackend struct {
	mu      sync.Mutex
	desc    Descriptor
	env     *bootenv.Environment
	loadErr error
	saveErr error
	saves   int
}

// NewMemoryBackend returns an empty backend; Load reports ErrNoValidCopy until
// the first Save or Seed.
func NewMemoryBackend(name string, priority int) *MemoryBackend {
	return &MemoryBackend{desc: Descriptor{Name: name, Priority: priority}}
}

// Seed stores env as if it had been saved earlier.
func (b *MemoryBackend) Seed(env *bootenv.Environment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.env = env.Clone()
}

// FailLoad makes every Load return err until cleared with nil.
func (b *MemoryBackend) FailLoad(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loadErr = err
}

// FailSave makes every Save return err until cleared with nil.
func (b *MemoryBackend) FailSave(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveErr = err
}

// Saves returns the number of successful saves.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// Stored returns a copy of the stored environment, or nil when empty.
func (b *MemoryBackend) Stored() *bootenv.Environment {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.env == nil {
		return nil
	}
	return b.env.Clone()
}

func (b *MemoryBackend) Descriptor() Descriptor {
	return b.desc
}

func (b *MemoryBackend) Load(ctx context.Context) (LoadResult, error) {
	if err := ctx.Err(); err != nil {
		return LoadResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return LoadResult{}, b.loadErr
	}
	if b.env == nil {
		return LoadResult{}, bootenv.ErrNoValidCopy
	}
	return LoadResult{Env: b.env.Clone(), Slot: bootenv.SlotPrimary, Flag: bootenv.FlagValid}, nil
}

func (b *MemoryBackend) Save(ctx context.Context, env *bootenv.Environment) (SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return SaveResult{}, err
	}
	for _, pair := range env.Pairs() {
		if err := bootenv.ValidatePair(pair.Key, pair.Value); err != nil {
			return SaveResult{}, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return SaveResult{}, b.saveErr
	}
	b.env = env.Clone()
	b.saves++
	return SaveResult{Slot: bootenv.SlotPrimary}, nil
}

func (b *MemoryBackend) Erase(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.env = nil
	return nil
}
