package backend_test

import (
	"context"
	"errors"
	"testing"

	bootenv "github.com/goliatone/go-bootenv"
	"github.com/goliatone/go-bootenv/pkg/backend"
	"github.com/goliatone/go-bootenv/pkg/blockdev"
)

// Every Backend implementation must satisfy these behaviours.
var contractFactories = []struct {
	name string
	new  func(t *testing.T) backend.Backend
}{
	{
		name: "memory",
		new: func(t *testing.T) backend.Backend {
			return backend.NewMemoryBackend("memory", 1)
		},
	},
	{
		name: "block single",
		new: func(t *testing.T) backend.Backend {
			b, err := backend.Register("single", []int64{0x400}, 0x800, false, blockdev.NewMemoryDevice(blockSize, 16))
			if err != nil {
				t.Fatalf("register: %v", err)
			}
			return b
		},
	},
	{
		name: "block redundant",
		new: func(t *testing.T) backend.Backend {
			b, err := backend.Register("redundant", []int64{0, -0x800}, 0x800, true, blockdev.NewMemoryDevice(blockSize, 16))
			if err != nil {
				t.Fatalf("register: %v", err)
			}
			return b
		},
	},
}

func TestBackendContract(t *testing.T) {
	for _, factory := range contractFactories {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			b := factory.new(t)

			if _, err := b.Load(ctx); !errors.Is(err, bootenv.ErrNoValidCopy) {
				t.Fatalf("expected ErrNoValidCopy before first save, got %v", err)
			}

			env := bootenv.NewEnvironment(
				bootenv.Pair{Key: "bootcmd", Value: "run distro_bootcmd"},
				bootenv.Pair{Key: "bootdelay", Value: "2"},
			)
			if _, err := b.Save(ctx, env); err != nil {
				t.Fatalf("save: %v", err)
			}
			result, err := b.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if !result.Env.Equal(env) {
				t.Fatalf("expected %q, got %q", env.String(), result.Env.String())
			}
			result.Env.Set("bootdelay", "9")
			again, err := b.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if value, _ := again.Env.Get("bootdelay"); value != "2" {
				t.Fatalf("expected loaded environment to be detached, got %q", value)
			}

			invalid := bootenv.NewEnvironment(bootenv.Pair{Key: "a=b", Value: "1"})
			if _, err := b.Save(ctx, invalid); !errors.Is(err, bootenv.ErrInvalidKey) {
				t.Fatalf("expected ErrInvalidKey, got %v", err)
			}

			if err := b.Erase(ctx); err != nil {
				t.Fatalf("erase: %v", err)
			}
			if _, err := b.Load(ctx); !errors.Is(err, bootenv.ErrNoValidCopy) {
				t.Fatalf("expected ErrNoValidCopy after erase, got %v", err)
			}

			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			if _, err := b.Save(cancelled, env); !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
		})
	}
}

func TestMemoryBackendInjectedFailures(t *testing.T) {
	ctx := context.Background()
	b := backend.NewMemoryBackend("memory", 1)
	b.Seed(bootenv.NewEnvironment(bootenv.Pair{Key: "a", Value: "1"}))

	ioErr := &bootenv.IOError{Op: "read", Copy: 0, Requested: 1}
	b.FailLoad(ioErr)
	if _, err := b.Load(ctx); !errors.Is(err, bootenv.ErrIO) {
		t.Fatalf("expected injected ErrIO, got %v", err)
	}
	b.FailLoad(nil)

	b.FailSave(errors.New("write protected"))
	if _, err := b.Save(ctx, bootenv.NewEnvironment()); err == nil {
		t.Fatalf("expected injected save failure")
	}
	if b.Saves() != 0 {
		t.Fatalf("expected no successful saves, got %d", b.Saves())
	}
	if value, _ := b.Stored().Get("a"); value != "1" {
		t.Fatalf("expected seeded environment untouched, got %q", value)
	}
}
