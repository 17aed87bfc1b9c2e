package backend_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	bootenv "github.com/goliatone/go-bootenv"
	"github.com/goliatone/go-bootenv/pkg/backend"
	"github.com/goliatone/go-bootenv/pkg/blockdev"
)

const (
	blockSize = 512
	slotSize  = 0x2000
)

func newRedundant(t *testing.T, dev *blockdev.MemoryDevice) *backend.BlockBackend {
	t.Helper()
	b, err := backend.Register("mmc0", []int64{0x0, 0x2000}, slotSize, true, dev)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return b
}

func readFlag(t *testing.T, dev *blockdev.MemoryDevice, offset uint64) bootenv.Flag {
	t.Helper()
	layout := bootenv.Layout{SlotSize: slotSize, Redundant: true}
	record, err := layout.Decode(dev.Peek(offset, slotSize))
	if err != nil {
		t.Fatalf("decode copy at 0x%x: %v", offset, err)
	}
	return record.Flag
}

func TestRegisterRejectsBadConfiguration(t *testing.T) {
	dev := blockdev.NewMemoryDevice(blockSize, 64)
	cases := []struct {
		name      string
		backend   string
		offsets   []int64
		slotSize  int
		redundant bool
		dev       blockdev.Device
		field     string
	}{
		{name: "empty name", offsets: []int64{0}, slotSize: 1024, dev: dev, field: "name"},
		{name: "missing device", backend: "b", offsets: []int64{0}, slotSize: 1024, field: "device"},
		{name: "zero block size", backend: "b", offsets: []int64{0}, slotSize: 1024, dev: blockdev.NewMemoryDevice(0, 64), field: "block_size"},
		{name: "zero slot size", backend: "b", offsets: []int64{0}, dev: dev, field: "slot_size"},
		{name: "slot holds only header", backend: "b", offsets: []int64{0, 4096}, slotSize: 9, redundant: true, dev: dev, field: "slot_size"},
		{name: "no offsets", backend: "b", slotSize: 1024, dev: dev, field: "offsets"},
		{name: "missing redundant offset", backend: "b", offsets: []int64{0}, slotSize: 1024, redundant: true, dev: dev, field: "offsets"},
		{name: "span past capacity", backend: "b", offsets: []int64{64*blockSize - 512}, slotSize: 1024, dev: dev, field: "offsets"},
		{name: "negative offset before start", backend: "b", offsets: []int64{-64*blockSize - 1}, slotSize: 1024, dev: dev, field: "offsets"},
		{name: "overlapping copies", backend: "b", offsets: []int64{0, 512}, slotSize: 1024, redundant: true, dev: dev, field: "offsets"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := backend.Register(tc.backend, tc.offsets, tc.slotSize, tc.redundant, tc.dev)
			var cfgErr *bootenv.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tc.field {
				t.Fatalf("expected field %q, got %q (%v)", tc.field, cfgErr.Field, err)
			}
			if !errors.Is(err, bootenv.ErrConfig) {
				t.Fatalf("expected ErrConfig sentinel")
			}
		})
	}
}

func TestRegisterResolvesOffsets(t *testing.T) {
	dev := blockdev.NewMemoryDevice(blockSize, 64)

	b, err := backend.Register("tail", []int64{-0x4000, -0x2000}, 0x1000, true, dev)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if b.Offset(bootenv.SlotPrimary) != 0x4000 || b.Offset(bootenv.SlotRedundant) != 0x6000 {
		t.Fatalf("expected offsets from device end, got 0x%x 0x%x", b.Offset(bootenv.SlotPrimary), b.Offset(bootenv.SlotRedundant))
	}

	aligned, err := backend.Register("aligned", []int64{0x1001}, 0x400, false, dev)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if aligned.Offset(bootenv.SlotPrimary) != 0x1200 {
		t.Fatalf("expected offset rounded up to 0x1200, got 0x%x", aligned.Offset(bootenv.SlotPrimary))
	}

	fixed, err := backend.Register("board", []int64{0, 0x1000}, 0x1000, true, dev,
		backend.WithAddressResolver(backend.FixedAddress(0x2000, 0)),
		backend.WithPriority(7),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if fixed.Offset(bootenv.SlotPrimary) != 0x2000 || fixed.Offset(bootenv.SlotRedundant) != 0x3000 {
		t.Fatalf("expected board addresses, got 0x%x 0x%x", fixed.Offset(bootenv.SlotPrimary), fixed.Offset(bootenv.SlotRedundant))
	}
	if fixed.Descriptor().Priority != 7 {
		t.Fatalf("expected priority 7, got %d", fixed.Descriptor().Priority)
	}
}

func TestRedundantCommitSequence(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemoryDevice(blockSize, 64)
	b := newRedundant(t, dev)

	if _, err := b.Load(ctx); !errors.Is(err, bootenv.ErrNoValidCopy) {
		t.Fatalf("expected ErrNoValidCopy on a fresh device, got %v", err)
	}

	first, err := b.Save(ctx, bootenv.NewEnvironment(bootenv.Pair{Key: "bootdelay", Value: "3"}))
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if first.Slot != bootenv.SlotPrimary || first.Offset != 0 || first.Demoted {
		t.Fatalf("expected first save on primary without demotion, got %+v", first)
	}
	if readFlag(t, dev, 0x0) != bootenv.FlagValid {
		t.Fatalf("expected copy at 0x0 valid")
	}

	second, err := b.Save(ctx, bootenv.NewEnvironment(bootenv.Pair{Key: "bootdelay", Value: "5"}))
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if second.Slot != bootenv.SlotRedundant || second.Offset != 0x2000 || !second.Demoted {
		t.Fatalf("expected second save on redundant with demotion, got %+v", second)
	}
	if readFlag(t, dev, 0x2000) != bootenv.FlagValid || readFlag(t, dev, 0x0) != bootenv.FlagRedundant {
		t.Fatalf("expected 0x2000 valid and 0x0 redundant")
	}

	reloaded := newRedundant(t, dev)
	result, err := reloaded.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if value, _ := result.Env.Get("bootdelay"); value != "5" {
		t.Fatalf("expected bootdelay 5, got %q", value)
	}
	if result.Slot != bootenv.SlotRedundant || result.Degraded {
		t.Fatalf("unexpected load result %+v", result)
	}
}

func TestRedundancyHoldsAcrossManyCommits(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemoryDevice(blockSize, 64)
	b := newRedundant(t, dev)

	for i := 1; i <= 9; i++ {
		env := bootenv.NewEnvironment(bootenv.Pair{Key: "generation", Value: fmt.Sprint(i)})
		if _, err := b.Save(ctx, env); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		if i > 1 {
			primary, redundant := readFlag(t, dev, 0x0), readFlag(t, dev, 0x2000)
			if (primary == bootenv.FlagValid) == (redundant == bootenv.FlagValid) {
				t.Fatalf("commit %d: expected exactly one valid copy, got %s and %s", i, primary, redundant)
			}
		}
		result, err := newRedundant(t, dev).Load(ctx)
		if err != nil {
			t.Fatalf("load after commit %d: %v", i, err)
		}
		if value, _ := result.Env.Get("generation"); value != fmt.Sprint(i) {
			t.Fatalf("commit %d: loaded generation %q", i, value)
		}
	}
}

func TestTornWriteKeepsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemoryDevice(blockSize, 64)
	b := newRedundant(t, dev)

	old := bootenv.NewEnvironment(bootenv.Pair{Key: "bootcmd", Value: "run old"})
	if _, err := b.Save(ctx, old); err != nil {
		t.Fatalf("save: %v", err)
	}

	big := bootenv.NewEnvironment()
	for i := 0; i < 100; i++ {
		big.Set(fmt.Sprintf("var%03d", i), "a value long enough to span several blocks")
	}
	dev.InjectFault(blockdev.Fault{Op: blockdev.OpWrite, Completed: 2})
	_, err := b.Save(ctx, big)
	var ioErr *bootenv.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if ioErr.Completed != 2 || ioErr.Requested != slotSize/blockSize || ioErr.Copy != int(bootenv.SlotRedundant) {
		t.Fatalf("unexpected io error %+v", ioErr)
	}
	if b.Active() != bootenv.SlotPrimary {
		t.Fatalf("expected active slot unchanged, got %s", b.Active())
	}

	result, err := newRedundant(t, dev).Load(ctx)
	if err != nil {
		t.Fatalf("load after torn write: %v", err)
	}
	if !result.Env.Equal(old) {
		t.Fatalf("expected previous generation, got %q", result.Env.String())
	}
	if !result.Degraded || result.CopyErrors[bootenv.SlotRedundant] == nil {
		t.Fatalf("expected degraded load reporting the torn copy, got %+v", result)
	}
}

func TestFailedDemotionKeepsPreviousGeneration(t *testing.T) {
	cases := []struct {
		name   string
		prior  int
		active bootenv.Slot
		target uint64
	}{
		{name: "new copy on redundant", prior: 1, active: bootenv.SlotPrimary, target: 0x2000},
		{name: "new copy on primary", prior: 2, active: bootenv.SlotRedundant, target: 0x0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			dev := blockdev.NewMemoryDevice(blockSize, 64)
			b := newRedundant(t, dev)

			previous := ""
			for i := 1; i <= tc.prior; i++ {
				previous = fmt.Sprint(i)
				if _, err := b.Save(ctx, bootenv.NewEnvironment(bootenv.Pair{Key: "a", Value: previous})); err != nil {
					t.Fatalf("save: %v", err)
				}
			}

			// The new copy is written whole; rewriting the previous header fails.
			dev.InjectFault(blockdev.Fault{Op: blockdev.OpWrite, Completed: 16})
			dev.InjectFault(blockdev.Fault{Op: blockdev.OpWrite, Completed: 0, Err: errors.New("card removed")})
			if _, err := b.Save(ctx, bootenv.NewEnvironment(bootenv.Pair{Key: "a", Value: "new"})); !errors.Is(err, bootenv.ErrIO) {
				t.Fatalf("expected ErrIO, got %v", err)
			}
			if b.Active() != tc.active {
				t.Fatalf("expected active slot %s unchanged, got %s", tc.active, b.Active())
			}
			if readFlag(t, dev, tc.target) != bootenv.FlagRedundant {
				t.Fatalf("expected the new copy at 0x%x to be flagged redundant", tc.target)
			}

			result, err := newRedundant(t, dev).Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if value, _ := result.Env.Get("a"); value != previous || result.Slot != tc.active {
				t.Fatalf("expected %q from %s, got %q from %s", previous, tc.active, value, result.Slot)
			}

			if _, err := b.Save(ctx, bootenv.NewEnvironment(bootenv.Pair{Key: "a", Value: "retried"})); err != nil {
				t.Fatalf("retry save: %v", err)
			}
			if b.Active() != tc.active.Other() {
				t.Fatalf("expected retry to move the active slot, got %s", b.Active())
			}
			if readFlag(t, dev, b.Offset(tc.active)) != bootenv.FlagRedundant {
				t.Fatalf("expected retry to demote the %s copy", tc.active)
			}
			result, err = newRedundant(t, dev).Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if value, _ := result.Env.Get("a"); value != "retried" {
				t.Fatalf("expected retried generation, got %q", value)
			}
		})
	}
}

func TestCorruptionFallsBackToOtherCopy(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemoryDevice(blockSize, 64)
	b := newRedundant(t, dev)

	for _, value := range []string{"1", "2"} {
		if _, err := b.Save(ctx, bootenv.NewEnvironment(bootenv.Pair{Key: "a", Value: value})); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	dev.Poke(0x2000+12, []byte{0xFF})

	result, err := newRedundant(t, dev).Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if value, _ := result.Env.Get("a"); value != "1" || !result.Degraded {
		t.Fatalf("expected older generation from primary, got %q degraded=%v", value, result.Degraded)
	}
	if !errors.Is(result.CopyErrors[bootenv.SlotRedundant], bootenv.ErrCorrupt) {
		t.Fatalf("expected corruption on redundant copy, got %v", result.CopyErrors[bootenv.SlotRedundant])
	}

	dev.Poke(12, []byte{0xFF})
	if _, err := newRedundant(t, dev).Load(ctx); !errors.Is(err, bootenv.ErrNoValidCopy) {
		t.Fatalf("expected ErrNoValidCopy with both copies corrupted, got %v", err)
	}
}

func TestLoadReportsIOWhenEveryReadFails(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemoryDevice(blockSize, 64)
	b := newRedundant(t, dev)

	dev.InjectFault(blockdev.Fault{Op: blockdev.OpRead, Completed: 3})
	dev.InjectFault(blockdev.Fault{Op: blockdev.OpRead, Err: errors.New("timeout")})
	_, err := b.Load(ctx)
	if !errors.Is(err, bootenv.ErrIO) || errors.Is(err, bootenv.ErrNoValidCopy) {
		t.Fatalf("expected an i/o error only, got %v", err)
	}
	if !bootenv.IsFallback(err) {
		t.Fatalf("expected i/o load failure to allow fallback")
	}
}

func TestSingleCopyBackend(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemoryDevice(blockSize, 64)
	b, err := backend.Register("spi", []int64{0x1000}, 0x1000, false, dev)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	env := bootenv.NewEnvironment(bootenv.Pair{Key: "ipaddr", Value: "10.0.0.2"})
	for i := 0; i < 2; i++ {
		result, err := b.Save(ctx, env)
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if result.Slot != bootenv.SlotPrimary || result.Demoted {
			t.Fatalf("expected single copy overwritten in place, got %+v", result)
		}
	}
	loaded, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Env.Equal(env) {
		t.Fatalf("expected %q, got %q", env.String(), loaded.Env.String())
	}
}

func TestSaveRejectsOversizedEnvironment(t *testing.T) {
	dev := blockdev.NewMemoryDevice(blockSize, 64)
	b, err := backend.Register("tiny", []int64{0}, 32, false, dev)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	env := bootenv.NewEnvironment(bootenv.Pair{Key: "bootargs", Value: "console=ttyS0,115200 quiet"})
	if _, err := b.Save(context.Background(), env); !errors.Is(err, bootenv.ErrEnvironmentTooLarge) {
		t.Fatalf("expected ErrEnvironmentTooLarge, got %v", err)
	}
	if dev.Stats().Writes != 0 {
		t.Fatalf("expected nothing written")
	}
}

func TestEraseCollectsPerCopyFailures(t *testing.T) {
	ctx := context.Background()
	dev := blockdev.NewMemoryDevice(blockSize, 64)
	b := newRedundant(t, dev)
	if _, err := b.Save(ctx, bootenv.NewEnvironment(bootenv.Pair{Key: "a", Value: "1"})); err != nil {
		t.Fatalf("save: %v", err)
	}

	dev.InjectFault(blockdev.Fault{Op: blockdev.OpErase, Completed: 4})
	err := b.Erase(ctx)
	var ioErr *bootenv.IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "erase" || ioErr.Copy != 0 {
		t.Fatalf("expected erase IOError for copy 0, got %v", err)
	}
	if dev.Stats().Erases != 2 {
		t.Fatalf("expected both copies attempted, got %d erases", dev.Stats().Erases)
	}
	if b.Active() != bootenv.SlotNone {
		t.Fatalf("expected no active slot after erase, got %s", b.Active())
	}

	if err := b.Erase(ctx); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if _, err := b.Load(ctx); !errors.Is(err, bootenv.ErrNoValidCopy) {
		t.Fatalf("expected ErrNoValidCopy after erase, got %v", err)
	}
}

func TestBackendLogsSaves(t *testing.T) {
	var events []bootenv.LogEvent
	dev := blockdev.NewMemoryDevice(blockSize, 64)
	b, err := backend.Register("mmc0", []int64{0, 0x2000}, slotSize, true, dev,
		backend.WithLogger(bootenv.LoggerFunc(func(event bootenv.LogEvent) { events = append(events, event) })),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := b.Save(context.Background(), bootenv.NewEnvironment()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(events) == 0 || events[0].Message != "writing to primary copy" {
		t.Fatalf("expected a write announcement, got %+v", events)
	}
}
