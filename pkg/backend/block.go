package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	bootenv "github.com/goliatone/go-bootenv"
	"github.com/goliatone/go-bootenv/pkg/blockdev"
)

// RegisterOption configures a BlockBackend at registration.
type RegisterOption func(*registerConfig)

type registerConfig struct {
	priority int
	resolver AddressResolver
	logger   bootenv.Logger
}

// WithPriority sets the load order; higher priorities are tried first.
func WithPriority(priority int) RegisterOption {
	return func(cfg *registerConfig) {
		cfg.priority = priority
	}
}

// WithAddressResolver replaces the default offset resolution.
func WithAddressResolver(resolver AddressResolver) RegisterOption {
	return func(cfg *registerConfig) {
		if resolver != nil {
			cfg.resolver = resolver
		}
	}
}

// WithLogger records loads, saves and erases.
func WithLogger(logger bootenv.Logger) RegisterOption {
	return func(cfg *registerConfig) {
		cfg.logger = logger
	}
}

// span is the block range one copy occupies.
type span struct {
	offset uint64
	start  uint64
	blocks uint64
}

// BlockBackend keeps the environment in one or two slots of a block device.
type BlockBackend struct {
	desc   Descriptor
	layout bootenv.Layout
	dev    blockdev.Device
	spans  [2]span
	logger bootenv.Logger

	// active is the slot holding the current generation; images caches the
	// last known content of each slot so the previous copy can be demoted
	// without reading it back.
	active bootenv.Slot
	images [2][]byte
}

// Register validates a block backend configuration. offsets holds the primary
// offset and, when redundant, the redundant one. Every problem is reported as
// a *bootenv.ConfigError.
func Register(name string, offsets []int64, slotSize int, redundant bool, dev blockdev.Device, opts ...RegisterOption) (*BlockBackend, error) {
	cfg := registerConfig{resolver: DefaultAddressResolver()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	configErr := func(field, format string, args ...any) error {
		return &bootenv.ConfigError{Backend: name, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	if name == "" {
		return nil, configErr("name", "must not be empty")
	}
	if dev == nil {
		return nil, configErr("device", "is required")
	}
	blockSize := dev.BlockSize()
	if blockSize <= 0 {
		return nil, configErr("block_size", "device reports %d", blockSize)
	}
	layout := bootenv.Layout{SlotSize: slotSize, Redundant: redundant}
	if slotSize <= layout.HeaderSize() {
		return nil, configErr("slot_size", "%d leaves no room after the %d byte header", slotSize, layout.HeaderSize())
	}
	desc := Descriptor{Name: name, Priority: cfg.priority, SlotSize: slotSize, Redundant: redundant}
	switch {
	case len(offsets) == 0:
		return nil, configErr("offsets", "primary offset is required")
	case redundant && len(offsets) < 2:
		return nil, configErr("offsets", "redundant offset is required")
	case len(offsets) > 2 || (!redundant && len(offsets) > 1):
		return nil, configErr("offsets", "%d offsets for %d copies", len(offsets), desc.Copies())
	}
	copy(desc.Offsets[:], offsets)

	deviceBytes := blockdev.SizeBytes(dev)
	blocks := blockdev.BlocksFor(uint64(slotSize), blockSize)
	b := &BlockBackend{
		desc:   desc,
		layout: layout,
		dev:    dev,
		logger: bootenv.LoggerOrNop(cfg.logger),
		active: bootenv.SlotNone,
	}
	for i := 0; i < desc.Copies(); i++ {
		offset, err := cfg.resolver.Resolve(desc.Offsets[i], blockSize, deviceBytes)
		if err != nil {
			return nil, configErr("offsets", "copy %d: %v", i, err)
		}
		if offset%uint64(blockSize) != 0 {
			return nil, configErr("offsets", "copy %d: resolved offset 0x%x is not block aligned", i, offset)
		}
		s := span{offset: offset, start: offset / uint64(blockSize), blocks: blocks}
		if s.start > dev.CapacityBlocks() || s.blocks > dev.CapacityBlocks()-s.start {
			return nil, configErr("offsets", "copy %d at 0x%x spans past the %d byte device", i, offset, deviceBytes)
		}
		b.spans[i] = s
	}
	if redundant {
		p, r := b.spans[0], b.spans[1]
		if p.start < r.start+r.blocks && r.start < p.start+p.blocks {
			return nil, configErr("offsets", "copies at 0x%x and 0x%x overlap", p.offset, r.offset)
		}
	}
	return b, nil
}

// Descriptor implements Backend.
func (b *BlockBackend) Descriptor() Descriptor {
	return b.desc
}

// Active returns the slot holding the current generation, or SlotNone before
// the first successful load or save.
func (b *BlockBackend) Active() bootenv.Slot {
	return b.active
}

// Offset returns the resolved byte offset of slot.
func (b *BlockBackend) Offset(slot bootenv.Slot) uint64 {
	if slot < 0 || int(slot) >= b.desc.Copies() {
		return 0
	}
	return b.spans[slot].offset
}

// Load implements Backend.
func (b *BlockBackend) Load(ctx context.Context) (LoadResult, error) {
	if err := ctx.Err(); err != nil {
		return LoadResult{}, err
	}
	start := time.Now()
	var results [2]bootenv.DecodeResult
	var raws [2][]byte
	for i := 0; i < b.desc.Copies(); i++ {
		raws[i], results[i] = b.readCopy(ctx, bootenv.Slot(i))
	}

	var selection bootenv.Selection
	var err error
	if b.desc.Redundant {
		selection, err = bootenv.Select(results[0], results[1])
	} else {
		selection, err = bootenv.SelectSingle(results[0])
	}
	if err != nil {
		b.active = bootenv.SlotNone
		b.images = [2][]byte{}
		b.logger.Log(bootenv.LogEvent{
			Level:    bootenv.LevelWarn,
			Op:       "load",
			Message:  "no valid environment copy",
			Backend:  b.desc.Name,
			Duration: time.Since(start),
			Err:      err,
		})
		return LoadResult{}, err
	}

	b.active = selection.Slot
	b.images = raws
	result := LoadResult{
		Env:      selection.Record.Env,
		Slot:     selection.Slot,
		Flag:     selection.Record.Flag,
		Degraded: selection.Degraded,
	}
	for i := range results {
		result.CopyErrors[i] = results[i].Err
	}
	if selection.Degraded {
		b.logger.Log(bootenv.LogEvent{
			Level:   bootenv.LevelWarn,
			Op:      "load",
			Message: "environment copy failed, using the other one",
			Backend: b.desc.Name,
			Slot:    selection.Slot.Other().String(),
			Err:     results[selection.Slot.Other()].Err,
		})
	}
	b.logger.Log(bootenv.LogEvent{
		Level:    bootenv.LevelDebug,
		Op:       "load",
		Message:  "loaded environment",
		Backend:  b.desc.Name,
		Slot:     selection.Slot.String(),
		Duration: time.Since(start),
		Fields:   map[string]any{"flag": selection.Record.Flag.String(), "keys": selection.Record.Env.Len()},
	})
	return result, nil
}

func (b *BlockBackend) readCopy(ctx context.Context, slot bootenv.Slot) ([]byte, bootenv.DecodeResult) {
	s := b.spans[slot]
	buf := make([]byte, s.blocks*uint64(b.dev.BlockSize()))
	n, err := b.dev.ReadBlocks(ctx, s.start, buf)
	if err != nil || n < s.blocks {
		return nil, bootenv.DecodeResult{Err: &bootenv.IOError{Op: "read", Copy: int(slot), Requested: s.blocks, Completed: n, Err: err}}
	}
	record, err := b.layout.Decode(buf[:b.desc.SlotSize])
	if err != nil {
		return nil, bootenv.DecodeResult{Err: fmt.Errorf("%s copy: %w", slot, err)}
	}
	return buf, bootenv.DecodeResult{Record: record}
}

// Save implements Backend. The new generation goes to the inactive slot with
// FlagValid; the previous generation is then re-flagged FlagRedundant. The
// active slot only moves once both writes completed.
func (b *BlockBackend) Save(ctx context.Context, env *bootenv.Environment) (SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return SaveResult{}, err
	}
	target := bootenv.SlotPrimary
	if b.desc.Redundant {
		target = b.active.Other()
	}

	encoded, err := b.layout.Encode(env, bootenv.FlagValid)
	if err != nil {
		return SaveResult{}, err
	}
	s := b.spans[target]
	buf := make([]byte, s.blocks*uint64(b.dev.BlockSize()))
	copy(buf, encoded)

	message := "writing environment"
	if b.desc.Redundant {
		message = fmt.Sprintf("writing to %s copy", target)
	}
	b.logger.Log(bootenv.LogEvent{
		Level:   bootenv.LevelInfo,
		Op:      "save",
		Message: message,
		Backend: b.desc.Name,
		Slot:    target.String(),
		Fields:  map[string]any{"offset": s.offset, "blocks": s.blocks},
	})

	start := time.Now()
	n, err := b.dev.WriteBlocks(ctx, s.start, buf)
	if err != nil || n < s.blocks {
		ioErr := &bootenv.IOError{Op: "write", Copy: int(target), Requested: s.blocks, Completed: n, Err: err}
		b.images[target] = nil
		b.logSaveFailure(target, ioErr)
		return SaveResult{}, ioErr
	}
	b.images[target] = buf

	result := SaveResult{Slot: target, Offset: s.offset}
	if b.desc.Redundant && b.active != bootenv.SlotNone {
		if err := b.reflag(ctx, b.active, bootenv.FlagRedundant); err != nil {
			b.logSaveFailure(b.active, err)
			// Demote the new copy too so the previous one keeps winning.
			if rbErr := b.reflag(ctx, target, bootenv.FlagRedundant); rbErr != nil {
				b.logSaveFailure(target, rbErr)
			}
			return SaveResult{}, err
		}
		result.Demoted = true
	}
	b.active = target
	b.logger.Log(bootenv.LogEvent{
		Level:    bootenv.LevelDebug,
		Op:       "save",
		Message:  "saved environment",
		Backend:  b.desc.Name,
		Slot:     target.String(),
		Duration: time.Since(start),
		Fields:   map[string]any{"keys": env.Len(), "demoted": result.Demoted},
	})
	return result, nil
}

// reflag rewrites the blocks holding the header of slot with flag.
func (b *BlockBackend) reflag(ctx context.Context, slot bootenv.Slot, flag bootenv.Flag) error {
	image := b.images[slot]
	if image == nil {
		return fmt.Errorf("backend %s: no cached image for %s copy", b.desc.Name, slot)
	}
	if err := b.layout.Reflag(image[:b.desc.SlotSize], flag); err != nil {
		return err
	}
	blockSize := b.dev.BlockSize()
	headerBlocks := blockdev.BlocksFor(uint64(b.layout.HeaderSize()), blockSize)
	s := b.spans[slot]
	n, err := b.dev.WriteBlocks(ctx, s.start, image[:headerBlocks*uint64(blockSize)])
	if err != nil || n < headerBlocks {
		return &bootenv.IOError{Op: "write", Copy: int(slot), Requested: headerBlocks, Completed: n, Err: err}
	}
	return nil
}

func (b *BlockBackend) logSaveFailure(slot bootenv.Slot, err error) {
	b.logger.Log(bootenv.LogEvent{
		Level:   bootenv.LevelError,
		Op:      "save",
		Message: "saving environment failed",
		Backend: b.desc.Name,
		Slot:    slot.String(),
		Err:     err,
	})
}

// Erase implements Backend. Every copy is attempted; failures are joined and
// nothing is rolled back.
func (b *BlockBackend) Erase(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var errs []error
	for i := 0; i < b.desc.Copies(); i++ {
		s := b.spans[i]
		n, err := b.dev.EraseBlocks(ctx, s.start, s.blocks)
		if err != nil || n < s.blocks {
			errs = append(errs, &bootenv.IOError{Op: "erase", Copy: i, Requested: s.blocks, Completed: n, Err: err})
		}
	}
	b.active = bootenv.SlotNone
	b.images = [2][]byte{}
	err := errors.Join(errs...)
	level := bootenv.LevelInfo
	if err != nil {
		level = bootenv.LevelError
	}
	b.logger.Log(bootenv.LogEvent{
		Level:   level,
		Op:      "erase",
		Message: "erased environment",
		Backend: b.desc.Name,
		Err:     err,
	})
	return err
}
