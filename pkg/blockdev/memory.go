package blockdev

import (
	"context"
	"fmt"
	"sync"
)

// Op names a block operation for fault injection.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
	OpErase Op = "erase"
)

// Fault makes the next matching operation stop after Completed blocks. The
// blocks before the cut are applied, which models a write torn by power loss.
// Err is returned alongside the short count; nil models a silent short count.
type Fault struct {
	Op        Op
	Completed uint64
	Err       error
}

// MemoryOption configures a MemoryDevice.
type MemoryOption func(*MemoryDevice)

// WithEraseByte sets the byte erased and never-written blocks read back as.
func WithEraseByte(b byte) MemoryOption {
	return func(d *MemoryDevice) {
		d.eraseByte = b
	}
}

// MemoryDevice is an in-memory block device. Only written blocks are
// allocated, so large capacities cost nothing until used.
type MemoryDevice struct {
	mu        sync.Mutex
	blockSize int
	capacity  uint64
	eraseByte byte
	blocks    map[uint64][]byte
	faults    []Fault
	stats     Stats
}

// Stats counts completed operations.
type Stats struct {
	Reads         int
	Writes        int
	Erases        int
	BlocksRead    uint64
	BlocksWritten uint64
	BlocksErased  uint64
}

// NewMemoryDevice allocates a device of capacity blocks of blockSize bytes.
func NewMemoryDevice(blockSize int, capacity uint64, opts ...MemoryOption) *MemoryDevice {
	d := &MemoryDevice{
		blockSize: blockSize,
		capacity:  capacity,
		blocks:    make(map[uint64][]byte),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *MemoryDevice) BlockSize() int { return d.blockSize }

func (d *MemoryDevice) CapacityBlocks() uint64 { return d.capacity }

// InjectFault queues a fault; faults fire in order, one per matching operation.
func (d *MemoryDevice) InjectFault(f Fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = append(d.faults, f)
}

// Stats returns a copy of the operation counters.
func (d *MemoryDevice) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *MemoryDevice) ReadBlocks(ctx context.Context, start uint64, buf []byte) (uint64, error) {
	if err := contextErr(ctx); err != nil {
		return 0, err
	}
	count, err := checkBuffer(d.blockSize, buf)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkRange(d.capacity, start, count); err != nil {
		return 0, err
	}
	limit, faultErr := d.takeFault(OpRead, count)
	for i := uint64(0); i < limit; i++ {
		d.readBlock(start+i, buf[i*uint64(d.blockSize):(i+1)*uint64(d.blockSize)])
	}
	d.stats.Reads++
	d.stats.BlocksRead += limit
	return limit, faultErr
}

func (d *MemoryDevice) WriteBlocks(ctx context.Context, start uint64, buf []byte) (uint64, error) {
	if err := contextErr(ctx); err != nil {
		return 0, err
	}
	count, err := checkBuffer(d.blockSize, buf)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkRange(d.capacity, start, count); err != nil {
		return 0, err
	}
	limit, faultErr := d.takeFault(OpWrite, count)
	for i := uint64(0); i < limit; i++ {
		block := make([]byte, d.blockSize)
		copy(block, buf[i*uint64(d.blockSize):])
		d.blocks[start+i] = block
	}
	d.stats.Writes++
	d.stats.BlocksWritten += limit
	return limit, faultErr
}

func (d *MemoryDevice) EraseBlocks(ctx context.Context, start, count uint64) (uint64, error) {
	if err := contextErr(ctx); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkRange(d.capacity, start, count); err != nil {
		return 0, err
	}
	limit, faultErr := d.takeFault(OpErase, count)
	for i := uint64(0); i < limit; i++ {
		delete(d.blocks, start+i)
	}
	d.stats.Erases++
	d.stats.BlocksErased += limit
	return limit, faultErr
}

// Peek returns n bytes at byte offset off, bypassing faults and counters.
func (d *MemoryDevice) Peek(off uint64, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, n)
	block := make([]byte, d.blockSize)
	for i := 0; i < n; {
		lba := (off + uint64(i)) / uint64(d.blockSize)
		within := int((off + uint64(i)) % uint64(d.blockSize))
		d.readBlock(lba, block)
		i += copy(out[i:], block[within:])
	}
	return out
}

// Poke overwrites bytes at byte offset off, bypassing faults and counters.
// Tests use it to corrupt stored copies.
func (d *MemoryDevice) Poke(off uint64, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < len(data); {
		lba := (off + uint64(i)) / uint64(d.blockSize)
		within := int((off + uint64(i)) % uint64(d.blockSize))
		block, ok := d.blocks[lba]
		if !ok {
			block = make([]byte, d.blockSize)
			d.readBlock(lba, block)
			d.blocks[lba] = block
		}
		i += copy(block[within:], data[i:])
	}
}

func (d *MemoryDevice) readBlock(lba uint64, dst []byte) {
	if block, ok := d.blocks[lba]; ok {
		copy(dst, block)
		return
	}
	for i := range dst {
		dst[i] = d.eraseByte
	}
}

func (d *MemoryDevice) takeFault(op Op, count uint64) (uint64, error) {
	for i, f := range d.faults {
		if f.Op != op {
			continue
		}
		d.faults = append(d.faults[:i], d.faults[i+1:]...)
		limit := f.Completed
		if limit > count {
			limit = count
		}
		if f.Err != nil {
			return limit, fmt.Errorf("blockdev: injected %s fault: %w", op, f.Err)
		}
		return limit, nil
	}
	return count, nil
}
