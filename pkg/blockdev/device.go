// Package blockdev defines the block device contract environment backends
// persist through, plus an in-memory device and one backed by a file or a
// raw device node.
//
// Every operation addresses whole blocks. Implementations report how many
// blocks completed; a count below the request is a failure even when the
// returned error is nil.
package blockdev

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange indicates an operation past the end of the device.
	ErrOutOfRange = errors.New("blockdev: block range outside device")
	// ErrUnaligned indicates a buffer that is not a whole number of blocks.
	ErrUnaligned = errors.New("blockdev: buffer not a multiple of block size")
	// ErrClosed indicates use of a closed device.
	ErrClosed = errors.New("blockdev: device closed")
)

// Device is a block-addressed storage medium.
type Device interface {
	// BlockSize returns the size of one block in bytes.
	BlockSize() int
	// CapacityBlocks returns the number of addressable blocks.
	CapacityBlocks() uint64
	// ReadBlocks fills buf, len(buf)/BlockSize blocks starting at start.
	ReadBlocks(ctx context.Context, start uint64, buf []byte) (uint64, error)
	// WriteBlocks writes buf, len(buf)/BlockSize blocks starting at start.
	WriteBlocks(ctx context.Context, start uint64, buf []byte) (uint64, error)
	// EraseBlocks returns count blocks starting at start to the erased state.
	EraseBlocks(ctx context.Context, start, count uint64) (uint64, error)
}

// AlignUp rounds n up to a multiple of size. size must be positive.
func AlignUp(n, size uint64) uint64 {
	if size == 0 {
		return n
	}
	if rem := n % size; rem != 0 {
		return n + size - rem
	}
	return n
}

// BlocksFor returns the number of blocks needed to hold n bytes.
func BlocksFor(n uint64, blockSize int) uint64 {
	if blockSize <= 0 {
		return 0
	}
	return AlignUp(n, uint64(blockSize)) / uint64(blockSize)
}

// SizeBytes returns the device capacity in bytes.
func SizeBytes(dev Device) uint64 {
	return dev.CapacityBlocks() * uint64(dev.BlockSize())
}

func checkBuffer(blockSize int, buf []byte) (uint64, error) {
	if blockSize <= 0 || len(buf)%blockSize != 0 {
		return 0, fmt.Errorf("%w: %d bytes, block size %d", ErrUnaligned, len(buf), blockSize)
	}
	return uint64(len(buf) / blockSize), nil
}

func checkRange(capacity, start, count uint64) error {
	if start > capacity || count > capacity-start {
		return fmt.Errorf("%w: blocks %d+%d, capacity %d", ErrOutOfRange, start, count, capacity)
	}
	return nil
}

func contextErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
