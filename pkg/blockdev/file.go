package blockdev

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultBlockSize is used for image files and for device nodes whose
// logical block size cannot be queried.
const DefaultBlockSize = 512

// FileOption configures a FileDevice.
type FileOption func(*fileConfig)

type fileConfig struct {
	blockSize int
	size      int64
	readOnly  bool
}

// WithBlockSize overrides the probed block size.
func WithBlockSize(size int) FileOption {
	return func(cfg *fileConfig) {
		cfg.blockSize = size
	}
}

// WithSize grows a regular file to size bytes when it is smaller, so a fresh
// image can be created in one call.
func WithSize(size int64) FileOption {
	return func(cfg *fileConfig) {
		cfg.size = size
	}
}

// WithReadOnly opens the file without write access.
func WithReadOnly() FileOption {
	return func(cfg *fileConfig) {
		cfg.readOnly = true
	}
}

// FileDevice is a Device over a disk image or a raw block device node such
// as /dev/mmcblk0. Erase always writes zeros; on Linux block devices the
// range is discarded first.
type FileDevice struct {
	mu        sync.Mutex
	file      *os.File
	blockSize int
	capacity  uint64
	blockDev  bool
	discard   func(file *os.File, offset, length uint64) error
}

// OpenFile opens path as a block device.
func OpenFile(path string, opts ...FileOption) (*FileDevice, error) {
	cfg := fileConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	flags := os.O_RDWR
	if cfg.readOnly {
		flags = os.O_RDONLY
	} else if cfg.size > 0 {
		flags |= os.O_CREATE
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("blockdev: stat %s: %w", path, err)
	}
	blockDev := info.Mode()&os.ModeDevice != 0

	if !blockDev && cfg.size > info.Size() && !cfg.readOnly {
		if err := file.Truncate(cfg.size); err != nil {
			file.Close()
			return nil, fmt.Errorf("blockdev: grow %s: %w", path, err)
		}
	}

	blockSize := cfg.blockSize
	if blockSize <= 0 && blockDev {
		blockSize = probeBlockSize(file)
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("blockdev: size %s: %w", path, err)
	}

	return &FileDevice{
		file:      file,
		blockSize: blockSize,
		capacity:  uint64(size) / uint64(blockSize),
		blockDev:  blockDev,
		discard:   discard,
	}, nil
}

func (d *FileDevice) BlockSize() int { return d.blockSize }

func (d *FileDevice) CapacityBlocks() uint64 { return d.capacity }

// Name returns the path the device was opened with.
func (d *FileDevice) Name() string {
	if d.file == nil {
		return ""
	}
	return d.file.Name()
}

func (d *FileDevice) ReadBlocks(ctx context.Context, start uint64, buf []byte) (uint64, error) {
	count, err := d.prepare(ctx, start, buf)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return 0, ErrClosed
	}
	n, err := d.file.ReadAt(buf, int64(start)*int64(d.blockSize))
	done := uint64(n / d.blockSize)
	if err == io.EOF && done == count {
		err = nil
	}
	return done, err
}

func (d *FileDevice) WriteBlocks(ctx context.Context, start uint64, buf []byte) (uint64, error) {
	if _, err := d.prepare(ctx, start, buf); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return 0, ErrClosed
	}
	n, err := d.file.WriteAt(buf, int64(start)*int64(d.blockSize))
	if err == nil {
		err = d.file.Sync()
	}
	return uint64(n / d.blockSize), err
}

func (d *FileDevice) EraseBlocks(ctx context.Context, start, count uint64) (uint64, error) {
	if err := contextErr(ctx); err != nil {
		return 0, err
	}
	if err := checkRange(d.capacity, start, count); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return 0, ErrClosed
	}
	offset := start * uint64(d.blockSize)
	length := count * uint64(d.blockSize)
	// Reads after a discard may still return the old data.
	if d.blockDev && d.discard != nil {
		_ = d.discard(d.file, offset, length)
	}
	zeros := make([]byte, d.blockSize)
	for i := uint64(0); i < count; i++ {
		if _, err := d.file.WriteAt(zeros, int64(offset+i*uint64(d.blockSize))); err != nil {
			return i, err
		}
	}
	return count, d.file.Sync()
}

// Close releases the underlying file.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

func (d *FileDevice) prepare(ctx context.Context, start uint64, buf []byte) (uint64, error) {
	if err := contextErr(ctx); err != nil {
		return 0, err
	}
	count, err := checkBuffer(d.blockSize, buf)
	if err != nil {
		return 0, err
	}
	if err := checkRange(d.capacity, start, count); err != nil {
		return 0, err
	}
	return count, nil
}
