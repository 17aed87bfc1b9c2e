package blockdev

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileDeviceImageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.img")
	dev, err := OpenFile(path, WithSize(64*512))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	if dev.BlockSize() != DefaultBlockSize || dev.CapacityBlocks() != 64 {
		t.Fatalf("unexpected geometry %d x %d", dev.BlockSize(), dev.CapacityBlocks())
	}

	ctx := context.Background()
	payload := bytes.Repeat([]byte("env!"), 256)
	if n, err := dev.WriteBlocks(ctx, 16, payload); err != nil || n != 2 {
		t.Fatalf("expected 2 blocks written, got %d (%v)", n, err)
	}
	buf := make([]byte, len(payload))
	if n, err := dev.ReadBlocks(ctx, 16, buf); err != nil || n != 2 {
		t.Fatalf("expected 2 blocks read, got %d (%v)", n, err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("expected payload back")
	}

	if n, err := dev.EraseBlocks(ctx, 16, 2); err != nil || n != 2 {
		t.Fatalf("expected 2 blocks erased, got %d (%v)", n, err)
	}
	if _, err := dev.ReadBlocks(ctx, 16, buf); err != nil {
		t.Fatalf("read after erase: %v", err)
	}
	if !bytes.Equal(buf, make([]byte, len(buf))) {
		t.Fatalf("expected zeros after erase on an image file")
	}
}

func TestFileDeviceEraseZeroesAfterDiscard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mmcblk0.img")
	dev, err := OpenFile(path, WithSize(64*512))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	// A discard that succeeds but leaves the blocks readable, as many eMMC
	// parts do.
	var discarded [2]uint64
	dev.blockDev = true
	dev.discard = func(_ *os.File, offset, length uint64) error {
		discarded = [2]uint64{offset, length}
		return nil
	}

	ctx := context.Background()
	payload := bytes.Repeat([]byte{0xA5}, 4*512)
	if _, err := dev.WriteBlocks(ctx, 8, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if n, err := dev.EraseBlocks(ctx, 8, 4); err != nil || n != 4 {
		t.Fatalf("expected 4 blocks erased, got %d (%v)", n, err)
	}
	if discarded != [2]uint64{8 * 512, 4 * 512} {
		t.Fatalf("expected discard of the erased range, got %v", discarded)
	}

	buf := make([]byte, len(payload))
	if _, err := dev.ReadBlocks(ctx, 8, buf); err != nil {
		t.Fatalf("read after erase: %v", err)
	}
	if !bytes.Equal(buf, make([]byte, len(buf))) {
		t.Fatalf("expected zeros after erase on a block device")
	}
}

func TestFileDeviceRangeAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.img")
	if err := os.WriteFile(path, make([]byte, 4*512), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	dev, err := OpenFile(path, WithBlockSize(1024))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if dev.CapacityBlocks() != 2 {
		t.Fatalf("expected 2 blocks of 1024, got %d", dev.CapacityBlocks())
	}
	ctx := context.Background()
	if _, err := dev.WriteBlocks(ctx, 2, make([]byte, 1024)); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := dev.ReadBlocks(ctx, 0, make([]byte, 1024)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOpenFileMissing(t *testing.T) {
	if _, err := OpenFile(filepath.Join(t.TempDir(), "missing.img")); err == nil {
		t.Fatalf("expected error for missing image without size")
	}
}
