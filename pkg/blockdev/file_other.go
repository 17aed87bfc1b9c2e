//go:build !linux

package blockdev

import (
	"errors"
	"os"
)

func probeBlockSize(*os.File) int {
	return 0
}

func discard(*os.File, uint64, uint64) error {
	return errors.New("blockdev: discard not supported")
}
