package backend

import (
	"fmt"

	"github.com/goliatone/go-bootenv/pkg/blockdev"
)

// AddressResolver maps a configured offset to an absolute, block-aligned
// byte offset. Boards with a fixed environment location inject their own.
type AddressResolver interface {
	Resolve(offset int64, blockSize int, deviceBytes uint64) (uint64, error)
}

// AddressResolverFunc adapts a function to AddressResolver.
type AddressResolverFunc func(offset int64, blockSize int, deviceBytes uint64) (uint64, error)

// Resolve implements AddressResolver.
func (f AddressResolverFunc) Resolve(offset int64, blockSize int, deviceBytes uint64) (uint64, error) {
	return f(offset, blockSize, deviceBytes)
}

// DefaultAddressResolver treats negative offsets as relative to the end of
// the device and rounds every offset up to the next block boundary.
func DefaultAddressResolver() AddressResolver {
	return AddressResolverFunc(resolveOffset)
}

// FixedAddress ignores the configured offset for the primary copy and places
// it at base; the redundant copy follows at base plus the distance between
// the configured offsets.
func FixedAddress(base uint64, primary int64) AddressResolver {
	return AddressResolverFunc(func(offset int64, blockSize int, deviceBytes uint64) (uint64, error) {
		delta := offset - primary
		if delta < 0 && uint64(-delta) > base {
			return 0, fmt.Errorf("offset %d before fixed base 0x%x", offset, base)
		}
		return blockdev.AlignUp(uint64(int64(base)+delta), uint64(blockSize)), nil
	})
}

func resolveOffset(offset int64, blockSize int, deviceBytes uint64) (uint64, error) {
	var abs uint64
	if offset < 0 {
		back := uint64(-offset)
		if back > deviceBytes {
			return 0, fmt.Errorf("offset %d reaches before the start of a %d byte device", offset, deviceBytes)
		}
		abs = deviceBytes - back
	} else {
		abs = uint64(offset)
	}
	return blockdev.AlignUp(abs, uint64(blockSize)), nil
}
