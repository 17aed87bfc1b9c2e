package bootenv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
)

// Flag marks which of two redundant copies is authoritative.
type Flag uint8

const (
	// FlagRedundant marks the previous generation.
	FlagRedundant Flag = 0x00
	// FlagValid marks the most recently written copy.
	FlagValid Flag = 0x01
)

func (f Flag) String() string {
	switch f {
	case FlagValid:
		return "valid"
	case FlagRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("undefined(0x%02x)", uint8(f))
	}
}

const (
	checksumSize = 4
	lengthSize   = 4
	flagSize     = 1
)

// Layout describes one Stored Copy on the medium:
//
//	checksum u32 | length u32 | flag u8 (redundant only) | payload | zero padding
//
// Integers are little-endian. The checksum is CRC-32 (IEEE) over the length,
// the flag and payload[:length].
type Layout struct {
	SlotSize  int
	Redundant bool
}

// HeaderSize returns the bytes that precede the payload.
func (l Layout) HeaderSize() int {
	if l.Redundant {
		return checksumSize + lengthSize + flagSize
	}
	return checksumSize + lengthSize
}

// Capacity returns the largest payload, final NUL included, a slot can carry.
func (l Layout) Capacity() int {
	return l.SlotSize - l.HeaderSize()
}

// Record is a decoded Stored Copy.
type Record struct {
	Env      *Environment
	Flag     Flag
	Length   uint32
	Checksum uint32
}

// Size returns the encoded payload size of env, final NUL included.
func Size(env *Environment) int {
	size := 1
	for _, pair := range env.Pairs() {
		size += len(pair.Key) + 1 + len(pair.Value) + 1
	}
	return size
}

// Encode serializes env into a SlotSize buffer. flag is ignored for
// single-copy layouts.
func (l Layout) Encode(env *Environment, flag Flag) ([]byte, error) {
	if l.Capacity() < 1 {
		return nil, fmt.Errorf("bootenv: slot size %d leaves no room for payload", l.SlotSize)
	}
	size := Size(env)
	if size > l.Capacity() {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrEnvironmentTooLarge, size, l.Capacity())
	}

	buf := make([]byte, l.SlotSize)
	payload := buf[l.HeaderSize():l.HeaderSize()]
	for _, pair := range env.Pairs() {
		if err := validatePair(pair); err != nil {
			return nil, err
		}
		payload = append(payload, pair.Key...)
		payload = append(payload, '=')
		payload = append(payload, pair.Value...)
		payload = append(payload, 0)
	}
	payload = append(payload, 0)

	binary.LittleEndian.PutUint32(buf[checksumSize:], uint32(len(payload)))
	if l.Redundant {
		buf[checksumSize+lengthSize] = byte(flag)
	}
	binary.LittleEndian.PutUint32(buf, l.checksum(buf, len(payload)))
	return buf, nil
}

// Decode parses one Stored Copy. Any failure is a *CorruptionError.
func (l Layout) Decode(buf []byte) (Record, error) {
	if len(buf) != l.SlotSize {
		return Record{}, corruptf(0, "buffer is %d bytes, slot is %d", len(buf), l.SlotSize)
	}
	header := l.HeaderSize()
	if l.SlotSize <= header {
		return Record{}, corruptf(0, "slot size %d leaves no room for payload", l.SlotSize)
	}

	stored := binary.LittleEndian.Uint32(buf)
	length := binary.LittleEndian.Uint32(buf[checksumSize:])
	if length == 0 || uint64(length) > uint64(l.Capacity()) {
		return Record{}, corruptf(checksumSize, "length %d outside 1..%d", length, l.Capacity())
	}
	if sum := l.checksum(buf, int(length)); sum != stored {
		return Record{}, corruptf(0, "checksum 0x%08x, computed 0x%08x", stored, sum)
	}
	end := header + int(length)
	for i, b := range buf[end:] {
		if b != 0 {
			return Record{}, corruptf(end+i, "non-zero padding")
		}
	}

	env, err := parsePayload(buf[header:end], header)
	if err != nil {
		return Record{}, err
	}
	record := Record{Env: env, Length: length, Checksum: stored}
	if l.Redundant {
		record.Flag = Flag(buf[checksumSize+lengthSize])
	}
	return record, nil
}

// Reflag rewrites the flag of an encoded redundant copy in place and refreshes
// its checksum. Only the header bytes change.
func (l Layout) Reflag(buf []byte, flag Flag) error {
	if !l.Redundant {
		return fmt.Errorf("bootenv: reflag on a single-copy layout")
	}
	if len(buf) != l.SlotSize {
		return fmt.Errorf("bootenv: buffer is %d bytes, slot is %d", len(buf), l.SlotSize)
	}
	length := binary.LittleEndian.Uint32(buf[checksumSize:])
	if length == 0 || uint64(length) > uint64(l.Capacity()) {
		return corruptf(checksumSize, "length %d outside 1..%d", length, l.Capacity())
	}
	buf[checksumSize+lengthSize] = byte(flag)
	binary.LittleEndian.PutUint32(buf, l.checksum(buf, int(length)))
	return nil
}

func (l Layout) checksum(buf []byte, length int) uint32 {
	return crc32.ChecksumIEEE(buf[checksumSize : l.HeaderSize()+length])
}

func parsePayload(payload []byte, base int) (*Environment, error) {
	if payload[len(payload)-1] != 0 {
		return nil, corruptf(base+len(payload)-1, "payload not terminated")
	}
	env := NewEnvironment()
	offset := 0
	body := payload[:len(payload)-1]
	for offset < len(body) {
		n := bytes.IndexByte(body[offset:], 0)
		if n < 0 {
			return nil, corruptf(base+offset, "entry not terminated")
		}
		entry := string(body[offset : offset+n])
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, corruptf(base+offset, "malformed entry %q", entry)
		}
		if _, exists := env.Get(key); exists {
			return nil, corruptf(base+offset, "duplicate key %q", key)
		}
		env.Set(key, value)
		offset += n + 1
	}
	return env, nil
}

func validatePair(pair Pair) error {
	if pair.Key == "" || strings.ContainsAny(pair.Key, "=\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, pair.Key)
	}
	if strings.IndexByte(pair.Value, 0) >= 0 {
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidValue, pair.Key)
	}
	return nil
}

// ValidatePair checks that key and value can be serialized.
func ValidatePair(key, value string) error {
	return validatePair(Pair{Key: key, Value: value})
}
