package relay

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Flag describes the payload carried by a frame.
type Flag byte

const (
	PayloadEmpty   Flag = 2
	PayloadRaw     Flag = 4
	PayloadError   Flag = 8
	PayloadControl Flag = 16

	// CodecCBOR marks a control frame whose body is CBOR instead of JSON.
	CodecCBOR Flag = 32
)

// PrefixSize is the size of the frame header: one flags byte followed by the
// body size as little endian and again as big endian uint64.
const PrefixSize = 17

// DefaultMaxFrameSize mirrors the 10 MiB cap the front end enforces.
const DefaultMaxFrameSize = 10 * 1024 * 1024

var (
	ErrChecksum      = errors.New("relay: frame size checksum mismatch")
	ErrFrameTooLarge = errors.New("relay: frame exceeds size limit")
)

// Has reports whether all bits of f2 are set in f.
func (f Flag) Has(f2 Flag) bool {
	return f&f2 == f2
}

func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	names := []struct {
		flag Flag
		name string
	}{
		{PayloadEmpty, "empty"},
		{PayloadRaw, "raw"},
		{PayloadError, "error"},
		{PayloadControl, "control"},
		{CodecCBOR, "cbor"},
	}
	s := ""
	for _, n := range names {
		if f.Has(n.flag) {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return fmt.Sprintf("0x%02x", byte(f))
	}
	return s
}

// Frame is one unit of the wire protocol.
type Frame struct {
	Flags Flag
	Body  []byte
}

// appendPrefix writes the 17 byte header for a body of size n.
func appendPrefix(dst []byte, flags Flag, n int) []byte {
	var prefix [PrefixSize]byte
	prefix[0] = byte(flags)
	binary.LittleEndian.PutUint64(prefix[1:9], uint64(n))
	binary.BigEndian.PutUint64(prefix[9:17], uint64(n))
	return append(dst, prefix[:]...)
}

// parsePrefix validates a header and returns its flags and body size.
func parsePrefix(prefix []byte, maxSize int) (Flag, int, error) {
	le := binary.LittleEndian.Uint64(prefix[1:9])
	be := binary.BigEndian.Uint64(prefix[9:17])
	if le != be {
		return 0, 0, ErrChecksum
	}
	if maxSize > 0 && le > uint64(maxSize) {
		return 0, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, le)
	}
	return Flag(prefix[0]), int(le), nil
}
