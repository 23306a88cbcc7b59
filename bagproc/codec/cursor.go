package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// preambleLen is the fixed-width framing header preceding every serialized
// message body. It must be skipped before any type-specific parsing.
const preambleLen = 4

var endian = binary.LittleEndian

// cursor reads a message body left to right. Offsets are measured from the
// first byte after the preamble, which is also the origin for alignment:
// each primitive aligns to its own width, matching the wire format's
// padding rules between heterogeneous fields.
type cursor struct {
	buf []byte
	off int
}

func newCursor(payload []byte) (*cursor, error) {
	if len(payload) < preambleLen {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d for preamble",
			ErrTruncatedPayload, len(payload), preambleLen)
	}
	return &cursor{buf: payload[preambleLen:]}, nil
}

func (c *cursor) align(width int) {
	if rem := c.off % width; rem != 0 {
		c.off += width - rem
	}
}

func (c *cursor) need(n int) error {
	if c.off+n > len(c.buf) {
		return fmt.Errorf("%w: need %d bytes at offset %d of %d",
			ErrTruncatedPayload, n, c.off, len(c.buf))
	}
	return nil
}

func (c *cursor) readUint8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

func (c *cursor) readUint32() (uint32, error) {
	c.align(4)
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := endian.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

func (c *cursor) readFloat64() (float64, error) {
	c.align(8)
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := math.Float64frombits(endian.Uint64(c.buf[c.off:]))
	c.off += 8
	return v, nil
}

// readString consumes a length-prefixed string. The encoded length counts
// the trailing NUL, which is stripped from the returned value.
func (c *cursor) readString() (string, error) {
	length, err := c.readUint32()
	if err != nil {
		return "", err
	}
	if err := c.need(int(length)); err != nil {
		return "", err
	}
	raw := c.buf[c.off : c.off+int(length)]
	c.off += int(length)
	if n := len(raw); n > 0 && raw[n-1] == 0 {
		raw = raw[:n-1]
	}
	return string(raw), nil
}

// readBytes consumes exactly n raw bytes without alignment.
func (c *cursor) readBytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	v := c.buf[c.off : c.off+n]
	c.off += n
	return v, nil
}

// rest returns everything from the current offset to the end of the body.
func (c *cursor) rest() []byte {
	return c.buf[c.off:]
}
