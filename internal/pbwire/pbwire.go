// Package pbwire holds the low-level protobuf wire helpers shared by the BEP,
// BES, diagnostics artifact and query-output decoders.
package pbwire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field is one decoded top-level field of a message.
type Field struct {
	Num    protowire.Number
	Type   protowire.Type
	Varint uint64
	Bytes  []byte
}

func (f Field) String() string { return string(f.Bytes) }
func (f Field) Bool() bool     { return f.Varint != 0 }
func (f Field) Int32() int32   { return int32(f.Varint) }
func (f Field) Int64() int64   { return int64(f.Varint) }

// Walk calls fn for every varint and length-delimited field in b, in wire order.
// Fixed-width and group fields are skipped.
func Walk(b []byte, fn func(Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(Field{Num: num, Type: typ, Varint: v}); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(Field{Num: num, Type: typ, Bytes: v}); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// MaxFrameSize bounds one length-prefixed message. A larger prefix means the
// stream is corrupt.
const MaxFrameSize = 128 << 20

var (
	// ErrShortFrame reports that the buffer does not hold a complete frame yet.
	ErrShortFrame = errors.New("incomplete frame")
	// ErrFrameTooLarge reports a length prefix above MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame length exceeds limit")
)

// CheckFrameSize rejects length prefixes above MaxFrameSize.
func CheckFrameSize(size uint64) error {
	if size > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	return nil
}

// NextFrame splits one varint length-prefixed message off the front of buf.
// ErrShortFrame means buf does not yet hold a complete frame; the caller
// should read more data and retry with the same buffer. Any other error
// means the stream is corrupt and frame boundaries are lost.
func NextFrame(buf []byte) (msg, rest []byte, err error) {
	size, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		if len(buf) < binary.MaxVarintLen64 {
			return nil, buf, ErrShortFrame
		}
		return nil, buf, fmt.Errorf("frame length: %w", protowire.ParseError(n))
	}
	if err := CheckFrameSize(size); err != nil {
		return nil, buf, err
	}
	if uint64(len(buf)-n) < size {
		return nil, buf, ErrShortFrame
	}
	end := n + int(size)
	return buf[n:end], buf[end:], nil
}

// AppendFrame appends msg to dst with a varint length prefix.
func AppendFrame(dst, msg []byte) []byte {
	dst = protowire.AppendVarint(dst, uint64(len(msg)))
	return append(dst, msg...)
}
