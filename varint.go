// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// VarInt codec for wt3core. Wraps quicvarint with the explicit
// OutOfRange/UnexpectedEof/peek semantics this package's wire format
// requires.

package wt3core

import (
	"errors"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// MaxVarInt is the largest value representable by a QUIC variable-length
// integer (2^62 - 1).
const MaxVarInt = uint64(1)<<62 - 1

// ErrVarIntOutOfRange is returned by WriteVarInt when the value does not
// fit in a QUIC varint (>= 2^62).
var ErrVarIntOutOfRange = errors.New("wt3core: varint out of range")

// ErrUnexpectedEOF mirrors io.ErrUnexpectedEOF for callers that want to
// distinguish a clean read failure from a truncated one without importing
// io directly.
var ErrUnexpectedEOF = io.ErrUnexpectedEOF

// SizeVarInt returns the number of bytes WriteVarInt would emit for v.
func SizeVarInt(v uint64) int {
	return quicvarint.Len(v)
}

// WriteVarInt appends the shortest encoding of v to buf and returns the
// result. It fails with ErrVarIntOutOfRange if v does not fit in 62 bits.
func WriteVarInt(buf []byte, v uint64) ([]byte, error) {
	if v > MaxVarInt {
		return buf, ErrVarIntOutOfRange
	}
	return quicvarint.Append(buf, v), nil
}

// ReadVarInt reads one varint from r, failing with ErrUnexpectedEOF if the
// stream ends before a complete value has been read.
func ReadVarInt(r io.Reader) (uint64, error) {
	v, err := quicvarint.Read(quicvarint.NewReader(r))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, err
	}
	return v, nil
}

// PeekVarInt attempts to decode a varint from the head of buf without
// consuming it (buf is not mutated). It returns the decoded value, the
// number of bytes it occupies, and true on success; on a short buffer it
// returns false and leaves buf untouched.
func PeekVarInt(buf []byte) (value uint64, n int, ok bool) {
	if len(buf) == 0 {
		return 0, 0, false
	}
	length := 1 << (buf[0] >> 6)
	if len(buf) < length {
		return 0, 0, false
	}
	v := uint64(buf[0] & 0x3f)
	for i := 1; i < length; i++ {
		v = v<<8 | uint64(buf[i])
	}
	return v, length, true
}
