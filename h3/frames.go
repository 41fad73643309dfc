// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// HTTP/3 frame header codec: reads (type, length) pairs off a stream,
// transparently dropping reserved "grease" frames, per
// draft-ietf-quic-http and draft-ietf-webtrans-http3-02 §4.2.

package h3

import (
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// Frame types used by this core. FrameWebTransportStream is never read via
// ReadFrameHeader/WriteFrameHeader: the bidi WEBTRANSPORT_STREAM marker is
// the draft's dedicated two-varint form (type, session-id, no length),
// read with ReadWebTransportStreamMarker instead (draft-ietf-webtrans-http3-02 §4.6).
const (
	FrameData               = 0x00
	FrameHeaders            = 0x01
	FrameSettings           = 0x04
	FrameGoaway             = 0x07
	FrameWebTransportStream = 0x41
)

// Frame is a decoded HTTP/3 frame header: the frame's type and the length
// of its payload (not yet read off the stream).
type Frame struct {
	Type   uint64
	Length uint64
}

// isReservedFrameType implements the HTTP/3 grease rule: frame types of
// the form 0x1f*N + 0x21 are reserved and must be ignored by receivers.
func isReservedFrameType(t uint64) bool {
	return t >= 0x21 && (t-0x21)%0x1f == 0
}

// IsReservedStreamType implements the same grease rule over the
// unidirectional stream-type space (same modulus, same offset).
func IsReservedStreamType(t uint64) bool {
	return isReservedFrameType(t)
}

// IsReservedCapsuleType implements the capsule-space grease rule:
// 41*N + 23.
func IsReservedCapsuleType(t uint64) bool {
	return t >= 23 && (t-23)%41 == 0
}

// ReadExact reads exactly len(buf) bytes from r, failing with
// io.ErrUnexpectedEOF if the peer half-closes early.
func ReadExact(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// DropExact discards exactly n bytes from r, failing with
// io.ErrUnexpectedEOF if the peer half-closes early.
func DropExact(r io.Reader, n uint64) error {
	_, err := io.CopyN(io.Discard, r, int64(n))
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ReadFrameHeader reads the next non-grease frame header from r, silently
// consuming and skipping any number of reserved grease frames along the
// way. On a short read inside a skipped grease payload it returns
// io.ErrUnexpectedEOF; the caller is responsible for aborting the write
// side of the stream with ErrFrameError in that case.
func ReadFrameHeader(r io.Reader) (Frame, error) {
	qr := quicvarint.NewReader(r)
	for {
		t, err := quicvarint.Read(qr)
		if err != nil {
			return Frame{}, toUnexpectedEOF(err)
		}
		l, err := quicvarint.Read(qr)
		if err != nil {
			return Frame{}, toUnexpectedEOF(err)
		}
		if isReservedFrameType(t) {
			if err := DropExact(r, l); err != nil {
				return Frame{}, err
			}
			continue
		}
		return Frame{Type: t, Length: l}, nil
	}
}

// WriteFrameHeader writes a frame's (type, length) pair to w.
func WriteFrameHeader(w io.Writer, f Frame) error {
	buf := quicvarint.Append(nil, f.Type)
	buf = quicvarint.Append(buf, f.Length)
	_, err := w.Write(buf)
	return err
}

func toUnexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
