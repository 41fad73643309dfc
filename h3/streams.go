// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Unidirectional stream-type header codec, plus the WebTransport
// bidirectional stream marker (draft-ietf-webtrans-http3-02 §4.6).

package h3

import (
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// Unidirectional stream types.
const (
	StreamControl               = 0x00
	StreamPush                  = 0x01
	StreamQPACKEncoder          = 0x02
	StreamQPACKDecoder          = 0x03
	StreamWebTransportUniStream = 0x54
)

// StreamHeader is the leading varint(s) of a unidirectional stream: a
// stream type, plus (for WebTransport uni streams) the session ID that
// follows it.
type StreamHeader struct {
	Type uint64
	ID   uint64
}

// ReadStreamType reads the single leading stream-type varint from a
// freshly accepted unidirectional stream. The caller decides what to read
// next based on the type (a session ID for StreamWebTransportUniStream,
// nothing further for the control/QPACK streams).
func ReadStreamType(r io.Reader) (uint64, error) {
	v, err := quicvarint.Read(quicvarint.NewReader(r))
	if err != nil {
		return 0, toUnexpectedEOF(err)
	}
	return v, nil
}

// WriteStreamType writes a single stream-type varint.
func WriteStreamType(w io.Writer, t uint64) error {
	_, err := w.Write(quicvarint.Append(nil, t))
	return err
}

// ReadWebTransportUniHeader reads the session-ID varint that follows the
// StreamWebTransportUniStream type varint.
func ReadWebTransportUniHeader(r io.Reader) (sessionID uint64, err error) {
	v, err := quicvarint.Read(quicvarint.NewReader(r))
	if err != nil {
		return 0, toUnexpectedEOF(err)
	}
	return v, nil
}

// WriteWebTransportUniHeader writes the full uni-stream preamble: the
// StreamWebTransportUniStream type varint followed by the session ID.
func WriteWebTransportUniHeader(w io.Writer, sessionID uint64) error {
	buf := quicvarint.Append(nil, StreamWebTransportUniStream)
	buf = quicvarint.Append(buf, sessionID)
	_, err := w.Write(buf)
	return err
}

// ReadWebTransportStreamMarker reads the draft's bidirectional stream
// marker: a type varint followed directly by a session-ID varint, with no
// intervening length field (draft-ietf-webtrans-http3-02 §4.6), rather
// than reusing the generic (type, length) frame-header reader and
// reinterpreting length as a session ID.
//
// Reserved grease frame types (the same rule ReadFrameHeader applies) are
// silently consumed and skipped first, exactly as a HEADERS-only stream
// would see them: the draft's two-varint WEBTRANSPORT_STREAM marker has no
// frame-header reader of its own to fall back on for that.
//
// If the first non-grease varint read is not FrameWebTransportStream, typ
// carries the frame type that was actually read, sessionID is zero and err
// is nil; the caller must not attempt to read a session ID (the stream
// position is already past that varint).
func ReadWebTransportStreamMarker(r io.Reader) (typ uint64, sessionID uint64, err error) {
	qr := quicvarint.NewReader(r)
	for {
		typ, err = quicvarint.Read(qr)
		if err != nil {
			return 0, 0, toUnexpectedEOF(err)
		}
		if typ == FrameWebTransportStream {
			sessionID, err = quicvarint.Read(qr)
			if err != nil {
				return 0, 0, toUnexpectedEOF(err)
			}
			return typ, sessionID, nil
		}
		if isReservedFrameType(typ) {
			length, err := quicvarint.Read(qr)
			if err != nil {
				return 0, 0, toUnexpectedEOF(err)
			}
			if err := DropExact(r, length); err != nil {
				return 0, 0, err
			}
			continue
		}
		return typ, 0, nil
	}
}

// WriteWebTransportStreamMarker writes the bidi stream preamble: the
// FrameWebTransportStream type varint followed directly by the session
// ID, per the draft's two-varint form.
func WriteWebTransportStreamMarker(w io.Writer, sessionID uint64) error {
	buf := quicvarint.Append(nil, FrameWebTransportStream)
	buf = quicvarint.Append(buf, sessionID)
	_, err := w.Write(buf)
	return err
}
