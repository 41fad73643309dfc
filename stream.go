// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Stream wrapper types: a bidirectional Stream (preamble already written by
// the Session before the caller ever sees it) and lazily-prefixed
// unidirectional send/receive streams.

package wt3core

import (
	"github.com/quic-go/quic-go"

	"github.com/kirgrom/wt3core/h3"
)

// Stream is a WebTransport bidirectional stream. Its WEBTRANSPORT_STREAM
// preamble has already been consumed (for a peer-initiated stream) or
// written (for a locally-opened one) by the time callers receive it.
type Stream struct {
	quic.Stream
}

// ReceiveStream is a WebTransport unidirectional stream's read half. Unless
// headerRead is set, the first call to Read consumes the session-ID varint;
// the StreamWebTransportUniStream type varint must already have been read.
// Streams returned by Session.AcceptUniStream have their whole preamble
// consumed already.
type ReceiveStream struct {
	quic.ReceiveStream
	sessionID  uint64
	headerRead bool
}

// SessionID returns the session ID carried in the stream's preamble. When
// the session-ID varint is read lazily, it is only valid after the first
// Read call has returned.
func (s *ReceiveStream) SessionID() uint64 { return s.sessionID }

// Read reads from the stream, first consuming the preamble's session-ID
// varint if it has not already been read.
func (s *ReceiveStream) Read(p []byte) (int, error) {
	if !s.headerRead {
		id, err := h3.ReadWebTransportUniHeader(s.ReceiveStream)
		if err != nil {
			return 0, err
		}
		s.sessionID = id
		s.headerRead = true
	}
	return s.ReceiveStream.Read(p)
}

// SendStream is a WebTransport unidirectional stream's write half. Its
// preamble (StreamWebTransportUniStream type, then session ID) is written
// lazily, on the first call to Write.
type SendStream struct {
	quic.SendStream
	sessionID     uint64
	writeHeader   bool
	headerWritten bool
}

// Write writes to the stream, first writing the WebTransport uni-stream
// preamble if it has not already been written.
func (s *SendStream) Write(p []byte) (int, error) {
	if s.writeHeader && !s.headerWritten {
		if err := h3.WriteWebTransportUniHeader(s.SendStream, s.sessionID); err != nil {
			code := h3.ErrInternalError
			h3.AbortWrite(s.SendStream, code)
			return 0, err
		}
		s.headerWritten = true
	}
	return s.SendStream.Write(p)
}
