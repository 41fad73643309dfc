// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Capsule codec: a capsule is carried as the sole payload of an HTTP/3
// DATA frame, per draft-ietf-masque-h3-datagram and
// draft-ietf-webtrans-http3-02 §4.4.

package h3

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Capsule types used by this core (draft-ietf-webtrans-http3-02).
const (
	CapsuleRegisterDatagramNoContext = 0xff37a2
	CapsuleCloseWebTransportSession  = 0x2843
	WebTransportDatagramFormat       = 0xff7c00
)

// Reserved (rejected) draft capsule context variants.
var reservedDraftCapsuleTypes = map[uint64]bool{
	0xff37a1: true,
	0xff37a3: true,
	0xff37a4: true,
	0xff37a5: true,
}

// IsReservedDraftCapsuleType reports whether t is one of the draft's
// context-id capsule variants, which this core does not support and
// rejects.
func IsReservedDraftCapsuleType(t uint64) bool {
	return reservedDraftCapsuleTypes[t]
}

// maxCloseCapsuleLength is the largest permitted length of a
// CLOSE_WEBTRANSPORT_SESSION capsule: a 4-byte error code plus up to
// 1024 bytes of UTF-8 reason message. ReadCloseSession reads the whole
// declared length, so the message is length-4 bytes (at most 1024) and is
// never truncated; anything larger is rejected up front.
const maxCloseCapsuleLength = 4 + 1024

// CapsuleHeader is a decoded capsule type and declared payload length,
// with the capsule's enclosing DATA frame already consumed.
type CapsuleHeader struct {
	Type   uint64
	Length uint64
}

// ReadCapsuleHeader reads the next capsule off r, transparently consuming
// and skipping any number of reserved-capsule-type (grease) capsules
// along the way, and enforcing the one-capsule-per-DATA-frame rule. The
// returned CapsuleHeader's Length bytes of payload remain unread on r;
// the caller must read (or DropExact) exactly that many bytes before the
// next call.
func ReadCapsuleHeader(r io.Reader) (CapsuleHeader, error) {
	for {
		frame, err := ReadFrameHeader(r)
		if err != nil {
			return CapsuleHeader{}, err
		}
		if frame.Type != FrameData {
			return CapsuleHeader{}, New(KindInvalidData, ErrFrameUnexpected,
				fmt.Sprintf("expected DATA frame carrying a capsule, got frame type %#x", frame.Type))
		}

		capType, typeN, err := readVarIntCounted(r)
		if err != nil {
			return CapsuleHeader{}, err
		}
		capLen, lenN, err := readVarIntCounted(r)
		if err != nil {
			return CapsuleHeader{}, err
		}
		if uint64(typeN+lenN)+capLen != frame.Length {
			return CapsuleHeader{}, New(KindInvalidData, ErrGeneralProtocolError,
				"capsule length does not match enclosing DATA frame length")
		}

		if IsReservedCapsuleType(capType) {
			if err := DropExact(r, capLen); err != nil {
				return CapsuleHeader{}, err
			}
			continue
		}

		return CapsuleHeader{Type: capType, Length: capLen}, nil
	}
}

// ReadRegisterDatagramNoContext validates and consumes a
// REGISTER_DATAGRAM_NO_CONTEXT capsule body, given its already-read
// header. The body must be exactly 4 bytes encoding the varint
// WebTransportDatagramFormat.
func ReadRegisterDatagramNoContext(r io.Reader, hdr CapsuleHeader) error {
	if hdr.Length != 4 {
		return New(KindNotSupported, ErrGeneralProtocolError,
			fmt.Sprintf("unsupported REGISTER_DATAGRAM_NO_CONTEXT length %d", hdr.Length))
	}
	body := make([]byte, 4)
	if err := ReadExact(r, body); err != nil {
		return err
	}
	format, n, ok := peekVarIntLocal(body)
	if !ok || n != 4 || format != WebTransportDatagramFormat {
		return New(KindNotSupported, ErrGeneralProtocolError,
			"REGISTER_DATAGRAM_NO_CONTEXT payload is not the WebTransport datagram format")
	}
	return nil
}

// ReadCloseSession validates and consumes a CLOSE_WEBTRANSPORT_SESSION
// capsule body, given its already-read header. It returns the peer's
// close code and message. A declared length over maxCloseCapsuleLength is
// rejected with ErrMessageError before any allocation (never truncated).
func ReadCloseSession(r io.Reader, hdr CapsuleHeader) (code uint32, message string, err error) {
	if hdr.Length > maxCloseCapsuleLength {
		return 0, "", New(KindInvalidData, ErrMessageError,
			fmt.Sprintf("CLOSE_WEBTRANSPORT_SESSION capsule too large: %d bytes", hdr.Length))
	}
	if hdr.Length < 4 {
		return 0, "", New(KindInvalidData, ErrGeneralProtocolError,
			"CLOSE_WEBTRANSPORT_SESSION capsule shorter than the error code")
	}
	buf := make([]byte, hdr.Length)
	if err := ReadExact(r, buf); err != nil {
		return 0, "", err
	}
	code = binary.BigEndian.Uint32(buf[:4])
	message = string(buf[4:])
	return code, message, nil
}

// WriteCloseSession encodes a CLOSE_WEBTRANSPORT_SESSION capsule wrapped
// in its DATA frame to w. message must be at most 1024 UTF-8 bytes.
func WriteCloseSession(w io.Writer, code uint32, message string) error {
	if len(message) > 1024 {
		return New(KindArgumentError, ErrNoError, "close message exceeds 1024 bytes")
	}
	payload := make([]byte, 4+len(message))
	binary.BigEndian.PutUint32(payload[:4], code)
	copy(payload[4:], message)

	capType := appendVarInt(nil, CapsuleCloseWebTransportSession)
	capLen := appendVarInt(nil, uint64(len(payload)))
	frameLen := uint64(len(capType) + len(capLen) + len(payload))

	if err := WriteFrameHeader(w, Frame{Type: FrameData, Length: frameLen}); err != nil {
		return err
	}
	if _, err := w.Write(capType); err != nil {
		return err
	}
	if _, err := w.Write(capLen); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// WriteRegisterDatagramNoContext encodes a REGISTER_DATAGRAM_NO_CONTEXT
// capsule wrapped in its DATA frame to w.
func WriteRegisterDatagramNoContext(w io.Writer) error {
	format := appendVarInt(nil, WebTransportDatagramFormat)
	capType := appendVarInt(nil, CapsuleRegisterDatagramNoContext)
	capLen := appendVarInt(nil, uint64(len(format)))
	frameLen := uint64(len(capType) + len(capLen) + len(format))

	if err := WriteFrameHeader(w, Frame{Type: FrameData, Length: frameLen}); err != nil {
		return err
	}
	if _, err := w.Write(capType); err != nil {
		return err
	}
	if _, err := w.Write(capLen); err != nil {
		return err
	}
	_, err := w.Write(format)
	return err
}
