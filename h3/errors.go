// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package h3

import (
	"fmt"

	"github.com/quic-go/quic-go"
)

// ErrorCode is an HTTP/3 (and WebTransport) application-level error code,
// carried on QUIC CONNECTION_CLOSE / STOP_SENDING / RESET_STREAM frames.
type ErrorCode quic.ApplicationErrorCode

const (
	ErrNoError              ErrorCode = 0x100
	ErrGeneralProtocolError ErrorCode = 0x101
	ErrInternalError        ErrorCode = 0x102
	ErrStreamCreationError  ErrorCode = 0x103
	ErrClosedCriticalStream ErrorCode = 0x104
	ErrFrameUnexpected      ErrorCode = 0x105
	ErrFrameError           ErrorCode = 0x106
	ErrExcessiveLoad        ErrorCode = 0x107
	ErrIDError              ErrorCode = 0x108
	ErrSettingsError        ErrorCode = 0x109
	ErrMissingSettings      ErrorCode = 0x10a
	ErrRequestRejected      ErrorCode = 0x10b
	ErrRequestCancelled     ErrorCode = 0x10c
	ErrRequestIncomplete    ErrorCode = 0x10d
	ErrMessageError         ErrorCode = 0x10e
	ErrConnectError         ErrorCode = 0x10f
	ErrVersionFallback      ErrorCode = 0x110

	// ErrWebTransportBufferedStreamRejected is used to reject a peer-opened
	// stream whose session has already closed, including streams still
	// queued (not yet accepted) when the session tears down. A stream that
	// names an unknown session is rejected with ErrIDError instead.
	// draft-ietf-webtrans-http3-02 section 7.5.
	ErrWebTransportBufferedStreamRejected ErrorCode = 0x3994bd84
)

func (e ErrorCode) String() string {
	switch e {
	case ErrNoError:
		return "H3_NO_ERROR"
	case ErrGeneralProtocolError:
		return "H3_GENERAL_PROTOCOL_ERROR"
	case ErrInternalError:
		return "H3_INTERNAL_ERROR"
	case ErrStreamCreationError:
		return "H3_STREAM_CREATION_ERROR"
	case ErrClosedCriticalStream:
		return "H3_CLOSED_CRITICAL_STREAM"
	case ErrFrameUnexpected:
		return "H3_FRAME_UNEXPECTED"
	case ErrFrameError:
		return "H3_FRAME_ERROR"
	case ErrExcessiveLoad:
		return "H3_EXCESSIVE_LOAD"
	case ErrIDError:
		return "H3_ID_ERROR"
	case ErrSettingsError:
		return "H3_SETTINGS_ERROR"
	case ErrMissingSettings:
		return "H3_MISSING_SETTINGS"
	case ErrRequestRejected:
		return "H3_REQUEST_REJECTED"
	case ErrRequestCancelled:
		return "H3_REQUEST_CANCELLED"
	case ErrRequestIncomplete:
		return "H3_INCOMPLETE_REQUEST"
	case ErrMessageError:
		return "H3_MESSAGE_ERROR"
	case ErrConnectError:
		return "H3_CONNECT_ERROR"
	case ErrVersionFallback:
		return "H3_VERSION_FALLBACK"
	case ErrWebTransportBufferedStreamRejected:
		return "H3_WEBTRANSPORT_BUFFERED_STREAM_REJECTED"
	default:
		return fmt.Sprintf("unknown error code: %#x", uint64(e))
	}
}

// Kind classifies an error the way callers need to branch on it,
// independent of the specific wire ErrorCode attached.
type Kind int

const (
	KindUnexpectedEOF Kind = iota
	KindInvalidData
	KindNotSupported
	KindInvalidOperation
	KindHeaderFieldTooLarge
	KindArgumentError
	KindCancelled
	KindPeerAbort
	KindOutOfRange
)

func (k Kind) String() string {
	switch k {
	case KindUnexpectedEOF:
		return "UnexpectedEof"
	case KindInvalidData:
		return "InvalidData"
	case KindNotSupported:
		return "NotSupported"
	case KindInvalidOperation:
		return "InvalidOperation"
	case KindHeaderFieldTooLarge:
		return "HeaderFieldTooLarge"
	case KindArgumentError:
		return "ArgumentError"
	case KindCancelled:
		return "Cancelled"
	case KindPeerAbort:
		return "PeerAbort"
	case KindOutOfRange:
		return "OutOfRange"
	default:
		return "Unknown"
	}
}

// Error is the error type surfaced by the protocol engine. Code is the
// wire error code (if any) that was used to abort the associated stream
// or connection; Kind classifies the failure.
type Error struct {
	Kind Kind
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("wt3core: %s (%s)", e.Kind, e.Code)
	}
	return fmt.Sprintf("wt3core: %s: %s (%s)", e.Kind, e.Msg, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error carrying the given kind, wire code, and message.
func New(kind Kind, code ErrorCode, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap builds an *Error that also chains an underlying cause.
func Wrap(kind Kind, code ErrorCode, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

// streamCanceler and streamWriteCanceler are the minimal surfaces needed to
// abort the read and the write side of a stream. quic.Stream,
// quic.SendStream and quic.ReceiveStream all satisfy the relevant one.
type streamCanceler interface {
	CancelRead(quic.StreamErrorCode)
}

type streamWriteCanceler interface {
	CancelWrite(quic.StreamErrorCode)
}

// AbortRead cancels the read side of a stream with the given error code.
func AbortRead(s streamCanceler, code ErrorCode) {
	s.CancelRead(quic.StreamErrorCode(code))
}

// AbortWrite cancels the write side of a stream with the given error code.
func AbortWrite(s streamWriteCanceler, code ErrorCode) {
	s.CancelWrite(quic.StreamErrorCode(code))
}

// AbortBoth cancels both the read and write sides of a bidirectional
// stream with the given error code.
func AbortBoth(s quic.Stream, code ErrorCode) {
	s.CancelRead(quic.StreamErrorCode(code))
	s.CancelWrite(quic.StreamErrorCode(code))
}
