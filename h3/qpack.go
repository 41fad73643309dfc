// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Minimal QPACK decoder: just enough of RFC 9204 to decode the extended
// CONNECT request a WebTransport client sends — static table and literal
// fields only, no dynamic table — plus the fixed response header block
// this core emits.

package h3

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/quic-go/qpack"
	"golang.org/x/net/http2/hpack"
)

const (
	// maxQPACKLiteralLength bounds the declared length of any literal
	// string (name or value) before it is read off the wire.
	maxQPACKLiteralLength = 8192
	// maxQPACKDecodedLength bounds a Huffman-decoded string's length.
	maxQPACKDecodedLength = 1024

	staticIndexPath          = 1
	staticIndexMethodConnect = 15
	staticIndexSchemeHTTP    = 22
	staticIndexSchemeHTTPS   = 23

	literalNameRefAuthority = 0
	literalNameRefPath      = 1
	literalNameRefOrigin    = 90
)

// ConnectRequest is the set of fields this core extracts from an extended
// CONNECT WebTransport request's header block.
type ConnectRequest struct {
	Method    string
	Scheme    string
	Protocol  string
	Authority string
	Path      string
	Origin    string
	Version   string
}

// DecodeConnectRequest reads header_block_size bytes from r, positioned
// immediately after a HEADERS frame header, and decodes them as a
// literal/static-only QPACK header block, per RFC 9204.
func DecodeConnectRequest(r io.Reader, headerBlockSize uint64) (ConnectRequest, error) {
	body := make([]byte, headerBlockSize)
	if err := ReadExact(r, body); err != nil {
		return ConnectRequest{}, err
	}
	return decodeConnectRequestBytes(body)
}

func decodeConnectRequestBytes(body []byte) (ConnectRequest, error) {
	if len(body) < 2 {
		return ConnectRequest{}, New(KindInvalidData, ErrGeneralProtocolError,
			"QPACK header block shorter than the required-insert-count/delta-base prefix")
	}
	if body[0] != 0x00 || body[1] != 0x00 {
		return ConnectRequest{}, New(KindInvalidData, ErrGeneralProtocolError,
			"non-zero required-insert-count or delta-base prefix (no dynamic table)")
	}

	var req ConnectRequest
	var versionSeen bool
	var schemeSeen, methodSeen bool

	pos := 2
	for pos < len(body) {
		b := body[pos]
		switch {
		case b&0xC0 == 0xC0: // indexed static field, 6-bit prefix
			idx, err := decodeInt(body, &pos, 0x3F)
			if err != nil {
				return ConnectRequest{}, err
			}
			switch {
			case idx == staticIndexPath:
				req.Path = "/"
			case idx == staticIndexMethodConnect:
				req.Method = "CONNECT"
				methodSeen = true
			case idx >= 16 && idx <= 21:
				return ConnectRequest{}, New(KindInvalidOperation, ErrGeneralProtocolError,
					":method must be CONNECT")
			case idx == staticIndexSchemeHTTP:
				return ConnectRequest{}, New(KindInvalidOperation, ErrGeneralProtocolError,
					":scheme must be https")
			case idx == staticIndexSchemeHTTPS:
				req.Scheme = "https"
				schemeSeen = true
			}
			// any other recognized-but-unused static index: read and ignore.

		case b&0xC0 == 0x40: // literal with name reference, static; 4-bit prefix
			if b&0x10 == 0 {
				// T=0 would reference the dynamic table, which this
				// decoder does not support.
				return ConnectRequest{}, New(KindInvalidData, ErrGeneralProtocolError,
					"No QPACK dynamic table")
			}
			nameIdx, err := decodeInt(body, &pos, 0x0F)
			if err != nil {
				return ConnectRequest{}, err
			}
			value, err := decodeLiteralString(body, &pos, 7, 0x80)
			if err != nil {
				return ConnectRequest{}, err
			}
			switch nameIdx {
			case literalNameRefAuthority:
				req.Authority = value
			case literalNameRefPath:
				req.Path = value
			case literalNameRefOrigin:
				req.Origin = value
			}
			// any other name index: read and ignore.

		case b&0xE0 == 0x20: // literal with literal name; 3-bit prefix
			name, err := decodeLiteralString(body, &pos, 3, 0x08)
			if err != nil {
				return ConnectRequest{}, err
			}
			value, err := decodeLiteralString(body, &pos, 7, 0x80)
			if err != nil {
				return ConnectRequest{}, err
			}
			switch {
			case name == ":protocol":
				if value != "webtransport" {
					return ConnectRequest{}, New(KindInvalidOperation, ErrGeneralProtocolError,
						":protocol must be webtransport")
				}
				req.Protocol = value
			case strings.HasPrefix(name, "sec-webtransport-http3-draft"):
				if value != "1" {
					break
				}
				suffix := strings.TrimPrefix(name, "sec-webtransport-http3-draft")
				if !versionSeen || suffix > req.Version {
					req.Version = suffix
				}
				versionSeen = true
			}

		default:
			return ConnectRequest{}, New(KindInvalidData, ErrGeneralProtocolError,
				"No QPACK dynamic table")
		}
	}

	switch {
	case !schemeSeen || req.Scheme != "https":
		return ConnectRequest{}, New(KindInvalidData, ErrGeneralProtocolError, ":scheme must be https")
	case !methodSeen || req.Method != "CONNECT":
		return ConnectRequest{}, New(KindInvalidData, ErrGeneralProtocolError, ":method must be CONNECT")
	case req.Protocol != "webtransport":
		return ConnectRequest{}, New(KindInvalidData, ErrGeneralProtocolError, ":protocol must be webtransport")
	case !versionSeen:
		return ConnectRequest{}, New(KindInvalidData, ErrGeneralProtocolError, "missing sec-webtransport-http3-draft version")
	case req.Authority == "":
		return ConnectRequest{}, New(KindInvalidData, ErrGeneralProtocolError, "missing :authority")
	case req.Path == "":
		return ConnectRequest{}, New(KindInvalidData, ErrGeneralProtocolError, "missing :path")
	case req.Origin == "":
		return ConnectRequest{}, New(KindInvalidData, ErrGeneralProtocolError, "missing origin")
	}

	return req, nil
}

// decodeInt reads an HPACK/QPACK-style prefixed integer whose prefix
// occupies the bits selected by prefixMask in body[*pos], advancing *pos
// past the prefix byte and any continuation bytes.
func decodeInt(body []byte, pos *int, prefixMask byte) (uint64, error) {
	if *pos >= len(body) {
		return 0, New(KindInvalidData, ErrGeneralProtocolError, "truncated QPACK integer")
	}
	v := uint64(body[*pos] & prefixMask)
	*pos++
	if v < uint64(prefixMask) {
		return v, nil
	}
	var shift uint
	for {
		if *pos >= len(body) {
			return 0, New(KindInvalidData, ErrGeneralProtocolError, "truncated QPACK integer")
		}
		c := body[*pos]
		*pos++
		v += uint64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			break
		}
		if shift > 63 {
			return 0, New(KindInvalidData, ErrGeneralProtocolError, "QPACK integer overflow")
		}
	}
	return v, nil
}

// decodeLiteralString decodes a Huffman-or-raw literal string whose
// leading byte carries an H (Huffman) flag at hBit and a length prefix
// occupying prefixBits low bits of that same byte.
func decodeLiteralString(body []byte, pos *int, prefixBits int, hBit byte) (string, error) {
	if *pos >= len(body) {
		return "", New(KindInvalidData, ErrGeneralProtocolError, "truncated QPACK literal")
	}
	huffman := body[*pos]&hBit != 0
	mask := byte(1<<uint(prefixBits)) - 1
	length, err := decodeInt(body, pos, mask)
	if err != nil {
		return "", err
	}
	if length > maxQPACKLiteralLength {
		return "", New(KindHeaderFieldTooLarge, ErrGeneralProtocolError, "QPACK literal exceeds 8192 bytes")
	}
	if uint64(*pos)+length > uint64(len(body)) {
		return "", New(KindInvalidData, ErrGeneralProtocolError, "truncated QPACK literal")
	}
	raw := body[*pos : uint64(*pos)+length]
	*pos += int(length)

	if !huffman {
		return string(raw), nil
	}
	decoded, err := hpack.HuffmanDecodeToString(raw)
	if err != nil {
		return "", New(KindInvalidData, ErrGeneralProtocolError, "invalid Huffman-coded QPACK literal")
	}
	if len(decoded) > maxQPACKDecodedLength {
		return "", New(KindHeaderFieldTooLarge, ErrGeneralProtocolError, "decoded QPACK literal exceeds 1024 bytes")
	}
	return decoded, nil
}

// EncodeAcceptHeaderBlock encodes the fixed response header block
// Request.Accept sends: :status 200 followed by a
// "sec-webtransport-http3-draft<version>: 1" field (draft-ietf-webtrans-http3-02 §4.7).
// Encoding is delegated to qpack.Encoder (as the teacher's ResponseWriter
// does for ordinary HTTP responses): with no dynamic table configured it
// never emits anything but the required-insert-count/delta-base prefix
// plus static-or-literal fields, so the wire format stays within what
// decodeConnectRequestBytes above (and any compliant QPACK client) can
// parse.
func EncodeAcceptHeaderBlock(version string) []byte {
	var buf bytes.Buffer
	enc := qpack.NewEncoder(&buf)
	enc.WriteField(qpack.HeaderField{Name: ":status", Value: "200"})
	enc.WriteField(qpack.HeaderField{Name: "sec-webtransport-http3-draft" + version, Value: "1"})
	return buf.Bytes()
}

// EncodeStatusHeaderBlock encodes a response header block carrying only a
// :status field, used when Request.Reject answers with a non-200 status.
func EncodeStatusHeaderBlock(statusCode int) []byte {
	var buf bytes.Buffer
	enc := qpack.NewEncoder(&buf)
	enc.WriteField(qpack.HeaderField{Name: ":status", Value: strconv.Itoa(statusCode)})
	return buf.Bytes()
}

// appendLiteralWithLiteralName appends a "literal field line with literal
// name" instruction (no Huffman coding on either name or value) to buf.
func appendLiteralWithLiteralName(buf []byte, name, value string) []byte {
	buf = appendPrefixedInt(buf, 0x20, 3, uint64(len(name)))
	buf = append(buf, name...)
	buf = appendPrefixedInt(buf, 0x00, 7, uint64(len(value)))
	buf = append(buf, value...)
	return buf
}

// appendPrefixedInt appends an HPACK/QPACK-style prefixed integer: the
// low prefixBits bits of the first byte (ORed onto pattern) hold v
// directly if it fits, else all-ones plus continuation bytes.
func appendPrefixedInt(buf []byte, pattern byte, prefixBits int, v uint64) []byte {
	max := uint64(1<<uint(prefixBits)) - 1
	if v < max {
		return append(buf, pattern|byte(v))
	}
	buf = append(buf, pattern|byte(max))
	v -= max
	for v >= 0x80 {
		buf = append(buf, byte(v&0x7f)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}
