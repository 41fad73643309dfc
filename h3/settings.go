// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package h3

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/quic-go/quic-go/quicvarint"
)

// Setting identifiers.
const (
	// https://datatracker.ietf.org/doc/html/draft-ietf-quic-http-34
	SettingMaxFieldSectionSize = SettingID(0x6)

	// https://datatracker.ietf.org/doc/html/draft-ietf-quic-qpack-21
	SettingQPACKMaxTableCapacity = SettingID(0x1)
	SettingQPACKBlockedStreams   = SettingID(0x7)

	// https://datatracker.ietf.org/doc/html/draft-ietf-masque-h3-datagram-05#section-9.1
	SettingH3Datagram = SettingID(0xffd277)

	// https://www.ietf.org/archive/id/draft-ietf-webtrans-http3-02.html#section-8.2
	SettingEnableWebTransport = SettingID(0x2b603742)
)

// maxSettingsFrameSize bounds how large a SETTINGS frame body this core
// will parse, guarding against a malicious peer forcing unbounded
// allocation.
const maxSettingsFrameSize = 8 * (1 << 10)

type SettingID uint64

type SettingsMap map[SettingID]uint64

// ServerSettings is the fixed SETTINGS payload this core advertises: both
// H3_DATAGRAM (draft-ietf-masque-h3-datagram-05 §9.1) and
// ENABLE_WEBTRANSPORT (draft-ietf-webtrans-http3-02 §8.2) enabled. Its
// encoded form is the byte-exact sequence
// 00 04 0A 80 FF D2 77 01 AB 60 37 42 01.
var ServerSettings = SettingsMap{
	SettingH3Datagram:         1,
	SettingEnableWebTransport: 1,
}

// DecodeSettings parses a SETTINGS frame body into a SettingsMap. It fails
// if the body is larger than maxSettingsFrameSize or contains a duplicate
// setting ID.
func DecodeSettings(body []byte) (SettingsMap, error) {
	if uint64(len(body)) > maxSettingsFrameSize {
		return nil, fmt.Errorf("wt3core: oversized SETTINGS frame: %d bytes", len(body))
	}
	m := SettingsMap{}
	b := bytes.NewReader(body)
	for b.Len() > 0 {
		id, err := quicvarint.Read(b)
		if err != nil {
			return nil, toUnexpectedEOF(err)
		}
		val, err := quicvarint.Read(b)
		if err != nil {
			return nil, toUnexpectedEOF(err)
		}
		if _, ok := m[SettingID(id)]; ok {
			return nil, fmt.Errorf("wt3core: duplicate SETTINGS id %#x", id)
		}
		m[SettingID(id)] = val
	}
	return m, nil
}

// settingsEncodeOrder fixes the relative order of the two settings this
// core ever sends, so ServerSettings.Encode produces the bit-exact
// sequence the WebTransport handshake requires (H3_DATAGRAM, then
// ENABLE_WEBTRANSPORT) instead of whatever order Go's map iteration
// happens to pick.
var settingsEncodeOrder = []SettingID{SettingH3Datagram, SettingEnableWebTransport}

// Encode serializes the SettingsMap body (without the frame header). IDs
// in settingsEncodeOrder are written first, in that order; any other IDs
// present follow, sorted ascending for determinism.
func (s SettingsMap) Encode() []byte {
	buf := &bytes.Buffer{}
	written := make(map[SettingID]bool, len(s))

	for _, id := range settingsEncodeOrder {
		val, ok := s[id]
		if !ok {
			continue
		}
		buf.Write(quicvarint.Append(nil, uint64(id)))
		buf.Write(quicvarint.Append(nil, val))
		written[id] = true
	}

	rest := make([]SettingID, 0, len(s)-len(written))
	for id := range s {
		if !written[id] {
			rest = append(rest, id)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, id := range rest {
		buf.Write(quicvarint.Append(nil, uint64(id)))
		buf.Write(quicvarint.Append(nil, s[id]))
	}

	return buf.Bytes()
}

// WriteControlStreamHeader writes the full server control-stream preamble:
// the StreamControl type byte, followed by a SETTINGS frame carrying this
// SettingsMap.
func (s SettingsMap) WriteControlStreamHeader(w io.Writer) error {
	if err := WriteStreamType(w, StreamControl); err != nil {
		return err
	}
	body := s.Encode()
	if err := WriteFrameHeader(w, Frame{Type: FrameSettings, Length: uint64(len(body))}); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// RequireWebTransportSupport validates that the required WebTransport
// datagram settings are both present and set to 1.
func (s SettingsMap) RequireWebTransportSupport() error {
	if s[SettingH3Datagram] != 1 {
		return fmt.Errorf("wt3core: H3_DATAGRAM setting missing or not enabled")
	}
	if s[SettingEnableWebTransport] != 1 {
		return fmt.Errorf("wt3core: ENABLE_WEBTRANSPORT setting missing or not enabled")
	}
	return nil
}

// String returns a human-readable representation of the setting ID.
func (id SettingID) String() string {
	switch id {
	case SettingQPACKMaxTableCapacity:
		return "QPACK_MAX_TABLE_CAPACITY"
	case SettingMaxFieldSectionSize:
		return "MAX_FIELD_SECTION_SIZE"
	case SettingQPACKBlockedStreams:
		return "QPACK_BLOCKED_STREAMS"
	case SettingEnableWebTransport:
		return "ENABLE_WEBTRANSPORT"
	case SettingH3Datagram:
		return "H3_DATAGRAM"
	default:
		return fmt.Sprintf("%#x", uint64(id))
	}
}
