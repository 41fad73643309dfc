// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package h3

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSettingsEncodeDecodeRoundTrip(t *testing.T) {
	body := ServerSettings.Encode()

	decoded, err := DecodeSettings(body)
	require.NoError(t, err)
	require.Equal(t, uint64(1), decoded[SettingH3Datagram])
	require.Equal(t, uint64(1), decoded[SettingEnableWebTransport])
	require.NoError(t, decoded.RequireWebTransportSupport())
}

func TestWriteControlStreamHeaderIsByteExact(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ServerSettings.WriteControlStreamHeader(&buf))

	want := []byte{0x00, 0x04, 0x0A, 0x80, 0xFF, 0xD2, 0x77, 0x01, 0xAB, 0x60, 0x37, 0x42, 0x01}
	require.Equal(t, want, buf.Bytes())
}

func TestServerSettingsEncodeOrderIsFixed(t *testing.T) {
	// Run many times: map iteration order is randomized per process, so a
	// single pass would not catch a regression back to ranging over the map.
	for i := 0; i < 50; i++ {
		require.Equal(t,
			[]byte{0x80, 0xFF, 0xD2, 0x77, 0x01, 0xAB, 0x60, 0x37, 0x42, 0x01},
			ServerSettings.Encode())
	}
}

func TestDecodeSettingsRejectsDuplicateID(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(appendVarInt(nil, uint64(SettingH3Datagram)))
	buf.Write(appendVarInt(nil, 1))
	buf.Write(appendVarInt(nil, uint64(SettingH3Datagram)))
	buf.Write(appendVarInt(nil, 1))

	_, err := DecodeSettings(buf.Bytes())
	require.Error(t, err)
}

func TestDecodeSettingsRejectsOversizedBody(t *testing.T) {
	_, err := DecodeSettings(make([]byte, maxSettingsFrameSize+1))
	require.Error(t, err)
}

func TestRequireWebTransportSupportRejectsMissingSettings(t *testing.T) {
	require.Error(t, SettingsMap{}.RequireWebTransportSupport())
	require.Error(t, SettingsMap{SettingH3Datagram: 1}.RequireWebTransportSupport())
	require.Error(t, SettingsMap{SettingEnableWebTransport: 1}.RequireWebTransportSupport())
}

func TestWriteControlStreamHeaderShape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ServerSettings.WriteControlStreamHeader(&buf))

	streamType, err := ReadStreamType(&buf)
	require.NoError(t, err)
	require.Equal(t, uint64(StreamControl), streamType)

	frame, err := ReadFrameHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, FrameSettings, frame.Type)

	body := make([]byte, frame.Length)
	require.NoError(t, ReadExact(&buf, body))
	decoded, err := DecodeSettings(body)
	require.NoError(t, err)
	require.NoError(t, decoded.RequireWebTransportSupport())
}

func TestSettingIDString(t *testing.T) {
	require.Equal(t, "H3_DATAGRAM", SettingH3Datagram.String())
	require.Equal(t, "ENABLE_WEBTRANSPORT", SettingEnableWebTransport.String())
	require.Equal(t, "QPACK_MAX_TABLE_CAPACITY", SettingQPACKMaxTableCapacity.String())
	require.Contains(t, SettingID(0x99999).String(), "0x")
}
