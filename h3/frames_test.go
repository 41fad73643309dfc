// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package h3

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrameHeader(&buf, Frame{Type: FrameSettings, Length: 7}))

	got, err := ReadFrameHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, Frame{Type: FrameSettings, Length: 7}, got)
}

func TestReadFrameHeaderSkipsGreaseFrames(t *testing.T) {
	var buf bytes.Buffer
	greaseType := uint64(0x21 + 0x1f*3)
	require.True(t, isReservedFrameType(greaseType))
	require.NoError(t, WriteFrameHeader(&buf, Frame{Type: greaseType, Length: 3}))
	buf.Write([]byte{1, 2, 3})
	require.NoError(t, WriteFrameHeader(&buf, Frame{Type: FrameGoaway, Length: 1}))
	buf.WriteByte(0x09)

	got, err := ReadFrameHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, Frame{Type: FrameGoaway, Length: 1}, got)
}

func TestReadFrameHeaderFailsOnTruncatedGreasePayload(t *testing.T) {
	var buf bytes.Buffer
	greaseType := uint64(0x21)
	require.NoError(t, WriteFrameHeader(&buf, Frame{Type: greaseType, Length: 5}))
	buf.Write([]byte{1, 2}) // short by 3 bytes

	_, err := ReadFrameHeader(&buf)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadExactAndDropExact(t *testing.T) {
	src := bytes.NewReader([]byte("hello world"))
	out := make([]byte, 5)
	require.NoError(t, ReadExact(src, out))
	require.Equal(t, "hello", string(out))

	require.NoError(t, DropExact(src, 1))

	rest := make([]byte, 5)
	require.NoError(t, ReadExact(src, rest))
	require.Equal(t, "world", string(rest))
}

func TestReadExactFailsOnShortRead(t *testing.T) {
	src := bytes.NewReader([]byte("ab"))
	err := ReadExact(src, make([]byte, 5))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDropExactFailsOnShortRead(t *testing.T) {
	src := bytes.NewReader([]byte("ab"))
	err := DropExact(src, 5)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestIsReservedFrameType(t *testing.T) {
	require.True(t, isReservedFrameType(0x21))
	require.True(t, isReservedFrameType(0x21+0x1f))
	require.False(t, isReservedFrameType(FrameData))
	require.False(t, isReservedFrameType(FrameHeaders))
}

func TestIsReservedStreamType(t *testing.T) {
	require.True(t, IsReservedStreamType(0x21))
	require.False(t, IsReservedStreamType(StreamControl))
}
