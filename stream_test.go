// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wt3core

import (
	"testing"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/stretchr/testify/require"

	"github.com/kirgrom/wt3core/h3"
)

func TestReceiveStreamReadConsumesPreambleOnce(t *testing.T) {
	// ReceiveStream.Read only consumes the session-ID varint: the caller
	// (Connection's classifier) has already read the leading stream-type
	// varint before a peer-initiated stream is ever wrapped.
	buf := quicvarint.Append(nil, 44)
	buf = append(buf, "payload"...)
	fs := newFakeStream(9, buf)

	rs := &ReceiveStream{ReceiveStream: fs}
	p := make([]byte, 7)
	n, err := rs.Read(p)
	require.NoError(t, err)
	require.Equal(t, "payload", string(p[:n]))
	require.Equal(t, uint64(44), rs.SessionID())
	require.True(t, rs.headerRead)
}

func TestReceiveStreamSkipsPreambleWhenAlreadyRead(t *testing.T) {
	fs := newFakeStream(9, []byte("raw"))
	rs := &ReceiveStream{ReceiveStream: fs, sessionID: 44, headerRead: true}

	p := make([]byte, 3)
	n, err := rs.Read(p)
	require.NoError(t, err)
	require.Equal(t, "raw", string(p[:n]))
}

func TestSendStreamWriteEmitsPreambleOnce(t *testing.T) {
	fs := newFakeStream(9, nil)
	ss := &SendStream{SendStream: fs, sessionID: 44, writeHeader: true}

	_, err := ss.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = ss.Write([]byte("world"))
	require.NoError(t, err)

	gotType, err := h3.ReadStreamType(fs.out)
	require.NoError(t, err)
	require.Equal(t, uint64(h3.StreamWebTransportUniStream), gotType)
	gotSession, err := h3.ReadWebTransportUniHeader(fs.out)
	require.NoError(t, err)
	require.Equal(t, uint64(44), gotSession)
	require.Equal(t, "helloworld", fs.out.String())
}

func TestSendStreamSkipsPreambleWhenNotRequested(t *testing.T) {
	fs := newFakeStream(9, nil)
	ss := &SendStream{SendStream: fs}

	_, err := ss.Write([]byte("raw"))
	require.NoError(t, err)
	require.Equal(t, "raw", fs.out.String())
}
