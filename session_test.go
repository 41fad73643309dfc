// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wt3core

import (
	"context"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"

	"github.com/kirgrom/wt3core/h3"
)

func newTestSession() (*Session, *Connection, *fakeStream) {
	conn := newTestConnection()
	req := newFakeStream(4, nil)
	sess := newSession(conn, req)
	conn.addSession(sess)
	return sess, conn, req
}

func TestTryQueueStreamThenAccept(t *testing.T) {
	sess, _, _ := newTestSession()
	peer := newFakeStream(8, nil)

	require.True(t, sess.tryQueueStream(peer))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sess.AcceptStream(ctx)
	require.NoError(t, err)
	require.Equal(t, quic.StreamID(8), got.StreamID())
}

func TestTryQueueStreamRejectedAfterTeardown(t *testing.T) {
	sess, _, _ := newTestSession()
	sess.teardown(h3.ErrNoError)

	peer := newFakeStream(8, nil)
	require.False(t, sess.tryQueueStream(peer))
}

func TestTryQueueUniStreamRejectedAfterTeardown(t *testing.T) {
	sess, _, _ := newTestSession()
	sess.teardown(h3.ErrNoError)

	peer := newFakeStream(12, nil)
	require.False(t, sess.tryQueueUniStream(peer))
}

func TestDeliverDatagramDropsWhenFull(t *testing.T) {
	sess, _, _ := newTestSession()

	for i := 0; i < cap(sess.datagrams); i++ {
		sess.deliverDatagram([]byte{byte(i)})
	}
	// The buffer is now full; this extra delivery must be dropped, not block.
	done := make(chan struct{})
	go func() {
		sess.deliverDatagram([]byte("overflow"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deliverDatagram blocked on a full buffer")
	}
}

func TestReceiveDatagramRoundTrip(t *testing.T) {
	sess, _, _ := newTestSession()
	sess.deliverDatagram([]byte("hello"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sess.ReceiveDatagram(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestTeardownIsIdempotentAndRemovesFromConnection(t *testing.T) {
	sess, conn, req := newTestSession()

	sess.teardown(h3.ErrGeneralProtocolError)
	sess.teardown(h3.ErrGeneralProtocolError) // second call must be a no-op, not panic

	require.True(t, req.closed || req.writeCanceled || req.readCanceled)
	conn.mu.RLock()
	_, stillPresent := conn.sessions[sess.id]
	conn.mu.RUnlock()
	require.False(t, stillPresent)
}

func TestTeardownAbortsQueuedStreams(t *testing.T) {
	sess, _, _ := newTestSession()
	peer := newFakeStream(8, nil)
	uniPeer := newFakeStream(12, nil)
	require.True(t, sess.tryQueueStream(peer))
	require.True(t, sess.tryQueueUniStream(uniPeer))

	sess.teardown(h3.ErrNoError)

	require.True(t, peer.readCanceled || peer.writeCanceled)
	require.True(t, uniPeer.readCanceled)
}

func TestCloseRejectsOverlongMessage(t *testing.T) {
	sess, _, _ := newTestSession()
	msg := make([]byte, 1025)

	err := sess.Close(1, string(msg))
	require.Error(t, err)
}

func TestReadCapsulesAcceptsCloseFollowedByFIN(t *testing.T) {
	conn := newTestConnection()
	req := newFakeStream(4, nil)
	require.NoError(t, h3.WriteCloseSession(req.in, 7, "bye"))
	req.closeIn()

	sess := newSession(conn, req)
	conn.addSession(sess)
	sess.readCapsules()

	closed, code, msg := sess.PeerClosed()
	require.True(t, closed)
	require.Equal(t, h3.ErrorCode(7), code)
	require.Equal(t, "bye", msg)
	require.True(t, req.readCanceled)
}

func TestReadCapsulesRejectsDataAfterClose(t *testing.T) {
	conn := newTestConnection()
	req := newFakeStream(4, nil)
	require.NoError(t, h3.WriteCloseSession(req.in, 7, "bye"))
	req.in.WriteByte(0x00) // trailing byte the peer must not send after CLOSE
	req.closeIn()

	sess := newSession(conn, req)
	conn.addSession(sess)
	sess.readCapsules()

	closed, _, _ := sess.PeerClosed()
	require.False(t, closed)
	require.Equal(t, h3.ErrorCode(req.canceledRead), h3.ErrGeneralProtocolError)
}

func TestPeerClosedReflectsCloseCapsule(t *testing.T) {
	sess, _, _ := newTestSession()

	closed, _, _ := sess.PeerClosed()
	require.False(t, closed)

	sess.mu.Lock()
	sess.closedByPeer = true
	sess.peerCloseCode = h3.ErrorCode(42)
	sess.peerCloseMessage = "bye"
	sess.mu.Unlock()

	closed, code, msg := sess.PeerClosed()
	require.True(t, closed)
	require.Equal(t, h3.ErrorCode(42), code)
	require.Equal(t, "bye", msg)
}
