// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wt3core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kirgrom/wt3core/h3"
)

func newTestRequest() (*Request, *Connection, *fakeStream) {
	conn := newTestConnection()
	st := newFakeStream(4, nil)
	req := newRequest(conn, st, h3.ConnectRequest{
		Authority: "example.com",
		Path:      "/chat",
		Origin:    "https://example.com",
		Version:   "02",
	})
	return req, conn, st
}

func TestRequestAcceptCreatesSessionAndWritesResponse(t *testing.T) {
	req, conn, st := newTestRequest()

	sess, err := req.Accept()
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, uint64(4), sess.ID())
	require.NotZero(t, st.out.Len())

	conn.mu.RLock()
	_, present := conn.sessions[sess.ID()]
	conn.mu.RUnlock()
	require.True(t, present)
}

func TestRequestAcceptTwiceFailsWithInvalidOperation(t *testing.T) {
	req, _, _ := newTestRequest()
	_, err := req.Accept()
	require.NoError(t, err)

	_, err = req.Accept()
	require.Error(t, err)
	var herr *h3.Error
	require.ErrorAs(t, err, &herr)
	require.Equal(t, h3.KindInvalidOperation, herr.Kind)
}

func TestRequestRejectWritesStatusAndAbortsBothSides(t *testing.T) {
	req, _, st := newTestRequest()

	require.NoError(t, req.Reject(403))
	require.NotZero(t, st.out.Len())
	require.True(t, st.writeCanceled)
	require.True(t, st.readCanceled)
}

func TestRequestRejectAfterAcceptFailsWithInvalidOperation(t *testing.T) {
	req, _, _ := newTestRequest()
	_, err := req.Accept()
	require.NoError(t, err)

	err = req.Reject(500)
	require.Error(t, err)
	var herr *h3.Error
	require.ErrorAs(t, err, &herr)
	require.Equal(t, h3.KindInvalidOperation, herr.Kind)
}

func TestValidateOriginEmptyAllowListPermitsAny(t *testing.T) {
	require.True(t, validateOrigin(nil, "https://anything.example"))
}

func TestValidateOriginMatchesHost(t *testing.T) {
	require.True(t, validateOrigin([]string{"example.com"}, "https://example.com"))
	require.False(t, validateOrigin([]string{"example.com"}, "https://evil.example"))
}

func TestValidateOriginRejectsUnparsableOrigin(t *testing.T) {
	require.False(t, validateOrigin([]string{"example.com"}, "://not a url"))
}
