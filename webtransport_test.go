// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wt3core

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServerAcceptDeliversEnqueuedRequest(t *testing.T) {
	s := NewServer(":0")
	req := &Request{Path: "/chat"}
	s.requests <- req

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := s.Accept(ctx)
	require.NoError(t, err)
	require.Same(t, req, got)
}

func TestServerAcceptUnblocksOnContextCancel(t *testing.T) {
	s := NewServer(":0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Accept(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestServerCloseIsIdempotent(t *testing.T) {
	s := NewServer(":0")
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestNewServerDefaultsLogger(t *testing.T) {
	s := NewServer(":0")
	require.NotNil(t, s.logger)
}

func TestWithLoggerAndMetricsOptionsApply(t *testing.T) {
	l := zap.NewNop()
	m := NewMetrics(prometheus.NewRegistry())
	s := NewServer(":0", WithLogger(l), WithMetrics(m))
	require.Same(t, l, s.logger)
	require.Same(t, m, s.metrics)
}
