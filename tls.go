// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// TLS configuration: builds a *tls.Config backed by a rotating CertRing
// instead of a static certificate/key pair.

package wt3core

import "crypto/tls"

// NewTLSConfig builds the tls.Config a Server hands to quic.ListenAddr: its
// certificate is sourced from ring on every handshake via
// CertRing.GetCertificateFunc, so rotation is transparent to the QUIC
// layer. NextProtos advertises h3 only; this core speaks no earlier QUIC
// HTTP mapping.
func NewTLSConfig(ring *CertRing) *tls.Config {
	return &tls.Config{
		GetCertificate: ring.GetCertificateFunc(),
		NextProtos:     []string{"h3"},
	}
}
