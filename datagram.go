// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Datagram routing: the Connection-side half of WebTransport datagram
// delivery. Session.SendDatagram/ReceiveDatagram (session.go) are the
// application-facing half; this file is the classifier step that maps an
// inbound QUIC datagram to the session it belongs to, per
// draft-ietf-masque-h3-datagram and draft-ietf-webtrans-http3-02 §4.7.

package wt3core

// splitDatagram decodes the leading "quarter stream ID" varint from a
// received WebTransport datagram and returns the session ID it addresses
// (quarterID * 4) along with the remaining application payload. ok is false
// if payload is too short to contain a valid leading varint.
func splitDatagram(payload []byte) (sessionID uint64, rest []byte, ok bool) {
	qid, n, ok := PeekVarInt(payload)
	if !ok {
		return 0, nil, false
	}
	return qid * 4, payload[n:], true
}
