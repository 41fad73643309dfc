// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wt3core

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// CertRingOptions configures a CertRing. There is no global mutable state:
// every CertRing is constructed with an explicit options record, including
// its time source, so tests can drive rotation deterministically.
type CertRingOptions struct {
	SubjectName string
	DNSNames    []string
	Duration    time.Duration
	Now         func() time.Time
	Metrics     *Metrics
}

func (o CertRingOptions) withDefaults() CertRingOptions {
	if o.SubjectName == "" {
		o.SubjectName = "localhost"
	}
	if len(o.DNSNames) == 0 {
		o.DNSNames = []string{"localhost"}
	}
	if o.Duration <= 0 {
		o.Duration = 14 * 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type certRingEntry struct {
	cert   tls.Certificate
	hash   [sha256.Size]byte
	expiry time.Time
}

// CertRing maintains a rolling FIFO of short-lived self-signed ECDSA-P256
// certificates, rotating in new entries ahead of expiry so a TLS handshake
// in flight is never caught holding an already-expired leaf.
type CertRing struct {
	opts CertRingOptions

	mu      sync.Mutex
	entries []certRingEntry
}

// NewCertRing constructs a CertRing from opts, filling in documented
// defaults for any zero-valued fields.
func NewCertRing(opts CertRingOptions) *CertRing {
	return &CertRing{opts: opts.withDefaults()}
}

// rotate runs the time-driven rotation algorithm: evict expired entries from
// the head, then push a new certificate if the tail is within 2*duration/3
// of its own expiry, i.e. at least duration/3 old (or the ring is empty).
// Callers must hold r.mu.
func (r *CertRing) rotate() error {
	now := r.opts.Now()

	for len(r.entries) > 0 && r.entries[0].expiry.Before(now) {
		r.entries = r.entries[1:]
	}

	threshold := now.Add(r.opts.Duration * 2 / 3)
	needsNew := len(r.entries) == 0
	if !needsNew {
		tail := r.entries[len(r.entries)-1]
		needsNew = !tail.expiry.After(threshold)
	}
	if !needsNew {
		return nil
	}

	entry, err := r.generate(now)
	if err != nil {
		return err
	}
	r.entries = append(r.entries, entry)
	r.opts.Metrics.certRotated(len(r.entries))
	return nil
}

func (r *CertRing) generate(now time.Time) (certRingEntry, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return certRingEntry{}, fmt.Errorf("wt3core: generate cert key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return certRingEntry{}, fmt.Errorf("wt3core: generate cert serial: %w", err)
	}

	notAfter := now.Add(r.opts.Duration)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: r.opts.SubjectName},
		NotBefore:    now,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     r.opts.DNSNames,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return certRingEntry{}, fmt.Errorf("wt3core: self-sign cert: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return certRingEntry{}, fmt.Errorf("wt3core: parse generated cert: %w", err)
	}

	return certRingEntry{
		cert: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        leaf,
		},
		hash:   sha256.Sum256(der),
		expiry: notAfter,
	}, nil
}

// EnumerateHashes runs a rotation step, then returns the SHA-256 of each
// currently held certificate's DER encoding, oldest first.
func (r *CertRing) EnumerateHashes() ([][sha256.Size]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.rotate(); err != nil {
		return nil, err
	}
	hashes := make([][sha256.Size]byte, len(r.entries))
	for i, e := range r.entries {
		hashes[i] = e.hash
	}
	return hashes, nil
}

// GetCertificate runs a rotation step, then returns the penultimate entry
// (so a handshake always gets a cert with room left before the next
// rotation evicts it) if at least two entries exist, else the sole entry.
func (r *CertRing) GetCertificate() (*tls.Certificate, [sha256.Size]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.rotate(); err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	idx := len(r.entries) - 1
	if len(r.entries) >= 2 {
		idx = len(r.entries) - 2
	}
	entry := r.entries[idx]
	return &entry.cert, entry.hash, nil
}

// GetCertificateFunc adapts GetCertificate to the signature
// tls.Config.GetCertificate expects.
func (r *CertRing) GetCertificateFunc() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, _, err := r.GetCertificate()
		return cert, err
	}
}
