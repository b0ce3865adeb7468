// Package trust provides fetch.TrustPolicy implementations.
package trust

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"netfetch/internal/fetch"
)

var (
	ErrNoCertificates = errors.New("trust: no peer certificates")
	ErrPinMismatch    = errors.New("trust: no certificate matches the pinned keys")
)

// VerifyChain runs standard x509 chain and hostname verification on trust.
// Nil roots means the system pool.
func VerifyChain(trust fetch.ServerTrust, host string, roots *x509.CertPool) error {
	if len(trust.PeerCertificates) == 0 {
		return ErrNoCertificates
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		DNSName:       host,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range trust.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}

	if _, err := trust.PeerCertificates[0].Verify(opts); err != nil {
		return fmt.Errorf("trust: verify %s: %w", host, err)
	}
	return nil
}

// System accepts chains that verify against Roots for the requested host.
type System struct {
	Roots *x509.CertPool
}

func (s System) Evaluate(trust fetch.ServerTrust, host string) error {
	return VerifyChain(trust, host, s.Roots)
}

// Pinned adds public key pinning on top of System verification. Pins maps a
// lower-case host to base64 SHA-256 hashes of SubjectPublicKeyInfo; a chain
// passes when any of its certificates matches. Hosts without pins get plain
// System verification.
type Pinned struct {
	System
	Pins map[string][]string
}

func (p Pinned) Evaluate(trust fetch.ServerTrust, host string) error {
	if err := p.System.Evaluate(trust, host); err != nil {
		return err
	}

	pins := p.Pins[strings.ToLower(host)]
	if len(pins) == 0 {
		return nil
	}

	for _, cert := range trust.PeerCertificates {
		fp := SPKIFingerprint(cert)
		for _, pin := range pins {
			if pin == fp {
				return nil
			}
		}
	}
	return fmt.Errorf("%w for %s", ErrPinMismatch, host)
}

// SPKIFingerprint returns the base64 SHA-256 of the certificate's
// SubjectPublicKeyInfo, the form used in Pins.
func SPKIFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// AcceptAll accepts every server. Development only.
type AcceptAll struct{}

func (AcceptAll) Evaluate(fetch.ServerTrust, string) error {
	return nil
}

// Func adapts a function to fetch.TrustPolicy.
type Func func(trust fetch.ServerTrust, host string) error

func (f Func) Evaluate(trust fetch.ServerTrust, host string) error {
	return f(trust, host)
}

var (
	_ fetch.TrustPolicy = System{}
	_ fetch.TrustPolicy = Pinned{}
	_ fetch.TrustPolicy = AcceptAll{}
	_ fetch.TrustPolicy = Func(nil)
)
