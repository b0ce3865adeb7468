package trust

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"

	"netfetch/config"
	"netfetch/internal/fetch"
)

// FromConfig builds the trust policy and root pool described by cfg.
// production forbids InsecureSkipVerify.
func FromConfig(cfg config.TLSConfig, production bool) (fetch.TrustPolicy, *x509.CertPool, error) {
	roots, err := LoadRoots(cfg.CAFile)
	if err != nil {
		return nil, nil, err
	}

	if cfg.InsecureSkipVerify {
		if production {
			return nil, nil, errors.New("trust: insecure skip verify is not allowed in production")
		}
		return AcceptAll{}, roots, nil
	}

	if len(cfg.Pins) > 0 {
		pins := make(map[string][]string, len(cfg.Pins))
		for host, list := range cfg.Pins {
			pins[strings.ToLower(host)] = append([]string(nil), list...)
		}
		return Pinned{System: System{Roots: roots}, Pins: pins}, roots, nil
	}

	return System{Roots: roots}, roots, nil
}

// LoadRoots reads a PEM bundle on top of the system pool. An empty path
// returns nil, meaning the system pool.
func LoadRoots(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trust: read CA file: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("trust: no certificates in %s", path)
	}
	return pool, nil
}
