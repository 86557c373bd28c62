// Package certstore is the SNI -> certificate lookup the TLS acceptor
// consults on every handshake (spec.md §4.2's "TLS acceptor — SNI
// callback"). It is read far more often than it is written, so entries are
// swapped in as whole *tls.Certificate pointers under the write lock, and
// the hot path (GetCertificate) holds the read lock for only a map lookup
// plus a pointer read.
package certstore

import (
	"crypto/tls"
	"strings"
	"sync"
)

// Store is a concurrency-safe SNI -> certificate map. The zero value is not
// usable; construct with New.
type Store struct {
	mu    sync.RWMutex
	certs map[string]*tls.Certificate
}

func New() *Store {
	return &Store{certs: make(map[string]*tls.Certificate)}
}

// Put installs or replaces the certificate for a lowercased domain name.
// Callers must pass an already-normalized domain (model.Domain.Normalize).
func (s *Store) Put(domain string, cert *tls.Certificate) {
	s.mu.Lock()
	s.certs[domain] = cert
	s.mu.Unlock()
}

// Delete removes any certificate registered for domain.
func (s *Store) Delete(domain string) {
	s.mu.Lock()
	delete(s.certs, domain)
	s.mu.Unlock()
}

// Get returns the certificate for domain, if any.
func (s *Store) Get(domain string) (*tls.Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[domain]
	return cert, ok
}

// Has reports whether a certificate is currently installed for domain,
// used by the round-trip/invariant test in spec.md §8
// ("store.has(d) <=> status(d) == Provisioned(_)").
func (s *Store) Has(domain string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.certs[domain]
	return ok
}

// GetCertificate implements the tls.Config.GetCertificate hook. It must be
// safe to call concurrently from every accept goroutine and must observe
// writes made by the provisioner without tearing — both are satisfied by
// the RWMutex-guarded map above.
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := strings.ToLower(hello.ServerName)
	if name == "" {
		return nil, nil
	}
	cert, ok := s.Get(name)
	if !ok {
		return nil, nil
	}
	return cert, nil
}
