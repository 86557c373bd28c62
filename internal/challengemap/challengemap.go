// Package challengemap is the shared token -> key-authorization map
// referenced throughout spec.md §4.3 and §4.2: provisioner workers write to
// it via the ACME HTTP-01 provider, and the gateway reads from it to answer
// `/.well-known/acme-challenge/{token}` requests for any host.
package challengemap

import "sync"

type Map struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func New() *Map {
	return &Map{tokens: make(map[string]string)}
}

func (m *Map) Set(token, keyAuth string) {
	m.mu.Lock()
	m.tokens[token] = keyAuth
	m.mu.Unlock()
}

func (m *Map) Delete(token string) {
	m.mu.Lock()
	delete(m.tokens, token)
	m.mu.Unlock()
}

func (m *Map) Get(token string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keyAuth, ok := m.tokens[token]
	return keyAuth, ok
}
