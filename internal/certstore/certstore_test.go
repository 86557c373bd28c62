package certstore

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCertificateCaseInsensitive(t *testing.T) {
	s := New()
	cert := &tls.Certificate{}
	s.Put("example.com", cert)

	got, err := s.GetCertificate(&tls.ClientHelloInfo{ServerName: "Example.COM"})
	assert.NoError(t, err)
	assert.Same(t, cert, got)
}

func TestGetCertificateMissing(t *testing.T) {
	s := New()
	got, err := s.GetCertificate(&tls.ClientHelloInfo{ServerName: "unknown.example.com"})
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetCertificateEmptySNI(t *testing.T) {
	s := New()
	got, err := s.GetCertificate(&tls.ClientHelloInfo{ServerName: ""})
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestHasAndDelete(t *testing.T) {
	s := New()
	cert := &tls.Certificate{}
	s.Put("example.com", cert)
	assert.True(t, s.Has("example.com"))

	s.Delete("example.com")
	assert.False(t, s.Has("example.com"))
}
