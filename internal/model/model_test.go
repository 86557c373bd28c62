package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainNormalize(t *testing.T) {
	cases := map[string]string{
		"Example.COM":  "example.com",
		"example.com.": "example.com",
		" Example.Com": "example.com",
		"example.com":  "example.com",
	}
	for in, want := range cases {
		assert.Equal(t, Domain(want), Domain(in).Normalize(), "input %q", in)
	}
}

func TestDomainNormalizeIdempotent(t *testing.T) {
	d := Domain("A.B.C.")
	assert.Equal(t, d.Normalize(), d.Normalize().Normalize())
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.False(t, Token{}.Expired(now), "no expiry never expires")
	assert.True(t, Token{Expiry: &past}.Expired(now))
	assert.False(t, Token{Expiry: &future}.Expired(now))
}

func TestNewPortForwardKind(t *testing.T) {
	kind := NewPortForwardKind(8080)
	assert.Equal(t, KindPortForward, kind.Tag)
	assert.Equal(t, uint16(8080), kind.PortForward.Port)
	assert.Equal(t, "127.0.0.1:8080", kind.PortForward.Peer.HostPort)
	assert.False(t, kind.PortForward.Peer.TLS)
}

func TestNewContainerKind(t *testing.T) {
	kind := NewContainerKind(nil, nil)
	assert.Equal(t, KindContainer, kind.Tag)
	assert.Equal(t, StatusNone, kind.Container.Status.Kind)
	assert.NotNil(t, kind.Container.Tokens)
	assert.Empty(t, kind.Container.Tokens)
}

// ProjectKind.Tag is json:"-" and therefore never round-trips on its own;
// UnmarshalJSON must derive it from whichever of PortForward/Container is
// present, or a reloaded project silently reverts to KindPortForward.
func TestProjectKindUnmarshalJSONDerivesTagFromContainer(t *testing.T) {
	original := NewContainerKind([]ExposedPort{{ContainerPort: 80}}, nil)
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded ProjectKind
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, KindContainer, decoded.Tag)
	require.NotNil(t, decoded.Container)
	assert.Equal(t, uint16(80), decoded.Container.ExposedPorts[0].ContainerPort)
	assert.Nil(t, decoded.PortForward)
}

func TestProjectKindUnmarshalJSONDerivesTagFromPortForward(t *testing.T) {
	original := NewPortForwardKind(8080)
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded ProjectKind
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, KindPortForward, decoded.Tag)
	require.NotNil(t, decoded.PortForward)
	assert.Equal(t, uint16(8080), decoded.PortForward.Port)
	assert.Nil(t, decoded.Container)
}

func TestProjectKindUnmarshalJSONRejectsEmptyPayload(t *testing.T) {
	var decoded ProjectKind
	err := json.Unmarshal([]byte(`{}`), &decoded)
	assert.Error(t, err)
}
