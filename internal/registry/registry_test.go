package registry

import (
	"testing"

	"github.com/deep-gaurav/selfcloud/internal/certstore"
	"github.com/deep-gaurav/selfcloud/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddDomainCaseInsensitiveLookup(t *testing.T) {
	reg := New(t.TempDir(), certstore.New())
	p, err := reg.AddProject("demo", model.NewPortForwardKind(8080))
	require.NoError(t, err)

	_, err = reg.AddDomain(p.ID, model.Domain("Example.COM"))
	require.NoError(t, err)

	status, ok := reg.GetDomain(model.Domain("example.com"))
	require.True(t, ok)
	assert.Equal(t, p.ID, status.ProjectID)

	status2, ok := reg.GetDomain(model.Domain("EXAMPLE.COM."))
	require.True(t, ok)
	assert.Equal(t, status.Domain, status2.Domain)
}

func TestAddDomainIdempotent(t *testing.T) {
	reg := New(t.TempDir(), certstore.New())
	p, err := reg.AddProject("demo", model.NewPortForwardKind(8080))
	require.NoError(t, err)

	_, err = reg.AddDomain(p.ID, model.Domain("example.com"))
	require.NoError(t, err)
	_, err = reg.AddDomain(p.ID, model.Domain("example.com"))
	require.NoError(t, err)

	assert.Len(t, reg.ListDomains(), 1)
}

func TestAddDomainUnknownProject(t *testing.T) {
	reg := New(t.TempDir(), certstore.New())
	_, err := reg.AddDomain(uuid.New(), model.Domain("example.com"))
	assert.Error(t, err)
}

func TestPersistRoundTrip(t *testing.T) {
	home := t.TempDir()
	store := certstore.New()

	reg := New(home, store)
	p, err := reg.AddProject("demo", model.NewContainerKind(nil, nil))
	require.NoError(t, err)
	_, err = reg.AddDomain(p.ID, model.Domain("app.example.com"))
	require.NoError(t, err)

	reloaded := New(home, store)
	require.NoError(t, reloaded.Load())

	project, ok := reloaded.GetProject(p.ID)
	require.True(t, ok)
	assert.Equal(t, "demo", project.Name)
	assert.Equal(t, model.KindContainer, project.Kind.Tag, "reloaded project must recover its kind, not silently fall back to KindPortForward")
	require.NotNil(t, project.Kind.Container)

	status, ok := reloaded.GetDomain(model.Domain("app.example.com"))
	require.True(t, ok)
	assert.Equal(t, p.ID, status.ProjectID)
	assert.Equal(t, model.SSLNotProvisioned, status.Provisioning.Kind)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	reg := New(t.TempDir(), certstore.New())
	assert.NoError(t, reg.Load())
	assert.Empty(t, reg.ListProjects())
}

func TestUpdateProjectUnknown(t *testing.T) {
	reg := New(t.TempDir(), certstore.New())
	err := reg.UpdateProject(uuid.New(), model.Project{})
	assert.Error(t, err)
}

func TestRemoveProjectPersists(t *testing.T) {
	home := t.TempDir()
	reg := New(home, certstore.New())
	p, err := reg.AddProject("demo", model.NewPortForwardKind(80))
	require.NoError(t, err)

	require.NoError(t, reg.RemoveProject(p.ID))

	reloaded := New(home, certstore.New())
	require.NoError(t, reloaded.Load())
	assert.Empty(t, reloaded.ListProjects())
}
