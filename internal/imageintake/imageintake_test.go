package imageintake

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deep-gaurav/selfcloud/internal/certstore"
	"github.com/deep-gaurav/selfcloud/internal/dockeradapter"
	"github.com/deep-gaurav/selfcloud/internal/model"
	"github.com/deep-gaurav/selfcloud/internal/registry"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	loadOutput string
	tagSource  string
	tagTarget  string
}

func (f *fakeDocker) CreateAndStart(ctx context.Context, opts dockeradapter.CreateOptions) (string, error) {
	return "", nil
}
func (f *fakeDocker) Stop(ctx context.Context, containerID string) error { return nil }
func (f *fakeDocker) InspectPorts(ctx context.Context, containerID string) ([]dockeradapter.PortBinding, error) {
	return nil, nil
}
func (f *fakeDocker) ImageDigest(ctx context.Context, ref string) (string, error) { return "", nil }
func (f *fakeDocker) ContainerImageDigest(ctx context.Context, containerID string) (string, error) {
	return "", nil
}
func (f *fakeDocker) FindByName(ctx context.Context, name string) (string, error) { return "", nil }
func (f *fakeDocker) Start(ctx context.Context, containerID string) error         { return nil }
func (f *fakeDocker) LoadImage(ctx context.Context, tarStream io.Reader) (string, error) {
	_, _ = io.Copy(io.Discard, tarStream)
	return f.loadOutput, nil
}
func (f *fakeDocker) Tag(ctx context.Context, source, target string) error {
	f.tagSource, f.tagTarget = source, target
	return nil
}
func (f *fakeDocker) Status(ctx context.Context, containerID string) (string, error) { return "", nil }
func (f *fakeDocker) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	return "", nil
}
func (f *fakeDocker) Pause(ctx context.Context, containerID string) error   { return nil }
func (f *fakeDocker) Unpause(ctx context.Context, containerID string) error { return nil }

var _ dockeradapter.Client = (*fakeDocker)(nil)

func multipartBody(t *testing.T, token, projectID string, imageData []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	require.NoError(t, writer.WriteField("token", token))
	require.NoError(t, writer.WriteField("project_id", projectID))

	part, err := writer.CreateFormFile("image", "image.tar")
	require.NoError(t, err)
	_, err = part.Write(imageData)
	require.NoError(t, err)

	require.NoError(t, writer.Close())
	return buf, writer.FormDataContentType()
}

func TestUploadSuccessTagsImageAndResetsStatus(t *testing.T) {
	reg := registry.New(t.TempDir(), certstore.New())
	p, err := reg.AddProject("demo", model.NewContainerKind(nil, nil))
	require.NoError(t, err)

	current := p
	c := *p.Kind.Container
	c.Tokens = map[string]model.Token{"tok-1": {Value: "tok-1"}}
	c.Status = model.ContainerStatus{Kind: model.StatusRunning, ContainerRef: "old"}
	current.Kind.Container = &c
	require.NoError(t, reg.UpdateProject(p.ID, current))

	docker := &fakeDocker{loadOutput: "Loaded image: sha256:deadbeef\n"}
	handler := New(reg, docker)

	app := fiber.New()
	app.Post("/upload", handler.Upload)

	body, contentType := multipartBody(t, "tok-1", p.ID.String(), []byte("fake tar bytes"))
	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	assert.Equal(t, "sha256:deadbeef", docker.tagSource)
	assert.Equal(t, "selfcloud_image_"+p.ID.String()+":latest", docker.tagTarget)

	updated, ok := reg.GetProject(p.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusNone, updated.Kind.Container.Status.Kind)
}

func TestUploadRejectsExpiredToken(t *testing.T) {
	reg := registry.New(t.TempDir(), certstore.New())
	p, err := reg.AddProject("demo", model.NewContainerKind(nil, nil))
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	current := p
	c := *p.Kind.Container
	c.Tokens = map[string]model.Token{"tok-1": {Value: "tok-1", Expiry: &past}}
	current.Kind.Container = &c
	require.NoError(t, reg.UpdateProject(p.ID, current))

	docker := &fakeDocker{}
	handler := New(reg, docker)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).SendString(err.Error())
		},
	})
	app.Post("/upload", handler.Upload)

	body, contentType := multipartBody(t, "tok-1", p.ID.String(), []byte("x"))
	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, docker.tagSource)
}

func TestUploadRejectsUnknownToken(t *testing.T) {
	reg := registry.New(t.TempDir(), certstore.New())
	p, err := reg.AddProject("demo", model.NewContainerKind(nil, nil))
	require.NoError(t, err)

	docker := &fakeDocker{}
	handler := New(reg, docker)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).SendString(err.Error())
		},
	})
	app.Post("/upload", handler.Upload)

	body, contentType := multipartBody(t, "nope", p.ID.String(), []byte("x"))
	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
