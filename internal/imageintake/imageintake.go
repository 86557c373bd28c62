// Package imageintake implements the streaming multipart image upload path
// from spec.md §4.5: validate token against project, stream the image part
// through a bounded channel into Docker's image-load stream, tag the
// result, then reset the project to status=None so the container manager
// reconciles it on its next tick.
//
// The bounded-channel-between-reader-and-importer shape is grounded on the
// teacher's NDJSON streaming handler in handlers/ssl.go (InstallSSL), which
// drives a long external operation from a fiber handler while writing
// incremental output back to the client.
package imageintake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"regexp"
	"time"

	"github.com/deep-gaurav/selfcloud/internal/apperr"
	"github.com/deep-gaurav/selfcloud/internal/dockeradapter"
	"github.com/deep-gaurav/selfcloud/internal/logging"
	"github.com/deep-gaurav/selfcloud/internal/model"
	"github.com/deep-gaurav/selfcloud/internal/registry"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

var log = logging.New("imageintake")

// chunkBufferSize bounds the number of in-flight chunks between the form
// reader goroutine and the Docker import stream, matching spec.md §4.5's
// "open a bounded channel" requirement (~5, matching the NDJSON handler's
// bounded-work-in-flight intent).
const chunkBufferSize = 5

var loadedImageRe = regexp.MustCompile(`Loaded image:\s*(\S+)`)

// Handler wires the HTTP layer to the registry and Docker.
type Handler struct {
	reg    *registry.Registry
	docker dockeradapter.Client
}

func New(reg *registry.Registry, docker dockeradapter.Client) *Handler {
	return &Handler{reg: reg, docker: docker}
}

// Upload implements POST with multipart fields token, project_id, image
// (spec.md §6's "Image upload endpoint").
func (h *Handler) Upload(c *fiber.Ctx) error {
	token := c.FormValue("token")
	projectIDRaw := c.FormValue("project_id")
	if token == "" || projectIDRaw == "" {
		return apperr.InvalidInput("token and project_id are required")
	}

	projectID, err := uuid.Parse(projectIDRaw)
	if err != nil {
		return apperr.InvalidInput("project_id is not a valid uuid")
	}

	project, ok := h.reg.GetProject(projectID)
	if !ok {
		return apperr.NotFound("project not found")
	}
	if project.Kind.Tag != model.KindContainer {
		return apperr.InvalidInput("project is not a container project")
	}

	tok, ok := project.Kind.Container.Tokens[token]
	if !ok {
		return apperr.Unauthorized("unknown upload token")
	}
	if tok.Expired(time.Now()) {
		return apperr.Unauthorized("upload token expired")
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return apperr.InvalidInput("image part is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return apperr.InvalidInput("could not open image part")
	}
	defer file.Close()

	ctx := context.Background()
	imageName, err := h.load(ctx, file, projectID)
	if err != nil {
		log.Printf("project %s: image load failed: %v", projectID, err)
		return apperr.Upstream("image load failed", err)
	}

	target := fmt.Sprintf("selfcloud_image_%s:latest", projectID)
	if err := h.docker.Tag(ctx, imageName, target); err != nil {
		// Partial uploads must not leave a half-tagged image (spec.md §4.5): we
		// log and leave the project untouched so the next upload overwrites
		// cleanly rather than reconciling against a stale or missing tag.
		log.Printf("project %s: tag %s -> %s failed: %v", projectID, imageName, target, err)
		return apperr.Upstream("tagging image failed", err)
	}

	if err := h.resetStatus(projectID); err != nil {
		log.Printf("project %s: reset status: %v", projectID, err)
		return apperr.Upstream("updating project status failed", err)
	}

	return c.Status(fiber.StatusOK).SendString("Accepted")
}

// load streams the multipart file part through a bounded channel of chunks
// into Docker's image-load stream, returning the parsed "Loaded image:
// {name}" result.
func (h *Handler) load(ctx context.Context, file multipart.File, projectID uuid.UUID) (string, error) {
	chunks := make(chan []byte, chunkBufferSize)
	pr, pw := io.Pipe()

	go func() {
		defer close(chunks)
		buf := make([]byte, 32*1024)
		for {
			n, err := file.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				chunks <- chunk
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				log.Printf("project %s: reading image upload: %v", projectID, err)
				return
			}
		}
	}()

	go func() {
		var err error
		for chunk := range chunks {
			if _, werr := pw.Write(chunk); werr != nil {
				err = werr
				break
			}
		}
		pw.CloseWithError(err)
	}()

	output, err := h.docker.LoadImage(ctx, pr)
	if err != nil {
		return "", err
	}

	match := loadedImageRe.FindStringSubmatch(output)
	if match == nil {
		return "", fmt.Errorf("could not parse docker image load output: %s", bytes.TrimSpace([]byte(output)))
	}
	return match[1], nil
}

func (h *Handler) resetStatus(projectID uuid.UUID) error {
	current, ok := h.reg.GetProject(projectID)
	if !ok {
		return apperr.NotFound("project not found")
	}
	updated := current
	container := *current.Kind.Container
	container.Status = model.ContainerStatus{Kind: model.StatusNone}
	updated.Kind.Container = &container
	return h.reg.UpdateProject(projectID, updated)
}
