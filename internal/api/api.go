// Package api is the admin HTTP surface from spec.md §4.6: project, domain,
// and container lifecycle operations against the registry, consumed by the
// (externally owned) admin UI. Handler-per-resource plus route-group shape
// is adapted from the teacher's cmd/api wiring of its handlers package.
package api

import (
	"context"
	"strconv"
	"time"

	"github.com/deep-gaurav/selfcloud/internal/apperr"
	"github.com/deep-gaurav/selfcloud/internal/dockeradapter"
	"github.com/deep-gaurav/selfcloud/internal/logging"
	"github.com/deep-gaurav/selfcloud/internal/middleware"
	"github.com/deep-gaurav/selfcloud/internal/model"
	"github.com/deep-gaurav/selfcloud/internal/registry"
	"github.com/deep-gaurav/selfcloud/internal/session"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var log = logging.New("api")

// Server wires the registry and Docker adapter to fiber routes.
type Server struct {
	reg       *registry.Registry
	docker    dockeradapter.Client
	validator *session.Validator
	redis     *redis.Client
}

func New(reg *registry.Registry, docker dockeradapter.Client, validator *session.Validator, redisClient *redis.Client) *Server {
	return &Server{reg: reg, docker: docker, validator: validator, redis: redisClient}
}

// Mount registers every admin route on app, matching spec.md §4.6's
// operation list.
func (s *Server) Mount(app *fiber.App) {
	app.Use(middleware.Recovery())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())
	app.Use(middleware.RateLimiter(s.redis, 120, time.Minute))

	api := app.Group("/api", middleware.RequireSession(s.validator))

	projects := api.Group("/projects")
	projects.Get("/", s.listProjects)
	projects.Post("/", s.createProject)
	projects.Get("/:id", s.getProject)
	projects.Put("/:id", s.updateProject)
	projects.Delete("/:id", s.deleteProject)

	projects.Get("/:id/domains", s.listDomains)
	projects.Post("/:id/domains", s.addDomain)

	projects.Post("/:id/start", s.containerAction(s.docker.Start))
	projects.Post("/:id/stop", s.stopContainer)
	projects.Post("/:id/pause", s.containerAction(s.docker.Pause))
	projects.Post("/:id/unpause", s.containerAction(s.docker.Unpause))
	projects.Get("/:id/inspect", s.inspectContainer)

	api.Get("/domains/:domain", s.getDomainStatus)
}

func errJSON(c *fiber.Ctx, err error) error {
	status := apperr.HTTPStatus(err)
	if _, ok := apperr.KindOf(err); !ok {
		log.Printf("unclassified error: %v", err)
	}
	return c.Status(status).JSON(fiber.Map{"success": false, "message": err.Error()})
}

func (s *Server) listProjects(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "projects": s.reg.ListProjects()})
}

func (s *Server) getProject(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return errJSON(c, apperr.InvalidInput("invalid project id"))
	}
	p, ok := s.reg.GetProject(id)
	if !ok {
		return errJSON(c, apperr.NotFound("project not found"))
	}
	return c.JSON(fiber.Map{"success": true, "project": p})
}

type createProjectRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // "port_forward" | "container"
	Port uint16 `json:"port"`
}

func (s *Server) createProject(c *fiber.Ctx) error {
	var req createProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, apperr.InvalidInput("malformed request body"))
	}
	if req.Name == "" {
		return errJSON(c, apperr.InvalidInput("name is required"))
	}

	var kind model.ProjectKind
	switch req.Kind {
	case "port_forward":
		if req.Port == 0 {
			return errJSON(c, apperr.InvalidInput("port is required for port_forward projects"))
		}
		kind = model.NewPortForwardKind(req.Port)
	case "container":
		kind = model.NewContainerKind(nil, nil)
	default:
		return errJSON(c, apperr.InvalidInput("kind must be port_forward or container"))
	}

	p, err := s.reg.AddProject(req.Name, kind)
	if err != nil {
		return errJSON(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "project": p})
}

type updateProjectRequest struct {
	Name         string            `json:"name"`
	Port         *uint16           `json:"port,omitempty"`
	ExposedPorts []model.ExposedPort `json:"exposed_ports,omitempty"`
	EnvVars      []model.KV        `json:"env_vars,omitempty"`
}

func (s *Server) updateProject(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return errJSON(c, apperr.InvalidInput("invalid project id"))
	}

	current, ok := s.reg.GetProject(id)
	if !ok {
		return errJSON(c, apperr.NotFound("project not found"))
	}

	var req updateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, apperr.InvalidInput("malformed request body"))
	}

	updated := current
	if req.Name != "" {
		updated.Name = req.Name
	}

	switch current.Kind.Tag {
	case model.KindPortForward:
		if req.Port != nil {
			updated.Kind = model.NewPortForwardKind(*req.Port)
		}
	case model.KindContainer:
		container := *current.Kind.Container
		if req.ExposedPorts != nil {
			container.ExposedPorts = req.ExposedPorts
		}
		if req.EnvVars != nil {
			container.EnvVars = req.EnvVars
		}
		updated.Kind.Container = &container
	}

	if err := s.reg.UpdateProject(id, updated); err != nil {
		return errJSON(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) deleteProject(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return errJSON(c, apperr.InvalidInput("invalid project id"))
	}
	if err := s.reg.RemoveProject(id); err != nil {
		return errJSON(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) listDomains(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return errJSON(c, apperr.InvalidInput("invalid project id"))
	}
	return c.JSON(fiber.Map{"success": true, "domains": s.reg.DomainsFor(id)})
}

type addDomainRequest struct {
	Domain string `json:"domain"`
}

func (s *Server) addDomain(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return errJSON(c, apperr.InvalidInput("invalid project id"))
	}

	var req addDomainRequest
	if err := c.BodyParser(&req); err != nil || req.Domain == "" {
		return errJSON(c, apperr.InvalidInput("domain is required"))
	}

	status, err := s.reg.AddDomain(id, model.Domain(req.Domain))
	if err != nil {
		return errJSON(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "domain": status})
}

func (s *Server) getDomainStatus(c *fiber.Ctx) error {
	status, ok := s.reg.GetDomain(model.Domain(c.Params("domain")))
	if !ok {
		return errJSON(c, apperr.NotFound("domain not found"))
	}
	return c.JSON(fiber.Map{"success": true, "domain": status})
}

// containerAction builds a handler that delegates to a Docker adapter
// action on a container project's ContainerRef, only when its status is
// Running (spec.md §4.6: "delegates to Docker adapter on
// ContainerStatus::Running only").
func (s *Server) containerAction(action func(ctx context.Context, containerID string) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return errJSON(c, apperr.InvalidInput("invalid project id"))
		}

		p, ok := s.reg.GetProject(id)
		if !ok {
			return errJSON(c, apperr.NotFound("project not found"))
		}
		if p.Kind.Tag != model.KindContainer || p.Kind.Container.Status.Kind != model.StatusRunning {
			return errJSON(c, apperr.InvalidInput("project has no running container"))
		}

		ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
		defer cancel()

		if err := action(ctx, p.Kind.Container.Status.ContainerRef); err != nil {
			return errJSON(c, apperr.Upstream("docker action failed", err))
		}
		return c.JSON(fiber.Map{"success": true})
	}
}

// stopContainer additionally resets the project to None so the
// container manager's next tick brings it back up, matching the admin
// "stop" affordance having an observable round-trip rather than a terminal
// state outside the reconciler's control.
func (s *Server) stopContainer(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return errJSON(c, apperr.InvalidInput("invalid project id"))
	}

	p, ok := s.reg.GetProject(id)
	if !ok {
		return errJSON(c, apperr.NotFound("project not found"))
	}
	if p.Kind.Tag != model.KindContainer || p.Kind.Container.Status.Kind != model.StatusRunning {
		return errJSON(c, apperr.InvalidInput("project has no running container"))
	}

	ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
	defer cancel()

	containerID := p.Kind.Container.Status.ContainerRef
	if err := s.docker.Stop(ctx, containerID); err != nil {
		return errJSON(c, apperr.Upstream("docker stop failed", err))
	}

	updated := p
	container := *p.Kind.Container
	container.Status = model.ContainerStatus{Kind: model.StatusNone}
	updated.Kind.Container = &container
	if err := s.reg.UpdateProject(id, updated); err != nil {
		return errJSON(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) inspectContainer(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return errJSON(c, apperr.InvalidInput("invalid project id"))
	}
	p, ok := s.reg.GetProject(id)
	if !ok {
		return errJSON(c, apperr.NotFound("project not found"))
	}
	if p.Kind.Tag != model.KindContainer || p.Kind.Container.Status.Kind != model.StatusRunning {
		return c.JSON(fiber.Map{"success": true, "status": p.Kind.Container.Status})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
	defer cancel()

	containerID := p.Kind.Container.Status.ContainerRef
	tail := 100
	if t := c.Query("tail"); t != "" {
		if parsed, err := strconv.Atoi(t); err == nil {
			tail = parsed
		}
	}
	logs, err := s.docker.Logs(ctx, containerID, tail)
	if err != nil {
		return errJSON(c, apperr.Upstream("fetching logs failed", err))
	}

	return c.JSON(fiber.Map{"success": true, "status": p.Kind.Container.Status, "logs": logs})
}
