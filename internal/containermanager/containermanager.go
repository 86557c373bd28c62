// Package containermanager is the container reconciliation loop from
// spec.md §4.4: a ~5s ticker that walks every Container project and drives
// its observed Docker state toward its declared state (image present,
// container running, ports discovered), grounded on the same
// ticker+stopChan+WaitGroup shape as internal/provisioner (teacher's
// services/quota_sync.go).
package containermanager

import (
	"context"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/deep-gaurav/selfcloud/internal/dockeradapter"
	"github.com/deep-gaurav/selfcloud/internal/logging"
	"github.com/deep-gaurav/selfcloud/internal/model"
	"github.com/deep-gaurav/selfcloud/internal/registry"
	"github.com/google/uuid"
)

var log = logging.New("containermanager")

// imageRef is the tag image intake writes to and this loop starts
// containers from, per spec.md §4.4 / §4.5.
func imageRef(projectID uuid.UUID) string {
	return "selfcloud_image_" + projectID.String() + ":latest"
}

type Loop struct {
	reg      *registry.Registry
	docker   dockeradapter.Client
	interval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
}

func New(reg *registry.Registry, docker dockeradapter.Client, interval time.Duration) *Loop {
	return &Loop{
		reg:      reg,
		docker:   docker,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

func (l *Loop) Start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		log.Printf("started, interval=%v", l.interval)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.tick()
			case <-l.stopChan:
				log.Printf("stopped")
				return
			}
		}
	}()
}

func (l *Loop) Stop() {
	close(l.stopChan)
	l.wg.Wait()
}

// tick takes one registry snapshot and reconciles every Container project
// concurrently; each project's reconcile is independent of the others.
func (l *Loop) tick() {
	for _, p := range l.reg.Snapshot() {
		if p.Kind.Tag != model.KindContainer {
			continue
		}
		l.wg.Add(1)
		go func(p model.Project) {
			defer l.wg.Done()
			l.reconcile(p)
		}(p)
	}
}

// reconcile drives one Container project's state forward through every
// step in a single call (spec.md §4.4): image presence -> container
// existence -> running -> port discovery, stopping early only when a step
// fails or no image exists. Each step no-ops if already satisfied, making
// the loop idempotent at steady state (the "Running + matching digest ->
// untouched" testable property in spec.md §8).
func (l *Loop) reconcile(p model.Project) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := p.Kind.Container
	ref := imageRef(p.ID)
	name := "selfcloud_container_" + p.ID.String() + "_latest"

	digest, err := l.docker.ImageDigest(ctx, ref)
	if err != nil {
		log.Printf("project %s: image digest: %v", p.ID, err)
		return
	}
	if digest == "" {
		// No image has been uploaded yet (spec.md §4.5); nothing to do until
		// image intake tags one.
		if c.Status.Kind != model.StatusNone {
			l.update(p.ID, model.ContainerStatus{Kind: model.StatusNone}, c.ExposedPorts)
		}
		return
	}

	containerID, err := l.docker.FindByName(ctx, name)
	if err != nil {
		log.Printf("project %s: find container: %v", p.ID, err)
		return
	}

	if containerID == "" {
		l.update(p.ID, model.ContainerStatus{Kind: model.StatusCreating}, c.ExposedPorts)
		containerID, err = l.createContainer(ctx, p, ref, name)
		if err != nil {
			log.Printf("project %s: create: %v", p.ID, err)
			l.update(p.ID, model.ContainerStatus{Kind: model.StatusFailed}, c.ExposedPorts)
			return
		}
	}

	status, err := l.docker.Status(ctx, containerID)
	if err != nil {
		log.Printf("project %s: status: %v", p.ID, err)
		l.update(p.ID, model.ContainerStatus{Kind: model.StatusFailed}, c.ExposedPorts)
		return
	}

	if status != "running" {
		runningDigest, _ := l.docker.ContainerImageDigest(ctx, containerID)
		if runningDigest != "" && runningDigest != digest {
			// Declared image changed since this container was created; recreate
			// rather than restart a stale one.
			if err := l.docker.Stop(ctx, containerID); err != nil {
				log.Printf("project %s: stop stale container: %v", p.ID, err)
				return
			}
			containerID, err = l.createContainer(ctx, p, ref, name)
			if err != nil {
				log.Printf("project %s: recreate: %v", p.ID, err)
				l.update(p.ID, model.ContainerStatus{Kind: model.StatusFailed}, c.ExposedPorts)
				return
			}
		} else if err := l.docker.Start(ctx, containerID); err != nil {
			log.Printf("project %s: start: %v", p.ID, err)
			l.update(p.ID, model.ContainerStatus{Kind: model.StatusFailed}, c.ExposedPorts)
			return
		}
	}

	bindings, err := l.docker.InspectPorts(ctx, containerID)
	if err != nil {
		log.Printf("project %s: inspect ports: %v", p.ID, err)
		return
	}
	exposedPorts := applyBindings(c.ExposedPorts, bindings)

	running := model.ContainerStatus{Kind: model.StatusRunning, ContainerRef: containerID}
	if c.Status == running && samePorts(c.ExposedPorts, exposedPorts) {
		// Already converged; avoid a redundant persist on every tick.
		return
	}

	l.update(p.ID, running, exposedPorts)
}

// update re-fetches the project (in case something mutated it since the
// snapshot this tick started from), applies the new status and port
// bindings to its Container kind, and writes it back through UpdateProject.
// A concurrent delete of the project is not an error: there is simply
// nothing left to reconcile.
func (l *Loop) update(projectID uuid.UUID, status model.ContainerStatus, ports []model.ExposedPort) {
	current, ok := l.reg.GetProject(projectID)
	if !ok || current.Kind.Tag != model.KindContainer {
		return
	}

	updated := current
	container := *current.Kind.Container
	container.Status = status
	container.ExposedPorts = ports
	updated.Kind.Container = &container

	if err := l.reg.UpdateProject(projectID, updated); err != nil {
		log.Printf("project %s: update: %v", projectID, err)
	}
}

func (l *Loop) createContainer(ctx context.Context, p model.Project, ref, name string) (string, error) {
	c := p.Kind.Container

	bindings := map[uint16]string{}
	needsExplicit := false
	for _, ep := range c.ExposedPorts {
		if ep.HostPort != 0 {
			bindings[ep.ContainerPort] = strconv.Itoa(int(ep.HostPort))
			needsExplicit = true
		} else {
			bindings[ep.ContainerPort] = ""
		}
	}

	env := make([]string, 0, len(c.EnvVars))
	for _, kv := range c.EnvVars {
		env = append(env, kv.Key+"="+kv.Value)
	}

	return l.docker.CreateAndStart(ctx, dockeradapter.CreateOptions{
		Name:         name,
		Image:        ref,
		PublishAll:   !needsExplicit,
		PortBindings: bindings,
		Env:          env,
	})
}

// applyBindings fills in each declared ExposedPort's Peer from Docker's
// observed host bindings, per spec.md §4.4 step d.
func applyBindings(declared []model.ExposedPort, bindings []dockeradapter.PortBinding) []model.ExposedPort {
	byPort := make(map[uint16]uint16, len(bindings))
	for _, b := range bindings {
		byPort[b.ContainerPort] = b.HostPort
	}

	out := make([]model.ExposedPort, len(declared))
	for i, ep := range declared {
		out[i] = ep
		if hostPort, ok := byPort[ep.ContainerPort]; ok {
			peer := model.PeerForPort(hostPort)
			out[i].Peer = &peer
		}
	}
	return out
}

func samePorts(a, b []model.ExposedPort) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ap, bp := a[i].Peer, b[i].Peer
		if (ap == nil) != (bp == nil) {
			return false
		}
		if ap != nil && !reflect.DeepEqual(*ap, *bp) {
			return false
		}
	}
	return true
}
