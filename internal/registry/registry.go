// Package registry is the shared, concurrently-readable source of truth
// linking domains to projects to backend peers (spec.md §4.1). Every
// proxied request does at least one read; writers are rare (the API,
// the provisioner, the container manager). Reads take a shared lock for
// the duration of a map lookup plus a value copy; writers copy, mutate and
// commit under an exclusive lock, then persist outside it.
package registry

import (
	"sync"

	"github.com/deep-gaurav/selfcloud/internal/apperr"
	"github.com/deep-gaurav/selfcloud/internal/certstore"
	"github.com/deep-gaurav/selfcloud/internal/logging"
	"github.com/deep-gaurav/selfcloud/internal/model"
	"github.com/google/uuid"
)

var log = logging.New("registry")

// Registry holds the in-memory project and domain maps plus the disk
// persistence path. The two maps are deliberately flat and keyed by
// opaque IDs (uuid.UUID, model.Domain) rather than holding pointers into
// each other — spec.md §9's "Cyclic ownership between Project and
// DomainStatus" note: resolve cross references by lookup, not by pointer,
// so replacing a project never requires a write-through pass over domains.
type Registry struct {
	mu sync.RWMutex

	projects map[uuid.UUID]model.Project
	domains  map[model.Domain]model.DomainStatus

	home  string
	store *certstore.Store
}

// New constructs an empty Registry rooted at home. store receives
// certificates detected on disk during Load/AddDomain so that invariant 4
// (store has d <=> SSLState(d) == Provisioned) holds from the first
// observable instant.
func New(home string, store *certstore.Store) *Registry {
	return &Registry{
		projects: make(map[uuid.UUID]model.Project),
		domains:  make(map[model.Domain]model.DomainStatus),
		home:     home,
		store:    store,
	}
}

// GetProject returns a copy of the project with the given id.
func (r *Registry) GetProject(id uuid.UUID) (model.Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	return p, ok
}

// ListProjects returns a snapshot slice of all projects.
func (r *Registry) ListProjects() []model.Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	return out
}

// Snapshot is an alias for ListProjects used by the control loops (SPEC_FULL
// §4.1) to make explicit that they take one read-lock acquisition up front
// and then iterate the copy without holding the lock across loop bodies.
func (r *Registry) Snapshot() []model.Project {
	return r.ListProjects()
}

// AddProject generates a UUID, inserts the project, and persists.
func (r *Registry) AddProject(name string, kind model.ProjectKind) (model.Project, error) {
	p := model.Project{ID: uuid.New(), Name: name, Kind: kind}

	r.mu.Lock()
	r.projects[p.ID] = p
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if err := r.persist(snapshot); err != nil {
		return p, err
	}
	return p, nil
}

// UpdateProject atomically replaces the project with the given id.
// DomainStatus entries reference projects by id only (no cached
// back-pointers), so no rewrite of the domain map is needed here —
// spec.md §4.1's "simultaneously rewrites every DomainStatus" requirement
// is satisfied for free by the lookup-not-pointer design in spec.md §9.
func (r *Registry) UpdateProject(id uuid.UUID, newProject model.Project) error {
	r.mu.Lock()
	if _, ok := r.projects[id]; !ok {
		r.mu.Unlock()
		return apperr.NotFound("project not found")
	}
	newProject.ID = id
	r.projects[id] = newProject
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	return r.persist(snapshot)
}

// RemoveProject deletes a project and persists.
func (r *Registry) RemoveProject(id uuid.UUID) error {
	r.mu.Lock()
	if _, ok := r.projects[id]; !ok {
		r.mu.Unlock()
		return apperr.NotFound("project not found")
	}
	delete(r.projects, id)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	return r.persist(snapshot)
}

// GetDomain returns a copy of the domain status for name (case-insensitive).
func (r *Registry) GetDomain(name model.Domain) (model.DomainStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[name.Normalize()]
	return d, ok
}

// ListDomains returns a snapshot slice of all domain statuses.
func (r *Registry) ListDomains() []model.DomainStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.DomainStatus, 0, len(r.domains))
	for _, d := range r.domains {
		out = append(out, d)
	}
	return out
}

// DomainsFor returns every domain currently attached to projectID.
func (r *Registry) DomainsFor(projectID uuid.UUID) []model.DomainStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.DomainStatus
	for _, d := range r.domains {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	return out
}

// AddDomain lowercases domain, attempts to load PEMs already on disk for
// it, inserts a DomainStatus with the resulting SSLState, and persists.
// Re-adding an already-present domain never duplicates it (spec.md §8): the
// existing entry is replaced, taking the (possibly new) projectID and an
// SSLState re-derived from the PEMs on disk, and the result is persisted.
func (r *Registry) AddDomain(projectID uuid.UUID, domain model.Domain) (model.DomainStatus, error) {
	name := domain.Normalize()

	r.mu.Lock()
	if _, ok := r.projects[projectID]; !ok {
		r.mu.Unlock()
		return model.DomainStatus{}, apperr.NotFound("project not found")
	}

	status := r.loadDomainStatusLocked(name, projectID)
	r.domains[name] = status
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if err := r.persist(snapshot); err != nil {
		return status, err
	}
	return status, nil
}

// UpdateDomainStatus replaces the SSLState (and, incidentally, whatever else
// is stored) for an existing domain. The provisioner uses this to move a
// domain through NotProvisioned -> Provisioning -> Provisioned.
//
// Ordering: callers that move a domain into Provisioned MUST have already
// written the certificate into the certstore (see Loop.provision in
// internal/provisioner) —
// this method does not touch the store itself so that invariant, and its
// "cert visible before SSLState visible" ordering requirement, stays the
// caller's explicit responsibility rather than an implicit side effect.
func (r *Registry) UpdateDomainStatus(name model.Domain, newStatus model.SSLState) error {
	key := name.Normalize()

	r.mu.Lock()
	existing, ok := r.domains[key]
	if !ok {
		r.mu.Unlock()
		return apperr.NotFound("domain not found")
	}
	existing.Provisioning = newStatus
	r.domains[key] = existing
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	return r.persist(snapshot)
}

func (r *Registry) snapshotLocked() persistedState {
	projects := make([]model.Project, 0, len(r.projects))
	for _, p := range r.projects {
		projects = append(projects, p)
	}
	domains := make([]domainEntry, 0, len(r.domains))
	for name, d := range r.domains {
		domains = append(domains, domainEntry{Domain: string(name), ProjectID: d.ProjectID})
	}
	return persistedState{Projects: projects, Domains: domains}
}
