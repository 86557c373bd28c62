package registry

import (
	"crypto/tls"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/deep-gaurav/selfcloud/internal/model"
	"github.com/google/uuid"
)

// persistedState is the on-disk shape of projects.json, matching spec.md §6.
type persistedState struct {
	Projects []model.Project `json:"projects"`
	Domains  []domainEntry   `json:"domains"`
}

type domainEntry struct {
	Domain    string    `json:"domain"`
	ProjectID uuid.UUID `json:"project_id"`
}

func (r *Registry) projectsPath() string {
	return filepath.Join(r.home, "projects.json")
}

// Load reads projects.json (if present), inserts each project, then routes
// every persisted domain back through the same AddDomain-detection path
// (loadDomainStatusLocked) used at runtime, so on-disk PEMs are detected
// identically whether a domain was just added or is being reloaded —
// spec.md §4.1's load description and the round-trip property in §8.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.projectsPath())
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("no projects.json at %s, starting empty", r.projectsPath())
			return nil
		}
		return err
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range state.Projects {
		r.projects[p.ID] = p
	}
	for _, d := range state.Domains {
		name := model.Domain(d.Domain).Normalize()
		r.domains[name] = r.loadDomainStatusLocked(name, d.ProjectID)
	}

	log.Printf("loaded %d projects, %d domains from %s", len(r.projects), len(r.domains), r.projectsPath())
	return nil
}

// loadDomainStatusLocked builds the DomainStatus for (name, projectID),
// detecting PEMs already on disk under
// {home}/certificates/{name}/{cert.pem,key.pem} and, if found and valid,
// installing them into the certstore before returning Provisioned — the
// store-write-before-registry-visibility ordering spec.md §5 requires.
// Callers must already hold r.mu.
func (r *Registry) loadDomainStatusLocked(name model.Domain, projectID uuid.UUID) model.DomainStatus {
	status := model.DomainStatus{
		Domain:       name,
		ProjectID:    projectID,
		Provisioning: model.SSLState{Kind: model.SSLNotProvisioned},
	}

	certPath, keyPath := r.certPaths(name)
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return status
	}

	if r.store != nil {
		r.store.Put(string(name), &cert)
	}

	certPEM, _ := os.ReadFile(certPath)
	keyPEM, _ := os.ReadFile(keyPath)
	status.Provisioning = model.SSLState{
		Kind:    model.SSLProvisioned,
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
		Active:  true,
	}
	return status
}

func (r *Registry) certPaths(name model.Domain) (certPath, keyPath string) {
	dir := filepath.Join(r.home, "certificates", string(name))
	return filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem")
}

// CertPaths exposes the certificate file locations for a domain so the
// provisioner can write to exactly the path the registry will later read
// from on reload (spec.md §3 invariant 3).
func (r *Registry) CertPaths(name model.Domain) (certPath, keyPath string) {
	return r.certPaths(name.Normalize())
}

// persist writes state to a temp file then renames it into place, avoiding
// a torn projects.json on crash mid-write (grounded on the san_cert_manager
// saveState pattern — see SPEC_FULL.md §4.1).
func (r *Registry) persist(state persistedState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(r.home, 0755); err != nil {
		return err
	}

	tmpPath := r.projectsPath() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, r.projectsPath())
}
