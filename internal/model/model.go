// Package model holds the data types shared by every subsystem: projects,
// domains, peers and their lifecycle states, per spec.md §3.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Domain is a case-insensitive domain name. Storage and map-keying are
// always the lowercased, trailing-dot-trimmed form returned by Normalize.
type Domain string

// Normalize lowercases the domain and strips a trailing dot, so
// getDomain("A.B") == getDomain("a.b") == getDomain("A.B.") as required by
// spec.md §8's case-insensitive lookup property.
func (d Domain) Normalize() Domain {
	s := strings.ToLower(strings.TrimSpace(string(d)))
	s = strings.TrimSuffix(s, ".")
	return Domain(s)
}

func (d Domain) String() string { return string(d) }

// Peer is an opaque backend descriptor the gateway forwards to.
type Peer struct {
	HostPort string `json:"hostport"`
	TLS      bool   `json:"tls"`
	SNI      string `json:"sni"`
	// ALPN is fixed to "h2, http/1.1" per spec.md §4.2; kept as a field so
	// tests and future peers (e.g. plaintext-only) can override it.
	ALPN []string `json:"alpn"`
}

// PeerForPort builds the peer a port-forward project or a discovered
// container port forwards to: "127.0.0.1:{port}, plaintext".
func PeerForPort(port uint16) Peer {
	return Peer{
		HostPort: "127.0.0.1:" + strconv.Itoa(int(port)),
		TLS:      false,
		ALPN:     []string{"h2", "http/1.1"},
	}
}

// Token authorizes an image upload against a container project.
type Token struct {
	Value  string     `json:"value"`
	Expiry *time.Time `json:"expiry,omitempty"`
}

// Expired reports whether the token's expiry, if set, is in the past.
func (t Token) Expired(now time.Time) bool {
	return t.Expiry != nil && now.After(*t.Expiry)
}

// ContainerStatusKind is the tagged variant of ContainerStatus.
type ContainerStatusKind int

const (
	StatusNone ContainerStatusKind = iota
	StatusCreating
	StatusFailed
	StatusRunning
)

func (k ContainerStatusKind) String() string {
	switch k {
	case StatusNone:
		return "None"
	case StatusCreating:
		return "Creating"
	case StatusFailed:
		return "Failed"
	case StatusRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

// ContainerStatus is the reconciler-owned lifecycle state of a container
// project. ContainerRef is only meaningful when Kind == StatusRunning.
type ContainerStatus struct {
	Kind         ContainerStatusKind `json:"kind"`
	ContainerRef string              `json:"container_ref,omitempty"`
}

// ExposedPort is a container port a project declares, optionally bound to
// one or more domains and, once the container manager observes Docker's
// host-side binding, a Peer.
type ExposedPort struct {
	ContainerPort uint16 `json:"container_port"`
	// HostPort is a user-supplied hint; when non-zero the container manager
	// requests this exact host binding instead of --publish-all (SPEC_FULL §3).
	HostPort uint16   `json:"host_port,omitempty"`
	Domains  []Domain `json:"domains"`
	Peer     *Peer    `json:"peer,omitempty"`
}

// KV is a name/value environment variable entry.
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ProjectKindTag is the tagged variant discriminator for ProjectKind, the
// idiomatic Go rendering of the Rust enum `ProjectKind`.
type ProjectKindTag int

const (
	KindPortForward ProjectKindTag = iota
	KindContainer
)

// ProjectKind is a sum type: exactly one of PortForward/Container is
// meaningful, selected by Tag. Modeled as a struct with a discriminator
// rather than an interface so the registry can JSON-(de)serialize it
// directly (see registry/persist.go), matching projects.json's
// externally-tagged shape in spec.md §6.
type ProjectKind struct {
	Tag         ProjectKindTag `json:"-"`
	PortForward *PortForward   `json:"PortForward,omitempty"`
	Container   *Container     `json:"Container,omitempty"`
}

// UnmarshalJSON decodes the externally-tagged projects.json shape and
// derives Tag from whichever of PortForward/Container is present, since Tag
// itself is never persisted (json:"-"). Without this, every project
// reloaded from disk silently reverts to the zero value, KindPortForward,
// regardless of its real kind.
func (k *ProjectKind) UnmarshalJSON(data []byte) error {
	type projectKindAlias struct {
		PortForward *PortForward `json:"PortForward,omitempty"`
		Container   *Container   `json:"Container,omitempty"`
	}
	var alias projectKindAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	k.PortForward = alias.PortForward
	k.Container = alias.Container

	switch {
	case alias.Container != nil:
		k.Tag = KindContainer
	case alias.PortForward != nil:
		k.Tag = KindPortForward
	default:
		return fmt.Errorf("project_type: neither PortForward nor Container is present")
	}
	return nil
}

type PortForward struct {
	Port uint16 `json:"port"`
	Peer Peer   `json:"peer"`
}

type Container struct {
	ExposedPorts []ExposedPort   `json:"exposed_ports"`
	EnvVars      []KV            `json:"env_vars"`
	Tokens       map[string]Token `json:"tokens"`
	Status       ContainerStatus `json:"status"`
}

// NewPortForwardKind builds a ProjectKind whose peer is derived from port.
func NewPortForwardKind(port uint16) ProjectKind {
	return ProjectKind{
		Tag:         KindPortForward,
		PortForward: &PortForward{Port: port, Peer: PeerForPort(port)},
	}
}

// NewContainerKind builds a fresh, unprovisioned container ProjectKind.
func NewContainerKind(exposedPorts []ExposedPort, envVars []KV) ProjectKind {
	return ProjectKind{
		Tag: KindContainer,
		Container: &Container{
			ExposedPorts: exposedPorts,
			EnvVars:      envVars,
			Tokens:       map[string]Token{},
			Status:       ContainerStatus{Kind: StatusNone},
		},
	}
}

// Project is immutable in its ID; Name and Kind are replaced atomically by
// registry updates (spec.md §3 invariant 5).
type Project struct {
	ID   uuid.UUID   `json:"id"`
	Name string      `json:"name"`
	Kind ProjectKind `json:"project_type"`
}

// SSLStateKind is the tagged variant of SSLState.
type SSLStateKind int

const (
	SSLNotProvisioned SSLStateKind = iota
	SSLProvisioning
	SSLProvisioned
)

func (k SSLStateKind) String() string {
	switch k {
	case SSLNotProvisioned:
		return "NotProvisioned"
	case SSLProvisioning:
		return "Provisioning"
	case SSLProvisioned:
		return "Provisioned"
	default:
		return "Unknown"
	}
}

// SSLState is the per-domain certificate lifecycle state. CertPEM/KeyPEM are
// only meaningful when Kind == SSLProvisioned.
type SSLState struct {
	Kind    SSLStateKind `json:"kind"`
	CertPEM []byte       `json:"-"`
	KeyPEM  []byte       `json:"-"`
	Active  bool         `json:"active,omitempty"`
}

// DomainStatus links a domain to its owning project and its SSL lifecycle.
type DomainStatus struct {
	Domain       Domain    `json:"domain"`
	ProjectID    uuid.UUID `json:"project_id"`
	Provisioning SSLState  `json:"-"`
}
