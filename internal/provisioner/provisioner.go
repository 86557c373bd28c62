// Package provisioner is the certificate provisioner loop from spec.md
// §4.3: a ~5s ticker that finds the first NotProvisioned domain, flips it
// to Provisioning under a brief lock, and spawns an independent worker that
// drives the full ACME dance so multiple domains provision concurrently.
//
// Loop shape (ticker + stopChan + WaitGroup inside a goroutine, select
// between ticker.C and stopChan) is grounded on the teacher's
// services/quota_sync.go Start()/Stop() pattern.
package provisioner

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deep-gaurav/selfcloud/internal/acmeclient"
	"github.com/deep-gaurav/selfcloud/internal/certstore"
	"github.com/deep-gaurav/selfcloud/internal/logging"
	"github.com/deep-gaurav/selfcloud/internal/model"
	"github.com/deep-gaurav/selfcloud/internal/registry"
)

var log = logging.New("provisioner")

// acmeObtainer is the slice of *acmeclient.Client this loop depends on,
// narrowed to an interface (same seam as dockeradapter.Client) so tests can
// substitute a fake ACME backend without touching a real directory.
type acmeObtainer interface {
	ObtainForDomain(domain string) (*acmeclient.ObtainResult, error)
}

// Loop periodically scans the registry for unprovisioned domains and drives
// ACME provisioning for each.
type Loop struct {
	reg      *registry.Registry
	store    *certstore.Store
	client   acmeObtainer
	interval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
}

func New(reg *registry.Registry, store *certstore.Store, client acmeObtainer, interval time.Duration) *Loop {
	return &Loop{
		reg:      reg,
		store:    store,
		client:   client,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start runs the loop in its own goroutine until Stop is called.
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

// tick finds the first NotProvisioned domain, atomically claims it, and
// spawns a worker. One tick claims at most one domain; concurrent
// provisioning happens because workers from prior ticks are still running
// when later ticks claim further domains.
func (l *Loop) tick() {
	domain, ok := l.claimNext()
	if !ok {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.provision(domain)
	}()
}

// claimNext finds the first domain with SSLState == NotProvisioned and
// atomically transitions it to Provisioning, serializing per-domain
// provisioning so two workers can never race on one domain (spec.md §5).
func (l *Loop) claimNext() (model.Domain, bool) {
	for _, d := range l.reg.ListDomains() {
		if d.Provisioning.Kind == model.SSLNotProvisioned {
			if err := l.reg.UpdateDomainStatus(d.Domain, model.SSLState{Kind: model.SSLProvisioning}); err != nil {
				log.Printf("claim %s: %v", d.Domain, err)
				continue
			}
			return d.Domain, true
		}
	}
	return "", false
}

// provision drives the ACME dance for one domain and either installs the
// resulting certificate or resets the domain to NotProvisioned so a later
// tick retries it.
func (l *Loop) provision(domain model.Domain) {
	log.Printf("provisioning %s", domain)

	result, err := l.client.ObtainForDomain(domain.String())
	if err != nil {
		log.Printf("provision %s failed: %v", domain, err)
		l.reset(domain)
		return
	}

	cert, err := tls.X509KeyPair(result.CertPEM, result.KeyPEM)
	if err != nil {
		log.Printf("parse certificate for %s: %v", domain, err)
		l.reset(domain)
		return
	}

	certPath, keyPath := l.reg.CertPaths(domain)
	if err := writePEM(certPath, result.CertPEM); err != nil {
		log.Printf("write cert for %s: %v", domain, err)
		l.reset(domain)
		return
	}
	if err := writePEM(keyPath, result.KeyPEM); err != nil {
		log.Printf("write key for %s: %v", domain, err)
		l.reset(domain)
		return
	}

	// The certificate MUST be visible in the SNI store before the matching
	// SSLState becomes Provisioned (spec.md §5 ordering guarantee), so the
	// store write happens first.
	l.store.Put(string(domain.Normalize()), &cert)

	if err := l.reg.UpdateDomainStatus(domain, model.SSLState{
		Kind:    model.SSLProvisioned,
		CertPEM: result.CertPEM,
		KeyPEM:  result.KeyPEM,
		Active:  true,
	}); err != nil {
		log.Printf("mark %s provisioned: %v", domain, err)
		return
	}

	log.Printf("provisioned %s", domain)
}

func (l *Loop) reset(domain model.Domain) {
	if err := l.reg.UpdateDomainStatus(domain, model.SSLState{Kind: model.SSLNotProvisioned}); err != nil {
		log.Printf("reset %s: %v", domain, err)
	}
}

func writePEM(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
