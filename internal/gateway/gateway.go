// Package gateway is the TLS-terminating reverse-proxy front door from
// spec.md §4.2: one plaintext listener, one TLS listener, Host-header
// routing against the registry, HTTP->HTTPS upgrade, SNI certificate
// selection backed by internal/certstore, and ACME HTTP-01 challenge
// serving backed by internal/challengemap.
//
// Built on net/http + httputil.ReverseProxy rather than fiber: fiber's
// fasthttp foundation has no per-connection tls.Config.GetCertificate hook,
// which the SNI callback requires. fiber remains the right tool for the
// admin API and image intake, where that hook doesn't matter.
package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/deep-gaurav/selfcloud/internal/certstore"
	"github.com/deep-gaurav/selfcloud/internal/challengemap"
	"github.com/deep-gaurav/selfcloud/internal/logging"
	"github.com/deep-gaurav/selfcloud/internal/model"
	"github.com/deep-gaurav/selfcloud/internal/registry"
)

var log = logging.New("gateway")

const acmeChallengePrefix = "/.well-known/acme-challenge/"

// Gateway holds the two listeners and their shared routing state.
type Gateway struct {
	reg       *registry.Registry
	store     *certstore.Store
	challenge *challengemap.Map

	httpAddr string
	tlsAddr  string

	httpServer *http.Server
	tlsServer  *http.Server
}

func New(reg *registry.Registry, store *certstore.Store, challenge *challengemap.Map, httpAddr, tlsAddr string) *Gateway {
	g := &Gateway{
		reg:       reg,
		store:     store,
		challenge: challenge,
		httpAddr:  httpAddr,
		tlsAddr:   tlsAddr,
	}

	handler := http.HandlerFunc(g.handle)

	g.httpServer = &http.Server{
		Addr:    httpAddr,
		Handler: handler,
	}

	g.tlsServer = &http.Server{
		Addr:    tlsAddr,
		Handler: handler,
		TLSConfig: &tls.Config{
			GetCertificate: g.store.GetCertificate,
			NextProtos:     []string{"h2", "http/1.1"},
			MaxVersion:     tls.VersionTLS12,
		},
	}

	return g
}

// Start begins serving both listeners in background goroutines. Listener
// errors other than a clean shutdown are logged; the caller observes
// lifecycle through Stop's return value.
func (g *Gateway) Start() {
	go func() {
		log.Printf("http listening on %s", g.httpAddr)
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http listener: %v", err)
		}
	}()

	go func() {
		log.Printf("tls listening on %s", g.tlsAddr)
		// TLSConfig already carries GetCertificate, so no cert/key file args.
		if err := g.tlsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			log.Printf("tls listener: %v", err)
		}
	}()
}

// Stop gracefully shuts down both listeners.
func (g *Gateway) Stop(ctx context.Context) error {
	httpErr := g.httpServer.Shutdown(ctx)
	tlsErr := g.tlsServer.Shutdown(ctx)
	if httpErr != nil {
		return httpErr
	}
	return tlsErr
}

// handle implements spec.md §4.2 steps 1-7 for both listeners; isTLS is
// derived from the connection, not from a fixed per-server dispatch table,
// since both listeners share this handler.
func (g *Gateway) handle(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	isTLS := r.TLS != nil
	host := hostOnly(r.Host)

	// Step 3: ACME challenge bypasses routing entirely, for any host.
	if strings.HasPrefix(r.URL.Path, acmeChallengePrefix) {
		g.serveChallenge(w, r)
		return
	}

	status, ok := g.reg.GetDomain(model.Domain(host))
	if !ok {
		log.Printf("no peer for host %s, from ip: %s", host, r.RemoteAddr)
		http.Error(w, "no peer for host", http.StatusInternalServerError)
		return
	}

	// Step 4: HTTP->HTTPS upgrade once a cert exists.
	if status.Provisioning.Kind == model.SSLProvisioned && !isTLS {
		target := &url.URL{Scheme: "https", Host: host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
		w.Header().Set("Content-Length", "0")
		http.Redirect(w, r, target.String(), http.StatusPermanentRedirect)
		return
	}

	// Step 6: a Provisioning domain is served the inline placeholder page
	// directly, without involving the reverse proxy at all.
	if status.Provisioning.Kind == model.SSLProvisioning {
		ServeProvisioningPage(w, host)
		return
	}

	peer, err := g.resolvePeer(status)
	if err != nil {
		log.Printf("resolve peer for %s: %v", host, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	g.forward(w, r, host, peer)
}

// resolvePeer implements spec.md §4.2 step 6's non-placeholder branch:
// the project's peer, discovered by walking the domain's owning project's
// ExposedPorts (for container projects) or its single PortForward peer.
func (g *Gateway) resolvePeer(status model.DomainStatus) (model.Peer, error) {
	project, ok := g.reg.GetProject(status.ProjectID)
	if !ok {
		return model.Peer{}, fmt.Errorf("project %s for domain %s not found", status.ProjectID, status.Domain)
	}

	switch project.Kind.Tag {
	case model.KindPortForward:
		return project.Kind.PortForward.Peer, nil
	case model.KindContainer:
		for _, ep := range project.Kind.Container.ExposedPorts {
			for _, d := range ep.Domains {
				if d.Normalize() == status.Domain {
					if ep.Peer == nil {
						return model.Peer{}, fmt.Errorf("domain %s: container port not yet discovered", status.Domain)
					}
					return *ep.Peer, nil
				}
			}
		}
		return model.Peer{}, fmt.Errorf("domain %s: no matching exposed port", status.Domain)
	default:
		return model.Peer{}, fmt.Errorf("project %s: unknown kind", project.ID)
	}
}

// forward builds a one-shot httputil.ReverseProxy per request, injects the
// forwarding headers spec.md §4.2 step 5 requires, and translates transport
// errors to the status codes §4.2's Errors paragraph specifies.
func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, host string, peer model.Peer) {
	targetScheme := "http"
	if peer.TLS {
		targetScheme = "https"
	}
	target := &url.URL{Scheme: targetScheme, Host: peer.HostPort}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{ServerName: peer.SNI},
	}

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		// Fixed to "https": the gateway only reaches this point for requests
		// that are either already TLS or have been explicitly left plaintext
		// because no cert exists yet, and spec.md §4.2 step 5 pins this header
		// to the origin-ward contract regardless.
		req.Header.Set("X-Forwarded-Proto", "https")
		req.Header.Set("X-Forwarded-Host", host)
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			if existing := req.Header.Get("X-Forwarded-For"); existing != "" {
				req.Header.Set("X-Forwarded-For", existing+", "+ip)
			} else {
				req.Header.Set("X-Forwarded-For", ip)
			}
		}
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("proxy error for %s: %v", host, err)
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
			return
		}
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	proxy.ServeHTTP(w, r)
}

// serveChallenge answers /.well-known/acme-challenge/{token} for any host
// per spec.md §4.3's challenge serving contract.
func (g *Gateway) serveChallenge(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, acmeChallengePrefix)
	keyAuth, ok := g.challenge.Get(token)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(keyAuth))
}

func hostOnly(hostHeader string) string {
	if h, _, err := net.SplitHostPort(hostHeader); err == nil {
		return strings.ToLower(h)
	}
	return strings.ToLower(hostHeader)
}

// ServeProvisioningPage renders the "certificate is being issued" page
// grounded on server/gateway.rs's inline placeholder (SPEC_FULL §4.2).
func ServeProvisioningPage(w http.ResponseWriter, host string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintf(w, `<!doctype html><html><head><title>Provisioning</title></head>
<body><h1>Setting things up</h1><p>A certificate for %s is being issued. This page will refresh automatically.</p>
<script>setTimeout(function(){location.reload()}, 5000)</script></body></html>`, host)
}
