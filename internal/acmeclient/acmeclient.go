// Package acmeclient wraps github.com/go-acme/lego/v4 with the account
// persistence and HTTP-01-via-challenge-map shape spec.md §4.3 describes,
// grounded on the SANCertManager in the retrieved kamal-proxy reference
// (other_examples/f9dc1850_basecamp-kamal-proxy__internal-server-san_cert_manager.go.go).
package acmeclient

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deep-gaurav/selfcloud/internal/logging"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

var log = logging.New("acmeclient")

// User implements lego's registration.User backed by a persisted EC key.
type User struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration,omitempty"`
	KeyPEM       []byte                 `json:"key_pem"`
	key          *ecdsa.PrivateKey
}

func (u *User) GetEmail() string                        { return u.Email }
func (u *User) GetRegistration() *registration.Resource { return u.Registration }
func (u *User) GetPrivateKey() crypto.PrivateKey        { return u.key }

// ChallengeMap is the shared token -> key-authorization map the gateway
// reads from to answer `/.well-known/acme-challenge/{token}` requests for
// any host, provisioned or not (spec.md §4.3's challenge serving contract).
// It is the same object the lego HTTP-01 provider below writes into.
type ChallengeMap interface {
	Set(token, keyAuth string)
	Delete(token string)
}

// Client wraps a lego.Client plus the persisted account it was built from.
type Client struct {
	legoClient *lego.Client
	user       *User
	accountDir string
}

// mapProvider implements lego's challenge/http01 Provider by writing
// directly into the shared ChallengeMap instead of serving its own HTTP
// listener — the gateway's existing :8080/:4433 listeners serve the
// challenge path (spec.md §4.2 step 3), so lego never needs to bind a port.
type mapProvider struct {
	m ChallengeMap
}

func (p *mapProvider) Present(domain, token, keyAuth string) error {
	p.m.Set(token, keyAuth)
	return nil
}

func (p *mapProvider) CleanUp(domain, token, keyAuth string) error {
	p.m.Delete(token)
	return nil
}

var _ challenge.Provider = (*mapProvider)(nil)

// New loads or creates the singleton ACME account under accountDir
// (typically {SELF_CLOUD_HOME}), registers it with the ACME directory at
// directoryURL if not already registered, and wires the HTTP-01 challenge
// through challengeMap. It is fatal to the provisioner loop on failure per
// spec.md §4.3 step 1 ("Fatal on creation failure" / "Account-level errors
// are fatal to the loop").
func New(accountDir, directoryURL, email string, challengeMap ChallengeMap) (*Client, error) {
	user, err := loadOrCreateUser(accountDir, email)
	if err != nil {
		return nil, fmt.Errorf("acme user: %w", err)
	}

	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = directoryURL
	legoCfg.Certificate.KeyType = certcrypto.EC256

	legoClient, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("lego client: %w", err)
	}

	if err := legoClient.Challenge.SetHTTP01Provider(&mapProvider{m: challengeMap}); err != nil {
		return nil, fmt.Errorf("set http-01 provider: %w", err)
	}

	if user.Registration == nil {
		reg, err := legoClient.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("acme registration: %w", err)
		}
		user.Registration = reg
		if err := saveUser(accountDir, user); err != nil {
			log.Printf("WARNING: failed to persist acme account: %v", err)
		}
	}

	log.Printf("acme account ready, email=%s directory=%s", email, directoryURL)

	return &Client{legoClient: legoClient, user: user, accountDir: accountDir}, nil
}

// ObtainResult is the outcome of a successful ObtainForDomain call.
type ObtainResult struct {
	CertPEM []byte
	KeyPEM  []byte
}

// ObtainForDomain drives the full order/authorize/finalize dance for a
// single domain and returns the issued chain + private key PEMs
// (spec.md §4.3 steps 1-5, collapsed — lego's certificate.Obtain already
// implements order creation, HTTP-01 authorization, exponential-backoff
// polling, CSR generation and finalize polling internally).
func (c *Client) ObtainForDomain(domain string) (*ObtainResult, error) {
	request := certificate.ObtainRequest{
		Domains: []string{domain},
		Bundle:  true,
	}

	resource, err := c.legoClient.Certificate.Obtain(request)
	if err != nil {
		return nil, fmt.Errorf("obtain certificate for %s: %w", domain, err)
	}

	return &ObtainResult{CertPEM: resource.Certificate, KeyPEM: resource.PrivateKey}, nil
}

func loadOrCreateUser(accountDir, email string) (*User, error) {
	path := filepath.Join(accountDir, "account.json")

	data, err := os.ReadFile(path)
	if err == nil {
		var u User
		if err := json.Unmarshal(data, &u); err == nil {
			if key, parseErr := certcrypto.ParsePEMPrivateKey(u.KeyPEM); parseErr == nil {
				if ecKey, ok := key.(*ecdsa.PrivateKey); ok {
					u.key = ecKey
					return &u, nil
				}
			}
		}
		log.Printf("WARNING: account.json unreadable, creating a new account")
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate account key: %w", err)
	}

	return &User{Email: email, key: key}, nil
}

func saveUser(accountDir string, u *User) error {
	u.KeyPEM = certcrypto.PEMEncode(u.key)

	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(accountDir, 0755); err != nil {
		return err
	}

	path := filepath.Join(accountDir, "account.json")
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
