// Command selfcloudd is the process entrypoint: it builds the registry,
// certificate store, challenge map, ACME client, Docker adapter, and wires
// them into the three long-lived loops (provisioner, container manager,
// gateway) plus the admin API, then waits for SIGINT/SIGTERM to shut down
// cleanly. Shutdown shape (signal channel, goroutine that stops every
// service, then the blocking listen call) is adapted from the teacher's
// cmd/api/main.go.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deep-gaurav/selfcloud/internal/acmeclient"
	"github.com/deep-gaurav/selfcloud/internal/api"
	"github.com/deep-gaurav/selfcloud/internal/apperr"
	"github.com/deep-gaurav/selfcloud/internal/certstore"
	"github.com/deep-gaurav/selfcloud/internal/challengemap"
	"github.com/deep-gaurav/selfcloud/internal/config"
	"github.com/deep-gaurav/selfcloud/internal/containermanager"
	"github.com/deep-gaurav/selfcloud/internal/dockeradapter"
	"github.com/deep-gaurav/selfcloud/internal/gateway"
	"github.com/deep-gaurav/selfcloud/internal/imageintake"
	"github.com/deep-gaurav/selfcloud/internal/provisioner"
	"github.com/deep-gaurav/selfcloud/internal/registry"
	"github.com/deep-gaurav/selfcloud/internal/session"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()

	store := certstore.New()
	reg := registry.New(cfg.Home, store)
	if err := reg.Load(); err != nil {
		log.Fatalf("loading registry state: %v", err)
	}

	docker, err := dockeradapter.New(cfg.DockerSock)
	if err != nil {
		log.Fatalf("docker client: %v", err)
	}

	challenges := challengemap.New()

	acme, err := acmeclient.New(cfg.Home, cfg.ACMEDirectoryURL, cfg.ACMEEmail, challenges)
	if err != nil {
		log.Fatalf("acme client: %v", err)
	}

	provisionerLoop := provisioner.New(reg, store, acme, cfg.ProvisionerInterval)
	containerLoop := containermanager.New(reg, docker, cfg.ReconcileInterval)
	gw := gateway.New(reg, store, challenges, cfg.HTTPAddr, cfg.TLSAddr)

	provisionerLoop.Start()
	containerLoop.Start()
	gw.Start()

	validator := session.New(cfg.Home, sessionKey())
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	adminApp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// Handlers like imageintake.Upload return an *apperr.Error directly
		// rather than writing their own JSON response; this maps it to the
		// same status code internal/api's errJSON would produce. fiber's own
		// *fiber.Error values (unknown route, method not allowed, ...) keep
		// their code; anything else unclassified is a 500.
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			status := apperr.HTTPStatus(err)
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				status = fiberErr.Code
			}
			return c.Status(status).JSON(fiber.Map{"success": false, "message": err.Error()})
		},
	})
	api.New(reg, docker, validator, redisClient).Mount(adminApp)

	intake := imageintake.New(reg, docker)
	adminApp.Post("/upload", intake.Upload)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("shutting down...")

		provisionerLoop.Stop()
		containerLoop.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gw.Stop(ctx); err != nil {
			log.Printf("gateway shutdown: %v", err)
		}
		if err := redisClient.Close(); err != nil {
			log.Printf("redis client close: %v", err)
		}
		if err := adminApp.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("admin app shutdown: %v", err)
		}
	}()

	log.Printf("admin api listening on %s", cfg.AdminAddr)
	if err := adminApp.Listen(cfg.AdminAddr); err != nil {
		log.Fatalf("admin api: %v", err)
	}
}

// sessionKey derives the 32-byte session-cookie decryption key as the
// SHA-256 of the SESSION_KEY environment variable. When SESSION_KEY is
// unset it warns and returns a key derived from the current time, which
// changes on every start, so no previously issued cookie validates.
// Cookie issuance is an external collaborator's concern; SESSION_KEY only
// needs to match whatever that collaborator derives its key from.
func sessionKey() [32]byte {
	if raw := os.Getenv("SESSION_KEY"); raw != "" {
		return sha256.Sum256([]byte(raw))
	}
	fmt.Fprintln(os.Stderr, "WARNING: SESSION_KEY not set, deriving an ephemeral key — existing sessions will not validate")
	return sha256.Sum256([]byte(fmt.Sprintf("selfcloud-ephemeral-%d", time.Now().UnixNano())))
}
