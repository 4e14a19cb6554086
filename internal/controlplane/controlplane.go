// Package controlplane wires the store, Docker runtime, reconciler,
// scheduler and API servers into the ring daemon.
package controlplane

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc/credentials"

	"github.com/kemeter/ring/internal/config"
	"github.com/kemeter/ring/internal/controlplane/deployments"
	"github.com/kemeter/ring/internal/controlplane/dispatch"
	"github.com/kemeter/ring/internal/controlplane/reconciler"
	"github.com/kemeter/ring/internal/controlplane/resolver"
	"github.com/kemeter/ring/internal/controlplane/scheduler"
	"github.com/kemeter/ring/internal/controlplane/stores"
	grpcserver "github.com/kemeter/ring/internal/grpc/controller"
	httpserver "github.com/kemeter/ring/internal/http"
	v1 "github.com/kemeter/ring/internal/http/v1"
	"github.com/kemeter/ring/internal/logging"
	"github.com/kemeter/ring/internal/metrics"
	"github.com/kemeter/ring/internal/runtime/docker"
	"github.com/kemeter/ring/internal/security/auth"
	"github.com/kemeter/ring/internal/security/pki"
)

const shutdownGrace = 15 * time.Second

// DefaultAdminPassword is used by Bootstrap when no password is given.
const DefaultAdminPassword = "changeme"

// Run starts the daemon and blocks until ctx is cancelled or a server fails.
func Run(ctx context.Context, cfg *config.Config, version string) error {
	log := logging.For("controlplane")

	st, err := stores.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rt, err := docker.New(cfg.DockerHost,
		docker.WithStopGrace(cfg.StopGrace),
		docker.WithLogger(logging.For("runtime")))
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	if err := rt.Ping(ctx); err != nil {
		// passes fail discovery until the daemon answers; keep serving
		log.Warn("docker daemon unreachable at startup", "error", err)
	}

	mp, err := metrics.NewProvider(ctx, metrics.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Insecure: true,
		Version:  version,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mp.Shutdown(sctx)
	}()
	recMetrics, err := metrics.NewReconcile(mp)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	rec := reconciler.New(rt,
		reconciler.WithResolver(resolver.Resolver{}),
		reconciler.WithMetrics(recMetrics),
		reconciler.WithLogger(logging.For("reconciler")))

	events := dispatch.NewManager()
	sched := scheduler.New(st, rec,
		scheduler.WithInterval(cfg.ReconcileInterval),
		scheduler.WithMaxConcurrent(cfg.MaxConcurrentPasses),
		scheduler.WithPassTimeout(cfg.PassTimeout),
		scheduler.WithDispatch(events),
		scheduler.WithLogger(logging.For("scheduler")))

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret, err = randomSecret()
		if err != nil {
			return err
		}
		log.Warn("jwt_secret not set, using a random secret; sessions will not survive a restart")
	}

	handler := httpserver.NewServer(v1.Deps{
		Deployments: st,
		Users:       st,
		Runtime:     rt,
		DB:          st,
		Notifier:    events,
		JWTSecret:   secret,
		TokenTTL:    cfg.TokenTTL,
		Logger:      logging.For("api"),
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	var grpcOpts []grpcserver.Option
	if cfg.TLSDir != "" {
		tlsCfg, err := pki.EnsureServer(cfg.TLSDir, tlsHosts(cfg.HTTPAddr))
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsCfg
		grpcOpts = append(grpcOpts, grpcserver.WithCreds(credentials.NewTLS(tlsCfg.Clone())))
	}
	grpcOpts = append(grpcOpts,
		grpcserver.WithInterval(cfg.ReconcileInterval),
		grpcserver.WithLogger(logging.For("grpc")))
	health := grpcserver.New(rt, grpcOpts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = sched.Stop() }()

	if cfg.GRPCAddr != "" {
		go health.Watch(ctx)
		go func() {
			if err := health.Run(cfg.GRPCAddr); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
		defer health.Stop()
	}

	go func() {
		log.Info("ring listening", "addr", cfg.HTTPAddr, "tls", srv.TLSConfig != nil, "version", version)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		log.Error("server failed", "error", err)
	}

	sctx, scancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer scancel()
	if serr := srv.Shutdown(sctx); serr != nil {
		log.Warn("http shutdown", "error", serr)
	}
	return err
}

// Bootstrap creates the database at dbPath and an active user. An existing
// user with the same name is left untouched.
func Bootstrap(ctx context.Context, dbPath, username, password string) (created bool, err error) {
	if password == "" {
		password = DefaultAdminPassword
	}
	st, err := stores.Open(dbPath)
	if err != nil {
		return false, err
	}
	defer func() { _ = st.Close() }()

	if _, err := st.FindUserByUsername(ctx, username); err == nil {
		return false, nil
	} else if !errors.Is(err, deployments.ErrNotFound) {
		return false, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, err
	}
	if _, err := st.CreateUser(ctx, deployments.NewUser(username, hash)); err != nil {
		return false, err
	}
	slog.Default().Info("user created", "user", username, "db", dbPath)
	return true, nil
}

func randomSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	return []byte(hex.EncodeToString(b)), nil
}

// tlsHosts lists the SANs for the server certificate.
func tlsHosts(addr string) []string {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if h, _, err := net.SplitHostPort(addr); err == nil && h != "" && h != "0.0.0.0" && h != "::" {
		hosts = append(hosts, h)
	}
	return hosts
}
