package v1

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	openapi "github.com/kemeter/ring/api/openapi"
	"github.com/kemeter/ring/internal/controlplane/deployments"
)

// Runtime is the live view the API hydrates deployments from.
type Runtime interface {
	ListInstances(ctx context.Context, deploymentID string) ([]string, error)
	Ping(ctx context.Context) error
}

// Pinger reports whether a dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Notifier is told about deployments that need a pass now.
type Notifier interface {
	Notify(deploymentID string)
}

// Deps are the handles the v1 handlers work with.
type Deps struct {
	Deployments deployments.Store
	Users       deployments.UserStore
	Runtime     Runtime
	DB          Pinger
	Notifier    Notifier
	JWTSecret   []byte
	TokenTTL    time.Duration
	Logger      *slog.Logger
}

type api struct {
	Deps
	log *slog.Logger
}

// Router returns the chi.Router for REST API v1.
func Router(deps Deps) chi.Router {
	a := &api{Deps: deps, log: deps.Logger}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.TokenTTL <= 0 {
		a.TokenTTL = 720 * time.Hour
	}

	r := chi.NewRouter()

	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/api/v1/openapi.yaml"),
	))
	r.Get("/openapi.yaml", serveOpenAPIStaticAsset)

	r.Get("/healthz", a.healthz)
	r.Post("/login", a.login)
	r.Get("/deployments", a.listDeployments)

	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)

		r.Post("/deployments", a.createDeployment)
		r.Get("/deployments/{id}", a.getDeployment)
		r.Delete("/deployments/{id}", a.deleteDeployment)

		r.Get("/users", a.listUsers)
		r.Post("/users", a.createUser)
		r.Put("/users/{id}", a.updateUser)
		r.Delete("/users/{id}", a.deleteUser)
	})

	return r
}

func serveOpenAPIStaticAsset(w http.ResponseWriter, r *http.Request) {
	data, err := openapi.FS.ReadFile("v1/ring.yaml")
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read spec: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(data)
}
