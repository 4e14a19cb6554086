package deployments

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/uuid"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// RuntimeDocker is the only supported runtime.
const RuntimeDocker = "docker"

// OwnerLabel binds a container to the deployment that owns it. It is the only
// join key between a Deployment and its instances.
const OwnerLabel = "ring_deployment"

// NamespaceLabel is set on namespace networks.
const NamespaceLabel = "ring_namespace"

// Deployment is the declared desired state of a workload.
type Deployment struct {
	ID        string            `json:"id"`
	Namespace string            `json:"namespace"`
	Name      string            `json:"name"`
	Image     string            `json:"image"`
	Runtime   string            `json:"runtime"`
	Replicas  int               `json:"replicas"`
	Labels    LabelSet          `json:"labels"`
	Secrets   map[string]string `json:"secrets"`
	Status    Status            `json:"status"`
	// Instances is a cache of the last discovered container ids. The runtime
	// is the source of truth; never plan against this field.
	Instances []string  `json:"instances"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an active deployment with a fresh id.
func New(namespace, name, image string, replicas int) Deployment {
	return Deployment{
		ID:        uuid.NewString(),
		Namespace: namespace,
		Name:      name,
		Image:     image,
		Runtime:   RuntimeDocker,
		Replicas:  replicas,
		Secrets:   map[string]string{},
		Status:    StatusActive,
	}
}

// NetworkName returns the deterministic network name for a namespace.
func NetworkName(namespace string) string {
	return "ring_" + namespace
}

// Deleted reports whether the deployment is marked for removal.
func (d Deployment) Deleted() bool {
	return d.Status == StatusDeleted
}

// Validate checks the fields a deployment must carry before it is stored.
func (d Deployment) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name is required: %w", ErrInvalidArgument)
	}
	if strings.TrimSpace(d.Namespace) == "" {
		return fmt.Errorf("namespace is required: %w", ErrInvalidArgument)
	}
	if d.Runtime != RuntimeDocker {
		return fmt.Errorf("runtime %q not supported: %w", d.Runtime, ErrInvalidArgument)
	}
	if d.Replicas < 0 {
		return fmt.Errorf("replicas must be >= 0, got %d: %w", d.Replicas, ErrInvalidArgument)
	}
	if _, err := name.ParseReference(d.Image); err != nil {
		return fmt.Errorf("image %q: %v: %w", d.Image, err, ErrInvalidArgument)
	}
	switch d.Status {
	case StatusActive, StatusDeleted:
	default:
		return fmt.Errorf("unknown status %q: %w", d.Status, ErrInvalidArgument)
	}
	return nil
}
