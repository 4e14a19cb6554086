package deployments

import "context"

// Filter narrows FindAll. Empty fields match everything.
type Filter struct {
	Namespace string
	Status    Status
}

// FilterFromMap builds a Filter from query-style keys ("namespace", "status").
func FilterFromMap(m map[string]string) Filter {
	return Filter{Namespace: m["namespace"], Status: Status(m["status"])}
}

// Store persists deployments. Implementations serialize access to their
// underlying handle per call; callers never hold a store lock across runtime
// I/O.
type Store interface {
	Create(ctx context.Context, d Deployment) (Deployment, error)
	Find(ctx context.Context, id string) (Deployment, error)
	FindAll(ctx context.Context, f Filter) ([]Deployment, error)
	Update(ctx context.Context, d Deployment) error
	// UpdateInstances replaces only the cached instance list, leaving status
	// and the declared fields as they are in the store.
	UpdateInstances(ctx context.Context, id string, instances []string) error
}

// UserStore persists control-plane users.
type UserStore interface {
	CreateUser(ctx context.Context, u User) (User, error)
	FindUser(ctx context.Context, id string) (User, error)
	FindUserByUsername(ctx context.Context, username string) (User, error)
	FindUserByToken(ctx context.Context, token string) (User, error)
	FindAllUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, u User) error
	DeleteUser(ctx context.Context, id string) error
}
