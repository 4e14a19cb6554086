package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/kemeter/ring/internal/controlplane/deployments"
	"github.com/kemeter/ring/internal/controlplane/stores"
	httpserver "github.com/kemeter/ring/internal/http"
	v1 "github.com/kemeter/ring/internal/http/v1"
	"github.com/kemeter/ring/internal/security/auth"
)

type fakeRuntime struct {
	mu      sync.Mutex
	live    map[string][]string
	listErr error
	pingErr error
}

func (f *fakeRuntime) ListInstances(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.live[id], nil
}

func (f *fakeRuntime) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeRuntime) set(fn func(f *fakeRuntime)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) Notify(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type env struct {
	ts       *httptest.Server
	store    *stores.Stores
	runtime  *fakeRuntime
	notified *recorder
	token    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := stores.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	hash, err := auth.HashPassword("changeme")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := st.CreateUser(context.Background(), deployments.NewUser("admin", hash)); err != nil {
		t.Fatalf("create user: %v", err)
	}

	e := &env{store: st, runtime: &fakeRuntime{live: map[string][]string{}}, notified: &recorder{}}
	e.ts = httptest.NewServer(httpserver.NewServer(v1.Deps{
		Deployments: st,
		Users:       st,
		Runtime:     e.runtime,
		DB:          st,
		Notifier:    e.notified,
		JWTSecret:   []byte("test-secret"),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}))
	t.Cleanup(e.ts.Close)
	e.token = e.login(t, "admin", "changeme")
	return e
}

func (e *env) login(t *testing.T, user, pass string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/v1/login", "", map[string]string{"username": user, "password": pass})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return out.Token
}

func (e *env) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, b)
	}
}

func TestDeploymentLifecycle(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/deployments", e.token, map[string]any{
		"name": "web", "namespace": "default", "runtime": "docker", "image": "nginx:1.27",
		"replicas": 2,
		"labels":   `[{"tier":"web"}]`,
		"secrets":  map[string]string{"KEY": "$API_KEY"},
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusCreated)
	var created deployments.Deployment
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Status != deployments.StatusActive {
		t.Fatalf("unexpected deployment: %+v", created)
	}
	if len(created.Labels) != 1 || created.Labels[0]["tier"] != "web" {
		t.Fatalf("labels not decoded from string form: %+v", created.Labels)
	}
	if ids := e.notified.snapshot(); len(ids) != 1 || ids[0] != created.ID {
		t.Fatalf("expected a pass trigger for %s, got %v", created.ID, ids)
	}

	e.runtime.set(func(f *fakeRuntime) { f.live[created.ID] = []string{"c1", "c2"} })
	inspect := e.do(t, http.MethodGet, "/api/v1/deployments/"+created.ID, e.token, nil)
	defer inspect.Body.Close()
	expectStatus(t, inspect, http.StatusOK)
	var got deployments.Deployment
	if err := json.NewDecoder(inspect.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Instances) != 2 {
		t.Fatalf("expected hydrated instances, got %v", got.Instances)
	}

	del := e.do(t, http.MethodDelete, "/api/v1/deployments/"+created.ID, e.token, nil)
	del.Body.Close()
	expectStatus(t, del, http.StatusNoContent)

	stored, err := e.store.Find(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Status != deployments.StatusDeleted {
		t.Fatalf("expected deleted status, got %q", stored.Status)
	}
	if ids := e.notified.snapshot(); len(ids) != 2 {
		t.Fatalf("expected a second pass trigger, got %v", ids)
	}
}

func TestCreateDeploymentValidation(t *testing.T) {
	e := newEnv(t)
	bodies := map[string]map[string]any{
		"runtime":  {"name": "web", "namespace": "default", "runtime": "lxc", "image": "nginx", "replicas": 1},
		"image":    {"name": "web", "namespace": "default", "runtime": "docker", "image": "::", "replicas": 1},
		"replicas": {"name": "web", "namespace": "default", "runtime": "docker", "image": "nginx", "replicas": -2},
		"name":     {"namespace": "default", "runtime": "docker", "image": "nginx", "replicas": 1},
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			resp := e.do(t, http.MethodPost, "/api/v1/deployments", e.token, body)
			resp.Body.Close()
			expectStatus(t, resp, http.StatusBadRequest)
		})
	}

	resp := e.do(t, http.MethodPost, "/api/v1/deployments", e.token, "{not json")
	resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)
	if ids := e.notified.snapshot(); len(ids) != 0 {
		t.Fatalf("rejected requests must not trigger passes: %v", ids)
	}
}

func TestListDeploymentsFiltersAndEmptiesOnDiscoveryFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := deployments.New("default", "a", "nginx", 1)
	a.Instances = []string{"cached"}
	b := deployments.New("other", "b", "nginx", 1)
	for _, d := range []deployments.Deployment{a, b} {
		if _, err := e.store.Create(ctx, d); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	e.runtime.set(func(f *fakeRuntime) { f.listErr = errors.New("daemon down") })

	resp := e.do(t, http.MethodGet, "/api/v1/deployments?namespace=default", e.token, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	var list []deployments.Deployment
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != a.ID {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list[0].Instances == nil || len(list[0].Instances) != 0 {
		t.Fatalf("expected an empty instance list, got %v", list[0].Instances)
	}
}

func TestUnknownDeployment(t *testing.T) {
	e := newEnv(t)
	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		resp := e.do(t, method, "/api/v1/deployments/missing", e.token, nil)
		resp.Body.Close()
		expectStatus(t, resp, http.StatusNotFound)
	}
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)
	paths := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/deployments"},
		{http.MethodGet, "/api/v1/deployments/x"},
		{http.MethodDelete, "/api/v1/deployments/x"},
		{http.MethodGet, "/api/v1/users"},
	}
	for _, p := range paths {
		for _, tok := range []string{"", "garbage"} {
			resp := e.do(t, p.method, p.path, tok, nil)
			resp.Body.Close()
			expectStatus(t, resp, http.StatusUnauthorized)
		}
	}
}

func TestListDeploymentsWithoutToken(t *testing.T) {
	e := newEnv(t)
	d := deployments.New("default", "web", "nginx", 1)
	if _, err := e.store.Create(context.Background(), d); err != nil {
		t.Fatalf("create: %v", err)
	}
	e.runtime.set(func(f *fakeRuntime) { f.live[d.ID] = []string{"c1"} })

	for _, tok := range []string{"", "garbage"} {
		resp := e.do(t, http.MethodGet, "/api/v1/deployments", tok, nil)
		expectStatus(t, resp, http.StatusOK)
		var list []deployments.Deployment
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			t.Fatalf("decode: %v", err)
		}
		resp.Body.Close()
		if len(list) != 1 || len(list[0].Instances) != 1 || list[0].Instances[0] != "c1" {
			t.Fatalf("unexpected list: %+v", list)
		}
	}
}

func TestTokenRevokedByNewLogin(t *testing.T) {
	e := newEnv(t)
	old := e.token
	// a different jti makes the second token distinct even within the same second
	fresh := e.login(t, "admin", "changeme")
	if fresh == old {
		t.Fatal("expected a new token")
	}

	resp := e.do(t, http.MethodGet, "/api/v1/users", old, nil)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = e.do(t, http.MethodGet, "/api/v1/users", fresh, nil)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	e := newEnv(t)
	for _, creds := range []map[string]string{
		{"username": "admin", "password": "wrong"},
		{"username": "nobody", "password": "changeme"},
	} {
		resp := e.do(t, http.MethodPost, "/api/v1/login", "", creds)
		resp.Body.Close()
		expectStatus(t, resp, http.StatusUnauthorized)
	}
}

func TestUserManagement(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/users", e.token, map[string]string{"username": "ops", "password": "secret"})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusCreated)
	var u deployments.User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		t.Fatalf("decode: %v", err)
	}

	dup := e.do(t, http.MethodPost, "/api/v1/users", e.token, map[string]string{"username": "ops", "password": "x"})
	dup.Body.Close()
	expectStatus(t, dup, http.StatusConflict)

	opsToken := e.login(t, "ops", "secret")

	upd := e.do(t, http.MethodPut, "/api/v1/users/"+u.ID, e.token, map[string]string{"password": "rotated"})
	upd.Body.Close()
	expectStatus(t, upd, http.StatusOK)

	// password change revokes the session
	stale := e.do(t, http.MethodGet, "/api/v1/users", opsToken, nil)
	stale.Body.Close()
	expectStatus(t, stale, http.StatusUnauthorized)
	e.login(t, "ops", "rotated")

	list := e.do(t, http.MethodGet, "/api/v1/users", e.token, nil)
	defer list.Body.Close()
	expectStatus(t, list, http.StatusOK)
	var users []map[string]any
	if err := json.NewDecoder(list.Body).Decode(&users); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	for _, got := range users {
		if _, leaked := got["password"]; leaked {
			t.Fatal("password hash must not be serialized")
		}
	}

	del := e.do(t, http.MethodDelete, "/api/v1/users/"+u.ID, e.token, nil)
	del.Body.Close()
	expectStatus(t, del, http.StatusNoContent)
	missing := e.do(t, http.MethodDelete, "/api/v1/users/"+u.ID, e.token, nil)
	missing.Body.Close()
	expectStatus(t, missing, http.StatusNotFound)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/api/v1/healthz", "", nil)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	e.runtime.set(func(f *fakeRuntime) { f.pingErr = errors.New("daemon down") })
	resp = e.do(t, http.MethodGet, "/api/v1/healthz", "", nil)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusServiceUnavailable)
}

func TestOpenAPIDocument(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/api/v1/openapi.yaml", "", nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(b, []byte("/deployments")) {
		t.Fatal("expected the deployments path in the document")
	}
}
