package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kemeter/ring/internal/controlplane/deployments"
	"github.com/kemeter/ring/internal/manifest"
	"github.com/kemeter/ring/internal/security/pki"
)

// APIError is a non-2xx answer from the control plane.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %s", http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %s: %s", http.StatusText(e.Status), e.Message)
}

// Client talks to the /api/v1 endpoints.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for the context. A CA certificate, when set, is
// the only root trusted for TLS.
func NewClient(c Context, token string) (*Client, error) {
	hc := &http.Client{Timeout: 30 * time.Second}
	if c.CACert != "" {
		u, err := url.Parse(c.APIURL)
		if err != nil {
			return nil, fmt.Errorf("api_url: %w", err)
		}
		tlsCfg, err := pki.ClientTLSConfig(c.CACert, u.Hostname())
		if err != nil {
			return nil, fmt.Errorf("load ca_cert: %w", err)
		}
		hc.Transport = &http.Transport{TLSClientConfig: tlsCfg}
	}
	return &Client{base: strings.TrimRight(c.APIURL, "/") + "/api/v1", token: token, http: hc}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/login", map[string]string{"username": username, "password": password}, &out)
	return out.Token, err
}

func (c *Client) CreateDeployment(ctx context.Context, s manifest.Spec) (deployments.Deployment, error) {
	var out deployments.Deployment
	err := c.do(ctx, http.MethodPost, "/deployments", s, &out)
	return out, err
}

func (c *Client) ListDeployments(ctx context.Context, namespace string) ([]deployments.Deployment, error) {
	path := "/deployments"
	if namespace != "" {
		path += "?namespace=" + url.QueryEscape(namespace)
	}
	var out []deployments.Deployment
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) GetDeployment(ctx context.Context, id string) (deployments.Deployment, error) {
	var out deployments.Deployment
	err := c.do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) DeleteDeployment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/deployments/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListUsers(ctx context.Context) ([]deployments.User, error) {
	var out []deployments.User
	err := c.do(ctx, http.MethodGet, "/users", nil, &out)
	return out, err
}

func (c *Client) CreateUser(ctx context.Context, username, password string) (deployments.User, error) {
	var out deployments.User
	err := c.do(ctx, http.MethodPost, "/users", map[string]string{"username": username, "password": password}, &out)
	return out, err
}

func (c *Client) UpdateUser(ctx context.Context, id, username, password string) (deployments.User, error) {
	var out deployments.User
	err := c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(id), map[string]string{"username": username, "password": password}, &out)
	return out, err
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/users/"+url.PathEscape(id), nil, nil)
}
