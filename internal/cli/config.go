package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

const (
	defaultContext = "default"
	defaultAPIURL  = "http://localhost:3030"
	keyringService = "ring"
)

// Context is one named control plane the CLI can talk to.
type Context struct {
	APIURL   string `yaml:"api_url"`
	CACert   string `yaml:"ca_cert,omitempty"`
	Username string `yaml:"username,omitempty"`
}

// Config is the CLI configuration file, ~/.config/ring/config.yaml by default.
type Config struct {
	CurrentContext string             `yaml:"current_context"`
	Contexts       map[string]Context `yaml:"contexts"`
}

func defaultConfig() *Config {
	return &Config{
		CurrentContext: defaultContext,
		Contexts:       map[string]Context{defaultContext: {APIURL: defaultAPIURL}},
	}
}

// DefaultConfigPath honours RING_CONFIG, then the user config dir.
func DefaultConfigPath() string {
	if p := os.Getenv("RING_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "ring.yaml")
	}
	return filepath.Join(dir, "ring", "config.yaml")
}

// LoadConfig reads path. A missing file yields the default context.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = map[string]Context{}
	}
	if cfg.CurrentContext == "" {
		cfg.CurrentContext = defaultContext
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Resolve returns the named context, or the current one when name is empty.
func (c *Config) Resolve(name string) (string, Context, error) {
	if name == "" {
		name = c.CurrentContext
	}
	ctx, ok := c.Contexts[name]
	if !ok {
		return name, Context{}, fmt.Errorf("context %q not found", name)
	}
	if ctx.APIURL == "" {
		ctx.APIURL = defaultAPIURL
	}
	return name, ctx, nil
}

func (c *Config) names() []string {
	out := make([]string, 0, len(c.Contexts))
	for n := range c.Contexts {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// TokenStore keeps one session token per context.
type TokenStore interface {
	Get(context string) (string, error)
	Set(context, token string) error
	Delete(context string) error
}

// keyringTokens stores tokens in the OS keyring.
type keyringTokens struct{}

func (keyringTokens) Get(name string) (string, error) {
	tok, err := keyring.Get(keyringService, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return tok, err
}

func (keyringTokens) Set(name, token string) error {
	return keyring.Set(keyringService, name, token)
}

func (keyringTokens) Delete(name string) error {
	err := keyring.Delete(keyringService, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
