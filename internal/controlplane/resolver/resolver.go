// Package resolver turns a deployment's declared labels and secrets into the
// concrete values attached to a container.
package resolver

import (
	"os"
	"sort"
	"strings"

	"github.com/kemeter/ring/internal/controlplane/deployments"
)

// SecretMarker prefixes a secret value that names an environment variable.
const SecretMarker = "$"

// LookupFunc reads a variable from the environment.
type LookupFunc func(key string) (string, bool)

// Resolver resolves labels and secrets. The zero value reads os.LookupEnv.
type Resolver struct {
	Lookup LookupFunc
}

var reserved = map[string]struct{}{
	deployments.OwnerLabel:     {},
	deployments.NamespaceLabel: {},
}

// ResolveLabels flattens ordered single-entry label maps into one map.
// Later entries overwrite earlier ones; reserved keys are dropped.
func ResolveLabels(entries deployments.LabelSet) map[string]string {
	out := make(map[string]string)
	for _, entry := range entries {
		keys := make([]string, 0, len(entry))
		for k := range entry {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := reserved[k]; ok {
				continue
			}
			out[k] = entry[k]
		}
	}
	return out
}

// ResolveSecrets resolves marked values through the environment. An unset
// reference keeps the original marked string.
func (r Resolver) ResolveSecrets(raw map[string]string) map[string]string {
	lookup := r.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = v
		if !strings.HasPrefix(v, SecretMarker) {
			continue
		}
		if resolved, ok := lookup(strings.TrimPrefix(v, SecretMarker)); ok {
			out[k] = resolved
		}
	}
	return out
}

// ResolveSecrets resolves against the process environment.
func ResolveSecrets(raw map[string]string) map[string]string {
	return Resolver{}.ResolveSecrets(raw)
}

// Env renders secrets as sorted KEY=value entries.
func Env(secrets map[string]string) []string {
	env := make([]string, 0, len(secrets))
	for k, v := range secrets {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
