// Package manifest parses the declarative ring.yaml file.
//
//	deployments:
//	  web:
//	    namespace: default
//	    runtime: docker
//	    image: nginx:1.27
//	    replicas: 2
//	    labels:
//	      - tier: frontend
//	    secrets:
//	      DB_PASSWORD: $DB_PASSWORD
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kemeter/ring/internal/controlplane/deployments"
)

const DefaultNamespace = "default"

// Spec is one deployment entry. Secret references stay unresolved; the
// control plane resolves them when it creates instances.
type Spec struct {
	Key       string               `json:"-" yaml:"-"`
	Name      string               `json:"name" yaml:"name"`
	Namespace string               `json:"namespace" yaml:"namespace"`
	Runtime   string               `json:"runtime" yaml:"runtime"`
	Image     string               `json:"image" yaml:"image"`
	Replicas  int                  `json:"replicas" yaml:"replicas"`
	Labels    deployments.LabelSet `json:"labels" yaml:"labels"`
	Secrets   map[string]string    `json:"secrets" yaml:"secrets"`
}

// Error carries the line of the offending node.
type Error struct {
	Line int
	Key  string
	Msg  string
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("line %d: deployment %q: %s", e.Line, e.Key, e.Msg)
}

func ParseFile(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	specs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return specs, nil
}

// Parse decodes the document and returns its entries in document order.
// Missing name defaults to the entry key, namespace to "default" and runtime
// to docker.
func Parse(data []byte) ([]Spec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, &Error{Line: 1, Msg: "empty document"}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &Error{Line: root.Line, Msg: "top level must be a mapping"}
	}

	var list *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "deployments" {
			list = root.Content[i+1]
		}
	}
	if list == nil {
		return nil, &Error{Line: root.Line, Msg: "missing deployments key"}
	}
	if list.Kind != yaml.MappingNode {
		return nil, &Error{Line: list.Line, Msg: "deployments must be a mapping"}
	}

	specs := make([]Spec, 0, len(list.Content)/2)
	for i := 0; i+1 < len(list.Content); i += 2 {
		keyNode, body := list.Content[i], list.Content[i+1]
		spec, err := decodeSpec(keyNode.Value, body)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func decodeSpec(key string, body *yaml.Node) (Spec, error) {
	if body.Kind != yaml.MappingNode {
		return Spec{}, &Error{Line: body.Line, Key: key, Msg: "entry must be a mapping"}
	}
	var s Spec
	if err := body.Decode(&s); err != nil {
		return Spec{}, &Error{Line: body.Line, Key: key, Msg: err.Error()}
	}
	s.Key = key
	if s.Name == "" {
		s.Name = key
	}
	if s.Namespace == "" {
		s.Namespace = DefaultNamespace
	}
	if s.Runtime == "" {
		s.Runtime = deployments.RuntimeDocker
	}

	d := s.Deployment()
	if err := d.Validate(); err != nil {
		return Spec{}, &Error{Line: body.Line, Key: key, Msg: err.Error()}
	}
	return s, nil
}

// Deployment returns a new active deployment carrying the spec's fields.
func (s Spec) Deployment() deployments.Deployment {
	d := deployments.New(s.Namespace, s.Name, s.Image, s.Replicas)
	d.Runtime = s.Runtime
	d.Labels = s.Labels
	if s.Secrets != nil {
		d.Secrets = s.Secrets
	}
	return d
}
