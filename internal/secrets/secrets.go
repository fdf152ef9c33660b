// Package secrets is the secret-store collaborator: named username/password
// pairs for authenticating against the similarity index service.
package secrets

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Credentials is one retrieved secret.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Store resolves a secret by name.
type Store interface {
	Get(name string) (Credentials, error)
}

// File reads secrets from a YAML file mapping names to credentials.
type File struct {
	secrets map[string]Credentials
}

// NewFile loads a secrets file eagerly so missing or malformed files fail at
// startup rather than mid-query.
func NewFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secrets: read %s: %w", path, err)
	}
	m := map[string]Credentials{}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("secrets: parse %s: %w", path, err)
	}
	return &File{secrets: m}, nil
}

func (f *File) Get(name string) (Credentials, error) {
	c, ok := f.secrets[name]
	if !ok {
		return Credentials{}, fmt.Errorf("secrets: %q not found", name)
	}
	return c, nil
}

// Env resolves secrets from environment variables of the form
// <PREFIX>_<NAME>_USERNAME / <PREFIX>_<NAME>_PASSWORD.
type Env struct {
	Prefix string
}

func (e Env) Get(name string) (Credentials, error) {
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	if e.Prefix != "" {
		key = e.Prefix + "_" + key
	}
	user, okU := os.LookupEnv(key + "_USERNAME")
	pass, okP := os.LookupEnv(key + "_PASSWORD")
	if !okU && !okP {
		return Credentials{}, fmt.Errorf("secrets: %q not found in environment", name)
	}
	return Credentials{Username: user, Password: pass}, nil
}
