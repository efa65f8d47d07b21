package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Secrets resolves named credentials. Lookup checks the process environment
// first, then a credentials file. Get never fails; a missing name is reported
// through the boolean, the same way a map miss is.
type Secrets struct {
	file map[string]string
}

// LoadSecrets reads ~/.config/conduit/credentials.yaml. A missing or
// malformed file yields an environment-only store.
func LoadSecrets() *Secrets {
	home, err := os.UserHomeDir()
	if err != nil {
		return &Secrets{}
	}
	return LoadSecretsFrom(filepath.Join(home, ".config", "conduit", "credentials.yaml"))
}

// LoadSecretsFrom reads the credentials file at path. The file is a flat
// name → value mapping.
func LoadSecretsFrom(path string) *Secrets {
	s := &Secrets{}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	file := make(map[string]string)
	if yaml.Unmarshal(data, &file) == nil {
		s.file = file
	}
	return s
}

// Get returns the named secret and whether it was found.
func (s *Secrets) Get(name string) (string, bool) {
	if v := os.Getenv(name); v != "" {
		return v, true
	}
	if v, ok := s.file[name]; ok && v != "" {
		return v, true
	}
	return "", false
}
