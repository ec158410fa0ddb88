package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio/v2"
)

// FileMode is applied to the registry file on every save.
const FileMode = 0o644

// ConfigError reports an unreadable or malformed registry file.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("registry %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsMissing reports whether err is a ConfigError caused by an absent file.
func IsMissing(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce) && errors.Is(ce.Err, os.ErrNotExist)
}

// Load reads the registry file at path. Records keep file order.
// Missing health paths are defaulted; duplicate or empty names and zero ports are rejected.
func Load(path string) ([]Service, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	var services []Service
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&services); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("decode: %w", err)}
	}
	seen := make(map[string]struct{}, len(services))
	for i := range services {
		s := &services[i]
		if s.Name == "" {
			return nil, &ConfigError{Path: path, Err: fmt.Errorf("entry %d has no name", i)}
		}
		if _, dup := seen[s.Name]; dup {
			return nil, &ConfigError{Path: path, Err: fmt.Errorf("duplicate service name %q", s.Name)}
		}
		seen[s.Name] = struct{}{}
		if s.Port == 0 {
			return nil, &ConfigError{Path: path, Err: fmt.Errorf("service %q has no port", s.Name)}
		}
		if s.HealthPath == "" {
			s.HealthPath = DefaultHealthPath
		}
	}
	return services, nil
}

// Save writes services as indented JSON sorted ascending by port.
// The file is replaced atomically so a crash mid-write never leaves a truncated registry.
func Save(path string, services []Service) error {
	sorted := append([]Service(nil), services...)
	SortByPort(sorted)
	if sorted == nil {
		sorted = []Service{}
	}
	b, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create registry dir: %w", err)
		}
	}
	if err := renameio.WriteFile(path, b, FileMode); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}

// Quarantine moves a malformed registry file aside so that later saves cannot overwrite it.
// It returns the new location.
func Quarantine(path string) (string, error) {
	dst := path + ".invalid"
	if err := os.Rename(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// SortByPort orders services by port, breaking ties by name.
func SortByPort(services []Service) {
	sort.SliceStable(services, func(i, j int) bool {
		if services[i].Port != services[j].Port {
			return services[i].Port < services[j].Port
		}
		return services[i].Name < services[j].Name
	})
}
