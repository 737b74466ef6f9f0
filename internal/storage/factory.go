// factory.go implements the storage backend registry, mapping backend names
// (local, s3, azure, gcs) to constructor functions.
package storage

import (
	"fmt"
	"sort"

	"github.com/orgstore/orgstore/internal/config"
)

// FactoryFunc creates a storage backend from the archive configuration
type FactoryFunc func(*config.ArchiveConfig) (Storage, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// Backends returns the names of all registered backends, sorted.
func Backends() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStorage creates the backend named by cfg.Backend
func NewStorage(cfg *config.ArchiveConfig) (Storage, error) {
	factory, ok := factories[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported archive backend: %q (must be 'local', 'azure', 's3', or 'gcs')", cfg.Backend)
	}

	return factory(cfg)
}
