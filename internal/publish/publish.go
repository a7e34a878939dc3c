// Package publish fans a released file set out to the configured targets.
// The registry is a closed set: an unknown publisher name is a startup
// error, never discovered on first use.
package publish

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sealgate/sealgate/internal/config"
	"github.com/sealgate/sealgate/internal/manifest"
)

// Result describes one completed publication.
type Result struct {
	Publisher string            `json:"publisher"`
	Location  string            `json:"location,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Publisher pushes a verified file set somewhere durable.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, root string, files []string, m *manifest.Manifest) (*Result, error)
}

type constructor func(cfg config.Config, timeout time.Duration) (Publisher, error)

var registry = map[string]constructor{
	"archive": func(cfg config.Config, _ time.Duration) (Publisher, error) {
		return &Archive{Dir: cfg.ArchiveDir}, nil
	},
	"forge": func(cfg config.Config, timeout time.Duration) (Publisher, error) {
		return newForge(cfg.Forge, timeout)
	},
	"repository": func(cfg config.Config, timeout time.Duration) (Publisher, error) {
		return newRepository(cfg.Repository, timeout)
	},
}

// Known returns the sorted registry names, for error messages and help text.
func Known() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve instantiates the named publishers. An unknown name or a publisher
// that rejects its configuration fails the whole resolution.
func Resolve(names []string, cfg config.Config) ([]Publisher, error) {
	publishers := make([]Publisher, 0, len(names))
	for _, name := range names {
		build, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("publish: unknown publisher %q (known: %v)", name, Known())
		}
		p, err := build(cfg, cfg.Timeout())
		if err != nil {
			return nil, fmt.Errorf("publish: %s: %w", name, err)
		}
		publishers = append(publishers, p)
	}
	return publishers, nil
}
