// Package plugins provides a registry of mail sources.
package plugins

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ArionMiles/pointsbot/pkg/api"
	imapreader "github.com/ArionMiles/pointsbot/pkg/reader/imap"
)

// Source is a mail reader that can describe its last poll.
type Source interface {
	api.Reader
	api.StatusReporter
}

// Deps are the settings and collaborators a source may need.
type Deps struct {
	Rules []api.Rule
	// Accounts lists the mailboxes of registered users.
	Accounts     imapreader.AccountSource
	IMAPAddr     string
	PollInterval time.Duration
	// MboxFile and MboxChatID configure the offline replay source.
	MboxFile   string
	MboxChatID int64
}

// SourcePlugin creates a mail source.
type SourcePlugin interface {
	// Name returns the plugin name (e.g., "imap", "mbox").
	Name() string
	// Description returns a human-readable description.
	Description() string
	// NewSource creates a new source instance.
	NewSource(deps Deps, logger *slog.Logger) (Source, error)
}

// Registry manages available mail sources.
type Registry struct {
	sources map[string]SourcePlugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]SourcePlugin)}
}

// Default returns a registry with every built-in source.
func Default() *Registry {
	r := NewRegistry()
	// Built-in names are distinct.
	_ = r.Register(&IMAP{})
	_ = r.Register(&Mbox{})
	return r
}

// Register adds a source plugin.
func (r *Registry) Register(plugin SourcePlugin) error {
	name := plugin.Name()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source plugin %q already registered", name)
	}
	r.sources[name] = plugin
	return nil
}

// Get returns a source plugin by name.
func (r *Registry) Get(name string) (SourcePlugin, error) {
	plugin, exists := r.sources[name]
	if !exists {
		return nil, fmt.Errorf("source plugin %q not found", name)
	}
	return plugin, nil
}

// List returns the registered plugins sorted by name.
func (r *Registry) List() []SourcePlugin {
	plugins := make([]SourcePlugin, 0, len(r.sources))
	for _, plugin := range r.sources {
		plugins = append(plugins, plugin)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name() < plugins[j].Name() })
	return plugins
}

// Create builds a source from the named plugin.
func (r *Registry) Create(name string, deps Deps, logger *slog.Logger) (Source, error) {
	plugin, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return plugin.NewSource(deps, logger)
}
