// Package registry keeps the workflow types known to a process.
package registry

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"slices"
	"sync"

	"github.com/dukex/flowline/pkg/graph"
)

// PluginSymbol is the function a workflow plugin exports: func() []*graph.Type.
const PluginSymbol = "WorkflowTypes"

type Registry struct {
	logger *slog.Logger
	mu     sync.RWMutex
	types  map[string]*graph.Type
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger: log.With("module", "registry"),
		types:  make(map[string]*graph.Type),
	}
}

// Register adds workflow types. Registering a name twice is an error.
func (r *Registry) Register(types ...*graph.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, workflowType := range types {
		if _, exists := r.types[workflowType.Name()]; exists {
			return fmt.Errorf("workflow type %q already registered", workflowType.Name())
		}

		r.types[workflowType.Name()] = workflowType
		r.logger.Debug("Registered workflow type", "type", workflowType.Name())
	}

	return nil
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (*graph.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflowType, ok := r.types[name]

	return workflowType, ok
}

// Type is Lookup returning graph.ErrTypeNotFound for unknown names.
func (r *Registry) Type(name string) (*graph.Type, error) {
	workflowType, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", graph.ErrTypeNotFound, name)
	}

	return workflowType, nil
}

// Types returns every registered type ordered by name.
func (r *Registry) Types() []*graph.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]*graph.Type, 0, len(r.types))
	for _, workflowType := range r.types {
		types = append(types, workflowType)
	}

	slices.SortFunc(types, func(a, b *graph.Type) int {
		switch {
		case a.Name() < b.Name():
			return -1
		case a.Name() > b.Name():
			return 1
		default:
			return 0
		}
	})

	return types
}

// LoadPlugins opens every .so file under pluginsPath and registers the types returned by its PluginSymbol.
func (r *Registry) LoadPlugins(pluginsPath string) error {
	pluginPathList, err := fs.Glob(os.DirFS(pluginsPath), "*.so")
	if err != nil {
		return fmt.Errorf("failed to list plugins: %w", err)
	}

	l := r.logger.With(slog.String("path", pluginsPath))
	l.Info("Loading plugins", "count", len(pluginPathList))

	for _, p := range pluginPathList {
		types, err := loadPlugin(filepath.Join(pluginsPath, p))
		if err != nil {
			return err
		}

		err = r.Register(types...)
		if err != nil {
			return fmt.Errorf("failed to register plugin %s: %w", p, err)
		}

		l.Info("Loaded workflow plugin", slog.String("plugin", p), slog.Int("types", len(types)))
	}

	return nil
}

func loadPlugin(path string) ([]*graph.Type, error) {
	plg, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin %s: %w", path, err)
	}

	symbol, err := plg.Lookup(PluginSymbol)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s in plugin %s: %w", PluginSymbol, path, err)
	}

	constructor, ok := symbol.(func() []*graph.Type)
	if !ok {
		return nil, fmt.Errorf("plugin %s: %s has type %T, want func() []*graph.Type", path, PluginSymbol, symbol)
	}

	return constructor(), nil
}
