// Package registry maps automation action names to the factories that build them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"sort"
	"strings"
	"sync"

	"github.com/dukex/stepflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrActionNotRegistered is returned when no factory exists for an action name.
	ErrActionNotRegistered = errors.New("action not registered")
	// ErrInvalidActionConfig is returned when a step config fails the factory schema.
	ErrInvalidActionConfig = errors.New("invalid action config")
)

type Registry struct {
	logger          *slog.Logger
	mu              sync.RWMutex
	actionFactories map[string]protocol.ActionFactory
}

func New(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log.With("module", "registry"),
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

// LoadActionPlugins opens every actions/**/*.so under pluginsPath and returns
// the exported Action symbols as factories.
func (r *Registry) LoadActionPlugins(pluginsPath string) ([]protocol.ActionFactory, error) {
	return loadPlugin[protocol.ActionFactory](r.logger, pluginsPath, "Action")
}

// RegisterAction makes a factory available under its ID, replacing any previous one.
func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actionFactories[factory.ID()] = factory
	r.logger.Debug("Registered action", "action", factory.ID())
}

// Action returns the factory registered under id.
func (r *Registry) Action(id string) (protocol.ActionFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.actionFactories[id]

	return factory, ok
}

// Actions lists the registered factories ordered by ID.
func (r *Registry) Actions() []protocol.ActionFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factories := make([]protocol.ActionFactory, 0, len(r.actionFactories))
	for _, f := range r.actionFactories {
		factories = append(factories, f)
	}

	sort.Slice(factories, func(i, j int) bool { return factories[i].ID() < factories[j].ID() })

	return factories
}

// CreateAction validates config against the factory schema and builds the action.
func (r *Registry) CreateAction(ctx context.Context, id string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.Action(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrActionNotRegistered, id)
	}

	if config == nil {
		config = map[string]any{}
	}

	if err := validateConfig(config, factory.Schema()); err != nil {
		return nil, fmt.Errorf("%w for %q: %w", ErrInvalidActionConfig, id, err)
	}

	return factory.Create(ctx, config)
}

// HealthCheck reports whether any action is available.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.actionFactories) == 0 {
		return "no actions registered", false
	}

	return fmt.Sprintf("%d actions registered", len(r.actionFactories)), true
}

func validateConfig(config map[string]any, schema map[string]any) error {
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return err
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			messages = append(messages, e.String())
		}

		return errors.New(strings.Join(messages, "; "))
	}

	return nil
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "**/*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("lookup %s in %s: %w", symbolName, p, err)
		}

		castV, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("plugin %s: symbol %s has unexpected type %T", p, symbolName, v)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
