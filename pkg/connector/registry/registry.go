// Package registry maps translator type names to the factories that
// create them. Translators register themselves from init functions.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
)

// TranslatorFactory creates an uninitialized translator for a source.
type TranslatorFactory func(cfg *config.SourceConfig) (core.Translator, error)

// TranslatorInfo describes a registered translator type
type TranslatorInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Properties  []string `json:"properties"`
	// Polling translators signal data-not-available instead of blocking
	Polling bool `json:"polling"`
}

// Registry manages translator registration and instantiation
type Registry struct {
	factories map[string]TranslatorFactory
	infos     map[string]TranslatorInfo
	mu        sync.RWMutex
	logger    *zap.Logger
}

var globalRegistry = NewRegistry()

// NewRegistry creates a new translator registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]TranslatorFactory),
		infos:     make(map[string]TranslatorInfo),
		logger:    logger.Get().With(zap.String("component", "translator_registry")),
	}
}

// Register registers a translator factory under info.Name
func (r *Registry) Register(info TranslatorInfo, factory TranslatorFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[info.Name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("translator %s already registered", info.Name))
	}

	r.factories[info.Name] = factory
	r.infos[info.Name] = info
	r.logger.Debug("translator registered", zap.String("name", info.Name))
	return nil
}

// Create creates the translator configured for cfg. The translator is not
// yet initialized.
func (r *Registry) Create(cfg *config.SourceConfig) (core.Translator, error) {
	r.mu.RLock()
	factory, exists := r.factories[cfg.Translator]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("translator %s not found", cfg.Translator)).
			WithDetail("source", cfg.Name)
	}

	translator, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create translator %s", cfg.Translator)).
			WithDetail("source", cfg.Name)
	}

	return translator, nil
}

// Has checks if a translator is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// List returns the registered translators sorted by name
func (r *Registry) List() []TranslatorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]TranslatorInfo, 0, len(r.infos))
	for _, info := range r.infos {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Info returns the description of a registered translator
func (r *Registry) Info(name string) (TranslatorInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.infos[name]
	return info, ok
}

// Clear removes all registered translators (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories = make(map[string]TranslatorFactory)
	r.infos = make(map[string]TranslatorInfo)
}

// Register registers a translator in the global registry
func Register(info TranslatorInfo, factory TranslatorFactory) error {
	return globalRegistry.Register(info, factory)
}

// MustRegister is Register for init functions; it panics on a duplicate name
func MustRegister(info TranslatorInfo, factory TranslatorFactory) {
	if err := Register(info, factory); err != nil {
		panic(err)
	}
}

// Create creates a translator from the global registry
func Create(cfg *config.SourceConfig) (core.Translator, error) {
	return globalRegistry.Create(cfg)
}

// List returns the translators of the global registry
func List() []TranslatorInfo {
	return globalRegistry.List()
}

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}
