package manager

import (
	"context"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/ajitpratap0/federate/pkg/capabilities"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/logger"
	"github.com/ajitpratap0/federate/pkg/message"
)

// Repository holds the connector managers of every source.
type Repository struct {
	mu       sync.RWMutex
	managers map[string][]*ConnectorManager
	logger   *zap.Logger
}

// NewRepository creates an empty repository
func NewRepository() *Repository {
	return &Repository{
		managers: make(map[string][]*ConnectorManager),
		logger:   logger.Get().With(zap.String("component", "connector_repository")),
	}
}

// Add registers m as an instance of its source
func (r *Repository) Add(m *ConnectorManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.managers[m.Source()] = append(r.managers[m.Source()], m)
}

// Managers returns the instances of source
func (r *Repository) Managers(source string) []*ConnectorManager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*ConnectorManager(nil), r.managers[source]...)
}

// Sources returns the registered source names, sorted
func (r *Repository) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.managers))
	for name := range r.managers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Route picks the manager instance for req by hashing its atomic request
// id. Instances that are not accepting work are skipped.
func (r *Repository) Route(req *message.AtomicRequestMessage) (*ConnectorManager, error) {
	instances := r.Managers(req.Source)
	if len(instances) == 0 {
		return nil, errors.New(errors.ErrorTypeNotFound, "unknown source").
			WithDetail("source", req.Source)
	}

	start := int(xxhash.Sum64String(req.ID.String()) % uint64(len(instances)))
	for n := 0; n < len(instances); n++ {
		m := instances[(start+n)%len(instances)]
		switch m.Status() {
		case StatusOK, StatusUnhealthy:
			return m, nil
		}
	}
	return nil, errors.New(errors.ErrorTypeConnection, "no instance of source is available").
		WithDetail("source", req.Source)
}

// Capabilities returns the capabilities of source from its first started
// instance
func (r *Repository) Capabilities(source string) (*capabilities.SourceCapabilities, error) {
	instances := r.Managers(source)
	if len(instances) == 0 {
		return nil, errors.New(errors.ErrorTypeNotFound, "unknown source").
			WithDetail("source", source)
	}
	for _, m := range instances {
		if caps := m.Capabilities(); caps != nil {
			return caps, nil
		}
	}
	return nil, errors.New(errors.ErrorTypeConnection, "source has no started instance").
		WithDetail("source", source)
}

// StartAll starts every manager. A source whose instances all fail to start
// does not stop the others; the failures are joined in the returned error.
func (r *Repository) StartAll(ctx context.Context) error {
	var errs []error
	for _, source := range r.Sources() {
		for _, m := range r.Managers(source) {
			if err := m.Start(ctx); err != nil {
				r.logger.Error("failed to start connector manager",
					zap.String("source", source),
					zap.String("pool", m.Name()),
					zap.Error(err))
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every manager concurrently
func (r *Repository) StopAll(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, source := range r.Sources() {
		for _, m := range r.Managers(source) {
			wg.Add(1)
			go func(m *ConnectorManager) {
				defer wg.Done()
				if err := m.Stop(ctx); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}(m)
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}
