// Package registry maps step types to the handlers that execute them.
package registry

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/opsdesk/stepflow/pkg/models"
	"github.com/opsdesk/stepflow/pkg/protocol"
)

type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[models.StepType]protocol.StepHandler
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log.With("module", "registry"),
		handlers: make(map[models.StepType]protocol.StepHandler),
	}
}

// Register adds a handler, replacing any handler already bound to its type.
func (r *Registry) Register(handler protocol.StepHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[handler.Type()]; exists {
		r.logger.Warn("Replacing step handler", "step_type", handler.Type())
	}

	r.handlers[handler.Type()] = handler
}

// Handler returns the handler registered for stepType.
func (r *Registry) Handler(stepType models.StepType) (protocol.StepHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[stepType]
	if !ok {
		return nil, fmt.Errorf("step type '%s' not registered", stepType)
	}

	return handler, nil
}

// Types returns the registered step types in lexical order.
func (r *Registry) Types() []models.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.StepType, 0, len(r.handlers))
	for stepType := range r.handlers {
		types = append(types, stepType)
	}

	slices.Sort(types)

	return types
}

// HealthCheck reports whether every known step type has a handler.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	missing := make([]string, 0)

	for _, stepType := range models.StepTypes {
		if _, ok := r.handlers[stepType]; !ok {
			missing = append(missing, string(stepType))
		}
	}

	if len(missing) > 0 {
		return fmt.Sprintf("missing handlers for %v", missing), false
	}

	return fmt.Sprintf("%d step handlers registered", len(r.handlers)), true
}
