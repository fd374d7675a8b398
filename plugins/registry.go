package plugins

import (
	"context"
	"sort"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/simbotics/simsense/sim"
	"github.com/simbotics/simsense/utils"
)

type (
	// A Constructor builds a plugin instance attached to the given model.
	Constructor func(ctx context.Context, m *sim.Model, conf Config, logger golog.Logger) (Plugin, error)

	// An AttributeMapConverter converts an attribute map into a native
	// config type for a plugin model.
	AttributeMapConverter func(attributes utils.AttributeMap) (interface{}, error)
)

// A Registration stores construction info for a plugin model. A constructor
// is mandatory.
type Registration struct {
	Constructor Constructor

	// AttributeMapConverter is used to convert raw attributes to the
	// plugin's native config.
	AttributeMapConverter AttributeMapConverter
}

// all registrations.
var (
	registryMu sync.RWMutex
	registry   = map[Model]Registration{}
)

// RegisterModelPlugin registers a plugin model with its construction info.
func RegisterModelPlugin(model Model, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if err := model.Validate(); err != nil {
		panic(err)
	}
	if _, old := registry[model]; old {
		panic(errors.Errorf("trying to register two plugins with same model: %q", model))
	}
	if reg.Constructor == nil {
		panic(errors.Errorf("cannot register a nil constructor for model: %q", model))
	}
	registry[model] = reg
}

// DeregisterModelPlugin removes a previously registered model.
func DeregisterModelPlugin(model Model) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, model)
}

// LookupModelPlugin looks up a plugin registration by model.
func LookupModelPlugin(model Model) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[model]
	return reg, ok
}

// RegisteredModelPlugins returns all registered models in sorted order.
func RegisteredModelPlugins() []Model {
	registryMu.RLock()
	defer registryMu.RUnlock()
	models := make([]Model, 0, len(registry))
	for model := range registry {
		models = append(models, model)
	}
	sort.Slice(models, func(i, j int) bool {
		return models[i].String() < models[j].String()
	})
	return models
}
