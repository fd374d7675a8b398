// Package plugins provides the model registry and lifecycle for world
// plugins, the units of behavior attached to simulated models.
package plugins

import (
	"context"
	"fmt"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/simbotics/simsense/sim"
)

// A Plugin is attached to a model when its world is assembled and holds
// whatever publishers, connections, and state it needs until closed.
type Plugin interface {
	// Name returns the configured instance name.
	Name() string

	// Close frees resources held by the plugin. It must be safe to call
	// more than once.
	Close(ctx context.Context) error
}

// A StatusProvider exposes plugin runtime state.
type StatusProvider interface {
	Status() interface{}
}

// A Reconfigurable accepts configuration updates in place of being closed
// and rebuilt.
type Reconfigurable interface {
	Reconfigure(ctx context.Context, conf Config) error
}

// Load constructs the given plugin configs against a model, in order. If any
// step fails, previously constructed plugins are closed before the error is
// returned.
func Load(ctx context.Context, m *sim.Model, confs []Config, logger golog.Logger) ([]Plugin, error) {
	loaded := make([]Plugin, 0, len(confs))
	closeLoaded := func() error {
		var err error
		for i := len(loaded) - 1; i >= 0; i-- {
			err = multierr.Combine(err, loaded[i].Close(ctx))
		}
		return err
	}
	for idx, conf := range confs {
		reg, ok := LookupModelPlugin(conf.Model)
		if !ok {
			return nil, multierr.Combine(
				errors.Errorf("plugin model %q not registered", conf.Model),
				closeLoaded(),
			)
		}
		if conf.ConvertedAttributes == nil && reg.AttributeMapConverter != nil {
			converted, err := reg.AttributeMapConverter(conf.Attributes)
			if err != nil {
				return nil, multierr.Combine(
					errors.Wrapf(err, "error converting attributes for %q", conf.Name),
					closeLoaded(),
				)
			}
			conf.ConvertedAttributes = converted
		}
		if err := conf.Validate(fmt.Sprintf("plugins.%d", idx)); err != nil {
			return nil, multierr.Combine(err, closeLoaded())
		}
		plug, err := reg.Constructor(ctx, m, conf, logger.Named(conf.Name))
		if err != nil {
			return nil, multierr.Combine(
				errors.Wrapf(err, "error constructing plugin %q (%s)", conf.Name, conf.Model),
				closeLoaded(),
			)
		}
		loaded = append(loaded, plug)
	}
	return loaded, nil
}
