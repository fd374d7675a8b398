// Package rig assembles a running simulation from a config: the world and
// its clock, models with their rendering cameras, the plugins attached to
// each model, and the optional capture recorder.
package rig

import (
	"context"
	"reflect"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/simbotics/simsense/capture"
	"github.com/simbotics/simsense/config"
	"github.com/simbotics/simsense/plugins"
	"github.com/simbotics/simsense/rendering"
	"github.com/simbotics/simsense/sensors"
	"github.com/simbotics/simsense/sim"
	"github.com/simbotics/simsense/transport"
)

type options struct {
	clock clock.Clock
}

// Option configures a Rig beyond what the config file carries.
type Option func(*options)

// WithClock makes the world run on c instead of the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// Rig owns one world and everything attached to it.
type Rig struct {
	logger golog.Logger
	world  *sim.World

	mu       sync.Mutex
	conf     *config.Config
	plugins  map[string]plugins.Plugin
	recorder *capture.Recorder
	capNode  *transport.Node
	closed   bool
}

// New builds a rig from conf. Sensors are inserted before any plugin loads
// so plugin discovery sees the full sensor set. On error everything built so
// far is closed.
func New(ctx context.Context, conf *config.Config, logger golog.Logger, opts ...Option) (*Rig, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := conf.Ensure(); err != nil {
		return nil, err
	}

	world := sim.NewWorld(sim.WorldOptions{
		Name:           conf.World.Name,
		UpdateRateHz:   conf.World.UpdateRateHz,
		RealTimeFactor: conf.World.RealTimeFactor,
		Clock:          o.clock,
	}, logger)
	r := &Rig{
		logger:  logger,
		world:   world,
		conf:    conf,
		plugins: map[string]plugins.Plugin{},
	}

	for i := range conf.Models {
		mc := &conf.Models[i]
		model := sim.NewModel(world, mc.Name)
		if err := world.InsertModel(model); err != nil {
			return nil, multierr.Combine(err, r.Close(ctx))
		}
		for j := range mc.Sensors {
			if err := r.addSensor(mc.Name, &mc.Sensors[j]); err != nil {
				return nil, multierr.Combine(
					errors.Wrapf(err, "model %q", mc.Name), r.Close(ctx))
			}
		}
	}

	for i := range conf.Models {
		mc := &conf.Models[i]
		model, ok := world.Model(mc.Name)
		if !ok {
			return nil, multierr.Combine(
				errors.Errorf("model %q missing after insert", mc.Name), r.Close(ctx))
		}
		plugs, err := plugins.Load(ctx, model, mc.Plugins, logger)
		if err != nil {
			return nil, multierr.Combine(err, r.Close(ctx))
		}
		for _, p := range plugs {
			r.plugins[p.Name()] = p
		}
	}

	if conf.Capture != nil {
		if err := r.startCapture(ctx, *conf.Capture); err != nil {
			return nil, multierr.Combine(err, r.Close(ctx))
		}
	}
	return r, nil
}

// World returns the rig's world.
func (r *Rig) World() *sim.World {
	return r.world
}

// Config returns the config the rig currently runs.
func (r *Rig) Config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conf
}

// Plugins returns the loaded plugins in config order.
func (r *Rig) Plugins() []plugins.Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orderedPluginsLocked()
}

// PluginStatuses returns the status of every plugin that reports one, keyed
// by plugin name.
func (r *Rig) PluginStatuses() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]interface{}{}
	for _, p := range r.orderedPluginsLocked() {
		if sp, ok := p.(plugins.StatusProvider); ok {
			out[p.Name()] = sp.Status()
		}
	}
	return out
}

// Recorder returns the capture recorder, or nil when capture is off.
func (r *Rig) Recorder() *capture.Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorder
}

// Reconfigure moves the rig to newConf. World and sensor shape changes need
// a restart and are rejected; plugin changes are applied in place where the
// plugin supports it and by rebuild otherwise; capture changes restart the
// recorder. Plugin failures are collected rather than aborting the rest of
// the update.
func (r *Rig) Reconfigure(ctx context.Context, newConf *config.Config) error {
	if err := newConf.Ensure(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("rig is closed")
	}
	if newConf.World != r.conf.World {
		return errors.New("world changes require a restart")
	}
	if len(newConf.Models) != len(r.conf.Models) {
		return errors.New("model changes require a restart")
	}
	oldModels := map[string]*config.ModelConfig{}
	for i := range r.conf.Models {
		oldModels[r.conf.Models[i].Name] = &r.conf.Models[i]
	}
	for i := range newConf.Models {
		mc := &newConf.Models[i]
		oldMC, ok := oldModels[mc.Name]
		if !ok {
			return errors.Errorf("model %q was added, restart required", mc.Name)
		}
		if !reflect.DeepEqual(oldMC.Sensors, mc.Sensors) {
			return errors.Errorf("sensor changes on model %q require a restart", mc.Name)
		}
	}

	var errs error
	for i := range newConf.Models {
		mc := &newConf.Models[i]
		model, ok := r.world.Model(mc.Name)
		if !ok {
			errs = multierr.Combine(errs, errors.Errorf("model %q missing from world", mc.Name))
			continue
		}
		oldByName := map[string]plugins.Config{}
		for _, pc := range oldModels[mc.Name].Plugins {
			oldByName[pc.Name] = pc
		}
		for _, pc := range mc.Plugins {
			oldPC, existed := oldByName[pc.Name]
			delete(oldByName, pc.Name)
			switch {
			case !existed:
				errs = multierr.Combine(errs, r.loadPluginLocked(ctx, model, pc))
			case oldPC.Equals(pc):
			default:
				errs = multierr.Combine(errs, r.replacePluginLocked(ctx, model, oldPC, pc))
			}
		}
		for name := range oldByName {
			if p, ok := r.plugins[name]; ok {
				errs = multierr.Combine(errs, p.Close(ctx))
				delete(r.plugins, name)
			}
		}
	}

	if !reflect.DeepEqual(r.conf.Capture, newConf.Capture) {
		errs = multierr.Combine(errs, r.stopCaptureLocked())
		if newConf.Capture != nil {
			errs = multierr.Combine(errs, r.startCapture(ctx, *newConf.Capture))
		}
	}

	r.conf = newConf
	return errs
}

// Close shuts the rig down: plugins in reverse config order, then capture,
// then the world. Idempotent.
func (r *Rig) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	ordered := r.orderedPluginsLocked()
	for i := len(ordered) - 1; i >= 0; i-- {
		err = multierr.Combine(err, ordered[i].Close(ctx))
	}
	r.plugins = map[string]plugins.Plugin{}
	err = multierr.Combine(err, r.stopCaptureLocked())
	return multierr.Combine(err, r.world.Close(ctx))
}

func (r *Rig) orderedPluginsLocked() []plugins.Plugin {
	var out []plugins.Plugin
	for _, mc := range r.conf.Models {
		for _, pc := range mc.Plugins {
			if p, ok := r.plugins[pc.Name]; ok {
				out = append(out, p)
			}
		}
	}
	return out
}

func (r *Rig) addSensor(modelName string, sc *config.SensorConfig) error {
	camCfg := rendering.CameraConfig{
		Name:            sc.Name,
		Width:           sc.Width,
		Height:          sc.Height,
		Format:          sc.Format,
		UpdateRateHz:    sc.UpdateRateHz,
		Scene:           sc.Scene,
		SceneAttributes: sc.SceneAttributes,
		Near:            sc.NearClip,
		Far:             sc.FarClip,
	}
	var s sensors.Sensor
	switch sc.Type {
	case config.SensorTypeCamera:
		cam, err := rendering.NewCamera(camCfg)
		if err != nil {
			return err
		}
		s = sensors.NewCameraSensor(r.world.Name(), modelName, cam)
	case config.SensorTypeDepthCamera:
		cam, err := rendering.NewDepthCamera(camCfg)
		if err != nil {
			return err
		}
		s = sensors.NewDepthCameraSensor(r.world.Name(), modelName, cam)
	default:
		return errors.Errorf("unknown sensor type %q", sc.Type)
	}
	return r.world.SensorManager().Insert(s)
}

func (r *Rig) loadPluginLocked(ctx context.Context, model *sim.Model, pc plugins.Config) error {
	plugs, err := plugins.Load(ctx, model, []plugins.Config{pc}, r.logger)
	if err != nil {
		return err
	}
	r.plugins[plugs[0].Name()] = plugs[0]
	return nil
}

func (r *Rig) replacePluginLocked(ctx context.Context, model *sim.Model, oldPC, newPC plugins.Config) error {
	if oldPC.Model == newPC.Model {
		if rp, ok := r.plugins[newPC.Name].(plugins.Reconfigurable); ok {
			err := rp.Reconfigure(ctx, newPC)
			if err == nil {
				return nil
			}
			r.logger.Warnw("plugin cannot update in place, rebuilding",
				"plugin", newPC.Name, "error", err)
		}
	}
	var errs error
	if p, ok := r.plugins[oldPC.Name]; ok {
		errs = p.Close(ctx)
		delete(r.plugins, oldPC.Name)
	}
	return multierr.Combine(errs, r.loadPluginLocked(ctx, model, newPC))
}

func (r *Rig) startCapture(ctx context.Context, cc config.CaptureConfig) error {
	node := transport.NewNode(r.world.Bus())
	if err := node.Init(r.world.Name()); err != nil {
		return err
	}
	rec, err := capture.NewRecorder(ctx, node, cc, r.world.Name(), r.logger.Named("capture"))
	if err != nil {
		return multierr.Combine(err, node.Close())
	}
	r.capNode = node
	r.recorder = rec
	return nil
}

func (r *Rig) stopCaptureLocked() error {
	var err error
	if r.recorder != nil {
		err = multierr.Combine(err, r.recorder.Close())
		r.recorder = nil
	}
	if r.capNode != nil {
		err = multierr.Combine(err, r.capNode.Close())
		r.capNode = nil
	}
	return err
}
