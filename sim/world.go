// Package sim implements the world: fixed-step simulation time, model and
// sensor bookkeeping, and the update signals plugins attach to.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/simbotics/simsense/events"
	"github.com/simbotics/simsense/msgs"
	"github.com/simbotics/simsense/sensors"
	"github.com/simbotics/simsense/transport"
)

// UpdateInfo describes one world step to update callbacks.
type UpdateInfo struct {
	WorldName  string
	SimTime    msgs.Time
	Iterations uint64
}

// WorldOptions configure a world. Zero values take defaults: name "default",
// 60 Hz updates, real time factor 1, wall clock.
type WorldOptions struct {
	Name           string
	UpdateRateHz   float64
	RealTimeFactor float64
	Clock          clock.Clock
}

// World owns simulation time. Each step advances sim time by a fixed dt,
// fires the update-begin signal, updates every sensor, then fires update-end.
// Steps come either from Start's background loop or from manual Step calls.
type World struct {
	name   string
	dt     time.Duration
	rtf    float64
	clock  clock.Clock
	logger golog.Logger

	bus       *transport.Bus
	sensorMgr *sensors.Manager

	// loopMu serializes stepping so manual Step and the background loop
	// cannot interleave.
	loopMu sync.Mutex

	mu         sync.Mutex
	simTime    time.Duration
	iterations uint64
	models     map[string]*Model
	modelOrder []string
	running    bool
	closed     bool
	loopCancel func()
	loopDone   chan struct{}

	updateBegin events.Signal[UpdateInfo]
	updateEnd   events.Signal[UpdateInfo]
}

// NewWorld builds an empty world.
func NewWorld(opts WorldOptions, logger golog.Logger) *World {
	name := opts.Name
	if name == "" {
		name = "default"
	}
	rate := opts.UpdateRateHz
	if rate <= 0 {
		rate = 60
	}
	rtf := opts.RealTimeFactor
	if rtf <= 0 {
		rtf = 1
	}
	c := opts.Clock
	if c == nil {
		c = clock.New()
	}
	return &World{
		name:      name,
		dt:        time.Duration(float64(time.Second) / rate),
		rtf:       rtf,
		clock:     c,
		logger:    logger.Named("world." + name),
		bus:       transport.NewBusWithClock(logger.Named("bus"), c),
		sensorMgr: sensors.NewManager(logger.Named("sensors")),
		models:    map[string]*Model{},
	}
}

// Name returns the world name. Transport nodes use it as their namespace.
func (w *World) Name() string { return w.name }

// StepSize returns the fixed sim-time increment per step.
func (w *World) StepSize() time.Duration { return w.dt }

// RealTimeFactor returns the pacing ratio of the background loop.
func (w *World) RealTimeFactor() float64 { return w.rtf }

// Bus returns the world's transport bus.
func (w *World) Bus() *transport.Bus { return w.bus }

// SensorManager returns the world's sensor manager.
func (w *World) SensorManager() *sensors.Manager { return w.sensorMgr }

// SimTime returns the current simulation time.
func (w *World) SimTime() msgs.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return msgs.NewTime(w.simTime)
}

// Iterations returns the number of completed steps.
func (w *World) Iterations() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.iterations
}

// ConnectWorldUpdateBegin registers cb to run at the start of every step,
// before sensors update.
func (w *World) ConnectWorldUpdateBegin(cb func(UpdateInfo)) *events.Connection {
	return w.updateBegin.Connect(cb)
}

// ConnectWorldUpdateEnd registers cb to run at the end of every step, after
// sensors update.
func (w *World) ConnectWorldUpdateEnd(cb func(UpdateInfo)) *events.Connection {
	return w.updateEnd.Connect(cb)
}

// InsertModel adds a model to the world. Model names must be unique.
func (w *World) InsertModel(m *Model) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.models[m.name]; ok {
		return errors.Errorf("model %s already exists in world %s", m.name, w.name)
	}
	w.models[m.name] = m
	w.modelOrder = append(w.modelOrder, m.name)
	return nil
}

// Model returns the named model, if present.
func (w *World) Model(name string) (*Model, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.models[name]
	return m, ok
}

// Models returns all models in insertion order.
func (w *World) Models() []*Model {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Model, 0, len(w.modelOrder))
	for _, name := range w.modelOrder {
		out = append(out, w.models[name])
	}
	return out
}

// step advances sim time once. Signals fire without holding the world lock
// so callbacks can read world state.
func (w *World) step() {
	w.mu.Lock()
	w.simTime += w.dt
	w.iterations++
	info := UpdateInfo{
		WorldName:  w.name,
		SimTime:    msgs.NewTime(w.simTime),
		Iterations: w.iterations,
	}
	simTime := w.simTime
	w.mu.Unlock()

	w.updateBegin.Emit(info)
	w.sensorMgr.UpdateAll(simTime)
	w.updateEnd.Emit(info)
}

// Step advances the world n steps synchronously. It fails while the
// background loop is running.
func (w *World) Step(n int) error {
	w.loopMu.Lock()
	defer w.loopMu.Unlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return errors.New("world is closed")
	}
	if w.running {
		w.mu.Unlock()
		return errors.New("world loop is running")
	}
	w.mu.Unlock()

	for i := 0; i < n; i++ {
		w.step()
	}
	return nil
}

// Start runs the world loop on a background goroutine, pacing steps at
// StepSize divided by the real time factor. The loop ends when ctx is
// canceled or Stop is called.
func (w *World) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("world is closed")
	}
	if w.running {
		return errors.New("world already running")
	}

	interval := time.Duration(float64(w.dt) / w.rtf)
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.running = true
	w.loopCancel = cancel
	w.loopDone = done
	w.logger.Infow("world loop starting", "step", w.dt, "interval", interval)

	ticker := w.clock.Ticker(interval)
	goutils.PanicCapturingGo(func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				// When the caller's ctx ended the loop rather than Stop,
				// clear the running state so Step and Start work again.
				w.mu.Lock()
				if w.loopDone == done {
					w.running = false
					w.loopCancel = nil
					w.loopDone = nil
				}
				w.mu.Unlock()
				return
			case <-ticker.C:
				w.loopMu.Lock()
				w.step()
				w.loopMu.Unlock()
			}
		}
	})
	return nil
}

// Stop halts the background loop. The world can still Step manually or Start
// again afterwards.
func (w *World) Stop() {
	w.mu.Lock()
	cancel := w.loopCancel
	done := w.loopDone
	w.loopCancel = nil
	w.loopDone = nil
	w.running = false
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Close stops the loop and shuts down sensors and the bus. Idempotent.
func (w *World) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.Stop()
	return multierr.Combine(w.sensorMgr.Close(), w.bus.Close())
}
