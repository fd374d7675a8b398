// Package sensors tracks the simulated devices attached to world models and
// drives their per-step updates.
package sensors

import (
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/simbotics/simsense/rendering"
)

// Sensor is one simulated device, updated once per world step with the
// current sim time.
type Sensor interface {
	// Name is the short sensor name from config.
	Name() string
	// ScopedName is world::model::name, unique per world.
	ScopedName() string
	Update(simTime time.Duration)
	Close() error
}

// ScopedName builds the canonical world::model::sensor name.
func ScopedName(worldName, modelName, sensorName string) string {
	return strings.Join([]string{worldName, modelName, sensorName}, "::")
}

// CameraSensor wraps a rendering camera as a model sensor.
type CameraSensor struct {
	name   string
	scoped string
	cam    *rendering.Camera
}

// NewCameraSensor attaches cam to the named world and model.
func NewCameraSensor(worldName, modelName string, cam *rendering.Camera) *CameraSensor {
	return &CameraSensor{
		name:   cam.Name(),
		scoped: ScopedName(worldName, modelName, cam.Name()),
		cam:    cam,
	}
}

// Name returns the short sensor name.
func (s *CameraSensor) Name() string { return s.name }

// ScopedName returns the world::model::name form.
func (s *CameraSensor) ScopedName() string { return s.scoped }

// Camera returns the wrapped rendering camera.
func (s *CameraSensor) Camera() *rendering.Camera { return s.cam }

// Update renders a frame when one is due.
func (s *CameraSensor) Update(simTime time.Duration) { s.cam.Update(simTime) }

// Close is a no-op; cameras hold no external resources.
func (s *CameraSensor) Close() error { return nil }

// DepthCameraSensor wraps a rendering depth camera as a model sensor.
type DepthCameraSensor struct {
	name   string
	scoped string
	cam    *rendering.DepthCamera
}

// NewDepthCameraSensor attaches cam to the named world and model.
func NewDepthCameraSensor(worldName, modelName string, cam *rendering.DepthCamera) *DepthCameraSensor {
	return &DepthCameraSensor{
		name:   cam.Name(),
		scoped: ScopedName(worldName, modelName, cam.Name()),
		cam:    cam,
	}
}

// Name returns the short sensor name.
func (s *DepthCameraSensor) Name() string { return s.name }

// ScopedName returns the world::model::name form.
func (s *DepthCameraSensor) ScopedName() string { return s.scoped }

// DepthCamera returns the wrapped rendering depth camera.
func (s *DepthCameraSensor) DepthCamera() *rendering.DepthCamera { return s.cam }

// Update renders a depth frame when one is due.
func (s *DepthCameraSensor) Update(simTime time.Duration) { s.cam.Update(simTime) }

// Close is a no-op; cameras hold no external resources.
func (s *DepthCameraSensor) Close() error { return nil }

// Manager owns every sensor in a world. Lookup accepts either the full
// scoped name or a unique short name, so plugin configs can say "depth"
// instead of "default::rs200::depth".
type Manager struct {
	mu      sync.Mutex
	logger  golog.Logger
	sensors map[string]Sensor
	order   []string
}

// NewManager returns an empty sensor manager.
func NewManager(logger golog.Logger) *Manager {
	return &Manager{
		logger:  logger,
		sensors: map[string]Sensor{},
	}
}

// Insert registers a sensor. Scoped names must be unique.
func (m *Manager) Insert(s Sensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scoped := s.ScopedName()
	if _, ok := m.sensors[scoped]; ok {
		return errors.Errorf("sensor %s already exists", scoped)
	}
	m.sensors[scoped] = s
	m.order = append(m.order, scoped)
	return nil
}

// Sensor finds a sensor by scoped name, or by suffix when the suffix is
// unambiguous. An ambiguous short name is a miss.
func (m *Manager) Sensor(name string) (Sensor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sensors[name]; ok {
		return s, true
	}
	var found Sensor
	for scoped, s := range m.sensors {
		if strings.HasSuffix(scoped, "::"+name) {
			if found != nil {
				m.logger.Warnw("sensor name is ambiguous", "name", name)
				return nil, false
			}
			found = s
		}
	}
	return found, found != nil
}

// Sensors returns all sensors in insertion order.
func (m *Manager) Sensors() []Sensor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sensor, 0, len(m.order))
	for _, scoped := range m.order {
		out = append(out, m.sensors[scoped])
	}
	return out
}

// UpdateAll steps every sensor in insertion order.
func (m *Manager) UpdateAll(simTime time.Duration) {
	for _, s := range m.Sensors() {
		s.Update(simTime)
	}
}

// Close closes every sensor, combining errors.
func (m *Manager) Close() error {
	var err error
	for _, s := range m.Sensors() {
		err = multierr.Combine(err, s.Close())
	}
	return err
}
