// Package rendering provides the procedural cameras the simulation's sensors
// wrap. Scenes synthesize color and depth analytically; no GPU or scene graph
// is involved.
package rendering

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/simbotics/simsense/utils"
)

// Image formats cameras report, named the way the engine names them.
const (
	FormatL8    = "L8"
	FormatRGB   = "R8G8B8"
	FormatFloat = "R_FLOAT32"
)

// A Scene produces pixels for any camera pointed at it. Implementations must
// be safe for concurrent rendering from multiple cameras.
type Scene interface {
	// RenderColor fills dst (RGB24, len 3*w*h) for sim time t.
	RenderColor(dst []byte, w, h int, t time.Duration)
	// RenderDepth fills dst (meters, len w*h) for sim time t. Rays that hit
	// nothing report the far plane.
	RenderDepth(dst []float32, w, h int, t time.Duration, near, far float64)
}

// SceneFactory builds a scene from config attributes.
type SceneFactory func(attrs utils.AttributeMap) (Scene, error)

var (
	sceneRegistryMu sync.Mutex
	sceneRegistry   = map[string]SceneFactory{}
)

// RegisterScene makes a scene available to camera configs by name. Registering
// the same name twice panics.
func RegisterScene(name string, factory SceneFactory) {
	sceneRegistryMu.Lock()
	defer sceneRegistryMu.Unlock()
	if name == "" || factory == nil {
		panic(errors.New("scene registration needs a name and a factory"))
	}
	if _, ok := sceneRegistry[name]; ok {
		panic(errors.Errorf("scene %q already registered", name))
	}
	sceneRegistry[name] = factory
}

// LookupScene returns the factory registered under name.
func LookupScene(name string) (SceneFactory, bool) {
	sceneRegistryMu.Lock()
	defer sceneRegistryMu.Unlock()
	f, ok := sceneRegistry[name]
	return f, ok
}

// NewScene builds the named scene with the given attributes.
func NewScene(name string, attrs utils.AttributeMap) (Scene, error) {
	factory, ok := LookupScene(name)
	if !ok {
		return nil, errors.Errorf("scene %q is not registered (have %v)", name, SceneNames())
	}
	return factory(attrs)
}

// SceneNames lists registered scenes, sorted.
func SceneNames() []string {
	sceneRegistryMu.Lock()
	defer sceneRegistryMu.Unlock()
	names := make([]string, 0, len(sceneRegistry))
	for name := range sceneRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterScene("gradient", newGradientScene)
	RegisterScene("orbit", newOrbitScene)
}
