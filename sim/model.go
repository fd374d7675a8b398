package sim

// Model is a named entity in a world. Sensors scope themselves under a model
// and plugins attach to one.
type Model struct {
	name  string
	world *World
}

// NewModel creates a model bound to w. Insert it with World.InsertModel.
func NewModel(w *World, name string) *Model {
	return &Model{name: name, world: w}
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// World returns the world the model belongs to.
func (m *Model) World() *World { return m.world }

// ScopedName returns world::model.
func (m *Model) ScopedName() string {
	return m.world.Name() + "::" + m.name
}
