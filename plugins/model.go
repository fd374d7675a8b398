package plugins

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// DefaultNamespace is the namespace for models shipped with this project.
const DefaultNamespace = "simsense"

var (
	// DefaultModelFamily is the family given to models referenced by a bare
	// name.
	DefaultModelFamily = ModelFamily{Namespace: DefaultNamespace, Family: "builtin"}

	modelRegexValidator       = regexp.MustCompile(`^([\w-]+):([\w-]+):([\w-]+)$`)
	singleFieldRegexValidator = regexp.MustCompile(`^([\w-]+)$`)
)

// A ModelFamily is a grouping of related models under one namespace.
type ModelFamily struct {
	Namespace string `json:"namespace"`
	Family    string `json:"model_family"`
}

// Validate ensures that important fields exist and are valid.
func (f ModelFamily) Validate() error {
	if f.Namespace == "" {
		return errors.New("namespace field for model missing")
	}
	if f.Family == "" {
		return errors.New("model_family field for model missing")
	}
	if !singleFieldRegexValidator.MatchString(f.Namespace) {
		return errors.Errorf("string %q is not a valid model namespace", f.Namespace)
	}
	if !singleFieldRegexValidator.MatchString(f.Family) {
		return errors.Errorf("string %q is not a valid model family", f.Family)
	}
	return nil
}

// String returns the model family string "namespace:family".
func (f ModelFamily) String() string {
	return f.Namespace + ":" + f.Family
}

// WithModel returns a new model with the given name in this family.
func (f ModelFamily) WithModel(name string) Model {
	return Model{f, name}
}

// A Model identifies a specific plugin implementation within a family.
type Model struct {
	ModelFamily
	Name string `json:"name"`
}

// NewModel creates a new Model based on parameters passed in.
func NewModel(namespace, family, name string) Model {
	return Model{ModelFamily{namespace, family}, name}
}

// NewDefaultModel creates a new model in the default namespace and family.
func NewDefaultModel(name string) Model {
	return Model{DefaultModelFamily, name}
}

// ModelFromString parses either a fully qualified model string
// "namespace:family:name" or a bare model name, which is placed in the
// default family.
func ModelFromString(modelStr string) (Model, error) {
	if modelRegexValidator.MatchString(modelStr) {
		matches := modelRegexValidator.FindStringSubmatch(modelStr)
		return NewModel(matches[1], matches[2], matches[3]), nil
	}
	if singleFieldRegexValidator.MatchString(modelStr) {
		return Model{DefaultModelFamily, modelStr}, nil
	}
	return Model{}, errors.Errorf("string %q is not a valid model name", modelStr)
}

// Validate ensures that important fields exist and are valid.
func (m Model) Validate() error {
	if err := m.ModelFamily.Validate(); err != nil {
		return err
	}
	if m.Name == "" {
		return errors.New("name field for model missing")
	}
	if !singleFieldRegexValidator.MatchString(m.Name) {
		return errors.Errorf("string %q is not a valid model name", m.Name)
	}
	return nil
}

// String returns the fully qualified model string.
func (m Model) String() string {
	return m.ModelFamily.String() + ":" + m.Name
}

// MarshalJSON marshals the model as its fully qualified string.
func (m Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON parses a fully qualified model string, a bare model name, or
// a structured representation.
func (m *Model) UnmarshalJSON(data []byte) error {
	modelStr := strings.Trim(string(data), "\"")
	if modelRegexValidator.MatchString(modelStr) {
		matches := modelRegexValidator.FindStringSubmatch(modelStr)
		*m = NewModel(matches[1], matches[2], matches[3])
		return nil
	}
	if singleFieldRegexValidator.MatchString(modelStr) {
		*m = Model{DefaultModelFamily, modelStr}
		return nil
	}

	var tempModel map[string]string
	if err := json.Unmarshal(data, &tempModel); err != nil {
		return err
	}
	m.Namespace = tempModel["namespace"]
	m.Family = tempModel["model_family"]
	m.Name = tempModel["name"]
	return m.Validate()
}
