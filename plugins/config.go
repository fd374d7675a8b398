package plugins

import (
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/simbotics/simsense/utils"
)

// A Config describes one plugin instance attached to a model.
type Config struct {
	Name  string `json:"name"`
	Model Model  `json:"model"`

	Attributes utils.AttributeMap `json:"attributes,omitempty"`

	// ConvertedAttributes holds the native config produced by the model's
	// registered attribute converter.
	ConvertedAttributes interface{} `json:"-"`

	alreadyValidated bool
	cachedErr        error
}

// A ConfigValidator validates a native config and returns the names of
// sensors the plugin expects to find on its model.
type ConfigValidator interface {
	Validate(path string) ([]string, error)
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.alreadyValidated {
		return conf.cachedErr
	}
	conf.cachedErr = conf.validate(path)
	conf.alreadyValidated = true
	return conf.cachedErr
}

func (conf *Config) validate(path string) error {
	if conf.Name == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if !utils.ValidNameRegex.MatchString(conf.Name) {
		return utils.ErrInvalidName(conf.Name)
	}
	if err := conf.Model.Validate(); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	if v, ok := conf.ConvertedAttributes.(ConfigValidator); ok {
		if _, err := v.Validate(path); err != nil {
			return err
		}
	}
	return nil
}

// Equals checks if the two configs are deeply equal to each other.
func (conf Config) Equals(other Config) bool {
	conf.alreadyValidated = false
	conf.cachedErr = nil
	other.alreadyValidated = false
	other.cachedErr = nil
	//nolint:govet
	return reflect.DeepEqual(conf, other)
}

// NativeConfig returns the plugin's native config from its converted
// attributes, transforming the raw attributes when no conversion has run yet.
func NativeConfig[T any](conf Config) (T, error) {
	if conf.ConvertedAttributes != nil {
		asserted, ok := conf.ConvertedAttributes.(T)
		if !ok {
			var zero T
			return zero, errors.Errorf("expected %T but got %T", zero, conf.ConvertedAttributes)
		}
		return asserted, nil
	}
	return TransformAttributeMap[T](conf.Attributes)
}

// TransformAttributeMap uses an attribute map to transform attributes to the prescribed format.
func TransformAttributeMap[T any](attributes utils.AttributeMap) (T, error) {
	var out T

	var forResult interface{}

	toT := reflect.TypeOf(out)
	if toT == nil {
		// nothing to transform
		return out, nil
	}
	if toT.Kind() == reflect.Ptr {
		// needs to be allocated then
		var ok bool
		out, ok = reflect.New(toT.Elem()).Interface().(T)
		if !ok {
			return out, errors.Errorf("failed to allocate default config type %T", out)
		}
		forResult = out
	} else {
		forResult = &out
	}

	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:  "json",
		Result:   forResult,
		Metadata: &md,
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(map[string]interface{}(attributes)); err != nil {
		return out, err
	}
	if attributes.Has("attributes") || len(md.Unused) == 0 {
		return out, nil
	}
	// set as many unused attributes as possible
	toV := reflect.ValueOf(out)
	if toV.Kind() == reflect.Ptr {
		toV = toV.Elem()
	}
	if attrsV := toV.FieldByName("Attributes"); attrsV.IsValid() &&
		attrsV.Kind() == reflect.Map &&
		attrsV.Type().Key().Kind() == reflect.String {
		if attrsV.IsNil() {
			attrsV.Set(reflect.MakeMap(attrsV.Type()))
		}
		mapValueType := attrsV.Type().Elem()
		for _, key := range md.Unused {
			val := attributes[key]
			valV := reflect.ValueOf(val)
			if valV.Type().AssignableTo(mapValueType) {
				attrsV.SetMapIndex(reflect.ValueOf(key), valV)
			}
		}
	}
	return out, nil
}
