// Package config defines the rig configuration file format: a world, its
// models with their camera sensors, the plugins attached to each model, and
// the optional capture and web services.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/simbotics/simsense/plugins"
	"github.com/simbotics/simsense/rendering"
	"github.com/simbotics/simsense/utils"
)

// Sensor types a model can carry.
const (
	SensorTypeCamera      = "camera"
	SensorTypeDepthCamera = "depth_camera"
)

const (
	defaultWorldName         = "default"
	defaultWorldUpdateRateHz = 60.0
	defaultSensorWidth       = 640
	defaultSensorHeight      = 480
	defaultSensorScene       = "gradient"
	defaultNearClip          = 0.1
	defaultFarClip           = 100.0

	// DefaultBindAddress is where the web service listens when the config
	// does not say otherwise.
	DefaultBindAddress = "localhost:8888"
)

// Config is the top-level rig configuration.
type Config struct {
	World   WorldConfig    `json:"world"`
	Models  []ModelConfig  `json:"models"`
	Capture *CaptureConfig `json:"capture,omitempty"`
	Web     WebConfig      `json:"web"`

	// ConfigFilePath is the file this config was read from, when it came
	// from a file.
	ConfigFilePath string `json:"-"`
}

// WorldConfig sets up the world loop.
type WorldConfig struct {
	Name           string  `json:"name,omitempty"`
	UpdateRateHz   float64 `json:"update_rate_hz,omitempty"`
	RealTimeFactor float64 `json:"real_time_factor,omitempty"`
}

// ModelConfig is one model with its sensors and attached plugins.
type ModelConfig struct {
	Name    string           `json:"name"`
	Sensors []SensorConfig   `json:"sensors,omitempty"`
	Plugins []plugins.Config `json:"plugins,omitempty"`
}

// SensorConfig describes one rendering camera.
type SensorConfig struct {
	Name            string             `json:"name"`
	Type            string             `json:"type"`
	Width           int                `json:"width,omitempty"`
	Height          int                `json:"height,omitempty"`
	Format          string             `json:"format,omitempty"`
	UpdateRateHz    float64            `json:"update_rate_hz,omitempty"`
	Scene           string             `json:"scene,omitempty"`
	SceneAttributes utils.AttributeMap `json:"scene_attributes,omitempty"`
	NearClip        float64            `json:"near_clip,omitempty"`
	FarClip         float64            `json:"far_clip,omitempty"`
}

// CaptureConfig turns on frame recording for the named topics.
type CaptureConfig struct {
	Dir              string   `json:"dir"`
	Topics           []string `json:"topics"`
	MaxFileSizeBytes int64    `json:"max_file_size_bytes,omitempty"`
}

// WebConfig configures the status service.
type WebConfig struct {
	BindAddress string `json:"bind_address,omitempty"`
}

// Validate fills sensor defaults and checks the remaining fields. The update
// rate default comes from the world, so Ensure fills it before calling this.
func (sc *SensorConfig) Validate(path string) error {
	if sc.Name == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if !utils.ValidNameRegex.MatchString(sc.Name) {
		return goutils.NewConfigValidationError(path, utils.ErrInvalidName(sc.Name))
	}
	switch sc.Type {
	case SensorTypeCamera:
		if sc.Format == "" {
			sc.Format = rendering.FormatRGB
		}
		if sc.Format != rendering.FormatL8 && sc.Format != rendering.FormatRGB {
			return goutils.NewConfigValidationError(path,
				errors.Errorf("unsupported camera format %q", sc.Format))
		}
	case SensorTypeDepthCamera:
		if sc.Format != "" && sc.Format != rendering.FormatFloat {
			return goutils.NewConfigValidationError(path,
				errors.Errorf("depth cameras always render %s", rendering.FormatFloat))
		}
	case "":
		return goutils.NewConfigValidationFieldRequiredError(path, "type")
	default:
		return goutils.NewConfigValidationError(path,
			errors.Errorf("unknown sensor type %q", sc.Type))
	}
	if sc.Width == 0 {
		sc.Width = defaultSensorWidth
	}
	if sc.Height == 0 {
		sc.Height = defaultSensorHeight
	}
	if sc.Width < 0 || sc.Height < 0 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("bad dimensions %dx%d", sc.Width, sc.Height))
	}
	if sc.UpdateRateHz <= 0 {
		return goutils.NewConfigValidationError(path,
			errors.New("update_rate_hz must be positive"))
	}
	if sc.Scene == "" {
		sc.Scene = defaultSensorScene
	}
	if _, ok := rendering.LookupScene(sc.Scene); !ok {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("scene %q is not registered (have %v)", sc.Scene, rendering.SceneNames()))
	}
	if sc.NearClip == 0 {
		sc.NearClip = defaultNearClip
	}
	if sc.FarClip == 0 {
		sc.FarClip = defaultFarClip
	}
	if sc.NearClip <= 0 || sc.FarClip <= sc.NearClip {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("near_clip (%v) must be positive and smaller than far_clip (%v)",
				sc.NearClip, sc.FarClip))
	}
	return nil
}

// Validate checks the capture section.
func (cc *CaptureConfig) Validate(path string) error {
	if cc.Dir == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "dir")
	}
	if len(cc.Topics) == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "topics")
	}
	for i, topic := range cc.Topics {
		if topic == "" {
			return goutils.NewConfigValidationError(fmt.Sprintf("%s.topics.%d", path, i),
				errors.New("topic cannot be empty"))
		}
	}
	if cc.MaxFileSizeBytes < 0 {
		return goutils.NewConfigValidationError(path,
			errors.New("max_file_size_bytes cannot be negative"))
	}
	return nil
}

// Ensure fills defaults and validates every section, reporting the first
// problem with its config path. Plugin attributes are converted through the
// registry so rig construction gets typed configs.
func (c *Config) Ensure() error {
	if c.World.Name == "" {
		c.World.Name = defaultWorldName
	}
	if c.World.UpdateRateHz == 0 {
		c.World.UpdateRateHz = defaultWorldUpdateRateHz
	}
	if c.World.UpdateRateHz < 0 {
		return goutils.NewConfigValidationError("world",
			errors.New("update_rate_hz cannot be negative"))
	}
	if c.World.RealTimeFactor == 0 {
		c.World.RealTimeFactor = 1
	}
	if c.World.RealTimeFactor < 0 {
		return goutils.NewConfigValidationError("world",
			errors.New("real_time_factor cannot be negative"))
	}

	seenModels := map[string]bool{}
	seenPlugins := map[string]bool{}
	for i := range c.Models {
		mc := &c.Models[i]
		mPath := fmt.Sprintf("models.%d", i)
		if mc.Name == "" {
			return goutils.NewConfigValidationFieldRequiredError(mPath, "name")
		}
		if !utils.ValidNameRegex.MatchString(mc.Name) {
			return goutils.NewConfigValidationError(mPath, utils.ErrInvalidName(mc.Name))
		}
		if seenModels[mc.Name] {
			return goutils.NewConfigValidationError(mPath,
				errors.Errorf("duplicate model name %q", mc.Name))
		}
		seenModels[mc.Name] = true

		seenSensors := map[string]bool{}
		for j := range mc.Sensors {
			sc := &mc.Sensors[j]
			sPath := fmt.Sprintf("%s.sensors.%d", mPath, j)
			if sc.UpdateRateHz == 0 {
				sc.UpdateRateHz = c.World.UpdateRateHz
			}
			if err := sc.Validate(sPath); err != nil {
				return err
			}
			if seenSensors[sc.Name] {
				return goutils.NewConfigValidationError(sPath,
					errors.Errorf("duplicate sensor name %q", sc.Name))
			}
			seenSensors[sc.Name] = true
		}

		for j := range mc.Plugins {
			pc := &mc.Plugins[j]
			pPath := fmt.Sprintf("%s.plugins.%d", mPath, j)
			if pc.ConvertedAttributes == nil {
				if reg, ok := plugins.LookupModelPlugin(pc.Model); ok && reg.AttributeMapConverter != nil {
					converted, err := reg.AttributeMapConverter(pc.Attributes)
					if err != nil {
						return errors.Wrapf(err, "%s: error converting attributes", pPath)
					}
					pc.ConvertedAttributes = converted
				}
			}
			if err := pc.Validate(pPath); err != nil {
				return err
			}
			if seenPlugins[pc.Name] {
				return goutils.NewConfigValidationError(pPath,
					errors.Errorf("duplicate plugin name %q", pc.Name))
			}
			seenPlugins[pc.Name] = true
		}
	}

	if c.Capture != nil {
		if err := c.Capture.Validate("capture"); err != nil {
			return err
		}
	}

	if c.Web.BindAddress == "" {
		c.Web.BindAddress = DefaultBindAddress
	}
	return nil
}
