// Package realsense implements a simulated Intel RealSense camera rig. It
// attaches to a model, pulls rendered color, infrared, and depth frames from
// the model's camera sensors, quantizes depth into 16-bit depth units, and
// republishes every stream as timestamped image messages on the world bus.
package realsense

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/simbotics/simsense/events"
	"github.com/simbotics/simsense/msgs"
	"github.com/simbotics/simsense/plugins"
	"github.com/simbotics/simsense/rendering"
	"github.com/simbotics/simsense/sensors"
	"github.com/simbotics/simsense/sim"
	"github.com/simbotics/simsense/simage"
	"github.com/simbotics/simsense/transport"
	"github.com/simbotics/simsense/utils"
)

// Model is the plugin model this package registers.
var Model = plugins.ModelFamily{Namespace: plugins.DefaultNamespace, Family: "camera"}.WithModel("realsense")

const (
	defaultDepthCameraName     = "depth"
	defaultColorCameraName     = "color"
	defaultInfrared1CameraName = "ired1"
	defaultInfrared2CameraName = "ired2"

	defaultPublishRateHz = 60.0

	defaultDepthNearClipM = 0.3
	defaultDepthFarClipM  = 10.0
	defaultDepthScaleM    = 0.001

	depthTopic     = "depth"
	depthViewTopic = "depth_view"
	colorTopic     = "color"
	infrared1Topic = "infrared"
	infrared2Topic = "infrared2"

	publisherQueueSize = 1
)

func init() {
	plugins.RegisterModelPlugin(Model, plugins.Registration{
		Constructor: newRealsense,
		AttributeMapConverter: func(attributes utils.AttributeMap) (interface{}, error) {
			return plugins.TransformAttributeMap[*Config](attributes)
		},
	})
}

// Config tunes which camera sensors feed the rig and how its frames are
// published. Zero values fall back to the rig defaults.
type Config struct {
	DepthCamera     string `json:"depth_camera,omitempty"`
	ColorCamera     string `json:"color_camera,omitempty"`
	Infrared1Camera string `json:"infrared1_camera,omitempty"`
	Infrared2Camera string `json:"infrared2_camera,omitempty"`

	// TopicRoot prefixes the five stream topics. Relative roots ("~/...")
	// resolve against the world name.
	TopicRoot string `json:"topic_root,omitempty"`

	PublishRateHz float64 `json:"publish_rate_hz,omitempty"`

	DepthNearClipM float64 `json:"depth_near_clip_m,omitempty"`
	DepthFarClipM  float64 `json:"depth_far_clip_m,omitempty"`
	DepthScaleM    float64 `json:"depth_scale_m,omitempty"`
}

// withDefaults returns a copy of the config with zero values replaced by the
// rig defaults. The topic root is handled separately since its default nests
// under the model name.
func (conf Config) withDefaults() Config {
	out := conf
	if out.DepthCamera == "" {
		out.DepthCamera = defaultDepthCameraName
	}
	if out.ColorCamera == "" {
		out.ColorCamera = defaultColorCameraName
	}
	if out.Infrared1Camera == "" {
		out.Infrared1Camera = defaultInfrared1CameraName
	}
	if out.Infrared2Camera == "" {
		out.Infrared2Camera = defaultInfrared2CameraName
	}
	if out.PublishRateHz == 0 {
		out.PublishRateHz = defaultPublishRateHz
	}
	if out.DepthNearClipM == 0 {
		out.DepthNearClipM = defaultDepthNearClipM
	}
	if out.DepthFarClipM == 0 {
		out.DepthFarClipM = defaultDepthFarClipM
	}
	if out.DepthScaleM == 0 {
		out.DepthScaleM = defaultDepthScaleM
	}
	return out
}

func effectiveTopicRoot(topicRoot, modelName string) string {
	if topicRoot == "" {
		topicRoot = "~/" + modelName + "/rs/stream/"
	}
	if !strings.HasSuffix(topicRoot, "/") {
		topicRoot += "/"
	}
	return topicRoot
}

// Validate ensures all parts of the config are valid and returns the camera
// sensor names the rig will look up.
func (conf *Config) Validate(path string) ([]string, error) {
	for _, field := range []struct {
		name string
		val  float64
	}{
		{"publish_rate_hz", conf.PublishRateHz},
		{"depth_near_clip_m", conf.DepthNearClipM},
		{"depth_far_clip_m", conf.DepthFarClipM},
		{"depth_scale_m", conf.DepthScaleM},
	} {
		if field.val < 0 || math.IsNaN(field.val) || math.IsInf(field.val, 0) {
			return nil, goutils.NewConfigValidationError(path,
				errors.Errorf("%s must be a non-negative finite number", field.name))
		}
	}
	eff := conf.withDefaults()
	if eff.DepthNearClipM >= eff.DepthFarClipM {
		return nil, goutils.NewConfigValidationError(path,
			errors.Errorf("depth_near_clip_m (%v) must be less than depth_far_clip_m (%v)",
				eff.DepthNearClipM, eff.DepthFarClipM))
	}
	return []string{eff.DepthCamera, eff.ColorCamera, eff.Infrared1Camera, eff.Infrared2Camera}, nil
}

type realsense struct {
	name      string
	logger    golog.Logger
	world     *sim.World
	modelName string

	depthCam *rendering.DepthCamera
	colorCam *rendering.Camera
	ired1Cam *rendering.Camera
	ired2Cam *rendering.Camera

	colorFormat msgs.PixelFormat
	ired1Format msgs.PixelFormat
	ired2Format msgs.PixelFormat

	node         *transport.Node
	depthViewPub *transport.Publisher[msgs.ImageStamped]
	depthPub     *transport.Publisher[msgs.ImageStamped]
	ired1Pub     *transport.Publisher[msgs.ImageStamped]
	ired2Pub     *transport.Publisher[msgs.ImageStamped]
	colorPub     *transport.Publisher[msgs.ImageStamped]

	conns []*events.Connection

	depthFrames atomic.Uint64
	colorFrames atomic.Uint64
	ired1Frames atomic.Uint64
	ired2Frames atomic.Uint64

	// depthBuf holds the last quantized depth frame. It is only touched by
	// the depth frame callback, which the world loop serializes.
	depthBuf []byte

	mu            sync.RWMutex
	cfg           Config
	lastPublish   msgs.Time
	lastSimTime   msgs.Time
	lastIteration uint64

	closeOnce sync.Once
	closeErr  error
}

func newRealsense(ctx context.Context, m *sim.Model, conf plugins.Config, logger golog.Logger) (plugins.Plugin, error) {
	newConf, err := plugins.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}
	if _, err := newConf.Validate(""); err != nil {
		return nil, err
	}
	cfg := newConf.withDefaults()
	cfg.TopicRoot = effectiveTopicRoot(cfg.TopicRoot, m.Name())

	world := m.World()
	smanager := world.SensorManager()

	lookupCamera := func(name, kind string) (*rendering.Camera, error) {
		s, ok := smanager.Sensor(name)
		if !ok {
			return nil, errors.Errorf("%s camera sensor has not been found", kind)
		}
		camSensor, ok := s.(*sensors.CameraSensor)
		if !ok {
			return nil, errors.Errorf("%s camera sensor has not been found", kind)
		}
		return camSensor.Camera(), nil
	}

	depthSensor, ok := smanager.Sensor(cfg.DepthCamera)
	if !ok {
		return nil, errors.New("depth camera sensor has not been found")
	}
	depthCamSensor, ok := depthSensor.(*sensors.DepthCameraSensor)
	if !ok {
		return nil, errors.New("depth camera sensor has not been found")
	}
	depthCam := depthCamSensor.DepthCamera()

	ired1Cam, err := lookupCamera(cfg.Infrared1Camera, "infrared1")
	if err != nil {
		return nil, err
	}
	ired2Cam, err := lookupCamera(cfg.Infrared2Camera, "infrared2")
	if err != nil {
		return nil, err
	}
	colorCam, err := lookupCamera(cfg.ColorCamera, "color")
	if err != nil {
		return nil, err
	}

	colorFormat, err := msgs.ParsePixelFormat(colorCam.ImageFormat())
	if err != nil {
		return nil, errors.Wrap(err, "color camera")
	}
	ired1Format, err := msgs.ParsePixelFormat(ired1Cam.ImageFormat())
	if err != nil {
		return nil, errors.Wrap(err, "infrared1 camera")
	}
	ired2Format, err := msgs.ParsePixelFormat(ired2Cam.ImageFormat())
	if err != nil {
		return nil, errors.Wrap(err, "infrared2 camera")
	}

	node := transport.NewNode(world.Bus())
	if err := node.Init(world.Name()); err != nil {
		return nil, err
	}

	depthViewPub, err := transport.Advertise[msgs.ImageStamped](
		node, cfg.TopicRoot+depthViewTopic, publisherQueueSize, cfg.PublishRateHz)
	if err != nil {
		return nil, multierr.Combine(err, node.Close())
	}
	depthPub, err := transport.Advertise[msgs.ImageStamped](
		node, cfg.TopicRoot+depthTopic, publisherQueueSize, cfg.PublishRateHz)
	if err != nil {
		return nil, multierr.Combine(err, node.Close())
	}
	ired1Pub, err := transport.Advertise[msgs.ImageStamped](
		node, cfg.TopicRoot+infrared1Topic, publisherQueueSize, cfg.PublishRateHz)
	if err != nil {
		return nil, multierr.Combine(err, node.Close())
	}
	ired2Pub, err := transport.Advertise[msgs.ImageStamped](
		node, cfg.TopicRoot+infrared2Topic, publisherQueueSize, cfg.PublishRateHz)
	if err != nil {
		return nil, multierr.Combine(err, node.Close())
	}
	colorPub, err := transport.Advertise[msgs.ImageStamped](
		node, cfg.TopicRoot+colorTopic, publisherQueueSize, cfg.PublishRateHz)
	if err != nil {
		return nil, multierr.Combine(err, node.Close())
	}

	p := &realsense{
		name:         conf.Name,
		logger:       logger,
		world:        world,
		modelName:    m.Name(),
		depthCam:     depthCam,
		colorCam:     colorCam,
		ired1Cam:     ired1Cam,
		ired2Cam:     ired2Cam,
		colorFormat:  colorFormat,
		ired1Format:  ired1Format,
		ired2Format:  ired2Format,
		node:         node,
		depthViewPub: depthViewPub,
		depthPub:     depthPub,
		ired1Pub:     ired1Pub,
		ired2Pub:     ired2Pub,
		colorPub:     colorPub,
		cfg:          cfg,
	}

	p.conns = append(p.conns,
		depthCam.ConnectNewDepthFrame(p.onNewDepthFrame),
		ired1Cam.ConnectNewImageFrame(func() {
			p.onNewFrame(p.ired1Cam, p.ired1Format, p.ired1Pub, &p.ired1Frames)
		}),
		ired2Cam.ConnectNewImageFrame(func() {
			p.onNewFrame(p.ired2Cam, p.ired2Format, p.ired2Pub, &p.ired2Frames)
		}),
		colorCam.ConnectNewImageFrame(func() {
			p.onNewFrame(p.colorCam, p.colorFormat, p.colorPub, &p.colorFrames)
		}),
		world.ConnectWorldUpdateBegin(p.onWorldUpdate),
	)

	logger.Infow("realsense rig attached",
		"model", m.Name(),
		"topic_root", cfg.TopicRoot,
		"publish_rate_hz", cfg.PublishRateHz)
	return p, nil
}

func (p *realsense) Name() string {
	return p.name
}

// onNewFrame republishes one rendered color or infrared frame.
func (p *realsense) onNewFrame(
	cam *rendering.Camera,
	format msgs.PixelFormat,
	pub *transport.Publisher[msgs.ImageStamped],
	frames *atomic.Uint64,
) {
	data := cam.ImageData()
	if data == nil {
		return
	}
	frames.Inc()
	msg := msgs.ImageStamped{
		Time:  p.world.SimTime(),
		Image: msgs.NewImage(cam.ImageWidth(), cam.ImageHeight(), format, data),
	}
	if err := pub.Publish(msg); err != nil {
		p.logger.Debugw("image publish failed", "topic", pub.Topic(), "error", err)
		return
	}
	p.notePublish(msg.Time)
}

// onNewDepthFrame publishes the raw float depth frame for viewing, then the
// frame quantized to 16-bit depth units.
func (p *realsense) onNewDepthFrame() {
	floats := p.depthCam.DepthData()
	if floats == nil {
		return
	}
	p.depthFrames.Inc()

	width := p.depthCam.ImageWidth()
	height := p.depthCam.ImageHeight()
	stamp := p.world.SimTime()

	viewMsg := msgs.ImageStamped{
		Time:  stamp,
		Image: msgs.NewImage(width, height, msgs.RFloat32, simage.FloatsToBytes(floats)),
	}
	if err := p.depthViewPub.Publish(viewMsg); err != nil {
		p.logger.Debugw("depth view publish failed", "error", err)
	}

	p.mu.RLock()
	nearClip := p.cfg.DepthNearClipM
	farClip := p.cfg.DepthFarClipM
	scale := p.cfg.DepthScaleM
	p.mu.RUnlock()

	n := width * height
	if len(p.depthBuf) != 2*n {
		p.depthBuf = make([]byte, 2*n)
	}
	for i := 0; i < n; i++ {
		d := float64(floats[i])
		var v uint16
		// out of range reads as zero; quantization truncates
		if d < nearClip || d > farClip || d/scale > math.MaxUint16 || d < 0 {
			v = 0
		} else {
			v = uint16(d / scale)
		}
		binary.LittleEndian.PutUint16(p.depthBuf[2*i:], v)
	}

	depthMsg := msgs.ImageStamped{
		Time:  stamp,
		Image: msgs.NewImage(width, height, msgs.L16, append([]byte(nil), p.depthBuf...)),
	}
	if err := p.depthPub.Publish(depthMsg); err != nil {
		p.logger.Debugw("depth publish failed", "error", err)
		return
	}
	p.notePublish(stamp)
}

func (p *realsense) onWorldUpdate(info sim.UpdateInfo) {
	p.mu.Lock()
	p.lastSimTime = info.SimTime
	p.lastIteration = info.Iterations
	p.mu.Unlock()
}

func (p *realsense) notePublish(stamp msgs.Time) {
	p.mu.Lock()
	p.lastPublish = stamp
	p.mu.Unlock()
}

// Status describes the rig's publishing activity and depth tuning.
type Status struct {
	Name            string         `json:"name"`
	Model           string         `json:"model"`
	TopicRoot       string         `json:"topic_root"`
	Streams         []StreamStatus `json:"streams"`
	DepthFrames     uint64         `json:"depth_frames"`
	ColorFrames     uint64         `json:"color_frames"`
	Infrared1Frames uint64         `json:"infrared1_frames"`
	Infrared2Frames uint64         `json:"infrared2_frames"`
	LastPublish     msgs.Time      `json:"last_publish"`
	LastSimTime     msgs.Time      `json:"last_sim_time"`
	LastIteration   uint64         `json:"last_iteration"`
	PublishRateHz   float64        `json:"publish_rate_hz"`
	DepthNearClipM  float64        `json:"depth_near_clip_m"`
	DepthFarClipM   float64        `json:"depth_far_clip_m"`
	DepthScaleM     float64        `json:"depth_scale_m"`
}

// StreamStatus reports bus-level counters for one stream topic.
type StreamStatus struct {
	Stream    string `json:"stream"`
	Topic     string `json:"topic"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

func (p *realsense) Status() interface{} {
	byName := make(map[string]transport.TopicInfo)
	for _, info := range p.world.Bus().Topics() {
		byName[info.Name] = info
	}
	streams := []struct {
		name string
		pub  *transport.Publisher[msgs.ImageStamped]
	}{
		{depthTopic, p.depthPub},
		{depthViewTopic, p.depthViewPub},
		{colorTopic, p.colorPub},
		{infrared1Topic, p.ired1Pub},
		{infrared2Topic, p.ired2Pub},
	}
	statuses := make([]StreamStatus, 0, len(streams))
	for _, s := range streams {
		info := byName[s.pub.Topic()]
		statuses = append(statuses, StreamStatus{
			Stream:    s.name,
			Topic:     s.pub.Topic(),
			Published: info.Published,
			Dropped:   info.Dropped,
		})
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{
		Name:            p.name,
		Model:           Model.String(),
		TopicRoot:       p.cfg.TopicRoot,
		Streams:         statuses,
		DepthFrames:     p.depthFrames.Load(),
		ColorFrames:     p.colorFrames.Load(),
		Infrared1Frames: p.ired1Frames.Load(),
		Infrared2Frames: p.ired2Frames.Load(),
		LastPublish:     p.lastPublish,
		LastSimTime:     p.lastSimTime,
		LastIteration:   p.lastIteration,
		PublishRateHz:   p.cfg.PublishRateHz,
		DepthNearClipM:  p.cfg.DepthNearClipM,
		DepthFarClipM:   p.cfg.DepthFarClipM,
		DepthScaleM:     p.cfg.DepthScaleM,
	}
}

// Reconfigure adjusts the publish rate and depth tuning in place. Camera
// wiring and topics are fixed at construction; changing them needs a rebuild.
func (p *realsense) Reconfigure(ctx context.Context, conf plugins.Config) error {
	newConf, err := plugins.NativeConfig[*Config](conf)
	if err != nil {
		return err
	}
	if _, err := newConf.Validate(""); err != nil {
		return err
	}
	cfg := newConf.withDefaults()
	cfg.TopicRoot = effectiveTopicRoot(cfg.TopicRoot, p.modelName)

	p.mu.RLock()
	cur := p.cfg
	p.mu.RUnlock()

	if cfg.DepthCamera != cur.DepthCamera || cfg.ColorCamera != cur.ColorCamera ||
		cfg.Infrared1Camera != cur.Infrared1Camera || cfg.Infrared2Camera != cur.Infrared2Camera {
		return errors.New("camera sensors cannot be changed without rebuilding the rig")
	}
	if cfg.TopicRoot != cur.TopicRoot {
		return errors.New("topic_root cannot be changed without rebuilding the rig")
	}

	for _, pub := range []*transport.Publisher[msgs.ImageStamped]{
		p.depthViewPub, p.depthPub, p.ired1Pub, p.ired2Pub, p.colorPub,
	} {
		if err := pub.SetMaxRate(cfg.PublishRateHz); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.cfg.PublishRateHz = cfg.PublishRateHz
	p.cfg.DepthNearClipM = cfg.DepthNearClipM
	p.cfg.DepthFarClipM = cfg.DepthFarClipM
	p.cfg.DepthScaleM = cfg.DepthScaleM
	p.mu.Unlock()

	p.logger.Infow("realsense rig reconfigured",
		"publish_rate_hz", cfg.PublishRateHz,
		"depth_near_clip_m", cfg.DepthNearClipM,
		"depth_far_clip_m", cfg.DepthFarClipM,
		"depth_scale_m", cfg.DepthScaleM)
	return nil
}

// Close disconnects from the cameras and world, then shuts the publishers
// down. Safe to call more than once.
func (p *realsense) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		for _, conn := range p.conns {
			conn.Disconnect()
		}
		p.closeErr = p.node.Close()
	})
	return p.closeErr
}
