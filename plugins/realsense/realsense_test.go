package realsense

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/simbotics/simsense/msgs"
	"github.com/simbotics/simsense/plugins"
	"github.com/simbotics/simsense/rendering"
	"github.com/simbotics/simsense/sensors"
	"github.com/simbotics/simsense/sim"
	"github.com/simbotics/simsense/simage"
	"github.com/simbotics/simsense/transport"
	"github.com/simbotics/simsense/utils"
)

const (
	testWidth  = 4
	testHeight = 2
	testShade  = 200
)

// flatScene renders the same depth and shade at every pixel so frames have
// exactly known contents.
type flatScene struct {
	depthM float32
	shade  byte
}

func (s *flatScene) RenderColor(dst []byte, width, height int, simTime time.Duration) {
	for i := range dst {
		dst[i] = s.shade
	}
}

func (s *flatScene) RenderDepth(dst []float32, width, height int, simTime time.Duration, near, far float64) {
	for i := range dst {
		dst[i] = s.depthM
	}
}

func init() {
	rendering.RegisterScene("flat", func(attrs utils.AttributeMap) (rendering.Scene, error) {
		return &flatScene{
			depthM: float32(attrs.GetFloat64("depth_m", 4.5)),
			shade:  byte(attrs.GetInt("shade", testShade)),
		}, nil
	})
}

func addDepthCamera(t *testing.T, w *sim.World, m *sim.Model, name string, attrs utils.AttributeMap) {
	t.Helper()
	cam, err := rendering.NewDepthCamera(rendering.CameraConfig{
		Name:            name,
		Width:           testWidth,
		Height:          testHeight,
		UpdateRateHz:    100,
		Scene:           "flat",
		SceneAttributes: attrs,
		Near:            0.1,
		Far:             20,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.SensorManager().Insert(sensors.NewDepthCameraSensor(w.Name(), m.Name(), cam)), test.ShouldBeNil)
}

func addCamera(t *testing.T, w *sim.World, m *sim.Model, name, format string, attrs utils.AttributeMap) {
	t.Helper()
	cam, err := rendering.NewCamera(rendering.CameraConfig{
		Name:            name,
		Width:           testWidth,
		Height:          testHeight,
		Format:          format,
		UpdateRateHz:    100,
		Scene:           "flat",
		SceneAttributes: attrs,
		Near:            0.1,
		Far:             20,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.SensorManager().Insert(sensors.NewCameraSensor(w.Name(), m.Name(), cam)), test.ShouldBeNil)
}

// makeRigWorld builds a world with the four default-named cameras all showing
// a flat scene at depthM meters.
func makeRigWorld(t *testing.T, c clock.Clock, depthM float64) (*sim.World, *sim.Model) {
	t.Helper()
	w := sim.NewWorld(sim.WorldOptions{
		Name:         "rsw",
		UpdateRateHz: 100,
		Clock:        c,
	}, golog.NewTestLogger(t))
	m := sim.NewModel(w, "cam")
	test.That(t, w.InsertModel(m), test.ShouldBeNil)

	attrs := utils.AttributeMap{"depth_m": depthM, "shade": testShade}
	addDepthCamera(t, w, m, "depth", attrs)
	addCamera(t, w, m, "color", rendering.FormatRGB, attrs)
	addCamera(t, w, m, "ired1", rendering.FormatL8, attrs)
	addCamera(t, w, m, "ired2", rendering.FormatL8, attrs)
	return w, m
}

func loadRig(t *testing.T, ctx context.Context, m *sim.Model, attrs utils.AttributeMap) plugins.Plugin {
	t.Helper()
	loaded, err := plugins.Load(ctx, m, []plugins.Config{{
		Name:       "rs",
		Model:      Model,
		Attributes: attrs,
	}}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded, test.ShouldHaveLength, 1)
	return loaded[0]
}

type frameSink struct {
	mu     sync.Mutex
	frames []msgs.ImageStamped
}

func (fs *frameSink) add(m msgs.ImageStamped) {
	fs.mu.Lock()
	fs.frames = append(fs.frames, m)
	fs.mu.Unlock()
}

func (fs *frameSink) count() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.frames)
}

func (fs *frameSink) latest() (msgs.ImageStamped, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.frames) == 0 {
		return msgs.ImageStamped{}, false
	}
	return fs.frames[len(fs.frames)-1], true
}

func subscribeStream(t *testing.T, w *sim.World, topicName string) *frameSink {
	t.Helper()
	node := transport.NewNode(w.Bus())
	test.That(t, node.Init(w.Name()), test.ShouldBeNil)
	sink := &frameSink{}
	_, err := transport.Subscribe[msgs.ImageStamped](node, topicName, sink.add)
	test.That(t, err, test.ShouldBeNil)
	return sink
}

func TestRealsenseRegistered(t *testing.T) {
	test.That(t, Model.String(), test.ShouldEqual, "simsense:camera:realsense")

	reg, ok := plugins.LookupModelPlugin(Model)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, reg.Constructor, test.ShouldNotBeNil)
	test.That(t, reg.AttributeMapConverter, test.ShouldNotBeNil)

	converted, err := reg.AttributeMapConverter(utils.AttributeMap{"publish_rate_hz": 30.0})
	test.That(t, err, test.ShouldBeNil)
	cfg, ok := converted.(*Config)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cfg.PublishRateHz, test.ShouldEqual, 30.0)
}

func TestConfigValidate(t *testing.T) {
	var zero Config
	deps, err := zero.Validate("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldResemble, []string{"depth", "color", "ired1", "ired2"})

	named := Config{
		DepthCamera:     "d",
		ColorCamera:     "c",
		Infrared1Camera: "i1",
		Infrared2Camera: "i2",
	}
	deps, err = named.Validate("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldResemble, []string{"d", "c", "i1", "i2"})

	for _, tc := range []struct {
		name string
		conf Config
		want string
	}{
		{"negative rate", Config{PublishRateHz: -1}, "publish_rate_hz must be a non-negative finite number"},
		{"nan near clip", Config{DepthNearClipM: math.NaN()}, "depth_near_clip_m must be a non-negative finite number"},
		{"infinite far clip", Config{DepthFarClipM: math.Inf(1)}, "depth_far_clip_m must be a non-negative finite number"},
		{"negative scale", Config{DepthScaleM: -0.001}, "depth_scale_m must be a non-negative finite number"},
		{"near beyond default far", Config{DepthNearClipM: 11}, "must be less than"},
		{"near equals far", Config{DepthNearClipM: 2, DepthFarClipM: 2}, "must be less than"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.conf.Validate("")
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.want)
		})
	}
}

func TestEffectiveTopicRoot(t *testing.T) {
	test.That(t, effectiveTopicRoot("", "cam"), test.ShouldEqual, "~/cam/rs/stream/")
	test.That(t, effectiveTopicRoot("~/rig/streams", "cam"), test.ShouldEqual, "~/rig/streams/")
	test.That(t, effectiveTopicRoot("/abs/root/", "cam"), test.ShouldEqual, "/abs/root/")
}

func TestRealsenseDiscovery(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)

	w := sim.NewWorld(sim.WorldOptions{Name: "rsw", UpdateRateHz: 100}, logger)
	defer func() {
		test.That(t, w.Close(ctx), test.ShouldBeNil)
	}()
	m := sim.NewModel(w, "cam")
	test.That(t, w.InsertModel(m), test.ShouldBeNil)

	conf := plugins.Config{Name: "rs", Model: Model, ConvertedAttributes: &Config{}}
	expectMissing := func(kind string) {
		t.Helper()
		_, err := newRealsense(ctx, m, conf, logger)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, kind+" camera sensor has not been found")
	}

	attrs := utils.AttributeMap{"depth_m": 4.5, "shade": testShade}

	expectMissing("depth")
	addDepthCamera(t, w, m, "depth", attrs)
	expectMissing("infrared1")
	addCamera(t, w, m, "ired1", rendering.FormatL8, attrs)
	expectMissing("infrared2")
	addCamera(t, w, m, "ired2", rendering.FormatL8, attrs)
	expectMissing("color")
	addCamera(t, w, m, "color", rendering.FormatRGB, attrs)

	plug, err := newRealsense(ctx, m, conf, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, plug.Name(), test.ShouldEqual, "rs")
	test.That(t, plug.Close(ctx), test.ShouldBeNil)

	_, err = newRealsense(ctx, m, plugins.Config{Name: "rs", Model: Model, ConvertedAttributes: 17}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected *realsense.Config")
}

func TestRealsenseDepthKindMismatch(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)

	w := sim.NewWorld(sim.WorldOptions{Name: "rsw", UpdateRateHz: 100}, logger)
	defer func() {
		test.That(t, w.Close(ctx), test.ShouldBeNil)
	}()
	m := sim.NewModel(w, "cam")
	test.That(t, w.InsertModel(m), test.ShouldBeNil)

	// a plain camera under the depth name is not a depth sensor
	attrs := utils.AttributeMap{"depth_m": 4.5, "shade": testShade}
	addCamera(t, w, m, "depth", rendering.FormatL8, attrs)

	_, err := newRealsense(ctx, m, plugins.Config{Name: "rs", Model: Model, ConvertedAttributes: &Config{}}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "depth camera sensor has not been found")
}

func TestRealsenseStreams(t *testing.T) {
	ctx := context.Background()
	mck := clock.NewMock()
	w, m := makeRigWorld(t, mck, 4.5)
	defer func() {
		test.That(t, w.Close(ctx), test.ShouldBeNil)
	}()

	colorSink := subscribeStream(t, w, "~/cam/rs/stream/color")
	ired1Sink := subscribeStream(t, w, "~/cam/rs/stream/infrared")
	ired2Sink := subscribeStream(t, w, "~/cam/rs/stream/infrared2")
	depthSink := subscribeStream(t, w, "~/cam/rs/stream/depth")
	viewSink := subscribeStream(t, w, "~/cam/rs/stream/depth_view")

	rig := loadRig(t, ctx, m, nil)
	defer func() {
		test.That(t, rig.Close(ctx), test.ShouldBeNil)
	}()
	test.That(t, rig.Name(), test.ShouldEqual, "rs")

	test.That(t, w.Step(1), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, colorSink.count(), test.ShouldEqual, 1)
		test.That(tb, ired1Sink.count(), test.ShouldEqual, 1)
		test.That(tb, ired2Sink.count(), test.ShouldEqual, 1)
		test.That(tb, depthSink.count(), test.ShouldEqual, 1)
		test.That(tb, viewSink.count(), test.ShouldEqual, 1)
	})

	wantStamp := msgs.Time{Sec: 0, Nsec: 10000000}

	colorMsg, ok := colorSink.latest()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, colorMsg.Time, test.ShouldResemble, wantStamp)
	test.That(t, colorMsg.Image.PixelFormat, test.ShouldEqual, msgs.RGB24)
	test.That(t, colorMsg.Image.Width, test.ShouldEqual, uint32(testWidth))
	test.That(t, colorMsg.Image.Height, test.ShouldEqual, uint32(testHeight))
	test.That(t, colorMsg.Image.Step, test.ShouldEqual, uint32(3*testWidth))
	test.That(t, colorMsg.Image.Validate(), test.ShouldBeNil)
	for _, b := range colorMsg.Image.Data {
		test.That(t, b, test.ShouldEqual, byte(testShade))
	}

	for _, sink := range []*frameSink{ired1Sink, ired2Sink} {
		irMsg, ok := sink.latest()
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, irMsg.Time, test.ShouldResemble, wantStamp)
		test.That(t, irMsg.Image.PixelFormat, test.ShouldEqual, msgs.L8)
		test.That(t, irMsg.Image.Data, test.ShouldHaveLength, testWidth*testHeight)
		for _, b := range irMsg.Image.Data {
			test.That(t, int(b), test.ShouldBeBetweenOrEqual, testShade-3, testShade+3)
		}
	}

	viewMsg, ok := viewSink.latest()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, viewMsg.Time, test.ShouldResemble, wantStamp)
	test.That(t, viewMsg.Image.PixelFormat, test.ShouldEqual, msgs.RFloat32)
	floats, err := simage.FloatsFromBytes(viewMsg.Image.Data)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, floats, test.ShouldHaveLength, testWidth*testHeight)
	for _, f := range floats {
		test.That(t, f, test.ShouldEqual, float32(4.5))
	}

	depthMsg, ok := depthSink.latest()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, depthMsg.Time, test.ShouldResemble, wantStamp)
	test.That(t, depthMsg.Image.PixelFormat, test.ShouldEqual, msgs.L16)
	test.That(t, depthMsg.Image.Step, test.ShouldEqual, uint32(2*testWidth))
	test.That(t, depthMsg.Image.Validate(), test.ShouldBeNil)
	for i := 0; i < testWidth*testHeight; i++ {
		test.That(t, binary.LittleEndian.Uint16(depthMsg.Image.Data[2*i:]), test.ShouldEqual, uint16(4500))
	}

	// a second frame inside the 60Hz window is rate-capped; one outside goes out
	test.That(t, w.Step(1), test.ShouldBeNil)
	mck.Add(20 * time.Millisecond)
	test.That(t, w.Step(1), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, depthSink.count(), test.ShouldEqual, 2)
	})
	lastDepth, ok := depthSink.latest()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, lastDepth.Time, test.ShouldResemble, msgs.Time{Sec: 0, Nsec: 30000000})
}

func TestRealsenseDepthQuantization(t *testing.T) {
	for _, tc := range []struct {
		name   string
		depthM float64
		attrs  utils.AttributeMap
		want   uint16
	}{
		{"below near clip", 0.25, nil, 0},
		{"at near clip", 0.3, nil, 300},
		{"mid range", 4.5, nil, 4500},
		{"at far clip", 10, nil, 10000},
		{"beyond far clip", 12, nil, 0},
		{"negative reading", -1, nil, 0},
		{"within raised far clip", 50, utils.AttributeMap{"depth_far_clip_m": 200.0}, 50000},
		{"past sixteen bits", 70, utils.AttributeMap{"depth_far_clip_m": 200.0}, 0},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			w, m := makeRigWorld(t, nil, tc.depthM)
			defer func() {
				test.That(t, w.Close(ctx), test.ShouldBeNil)
			}()

			sink := subscribeStream(t, w, "~/cam/rs/stream/depth")
			rig := loadRig(t, ctx, m, tc.attrs)
			defer func() {
				test.That(t, rig.Close(ctx), test.ShouldBeNil)
			}()

			test.That(t, w.Step(1), test.ShouldBeNil)
			testutils.WaitForAssertion(t, func(tb testing.TB) {
				tb.Helper()
				test.That(tb, sink.count(), test.ShouldEqual, 1)
			})

			msg, ok := sink.latest()
			test.That(t, ok, test.ShouldBeTrue)
			for i := 0; i < testWidth*testHeight; i++ {
				test.That(t, binary.LittleEndian.Uint16(msg.Image.Data[2*i:]), test.ShouldEqual, tc.want)
			}
		})
	}
}

func TestRealsenseStatus(t *testing.T) {
	ctx := context.Background()
	mck := clock.NewMock()
	w, m := makeRigWorld(t, mck, 4.5)
	defer func() {
		test.That(t, w.Close(ctx), test.ShouldBeNil)
	}()

	rig := loadRig(t, ctx, m, nil)
	defer func() {
		test.That(t, rig.Close(ctx), test.ShouldBeNil)
	}()

	sp, ok := rig.(plugins.StatusProvider)
	test.That(t, ok, test.ShouldBeTrue)

	st, ok := sp.Status().(Status)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, st.Name, test.ShouldEqual, "rs")
	test.That(t, st.Model, test.ShouldEqual, "simsense:camera:realsense")
	test.That(t, st.TopicRoot, test.ShouldEqual, "~/cam/rs/stream/")
	test.That(t, st.PublishRateHz, test.ShouldEqual, 60.0)
	test.That(t, st.DepthNearClipM, test.ShouldEqual, 0.3)
	test.That(t, st.DepthFarClipM, test.ShouldEqual, 10.0)
	test.That(t, st.DepthScaleM, test.ShouldEqual, 0.001)
	test.That(t, st.DepthFrames, test.ShouldEqual, uint64(0))
	test.That(t, st.LastIteration, test.ShouldEqual, uint64(0))

	test.That(t, w.Step(1), test.ShouldBeNil)
	mck.Add(20 * time.Millisecond)
	test.That(t, w.Step(1), test.ShouldBeNil)
	mck.Add(20 * time.Millisecond)
	test.That(t, w.Step(1), test.ShouldBeNil)
	// same bus instant as the previous step, so every publisher rate-drops
	test.That(t, w.Step(1), test.ShouldBeNil)

	st, ok = sp.Status().(Status)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, st.DepthFrames, test.ShouldEqual, uint64(4))
	test.That(t, st.ColorFrames, test.ShouldEqual, uint64(4))
	test.That(t, st.Infrared1Frames, test.ShouldEqual, uint64(4))
	test.That(t, st.Infrared2Frames, test.ShouldEqual, uint64(4))
	test.That(t, st.LastIteration, test.ShouldEqual, uint64(4))
	test.That(t, st.LastSimTime, test.ShouldResemble, msgs.Time{Sec: 0, Nsec: 40000000})
	test.That(t, st.LastPublish, test.ShouldResemble, msgs.Time{Sec: 0, Nsec: 40000000})
	test.That(t, st.Streams, test.ShouldResemble, []StreamStatus{
		{Stream: "depth", Topic: "/rsw/cam/rs/stream/depth", Published: 3, Dropped: 1},
		{Stream: "depth_view", Topic: "/rsw/cam/rs/stream/depth_view", Published: 3, Dropped: 1},
		{Stream: "color", Topic: "/rsw/cam/rs/stream/color", Published: 3, Dropped: 1},
		{Stream: "infrared", Topic: "/rsw/cam/rs/stream/infrared", Published: 3, Dropped: 1},
		{Stream: "infrared2", Topic: "/rsw/cam/rs/stream/infrared2", Published: 3, Dropped: 1},
	})
}

func TestRealsenseReconfigure(t *testing.T) {
	ctx := context.Background()
	mck := clock.NewMock()
	w, m := makeRigWorld(t, mck, 4.5)
	defer func() {
		test.That(t, w.Close(ctx), test.ShouldBeNil)
	}()

	depthSink := subscribeStream(t, w, "~/cam/rs/stream/depth")
	rig := loadRig(t, ctx, m, nil)
	defer func() {
		test.That(t, rig.Close(ctx), test.ShouldBeNil)
	}()

	rc, ok := rig.(plugins.Reconfigurable)
	test.That(t, ok, test.ShouldBeTrue)

	test.That(t, w.Step(1), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, depthSink.count(), test.ShouldEqual, 1)
	})
	first, ok := depthSink.latest()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, binary.LittleEndian.Uint16(first.Image.Data), test.ShouldEqual, uint16(4500))

	// tighten the far clip so the flat scene falls out of range, and raise the
	// rate so a 10ms step interval is no longer capped
	err := rc.Reconfigure(ctx, plugins.Config{
		Name:                "rs",
		Model:               Model,
		ConvertedAttributes: &Config{DepthFarClipM: 4, PublishRateHz: 120},
	})
	test.That(t, err, test.ShouldBeNil)

	mck.Add(10 * time.Millisecond)
	test.That(t, w.Step(1), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, depthSink.count(), test.ShouldEqual, 2)
	})
	second, ok := depthSink.latest()
	test.That(t, ok, test.ShouldBeTrue)
	for i := 0; i < testWidth*testHeight; i++ {
		test.That(t, binary.LittleEndian.Uint16(second.Image.Data[2*i:]), test.ShouldEqual, uint16(0))
	}

	st, ok := rig.(plugins.StatusProvider).Status().(Status)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, st.PublishRateHz, test.ShouldEqual, 120.0)
	test.That(t, st.DepthFarClipM, test.ShouldEqual, 4.0)
	test.That(t, st.DepthNearClipM, test.ShouldEqual, 0.3)

	err = rc.Reconfigure(ctx, plugins.Config{
		Name:                "rs",
		Model:               Model,
		ConvertedAttributes: &Config{DepthCamera: "other"},
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "camera sensors cannot be changed")

	err = rc.Reconfigure(ctx, plugins.Config{
		Name:                "rs",
		Model:               Model,
		ConvertedAttributes: &Config{TopicRoot: "~/elsewhere/"},
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "topic_root cannot be changed")

	err = rc.Reconfigure(ctx, plugins.Config{
		Name:                "rs",
		Model:               Model,
		ConvertedAttributes: &Config{DepthNearClipM: 12},
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "must be less than")
}

func TestRealsenseClose(t *testing.T) {
	ctx := context.Background()
	w, m := makeRigWorld(t, nil, 4.5)
	defer func() {
		test.That(t, w.Close(ctx), test.ShouldBeNil)
	}()

	rig := loadRig(t, ctx, m, nil)

	test.That(t, w.Step(1), test.ShouldBeNil)
	st, ok := rig.(plugins.StatusProvider).Status().(Status)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, st.DepthFrames, test.ShouldEqual, uint64(1))

	test.That(t, rig.Close(ctx), test.ShouldBeNil)
	test.That(t, rig.Close(ctx), test.ShouldBeNil)

	test.That(t, w.Step(1), test.ShouldBeNil)
	st, ok = rig.(plugins.StatusProvider).Status().(Status)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, st.DepthFrames, test.ShouldEqual, uint64(1))
	test.That(t, st.ColorFrames, test.ShouldEqual, uint64(1))
	test.That(t, st.LastIteration, test.ShouldEqual, uint64(1))
}

func TestRealsenseCustomWiring(t *testing.T) {
	ctx := context.Background()
	w := sim.NewWorld(sim.WorldOptions{Name: "plant", UpdateRateHz: 50}, golog.NewTestLogger(t))
	defer func() {
		test.That(t, w.Close(ctx), test.ShouldBeNil)
	}()
	m := sim.NewModel(w, "rig1")
	test.That(t, w.InsertModel(m), test.ShouldBeNil)

	attrs := utils.AttributeMap{"depth_m": 2.0, "shade": testShade}
	addDepthCamera(t, w, m, "front-depth", attrs)
	addCamera(t, w, m, "rgb", rendering.FormatRGB, attrs)
	addCamera(t, w, m, "irA", rendering.FormatL8, attrs)
	addCamera(t, w, m, "irB", rendering.FormatL8, attrs)

	sink := subscribeStream(t, w, "~/rig1/streams/depth")

	rig := loadRig(t, ctx, m, utils.AttributeMap{
		"depth_camera":     "front-depth",
		"color_camera":     "rgb",
		"infrared1_camera": "irA",
		"infrared2_camera": "irB",
		"topic_root":       "~/rig1/streams",
		"publish_rate_hz":  120.0,
	})
	defer func() {
		test.That(t, rig.Close(ctx), test.ShouldBeNil)
	}()

	test.That(t, w.Step(1), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, sink.count(), test.ShouldEqual, 1)
	})

	msg, ok := sink.latest()
	test.That(t, ok, test.ShouldBeTrue)
	for i := 0; i < testWidth*testHeight; i++ {
		test.That(t, binary.LittleEndian.Uint16(msg.Image.Data[2*i:]), test.ShouldEqual, uint16(2000))
	}

	st, ok := rig.(plugins.StatusProvider).Status().(Status)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, st.TopicRoot, test.ShouldEqual, "~/rig1/streams/")
	test.That(t, st.PublishRateHz, test.ShouldEqual, 120.0)
}
