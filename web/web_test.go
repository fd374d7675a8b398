package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/simbotics/simsense/config"
	"github.com/simbotics/simsense/msgs"
	"github.com/simbotics/simsense/plugins"
	"github.com/simbotics/simsense/plugins/realsense"
	"github.com/simbotics/simsense/rig"
	"github.com/simbotics/simsense/simage"
	"github.com/simbotics/simsense/transport"
	"github.com/simbotics/simsense/utils"
)

const depthTopic = "/webw/cam/rs/stream/depth"

func newWebRig(t *testing.T) (*rig.Rig, *clock.Mock) {
	t.Helper()
	logger := golog.NewTestLogger(t)
	mck := clock.NewMock()
	conf := &config.Config{
		World: config.WorldConfig{Name: "webw", UpdateRateHz: 50},
		Models: []config.ModelConfig{{
			Name: "cam",
			Sensors: []config.SensorConfig{
				{Name: "depth", Type: config.SensorTypeDepthCamera, Width: 4, Height: 2},
				{Name: "color", Type: config.SensorTypeCamera, Width: 4, Height: 2, Format: "R8G8B8"},
				{Name: "ired1", Type: config.SensorTypeCamera, Width: 4, Height: 2, Format: "L8"},
				{Name: "ired2", Type: config.SensorTypeCamera, Width: 4, Height: 2, Format: "L8"},
			},
			Plugins: []plugins.Config{{Name: "rs", Model: realsense.Model}},
		}},
	}
	r, err := rig.New(context.Background(), conf, logger, rig.WithClock(mck))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, r.Close(context.Background()), test.ShouldBeNil)
	})
	return r, mck
}

func startWeb(t *testing.T, r *rig.Rig) (*Service, *http.Client) {
	t.Helper()
	logger := golog.NewTestLogger(t)
	svc := New(r, logger)
	test.That(t, svc.Start(context.Background(), "localhost:0"), test.ShouldBeNil)
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	t.Cleanup(func() {
		client.CloseIdleConnections()
		test.That(t, svc.Stop(context.Background()), test.ShouldBeNil)
	})
	return svc, client
}

func webGet(t *testing.T, client *http.Client, rawURL string) (int, http.Header, []byte) {
	t.Helper()
	resp, err := client.Get(rawURL)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, resp.Body.Close(), test.ShouldBeNil)
	}()
	body, err := io.ReadAll(resp.Body)
	test.That(t, err, test.ShouldBeNil)
	return resp.StatusCode, resp.Header, body
}

func frameURL(svc *Service, topic string, params map[string]string) string {
	q := url.Values{"topic": []string{topic}}
	for k, v := range params {
		q.Set(k, v)
	}
	return fmt.Sprintf("http://%s/api/frame?%s", svc.Address(), q.Encode())
}

func TestWebStatusAndTopics(t *testing.T) {
	r, _ := newWebRig(t)
	svc, client := startWeb(t, r)
	base := "http://" + svc.Address()

	code, header, body := webGet(t, client, base+"/api/status")
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	test.That(t, header.Get("Content-Type"), test.ShouldEqual, "application/json")
	var st Status
	test.That(t, json.Unmarshal(body, &st), test.ShouldBeNil)
	test.That(t, st.World.Name, test.ShouldEqual, "webw")
	test.That(t, st.World.Iterations, test.ShouldEqual, 0)
	test.That(t, st.World.UpdateRateHz, test.ShouldEqual, 50.0)
	test.That(t, st.Plugins, test.ShouldContainKey, "rs")

	// the topics exist before any step, but carry no frame yet
	code, _, _ = webGet(t, client, frameURL(svc, depthTopic, nil))
	test.That(t, code, test.ShouldEqual, http.StatusNotFound)

	test.That(t, r.World().Step(1), test.ShouldBeNil)

	code, _, body = webGet(t, client, base+"/api/status")
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	test.That(t, json.Unmarshal(body, &st), test.ShouldBeNil)
	test.That(t, st.World.Iterations, test.ShouldEqual, 1)
	test.That(t, st.World.SimTime, test.ShouldResemble, msgs.Time{Sec: 0, Nsec: 20000000})

	code, _, body = webGet(t, client, base+"/api/topics")
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	var topics []transport.TopicInfo
	test.That(t, json.Unmarshal(body, &topics), test.ShouldBeNil)
	names := make([]string, 0, len(topics))
	for _, ti := range topics {
		names = append(names, ti.Name)
	}
	test.That(t, names, test.ShouldContain, depthTopic)
	test.That(t, names, test.ShouldContain, "/webw/cam/rs/stream/color")
}

func TestWebFrame(t *testing.T) {
	r, _ := newWebRig(t)
	svc, client := startWeb(t, r)
	test.That(t, r.World().Step(1), test.ShouldBeNil)

	code, header, body := webGet(t, client, frameURL(svc, depthTopic, nil))
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	test.That(t, header.Get("Content-Type"), test.ShouldEqual, utils.MimeTypePNG)
	img, err := png.Decode(bytes.NewReader(body))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 4)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 2)

	code, _, body = webGet(t, client, frameURL(svc, depthTopic, map[string]string{"pretty": "1"}))
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	img, err = png.Decode(bytes.NewReader(body))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 4)

	// the colorized raw depth view must actually sweep: the gradient scene's
	// near column comes out warm, the next one cool, and readings past the
	// 16-bit range stay holes
	code, _, body = webGet(t, client,
		frameURL(svc, "/webw/cam/rs/stream/depth_view", map[string]string{"pretty": "1"}))
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	img, err = png.Decode(bytes.NewReader(body))
	test.That(t, err, test.ShouldBeNil)
	nr, _, nb, na := img.At(0, 0).RGBA()
	fr, _, fb, _ := img.At(1, 0).RGBA()
	test.That(t, na, test.ShouldNotEqual, 0)
	test.That(t, img.At(0, 0), test.ShouldNotResemble, img.At(1, 0))
	test.That(t, nr > nb, test.ShouldBeTrue)
	test.That(t, fb > fr, test.ShouldBeTrue)
	_, _, _, ha := img.At(3, 0).RGBA()
	test.That(t, ha, test.ShouldEqual, 0)

	code, header, body = webGet(t, client, frameURL(svc, depthTopic, map[string]string{"format": "jpeg"}))
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	test.That(t, header.Get("Content-Type"), test.ShouldEqual, utils.MimeTypeJPEG)
	_, err = simage.DecodeImage(context.Background(), body, utils.MimeTypeJPEG)
	test.That(t, err, test.ShouldBeNil)

	code, _, body = webGet(t, client, frameURL(svc, depthTopic, map[string]string{"format": "qoi"}))
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	decoded, err := simage.DecodeImage(context.Background(), body, utils.MimeTypeQOI)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decoded.Bounds().Dx(), test.ShouldEqual, 4)

	code, _, _ = webGet(t, client, frameURL(svc, depthTopic, map[string]string{"format": "ppm"}))
	test.That(t, code, test.ShouldEqual, http.StatusOK)

	code, _, body = webGet(t, client, frameURL(svc, "/webw/cam/rs/stream/color", map[string]string{"width": "2"}))
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	img, err = png.Decode(bytes.NewReader(body))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 2)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 1)

	code, _, _ = webGet(t, client, frameURL(svc, depthTopic, map[string]string{"format": "gif"}))
	test.That(t, code, test.ShouldEqual, http.StatusNotAcceptable)

	code, _, _ = webGet(t, client, frameURL(svc, "/webw/no/such/topic", nil))
	test.That(t, code, test.ShouldEqual, http.StatusNotFound)
}

func TestWebIndex(t *testing.T) {
	r, _ := newWebRig(t)
	svc, client := startWeb(t, r)
	test.That(t, r.World().Step(1), test.ShouldBeNil)

	code, header, body := webGet(t, client, "http://"+svc.Address()+"/")
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	test.That(t, header.Get("Content-Type"), test.ShouldContainSubstring, "text/html")
	page := string(body)
	test.That(t, page, test.ShouldContainSubstring, "webw")
	test.That(t, page, test.ShouldContainSubstring, depthTopic)
	test.That(t, page, test.ShouldContainSubstring, "Plugins")
}

func TestWebLifecycle(t *testing.T) {
	r, _ := newWebRig(t)
	logger := golog.NewTestLogger(t)
	svc := New(r, logger)
	test.That(t, svc.Address(), test.ShouldEqual, "")

	ctx := context.Background()
	test.That(t, svc.Start(ctx, "localhost:0"), test.ShouldBeNil)
	test.That(t, svc.Address(), test.ShouldNotEqual, "")

	err := svc.Start(ctx, "localhost:0")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "already started")

	test.That(t, svc.Stop(ctx), test.ShouldBeNil)
	test.That(t, svc.Stop(ctx), test.ShouldBeNil)

	// the port really is released
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: time.Second}
	_, err = client.Get("http://" + svc.Address() + "/api/status")
	test.That(t, err, test.ShouldNotBeNil)
}
