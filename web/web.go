// Package web serves a read-only HTTP view of a running rig: world status,
// bus topics, and the latest frame of any stream rendered as an image.
package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"image"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/spf13/cast"
	goutils "go.viam.com/utils"
	"goji.io"
	"goji.io/pat"

	"github.com/simbotics/simsense/capture"
	"github.com/simbotics/simsense/config"
	"github.com/simbotics/simsense/msgs"
	"github.com/simbotics/simsense/rig"
	"github.com/simbotics/simsense/simage"
	"github.com/simbotics/simsense/transport"
	"github.com/simbotics/simsense/utils"
)

// prettyDepthScaleM is the depth unit used when colorizing raw float depth,
// matching the default plugin scale of one millimeter.
const prettyDepthScaleM = 0.001

//go:embed templates/index.html
var indexHTML string

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

// WorldStatus is the world block of /api/status.
type WorldStatus struct {
	Name           string    `json:"name"`
	SimTime        msgs.Time `json:"sim_time"`
	Iterations     uint64    `json:"iterations"`
	UpdateRateHz   float64   `json:"update_rate_hz"`
	RealTimeFactor float64   `json:"real_time_factor"`
}

// Status is the /api/status payload.
type Status struct {
	World   WorldStatus            `json:"world"`
	Plugins map[string]interface{} `json:"plugins"`
	Capture []capture.TopicStatus  `json:"capture,omitempty"`
}

// Service is the HTTP status server for one rig.
type Service struct {
	rig    *rig.Rig
	logger golog.Logger

	mu         sync.Mutex
	isRunning  bool
	listener   net.Listener
	httpServer *http.Server
	cancel     func()
	workers    sync.WaitGroup
}

// New returns a service for r. Nothing listens until Start.
func New(r *rig.Rig, logger golog.Logger) *Service {
	return &Service{rig: r, logger: logger}
}

// Start binds bindAddress (the config default when empty) and serves in the
// background until Stop or ctx cancellation.
func (svc *Service) Start(ctx context.Context, bindAddress string) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.isRunning {
		return errors.New("web server already started")
	}
	if bindAddress == "" {
		bindAddress = config.DefaultBindAddress
	}
	listener, err := net.Listen("tcp", bindAddress)
	if err != nil {
		return err
	}

	mux := goji.NewMux()
	mux.Handle(pat.Get("/api/status"), http.HandlerFunc(svc.handleStatus))
	mux.Handle(pat.Get("/api/topics"), http.HandlerFunc(svc.handleTopics))
	mux.Handle(pat.Get("/api/frame"), http.HandlerFunc(svc.handleFrame))
	mux.Handle(pat.New("/"), http.HandlerFunc(svc.handleIndex))

	cancelCtx, cancel := context.WithCancel(ctx)
	svc.listener = listener
	svc.httpServer = &http.Server{
		Addr:           listener.Addr().String(),
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Handler:        cors.AllowAll().Handler(mux),
	}
	svc.cancel = cancel
	svc.isRunning = true

	svc.workers.Add(2)
	server := svc.httpServer
	goutils.PanicCapturingGo(func() {
		defer svc.workers.Done()
		<-cancelCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			svc.logger.Errorw("error shutting down web server", "error", err)
		}
	})
	goutils.PanicCapturingGo(func() {
		defer svc.workers.Done()
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			svc.logger.Errorw("error serving web requests", "error", err)
		}
	})
	svc.logger.Infow("serving", "url", fmt.Sprintf("http://%s", listener.Addr().String()))
	return nil
}

// Address returns the bound address, or "" before Start.
func (svc *Service) Address() string {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.listener == nil {
		return ""
	}
	return svc.listener.Addr().String()
}

// Stop shuts the server down and waits for its workers. Idempotent.
func (svc *Service) Stop(ctx context.Context) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if !svc.isRunning {
		return nil
	}
	svc.isRunning = false
	svc.cancel()
	svc.workers.Wait()
	return nil
}

func (svc *Service) status() Status {
	world := svc.rig.World()
	st := Status{
		World: WorldStatus{
			Name:           world.Name(),
			SimTime:        world.SimTime(),
			Iterations:     world.Iterations(),
			UpdateRateHz:   1 / world.StepSize().Seconds(),
			RealTimeFactor: world.RealTimeFactor(),
		},
		Plugins: svc.rig.PluginStatuses(),
	}
	if rec := svc.rig.Recorder(); rec != nil {
		st.Capture = rec.Status()
	}
	return st
}

func (svc *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	svc.writeJSON(w, svc.status())
}

func (svc *Service) handleTopics(w http.ResponseWriter, r *http.Request) {
	svc.writeJSON(w, svc.rig.World().Bus().Topics())
}

func (svc *Service) handleFrame(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topicName := q.Get("topic")
	raw, ok := svc.rig.World().Bus().LatestRaw(topicName)
	if !ok {
		http.NotFound(w, r)
		return
	}
	stamped, ok := raw.(msgs.ImageStamped)
	if !ok {
		http.Error(w, fmt.Sprintf("topic %q does not carry image frames", topicName), http.StatusNotFound)
		return
	}
	mimeType, err := mimeTypeForFormat(q.Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotAcceptable)
		return
	}
	img, err := frameImage(stamped, cast.ToBool(q.Get("pretty")))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if width := cast.ToInt(q.Get("width")); width > 0 && width < img.Bounds().Dx() {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}
	payload, err := simage.EncodeImage(r.Context(), img, mimeType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	if _, err := w.Write(payload); err != nil {
		svc.logger.Debugw("failed to write frame response", "error", err)
	}
}

type indexData struct {
	Status     Status
	Topics     []transport.TopicInfo
	PluginJSON string
}

func (svc *Service) handleIndex(w http.ResponseWriter, r *http.Request) {
	st := svc.status()
	plugJSON, err := json.MarshalIndent(st.Plugins, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data := indexData{
		Status:     st,
		Topics:     svc.rig.World().Bus().Topics(),
		PluginJSON: string(plugJSON),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		svc.logger.Debugf("couldn't execute web page: %s", err)
	}
}

func (svc *Service) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		svc.logger.Debugw("failed to write json response", "error", err)
	}
}

func mimeTypeForFormat(format string) (string, error) {
	switch format {
	case "", "png":
		return utils.MimeTypePNG, nil
	case "jpeg", "jpg":
		return utils.MimeTypeJPEG, nil
	case "qoi":
		return utils.MimeTypeQOI, nil
	case "ppm":
		return utils.MimeTypePPM, nil
	default:
		return "", errors.Errorf("unknown image format %q", format)
	}
}

// frameImage converts a frame for display. Pretty requests colorize depth
// formats; everything else goes through the plain conversion.
func frameImage(stamped msgs.ImageStamped, pretty bool) (image.Image, error) {
	if pretty {
		switch stamped.Image.PixelFormat {
		case msgs.L16:
			img, err := simage.ImageFromStamped(stamped)
			if err != nil {
				return nil, err
			}
			if dm, ok := img.(*simage.DepthMap); ok {
				return dm.ToPrettyPicture(0, 0), nil
			}
			return img, nil
		case msgs.RFloat32:
			floats, err := simage.FloatsFromBytes(stamped.Image.Data)
			if err != nil {
				return nil, err
			}
			dm, err := simage.DepthMapFromFloats(floats,
				int(stamped.Image.Width), int(stamped.Image.Height),
				prettyDepthScaleM, 0, math.Inf(1))
			if err != nil {
				return nil, err
			}
			return dm.ToPrettyPicture(0, 0), nil
		case msgs.UnknownPixelFormat, msgs.L8, msgs.RGB24:
		}
	}
	return simage.ImageFromStamped(stamped)
}
