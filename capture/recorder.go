package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/simbotics/simsense/config"
	"github.com/simbotics/simsense/msgs"
	"github.com/simbotics/simsense/transport"
)

// DefaultMaxFileSizeBytes is the rotation threshold used when the capture
// config does not set one.
const DefaultMaxFileSizeBytes = 64 << 20

const recorderQueueSize = 64

var errRecorderClosed = errors.New("recorder is closed")

// Recorder subscribes to bus topics and appends every delivered frame to a
// per-topic capture file, rotating files once they pass the size threshold.
// Subscriptions enqueue frames; a single writer goroutine owns all file IO.
type Recorder struct {
	logger    golog.Logger
	dir       string
	maxSize   int64
	worldName string
	partID    string

	subs    []*transport.Subscription
	writers map[string]*topicWriter

	queue   chan queuedFrame
	flushCh chan chan error
	done    chan struct{}
	group   *errgroup.Group

	written   atomic.Uint64
	dropped   atomic.Uint64
	closeOnce sync.Once
	closeErr  error
}

// TopicStatus reports capture progress for one topic.
type TopicStatus struct {
	Topic  string `json:"topic"`
	File   string `json:"file,omitempty"`
	Bytes  int64  `json:"bytes"`
	Frames uint64 `json:"frames"`
}

type queuedFrame struct {
	topic string
	msg   msgs.ImageStamped
}

// topicWriter holds the in-progress file for one topic. The writer goroutine
// owns it; Status peeks under the same lock.
type topicWriter struct {
	topic string
	dir   string

	mu     sync.Mutex
	file   *os.File
	size   int64
	frames uint64
}

// NewRecorder subscribes to every topic in conf on node and starts recording
// into conf.Dir. Each topic gets its own directory and an immediately opened
// .prog file holding the metadata document, so a topic that never publishes
// still completes into a valid metadata-only capture file.
func NewRecorder(
	ctx context.Context,
	node *transport.Node,
	conf config.CaptureConfig,
	worldName string,
	logger golog.Logger,
) (*Recorder, error) {
	maxSize := conf.MaxFileSizeBytes
	if maxSize == 0 {
		maxSize = DefaultMaxFileSizeBytes
	}
	r := &Recorder{
		logger:    logger,
		dir:       conf.Dir,
		maxSize:   maxSize,
		worldName: worldName,
		partID:    uuid.NewString(),
		writers:   map[string]*topicWriter{},
		queue:     make(chan queuedFrame, recorderQueueSize),
		flushCh:   make(chan chan error),
		done:      make(chan struct{}),
	}

	for _, name := range conf.Topics {
		resolved, err := node.ResolveTopic(name)
		if err != nil {
			return nil, multierr.Combine(err, r.abort())
		}
		if _, ok := r.writers[resolved]; ok {
			return nil, multierr.Combine(errors.Errorf("duplicate capture topic %q", resolved), r.abort())
		}
		w, err := r.newTopicWriter(resolved)
		if err != nil {
			return nil, multierr.Combine(errors.Wrapf(err, "failed to start capture for %q", resolved), r.abort())
		}
		r.writers[resolved] = w

		topic := resolved
		sub, err := transport.Subscribe[msgs.ImageStamped](node, topic, func(m msgs.ImageStamped) {
			r.enqueue(topic, m)
		})
		if err != nil {
			return nil, multierr.Combine(err, r.abort())
		}
		r.subs = append(r.subs, sub)
	}

	group, gctx := errgroup.WithContext(ctx)
	r.group = group
	group.Go(func() error {
		return r.writeLoop(gctx)
	})
	return r, nil
}

// Dir returns the capture root directory.
func (r *Recorder) Dir() string {
	return r.dir
}

// Dropped returns how many frames were discarded because the write queue was
// full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Written returns how many frames have been appended across all topics.
func (r *Recorder) Written() uint64 {
	return r.written.Load()
}

// Status reports per-topic progress, sorted by topic.
func (r *Recorder) Status() []TopicStatus {
	out := make([]TopicStatus, 0, len(r.writers))
	for _, w := range r.writers {
		w.mu.Lock()
		st := TopicStatus{Topic: w.topic, Bytes: w.size, Frames: w.frames}
		if w.file != nil {
			st.File = w.file.Name()
		}
		w.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Flush blocks until every queued frame is on disk and fsynced.
func (r *Recorder) Flush() error {
	ack := make(chan error, 1)
	select {
	case r.flushCh <- ack:
	case <-r.done:
		return errRecorderClosed
	}
	select {
	case err := <-ack:
		return err
	case <-r.done:
		return errRecorderClosed
	}
}

// Close stops the subscriptions, drains the queue, and completes every
// in-progress file. Safe to call more than once.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		for _, sub := range r.subs {
			sub.Unsubscribe()
		}
		close(r.done)
		err := r.group.Wait()
		r.closeErr = multierr.Combine(err, r.completeAll())
	})
	return r.closeErr
}

// abort tears down a partially constructed recorder. Opened .prog files are
// closed in place rather than completed since the run never started.
func (r *Recorder) abort() error {
	var err error
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
	for _, w := range r.writers {
		w.mu.Lock()
		if w.file != nil {
			err = multierr.Combine(err, w.file.Close())
			w.file = nil
		}
		w.mu.Unlock()
	}
	return err
}

func (r *Recorder) enqueue(topic string, m msgs.ImageStamped) {
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.queue <- queuedFrame{topic: topic, msg: m}:
	default:
		r.dropped.Inc()
		r.logger.Debugw("capture queue full, dropping frame", "topic", topic)
	}
}

func (r *Recorder) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			r.drainQueue()
			return nil
		case ack := <-r.flushCh:
			r.drainQueue()
			ack <- r.syncAll()
		case qf := <-r.queue:
			r.writeFrame(qf)
		}
	}
}

func (r *Recorder) drainQueue() {
	for {
		select {
		case qf := <-r.queue:
			r.writeFrame(qf)
		default:
			return
		}
	}
}

func (r *Recorder) writeFrame(qf queuedFrame) {
	w := r.writers[qf.topic]
	if w == nil {
		return
	}
	doc, err := bson.Marshal(qf.msg)
	if err != nil {
		r.logger.Errorw("failed to encode frame", "topic", qf.topic, "error", err)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return
	}
	if _, err := w.file.Write(doc); err != nil {
		r.logger.Errorw("failed to append frame", "topic", qf.topic, "error", err)
		return
	}
	w.size += int64(len(doc))
	w.frames++
	r.written.Inc()
	if w.size >= r.maxSize {
		if err := r.rotateLocked(w); err != nil {
			r.logger.Errorw("failed to rotate capture file", "topic", qf.topic, "error", err)
		}
	}
}

func (r *Recorder) newTopicWriter(topic string) (*topicWriter, error) {
	dir := filepath.Join(r.dir, topicDirName(topic))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	w := &topicWriter{topic: topic, dir: dir}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := r.openProgLocked(w); err != nil {
		return nil, err
	}
	return w, nil
}

// openProgLocked opens a fresh .prog file for w and writes the metadata
// document. The caller holds w.mu.
func (r *Recorder) openProgLocked(w *topicWriter) error {
	md := Metadata{
		Schema:      captureFileSchema,
		Topic:       w.topic,
		MessageType: fmt.Sprintf("%T", msgs.ImageStamped{}),
		WorldName:   r.worldName,
		CapturedAt:  time.Now(),
		PartID:      r.partID,
	}
	doc, err := bson.Marshal(md)
	if err != nil {
		return err
	}
	name := FilePathWithReplacedReservedChars(time.Now().UTC().Format(time.RFC3339Nano)) +
		"_" + uuid.NewString() + InProgressFileExt
	//nolint:gosec
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(doc); err != nil {
		return multierr.Combine(err, f.Close())
	}
	w.file = f
	w.size = int64(len(doc))
	return nil
}

func (r *Recorder) rotateLocked(w *topicWriter) error {
	if err := completeFileLocked(w); err != nil {
		return err
	}
	return r.openProgLocked(w)
}

// completeFileLocked fsyncs, closes, and renames w's .prog to .capture. The
// rename is the commit point a reader of completed files relies on.
func completeFileLocked(w *topicWriter) error {
	if w.file == nil {
		return nil
	}
	progPath := w.file.Name()
	if err := w.file.Sync(); err != nil {
		return multierr.Combine(err, w.file.Close())
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil
	w.size = 0
	return os.Rename(progPath, strings.TrimSuffix(progPath, InProgressFileExt)+CompletedFileExt)
}

func (r *Recorder) completeAll() error {
	var err error
	for _, st := range r.Status() {
		w := r.writers[st.Topic]
		w.mu.Lock()
		err = multierr.Combine(err, completeFileLocked(w))
		w.mu.Unlock()
	}
	return err
}

func (r *Recorder) syncAll() error {
	var err error
	for _, w := range r.writers {
		w.mu.Lock()
		if w.file != nil {
			err = multierr.Combine(err, w.file.Sync())
		}
		w.mu.Unlock()
	}
	return err
}

// topicDirName flattens a resolved topic into a single directory name.
func topicDirName(topic string) string {
	name := strings.Trim(topic, "/")
	name = strings.ReplaceAll(name, "/", "_")
	return FilePathWithReplacedReservedChars(name)
}
