package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/edaniels/golog"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
)

// debounceWindow collapses the burst of fs events an editor save or atomic
// rename produces into one reload.
const debounceWindow = 500 * time.Millisecond

// A Watcher watches a config file and delivers each successfully reparsed
// config. Parse failures are logged and skipped so a half-saved file never
// tears down a running rig.
type Watcher struct {
	path      string
	logger    golog.Logger
	fsWatcher *fsnotify.Watcher
	configCh  chan *Config

	done                    chan struct{}
	closeOnce               sync.Once
	activeBackgroundWorkers sync.WaitGroup
}

// NewWatcher begins watching the config file at path.
func NewWatcher(ctx context.Context, path string, logger golog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors and atomic writers replace
	// the file, which would silently drop a watch on the file itself.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		return nil, multierr.Combine(err, fsWatcher.Close())
	}

	w := &Watcher{
		path:      filepath.Clean(path),
		logger:    logger,
		fsWatcher: fsWatcher,
		configCh:  make(chan *Config),
		done:      make(chan struct{}),
	}
	w.activeBackgroundWorkers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer w.activeBackgroundWorkers.Done()
		w.watch()
	})
	return w, nil
}

// Config returns the channel new configs arrive on.
func (w *Watcher) Config() <-chan *Config {
	return w.configCh
}

func (w *Watcher) watch() {
	debounced := debounce.New(debounceWindow)
	for {
		select {
		case <-w.done:
			return
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorw("config watch error", "error", err)
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounced(w.reload)
		}
	}
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}
	cfg, err := Read(context.Background(), w.path, w.logger)
	if err != nil {
		w.logger.Errorw("skipping config update", "path", w.path, "error", err)
		return
	}
	select {
	case w.configCh <- cfg:
	case <-w.done:
	}
}

// Close stops watching. The config channel stops delivering but stays open.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
		w.activeBackgroundWorkers.Wait()
	})
	return err
}
