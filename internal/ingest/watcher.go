package ingest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounce is how long an object must stay unchanged before it is reported.
const debounce = 100 * time.Millisecond

// Watcher reports objects that appear in a bucket directory tree. fsnotify
// does not watch recursively, so new subdirectories are added as they show
// up.
type Watcher struct {
	Dir     string
	Objects <-chan string // Bucket-relative keys, slash separated

	objects  chan string
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	watcher  *fsnotify.Watcher
	log      *zap.Logger
}

// NewWatcher creates a watcher for the bucket rooted at dir.
func NewWatcher(dir string, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ch := make(chan string, 64)
	return &Watcher{
		Dir:     dir,
		Objects: ch,
		objects: ch,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		watcher: fw,
		log:     logger.Named("watcher"),
	}, nil
}

// Start watches every existing directory under Dir and begins reporting.
func (w *Watcher) Start() error {
	if err := w.addTree(w.Dir); err != nil {
		return err
	}
	go w.loop()
	return nil
}

// Stop closes the watcher and the Objects channel. Objects still pending
// or not yet received are dropped. It does not need a consumer on Objects
// and is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.watcher.Close()
		<-w.done
		close(w.objects)
	})
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(p)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	defer close(w.done)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if hidden(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// Files may land before the watch is in place.
					if err := w.addTree(event.Name); err != nil {
						w.log.Warn("watching new directory", zap.String("dir", event.Name), zap.Error(err))
					}
					w.queueTree(event.Name, pending)
					continue
				}
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				pending[event.Name] = time.Now()
			}

		case <-ticker.C:
			now := time.Now()
			for name, t := range pending {
				if now.Sub(t) < debounce {
					continue
				}
				if !w.emit(name) {
					return
				}
				delete(pending, name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

// queueTree marks every file already under dir as pending.
func (w *Watcher) queueTree(dir string, pending map[string]time.Time) {
	now := time.Now()
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && !hidden(p) {
			pending[p] = now
		}
		return nil
	})
}

// emit reports name if it is still a regular file. It returns false once
// the watcher is stopping.
func (w *Watcher) emit(name string) bool {
	info, err := os.Stat(name)
	if err != nil || !info.Mode().IsRegular() {
		return true
	}
	rel, err := filepath.Rel(w.Dir, name)
	if err != nil {
		return true
	}
	select {
	case w.objects <- filepath.ToSlash(rel):
		return true
	case <-w.stop:
		return false
	}
}

// hidden skips dotfiles, which is where partial uploads are written.
func hidden(name string) bool {
	return strings.HasPrefix(filepath.Base(name), ".")
}

// Run ingests every object the watcher reports until ctx ends or the
// watcher stops. Failures are logged and do not stop the loop.
func Run(ctx context.Context, w *Watcher, ing *Ingester) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case key, ok := <-w.Objects:
			if !ok {
				return nil
			}
			if _, err := ing.Ingest(ctx, key); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				w.log.Error("ingest failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
}
