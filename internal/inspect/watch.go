package inspect

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce groups bursts of attribute writes into one notification.
const DefaultDebounce = 50 * time.Millisecond

// Watcher follows changes to a run directory on the host filesystem.
// Writes to instance attributes are reported by instance name; writes to the
// root create file are reported as creation requests.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration

	onChange  func(names []string)
	onRequest func(request string)
	onError   func(error)

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// OnChange sets the callback for attribute changes. It receives the
// affected instance names, deduplicated.
func OnChange(fn func(names []string)) WatchOption {
	return func(w *Watcher) { w.onChange = fn }
}

// OnRequest sets the callback for creation requests. The create file is
// truncated before the callback runs.
func OnRequest(fn func(request string)) WatchOption {
	return func(w *Watcher) { w.onRequest = fn }
}

// OnError sets the callback for watcher errors.
func OnError(fn func(error)) WatchOption {
	return func(w *Watcher) { w.onError = fn }
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher watches root and every instance directory already in it.
// Directories created later are picked up as they appear.
func NewWatcher(root string, opts ...WatchOption) (*Watcher, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		root:     filepath.Clean(root),
		debounce: DefaultDebounce,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fw.Add(w.root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	entries, _ := os.ReadDir(w.root)
	for _, e := range entries {
		if e.IsDir() {
			_ = fw.Add(filepath.Join(w.root, e.Name()))
		}
	}
	return w, nil
}

// Start begins delivering events on a background goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop ends delivery and releases the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	select {
	case <-w.stopCh:
		w.mu.Unlock()
		return
	default:
		close(w.stopCh)
	}
	w.mu.Unlock()
	_ = w.watcher.Close()
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	pending := make(map[string]bool)
	request := false

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			name, isRequest := w.classify(ev)
			switch {
			case isRequest:
				if ev.Op&fsnotify.Remove == 0 {
					request = true
				}
			case name != "":
				pending[name] = true
			default:
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			if request {
				request = false
				w.deliverRequest()
			}
			if len(pending) > 0 && w.onChange != nil {
				names := make([]string, 0, len(pending))
				for n := range pending {
					names = append(names, n)
				}
				w.onChange(names)
			}
			pending = make(map[string]bool)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// classify maps an event path to the instance it concerns.
func (w *Watcher) classify(ev fsnotify.Event) (name string, isRequest bool) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 1 {
		switch parts[0] {
		case FileCreate:
			return "", true
		case FileCPEC, FileCreateResult:
			return "", false
		}
		if ev.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				_ = w.watcher.Add(ev.Name)
			}
		}
		return parts[0], false
	}
	return parts[0], false
}

func (w *Watcher) deliverRequest() {
	path := filepath.Join(w.root, FileCreate)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	req := strings.TrimSpace(string(data))
	if req == "" {
		return
	}
	if err := os.Truncate(path, 0); err != nil && w.onError != nil {
		w.onError(err)
	}
	if w.onRequest != nil {
		w.onRequest(req)
	}
}
