package pipeline

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"patternpress/internal/kernel"
	"patternpress/internal/logging"
)

// WatcherStats counts watcher activity.
type WatcherStats struct {
	Events      int
	Runs        int
	Failures    int
	LastKernel  string
	LastRunTime time.Time
}

// Watcher reruns a pipeline whenever a kernel file in its directory is
// created or written. Bursts of events for one file are debounced into a
// single run.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	orch        *Orchestrator
	opts        RunOptions
	dir         string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	onResult    func(path string, res *RunResult, err error)
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	closeOnce   sync.Once
	stats       WatcherStats
}

// NewWatcher watches dir for kernel files and runs them through orch.
func NewWatcher(orch *Orchestrator, dir string, opts RunOptions) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		orch:        orch,
		opts:        opts,
		dir:         dir,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// SetDebounce changes how long a file must be quiet before it runs.
// Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounceDur = d
	w.mu.Unlock()
}

// OnResult registers a callback for every finished run. Call before Start.
func (w *Watcher) OnResult(fn func(path string, res *RunResult, err error)) {
	w.mu.Lock()
	w.onResult = fn
	w.mu.Unlock()
}

// Start begins watching. It does not block. The event loop only starts
// once the directory is being watched.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		logging.PipelineError("Watcher: create %s: %v", w.dir, err)
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		logging.PipelineError("Watcher: watch %s: %v", w.dir, err)
		return err
	}
	logging.Pipeline("Watcher: watching %s", w.dir)

	w.running = true
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for any run in progress. It is safe to
// call after a failed Start and more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}

	w.closeOnce.Do(func() {
		if err := w.watcher.Close(); err != nil {
			logging.PipelineError("Watcher: close: %v", err)
		}
		logging.Pipeline("Watcher: stopped")
	})
}

// Done is closed when the event loop exits.
func (w *Watcher) Done() <-chan struct{} { return w.doneCh }

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.PipelineError("Watcher: %v", err)
		case <-ticker.C:
			w.processDebounced(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !kernel.IsKernelFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	logging.PipelineDebug("Watcher: %s %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounced(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		if _, err := os.Stat(path); err != nil {
			logging.PipelineDebug("Watcher: %s gone, skipping", path)
			continue
		}
		w.runKernel(ctx, path)
	}
}

func (w *Watcher) runKernel(ctx context.Context, path string) {
	logging.Pipeline("Watcher: running %s", path)
	res, err := w.orch.Run(ctx, path, w.opts)

	w.mu.Lock()
	w.stats.Runs++
	if err != nil {
		w.stats.Failures++
	}
	w.stats.LastKernel = path
	w.stats.LastRunTime = time.Now()
	fn := w.onResult
	w.mu.Unlock()

	if err != nil {
		logging.PipelineError("Watcher: %s: %v", path, err)
	}
	if fn != nil {
		fn(path, res, err)
	}
}
