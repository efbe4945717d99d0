package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ====== 语料目录监视 ======

// FileEvent 语料文件变更事件。
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp 文件操作类型。
type FileOp int

const (
	// FileOpCreate 文件新建
	FileOpCreate FileOp = iota
	// FileOpWrite 文件修改
	FileOpWrite
	// FileOpRemove 文件删除
	FileOpRemove
)

// String 返回操作类型的字符串表示。
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// WatcherOption 配置语料监视器。
type WatcherOption func(*CorpusWatcher)

// WithPollInterval 设置轮询间隔。
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *CorpusWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDebounceDelay 设置事件防抖窗口。
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *CorpusWatcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithExtensions 限定被监视的文件扩展名（如 ".md"、".csv"）。
// 不设置时监视全部文件。
func WithExtensions(exts []string) WatcherOption {
	return func(w *CorpusWatcher) {
		w.extensions = make(map[string]bool, len(exts))
		for _, ext := range exts {
			w.extensions[strings.ToLower(ext)] = true
		}
	}
}

// WithWatcherLogger 设置日志器。
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *CorpusWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// CorpusWatcher 轮询监视语料目录。变更在防抖窗口内聚合，
// 每个安静期触发一次批量回调（按路径升序），回调通常执行增量摄取。
type CorpusWatcher struct {
	mu sync.RWMutex

	dir           string
	extensions    map[string]bool
	pollInterval  time.Duration
	debounceDelay time.Duration

	running   bool
	stopChan  chan struct{}
	eventChan chan FileEvent

	callbacks []func(events []FileEvent)

	logger *zap.Logger

	lastModTimes map[string]time.Time
}

// NewCorpusWatcher 创建语料目录监视器。目录必须存在。
func NewCorpusWatcher(dir string, opts ...WatcherOption) (*CorpusWatcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat corpus dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus path %s is not a directory", dir)
	}

	w := &CorpusWatcher{
		dir:           dir,
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		stopChan:      make(chan struct{}),
		eventChan:     make(chan FileEvent, 100),
		lastModTimes:  make(map[string]time.Time),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "corpus_watcher"))
	return w, nil
}

// OnChange 注册批量变更回调。
func (w *CorpusWatcher) OnChange(callback func(events []FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 启动监视。已有文件只记录基线，不触发事件；
// 调用方应在启动前完成一次全量摄取。
func (w *CorpusWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	for path, mod := range w.scan() {
		w.lastModTimes[path] = mod
	}
	w.mu.Unlock()

	go w.pollLoop(ctx)
	go w.dispatchLoop(ctx)

	w.logger.Info("corpus watcher started",
		zap.String("dir", w.dir),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop 停止监视。
func (w *CorpusWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	close(w.stopChan)
	w.running = false
	w.logger.Info("corpus watcher stopped")
	return nil
}

// IsRunning 返回监视器是否在运行。
func (w *CorpusWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Dir 返回被监视的目录。
func (w *CorpusWatcher) Dir() string { return w.dir }

// pollLoop 周期轮询目录快照。
func (w *CorpusWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkFiles()
		}
	}
}

// scan 遍历目录返回当前文件的修改时间快照。不可读项跳过。
func (w *CorpusWatcher) scan() map[string]time.Time {
	seen := make(map[string]time.Time)
	filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !w.matches(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		seen[path] = info.ModTime()
		return nil
	})
	return seen
}

func (w *CorpusWatcher) matches(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	return w.extensions[strings.ToLower(filepath.Ext(path))]
}

// checkFiles 对比快照与基线，派生创建/修改/删除事件。
func (w *CorpusWatcher) checkFiles() {
	seen := w.scan()
	now := time.Now()

	var events []FileEvent
	w.mu.Lock()
	for path, mod := range seen {
		last, existed := w.lastModTimes[path]
		switch {
		case !existed:
			w.lastModTimes[path] = mod
			events = append(events, FileEvent{Path: path, Op: FileOpCreate, Timestamp: now})
		case mod.After(last):
			w.lastModTimes[path] = mod
			events = append(events, FileEvent{Path: path, Op: FileOpWrite, Timestamp: now})
		}
	}
	for path := range w.lastModTimes {
		if _, ok := seen[path]; !ok {
			delete(w.lastModTimes, path)
			events = append(events, FileEvent{Path: path, Op: FileOpRemove, Timestamp: now})
		}
	}
	w.mu.Unlock()

	for _, e := range events {
		select {
		case w.eventChan <- e:
		case <-w.stopChan:
			return
		}
	}
}

// dispatchLoop 防抖聚合事件并触发批量回调。
// 单 goroutine 串行调度，回调内可安全执行摄取。
func (w *CorpusWatcher) dispatchLoop(ctx context.Context) {
	pending := make(map[string]FileEvent)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event := <-w.eventChan:
			pending[event.Path] = event
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounceDelay)
			fire = timer.C
		case <-fire:
			fire = nil
			if len(pending) == 0 {
				continue
			}
			events := make([]FileEvent, 0, len(pending))
			for _, e := range pending {
				events = append(events, e)
			}
			sort.Slice(events, func(i, j int) bool {
				return events[i].Path < events[j].Path
			})
			pending = make(map[string]FileEvent)

			w.mu.RLock()
			callbacks := make([]func([]FileEvent), len(w.callbacks))
			copy(callbacks, w.callbacks)
			w.mu.RUnlock()

			w.logger.Debug("dispatching corpus changes", zap.Int("events", len(events)))
			for _, cb := range callbacks {
				cb(events)
			}
		}
	}
}
