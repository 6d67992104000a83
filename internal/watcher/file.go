// Package watcher notifies the engine when its data sources change.
package watcher

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period required after the last change.
const DefaultDebounce = 3 * time.Second

// ChangeFunc is invoked once per debounced change.
type ChangeFunc func(ctx context.Context, reason string)

// Status is a snapshot of a watcher's state.
type Status struct {
	Source     string     `json:"source"`
	Target     string     `json:"target"`
	Running    bool       `json:"running"`
	Exists     bool       `json:"exists"`
	Changes    int        `json:"changes"`
	LastChange *time.Time `json:"last_change,omitempty"`
	LastCheck  *time.Time `json:"last_check,omitempty"`
}

type fileState struct {
	exists  bool
	modTime time.Time
	size    int64
}

func (s fileState) same(o fileState) bool {
	return s.exists == o.exists && s.size == o.size && s.modTime.Equal(o.modTime)
}

// FileWatcher polls a file's modification time and size.
type FileWatcher struct {
	path     string
	interval time.Duration
	debounce time.Duration
	onChange ChangeFunc

	mu     sync.Mutex
	status Status
}

// NewFileWatcher creates a polling watcher. Zero durations fall back to defaults.
func NewFileWatcher(path string, interval, debounce time.Duration, onChange ChangeFunc) *FileWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if debounce < 0 {
		debounce = DefaultDebounce
	}
	return &FileWatcher{
		path:     path,
		interval: interval,
		debounce: debounce,
		onChange: onChange,
		status:   Status{Source: "file", Target: path},
	}
}

// Status returns a copy of the current state.
func (w *FileWatcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *FileWatcher) stat() fileState {
	info, err := os.Stat(w.path)
	if err != nil {
		return fileState{}
	}
	return fileState{exists: true, modTime: info.ModTime(), size: info.Size()}
}

// Run polls until ctx is cancelled.
func (w *FileWatcher) Run(ctx context.Context) error {
	last := w.stat()
	w.mu.Lock()
	w.status.Running = true
	w.status.Exists = last.exists
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.status.Running = false
		w.mu.Unlock()
	}()

	log.Printf("[監視] 📁 %s を%v間隔で監視します", w.path, w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var pending bool
	var changedAt time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := time.Now()
		cur := w.stat()
		w.mu.Lock()
		w.status.LastCheck = &now
		w.status.Exists = cur.exists
		w.mu.Unlock()

		if !cur.same(last) {
			last = cur
			pending = true
			changedAt = now
			continue
		}
		if pending && now.Sub(changedAt) >= w.debounce {
			pending = false
			w.mu.Lock()
			changed := changedAt
			w.status.Changes++
			w.status.LastChange = &changed
			w.mu.Unlock()
			log.Printf("[監視] 🔄 %s の変更を検知しました", w.path)
			if w.onChange != nil {
				w.onChange(ctx, "file changed: "+w.path)
			}
		}
	}
}
