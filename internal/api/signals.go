package api

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StopWatcher cancels a run when a kill file appears in the signals
// directory (.cascade/signals/kill).
type StopWatcher struct {
	signalsDir string
	cancel     context.CancelCauseFunc

	once    sync.Once
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// ErrKillSignal is the cancellation cause set by a kill file.
var ErrKillSignal = errors.New("stopped by kill signal")

// SignalsDir returns the signals directory under dir.
func SignalsDir(dir string) string {
	return filepath.Join(dir, ".cascade", "signals")
}

// WatchStopSignal returns a context that is cancelled when a kill file is
// created or written under dir's signals directory. A stale kill file is
// removed first. If the watcher cannot start, the run continues without it.
func WatchStopSignal(ctx context.Context, dir string) (context.Context, *StopWatcher, error) {
	signalsDir := SignalsDir(dir)
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return ctx, nil, err
	}
	_ = os.Remove(filepath.Join(signalsDir, "kill"))

	ctx, cancel := context.WithCancelCause(ctx)
	sw := &StopWatcher{
		signalsDir: signalsDir,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[signals] watcher unavailable: %v", err)
		return ctx, sw, nil
	}
	if err := watcher.Add(signalsDir); err != nil {
		watcher.Close()
		log.Printf("[signals] cannot watch %s: %v", signalsDir, err)
		return ctx, sw, nil
	}
	sw.watcher = watcher

	go sw.watch()
	return ctx, sw, nil
}

// watch monitors the signals directory for the kill file.
func (sw *StopWatcher) watch() {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == "kill" && (event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0) {
				log.Printf("[signals] kill signal received, stopping run")
				sw.cancel(ErrKillSignal)
			}
		case _, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// SendKill creates the kill file for the run watching dir.
func SendKill(dir string) error {
	signalsDir := SignalsDir(dir)
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(signalsDir, "kill"), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Close stops watching and releases the context.
func (sw *StopWatcher) Close() {
	if sw == nil {
		return
	}
	sw.once.Do(func() {
		close(sw.done)
		if sw.watcher != nil {
			sw.watcher.Close()
		}
		sw.cancel(context.Canceled)
	})
}
