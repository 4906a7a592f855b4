package config

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jpillora/backoff"

	logx "cronjobs/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	rewatchMin     = 250 * time.Millisecond
	rewatchMax     = 5 * time.Second
)

// relevantOps are the operations that may change the file's content.
const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the config whenever the file changes until ctx is done.
// The parent directory is watched so rename-over-save editors are seen.
// A watcher that breaks is recreated with backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}

	d := &debouncer{wait: reloadDebounce, fn: func() {
		if ctx.Err() == nil {
			m.reload(ctx)
		}
	}}
	defer d.stop()

	bo := &backoff.Backoff{Min: rewatchMin, Max: rewatchMax, Factor: 2, Jitter: true}
	for ctx.Err() == nil {
		err := m.watchDir(ctx, d, bo.Reset)
		if ctx.Err() != nil {
			break
		}
		wait := bo.Duration()
		m.log.Warn("config watcher stopped; restarting", logx.Err(err), logx.String("path", m.path), logx.Duration("backoff", wait))
		if !sleepCtx(ctx, wait) {
			break
		}
	}
	return nil
}

// watchDir runs one fsnotify watcher until it breaks or ctx is done.
// started is called once the watch is established.
func (m *ConfigManager) watchDir(ctx context.Context, d *debouncer, started func()) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	started()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("events channel closed")
			}
			if ev.Op&relevantOps != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				d.trigger()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errors.New("errors channel closed")
			case err == nil:
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// Events may have been lost.
				m.log.Warn("config watch overflow; forcing reload", logx.String("dir", dir))
				d.trigger()
			case errors.Is(err, fsnotify.ErrClosed):
				return err
			default:
				m.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
			}
		}
	}
}

// debouncer runs fn once events have been quiet for wait.
type debouncer struct {
	wait time.Duration
	fn   func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
