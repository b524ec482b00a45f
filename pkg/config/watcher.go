// Copyright 2026 © The Agent Factory Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// fileStamp identifies one version of a watched file.
type fileStamp struct {
	mod  time.Time
	size int64
}

// Watcher polls the config file, and the profile file next to it, and
// reloads the configuration when either changes. A reload that fails keeps
// the previous configuration.
type Watcher struct {
	base    string
	profile string
	every   time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	cur    *Config
	stamps map[string]fileStamp
	subs   []func(prev, next *Config)

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval. The default is one second.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.every = d
		}
	}
}

func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.log = logger
		}
	}
}

// WithProfile merges and watches <base>.<profile>.<ext> as well.
func WithProfile(profile string) WatcherOption {
	return func(w *Watcher) { w.profile = profile }
}

// NewWatcher loads base and returns a watcher for it. Polling starts with
// Start.
func NewWatcher(base string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		base:   base,
		every:  time.Second,
		log:    slog.Default(),
		stamps: make(map[string]fileStamp),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.changed()

	cfg, err := LoadWithProfile(w.base, w.profile)
	if err != nil {
		return nil, err
	}
	w.cur = cfg
	return w, nil
}

// WatchConfig creates a watcher for base and starts it.
func WatchConfig(ctx context.Context, base string, opts ...WatcherOption) (*Watcher, *Config, error) {
	w, err := NewWatcher(base, opts...)
	if err != nil {
		return nil, nil, err
	}
	w.Start(ctx)
	return w, w.Config(), nil
}

// OnChange registers fn to run after every successful reload, with the
// configuration that was replaced and its replacement.
func (w *Watcher) OnChange(fn func(prev, next *Config)) {
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Start polls until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop ends polling and waits for the loop to exit. Calling it again is a
// no-op; it must not be called before Start.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	tick := time.NewTicker(w.every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-tick.C:
			if files := w.changed(); len(files) > 0 {
				w.reload(ctx, files)
			}
		}
	}
}

func (w *Watcher) watched() []string {
	if w.base == "" {
		return nil
	}
	files := []string{w.base}
	if w.profile != "" {
		ext := filepath.Ext(w.base)
		files = append(files, strings.TrimSuffix(w.base, ext)+"."+w.profile+ext)
	}
	return files
}

// changed records the current stamps and returns the files whose stamp
// differs from the last poll. Missing files are skipped.
func (w *Watcher) changed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var files []string
	for _, path := range w.watched() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		stamp := fileStamp{mod: info.ModTime(), size: info.Size()}
		if prev, ok := w.stamps[path]; !ok || prev != stamp {
			w.stamps[path] = stamp
			files = append(files, path)
		}
	}
	return files
}

func (w *Watcher) reload(ctx context.Context, files []string) {
	next, err := LoadWithProfile(w.base, w.profile)
	if err != nil {
		w.log.ErrorContext(ctx, "config.reload.failed",
			slog.Any("files", files), slog.Any("error", err))
		return
	}

	w.mu.Lock()
	prev := w.cur
	w.cur = next
	subs := append([]func(prev, next *Config)(nil), w.subs...)
	w.mu.Unlock()

	w.log.InfoContext(ctx, "config.reload",
		slog.Any("files", files),
		slog.String("log_level", next.Log.Level),
		slog.String("llm_model", next.LLM.Model))
	for _, fn := range subs {
		fn(prev, next)
	}
}
