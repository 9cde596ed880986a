// Package monitor detects writes made to a database file by other
// processes.
//
// It watches the database file and its WAL with fsnotify. Bursts of file
// events are debounced, then a Checker decides whether the content really
// changed (rowmodel compares PRAGMA data_version, which only moves for
// commits from other connections). Confirmed changes invoke the OnChange
// callback.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Checker reports whether the database changed since its last call.
type Checker func(ctx context.Context) (bool, error)

// Options configures a Monitor.
type Options struct {
	// Debounce is the quiet period after the last file event before the
	// checker runs. Zero means 100ms.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Monitor watches one database file.
type Monitor struct {
	watcher  *fsnotify.Watcher
	path     string
	names    map[string]bool
	debounce time.Duration
	check    Checker
	onChange func(ctx context.Context)
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a monitor for the database at path. It does not start
// watching until Start.
func New(path string, opts Options, check Checker, onChange func(ctx context.Context)) (*Monitor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	base := filepath.Base(abs)
	return &Monitor{
		watcher:  watcher,
		path:     abs,
		names:    map[string]bool{base: true, base + "-wal": true, base + "-journal": true},
		debounce: opts.Debounce,
		check:    check,
		onChange: onChange,
		logger:   opts.Logger,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. The directory is watched rather than the file so
// that the WAL is seen when it is created.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor already running")
	}
	dir := filepath.Dir(m.path)
	if err := m.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	m.running = true
	m.wg.Add(1)
	go m.loop()
	m.logger.Debug("external change monitor started", "path", m.path)
	return nil
}

// Stop stops watching and waits for a running check to finish.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return m.watcher.Close()
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	err := m.watcher.Close()
	m.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Poll runs the checker once and calls OnChange if it reports a change.
func (m *Monitor) Poll(ctx context.Context) (bool, error) {
	changed, err := m.check(ctx)
	if err != nil {
		return false, err
	}
	if changed {
		m.logger.Debug("external database change detected", "path", m.path)
		m.onChange(ctx)
	}
	return changed, nil
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	timer := time.NewTimer(m.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-m.done:
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !m.relevant(event) {
				continue
			}
			timer.Reset(m.debounce)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("file watcher error", "error", err)

		case <-timer.C:
			if _, err := m.Poll(context.Background()); err != nil {
				m.logger.Warn("external change check failed", "error", err)
			}
		}
	}
}

func (m *Monitor) relevant(event fsnotify.Event) bool {
	if !m.names[filepath.Base(event.Name)] {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
