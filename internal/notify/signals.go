// Package notify carries out-of-band control signals between whale
// processes through the .whale directory: a CLI can stop or pause a running
// turn or team without owning its process.
package notify

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Signals watches the project's signal directory for stop and pause
// sentinels.
type Signals struct {
	whaleDir string

	mu          sync.RWMutex
	stopSignal  bool
	pauseSignal bool

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewSignals creates the signal manager for the given project root. A
// failed watcher is not fatal; consumers fall back to stat polling.
func NewSignals(projectRoot string) (*Signals, error) {
	whaleDir := filepath.Join(projectRoot, ".whale")
	if err := os.MkdirAll(filepath.Join(whaleDir, "signals"), 0755); err != nil {
		return nil, err
	}

	s := &Signals{
		whaleDir: whaleDir,
		done:     make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return s, nil
	}
	if err := watcher.Add(filepath.Join(whaleDir, "signals")); err != nil {
		watcher.Close()
		return s, nil
	}
	s.watcher = watcher
	go s.watch()

	return s, nil
}

func (s *Signals) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			s.mu.Lock()
			switch filepath.Base(event.Name) {
			case "stop":
				s.stopSignal = true
			case "pause":
				s.pauseSignal = true
			}
			s.mu.Unlock()
		case <-s.watcher.Errors:
			// Keep watching; the stat fallback still works.
		}
	}
}

// checkFile stats the sentinel directly so a missed watcher event cannot
// hide a signal.
func (s *Signals) checkFile(name string, flag *bool) bool {
	if _, err := os.Stat(filepath.Join(s.whaleDir, "signals", name)); err == nil {
		s.mu.Lock()
		*flag = true
		s.mu.Unlock()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *flag
}

// ShouldStop reports whether a stop signal has been received.
func (s *Signals) ShouldStop() bool {
	return s.checkFile("stop", &s.stopSignal)
}

// ShouldPause reports whether a pause signal has been received.
func (s *Signals) ShouldPause() bool {
	return s.checkFile("pause", &s.pauseSignal)
}

// SendStop creates the stop sentinel.
func (s *Signals) SendStop() error {
	return s.send("stop")
}

// SendPause creates the pause sentinel.
func (s *Signals) SendPause() error {
	return s.send("pause")
}

func (s *Signals) send(name string) error {
	path := filepath.Join(s.whaleDir, "signals", name)
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Clear removes the sentinels and resets the in-memory state.
func (s *Signals) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopSignal = false
	s.pauseSignal = false
	os.Remove(filepath.Join(s.whaleDir, "signals", "stop"))
	os.Remove(filepath.Join(s.whaleDir, "signals", "pause"))
}

// Close stops the watcher.
func (s *Signals) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.watcher != nil {
			s.watcher.Close()
		}
	})
}
