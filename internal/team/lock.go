package team

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"
)

const (
	// lockStaleAfter is how old a sentinel may get before another claimant
	// may reclaim it. Holders write and finish claims in milliseconds, so a
	// sentinel this old belongs to a crashed process.
	lockStaleAfter = 5 * time.Second
	// lockRetryInterval is the poll period while waiting on a held lock.
	lockRetryInterval = 50 * time.Millisecond
)

// Lock is an advisory cross-process lock backed by a sentinel file. The
// sentinel is created with O_EXCL so acquisition is a single atomic
// operation; it protects read-modify-write sequences on the task graph, not
// the individual SQLite statements (WAL already covers those).
type Lock struct {
	path string
	held bool
}

// NewLock returns a lock over the sentinel at path.
func NewLock(path string) *Lock {
	return &Lock{path: path}
}

// Acquire blocks until the sentinel is created or ctx ends. A sentinel older
// than the staleness window is removed and the claim retried, so a crashed
// holder cannot wedge the team forever.
func (l *Lock) Acquire(ctx context.Context) error {
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d %s", os.Getpid(), time.Now().UTC().Format(time.RFC3339Nano))
			f.Close()
			l.held = true
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock sentinel: %w", err)
		}

		if l.reclaimStale() {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// reclaimStale removes the sentinel when its holder looks dead. Returns true
// if the caller should retry immediately.
func (l *Lock) reclaimStale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		// Holder released between our open and stat; retry now.
		return os.IsNotExist(err)
	}
	if time.Since(info.ModTime()) < lockStaleAfter {
		return false
	}
	holder := "unknown"
	if b, readErr := os.ReadFile(l.path); readErr == nil {
		holder = string(b)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return false
	}
	log.Printf("[team] reclaimed stale lock %s (holder: %s)", l.path, holder)
	return true
}

// Release removes the sentinel. Releasing an unheld lock is a no-op.
func (l *Lock) Release() {
	if !l.held {
		return
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		log.Printf("[team] release lock %s: %v", l.path, err)
	}
}

// WithLock runs fn while holding the lock.
func (l *Lock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
