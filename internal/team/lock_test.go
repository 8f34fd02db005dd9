package team

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestLockMutualExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "team.lock")

	const goroutines = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := NewLock(path)
			err := l.WithLock(context.Background(), func() error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("WithLock: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("sentinel still present after release")
	}
}

func TestLockAcquireTimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "team.lock")

	holder := NewLock(path)
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer holder.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	waiter := NewLock(path)
	if err := waiter.Acquire(ctx); err == nil {
		t.Fatal("second Acquire succeeded while lock held")
	}
}

func TestLockReclaimsStaleSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "team.lock")

	// A sentinel left behind by a crashed process, older than the
	// staleness window.
	if err := os.WriteFile(path, []byte("99999"), 0644); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}
	old := time.Now().Add(-2 * lockStaleAfter)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("age sentinel: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	l := NewLock(path)
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire over stale sentinel: %v", err)
	}
	l.Release()
}

func TestLockFreshSentinelNotReclaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "team.lock")

	holder := NewLock(path)
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer holder.Release()

	l := NewLock(path)
	if l.reclaimStale() {
		t.Error("fresh sentinel was reclaimed")
	}
}
