// Package telemetry records tool and turn spans as JSON lines. Recording is
// fire and forget: a span that cannot be written is dropped, never surfaced
// to the caller.
package telemetry

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Span is one recorded operation.
type Span struct {
	Name       string    `json:"name"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Class      string    `json:"class,omitempty"`
	At         time.Time `json:"at"`
}

// Recorder appends spans to a log file from a single writer goroutine.
type Recorder struct {
	spans    chan Span
	done     chan struct{}
	once     sync.Once
	disabled bool
}

// NewRecorder opens (creating if needed) the span log under the project's
// .whale directory. Errors disable recording rather than failing the run.
func NewRecorder(projectRoot string) *Recorder {
	r := &Recorder{
		spans: make(chan Span, 256),
		done:  make(chan struct{}),
	}

	dir := filepath.Join(projectRoot, ".whale")
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("[telemetry] disabled: %v", err)
		r.disabled = true
		return r
	}
	f, err := os.OpenFile(filepath.Join(dir, "telemetry.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("[telemetry] disabled: %v", err)
		r.disabled = true
		return r
	}

	go r.drain(f)
	return r
}

func (r *Recorder) drain(f *os.File) {
	defer f.Close()
	enc := json.NewEncoder(f)
	for {
		select {
		case <-r.done:
			for {
				select {
				case span := <-r.spans:
					_ = enc.Encode(span)
				default:
					return
				}
			}
		case span := <-r.spans:
			_ = enc.Encode(span)
		}
	}
}

// Record enqueues a span. When the buffer is full the span is dropped;
// telemetry never backpressures the work it observes.
func (r *Recorder) Record(name string, durMs int64, success bool, class string) {
	if r.disabled {
		return
	}
	select {
	case r.spans <- Span{Name: name, DurationMs: durMs, Success: success, Class: class, At: time.Now().UTC()}:
	default:
	}
}

// Close flushes queued spans and stops the writer.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.done) })
}
