// Package tooling executes model-requested tool calls. The dispatcher owns
// invocation, timing, ordering and error classification; the side effects of
// a call belong to the registered handlers.
package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Kind classifies where a tool executes.
type Kind string

const (
	// KindLocal is a filesystem or shell tool running in-process.
	KindLocal Kind = "local"
	// KindInteractive is a tool that needs a human in the loop.
	KindInteractive Kind = "interactive"
	// KindRemote is a remote/business tool behind an API.
	KindRemote Kind = "remote"
	// KindUnknown is any unregistered tool name.
	KindUnknown Kind = "unknown"
)

// DefaultMaxConcurrency bounds how many calls of one batch run at once.
const DefaultMaxConcurrency = 7

// Call is one requested tool invocation.
type Call struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Result is the dispatcher's view of one finished invocation.
type Result struct {
	ID         string
	Name       string
	Success    bool
	Output     string
	DurationMs int64
	// Class is the error classification for failed calls, ClassNone otherwise.
	Class ErrorClass
}

// Handler executes tool calls by name. Implementations are the external
// collaborators that own side effects.
type Handler interface {
	Execute(ctx context.Context, name string, input json.RawMessage) (output string, err error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, name string, input json.RawMessage) (string, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	return f(ctx, name, input)
}

type registration struct {
	kind    Kind
	handler Handler
}

// Dispatcher routes tool calls to registered handlers and measures them.
type Dispatcher struct {
	mu    sync.RWMutex
	tools map[string]registration

	// onSpan, if set, receives a telemetry record per invocation. It must
	// never block; the dispatcher calls it fire-and-forget.
	onSpan func(name string, durMs int64, success bool, class ErrorClass)
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{tools: make(map[string]registration)}
}

// Register binds a tool name to a handler and kind. Later registrations
// replace earlier ones.
func (d *Dispatcher) Register(name string, kind Kind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools[name] = registration{kind: kind, handler: h}
}

// SetSpanHook installs a per-invocation telemetry callback.
func (d *Dispatcher) SetSpanHook(fn func(name string, durMs int64, success bool, class ErrorClass)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSpan = fn
}

// KindOf returns the registered kind for a tool name.
func (d *Dispatcher) KindOf(name string) Kind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if reg, ok := d.tools[name]; ok {
		return reg.kind
	}
	return KindUnknown
}

// Execute runs one call, timing it and classifying any failure. A missing
// handler or a handler error becomes a failed Result, never a Go error: the
// model is expected to read the output and self-correct.
func (d *Dispatcher) Execute(ctx context.Context, call Call) Result {
	d.mu.RLock()
	reg, ok := d.tools[call.Name]
	hook := d.onSpan
	d.mu.RUnlock()

	start := time.Now()
	res := Result{ID: call.ID, Name: call.Name}

	if !ok {
		res.Output = fmt.Sprintf("unknown tool: %s", call.Name)
		res.Class = ClassNotFound
		res.DurationMs = time.Since(start).Milliseconds()
		d.fireSpan(hook, res)
		return res
	}

	output, err := d.safeExecute(ctx, reg.handler, call)
	res.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		res.Output = err.Error()
		res.Class = Classify(err.Error())
	} else {
		res.Success = true
		res.Output = output
		res.Class = ClassNone
	}

	d.fireSpan(hook, res)
	return res
}

// safeExecute shields the batch from a panicking handler.
func (d *Dispatcher) safeExecute(ctx context.Context, h Handler, call Call) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", call.Name, r)
		}
	}()
	return h.Execute(ctx, call.Name, call.Input)
}

// ExecuteBatch runs the calls with at most maxConcurrency in flight and
// returns results in the order of calls, regardless of completion order.
// One call's failure never cancels its siblings.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, calls []Call, maxConcurrency int) []Result {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	results := make([]Result, len(calls))
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = d.Execute(ctx, call)
		}(i, call)
	}

	wg.Wait()
	return results
}

func (d *Dispatcher) fireSpan(hook func(string, int64, bool, ErrorClass), res Result) {
	if hook == nil {
		return
	}
	// Telemetry never propagates failures into the call path.
	defer func() { _ = recover() }()
	hook(res.Name, res.DurationMs, res.Success, res.Class)
}
