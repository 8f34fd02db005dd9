package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/floradistro/whale/internal/breaker"
	"github.com/floradistro/whale/internal/tooling"
	"github.com/floradistro/whale/internal/transport"
	"github.com/floradistro/whale/pkg/models"
)

// PermissionMode gates which tool calls may execute.
type PermissionMode string

const (
	// PermissionDefault allows everything; sensitive calls go through the
	// approver callback when one is wired (the prompt itself is a UI
	// collaborator, not the engine's concern).
	PermissionDefault PermissionMode = "default"
	// PermissionPlan blocks everything outside the read-only allow-list.
	PermissionPlan PermissionMode = "plan"
	// PermissionYolo allows everything unconditionally.
	PermissionYolo PermissionMode = "yolo"
)

// Config contains configuration for a conversation engine.
type Config struct {
	// Model is the model identifier for requests.
	Model string
	// FallbackModel, if set, replaces Model on the final retry of a
	// transient failure.
	FallbackModel string
	// SystemPrompt is sent with every request.
	SystemPrompt string
	// Tools is the request tool catalogue. Its order is kept stable so
	// repeated requests can reuse server-side prefix caching.
	Tools []transport.ToolDefinition
	// MaxTokens caps output tokens per round-trip. Zero means 8192.
	MaxTokens int
	// MaxTurns bounds model round-trips per RunTurn. Zero means unbounded.
	MaxTurns int
	// MaxBudgetUSD stops the turn once estimated spend crosses it. Zero
	// means unlimited.
	MaxBudgetUSD float64
	// Permission selects the gating mode.
	Permission PermissionMode
	// Approver is consulted for sensitive calls in default mode. Nil allows.
	Approver func(call tooling.Call) bool
	// ResultCap is the character budget per tool result. Zero uses the
	// dispatcher default.
	ResultCap int
	// MaxToolConcurrency bounds one batch. Zero means 7.
	MaxToolConcurrency int
	// ContextEdits enables server-assisted context management. When set,
	// the client-side compaction fallback is disabled: the two strategies
	// are mutually exclusive per model class.
	ContextEdits []transport.ContextEdit
	// CompactThresholdTokens triggers client-side compaction. Zero means
	// 150000.
	CompactThresholdTokens int64
}

// State is the conversation state owned exclusively by one engine.
type State struct {
	Messages  []models.Message
	TokensIn  int64
	TokensOut int64
	// LastInputTokens is the input count reported by the most recent
	// round-trip. Unlike TokensIn it is not cumulative; one request's
	// input already covers the whole history, so this is the number that
	// tracks actual context size.
	LastInputTokens int64
	Model           string
	Permission      PermissionMode
	CostUSD         float64
	Turns           int
}

// TurnResult summarizes one completed RunTurn.
type TurnResult struct {
	// Output is the final assistant text.
	Output string
	// Iterations is how many model round-trips the turn took.
	Iterations int
	// TokensIn and TokensOut are the turn's token usage.
	TokensIn  int64
	TokensOut int64
	// CostUSD is the turn's estimated spend.
	CostUSD float64
}

// Engine drives one conversation. It is not safe for concurrent RunTurn
// calls; conversation state has exactly one owner.
type Engine struct {
	transport  transport.Transport
	dispatcher *tooling.Dispatcher
	breaker    *breaker.Breaker
	cfg        Config

	state   State
	phase   Phase
	onEvent func(Event)

	// summarize is swappable for tests; defaults to a one-shot model call.
	summarize func(ctx context.Context, transcript string) (string, error)
}

// New creates an engine over the given transport and dispatcher.
func New(t transport.Transport, d *tooling.Dispatcher, cfg Config) *Engine {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.MaxToolConcurrency == 0 {
		cfg.MaxToolConcurrency = tooling.DefaultMaxConcurrency
	}
	if cfg.CompactThresholdTokens == 0 {
		cfg.CompactThresholdTokens = defaultCompactThreshold
	}
	if cfg.Permission == "" {
		cfg.Permission = PermissionDefault
	}

	e := &Engine{
		transport:  t,
		dispatcher: d,
		breaker:    breaker.New(),
		cfg:        cfg,
		phase:      PhaseIdle,
		state: State{
			Model:      cfg.Model,
			Permission: cfg.Permission,
		},
	}
	e.summarize = e.summarizeViaModel
	return e
}

// SetEventHandler installs the event callback. Events are delivered on the
// goroutine running RunTurn.
func (e *Engine) SetEventHandler(fn func(Event)) {
	e.onEvent = fn
}

// State returns a copy of the conversation state.
func (e *Engine) State() State {
	s := e.state
	s.Messages = append([]models.Message(nil), e.state.Messages...)
	return s
}

// Phase returns the engine's current phase.
func (e *Engine) Phase() Phase {
	return e.phase
}

func (e *Engine) emit(ev Event) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

// RunTurn drives one user message to completion across model round-trips.
// It returns once the model stops requesting tools, a limit is hit, or ctx
// is cancelled.
func (e *Engine) RunTurn(ctx context.Context, userMessage string) (*TurnResult, error) {
	e.state.Messages = append(e.state.Messages, models.UserMessage(models.TextBlock(userMessage)))

	result := &TurnResult{}
	startIn, startOut, startCost := e.state.TokensIn, e.state.TokensOut, e.state.CostUSD

	finish := func(phase Phase, err error) (*TurnResult, error) {
		e.phase = phase
		result.TokensIn = e.state.TokensIn - startIn
		result.TokensOut = e.state.TokensOut - startOut
		result.CostUSD = e.state.CostUSD - startCost
		if err != nil {
			e.emit(Event{Type: EventTurnError, Err: err})
			return result, err
		}
		e.emit(Event{Type: EventDone})
		return result, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(PhaseCancelled, err)
		}
		if e.cfg.MaxTurns > 0 && result.Iterations >= e.cfg.MaxTurns {
			return finish(PhaseDone, nil)
		}

		e.maybeCompact(ctx)

		e.phase = PhaseStreaming
		e.breaker.ResetTurn()
		result.Iterations++
		e.state.Turns++

		resp, err := e.roundTripWithRetry(ctx, e.buildRequest())
		if err != nil {
			if IsCancelled(err) {
				return finish(PhaseCancelled, err)
			}
			return finish(PhaseFatal, err)
		}

		e.state.TokensIn += resp.usage.InputTokens
		e.state.TokensOut += resp.usage.OutputTokens
		e.state.LastInputTokens = resp.usage.InputTokens
		e.state.CostUSD += costUSD(e.state.Model, resp.usage.InputTokens, resp.usage.OutputTokens)
		e.emit(Event{Type: EventUsage, TokensIn: e.state.TokensIn, TokensOut: e.state.TokensOut})

		if e.cfg.MaxBudgetUSD > 0 && e.state.CostUSD > e.cfg.MaxBudgetUSD {
			return finish(PhaseFatal, &BudgetExceededError{SpentUSD: e.state.CostUSD, LimitUSD: e.cfg.MaxBudgetUSD})
		}

		e.state.Messages = append(e.state.Messages, models.AssistantMessage(resp.blocks...))

		uses := models.AssistantMessage(resp.blocks...).ToolUses()
		if len(uses) == 0 || resp.stop == transport.StopEndTurn {
			result.Output = textOf(resp.blocks)
			return finish(PhaseDone, nil)
		}

		e.phase = PhaseToolDispatch
		resultBlocks := e.dispatchToolUses(ctx, uses)
		e.state.Messages = append(e.state.Messages, models.UserMessage(resultBlocks...))
	}
}

// buildRequest assembles the next request. The tool catalogue and system
// prompt keep a stable byte layout across iterations so prefix caching on
// capable transports stays warm; the history grows append-only.
func (e *Engine) buildRequest() transport.Request {
	return transport.Request{
		Model:        e.state.Model,
		System:       e.cfg.SystemPrompt,
		Messages:     e.state.Messages,
		Tools:        e.cfg.Tools,
		MaxTokens:    e.cfg.MaxTokens,
		ContextEdits: e.cfg.ContextEdits,
	}
}

// modelResponse is one consumed model round-trip.
type modelResponse struct {
	blocks []models.ContentBlock
	usage  transport.Usage
	stop   transport.StopReason
}

// roundTripOnce sends one request and consumes the event stream into a
// modelResponse.
func (e *Engine) roundTripOnce(ctx context.Context, req transport.Request) (*modelResponse, error) {
	ch, err := e.transport.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.consume(ctx, ch)
}

// openBlock accumulates one streamed content block.
type openBlock struct {
	kind  models.BlockType
	id    string
	name  string
	text  strings.Builder
	input strings.Builder
}

// consume folds the typed event stream into an ordered block list. It stops
// reading when ctx is cancelled, honoring mid-stream cancellation.
func (e *Engine) consume(ctx context.Context, ch <-chan transport.Event) (*modelResponse, error) {
	resp := &modelResponse{}
	open := make(map[int]*openBlock)
	var order []int

	ensure := func(index int, kind models.BlockType) *openBlock {
		b, ok := open[index]
		if !ok {
			b = &openBlock{kind: kind}
			open[index] = b
			order = append(order, index)
		}
		return b
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				for _, i := range order {
					resp.blocks = append(resp.blocks, sealBlock(open[i]))
				}
				return resp, nil
			}

			switch ev.Type {
			case transport.EventMessageStart, transport.EventMessageDelta:
				if ev.Usage != nil {
					resp.usage = *ev.Usage
				}
				if ev.StopReason != "" {
					resp.stop = ev.StopReason
				}

			case transport.EventBlockStart:
				b := ensure(ev.Index, ev.Block.Type)
				b.kind = ev.Block.Type
				b.id = ev.Block.ID
				b.name = ev.Block.Name

			case transport.EventBlockDelta:
				switch ev.Delta {
				case transport.DeltaText:
					b := ensure(ev.Index, models.BlockText)
					b.text.WriteString(ev.Text)
					e.emit(Event{Type: EventTextDelta, Text: ev.Text})
				case transport.DeltaInputJSON:
					b := ensure(ev.Index, models.BlockToolUse)
					b.input.WriteString(ev.Text)
				case transport.DeltaCompaction:
					b := ensure(ev.Index, models.BlockCompaction)
					b.text.WriteString(ev.Text)
				}

			case transport.EventBlockStop:
				if b, ok := open[ev.Index]; ok && b.kind == models.BlockCompaction {
					// The provider compacted the context mid-stream. The
					// block is carried forward verbatim; dropping it breaks
					// the wire protocol.
					e.emit(Event{Type: EventAutoCompact, Text: b.text.String()})
				}

			case transport.EventError:
				if ev.Err != nil {
					return nil, ev.Err
				}
				return nil, fmt.Errorf("transport: stream failed without detail")
			}
		}
	}
}

func sealBlock(b *openBlock) models.ContentBlock {
	switch b.kind {
	case models.BlockToolUse:
		input := b.input.String()
		if input == "" {
			input = "{}"
		}
		return models.ToolUseBlock(b.id, b.name, json.RawMessage(input))
	case models.BlockCompaction:
		return models.CompactionBlock(b.text.String())
	default:
		return models.TextBlock(b.text.String())
	}
}

// dispatchToolUses gates and executes one iteration's tool_use blocks and
// returns tool_result blocks in the same order with matching ids.
func (e *Engine) dispatchToolUses(ctx context.Context, uses []models.ContentBlock) []models.ContentBlock {
	results := make([]tooling.Result, len(uses))
	var calls []tooling.Call
	var callIdx []int

	for i, use := range uses {
		call := tooling.Call{ID: use.ID, Name: use.Name, Input: use.Input}

		if reason, blocked := e.gate(call); blocked {
			// Circuit-broken and permission-blocked calls come back as
			// failed tool results, never thrown errors, so the model can
			// change course.
			results[i] = tooling.Result{ID: use.ID, Name: use.Name, Output: reason}
			continue
		}

		calls = append(calls, call)
		callIdx = append(callIdx, i)
		e.emit(Event{Type: EventToolStarted, Tool: &models.ToolCallRecord{
			ID: use.ID, Name: use.Name, Input: use.Input, Status: models.ToolCallRunning,
		}})
	}

	// The batch finishes even if the turn is cancelled mid-flight: a
	// half-applied side effect with no recorded result is worse than a
	// slightly late stop.
	executed := e.dispatcher.ExecuteBatch(context.WithoutCancel(ctx), calls, e.cfg.MaxToolConcurrency)
	for j, res := range executed {
		i := callIdx[j]
		results[i] = res
		e.breaker.RecordResult(res.Name, res.Success, uses[i].Input)

		status := models.ToolCallSuccess
		if !res.Success {
			status = models.ToolCallError
		}
		e.emit(Event{Type: EventToolFinished, Tool: &models.ToolCallRecord{
			ID: res.ID, Name: res.Name, Status: status,
			Output: res.Output, DurationMs: res.DurationMs,
		}})
	}

	blocks := make([]models.ContentBlock, len(uses))
	for i, use := range uses {
		res := results[i]
		output := tooling.TruncateResult(res.Output, e.cfg.ResultCap)
		blocks[i] = models.ToolResultBlock(use.ID, output, !res.Success)
	}

	// A fruitless, repetitive iteration gets a warning appended to its last
	// tool result so the model sees it without the conversation erroring.
	if bail := e.breaker.EndTurn(); bail.ShouldBail && len(blocks) > 0 {
		last := &blocks[len(blocks)-1]
		last.Content += "\n[loop warning] " + bail.Message
	}

	return blocks
}

// gate applies the circuit breaker and permission mode to one call. A true
// result means the call must not execute; the reason becomes its failed
// tool result.
func (e *Engine) gate(call tooling.Call) (reason string, blocked bool) {
	if v := e.breaker.RecordCall(call.Name, call.Input); v.Blocked {
		return fmt.Sprintf("call blocked: %s", v.Reason), true
	}

	switch e.state.Permission {
	case PermissionPlan:
		if !tooling.IsReadOnly(call.Name) {
			return fmt.Sprintf("tool %q is not allowed in plan mode; only read-only tools may run", call.Name), true
		}
	case PermissionYolo:
		// Everything goes.
	default:
		if e.cfg.Approver != nil && !tooling.IsReadOnly(call.Name) {
			if !e.cfg.Approver(call) {
				return fmt.Sprintf("tool %q was denied by the user", call.Name), true
			}
		}
	}

	return "", false
}

func textOf(blocks []models.ContentBlock) string {
	var b strings.Builder
	for _, block := range blocks {
		if block.Type == models.BlockText {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
