package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/floradistro/whale/internal/transport"
	"github.com/floradistro/whale/pkg/models"
)

const (
	// defaultCompactThreshold is the input-token count past which the
	// client-side fallback compacts the history.
	defaultCompactThreshold = 150_000
	// compactKeepRecent is how many trailing messages survive compaction
	// untouched.
	compactKeepRecent = 2
	// compactMinMessages is the smallest history worth compacting.
	compactMinMessages = 4
	// summarizeTimeout bounds the summarization round-trip so a slow model
	// cannot stall the conversation it is trying to shrink.
	summarizeTimeout = 2 * time.Minute
)

const summaryPrompt = `Summarize the conversation below for an agent that will continue the work. Preserve: the original goal, decisions made, file paths touched, commands run, errors hit and how they were resolved, and the concrete next steps. Be specific; drop pleasantries.

`

// maybeCompact shrinks the history when it crosses the token threshold by
// replacing everything but the most recent messages with a model-written
// summary. It is best effort: any failure leaves the history untouched,
// since an over-long context is recoverable and a corrupted one is not.
// It is a no-op when server-assisted context editing is configured; the
// two strategies never run together.
func (e *Engine) maybeCompact(ctx context.Context) {
	if len(e.cfg.ContextEdits) > 0 {
		return
	}
	if e.state.LastInputTokens <= e.cfg.CompactThresholdTokens {
		return
	}
	if len(e.state.Messages) < compactMinMessages {
		return
	}

	cut := len(e.state.Messages) - compactKeepRecent
	transcript := renderTranscript(e.state.Messages[:cut])

	sctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
	defer cancel()
	summary, err := e.summarize(sctx, transcript)
	if err != nil || strings.TrimSpace(summary) == "" {
		log.Printf("[engine] compaction skipped: %v", err)
		return
	}

	compacted := make([]models.Message, 0, compactKeepRecent+2)
	compacted = append(compacted,
		models.UserMessage(models.TextBlock("Context summary of the conversation so far:\n\n"+summary)),
		models.AssistantMessage(models.TextBlock("Understood. Continuing from that summary.")),
	)
	compacted = append(compacted, e.state.Messages[cut:]...)

	log.Printf("[engine] compacted history: %d messages -> %d", len(e.state.Messages), len(compacted))
	e.state.Messages = compacted
	// The next round-trip reports the real post-compaction input size;
	// resetting here just stops back-to-back compaction attempts.
	e.state.LastInputTokens = 0

	e.emit(Event{Type: EventAutoCompact, Text: summary})
}

// summarizeViaModel asks the configured model for a transcript summary with
// no tools attached.
func (e *Engine) summarizeViaModel(ctx context.Context, transcript string) (string, error) {
	req := transport.Request{
		Model:     e.state.Model,
		MaxTokens: 4096,
		Messages: []models.Message{
			models.UserMessage(models.TextBlock(summaryPrompt + transcript)),
		},
	}

	ch, err := e.transport.Stream(ctx, req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return b.String(), nil
			}
			switch ev.Type {
			case transport.EventBlockDelta:
				if ev.Delta == transport.DeltaText {
					b.WriteString(ev.Text)
				}
			case transport.EventError:
				return "", ev.Err
			}
		}
	}
}

// renderTranscript flattens messages into plain text for the summarizer.
func renderTranscript(msgs []models.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		for _, block := range m.Content {
			switch block.Type {
			case models.BlockText, models.BlockCompaction:
				fmt.Fprintf(&b, "%s: %s\n", m.Role, block.Text)
			case models.BlockToolUse:
				fmt.Fprintf(&b, "%s: [called %s with %s]\n", m.Role, block.Name, block.Input)
			case models.BlockToolResult:
				fmt.Fprintf(&b, "%s: [result] %s\n", m.Role, block.Content)
			}
		}
	}
	return b.String()
}
