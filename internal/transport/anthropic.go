package transport

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/floradistro/whale/pkg/models"
)

// AnthropicConfig contains configuration for the direct Anthropic backend.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// Anthropic is the direct-provider backend. The SDK call itself is not
// streamed; the response is normalized into the same event sequence the
// proxy backend produces so the engine sees one shape.
type Anthropic struct {
	inner anthropic.Client
	cfg   AnthropicConfig
}

// NewAnthropic creates the direct Anthropic backend.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &Anthropic{inner: anthropic.NewClient(opts...), cfg: cfg}, nil
}

// bedrockModels maps standard model names to cross-region Bedrock inference
// profiles (us. prefix).
var bedrockModels = map[string]string{
	string(anthropic.ModelClaudeSonnet4_20250514):   "us.anthropic.claude-sonnet-4-20250514-v1:0",
	string(anthropic.ModelClaudeSonnet4_5_20250929): "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	string(anthropic.ModelClaudeHaiku4_5_20251001):  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	string(anthropic.ModelClaudeOpus4_1_20250805):   "us.anthropic.claude-opus-4-1-20250805-v1:0",
	string(anthropic.ModelClaude3_5Haiku20241022):   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
}

func (a *Anthropic) translateModel(model string) anthropic.Model {
	if a.cfg.UseAWSBedrock {
		if bm, ok := bedrockModels[model]; ok {
			return anthropic.Model(bm)
		}
	}
	return anthropic.Model(model)
}

// Stream sends the request and replays the response as a normalized event
// sequence: message_start, then start/delta/stop per block, then
// message_delta with the stop reason.
func (a *Anthropic) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	params := anthropic.MessageNewParams{
		Model:     a.translateModel(req.Model),
		MaxTokens: int64(req.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: convertMessages(req.Messages),
		Tools:    convertTools(req.Tools),
	}

	resp, err := a.inner.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic call failed: %w", err)
	}

	ch := make(chan Event, 32)
	go func() {
		defer close(ch)

		usage := &Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		}
		emit := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(Event{Type: EventMessageStart, Usage: usage}) {
			return
		}

		for i, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				if !emit(Event{Type: EventBlockStart, Index: i, Block: models.ContentBlock{Type: models.BlockText}}) {
					return
				}
				if !emit(Event{Type: EventBlockDelta, Index: i, Delta: DeltaText, Text: variant.Text}) {
					return
				}
				if !emit(Event{Type: EventBlockStop, Index: i}) {
					return
				}

			case anthropic.ToolUseBlock:
				start := models.ContentBlock{
					Type: models.BlockToolUse,
					ID:   variant.ID,
					Name: variant.Name,
				}
				if !emit(Event{Type: EventBlockStart, Index: i, Block: start}) {
					return
				}
				if !emit(Event{Type: EventBlockDelta, Index: i, Delta: DeltaInputJSON, Text: string(variant.Input)}) {
					return
				}
				if !emit(Event{Type: EventBlockStop, Index: i}) {
					return
				}
			}
		}

		stop := StopToolUse
		if resp.StopReason == anthropic.StopReasonEndTurn {
			stop = StopEndTurn
		} else if resp.StopReason == anthropic.StopReasonMaxTokens {
			stop = StopMaxTokens
		}
		emit(Event{Type: EventMessageDelta, StopReason: stop, Usage: usage})
	}()

	return ch, nil
}

// convertMessages maps engine messages onto SDK message params. Compaction
// blocks travel as text on this backend: the direct API has no separate
// compaction frame, and the content must survive verbatim either way.
func convertMessages(msgs []models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range m.Content {
			switch b.Type {
			case models.BlockText, models.BlockCompaction:
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case models.BlockToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, b.Input, b.Name))
			case models.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			case models.BlockImage:
				blocks = append(blocks, anthropic.NewImageBlockBase64(b.MediaType, b.Data))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// convertTools maps the tool catalogue onto SDK tool params.
func convertTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]interface{}, len(t.Properties))
		for k, v := range t.Properties {
			props[k] = v
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   t.Required,
				},
			},
		})
	}
	return out
}
