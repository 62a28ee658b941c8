package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/prboard/internal/models"
	"github.com/joescharf/prboard/internal/schema"
)

// ToolName is the single tool the model is forced to call.
const ToolName = "record_review_report"

// DefaultModel is used when Config.Model is empty.
const DefaultModel = string(anthropic.ModelClaudeSonnet4_5_20250929)

var (
	// ErrNoToolCall is returned when the response carries no tool_use block.
	ErrNoToolCall = errors.New("model response contained no " + ToolName + " call")
	// ErrMissingAPIKey is returned when the tenant has no model credential.
	ErrMissingAPIKey = errors.New("tenant has no anthropic api key")
)

// Config controls how the extractor talks to the Messages API.
type Config struct {
	Model      string
	MaxTokens  int64
	Timeout    time.Duration
	MaxRetries int
	BaseURL    string
}

// Extractor turns free-text review comments into structured reports.
// It is safe for concurrent use; each call builds a client with the
// caller's credential.
type Extractor struct {
	cfg  Config
	opts []option.RequestOption
}

// NewExtractor creates an Extractor. Extra request options are appended to
// every client it builds.
func NewExtractor(cfg Config, opts ...option.RequestOption) *Extractor {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Extractor{cfg: cfg, opts: opts}
}

// Model returns the configured model name.
func (e *Extractor) Model() string {
	return e.cfg.Model
}

// buildPrompt constructs the system and user prompts for report extraction.
func buildPrompt(comment string) (system string, user string) {
	system = `You are a code-review intelligence system. You extract structured data from detailed PR review comments that include tests, bugs, coverage, and recommendations.

Convert the unstructured review into a structured, test-focused report by calling the ` + ToolName + ` tool exactly once.

Rules:
- Test cases are the primary entity. Each test describes what it verifies, its result (PASS or FAIL), and any related code lines or features
- Use concise, machine-readable strings. No markdown formatting, headings, or prose commentary inside fields
- metadata: PR and CI job context. job_url must be an absolute URL
- tests: every test with name, category, objective, and result
- coverage: coverage summary with pass/fail counts, broken down by test category
- critical_issues: blocking problems confirmed by failing tests
- validated_improvements: optimizations confirmed by passing tests
- recommendation: final merge advice, one of MERGE, DO_NOT_MERGE, REVIEW_NEEDED
- summary_stats: overall results, pass_rate formatted like "85%"
- When the comment does not mention a list, return an empty array for it`

	var sb strings.Builder
	sb.WriteString("Comment to review:\n\n")
	sb.WriteString(comment)
	user = sb.String()
	return
}

// tool builds the forced tool definition from the embedded schema.
func tool() (anthropic.ToolUnionParam, error) {
	properties, required, err := schema.ToolInput()
	if err != nil {
		return anthropic.ToolUnionParam{}, err
	}
	t := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
		Properties: properties,
		Required:   required,
	}, ToolName)
	t.OfTool.Description = anthropic.String("Record the structured form of a PR review comment.")
	return t, nil
}

func (e *Extractor) client(apiKey string) anthropic.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(e.cfg.MaxRetries),
		option.WithRequestTimeout(e.cfg.Timeout),
	}
	if e.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(e.cfg.BaseURL))
	}
	opts = append(opts, e.opts...)
	return anthropic.NewClient(opts...)
}

// Extract sends the comment to the model and returns the validated report
// together with the raw tool input it was decoded from.
func (e *Extractor) Extract(ctx context.Context, apiKey, comment string) (*models.ReviewReport, json.RawMessage, error) {
	if apiKey == "" {
		return nil, nil, ErrMissingAPIKey
	}

	t, err := tool()
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	systemPrompt, userPrompt := buildPrompt(comment)
	client := e.client(apiKey)

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.cfg.Model),
		MaxTokens: e.cfg.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
		Tools:      []anthropic.ToolUnionParam{t},
		ToolChoice: anthropic.ToolChoiceParamOfTool(ToolName),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("anthropic API call: %w", err)
	}

	raw, err := toolInput(msg)
	if err != nil {
		return nil, nil, err
	}

	report, err := schema.Validate(raw)
	if err != nil {
		return nil, raw, fmt.Errorf("model output: %w", err)
	}
	return report, raw, nil
}

// toolInput finds the forced tool call in a response.
func toolInput(msg *anthropic.Message) (json.RawMessage, error) {
	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == ToolName {
			if len(block.Input) == 0 {
				return nil, fmt.Errorf("%s call has empty input", ToolName)
			}
			return block.Input, nil
		}
	}
	if msg.StopReason == anthropic.StopReasonMaxTokens {
		return nil, fmt.Errorf("%w: stopped at max tokens", ErrNoToolCall)
	}
	return nil, ErrNoToolCall
}
