package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/klimatrix/factor-cli/internal/model"
	"github.com/klimatrix/factor-cli/internal/resilience"
)

const conversionMaxTokens = 1024

// Message is one conversational turn sent to the completion backend.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Completer is the completion backend; the SDK client in production, a stub
// in tests.
type Completer interface {
	Complete(ctx context.Context, system string, messages []Message, maxTokens int64) (string, error)
}

// Options configures the Anthropic oracle.
type Options struct {
	Model            string
	Temperature      float64
	MaxTokens        int64
	MaxRetries       int
	GroundingRetries int
	RequestsPerSec   float64
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = "claude-sonnet-4-5-20250929"
	}
	if o.Temperature == 0 {
		o.Temperature = 0.2
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.GroundingRetries <= 0 {
		o.GroundingRetries = 2
	}
	if o.RequestsPerSec <= 0 {
		o.RequestsPerSec = 2.0
	}
	return o
}

// AnthropicOracle implements Oracle against the Claude API.
type AnthropicOracle struct {
	completer Completer
	opts      Options
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
}

// New creates an oracle using the official SDK with the given API key.
func New(apiKey string, opts Options) *AnthropicOracle {
	opts = opts.withDefaults()
	return NewWithCompleter(&sdkCompleter{
		client:      sdk.NewClient(option.WithAPIKey(apiKey)),
		model:       opts.Model,
		temperature: opts.Temperature,
	}, opts)
}

// NewWithCompleter creates an oracle over a custom completion backend.
func NewWithCompleter(completer Completer, opts Options) *AnthropicOracle {
	opts = opts.withDefaults()
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "complete")
	return &AnthropicOracle{
		completer: completer,
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		retry:     retry,
	}
}

func (o *AnthropicOracle) Model() string { return o.opts.Model }

// complete issues one rate-limited completion with transient retry.
func (o *AnthropicOracle) complete(ctx context.Context, messages []Message, maxTokens int64) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "oracle: rate limit wait")
	}
	return resilience.DoVal(ctx, o.retry, func(ctx context.Context) (string, error) {
		return o.completer.Complete(ctx, systemPrompt, messages, maxTokens)
	})
}

// Decide asks the oracle to choose among the candidates. Malformed responses
// and ungrounded identifiers are retried on separate budgets.
func (o *AnthropicOracle) Decide(ctx context.Context, row RowContext, candidates []model.CandidateResult, allowDecompose bool) (*model.Decision, error) {
	candidatesJSON, err := formatCandidates(candidates)
	if err != nil {
		return nil, err
	}

	template := selectionPromptTemplate
	if !allowDecompose {
		template = componentPromptTemplate
	}
	prompt := fmt.Sprintf(template,
		row.Label, row.ProductInfo, row.ReferenceUnit, regionOrGlobal(row.Region),
		candidatesJSON)

	malformedLeft := o.opts.MaxRetries
	groundingLeft := o.opts.GroundingRetries
	var lastErr error

	for malformedLeft > 0 && groundingLeft > 0 {
		raw, err := o.complete(ctx, []Message{{Role: "user", Content: prompt}}, o.opts.MaxTokens)
		if err != nil {
			return nil, err
		}

		decision, err := decodeDecision(raw, candidates)
		if err == nil {
			if decision.Type == model.DecisionDecompose && !allowDecompose {
				err = &MalformedResponseError{Reason: "decompose returned where not allowed", Raw: raw}
			} else {
				return decision, nil
			}
		}
		lastErr = err

		var malformed *MalformedResponseError
		var grounding *GroundingError
		switch {
		case errors.As(err, &grounding):
			groundingLeft--
			zap.L().Warn("oracle returned ungrounded id",
				zap.String("id", grounding.ID),
				zap.Int("retries_left", groundingLeft))
		case errors.As(err, &malformed):
			malformedLeft--
			zap.L().Warn("oracle response malformed",
				zap.String("reason", malformed.Reason),
				zap.Int("retries_left", malformedLeft))
		default:
			return nil, err
		}
	}

	return nil, eris.Wrap(lastErr, "oracle: decide exhausted retries")
}

// RequestDecomposition asks for a decomposition outright and enforces the
// quantity-sum constraint with corrective feedback turns. Mixed-unit
// decompositions skip the sum check.
func (o *AnthropicOracle) RequestDecomposition(ctx context.Context, row RowContext, reason string) (*model.Decision, error) {
	unit := row.ReferenceUnit
	prompt := fmt.Sprintf(decompositionPromptTemplate,
		row.Label, row.ProductInfo, unit, regionOrGlobal(row.Region),
		reason, unit, unit, unit, unit, unit)

	messages := []Message{{Role: "user", Content: prompt}}
	var lastErr error

	for attempt := 0; attempt < o.opts.MaxRetries; attempt++ {
		raw, err := o.complete(ctx, messages, o.opts.MaxTokens)
		if err != nil {
			return nil, err
		}

		decision, err := decodeDecision(raw, nil)
		if err != nil {
			lastErr = err
			zap.L().Warn("decomposition response malformed",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		if decision.Type != model.DecisionDecompose {
			lastErr = &MalformedResponseError{Reason: "expected decompose decision, got " + string(decision.Type), Raw: raw}
			continue
		}

		sum, sameUnit := sameUnitSum(decision.Components)
		if sameUnit && !SumInTolerance(sum) {
			lastErr = &SumError{Sum: sum}
			zap.L().Warn("decomposition sum out of tolerance",
				zap.Float64("sum", sum),
				zap.Int("attempt", attempt+1))

			parts := make([]string, len(decision.Components))
			for i, c := range decision.Components {
				parts[i] = fmt.Sprintf("%s: %v", c.Label, c.AssumedQuantity)
			}
			messages = []Message{
				{Role: "user", Content: prompt},
				{Role: "assistant", Content: raw},
				{Role: "user", Content: fmt.Sprintf(sumCorrectionTemplate,
					sum, unit, strings.Join(parts, ", "), unit)},
			}
			continue
		}

		return decision, nil
	}

	return nil, eris.Wrapf(lastErr, "oracle: decomposition failed after %d attempts", o.opts.MaxRetries)
}

// ConvertUnit asks for a conversion factor between units.
func (o *AnthropicOracle) ConvertUnit(ctx context.Context, referenceUnit, datasetUnit, productContext string) (*model.UnitConversion, error) {
	prompt := fmt.Sprintf(conversionPromptTemplate,
		productContext, referenceUnit, datasetUnit, datasetUnit, referenceUnit)

	var lastErr error
	for attempt := 0; attempt < o.opts.MaxRetries; attempt++ {
		raw, err := o.complete(ctx, []Message{{Role: "user", Content: prompt}}, conversionMaxTokens)
		if err != nil {
			return nil, err
		}

		conversion, err := decodeConversion(raw)
		if err == nil {
			return conversion, nil
		}
		lastErr = err
		zap.L().Warn("unit conversion response malformed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return nil, eris.Wrapf(lastErr, "oracle: unit conversion failed after %d attempts", o.opts.MaxRetries)
}

// candidateView is the token-lean candidate representation sent to the
// oracle; emission values are deliberately excluded.
type candidateView struct {
	ID           string `json:"id"`
	ActivityName string `json:"activity_name"`
	Geography    string `json:"geography"`
	Product      string `json:"product"`
	Unit         string `json:"unit"`
}

func formatCandidates(candidates []model.CandidateResult) (string, error) {
	views := make([]candidateView, len(candidates))
	for i, c := range candidates {
		views[i] = candidateView{
			ID:           c.Dataset.ExternalID,
			ActivityName: c.Dataset.ActivityName,
			Geography:    c.Dataset.Geography,
			Product:      c.Dataset.ProductName,
			Unit:         c.Dataset.Unit,
		}
	}
	data, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "oracle: marshal candidates")
	}
	return string(data), nil
}

func regionOrGlobal(region string) string {
	if region == "" {
		return model.GlobalRegion
	}
	return region
}

// sdkCompleter implements Completer with the official SDK.
type sdkCompleter struct {
	client      sdk.Client
	model       string
	temperature float64
}

func (c *sdkCompleter) Complete(ctx context.Context, system string, messages []Message, maxTokens int64) (string, error) {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   maxTokens,
		Temperature: sdk.Float(c.temperature),
		System:      []sdk.TextBlockParam{{Text: system}},
		Messages:    toSDKMessages(messages),
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", eris.Wrap(err, "oracle: create message")
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", eris.New("oracle: response without text content")
}

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out[i] = sdk.NewAssistantMessage(block)
		} else {
			out[i] = sdk.NewUserMessage(block)
		}
	}
	return out
}
