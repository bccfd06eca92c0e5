// Package analysis routes fired instruments to an LLM and turns its reply into
// a validated result, falling back to a fixed HOLD answer on any failure.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"market-oracle-bot/config"
	"market-oracle-bot/internal/types"
)

// ErrInvalidResponse wraps every decode or schema failure
var ErrInvalidResponse = errors.New("invalid analyzer response")

var validate = validator.New()

// reply is the wire contract. Confidence is a pointer so a missing value fails "required".
type reply struct {
	Ticker       string   `json:"ticker,omitempty"`
	Action       string   `json:"action" validate:"required,oneof=BUY SELL HOLD"`
	Emoji        string   `json:"emoji"`
	Confidence   *float64 `json:"confidence" validate:"required,gte=0,lte=1"`
	Summary      string   `json:"summary" validate:"required"`
	KeyPoints    []string `json:"key_points" validate:"required,max=5,dive,required"`
	Invalidation string   `json:"invalidation" validate:"required"`
	RiskNote     string   `json:"risk_note" validate:"required"`
}

type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client calls the analyzer. Analyze never returns an error.
type Client struct {
	api    completer
	router Router
	cfg    config.AnalyzerSettings
	sleep  func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

// WithHTTPClient sets the transport used by the OpenAI SDK
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		oc := openai.DefaultConfig(c.cfg.APIKey)
		if c.cfg.BaseURL != "" {
			oc.BaseURL = c.cfg.BaseURL
		}
		oc.HTTPClient = hc
		c.api = openai.NewClientWithConfig(oc)
	}
}

func NewClient(cfg config.AnalyzerSettings, opts ...Option) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	c := &Client{
		api:    openai.NewClientWithConfig(oc),
		router: Router{Basic: cfg.ModelBasic, HQ: cfg.ModelHQ, MajorEvent: cfg.MajorEvent},
		cfg:    cfg,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Analyze returns an analyzed result, or the deterministic fallback when every
// attempt fails, the reply violates the schema, or ctx is cancelled.
func (c *Client) Analyze(ctx context.Context, r Request) types.Result {
	model := c.router.Model(r.Tier, r.Indicators, r.Decision)
	logger := log.WithFields(log.Fields{"ticker": r.Ticker, "model": model, "reason": r.Decision.String()})

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(r)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	attempts := c.cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		content, err := c.complete(ctx, req)
		if err == nil {
			result, perr := c.parse(content)
			if perr != nil {
				logger.Warnf("rejecting analyzer reply: %v", perr)
				return Fallback(r, model)
			}
			result.Model = model
			result.TriggerReason = r.Decision.String()
			logger.WithField("action", result.Action).Info("Analysis complete")
			return result
		}

		if !retryable(err) || attempt == attempts {
			logger.Errorf("analyzer call failed after %d attempt(s): %v", attempt, err)
			return Fallback(r, model)
		}

		wait := c.backoff(attempt)
		logger.Warnf("analyzer attempt %d failed, retrying in %s: %v", attempt, wait, err)
		if err := c.sleep(ctx, wait); err != nil {
			logger.Warnf("retry abandoned: %v", err)
			return Fallback(r, model)
		}
	}
	return Fallback(r, model)
}

func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.Wrap(ErrInvalidResponse, "no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// parse decodes strictly and validates the reply against the contract
func (c *Client) parse(content string) (types.Result, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return types.Result{}, errors.Wrap(ErrInvalidResponse, "empty content")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	dec.DisallowUnknownFields()

	var rp reply
	if err := dec.Decode(&rp); err != nil {
		return types.Result{}, errors.Wrapf(ErrInvalidResponse, "decode: %v", err)
	}
	if dec.More() {
		return types.Result{}, errors.Wrap(ErrInvalidResponse, "trailing data after object")
	}
	if err := validate.Struct(rp); err != nil {
		return types.Result{}, errors.Wrapf(ErrInvalidResponse, "schema: %v", err)
	}
	if c.cfg.MaxKeyPoints > 0 && len(rp.KeyPoints) > c.cfg.MaxKeyPoints {
		return types.Result{}, errors.Wrapf(ErrInvalidResponse, "%d key points, max %d", len(rp.KeyPoints), c.cfg.MaxKeyPoints)
	}

	action := types.Action(rp.Action)
	emoji := strings.TrimSpace(rp.Emoji)
	if emoji == "" {
		emoji = defaultEmoji(action)
	}
	return types.Result{
		Kind:         types.ResultAnalyzed,
		Action:       action,
		Emoji:        emoji,
		Confidence:   *rp.Confidence,
		Summary:      rp.Summary,
		KeyPoints:    rp.KeyPoints,
		Invalidation: rp.Invalidation,
		RiskNote:     rp.RiskNote,
	}, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffMin
	for i := 1; i < attempt; i++ {
		d *= 2
		if c.cfg.BackoffMax > 0 && d >= c.cfg.BackoffMax {
			return c.cfg.BackoffMax
		}
	}
	if c.cfg.BackoffMax > 0 && d > c.cfg.BackoffMax {
		return c.cfg.BackoffMax
	}
	return d
}

// retryable treats client-side rejections other than rate limiting as permanent
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 0 || apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func defaultEmoji(a types.Action) string {
	switch a {
	case types.ActionBuy:
		return "🟢"
	case types.ActionSell:
		return "🔴"
	default:
		return "🟡"
	}
}

// Fallback is the fixed HOLD answer used whenever the analyzer cannot be trusted
func Fallback(r Request, model string) types.Result {
	ind := r.Indicators
	return types.Result{
		Kind:       types.ResultFallback,
		Action:     types.ActionHold,
		Emoji:      "⚠️",
		Confidence: 0,
		Summary: fmt.Sprintf(
			"Full analysis was not available. Technicals: price %.2f, RSI %.2f, EMA50 %.2f, EMA200 %.2f.",
			ind.CurrentPrice, ind.RSI, ind.EMAShort, ind.EMALong,
		),
		KeyPoints:     []string{"Analysis error", "Please check again later"},
		Invalidation:  "N/A",
		RiskNote:      "N/A",
		Model:         model,
		TriggerReason: r.Decision.String(),
	}
}

// Quiet is the result stamped when the gate did not fire. The previous action
// is carried forward.
func Quiet(ind types.Indicators, prev *types.Snapshot) types.Result {
	action := types.ActionHold
	if prev != nil && prev.LastAction != "" {
		action = types.ParseAction(string(prev.LastAction))
	}
	return types.Result{
		Kind:       types.ResultQuiet,
		Action:     action,
		Emoji:      defaultEmoji(action),
		Confidence: 1,
		Summary:    "No material change in technicals",
		KeyPoints: []string{
			fmt.Sprintf("RSI %.1f", ind.RSI),
			fmt.Sprintf("Price %.2f", ind.CurrentPrice),
		},
		Invalidation: "N/A",
		RiskNote:     "N/A",
	}
}
