// Package llm talks to an OpenAI-compatible completion endpoint. All plan
// synthesis and instruction compilation flows through here, behind a
// circuit breaker so a degraded endpoint sheds load fast instead of
// stacking timeouts.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/sony/gobreaker"

	"github.com/kubeminder/kubeminder/pkg/config"
)

// Request is a single completion request.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	// ForceJSON asks the endpoint for a JSON object response. Endpoints
	// that reject the parameter get one retry without it.
	ForceJSON bool
}

// Response is the completion result.
type Response struct {
	Content    string
	Model      string
	TokensUsed int
}

// Client is the completion interface the pipeline depends on. Tests inject
// scripted implementations.
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}

// OpenAIClient implements Client against any OpenAI-compatible endpoint.
type OpenAIClient struct {
	api       openai.Client
	model     string
	maxTokens int
	breaker   *gobreaker.CircuitBreaker
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient builds the client from configuration.
func NewOpenAIClient(cfg *config.LLMConfig) *OpenAIClient {
	api := openai.NewClient(
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0), // retry policy lives with the callers
	)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm",
		Timeout: cfg.Breaker.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.Breaker.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("LLM circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})

	slog.Info("LLM client configured", "model", cfg.Model, "base_url", cfg.BaseURL)

	return &OpenAIClient{
		api:       api,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		breaker:   breaker,
	}
}

// Chat runs one completion through the circuit breaker.
func (c *OpenAIClient) Chat(ctx context.Context, req Request) (*Response, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.complete(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, NewTransientError(fmt.Errorf("llm circuit open: %w", err))
		}
		return nil, err
	}
	return result.(*Response), nil
}

func (c *OpenAIClient) complete(ctx context.Context, req Request) (*Response, error) {
	params := c.buildParams(req, req.ForceJSON)

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil && req.ForceJSON && isBadRequest(err) {
		// Some gateways reject response_format; ask again without it and
		// let the caller's parser deal with fenced output.
		slog.Debug("Endpoint rejected response_format, retrying without JSON mode")
		resp, err = c.api.Chat.Completions.New(ctx, c.buildParams(req, false))
	}
	if err != nil {
		return nil, classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, NewFatalError(errors.New("completion returned no choices"))
	}

	return &Response{
		Content:    resp.Choices[0].Message.Content,
		Model:      resp.Model,
		TokensUsed: int(resp.Usage.TotalTokens),
	}, nil
}

func (c *OpenAIClient) buildParams(req Request, forceJSON bool) openai.ChatCompletionNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	}

	if forceJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// isBadRequest reports whether the endpoint answered HTTP 400.
func isBadRequest(err error) bool {
	var apierr *openai.Error
	return errors.As(err, &apierr) && apierr.StatusCode == 400
}

// classifyError sorts completion failures into transient (retry later) and
// fatal (give up) buckets.
func classifyError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return classifyStatus(apierr.StatusCode, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransientError(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(err)
	}

	return NewTransientError(err)
}
