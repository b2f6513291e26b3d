package agent

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/stewardops/steward/internal/config"
	"github.com/stewardops/steward/internal/types"
)

// APIInvoker calls the Anthropic API directly. It serves the observer tier
// only: API calls have no tool execution, so an actor that cannot touch the
// machine would be useless. Configurations with backend "api" still route
// actor calls through the CLI.
type APIInvoker struct {
	client *anthropic.Client
	cfg    config.TierConfig
	sem    *semaphore.Weighted
	log    *logrus.Logger
}

// NewAPIInvoker creates an API-backed observer invoker. The API key comes
// from cfg or the ANTHROPIC_API_KEY environment variable.
func NewAPIInvoker(apiKey string, cfg config.TierConfig, log *logrus.Logger) (*APIInvoker, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &APIInvoker{
		client: &client,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(2),
		log:    log,
	}, nil
}

// Invoke runs one observer call. Sessions are not supported over the raw
// API; the result carries an empty session ID and each call stands alone.
func (a *APIInvoker) Invoke(ctx context.Context, req InvokeRequest) (InvokeResult, error) {
	if req.Tier != types.TierObserver {
		return InvokeResult{}, fmt.Errorf("API backend serves the observer tier only, got %q", req.Tier)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = a.cfg.Timeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return InvokeResult{}, fmt.Errorf("waiting for API slot: %w", err)
	}
	defer a.sem.Release(1)

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return InvokeResult{}, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	a.log.WithFields(logrus.Fields{
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}).Debug("observer API call finished")

	return InvokeResult{Text: text}, nil
}
