// Package llm generates cited prose from retrieved evidence through an
// OpenAI-compatible completion API.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"citetrail/internal/faults"
)

// Client produces an answer grounded in the supplied evidence snippets.
type Client interface {
	Generate(ctx context.Context, prompt string, evidence []string) (string, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	RPS     float64
}

type OpenAIClient struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

func NewOpenAI(cfg Config) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 2),
	}
}

const systemPrompt = `You are a research writing assistant. Answer using ONLY the provided ` +
	`evidence snippets. Cite snippets as [C1], [C2], etc. immediately after the ` +
	`sentence each supports. If the snippets do not contain enough information, ` +
	`state explicitly what is missing. Do not use outside knowledge.`

func (c *OpenAIClient) Generate(ctx context.Context, prompt string, evidence []string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit: %w", err)
	}

	var user strings.Builder
	user.WriteString(prompt)
	if len(evidence) > 0 {
		user.WriteString("\n\nEvidence snippets (cite as [C#]):\n")
		for i, ev := range evidence {
			fmt.Fprintf(&user, "\n[C%d] %s\n", i+1, ev)
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user.String()},
		},
	})
	if err != nil {
		return "", faults.New(faults.KindUpstream, fmt.Errorf("llm completion after %s: %w", time.Since(start).Round(time.Millisecond), err))
	}
	if len(resp.Choices) == 0 {
		return "", faults.Newf(faults.KindUpstream, "llm returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Static is a canned-response client for tests and offline development.
type Static struct {
	Answer string
	Err    error
}

func (s *Static) Generate(context.Context, string, []string) (string, error) {
	return s.Answer, s.Err
}
