// Package gensvc generates BDD feature content for endpoints through an
// LLM completion service.
package gensvc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	flowerrors "apiflow/internal/errors"
)

// Metadata is the endpoint description sent to the generation service.
type Metadata struct {
	Path             string   `json:"path"`
	Method           string   `json:"method"`
	Controller       string   `json:"controller"`
	ControllerMethod string   `json:"controllerMethod"`
	ServiceCalls     []string `json:"serviceCalls"`
}

// Generator produces BDD feature content for one endpoint.
type Generator interface {
	Generate(ctx context.Context, meta Metadata) (string, error)
}

// Options configures the OpenAI-backed generator.
type Options struct {
	Model       string
	Template    string
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

const systemPrompt = "You are a senior QA engineer. You write precise, " +
	"executable Gherkin BDD scenarios for HTTP API endpoints."

// defaultTemplate is used when no template file is configured or the
// configured file does not exist.
const defaultTemplate = `Generate BDD test cases in Gherkin syntax for the HTTP endpoint described
by the JSON metadata below. Cover the success path, validation failures,
and the not-found case where applicable. Output only the feature file
content, starting with the Feature: line.`

// completionClient is the slice of the OpenAI client the generator uses.
// Tests substitute a fake.
type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIGenerator calls the OpenAI chat completion API with retries.
type OpenAIGenerator struct {
	client completionClient
	opts   Options
	logger *slog.Logger
}

// New creates a generator backed by the OpenAI API.
func New(apiKey string, opts Options, logger *slog.Logger) *OpenAIGenerator {
	return newWithClient(openai.NewClient(apiKey), opts, logger)
}

func newWithClient(client completionClient, opts Options, logger *slog.Logger) *OpenAIGenerator {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.Template == "" {
		opts.Template = defaultTemplate
	}
	return &OpenAIGenerator{client: client, opts: opts, logger: logger}
}

// Generate builds the prompt for one endpoint and requests a completion,
// retrying transient failures. Exhausted retries yield a per-endpoint
// GENERATION_FAILURE; the caller continues with the remaining endpoints.
func (g *OpenAIGenerator) Generate(ctx context.Context, meta Metadata) (string, error) {
	prompt, err := g.buildPrompt(meta)
	if err != nil {
		return "", flowerrors.New(flowerrors.GenerationFailure, "encoding endpoint metadata", err)
	}

	var lastErr error
	for attempt := 1; attempt <= g.opts.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", flowerrors.New(flowerrors.GenerationFailure, "generation cancelled", ctx.Err())
			case <-time.After(g.opts.RetryDelay):
			}
		}

		content, err := g.complete(ctx, prompt)
		if err == nil {
			return content, nil
		}
		lastErr = err
		g.logger.Warn("generation attempt failed",
			"endpoint", meta.Method+" "+meta.Path,
			"attempt", attempt,
			"error", err)
	}

	return "", flowerrors.New(flowerrors.GenerationFailure,
		fmt.Sprintf("generation failed for %s %s after %d attempts", meta.Method, meta.Path, g.opts.MaxRetries),
		lastErr)
}

func (g *OpenAIGenerator) complete(ctx context.Context, prompt string) (string, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.opts.Model,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: float32(g.opts.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("completion returned empty content")
	}
	return content, nil
}

// buildPrompt appends the endpoint metadata as a fenced JSON block to the
// instruction template.
func (g *OpenAIGenerator) buildPrompt(meta Metadata) (string, error) {
	if meta.ServiceCalls == nil {
		meta.ServiceCalls = []string{}
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(g.opts.Template))
	b.WriteString("\n\n```json\n")
	b.Write(data)
	b.WriteString("\n```\n")
	return b.String(), nil
}

// LoadTemplate reads the prompt template file, falling back to the
// built-in template when the file does not exist.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return defaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultTemplate, nil
		}
		return "", err
	}
	if strings.TrimSpace(string(data)) == "" {
		return defaultTemplate, nil
	}
	return string(data), nil
}
