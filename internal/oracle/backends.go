package oracle

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/hochfrequenz/heal-orchestrator/internal/config"
)

// ClaudeCLI completes prompts with the claude command-line tool. The prompt
// goes through stdin so large logs never hit argument limits.
type ClaudeCLI struct {
	Binary string
	Model  string
	Dir    string
}

// Complete runs one non-interactive claude invocation
func (c ClaudeCLI) Complete(ctx context.Context, prompt string) (string, error) {
	bin := c.Binary
	if bin == "" {
		bin = "claude"
	}
	args := []string{"--print", "--output-format", "text"}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = c.Dir
	cmd.Stdin = strings.NewReader(prompt)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("claude: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// OpenAI completes prompts against an OpenAI-compatible chat endpoint
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a chat completion client. baseURL may point at any
// compatible server; empty uses the public API.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

const systemPrompt = "You are a meticulous software engineer repairing failing builds. Follow the output format exactly."

// Complete sends prompt as a single user message
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// NewCompleter builds the backend selected in cfg
func NewCompleter(cfg config.OracleConfig) (Completer, error) {
	switch cfg.Backend {
	case "openai":
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("oracle: %s is not set", cfg.APIKeyEnv)
		}
		return NewOpenAI(key, cfg.BaseURL, cfg.Model), nil
	case "claude", "":
		return ClaudeCLI{Binary: cfg.ClaudeBinary, Model: cfg.Model}, nil
	default:
		return nil, fmt.Errorf("oracle: unknown backend %q", cfg.Backend)
	}
}
