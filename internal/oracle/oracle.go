// Package oracle asks a language model where a failure is and how to fix it.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
	"github.com/hochfrequenz/heal-orchestrator/internal/prompts"
)

// ErrFixNotFound means the oracle produced no usable change
var ErrFixNotFound = errors.New("no fix found")

// DefaultMaxLogChars is how much of the log tail is sent for classification
const DefaultMaxLogChars = 5000

// FixRequest carries one file and the failure to repair in it
type FixRequest struct {
	File     string
	Content  string
	Failure  domain.FailureRecord
	Language string
}

// Oracle classifies failures and proposes file rewrites
type Oracle interface {
	Classify(ctx context.Context, rawLogs string) (domain.FailureRecord, error)
	ProposeFix(ctx context.Context, req FixRequest) (newContent string, changed bool, err error)
}

// Completer sends one prompt and returns the model's text answer
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options tunes a PromptOracle
type Options struct {
	RequestsPerMinute int
	Timeout           time.Duration
	MaxLogChars       int
}

// PromptOracle implements Oracle on top of any Completer using the prompt
// templates.
type PromptOracle struct {
	completer   Completer
	prompts     *prompts.Loader
	limiter     *rate.Limiter
	timeout     time.Duration
	maxLogChars int
	logger      *zap.Logger
}

// New creates a PromptOracle. A nil loader uses the embedded templates.
func New(c Completer, loader *prompts.Loader, opts Options, logger *zap.Logger) *PromptOracle {
	if loader == nil {
		loader = prompts.NewLoader()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMinute))
	}
	if opts.MaxLogChars <= 0 {
		opts.MaxLogChars = DefaultMaxLogChars
	}
	return &PromptOracle{
		completer:   c,
		prompts:     loader,
		limiter:     rate.NewLimiter(limit, 1),
		timeout:     opts.Timeout,
		maxLogChars: opts.MaxLogChars,
		logger:      logger.Named("oracle"),
	}
}

type classification struct {
	File        string `json:"file"`
	Line        int    `json:"line"`
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

// Classify asks for the location and category of the first failure in the
// tail of rawLogs.
func (o *PromptOracle) Classify(ctx context.Context, rawLogs string) (domain.FailureRecord, error) {
	prompt, err := o.prompts.BuildClassifyPrompt(prompts.ClassifyData{Logs: tail(rawLogs, o.maxLogChars)})
	if err != nil {
		return domain.FailureRecord{}, err
	}
	answer, err := o.complete(ctx, prompt)
	if err != nil {
		return domain.FailureRecord{}, err
	}

	obj, err := extractJSON(answer)
	if err != nil {
		return domain.FailureRecord{}, err
	}
	var c classification
	if err := json.Unmarshal([]byte(obj), &c); err != nil {
		return domain.FailureRecord{}, fmt.Errorf("parse classification: %w", err)
	}

	rec := domain.FailureRecord{
		File:    cleanFile(c.File),
		Line:    max(c.Line, 0),
		Type:    domain.ParseBugType(c.Type),
		Message: c.Message,
	}
	if rec.Message == "" {
		rec.Message = c.Description
	}
	o.logger.Debug("classified failure", zap.String("file", rec.File), zap.Int("line", rec.Line), zap.String("type", string(rec.Type)))
	return rec, nil
}

// ProposeFix asks for a full rewrite of req.File. changed is false when the
// answer equals the current content.
func (o *PromptOracle) ProposeFix(ctx context.Context, req FixRequest) (string, bool, error) {
	prompt, err := o.prompts.BuildFixPrompt(prompts.FixData{
		Language: req.Language,
		File:     req.File,
		Line:     req.Failure.Line,
		Type:     string(req.Failure.Type),
		Message:  req.Failure.Message,
		Content:  req.Content,
	})
	if err != nil {
		return "", false, err
	}
	answer, err := o.complete(ctx, prompt)
	if err != nil {
		return "", false, err
	}

	fixed := stripFences(answer)
	if strings.TrimSpace(fixed) == "" {
		return "", false, ErrFixNotFound
	}
	if strings.HasSuffix(req.Content, "\n") && !strings.HasSuffix(fixed, "\n") {
		fixed += "\n"
	}
	if fixed == req.Content {
		return req.Content, false, nil
	}
	return fixed, true, nil
}

func (o *PromptOracle) complete(ctx context.Context, prompt string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	answer, err := o.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("oracle completion: %w", err)
	}
	return answer, nil
}

// tail returns at most n trailing bytes of s, cut at a rune boundary
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	for i := 0; i < len(s) && i < 4; i++ {
		if s[i]&0xC0 != 0x80 {
			return s[i:]
		}
	}
	return s
}

func cleanFile(f string) string {
	f = strings.TrimSpace(f)
	if f == "" {
		return domain.UnknownFile
	}
	f = path.Clean(strings.ReplaceAll(f, "\\", "/"))
	return strings.TrimPrefix(f, "./")
}

// stripFences removes a surrounding markdown code block, if any
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	nl := strings.IndexByte(trimmed, '\n')
	if nl < 0 {
		return ""
	}
	body := trimmed[nl+1:]
	if i := strings.LastIndex(body, "```"); i >= 0 {
		body = body[:i]
	}
	return body
}

// extractJSON returns the first balanced JSON object in output, skipping
// braces inside strings.
func extractJSON(output string) (string, error) {
	start, depth := -1, 0
	inString, escaped := false, false
	for i := 0; i < len(output); i++ {
		c := output[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if start != -1 {
				inString = true
			}
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			if start == -1 {
				continue
			}
			depth--
			if depth == 0 {
				return output[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("no JSON object found in output")
}
