// Package aigen turns study material into quiz cards using a chat
// completions API.
package aigen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"

	"github.com/conorfennell/cardcrawl/internal/domain"
	"github.com/conorfennell/cardcrawl/internal/knol"
)

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("question generation is disabled")

const (
	// MaxQuestions caps a single generation request.
	MaxQuestions = 30
	// MaxInputChars is how much source text is sent to the model.
	MaxInputChars = 12000
	// NoteType marks cards produced by the generator.
	NoteType = "AI"
)

// Config holds the AI provider configuration.
type Config struct {
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	MaxTokens   int           `koanf:"max_tokens" validate:"gte=0"`
	Temperature float32       `koanf:"temperature" validate:"gte=0,lte=2"`
	MaxRetries  int           `koanf:"max_retries" validate:"gte=0"`
	Timeout     time.Duration `koanf:"timeout"`
	RetryWait   time.Duration `koanf:"retry_wait"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		MaxTokens:   4096,
		Temperature: 0.7,
		MaxRetries:  3,
		Timeout:     60 * time.Second,
		RetryWait:   time.Second,
	}
}

// Question is one generated quiz item.
type Question struct {
	Prompt      string   `json:"question" validate:"required"`
	Type        string   `json:"type" validate:"oneof=multiple_choice true_false"`
	Options     []string `json:"options" validate:"max=6,dive,required"`
	Answer      string   `json:"correct_answer" validate:"required"`
	Explanation string   `json:"explanation"`
	Topic       string   `json:"topic"`
	Difficulty  string   `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
}

// Card converts the question into a flashcard. The front carries the prompt
// and lettered options; the back carries the answer and explanation.
func (q Question) Card() domain.Card {
	var front strings.Builder
	front.WriteString(strings.TrimSpace(q.Prompt))
	answer := strings.TrimSpace(q.Answer)
	for i, opt := range q.Options {
		label := fmt.Sprintf("%c) %s", 'A'+i, strings.TrimSpace(opt))
		if i == 0 {
			front.WriteString("\n")
		}
		front.WriteString("\n" + label)
		if strings.EqualFold(strings.TrimSpace(opt), answer) {
			answer = label
		}
	}

	back := answer
	if e := strings.TrimSpace(q.Explanation); e != "" {
		back += "\n\n" + e
	}

	tags := lo.Without([]string{slug(q.Topic), q.Difficulty}, "")
	card := domain.Card{
		Front:    front.String(),
		Back:     back,
		Tags:     lo.Uniq(tags),
		NoteType: NoteType,
	}
	card.Hash = knol.Hash(card)
	return card
}

func slug(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), "-"))
}

// Generator produces questions from text.
type Generator struct {
	client   *openai.Client
	cfg      Config
	validate *validator.Validate
	log      *slog.Logger
}

// New creates a generator. Without an API key the generator is disabled and
// Generate returns ErrDisabled.
func New(cfg Config, logger *slog.Logger) *Generator {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Generator{
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger.With("component", "aigen"),
	}
	if cfg.APIKey != "" {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		g.client = openai.NewClientWithConfig(clientConfig)
	}
	return g
}

// Enabled reports whether an API key is configured.
func (g *Generator) Enabled() bool {
	return g != nil && g.client != nil
}

const systemPrompt = `You write study questions from the material the user provides.
Reply with a JSON object {"questions": [...]} and nothing else. Each question has:
"question" (string), "type" ("multiple_choice" or "true_false"),
"options" (2 to 6 strings, required for multiple_choice, empty for true_false),
"correct_answer" (string, for multiple_choice it equals one of the options,
for true_false it is "True" or "False"), "explanation" (one or two sentences),
"topic" (a short label) and "difficulty" ("easy", "medium" or "hard").
Only ask about facts stated in the material.`

type response struct {
	Questions []Question `json:"questions"`
}

// Generate asks the model for count questions about text. Questions that do
// not validate are dropped.
func (g *Generator) Generate(ctx context.Context, text string, count int) ([]Question, error) {
	if !g.Enabled() {
		return nil, ErrDisabled
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: source text is empty", domain.ErrValidation)
	}
	count = min(max(count, 1), MaxQuestions)
	if utf8.RuneCountInString(text) > MaxInputChars {
		text = string([]rune(text)[:MaxInputChars])
	}

	req := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Write %d questions.\n\nMaterial:\n%s", count, text)},
		},
	}

	var content string
	err := g.doWithRetry(ctx, func(ctx context.Context) error {
		resp, err := g.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty chat response")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate questions: %w", err)
	}

	var out response
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("failed to decode model output: %w", err)
	}

	valid := lo.Filter(out.Questions, func(q Question, i int) bool {
		if err := g.check(q); err != nil {
			g.log.Warn("dropping invalid question", "index", i, "error", err)
			return false
		}
		return true
	})
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: model returned no usable questions", domain.ErrValidation)
	}
	if len(valid) > count {
		valid = valid[:count]
	}
	g.log.Info("questions generated", "requested", count, "received", len(out.Questions), "kept", len(valid))
	return valid, nil
}

func (g *Generator) check(q Question) error {
	if err := g.validate.Struct(q); err != nil {
		return err
	}
	if q.Type == "multiple_choice" && len(q.Options) < 2 {
		return fmt.Errorf("multiple choice question needs at least 2 options, got %d", len(q.Options))
	}
	return nil
}

// doWithRetry executes a function with exponential backoff retry. Each
// attempt gets its own timeout.
func (g *Generator) doWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == g.cfg.MaxRetries-1 {
			break
		}
		waitTime := time.Duration(math.Pow(2, float64(attempt))) * g.cfg.RetryWait
		g.log.Debug("AI request failed, retrying",
			"attempt", attempt+1,
			"wait_time", waitTime,
			"error", err)
		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
