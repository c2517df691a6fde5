// Package reply turns script topics into spoken utterances using a chat
// completion model.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/yegors/co-call/pkg/logger"
)

// Generator produces one utterance per request. Implementations must return a
// non-empty string on success and a *GenerationError otherwise.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Exchange is one prior question/answer pairing passed as conversational context
type Exchange struct {
	Question string
	Answer   string
}

// Request is a single generation request
type Request struct {
	Instruction string
	Prompt      string
	History     []Exchange
}

// GenerationError reports a failed completion. StatusCode is the upstream HTTP
// status, or 0 when no response was received.
type GenerationError struct {
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Config represents the [openai] configuration section
type Config struct {
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	Temperature    float64 `toml:"temperature"`
	MaxTokens      int     `toml:"max_tokens"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// OpenAIGenerator implements Generator with the OpenAI chat completions API
type OpenAIGenerator struct {
	client  openai.Client
	config  Config
	timeout time.Duration
	logger  *logger.Logger
}

// NewOpenAIGenerator creates a generator. Retries are disabled: one request, one response.
func NewOpenAIGenerator(config Config, log *logger.Logger) *OpenAIGenerator {
	if config.APIKey == "" {
		log.Warn("OpenAI API key is empty - every reply will use the fallback utterance")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	timeout := time.Duration(config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &OpenAIGenerator{
		client:  openai.NewClient(opts...),
		config:  config,
		timeout: timeout,
		logger:  log.Named("reply-generator"),
	}
}

// Generate sends one chat completion request and returns the reply text
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if g.config.APIKey == "" {
		return "", &GenerationError{Err: errors.New("OpenAI API key is not configured")}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", &GenerationError{Err: errors.New("prompt is empty")}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.config.Model),
		Messages: buildMessages(req),
	}
	if g.config.Temperature > 0 {
		params.Temperature = openai.Float(g.config.Temperature)
	}
	if g.config.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(g.config.MaxTokens))
	}

	start := time.Now()
	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		genErr := &GenerationError{Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			genErr.StatusCode = apiErr.StatusCode
		}
		g.logger.Error("Chat completion failed",
			logger.String("model", g.config.Model),
			logger.Int("status_code", genErr.StatusCode),
			logger.Duration("duration", time.Since(start)),
			logger.Error(err))
		return "", genErr
	}

	if len(completion.Choices) == 0 {
		return "", &GenerationError{StatusCode: 200, Err: errors.New("completion has no choices")}
	}

	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return "", &GenerationError{StatusCode: 200, Err: errors.New("completion content is empty")}
	}

	g.logger.Debug("Generated reply",
		logger.String("prompt", req.Prompt),
		logger.Int("history", len(req.History)),
		logger.Duration("duration", time.Since(start)))

	return text, nil
}

func buildMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2+2*len(req.History))
	if req.Instruction != "" {
		messages = append(messages, openai.SystemMessage(req.Instruction))
	}
	for _, ex := range req.History {
		messages = append(messages,
			openai.AssistantMessage(ex.Question),
			openai.UserMessage(ex.Answer))
	}
	return append(messages, openai.UserMessage(req.Prompt))
}
