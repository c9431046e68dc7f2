package decision

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"demoagent-server/internal/conversation"
)

// AnthropicConfig configures AnthropicService.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	// BaseURL overrides the API endpoint; empty uses the SDK default.
	BaseURL string
}

// AnthropicService implements Service with the Anthropic Messages API.
type AnthropicService struct {
	client anthropic.Client
	cfg    AnthropicConfig
	logger *zap.Logger
}

func NewAnthropicService(cfg AnthropicConfig, logger *zap.Logger) *AnthropicService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicService{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}
}

// Decide sends the history, prompt and screenshot and validates the reply.
func (s *AnthropicService) Decide(ctx context.Context, req Request) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	params := s.buildParams(req)
	start := time.Now()
	msg, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrDecisionService, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	s.logger.Debug("decision received",
		zap.String("model", s.cfg.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens))

	d, err := ParseDecision([]byte(text.String()))
	if err != nil {
		s.logger.Warn("rejected decision reply", zap.String("reply", text.String()), zap.Error(err))
		return Decision{}, err
	}
	return d, nil
}

func (s *AnthropicService) buildParams(req Request) anthropic.MessageNewParams {
	history := alternate(conversation.FilterHistory(req.History))
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, turn := range history {
		switch turn.Role {
		case conversation.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)))
		case conversation.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Text)))
		}
	}

	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(BuildPrompt(req))}
	if len(req.Screenshot) > 0 {
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/jpeg", base64.StdEncoding.EncodeToString(req.Screenshot)))
	}
	if n := len(messages); n > 0 && history[n-1].Role == conversation.RoleUser {
		// Fold into the trailing user turn so roles keep alternating.
		blocks = append([]anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(history[n-1].Text)}, blocks...)
		messages = messages[:n-1]
	}
	messages = append(messages, anthropic.NewUserMessage(blocks...))

	return anthropic.MessageNewParams{
		Model:     anthropic.Model(s.cfg.Model),
		Messages:  messages,
		MaxTokens: int64(s.cfg.MaxTokens),
	}
}

// openingTurn precedes a history that starts with the assistant's greeting.
const openingTurn = "Start the demo."

// alternate merges consecutive same-role turns and makes the history open
// with a user turn, as the Messages API requires.
func alternate(turns []conversation.Turn) []conversation.Turn {
	out := make([]conversation.Turn, 0, len(turns)+1)
	for _, t := range turns {
		if len(out) == 0 && t.Role != conversation.RoleUser {
			out = append(out, conversation.Turn{Role: conversation.RoleUser, Text: openingTurn})
		}
		if n := len(out); n > 0 && out[n-1].Role == t.Role {
			out[n-1].Text += "\n\n" + t.Text
			continue
		}
		out = append(out, t)
	}
	return out
}
