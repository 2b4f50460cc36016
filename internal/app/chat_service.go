package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/GroundCtrlHQ/ai-chat-demo/internal/ai"
	"github.com/GroundCtrlHQ/ai-chat-demo/internal/model"
	"github.com/GroundCtrlHQ/ai-chat-demo/internal/repository"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrLLMConfig    = errors.New("llm config is invalid")
)

// RateLimitedError carries the quota state echoed back in the 429 payload.
type RateLimitedError struct {
	Limit int
	Used  int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("session rate limited: %d/%d messages used", e.Used, e.Limit)
}

// IncomingMessage mirrors the UI message shape submitted by the browser.
type IncomingMessage struct {
	Role  string        `json:"role"`
	Parts []MessagePart `json:"parts"`
}

type MessagePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextContent concatenates the text-bearing parts, trimmed.
func (m IncomingMessage) TextContent() string {
	var b strings.Builder
	for _, part := range m.Parts {
		if part.Type == "text" {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, token string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, token string, messages []model.Message) error
	DeleteHistory(ctx context.Context, token string) error
	MarkDirty(ctx context.Context, token string) error
	IsDirty(ctx context.Context, token string) (bool, error)
}

type StreamClient interface {
	StreamComplete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(string) error) (string, error)
}

type ChatService struct {
	sessionRepo   *repository.SessionRepository
	rateLimitRepo *repository.RateLimitRepository
	messageRepo   *repository.MessageRepository
	publisher     AsyncMessagePublisher
	historyCache  HistoryCache
	llmClient     StreamClient
	llmConfig     ai.ChatConfig
	messageLimit  int
	memoryWindow  int
	persona       string
}

func NewChatService(
	sessionRepo *repository.SessionRepository,
	rateLimitRepo *repository.RateLimitRepository,
	messageRepo *repository.MessageRepository,
	publisher AsyncMessagePublisher,
	historyCache HistoryCache,
	llmClient StreamClient,
	llmConfig ai.ChatConfig,
	messageLimit int,
	memoryWindow int,
	persona string,
) *ChatService {
	if messageLimit <= 0 {
		messageLimit = 15
	}
	if memoryWindow <= 0 {
		memoryWindow = 100
	}
	if strings.TrimSpace(persona) == "" {
		persona = defaultPersonaPrompt
	}
	return &ChatService{
		sessionRepo:   sessionRepo,
		rateLimitRepo: rateLimitRepo,
		messageRepo:   messageRepo,
		publisher:     publisher,
		historyCache:  historyCache,
		llmClient:     llmClient,
		llmConfig:     llmConfig,
		messageLimit:  messageLimit,
		memoryWindow:  memoryWindow,
		persona:       persona,
	}
}

// StreamChat runs one chat turn end to end: ensure the session and its quota
// record exist, admit the user message against the quota, assemble memory,
// stream the provider reply through onChunk, then enqueue the assistant reply
// for persistence. The returned string is the complete assistant text.
func (s *ChatService) StreamChat(
	ctx context.Context,
	token string,
	incoming []IncomingMessage,
	onChunk func(string) error,
) (string, error) {
	if token == "" || len(incoming) == 0 {
		return "", ErrInvalidInput
	}
	if s.llmConfig.BaseURL == "" || s.llmConfig.Model == "" {
		return "", ErrLLMConfig
	}

	if _, err := s.sessionRepo.EnsureWithRateLimit(token, s.messageLimit); err != nil {
		return "", err
	}

	// The most recent message is expected to be from the user. When it is not
	// (or carries no text), nothing is persisted and no quota is consumed, but
	// the turn still goes to the provider with the submitted history.
	last := incoming[len(incoming)-1]
	content := last.TextContent()
	if last.Role == "user" && content != "" {
		if err := s.admitUserMessage(ctx, token, content); err != nil {
			return "", err
		}
	} else if err := s.rejectIfExhausted(token); err != nil {
		return "", err
	}

	memoryBlock, err := s.assembleMemory(ctx, token)
	if err != nil {
		return "", err
	}

	prompt := composeSystemPrompt(s.persona, memoryBlock, s.messageLimit)
	full, err := s.llmClient.StreamComplete(ctx, s.llmConfig, buildPromptMessages(prompt, incoming), onChunk)
	if err != nil {
		return "", err
	}
	full = strings.TrimSpace(full)
	if full == "" {
		full = "The model returned an empty response."
	}

	// The reply already reached the user; bookkeeping failures must not undo
	// that, so enqueue errors are logged and swallowed.
	s.persistAssistantMessage(ctx, token, full)

	return full, nil
}

func (s *ChatService) admitUserMessage(ctx context.Context, token, content string) error {
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, token)
		_ = s.historyCache.DeleteHistory(ctx, token)
	}

	userMessage := &model.Message{
		SessionToken: token,
		Role:         "user",
		Content:      content,
		CreatedAt:    time.Now(),
	}
	err := s.rateLimitRepo.ConsumeSlot(token, userMessage)
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrQuotaExhausted) {
		return s.rateLimitedError(token)
	}
	return err
}

// rejectIfExhausted covers turns that consume no quota slot: a locked-out
// session still gets a 429 on every request.
func (s *ChatService) rejectIfExhausted(token string) error {
	rateLimit, err := s.rateLimitRepo.GetByToken(token)
	if err != nil {
		return err
	}
	if rateLimit != nil && rateLimit.UsedCount >= rateLimit.MessageLimit {
		return &RateLimitedError{Limit: rateLimit.MessageLimit, Used: rateLimit.UsedCount}
	}
	return nil
}

func (s *ChatService) rateLimitedError(token string) error {
	rateLimit, err := s.rateLimitRepo.GetByToken(token)
	if err != nil {
		return err
	}
	if rateLimit == nil {
		return &RateLimitedError{Limit: s.messageLimit, Used: s.messageLimit}
	}
	return &RateLimitedError{Limit: rateLimit.MessageLimit, Used: rateLimit.UsedCount}
}

func (s *ChatService) persistAssistantMessage(ctx context.Context, token, content string) {
	assistantMessage := model.Message{
		SessionToken: token,
		Role:         "assistant",
		Content:      content,
		CreatedAt:    time.Now(),
	}
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, token)
		_ = s.historyCache.DeleteHistory(ctx, token)
	}
	if s.publisher == nil {
		if err := s.messageRepo.Create(&assistantMessage); err != nil {
			log.Printf("persist assistant message failed: %v", err)
		}
		return
	}
	if err := s.publisher.Publish(ctx, assistantMessage); err != nil {
		log.Printf("enqueue assistant message failed: %v", err)
	}
}

// buildPromptMessages maps the submitted history onto provider messages behind
// the composed system prompt. Client-supplied system entries are dropped.
func buildPromptMessages(systemPrompt string, incoming []IncomingMessage) []ai.ChatMessage {
	messages := make([]ai.ChatMessage, 0, len(incoming)+1)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: systemPrompt})
	for _, item := range incoming {
		if item.Role != "user" && item.Role != "assistant" {
			continue
		}
		text := item.TextContent()
		if text == "" {
			continue
		}
		messages = append(messages, ai.ChatMessage{Role: item.Role, Content: text})
	}
	return messages
}
