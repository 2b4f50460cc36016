package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/GroundCtrlHQ/ai-chat-demo/internal/ai"
	"github.com/GroundCtrlHQ/ai-chat-demo/internal/model"
	"github.com/GroundCtrlHQ/ai-chat-demo/internal/repository"
)

const testToken = "aabbccddeeff00112233445566778899"

type fakeStreamClient struct {
	chunks   []string
	err      error
	called   bool
	messages []ai.ChatMessage
}

func (f *fakeStreamClient) StreamComplete(
	ctx context.Context,
	cfg ai.ChatConfig,
	messages []ai.ChatMessage,
	onChunk func(string) error,
) (string, error) {
	f.called = true
	f.messages = messages
	if f.err != nil {
		return "", f.err
	}
	var full strings.Builder
	for _, chunk := range f.chunks {
		full.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			return "", err
		}
	}
	return full.String(), nil
}

// syncPublisher persists immediately, standing in for the rabbitmq worker.
type syncPublisher struct {
	repo *repository.MessageRepository
}

func (p *syncPublisher) Publish(ctx context.Context, msg model.Message) error {
	return p.repo.Create(&msg)
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, msg model.Message) error {
	return errors.New("broker unavailable")
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&model.Session{}, &model.RateLimit{}, &model.Message{}); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, client StreamClient, limit int) *ChatService {
	t.Helper()
	messageRepo := repository.NewMessageRepository(db)
	return NewChatService(
		repository.NewSessionRepository(db),
		repository.NewRateLimitRepository(db),
		messageRepo,
		&syncPublisher{repo: messageRepo},
		nil,
		client,
		ai.ChatConfig{BaseURL: "https://openrouter.ai/api/v1", APIKey: "test", Model: "test-model"},
		limit,
		100,
		"",
	)
}

func userTurn(text string) []IncomingMessage {
	return []IncomingMessage{
		{Role: "user", Parts: []MessagePart{{Type: "text", Text: text}}},
	}
}

func collectChunks(sink *[]string) func(string) error {
	return func(chunk string) error {
		*sink = append(*sink, chunk)
		return nil
	}
}

func TestStreamChatHappyPath(t *testing.T) {
	db := newTestDB(t)
	client := &fakeStreamClient{chunks: []string{"Hello ", "there."}}
	svc := newTestService(t, db, client, 15)

	var chunks []string
	full, err := svc.StreamChat(context.Background(), testToken, userTurn("hi"), collectChunks(&chunks))
	if err != nil {
		t.Fatalf("stream chat failed: %v", err)
	}
	if full != "Hello there." {
		t.Fatalf("unexpected reply: %q", full)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 forwarded chunks, got %d", len(chunks))
	}

	rateLimit, err := repository.NewRateLimitRepository(db).GetByToken(testToken)
	if err != nil || rateLimit == nil {
		t.Fatalf("rate limit record missing: %v", err)
	}
	if rateLimit.UsedCount != 1 {
		t.Fatalf("expected used count 1, got %d", rateLimit.UsedCount)
	}

	messages, err := repository.NewMessageRepository(db).ListBySessionToken(testToken, 100)
	if err != nil {
		t.Fatalf("list messages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected user and assistant messages persisted, got %d", len(messages))
	}
	if messages[0].Role != "user" || messages[0].Content != "hi" {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
	if messages[1].Role != "assistant" || messages[1].Content != "Hello there." {
		t.Fatalf("unexpected second message: %+v", messages[1])
	}
}

func TestStreamChatLastSlotThenLockout(t *testing.T) {
	db := newTestDB(t)
	client := &fakeStreamClient{chunks: []string{"ok"}}
	svc := newTestService(t, db, client, 15)

	// Burn 14 of the 15 slots.
	if _, err := repository.NewSessionRepository(db).EnsureWithRateLimit(testToken, 15); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := db.Model(&model.RateLimit{}).Where("session_token = ?", testToken).
		UpdateColumn("used_count", 14).Error; err != nil {
		t.Fatalf("seed used count failed: %v", err)
	}

	if _, err := svc.StreamChat(context.Background(), testToken, userTurn("last one"), func(string) error { return nil }); err != nil {
		t.Fatalf("15th message must be admitted: %v", err)
	}

	rateLimit, _ := repository.NewRateLimitRepository(db).GetByToken(testToken)
	if rateLimit.UsedCount != 15 {
		t.Fatalf("expected used count 15, got %d", rateLimit.UsedCount)
	}

	client.called = false
	_, err := svc.StreamChat(context.Background(), testToken, userTurn("denied"), func(string) error { return nil })
	var rateLimited *RateLimitedError
	if !errors.As(err, &rateLimited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rateLimited.Limit != 15 || rateLimited.Used != 15 {
		t.Fatalf("expected limit=15 used=15, got %+v", rateLimited)
	}
	if client.called {
		t.Fatal("rejected turn must not reach the provider")
	}

	var messageCount int64
	db.Model(&model.Message{}).Where("session_token = ? AND content = ?", testToken, "denied").Count(&messageCount)
	if messageCount != 0 {
		t.Fatal("rejected turn must not persist a message")
	}
}

func TestStreamChatAssistantTailIsNoOp(t *testing.T) {
	db := newTestDB(t)
	client := &fakeStreamClient{chunks: []string{"reply"}}
	svc := newTestService(t, db, client, 15)

	incoming := []IncomingMessage{
		{Role: "user", Parts: []MessagePart{{Type: "text", Text: "earlier"}}},
		{Role: "assistant", Parts: []MessagePart{{Type: "text", Text: "previous reply"}}},
	}
	if _, err := svc.StreamChat(context.Background(), testToken, incoming, func(string) error { return nil }); err != nil {
		t.Fatalf("stream chat failed: %v", err)
	}
	if !client.called {
		t.Fatal("provider must still be invoked with the given history")
	}

	rateLimit, _ := repository.NewRateLimitRepository(db).GetByToken(testToken)
	if rateLimit.UsedCount != 0 {
		t.Fatalf("no quota may be consumed, got used=%d", rateLimit.UsedCount)
	}
	var userCount int64
	db.Model(&model.Message{}).Where("session_token = ? AND role = ?", testToken, "user").Count(&userCount)
	if userCount != 0 {
		t.Fatal("no user message may be persisted for a non-user tail")
	}
}

func TestStreamChatPromptCarriesMemoryAndLimit(t *testing.T) {
	db := newTestDB(t)
	client := &fakeStreamClient{chunks: []string{"x"}}
	svc := newTestService(t, db, client, 15)

	if _, err := svc.StreamChat(context.Background(), testToken, userTurn("first"), func(string) error { return nil }); err != nil {
		t.Fatalf("stream chat failed: %v", err)
	}

	if len(client.messages) == 0 || client.messages[0].Role != "system" {
		t.Fatalf("expected leading system message, got %+v", client.messages)
	}
	system := client.messages[0].Content
	if !strings.Contains(system, "USER: first") {
		t.Fatalf("memory block missing persisted user turn:\n%s", system)
	}
	if !strings.Contains(system, "at most 15 messages") {
		t.Fatalf("limit reminder missing:\n%s", system)
	}
	if client.messages[len(client.messages)-1].Content != "first" {
		t.Fatal("submitted history must follow the system prompt")
	}
}

func TestStreamChatEmptyHistoryPlaceholder(t *testing.T) {
	db := newTestDB(t)
	client := &fakeStreamClient{chunks: []string{"x"}}
	svc := newTestService(t, db, client, 15)

	// Assistant tail: nothing persisted before memory assembly.
	incoming := []IncomingMessage{
		{Role: "assistant", Parts: []MessagePart{{Type: "text", Text: "hello"}}},
	}
	if _, err := svc.StreamChat(context.Background(), testToken, incoming, func(string) error { return nil }); err != nil {
		t.Fatalf("stream chat failed: %v", err)
	}
	if !strings.Contains(client.messages[0].Content, emptyMemoryPlaceholder) {
		t.Fatalf("expected %q placeholder in system prompt", emptyMemoryPlaceholder)
	}
}

func TestStreamChatSwallowsAssistantPersistFailure(t *testing.T) {
	db := newTestDB(t)
	client := &fakeStreamClient{chunks: []string{"delivered"}}
	messageRepo := repository.NewMessageRepository(db)
	svc := NewChatService(
		repository.NewSessionRepository(db),
		repository.NewRateLimitRepository(db),
		messageRepo,
		failingPublisher{},
		nil,
		client,
		ai.ChatConfig{BaseURL: "https://openrouter.ai/api/v1", APIKey: "test", Model: "test-model"},
		15,
		100,
		"",
	)

	full, err := svc.StreamChat(context.Background(), testToken, userTurn("hi"), func(string) error { return nil })
	if err != nil {
		t.Fatalf("delivered reply must not fail on bookkeeping: %v", err)
	}
	if full != "delivered" {
		t.Fatalf("unexpected reply: %q", full)
	}
}

func TestStreamChatRejectsEmptyInput(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, &fakeStreamClient{}, 15)

	if _, err := svc.StreamChat(context.Background(), testToken, nil, func(string) error { return nil }); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.StreamChat(context.Background(), "", userTurn("hi"), func(string) error { return nil }); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty token, got %v", err)
	}
}

func TestTextContentConcatenatesParts(t *testing.T) {
	msg := IncomingMessage{
		Role: "user",
		Parts: []MessagePart{
			{Type: "text", Text: "  hello"},
			{Type: "tool-call", Text: "ignored"},
			{Type: "text", Text: " world  "},
		},
	}
	if got := msg.TextContent(); got != "hello world" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestUsedCountNeverDecreases(t *testing.T) {
	db := newTestDB(t)
	client := &fakeStreamClient{chunks: []string{"ok"}}
	svc := newTestService(t, db, client, 15)

	rateLimitRepo := repository.NewRateLimitRepository(db)
	prev := 0
	for i := 0; i < 4; i++ {
		if _, err := svc.StreamChat(context.Background(), testToken, userTurn("msg"), func(string) error { return nil }); err != nil {
			t.Fatalf("turn %d failed: %v", i, err)
		}
		rateLimit, err := rateLimitRepo.GetByToken(testToken)
		if err != nil {
			t.Fatalf("get rate limit failed: %v", err)
		}
		if rateLimit.UsedCount < prev {
			t.Fatalf("used count decreased: %d -> %d", prev, rateLimit.UsedCount)
		}
		prev = rateLimit.UsedCount
	}
	if prev != 4 {
		t.Fatalf("expected used count 4 after 4 turns, got %d", prev)
	}
}
