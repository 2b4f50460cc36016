package app

import (
	"context"
	"strings"

	"github.com/GroundCtrlHQ/ai-chat-demo/internal/model"
)

const emptyMemoryPlaceholder = "No prior messages."

// assembleMemory loads the session's persisted history (cache-aside through
// redis) and renders it into the context block injected into the system
// prompt. Store failures propagate so the turn fails before the model call.
func (s *ChatService) assembleMemory(ctx context.Context, token string) (string, error) {
	messages, err := s.loadHistory(ctx, token)
	if err != nil {
		return "", err
	}
	return renderMemoryBlock(messages), nil
}

func (s *ChatService) loadHistory(ctx context.Context, token string) ([]model.Message, error) {
	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, token)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, token); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	messages, err := s.messageRepo.ListBySessionToken(token, s.memoryWindow)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, token); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, token, messages)
		}
	}
	return messages, nil
}

// renderMemoryBlock joins the history into ROLE: content lines, oldest first.
func renderMemoryBlock(messages []model.Message) string {
	if len(messages) == 0 {
		return emptyMemoryPlaceholder
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}
		lines = append(lines, strings.ToUpper(msg.Role)+": "+msg.Content)
	}
	if len(lines) == 0 {
		return emptyMemoryPlaceholder
	}
	return strings.Join(lines, "\n")
}
