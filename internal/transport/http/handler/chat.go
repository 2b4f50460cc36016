package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/GroundCtrlHQ/ai-chat-demo/internal/app"
	"github.com/GroundCtrlHQ/ai-chat-demo/internal/transport/http/middleware"
	"github.com/GroundCtrlHQ/ai-chat-demo/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
	bookLink    string
}

type ChatRequest struct {
	Messages []app.IncomingMessage `json:"messages" binding:"required,min=1"`
}

func NewChatHandler(chatService *app.ChatService, bookLink string) *ChatHandler {
	return &ChatHandler{chatService: chatService, bookLink: bookLink}
}

// Chat handles POST /api/chat. The reply is streamed as a UI message stream:
// one JSON frame per data: line, text deltas keyed to a generated message id,
// terminated by [DONE].
func (h *ChatHandler) Chat(c *gin.Context) {
	token, ok := middleware.SessionToken(c)
	if !ok {
		response.Error(c, http.StatusInternalServerError, "session not resolved")
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, "stream not supported")
		return
	}

	messageID := uuid.NewString()
	started := false
	start := func() {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Header("x-vercel-ai-ui-message-stream", "v1")
		h.writeFrame(c, flusher, gin.H{"type": "start"})
		h.writeFrame(c, flusher, gin.H{"type": "text-start", "id": messageID})
		started = true
	}

	full, err := h.chatService.StreamChat(c.Request.Context(), token, req.Messages, func(chunk string) error {
		if !started {
			start()
		}
		return h.writeFrame(c, flusher, gin.H{"type": "text-delta", "id": messageID, "delta": chunk})
	})
	if err != nil {
		if started {
			// Headers are gone, the stream's own error channel is all we have.
			_ = h.writeFrame(c, flusher, gin.H{"type": "error", "errorText": err.Error()})
			return
		}

		var rateLimited *app.RateLimitedError
		switch {
		case errors.As(err, &rateLimited):
			response.TooManyRequests(
				c,
				fmt.Sprintf("You've used all %d messages for this session. To keep exploring these ideas, the book goes much deeper.", rateLimited.Limit),
				h.bookLink,
				rateLimited.Limit,
				rateLimited.Used,
			)
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, "invalid request payload")
		case errors.Is(err, app.ErrLLMConfig):
			response.Error(c, http.StatusInternalServerError, "model provider is not configured")
		default:
			log.Printf("chat turn failed: %v", err)
			response.Error(c, http.StatusInternalServerError, "chat request failed")
		}
		return
	}

	if !started {
		// Zero streamed deltas, deliver the reply as a single frame.
		start()
		_ = h.writeFrame(c, flusher, gin.H{"type": "text-delta", "id": messageID, "delta": full})
	}
	_ = h.writeFrame(c, flusher, gin.H{"type": "text-end", "id": messageID})
	_ = h.writeFrame(c, flusher, gin.H{"type": "finish"})
	if _, err := c.Writer.Write([]byte("data: [DONE]\n\n")); err == nil {
		flusher.Flush()
	}
}

func (h *ChatHandler) writeFrame(c *gin.Context, flusher http.Flusher, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := c.Writer.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
