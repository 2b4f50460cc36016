package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RateLimited is the 429 body the chat UI renders when a session has used up
// its message quota.
type RateLimited struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	BookLink string `json:"bookLink"`
	Limit    int    `json:"limit"`
	Used     int    `json:"used"`
}

func Error(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, gin.H{"error": message})
}

func TooManyRequests(c *gin.Context, message, bookLink string, limit, used int) {
	c.JSON(http.StatusTooManyRequests, RateLimited{
		Error:    "rate_limited",
		Message:  message,
		BookLink: bookLink,
		Limit:    limit,
		Used:     used,
	})
}
