package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	ContextSessionTokenKey = "session_token"

	sessionCookieName   = "gc_session_id"
	sessionCookieMaxAge = 30 * 24 * 60 * 60
	sessionTokenBytes   = 16
)

// Session resolves the durable session token for the request. A browser
// without a valid gc_session_id cookie gets a fresh 128-bit hex token set as
// an HTTP-only, lax, secure cookie valid for 30 days.
func Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(sessionCookieName)
		if err != nil || !validToken(token) {
			token = newSessionToken()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(sessionCookieName, token, sessionCookieMaxAge, "/", "", true, true)
		}

		c.Set(ContextSessionTokenKey, token)
		c.Next()
	}
}

// SessionToken returns the token the Session middleware resolved for this
// request.
func SessionToken(c *gin.Context) (string, bool) {
	tokenAny, exists := c.Get(ContextSessionTokenKey)
	if !exists {
		return "", false
	}
	token, ok := tokenAny.(string)
	return token, ok && token != ""
}

func newSessionToken() string {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform entropy source is broken.
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func validToken(token string) bool {
	if len(token) != 2*sessionTokenBytes {
		return false
	}
	if _, err := hex.DecodeString(token); err != nil {
		return false
	}
	return true
}
