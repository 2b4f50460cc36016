package middleware

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupEngine(capture *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Session())
	r.GET("/probe", func(c *gin.Context) {
		token, _ := SessionToken(c)
		*capture = token
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestSessionIssuesCookieForFreshBrowser(t *testing.T) {
	var token string
	r := setupEngine(&token)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	cookie := findSessionCookie(t, resp.Result().Cookies())
	if len(cookie.Value) != 32 {
		t.Fatalf("expected 32-hex token, got %q", cookie.Value)
	}
	if _, err := hex.DecodeString(cookie.Value); err != nil {
		t.Fatalf("token is not hex: %v", err)
	}
	if cookie.Value != token {
		t.Fatalf("context token %q differs from cookie %q", token, cookie.Value)
	}
	if !cookie.HttpOnly || !cookie.Secure || cookie.Path != "/" {
		t.Fatalf("unexpected cookie attributes: %+v", cookie)
	}
	if cookie.MaxAge != sessionCookieMaxAge {
		t.Fatalf("expected 30-day max age, got %d", cookie.MaxAge)
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("expected SameSite=Lax, got %v", cookie.SameSite)
	}
}

func TestSessionReusesValidCookie(t *testing.T) {
	var token string
	r := setupEngine(&token)

	existing := "aabbccddeeff00112233445566778899"
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: existing})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if token != existing {
		t.Fatalf("expected existing token reused, got %q", token)
	}
	for _, c := range resp.Result().Cookies() {
		if c.Name == sessionCookieName {
			t.Fatal("no Set-Cookie expected when a valid token is replayed")
		}
	}
}

func TestSessionReplacesMalformedCookie(t *testing.T) {
	var token string
	r := setupEngine(&token)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "not-a-token"})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	cookie := findSessionCookie(t, resp.Result().Cookies())
	if cookie.Value == "not-a-token" || len(cookie.Value) != 32 {
		t.Fatalf("malformed token must be replaced, got %q", cookie.Value)
	}
}

func findSessionCookie(t *testing.T, cookies []*http.Cookie) *http.Cookie {
	t.Helper()
	for _, c := range cookies {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("gc_session_id cookie not set")
	return nil
}
