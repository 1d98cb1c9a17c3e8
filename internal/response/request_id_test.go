package response

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	// No inbound header: a fresh UUID is issued.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if _, err := uuid.Parse(w.Header().Get("X-Request-ID")); err != nil {
		t.Fatalf("expected a generated UUID, got %q", w.Header().Get("X-Request-ID"))
	}

	// A well-formed inbound ID is echoed back.
	inbound := uuid.New().String()
	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", inbound)
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != inbound {
		t.Fatalf("expected inbound id %q echoed, got %q", inbound, got)
	}

	// Garbage is replaced, not propagated.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "<script>alert(1)</script>")
	router.ServeHTTP(w, req)
	got := w.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(got); err != nil || got == "<script>alert(1)</script>" {
		t.Fatalf("expected a replacement UUID, got %q", got)
	}
}
