package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

func newCompressRouter(body string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/paper", Compress(DefaultCompressConfig), func(c *gin.Context) {
		c.String(http.StatusOK, body)
	})
	return r
}

func TestCompress(t *testing.T) {
	large := strings.Repeat("question text ", 200)

	tests := []struct {
		name         string
		body         string
		acceptHeader string
		wantEncoding string
	}{
		{name: "large body with br", body: large, acceptHeader: "gzip, br;q=0.9", wantEncoding: "br"},
		{name: "small body with br", body: "tiny", acceptHeader: "br", wantEncoding: ""},
		{name: "large body without br", body: large, acceptHeader: "gzip", wantEncoding: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newCompressRouter(tt.body)
			req := httptest.NewRequest(http.MethodGet, "/paper", nil)
			req.Header.Set("Accept-Encoding", tt.acceptHeader)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status %d, want 200", w.Code)
			}
			if got := w.Header().Get("Content-Encoding"); got != tt.wantEncoding {
				t.Fatalf("Content-Encoding %q, want %q", got, tt.wantEncoding)
			}

			var reader io.Reader = w.Body
			if tt.wantEncoding == "br" {
				reader = brotli.NewReader(w.Body)
			}
			got, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if string(got) != tt.body {
				t.Fatalf("body mismatch: got %d bytes, want %d", len(got), len(tt.body))
			}
		})
	}
}
