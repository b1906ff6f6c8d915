package middleware

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// CompressConfig tunes response compression.
type CompressConfig struct {
	Quality   int
	MinLength int
}

// DefaultCompressConfig favors latency over ratio; paper payloads are
// requested at every resume.
var DefaultCompressConfig = CompressConfig{
	Quality:   4,
	MinLength: 1024,
}

// bufferedWriter holds the whole body so the encoding can be chosen once
// the size is known.
type bufferedWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	return w.buf.Write(data)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.buf.WriteString(s)
}

// Compress brotli-encodes bodies of at least cfg.MinLength bytes for clients
// that accept "br". Smaller bodies are sent as-is.
func Compress(cfg CompressConfig) gin.HandlerFunc {
	if cfg.Quality < brotli.BestSpeed || cfg.Quality > brotli.BestCompression {
		cfg.Quality = brotli.DefaultCompression
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultCompressConfig.MinLength
	}

	return func(c *gin.Context) {
		if !acceptsBrotli(c.Request) || strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			c.Next()
			return
		}

		original := c.Writer
		bw := &bufferedWriter{ResponseWriter: original}
		c.Writer = bw
		c.Next()
		c.Writer = original

		original.Header().Add("Vary", "Accept-Encoding")
		body := bw.buf.Bytes()
		if len(body) < cfg.MinLength {
			original.Header().Set("Content-Length", strconv.Itoa(len(body)))
			original.WriteHeaderNow()
			_, _ = original.Write(body)
			return
		}

		var out bytes.Buffer
		enc := brotli.NewWriterLevel(&out, cfg.Quality)
		if _, err := enc.Write(body); err != nil {
			_ = c.Error(err)
		}
		if err := enc.Close(); err != nil {
			_ = c.Error(err)
		}

		original.Header().Set("Content-Encoding", "br")
		original.Header().Set("Content-Length", strconv.Itoa(out.Len()))
		original.WriteHeaderNow()
		_, _ = original.Write(out.Bytes())
	}
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if strings.EqualFold(name, "br") {
			return true
		}
	}
	return false
}
