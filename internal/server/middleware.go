package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware accepts the caller's X-Request-ID or mints one, and
// echoes it on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("http.request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start),
				"request_id", r.Header.Get(requestIDHeader),
				"remote", r.RemoteAddr,
			)
		})
	}
}

// decompressMiddleware transparently decodes gzip- and zstd-encoded request
// bodies; anything else with a Content-Encoding is rejected before a handler
// can misread it.
func decompressMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch enc := r.Header.Get("Content-Encoding"); enc {
		case "":

		case "gzip":
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, errBadRequest, "bad gzip request body: %v", err)
				return
			}
			defer gz.Close()
			r.Body = gz
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1

		case "zstd":
			zr, err := zstd.NewReader(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, errBadRequest, "bad zstd request body: %v", err)
				return
			}
			defer zr.Close()
			r.Body = zr.IOReadCloser()
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1

		default:
			writeError(w, http.StatusUnsupportedMediaType, errUnsupported,
				"unsupported Content-Encoding %q", enc)
			return
		}
		next.ServeHTTP(w, r)
	})
}
