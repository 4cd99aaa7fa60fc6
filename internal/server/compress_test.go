package server

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
)

func compressedGet(t *testing.T, inner http.Handler, acceptEncoding string) *httptest.ResponseRecorder {
	t.Helper()
	h := compressMiddleware(inner)
	req := httptest.NewRequest(http.MethodGet, "/v1/works", nil)
	if acceptEncoding != "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCompressBrotli(t *testing.T) {
	body := `{"hits":[{"text":"a chunk of narrative text"}]}`
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})

	rec := compressedGet(t, inner, "gzip, br")

	if got := rec.Header().Get("Content-Encoding"); got != "br" {
		t.Fatalf("Content-Encoding = %q, want br (preferred over gzip)", got)
	}
	plain, err := io.ReadAll(brotli.NewReader(rec.Body))
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != body {
		t.Errorf("body = %q, want %q", plain, body)
	}
}

func TestCompressGzip(t *testing.T) {
	body := `{"ok":true}`
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})

	rec := compressedGet(t, inner, "gzip, deflate")

	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}
	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != body {
		t.Errorf("body = %q, want %q", plain, body)
	}
}

func TestCompressWithoutAcceptEncoding(t *testing.T) {
	body := "plain response"
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})

	rec := compressedGet(t, inner, "")

	if got := rec.Header().Get("Content-Encoding"); got != "" {
		t.Fatalf("Content-Encoding = %q, want empty", got)
	}
	if got := rec.Body.String(); got != body {
		t.Errorf("body = %q, want %q", got, body)
	}
}

func TestCompressSkipsPreEncoded(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		w.Write([]byte("already-compressed-bytes"))
	})

	rec := compressedGet(t, inner, "gzip, br")

	if got := rec.Header().Get("Content-Encoding"); got != "br" {
		t.Fatalf("Content-Encoding = %q, want the handler's own br", got)
	}
	if got := rec.Body.String(); got != "already-compressed-bytes" {
		t.Errorf("body = %q, want pass-through", got)
	}
}

func TestCompressSkipsNoContent(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := compressedGet(t, inner, "gzip")

	if got := rec.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q, want empty for 204", got)
	}
}

func TestCompressSurvivesFlush(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("first"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		w.Write([]byte("second"))
	})

	rec := compressedGet(t, inner, "gzip")

	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(plain), "first") || !strings.Contains(string(plain), "second") {
		t.Errorf("body = %q, want both writes", plain)
	}
}
