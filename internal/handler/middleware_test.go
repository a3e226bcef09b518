package handler_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GulDilin/image-deduplication-storage/internal/handler"
	"github.com/GulDilin/image-deduplication-storage/internal/hasher"
	"github.com/GulDilin/image-deduplication-storage/internal/metrics"
	"github.com/GulDilin/image-deduplication-storage/internal/repository/sqlite"
	"github.com/GulDilin/image-deduplication-storage/internal/resize"
	"github.com/GulDilin/image-deduplication-storage/internal/service"
	"github.com/GulDilin/image-deduplication-storage/internal/storage/disk"
)

type testServer struct {
	*httptest.Server
	files *disk.Store
}

func newTestServer(t *testing.T, limiter *service.TokenBucket) *testServer {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New DB: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	files, err := disk.New(t.TempDir())
	if err != nil {
		t.Fatalf("disk.New: %v", err)
	}
	h, err := hasher.New(hasher.BLAKE3, 10000)
	if err != nil {
		t.Fatalf("hasher.New: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	thumbs := service.NewThumbnailCache(db, files, resize.New(10000), m)
	images := service.NewImageRegistry(db, files, h, thumbs, m, service.RegistryOptions{HealOnRead: true})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, handler.Deps{
		Images:   handler.NewImageHandler(images, thumbs, 20<<20),
		Limiter:  limiter,
		Gatherer: reg,
	})
	srv := httptest.NewServer(handler.Wrap(mux, []string{"https://app.example"}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, files: files}
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	w := httptest.NewRecorder()
	handler.SecurityHeaders(inner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected nosniff, got %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected DENY, got %q", got)
	}
}

func TestCORS_AllowedOrigin(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	h := handler.CORS([]string{"https://app.example"}, inner)

	req := httptest.NewRequest(http.MethodGet, "/api/images", nil)
	req.Header.Set("Origin", "https://app.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("expected origin echoed, got %q", got)
	}
	if !called {
		t.Fatal("inner handler should run for simple requests")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/images", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin must not be allowed, got %q", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("inner handler should not be called for preflight")
	})
	req := httptest.NewRequest(http.MethodOptions, "/api/images", nil)
	req.Header.Set("Origin", "https://any.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()

	handler.CORS([]string{"*"}, inner).ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}

func TestLimitUploads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := service.NewTokenBucket(ctx, 0, 1)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	h := handler.LimitUploads(limiter, inner)

	req := httptest.NewRequest(http.MethodPost, "/api/images", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("first upload: expected 201, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second upload: expected 429, got %d", w.Code)
	}

	other := httptest.NewRequest(http.MethodPost, "/api/images", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, other)
	if w.Code != http.StatusCreated {
		t.Fatalf("other client: expected 201, got %d", w.Code)
	}
}

func TestLimitUploads_NilLimiter(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	w := httptest.NewRecorder()
	handler.LimitUploads(nil, inner).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestLimitUploads_RoutedThroughServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := newTestServer(t, service.NewTokenBucket(ctx, 0, 1))

	for i, want := range []int{http.StatusBadRequest, http.StatusTooManyRequests} {
		body, ct := multipartBody(t, "doc.txt", []byte("hello"), nil)
		resp, err := http.Post(srv.URL+"/api/images", ct, body)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("upload %d: expected %d, got %d", i+1, want, resp.StatusCode)
		}
	}
}
