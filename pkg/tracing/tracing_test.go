package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisabledProviderPassesThrough(t *testing.T) {
	p, err := Init(context.Background(), Config{ServiceName: "prefork-worker"}, 1234)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Enabled() {
		t.Error("expected provider to be disabled")
	}

	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusNotFound)

	if rw.statusCode != http.StatusNotFound {
		t.Errorf("expected captured status 404, got %d", rw.statusCode)
	}
}
