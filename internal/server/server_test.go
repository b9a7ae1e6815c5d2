package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/hass-directive-bridge/internal/bridge"
	"github.com/tjfontaine/hass-directive-bridge/internal/directive"
)

type stubInvoker struct {
	out   json.RawMessage
	err   error
	ready bool
	got   []byte
}

func (s *stubInvoker) Invoke(ctx context.Context, event json.RawMessage) (json.RawMessage, error) {
	s.got = event
	return s.out, s.err
}

func (s *stubInvoker) Ready() bool { return s.ready }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Directive endpoint
// =============================================================================

func TestHandleDirective_Success(t *testing.T) {
	inv := &stubInvoker{out: json.RawMessage(`{"event":{"payload":{}}}`), ready: true}
	srv := New(0, discardLogger(), inv)

	req := httptest.NewRequest("POST", "/directive", strings.NewReader(`{"directive":{}}`))
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != `{"event":{"payload":{}}}` {
		t.Errorf("body = %s", rec.Body.String())
	}
	checkHeader(t, rec, "Content-Type", "application/json")
	if string(inv.got) != `{"directive":{}}` {
		t.Errorf("invoker got %s", inv.got)
	}
}

func TestHandleDirective_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantClass  string
	}{
		{"protocol", fmt.Errorf("%w: got %q", directive.ErrUnsupportedVersion, "2"), http.StatusBadRequest, "protocol"},
		{"authorization", directive.ErrMissingCredential, http.StatusBadRequest, "authorization"},
		{"integration", fmt.Errorf("%w: connection refused", bridge.ErrForward), http.StatusBadGateway, "integration"},
		{"decode", bridge.ErrResponseDecode, http.StatusBadGateway, "integration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(0, discardLogger(), &stubInvoker{err: tt.err, ready: true})

			req := httptest.NewRequest("POST", "/directive", strings.NewReader(`{}`))
			rec := httptest.NewRecorder()
			srv.Router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error.Class != tt.wantClass {
				t.Errorf("class = %s, want %s", body.Error.Class, tt.wantClass)
			}
			if body.Error.Message != tt.err.Error() {
				t.Errorf("message = %q, want %q", body.Error.Message, tt.err.Error())
			}
		})
	}
}

func TestHandleDirective_TooLarge(t *testing.T) {
	inv := &stubInvoker{ready: true}
	srv := New(0, discardLogger(), inv)

	big := strings.Repeat("x", maxDirectiveBytes+1)
	req := httptest.NewRequest("POST", "/directive", strings.NewReader(big))
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
	if inv.got != nil {
		t.Error("invoker should not be called")
	}
}

func TestHandleDirective_MethodNotAllowed(t *testing.T) {
	srv := New(0, discardLogger(), &stubInvoker{ready: true})

	req := httptest.NewRequest("GET", "/directive", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	for _, ready := range []bool{true, false} {
		srv := New(0, discardLogger(), &stubInvoker{ready: ready})

		req := httptest.NewRequest("GET", "/healthz", nil)
		rec := httptest.NewRecorder()
		srv.Router.ServeHTTP(rec, req)

		want := http.StatusOK
		if !ready {
			want = http.StatusServiceUnavailable
		}
		if rec.Code != want {
			t.Errorf("ready=%v: status = %d, want %d", ready, rec.Code, want)
		}
	}
}

func TestServe_Shutdown(t *testing.T) {
	srv := New(0, discardLogger(), &stubInvoker{out: json.RawMessage(`{}`), ready: true})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

// =============================================================================
// RequestIDMiddleware Tests
// =============================================================================

func TestRequestIDMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("Expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	wrapped := RequestIDMiddleware(handler)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header to be set")
	}
}

func TestRequestIDMiddleware_KeepsCallerUUID(t *testing.T) {
	const id = "1bd5d003-31b9-476f-ad03-71d471922820"
	wrapped := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", id)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	checkHeader(t, rec, "X-Request-ID", id)
}

func TestRequestIDMiddleware_ReplacesGarbage(t *testing.T) {
	wrapped := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "not\x00-a-uuid")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	got := rec.Header().Get("X-Request-ID")
	if got == "" || got == "not\x00-a-uuid" {
		t.Errorf("X-Request-ID = %q, want a fresh UUID", got)
	}
}

func TestRequestIDMiddleware_UniqueIDs(t *testing.T) {
	wrapped := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec1 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec1, httptest.NewRequest("GET", "/", nil))
	rec2 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec2, httptest.NewRequest("GET", "/", nil))

	id1 := rec1.Header().Get("X-Request-ID")
	id2 := rec2.Header().Get("X-Request-ID")
	if id1 == id2 {
		t.Errorf("Expected unique request IDs, got same: %s", id1)
	}
}

func TestGetRequestID_NotSet(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("Expected empty string, got %q", id)
	}
}

// =============================================================================
// LoggingMiddleware Tests
// =============================================================================

func TestLoggingMiddleware(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrapped := RequestIDMiddleware(LoggingMiddleware(logger)(testHandler))

	req := httptest.NewRequest("POST", "/directive", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	output := buf.String()
	for _, want := range []string{"request completed", "/directive", "status=200", "bytes=2", "request_id="} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in log output, got: %s", want, output)
		}
	}
}

func TestLoggingMiddleware_ServerErrorIsWarn(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	wrapped := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/directive", nil))

	if !strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("Expected WARN record, got: %s", buf.String())
	}
}

func TestAddLogField(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "custom_field", "custom_value")
		AddLogField(r.Context(), "empty_field", "")
		w.WriteHeader(http.StatusOK)
	})

	LoggingMiddleware(logger)(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	output := buf.String()
	if !strings.Contains(output, "custom_field=custom_value") {
		t.Errorf("Expected custom field in log output, got: %s", output)
	}
	if strings.Contains(output, "empty_field") {
		t.Errorf("Empty field should not be in log output, got: %s", output)
	}
}

func TestAddError(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddError(r.Context(), errors.New("test error message"))
		AddError(r.Context(), nil)
		w.WriteHeader(http.StatusInternalServerError)
	})

	LoggingMiddleware(logger)(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !strings.Contains(buf.String(), "test error message") {
		t.Errorf("Expected error in log output, got: %s", buf.String())
	}
}

func TestAddLogField_NoContext(t *testing.T) {
	// Should not panic when called with a context that doesn't have log fields
	AddLogField(context.Background(), "key", "value")
	AddError(context.Background(), errors.New("ignored"))
}

// =============================================================================
// Helper Functions
// =============================================================================

func checkHeader(t *testing.T, rec *httptest.ResponseRecorder, name, expected string) {
	t.Helper()
	actual := rec.Header().Get(name)
	if actual != expected {
		t.Errorf("Header %s = %q, want %q", name, actual, expected)
	}
}
