// Package server hosts the directive handler over plain HTTP for deployments
// that don't run inside a function runtime.
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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/hass-directive-bridge/internal/bridge"
)

// maxDirectiveBytes bounds the size of an inbound directive.
const maxDirectiveBytes = 1 << 20

// Invoker handles one directive per call.
type Invoker interface {
	Invoke(ctx context.Context, event json.RawMessage) (json.RawMessage, error)
	Ready() bool
}

type Server struct {
	Router  *chi.Mux
	Port    int
	logger  *slog.Logger
	invoker Invoker
	server  *http.Server
}

func New(port int, logger *slog.Logger, invoker Invoker) *Server {
	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "directive-bridge")
	})

	s := &Server{
		Router:  r,
		Port:    port,
		logger:  logger,
		invoker: invoker,
	}

	r.Post("/directive", s.handleDirective)
	r.Get("/healthz", s.handleHealth)

	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.String("addr", ln.Addr().String()))
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Class   string `json:"class"`
	Message string `json:"message"`
}

func (s *Server) handleDirective(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDirectiveBytes))
	if err != nil {
		AddError(r.Context(), err)
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorBody{Error: errorDetail{Class: string(bridge.ClassProtocol), Message: err.Error()}})
		return
	}

	out, err := s.invoker.Invoke(r.Context(), body)
	if err != nil {
		class := bridge.ClassOf(err)
		AddError(r.Context(), err)
		AddLogField(r.Context(), "error_class", string(class))
		writeJSON(w, statusForClass(class), errorBody{Error: errorDetail{Class: string(class), Message: err.Error()}})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.invoker.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusForClass(class bridge.ErrorClass) int {
	switch class {
	case bridge.ClassProtocol, bridge.ClassAuthorization:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
