// Package entrypoint adapts the directive bridge to the runtime that invokes
// it, one directive per call.
package entrypoint

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/tjfontaine/hass-directive-bridge/internal/bridge"
)

// Forwarder relays a directive to the controller.
type Forwarder interface {
	Forward(ctx context.Context, raw json.RawMessage, fallback string) (*bridge.Result, error)
}

// Options is fixed when the process starts and never changes afterwards.
type Options struct {
	// DefaultCredential is used when a directive's scope carries no token.
	// Empty means no default is configured.
	DefaultCredential string
}

// Handler serves directives. It holds no per-invocation state.
type Handler struct {
	forwarder Forwarder
	opts      Options
	logger    *slog.Logger
}

// New creates a Handler.
func New(forwarder Forwarder, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		forwarder: forwarder,
		opts:      opts,
		logger:    logger,
	}
}

// Configured reports whether a default credential was supplied at startup.
func (h *Handler) Configured() bool {
	return h.opts.DefaultCredential != ""
}

// Ready always reports true; the handler never applies backpressure.
func (h *Handler) Ready() bool {
	return true
}

// Invoke handles one directive and returns the response envelope. An error
// means the directive could not be processed and the runtime should report a
// handler failure.
func (h *Handler) Invoke(ctx context.Context, event json.RawMessage) (json.RawMessage, error) {
	logger := h.logger
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		logger = logger.With(slog.String("aws_request_id", lc.AwsRequestID))
	}

	res, err := h.forwarder.Forward(ctx, event, h.opts.DefaultCredential)
	if err != nil {
		logger.Error("directive failed",
			slog.String("error", err.Error()),
			slog.String("class", string(bridge.ClassOf(err))),
		)
		return nil, err
	}

	env, err := res.Envelope()
	if err != nil {
		logger.Error("failed to render response envelope", slog.String("error", err.Error()))
		return nil, err
	}

	logger.Debug("directive handled",
		slog.String("result", res.Kind.String()),
		slog.Int("status", res.StatusCode),
	)

	return env, nil
}
