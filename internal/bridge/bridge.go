// Package bridge forwards smart home directives to the home automation
// controller and translates the controller's answer into a response envelope.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http/httpguts"

	"github.com/tjfontaine/hass-directive-bridge/internal/directive"
)

// DefaultPath is the controller's smart home ingress.
const DefaultPath = "/api/alexa/smart_home"

const tracerName = "github.com/tjfontaine/hass-directive-bridge/internal/bridge"

var (
	// ErrInvalidCredential indicates the resolved token cannot be sent as an
	// Authorization header value.
	ErrInvalidCredential = errors.New("credential is not a valid header value")

	// ErrForward indicates the request could not be sent or its response body
	// could not be read.
	ErrForward = errors.New("failed to send upstream controller request")

	// ErrResponseDecode indicates the controller answered with a body that is
	// not JSON.
	ErrResponseDecode = errors.New("failed to parse controller response")
)

// Bridge relays directives to a single controller.
type Bridge struct {
	baseURL    string
	path       string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithHTTPClient sets the HTTP client used for forwarding.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Bridge) {
		b.httpClient = client
	}
}

// WithPath overrides the controller path directives are posted to.
func WithPath(path string) Option {
	return func(b *Bridge) {
		b.path = path
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// New creates a Bridge targeting baseURL, e.g. "http://127.0.0.1:8080".
func New(baseURL string, opts ...Option) *Bridge {
	b := &Bridge{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		path:       DefaultPath,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(b)
	}

	if !strings.HasPrefix(b.path, "/") {
		b.path = "/" + b.path
	}

	return b
}

// URL returns the full address directives are posted to.
func (b *Bridge) URL() string {
	return b.baseURL + b.path
}

// Forward relays raw to the controller using the credential found in the
// envelope, or fallback when the envelope's scope has no token. An empty
// fallback means none is configured.
//
// A returned error means the directive could not be processed at all. A
// controller rejection is not an error: it comes back as a Result of kind
// KindClassifiedError.
func (b *Bridge) Forward(ctx context.Context, raw json.RawMessage, fallback string) (*Result, error) {
	ctx, span := b.tracer.Start(ctx, "bridge.forward")
	defer span.End()

	res, err := b.forward(ctx, raw, fallback)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("bridge.error_class", string(ClassOf(err))))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("http.response.status_code", res.StatusCode),
		attribute.String("bridge.result", res.Kind.String()),
	)
	if res.Kind == KindClassifiedError {
		span.SetAttributes(attribute.String("bridge.error_type", string(res.ErrorType)))
	}

	return res, nil
}

func (b *Bridge) forward(ctx context.Context, raw json.RawMessage, fallback string) (*Result, error) {
	env, err := directive.Parse(raw)
	if err != nil {
		return nil, err
	}

	if v := env.Directive.Header.PayloadVersion; v != directive.PayloadVersion {
		return nil, fmt.Errorf("%w: got %q", directive.ErrUnsupportedVersion, v)
	}

	token, err := directive.ResolveCredential(env, fallback)
	if err != nil {
		return nil, err
	}
	if !httpguts.ValidHeaderFieldValue(token) {
		return nil, ErrInvalidCredential
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL(), bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForward, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForward, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrForward, err)
	}

	var parsed bytes.Buffer
	if err := json.Compact(&parsed, body); err != nil {
		return nil, fmt.Errorf("%w (status %d): %w", ErrResponseDecode, resp.StatusCode, err)
	}

	if errType, failed := directive.Classify(resp.StatusCode); failed {
		b.logger.Warn("controller rejected directive",
			slog.Int("status", resp.StatusCode),
			slog.String("error_type", string(errType)),
		)
		return &Result{
			Kind:       KindClassifiedError,
			StatusCode: resp.StatusCode,
			ErrorType:  errType,
			Message:    string(body),
		}, nil
	}

	b.logger.Info("response from controller",
		slog.Int("status", resp.StatusCode),
		slog.String("response", parsed.String()),
	)

	return &Result{
		Kind:       KindPassthrough,
		StatusCode: resp.StatusCode,
		Body:       json.RawMessage(parsed.Bytes()),
	}, nil
}
