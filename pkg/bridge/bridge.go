// Package bridge provides the public API for embedding the directive bridge
// in another host process.
package bridge

import (
	"github.com/tjfontaine/hass-directive-bridge/internal/bridge"
	"github.com/tjfontaine/hass-directive-bridge/internal/directive"
	"github.com/tjfontaine/hass-directive-bridge/internal/entrypoint"
)

// Bridge forwards directives to the controller.
// See internal/bridge.Bridge for full documentation.
type Bridge = bridge.Bridge

// Option configures a Bridge.
type Option = bridge.Option

// Result is the outcome of a successful forward.
type Result = bridge.Result

// Handler adapts a Bridge to a one-directive-per-call runtime.
type Handler = entrypoint.Handler

// HandlerOptions is the immutable startup configuration of a Handler.
type HandlerOptions = entrypoint.Options

// New creates a Bridge.
// Example:
//
//	b := bridge.New("http://127.0.0.1:8080", bridge.WithPath("/api/alexa/smart_home"))
//	h := bridge.NewHandler(b, bridge.HandlerOptions{DefaultCredential: token}, nil)
//	lambda.Start(h.Invoke)
var New = bridge.New

// NewHandler creates a Handler.
var NewHandler = entrypoint.New

var (
	WithHTTPClient = bridge.WithHTTPClient
	WithPath       = bridge.WithPath
	WithLogger     = bridge.WithLogger
)

// Result kinds
const (
	KindPassthrough     = bridge.KindPassthrough
	KindClassifiedError = bridge.KindClassifiedError
)

// Invocation errors, for use with errors.Is.
var (
	ErrMalformedEnvelope    = directive.ErrMalformedEnvelope
	ErrUnsupportedVersion   = directive.ErrUnsupportedVersion
	ErrMissingScope         = directive.ErrMissingScope
	ErrUnsupportedScopeType = directive.ErrUnsupportedScopeType
	ErrMissingCredential    = directive.ErrMissingCredential
	ErrInvalidCredential    = bridge.ErrInvalidCredential
	ErrForward              = bridge.ErrForward
	ErrResponseDecode       = bridge.ErrResponseDecode
)
