// Package directive models the smart home directive protocol: the inbound
// envelope, the authorization scope carried inside it, and the closed error
// vocabulary returned to the calling platform.
package directive

import "errors"

// Invocation errors. These abort processing of a directive and are reported to
// the hosting runtime as a failed invocation.
var (
	// ErrMalformedEnvelope indicates the input could not be decoded into a
	// directive envelope.
	ErrMalformedEnvelope = errors.New("malformed directive envelope")

	// ErrUnsupportedVersion indicates a payloadVersion other than "3".
	ErrUnsupportedVersion = errors.New("only payload version 3 is supported")

	// ErrMissingScope indicates none of the scope locations are present.
	ErrMissingScope = errors.New("missing authorization scope")

	// ErrUnsupportedScopeType indicates the chosen scope is not a bearer token.
	ErrUnsupportedScopeType = errors.New("only BearerToken scopes are supported")

	// ErrMissingCredential indicates the scope had no token and no default
	// credential was configured.
	ErrMissingCredential = errors.New("access token missing")
)

// ErrorType is the error vocabulary the calling platform understands.
type ErrorType string

const (
	// ErrorTypeInvalidAuthorizationCredential is reported when the controller
	// rejects the presented credential.
	ErrorTypeInvalidAuthorizationCredential ErrorType = "INVALID_AUTHORIZATION_CREDENTIAL"

	// ErrorTypeInternalError covers every other unsuccessful controller status.
	ErrorTypeInternalError ErrorType = "INTERNAL_ERROR"
)

// ErrorResponse is the envelope synthesized when the controller answers with
// an unsuccessful status.
type ErrorResponse struct {
	Event ErrorEvent `json:"event"`
}

// ErrorEvent wraps the error payload.
type ErrorEvent struct {
	Payload ErrorPayload `json:"payload"`
}

// ErrorPayload carries the classified type and the controller's raw body.
type ErrorPayload struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// NewErrorResponse builds an error envelope.
func NewErrorResponse(errType ErrorType, message string) *ErrorResponse {
	return &ErrorResponse{
		Event: ErrorEvent{
			Payload: ErrorPayload{Type: errType, Message: message},
		},
	}
}
