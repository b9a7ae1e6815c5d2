package bridge

import (
	"errors"

	"github.com/tjfontaine/hass-directive-bridge/internal/directive"
)

// ErrorClass groups invocation errors by who is at fault.
type ErrorClass string

const (
	// ClassProtocol covers envelopes the bridge cannot process at all.
	ClassProtocol ErrorClass = "protocol"

	// ClassAuthorization covers envelopes without a usable credential.
	ClassAuthorization ErrorClass = "authorization"

	// ClassIntegration covers an unreachable controller or an unparseable
	// controller response.
	ClassIntegration ErrorClass = "integration"
)

// ClassOf reports the class of an error returned by Forward. Unknown errors
// are treated as integration faults.
func ClassOf(err error) ErrorClass {
	switch {
	case errors.Is(err, directive.ErrMalformedEnvelope),
		errors.Is(err, directive.ErrUnsupportedVersion):
		return ClassProtocol
	case errors.Is(err, directive.ErrMissingScope),
		errors.Is(err, directive.ErrUnsupportedScopeType),
		errors.Is(err, directive.ErrMissingCredential),
		errors.Is(err, ErrInvalidCredential):
		return ClassAuthorization
	default:
		return ClassIntegration
	}
}
