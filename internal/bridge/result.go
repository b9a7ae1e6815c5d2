package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/tjfontaine/hass-directive-bridge/internal/directive"
)

// Kind discriminates the two successful outcomes of a forward.
type Kind int

const (
	// KindPassthrough means the controller answered with a success status and
	// its body is returned as-is.
	KindPassthrough Kind = iota

	// KindClassifiedError means the controller answered with an unsuccessful
	// status. This is still a successful forward: the error is reported to the
	// calling platform inside the response envelope.
	KindClassifiedError
)

func (k Kind) String() string {
	switch k {
	case KindPassthrough:
		return "passthrough"
	case KindClassifiedError:
		return "classified_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of a completed forward.
type Result struct {
	Kind Kind

	// StatusCode is the controller's HTTP status.
	StatusCode int

	// Body is the controller's JSON body, set for KindPassthrough.
	Body json.RawMessage

	// ErrorType and Message are set for KindClassifiedError. Message is the
	// controller's raw body text.
	ErrorType directive.ErrorType
	Message   string
}

// Envelope renders the response envelope sent back to the calling platform.
func (r *Result) Envelope() (json.RawMessage, error) {
	switch r.Kind {
	case KindPassthrough:
		return r.Body, nil
	case KindClassifiedError:
		data, err := json.Marshal(directive.NewErrorResponse(r.ErrorType, r.Message))
		if err != nil {
			return nil, fmt.Errorf("marshal error envelope: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown result kind %s", r.Kind)
	}
}
