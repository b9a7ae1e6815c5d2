package directive

import "net/http"

// Classify maps a controller status code to an error type. ok is false when
// the response should be passed through unchanged.
func Classify(status int) (errType ErrorType, ok bool) {
	switch status {
	case http.StatusOK,
		http.StatusCreated,
		http.StatusAccepted,
		http.StatusNonAuthoritativeInfo,
		http.StatusNoContent,
		http.StatusResetContent,
		http.StatusPartialContent,
		http.StatusMultiStatus,
		http.StatusAlreadyReported:
		return "", false
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorTypeInvalidAuthorizationCredential, true
	default:
		return ErrorTypeInternalError, true
	}
}
