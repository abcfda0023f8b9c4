// internal/llmclient/errors.go
package llmclient

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failed generation exchange. Callers branch on the
// code to decide whether the fallback path is worth taking: transport and
// upstream failures are, credential and quota failures are not.
type ErrorCode string

const (
	// CodeTransport covers network failures and client-side timeouts.
	CodeTransport ErrorCode = "TRANSPORT_ERROR"
	// CodeAuth covers rejected or missing credentials (401/403).
	CodeAuth ErrorCode = "AUTH_ERROR"
	// CodeRateLimit is a 429 from the provider.
	CodeRateLimit ErrorCode = "RATE_LIMIT_ERROR"
	// CodeQuota is a quota or billing exhaustion the provider reports.
	CodeQuota ErrorCode = "QUOTA_ERROR"
	// CodeUpstream covers provider-side failures (5xx) and unusable
	// responses such as empty candidate lists.
	CodeUpstream ErrorCode = "UPSTREAM_ERROR"
)

// APIError is the typed failure every Generate call returns on error.
type APIError struct {
	Code       ErrorCode
	StatusCode int
	Message    string
	// Remediation carries actionable operator guidance for failures the
	// fallback path cannot paper over.
	Remediation string
	Err         error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether a fresh exchange could plausibly succeed and
// whether the fallback scanner is a useful substitute. Auth and quota
// failures are terminal for the session; the fallback gains nothing because
// it never needed the credential.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case CodeAuth, CodeQuota:
		return false
	default:
		return true
	}
}

// CodeOf extracts the error code, or empty when err is not an APIError.
func CodeOf(err error) ErrorCode {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
