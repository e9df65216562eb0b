package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
)

// ErrorKind is the closed taxonomy of failures crossing the tool server
// boundary. Every error surfaced to a caller carries exactly one kind.
type ErrorKind string

const (
	KindAuthMissingCredentials ErrorKind = "AUTH_MISSING_CREDENTIALS"
	KindAuthInvalidToken       ErrorKind = "AUTH_INVALID_TOKEN"
	KindAuthFailed             ErrorKind = "AUTH_FAILED"
	KindRateLimit              ErrorKind = "GITHUB_RATE_LIMIT"
	KindForbidden              ErrorKind = "GITHUB_FORBIDDEN"
	KindNotFound               ErrorKind = "GITHUB_NOT_FOUND"
	KindValidation             ErrorKind = "GITHUB_VALIDATION"
	KindServerError            ErrorKind = "GITHUB_SERVER_ERROR"
	KindTaskValidation         ErrorKind = "TASK_VALIDATION"
	KindSystemError            ErrorKind = "SYSTEM_ERROR"
	KindUnknown                ErrorKind = "UNKNOWN_ERROR"
)

// Retryable reports whether a caller may reasonably retry an error of
// this kind. Only rate-limit rejections and server-side failures are
// transient; everything else is permanent.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindServerError:
		return true
	default:
		return false
	}
}

// ClassifiedError is the only error shape that crosses the tool server
// boundary: a taxonomy kind, a human message, a details bag (carrying
// the upstream HTTP status when known) and a creation timestamp.
type ClassifiedError struct {
	Kind      ErrorKind      `json:"kind"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the error's kind is transient.
func (e *ClassifiedError) Retryable() bool {
	return e.Kind.Retryable()
}

// NewClassified builds a ClassifiedError with the current timestamp.
func NewClassified(kind ErrorKind, message string, details map[string]any) *ClassifiedError {
	return &ClassifiedError{
		Kind:      kind,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// rateLimitMarkers are the substrings GitHub uses in 403 bodies when the
// rejection is quota-related rather than a permission denial.
var rateLimitMarkers = []string{
	"rate limit",
	"secondary rate",
	"abuse detection",
}

func isRateLimitMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, m := range rateLimitMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Classify maps an upstream HTTP status and message to an error kind.
// It is a total, deterministic function of its inputs and performs no
// I/O, so the mapping is unit-testable without any network mocking.
func Classify(status int, message string) *ClassifiedError {
	details := map[string]any{}
	if status != 0 {
		details["status"] = status
	}

	var kind ErrorKind
	switch {
	case status == 401:
		kind = KindAuthInvalidToken
	case status == 403 && isRateLimitMessage(message):
		kind = KindRateLimit
	case status == 403:
		kind = KindForbidden
	case status == 404:
		kind = KindNotFound
	case status == 422:
		kind = KindValidation
	case status >= 500:
		kind = KindServerError
	default:
		kind = KindUnknown
	}

	if message == "" {
		message = fmt.Sprintf("GitHub API error (HTTP %d)", status)
	}
	return NewClassified(kind, message, details)
}

// ClassifyErr wraps any error into the closed taxonomy. Already
// classified errors pass through untouched; go-github error types are
// mapped by status; anything unrecognized becomes UNKNOWN_ERROR.
func ClassifyErr(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		ce := Classify(403, "GitHub API rate limit exceeded")
		ce.Details["reset"] = rateErr.Rate.Reset.Time.Format(time.RFC3339)
		ce.Details["limit"] = rateErr.Rate.Limit
		return ce
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		ce := Classify(403, "GitHub secondary rate limit exceeded")
		if abuseErr.RetryAfter != nil {
			ce.Details["retryAfter"] = abuseErr.RetryAfter.String()
		}
		return ce
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) {
		status := 0
		if respErr.Response != nil {
			status = respErr.Response.StatusCode
		}
		return Classify(status, respErr.Message)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		ce := NewClassified(KindServerError, "request timed out: "+err.Error(), map[string]any{})
		return ce
	}

	return NewClassified(KindUnknown, err.Error(), nil)
}
