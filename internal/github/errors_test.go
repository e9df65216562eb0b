package github

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	gh "github.com/google/go-github/v66/github"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		message       string
		wantKind      ErrorKind
		wantRetryable bool
	}{
		{"401 invalid token", 401, "Bad credentials", KindAuthInvalidToken, false},
		{"403 rate limit", 403, "API rate limit exceeded for user", KindRateLimit, true},
		{"403 secondary rate limit", 403, "You have exceeded a secondary rate limit", KindRateLimit, true},
		{"403 forbidden", 403, "Resource not accessible by integration", KindForbidden, false},
		{"404 not found", 404, "Not Found", KindNotFound, false},
		{"422 validation", 422, "Validation Failed", KindValidation, false},
		{"500 server error", 500, "Internal Server Error", KindServerError, true},
		{"502 bad gateway", 502, "Bad Gateway", KindServerError, true},
		{"503 unavailable", 503, "Service Unavailable", KindServerError, true},
		{"599 unrecognized 5xx", 599, "", KindServerError, true},
		{"418 unrecognized", 418, "I'm a teapot", KindUnknown, false},
		{"zero status", 0, "something odd", KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(tt.status, tt.message)
			if ce.Kind != tt.wantKind {
				t.Errorf("Classify(%d, %q).Kind = %s, want %s", tt.status, tt.message, ce.Kind, tt.wantKind)
			}
			if ce.Retryable() != tt.wantRetryable {
				t.Errorf("Retryable() = %v, want %v", ce.Retryable(), tt.wantRetryable)
			}
			if tt.status != 0 {
				if got, ok := ce.Details["status"].(int); !ok || got != tt.status {
					t.Errorf("Details[status] = %v, want %d", ce.Details["status"], tt.status)
				}
			}
			if ce.Timestamp.IsZero() {
				t.Error("Timestamp not set")
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	// Same inputs must always map to the same kind.
	for i := 0; i < 100; i++ {
		status := 400 + i
		a := Classify(status, "message")
		b := Classify(status, "message")
		if a.Kind != b.Kind {
			t.Fatalf("Classify(%d) not deterministic: %s vs %s", status, a.Kind, b.Kind)
		}
	}
}

func TestClassifyErr(t *testing.T) {
	reset := gh.Timestamp{Time: time.Now().Add(30 * time.Second)}
	retryAfter := 10 * time.Second

	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
	}{
		{
			name:     "classified error passes through",
			err:      NewClassified(KindTaskValidation, "bad repo", nil),
			wantKind: KindTaskValidation,
		},
		{
			name: "wrapped classified error",
			err:  fmt.Errorf("outer: %w", NewClassified(KindSystemError, "not initialized", nil)),
			// errors.As unwraps to the inner classification.
			wantKind: KindSystemError,
		},
		{
			name:     "rate limit error",
			err:      &gh.RateLimitError{Rate: gh.Rate{Limit: 60, Reset: reset}, Message: "API rate limit exceeded"},
			wantKind: KindRateLimit,
		},
		{
			name:     "abuse rate limit error",
			err:      &gh.AbuseRateLimitError{RetryAfter: &retryAfter, Message: "abuse detection"},
			wantKind: KindRateLimit,
		},
		{
			name: "error response 404",
			err: &gh.ErrorResponse{
				Response: &http.Response{StatusCode: 404},
				Message:  "Not Found",
			},
			wantKind: KindNotFound,
		},
		{
			name: "error response 422",
			err: &gh.ErrorResponse{
				Response: &http.Response{StatusCode: 422},
				Message:  "Validation Failed",
			},
			wantKind: KindValidation,
		},
		{
			name:     "unrecognized error",
			err:      errors.New("something exploded"),
			wantKind: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := ClassifyErr(tt.err)
			if ce.Kind != tt.wantKind {
				t.Errorf("ClassifyErr() kind = %s, want %s", ce.Kind, tt.wantKind)
			}
		})
	}
}

func TestClassifyErrNil(t *testing.T) {
	if ce := ClassifyErr(nil); ce != nil {
		t.Errorf("ClassifyErr(nil) = %v, want nil", ce)
	}
}

func TestErrorKindRetryable(t *testing.T) {
	retryable := map[ErrorKind]bool{
		KindAuthMissingCredentials: false,
		KindAuthInvalidToken:       false,
		KindAuthFailed:             false,
		KindRateLimit:              true,
		KindForbidden:              false,
		KindNotFound:               false,
		KindValidation:             false,
		KindServerError:            true,
		KindTaskValidation:         false,
		KindSystemError:            false,
		KindUnknown:                false,
	}

	for kind, want := range retryable {
		if kind.Retryable() != want {
			t.Errorf("%s.Retryable() = %v, want %v", kind, kind.Retryable(), want)
		}
	}
}

func TestClassifiedErrorMessage(t *testing.T) {
	ce := NewClassified(KindNotFound, "issue 42 not found", map[string]any{"status": 404})
	want := "GITHUB_NOT_FOUND: issue 42 not found"
	if ce.Error() != want {
		t.Errorf("Error() = %q, want %q", ce.Error(), want)
	}
}
