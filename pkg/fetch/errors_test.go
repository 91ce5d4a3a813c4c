package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestFetchError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *FetchError
		want string
	}{
		{
			name: "without wrapped error",
			err:  &FetchError{StatusCode: 400, ErrorClass: ErrorClassClient, Message: "Bad Request"},
			want: "fetch client error (status 400): Bad Request",
		},
		{
			name: "with wrapped error",
			err:  &FetchError{StatusCode: 401, ErrorClass: ErrorClassAuth, Message: "session expired", Err: ErrAuthExpired},
			want: "fetch auth error (status 401): session expired: authentication expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchError_Unwrap(t *testing.T) {
	err := fmt.Errorf("page 3: %w", &FetchError{ErrorClass: ErrorClassAuth, Err: ErrAuthExpired})
	if !errors.Is(err, ErrAuthExpired) {
		t.Error("errors.Is(err, ErrAuthExpired) = false")
	}
	if !IsFatal(err) {
		t.Error("IsFatal() = false")
	}
	if IsFatal(ErrRetryExhausted) {
		t.Error("IsFatal(ErrRetryExhausted) = true")
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{ErrorClassClient, false},
		{ErrorClassAuth, false},
	}
	for _, tt := range tests {
		if got := shouldRetry(tt.class); got != tt.want {
			t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestClassifier_Classify(t *testing.T) {
	c := DefaultClassifier()

	tests := []struct {
		status int
		want   OutcomeKind
	}{
		{200, OutcomeSuccess},
		{204, OutcomeSuccess},
		{401, OutcomeAuthExpired},
		{403, OutcomeClientError},
		{404, OutcomeClientError},
		{410, OutcomeClientError},
		{400, OutcomeClientError},
		{429, OutcomeRateLimited},
		{500, OutcomeServerError},
		{503, OutcomeServerError},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.status); got != tt.want {
			t.Errorf("Classify(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}

	if !c.IsNegative(404) || c.IsNegative(400) {
		t.Error("IsNegative mismatch for 404/400")
	}
}

func TestClassifier_Custom(t *testing.T) {
	c := Classifier{AuthStatuses: []int{403}, NegativeStatuses: []int{404}}
	if c.Classify(403) != OutcomeAuthExpired {
		t.Error("custom auth status not honored")
	}
}

func TestOutcome_Class(t *testing.T) {
	tests := []struct {
		kind OutcomeKind
		want ErrorClass
	}{
		{OutcomeSuccess, ""},
		{OutcomeRateLimited, ErrorClassRateLimit},
		{OutcomeServerError, ErrorClassServer},
		{OutcomeClientError, ErrorClassClient},
		{OutcomeTransient, ErrorClassNetwork},
		{OutcomeAuthExpired, ErrorClassAuth},
	}
	for _, tt := range tests {
		if got := (Outcome{Kind: tt.kind}).Class(); got != tt.want {
			t.Errorf("%v.Class() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "5", 5 * time.Second},
		{"fractional", "1.5", 1500 * time.Millisecond},
		{"negative", "-3", 0},
		{"http date", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseCookieHeader(t *testing.T) {
	cookies := ParseCookieHeader("sid=abc; lang=de")
	if len(cookies) != 2 || cookies[0].Name != "sid" || cookies[1].Value != "de" {
		t.Errorf("ParseCookieHeader() = %v", cookies)
	}
	if ParseCookieHeader("") != nil {
		t.Error("ParseCookieHeader(\"\") should be nil")
	}
}
