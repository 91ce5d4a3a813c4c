package fetch

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorClass represents a classification of failed remote calls.
type ErrorClass string

const (
	// ErrorClassAuth represents an expired session (401-equivalent).
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 throttling.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents timeouts, connection and decode errors.
	ErrorClassNetwork ErrorClass = "network"
)

// OutcomeKind tags the variant of an Outcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	OutcomeServerError
	OutcomeClientError
	OutcomeTransient
	OutcomeAuthExpired
)

// String returns the outcome name used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeServerError:
		return "server_error"
	case OutcomeClientError:
		return "client_error"
	case OutcomeTransient:
		return "transient"
	case OutcomeAuthExpired:
		return "auth_expired"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of a single attempt.
type Outcome struct {
	Kind OutcomeKind

	// Payload is the response body (Success only).
	Payload []byte

	// Status is the HTTP status code, 0 for transport failures.
	Status int

	// RetryAfter is the server-supplied delay hint (RateLimited only).
	RetryAfter time.Duration

	// Err is the transport or decode error (Transient only).
	Err error
}

// Class maps the outcome to its error class. Success has no class.
func (o Outcome) Class() ErrorClass {
	switch o.Kind {
	case OutcomeRateLimited:
		return ErrorClassRateLimit
	case OutcomeServerError:
		return ErrorClassServer
	case OutcomeClientError:
		return ErrorClassClient
	case OutcomeTransient:
		return ErrorClassNetwork
	case OutcomeAuthExpired:
		return ErrorClassAuth
	default:
		return ""
	}
}

// Classifier maps HTTP statuses to outcome kinds for one boundary.
type Classifier struct {
	// AuthStatuses signal an expired session.
	AuthStatuses []int

	// NegativeStatuses mean "no data available" and are not retried.
	NegativeStatuses []int
}

// DefaultClassifier treats 401 as auth expiry and 403/404/410 as negative results.
func DefaultClassifier() Classifier {
	return Classifier{
		AuthStatuses:     []int{http.StatusUnauthorized},
		NegativeStatuses: []int{http.StatusForbidden, http.StatusNotFound, http.StatusGone},
	}
}

// Classify turns a status code into an outcome kind.
func (c Classifier) Classify(status int) OutcomeKind {
	switch {
	case contains(c.AuthStatuses, status):
		return OutcomeAuthExpired
	case status == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case contains(c.NegativeStatuses, status):
		return OutcomeClientError
	case status >= 500:
		return OutcomeServerError
	case status >= 400:
		return OutcomeClientError
	default:
		return OutcomeSuccess
	}
}

// IsNegative reports whether status is a "no data" result.
func (c Classifier) IsNegative(status int) bool {
	return contains(c.NegativeStatuses, status)
}

func contains(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// parseRetryAfter parses a Retry-After header in seconds or HTTP-date form.
// Returns 0 when absent or unparseable.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
