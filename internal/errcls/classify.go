// Package errcls classifies provider errors into the closed taxonomy the
// router and metrics packages key their decisions on.
package errcls

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// Class is one of the five error categories the router understands.
type Class string

const (
	RateLimited Class = "RATE_LIMITED"
	Transient   Class = "TRANSIENT"
	AuthError   Class = "AUTH_ERROR"
	Exhausted   Class = "EXHAUSTED"
	Generic     Class = "ERROR"
)

var retryAfterPattern = regexp.MustCompile(`(?i)(retry after|retry in)\s+([0-9]+(\.[0-9]+)?)`)

// Classify maps an error and an optional HTTP status code to a Class.
// Rules are applied in order; the first match wins. status == 0 means
// "no status code available".
func Classify(err error, status int) Class {
	if err == nil {
		return Generic
	}
	msg := strings.ToLower(err.Error())

	if status == http.StatusUnauthorized || status == http.StatusForbidden || containsAny(msg,
		"invalid api key", "permission denied", "unauthorized", "forbidden") {
		return AuthError
	}

	if status == http.StatusPaymentRequired || containsAny(msg,
		"quota exceeded", "resource_exhausted", "insufficient_quota", "exceeded your current quota") {
		return Exhausted
	}

	if status == http.StatusTooManyRequests || containsAny(msg,
		"rate limit", "rate-limited", "retry after", "retry in") {
		return RateLimited
	}

	if isTransientStatus(status) || containsAny(msg,
		"timeout", "timed out", "read timed out",
		"connection reset", "connection refused", "broken pipe",
		"sslv3_alert_bad_record_mac", "bad record mac", "ssl:") {
		return Transient
	}

	return Generic
}

func isTransientStatus(status int) bool {
	switch status {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// RetryAfterSeconds extracts a "retry after N seconds" hint from an error
// message. It returns 0, false when no positive hint can be parsed.
func RetryAfterSeconds(err error) (float64, bool) {
	if err == nil {
		return 0, false
	}
	m := retryAfterPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	seconds, err2 := strconv.ParseFloat(m[2], 64)
	if err2 != nil || seconds <= 0 {
		return 0, false
	}
	return seconds, true
}
