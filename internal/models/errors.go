package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModelUnavailable signals that a model backend could not serve the
// request at all (connection failure, 5xx, or a non-JSON body from a
// reverse proxy).
type ErrModelUnavailable struct {
	Provider string
	Body     string
	Cause    error
}

func (e *ErrModelUnavailable) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("model backend %s unavailable: %v", e.Provider, e.Cause)
	}
	return fmt.Sprintf("model backend %s unavailable: %s", e.Provider, e.Body)
}

func (e *ErrModelUnavailable) Unwrap() error { return e.Cause }

// HandleError converts common SDK errors to user-friendly errors.
func HandleError(err error) error {
	if err == nil {
		return nil
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, "401", "403", "unauthorized", "invalid api key", "api key", "forbidden") {
		return fmt.Errorf("authentication failed: %w", err)
	}

	if containsAny(errStr, "429", "rate limit", "quota", "too many requests") {
		return fmt.Errorf("rate limited: %w", err)
	}

	if containsAny(errStr, "context length", "too many tokens", "max tokens", "token limit") {
		return fmt.Errorf("context too long: %w", err)
	}

	if containsAny(errStr, "model not found", "404", "not found") {
		return fmt.Errorf("model not found: %w", err)
	}

	if containsAny(errStr, "connection", "eof", "timeout", "dial", "refused") {
		return fmt.Errorf("connection error: %w", err)
	}

	return err
}

// IsRetryable reports whether a model error is worth retrying. Auth
// failures, oversized contexts, and unknown models never recover on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var unavail *ErrModelUnavailable
	if errors.As(err, &unavail) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	if containsAny(errStr, "authentication failed", "context too long", "model not found") {
		return false
	}
	return containsAny(errStr, "rate limited", "connection error", "429", "timeout", "eof", "refused", "overloaded", "529", "503")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
