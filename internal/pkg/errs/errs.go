// Package errs defines the failure classes shared across the mailer
// pipeline. Call sites wrap them so callers can branch with errors.Is
// instead of parsing message text.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks an invalid rule document or app configuration.
	// Fatal at startup.
	ErrConfig = errors.New("config error")
	// ErrData marks malformed contact fields. The affected event is
	// skipped, never fatal.
	ErrData = errors.New("data error")
	// ErrRender marks a template failure. The row is marked failed.
	ErrRender = errors.New("render error")
	// ErrProvider marks a non-2xx response or transport failure from the
	// email provider. The row is marked failed, the batch continues.
	ErrProvider = errors.New("provider error")
	// ErrStore marks a database failure. The current chunk is rolled back.
	ErrStore = errors.New("store error")
	// ErrAuth marks a webhook signature mismatch. The event is discarded.
	ErrAuth = errors.New("auth error")
)

// Configf wraps ErrConfig with a formatted message.
func Configf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Dataf wraps ErrData with a formatted message.
func Dataf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrData, fmt.Sprintf(format, args...))
}

// Renderf wraps ErrRender with a formatted message.
func Renderf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrRender, fmt.Sprintf(format, args...))
}

// Providerf wraps ErrProvider with a formatted message.
func Providerf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrProvider, fmt.Sprintf(format, args...))
}

// Storef wraps ErrStore with a formatted message.
func Storef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrStore, fmt.Sprintf(format, args...))
}

// Authf wraps ErrAuth with a formatted message.
func Authf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrAuth, fmt.Sprintf(format, args...))
}

// Truncate caps an error message for storage in a tracking row.
func Truncate(msg string, max int) string {
	if len(msg) <= max {
		return msg
	}
	return msg[:max]
}
