// Package browser provides Chrome/Chromedp initialization and configuration.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNavigationTimeout is returned when the document body does not appear
// within the navigation timeout.
var ErrNavigationTimeout = errors.New("navigation timeout")

// LaunchError means the browser process could not be started or configured.
type LaunchError struct {
	ExecPath string
	Err      error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch browser %q: %v", e.ExecPath, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err came from a chromedp action hitting its deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(strings.ToLower(err.Error()), "context deadline exceeded")
}

// IsBrowserClosed checks if an error indicates the browser went away mid-task.
func IsBrowserClosed(err error) bool {
	if err == nil {
		return false
	}

	closedPatterns := []string{
		"websocket: close",
		"target closed",
		"browser: not connected",
		"session closed",
		"page closed",
		"connection refused",
		"broken pipe",
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range closedPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
