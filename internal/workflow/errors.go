package workflow

import (
	"errors"
	"fmt"
)

// ErrEmptyResult indicates the workflow produced no usable text after all
// stream recovery attempts. Fatal for the ticket being processed.
var ErrEmptyResult = errors.New("workflow returned no usable text")

// ErrStreamOverflow indicates the stream buffer grew past the frame size
// limit without a complete frame. Triggers one blocking-mode retry.
var ErrStreamOverflow = errors.New("stream frame exceeds size limit")

// APIError wraps a non-2xx response from the workflow endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("workflow api returned status %d", e.StatusCode)
}

// UnknownResultCodeError reports a verdict code outside the recognized set.
// Fatal for the ticket being processed.
type UnknownResultCodeError struct {
	Code string
}

func (e *UnknownResultCodeError) Error() string {
	return fmt.Sprintf("unknown workflow result code %q", e.Code)
}
