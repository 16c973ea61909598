package stream

import (
	"fmt"

	"github.com/amanullahtanweer/lecture-transcriber/internal/transcriber"
)

// ConfigurationError means no usable credential was supplied. It is the only
// failure Start returns synchronously.
type ConfigurationError struct {
	Provider transcriber.Provider
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return e.Reason
}

func missingCredential(p transcriber.Provider, field string) *ConfigurationError {
	return &ConfigurationError{
		Provider: p,
		Reason:   fmt.Sprintf("no key! %s %s must be set before starting a live transcription", p, field),
	}
}

// ConnectionError means the socket failed to open or failed mid-session.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transcription connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TransportCloseError reports a close with an abnormal code.
type TransportCloseError struct {
	Code   int
	Reason string
}

func (e *TransportCloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transcription socket closed abnormally (code %d)", e.Code)
	}
	return fmt.Sprintf("transcription socket closed abnormally (code %d): %s", e.Code, e.Reason)
}

// CaptureError means the audio source could not be opened.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("audio capture failed: %v", e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// errorType labels an error for the session_errors_total metric.
func errorType(err error) string {
	switch err.(type) {
	case *ConnectionError:
		return "connection"
	case *TransportCloseError:
		return "transport_close"
	case *CaptureError:
		return "capture"
	default:
		return "other"
	}
}

// isNormalClose treats 1000 and an unset code as a clean shutdown.
func isNormalClose(code int) bool {
	return code == 0 || code == 1000
}
