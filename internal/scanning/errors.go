package scanning

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyResponse is returned when a provider answers without any candidate text
var ErrEmptyResponse = errors.New("no content in provider response")

// ProviderError describes a failed call to a model provider
type ProviderError struct {
	Provider string
	// StatusCode is 0 when no HTTP response was received
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s API error (status %d)", e.Provider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("calling %s API: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("calling %s API failed", e.Provider)
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the call could succeed: transport failures, throttling
// and server-side errors.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}
