package renderer

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyImage is returned when a successful response carries no image.
	ErrEmptyImage = errors.New("renderer returned no image")
)

// StatusError is a non-2xx response from the rendering service.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("renderer %s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("renderer %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the rendering service.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// IsClientError reports whether err is a 4xx response, which retrying will
// not fix.
func IsClientError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500
}
