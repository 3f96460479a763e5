package slideapi

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrTransport = errors.New("transport error")

// TransportError covers network failures, timeouts, non-2xx responses and
// bodies that cannot be decoded.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: invalid response received: %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Err)
}

func (e *TransportError) Is(err error) bool {
	return err == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func statusError(method, url string, code int) error {
	return &TransportError{Method: method, URL: url, StatusCode: code}
}

func transportError(method, url string, err error) error {
	return &TransportError{Method: method, URL: url, Err: err}
}
