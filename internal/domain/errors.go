package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("image reference not found")
	ErrDecode     = errors.New("malformed inline image data")
	ErrEmptyImage = errors.New("image payload is empty")

	ErrImageTooLarge = errors.New("image exceeds size limit")
)

// NetworkError reports a failed outbound call. StatusCode is zero when the
// transport itself failed.
type NetworkError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s %s: unexpected status: %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: unexpected status: %d", e.Op, e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func IsStatusOK(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
