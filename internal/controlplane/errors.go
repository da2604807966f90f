package controlplane

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenExpired is returned for HTTP 401. It is never retried and
	// must terminate the agent.
	ErrTokenExpired = errors.New("control plane token expired or invalid")

	// ErrConnectionLost is returned when the reconnect budget is exhausted
	ErrConnectionLost = errors.New("control plane connection lost")

	// ErrNoResponse is the soft failure: the call produced no usable response
	ErrNoResponse = errors.New("no response from control plane")
)

// StatusError carries an unexpected HTTP status
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// IsFatal reports whether err ends the current job. Only ErrTokenExpired
// stops the agent; ErrConnectionLost fails the job that hit it.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrConnectionLost)
}
