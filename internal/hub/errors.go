package hub

import (
	"errors"
	"fmt"
)

// ErrAuthRejected marks a request whose params.auth_token did not match
// the configured shared secret (spec kind: AuthRejected). The connection
// is kept open; only the offending request gets an error response.
var ErrAuthRejected = errors.New("auth rejected")

// taxonomyErr pairs a wire-facing message with a taxonomy sentinel so
// callers can classify the failure with errors.Is while the client still
// sees the exact spec-mandated text via Error().
type taxonomyErr struct {
	kind error
	msg  string
}

func (e *taxonomyErr) Error() string { return e.msg }
func (e *taxonomyErr) Unwrap() error { return e.kind }

func authRejectedf(format string, args ...any) error {
	return &taxonomyErr{kind: ErrAuthRejected, msg: fmt.Sprintf(format, args...)}
}
