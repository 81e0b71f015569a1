package rpc

import "errors"

// ErrBadRequest marks a malformed request line (spec kind: BadRequest).
// ReadRequest wraps it with %w; the Hub keeps serving the connection and
// only the offending line gets an error response.
var ErrBadRequest = errors.New("bad request")
