package api

import (
	"errors"
	"fmt"
)

// ErrUnauthorized means the access token expired and could not be refreshed.
var ErrUnauthorized = errors.New("invalid access token, please log in again")

// errTokenExpired is returned by a single call attempt on code 6001.
var errTokenExpired = errors.New("access token expired")

// Error is a control plane failure reported through the envelope error code.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control plane error %d", e.Code)
	}
	return fmt.Sprintf("control plane error %d: %s", e.Code, e.Message)
}

// PolicyError is a user-facing rejection (codes 7002 and 7003). Its message
// is meant to be shown to the user verbatim.
type PolicyError struct {
	Code    int
	Message string
}

func (e *PolicyError) Error() string {
	return e.Message
}
