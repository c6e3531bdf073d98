package model

import (
	"errors"
	"fmt"
)

var (
	ErrAuthentication        = errors.New("authentication failed")
	ErrAuthorizationRejected = errors.New("authorization rejected")
	ErrNotAuthenticated      = errors.New("not authenticated")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DecodeError reports a stream frame that could not be turned into a
// TransactionEvent.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
