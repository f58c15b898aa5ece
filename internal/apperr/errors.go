// Package apperr carries typed failures from the pipeline stages up to the
// HTTP boundary without losing the original cause.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by the stage that produced it.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindDocumentOpen
	KindConversion
	KindImageLoad
	KindDetection
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindDocumentOpen:
		return "document_open"
	case KindConversion:
		return "conversion"
	case KindImageLoad:
		return "image_load"
	case KindDetection:
		return "detection"
	default:
		return "internal"
	}
}

// Error is a failure with an explicit kind, the operation that failed and the
// wrapped cause.
type Error struct {
	Kind    Kind
	Op      string // stage and subject, e.g. "rasterize page 3"
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches kind, op and message to err. A nil err stays nil.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// BadRequest is shorthand for a client error with a user-facing message.
func BadRequest(message string) *Error {
	return New(KindBadRequest, message)
}

// KindOf reports the kind of the outermost *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Has reports whether any *Error in the chain has the given kind.
func Has(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// OpOf returns the first non-empty Op in the chain.
func OpOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Op != "" {
			return e.Op
		}
		err = e.Err
	}
	return ""
}

// StatusCode maps err to an HTTP status.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if KindOf(err) == KindBadRequest {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Detail flattens err into the message returned to clients.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
