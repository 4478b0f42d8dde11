package model

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how far its effects reach.
type Kind int

const (
	// KindConnection terminates only the offending connection.
	KindConnection Kind = iota
	// KindCapacity is synchronous backpressure, surfaced immediately.
	KindCapacity
	// KindValidation rejects one request.
	KindValidation
	// KindDelivery is isolated to one subscriber.
	KindDelivery
	// KindInternal is an invariant violation, isolated to one unit of work.
	KindInternal
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindCapacity:
		return "capacity"
	case KindValidation:
		return "validation"
	case KindDelivery:
		return "delivery"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Code is the wire error code.
type Code string

const (
	CodeInvalidTopic     Code = "INVALID_TOPIC"
	CodeInvalidPattern   Code = "INVALID_PATTERN"
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeQueueFull        Code = "QUEUE_FULL"
	CodeCapacityExceeded Code = "CAPACITY_EXCEEDED"
	CodeHandshakeTimeout Code = "HANDSHAKE_TIMEOUT"
	CodeDeliveryFailed   Code = "DELIVERY_FAILED"
	CodeConnectionClosed Code = "CONNECTION_CLOSED"
	CodeInternal         Code = "INTERNAL"
)

// Error is a classified router error.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so detailed errors
// compare equal to the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels
var (
	ErrInvalidTopic     = &Error{Kind: KindValidation, Code: CodeInvalidTopic, Message: "invalid topic"}
	ErrInvalidPattern   = &Error{Kind: KindValidation, Code: CodeInvalidPattern, Message: "invalid pattern"}
	ErrInvalidRequest   = &Error{Kind: KindConnection, Code: CodeInvalidRequest, Message: "invalid request"}
	ErrQueueFull        = &Error{Kind: KindCapacity, Code: CodeQueueFull, Message: "queue full"}
	ErrCapacityExceeded = &Error{Kind: KindCapacity, Code: CodeCapacityExceeded, Message: "max clients reached"}
	ErrHandshakeTimeout = &Error{Kind: KindConnection, Code: CodeHandshakeTimeout, Message: "handshake timeout"}
	ErrDeliveryFailed   = &Error{Kind: KindDelivery, Code: CodeDeliveryFailed, Message: "delivery failed"}
	ErrConnectionClosed = &Error{Kind: KindDelivery, Code: CodeConnectionClosed, Message: "connection closed"}
	ErrInternal         = &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal error"}
)

// Errorf returns a copy of base with a formatted detail message.
func Errorf(base *Error, format string, args ...any) *Error {
	return &Error{
		Kind:    base.Kind,
		Code:    base.Code,
		Message: base.Message + ": " + fmt.Sprintf(format, args...),
	}
}

// Wrap returns a copy of base carrying err as its cause.
func Wrap(base *Error, err error) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: base.Message, Err: err}
}

// CodeOf extracts the wire code of err, or CodeInternal for unclassified errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// KindOf extracts the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
