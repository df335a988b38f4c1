// Package mailerr defines the error kinds shared by the folder backends.
package mailerr

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound: the message or folder does not exist.
	KindNotFound
	// KindNetwork: transport failure; the operation may be retried after reconnecting.
	KindNetwork
	// KindProtocol: the server answered NO/BAD or sent something unparseable.
	KindProtocol
	KindAuth
	KindNotSupported
	KindLocalIO
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "authentication"
	case KindNotSupported:
		return "not supported"
	case KindLocalIO:
		return "local i/o"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a tagged error. Op names the failing operation and Path the
// folder, file or mailbox involved, if any.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", msg, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", msg, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func NotFound(op, path string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Path: path}
}

func NotSupported(op string) *Error {
	return &Error{Kind: KindNotSupported, Op: op}
}

// KindOf returns the kind of the first tagged error in err's chain.
// Context cancellation is reported as KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindUnknown
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsRetryable reports whether err is a network failure worth a reconnect.
func IsRetryable(err error) bool {
	return KindOf(err) == KindNetwork
}

func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

func IsNotSupported(err error) bool {
	return KindOf(err) == KindNotSupported
}
