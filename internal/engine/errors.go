package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures so callers can choose retry vs. abort
// without inspecting messages.
type Kind string

const (
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindNotFound        Kind = "NOT_FOUND"
	// KindConflict reports a branch allocation race. The per-stream lock
	// makes it unreachable; seeing it means an invariant was broken.
	KindConflict Kind = "CONFLICT"
	KindInternal Kind = "INTERNAL"
)

type Error struct {
	Kind     Kind
	Op       string
	Resource string
	ID       int64
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		switch e.Kind {
		case KindNotFound:
			msg = fmt.Sprintf("%s %d not found", e.Resource, e.ID)
		default:
			msg = string(e.Kind)
		}
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Resource == ""
}

var (
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrInternal        = &Error{Kind: KindInternal}
)

func notFound(op, resource string, id int64) error {
	return &Error{Kind: KindNotFound, Op: op, Resource: resource, ID: id}
}

func invalidArgument(op, msg string) error {
	return &Error{Kind: KindInvalidArgument, Op: op, Msg: msg}
}

func internal(op string, err error) error {
	return &Error{Kind: KindInternal, Op: op, Msg: "persist mutation", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}
