// Package fault classifies failures so every component can apply the same
// policy: retry transient ones, surface permission and input problems to the
// invoker, purge rows on missing entities and alert on integrity violations.
package fault

import (
	"context"
	"fmt"

	"emperror.dev/errors"
)

type Kind int

const (
	Unknown Kind = iota
	Transient
	PermissionDenied
	EntityMissing
	IntegrityViolation
	UserInput
	StoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case PermissionDenied:
		return "permission_denied"
	case EntityMissing:
		return "entity_missing"
	case IntegrityViolation:
		return "integrity_violation"
	case UserInput:
		return "user_input"
	case StoreUnavailable:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) error {
	return errors.WithStack(&Error{Kind: kind, Msg: msg})
}

func Newf(kind Kind, format string, args ...interface{}) error {
	return errors.WithStack(&Error{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&Error{Kind: kind, Msg: msg, Err: err})
}

func Input(format string, args ...interface{}) error {
	return Newf(UserInput, format, args...)
}

func Missing(format string, args ...interface{}) error {
	return Newf(EntityMissing, format, args...)
}

func Denied(format string, args ...interface{}) error {
	return Newf(PermissionDenied, format, args...)
}

// KindOf returns the outermost classified kind found in the chain. Context
// deadlines count as transient.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func Retryable(err error) bool {
	switch KindOf(err) {
	case Transient, StoreUnavailable:
		return true
	default:
		return false
	}
}

// Message returns the text shown to an invoker. Only user-facing kinds keep
// their detail.
func Message(err error) string {
	var classified *Error
	if !errors.As(err, &classified) {
		return "Something went wrong, the operators have been notified."
	}
	switch classified.Kind {
	case UserInput, PermissionDenied, EntityMissing:
		if classified.Msg != "" {
			return classified.Msg
		}
		return classified.Kind.String()
	case Transient, StoreUnavailable:
		return "The service is busy right now, please try again shortly."
	default:
		return "Something went wrong, the operators have been notified."
	}
}
