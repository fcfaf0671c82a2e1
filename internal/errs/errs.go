// Package errs is workhub's error vocabulary.
//
// It re-exports github.com/cockroachdb/errors so every package wraps errors the
// same way, and adds the kind markers the reminder and conversation layers use
// to decide what is fatal, what is retried and what is only logged.
//
//	if err := queue.Upsert(ctx, env); err != nil {
//	    return errs.Scheduling(err, "upsert reminder")
//	}
//
//	if errs.IsDelivery(err) {
//	    // retried by the task engine
//	}
package errs

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Join         = crdb.Join
)

// User-facing messages and details
var (
	WithHint        = crdb.WithHint
	WithHintf       = crdb.WithHintf
	WithDetail      = crdb.WithDetail
	WithDetailf     = crdb.WithDetailf
	GetAllHints     = crdb.GetAllHints
	FlattenHints    = crdb.FlattenHints
	GetAllDetails   = crdb.GetAllDetails
	WithSafeDetails = crdb.WithSafeDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
	Mark      = crdb.Mark
	HasType   = crdb.HasType
)

// Kind markers. They are attached with Mark so errors.Is keeps matching after
// further wrapping.
var (
	// ErrScheduling marks a failure to persist, replace or remove a job.
	// Callers treat it as non-fatal: the task mutation has already succeeded.
	ErrScheduling = New("scheduling failed")

	// ErrDelivery marks a failed outbound message. Jobs carrying it are retried.
	ErrDelivery = New("delivery failed")

	// ErrInput marks user input that could not be interpreted.
	ErrInput = New("invalid input")

	// ErrState marks an event that does not match the current conversation step.
	ErrState = New("unexpected conversation state")

	// ErrSubmission marks a rejected or failed inbox submission.
	ErrSubmission = New("submission failed")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = New("not found")

	// ErrDisabled indicates a component is switched off by configuration.
	ErrDisabled = New("disabled")
)

func mark(err error, kind error, msg string) error {
	if err == nil {
		return nil
	}
	if msg != "" {
		err = Wrap(err, msg)
	}
	return Mark(err, kind)
}

// Scheduling wraps err as a scheduling error.
func Scheduling(err error, msg string) error { return mark(err, ErrScheduling, msg) }

// Delivery wraps err as a delivery error.
func Delivery(err error, msg string) error { return mark(err, ErrDelivery, msg) }

// Submission wraps err as a submission error.
func Submission(err error, msg string) error { return mark(err, ErrSubmission, msg) }

// Input creates an input error with a hint shown back to the user.
func Input(msg, hint string) error {
	err := Mark(New(msg), ErrInput)
	if hint != "" {
		err = WithHint(err, hint)
	}
	return err
}

// State creates a state error.
func State(format string, args ...any) error {
	return Mark(Newf(format, args...), ErrState)
}

// NotFound creates a not-found error with a formatted message.
func NotFound(format string, args ...any) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

func IsScheduling(err error) bool { return err != nil && Is(err, ErrScheduling) }
func IsDelivery(err error) bool   { return err != nil && Is(err, ErrDelivery) }
func IsInput(err error) bool      { return err != nil && Is(err, ErrInput) }
func IsState(err error) bool      { return err != nil && Is(err, ErrState) }
func IsSubmission(err error) bool { return err != nil && Is(err, ErrSubmission) }
func IsNotFound(err error) bool   { return err != nil && Is(err, ErrNotFound) }
func IsDisabled(err error) bool   { return err != nil && Is(err, ErrDisabled) }

// Hint returns the first hint attached to err, or "".
func Hint(err error) string {
	if err == nil {
		return ""
	}
	hints := GetAllHints(err)
	if len(hints) == 0 {
		return ""
	}
	return hints[0]
}
