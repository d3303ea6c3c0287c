package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a workflow failure. Every kind is rendered to the
// user as a single message; none carries internal detail.
type ErrorKind int

const (
	// ErrValidation is a user-correctable problem with one form field.
	ErrValidation ErrorKind = iota + 1
	// ErrInvalidRequest is a failed CSRF check.
	ErrInvalidRequest
	ErrDuplicateEmail
	// ErrAuthFailure covers both an unknown email and a wrong password.
	ErrAuthFailure
	// ErrVerificationFailure covers a missing, wrong or expired code.
	ErrVerificationFailure
	// ErrPersistence is a rolled-back transaction or an unexpected store error.
	ErrPersistence
	// ErrMailFailure is returned only where sending mail is the whole point
	// of the request (resend). Elsewhere it degrades to a MailOutcome.
	ErrMailFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ErrValidation:
		return "validation"
	case ErrInvalidRequest:
		return "invalid_request"
	case ErrDuplicateEmail:
		return "duplicate_email"
	case ErrAuthFailure:
		return "auth_failure"
	case ErrVerificationFailure:
		return "verification_failure"
	case ErrPersistence:
		return "persistence"
	case ErrMailFailure:
		return "mail_failure"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the user-facing failure of a workflow step. Message is safe to
// show; Err, when set, is the internal cause and is only logged.
type Error struct {
	Kind    ErrorKind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err if it is (or wraps) an *Error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k ErrorKind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

// UserMessage returns the text to render for err. Anything that is not an
// *Error gets the generic persistence text.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return MsgTryAgainLater
}

func validationError(field, msg string) *Error {
	return &Error{Kind: ErrValidation, Field: field, Message: msg}
}

var (
	// ErrNotAuthenticated means the session has no signed-in user.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNoPendingVerification means the session is not awaiting a code.
	ErrNoPendingVerification = errors.New("no pending verification")
)

// MailOutcome is the result of the best-effort email sent after commit.
type MailOutcome int

const (
	MailNotSent MailOutcome = iota
	MailSent
	MailFailed
)

func (m MailOutcome) String() string {
	switch m {
	case MailSent:
		return "sent"
	case MailFailed:
		return "failed"
	}
	return "not_sent"
}

// Outcome is what a successful workflow step asks the HTTP layer to do.
type Outcome struct {
	// Redirect is the next location; empty means re-render the page.
	Redirect string
	// Notice is an inline success message for re-rendered pages.
	Notice string
	Mail   MailOutcome
	// ResendDisabled hides the resend button on the rendered page.
	ResendDisabled bool
}
