package rule

import (
	"context"
	"errors"
)

// Rule is a synchronous business predicate evaluated before a mutation.
// Code is a stable machine-readable identifier safe to report; Message is
// human wording that callers may localize.
type Rule interface {
	Code() string
	Message() string
	IsBroken() bool
}

// ContextRule is a rule whose evaluation may suspend on storage or other
// I/O (e.g. uniqueness checks). Pure in-memory rules implement [Rule] and
// never pay the suspension cost.
type ContextRule interface {
	Code() string
	Message() string
	IsBrokenContext(ctx context.Context) (bool, error)
}

// Violation is the error returned when a rule reports broken. It is
// distinct from validation errors (structurally invalid input) and from
// not-found or conflict conditions.
type Violation struct {
	code    string
	message string
}

// Broken wraps a broken rule's code and message into a [Violation].
func Broken(code, message string) *Violation {
	return &Violation{code: code, message: message}
}

func (v *Violation) Error() string { return v.code + ": " + v.message }

// Code returns the stable rule identifier.
func (v *Violation) Code() string { return v.code }

// Message returns the human-readable rule wording.
func (v *Violation) Message() string { return v.message }

// Check evaluates rules in order and returns a [Violation] for the first
// broken one. A nil return means every rule passed.
func Check(rules ...Rule) error {
	for _, r := range rules {
		if r.IsBroken() {
			return Broken(r.Code(), r.Message())
		}
	}
	return nil
}

// CheckContext evaluates suspending rules in order. An evaluation error
// propagates as-is; a broken rule returns a [Violation].
func CheckContext(ctx context.Context, rules ...ContextRule) error {
	for _, r := range rules {
		broken, err := r.IsBrokenContext(ctx)
		if err != nil {
			return err
		}
		if broken {
			return Broken(r.Code(), r.Message())
		}
	}
	return nil
}

// IsViolation reports whether err is (or wraps) a rule violation.
func IsViolation(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}

// ViolationCode returns the rule code carried by err, or "" when err is
// not a violation.
func ViolationCode(err error) string {
	var v *Violation
	if errors.As(err, &v) {
		return v.Code()
	}
	return ""
}
