package cdp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgnsrekt/ai_notifier/internal/tracker"
)

const (
	CodeValidation     = "VALIDATION"
	CodeTabNotFound    = "TAB_NOT_FOUND"
	CodeCDPUnavailable = "CDP_UNAVAILABLE"
	CodeCDPFailure     = "CDP_FAILURE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// tabNotFound wraps tracker.ErrTabNotFound so callers can match with errors.Is.
func tabNotFound(tabID int, cause error) error {
	err := tracker.ErrTabNotFound
	if cause != nil {
		err = fmt.Errorf("%w: %v", tracker.ErrTabNotFound, cause)
	}
	return newError(CodeTabNotFound, fmt.Sprintf("tab %d", tabID), err)
}

// protocolError is an error reply from the browser.
type protocolError struct {
	Method  string
	Code    int64
	Message string
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("rawcdp: %s: %s", e.Method, e.Message)
}

// isMissingTarget reports whether err says the target or session no longer
// exists.
func isMissingTarget(err error) bool {
	var pe *protocolError
	if !errors.As(err, &pe) {
		return false
	}
	msg := strings.ToLower(pe.Message)
	return strings.Contains(msg, "no target with given id") ||
		strings.Contains(msg, "no browser window for target") ||
		strings.Contains(msg, "session with given id not found") ||
		strings.Contains(msg, "no session with given id")
}
