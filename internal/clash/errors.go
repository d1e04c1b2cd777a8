package clash

import (
	"fmt"

	"github.com/John-Robertt/clash2singbox/internal/model"
)

// ParseError is returned for documents that cannot be read as a Clash
// configuration at all. Stage is always "parse_source".
type ParseError struct {
	AppError model.AppError
	Cause    error

	// Diagnostics holds the warnings reported before the failure.
	Diagnostics []model.Diagnostic
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// fieldError marks a structural problem at a node; ParseDocument turns it
// into a ParseError with the node's line and locator.
type fieldError struct {
	Code    string
	Message string
	Path    string
	Line    int
	Snippet string
	Cause   error
}

func (e *fieldError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Message, e.Cause)
}

func (e *fieldError) Unwrap() error { return e.Cause }
