package queryengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Category classifies a terminal execution failure. The category picks
// both the retry decision and the user-facing suggestion.
type Category string

const (
	CategoryDataNotFound Category = "data_not_found"
	CategorySQLSyntax    Category = "sql_syntax"
	CategoryTimeout      Category = "timeout"
	CategoryPermission   Category = "permission"
	CategoryTransient    Category = "transient"
	CategoryUnknown      Category = "unknown"
)

// Error is a classified query engine failure.
type Error struct {
	Category Category
	Message  string // human-readable, safe to show the user
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Category, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Cause)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether the failure is worth retrying.
// Timeouts count as transient for retry-classification purposes.
func (e *Error) IsTransient() bool {
	return e.Category == CategoryTransient || e.Category == CategoryTimeout
}

// Suggestion returns a category-specific, actionable hint for the user.
func (e *Error) Suggestion() string {
	switch e.Category {
	case CategoryDataNotFound:
		return "No matching records were found. Try widening the date range or removing a filter."
	case CategorySQLSyntax:
		return "The generated query was malformed. Rephrasing the question usually fixes this."
	case CategoryTimeout:
		return "The query took too long. Try narrowing the date range or asking for fewer items."
	case CategoryPermission:
		return "You don't have access to some of the requested data."
	case CategoryTransient:
		return "The data warehouse is briefly unavailable. Please try again in a moment."
	default:
		return "Something went wrong running the query. Please try again or rephrase the question."
	}
}

// Classify wraps a raw engine error into a categorized *Error.
// Already-classified errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Category: CategoryTimeout, Message: "query timed out", Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Category: CategoryTimeout, Message: "query timed out", Cause: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "syntax error", "parse error", "no such column", "no such table",
		"unknown column", "undefined column", "undefined table", "does not exist"):
		return &Error{Category: CategorySQLSyntax, Message: "query was rejected by the engine", Cause: err}
	case containsAny(msg, "permission denied", "access denied", "unauthorized", "forbidden"):
		return &Error{Category: CategoryPermission, Message: "access to the requested data was denied", Cause: err}
	case containsAny(msg, "timeout", "deadline exceeded", "canceling statement due to statement timeout"):
		return &Error{Category: CategoryTimeout, Message: "query timed out", Cause: err}
	case containsAny(msg, "connection refused", "connection reset", "broken pipe", "too many connections",
		"throttl", "rate limit", "temporarily unavailable", "try again", "eof"):
		return &Error{Category: CategoryTransient, Message: "the data warehouse is temporarily unavailable", Cause: err}
	}

	return &Error{Category: CategoryUnknown, Message: "query execution failed", Cause: err}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
