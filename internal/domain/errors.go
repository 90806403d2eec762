package domain

import "errors"

// Error kinds surfaced to callers. Match with errors.Is.
var (
	ErrAuth   = errors.New("auth")
	ErrLookup = errors.New("lookup")
	ErrLink   = errors.New("link")
	ErrFormat = errors.New("format")

	// ErrNotConnected is returned by operations that need a verified bot.
	ErrNotConnected = errors.New("bot is not connected")
	// ErrGroupNotFound is returned when a group id is not tracked.
	ErrGroupNotFound = errors.New("group not found")
)

// Error carries a user-facing message together with its kind.
type Error struct {
	Kind    error
	Message string
	Err     error
}

// NewError builds an Error of the given kind.
func NewError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// KindName returns a short label for the error's kind, "" for unknown errors.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrLookup):
		return "lookup"
	case errors.Is(err, ErrLink):
		return "link"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrGroupNotFound):
		return "not_found"
	default:
		return ""
	}
}
