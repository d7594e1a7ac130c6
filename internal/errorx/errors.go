package errorx

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrCacheMiss         = errors.New("cache miss")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrUpstream          = errors.New("upstream service failed")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the client-facing message.
func (e *ValidationError) Error() string {
	return e.Message
}

// Invalid creates a ValidationError for field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
