package signin

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingEmail is returned when the authenticated profile carries no email
	ErrMissingEmail = errors.New("missing email")

	// ErrInvalidEmailFormat is returned when the email cannot be split into local-part and domain
	ErrInvalidEmailFormat = errors.New("invalid email format")

	// ErrDomainNotAllowed is returned when the email domain is not in a non-empty allow-list
	ErrDomainNotAllowed = errors.New("email domain not allowed")
)

// Error is a rejected sign-in. Kind is one of the sentinel errors above.
type Error struct {
	Kind  error
	Email string
}

// Error returns the message shown to the end user on the login page
func (e *Error) Error() string {
	switch e.Kind {
	case ErrMissingEmail:
		return "Login failed, user profile does not contain an email"
	case ErrInvalidEmailFormat:
		return fmt.Sprintf("Login failed, %q is not a valid email address", e.Email)
	case ErrDomainNotAllowed:
		return fmt.Sprintf("Login failed, the domain of %q is not an allowed email domain", e.Email)
	default:
		return fmt.Sprintf("Login failed: %v", e.Kind)
	}
}

// Unwrap lets errors.Is match the sentinel kind
func (e *Error) Unwrap() error {
	return e.Kind
}

func reject(kind error, email string) *Error {
	return &Error{Kind: kind, Email: email}
}

// IsRejection reports whether err is a policy rejection rather than an infrastructure failure
func IsRejection(err error) bool {
	var signInErr *Error
	return errors.As(err, &signInErr)
}
