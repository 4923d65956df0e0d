package models

import (
	"time"

	"github.com/google/uuid"
)

// SignInOutcome is the result of a single login attempt
type SignInOutcome string

const (
	SignInAccepted SignInOutcome = "accepted"
	SignInRejected SignInOutcome = "rejected"
	SignInError    SignInOutcome = "error"
)

// SignInAttempt is one entry of the sign-in audit trail
type SignInAttempt struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	Provider      string        `json:"provider" db:"provider"`
	Email         string        `json:"email,omitempty" db:"email"`
	UserEntityRef string        `json:"user_entity_ref,omitempty" db:"user_entity_ref"`
	Outcome       SignInOutcome `json:"outcome" db:"outcome"`
	Reason        string        `json:"reason,omitempty" db:"reason"`
	RequestID     string        `json:"request_id" db:"request_id"`
	IPAddress     string        `json:"ip_address" db:"ip_address"`
	UserAgent     string        `json:"user_agent" db:"user_agent"`
	Timestamp     time.Time     `json:"timestamp" db:"timestamp"`
}

// NewSignInAttempt creates a new attempt for provider with the given outcome
func NewSignInAttempt(provider string, outcome SignInOutcome) *SignInAttempt {
	return &SignInAttempt{
		ID:        uuid.New(),
		Provider:  provider,
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
	}
}

// WithIdentity sets the email and, for accepted attempts, the resolved user reference
func (a *SignInAttempt) WithIdentity(email, userEntityRef string) *SignInAttempt {
	a.Email = email
	a.UserEntityRef = userEntityRef
	return a
}

// WithReason sets the failure reason
func (a *SignInAttempt) WithReason(reason string) *SignInAttempt {
	a.Reason = reason
	return a
}

// WithRequest sets request metadata
func (a *SignInAttempt) WithRequest(requestID, ipAddress, userAgent string) *SignInAttempt {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}
