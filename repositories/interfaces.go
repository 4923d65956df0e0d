package repositories

import (
	"context"

	"github.com/upb/devportal-backend/models"
)

// SignInAuditRepository handles sign-in audit trail operations
type SignInAuditRepository interface {
	// Insert records a sign-in attempt
	Insert(ctx context.Context, attempt *models.SignInAttempt) error

	// ListRecent retrieves attempts newest first with pagination
	ListRecent(ctx context.Context, limit, offset int) ([]*models.SignInAttempt, error)

	// CountByOutcome returns the number of recorded attempts per outcome
	CountByOutcome(ctx context.Context) (map[models.SignInOutcome]int, error)
}

// Repositories holds all repository instances
type Repositories struct {
	SignInAudit SignInAuditRepository
}
