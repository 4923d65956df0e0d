package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/upb/devportal-backend/models"
	"github.com/upb/devportal-backend/repositories"
	"go.uber.org/zap"
)

const maxListLimit = 500

// SignInAuditRepository implements the repositories.SignInAuditRepository interface
type SignInAuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSignInAuditRepository creates a new sign-in audit repository
func NewSignInAuditRepository(db *DB, logger *zap.Logger) repositories.SignInAuditRepository {
	return &SignInAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert records a sign-in attempt
func (r *SignInAuditRepository) Insert(ctx context.Context, attempt *models.SignInAttempt) error {
	query := `
		INSERT INTO signin_attempts (
			id, provider, email, user_entity_ref, outcome, reason,
			request_id, ip_address, user_agent, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.Provider,
		nullString(attempt.Email),
		nullString(attempt.UserEntityRef),
		attempt.Outcome,
		nullString(attempt.Reason),
		attempt.RequestID,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sign-in attempt: %w", err)
	}

	r.logger.Debug("sign-in attempt recorded",
		zap.String("id", attempt.ID.String()),
		zap.String("outcome", string(attempt.Outcome)))
	return nil
}

// ListRecent retrieves attempts newest first with pagination
func (r *SignInAuditRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.SignInAttempt, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, provider, email, user_entity_ref, outcome, reason,
		       request_id, ip_address, user_agent, timestamp
		FROM signin_attempts
		ORDER BY timestamp DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sign-in attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]*models.SignInAttempt, 0)
	for rows.Next() {
		attempt, err := scanSignInAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sign-in attempts: %w", err)
	}

	return attempts, nil
}

// CountByOutcome returns the number of recorded attempts per outcome
func (r *SignInAuditRepository) CountByOutcome(ctx context.Context) (map[models.SignInOutcome]int, error) {
	query := `SELECT outcome, COUNT(*) FROM signin_attempts GROUP BY outcome`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count sign-in attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SignInOutcome]int)
	for rows.Next() {
		var outcome models.SignInOutcome
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcome counts: %w", err)
	}

	return counts, nil
}

func scanSignInAttempt(rows *sql.Rows) (*models.SignInAttempt, error) {
	attempt := &models.SignInAttempt{}
	var email, ref, reason, requestID, ip, userAgent sql.NullString

	err := rows.Scan(
		&attempt.ID,
		&attempt.Provider,
		&email,
		&ref,
		&attempt.Outcome,
		&reason,
		&requestID,
		&ip,
		&userAgent,
		&attempt.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sign-in attempt: %w", err)
	}

	attempt.Email = email.String
	attempt.UserEntityRef = ref.String
	attempt.Reason = reason.String
	attempt.RequestID = requestID.String
	attempt.IPAddress = ip.String
	attempt.UserAgent = userAgent.String
	return attempt, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
