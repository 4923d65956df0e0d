package handlers

import (
	"context"
	"net/http"

	"github.com/upb/devportal-backend/models"
	"github.com/upb/devportal-backend/services"
	"github.com/upb/devportal-backend/utils"
	"go.uber.org/zap"
)

const defaultAuditPageSize = 50

// SignInAuditReader reads the sign-in audit trail
type SignInAuditReader interface {
	List(ctx context.Context, limit, offset int) ([]*models.SignInAttempt, error)
	Summary(ctx context.Context) (map[models.SignInOutcome]int, error)
}

// AuditDeps provides the audit reader for route wiring. Nil when the audit trail is off.
type AuditDeps interface {
	SignInAudit() SignInAuditReader
}

type auditPage struct {
	Limit  int `validate:"min=1,max=500"`
	Offset int `validate:"gte=0"`
}

// SignInAttemptsResponse is one page of the audit trail
type SignInAttemptsResponse struct {
	Attempts []*models.SignInAttempt `json:"attempts"`
	Limit    int                     `json:"limit"`
	Offset   int                     `json:"offset"`
}

// ListSignInAttemptsHandler returns an http.HandlerFunc for GET /api/v1/audit/signins
func ListSignInAttemptsHandler(deps AuditDeps, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reader := deps.SignInAudit()
		if reader == nil {
			HandleServiceError(w, services.ErrAuditDisabled, logger)
			return
		}

		page, err := parseAuditPage(r)
		if err != nil {
			HandleValidationError(w, err, logger)
			return
		}

		attempts, err := reader.List(r.Context(), page.Limit, page.Offset)
		if err != nil {
			HandleServiceError(w, err, logger)
			return
		}
		if attempts == nil {
			attempts = []*models.SignInAttempt{}
		}

		_ = utils.WriteOK(w, SignInAttemptsResponse{
			Attempts: attempts,
			Limit:    page.Limit,
			Offset:   page.Offset,
		})
	}
}

// SignInSummaryHandler returns an http.HandlerFunc for GET /api/v1/audit/signins/summary
func SignInSummaryHandler(deps AuditDeps, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reader := deps.SignInAudit()
		if reader == nil {
			HandleServiceError(w, services.ErrAuditDisabled, logger)
			return
		}

		counts, err := reader.Summary(r.Context())
		if err != nil {
			HandleServiceError(w, err, logger)
			return
		}

		summary := map[string]int{
			string(models.SignInAccepted): 0,
			string(models.SignInRejected): 0,
			string(models.SignInError):    0,
		}
		for outcome, n := range counts {
			summary[string(outcome)] = n
		}
		_ = utils.WriteOK(w, summary)
	}
}

func parseAuditPage(r *http.Request) (auditPage, error) {
	limit, err := utils.QueryInt(r, "limit", defaultAuditPageSize)
	if err != nil {
		return auditPage{}, err
	}
	offset, err := utils.QueryInt(r, "offset", 0)
	if err != nil {
		return auditPage{}, err
	}

	page := auditPage{Limit: limit, Offset: offset}
	if err := utils.ValidateStruct(&page); err != nil {
		return auditPage{}, err
	}
	return page, nil
}
