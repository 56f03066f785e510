package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fieldsync/api/responses"
	"github.com/angelmondragon/fieldsync/api/validators"
	"github.com/angelmondragon/fieldsync/pkg/db/models"
	"github.com/angelmondragon/fieldsync/pkg/logger"
	"github.com/angelmondragon/fieldsync/pkg/pagination"
)

type SyncService interface {
	ListFailedSyncs(ctx context.Context, userID string, params pagination.Params) (pagination.Page[models.SyncDLQ], error)
	RetryFailedSync(ctx context.Context, userID string, dlqID uuid.UUID) (*models.SyncOperation, error)
	PendingSyncs(ctx context.Context, userID string) (int64, error)
}

func ListDeadLetters(svc SyncService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListFailedSyncs(r.Context(), userID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, asDependency(err, "list dead letters"))
			return
		}
		out := pagination.Page[DeadLetterResponse]{
			Items:      make([]DeadLetterResponse, 0, len(page.Items)),
			NextCursor: page.NextCursor,
		}
		for _, row := range page.Items {
			out.Items = append(out.Items, deadLetterDTO(row))
		}
		responses.WriteSuccess(w, out)
	}
}

// RetryDeadLetter re-enqueues a dead-lettered operation under its original idempotency key.
func RetryDeadLetter(svc SyncService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dlqID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		op, err := svc.RetryFailedSync(r.Context(), userID, dlqID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, asDependency(err, "retry dead letter"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, syncOperationDTO(*op))
	}
}

func PendingSyncs(svc SyncService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pending, err := svc.PendingSyncs(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, asDependency(err, "count pending syncs"))
			return
		}
		responses.WriteSuccess(w, map[string]int64{"pending": pending})
	}
}
