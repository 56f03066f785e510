package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/fieldsync/api/responses"
	"github.com/angelmondragon/fieldsync/api/validators"
	"github.com/angelmondragon/fieldsync/internal/snapshot"
	"github.com/angelmondragon/fieldsync/internal/visitstatus"
	"github.com/angelmondragon/fieldsync/pkg/enums"
	"github.com/angelmondragon/fieldsync/pkg/logger"
	"github.com/angelmondragon/fieldsync/pkg/tasks"
)

const maxReasonLength = 500

// DayService is the day-cache surface used by the day routes.
type DayService interface {
	LoadSnapshot(ctx context.Context, userID, date string) (*snapshot.Snapshot, bool)
	ClearDaySnapshot(ctx context.Context, userID, date string)
	UpdateVisitStatus(ctx context.Context, userID, date, retailerID string, status enums.VisitStatus, reason *string) error
	AddRetailerToDay(ctx context.Context, userID, date string, retailer snapshot.Retailer) error
	UpsertBeatPlan(ctx context.Context, userID, date string, plan snapshot.BeatPlan) error
	PrefetchDay(ctx context.Context, userID, date string) (*tasks.Run, bool)
	StartSession(ctx context.Context, userID, date string) (*tasks.Run, bool)
	VisitStatus(retailerID, date string) (visitstatus.Entry, bool)
	CleanupExpiredSnapshots(ctx context.Context, userID string) int
}

type dayScope struct {
	userID string
	date   string
}

func readDay(r *http.Request) (dayScope, error) {
	userID, err := requireUser(r)
	if err != nil {
		return dayScope{}, err
	}
	date, err := validators.ParseDayParam(r, "date")
	if err != nil {
		return dayScope{}, err
	}
	return dayScope{userID: userID, date: date}, nil
}

func GetDaySnapshot(svc DayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := readDay(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, ok := svc.LoadSnapshot(r.Context(), day.userID, day.date)
		if !ok {
			responses.WriteError(r.Context(), logg, w, errNoSnapshot)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

func ClearDaySnapshot(svc DayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := readDay(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		svc.ClearDaySnapshot(r.Context(), day.userID, day.date)
		w.WriteHeader(http.StatusNoContent)
	}
}

type visitStatusRequest struct {
	Status        enums.VisitStatus `json:"status" validate:"required,oneof=planned productive unproductive"`
	NoOrderReason *string           `json:"noOrderReason"`
}

func UpdateVisitStatus(svc DayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := readDay(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		retailerID, err := validators.ParseRequiredParam(r, "retailerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req visitStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var reason *string
		if req.NoOrderReason != nil {
			clean := validators.SanitizeString(*req.NoOrderReason, maxReasonLength)
			reason = &clean
		}
		if err := svc.UpdateVisitStatus(r.Context(), day.userID, day.date, retailerID, req.Status, reason); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, _ := svc.VisitStatus(retailerID, day.date)
		responses.WriteSuccess(w, visitStatusDTO(entry, retailerID, day.date, req.Status))
	}
}

type addRetailerRequest struct {
	ID      string  `json:"id" validate:"required,max=64"`
	Name    string  `json:"name" validate:"required,max=200"`
	Phone   *string `json:"phone" validate:"omitempty,max=32"`
	Address *string `json:"address" validate:"omitempty,max=500"`
}

func AddRetailerToDay(svc DayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := readDay(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req addRetailerRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		retailer := snapshot.Retailer{
			ID:      req.ID,
			Name:    validators.SanitizeString(req.Name, 200),
			Phone:   req.Phone,
			Address: req.Address,
		}
		if err := svc.AddRetailerToDay(r.Context(), day.userID, day.date, retailer); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, retailer)
	}
}

type beatPlanRequest struct {
	ID       string `json:"id" validate:"required_without=BeatID"`
	BeatID   string `json:"beatId"`
	BeatName string `json:"beatName" validate:"required,max=200"`
}

func UpsertBeatPlan(svc DayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := readDay(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req beatPlanRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		plan := snapshot.BeatPlan{ID: req.ID, BeatID: req.BeatID, BeatName: req.BeatName}
		if err := svc.UpsertBeatPlan(r.Context(), day.userID, day.date, plan); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, plan)
	}
}

// PrefetchDay starts a background refresh of the day and answers immediately.
func PrefetchDay(svc DayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := readDay(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		_, started := svc.PrefetchDay(r.Context(), day.userID, day.date)
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{"started": started, "date": day.date})
	}
}

// StartSession restores the cached day for the signed-in rep and prefetches it.
func StartSession(svc DayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := readDay(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		_, started := svc.StartSession(r.Context(), day.userID, day.date)
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{"prefetchStarted": started, "date": day.date})
	}
}

func GetVisitStatus(svc DayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := readDay(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		retailerID, err := validators.ParseRequiredParam(r, "retailerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, ok := svc.VisitStatus(retailerID, day.date)
		if !ok || (entry.UserID != "" && entry.UserID != day.userID) {
			responses.WriteError(r.Context(), logg, w, errNoVisitStatus)
			return
		}
		responses.WriteSuccess(w, visitStatusDTO(entry, retailerID, day.date, entry.Status))
	}
}

func CleanupSnapshots(svc DayService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		removed := svc.CleanupExpiredSnapshots(r.Context(), userID)
		responses.WriteSuccess(w, map[string]int{"removed": removed})
	}
}
