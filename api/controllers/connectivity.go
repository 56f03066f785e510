package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/fieldsync/api/responses"
	"github.com/angelmondragon/fieldsync/api/validators"
	"github.com/angelmondragon/fieldsync/internal/connectivity"
	"github.com/angelmondragon/fieldsync/pkg/logger"
)

type ConnectivityState interface {
	Status() connectivity.Status
	SetReported(ctx context.Context, online bool)
}

// DrainWaker nudges the sync drain to run now.
type DrainWaker interface {
	Wake()
}

func GetConnectivity(state ConnectivityState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, state.Status())
	}
}

type connectivityRequest struct {
	Online *bool `json:"online" validate:"required"`
}

// SetConnectivity records the shell's network indicator. Coming back online
// wakes the drain so queued orders replay without waiting for the next poll.
func SetConnectivity(state ConnectivityState, drain DrainWaker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req connectivityRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		state.SetReported(r.Context(), *req.Online)
		status := state.Status()
		if status.Online && drain != nil {
			drain.Wake()
		}
		responses.WriteSuccess(w, status)
	}
}
