package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/fieldsync/api/middleware"
	"github.com/angelmondragon/fieldsync/api/responses"
	"github.com/angelmondragon/fieldsync/api/validators"
	"github.com/angelmondragon/fieldsync/internal/submission"
	"github.com/angelmondragon/fieldsync/pkg/logger"
)

type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, in submission.Input, opts submission.Options) (submission.Result, error)
}

type submitOrderRequest struct {
	OrderID        string            `json:"orderId" validate:"omitempty,max=64"`
	RetailerID     string            `json:"retailerId" validate:"required"`
	VisitID        *string           `json:"visitId"`
	OrderDate      string            `json:"orderDate" validate:"required,datetime=2006-01-02"`
	TotalAmount    float64           `json:"totalAmount" validate:"gte=0"`
	DiscountAmount float64           `json:"discountAmount" validate:"gte=0"`
	TaxAmount      float64           `json:"taxAmount" validate:"gte=0"`
	Notes          *string           `json:"notes" validate:"omitempty,max=1000"`
	Items          []submission.Item `json:"items" validate:"dive"`
	// Online is the shell's connectivity at capture time; absent means online.
	Online *bool `json:"online"`
}

func (req submitOrderRequest) input(userID string) (submission.Input, submission.Options) {
	opts := submission.Options{Online: true}
	if req.Online != nil {
		opts.Online = *req.Online
	}
	return submission.Input{
		OrderID:        req.OrderID,
		UserID:         userID,
		RetailerID:     req.RetailerID,
		VisitID:        req.VisitID,
		OrderDate:      req.OrderDate,
		TotalAmount:    req.TotalAmount,
		DiscountAmount: req.DiscountAmount,
		TaxAmount:      req.TaxAmount,
		Notes:          req.Notes,
		Items:          req.Items,
	}, opts
}

// SubmitOrder answers 201 when the backend confirmed the order and 202 when it
// was queued for replay.
func SubmitOrder(svc OrderSubmitter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req submitOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		in, opts := req.input(userID)
		res, err := svc.SubmitOrder(r.Context(), in, opts)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if res.Offline {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, res)
	}
}

func requireUser(r *http.Request) (string, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return "", errUnauthenticated
	}
	return userID, nil
}
