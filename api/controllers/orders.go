package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/restaurant-liveops/api/responses"
	"github.com/angelmondragon/restaurant-liveops/internal/orders"
	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
)

type orderTransitionResponse struct {
	OrderID uuid.UUID         `json:"order_id"`
	Status  enums.OrderStatus `json:"status"`
}

// AdvanceOrder moves the order one step forward in its lifecycle.
func AdvanceOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return transitionOrder(svc.Advance, logg)
}

// CancelOrder cancels any order that has not reached a terminal status.
func CancelOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return transitionOrder(svc.Cancel, logg)
}

func transitionOrder(apply func(context.Context, uuid.UUID) (enums.OrderStatus, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := uuidParam(r, "orderId", "order id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := apply(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, orderTransitionResponse{OrderID: orderID, Status: status})
	}
}
