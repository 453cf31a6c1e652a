package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	pkgerrors "github.com/angelmondragon/restaurant-liveops/pkg/errors"
	"github.com/angelmondragon/restaurant-liveops/pkg/logger"
	"github.com/angelmondragon/restaurant-liveops/pkg/metrics"
)

const (
	OperationAdvance = "advance"
	OperationCancel  = "cancel"
)

var forwardTransitions = map[enums.OrderStatus]enums.OrderStatus{
	enums.OrderStatusPending:        enums.OrderStatusConfirmed,
	enums.OrderStatusConfirmed:      enums.OrderStatusPreparing,
	enums.OrderStatusPreparing:      enums.OrderStatusReady,
	enums.OrderStatusReady:          enums.OrderStatusOutForDelivery,
	enums.OrderStatusOutForDelivery: enums.OrderStatusDelivered,
}

// NextStatus returns the forward successor of current, if any.
func NextStatus(current enums.OrderStatus) (enums.OrderStatus, bool) {
	next, ok := forwardTransitions[current]
	return next, ok
}

// CanCancel reports whether an order in current may still be cancelled.
func CanCancel(current enums.OrderStatus) bool {
	return current.IsValid() && !current.IsTerminal()
}

// Service moves orders through their lifecycle. The resulting change reaches
// clients through the change feed, never through the return value alone.
type Service interface {
	Advance(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, error)
}

type ServiceParams struct {
	Repository Repository
	Logger     *logger.Logger
	Metrics    *metrics.PipelineMetrics
}

type service struct {
	repo    Repository
	logg    *logger.Logger
	metrics *metrics.PipelineMetrics
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "orders repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		repo:    params.Repository,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

func (s *service) Advance(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, error) {
	return s.transition(ctx, OperationAdvance, orderID, NextStatus)
}

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, error) {
	return s.transition(ctx, OperationCancel, orderID, func(current enums.OrderStatus) (enums.OrderStatus, bool) {
		return enums.OrderStatusCancelled, CanCancel(current)
	})
}

func (s *service) transition(ctx context.Context, operation string, orderID uuid.UUID, rule func(enums.OrderStatus) (enums.OrderStatus, bool)) (enums.OrderStatus, error) {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":  orderID.String(),
		"operation": operation,
	})
	if orderID == uuid.Nil {
		s.metrics.IncTransition(operation, "invalid")
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	current, err := s.repo.FindOrderStatus(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.metrics.IncTransition(operation, "not_found")
			s.logg.Warn(ctx, "order not found for transition")
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		s.metrics.IncTransition(operation, "error")
		s.logg.Error(ctx, "failed to load order status", err)
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order status")
	}
	ctx = s.logg.WithField(ctx, "from", current.String())

	next, ok := rule(current)
	if !ok {
		s.metrics.IncTransition(operation, "invalid")
		s.logg.Warn(ctx, "order transition not allowed")
		return "", pkgerrors.New(pkgerrors.CodeInvalidTransition, "transition not allowed from current status").
			WithDetails(map[string]any{"from": current, "operation": operation})
	}
	ctx = s.logg.WithField(ctx, "to", next.String())

	result, err := s.repo.MutateOrderStatus(ctx, orderID, current, next)
	if err != nil {
		s.metrics.IncTransition(operation, "error")
		s.logg.Error(ctx, "failed to update order status", err)
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if result != MutationApplied {
		s.metrics.IncTransition(operation, "conflict")
		s.logg.Warn(s.logg.WithField(ctx, "mutation", result.String()), "order status changed concurrently")
		return "", pkgerrors.New(pkgerrors.CodeTransitionConflict, "order changed while transitioning").
			WithDetails(map[string]any{"from": current, "to": next})
	}

	s.metrics.IncTransition(operation, "applied")
	s.logg.Info(ctx, "order status transitioned")
	return next, nil
}
