package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/litlb/coupon-api/internal/apperrors"
	domain "github.com/litlb/coupon-api/internal/domain"
)

// OrderServiceDeps lists the collaborators for order-state transitions.
type OrderServiceDeps struct {
	CartStore CartStore
	Pipeline  WritePipelineDeps

	MaxAttempts    int
	RetryBaseDelay time.Duration
}

type orderService struct {
	store       CartStore
	pipeline    WritePipelineDeps
	maxAttempts int
	backoff     func(attempt int) time.Duration
}

// NewOrderService wires the order status write path. Unlike the cart path,
// conflict retries back off exponentially because order transitions race with
// store-side fulfilment webhooks rather than with user typing.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.CartStore == nil {
		return nil, errors.New("order service: cart store is required")
	}
	if deps.Pipeline.DeadLetters == nil {
		return nil, errors.New("order service: dead letter store is required")
	}
	if deps.MaxAttempts < 0 {
		return nil, errors.New("order service: max attempts must not be negative")
	}
	if deps.RetryBaseDelay <= 0 {
		return nil, errors.New("order service: retry base delay must be positive")
	}

	return &orderService{
		store:       deps.CartStore,
		pipeline:    deps.Pipeline.normalised(),
		maxAttempts: deps.MaxAttempts,
		backoff:     ExponentialBackoff(deps.RetryBaseDelay),
	}, nil
}

// UpdateOrderStatus transitions the order through the retrying write
// pipeline. Already being in the target state counts as success.
func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.OrderSnapshot, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.OrderSnapshot{}, apperrors.Validation("order_id_required", "order id is required")
	}
	status := domain.OrderStatus(strings.TrimSpace(string(cmd.Status)))
	if !status.Valid() {
		return domain.OrderSnapshot{}, apperrors.Validation("order_status_invalid", "unknown order status").WithData(map[string]any{
			"status": string(cmd.Status),
		})
	}

	return ExecuteWrite(ctx, s.pipeline, WritePlan[domain.OrderSnapshot]{
		EntityID:    orderID,
		EntityType:  "order",
		Step:        "order_status_update",
		MaxAttempts: s.maxAttempts,
		Backoff:     s.backoff,
		Fetch: func(ctx context.Context) (domain.OrderSnapshot, error) {
			return s.store.GetOrder(ctx, orderID)
		},
		Attempt: func(ctx context.Context, latest domain.OrderSnapshot) (domain.OrderSnapshot, error) {
			if latest.Status == status {
				return latest, nil
			}
			return s.store.UpdateOrderStatus(ctx, latest.ID, latest.Version, status)
		},
		PriorStateID: func(latest domain.OrderSnapshot) string {
			return strconv.FormatInt(latest.Version, 10)
		},
	})
}
