package services

import (
	"context"
	"testing"
	"time"

	"github.com/litlb/coupon-api/internal/apperrors"
	domain "github.com/litlb/coupon-api/internal/domain"
)

func newTestOrderService(t *testing.T, store *stubCartStore, deadLetters *stubDeadLetterStore, sleeps *[]time.Duration) OrderService {
	t.Helper()
	service, err := NewOrderService(OrderServiceDeps{
		CartStore:      store,
		Pipeline:       pipelineDeps(deadLetters, nil, sleeps),
		MaxAttempts:    2,
		RetryBaseDelay: time.Second,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return service
}

func TestUpdateOrderStatusTransitions(t *testing.T) {
	store := &stubCartStore{
		getOrder: func(_ context.Context, orderID string) (domain.OrderSnapshot, error) {
			return domain.OrderSnapshot{ID: orderID, Version: 3, Status: domain.OrderStatusOpen}, nil
		},
		updateOrderStatus: func(_ context.Context, orderID string, version int64, status domain.OrderStatus) (domain.OrderSnapshot, error) {
			if version != 3 {
				t.Fatalf("version = %d, want 3", version)
			}
			if status != domain.OrderStatusConfirmed {
				t.Fatalf("status = %q, want Confirmed", status)
			}
			return domain.OrderSnapshot{ID: orderID, Version: 4, Status: status}, nil
		},
	}

	order, err := newTestOrderService(t, store, &stubDeadLetterStore{}, nil).UpdateOrderStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "order-1",
		Status:  domain.OrderStatusConfirmed,
	})
	if err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	if order.Version != 4 || order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("order = %+v, want confirmed v4", order)
	}
}

func TestUpdateOrderStatusAlreadyInTargetState(t *testing.T) {
	store := &stubCartStore{
		getOrder: func(_ context.Context, orderID string) (domain.OrderSnapshot, error) {
			return domain.OrderSnapshot{ID: orderID, Version: 5, Status: domain.OrderStatusConfirmed}, nil
		},
		updateOrderStatus: func(context.Context, string, int64, domain.OrderStatus) (domain.OrderSnapshot, error) {
			t.Fatal("no write expected when already in target state")
			return domain.OrderSnapshot{}, nil
		},
	}

	order, err := newTestOrderService(t, store, &stubDeadLetterStore{}, nil).UpdateOrderStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "order-1",
		Status:  domain.OrderStatusConfirmed,
	})
	if err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	if order.Version != 5 {
		t.Fatalf("order = %+v, want untouched snapshot", order)
	}
}

func TestUpdateOrderStatusRejectsUnknownStatus(t *testing.T) {
	_, err := newTestOrderService(t, &stubCartStore{}, &stubDeadLetterStore{}, nil).UpdateOrderStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "order-1",
		Status:  "Shipped",
	})
	if !apperrors.IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestUpdateOrderStatusBacksOffAndDeadLetters(t *testing.T) {
	deadLetters := &stubDeadLetterStore{}
	var sleeps []time.Duration
	fetches := 0
	store := &stubCartStore{
		getOrder: func(_ context.Context, orderID string) (domain.OrderSnapshot, error) {
			fetches++
			return domain.OrderSnapshot{ID: orderID, Version: int64(fetches), Status: domain.OrderStatusOpen}, nil
		},
		updateOrderStatus: func(context.Context, string, int64, domain.OrderStatus) (domain.OrderSnapshot, error) {
			return domain.OrderSnapshot{}, apperrors.Conflict("version_conflict", "stale version")
		},
	}

	_, err := newTestOrderService(t, store, deadLetters, &sleeps).UpdateOrderStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "order-1",
		Status:  domain.OrderStatusComplete,
	})

	appErr, ok := apperrors.As(err)
	if !ok || appErr.Kind != apperrors.KindRetriesExhausted {
		t.Fatalf("err = %v, want retries exhausted", err)
	}
	if fetches != 3 {
		t.Fatalf("fetches = %d, want maxAttempts+1 = 3", fetches)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeps) != len(want) || sleeps[0] != want[0] || sleeps[1] != want[1] {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
	if len(deadLetters.records) != 1 || deadLetters.records[0].EntityID != "order-1" || deadLetters.records[0].FailedStep != "order_status_update" {
		t.Fatalf("dead letters = %+v", deadLetters.records)
	}
}
