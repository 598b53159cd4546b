package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/litlb/coupon-api/internal/apperrors"
	domain "github.com/litlb/coupon-api/internal/domain"
	"github.com/litlb/coupon-api/internal/services"
)

type stubOrderService struct {
	updateOrderStatus func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (domain.OrderSnapshot, error)
}

func (s *stubOrderService) UpdateOrderStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (domain.OrderSnapshot, error) {
	if s.updateOrderStatus == nil {
		return domain.OrderSnapshot{}, errors.New("unexpected UpdateOrderStatus call")
	}
	return s.updateOrderStatus(ctx, cmd)
}

func newOrderRouter(svc services.OrderService) http.Handler {
	return NewRouter(WithOrderRoutes(NewOrderHandlers(svc).Routes))
}

func TestUpdateOrderStatusEndpoint(t *testing.T) {
	var captured services.UpdateOrderStatusCommand
	svc := &stubOrderService{
		updateOrderStatus: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (domain.OrderSnapshot, error) {
			captured = cmd
			return domain.OrderSnapshot{ID: cmd.OrderID, Version: 4, Status: cmd.Status}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPatch, "/order/v1/order-1/status", strings.NewReader(`{"status":"Confirmed"}`))
	rr := httptest.NewRecorder()

	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "order-1" || captured.Status != domain.OrderStatusConfirmed {
		t.Fatalf("command = %+v", captured)
	}

	var envelope struct {
		Data struct {
			ID      string `json:"id"`
			Version int64  `json:"version"`
			Status  string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if envelope.Data.Status != "Confirmed" || envelope.Data.Version != 4 {
		t.Fatalf("data = %+v", envelope.Data)
	}
}

func TestUpdateOrderStatusEndpointRequiresStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodPatch, "/order/v1/order-1/status", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()

	newOrderRouter(&stubOrderService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestUpdateOrderStatusEndpointRejectsUnknownStatus(t *testing.T) {
	svc := &stubOrderService{
		updateOrderStatus: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (domain.OrderSnapshot, error) {
			return domain.OrderSnapshot{}, apperrors.Validation("order_status_invalid", "unknown order status")
		},
	}

	req := httptest.NewRequest(http.MethodPatch, "/order/v1/order-1/status", strings.NewReader(`{"status":"Shipped"}`))
	rr := httptest.NewRecorder()

	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}

	var envelope struct {
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if envelope.ErrorCode != "order_status_invalid" {
		t.Fatalf("error code = %q", envelope.ErrorCode)
	}
}
