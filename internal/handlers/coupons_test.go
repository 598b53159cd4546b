package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/litlb/coupon-api/internal/apperrors"
	"github.com/litlb/coupon-api/internal/clients/promoengine"
	domain "github.com/litlb/coupon-api/internal/domain"
	"github.com/litlb/coupon-api/internal/services"
)

type stubCouponService struct {
	applyCoupons  func(ctx context.Context, cmd services.ApplyCouponsCommand) (services.ApplyCouponsResult, error)
	listCoupons   func(ctx context.Context, filter promoengine.CouponFilter) ([]domain.CouponDefinition, error)
	couponHistory func(ctx context.Context, cartID string, limit int) ([]domain.CouponHistoryRecord, error)
}

func (s *stubCouponService) ApplyCoupons(ctx context.Context, cmd services.ApplyCouponsCommand) (services.ApplyCouponsResult, error) {
	if s.applyCoupons == nil {
		return services.ApplyCouponsResult{}, errors.New("unexpected ApplyCoupons call")
	}
	return s.applyCoupons(ctx, cmd)
}

func (s *stubCouponService) ListCoupons(ctx context.Context, filter promoengine.CouponFilter) ([]domain.CouponDefinition, error) {
	if s.listCoupons == nil {
		return nil, errors.New("unexpected ListCoupons call")
	}
	return s.listCoupons(ctx, filter)
}

func (s *stubCouponService) CouponHistory(ctx context.Context, cartID string, limit int) ([]domain.CouponHistoryRecord, error) {
	if s.couponHistory == nil {
		return nil, errors.New("unexpected CouponHistory call")
	}
	return s.couponHistory(ctx, cartID, limit)
}

func newCouponRouter(svc services.CouponService) http.Handler {
	return NewRouter(WithCouponRoutes(NewCouponHandlers(svc).Routes))
}

func TestApplyCouponsEndpointSuccess(t *testing.T) {
	var captured services.ApplyCouponsCommand
	svc := &stubCouponService{
		applyCoupons: func(_ context.Context, cmd services.ApplyCouponsCommand) (services.ApplyCouponsResult, error) {
			captured = cmd
			return services.ApplyCouponsResult{
				Cart: domain.CartSnapshot{
					ID:      "cart-1",
					Version: 5,
					CustomLineItems: []domain.CustomLineItem{
						{ID: "line-1", Name: "SUMMER10", Slug: "coupon-SUMMER10", Money: domain.Money{CurrencyCode: "THB", CentAmount: -15000}},
					},
					TotalPrice: domain.Money{CurrencyCode: "THB", CentAmount: 135000},
				},
				AcceptedCoupons: []string{"SUMMER10"},
				RejectedCoupons: []domain.RejectedCoupon{{Code: "EXPIRED1", Reason: domain.RejectionCouponExpired}},
			}, nil
		},
	}

	body := strings.NewReader(`{"couponCodes":["SUMMER10","EXPIRED1"],"removeCouponCodes":["OLD1"]}`)
	req := httptest.NewRequest(http.MethodPost, "/coupon/v1/cart-1/coupons", body)
	rr := httptest.NewRecorder()

	newCouponRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if captured.CartID != "cart-1" {
		t.Fatalf("cart id = %q", captured.CartID)
	}
	if len(captured.CouponCodes) != 2 || len(captured.RemoveCouponCodes) != 1 {
		t.Fatalf("command = %+v", captured)
	}

	var envelope struct {
		StatusCode    int    `json:"statusCode"`
		StatusMessage string `json:"statusMessage"`
		Data          struct {
			ID      string `json:"id"`
			Version int64  `json:"version"`
			Coupons struct {
				AcceptedCoupons []string `json:"acceptedCoupons"`
				RejectedCoupons []struct {
					Code   string `json:"code"`
					Reason string `json:"reason"`
				} `json:"rejectedCoupons"`
			} `json:"coupons"`
			CustomLineItems []struct {
				Slug string `json:"slug"`
			} `json:"customLineItems"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if envelope.StatusMessage != "success" {
		t.Fatalf("status message = %q", envelope.StatusMessage)
	}
	if envelope.Data.Version != 5 {
		t.Fatalf("cart version = %d", envelope.Data.Version)
	}
	if len(envelope.Data.Coupons.AcceptedCoupons) != 1 || envelope.Data.Coupons.AcceptedCoupons[0] != "SUMMER10" {
		t.Fatalf("accepted = %v", envelope.Data.Coupons.AcceptedCoupons)
	}
	if len(envelope.Data.Coupons.RejectedCoupons) != 1 || envelope.Data.Coupons.RejectedCoupons[0].Reason != domain.RejectionCouponExpired {
		t.Fatalf("rejected = %v", envelope.Data.Coupons.RejectedCoupons)
	}
	if len(envelope.Data.CustomLineItems) != 1 || envelope.Data.CustomLineItems[0].Slug != "coupon-SUMMER10" {
		t.Fatalf("custom lines = %v", envelope.Data.CustomLineItems)
	}
}

func TestApplyCouponsEndpointRequiresBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/coupon/v1/cart-1/coupons", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()

	newCouponRouter(&stubCouponService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestApplyCouponsEndpointValidationError(t *testing.T) {
	svc := &stubCouponService{
		applyCoupons: func(context.Context, services.ApplyCouponsCommand) (services.ApplyCouponsResult, error) {
			return services.ApplyCouponsResult{}, apperrors.Validation("coupon_limit_exceeded", "coupon code limit exceeded").WithData(map[string]any{
				"limit":     3,
				"submitted": 4,
			})
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/coupon/v1/cart-1/coupons", strings.NewReader(`{"couponCodes":["A","B","C","D"]}`))
	rr := httptest.NewRecorder()

	newCouponRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}

	var envelope struct {
		ErrorCode string         `json:"errorCode"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if envelope.ErrorCode != "coupon_limit_exceeded" {
		t.Fatalf("error code = %q", envelope.ErrorCode)
	}
	if envelope.Data["limit"] != float64(3) {
		t.Fatalf("data = %+v", envelope.Data)
	}
}

func TestApplyCouponsEndpointCartNotFound(t *testing.T) {
	svc := &stubCouponService{
		applyCoupons: func(context.Context, services.ApplyCouponsCommand) (services.ApplyCouponsResult, error) {
			return services.ApplyCouponsResult{}, apperrors.NotFound("cart_not_found", "cart not found")
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/coupon/v1/missing/coupons", strings.NewReader(`{"couponCodes":["A"]}`))
	rr := httptest.NewRecorder()

	newCouponRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestApplyCouponsEndpointRetriesExhausted(t *testing.T) {
	svc := &stubCouponService{
		applyCoupons: func(context.Context, services.ApplyCouponsCommand) (services.ApplyCouponsResult, error) {
			return services.ApplyCouponsResult{}, apperrors.RetriesExhausted("retries_exhausted", "write abandoned after retry budget", nil).WithData(map[string]any{
				"deadLetterId": "dl-1",
				"objectPath":   "gs://dead-letters/cart-1.json",
			})
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/coupon/v1/cart-1/coupons", strings.NewReader(`{"couponCodes":["A"]}`))
	rr := httptest.NewRecorder()

	newCouponRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}

	var envelope struct {
		ErrorCode string         `json:"errorCode"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if envelope.Data["deadLetterId"] != "dl-1" {
		t.Fatalf("dead letter reference missing: %+v", envelope.Data)
	}
}

func TestListCouponsEndpointAppliesFilters(t *testing.T) {
	var captured promoengine.CouponFilter
	svc := &stubCouponService{
		listCoupons: func(_ context.Context, filter promoengine.CouponFilter) ([]domain.CouponDefinition, error) {
			captured = filter
			return []domain.CouponDefinition{{Code: "SUMMER10", Journey: "postpaid"}}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/coupon/v1/coupons?skus=SKU-1,SKU-2&journey=postpaid&campaignGroup=summer", nil)
	rr := httptest.NewRecorder()

	newCouponRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if len(captured.SKUs) != 2 || captured.Journey != "postpaid" || captured.CampaignGroup != "summer" {
		t.Fatalf("filter = %+v", captured)
	}

	var envelope struct {
		Data struct {
			Coupons []struct {
				Code string `json:"code"`
			} `json:"coupons"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(envelope.Data.Coupons) != 1 || envelope.Data.Coupons[0].Code != "SUMMER10" {
		t.Fatalf("coupons = %+v", envelope.Data.Coupons)
	}
}

func TestCouponHistoryEndpoint(t *testing.T) {
	svc := &stubCouponService{
		couponHistory: func(_ context.Context, cartID string, limit int) ([]domain.CouponHistoryRecord, error) {
			if cartID != "cart-1" {
				t.Fatalf("cart id = %q", cartID)
			}
			if limit != 5 {
				t.Fatalf("limit = %d", limit)
			}
			return []domain.CouponHistoryRecord{
				{
					ID:              "hist-1",
					CartID:          cartID,
					ProfileID:       "profile-1",
					AcceptedCoupons: []string{"SUMMER10"},
					RejectedCoupons: []domain.RejectedCoupon{{Code: "EXPIRED1", Reason: domain.RejectionCouponExpired}},
					ActionCount:     1,
					CartVersion:     5,
					RecordedAt:      time.Unix(1_700_000_000, 0),
				},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/coupon/v1/cart-1/coupons/history?limit=5", nil)
	rr := httptest.NewRecorder()

	newCouponRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var envelope struct {
		Data struct {
			History []struct {
				ID              string   `json:"id"`
				AcceptedCoupons []string `json:"acceptedCoupons"`
				CartVersion     int64    `json:"cartVersion"`
				RecordedAt      string   `json:"recordedAt"`
			} `json:"history"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(envelope.Data.History) != 1 {
		t.Fatalf("history = %+v", envelope.Data.History)
	}
	record := envelope.Data.History[0]
	if record.ID != "hist-1" || record.CartVersion != 5 {
		t.Fatalf("record = %+v", record)
	}
	if record.RecordedAt != "2023-11-14T22:13:20Z" {
		t.Fatalf("recordedAt = %q", record.RecordedAt)
	}
}

func TestCouponHistoryEndpointRejectsBadLimit(t *testing.T) {
	svc := &stubCouponService{
		couponHistory: func(context.Context, string, int) ([]domain.CouponHistoryRecord, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/coupon/v1/cart-1/coupons/history?limit=abc", nil)
	rr := httptest.NewRecorder()

	newCouponRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
}
