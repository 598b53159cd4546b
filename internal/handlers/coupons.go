package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/litlb/coupon-api/internal/apperrors"
	"github.com/litlb/coupon-api/internal/clients/promoengine"
	domain "github.com/litlb/coupon-api/internal/domain"
	"github.com/litlb/coupon-api/internal/platform/auth"
	"github.com/litlb/coupon-api/internal/platform/httpx"
	"github.com/litlb/coupon-api/internal/services"
)

var errBodyTooLarge = errors.New("request body too large")

const maxCouponBodySize = 16 * 1024

// CouponHandlers exposes the authenticated coupon endpoints.
type CouponHandlers struct {
	coupons services.CouponService
}

// NewCouponHandlers constructs handlers over the coupon service.
func NewCouponHandlers(coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{coupons: coupons}
}

// Routes wires the /coupon/v1 endpoints onto the provided router.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/coupons", h.listCoupons)
	r.Post("/{cartId}/coupons", h.applyCoupons)
	r.Get("/{cartId}/coupons/history", h.listHistory)
}

type applyCouponsRequest struct {
	CouponCodes       []string `json:"couponCodes"`
	RemoveCouponCodes []string `json:"removeCouponCodes"`
}

func (h *CouponHandlers) applyCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cartID := strings.TrimSpace(chi.URLParam(r, "cartId"))
	if cartID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCouponBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var req applyCouponsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if len(req.CouponCodes) == 0 && len(req.RemoveCouponCodes) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "couponCodes or removeCouponCodes is required", http.StatusBadRequest))
		return
	}

	cmd := services.ApplyCouponsCommand{
		CartID:            cartID,
		CouponCodes:       req.CouponCodes,
		RemoveCouponCodes: req.RemoveCouponCodes,
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		cmd.ActorID = identity.UID
	}

	result, err := h.coupons.ApplyCoupons(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, buildCartView(result))
}

func (h *CouponHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	filter := promoengine.CouponFilter{
		Journey:       strings.TrimSpace(r.URL.Query().Get("journey")),
		CampaignGroup: strings.TrimSpace(r.URL.Query().Get("campaignGroup")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("skus")); raw != "" {
		for _, sku := range strings.Split(raw, ",") {
			if sku = strings.TrimSpace(sku); sku != "" {
				filter.SKUs = append(filter.SKUs, sku)
			}
		}
	}

	coupons, err := h.coupons.ListCoupons(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := make([]couponDefinitionPayload, 0, len(coupons))
	for _, coupon := range coupons {
		payload = append(payload, buildCouponDefinitionPayload(coupon))
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{"coupons": payload})
}

func (h *CouponHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cartID := strings.TrimSpace(chi.URLParam(r, "cartId"))
	if cartID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart id is required", http.StatusBadRequest))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	records, err := h.coupons.CouponHistory(ctx, cartID, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := make([]historyRecordPayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, buildHistoryRecordPayload(record))
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{"history": payload})
}

type moneyPayload struct {
	CurrencyCode string `json:"currencyCode"`
	CentAmount   int64  `json:"centAmount"`
}

type lineItemPayload struct {
	ID       string       `json:"id"`
	SKU      string       `json:"sku"`
	Quantity int          `json:"quantity"`
	Price    moneyPayload `json:"price"`
}

type customLineItemPayload struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Slug  string       `json:"slug"`
	Money moneyPayload `json:"money"`
}

type rejectedCouponPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type cartCouponsPayload struct {
	AcceptedCoupons []string                `json:"acceptedCoupons"`
	RejectedCoupons []rejectedCouponPayload `json:"rejectedCoupons"`
}

type cartViewPayload struct {
	ID              string                  `json:"id"`
	Version         int64                   `json:"version"`
	ProfileID       string                  `json:"profileId,omitempty"`
	LineItems       []lineItemPayload       `json:"lineItems"`
	CustomLineItems []customLineItemPayload `json:"customLineItems"`
	TotalPrice      moneyPayload            `json:"totalPrice"`
	Coupons         cartCouponsPayload      `json:"coupons"`
}

type couponDefinitionPayload struct {
	Code          string   `json:"code"`
	CampaignID    string   `json:"campaignId,omitempty"`
	CampaignGroup string   `json:"campaignGroup,omitempty"`
	Journey       string   `json:"journey,omitempty"`
	SKUs          []string `json:"skus,omitempty"`
	Description   string   `json:"description,omitempty"`
	StartsAt      string   `json:"startsAt,omitempty"`
	ExpiresAt     string   `json:"expiresAt,omitempty"`
}

func buildCartView(result services.ApplyCouponsResult) cartViewPayload {
	cart := result.Cart

	lineItems := make([]lineItemPayload, 0, len(cart.LineItems))
	for _, line := range cart.LineItems {
		lineItems = append(lineItems, lineItemPayload{
			ID:       line.ID,
			SKU:      line.SKU,
			Quantity: line.Quantity,
			Price:    moneyPayload{CurrencyCode: line.Price.CurrencyCode, CentAmount: line.Price.CentAmount},
		})
	}

	customLines := make([]customLineItemPayload, 0, len(cart.CustomLineItems))
	for _, line := range cart.CustomLineItems {
		customLines = append(customLines, customLineItemPayload{
			ID:    line.ID,
			Name:  line.Name,
			Slug:  line.Slug,
			Money: moneyPayload{CurrencyCode: line.Money.CurrencyCode, CentAmount: line.Money.CentAmount},
		})
	}

	accepted := result.AcceptedCoupons
	if accepted == nil {
		accepted = []string{}
	}
	rejected := make([]rejectedCouponPayload, 0, len(result.RejectedCoupons))
	for _, coupon := range result.RejectedCoupons {
		rejected = append(rejected, rejectedCouponPayload{Code: coupon.Code, Reason: coupon.Reason})
	}

	return cartViewPayload{
		ID:              cart.ID,
		Version:         cart.Version,
		ProfileID:       cart.ProfileID,
		LineItems:       lineItems,
		CustomLineItems: customLines,
		TotalPrice:      moneyPayload{CurrencyCode: cart.TotalPrice.CurrencyCode, CentAmount: cart.TotalPrice.CentAmount},
		Coupons: cartCouponsPayload{
			AcceptedCoupons: accepted,
			RejectedCoupons: rejected,
		},
	}
}

func buildCouponDefinitionPayload(coupon domain.CouponDefinition) couponDefinitionPayload {
	payload := couponDefinitionPayload{
		Code:          coupon.Code,
		CampaignID:    coupon.CampaignID,
		CampaignGroup: coupon.CampaignGroup,
		Journey:       coupon.Journey,
		SKUs:          coupon.SKUs,
		Description:   coupon.Description,
	}
	if !coupon.StartsAt.IsZero() {
		payload.StartsAt = coupon.StartsAt.UTC().Format(time.RFC3339)
	}
	if !coupon.ExpiresAt.IsZero() {
		payload.ExpiresAt = coupon.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return payload
}

type historyRecordPayload struct {
	ID              string                  `json:"id"`
	CartID          string                  `json:"cartId"`
	ProfileID       string                  `json:"profileId"`
	AcceptedCoupons []string                `json:"acceptedCoupons"`
	RejectedCoupons []rejectedCouponPayload `json:"rejectedCoupons"`
	ActionCount     int                     `json:"actionCount"`
	CartVersion     int64                   `json:"cartVersion"`
	RecordedAt      string                  `json:"recordedAt"`
}

func buildHistoryRecordPayload(record domain.CouponHistoryRecord) historyRecordPayload {
	accepted := record.AcceptedCoupons
	if accepted == nil {
		accepted = []string{}
	}
	rejected := make([]rejectedCouponPayload, 0, len(record.RejectedCoupons))
	for _, coupon := range record.RejectedCoupons {
		rejected = append(rejected, rejectedCouponPayload{Code: coupon.Code, Reason: coupon.Reason})
	}
	return historyRecordPayload{
		ID:              record.ID,
		CartID:          record.CartID,
		ProfileID:       record.ProfileID,
		AcceptedCoupons: accepted,
		RejectedCoupons: rejected,
		ActionCount:     record.ActionCount,
		CartVersion:     record.CartVersion,
		RecordedAt:      record.RecordedAt.UTC().Format(time.RFC3339),
	}
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if appErr, ok := apperrors.As(err); ok {
		httpx.WriteError(ctx, w, httpx.FromAppError(appErr))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal error", http.StatusInternalServerError))
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, errors.New("request body is required")
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}
