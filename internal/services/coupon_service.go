package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/litlb/coupon-api/internal/apperrors"
	"github.com/litlb/coupon-api/internal/clients/promoengine"
	domain "github.com/litlb/coupon-api/internal/domain"
	"github.com/litlb/coupon-api/internal/repositories"
)

const maxHistoryPageSize = 50

// CouponServiceDeps lists the collaborators for the reconciliation orchestrator.
type CouponServiceDeps struct {
	CartStore       CartStore
	PromotionEngine PromotionEngine
	ActionBuilder   *ActionBuilder
	History         repositories.HistoryRepository
	Pipeline        WritePipelineDeps

	MaxCouponCodes  int
	CartMaxAttempts int
}

type couponService struct {
	store       CartStore
	engine      PromotionEngine
	builder     *ActionBuilder
	history     repositories.HistoryRepository
	pipeline    WritePipelineDeps
	maxCodes    int
	maxAttempts int
	clock       func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
	newID       func() string
}

// NewCouponService wires the apply-coupons orchestration.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.CartStore == nil {
		return nil, errors.New("coupon service: cart store is required")
	}
	if deps.PromotionEngine == nil {
		return nil, errors.New("coupon service: promotion engine is required")
	}
	if deps.ActionBuilder == nil {
		return nil, errors.New("coupon service: action builder is required")
	}
	if deps.Pipeline.DeadLetters == nil {
		return nil, errors.New("coupon service: dead letter store is required")
	}
	if deps.MaxCouponCodes <= 0 {
		return nil, errors.New("coupon service: max coupon codes must be positive")
	}
	if deps.CartMaxAttempts < 0 {
		return nil, errors.New("coupon service: cart max attempts must not be negative")
	}

	pipeline := deps.Pipeline.normalised()
	return &couponService{
		store:       deps.CartStore,
		engine:      deps.PromotionEngine,
		builder:     deps.ActionBuilder,
		history:     deps.History,
		pipeline:    pipeline,
		maxCodes:    deps.MaxCouponCodes,
		maxAttempts: deps.CartMaxAttempts,
		clock:       pipeline.Clock,
		logger:      pipeline.Logger,
		newID:       pipeline.IDGenerator,
	}, nil
}

// ApplyCoupons reconciles the caller's coupon submission against the cart.
// The engine session is recomputed with the merged coupon set; coupons the
// engine marks permanently invalid are stripped and the session recomputed
// exactly once more before any cart write happens.
func (s *couponService) ApplyCoupons(ctx context.Context, cmd ApplyCouponsCommand) (ApplyCouponsResult, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	if cartID == "" {
		return ApplyCouponsResult{}, apperrors.Validation("cart_id_required", "cart id is required")
	}

	requested := normaliseCodes(cmd.CouponCodes)
	removed := codeSet(cmd.RemoveCouponCodes)

	if len(requested) > s.maxCodes {
		return ApplyCouponsResult{}, couponLimitError(s.maxCodes, len(requested))
	}

	sessionCodes, sessionRejected, err := s.currentSessionState(ctx, cartID)
	if err != nil {
		return ApplyCouponsResult{}, err
	}

	merged := mergeCodes(sessionCodes, requested, removed, sessionRejected)
	if len(merged) > s.maxCodes {
		return ApplyCouponsResult{}, couponLimitError(s.maxCodes, len(merged))
	}

	cart, err := s.store.GetCart(ctx, cartID, nil)
	if err != nil {
		return ApplyCouponsResult{}, err
	}
	if cart.Expired(s.clock()) {
		return ApplyCouponsResult{}, apperrors.NotFound("cart_expired", "cart has expired")
	}

	result, err := s.engine.UpdateSession(ctx, cartID, sessionUpdate(cart, merged))
	if err != nil {
		return ApplyCouponsResult{}, err
	}
	classified := ClassifyEffects(result.Effects)

	// Not-found and expired rejections cannot change on resubmission, so the
	// session is recomputed once without them. Their rejections are carried
	// into the final result even though the second pass no longer sees them.
	var carried []domain.RejectedCoupon
	if permanent := classified.PermanentlyRejectedCodes(); len(permanent) > 0 {
		for _, code := range permanent {
			removed[code] = true
		}
		for _, rejected := range classified.RejectedCoupons {
			if domain.PermanentRejection(rejected.Reason) {
				carried = append(carried, rejected)
			}
		}

		merged = mergeCodes(result.Session.CouponCodes, requested, removed, sessionRejected)
		result, err = s.engine.UpdateSession(ctx, cartID, sessionUpdate(cart, merged))
		if err != nil {
			return ApplyCouponsResult{}, err
		}
		classified = ClassifyEffects(result.Effects)
	}

	rejected := append(carried, classified.RejectedCoupons...)

	finalCart := cart
	actions := s.builder.BuildCartActions(cart, classified)
	if len(actions) > 0 {
		finalCart, err = ExecuteWrite(ctx, s.pipeline, WritePlan[domain.CartSnapshot]{
			EntityID:    cartID,
			EntityType:  "cart",
			Step:        "cart_coupon_update",
			MaxAttempts: s.maxAttempts,
			Fetch: func(ctx context.Context) (domain.CartSnapshot, error) {
				return s.store.GetCart(ctx, cartID, nil)
			},
			Attempt: func(ctx context.Context, latest domain.CartSnapshot) (domain.CartSnapshot, error) {
				rebuilt := s.builder.BuildCartActions(latest, classified)
				if len(rebuilt) == 0 {
					return latest, nil
				}
				return s.store.UpdateCart(ctx, latest.ID, latest.Version, rebuilt)
			},
			PriorStateID: func(latest domain.CartSnapshot) string {
				return strconv.FormatInt(latest.Version, 10)
			},
		})
		if err != nil {
			return ApplyCouponsResult{}, err
		}
	}

	s.recordHistory(ctx, finalCart, classified.AcceptedCoupons, rejected, len(actions))

	return ApplyCouponsResult{
		Cart:            finalCart,
		AcceptedCoupons: classified.AcceptedCoupons,
		RejectedCoupons: rejected,
	}, nil
}

// ListCoupons proxies the engine's coupon inventory listing.
func (s *couponService) ListCoupons(ctx context.Context, filter promoengine.CouponFilter) ([]domain.CouponDefinition, error) {
	return s.engine.ListCoupons(ctx, filter)
}

// CouponHistory returns the most recent reconciliation records for a cart.
func (s *couponService) CouponHistory(ctx context.Context, cartID string, limit int) ([]domain.CouponHistoryRecord, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return nil, apperrors.Validation("cart_id_required", "cart id is required")
	}
	if s.history == nil {
		return nil, apperrors.Internal("history_not_configured", "apply history is not configured", nil)
	}
	if limit <= 0 || limit > maxHistoryPageSize {
		limit = maxHistoryPageSize
	}

	records, err := s.history.ListByCart(ctx, cartID, limit)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			if repoErr.IsNotFound() {
				return []domain.CouponHistoryRecord{}, nil
			}
			if repoErr.IsUnavailable() {
				return nil, apperrors.Upstream("history_unavailable", "apply history read failed", err)
			}
		}
		return nil, apperrors.Internal("history_read_failed", "apply history read failed", err)
	}
	return records, nil
}

// currentSessionState reads the engine's view of the cart's session. A
// missing session means no coupons applied yet, not a failure.
func (s *couponService) currentSessionState(ctx context.Context, cartID string) ([]string, map[string]bool, error) {
	result, err := s.engine.GetSession(ctx, cartID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, map[string]bool{}, nil
		}
		return nil, nil, err
	}

	rejected := map[string]bool{}
	for _, coupon := range ClassifyEffects(result.Effects).RejectedCoupons {
		if coupon.Code != "" {
			rejected[coupon.Code] = true
		}
	}
	return result.Session.CouponCodes, rejected, nil
}

func (s *couponService) recordHistory(ctx context.Context, cart domain.CartSnapshot, accepted []string, rejected []domain.RejectedCoupon, actionCount int) {
	if s.history == nil {
		return
	}
	record := domain.CouponHistoryRecord{
		ID:              s.newID(),
		CartID:          cart.ID,
		ProfileID:       cart.ProfileID,
		AcceptedCoupons: accepted,
		RejectedCoupons: rejected,
		ActionCount:     actionCount,
		CartVersion:     cart.Version,
		RecordedAt:      s.clock().UTC(),
	}
	if err := s.history.Insert(ctx, record); err != nil {
		s.logger(ctx, "coupon_service.history_insert_failed", map[string]any{
			"cart_id": cart.ID,
			"error":   err.Error(),
		})
	}
}

func sessionUpdate(cart domain.CartSnapshot, codes []string) promoengine.SessionUpdate {
	items := make([]promoengine.SessionItem, 0, len(cart.LineItems))
	for _, line := range cart.LineItems {
		items = append(items, promoengine.SessionItem{
			SKU:          line.SKU,
			Quantity:     line.Quantity,
			Price:        majorUnits(line.Price.CentAmount),
			ProductType:  line.ProductType,
			ProductGroup: line.ProductGroup,
		})
	}
	return promoengine.SessionUpdate{
		ProfileID:   cart.ProfileID,
		CartItems:   items,
		CouponCodes: codes,
	}
}

// mergeCodes unions the session's coupon set with the caller's submission and
// strips removals plus codes the engine has already rejected. Session order
// comes first so repeat submissions keep a stable code ordering.
func mergeCodes(sessionCodes, requested []string, removed, sessionRejected map[string]bool) []string {
	merged := []string{}
	seen := map[string]bool{}
	for _, code := range append(normaliseCodes(sessionCodes), requested...) {
		if seen[code] || removed[code] || sessionRejected[code] {
			continue
		}
		seen[code] = true
		merged = append(merged, code)
	}
	return merged
}

func normaliseCodes(codes []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}

func codeSet(codes []string) map[string]bool {
	set := map[string]bool{}
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code != "" {
			set[code] = true
		}
	}
	return set
}

func couponLimitError(limit, submitted int) error {
	return apperrors.Validation("coupon_limit_exceeded", "coupon code limit exceeded").WithData(map[string]any{
		"limit":     limit,
		"submitted": submitted,
	})
}

func majorUnits(centAmount int64) float64 {
	value, _ := decimal.NewFromInt(centAmount).Div(centsPerUnit).Float64()
	return value
}
