// Package services holds the coupon reconciliation core: effect
// classification, action building, the apply-coupons orchestration, and the
// optimistic-concurrency write pipeline shared with order-state transitions.
package services

import (
	"context"
	"time"

	"github.com/litlb/coupon-api/internal/clients/promoengine"
	domain "github.com/litlb/coupon-api/internal/domain"
)

// CartStore abstracts the versioned cart and order store client.
type CartStore interface {
	GetCart(ctx context.Context, cartID string, expand []string) (domain.CartSnapshot, error)
	UpdateCart(ctx context.Context, cartID string, version int64, actions []domain.MutationAction) (domain.CartSnapshot, error)
	GetOrder(ctx context.Context, orderID string) (domain.OrderSnapshot, error)
	UpdateOrderStatus(ctx context.Context, orderID string, version int64, status domain.OrderStatus) (domain.OrderSnapshot, error)
}

// PromotionEngine abstracts the session-based rules engine client.
type PromotionEngine interface {
	UpdateSession(ctx context.Context, sessionID string, update promoengine.SessionUpdate) (promoengine.SessionResult, error)
	GetSession(ctx context.Context, sessionID string) (promoengine.SessionResult, error)
	ListCoupons(ctx context.Context, filter promoengine.CouponFilter) ([]domain.CouponDefinition, error)
}

// DeadLetterAlertMessage is published after a dead-letter record is persisted
// so operators can follow up on the abandoned mutation.
type DeadLetterAlertMessage struct {
	RecordID     string    `json:"recordId"`
	EntityID     string    `json:"entityId"`
	EntityType   string    `json:"entityType"`
	FailedStep   string    `json:"failedStep"`
	ErrorCode    string    `json:"errorCode"`
	ErrorMessage string    `json:"errorMessage"`
	ObjectPath   string    `json:"objectPath"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// DeadLetterNotifier publishes follow-up alerts for persisted dead letters.
type DeadLetterNotifier interface {
	PublishDeadLetterAlert(ctx context.Context, message DeadLetterAlertMessage) (string, error)
}

// ApplyCouponsCommand is the caller's coupon submission for a cart.
type ApplyCouponsCommand struct {
	ActorID           string
	CartID            string
	CouponCodes       []string
	RemoveCouponCodes []string
}

// ApplyCouponsResult is the reconciled cart plus the engine's final decision.
type ApplyCouponsResult struct {
	Cart            domain.CartSnapshot
	AcceptedCoupons []string
	RejectedCoupons []domain.RejectedCoupon
}

// CouponService reconciles coupon submissions against the cart store.
type CouponService interface {
	ApplyCoupons(ctx context.Context, cmd ApplyCouponsCommand) (ApplyCouponsResult, error)
	ListCoupons(ctx context.Context, filter promoengine.CouponFilter) ([]domain.CouponDefinition, error)
	CouponHistory(ctx context.Context, cartID string, limit int) ([]domain.CouponHistoryRecord, error)
}

// UpdateOrderStatusCommand requests an order-state transition.
type UpdateOrderStatusCommand struct {
	OrderID string
	Status  domain.OrderStatus
}

// OrderService transitions order state through the retrying write pipeline.
type OrderService interface {
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.OrderSnapshot, error)
}
