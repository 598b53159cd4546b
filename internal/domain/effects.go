package domain

// EffectType identifies the decision kind carried by a promotion effect.
type EffectType string

const (
	// EffectAcceptCoupon marks a coupon code as accepted by the engine.
	EffectAcceptCoupon EffectType = "acceptCoupon"
	// EffectRejectCoupon marks a coupon code as rejected with a reason.
	EffectRejectCoupon EffectType = "rejectCoupon"
	// EffectSetDiscount instructs a discount of the given value on the session total.
	EffectSetDiscount EffectType = "setDiscount"
	// EffectAddFreeItem grants a promotional item at zero price.
	EffectAddFreeItem EffectType = "addFreeItem"
	// EffectCustom carries campaign-defined payloads recognised by name.
	EffectCustom EffectType = "customEffect"
	// EffectUnknown is assigned to effect types this service does not model.
	// Unknown effects are ignored during classification.
	EffectUnknown EffectType = ""
)

// RejectionReason values the engine emits when refusing a coupon.
const (
	RejectionCouponNotFound            = "CouponNotFound"
	RejectionCouponExpired             = "CouponExpired"
	RejectionCouponLimitReached        = "CouponLimitReached"
	RejectionCouponRejectedByCondition = "CouponRejectedByCondition"
)

// PermanentRejection reports whether a rejection reason can never become valid
// by resubmitting the same code. Only these reasons trigger the one-shot
// session cleanup re-run.
func PermanentRejection(reason string) bool {
	switch reason {
	case RejectionCouponNotFound, RejectionCouponExpired:
		return true
	}
	return false
}

// FreeItemGrant describes the item granted by an addFreeItem effect.
type FreeItemGrant struct {
	ProductID    string
	VariantID    string
	Quantity     int
	CurrencyCode string
}

// PromotionEffect is one decision emitted by the rules engine for a session
// update. A closed set of fields is populated depending on Type; classifying
// code switches on Type rather than probing untyped props.
type PromotionEffect struct {
	Type              EffectType
	TriggeredByCoupon string

	// acceptCoupon / rejectCoupon
	CouponCode      string
	RejectionReason string

	// setDiscount: value in the currency's major unit (e.g. 100.00 THB).
	DiscountName  string
	DiscountValue float64

	// addFreeItem
	FreeItem FreeItemGrant

	// customEffect
	CustomName    string
	CustomPayload map[string]any
}

// CustomEffect couples a recognised custom effect with the coupon code that
// triggered it, resolved through the session's coupon id mapping.
type CustomEffect struct {
	CouponCode string
	Name       string
	Payload    map[string]any
}

// ClassifiedEffects is the deterministic grouping of a session's effect list.
// Recomputing it from the same input yields an identical value.
type ClassifiedEffects struct {
	AcceptedCoupons   []string
	RejectedCoupons   []RejectedCoupon
	CustomEffects     []CustomEffect
	CouponIDToCode    map[string]string
	CouponIDToEffects map[string][]PromotionEffect
}

// PermanentlyRejectedCodes returns the codes whose rejection reason is in the
// fixed permanent set, preserving input order.
func (c ClassifiedEffects) PermanentlyRejectedCodes() []string {
	var codes []string
	for _, rejected := range c.RejectedCoupons {
		if PermanentRejection(rejected.Reason) {
			codes = append(codes, rejected.Code)
		}
	}
	return codes
}
