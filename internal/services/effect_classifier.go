package services

import (
	domain "github.com/litlb/coupon-api/internal/domain"
)

// CustomEffectMarker is the props.name value identifying the custom effects
// this service recognises and forwards to callers.
const CustomEffectMarker = "coupon_custom_effect"

// ClassifyEffects folds the engine's flat effect list into structured
// groupings. Pure: no I/O, no hidden state; the same input always yields an
// identical result, which lets tests replay recorded sessions.
func ClassifyEffects(effects []domain.PromotionEffect) domain.ClassifiedEffects {
	classified := domain.ClassifiedEffects{
		AcceptedCoupons:   []string{},
		RejectedCoupons:   []domain.RejectedCoupon{},
		CustomEffects:     []domain.CustomEffect{},
		CouponIDToCode:    map[string]string{},
		CouponIDToEffects: map[string][]domain.PromotionEffect{},
	}

	for _, effect := range effects {
		if effect.TriggeredByCoupon != "" {
			classified.CouponIDToEffects[effect.TriggeredByCoupon] = append(
				classified.CouponIDToEffects[effect.TriggeredByCoupon], effect)
		}

		switch effect.Type {
		case domain.EffectAcceptCoupon:
			classified.AcceptedCoupons = append(classified.AcceptedCoupons, effect.CouponCode)
			if effect.TriggeredByCoupon != "" {
				classified.CouponIDToCode[effect.TriggeredByCoupon] = effect.CouponCode
			}
		case domain.EffectRejectCoupon:
			classified.RejectedCoupons = append(classified.RejectedCoupons, domain.RejectedCoupon{
				Code:   effect.CouponCode,
				Reason: effect.RejectionReason,
			})
		case domain.EffectCustom:
			if effect.CustomName != CustomEffectMarker {
				continue
			}
			classified.CustomEffects = append(classified.CustomEffects, domain.CustomEffect{
				CouponCode: classified.CouponIDToCode[effect.TriggeredByCoupon],
				Name:       effect.CustomName,
				Payload:    effect.CustomPayload,
			})
		default:
			// setDiscount and addFreeItem stay attached to their coupon via
			// CouponIDToEffects; unrecognised types are ignored.
		}
	}

	return classified
}
