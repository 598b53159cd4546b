package services

import (
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/litlb/coupon-api/internal/domain"
)

var centsPerUnit = decimal.NewFromInt(100)

// ActionBuilder computes the minimal mutation delta that makes a cart match
// the engine's classified decision. Pure: no I/O.
type ActionBuilder struct {
	slugPrefix string
}

// NewActionBuilder constructs an ActionBuilder with the discount slug prefix.
func NewActionBuilder(slugPrefix string) (*ActionBuilder, error) {
	slugPrefix = strings.TrimSpace(slugPrefix)
	if slugPrefix == "" {
		return nil, errors.New("action builder: slug prefix is required")
	}
	return &ActionBuilder{slugPrefix: slugPrefix}, nil
}

// Slug returns the deterministic discount line key for a coupon code.
func (b *ActionBuilder) Slug(code string) string {
	return b.slugPrefix + code
}

// BuildCartActions diffs the cart's discount lines against the classified
// effects. Re-running on unchanged input yields an empty action set; discount
// lines whose slug no longer maps to an accepted coupon are always removed.
func (b *ActionBuilder) BuildCartActions(cart domain.CartSnapshot, classified domain.ClassifiedEffects) []domain.MutationAction {
	currency := strings.TrimSpace(cart.TotalPrice.CurrencyCode)
	if currency == "" {
		currency = strings.TrimSpace(cart.CurrencyCode)
	}

	actions := []domain.MutationAction{}
	emittedSlugs := map[string]bool{}
	emittedGrants := map[string]bool{}

	couponIDs := make([]string, 0, len(classified.CouponIDToCode))
	for couponID := range classified.CouponIDToCode {
		couponIDs = append(couponIDs, couponID)
	}
	sort.Strings(couponIDs)

	for _, couponID := range couponIDs {
		code := classified.CouponIDToCode[couponID]
		for _, effect := range classified.CouponIDToEffects[couponID] {
			switch effect.Type {
			case domain.EffectSetDiscount:
				slug := b.Slug(code)
				if emittedSlugs[slug] {
					continue
				}
				emittedSlugs[slug] = true

				amount := discountMinorUnits(effect.DiscountValue)
				name := strings.TrimSpace(effect.DiscountName)
				if name == "" {
					name = code
				}

				existing, found := cart.FindCustomLineBySlug(slug)
				switch {
				case !found:
					actions = append(actions, domain.MutationAction{
						Type:   domain.ActionAddDiscountLine,
						Slug:   slug,
						Name:   name,
						Amount: domain.Money{CurrencyCode: currency, CentAmount: amount},
					})
				case existing.Money.CentAmount != amount:
					actions = append(actions, domain.MutationAction{
						Type:   domain.ActionChangeDiscountAmount,
						LineID: existing.ID,
						Slug:   slug,
						Amount: domain.Money{CurrencyCode: currency, CentAmount: amount},
					})
				}
			case domain.EffectAddFreeItem:
				slug := b.Slug(code)
				grantKey := slug + "|" + effect.FreeItem.ProductID + "|" + effect.FreeItem.VariantID
				if emittedGrants[grantKey] {
					continue
				}
				emittedGrants[grantKey] = true
				if cart.HasPromotionalLine(slug, effect.FreeItem.ProductID, effect.FreeItem.VariantID) {
					continue
				}

				quantity := effect.FreeItem.Quantity
				if quantity <= 0 {
					quantity = 1
				}
				itemCurrency := strings.TrimSpace(effect.FreeItem.CurrencyCode)
				if itemCurrency == "" {
					itemCurrency = currency
				}
				actions = append(actions, domain.MutationAction{
					Type:         domain.ActionAddFreeItem,
					Slug:         slug,
					ProductID:    effect.FreeItem.ProductID,
					VariantID:    effect.FreeItem.VariantID,
					Quantity:     quantity,
					CurrencyCode: itemCurrency,
				})
			}
		}
	}

	// Cleanup pass runs regardless of whether any coupon produced a discount.
	acceptedSlugs := map[string]bool{}
	for _, code := range classified.AcceptedCoupons {
		acceptedSlugs[b.Slug(code)] = true
	}
	for _, line := range cart.CustomLineItems {
		slug := strings.TrimSpace(line.Slug)
		if !strings.HasPrefix(slug, b.slugPrefix) {
			continue
		}
		if acceptedSlugs[slug] {
			continue
		}
		actions = append(actions, domain.MutationAction{
			Type:   domain.ActionRemoveDiscountLine,
			LineID: line.ID,
			Slug:   slug,
		})
	}

	return actions
}

// discountMinorUnits converts a discount value in major units to negative
// minor units, rounding half away from zero. A zero value still yields a
// discount line; "0 THB discount" and "no discount" are distinct outcomes.
func discountMinorUnits(value float64) int64 {
	cents := decimal.NewFromFloat(value).Mul(centsPerUnit).Round(0)
	return -cents.IntPart()
}
