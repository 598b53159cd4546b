package domain

// ActionType identifies the mutation emitted against the cart store.
type ActionType string

const (
	// ActionAddDiscountLine creates a discount custom line keyed by slug.
	ActionAddDiscountLine ActionType = "addDiscountLine"
	// ActionChangeDiscountAmount updates an existing discount line's money.
	ActionChangeDiscountAmount ActionType = "changeDiscountAmount"
	// ActionRemoveDiscountLine deletes a discount line that no longer maps to
	// an accepted coupon.
	ActionRemoveDiscountLine ActionType = "removeDiscountLine"
	// ActionAddFreeItem adds a promotional line item at zero price, tagged
	// with the coupon slug so a later run recognises the grant.
	ActionAddFreeItem ActionType = "addFreeItem"
)

// PromotionSlugKey is the line-item metadata key carrying the coupon slug of
// a promotional grant.
const PromotionSlugKey = "promotionSlug"

// MutationAction is one cart mutation in the minimal delta computed by the
// action builder. Fields are populated per Type.
type MutationAction struct {
	Type ActionType

	// addDiscountLine / changeDiscountAmount / addFreeItem (grant tag)
	Slug   string
	Name   string
	Amount Money

	// changeDiscountAmount / removeDiscountLine
	LineID string

	// addFreeItem
	ProductID    string
	VariantID    string
	Quantity     int
	CurrencyCode string
}
