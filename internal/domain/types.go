package domain

import (
	"strings"
	"time"
)

// Money represents an amount in a currency's minor unit (satang for THB).
// Negative amounts denote discounts.
type Money struct {
	CurrencyCode string
	CentAmount   int64
}

// LineItem is a product line within a cart as held by the cart store.
type LineItem struct {
	ID           string
	ProductID    string
	VariantID    string
	SKU          string
	Quantity     int
	Price        Money
	ProductType  string
	ProductGroup string
	Metadata     map[string]any
}

// CustomLineItem is a non-catalog line within a cart. Discount lines created
// by coupon reconciliation are custom line items keyed by a deterministic slug.
type CustomLineItem struct {
	ID       string
	Name     string
	Slug     string
	Quantity int
	Money    Money
	Metadata map[string]any
}

// CartSnapshot is the versioned cart record read from the cart store. It is
// fetched fresh before every write attempt and never cached across retries.
type CartSnapshot struct {
	ID              string
	Version         int64
	ProfileID       string
	CurrencyCode    string
	LineItems       []LineItem
	CustomLineItems []CustomLineItem
	TotalPrice      Money
	CreatedAt       time.Time
	ExpiresAt       *time.Time
}

// Expired reports whether the cart has passed its store-side expiration.
func (c CartSnapshot) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.IsZero() && now.After(*c.ExpiresAt)
}

// FindCustomLineBySlug locates a custom line item by its slug.
func (c CartSnapshot) FindCustomLineBySlug(slug string) (CustomLineItem, bool) {
	target := strings.TrimSpace(slug)
	if target == "" {
		return CustomLineItem{}, false
	}
	for _, line := range c.CustomLineItems {
		if strings.TrimSpace(line.Slug) == target {
			return line, true
		}
	}
	return CustomLineItem{}, false
}

// HasPromotionalLine reports whether a product line already carries the
// promotional grant tag for the slug, matching product and variant when set.
func (c CartSnapshot) HasPromotionalLine(slug, productID, variantID string) bool {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return false
	}
	for _, line := range c.LineItems {
		tag, _ := line.Metadata[PromotionSlugKey].(string)
		if tag != slug {
			continue
		}
		if productID != "" && line.ProductID != productID {
			continue
		}
		if variantID != "" && line.VariantID != variantID {
			continue
		}
		return true
	}
	return false
}

// OrderStatus enumerates the order states this service transitions between.
type OrderStatus string

const (
	// OrderStatusOpen indicates the order is accepted and awaiting processing.
	OrderStatusOpen OrderStatus = "Open"
	// OrderStatusConfirmed indicates downstream systems acknowledged the order.
	OrderStatusConfirmed OrderStatus = "Confirmed"
	// OrderStatusComplete indicates fulfilment finished.
	OrderStatusComplete OrderStatus = "Complete"
	// OrderStatusCancelled indicates the order was cancelled.
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// Valid reports whether the status is one of the known order states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusOpen, OrderStatusConfirmed, OrderStatusComplete, OrderStatusCancelled:
		return true
	}
	return false
}

// OrderSnapshot is the versioned order record read from the order store.
type OrderSnapshot struct {
	ID         string
	Version    int64
	Status     OrderStatus
	CartRef    string
	Metadata   map[string]any
	ModifiedAt time.Time
}

// DeadLetterRecord captures a mutation that could not be applied after
// exhausting retries. It is the only state that outlives a failed request.
type DeadLetterRecord struct {
	ID           string
	EntityID     string
	FailedStep   string
	ErrorCode    string
	ErrorMessage string
	PriorStateID string
	RecordedAt   time.Time
}

// CouponDefinition describes an active coupon from the engine's inventory.
type CouponDefinition struct {
	Code          string
	CampaignID    string
	CampaignGroup string
	Journey       string
	SKUs          []string
	Description   string
	StartsAt      time.Time
	ExpiresAt     time.Time
}

// CouponHistoryRecord is persisted after each successful reconciliation so the
// coupon decisions for a cart can be audited out-of-band.
type CouponHistoryRecord struct {
	ID              string
	CartID          string
	ProfileID       string
	AcceptedCoupons []string
	RejectedCoupons []RejectedCoupon
	ActionCount     int
	CartVersion     int64
	RecordedAt      time.Time
}

// RejectedCoupon pairs a rejected code with the engine's rejection reason.
type RejectedCoupon struct {
	Code   string
	Reason string
}
