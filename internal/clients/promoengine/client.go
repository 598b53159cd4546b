// Package promoengine implements the HTTP client for the session-based
// promotion rules engine. Session updates return a flat effect list which is
// decoded into the closed tagged variant in internal/domain; effect types the
// service does not model are kept but marked unknown so classification can
// skip them.
package promoengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/litlb/coupon-api/internal/apperrors"
	"github.com/litlb/coupon-api/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Config holds the connection parameters for the rules engine.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// ExpandEffects asks the engine to inline the effect list on session
	// reads and recomputes instead of returning an effects reference.
	ExpandEffects bool
}

// SessionItem is a cart line mapped to the engine's item shape. Price is in
// the currency's major unit.
type SessionItem struct {
	SKU          string  `json:"sku"`
	Quantity     int     `json:"quantity"`
	Price        float64 `json:"price"`
	ProductType  string  `json:"productType,omitempty"`
	ProductGroup string  `json:"productGroup,omitempty"`
}

// SessionUpdate is the payload submitted on each session recompute.
type SessionUpdate struct {
	ProfileID   string         `json:"profileId"`
	CartItems   []SessionItem  `json:"cartItems"`
	CouponCodes []string       `json:"couponCodes"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// CustomerSession is the engine-side promotional state for a profile.
type CustomerSession struct {
	ID          string   `json:"id"`
	ProfileID   string   `json:"profileId"`
	State       string   `json:"state"`
	CouponCodes []string `json:"couponCodes"`
}

// SessionResult pairs the recomputed session with its effect list.
type SessionResult struct {
	Session CustomerSession
	Effects []domain.PromotionEffect
}

// CouponFilter narrows the engine's coupon inventory listing.
type CouponFilter struct {
	SKUs          []string
	Journey       string
	CampaignGroup string
}

// Client talks JSON over HTTP to the rules engine.
type Client struct {
	baseURL       string
	apiKey        string
	expandEffects bool
	httpClient    *http.Client
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient constructs a rules engine client from the supplied configuration.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("promoengine: base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		baseURL:       baseURL,
		apiKey:        strings.TrimSpace(cfg.APIKey),
		expandEffects: cfg.ExpandEffects,
		httpClient:    &http.Client{Timeout: timeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// UpdateSession recomputes the session for the profile with the supplied
// coupon set and cart items, returning the engine's effects.
func (c *Client) UpdateSession(ctx context.Context, sessionID string, update SessionUpdate) (SessionResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionResult{}, apperrors.Validation("session_id_required", "session id is required")
	}

	var payload sessionPayload
	if err := c.do(ctx, http.MethodPut, c.sessionEndpoint(sessionID), update, &payload); err != nil {
		return SessionResult{}, err
	}
	return payload.toResult(), nil
}

// GetSession reads the current session state without recomputing it.
func (c *Client) GetSession(ctx context.Context, sessionID string) (SessionResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionResult{}, apperrors.Validation("session_id_required", "session id is required")
	}

	var payload sessionPayload
	if err := c.do(ctx, http.MethodGet, c.sessionEndpoint(sessionID), nil, &payload); err != nil {
		return SessionResult{}, err
	}
	return payload.toResult(), nil
}

func (c *Client) sessionEndpoint(sessionID string) string {
	endpoint := fmt.Sprintf("%s/sessions/%s", c.baseURL, url.PathEscape(sessionID))
	if c.expandEffects {
		endpoint += "?expand=effects"
	}
	return endpoint
}

// ListCoupons queries the engine's active coupon inventory.
func (c *Client) ListCoupons(ctx context.Context, filter CouponFilter) ([]domain.CouponDefinition, error) {
	query := url.Values{}
	for _, sku := range filter.SKUs {
		if trimmed := strings.TrimSpace(sku); trimmed != "" {
			query.Add("sku", trimmed)
		}
	}
	if journey := strings.TrimSpace(filter.Journey); journey != "" {
		query.Set("journey", journey)
	}
	if group := strings.TrimSpace(filter.CampaignGroup); group != "" {
		query.Set("campaignGroup", group)
	}

	endpoint := c.baseURL + "/coupons"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var payload struct {
		Coupons []couponPayload `json:"coupons"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &payload); err != nil {
		return nil, err
	}

	coupons := make([]domain.CouponDefinition, 0, len(payload.Coupons))
	for _, coupon := range payload.Coupons {
		coupons = append(coupons, coupon.toDefinition())
	}
	return coupons, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return apperrors.Internal("promoengine_encode_failed", "encode request body", err)
		}
		buf = bytes.NewReader(encoded)
	}

	var req *http.Request
	var err error
	if buf != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, buf)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	}
	if err != nil {
		return apperrors.Internal("promoengine_request_failed", "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Upstream("promoengine_unreachable", "promotion engine request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Upstream("promoengine_decode_failed", "decode promotion engine response", err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NotFound("session_not_found", "promotion session not found")
	default:
		return apperrors.Upstream("promoengine_error", fmt.Sprintf("promotion engine returned status %d", resp.StatusCode), nil)
	}
}

type sessionPayload struct {
	CustomerSession CustomerSession `json:"customerSession"`
	Effects         []wireEffect    `json:"effects"`
}

func (p sessionPayload) toResult() SessionResult {
	result := SessionResult{Session: p.CustomerSession}
	result.Effects = make([]domain.PromotionEffect, 0, len(p.Effects))
	for _, effect := range p.Effects {
		result.Effects = append(result.Effects, effect.toDomain())
	}
	return result
}

type wireEffect struct {
	EffectType        string          `json:"effectType"`
	TriggeredByCoupon *json.Number    `json:"triggeredByCoupon"`
	Props             json.RawMessage `json:"props"`
}

func (w wireEffect) toDomain() domain.PromotionEffect {
	effect := domain.PromotionEffect{}
	if w.TriggeredByCoupon != nil {
		effect.TriggeredByCoupon = w.TriggeredByCoupon.String()
	}

	switch w.EffectType {
	case string(domain.EffectAcceptCoupon):
		var props struct {
			Value string `json:"value"`
		}
		_ = json.Unmarshal(w.Props, &props)
		effect.Type = domain.EffectAcceptCoupon
		effect.CouponCode = props.Value
	case string(domain.EffectRejectCoupon):
		var props struct {
			Value           string `json:"value"`
			RejectionReason string `json:"rejectionReason"`
		}
		_ = json.Unmarshal(w.Props, &props)
		effect.Type = domain.EffectRejectCoupon
		effect.CouponCode = props.Value
		effect.RejectionReason = props.RejectionReason
	case string(domain.EffectSetDiscount):
		var props struct {
			Name  string  `json:"name"`
			Value float64 `json:"value"`
		}
		_ = json.Unmarshal(w.Props, &props)
		effect.Type = domain.EffectSetDiscount
		effect.DiscountName = props.Name
		effect.DiscountValue = props.Value
	case string(domain.EffectAddFreeItem):
		var props struct {
			ProductID    string `json:"productId"`
			VariantID    string `json:"variantId"`
			Quantity     int    `json:"quantity"`
			CurrencyCode string `json:"currencyCode"`
		}
		_ = json.Unmarshal(w.Props, &props)
		effect.Type = domain.EffectAddFreeItem
		effect.FreeItem = domain.FreeItemGrant{
			ProductID:    props.ProductID,
			VariantID:    props.VariantID,
			Quantity:     props.Quantity,
			CurrencyCode: props.CurrencyCode,
		}
	case string(domain.EffectCustom):
		var props struct {
			Name    string         `json:"name"`
			Payload map[string]any `json:"payload"`
		}
		_ = json.Unmarshal(w.Props, &props)
		effect.Type = domain.EffectCustom
		effect.CustomName = props.Name
		effect.CustomPayload = props.Payload
	default:
		effect.Type = domain.EffectUnknown
	}

	return effect
}

type couponPayload struct {
	Code          string    `json:"code"`
	CampaignID    string    `json:"campaignId"`
	CampaignGroup string    `json:"campaignGroup"`
	Journey       string    `json:"journey"`
	SKUs          []string  `json:"skus"`
	Description   string    `json:"description"`
	StartsAt      time.Time `json:"startsAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

func (p couponPayload) toDefinition() domain.CouponDefinition {
	return domain.CouponDefinition{
		Code:          p.Code,
		CampaignID:    p.CampaignID,
		CampaignGroup: p.CampaignGroup,
		Journey:       p.Journey,
		SKUs:          p.SKUs,
		Description:   p.Description,
		StartsAt:      p.StartsAt,
		ExpiresAt:     p.ExpiresAt,
	}
}
