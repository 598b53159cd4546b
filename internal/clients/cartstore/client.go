// Package cartstore implements the HTTP client for the versioned cart and
// order store. Every write carries the caller's last-read version; the store
// answers version mismatches with 409, which this client surfaces as a
// conflict error for the write pipeline to retry.
package cartstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/litlb/coupon-api/internal/apperrors"
	"github.com/litlb/coupon-api/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Config holds the connection parameters for the cart store.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks JSON over HTTP to the cart store.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
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

// NewClient constructs a cart store client from the supplied configuration.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("cartstore: base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// GetCart fetches the current cart snapshot. Missing carts map to a
// not-found error.
func (c *Client) GetCart(ctx context.Context, cartID string, expand []string) (domain.CartSnapshot, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return domain.CartSnapshot{}, apperrors.Validation("cart_id_required", "cart id is required")
	}

	endpoint := fmt.Sprintf("%s/carts/%s", c.baseURL, url.PathEscape(cartID))
	if len(expand) > 0 {
		query := url.Values{}
		for _, field := range expand {
			if trimmed := strings.TrimSpace(field); trimmed != "" {
				query.Add("expand", trimmed)
			}
		}
		if encoded := query.Encode(); encoded != "" {
			endpoint += "?" + encoded
		}
	}

	var payload cartPayload
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &payload, "cart"); err != nil {
		return domain.CartSnapshot{}, err
	}
	return payload.toSnapshot(), nil
}

// UpdateCart submits mutation actions against the supplied version and
// returns the resulting snapshot. A stale version yields a conflict error.
func (c *Client) UpdateCart(ctx context.Context, cartID string, version int64, actions []domain.MutationAction) (domain.CartSnapshot, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return domain.CartSnapshot{}, apperrors.Validation("cart_id_required", "cart id is required")
	}

	body := updateRequest{Version: version, Actions: encodeActions(actions)}
	endpoint := fmt.Sprintf("%s/carts/%s", c.baseURL, url.PathEscape(cartID))

	var payload cartPayload
	if err := c.do(ctx, http.MethodPost, endpoint, body, &payload, "cart"); err != nil {
		return domain.CartSnapshot{}, err
	}
	return payload.toSnapshot(), nil
}

// GetOrder fetches the current order snapshot.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.OrderSnapshot, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.OrderSnapshot{}, apperrors.Validation("order_id_required", "order id is required")
	}

	endpoint := fmt.Sprintf("%s/orders/%s", c.baseURL, url.PathEscape(orderID))

	var payload orderPayload
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &payload, "order"); err != nil {
		return domain.OrderSnapshot{}, err
	}
	return payload.toSnapshot(), nil
}

// UpdateOrderStatus transitions the order state against the supplied version.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, version int64, status domain.OrderStatus) (domain.OrderSnapshot, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.OrderSnapshot{}, apperrors.Validation("order_id_required", "order id is required")
	}

	body := updateRequest{
		Version: version,
		Actions: []wireAction{{Action: "changeOrderState", OrderState: string(status)}},
	}
	endpoint := fmt.Sprintf("%s/orders/%s", c.baseURL, url.PathEscape(orderID))

	var payload orderPayload
	if err := c.do(ctx, http.MethodPost, endpoint, body, &payload, "order"); err != nil {
		return domain.OrderSnapshot{}, err
	}
	return payload.toSnapshot(), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any, entity string) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return apperrors.Internal("cartstore_encode_failed", "encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return apperrors.Internal("cartstore_request_failed", "build request", err)
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
		return apperrors.Upstream("cartstore_unreachable", "cart store request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Upstream("cartstore_decode_failed", "decode cart store response", err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NotFound(entity+"_not_found", entity+" not found")
	case resp.StatusCode == http.StatusConflict:
		return apperrors.Conflict("version_conflict", "record version is stale")
	default:
		return apperrors.Upstream("cartstore_error", fmt.Sprintf("cart store returned status %d", resp.StatusCode), nil)
	}
}

type updateRequest struct {
	Version int64        `json:"version"`
	Actions []wireAction `json:"actions"`
}

type wireAction struct {
	Action     string         `json:"action"`
	Slug       string         `json:"slug,omitempty"`
	Name       string         `json:"name,omitempty"`
	Money      *wireMoney     `json:"money,omitempty"`
	LineItemID string         `json:"customLineItemId,omitempty"`
	ProductID  string         `json:"productId,omitempty"`
	VariantID  string         `json:"variantId,omitempty"`
	Quantity   int            `json:"quantity,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OrderState string         `json:"orderState,omitempty"`
}

type wireMoney struct {
	CurrencyCode string `json:"currencyCode"`
	CentAmount   int64  `json:"centAmount"`
}

func encodeActions(actions []domain.MutationAction) []wireAction {
	out := make([]wireAction, 0, len(actions))
	for _, action := range actions {
		switch action.Type {
		case domain.ActionAddDiscountLine:
			out = append(out, wireAction{
				Action:   "addCustomLineItem",
				Slug:     action.Slug,
				Name:     action.Name,
				Quantity: 1,
				Money:    &wireMoney{CurrencyCode: action.Amount.CurrencyCode, CentAmount: action.Amount.CentAmount},
			})
		case domain.ActionChangeDiscountAmount:
			out = append(out, wireAction{
				Action:     "changeCustomLineItemMoney",
				LineItemID: action.LineID,
				Money:      &wireMoney{CurrencyCode: action.Amount.CurrencyCode, CentAmount: action.Amount.CentAmount},
			})
		case domain.ActionRemoveDiscountLine:
			out = append(out, wireAction{
				Action:     "removeCustomLineItem",
				LineItemID: action.LineID,
			})
		case domain.ActionAddFreeItem:
			quantity := action.Quantity
			if quantity <= 0 {
				quantity = 1
			}
			wire := wireAction{
				Action:    "addLineItem",
				ProductID: action.ProductID,
				VariantID: action.VariantID,
				Quantity:  quantity,
				Money:     &wireMoney{CurrencyCode: action.CurrencyCode, CentAmount: 0},
			}
			if action.Slug != "" {
				wire.Metadata = map[string]any{domain.PromotionSlugKey: action.Slug}
			}
			out = append(out, wire)
		}
	}
	return out
}

type cartPayload struct {
	ID              string          `json:"id"`
	Version         int64           `json:"version"`
	ProfileID       string          `json:"profileId"`
	CurrencyCode    string          `json:"currencyCode"`
	LineItems       []linePayload   `json:"lineItems"`
	CustomLineItems []customPayload `json:"customLineItems"`
	TotalPrice      wireMoney       `json:"totalPrice"`
	CreatedAt       time.Time       `json:"createdAt"`
	ExpiresAt       *time.Time      `json:"expiresAt,omitempty"`
}

type linePayload struct {
	ID           string         `json:"id"`
	ProductID    string         `json:"productId"`
	VariantID    string         `json:"variantId"`
	SKU          string         `json:"sku"`
	Quantity     int            `json:"quantity"`
	Price        wireMoney      `json:"price"`
	ProductType  string         `json:"productType"`
	ProductGroup string         `json:"productGroup"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type customPayload struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Slug     string         `json:"slug"`
	Quantity int            `json:"quantity"`
	Money    wireMoney      `json:"money"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type orderPayload struct {
	ID         string         `json:"id"`
	Version    int64          `json:"version"`
	OrderState string         `json:"orderState"`
	CartRef    string         `json:"cartId"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ModifiedAt time.Time      `json:"lastModifiedAt"`
}

func (p cartPayload) toSnapshot() domain.CartSnapshot {
	snapshot := domain.CartSnapshot{
		ID:           p.ID,
		Version:      p.Version,
		ProfileID:    p.ProfileID,
		CurrencyCode: p.CurrencyCode,
		TotalPrice:   domain.Money{CurrencyCode: p.TotalPrice.CurrencyCode, CentAmount: p.TotalPrice.CentAmount},
		CreatedAt:    p.CreatedAt,
		ExpiresAt:    p.ExpiresAt,
	}
	if snapshot.CurrencyCode == "" {
		snapshot.CurrencyCode = p.TotalPrice.CurrencyCode
	}
	for _, line := range p.LineItems {
		snapshot.LineItems = append(snapshot.LineItems, domain.LineItem{
			ID:           line.ID,
			ProductID:    line.ProductID,
			VariantID:    line.VariantID,
			SKU:          line.SKU,
			Quantity:     line.Quantity,
			Price:        domain.Money{CurrencyCode: line.Price.CurrencyCode, CentAmount: line.Price.CentAmount},
			ProductType:  line.ProductType,
			ProductGroup: line.ProductGroup,
			Metadata:     line.Metadata,
		})
	}
	for _, line := range p.CustomLineItems {
		snapshot.CustomLineItems = append(snapshot.CustomLineItems, domain.CustomLineItem{
			ID:       line.ID,
			Name:     line.Name,
			Slug:     line.Slug,
			Quantity: line.Quantity,
			Money:    domain.Money{CurrencyCode: line.Money.CurrencyCode, CentAmount: line.Money.CentAmount},
			Metadata: line.Metadata,
		})
	}
	return snapshot
}

func (p orderPayload) toSnapshot() domain.OrderSnapshot {
	return domain.OrderSnapshot{
		ID:         p.ID,
		Version:    p.Version,
		Status:     domain.OrderStatus(p.OrderState),
		CartRef:    p.CartRef,
		Metadata:   p.Metadata,
		ModifiedAt: p.ModifiedAt,
	}
}
