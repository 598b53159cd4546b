package cartstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/litlb/coupon-api/internal/apperrors"
	"github.com/litlb/coupon-api/internal/domain"
)

func TestGetCartDecodesSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/carts/cart-1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("expand"); got != "lineItems" {
			t.Fatalf("unexpected expand %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected authorization %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cart-1",
			"version": 4,
			"profileId": "profile-1",
			"totalPrice": {"currencyCode": "THB", "centAmount": 150000},
			"lineItems": [
				{"id": "li-1", "sku": "SKU-1", "quantity": 2, "price": {"currencyCode": "THB", "centAmount": 75000}}
			],
			"customLineItems": [
				{"id": "cl-1", "slug": "coupon-SAVE10", "name": "SAVE10", "quantity": 1, "money": {"currencyCode": "THB", "centAmount": -10000}}
			]
		}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	cart, err := client.GetCart(context.Background(), "cart-1", []string{"lineItems"})
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}

	if cart.ID != "cart-1" || cart.Version != 4 {
		t.Fatalf("unexpected snapshot %+v", cart)
	}
	if cart.CurrencyCode != "THB" {
		t.Fatalf("expected currency fallback to total price, got %q", cart.CurrencyCode)
	}
	if len(cart.LineItems) != 1 || cart.LineItems[0].SKU != "SKU-1" {
		t.Fatalf("unexpected line items %+v", cart.LineItems)
	}
	line, ok := cart.FindCustomLineBySlug("coupon-SAVE10")
	if !ok || line.Money.CentAmount != -10000 {
		t.Fatalf("expected discount line, got %+v ok=%v", line, ok)
	}
}

func TestGetCartNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.GetCart(context.Background(), "missing", nil)
	if !apperrors.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestUpdateCartEncodesActionsAndVersion(t *testing.T) {
	var captured updateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "cart-1", "version": 5, "totalPrice": {"currencyCode": "THB", "centAmount": 140000}}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	actions := []domain.MutationAction{
		{Type: domain.ActionAddDiscountLine, Slug: "coupon-SAVE10", Name: "SAVE10", Amount: domain.Money{CurrencyCode: "THB", CentAmount: -10000}},
		{Type: domain.ActionChangeDiscountAmount, LineID: "cl-2", Amount: domain.Money{CurrencyCode: "THB", CentAmount: -5000}},
		{Type: domain.ActionRemoveDiscountLine, LineID: "cl-3"},
		{Type: domain.ActionAddFreeItem, Slug: "coupon-FREEBIE", ProductID: "prod-1", VariantID: "var-1", CurrencyCode: "THB"},
	}

	cart, err := client.UpdateCart(context.Background(), "cart-1", 4, actions)
	if err != nil {
		t.Fatalf("UpdateCart: %v", err)
	}
	if cart.Version != 5 {
		t.Fatalf("unexpected version %d", cart.Version)
	}

	if captured.Version != 4 {
		t.Fatalf("expected version 4 in request, got %d", captured.Version)
	}
	if len(captured.Actions) != 4 {
		t.Fatalf("expected 4 wire actions, got %d", len(captured.Actions))
	}
	if captured.Actions[0].Action != "addCustomLineItem" || captured.Actions[0].Slug != "coupon-SAVE10" {
		t.Fatalf("unexpected first action %+v", captured.Actions[0])
	}
	if captured.Actions[0].Money == nil || captured.Actions[0].Money.CentAmount != -10000 {
		t.Fatalf("unexpected discount money %+v", captured.Actions[0].Money)
	}
	if captured.Actions[1].Action != "changeCustomLineItemMoney" || captured.Actions[1].LineItemID != "cl-2" {
		t.Fatalf("unexpected second action %+v", captured.Actions[1])
	}
	if captured.Actions[2].Action != "removeCustomLineItem" || captured.Actions[2].LineItemID != "cl-3" {
		t.Fatalf("unexpected third action %+v", captured.Actions[2])
	}
	if captured.Actions[3].Action != "addLineItem" || captured.Actions[3].Quantity != 1 {
		t.Fatalf("unexpected free item action %+v", captured.Actions[3])
	}
	if captured.Actions[3].Money == nil || captured.Actions[3].Money.CentAmount != 0 {
		t.Fatalf("free item should be priced at zero, got %+v", captured.Actions[3].Money)
	}
	if tag := captured.Actions[3].Metadata[domain.PromotionSlugKey]; tag != "coupon-FREEBIE" {
		t.Fatalf("free item grant tag = %v, want coupon-FREEBIE", tag)
	}
}

func TestUpdateCartVersionConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.UpdateCart(context.Background(), "cart-1", 3, nil)
	if !apperrors.IsConflict(err) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestUpdateOrderStatusEncodesTransition(t *testing.T) {
	var captured updateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/order-1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "order-1", "version": 8, "orderState": "Confirmed"}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	order, err := client.UpdateOrderStatus(context.Background(), "order-1", 7, domain.OrderStatusConfirmed)
	if err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed || order.Version != 8 {
		t.Fatalf("unexpected order %+v", order)
	}

	if len(captured.Actions) != 1 || captured.Actions[0].Action != "changeOrderState" || captured.Actions[0].OrderState != "Confirmed" {
		t.Fatalf("unexpected wire actions %+v", captured.Actions)
	}
}

func TestServerErrorMapsToUpstream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.GetCart(context.Background(), "cart-1", nil)
	if apperrors.KindOf(err) != apperrors.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
