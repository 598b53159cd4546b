package promoengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/litlb/coupon-api/internal/apperrors"
	"github.com/litlb/coupon-api/internal/domain"
)

func TestUpdateSessionDecodesEffects(t *testing.T) {
	var captured SessionUpdate
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/sessions/profile-1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"customerSession": {"id": "sess-1", "profileId": "profile-1", "state": "open", "couponCodes": ["SAVE10"]},
			"effects": [
				{"effectType": "acceptCoupon", "triggeredByCoupon": 101, "props": {"value": "SAVE10"}},
				{"effectType": "setDiscount", "triggeredByCoupon": 101, "props": {"name": "SAVE10 discount", "value": 100.0}},
				{"effectType": "rejectCoupon", "props": {"value": "EXPIRED1", "rejectionReason": "CouponExpired"}},
				{"effectType": "addFreeItem", "triggeredByCoupon": 101, "props": {"productId": "prod-1", "variantId": "var-1", "currencyCode": "THB"}},
				{"effectType": "futureEffectType", "triggeredByCoupon": 102, "props": {"whatever": true}}
			]
		}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, APIKey: "engine-key"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	update := SessionUpdate{
		ProfileID:   "profile-1",
		CouponCodes: []string{"SAVE10", "EXPIRED1"},
		CartItems:   []SessionItem{{SKU: "SKU-1", Quantity: 2, Price: 750}},
	}

	result, err := client.UpdateSession(context.Background(), "profile-1", update)
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	if captured.ProfileID != "profile-1" || len(captured.CouponCodes) != 2 {
		t.Fatalf("unexpected request payload %+v", captured)
	}

	if result.Session.ID != "sess-1" {
		t.Fatalf("unexpected session %+v", result.Session)
	}
	if len(result.Effects) != 5 {
		t.Fatalf("expected 5 effects, got %d", len(result.Effects))
	}

	accept := result.Effects[0]
	if accept.Type != domain.EffectAcceptCoupon || accept.CouponCode != "SAVE10" || accept.TriggeredByCoupon != "101" {
		t.Fatalf("unexpected accept effect %+v", accept)
	}
	discount := result.Effects[1]
	if discount.Type != domain.EffectSetDiscount || discount.DiscountValue != 100.0 {
		t.Fatalf("unexpected discount effect %+v", discount)
	}
	reject := result.Effects[2]
	if reject.Type != domain.EffectRejectCoupon || reject.RejectionReason != domain.RejectionCouponExpired {
		t.Fatalf("unexpected reject effect %+v", reject)
	}
	free := result.Effects[3]
	if free.Type != domain.EffectAddFreeItem || free.FreeItem.ProductID != "prod-1" {
		t.Fatalf("unexpected free item effect %+v", free)
	}
	unknown := result.Effects[4]
	if unknown.Type != domain.EffectUnknown || unknown.TriggeredByCoupon != "102" {
		t.Fatalf("unexpected unknown effect %+v", unknown)
	}
}

func TestUpdateSessionEngineFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.UpdateSession(context.Background(), "profile-1", SessionUpdate{ProfileID: "profile-1"})
	if apperrors.KindOf(err) != apperrors.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.GetSession(context.Background(), "missing")
	if !apperrors.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestListCouponsAppliesFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coupons" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		query := r.URL.Query()
		if got := query["sku"]; len(got) != 2 || got[0] != "SKU-1" || got[1] != "SKU-2" {
			t.Fatalf("unexpected sku filter %v", got)
		}
		if got := query.Get("journey"); got != "checkout" {
			t.Fatalf("unexpected journey filter %q", got)
		}
		if got := query.Get("campaignGroup"); got != "summer" {
			t.Fatalf("unexpected campaign group filter %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"coupons": [
			{"code": "SAVE10", "campaignId": "camp-1", "campaignGroup": "summer", "journey": "checkout", "skus": ["SKU-1"]},
			{"code": "SAVE20", "campaignId": "camp-2", "campaignGroup": "summer", "journey": "checkout"}
		]}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	coupons, err := client.ListCoupons(context.Background(), CouponFilter{
		SKUs:          []string{"SKU-1", " SKU-2 "},
		Journey:       "checkout",
		CampaignGroup: "summer",
	})
	if err != nil {
		t.Fatalf("ListCoupons: %v", err)
	}
	if len(coupons) != 2 || coupons[0].Code != "SAVE10" || coupons[1].Code != "SAVE20" {
		t.Fatalf("unexpected coupons %+v", coupons)
	}
}

func TestSessionCallsRequestExpandedEffects(t *testing.T) {
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"customerSession": {"id": "sess-1", "profileId": "profile-1"}, "effects": []}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, ExpandEffects: true})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := client.UpdateSession(context.Background(), "profile-1", SessionUpdate{ProfileID: "profile-1"}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if _, err := client.GetSession(context.Background(), "profile-1"); err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	if len(queries) != 2 {
		t.Fatalf("requests = %d, want 2", len(queries))
	}
	for _, query := range queries {
		if query != "expand=effects" {
			t.Fatalf("query = %q, want expand=effects", query)
		}
	}
}
