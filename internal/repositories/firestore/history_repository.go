// Package firestore implements the apply-history repository on Firestore.
package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/litlb/coupon-api/internal/domain"
	pfirestore "github.com/litlb/coupon-api/internal/platform/firestore"
)

// HistoryRepository persists a record per successful reconciliation so coupon
// decisions for a cart can be audited out-of-band.
type HistoryRepository struct {
	repo *pfirestore.BaseRepository[historyDocument]
}

type historyDocument struct {
	CartID          string              `firestore:"cartId"`
	ProfileID       string              `firestore:"profileId"`
	AcceptedCoupons []string            `firestore:"acceptedCoupons"`
	RejectedCoupons []rejectedCouponDoc `firestore:"rejectedCoupons"`
	ActionCount     int                 `firestore:"actionCount"`
	CartVersion     int64               `firestore:"cartVersion"`
	RecordedAt      time.Time           `firestore:"recordedAt"`
}

type rejectedCouponDoc struct {
	Code   string `firestore:"code"`
	Reason string `firestore:"reason"`
}

// NewHistoryRepository constructs a Firestore-backed history repository.
func NewHistoryRepository(provider *pfirestore.Provider, collection string) (*HistoryRepository, error) {
	if provider == nil {
		return nil, errors.New("history repository requires firestore provider")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, errors.New("history repository requires collection name")
	}
	return &HistoryRepository{
		repo: pfirestore.NewBaseRepository[historyDocument](provider, collection),
	}, nil
}

// Insert stores the history record under its id.
func (r *HistoryRepository) Insert(ctx context.Context, record domain.CouponHistoryRecord) error {
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return errors.New("history repository: record id is required")
	}

	doc := historyDocument{
		CartID:          strings.TrimSpace(record.CartID),
		ProfileID:       strings.TrimSpace(record.ProfileID),
		AcceptedCoupons: append([]string(nil), record.AcceptedCoupons...),
		ActionCount:     record.ActionCount,
		CartVersion:     record.CartVersion,
		RecordedAt:      record.RecordedAt,
	}
	for _, rejected := range record.RejectedCoupons {
		doc.RejectedCoupons = append(doc.RejectedCoupons, rejectedCouponDoc{
			Code:   rejected.Code,
			Reason: rejected.Reason,
		})
	}

	_, err := r.repo.Set(ctx, id, doc)
	return err
}

// ListByCart returns the most recent history records for a cart.
func (r *HistoryRepository) ListByCart(ctx context.Context, cartID string, limit int) ([]domain.CouponHistoryRecord, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return nil, errors.New("history repository: cart id is required")
	}

	docs, err := r.repo.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.Where("cartId", "==", cartID).OrderBy("recordedAt", firestore.Desc)
		if limit > 0 {
			query = query.Limit(limit)
		}
		return query
	})
	if err != nil {
		return nil, err
	}

	records := make([]domain.CouponHistoryRecord, 0, len(docs))
	for _, doc := range docs {
		record := domain.CouponHistoryRecord{
			ID:              doc.ID,
			CartID:          doc.Data.CartID,
			ProfileID:       doc.Data.ProfileID,
			AcceptedCoupons: doc.Data.AcceptedCoupons,
			ActionCount:     doc.Data.ActionCount,
			CartVersion:     doc.Data.CartVersion,
			RecordedAt:      doc.Data.RecordedAt,
		}
		for _, rejected := range doc.Data.RejectedCoupons {
			record.RejectedCoupons = append(record.RejectedCoupons, domain.RejectedCoupon{
				Code:   rejected.Code,
				Reason: rejected.Reason,
			})
		}
		records = append(records, record)
	}
	return records, nil
}
