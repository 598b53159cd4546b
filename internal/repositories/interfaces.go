// Package repositories defines the persistence contracts used by services.
package repositories

import (
	"context"

	domain "github.com/litlb/coupon-api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// DeadLetterStore persists dead-letter records in a keyed object store. One
// record per entity id; a repeat failure for the same entity overwrites the
// previous record.
type DeadLetterStore interface {
	// Put writes the record and returns the stored object's path.
	Put(ctx context.Context, record domain.DeadLetterRecord) (string, error)
	// Get reads the record stored for the entity id.
	Get(ctx context.Context, entityID string) (domain.DeadLetterRecord, error)
}

// HistoryRepository persists coupon apply-history records for audit.
type HistoryRepository interface {
	Insert(ctx context.Context, record domain.CouponHistoryRecord) error
	ListByCart(ctx context.Context, cartID string, limit int) ([]domain.CouponHistoryRecord, error)
}
