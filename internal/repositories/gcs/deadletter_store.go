// Package gcs implements the dead-letter store on Google Cloud Storage.
// Records are addressed container/key style: a fixed bucket and one JSON
// object per entity id, overwritten when the same entity fails again.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/litlb/coupon-api/internal/domain"
)

// ErrRecordNotFound is returned when no dead-letter record exists for the entity.
var ErrRecordNotFound = errors.New("deadletter: record not found")

// DeadLetterStore writes dead-letter records to a fixed GCS bucket.
type DeadLetterStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewDeadLetterStore constructs a store bound to the bucket and object prefix.
func NewDeadLetterStore(client *storage.Client, bucket, prefix string) (*DeadLetterStore, error) {
	if client == nil {
		return nil, errors.New("deadletter store requires storage client")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("deadletter store requires bucket name")
	}
	return &DeadLetterStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}, nil
}

type storedRecord struct {
	ID           string    `json:"id"`
	EntityID     string    `json:"entityId"`
	FailedStep   string    `json:"failedStep"`
	ErrorCode    string    `json:"errorCode"`
	ErrorMessage string    `json:"errorMessage"`
	PriorStateID string    `json:"priorStateId"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// Put writes the record under the entity's key and returns the object path.
func (s *DeadLetterStore) Put(ctx context.Context, record domain.DeadLetterRecord) (string, error) {
	entityID := strings.TrimSpace(record.EntityID)
	if entityID == "" {
		return "", errors.New("deadletter: entity id is required")
	}

	payload, err := json.Marshal(storedRecord{
		ID:           record.ID,
		EntityID:     entityID,
		FailedStep:   record.FailedStep,
		ErrorCode:    record.ErrorCode,
		ErrorMessage: record.ErrorMessage,
		PriorStateID: record.PriorStateID,
		RecordedAt:   record.RecordedAt,
	})
	if err != nil {
		return "", fmt.Errorf("deadletter: encode record: %w", err)
	}

	key := s.objectKey(entityID)
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(payload); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("deadletter: write record for %s: %w", entityID, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("deadletter: write record for %s: %w", entityID, err)
	}

	return s.ObjectPath(entityID), nil
}

// Get reads the record stored for the entity id.
func (s *DeadLetterStore) Get(ctx context.Context, entityID string) (domain.DeadLetterRecord, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return domain.DeadLetterRecord{}, errors.New("deadletter: entity id is required")
	}

	reader, err := s.client.Bucket(s.bucket).Object(s.objectKey(entityID)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return domain.DeadLetterRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return domain.DeadLetterRecord{}, fmt.Errorf("deadletter: read record for %s: %w", entityID, err)
	}
	defer reader.Close()

	var stored storedRecord
	if err := json.NewDecoder(reader).Decode(&stored); err != nil {
		return domain.DeadLetterRecord{}, fmt.Errorf("deadletter: decode record for %s: %w", entityID, err)
	}

	return domain.DeadLetterRecord{
		ID:           stored.ID,
		EntityID:     stored.EntityID,
		FailedStep:   stored.FailedStep,
		ErrorCode:    stored.ErrorCode,
		ErrorMessage: stored.ErrorMessage,
		PriorStateID: stored.PriorStateID,
		RecordedAt:   stored.RecordedAt,
	}, nil
}

// ObjectPath returns the gs:// path of the record stored for the entity id.
func (s *DeadLetterStore) ObjectPath(entityID string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.objectKey(strings.TrimSpace(entityID)))
}

func (s *DeadLetterStore) objectKey(entityID string) string {
	name := entityID + ".json"
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}
