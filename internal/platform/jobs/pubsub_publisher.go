package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/litlb/coupon-api/internal/services"
)

// PubSubDeadLetterPublisher publishes dead-letter alerts to a Pub/Sub topic.
type PubSubDeadLetterPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubDeadLetterPublisher constructs a Pub/Sub backed dead-letter alert publisher.
func NewPubSubDeadLetterPublisher(topic *pubsub.Topic) (*PubSubDeadLetterPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub dead letter publisher: topic is required")
	}
	return &PubSubDeadLetterPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishDeadLetterAlert enqueues an alert message on the configured topic.
func (p *PubSubDeadLetterPublisher) PublishDeadLetterAlert(ctx context.Context, message services.DeadLetterAlertMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub dead letter publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal dead letter alert: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "recordId", message.RecordID)
	setAttr(attrs, "entityId", message.EntityID)
	setAttr(attrs, "entityType", message.EntityType)
	setAttr(attrs, "failedStep", message.FailedStep)
	setAttr(attrs, "errorCode", message.ErrorCode)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish dead letter alert: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
