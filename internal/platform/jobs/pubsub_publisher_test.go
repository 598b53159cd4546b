package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/litlb/coupon-api/internal/services"
)

func TestPubSubDeadLetterPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "coupon-dead-letter-alerts")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubDeadLetterPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubDeadLetterPublisher: %v", err)
	}

	recordedAt := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	msg := services.DeadLetterAlertMessage{
		RecordID:     "dl_test",
		EntityID:     "order-1",
		EntityType:   "order",
		FailedStep:   "recalculate",
		ErrorCode:    "version_conflict",
		ObjectPath:   "gs://coupon-dead-letter/dead-letter/order-1.json",
		RecordedAt:   recordedAt,
		ErrorMessage: "retries exhausted after 5 attempts",
	}

	if _, err := publisher.PublishDeadLetterAlert(ctx, msg); err != nil {
		t.Fatalf("PublishDeadLetterAlert: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.DeadLetterAlertMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.RecordID != msg.RecordID || payload.EntityID != msg.EntityID {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["failedStep"]; attr != "recalculate" {
		t.Fatalf("expected failedStep attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["errorMessage"]; ok {
		t.Fatalf("errorMessage attribute should not be present")
	}
}
