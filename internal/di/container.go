// Package di assembles the runtime dependency graph: external clients,
// persistence, the reconciliation services, and token verification.
package di

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/litlb/coupon-api/internal/clients/cartstore"
	"github.com/litlb/coupon-api/internal/clients/promoengine"
	"github.com/litlb/coupon-api/internal/platform/auth"
	"github.com/litlb/coupon-api/internal/platform/config"
	pfirestore "github.com/litlb/coupon-api/internal/platform/firestore"
	"github.com/litlb/coupon-api/internal/platform/jobs"
	"github.com/litlb/coupon-api/internal/platform/requestctx"
	firestorerepo "github.com/litlb/coupon-api/internal/repositories/firestore"
	"github.com/litlb/coupon-api/internal/repositories/gcs"
	"github.com/litlb/coupon-api/internal/services"
)

// Container wires clients, repositories, and services for runtime use.
type Container struct {
	Config config.Config

	CartStore       *cartstore.Client
	PromotionEngine *promoengine.Client
	DeadLetters     *gcs.DeadLetterStore
	History         *firestorerepo.HistoryRepository

	Coupons services.CouponService
	Orders  services.OrderService

	// Verifier is nil when Security.Audience is unset; callers must then
	// leave the route groups unauthenticated (local development only).
	Verifier *auth.TokenVerifier

	firestoreProvider *pfirestore.Provider
	storageClient     *cloudstorage.Client
	pubsubClient      *pubsub.Client
	alertTopic        *pubsub.Topic
}

// NewContainer constructs the runtime dependencies from configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Container{Config: cfg}

	storeClient, err := cartstore.NewClient(cartstore.Config{
		BaseURL: cfg.CartStore.BaseURL,
		APIKey:  cfg.CartStore.APIKey,
		Timeout: cfg.CartStore.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build cart store client: %w", err)
	}
	c.CartStore = storeClient

	engineClient, err := promoengine.NewClient(promoengine.Config{
		BaseURL:       cfg.PromotionEngine.BaseURL,
		APIKey:        cfg.PromotionEngine.APIKey,
		Timeout:       cfg.PromotionEngine.Timeout,
		ExpandEffects: cfg.PromotionEngine.ExpandEffects,
	})
	if err != nil {
		return nil, fmt.Errorf("build promotion engine client: %w", err)
	}
	c.PromotionEngine = engineClient

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("build storage client: %w", err)
	}
	c.storageClient = storageClient

	deadLetters, err := gcs.NewDeadLetterStore(storageClient, cfg.DeadLetter.Bucket, cfg.DeadLetter.ObjectPrefix)
	if err != nil {
		c.closeAll(ctx, logger)
		return nil, fmt.Errorf("build dead letter store: %w", err)
	}
	c.DeadLetters = deadLetters

	c.firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
	history, err := firestorerepo.NewHistoryRepository(c.firestoreProvider, cfg.Firestore.HistoryCollection)
	if err != nil {
		c.closeAll(ctx, logger)
		return nil, fmt.Errorf("build history repository: %w", err)
	}
	c.History = history

	var notifier services.DeadLetterNotifier
	if topicName := strings.TrimSpace(cfg.DeadLetter.AlertTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			c.closeAll(ctx, logger)
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		c.pubsubClient = pubsubClient
		c.alertTopic = pubsubClient.Topic(topicName)

		notifier, err = jobs.NewPubSubDeadLetterPublisher(c.alertTopic)
		if err != nil {
			c.closeAll(ctx, logger)
			return nil, fmt.Errorf("build dead letter publisher: %w", err)
		}
	}

	builder, err := services.NewActionBuilder(cfg.Coupons.SlugPrefix)
	if err != nil {
		c.closeAll(ctx, logger)
		return nil, fmt.Errorf("build action builder: %w", err)
	}

	pipeline := services.WritePipelineDeps{
		DeadLetters: deadLetters,
		Notifier:    notifier,
		Logger:      zapEventLogger(logger),
	}

	coupons, err := services.NewCouponService(services.CouponServiceDeps{
		CartStore:       storeClient,
		PromotionEngine: engineClient,
		ActionBuilder:   builder,
		History:         history,
		Pipeline:        pipeline,
		MaxCouponCodes:  cfg.Coupons.MaxCouponCodes,
		CartMaxAttempts: cfg.Coupons.CartMaxAttempts,
	})
	if err != nil {
		c.closeAll(ctx, logger)
		return nil, fmt.Errorf("build coupon service: %w", err)
	}
	c.Coupons = coupons

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		CartStore:      storeClient,
		Pipeline:       pipeline,
		MaxAttempts:    cfg.Coupons.OrderMaxAttempts,
		RetryBaseDelay: cfg.Coupons.OrderRetryBaseDelay,
	})
	if err != nil {
		c.closeAll(ctx, logger)
		return nil, fmt.Errorf("build order service: %w", err)
	}
	c.Orders = orders

	if audience := strings.TrimSpace(cfg.Security.Audience); audience != "" {
		cache := auth.NewJWKSCache(cfg.Security.JWKSURL)
		verifier, err := auth.NewTokenVerifier(cache, audience, cfg.Security.Issuers)
		if err != nil {
			c.closeAll(ctx, logger)
			return nil, fmt.Errorf("build token verifier: %w", err)
		}
		c.Verifier = verifier
	} else {
		logger.Warn("security audience not configured, bearer auth disabled")
	}

	return c, nil
}

// Close releases the container's long-lived clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}

	var errs []error
	if c.alertTopic != nil {
		c.alertTopic.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub close: %w", err))
		}
	}
	if c.storageClient != nil {
		if err := c.storageClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if c.firestoreProvider != nil {
		if err := c.firestoreProvider.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("firestore close: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) closeAll(ctx context.Context, logger *zap.Logger) {
	if err := c.Close(ctx); err != nil {
		logger.Warn("container cleanup error", zap.Error(err))
	}
}

func zapEventLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		zfields := make([]zap.Field, 0, len(fields)+1)
		for key, value := range fields {
			zfields = append(zfields, zap.Any(key, value))
		}
		if trace := requestctx.TraceID(ctx); trace != "" {
			zfields = append(zfields, zap.String("traceId", trace))
		}
		base.Info(event, zfields...)
	}
}
