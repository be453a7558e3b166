package service

import (
	"context"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payrouter/internal/clock"
	"github.com/smallbiznis/payrouter/internal/config"
	"github.com/smallbiznis/payrouter/internal/delivery/domain"
	"github.com/smallbiznis/payrouter/internal/observability/logger"
	"github.com/smallbiznis/payrouter/internal/observability/metrics"
	providerdomain "github.com/smallbiznis/payrouter/internal/provider/domain"
	"github.com/smallbiznis/payrouter/pkg/db"
	"github.com/smallbiznis/payrouter/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxRetriesCeiling = 100

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Repo         domain.Repository
	ProviderRepo providerdomain.Repository
	Cfg          config.Config
	Engine       *config.EngineConfigHolder
	Clock        clock.Clock
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         domain.Repository
	providerRepo providerdomain.Repository
	engine       *config.EngineConfigHolder
	clock        clock.Clock
	metrics      *metrics.Metrics
	sealer       *sealer
}

func New(p Params) (domain.Service, error) {
	secrets, err := newSealer(p.Cfg.WebhookSecretKey)
	if err != nil {
		return nil, err
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("delivery.service"),
		genID:        p.GenID,
		repo:         p.Repo,
		providerRepo: p.ProviderRepo,
		engine:       p.Engine,
		clock:        p.Clock,
		metrics:      p.Metrics,
		sealer:       secrets,
	}, nil
}

func (s *Service) CreateWebhook(ctx context.Context, req domain.CreateWebhookRequest) (*domain.Webhook, error) {
	configID, err := parseID(req.ConfigID, domain.ErrInvalidConfig)
	if err != nil {
		return nil, err
	}
	webhookType := strings.TrimSpace(req.WebhookType)
	eventType := strings.TrimSpace(req.EventType)
	if webhookType == "" || eventType == "" {
		return nil, domain.ErrInvalidType
	}
	target, err := normalizeURL(req.URL)
	if err != nil {
		return nil, err
	}
	maxRetries := s.engine.Get().Delivery.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	if err := validateMaxRetries(maxRetries); err != nil {
		return nil, err
	}

	var sealed []byte
	if secret := strings.TrimSpace(req.Secret); secret != "" {
		if sealed, err = s.sealer.seal(secret); err != nil {
			return nil, err
		}
	}

	owner, err := s.providerRepo.FindByID(ctx, s.db, configID)
	if err != nil {
		return nil, db.Unavailable("find provider", err)
	}
	if owner == nil {
		return nil, domain.ErrInvalidConfig
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	now := s.clock.Now()
	webhook := &domain.Webhook{
		ID:                s.genID.Generate(),
		ConfigID:          configID,
		WebhookType:       webhookType,
		EventType:         eventType,
		ProviderWebhookID: trimmed(req.ProviderWebhookID),
		URL:               target,
		IsActive:          active,
		MaxRetries:        maxRetries,
		CreatedAt:         now,
		UpdatedAt:         now,
		SealedSecret:      sealed,
	}
	if err := s.repo.Insert(ctx, s.db, webhook); err != nil {
		return nil, db.Unavailable("insert webhook", err)
	}

	logger.WithContext(ctx, s.log).Info("webhook created",
		zap.String("webhook_id", webhook.ID.String()),
		zap.String("config_id", configID.String()),
		zap.String("event_type", eventType),
	)
	return webhook, nil
}

func (s *Service) GetWebhook(ctx context.Context, id string) (*domain.Webhook, error) {
	webhookID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, s.db, webhookID)
}

func (s *Service) ListWebhooks(ctx context.Context, req domain.ListWebhooksRequest) (*domain.ListWebhooksResponse, error) {
	filter := domain.ListFilter{ActiveOnly: req.ActiveOnly}
	if strings.TrimSpace(req.ConfigID) != "" {
		configID, err := parseID(req.ConfigID, domain.ErrInvalidConfig)
		if err != nil {
			return nil, err
		}
		filter.ConfigID = &configID
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		after, err := parseID(cursor.ID, pagination.ErrInvalidPageToken)
		if err != nil {
			return nil, err
		}
		filter.AfterID = after
	}
	size := req.Size()
	filter.Limit = size + 1

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, db.Unavailable("list webhooks", err)
	}
	page, info := pagination.Trim(items, size, func(w domain.Webhook) string { return w.ID.String() })
	return &domain.ListWebhooksResponse{PageInfo: info, Webhooks: page}, nil
}

func (s *Service) UpdateWebhook(ctx context.Context, id string, req domain.UpdateWebhookRequest) (*domain.Webhook, error) {
	if req.Empty() {
		return nil, domain.ErrInvalidUpdate
	}
	webhookID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	if req.MaxRetries != nil {
		if err := validateMaxRetries(*req.MaxRetries); err != nil {
			return nil, err
		}
	}
	var target string
	if req.URL != nil {
		if target, err = normalizeURL(*req.URL); err != nil {
			return nil, err
		}
	}
	var sealed []byte
	if req.Secret != nil && strings.TrimSpace(*req.Secret) != "" {
		if sealed, err = s.sealer.seal(strings.TrimSpace(*req.Secret)); err != nil {
			return nil, err
		}
	}

	var updated *domain.Webhook
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		webhook, err := s.find(ctx, tx, webhookID)
		if err != nil {
			return err
		}
		if req.WebhookType != nil {
			if strings.TrimSpace(*req.WebhookType) == "" {
				return domain.ErrInvalidType
			}
			webhook.WebhookType = strings.TrimSpace(*req.WebhookType)
		}
		if req.EventType != nil {
			if strings.TrimSpace(*req.EventType) == "" {
				return domain.ErrInvalidType
			}
			webhook.EventType = strings.TrimSpace(*req.EventType)
		}
		if req.ProviderWebhookID != nil {
			webhook.ProviderWebhookID = trimmed(req.ProviderWebhookID)
		}
		if req.URL != nil {
			webhook.URL = target
		}
		if req.Secret != nil {
			webhook.SealedSecret = sealed
		}
		if req.IsActive != nil {
			webhook.IsActive = *req.IsActive
		}
		if req.MaxRetries != nil {
			webhook.MaxRetries = *req.MaxRetries
		}
		webhook.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, webhook); err != nil {
			return db.Unavailable("update webhook", err)
		}
		// Lowering max_retries clamps the stored count, so read it back.
		updated, err = s.find(ctx, tx, webhookID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) DeleteWebhook(ctx context.Context, id string) error {
	webhookID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return err
	}
	affected, err := s.repo.Delete(ctx, s.db, webhookID)
	if err != nil {
		return db.Unavailable("delete webhook", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	logger.WithContext(ctx, s.log).Info("webhook deleted", zap.String("webhook_id", webhookID.String()))
	return nil
}

// RecordTrigger applies one delivery attempt. The counter change happens
// inside a single UPDATE so concurrent failures each count.
func (s *Service) RecordTrigger(ctx context.Context, id string, success bool, failureReason *string) (*domain.Webhook, error) {
	webhookID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	reason := trimmed(failureReason)
	now := s.clock.Now()

	var result *domain.Webhook
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var (
			affected int64
			err      error
		)
		if success {
			affected, err = s.repo.RecordSuccess(ctx, tx, webhookID, now)
		} else {
			affected, err = s.repo.RecordFailure(ctx, tx, webhookID, reason, now)
		}
		if err != nil {
			return db.Unavailable("record webhook trigger", err)
		}
		if affected == 0 {
			return domain.ErrNotFound
		}
		result, err = s.find(ctx, tx, webhookID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordWebhookTrigger(ctx, success)
	log := logger.WithContext(ctx, s.log).With(
		zap.String("webhook_id", webhookID.String()),
		zap.String("state", string(result.State())),
		zap.Int("retry_count", result.RetryCount),
	)
	switch result.State() {
	case domain.StateExhausted:
		log.Warn("webhook retries exhausted")
	case domain.StateRetrying:
		log.Info("webhook delivery failed")
	default:
		log.Debug("webhook delivered")
	}
	return result, nil
}

func (s *Service) ResetRetries(ctx context.Context, id string) (*domain.Webhook, error) {
	webhookID, err := parseID(id, domain.ErrInvalidID)
	if err != nil {
		return nil, err
	}
	affected, err := s.repo.ResetRetries(ctx, s.db, webhookID, s.clock.Now())
	if err != nil {
		return nil, db.Unavailable("reset webhook retries", err)
	}
	if affected == 0 {
		return nil, domain.ErrNotFound
	}
	return s.find(ctx, s.db, webhookID)
}

// DueForRetry lists active retrying webhooks whose last attempt is older
// than the configured cool-down.
func (s *Service) DueForRetry(ctx context.Context, limit int) ([]domain.Webhook, error) {
	delivery := s.engine.Get().Delivery
	if limit <= 0 {
		limit = delivery.SweepBatchSize
	}
	cutoff := s.clock.Now().Add(-delivery.RetryCooldown)
	webhooks, err := s.repo.DueForRetry(ctx, s.db, cutoff, limit)
	if err != nil {
		return nil, db.Unavailable("query due webhooks", err)
	}
	return webhooks, nil
}

func (s *Service) VerifySignature(ctx context.Context, id string, payload []byte, signature string) (bool, error) {
	webhook, err := s.GetWebhook(ctx, id)
	if err != nil {
		return false, err
	}
	if !webhook.HasSecret() {
		return false, domain.ErrSecretMissing
	}
	secret, err := s.sealer.open(webhook.SealedSecret)
	if err != nil {
		logger.WithContext(ctx, s.log).Error("webhook secret unreadable",
			zap.String("webhook_id", webhook.ID.String()),
			zap.Error(err),
		)
		return false, err
	}
	return signaturesMatch(secret, payload, signature), nil
}

func (s *Service) find(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Webhook, error) {
	webhook, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return nil, db.Unavailable("find webhook", err)
	}
	if webhook == nil {
		return nil, domain.ErrNotFound
	}
	return webhook, nil
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, invalid
	}
	return id, nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return "", domain.ErrInvalidURL
	}
	return parsed.String(), nil
}

func validateMaxRetries(n int) error {
	if n < 0 || n > maxRetriesCeiling {
		return domain.ErrInvalidMaxRetries
	}
	return nil
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
