package service

import (
	"context"
	"slices"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/payrouter/internal/clock"
	"github.com/smallbiznis/payrouter/internal/observability/logger"
	"github.com/smallbiznis/payrouter/internal/provider/domain"
	"github.com/smallbiznis/payrouter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	Clock       clock.Clock
	Invalidator domain.Invalidator `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	clock       clock.Clock
	invalidator domain.Invalidator
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("provider.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		clock:       p.Clock,
		invalidator: p.Invalidator,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Provider, error) {
	name := slug.Make(req.ProviderName)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if err := validatePriority(req.Priority); err != nil {
		return nil, err
	}
	currencies, err := normalizeCodes(req.SupportedCurrencies, 3)
	if err != nil {
		return nil, err
	}
	countries, err := normalizeCodes(req.SupportedCountries, 2)
	if err != nil {
		return nil, err
	}
	health := req.HealthStatus
	if health == "" {
		health = domain.HealthUnknown
	}
	if !health.Valid() {
		return nil, domain.ErrInvalidHealth
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = strings.TrimSpace(req.ProviderName)
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	now := s.clock.Now()
	provider := &domain.Provider{
		ID:                  s.genID.Generate(),
		ProviderName:        name,
		DisplayName:         displayName,
		IsActive:            active,
		IsTestMode:          req.IsTestMode,
		Priority:            req.Priority,
		SupportedCurrencies: currencies,
		SupportedCountries:  countries,
		HealthStatus:        health,
		HealthSource:        domain.HealthSourceManual,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.repo.Insert(ctx, s.db, provider); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateName
		}
		return nil, db.Unavailable("insert provider", err)
	}

	s.invalidate(ctx)
	logger.WithContext(ctx, s.log).Info("provider created",
		zap.String("provider_id", provider.ID.String()),
		zap.String("provider", provider.ProviderName),
	)
	return provider, nil
}

func (s *Service) Update(ctx context.Context, id string, req domain.UpdateRequest) (*domain.Provider, error) {
	if req.DisplayName == nil && req.IsTestMode == nil && req.Priority == nil &&
		req.SupportedCurrencies == nil && req.SupportedCountries == nil {
		return nil, domain.ErrInvalidUpdate
	}

	return s.mutate(ctx, id, func(p *domain.Provider) error {
		if req.DisplayName != nil {
			displayName := strings.TrimSpace(*req.DisplayName)
			if displayName == "" {
				return domain.ErrInvalidUpdate
			}
			p.DisplayName = displayName
		}
		if req.IsTestMode != nil {
			p.IsTestMode = *req.IsTestMode
		}
		if req.Priority != nil {
			if err := validatePriority(*req.Priority); err != nil {
				return err
			}
			p.Priority = *req.Priority
		}
		if req.SupportedCurrencies != nil {
			codes, err := normalizeCodes(*req.SupportedCurrencies, 3)
			if err != nil {
				return err
			}
			p.SupportedCurrencies = codes
		}
		if req.SupportedCountries != nil {
			codes, err := normalizeCodes(*req.SupportedCountries, 2)
			if err != nil {
				return err
			}
			p.SupportedCountries = codes
		}
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Provider, error) {
	providerID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	provider, err := s.repo.FindByID(ctx, s.db, providerID)
	if err != nil {
		return nil, db.Unavailable("find provider", err)
	}
	if provider == nil {
		return nil, domain.ErrNotFound
	}
	return provider, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Provider, error) {
	providers, err := s.repo.List(ctx, s.db, req.ActiveOnly)
	if err != nil {
		return nil, db.Unavailable("list providers", err)
	}
	return providers, nil
}

func (s *Service) ListActive(ctx context.Context) ([]domain.Provider, error) {
	return s.List(ctx, domain.ListRequest{ActiveOnly: true})
}

func (s *Service) SetActive(ctx context.Context, id string, active bool) (*domain.Provider, error) {
	return s.mutate(ctx, id, func(p *domain.Provider) error {
		p.IsActive = active
		return nil
	})
}

func (s *Service) SetHealthStatus(ctx context.Context, id string, status domain.HealthStatus) (*domain.Provider, error) {
	if !status.Valid() {
		return nil, domain.ErrInvalidHealth
	}
	return s.mutate(ctx, id, func(p *domain.Provider) error {
		p.HealthStatus = status
		p.HealthSource = domain.HealthSourceManual
		return nil
	})
}

// SetDerivedHealth writes a status computed from observed traffic.
func (s *Service) SetDerivedHealth(ctx context.Context, id string, status domain.HealthStatus) (*domain.Provider, error) {
	if !status.Valid() {
		return nil, domain.ErrInvalidHealth
	}
	return s.mutate(ctx, id, func(p *domain.Provider) error {
		p.HealthStatus = status
		p.HealthSource = domain.HealthSourceDerived
		return nil
	})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	providerID, err := parseID(id)
	if err != nil {
		return err
	}
	affected, err := s.repo.Delete(ctx, s.db, providerID)
	if err != nil {
		return db.Unavailable("delete provider", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	s.invalidate(ctx)
	logger.WithContext(ctx, s.log).Info("provider deleted", zap.String("provider_id", providerID.String()))
	return nil
}

func (s *Service) mutate(ctx context.Context, id string, apply func(*domain.Provider) error) (*domain.Provider, error) {
	providerID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var updated *domain.Provider
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, providerID)
		if err != nil {
			return db.Unavailable("find provider", err)
		}
		if current == nil {
			return domain.ErrNotFound
		}
		if err := apply(current); err != nil {
			return err
		}
		current.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return db.Unavailable("update provider", err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	return updated, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx)
	}
}

func parseID(id string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed <= 0 {
		return 0, domain.ErrInvalidID
	}
	return parsed, nil
}

func validatePriority(priority int) error {
	if priority < domain.MinPriority || priority > domain.MaxPriority {
		return domain.ErrInvalidPriority
	}
	return nil
}

// normalizeCodes upper-cases, dedupes and sorts ISO codes of the given
// length.
func normalizeCodes(values []string, length int) ([]string, error) {
	codes := make([]string, 0, len(values))
	for _, value := range values {
		code := strings.ToUpper(strings.TrimSpace(value))
		if len(code) != length || strings.IndexFunc(code, func(r rune) bool { return r < 'A' || r > 'Z' }) >= 0 {
			return nil, domain.ErrInvalidCode
		}
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return slices.Compact(codes), nil
}
