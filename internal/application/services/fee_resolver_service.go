package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medisync/emr-backend/internal/domain/providers"
	"github.com/medisync/emr-backend/internal/domain/repositories"
	"github.com/medisync/emr-backend/internal/infrastructure/clients/feeschedule"
	"github.com/medisync/emr-backend/internal/infrastructure/observability"
	"github.com/medisync/emr-backend/pkg/tenant"
)

// ResolutionSource tells the caller which tier produced the amount.
type ResolutionSource string

const (
	SourceCache      ResolutionSource = "cache"
	SourceDetail     ResolutionSource = "detail"
	SourceSummary    ResolutionSource = "summary"
	SourceCatalog    ResolutionSource = "catalog"
	SourceUnresolved ResolutionSource = "unresolved"
)

// Resolution is the outcome of resolving a fee code. A zero amount with
// SourceUnresolved means every tier came up empty and the code needs
// manual pricing; it is not a legitimately free service.
type Resolution struct {
	Amount int64            `json:"amount"`
	Source ResolutionSource `json:"source"`
}

const (
	feeCodeCacheTTLSeconds = 24 * 60 * 60
	defaultCallTimeout     = 5 * time.Second
	lookupPageSize         = 100
)

// FeeResolverService resolves the current charge amount for a fee code.
// It degrades through cache, live detail lookup, live summary lookup and
// the persisted catalog; external failures never reach the caller.
type FeeResolverService struct {
	client          feeschedule.Client
	catalogRepo     repositories.CatalogRepository
	cache           providers.CacheProvider
	institutionName string
	callTimeout     time.Duration
	metrics         *observability.Metrics
}

// resolverStrategy is one live-resolution tier. It reports an amount,
// whether the tier produced a usable result, and any external error.
type resolverStrategy struct {
	source  ResolutionSource
	resolve func(ctx context.Context, code string) (int64, bool, error)
}

// NewFeeResolverService creates a new fee resolver
func NewFeeResolverService(
	client feeschedule.Client,
	catalogRepo repositories.CatalogRepository,
	cache providers.CacheProvider,
	institutionName string,
	callTimeout time.Duration,
) *FeeResolverService {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &FeeResolverService{
		client:          client,
		catalogRepo:     catalogRepo,
		cache:           cache,
		institutionName: institutionName,
		callTimeout:     callTimeout,
	}
}

// WithMetrics enables resolution counters. Safe to skip in tests.
func (s *FeeResolverService) WithMetrics(metrics *observability.Metrics) *FeeResolverService {
	s.metrics = metrics
	return s
}

// Resolve determines the current amount for a fee code. It never
// returns an error: every failure degrades to the next tier, and when
// all tiers are exhausted the result is a zero-amount unresolved marker.
func (s *FeeResolverService) Resolve(ctx context.Context, code string) Resolution {
	cacheKey := s.cacheKey(ctx, code)

	if s.metrics != nil {
		s.metrics.ResolveCount.Add(ctx, 1)
	}

	if amount, ok := s.readCache(ctx, cacheKey); ok {
		if s.metrics != nil {
			s.metrics.CacheHitCount.Add(ctx, 1)
		}
		return Resolution{Amount: amount, Source: SourceCache}
	}
	if s.metrics != nil {
		s.metrics.CacheMissCount.Add(ctx, 1)
	}

	strategies := []resolverStrategy{
		{source: SourceDetail, resolve: s.resolveFromDetail},
		{source: SourceSummary, resolve: s.resolveFromSummary},
	}

	for _, strategy := range strategies {
		amount, ok, err := strategy.resolve(ctx, code)
		if err != nil {
			class := feeschedule.Classify(err)
			log.Warn().
				Str("code", code).
				Str("tier", string(strategy.source)).
				Str("class", string(class)).
				Err(err).
				Msg("fee lookup failed, falling back")
			continue
		}
		if !ok {
			continue
		}
		s.writeCache(ctx, cacheKey, amount)
		return Resolution{Amount: amount, Source: strategy.source}
	}

	if s.metrics != nil {
		s.metrics.ResolveFallbacks.Add(ctx, 1)
	}
	return s.resolveFromCatalog(ctx, cacheKey, code)
}

// resolveFromDetail looks for a priced line item for this institution.
func (s *FeeResolverService) resolveFromDetail(ctx context.Context, code string) (int64, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	resp, err := s.client.LookupDetail(callCtx, feeschedule.DetailRequest{
		InstitutionName: s.institutionName,
		Code:            code,
		PageNo:          1,
		NumOfRows:       lookupPageSize,
	})
	if err != nil {
		return 0, false, err
	}

	for _, item := range resp.Items {
		if item.Code != code {
			continue
		}
		if s.institutionName != "" && item.InstitutionName != s.institutionName {
			continue
		}
		if item.Amount != nil && *item.Amount > 0 {
			return *item.Amount, true, nil
		}
	}
	return 0, false, nil
}

// resolveFromSummary uses the midpoint of the nationwide min/max range.
func (s *FeeResolverService) resolveFromSummary(ctx context.Context, code string) (int64, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	resp, err := s.client.LookupSummary(callCtx, feeschedule.SummaryRequest{
		Code:            code,
		InstitutionName: s.institutionName,
		PageNo:          1,
		NumOfRows:       10,
	})
	if err != nil {
		return 0, false, err
	}

	for _, item := range resp.Items {
		if item.Code != code {
			continue
		}
		if item.MinAmount != nil && item.MaxAmount != nil && *item.MinAmount > 0 && *item.MaxAmount > 0 {
			return (*item.MinAmount + *item.MaxAmount) / 2, true, nil
		}
	}
	return 0, false, nil
}

// resolveFromCatalog is the last tier: the persisted, possibly stale,
// catalog amount. A hit repopulates the cache so the next resolution
// short-circuits.
func (s *FeeResolverService) resolveFromCatalog(ctx context.Context, cacheKey, code string) Resolution {
	entry, err := s.catalogRepo.GetByCode(ctx, code)
	if err != nil {
		log.Warn().Str("code", code).Err(err).Msg("catalog fallback failed")
		return Resolution{Amount: 0, Source: SourceUnresolved}
	}

	if !entry.HasAmount() {
		log.Warn().Str("code", code).Msg("no stored amount for fee code, manual pricing required")
		return Resolution{Amount: 0, Source: SourceUnresolved}
	}

	amount := entry.StoredAmount()
	s.writeCache(ctx, cacheKey, amount)
	return Resolution{Amount: amount, Source: SourceCatalog}
}

func (s *FeeResolverService) cacheKey(ctx context.Context, code string) string {
	return fmt.Sprintf("feecode:%s:%s", tenant.InstitutionFromContext(ctx), code)
}

func (s *FeeResolverService) readCache(ctx context.Context, key string) (int64, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return 0, false
	}
	amount, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil || amount <= 0 {
		return 0, false
	}
	return amount, true
}

func (s *FeeResolverService) writeCache(ctx context.Context, key string, amount int64) {
	value := []byte(strconv.FormatInt(amount, 10))
	if err := s.cache.Set(ctx, key, value, feeCodeCacheTTLSeconds); err != nil {
		log.Warn().Str("key", key).Err(err).Msg("failed to cache resolved amount")
	}
}
