// Package history provides claimant claim-frequency lookups.
package history

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-insurance/kestrel/internal/domain"
)

// countTTL bounds how stale a cached claimant count may be. A claim filed
// inside the TTL is not reflected until the entry expires.
const countTTL = 30 * time.Second

// Service counts recent claims per claimant. Repeated claims inside a
// short window feed the claimant-history checks.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new history service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// GetClaimCount returns the number of claims a claimant filed within a time window.
// This is the HistoryGetter function signature expected by the check engine.
func (s *Service) GetClaimCount(ctx context.Context, tenantID, claimantID string, windowSecs int) (int64, error) {
	if tenantID == "" || claimantID == "" {
		return 0, fmt.Errorf("tenantID and claimantID are required")
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	key := countKey(claimantID, windowSecs)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, tenantID, key); err == nil && data != nil {
			if n, perr := strconv.ParseInt(string(data), 10, 64); perr == nil {
				return n, nil
			}
		}
	}

	since := time.Now().Add(-time.Duration(windowSecs) * time.Second)
	count, err := s.repo.CountClaimsByClaimant(ctx, tenantID, claimantID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count claims: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, tenantID, key, []byte(strconv.Itoa(count)), countTTL)
	}

	return int64(count), nil
}

// GetHistoryGetter returns a HistoryGetter function for the check engine.
func (s *Service) GetHistoryGetter() func(ctx context.Context, tenantID, claimantID string, windowSecs int) (int64, error) {
	return s.GetClaimCount
}

func countKey(claimantID string, windowSecs int) string {
	return fmt.Sprintf("history:%s:%d", claimantID, windowSecs)
}
