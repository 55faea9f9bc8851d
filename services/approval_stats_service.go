package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"permit-workflow-api/config"
	"permit-workflow-api/models"

	"gorm.io/gorm"
)

// ApprovalTotals is the number of submissions in each approval status.
type ApprovalTotals map[models.ApprovalStatus]int64

// ApprovalStatsService serves approval aggregate counts through a cache that transitions
// invalidate.
type ApprovalStatsService struct {
	db    *gorm.DB
	cache StatsCache
	ttl   time.Duration
}

func NewApprovalStatsService(db *gorm.DB, cache StatsCache, ttl time.Duration) *ApprovalStatsService {
	if cache == nil {
		cache = NewMemoryStatsCache()
	}
	return &ApprovalStatsService{db: db, cache: cache, ttl: ttl}
}

// Totals returns cached counts, recomputing on a miss. Cache read/write failures degrade to a
// direct query.
func (s *ApprovalStatsService) Totals(ctx context.Context) (ApprovalTotals, error) {
	if raw, err := s.cache.Get(ctx, ApprovalTotalsCacheKey); err == nil {
		var totals ApprovalTotals
		if err := json.Unmarshal(raw, &totals); err == nil {
			return totals, nil
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		config.Log.WithError(err).Warn("approval totals cache read failed")
	}

	totals, err := s.count(ctx)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(totals); err == nil {
		if err := s.cache.Set(ctx, ApprovalTotalsCacheKey, raw, s.ttl); err != nil {
			config.Log.WithError(err).Warn("approval totals cache write failed")
		}
	}
	return totals, nil
}

func (s *ApprovalStatsService) count(ctx context.Context) (ApprovalTotals, error) {
	var rows []struct {
		ApprovalStatus models.ApprovalStatus
		Total          int64
	}
	if err := s.db.WithContext(ctx).Model(&models.Submission{}).
		Select("approval_status, COUNT(*) AS total").
		Group("approval_status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count approval statuses: %w", err)
	}

	totals := make(ApprovalTotals, len(models.AllApprovalStatuses))
	for _, status := range models.AllApprovalStatuses {
		totals[status] = 0
	}
	for _, row := range rows {
		if row.ApprovalStatus.Valid() {
			totals[row.ApprovalStatus] = row.Total
		}
	}
	return totals, nil
}
