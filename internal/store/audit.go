package store

import (
	"context"
	"time"

	"github.com/go-authgate/oauthcore/internal/models"

	"gorm.io/gorm"
)

const auditBatchSize = 100

// CreateAuditLog writes a single audit entry.
func (s *Store) CreateAuditLog(ctx context.Context, entry *models.AuditLog) (err error) {
	ctx, span := s.startSpan(ctx, "CreateAuditLog")
	defer func() { endSpan(span, err) }()

	return s.db.WithContext(ctx).Create(entry).Error
}

// CreateAuditLogBatch writes entries in chunks of auditBatchSize.
func (s *Store) CreateAuditLogBatch(ctx context.Context, entries []*models.AuditLog) (err error) {
	if len(entries) == 0 {
		return nil
	}
	ctx, span := s.startSpan(ctx, "CreateAuditLogBatch")
	defer func() { endSpan(span, err) }()

	return s.db.WithContext(ctx).CreateInBatches(entries, auditBatchSize).Error
}

// GetAuditLogsPaginated returns a filtered page of audit logs, newest first.
func (s *Store) GetAuditLogsPaginated(
	ctx context.Context,
	params PaginationParams,
	filters AuditLogFilters,
) (_ []models.AuditLog, _ PaginationResult, err error) {
	ctx, span := s.startSpan(ctx, "GetAuditLogsPaginated")
	defer func() { endSpan(span, err) }()

	query := applyAuditFilters(s.db.WithContext(ctx).Model(&models.AuditLog{}), filters).
		Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, PaginationResult{}, err
	}

	var logs []models.AuditLog
	if err := query.
		Order("event_time DESC").
		Offset((params.Page - 1) * params.PageSize).
		Limit(params.PageSize).
		Find(&logs).Error; err != nil {
		return nil, PaginationResult{}, err
	}

	return logs, CalculatePagination(total, params.Page, params.PageSize), nil
}

func applyAuditFilters(query *gorm.DB, f AuditLogFilters) *gorm.DB {
	if f.EventType != "" {
		query = query.Where("event_type = ?", f.EventType)
	}
	if f.ActorUserID != "" {
		query = query.Where("actor_user_id = ?", f.ActorUserID)
	}
	if f.ActorClientID != "" {
		query = query.Where("actor_client_id = ?", f.ActorClientID)
	}
	if f.ResourceType != "" {
		query = query.Where("resource_type = ?", f.ResourceType)
	}
	if f.ResourceID != "" {
		query = query.Where("resource_id = ?", f.ResourceID)
	}
	if f.Severity != "" {
		query = query.Where("severity = ?", f.Severity)
	}
	if f.Success != nil {
		query = query.Where("success = ?", *f.Success)
	}
	if !f.StartTime.IsZero() {
		query = query.Where("event_time >= ?", f.StartTime)
	}
	if !f.EndTime.IsZero() {
		query = query.Where("event_time <= ?", f.EndTime)
	}
	if f.ActorIP != "" {
		query = query.Where("actor_ip = ?", f.ActorIP)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		query = query.Where("action LIKE ? OR resource_name LIKE ?", like, like)
	}
	return query
}

// DeleteOldAuditLogs removes entries created before cutoff.
func (s *Store) DeleteOldAuditLogs(ctx context.Context, cutoff time.Time) (_ int64, err error) {
	ctx, span := s.startSpan(ctx, "DeleteOldAuditLogs")
	defer func() { endSpan(span, err) }()

	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.AuditLog{})
	return result.RowsAffected, result.Error
}

// GetAuditLogStats aggregates audit entries between start and end.
func (s *Store) GetAuditLogStats(
	ctx context.Context,
	start, end time.Time,
) (_ AuditLogStats, err error) {
	ctx, span := s.startSpan(ctx, "GetAuditLogStats")
	defer func() { endSpan(span, err) }()

	stats := AuditLogStats{
		EventsByType:     make(map[models.EventType]int64),
		EventsBySeverity: make(map[models.EventSeverity]int64),
	}
	base := applyAuditFilters(
		s.db.WithContext(ctx).Model(&models.AuditLog{}),
		AuditLogFilters{StartTime: start, EndTime: end},
	).Session(&gorm.Session{})

	if err := base.Count(&stats.TotalEvents).Error; err != nil {
		return stats, err
	}

	var byType []struct {
		EventType models.EventType
		Count     int64
	}
	if err := base.Select("event_type, COUNT(*) AS count").
		Group("event_type").
		Scan(&byType).Error; err != nil {
		return stats, err
	}
	for _, row := range byType {
		stats.EventsByType[row.EventType] = row.Count
	}

	var bySeverity []struct {
		Severity models.EventSeverity
		Count    int64
	}
	if err := base.Select("severity, COUNT(*) AS count").
		Group("severity").
		Scan(&bySeverity).Error; err != nil {
		return stats, err
	}
	for _, row := range bySeverity {
		stats.EventsBySeverity[row.Severity] = row.Count
	}

	if err := base.Where("success = ?", true).Count(&stats.SuccessCount).Error; err != nil {
		return stats, err
	}
	stats.FailureCount = stats.TotalEvents - stats.SuccessCount
	return stats, nil
}
