package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-authgate/oauthcore/internal/models"
	"github.com/go-authgate/oauthcore/internal/services"
	"github.com/go-authgate/oauthcore/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// queryValueTrue represents the string "true" used in query parameters
	queryValueTrue = "true"

	maxExportRecords = 10000
)

// AuditHandler exposes the audit trail to administrators.
type AuditHandler struct {
	auditService *services.AuditService
	logger       *zap.Logger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(auditService *services.AuditService, logger *zap.Logger) *AuditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditHandler{
		auditService: auditService,
		logger:       logger.Named("audit"),
	}
}

// parseAuditFilters reads the filter query parameters shared by listing
// and export. Malformed timestamps are ignored.
func parseAuditFilters(c *gin.Context) store.AuditLogFilters {
	filters := store.AuditLogFilters{
		EventType:     models.EventType(c.Query("event_type")),
		ActorUserID:   c.Query("actor_user_id"),
		ActorClientID: c.Query("actor_client_id"),
		ResourceType:  models.ResourceType(c.Query("resource_type")),
		ResourceID:    c.Query("resource_id"),
		Severity:      models.EventSeverity(c.Query("severity")),
		ActorIP:       c.Query("actor_ip"),
		Search:        c.Query("search"),
	}

	if successStr := c.Query("success"); successStr != "" {
		success := successStr == queryValueTrue
		filters.Success = &success
	}

	filters.StartTime = parseTimeQuery(c, "start_time")
	filters.EndTime = parseTimeQuery(c, "end_time")
	return filters
}

func parseTimeQuery(c *gin.Context, key string) time.Time {
	if v := c.Query(key); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ListAuditLogs retrieves audit logs with pagination and filtering
func (h *AuditHandler) ListAuditLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	params := store.NewPaginationParams(page, pageSize, c.Query("search"))

	logs, pagination, err := h.auditService.GetAuditLogs(
		c.Request.Context(), params, parseAuditFilters(c),
	)
	if err != nil {
		h.logger.Error("failed to list audit logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve audit logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":       logs,
		"pagination": pagination,
	})
}

// GetAuditLogStats returns event counts for a time range, defaulting to
// the last 30 days.
func (h *AuditHandler) GetAuditLogStats(c *gin.Context) {
	startTime := parseTimeQuery(c, "start_time")
	endTime := parseTimeQuery(c, "end_time")
	if startTime.IsZero() && endTime.IsZero() {
		endTime = time.Now()
		startTime = endTime.Add(-30 * 24 * time.Hour)
	}

	stats, err := h.auditService.GetAuditLogStats(c.Request.Context(), startTime, endTime)
	if err != nil {
		h.logger.Error("failed to compute audit stats", zap.Error(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Failed to retrieve audit log statistics"},
		)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":      stats,
		"start_time": startTime,
		"end_time":   endTime,
	})
}

// ExportAuditLogs streams matching audit logs as CSV.
func (h *AuditHandler) ExportAuditLogs(c *gin.Context) {
	params := store.PaginationParams{Page: 1, PageSize: maxExportRecords}
	logs, _, err := h.auditService.GetAuditLogs(c.Request.Context(), params, parseAuditFilters(c))
	if err != nil {
		h.logger.Error("failed to export audit logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve audit logs"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf(
		"attachment; filename=audit_logs_%s.csv",
		time.Now().Format("2006-01-02"),
	))

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	if err := writer.Write([]string{
		"Event Time",
		"Event Type",
		"Severity",
		"Actor User",
		"Actor Client",
		"Actor IP",
		"Resource Type",
		"Resource ID",
		"Action",
		"Success",
		"Error Message",
	}); err != nil {
		return
	}

	for _, log := range logs {
		successStr := "Yes"
		if !log.Success {
			successStr = "No"
		}

		if err := writer.Write([]string{
			log.EventTime.Format(time.RFC3339),
			string(log.EventType),
			string(log.Severity),
			log.ActorUserID,
			log.ActorClientID,
			log.ActorIP,
			string(log.ResourceType),
			log.ResourceID,
			log.Action,
			successStr,
			log.ErrorMessage,
		}); err != nil {
			return
		}
	}
}
