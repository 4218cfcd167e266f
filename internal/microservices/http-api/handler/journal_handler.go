package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"beatrelay/internal/journal"
	"beatrelay/internal/microservices/http-api/dto"

	"github.com/gin-gonic/gin"
)

const defaultJournalLimit = 50

type JournalHandler struct {
	repo   journal.Repository // nil when no database is configured
	logger *slog.Logger
}

func NewJournalHandler(repo journal.Repository, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{repo: repo, logger: logger}
}

// List returns the newest dispatch records, optionally for one key
func (h *JournalHandler) List(c *gin.Context) {
	if h.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal is not enabled"})
		return
	}

	limit := defaultJournalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, journal.MaxQueryLimit)
	}

	records, err := h.repo.Recent(c.Request.Context(), c.Query("key"), limit)
	if err != nil {
		h.logger.Error("journal_query_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}

	c.JSON(http.StatusOK, dto.JournalResponse{Records: records, Count: len(records), Limit: limit})
}

// Summary returns how many records exist per outcome
func (h *JournalHandler) Summary(c *gin.Context) {
	if h.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal is not enabled"})
		return
	}

	counts, err := h.repo.CountByOutcome(c.Request.Context())
	if err != nil {
		h.logger.Error("journal_query_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}
	c.JSON(http.StatusOK, dto.JournalSummaryResponse{Outcomes: counts})
}
