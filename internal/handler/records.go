package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/GoPolymarket/logbridge/internal/model"
	"github.com/GoPolymarket/logbridge/internal/pkg/apperrors"
	"github.com/GoPolymarket/logbridge/internal/repository"
	"github.com/GoPolymarket/logbridge/internal/sink"
	"github.com/gin-gonic/gin"
)

// RecordsHandler serves recently resolved records. The in-memory buffer is
// always there; the redis list and the database are optional history.
type RecordsHandler struct {
	buffer *sink.Buffer
	redis  *repository.RedisRecordRepo
	db     *repository.RecordRepo
}

func NewRecordsHandler(buffer *sink.Buffer, redis *repository.RedisRecordRepo, db *repository.RecordRepo) *RecordsHandler {
	return &RecordsHandler{buffer: buffer, redis: redis, db: db}
}

// List handles GET /v1/records?limit=&level=&source=memory|redis|db.
func (h *RecordsHandler) List(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	minLevel := model.LevelTrace
	if raw := c.Query("level"); raw != "" {
		l, err := model.ParseLevel(raw)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
		minLevel = l
	}

	var (
		records []*model.LogRecord
		err     error
	)
	switch c.DefaultQuery("source", "memory") {
	case "memory":
		records = h.buffer.List(limit, minLevel)
	case "redis":
		if h.redis == nil {
			c.Error(apperrors.New(apperrors.ErrUnavailable, "redis history not configured", nil))
			return
		}
		records, err = h.redis.List(c.Request.Context(), limit, minLevel)
	case "db":
		if h.db == nil {
			c.Error(apperrors.New(apperrors.ErrUnavailable, "database history not configured", nil))
			return
		}
		filter := repository.RecordFilter{
			MinLevel:    minLevel,
			Limit:       limit,
			Category:    c.Query("category"),
			Permutation: c.Query("permutation"),
		}
		if raw := c.Query("since"); raw != "" {
			since, perr := time.Parse(time.RFC3339, raw)
			if perr != nil {
				c.Error(apperrors.NewInvalidRequest("invalid since, want RFC3339"))
				return
			}
			filter.Since = since
		}
		records, err = h.db.List(c.Request.Context(), filter)
	default:
		c.Error(apperrors.NewInvalidRequest("source must be memory, redis or db"))
		return
	}
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, err.Error(), err))
		return
	}
	if records == nil {
		records = []*model.LogRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
