package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/GoPolymarket/logbridge/internal/model"
	"github.com/GoPolymarket/logbridge/internal/pkg/apperrors"
	"github.com/GoPolymarket/logbridge/internal/pkg/logger"
	"github.com/GoPolymarket/logbridge/internal/pkg/metrics"
	"github.com/GoPolymarket/logbridge/internal/service"
	"github.com/gin-gonic/gin"
)

const (
	HeaderPermutation   = "X-GWT-Permutation"
	HeaderXForwardedFor = "X-Forwarded-For"
)

type LogHandler struct {
	svc          *service.LogService
	maxBodyBytes int64
}

func NewLogHandler(svc *service.LogService, maxBodyBytes int64) *LogHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &LogHandler{svc: svc, maxBodyBytes: maxBodyBytes}
}

// Ingest accepts a batch (or a single record), resolves it and either
// echoes the resolved records or answers 204.
func (h *LogHandler) Ingest(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	records, skipped, err := decodeBatch(body)
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err))
		return
	}
	meta := requestMeta(c)
	if len(skipped) > 0 {
		metrics.RecordFailures.Add(float64(len(skipped)))
		logger.Warn("Skipped undecodable records",
			"count", len(skipped),
			"remote_addr", meta.RemoteAddr,
			"permutation", meta.Permutation,
			"error", errors.Join(skipped...),
		)
	}

	res := h.svc.ProcessBatch(c.Request.Context(), records, meta)
	if !h.svc.ReturnResolved() {
		c.Status(http.StatusNoContent)
		return
	}
	out := gin.H{"records": res.Records}
	if len(skipped) > 0 {
		out["skipped"] = len(skipped)
	}
	c.JSON(http.StatusOK, out)
}

// LogLevel is the per-level form: POST /v1/log/:level with one message.
func (h *LogHandler) LogLevel(c *gin.Context) {
	level, err := model.ParseLevel(c.Param("level"))
	if err != nil || level == model.LevelOff {
		c.Error(apperrors.NewInvalidRequest("unknown level " + c.Param("level")))
		return
	}
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	rec, err := decodeMessage(body)
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err))
		return
	}

	rec, err = h.svc.LogMessage(c.Request.Context(), level, rec, requestMeta(c))
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, "failed to log message", err))
		return
	}
	if !h.svc.ReturnResolved() {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": []*model.LogRecord{rec}})
}

func (h *LogHandler) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Error(apperrors.New(apperrors.ErrPayloadTooBig, "request body too large", err))
		} else {
			c.Error(apperrors.New(apperrors.ErrInvalidRequest, "failed to read body", err))
		}
		return nil, false
	}
	if len(body) == 0 {
		c.Error(apperrors.NewInvalidRequest("empty body"))
		return nil, false
	}
	return body, true
}

func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{
		RemoteAddr:    c.RemoteIP(),
		XForwardedFor: c.GetHeader(HeaderXForwardedFor),
		Permutation:   c.GetHeader(HeaderPermutation),
	}
}
