package middleware

import (
	"errors"

	"github.com/GoPolymarket/logbridge/internal/pkg/apperrors"
	"github.com/GoPolymarket/logbridge/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

// headerPermutation mirrors handler.HeaderPermutation; middleware cannot
// import handler.
const headerPermutation = "X-GWT-Permutation"

// ErrorHandler renders the last error a handler attached with c.Error as an
// AppError body. Rejected client batches are logged at warn with the
// permutation that sent them; 5xx go through LogError.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			appErr = apperrors.New(apperrors.ErrInternal, err.Error(), err)
		}

		logFields := []any{
			"method", c.Request.Method,
			"route", routeOf(c),
			"code", appErr.Type,
			"client_ip", c.ClientIP(),
			"request_id", RequestID(c),
		}
		if perm := c.GetHeader(headerPermutation); perm != "" {
			logFields = append(logFields, "permutation", perm)
		}

		if appErr.HTTPStatus >= 500 {
			logger.LogError(c.Request.Context(), appErr, "Internal Server Error", logFields...)
		} else {
			logger.Warn(appErr.Message, logFields...)
		}

		// tail upgrades and partially streamed responses already own the writer
		if c.Writer.Written() {
			return
		}
		c.JSON(appErr.HTTPStatus, appErr)
	}
}
