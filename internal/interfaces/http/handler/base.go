package handler

import (
	"errors"
	"net/http"

	"github.com/erp/datacore/internal/domain/shared"
	"github.com/erp/datacore/internal/infrastructure/logger"
	"github.com/erp/datacore/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

func requestID(c *gin.Context) string {
	return logger.RequestID(c.Request.Context())
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, dto.NewErrorResponse(dto.ErrCodeBadRequest, message, requestID(c)))
}

// HandleError converts err to an HTTP response. Domain errors keep their code
// and message; anything else is logged and reported as internal.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	status, info := dto.ErrorInfoFrom(err, requestID(c))
	if status >= http.StatusInternalServerError {
		logger.L(c.Request.Context()).Error("Request failed",
			zap.String("code", info.Code),
			zap.Error(err),
		)
	}
	if info.Retryable {
		c.Header("Retry-After", "1")
	}
	_ = c.Error(err)
	c.JSON(status, dto.Response{Error: info})
}

// bindError reports a body or query binding failure as a bad request,
// keeping domain errors raised by custom unmarshalers. A body cut off by
// BodyLimit's reader is reported as too large.
func (h *BaseHandler) bindError(c *gin.Context, err error) {
	if shared.CodeOf(err) != "" {
		h.HandleError(c, err)
		return
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, dto.NewErrorResponse(
			dto.ErrCodeRequestTooLarge, "Request body exceeds maximum allowed size", requestID(c)))
		return
	}
	h.BadRequest(c, err.Error())
}
