package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/apperrors"
	"github.com/imrishuroy/go-sneaker-orderflow/internal/logger"
)

const replayedHeader = "Idempotent-Replayed"

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// writeError maps err onto its HTTP status and public message. Causes are
// logged, never returned to the caller.
func writeError(c *gin.Context, log *logger.Logger, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := apperrors.As(err)
	if typed == nil {
		typed = apperrors.Wrap(apperrors.CodeInternal, err, "unexpected error")
	}
	meta := apperrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if meta.ExposeMessage && typed.Message() != "" {
		msg = typed.Message()
	}
	payload := errorEnvelope{Error: apiError{Code: string(typed.Code()), Message: msg}}
	if meta.DetailsAllowed {
		payload.Error.Details = typed.Details()
	}

	if log != nil {
		ctx := log.WithFields(c.Request.Context(), map[string]any{
			"error_code": string(typed.Code()),
			"status":     meta.HTTPStatus,
		})
		if meta.HTTPStatus >= 500 {
			log.Error(ctx, "request.error", err)
		} else {
			log.Warn(log.WithField(ctx, "error", err.Error()), "request.rejected")
		}
	}

	c.AbortWithStatusJSON(meta.HTTPStatus, payload)
}

func markReplayed(c *gin.Context, replayed bool) {
	if replayed {
		c.Header(replayedHeader, "true")
	}
}
