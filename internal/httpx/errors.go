package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MikeMC777/ordenes-credito/internal/apperr"
)

// APIError is the body of every error response.
// swagger:model APIError
type APIError struct {
	Error   string `json:"error" example:"validation_error"`
	Message string `json:"message" example:"order is confirmed, only pending_approval orders can be approved"`
}

func Status(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindIntegrity:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, APIError{Error: code, Message: msg})
}

// Error writes err as an APIError. Internal failures are logged with their
// cause and answered with a generic message.
func Error(c *gin.Context, log *slog.Logger, err error) {
	k := apperr.KindOf(err)
	status := Status(k)
	if status >= http.StatusInternalServerError {
		log.Error("request_failed", "rid", c.GetString(RequestIDKey), "path", c.FullPath(), "err", err)
	}
	var e *apperr.Error
	msg := "internal error"
	if errors.As(err, &e) && k != apperr.KindInternal {
		msg = e.Msg
	}
	Abort(c, status, k.String(), msg)
}

// BadRequest answers a body or query that could not be decoded.
func BadRequest(c *gin.Context, err error) {
	Abort(c, http.StatusBadRequest, "bad_request", err.Error())
}
