package api

import (
	"errors"
	"net/http"

	"booking-service/internal/apperr"
	"booking-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

func errorEnvelope(code, message string) envelope {
	return envelope{Error: &errorBody{Code: code, Message: message}}
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, envelope{Success: true, Data: data})
}

// statusOf maps an error kind to its HTTP status
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidRequest, apperr.KindSignatureInvalid:
		return http.StatusBadRequest
	case apperr.KindInsufficientInventory:
		return http.StatusConflict
	case apperr.KindPaymentProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the failure envelope. Server-side failures do not echo
// internal error text to the client.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)

	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		message = "internal error"
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	var e *apperr.Error
	if status == http.StatusBadGateway && errors.As(err, &e) && e.Msg != "" {
		message = e.Msg
	}

	c.AbortWithStatusJSON(status, errorEnvelope(string(kind), message))
}
