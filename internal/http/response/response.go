package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/objective-cascade/internal/domain/cascade"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondEngineError maps an engine error code onto an HTTP status.
func RespondEngineError(c *gin.Context, err error) {
	code := cascade.CodeOf(err)
	if code == "" {
		code = cascade.CodeInternal
	}
	RespondError(c, StatusFor(err), string(code), err)
}

func StatusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch cascade.CodeOf(err) {
	case cascade.CodeNotFound:
		return http.StatusNotFound
	case cascade.CodeInvalidArgument, cascade.CodeDecomposition, cascade.CodeUnmappableResource:
		return http.StatusUnprocessableEntity
	case cascade.CodeConflict:
		return http.StatusConflict
	case cascade.CodeConnectivity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}
