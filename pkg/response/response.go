package response

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"SquadCheck/pkg/errors"
)

// ErrorResponse 统一的错误响应格式
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
}

// SuccessResponse 统一的成功响应格式
type SuccessResponse struct {
	Data interface{}            `json:"data"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// asDefinition 解开包装，取出业务错误码
func asDefinition(err error) (errors.Definition, bool) {
	var def errors.Definition
	if stderrors.As(err, &def) {
		return def, true
	}
	return errors.Definition{}, false
}

func errorToHTTPStatus(err error) int {
	def, ok := asDefinition(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch def.Code {
	case errors.InvalidPeriodKey.Code, errors.InvalidUserID.Code,
		errors.InvalidDueTime.Code, errors.InvalidTimeZone.Code, "INVALID_REQUEST":
		return http.StatusBadRequest // 400
	case errors.ChallengeNotFound.Code:
		return http.StatusNotFound // 404
	case errors.ChallengeTypeInvalid.Code, errors.ChallengeEnded.Code:
		return http.StatusUnprocessableEntity // 422
	case errors.SweepLocked.Code:
		return http.StatusConflict // 409
	default:
		return http.StatusInternalServerError // 500
	}
}

// Error 返回错误响应，非业务错误不向调用方暴露内部信息
func Error(ctx context.Context, c *app.RequestContext, err error) {
	ErrorWithDetails(ctx, c, err, nil)
}

func ErrorWithDetails(ctx context.Context, c *app.RequestContext, err error, details map[string]interface{}) {
	statusCode := errorToHTTPStatus(err)

	code, message := "INTERNAL_ERROR", "Internal server error"
	if def, ok := asDefinition(err); ok {
		code = def.Code
		message = def.Message
	}

	_ = c.Error(err)
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
	})
}

func SuccessWithMeta(ctx context.Context, c *app.RequestContext, data interface{}, meta map[string]interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: data,
		Meta: meta,
	})
}
