package response

import (
	"errors"
	"net/http"

	"github.com/Rarurei/Raruin/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeTimeout       = 504
	CodeBusinessError = 1000
)

const (
	CodeInvalidAmount        = 1001
	CodeInsufficientBalance  = 1002
	CodeInsufficientQuantity = 1003
	CodeOutOfStock           = 1004
	CodeShopNotFound         = 1005
	CodeProductNotFound      = 1006
	CodeInvalidTarget        = 1007
	CodeRoleRequired         = 1008
	CodeInvalidBet           = 1009
	CodeInvalidLevel         = 1010
	CodeLotteryNotFound      = 1011
	CodeInvalidSnapshot      = 1012
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}

var businessCodes = []struct {
	err  error
	code int
}{
	{service.ErrInvalidAmount, CodeInvalidAmount},
	{service.ErrInsufficientBalance, CodeInsufficientBalance},
	{service.ErrInsufficientQuantity, CodeInsufficientQuantity},
	{service.ErrOutOfStock, CodeOutOfStock},
	{service.ErrShopNotFound, CodeShopNotFound},
	{service.ErrProductNotFound, CodeProductNotFound},
	{service.ErrInvalidTarget, CodeInvalidTarget},
	{service.ErrForbidden, CodeRoleRequired},
	{service.ErrInvalidBet, CodeInvalidBet},
	{service.ErrInvalidLevel, CodeInvalidLevel},
	{service.ErrLotteryNotFound, CodeLotteryNotFound},
	{service.ErrInvalidSnapshot, CodeInvalidSnapshot},
	{service.ErrInvalidInput, CodeParamError},
}

// CodeOf 账本错误对应的响应码
func CodeOf(err error) int {
	for _, bc := range businessCodes {
		if errors.Is(err, bc.err) {
			return bc.code
		}
	}
	var se *service.StorageError
	if errors.As(err, &se) && se.Timeout() {
		return CodeTimeout
	}
	return CodeServerError
}

// Fail 业务拒绝原样返回错误信息，存储错误不向调用方暴露细节
func Fail(c *gin.Context, err error) {
	switch code := CodeOf(err); code {
	case CodeTimeout:
		Error(c, code, "操作超时，请稍后重试")
	case CodeServerError:
		ServerError(c, "服务器内部错误")
	default:
		BusinessError(c, code, err.Error())
	}
}
