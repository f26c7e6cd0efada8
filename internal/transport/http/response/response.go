package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeOK             = 0
	CodePartial        = 20700
	CodeBadRequest     = 40000
	CodeNoSession      = 40001
	CodeEmptyQuestion  = 40002
	CodeNoDocuments    = 40003
	CodeNothingIndexed = 40004
	CodeNotFound       = 40400
	CodeStrictRejected = 40900
	CodeNoResults      = 42200
	CodeInternalServer = 50000
	CodeUpstream       = 50200
	CodeUnavailable    = 50300
)

// APIResponse is the envelope of every JSON answer.
type APIResponse struct {
	OK      bool   `json:"ok"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{
		OK:      true,
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

// Partial answers 207 for a batch where some items succeeded.
func Partial(c *gin.Context, message string, data any) {
	c.JSON(http.StatusMultiStatus, APIResponse{
		OK:      true,
		Code:    CodePartial,
		Message: message,
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	ErrorWithData(c, httpStatus, code, message, nil)
}

// ErrorWithData is an error that still carries a structured payload, such as
// the per-file failures of a rejected upload.
func ErrorWithData(c *gin.Context, httpStatus, code int, message string, data any) {
	c.AbortWithStatusJSON(httpStatus, APIResponse{
		OK:      false,
		Code:    code,
		Message: message,
		Data:    data,
	})
}
