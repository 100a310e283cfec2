package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess = 200
	CodeFail    = 500
)

// Response 统一响应结构
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, msg string, data any) {
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, Msg: msg, Data: data})
}

// Fail 业务失败，HTTP 状态仍为 200；data 为 error 时输出错误信息
func Fail(c *gin.Context, msg string, data any) {
	if err, ok := data.(error); ok {
		data = err.Error()
	}
	c.JSON(http.StatusOK, Response{Code: CodeFail, Msg: msg, Data: data})
}

// AbortWithStatus 中断并返回状态码
func AbortWithStatus(c *gin.Context, status int) {
	c.AbortWithStatusJSON(status, Response{Code: status, Msg: http.StatusText(status)})
}

// AbortWithStatusJSON 中断并返回错误信息
func AbortWithStatusJSON(c *gin.Context, status int, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, Response{Code: status, Msg: msg})
}
