package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code int         `json:"code"`           // 业务状态码
	Msg  string      `json:"msg"`            // 中文提示信息
	Data interface{} `json:"data,omitempty"` // 数据载荷
}

// 成功响应的业务状态码，错误响应的业务码直接使用 HTTP 状态码
const (
	CodeSuccess  = 200
	CodeCreated  = 201
	CodeAccepted = 202
)

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: CodeSuccess,
		Msg:  "成功",
		Data: data,
	})
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code: CodeCreated,
		Msg:  "创建成功",
		Data: data,
	})
}

// Accepted 已受理响应（202）
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code: CodeAccepted,
		Msg:  "已受理",
		Data: data,
	})
}

// NoContent 无内容响应（204），不写响应体
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// fail 写出错误响应，业务码与 HTTP 状态码一致
func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Response{Code: status, Msg: msg})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) { fail(c, http.StatusBadRequest, msg) }

// Unauthorized 未认证错误（401）
func Unauthorized(c *gin.Context, msg string) { fail(c, http.StatusUnauthorized, msg) }

// Forbidden 无权限错误（403）
func Forbidden(c *gin.Context, msg string) { fail(c, http.StatusForbidden, msg) }

// NotFound 资源不存在错误（404）
func NotFound(c *gin.Context, msg string) { fail(c, http.StatusNotFound, msg) }

// Conflict 资源冲突错误（409）
func Conflict(c *gin.Context, msg string) { fail(c, http.StatusConflict, msg) }

// TooLarge 请求体过大（413）
func TooLarge(c *gin.Context, msg string) { fail(c, http.StatusRequestEntityTooLarge, msg) }

// InternalError 服务器内部错误（500），详情只写日志
func InternalError(c *gin.Context, msg string) { fail(c, http.StatusInternalServerError, msg) }
