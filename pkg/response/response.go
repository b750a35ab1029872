package response

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Response is the unified API response format.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Application-level error codes. HTTP status alone cannot distinguish an
// expired access token from a stolen refresh token, so clients switch on Code.
const (
	CodeBadRequest          = 400
	CodeUnauthenticated     = 401
	CodeSessionCompromised  = 4011
	CodeForbidden           = 403
	CodeNotFound            = 404
	CodeConflict            = 409
	CodeInsufficientBalance = 402
	CodeRateLimited         = 429
	CodeServerError         = 500
	CodeComputeFailed       = 502
	CodeCacheUnavailable    = 503
)

// AppError represents a structured application error with HTTP status and error code.
type AppError struct {
	HTTPStatus int    // HTTP status code (e.g. 400, 404, 500)
	Code       int    // Application-level error code
	Message    string // Human-readable error message
	RetryAfter int    // Seconds until retry is allowed; only set for rate-limit errors
}

func (e *AppError) Error() string {
	return e.Message
}

// Pre-defined error constructors

func NewBadRequest(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusBadRequest, Code: CodeBadRequest, Message: msg}
}

// NewUnauthenticated covers invalid credentials and invalid/expired tokens.
func NewUnauthenticated(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusUnauthorized, Code: CodeUnauthenticated, Message: msg}
}

// NewSessionCompromised signals refresh-token reuse. The whole token family
// has been revoked; the client must log in again.
func NewSessionCompromised(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusUnauthorized, Code: CodeSessionCompromised, Message: msg}
}

func NewForbidden(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusForbidden, Code: CodeForbidden, Message: msg}
}

func NewNotFound(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusNotFound, Code: CodeNotFound, Message: msg}
}

func NewConflict(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusConflict, Code: CodeConflict, Message: msg}
}

// NewInsufficientBalance means the debit was refused before any work ran.
func NewInsufficientBalance(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusPaymentRequired, Code: CodeInsufficientBalance, Message: msg}
}

// NewRateLimited carries a retry-after hint in seconds.
func NewRateLimited(msg string, retryAfter int) *AppError {
	return &AppError{
		HTTPStatus: http.StatusTooManyRequests,
		Code:       CodeRateLimited,
		Message:    msg,
		RetryAfter: retryAfter,
	}
}

// NewComputeFailed wraps a failure of the external training/analytics engine.
func NewComputeFailed(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusBadGateway, Code: CodeComputeFailed, Message: msg}
}

// NewCacheUnavailable is returned in fail-closed mode when the shared cache
// store cannot be reached.
func NewCacheUnavailable(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusServiceUnavailable, Code: CodeCacheUnavailable, Message: msg}
}

func NewServerError(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusInternalServerError, Code: CodeServerError, Message: msg}
}

// --- Gin response helpers ---

// Success sends a 200 OK response with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "ok",
		Data:    data,
	})
}

// Created sends a 201 Created response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "created",
		Data:    data,
	})
}

// Error sends an error response. If err is an *AppError, its code and status
// are used; otherwise a generic 500 internal server error is returned.
// Rate-limit errors additionally set the Retry-After header.
func Error(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(appErr.RetryAfter))
		}
		body := gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		}
		if appErr.RetryAfter > 0 {
			body["retry_after"] = appErr.RetryAfter
		}
		c.JSON(appErr.HTTPStatus, body)
		return
	}
	c.JSON(http.StatusInternalServerError, Response{
		Code:    CodeServerError,
		Message: err.Error(),
	})
}

// Convenience error response functions

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Code: CodeBadRequest, Message: msg})
}

func Unauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, Response{Code: CodeUnauthenticated, Message: msg})
}

func Forbidden(c *gin.Context, msg string) {
	c.JSON(http.StatusForbidden, Response{Code: CodeForbidden, Message: msg})
}

func NotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, Response{Code: CodeNotFound, Message: msg})
}

func ServerError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, Response{Code: CodeServerError, Message: msg})
}

