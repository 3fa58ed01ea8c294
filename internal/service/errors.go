package service

import (
	"errors"
	"net/http"
)

// Error 是携带 HTTP 风格状态码的业务错误，GraphQL 层把 Status 放进 extensions.code。
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// 业务层通用错误，handler / resolver 根据 Status 映射到响应。
var (
	ErrUsernameTaken       = &Error{http.StatusConflict, "Username taken"}
	ErrInvalidCredentials  = &Error{http.StatusUnauthorized, "Invalid credentials"}
	ErrInvalidRefreshToken = &Error{http.StatusUnauthorized, "Invalid refresh token"}
	ErrUnauthenticated     = &Error{http.StatusUnauthorized, "Unauthenticated"}
	ErrForbidden           = &Error{http.StatusForbidden, "Forbidden"}
	ErrChatNotFound        = &Error{http.StatusNotFound, "Chat not found"}
	ErrChatUserNotFound    = &Error{http.StatusNotFound, "Chat user not found"}
	ErrUserNotFound        = &Error{http.StatusNotFound, "User not found"}
	ErrAlreadyJoined       = &Error{http.StatusConflict, "User already joined"}
	ErrAlreadyLeaved       = &Error{http.StatusConflict, "User already leaved"}
	ErrNotMember           = &Error{http.StatusForbidden, "Not a member of this chat"}
)

// InvalidArgument 构造 400 错误。
func InvalidArgument(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: msg}
}

// StatusOf 返回错误链上的业务状态码；非业务错误视为 500。
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}
