package service

import (
	"errors"
	"fmt"
)

// Kind 业务错误类别
type Kind int

const (
	KindInvalidRequest Kind = iota + 1
	KindNotFound
	KindForbidden
	KindEditWindowExpired
	KindUpstreamUnavailable
	KindUnauthorized
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindEditWindowExpired:
		return "edit_window_expired"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error 业务错误：Message 面向调用方，Err 为内部原因（可为空）
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Public 可以返回给客户端的描述
func (e *Error) Public() string { return e.Message }

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func invalid(message string) *Error   { return newError(KindInvalidRequest, message) }
func notFound(message string) *Error  { return newError(KindNotFound, message) }
func forbidden(message string) *Error { return newError(KindForbidden, message) }

// upstream 存储或上传失败
func upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: message, Err: err}
}

// KindOf 取出错误类别，非业务错误视为 upstream
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstreamUnavailable
}

// IsKind 判断错误是否为指定类别
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
