package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误类别，决定对外暴露的 HTTP 状态码。
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindNotFound
	KindConflict
	KindDownstream
	KindTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindDownstream:
		return "downstream"
	case KindTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// Error 业务错误，携带类别、面向调用方的消息以及底层原因。
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建指定类别的错误。
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap 包装底层错误。
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(msg string) error { return New(KindValidation, msg) }

func Validationf(format string, args ...any) error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func Auth(msg string) error      { return New(KindAuth, msg) }
func Forbidden(msg string) error { return New(KindForbidden, msg) }
func NotFound(msg string) error  { return New(KindNotFound, msg) }
func Conflict(msg string) error  { return New(KindConflict, msg) }
func TooLarge(msg string) error  { return New(KindTooLarge, msg) }

// Downstream 包装中继、对象存储或持久层的失败。
func Downstream(msg string, err error) error {
	return Wrap(KindDownstream, msg, err)
}

// KindOf 返回错误链上第一个 *Error 的类别。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is 判断错误是否属于指定类别。
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
