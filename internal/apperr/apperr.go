// Package apperr 定义秒杀链路中可被调用方识别的错误类别。
// 组件返回 *Error，HTTP 边界层通过 Status 查表映射状态码，而不是做类型判断。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 是稳定的、机器可读的错误类别。
type Kind string

const (
	NotFound                   Kind = "NotFound"
	NotStarted                 Kind = "NotStarted"
	SoldOut                    Kind = "SoldOut"
	InsufficientInventory      Kind = "InsufficientInventory"
	PurchaseLimitExceeded      Kind = "PurchaseLimitExceeded"
	DurableConflict            Kind = "DurableConflict"
	CommitFailed               Kind = "CommitFailed"
	InsufficientWarehouseStock Kind = "InsufficientWarehouseStock"
	InvalidArgument            Kind = "InvalidArgument"
	InvalidTransition          Kind = "InvalidTransition"
	RateLimited                Kind = "RateLimited"
	Unauthorized               Kind = "Unauthorized"
	Internal                   Kind = "Internal"
)

var statusByKind = map[Kind]int{
	NotFound:                   http.StatusNotFound,
	NotStarted:                 http.StatusForbidden,
	SoldOut:                    http.StatusForbidden,
	InsufficientInventory:      http.StatusForbidden,
	PurchaseLimitExceeded:      http.StatusForbidden,
	InsufficientWarehouseStock: http.StatusForbidden,
	DurableConflict:            http.StatusConflict,
	InvalidTransition:          http.StatusConflict,
	InvalidArgument:            http.StatusBadRequest,
	RateLimited:                http.StatusTooManyRequests,
	Unauthorized:               http.StatusUnauthorized,
	CommitFailed:               http.StatusInternalServerError,
	Internal:                   http.StatusInternalServerError,
}

// Status 返回该类别对应的 HTTP 状态码；未知类别按 500 处理。
func (k Kind) Status() int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error 携带类别、面向用户的消息，以及可选的内部原因。
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, apperr.New(kind, "")) 按类别比较。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 给底层错误打上类别；err 为 nil 时返回 nil。
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf 取出错误链上第一个 *Error 的类别，没有则为 Internal。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message 取出面向用户的消息；未分类错误只返回通用提示。
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "服务繁忙，请稍后再试"
}

// IsKind 判断错误链上是否存在指定类别。
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }
