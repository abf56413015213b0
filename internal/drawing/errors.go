package drawing

import (
	"errors"
	"fmt"
)

const (
	CodeChartNotReady  = "CHART_NOT_READY"
	CodeInvalidSnap    = "INVALID_SNAP"
	CodeInvalidTool    = "INVALID_TOOL"
	CodeInvalidLevels  = "INVALID_LEVELS"
	CodeHostCapability = "HOST_CAPABILITY"
	CodeEngineClosed   = "ENGINE_CLOSED"
)

// CodedError 带稳定错误码，便于 HTTP 层映射状态码。
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// Is 只比较错误码，errors.Is(err, ErrChartNotReady) 对任意同码错误成立。
func (e *CodedError) Is(target error) bool {
	t, ok := target.(*CodedError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrChartNotReady  = &CodedError{Code: CodeChartNotReady, Message: "chart axes or series not initialized"}
	ErrInvalidSnap    = &CodedError{Code: CodeInvalidSnap, Message: "no candle matches the click"}
	ErrInvalidTool    = &CodedError{Code: CodeInvalidTool, Message: "unknown drawing tool"}
	ErrInvalidLevels  = &CodedError{Code: CodeInvalidLevels, Message: "invalid fibonacci levels"}
	ErrHostCapability = &CodedError{Code: CodeHostCapability, Message: "host chart lacks a required capability"}
	ErrEngineClosed   = &CodedError{Code: CodeEngineClosed, Message: "drawing engine closed"}
)

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// ErrorCode 返回错误链上第一个 CodedError 的错误码。
func ErrorCode(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
