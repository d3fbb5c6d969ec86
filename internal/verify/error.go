package verify

import (
	"fmt"

	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/meta"
)

// Error 验证失败
// 验证一旦失败就终止该方法，不做任何局部恢复
type Error struct {
	Method   string
	Token    meta.Token
	Offset   int // -1 表示与具体指令无关
	Opcode   string
	Expected string
	Actual   string
	Code     string
	Message  string
	Err      error // 底层原因（解码错误、栈错误等）
}

func (e *Error) Error() string {
	return e.Diagnostic().Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Diagnostic 转换为诊断记录
func (e *Error) Diagnostic() *diag.Diagnostic {
	msg := e.Message
	if msg == "" {
		if info, ok := diag.GetErrorInfo(e.Code); ok {
			msg = info.Summary
		}
	}
	return &diag.Diagnostic{
		Level:    diag.LevelError,
		Code:     e.Code,
		Message:  msg,
		Method:   e.Method,
		Token:    uint32(e.Token),
		Offset:   e.Offset,
		Opcode:   e.Opcode,
		Expected: e.Expected,
		Actual:   e.Actual,
	}
}

// errorf 构造不带类型信息的验证错误
func errorf(code string, format string, args ...interface{}) *Error {
	return &Error{Code: code, Offset: -1, Message: fmt.Sprintf(format, args...)}
}
