package runtime

import (
	"fmt"

	"go.uber.org/zap"

	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
)

// ============================================================================
// 系统异常
// ============================================================================

// ExceptionKind 生成代码检查失败时抛出的系统异常
type ExceptionKind int32

const (
	ExcNullReference ExceptionKind = iota
	ExcIndexOutOfRange
	ExcDivideByZero
	ExcArithmetic
	ExcOverflow
	ExcInvalidCast
	ExcOutOfMemory
	ExcMissingMethod
	ExcArrayTypeMismatch
	ExcInvalidProgram
)

// excInfo 异常种类的默认消息和诊断码
var excInfo = [...]struct {
	msg  string
	code string
}{
	ExcNullReference:     {"Object reference not set to an instance of an object.", diag.R0300},
	ExcIndexOutOfRange:   {"Index was outside the bounds of the array.", diag.R0100},
	ExcDivideByZero:      {"Attempted to divide by zero.", diag.R0200},
	ExcArithmetic:        {"Overflow or underflow in the arithmetic operation.", diag.R0201},
	ExcOverflow:          {"Arithmetic operation resulted in an overflow.", diag.R0201},
	ExcInvalidCast:       {"Specified cast is not valid.", diag.R0301},
	ExcOutOfMemory:       {"Insufficient memory to continue the execution of the program.", diag.R0400},
	ExcMissingMethod:     {"Method not found.", diag.R0401},
	ExcArrayTypeMismatch: {"Attempted to access an element as a type incompatible with the array.", diag.R0402},
	ExcInvalidProgram:    {"Common Language Runtime detected an invalid program.", diag.R0001},
}

// Code 诊断码
func (k ExceptionKind) Code() string {
	if int(k) < len(excInfo) {
		return excInfo[k].code
	}
	return diag.R0001
}

// classFor 异常种类对应的核心库类
func (r *Runtime) classFor(k ExceptionKind) *meta.Class {
	c := r.Corlib
	switch k {
	case ExcNullReference:
		return c.NullReference
	case ExcIndexOutOfRange:
		return c.IndexOutOfRange
	case ExcDivideByZero:
		return c.DivideByZero
	case ExcArithmetic:
		return c.Arithmetic
	case ExcOverflow:
		return c.Overflow
	case ExcInvalidCast:
		return c.InvalidCast
	case ExcOutOfMemory:
		return c.OutOfMemory
	case ExcMissingMethod:
		return c.MissingMethod
	case ExcArrayTypeMismatch:
		return c.ArrayTypeMismatch
	}
	return c.InvalidProgram
}

// NewException 创建异常对象并设置消息；不执行构造函数
// 内存不足时返回预先分配的 OutOfMemoryException
func (r *Runtime) NewException(c *meta.Class, msg string) *Object {
	o, err := r.Allocate(c)
	if err != nil {
		return r.outOfMemory()
	}
	if f := c.FindField("_message"); f != nil {
		_ = o.SetField(f, jit.Slot{Ref: r.NewString(msg)})
	}
	return o
}

// SystemException 创建系统异常
func (r *Runtime) SystemException(k ExceptionKind, detail string) *Object {
	msg := excInfo[ExcInvalidProgram].msg
	if int(k) < len(excInfo) {
		msg = excInfo[k].msg
	}
	if detail != "" {
		msg = detail
	}
	return r.NewException(r.classFor(k), msg)
}

// outOfMemory 不受堆上限约束的 OutOfMemoryException
func (r *Runtime) outOfMemory() *Object {
	r.oomOnce.Do(func() {
		l, err := r.Layouts.Layout(r.Corlib.OutOfMemory)
		if err != nil {
			return
		}
		o := &Object{Class: r.Corlib.OutOfMemory, Layout: l, Data: jit.NewBlock(l.Size)}
		if f := o.Class.FindField("_message"); f != nil {
			_ = o.SetField(f, jit.Slot{Ref: &String{Value: excInfo[ExcOutOfMemory].msg}})
		}
		r.oom = o
	})
	return r.oom
}

// Throw 以系统异常结束本地函数
func (r *Runtime) Throw(t *Thread, k ExceptionKind, detail string) error {
	exc := r.SystemException(k, detail)
	if t != nil {
		t.SetException(exc)
	}
	return jit.Throw(exc)
}

// MapFault 执行器故障转托管异常；地址越界不映射，以故障结束执行
func (r *Runtime) MapFault(f *jit.Fault) any {
	var k ExceptionKind
	switch f.Kind {
	case jit.FaultNullReference:
		k = ExcNullReference
	case jit.FaultDivideByZero:
		k = ExcDivideByZero
	case jit.FaultOverflow:
		k = ExcOverflow
	case jit.FaultArithmetic:
		k = ExcArithmetic
	case jit.FaultOutOfMemory:
		k = ExcOutOfMemory
	case jit.FaultInvalidProgram:
		k = ExcInvalidProgram
	default:
		return nil
	}
	r.log.Debug("fault mapped to exception",
		zap.Stringer("fault", f.Kind),
		zap.Int("il", f.IL),
		zap.String("code", k.Code()))
	if k == ExcOutOfMemory {
		return r.outOfMemory()
	}
	return r.SystemException(k, "")
}

// exceptionMessage System.Exception 及其子类的消息
func exceptionMessage(o *Object) (string, bool) {
	f := o.Class.FindField("_message")
	if f == nil || f.Owner.FullName() != "System.Exception" {
		return "", false
	}
	v, err := o.Field(f)
	if err != nil {
		return "", true
	}
	if s, ok := v.Ref.(*String); ok {
		return s.Value, true
	}
	return "", true
}

// ExceptionError 未处理的托管异常转为宿主错误
type ExceptionError struct {
	Exception any
	Code      string
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("%s: unhandled exception: %v", e.Code, e.Exception)
}

// AsError 把执行错误中的托管异常包装为 ExceptionError，其它错误原样返回
func AsError(err error) error {
	exc, ok := jit.AsThrown(err)
	if !ok {
		return err
	}
	return &ExceptionError{Exception: exc, Code: diag.R0001}
}
