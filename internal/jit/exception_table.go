// exception_table.go - 异常与故障
//
// 生成代码中的异常分两类：
// 1. Thrown：生成代码或本地函数抛出的托管异常对象
// 2. Fault：执行器检测到的硬件级故障（除零、溢出、空地址）
//
// 故障经上下文的 FaultMapper 转换为托管异常对象后按 Thrown 处理；
// 没有映射时以 *Fault 错误返回给调用者。

package jit

import (
	"errors"
	"fmt"
)

// FaultKind 故障种类
type FaultKind uint8

const (
	FaultNone FaultKind = iota
	FaultNullReference
	FaultDivideByZero
	FaultOverflow
	FaultArithmetic
	FaultAccessViolation
	FaultOutOfMemory
	FaultInvalidProgram
	FaultStackOverflow
)

var faultNames = [...]string{
	"none", "null reference", "divide by zero", "overflow", "arithmetic",
	"access violation", "out of memory", "invalid program", "stack overflow",
}

func (k FaultKind) String() string {
	if int(k) < len(faultNames) {
		return faultNames[k]
	}
	return fmt.Sprintf("fault(%d)", k)
}

// Fault 执行器检测到的故障
type Fault struct {
	Kind    FaultKind
	Message string
	IL      int   // 故障指令所属 IL 偏移，未知为 -1
	Err     error // 引起故障的错误，例如按需编译失败

	declined bool // 映射器已拒绝，外层帧不再重复映射
}

func newFault(kind FaultKind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), IL: -1}
}

func (f *Fault) Unwrap() error { return f.Err }

func (f *Fault) Error() string {
	if f.Err != nil && f.Message == "" {
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	if f.IL >= 0 {
		return fmt.Sprintf("%s at IL_%04X: %s", f.Kind, f.IL, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Thrown 未被处理、离开函数的托管异常
type Thrown struct {
	Value any
}

func (t *Thrown) Error() string {
	if s, ok := t.Value.(fmt.Stringer); ok {
		return "unhandled exception: " + s.String()
	}
	return fmt.Sprintf("unhandled exception: %v", t.Value)
}

// FaultMapper 把故障转换为托管异常对象；返回 nil 表示不映射
type FaultMapper func(f *Fault) any

// 执行器错误
var (
	ErrNotCompiled    = errors.New("jit: function is not compiled")
	ErrArgCount       = errors.New("jit: argument count mismatch")
	ErrLabelNotPlaced = errors.New("jit: label was never placed")
	ErrBuilt          = errors.New("jit: function is already compiled")
	ErrNoReturn       = errors.New("jit: control falls off the end of a non-void function")
)

// AsThrown 错误是否为离开函数的托管异常
func AsThrown(err error) (any, bool) {
	var t *Thrown
	if errors.As(err, &t) {
		return t.Value, true
	}
	return nil, false
}

// AsFault 错误是否为未映射的故障
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
