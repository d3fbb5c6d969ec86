package types

import (
	"strings"
	"unsafe"
)

// ============================================================================
// 目标平台
// ============================================================================

// Target 代码生成目标的字宽信息
type Target struct {
	PtrSize int // native int 的字节数，4 或 8
}

// Host 当前进程所在平台
var Host = Target{PtrSize: int(unsafe.Sizeof(uintptr(0)))}

// Is32Bit 是否为 32 位目标
func (t Target) Is32Bit() bool { return t.PtrSize == 4 }

// SizeOf 引擎类型在目标上的字节数，值类型返回 0
func (t Target) SizeOf(e EngineType) int {
	switch e {
	case Int32, UInt32, Float32:
		return 4
	case Int64, UInt64, Float64, NativeFloat:
		return 8
	case NativeInt, NativeUInt, ObjectRef, UnmanagedPtr, ManagedPtr, TransientPtr:
		return t.PtrSize
	}
	return 0
}

// ============================================================================
// 类型转换计划
// ============================================================================

// Plan 转换所需动作的位掩码
type Plan uint16

const (
	Cast     Plan = 1 << iota // 数值转换（截断、扩展、整数浮点互转）
	PtrToInt                  // 指针转整数
	IntToPtr                  // 整数转指针
	Null                      // 常量 0 替换为空指针
	PtrToPtr                  // 同宽指针重新解释
	Illegal                   // 不允许的转换

	ConstLoss // 警告：丢失 const 限定
	Lossy     // 警告：可能丢失精度，推迟到运行时
)

// Legal 转换是否允许
func (p Plan) Legal() bool { return p&Illegal == 0 }

// Actions 去掉警告位后的动作
func (p Plan) Actions() Plan { return p &^ (ConstLoss | Lossy) }

// Warnings 警告位
func (p Plan) Warnings() Plan { return p & (ConstLoss | Lossy) }

// IsNoop 合法且不需要任何动作
func (p Plan) IsNoop() bool { return p.Actions() == 0 }

var planNames = []struct {
	bit  Plan
	name string
}{
	{Cast, "cast"},
	{PtrToInt, "ptr->int"},
	{IntToPtr, "int->ptr"},
	{Null, "null"},
	{PtrToPtr, "ptr->ptr"},
	{Illegal, "invalid"},
	{ConstLoss, "const-loss"},
	{Lossy, "lossy"},
}

func (p Plan) String() string {
	if p == 0 {
		return "noop"
	}
	var parts []string
	for _, n := range planNames {
		if p&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Options 转换上下文
type Options struct {
	Unsafe    bool   // 是否允许指针与整数互转、指针重解释
	Constant  *int64 // 源为编译期常量时的值
	ConstLoss bool   // 目标丢失源的 const 限定
	PtrSize   int    // 目标字宽，0 表示当前平台
}

// Coerce 计算 from 转换到 to 所需的动作
func Coerce(from, to EngineType, opts Options) Plan {
	ptrSize := opts.PtrSize
	if ptrSize == 0 {
		ptrSize = Host.PtrSize
	}
	var warn Plan
	if opts.ConstLoss {
		warn = ConstLoss
	}
	if from == Invalid || to == Invalid {
		return Illegal
	}
	if from == to {
		return warn
	}

	switch {
	case IsNumeric(from) && IsNumeric(to):
		p := Cast | warn
		if ptrSize == 4 && (from == Int64 || from == UInt64) && (to == NativeInt || to == NativeUInt) {
			p |= Lossy
		}
		return p

	case IsFloat(from) && IsPointer(to), IsPointer(from) && IsFloat(to):
		return Illegal

	case IsInteger(from) && IsPointer(to):
		if opts.Constant != nil && *opts.Constant == 0 {
			return Null | warn
		}
		if !opts.Unsafe {
			return Illegal
		}
		return IntToPtr | warn

	case IsPointer(from) && IsInteger(to):
		if !opts.Unsafe {
			return Illegal
		}
		return PtrToInt | warn

	case IsPointer(from) && IsPointer(to):
		// 栈上形式相同的指针只是声明形式不同
		if from.StackKind() == to.StackKind() {
			return warn
		}
		if !opts.Unsafe {
			return Illegal
		}
		return PtrToPtr | warn
	}
	// 对象引用、值类型之间的转换由类层次规则决定，不在数值格内
	return Illegal
}
