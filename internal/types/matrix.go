package types

// ============================================================================
// 二元运算操作数表
// ============================================================================

// BinOp 二元算术/逻辑运算
type BinOp uint8

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinRem
	BinDivUn
	BinRemUn
	BinAnd
	BinOr
	BinXor
	BinAddOvf
	BinAddOvfUn
	BinSubOvf
	BinSubOvfUn
	BinMulOvf
	BinMulOvfUn
)

var binOpNames = [...]string{
	BinAdd: "add", BinSub: "sub", BinMul: "mul", BinDiv: "div", BinRem: "rem",
	BinDivUn: "div.un", BinRemUn: "rem.un", BinAnd: "and", BinOr: "or", BinXor: "xor",
	BinAddOvf: "add.ovf", BinAddOvfUn: "add.ovf.un", BinSubOvf: "sub.ovf",
	BinSubOvfUn: "sub.ovf.un", BinMulOvf: "mul.ovf", BinMulOvfUn: "mul.ovf.un",
}

func (op BinOp) String() string { return binOpNames[op] }

// FloatAllowed 运算是否接受 F 操作数
func (op BinOp) FloatAllowed() bool {
	switch op {
	case BinAdd, BinSub, BinMul, BinDiv, BinRem:
		return true
	}
	return false
}

// Checked 是否带溢出检查
func (op BinOp) Checked() bool {
	return op >= BinAddOvf
}

// Unsigned 是否按无符号解释操作数
func (op BinOp) Unsigned() bool {
	switch op {
	case BinDivUn, BinRemUn, BinAddOvfUn, BinSubOvfUn, BinMulOvfUn:
		return true
	}
	return false
}

// IsAdd 加法族
func (op BinOp) IsAdd() bool { return op == BinAdd || op == BinAddOvf || op == BinAddOvfUn }

// IsSub 减法族
func (op BinOp) IsSub() bool { return op == BinSub || op == BinSubOvf || op == BinSubOvfUn }

// pointerArith 允许指针操作数的运算：add、sub 和无符号溢出检查版本
func (op BinOp) pointerArith() bool {
	switch op {
	case BinAdd, BinSub, BinAddOvfUn, BinSubOvfUn:
		return true
	}
	return false
}

// numericBinary 数值操作数组合：相同宽度，或 native int 与 int32 混合
func numericBinary(a, b EngineType, float bool) (EngineType, bool) {
	switch a {
	case Int32:
		switch b {
		case Int32:
			return Int32, true
		case NativeInt:
			return NativeInt, true
		}
	case NativeInt:
		if b == Int32 || b == NativeInt {
			return NativeInt, true
		}
	case Int64:
		if b == Int64 {
			return Int64, true
		}
	case NativeFloat:
		if b == NativeFloat && float {
			return NativeFloat, true
		}
	}
	return Invalid, false
}

// isPtrOffset 指针运算的整数偏移操作数
func isPtrOffset(t EngineType) bool { return t == Int32 || t == NativeInt }

// isStackPtr 栈上的指针形式
func isStackPtr(t EngineType) bool { return t == ManagedPtr || t == TransientPtr }

// Binary 二元运算的结果类型
// 第三个返回值为真表示该组合是指针运算，只在 unsafe 模式下合法
func Binary(op BinOp, a, b EngineType) (result EngineType, ok, pointer bool) {
	a, b = a.StackKind(), b.StackKind()
	if r, ok := numericBinary(a, b, op.FloatAllowed()); ok {
		return r, true, false
	}
	if !op.pointerArith() {
		return Invalid, false, false
	}
	switch {
	case isStackPtr(a) && isPtrOffset(b):
		return a, true, true
	case op.IsAdd() && isPtrOffset(a) && isStackPtr(b):
		return b, true, true
	case op.IsSub() && isStackPtr(a) && a == b:
		return NativeInt, true, true
	}
	return Invalid, false, false
}

// BinaryAllowed 在给定模式下二元运算是否合法
func BinaryAllowed(op BinOp, a, b EngineType, unsafeAllowed bool) (EngineType, bool) {
	r, ok, ptr := Binary(op, a, b)
	if !ok || ptr && !unsafeAllowed {
		return Invalid, false
	}
	return r, true
}

// Shift shl/shr/shr.un：被移位值为 int32、int64 或 native int，移位数为 int32 或 native int
func Shift(value, amount EngineType) (EngineType, bool) {
	value, amount = value.StackKind(), amount.StackKind()
	switch value {
	case Int32, Int64, NativeInt:
	default:
		return Invalid, false
	}
	if !isPtrOffset(amount) {
		return Invalid, false
	}
	return value, true
}

// ============================================================================
// 一元运算
// ============================================================================

// UnOp 一元运算
type UnOp uint8

const (
	UnNeg UnOp = iota
	UnNot
	UnCkfinite
)

// Unary 一元运算的结果类型
func Unary(op UnOp, a EngineType) (EngineType, bool) {
	a = a.StackKind()
	switch op {
	case UnNeg:
		if a == Int32 || a == Int64 || a == NativeInt || a == NativeFloat {
			return a, true
		}
	case UnNot:
		if a == Int32 || a == Int64 || a == NativeInt {
			return a, true
		}
	case UnCkfinite:
		if a == NativeFloat {
			return a, true
		}
	}
	return Invalid, false
}

// ============================================================================
// 比较操作数表
// ============================================================================

// CmpMode 比较类别
type CmpMode uint8

const (
	CmpOrdered   CmpMode = iota // cgt、clt、clt.un、bge、bgt、ble、blt 及其 .un 形式
	CmpUnordered                // cgt.un、bgt.un：额外允许对象引用
	CmpEquality                 // ceq、beq、bne.un：额外允许对象引用
)

// compareBase 所有比较都接受的组合
func compareBase(a, b EngineType) bool {
	switch a {
	case Int32:
		return b == Int32 || b == NativeInt
	case NativeInt:
		return b == Int32 || b == NativeInt
	case Int64:
		return b == Int64
	case NativeFloat:
		return b == NativeFloat
	case ManagedPtr, TransientPtr:
		return b == ManagedPtr || b == TransientPtr
	}
	return false
}

// compareUnsafe unsafe 模式下额外允许的指针与 native int 比较
func compareUnsafe(a, b EngineType) bool {
	return a == NativeInt && isStackPtr(b) || isStackPtr(a) && b == NativeInt
}

// Comparable 两个栈类型能否按给定类别比较
func Comparable(mode CmpMode, a, b EngineType, unsafeAllowed bool) bool {
	a, b = a.StackKind(), b.StackKind()
	if compareBase(a, b) {
		return true
	}
	if a == ObjectRef && b == ObjectRef && mode != CmpOrdered {
		return true
	}
	return unsafeAllowed && compareUnsafe(a, b)
}

// UnaryBranch brtrue/brfalse 的操作数：除值类型外的任意栈类型
func UnaryBranch(a EngineType) bool {
	switch a.StackKind() {
	case Int32, Int64, NativeInt, NativeFloat, ObjectRef, ManagedPtr, TransientPtr:
		return true
	}
	return false
}
