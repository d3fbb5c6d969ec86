// runtime_helpers.go - 执行器的算术、比较和转换
//
// 本文件实现 IR 运算在各原生类型上的语义：
// 1. 整数运算按结果类型的位宽截断，无符号类型按无符号解释
// 2. 带溢出检查的运算在超出范围时产生 FaultOverflow
// 3. 整数除零产生 FaultDivideByZero，浮点除零得到无穷
// 4. 比较的 _UN 形式：整数按无符号比较，浮点在无序时为真

package jit

import (
	"math"
	"math/bits"
)

// ============================================================================
// 整数范围
// ============================================================================

// intRange 整数类型的取值范围
func intRange(t *Type) (min int64, max uint64) {
	switch t.kind {
	case KindSByte:
		return math.MinInt8, math.MaxInt8
	case KindUByte:
		return 0, math.MaxUint8
	case KindShort:
		return math.MinInt16, math.MaxInt16
	case KindUShort:
		return 0, math.MaxUint16
	case KindInt:
		return math.MinInt32, math.MaxInt32
	case KindUInt:
		return 0, math.MaxUint32
	case KindNUInt, KindULong:
		return 0, math.MaxUint64
	}
	return math.MinInt64, math.MaxInt64
}

// fitsSigned 有符号值是否在 t 的范围内
func fitsSigned(v int64, t *Type) bool {
	min, max := intRange(t)
	if v < 0 {
		return v >= min
	}
	return uint64(v) <= max
}

// fitsUnsigned 无符号值是否在 t 的范围内
func fitsUnsigned(v uint64, t *Type) bool {
	_, max := intRange(t)
	return v <= max
}

func mask(t *Type) uint64 {
	if t.Bits() == 64 {
		return math.MaxUint64
	}
	return 1<<uint(t.Bits()) - 1
}

func overflow(op string, t *Type) *Fault {
	return newFault(FaultOverflow, "%s overflows %s", op, t)
}

// ============================================================================
// 二元运算
// ============================================================================

// arith 执行二元算术或位运算，t 为结果类型
func (c *Context) arith(op IROp, a, b Slot, ta, tb, t *Type) (Slot, error) {
	switch {
	case t.kind == KindPtr:
		return pointerArith(op, a, b, ta, tb)
	case ta.kind == KindPtr && tb.kind == KindPtr:
		d, ok := a.Ptr.Diff(b.Ptr)
		if !ok {
			return Slot{I: c.addrs.toInt(a.Ptr) - c.addrs.toInt(b.Ptr)}, nil
		}
		return Slot{I: d}, nil
	case t.IsFloat():
		return floatArith(op, toFloat(a, ta), toFloat(b, tb), t)
	}
	return intArith(op, a.I, b.I, t)
}

func pointerArith(op IROp, a, b Slot, ta, tb *Type) (Slot, error) {
	switch {
	case ta.kind == KindPtr && tb.kind != KindPtr:
		switch op {
		case IR_ADD, IR_ADD_OVF:
			return Slot{Ptr: a.Ptr.Add(b.I)}, nil
		case IR_SUB, IR_SUB_OVF:
			return Slot{Ptr: a.Ptr.Add(-b.I)}, nil
		}
	case tb.kind == KindPtr && ta.kind != KindPtr && (op == IR_ADD || op == IR_ADD_OVF):
		return Slot{Ptr: b.Ptr.Add(a.I)}, nil
	}
	return Slot{}, newFault(FaultInvalidProgram, "%s on %s and %s", op, ta, tb)
}

func toFloat(s Slot, t *Type) float64 {
	switch {
	case t.IsFloat():
		return s.F
	case t.kind == KindULong || t.kind == KindNUInt:
		return float64(uint64(s.I))
	}
	return float64(s.I)
}

func floatArith(op IROp, a, b float64, t *Type) (Slot, error) {
	var r float64
	switch op {
	case IR_ADD, IR_ADD_OVF:
		r = a + b
	case IR_SUB, IR_SUB_OVF:
		r = a - b
	case IR_MUL, IR_MUL_OVF:
		r = a * b
	case IR_DIV:
		r = a / b
	case IR_REM:
		r = math.Mod(a, b)
	default:
		return Slot{}, newFault(FaultInvalidProgram, "%s on %s", op, t)
	}
	return normalize(Slot{F: r}, t), nil
}

func intArith(op IROp, a, b int64, t *Type) (Slot, error) {
	unsigned := t.IsUnsigned()
	ua, ub := uint64(a)&mask(t), uint64(b)&mask(t)
	var r int64
	switch op {
	case IR_ADD:
		r = a + b
	case IR_SUB:
		r = a - b
	case IR_MUL:
		r = a * b
	case IR_AND:
		r = a & b
	case IR_OR:
		r = a | b
	case IR_XOR:
		r = a ^ b
	case IR_DIV, IR_REM:
		if ub == 0 {
			return Slot{}, newFault(FaultDivideByZero, "%s by zero", op)
		}
		if unsigned {
			if op == IR_DIV {
				r = int64(ua / ub)
			} else {
				r = int64(ua % ub)
			}
			break
		}
		min, _ := intRange(t)
		if a == min && b == -1 {
			if op == IR_REM {
				r = 0
				break
			}
			return Slot{}, newFault(FaultArithmetic, "%d / -1 is not representable in %s", a, t)
		}
		if op == IR_DIV {
			r = a / b
		} else {
			r = a % b
		}
	case IR_ADD_OVF:
		if unsigned {
			s, carry := bits.Add64(ua, ub, 0)
			if carry != 0 || !fitsUnsigned(s, t) {
				return Slot{}, overflow("add", t)
			}
			r = int64(s)
			break
		}
		s := a + b
		if (a >= 0) == (b >= 0) && (s >= 0) != (a >= 0) || !fitsSigned(s, t) {
			return Slot{}, overflow("add", t)
		}
		r = s
	case IR_SUB_OVF:
		if unsigned {
			if ua < ub {
				return Slot{}, overflow("sub", t)
			}
			r = int64(ua - ub)
			break
		}
		s := a - b
		if (a >= 0) != (b >= 0) && (s >= 0) != (a >= 0) || !fitsSigned(s, t) {
			return Slot{}, overflow("sub", t)
		}
		r = s
	case IR_MUL_OVF:
		if unsigned {
			hi, lo := bits.Mul64(ua, ub)
			if hi != 0 || !fitsUnsigned(lo, t) {
				return Slot{}, overflow("mul", t)
			}
			r = int64(lo)
			break
		}
		p := a * b
		if a != 0 && (p/a != b || a == -1 && b == math.MinInt64) || !fitsSigned(p, t) {
			return Slot{}, overflow("mul", t)
		}
		r = p
	case IR_SHL:
		r = a << (uint64(b) & uint64(t.Bits()-1))
	case IR_SHR:
		n := uint64(b) & uint64(t.Bits()-1)
		if unsigned {
			r = int64(ua >> n)
		} else {
			r = a >> n
		}
	default:
		return Slot{}, newFault(FaultInvalidProgram, "%s on %s", op, t)
	}
	return normalize(Slot{I: r}, t), nil
}

// unaryArith 一元运算
func unaryArith(op IROp, a Slot, t *Type) (Slot, error) {
	switch op {
	case IR_NEG:
		if t.IsFloat() {
			return normalize(Slot{F: -a.F}, t), nil
		}
		return normalize(Slot{I: -a.I}, t), nil
	case IR_NOT:
		if t.IsFloat() {
			break
		}
		return normalize(Slot{I: ^a.I}, t), nil
	case IR_CKFINITE:
		if math.IsNaN(a.F) || math.IsInf(a.F, 0) {
			return Slot{}, newFault(FaultArithmetic, "value is not a finite number")
		}
		return a, nil
	}
	return Slot{}, newFault(FaultInvalidProgram, "%s on %s", op, t)
}

// ============================================================================
// 比较
// ============================================================================

func sameRef(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// compare 比较运算，结果 0 或 1
func (c *Context) compare(op IROp, a, b Slot, ta, tb *Type) (Slot, error) {
	t := binaryType(ta, tb)
	var lt, eq, unordered bool
	switch {
	case ta.kind == KindRef || tb.kind == KindRef:
		if op != IR_EQ && op != IR_NE && op != IR_GT_UN {
			return Slot{}, newFault(FaultInvalidProgram, "ordered comparison of object references")
		}
		// cgt.un 与 null 比较即判非空
		eq = sameRef(a.Ref, b.Ref)
		unordered = !eq
	case t.kind == KindPtr:
		ia, ib := a.I, b.I
		if ta.kind == KindPtr {
			ia = c.addrs.toInt(a.Ptr)
		}
		if tb.kind == KindPtr {
			ib = c.addrs.toInt(b.Ptr)
		}
		eq = ia == ib
		lt = uint64(ia) < uint64(ib)
	case t.IsFloat():
		fa, fb := toFloat(a, ta), toFloat(b, tb)
		unordered = math.IsNaN(fa) || math.IsNaN(fb)
		eq = fa == fb
		lt = fa < fb
	default:
		if isUnsignedCompare(op) || t.IsUnsigned() {
			ua, ub := uint64(a.I)&mask(t), uint64(b.I)&mask(t)
			eq, lt = ua == ub, ua < ub
		} else {
			eq, lt = a.I == b.I, a.I < b.I
		}
	}

	var r bool
	switch op {
	case IR_EQ:
		r = eq
	case IR_NE:
		r = !eq
	case IR_LT:
		r = lt && !unordered
	case IR_LE:
		r = (lt || eq) && !unordered
	case IR_GT:
		r = !lt && !eq && !unordered
	case IR_GE:
		r = !lt && !unordered
	case IR_LT_UN:
		r = lt || unordered
	case IR_LE_UN:
		r = lt || eq || unordered
	case IR_GT_UN:
		r = !lt && !eq || unordered
	case IR_GE_UN:
		r = !lt || unordered
	}
	if r {
		return Slot{I: 1}, nil
	}
	return Slot{I: 0}, nil
}

func isUnsignedCompare(op IROp) bool {
	switch op {
	case IR_LT_UN, IR_LE_UN, IR_GT_UN, IR_GE_UN:
		return true
	}
	return false
}

// ============================================================================
// 转换
// ============================================================================

// convert 把 from 类型的值转换为 to 类型
func (c *Context) convert(s Slot, from, to *Type, ovf bool) (Slot, error) {
	switch {
	case from == to || from.kind == to.kind && from.kind != KindStruct:
		return normalize(s, to), nil
	case to.kind == KindStruct || from.kind == KindStruct:
		if from.kind == to.kind && from.size == to.size {
			return normalize(s, to), nil
		}
		return Slot{}, newFault(FaultInvalidProgram, "convert %s to %s", from, to)
	case to.kind == KindRef || from.kind == KindRef:
		if from.kind == to.kind {
			return s, nil
		}
		return Slot{}, newFault(FaultInvalidProgram, "convert %s to %s", from, to)
	case from.kind == KindPtr:
		if to.kind == KindPtr {
			return s, nil
		}
		return c.convert(Slot{I: c.addrs.toInt(s.Ptr)}, TypeNUInt, to, ovf)
	case to.kind == KindPtr:
		v, err := c.convert(s, from, TypeNInt, ovf)
		if err != nil {
			return Slot{}, err
		}
		return Slot{Ptr: c.addrs.toPointer(v.I)}, nil
	case to.IsFloat():
		return normalize(Slot{F: toFloat(s, from)}, to), nil
	case from.IsFloat():
		return floatToInt(s.F, to, ovf)
	}

	// 整数到整数
	if ovf {
		if from.IsUnsigned() {
			if !fitsUnsigned(uint64(s.I)&mask(from), to) {
				return Slot{}, overflow("conversion", to)
			}
		} else if !fitsSigned(s.I, to) {
			return Slot{}, overflow("conversion", to)
		}
	}
	return normalize(s, to), nil
}

func floatToInt(f float64, to *Type, ovf bool) (Slot, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		if ovf {
			return Slot{}, overflow("conversion", to)
		}
		return normalize(Slot{I: math.MinInt64}, to), nil
	}
	t := math.Trunc(f)
	if to.IsUnsigned() {
		if ovf && (t < 0 || t >= math.Exp2(float64(to.Bits()))) {
			return Slot{}, overflow("conversion", to)
		}
		if t >= math.Exp2(63) {
			return normalize(Slot{I: int64(uint64(t))}, to), nil
		}
		if t < 0 {
			return normalize(Slot{I: int64(t)}, to), nil
		}
		return normalize(Slot{I: int64(t)}, to), nil
	}
	limit := math.Exp2(float64(to.Bits() - 1))
	if t < -limit || t >= limit {
		if ovf {
			return Slot{}, overflow("conversion", to)
		}
		if t < -math.Exp2(63) || t >= math.Exp2(63) {
			return normalize(Slot{I: math.MinInt64}, to), nil
		}
	}
	return normalize(Slot{I: int64(t)}, to), nil
}
