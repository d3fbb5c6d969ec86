package verify

import (
	"math"

	"github.com/tangzhangming/ilengine/internal/cil"
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/types"
)

// ============================================================================
// 常量与栈操作
// ============================================================================

func init() {
	register(verifyConst,
		cil.OpLdcI4M1, cil.OpLdcI40, cil.OpLdcI41, cil.OpLdcI42, cil.OpLdcI43, cil.OpLdcI44,
		cil.OpLdcI45, cil.OpLdcI46, cil.OpLdcI47, cil.OpLdcI48, cil.OpLdcI4S, cil.OpLdcI4,
		cil.OpLdcI8, cil.OpLdcR4, cil.OpLdcR8, cil.OpLdnull, cil.OpLdstr)
	register(verifyStackOp, cil.OpDup, cil.OpPop)
	register(verifyBinary,
		cil.OpAdd, cil.OpSub, cil.OpMul, cil.OpDiv, cil.OpDivUn, cil.OpRem, cil.OpRemUn,
		cil.OpAnd, cil.OpOr, cil.OpXor,
		cil.OpAddOvf, cil.OpAddOvfUn, cil.OpSubOvf, cil.OpSubOvfUn, cil.OpMulOvf, cil.OpMulOvfUn)
	register(verifyShift, cil.OpShl, cil.OpShr, cil.OpShrUn)
	register(verifyUnary, cil.OpNeg, cil.OpNot, cil.OpCkfinite)
	register(verifyCompare, cil.OpCeq, cil.OpCgt, cil.OpCgtUn, cil.OpClt, cil.OpCltUn)
	for op := range convOps {
		register(verifyConv, op)
	}
}

func verifyConst(c *Context, in *cil.Instr) (bool, error) {
	var it types.Item
	switch in.Op {
	case cil.OpLdcI8:
		it = types.Constant(types.Int64, in.Int)
		c.coder.LoadInt64(in.Int)
	case cil.OpLdcR4, cil.OpLdcR8:
		it = types.Of(types.NativeFloat, nil)
		c.coder.LoadFloat(in.Float, in.Op == cil.OpLdcR4)
	case cil.OpLdnull:
		it = types.Of(types.ObjectRef, nil)
		c.coder.LoadNull()
	case cil.OpLdstr:
		mod, err := c.module()
		if err != nil {
			return false, err
		}
		s, err := mod.UserString(in.Token)
		if err != nil {
			e := c.fail(diag.V0300, "%v", err)
			e.Err = err
			return false, e
		}
		it = types.Of(types.ObjectRef, meta.String)
		c.coder.LoadString(s)
	default:
		v := int32(in.Int)
		if in.Op >= cil.OpLdcI4M1 && in.Op <= cil.OpLdcI48 {
			v = int32(in.Op) - int32(cil.OpLdcI40)
		}
		it = types.Constant(types.Int32, int64(v))
		c.coder.LoadInt32(v)
	}
	return true, c.push(it)
}

func verifyStackOp(c *Context, in *cil.Instr) (bool, error) {
	if in.Op == cil.OpPop {
		if _, err := c.pop1(); err != nil {
			return false, err
		}
		c.coder.Pop()
		return true, nil
	}
	top, ok := c.Stack.Top()
	if !ok {
		return false, c.fail(diag.V0003, "dup on an empty stack")
	}
	if err := c.push(top); err != nil {
		return false, err
	}
	c.coder.Dup()
	return true, nil
}

// ============================================================================
// 算术
// ============================================================================

var binOps = map[cil.OpCode]types.BinOp{
	cil.OpAdd:      types.BinAdd,
	cil.OpSub:      types.BinSub,
	cil.OpMul:      types.BinMul,
	cil.OpDiv:      types.BinDiv,
	cil.OpRem:      types.BinRem,
	cil.OpDivUn:    types.BinDivUn,
	cil.OpRemUn:    types.BinRemUn,
	cil.OpAnd:      types.BinAnd,
	cil.OpOr:       types.BinOr,
	cil.OpXor:      types.BinXor,
	cil.OpAddOvf:   types.BinAddOvf,
	cil.OpAddOvfUn: types.BinAddOvfUn,
	cil.OpSubOvf:   types.BinSubOvf,
	cil.OpSubOvfUn: types.BinSubOvfUn,
	cil.OpMulOvf:   types.BinMulOvf,
	cil.OpMulOvfUn: types.BinMulOvfUn,
}

func pairString(a, b types.Item) string {
	return a.String() + ", " + b.String()
}

func verifyBinary(c *Context, in *cil.Instr) (bool, error) {
	op := binOps[in.Op]
	ops, err := c.pop(2)
	if err != nil {
		return false, err
	}
	a, b := ops[0], ops[1]
	kind, ok, pointer := types.Binary(op, a.Kind, b.Kind)
	if !ok {
		return false, c.mismatch(diag.V0100, "matching numeric operands", pairString(a, b))
	}
	if pointer && !c.unsafe {
		return false, c.mismatch(diag.V0103, "numeric operands", pairString(a, b))
	}
	result := types.Of(kind, nil)
	if types.IsPointer(kind) {
		// 指针运算保留指针的目标类型
		if types.IsPointer(a.Kind) {
			result.Type = a.Type
		} else {
			result.Type = b.Type
		}
	}
	c.coder.Binary(op, a, b, result)
	return true, c.push(result)
}

var shiftOps = map[cil.OpCode]ShiftOp{
	cil.OpShl:   Shl,
	cil.OpShr:   Shr,
	cil.OpShrUn: ShrUn,
}

func verifyShift(c *Context, in *cil.Instr) (bool, error) {
	ops, err := c.pop(2)
	if err != nil {
		return false, err
	}
	value, amount := ops[0], ops[1]
	kind, ok := types.Shift(value.Kind, amount.Kind)
	if !ok {
		return false, c.mismatch(diag.V0100, "integer value, int32 shift amount", pairString(value, amount))
	}
	c.coder.Shift(shiftOps[in.Op], value, amount)
	return true, c.push(types.Of(kind, nil))
}

var unOps = map[cil.OpCode]types.UnOp{
	cil.OpNeg:      types.UnNeg,
	cil.OpNot:      types.UnNot,
	cil.OpCkfinite: types.UnCkfinite,
}

func verifyUnary(c *Context, in *cil.Instr) (bool, error) {
	a, err := c.pop1()
	if err != nil {
		return false, err
	}
	op := unOps[in.Op]
	kind, ok := types.Unary(op, a.Kind)
	if !ok {
		expected := "integer or F"
		switch op {
		case types.UnNot:
			expected = "integer"
		case types.UnCkfinite:
			expected = "F"
		}
		return false, c.mismatch(diag.V0100, expected, a.String())
	}
	c.coder.Unary(op, a)
	return true, c.push(types.Of(kind, nil))
}

// ============================================================================
// 比较
// ============================================================================

var cmpOps = map[cil.OpCode]Cond{
	cil.OpCeq:   CondEq,
	cil.OpCgt:   CondGt,
	cil.OpCgtUn: CondGtUn,
	cil.OpClt:   CondLt,
	cil.OpCltUn: CondLtUn,
}

// checkComparable 比较操作数检查，比较指令和条件分支共用
func (c *Context) checkComparable(cond Cond, a, b types.Item) error {
	mode := cond.Mode()
	if types.Comparable(mode, a.Kind, b.Kind, c.unsafe) {
		return nil
	}
	if !c.unsafe && types.Comparable(mode, a.Kind, b.Kind, true) {
		return c.mismatch(diag.V0103, "comparable operands", pairString(a, b))
	}
	return c.mismatch(diag.V0101, "comparable operands", pairString(a, b))
}

func verifyCompare(c *Context, in *cil.Instr) (bool, error) {
	ops, err := c.pop(2)
	if err != nil {
		return false, err
	}
	cond := cmpOps[in.Op]
	if err := c.checkComparable(cond, ops[0], ops[1]); err != nil {
		return false, err
	}
	c.coder.Compare(cond, ops[0], ops[1])
	return true, c.push(types.Of(types.Int32, nil))
}

// ============================================================================
// 转换
// ============================================================================

var convOps = map[cil.OpCode]Conv{
	cil.OpConvI1:      {Elem: meta.ElemI1},
	cil.OpConvI2:      {Elem: meta.ElemI2},
	cil.OpConvI4:      {Elem: meta.ElemI4},
	cil.OpConvI8:      {Elem: meta.ElemI8},
	cil.OpConvR4:      {Elem: meta.ElemR4},
	cil.OpConvR8:      {Elem: meta.ElemR8},
	cil.OpConvU1:      {Elem: meta.ElemU1},
	cil.OpConvU2:      {Elem: meta.ElemU2},
	cil.OpConvU4:      {Elem: meta.ElemU4},
	cil.OpConvU8:      {Elem: meta.ElemU8},
	cil.OpConvI:       {Elem: meta.ElemI},
	cil.OpConvU:       {Elem: meta.ElemU},
	cil.OpConvRUn:     {Elem: meta.ElemR8, Un: true},
	cil.OpConvOvfI1:   {Elem: meta.ElemI1, Ovf: true},
	cil.OpConvOvfI2:   {Elem: meta.ElemI2, Ovf: true},
	cil.OpConvOvfI4:   {Elem: meta.ElemI4, Ovf: true},
	cil.OpConvOvfI8:   {Elem: meta.ElemI8, Ovf: true},
	cil.OpConvOvfU1:   {Elem: meta.ElemU1, Ovf: true},
	cil.OpConvOvfU2:   {Elem: meta.ElemU2, Ovf: true},
	cil.OpConvOvfU4:   {Elem: meta.ElemU4, Ovf: true},
	cil.OpConvOvfU8:   {Elem: meta.ElemU8, Ovf: true},
	cil.OpConvOvfI:    {Elem: meta.ElemI, Ovf: true},
	cil.OpConvOvfU:    {Elem: meta.ElemU, Ovf: true},
	cil.OpConvOvfI1Un: {Elem: meta.ElemI1, Ovf: true, Un: true},
	cil.OpConvOvfI2Un: {Elem: meta.ElemI2, Ovf: true, Un: true},
	cil.OpConvOvfI4Un: {Elem: meta.ElemI4, Ovf: true, Un: true},
	cil.OpConvOvfI8Un: {Elem: meta.ElemI8, Ovf: true, Un: true},
	cil.OpConvOvfU1Un: {Elem: meta.ElemU1, Ovf: true, Un: true},
	cil.OpConvOvfU2Un: {Elem: meta.ElemU2, Ovf: true, Un: true},
	cil.OpConvOvfU4Un: {Elem: meta.ElemU4, Ovf: true, Un: true},
	cil.OpConvOvfU8Un: {Elem: meta.ElemU8, Ovf: true, Un: true},
	cil.OpConvOvfIUn:  {Elem: meta.ElemI, Ovf: true, Un: true},
	cil.OpConvOvfUUn:  {Elem: meta.ElemU, Ovf: true, Un: true},
}

// pointerConvTarget 指针只能转换为与指针同宽或更宽的整数
func pointerConvTarget(e meta.ElementType) bool {
	switch e {
	case meta.ElemI, meta.ElemU, meta.ElemI8, meta.ElemU8:
		return true
	}
	return false
}

func verifyConv(c *Context, in *cil.Instr) (bool, error) {
	conv := convOps[in.Op]
	from, err := c.pop1()
	if err != nil {
		return false, err
	}
	target := types.FromType(meta.Prim(conv.Elem))
	if in.Op == cil.OpConvRUn && !types.IsInteger(from.Kind) {
		return false, c.mismatch(diag.V0102, "integer", from.String())
	}

	opts := types.Options{Unsafe: c.unsafe, PtrSize: c.opts.PtrSize}
	if from.Const {
		v := from.Value
		opts.Constant = &v
	}
	plan := types.Coerce(from.Kind, target, opts)
	if types.IsPointer(from.Kind) && !pointerConvTarget(conv.Elem) {
		plan = types.Illegal
	}
	if !plan.Legal() {
		code := diag.V0102
		if types.IsPointer(from.Kind) && pointerConvTarget(conv.Elem) {
			code = diag.V0103
		}
		return false, c.mismatch(code, "numeric operand", from.String())
	}
	if plan&types.Lossy != 0 {
		c.warn(diag.V0102, "%s may lose precision on a %d-byte target", in.Op, c.opts.PtrSize)
	}
	if from.Const && !conv.Ovf && !constantFits(from.Value, conv.Elem) {
		c.warn(diag.V0102, "constant %d truncated by %s", from.Value, in.Op)
	}

	c.coder.Convert(conv, from)
	return true, c.push(conv.Result())
}

// constantFits 整数常量能否无损转换为目标类型
func constantFits(v int64, e meta.ElementType) bool {
	var lo, hi int64
	switch e {
	case meta.ElemI1:
		lo, hi = math.MinInt8, math.MaxInt8
	case meta.ElemU1:
		lo, hi = 0, math.MaxUint8
	case meta.ElemI2:
		lo, hi = math.MinInt16, math.MaxInt16
	case meta.ElemU2:
		lo, hi = 0, math.MaxUint16
	case meta.ElemI4:
		lo, hi = math.MinInt32, math.MaxInt32
	case meta.ElemU4:
		lo, hi = 0, math.MaxUint32
	default:
		return true
	}
	return v >= lo && v <= hi
}

func (cv Conv) String() string {
	s := "conv"
	if cv.Ovf {
		s += ".ovf"
	}
	s += "." + cv.Elem.String()
	if cv.Un {
		s += ".un"
	}
	return s
}
