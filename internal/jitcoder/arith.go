package jitcoder

import (
	"math"

	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/types"
	"github.com/tangzhangming/ilengine/internal/verify"
)

// ============================================================================
// 常量
// ============================================================================

func (c *Coder) LoadInt32(v int32) { c.push(c.fn.ConstInt(jit.TypeInt, int64(v))) }

func (c *Coder) LoadInt64(v int64) { c.push(c.fn.ConstInt(jit.TypeLong, v)) }

// LoadFloat ldc.r4 的常量先舍入到单精度
func (c *Coder) LoadFloat(v float64, single bool) {
	if single && !math.IsNaN(v) && !math.IsInf(v, 0) {
		v = float64(float32(v))
	}
	c.push(c.fn.ConstFloat(jit.TypeNFloat, v))
}

func (c *Coder) LoadNull() { c.push(c.fn.ConstRef(nil)) }

func (c *Coder) LoadString(s string) { c.push(c.fn.ConstRef(c.rt.Literal(s))) }

// ============================================================================
// 参数与局部变量
// ============================================================================

// load 变量压栈时复制，之后对变量的写入不影响栈上的值
func (c *Coder) load(v *jit.Value) {
	if t := types.StackNativeOf(v.Type()); t != v.Type() {
		c.push(c.fn.InsnConvert(v, t, false))
		return
	}
	c.push(c.fn.InsnDup(v))
}

func (c *Coder) LoadArg(n int, t *meta.Type) {
	if c.arg(n) {
		c.load(c.args[n])
	}
}

func (c *Coder) StoreArg(n int, t *meta.Type) {
	v := c.pop1()
	if c.arg(n) {
		c.fn.InsnStore(c.args[n], v)
	}
}

func (c *Coder) LoadArgAddr(n int, t *meta.Type) {
	if c.arg(n) {
		c.push(c.fn.InsnAddressOfVar(c.args[n]))
	}
}

func (c *Coder) LoadLocal(n int, t *meta.Type) {
	if c.local(n) {
		c.load(c.locals[n])
	}
}

func (c *Coder) StoreLocal(n int, t *meta.Type) {
	v := c.pop1()
	if c.local(n) {
		c.fn.InsnStore(c.locals[n], v)
	}
}

func (c *Coder) LoadLocalAddr(n int, t *meta.Type) {
	if c.local(n) {
		c.push(c.fn.InsnAddressOfVar(c.locals[n]))
	}
}

func (c *Coder) arg(n int) bool {
	if n < 0 || n >= len(c.args) {
		c.fail(diag.J0005, nil, "argument %d out of range", n)
		return false
	}
	return true
}

func (c *Coder) local(n int) bool {
	if n < 0 || n >= len(c.locals) {
		c.fail(diag.J0005, nil, "local %d out of range", n)
		return false
	}
	return true
}

// ============================================================================
// 栈操作
// ============================================================================

// Dup 两个栈项共用同一个值，写回标签临时变量时由 spill 处理别名
func (c *Coder) Dup() {
	v, ok := c.stack.Top()
	if !ok {
		c.fail(diag.J0001, nil, "dup on empty native stack")
		return
	}
	c.push(v)
}

func (c *Coder) Pop() { c.pop1() }

// ============================================================================
// 运算
// ============================================================================

// Binary 二元运算；无符号形式先把整数操作数重新解释为无符号类型
func (c *Coder) Binary(op types.BinOp, a, b, result types.Item) {
	vs := c.pop(2)
	x, y := vs[0], vs[1]
	want := types.StackNative(result.Kind)

	un := op.Unsigned() && x.Type().IsInteger() && y.Type().IsInteger()
	if un {
		x = c.fn.InsnConvert(x, types.UnsignedOf(x.Type()), false)
		y = c.fn.InsnConvert(y, types.UnsignedOf(y.Type()), false)
	}

	var r *jit.Value
	switch op {
	case types.BinAdd:
		r = c.fn.InsnAdd(x, y)
	case types.BinSub:
		r = c.fn.InsnSub(x, y)
	case types.BinMul:
		r = c.fn.InsnMul(x, y)
	case types.BinDiv, types.BinDivUn:
		r = c.fn.InsnDiv(x, y)
	case types.BinRem, types.BinRemUn:
		r = c.fn.InsnRem(x, y)
	case types.BinAnd:
		r = c.fn.InsnAnd(x, y)
	case types.BinOr:
		r = c.fn.InsnOr(x, y)
	case types.BinXor:
		r = c.fn.InsnXor(x, y)
	case types.BinAddOvf, types.BinAddOvfUn:
		r = c.fn.InsnAddOvf(x, y)
	case types.BinSubOvf, types.BinSubOvfUn:
		r = c.fn.InsnSubOvf(x, y)
	case types.BinMulOvf, types.BinMulOvfUn:
		r = c.fn.InsnMulOvf(x, y)
	default:
		c.fail(diag.J0003, nil, "binary operator %s", op)
		return
	}
	if want != nil && r.Type() != want {
		r = c.fn.InsnConvert(r, want, false)
	}
	c.push(r)
}

func (c *Coder) Shift(op verify.ShiftOp, value, amount types.Item) {
	vs := c.pop(2)
	x, n := vs[0], vs[1]
	switch op {
	case verify.Shl:
		c.push(c.fn.InsnShl(x, n))
	case verify.Shr:
		c.push(c.fn.InsnShr(x, n))
	case verify.ShrUn:
		t := x.Type()
		r := c.fn.InsnShr(c.fn.InsnConvert(x, types.UnsignedOf(t), false), n)
		c.push(c.fn.InsnConvert(r, t, false))
	}
}

func (c *Coder) Unary(op types.UnOp, a types.Item) {
	x := c.pop1()
	switch op {
	case types.UnNeg:
		c.push(c.fn.InsnNeg(x))
	case types.UnNot:
		c.push(c.fn.InsnNot(x))
	case types.UnCkfinite:
		c.push(c.fn.InsnCkfinite(x))
	}
}

func (c *Coder) Compare(cond verify.Cond, a, b types.Item) {
	vs := c.pop(2)
	c.push(c.compare(cond, vs[0], vs[1]))
}

// compare 比较结果为 int 0/1
func (c *Coder) compare(cond verify.Cond, x, y *jit.Value) *jit.Value {
	switch cond {
	case verify.CondEq:
		return c.fn.InsnEq(x, y)
	case verify.CondNeUn:
		return c.fn.InsnNe(x, y)
	case verify.CondGt:
		return c.fn.InsnGt(x, y)
	case verify.CondGtUn:
		return c.fn.InsnGtUn(x, y)
	case verify.CondGe:
		return c.fn.InsnGe(x, y)
	case verify.CondGeUn:
		return c.fn.InsnGeUn(x, y)
	case verify.CondLt:
		return c.fn.InsnLt(x, y)
	case verify.CondLtUn:
		return c.fn.InsnLtUn(x, y)
	case verify.CondLe:
		return c.fn.InsnLe(x, y)
	}
	return c.fn.InsnLeUn(x, y)
}

// Convert conv.* 系列：先转换到目标元素类型，再扩展为栈上的形式
func (c *Coder) Convert(conv verify.Conv, from types.Item) {
	x := c.pop1()
	if conv.Un && x.Type().IsInteger() {
		x = c.fn.InsnConvert(x, types.UnsignedOf(x.Type()), false)
	}
	t := types.NativePrimitive(meta.Prim(conv.Elem))
	if t == nil {
		c.fail(diag.J0003, nil, "conversion to %s", conv.Elem)
		return
	}
	c.pushWide(c.fn.InsnConvert(x, t, conv.Ovf))
}
