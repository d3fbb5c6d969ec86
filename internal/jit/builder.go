package jit

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/atomic"
)

// ============================================================================
// 函数
// ============================================================================

// OnDemandFunc 按需编译回调：构建函数体，可以自行调用 Compile
type OnDemandFunc func(fn *Function) error

// Function 一个可编译的函数
type Function struct {
	ctx    *Context
	name   string
	sig    *Signature
	params []*Value
	values []*Value
	insns  []IRInst
	labels []*Label

	catcher *Label
	curIL   int
	err     error // 构建期间的第一个错误

	onDemand  OnDemandFunc
	compileMu sync.Mutex
	state     atomic.Int32
	code      atomic.Pointer[closure]

	// Meta 调用方附加的数据（例如对应的 CLI 方法）
	Meta any
}

// NewFunction 在上下文中创建函数，参数值按签名创建
func (c *Context) NewFunction(name string, sig *Signature) *Function {
	f := &Function{ctx: c, name: name, sig: sig, curIL: -1}
	for _, t := range sig.Params {
		v := f.newValue(t)
		v.param = true
		f.params = append(f.params, v)
	}
	c.stats.functions.Inc()
	c.funcs.Register(f)
	return f
}

func (f *Function) Name() string { return f.name }
func (f *Function) Signature() *Signature { return f.sig }
func (f *Function) Context() *Context { return f.ctx }
func (f *Function) NumParams() int { return len(f.params) }
func (f *Function) Param(i int) *Value { return f.params[i] }
func (f *Function) Insns() []IRInst { return f.insns }
func (f *Function) Err() error { return f.err }

// State 当前状态
func (f *Function) State() FunctionState { return FunctionState(f.state.Load()) }

// IsCompiled 是否已发布
func (f *Function) IsCompiled() bool { return f.code.Load() != nil }

// SetOnDemand 设置按需编译回调
func (f *Function) SetOnDemand(fn OnDemandFunc) {
	f.onDemand = fn
	if !f.IsCompiled() {
		f.state.Store(int32(FuncStatePending))
	}
}

func (f *Function) fail(format string, args ...interface{}) {
	if f.err == nil {
		f.err = fmt.Errorf("jit: %s: %s", f.name, fmt.Sprintf(format, args...))
	}
}

func (f *Function) newValue(t *Type) *Value {
	v := &Value{fn: f, index: len(f.values), typ: t}
	f.values = append(f.values, v)
	return v
}

// NewValue 新的临时变量
func (f *Function) NewValue(t *Type) *Value { return f.newValue(t) }

// ConstInt 整数常量（按类型截断）
func (f *Function) ConstInt(t *Type, v int64) *Value {
	c := f.newValue(t)
	c.constant = true
	c.konst = normalize(Slot{I: v}, t)
	return c
}

// ConstFloat 浮点常量
func (f *Function) ConstFloat(t *Type, v float64) *Value {
	c := f.newValue(t)
	c.constant = true
	c.konst = normalize(Slot{F: v}, t)
	return c
}

// ConstRef 对象引用常量，nil 表示 null
func (f *Function) ConstRef(v any) *Value {
	c := f.newValue(TypeRef)
	c.constant = true
	c.konst = Slot{Ref: v}
	return c
}

// ConstNullPtr 空地址常量
func (f *Function) ConstNullPtr() *Value {
	c := f.newValue(TypePtr)
	c.constant = true
	return c
}

// NewLabel 新标签，尚未放置
func (f *Function) NewLabel() *Label {
	l := &Label{id: len(f.labels), pos: -1}
	f.labels = append(f.labels, l)
	return l
}

// PlaceLabel 把标签放在下一条指令处
func (f *Function) PlaceLabel(l *Label) {
	if l.pos >= 0 {
		f.fail("label %s placed twice", l)
		return
	}
	l.pos = len(f.insns)
}

// SetOffset 设置之后生成的指令所属的 IL 偏移，异常分派据此查找区域
func (f *Function) SetOffset(il int) { f.curIL = il }

// Offset 当前 IL 偏移
func (f *Function) Offset() int { return f.curIL }

// InsnMarkOffset 生成 IL 偏移标记（调试用行号）
func (f *Function) InsnMarkOffset(il int) {
	f.emit(IRInst{Op: IR_MARK, Offset: il})
}

// SetCatcher 函数内任何异常都转到 l 处分派
func (f *Function) SetCatcher(l *Label) { f.catcher = l }

func (f *Function) emit(in IRInst) {
	if f.IsCompiled() {
		if f.err == nil {
			f.err = fmt.Errorf("%w: %s", ErrBuilt, f.name)
		}
		return
	}
	in.IL = f.curIL
	f.insns = append(f.insns, in)
}

func (f *Function) owns(vs ...*Value) bool {
	for _, v := range vs {
		if v == nil || v.fn != f {
			f.fail("value does not belong to this function")
			return false
		}
	}
	return true
}

// ============================================================================
// 算术与比较
// ============================================================================

// binaryType 二元运算的结果类型
func binaryType(a, b *Type) *Type {
	a, b = a.Promote(), b.Promote()
	switch {
	case a.kind == KindPtr || b.kind == KindPtr:
		return TypePtr
	case a.IsFloat() || b.IsFloat():
		if a.kind == KindNFloat || b.kind == KindNFloat {
			return TypeNFloat
		}
		if a.kind == KindFloat64 || b.kind == KindFloat64 {
			return TypeFloat64
		}
		return TypeFloat32
	case b.size > a.size:
		return b
	}
	return a
}

func (f *Function) binary(op IROp, a, b *Value, t *Type) *Value {
	if !f.owns(a, b) {
		return f.newValue(t)
	}
	d := f.newValue(t)
	f.emit(IRInst{Op: op, Dest: d, Args: []*Value{a, b}, Type: t})
	return d
}

func (f *Function) InsnAdd(a, b *Value) *Value { return f.binary(IR_ADD, a, b, binaryType(a.typ, b.typ)) }
func (f *Function) InsnMul(a, b *Value) *Value { return f.binary(IR_MUL, a, b, binaryType(a.typ, b.typ)) }
func (f *Function) InsnDiv(a, b *Value) *Value { return f.binary(IR_DIV, a, b, binaryType(a.typ, b.typ)) }
func (f *Function) InsnRem(a, b *Value) *Value { return f.binary(IR_REM, a, b, binaryType(a.typ, b.typ)) }
func (f *Function) InsnAnd(a, b *Value) *Value { return f.binary(IR_AND, a, b, binaryType(a.typ, b.typ)) }
func (f *Function) InsnOr(a, b *Value) *Value { return f.binary(IR_OR, a, b, binaryType(a.typ, b.typ)) }
func (f *Function) InsnXor(a, b *Value) *Value { return f.binary(IR_XOR, a, b, binaryType(a.typ, b.typ)) }

// InsnSub 减法；两个地址相减得到 nint
func (f *Function) InsnSub(a, b *Value) *Value {
	t := binaryType(a.typ, b.typ)
	if a.typ.kind == KindPtr && b.typ.kind == KindPtr {
		t = TypeNInt
	}
	return f.binary(IR_SUB, a, b, t)
}

// InsnAddOvf 带溢出检查的加法，有无符号由结果类型决定
func (f *Function) InsnAddOvf(a, b *Value) *Value {
	return f.binary(IR_ADD_OVF, a, b, binaryType(a.typ, b.typ))
}

// InsnSubOvf 带溢出检查的减法
func (f *Function) InsnSubOvf(a, b *Value) *Value {
	return f.binary(IR_SUB_OVF, a, b, binaryType(a.typ, b.typ))
}

// InsnMulOvf 带溢出检查的乘法
func (f *Function) InsnMulOvf(a, b *Value) *Value {
	return f.binary(IR_MUL_OVF, a, b, binaryType(a.typ, b.typ))
}

// InsnShl 左移，结果类型为被移位值的类型
func (f *Function) InsnShl(v, n *Value) *Value { return f.binary(IR_SHL, v, n, v.typ.Promote()) }

// InsnShr 右移，无符号类型为逻辑右移
func (f *Function) InsnShr(v, n *Value) *Value { return f.binary(IR_SHR, v, n, v.typ.Promote()) }

func (f *Function) unary(op IROp, v *Value, t *Type) *Value {
	if !f.owns(v) {
		return f.newValue(t)
	}
	d := f.newValue(t)
	f.emit(IRInst{Op: op, Dest: d, Args: []*Value{v}, Type: t})
	return d
}

func (f *Function) InsnNeg(v *Value) *Value { return f.unary(IR_NEG, v, v.typ.Promote()) }
func (f *Function) InsnNot(v *Value) *Value { return f.unary(IR_NOT, v, v.typ.Promote()) }

// InsnCkfinite NaN 或无穷时以算术故障结束
func (f *Function) InsnCkfinite(v *Value) *Value { return f.unary(IR_CKFINITE, v, v.typ) }

func (f *Function) compare(op IROp, a, b *Value) *Value { return f.binary(op, a, b, TypeInt) }

func (f *Function) InsnEq(a, b *Value) *Value { return f.compare(IR_EQ, a, b) }
func (f *Function) InsnNe(a, b *Value) *Value { return f.compare(IR_NE, a, b) }
func (f *Function) InsnLt(a, b *Value) *Value { return f.compare(IR_LT, a, b) }
func (f *Function) InsnLe(a, b *Value) *Value { return f.compare(IR_LE, a, b) }
func (f *Function) InsnGt(a, b *Value) *Value { return f.compare(IR_GT, a, b) }
func (f *Function) InsnGe(a, b *Value) *Value { return f.compare(IR_GE, a, b) }
func (f *Function) InsnLtUn(a, b *Value) *Value { return f.compare(IR_LT_UN, a, b) }
func (f *Function) InsnLeUn(a, b *Value) *Value { return f.compare(IR_LE_UN, a, b) }
func (f *Function) InsnGtUn(a, b *Value) *Value { return f.compare(IR_GT_UN, a, b) }
func (f *Function) InsnGeUn(a, b *Value) *Value { return f.compare(IR_GE_UN, a, b) }

// ============================================================================
// 赋值与转换
// ============================================================================

// InsnStore dest = v，按 dest 的类型转换
func (f *Function) InsnStore(dest, v *Value) {
	if !f.owns(dest, v) {
		return
	}
	if dest.constant {
		f.fail("store into constant")
		return
	}
	f.emit(IRInst{Op: IR_COPY, Dest: dest, Args: []*Value{v}, Type: dest.typ})
}

// InsnDup 复制到新的临时变量
func (f *Function) InsnDup(v *Value) *Value {
	d := f.newValue(v.typ)
	f.InsnStore(d, v)
	return d
}

// InsnConvert 数值转换；ovf 为真时超出目标范围以溢出故障结束
func (f *Function) InsnConvert(v *Value, t *Type, ovf bool) *Value {
	if v.typ == t && !ovf {
		return v
	}
	op := IR_CONVERT
	if ovf {
		op = IR_CONVERT_OVF
	}
	return f.unary(op, v, t)
}

// InsnPtrToInt 地址转 nint
func (f *Function) InsnPtrToInt(v *Value) *Value { return f.unary(IR_PTR_TO_INT, v, TypeNInt) }

// InsnIntToPtr nint 转地址
func (f *Function) InsnIntToPtr(v *Value) *Value { return f.unary(IR_INT_TO_PTR, v, TypePtr) }

// ============================================================================
// 跳转
// ============================================================================

// InsnBranch 无条件跳转
func (f *Function) InsnBranch(l *Label) { f.emit(IRInst{Op: IR_BR, Target: l}) }

// InsnBranchIf v 非零时跳转
func (f *Function) InsnBranchIf(v *Value, l *Label) {
	if f.owns(v) {
		f.emit(IRInst{Op: IR_BR_TRUE, Args: []*Value{v}, Target: l})
	}
}

// InsnBranchIfNot v 为零时跳转
func (f *Function) InsnBranchIfNot(v *Value, l *Label) {
	if f.owns(v) {
		f.emit(IRInst{Op: IR_BR_FALSE, Args: []*Value{v}, Target: l})
	}
}

// InsnJumpTable v 在 [0, len(labels)) 内时跳到对应标签，否则顺序执行
func (f *Function) InsnJumpTable(v *Value, labels []*Label) {
	if f.owns(v) {
		f.emit(IRInst{Op: IR_JUMP_TABLE, Args: []*Value{v}, Targets: append([]*Label(nil), labels...)})
	}
}

// ============================================================================
// 内存
// ============================================================================

// InsnLoadRelative 读取 *(base+off)，base 为地址或对象引用
func (f *Function) InsnLoadRelative(base *Value, off int, t *Type) *Value {
	if !f.owns(base) {
		return f.newValue(t)
	}
	d := f.newValue(t)
	f.emit(IRInst{Op: IR_LOAD, Dest: d, Args: []*Value{base}, Offset: off, Type: t})
	return d
}

// InsnStoreRelative 写入 *(base+off) = v，按 v 的类型
func (f *Function) InsnStoreRelative(base *Value, off int, v *Value) {
	if f.owns(base, v) {
		f.emit(IRInst{Op: IR_STORE, Args: []*Value{base, v}, Offset: off, Type: v.typ})
	}
}

// InsnAddressOf 取值的地址；结构体值取其数据块
func (f *Function) InsnAddressOf(v *Value) *Value {
	if v.constant {
		f.fail("address of constant")
	}
	v.addr = true
	return f.unary(IR_ADDRESS_OF, v, TypePtr)
}

// InsnAddressOfVar 取变量单元本身的地址；对象引用变量也得到单元地址而非对象数据块
func (f *Function) InsnAddressOfVar(v *Value) *Value {
	if v.constant {
		f.fail("address of constant")
	}
	v.addr = true
	return f.unary(IR_VAR_ADDRESS, v, TypePtr)
}

// InsnAddRelative 地址加常量偏移；对象引用得到其数据块内的地址
func (f *Function) InsnAddRelative(ptr *Value, off int) *Value {
	if ptr.typ.kind == KindRef {
		ptr = f.unary(IR_ADDRESS_OF, ptr, TypePtr)
	}
	if off == 0 {
		return ptr
	}
	return f.binary(IR_ADD, ptr, f.ConstInt(TypeNInt, int64(off)), TypePtr)
}

// InsnAlloca 在当前帧分配 size 字节
func (f *Function) InsnAlloca(size *Value) *Value { return f.unary(IR_ALLOCA, size, TypePtr) }

// InsnMemcpy 复制 n 字节
func (f *Function) InsnMemcpy(dst, src, n *Value) {
	if f.owns(dst, src, n) {
		f.emit(IRInst{Op: IR_MEMCPY, Args: []*Value{dst, src, n}})
	}
}

// InsnMemset 以字节 v 填充 n 字节
func (f *Function) InsnMemset(dst, v, n *Value) {
	if f.owns(dst, v, n) {
		f.emit(IRInst{Op: IR_MEMSET, Args: []*Value{dst, v, n}})
	}
}

// ============================================================================
// 调用
// ============================================================================

func (f *Function) checkArgs(sig *Signature, args []*Value) bool {
	if len(args) != len(sig.Params) {
		f.fail("%v: want %d, got %d", ErrArgCount, len(sig.Params), len(args))
		return false
	}
	return f.owns(args...)
}

func (f *Function) callResult(sig *Signature) *Value {
	if sig.Return.kind == KindVoid {
		return nil
	}
	return f.newValue(sig.Return)
}

// InsnCall 直接调用；void 函数返回 nil
func (f *Function) InsnCall(callee *Function, args []*Value) *Value {
	if !f.checkArgs(callee.sig, args) {
		return f.callResult(callee.sig)
	}
	d := f.callResult(callee.sig)
	f.emit(IRInst{Op: IR_CALL, Dest: d, Args: args, Callee: callee, Type: callee.sig.Return})
	return d
}

// InsnCallIndirect 调用 target 引用的函数（*Function 或 *Native）
func (f *Function) InsnCallIndirect(target *Value, sig *Signature, args []*Value) *Value {
	if !f.checkArgs(sig, args) || !f.owns(target) {
		return f.callResult(sig)
	}
	d := f.callResult(sig)
	all := append([]*Value{target}, args...)
	f.emit(IRInst{Op: IR_CALL_INDIRECT, Dest: d, Args: all, Sig: sig, Type: sig.Return})
	return d
}

// InsnCallNative 调用本地函数
func (f *Function) InsnCallNative(n *Native, args []*Value) *Value {
	if !f.checkArgs(n.Sig, args) {
		return f.callResult(n.Sig)
	}
	d := f.callResult(n.Sig)
	f.emit(IRInst{Op: IR_CALL_NATIVE, Dest: d, Args: args, Native: n, Type: n.Sig.Return})
	return d
}

// InsnReturn 返回；void 函数传 nil
func (f *Function) InsnReturn(v *Value) {
	if v == nil {
		if f.sig.Return.kind != KindVoid {
			f.fail("missing return value")
		}
		f.emit(IRInst{Op: IR_RETURN})
		return
	}
	if f.owns(v) {
		f.emit(IRInst{Op: IR_RETURN, Args: []*Value{v}, Type: f.sig.Return})
	}
}

// ============================================================================
// 异常
// ============================================================================

// InsnThrow 抛出异常对象
func (f *Function) InsnThrow(v *Value) {
	if f.owns(v) {
		f.emit(IRInst{Op: IR_THROW, Args: []*Value{v}})
	}
}

// InsnRethrowUnhandled 把当前异常原样传给调用者，不经过本函数的分派
func (f *Function) InsnRethrowUnhandled() { f.emit(IRInst{Op: IR_RETHROW}) }

// InsnThrown 分派代码中取当前异常对象
func (f *Function) InsnThrown() *Value {
	d := f.newValue(TypeRef)
	f.emit(IRInst{Op: IR_THROWN, Dest: d, Type: TypeRef})
	return d
}

// InsnThrowPC 分派代码中取抛出点的 IL 偏移
func (f *Function) InsnThrowPC() *Value {
	d := f.newValue(TypeInt)
	f.emit(IRInst{Op: IR_THROW_PC, Dest: d, Type: TypeInt})
	return d
}

// InsnCallFinally 以子程序方式进入 finally 块
func (f *Function) InsnCallFinally(l *Label) { f.emit(IRInst{Op: IR_CALL_FINALLY, Target: l}) }

// InsnReturnFromFinally finally 块结束，回到最近的 InsnCallFinally 之后
func (f *Function) InsnReturnFromFinally() { f.emit(IRInst{Op: IR_RETURN_FROM_FINALLY}) }

// ============================================================================
// 调试输出
// ============================================================================

// Dump 函数的文本形式
func (f *Function) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "function %s%s\n", f.name, strings.TrimPrefix(f.sig.String(), f.sig.Return.String()))
	at := make(map[int][]*Label)
	for _, l := range f.labels {
		if l.pos >= 0 {
			at[l.pos] = append(at[l.pos], l)
		}
	}
	for i := range f.insns {
		for _, l := range at[i] {
			fmt.Fprintf(&b, "%s:\n", l)
			if l == f.catcher {
				b.WriteString("    ; catcher\n")
			}
		}
		fmt.Fprintf(&b, "    %s\n", f.insns[i].String())
	}
	for _, l := range at[len(f.insns)] {
		fmt.Fprintf(&b, "%s:\n", l)
	}
	return b.String()
}
