// Package jitcoder 把验证通过的 CIL 方法体翻译为 jit 函数
//
// Coder 实现 verify.Coder：验证器每通过一条指令就回调一次，
// Coder 维护一个与验证器同步的原生值栈，并向 jit.Function 发射指令。
// 分支目标处的栈值保存在标签的临时变量中，每次到达都写入同一组临时变量。
package jitcoder

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tangzhangming/ilengine/internal/cil"
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/layout"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/runtime"
	"github.com/tangzhangming/ilengine/internal/stack"
	"github.com/tangzhangming/ilengine/internal/types"
	"github.com/tangzhangming/ilengine/internal/verify"
)

// ============================================================================
// 错误
// ============================================================================

// Error 代码生成失败
type Error struct {
	Method  string
	Offset  int // -1 表示与具体指令无关
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s: %s at IL_%04X: %s", e.Code, e.Method, e.Offset, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Method, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Diagnostic 转为诊断记录
func (e *Error) Diagnostic() *diag.Diagnostic {
	return &diag.Diagnostic{
		Level:   diag.LevelError,
		Code:    e.Code,
		Message: e.Message,
		Method:  e.Method,
		Offset:  e.Offset,
	}
}

// ErrStackDesync 合并点的原生栈与标签记录的深度不一致
var ErrStackDesync = errors.New("jitcoder: stack desynchronised at merge point")

// ============================================================================
// 代码生成器
// ============================================================================

// Options 代码生成选项
type Options struct {
	Debug  bool // 每条指令前生成 IL 偏移标记
	Logger *zap.Logger
}

// Coder 单个方法的代码生成状态，用完即弃
type Coder struct {
	rt   *runtime.Runtime
	fn   *jit.Function
	h    *runtime.Helpers
	opts Options
	log  *zap.Logger

	method  *meta.Method
	body    *meta.MethodBody
	regions *verify.RegionIndex

	stack   *stack.Stack[*jit.Value]
	labels  *stack.Arena[*jit.Value]
	scratch *stack.Stack[*jit.Value]

	thread     *jit.Value
	args       []*jit.Value // IL 参数编号 -> 函数参数（含 this）
	locals     []*jit.Value
	localTypes []*meta.Type

	in          *cil.Instr
	constrained *meta.Type // constrained. 前缀给出的 this 类型
	thisDepth   int

	// 异常分派
	catcher *jit.Label
	exc     *jit.Value // 正在分派的异常
	excPC   *jit.Value // 抛出点 IL 偏移
	filter  *jit.Value // 最近一次 endfilter 的结果

	err error
}

var _ verify.Coder = (*Coder)(nil)

// New 为 fn 创建代码生成器；fn 的签名由 runtime.Signature 给出
func New(rt *runtime.Runtime, fn *jit.Function, opts Options) *Coder {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Coder{
		rt:      rt,
		fn:      fn,
		h:       rt.Helpers(),
		opts:    opts,
		log:     log,
		stack:   stack.New[*jit.Value](-1),
		labels:  stack.NewArena[*jit.Value](),
		scratch: stack.New[*jit.Value](-1),
	}
}

// Function 生成的函数
func (c *Coder) Function() *jit.Function { return c.fn }

// fail 记录第一个错误
func (c *Coder) fail(code string, err error, format string, args ...interface{}) {
	if c.err != nil {
		return
	}
	off := -1
	if c.in != nil {
		off = int(c.in.Offset)
	}
	name := ""
	if c.method != nil {
		name = c.method.FullName()
	}
	c.err = &Error{Method: name, Offset: off, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (c *Coder) Err() error { return c.err }

// Setup 建立参数、局部变量和异常处理块的入口标签
func (c *Coder) Setup(m *meta.Method, body *meta.MethodBody, regions *verify.RegionIndex) {
	c.method, c.body, c.regions = m, body, regions
	c.labels.Reset()
	c.stack.Reset()

	n := m.ParamCount()
	if c.fn.NumParams() != n+1 {
		c.fail(diag.J0005, nil, "function takes %d parameters, method needs %d", c.fn.NumParams(), n+1)
		return
	}
	c.thread = c.fn.Param(0)
	c.args = make([]*jit.Value, n)
	for i := range c.args {
		c.args[i] = c.fn.Param(i + 1)
	}

	c.localTypes = body.Locals
	c.locals = make([]*jit.Value, len(body.Locals))
	for i, t := range body.Locals {
		nt, err := c.rt.Layouts.NativeType(t)
		if err != nil {
			c.fail(diag.J0003, err, "local %d: %v", i, err)
			return
		}
		c.locals[i] = c.fn.NewValue(nt)
	}

	if regions == nil || len(regions.Clauses()) == 0 {
		return
	}
	for _, cl := range regions.Clauses() {
		switch cl.Kind {
		case meta.ClauseCatch:
			c.entry(cl.HandlerOffset, true)
		case meta.ClauseFilter:
			c.entry(cl.FilterOffset, true)
			c.entry(cl.HandlerOffset, true)
		default:
			c.entry(cl.HandlerOffset, false)
		}
	}
	c.catcher = c.fn.NewLabel()
	c.fn.SetCatcher(c.catcher)
	c.exc = c.fn.NewValue(jit.TypeRef)
	c.excPC = c.fn.NewValue(jit.TypeInt)
	c.filter = c.fn.NewValue(jit.TypeInt)
}

// entry 处理块入口标签：catch 和 filter 入口栈上是异常对象
func (c *Coder) entry(off uint32, withException bool) {
	l := c.labels.Get(off)
	if l.HasSaved() {
		return
	}
	c.scratch.Reset()
	if withException {
		_ = c.scratch.Push(c.fn.NewValue(jit.TypeRef))
	}
	if _, err := l.SaveAt(c.scratch); err != nil {
		c.fail(diag.J0005, err, "%v", err)
	}
	l.Native = c.fn.NewLabel()
}

// Finish 生成异常分派代码并编译
func (c *Coder) Finish() error {
	if c.err != nil {
		return c.err
	}
	c.in = nil
	if c.catcher != nil {
		c.dispatch()
	}
	if err := c.fn.Compile(); err != nil {
		c.fail(diag.J0005, err, "%v", err)
		return c.err
	}
	c.log.Debug("method compiled",
		zap.String("method", c.method.FullName()),
		zap.Int("insns", len(c.fn.Insns())),
		zap.Int("labels", c.labels.Len()))
	return nil
}

// Instruction 之后发射的指令属于 in
func (c *Coder) Instruction(in *cil.Instr) {
	c.in = in
	c.fn.SetOffset(int(in.Offset))
	if c.opts.Debug {
		c.fn.InsnMarkOffset(int(in.Offset))
	}
}

// Refresh 不可达指令从空栈开始
func (c *Coder) Refresh() {
	c.stack.Reset()
}

// ============================================================================
// 标签
// ============================================================================

// Label 到达分支目标：顺序执行时先把栈写入标签的临时变量，然后栈换成这些临时变量
func (c *Coder) Label(addr uint32, fallthru bool) {
	l := c.labels.Get(addr)
	if fallthru {
		c.spill(l)
	} else if !l.HasSaved() {
		// 只被后向分支引用
		c.stack.Reset()
		c.save(l)
	}
	if c.err != nil {
		return
	}
	c.fn.PlaceLabel(c.native(l))
	if err := l.RestoreAt(c.stack); err != nil {
		c.fail(diag.J0005, err, "%v", err)
	}
}

func (c *Coder) native(l *stack.Label[*jit.Value]) *jit.Label {
	if l.Native == nil {
		l.Native = c.fn.NewLabel()
	}
	return l.Native.(*jit.Label)
}

// save 第一次到达：为当前栈的每一项创建临时变量
func (c *Coder) save(l *stack.Label[*jit.Value]) {
	c.scratch.Reset()
	for _, v := range c.stack.Items() {
		_ = c.scratch.Push(c.fn.NewValue(v.Type()))
	}
	if _, err := l.SaveAt(c.scratch); err != nil {
		c.fail(diag.J0005, err, "%v", err)
	}
}

// spill 把当前栈写入标签的临时变量
func (c *Coder) spill(l *stack.Label[*jit.Value]) {
	if !l.HasSaved() {
		c.save(l)
	}
	// 栈上的值若是本标签另一位置的临时变量，先复制出来，避免写入时互相覆盖
	for i, v := range c.stack.Items() {
		if j := indexOf(l.Saved, v); j >= 0 && j != i {
			c.detach(l)
			break
		}
	}
	err := l.MergeAt(c.stack, func(i int, temp, v *jit.Value) error {
		if temp != v {
			c.fn.InsnStore(temp, v)
		}
		return nil
	})
	if errors.Is(err, stack.ErrDepthMismatch) {
		c.log.Error("coder stack desynchronised",
			zap.String("method", c.method.FullName()),
			zap.Uint32("label", l.Addr),
			zap.Int("saved", len(l.Saved)),
			zap.Int("depth", c.stack.Len()))
		c.fail(diag.J0001, ErrStackDesync, "%v", err)
		return
	}
	if err != nil {
		c.fail(diag.J0005, err, "%v", err)
	}
}

// detach 栈上属于标签临时变量的项换成副本
func (c *Coder) detach(l *stack.Label[*jit.Value]) {
	for i, v := range c.stack.Items() {
		if indexOf(l.Saved, v) >= 0 {
			c.stack.Set(i, c.fn.InsnDup(v))
		}
	}
}

// protect 即将写入标签临时变量时，操作数若是其中之一则取副本
func (c *Coder) protect(l *stack.Label[*jit.Value], v *jit.Value) *jit.Value {
	if indexOf(l.Saved, v) >= 0 {
		return c.fn.InsnDup(v)
	}
	return v
}

func indexOf(vs []*jit.Value, v *jit.Value) int {
	for i, x := range vs {
		if x == v {
			return i
		}
	}
	return -1
}

// ============================================================================
// 栈
// ============================================================================

func (c *Coder) push(v *jit.Value) {
	_ = c.stack.Push(v)
}

// pushWide 压栈前扩展为栈上的规范原生类型
func (c *Coder) pushWide(v *jit.Value) {
	if t := types.StackNativeOf(v.Type()); t != v.Type() {
		v = c.fn.InsnConvert(v, t, false)
	}
	c.push(v)
}

func (c *Coder) pop1() *jit.Value {
	v, err := c.stack.Pop1()
	if err != nil {
		c.fail(diag.J0001, err, "native stack underflow")
		return c.fn.NewValue(jit.TypeInt)
	}
	return v
}

func (c *Coder) pop(n int) []*jit.Value {
	vs, err := c.stack.Pop(n)
	if err != nil {
		c.fail(diag.J0001, err, "native stack underflow")
		vs = make([]*jit.Value, n)
		for i := range vs {
			vs[i] = c.fn.NewValue(jit.TypeInt)
		}
	}
	return vs
}

// ============================================================================
// 类型与运行时辅助
// ============================================================================

// nativeType 声明类型的原生类型，失败时记录错误并返回 int
func (c *Coder) nativeType(t *meta.Type) *jit.Type {
	nt, err := c.rt.Layouts.NativeType(t)
	if err != nil {
		c.fail(diag.J0003, err, "%s: %v", t, err)
		return jit.TypeInt
	}
	return nt
}

func (c *Coder) layout(cl *meta.Class) *layout.ClassLayout {
	l, err := c.rt.Layouts.Layout(cl)
	if err != nil {
		c.fail(diag.J0003, err, "layout of %s: %v", cl.FullName(), err)
		return nil
	}
	return l
}

func (c *Coder) constInt(v int64) *jit.Value { return c.fn.ConstInt(jit.TypeInt, v) }

// raise 抛出系统异常
func (c *Coder) raise(k runtime.ExceptionKind) {
	c.fn.InsnCallNative(c.h.Raise, []*jit.Value{c.thread, c.constInt(int64(k))})
}

// require ok 非零时继续，否则抛出 k
func (c *Coder) require(ok *jit.Value, k runtime.ExceptionKind) {
	pass := c.fn.NewLabel()
	c.fn.InsnBranchIf(ok, pass)
	c.raise(k)
	c.fn.PlaceLabel(pass)
}

// nullCheck 对象引用为 null 时抛出 NullReferenceException
func (c *Coder) nullCheck(obj *jit.Value) {
	if obj.IsConstant() && obj.Constant().Ref != nil {
		return
	}
	c.require(obj, runtime.ExcNullReference)
}

// classInit 访问其它类的静态成员前触发类型初始化
func (c *Coder) classInit(cl *meta.Class) {
	if cl == c.method.Owner || cl.StaticConstructor() == nil {
		return
	}
	c.fn.InsnCallNative(c.h.ClassInit, []*jit.Value{c.thread, c.fn.ConstRef(cl)})
}

// zero 类型 nt 的零值常量；结构体返回 nil
func (c *Coder) zero(nt *jit.Type) *jit.Value {
	switch {
	case nt.IsStruct():
		return nil
	case nt.Kind() == jit.KindRef:
		return c.fn.ConstRef(nil)
	case nt.Kind() == jit.KindPtr:
		return c.fn.ConstNullPtr()
	case nt.IsFloat():
		return c.fn.ConstFloat(nt, 0)
	}
	return c.fn.ConstInt(nt, 0)
}

// clear 把地址处类型 nt 的值清零
func (c *Coder) clear(addr *jit.Value, nt *jit.Type) {
	if z := c.zero(nt); z != nil {
		c.fn.InsnStoreRelative(addr, 0, z)
		return
	}
	c.fn.InsnMemset(addr, c.fn.ConstInt(jit.TypeUByte, 0), c.fn.ConstInt(jit.TypeNInt, int64(nt.Size())))
}
