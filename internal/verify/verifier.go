// Package verify 实现 CIL 字节码验证器
//
// 验证器线性扫描方法体，在每条指令上检查操作数类型并维护评估栈，
// 同时驱动 Coder 回调生成代码。任何验证错误都会终止该方法。
package verify

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tangzhangming/ilengine/internal/cil"
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/stack"
	"github.com/tangzhangming/ilengine/internal/types"
)

// Options 验证选项
type Options struct {
	Unsafe   bool           // 允许指针运算、指针与整数互转
	Trusted  bool           // 可信代码，隐含 Unsafe
	PtrSize  int            // 目标字宽，0 表示当前平台
	Logger   *zap.Logger    // 为 nil 时不输出日志
	Reporter *diag.Reporter // 接收警告，可为 nil
}

// UnsafeAllowed 是否启用 unsafe 规则
func (o Options) UnsafeAllowed() bool { return o.Unsafe || o.Trusted }

// ============================================================================
// 方法验证上下文
// ============================================================================

// Context 单个方法的验证状态，验证结束后丢弃
type Context struct {
	Method  *meta.Method
	Body    *meta.MethodBody
	Module  *meta.Module
	Args    []*meta.Type // 含隐式 this
	Locals  []*meta.Type
	Stack   *stack.Stack[types.Item]
	Labels  *stack.Arena[types.Item]
	Regions *RegionIndex

	opts   Options
	unsafe bool
	coder  Coder
	log    *zap.Logger

	instrs  []cil.Instr
	index   []int32 // 偏移 -> 指令下标，非指令起点为 -1
	targets []bool  // 偏移是否为分支目标或处理块入口

	in          *cil.Instr // 当前指令
	constrained *meta.Type // constrained. 前缀
}

// Verify 验证方法并驱动代码生成器
// coder 为 nil 时只做验证
func Verify(m *meta.Method, coder Coder, opts Options) error {
	if coder == nil {
		coder = NullCoder{}
	}
	ctx, err := newContext(m, coder, opts)
	if err != nil {
		return ctx.report(err)
	}
	if err := ctx.scan(); err != nil {
		return ctx.report(err)
	}
	coder.Setup(m, ctx.Body, ctx.Regions)
	if err := coder.Err(); err != nil {
		return err
	}
	if err := ctx.run(); err != nil {
		return ctx.report(err)
	}
	if err := coder.Finish(); err != nil {
		return err
	}
	ctx.log.Debug("method verified",
		zap.String("method", m.FullName()),
		zap.Int("instructions", len(ctx.instrs)),
		zap.Int("labels", ctx.Labels.Len()))
	return nil
}

func newContext(m *meta.Method, coder Coder, opts Options) (*Context, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx := &Context{
		Method: m,
		Body:   m.Body,
		opts:   opts,
		unsafe: opts.UnsafeAllowed(),
		coder:  coder,
		log:    log,
	}
	if m.Owner != nil {
		ctx.Module = m.Owner.Module
	}
	if m.Body == nil {
		return ctx, errorf(diag.V0001, "method %s has no IL body", m.FullName())
	}
	if m.Sig.HasThis {
		ctx.Args = append(ctx.Args, m.ThisType())
	}
	ctx.Args = append(ctx.Args, m.Sig.Params...)
	ctx.Locals = m.Body.Locals
	ctx.Stack = stack.New[types.Item](int(m.Body.MaxStack))
	ctx.Labels = stack.NewArena[types.Item]()
	return ctx, nil
}

// report 补全错误的方法信息并记录日志
func (c *Context) report(err error) error {
	var ve *Error
	if !errors.As(err, &ve) {
		return err
	}
	if ve.Method == "" {
		ve.Method = c.Method.FullName()
		ve.Token = c.Method.Token
	}
	c.log.Warn("verification failed",
		zap.String("method", ve.Method),
		zap.Int("offset", ve.Offset),
		zap.String("opcode", ve.Opcode),
		zap.String("expected", ve.Expected),
		zap.String("actual", ve.Actual),
		zap.String("code", ve.Code),
		zap.String("message", ve.Message))
	return ve
}

// fail 当前指令的验证错误
func (c *Context) fail(code string, format string, args ...interface{}) *Error {
	e := errorf(code, format, args...)
	if c.in != nil {
		e.Offset = int(c.in.Offset)
		e.Opcode = c.in.Op.String()
	}
	return e
}

// mismatch 带期望类型和实际类型的验证错误
func (c *Context) mismatch(code, expected, actual string) *Error {
	e := c.fail(code, "")
	e.Message = ""
	e.Expected = expected
	e.Actual = actual
	return e
}

// warn 记录警告
func (c *Context) warn(code string, format string, args ...interface{}) {
	if c.opts.Reporter == nil {
		return
	}
	d := c.fail(code, format, args...).Diagnostic()
	d.Level = diag.LevelWarning
	d.Method = c.Method.FullName()
	d.Token = uint32(c.Method.Token)
	c.opts.Reporter.Report(d)
}

// ============================================================================
// 第一遍：解码、指令边界、分支目标、异常区域
// ============================================================================

func (c *Context) scan() error {
	code := c.Body.Code
	if len(code) == 0 {
		return errorf(diag.V0007, "empty method body")
	}
	c.index = make([]int32, len(code))
	for i := range c.index {
		c.index[i] = -1
	}
	c.targets = make([]bool, len(code))

	err := cil.Walk(code, func(in *cil.Instr) error {
		c.index[in.Offset] = int32(len(c.instrs))
		c.instrs = append(c.instrs, *in)
		return nil
	})
	if err != nil {
		return &Error{Code: diag.V0001, Offset: -1, Message: err.Error(), Err: err}
	}

	for i := range c.instrs {
		in := &c.instrs[i]
		switch in.Info().Operand {
		case cil.OperandShortBranch, cil.OperandBranch:
			if err := c.markTarget(in, in.Target); err != nil {
				return err
			}
		case cil.OperandSwitch:
			for _, t := range in.Targets {
				if err := c.markTarget(in, t); err != nil {
					return err
				}
			}
		}
	}
	return c.scanRegions()
}

// isStart 偏移是否为指令起点
func (c *Context) isStart(off uint32) bool {
	return off < uint32(len(c.index)) && c.index[off] >= 0
}

// isBoundary 偏移是否为指令起点或方法体末尾
func (c *Context) isBoundary(off uint32) bool {
	return off == uint32(len(c.index)) || c.isStart(off)
}

func (c *Context) markTarget(in *cil.Instr, target uint32) error {
	if !c.isStart(target) {
		e := errorf(diag.V0002, "branch target IL_%04X is not an instruction boundary", target)
		e.Offset = int(in.Offset)
		e.Opcode = in.Op.String()
		return e
	}
	c.targets[target] = true
	c.Labels.Get(target)
	return nil
}

func (c *Context) scanRegions() error {
	clauses := c.Body.Clauses
	for i, cl := range clauses {
		if cl.TryLength == 0 || cl.HandlerLength == 0 {
			return errorf(diag.V0400, "clause %d: empty range", i)
		}
		if !c.isStart(cl.TryOffset) || !c.isBoundary(cl.TryEnd()) ||
			!c.isStart(cl.HandlerOffset) || !c.isBoundary(cl.HandlerEnd()) {
			return errorf(diag.V0400, "clause %d: range not on instruction boundaries", i)
		}
		if cl.TryOffset < cl.HandlerEnd() && cl.HandlerOffset < cl.TryEnd() {
			return errorf(diag.V0400, "clause %d: handler overlaps its try block", i)
		}
		switch cl.Kind {
		case meta.ClauseCatch:
			if cl.CatchType == nil {
				return errorf(diag.V0400, "clause %d: catch without a type", i)
			}
		case meta.ClauseFilter:
			if !c.isStart(cl.FilterOffset) || cl.FilterOffset >= cl.HandlerOffset {
				return errorf(diag.V0400, "clause %d: bad filter block", i)
			}
			if cl.FilterOffset < cl.TryEnd() && cl.TryOffset < cl.HandlerOffset {
				return errorf(diag.V0400, "clause %d: filter overlaps its try block", i)
			}
		}
	}
	c.Regions = NewRegionIndex(clauses)

	// 区域之间要么不相交，要么嵌套
	all := c.Regions.All()
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			if b.Start >= a.End {
				break
			}
			if b.End > a.End {
				return errorf(diag.V0400, "%s region of clause %d partially overlaps %s region of clause %d",
					a.Kind, a.Index, b.Kind, b.Index)
			}
		}
	}

	// 处理块入口的栈形状
	tmp := stack.New[types.Item](-1)
	for _, cl := range clauses {
		var entry []types.Item
		switch cl.Kind {
		case meta.ClauseCatch:
			entry = []types.Item{types.Of(types.ObjectRef, cl.CatchType.Type())}
		case meta.ClauseFilter:
			entry = []types.Item{types.Of(types.ObjectRef, meta.Object)}
		}
		tmp.Replace(entry)
		if err := c.presave(cl.HandlerOffset, tmp); err != nil {
			return err
		}
		if cl.Kind == meta.ClauseFilter {
			if err := c.presave(cl.FilterOffset, tmp); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Context) presave(off uint32, s *stack.Stack[types.Item]) error {
	c.targets[off] = true
	l := c.Labels.Get(off)
	if l.HasSaved() {
		// 多个子句共用一个处理块
		if len(l.Saved) != s.Len() || len(l.Saved) == 1 && !l.Saved[0].Same(s.At(0)) {
			return errorf(diag.V0400, "handler at IL_%04X shared by incompatible clauses", off)
		}
		return nil
	}
	_, err := l.SaveAt(s)
	return err
}

// ============================================================================
// 第二遍：线性状态机
// ============================================================================

func (c *Context) run() error {
	fallthru := false
	var prev *cil.Instr
	for i := range c.instrs {
		in := &c.instrs[i]
		c.in = in
		off := in.Offset

		if fallthru && prev != nil {
			if err := c.checkFallthrough(prev, off); err != nil {
				return err
			}
		}
		if c.targets[off] {
			if err := c.arrive(off, fallthru); err != nil {
				return err
			}
		} else if !fallthru {
			// 无条件跳转之后没有记录状态的指令：按空栈处理
			c.Stack.Reset()
			c.coder.Refresh()
		}
		for _, r := range c.Regions.StartsAt(off) {
			if r.Kind == RegionTry && c.Stack.Len() != 0 {
				return c.fail(diag.V0402, "%d value(s) on the stack at try entry", c.Stack.Len())
			}
		}

		c.coder.Instruction(in)
		next, err := c.step(in)
		if err != nil {
			return err
		}
		if err := c.coder.Err(); err != nil {
			return err
		}
		if in.Info().Flow != cil.FlowMeta {
			c.constrained = nil
		}
		fallthru = next
		prev = in
	}
	if fallthru {
		return c.fail(diag.V0007, "control falls through the last instruction")
	}
	return nil
}

// arrive 到达标签：顺序执行时合并，否则恢复记录的状态
func (c *Context) arrive(off uint32, fallthru bool) error {
	l := c.Labels.Get(off)
	if fallthru {
		if err := c.merge(l); err != nil {
			return err
		}
	} else if !l.HasSaved() {
		// 只被后向分支引用的标签从空栈开始
		c.Stack.Reset()
		if _, err := l.SaveAt(c.Stack); err != nil {
			return err
		}
	}
	if err := l.RestoreAt(c.Stack); err != nil {
		return err
	}
	if err := l.Resolve(); err != nil {
		return c.fail(diag.V0002, "%v", err)
	}
	c.coder.Label(off, fallthru)
	return nil
}

// merge 将当前栈合并到标签；合并点的值不再是常量
func (c *Context) merge(l *stack.Label[types.Item]) error {
	first := !l.HasSaved()
	err := l.MergeAt(c.Stack, func(i int, saved, incoming types.Item) error {
		if !saved.Same(incoming) {
			e := c.mismatch(diag.V0005, saved.String(), incoming.String())
			e.Message = fmt.Sprintf("stack slot %d differs at IL_%04X", i, l.Addr)
			return e
		}
		return nil
	})
	if errors.Is(err, stack.ErrDepthMismatch) {
		e := c.mismatch(diag.V0006, fmt.Sprint(len(l.Saved)), fmt.Sprint(c.Stack.Len()))
		e.Message = fmt.Sprintf("stack sizes don't match at IL_%04X", l.Addr)
		e.Err = err
		return e
	}
	if err != nil {
		return err
	}
	if first {
		for i := range l.Saved {
			l.Saved[i].Const = false
			l.Saved[i].Value = 0
		}
	}
	return nil
}

// branchTo 分支到 target：检查区域规则后合并
func (c *Context) branchTo(target uint32) error {
	if err := c.checkBranchRegions(c.in.Offset, target, false); err != nil {
		return err
	}
	return c.merge(c.Labels.Get(target))
}

// checkFallthrough 顺序执行不能跨越区域边界
func (c *Context) checkFallthrough(prev *cil.Instr, off uint32) error {
	for _, r := range c.Regions.Path(prev.Offset) {
		if !r.Contains(off) {
			return c.fail(diag.V0401, "control falls out of %s region of clause %d", r.Kind, r.Index)
		}
	}
	for _, r := range c.Regions.StartsAt(off) {
		if r.Kind != RegionTry {
			return c.fail(diag.V0401, "control falls into %s region of clause %d", r.Kind, r.Index)
		}
	}
	return nil
}

// checkBranchRegions 分支不能进入区域（try 起点除外），普通分支不能离开区域
func (c *Context) checkBranchRegions(src, target uint32, leave bool) error {
	for _, r := range c.Regions.Path(target) {
		if r.Contains(src) {
			continue
		}
		if r.Kind == RegionTry && r.Start == target {
			continue
		}
		return c.fail(diag.V0401, "branch into %s region of clause %d", r.Kind, r.Index)
	}
	for _, r := range c.Regions.Path(src) {
		if r.Contains(target) {
			continue
		}
		if !leave {
			return c.fail(diag.V0401, "branch out of %s region of clause %d requires leave", r.Kind, r.Index)
		}
		if r.Kind == RegionFilter {
			return c.fail(diag.V0401, "leave out of a filter block")
		}
	}
	return nil
}

// ============================================================================
// 栈操作
// ============================================================================

func (c *Context) push(it types.Item) error {
	if err := c.Stack.Push(it); err != nil {
		return c.fail(diag.V0004, "stack overflow (max %d)", c.Stack.Max())
	}
	return nil
}

func (c *Context) pop(n int) ([]types.Item, error) {
	items, err := c.Stack.Pop(n)
	if err != nil {
		return nil, c.fail(diag.V0003, "needs %d value(s), stack has %d", n, c.Stack.Len())
	}
	return items, nil
}

func (c *Context) pop1() (types.Item, error) {
	it, err := c.Stack.Pop1()
	if err != nil {
		return it, c.fail(diag.V0003, "stack is empty")
	}
	return it, nil
}

// ============================================================================
// 指令分派
// ============================================================================

// step 验证一条指令，返回是否顺序执行到下一条
func (c *Context) step(in *cil.Instr) (bool, error) {
	op := in.Op
	switch op {
	case cil.OpNop, cil.OpBreak:
		return true, nil

	case cil.OpUnaligned, cil.OpVolatile, cil.OpTail, cil.OpReadonly, cil.OpNo:
		return true, nil
	case cil.OpConstrained:
		t, err := c.resolveType(in.Token)
		if err != nil {
			return false, err
		}
		c.constrained = t
		return true, nil

	case cil.OpJmp, cil.OpCalli, cil.OpLdtoken, cil.OpMkrefany, cil.OpRefanyval, cil.OpRefanytype, cil.OpArglist:
		return false, c.fail(diag.V0500, "%s is not supported", op)
	}

	if fn, ok := families[op]; ok {
		return fn(c, in)
	}
	return false, c.fail(diag.V0500, "%s is not supported", op)
}

// family 一类指令的验证函数
type family func(c *Context, in *cil.Instr) (bool, error)

var families = map[cil.OpCode]family{}

func register(fn family, ops ...cil.OpCode) {
	for _, op := range ops {
		families[op] = fn
	}
}

// ============================================================================
// 元数据解析
// ============================================================================

func (c *Context) module() (*meta.Module, error) {
	if c.Module == nil {
		return nil, c.fail(diag.V0300, "method has no owning module")
	}
	return c.Module, nil
}

func (c *Context) resolveType(tok meta.Token) (*meta.Type, error) {
	mod, err := c.module()
	if err != nil {
		return nil, err
	}
	t, err := mod.ResolveType(tok)
	if err != nil {
		e := c.fail(diag.V0300, "%v", err)
		e.Err = err
		return nil, e
	}
	return t, nil
}

func (c *Context) resolveMethod(tok meta.Token) (*meta.Method, error) {
	mod, err := c.module()
	if err != nil {
		return nil, err
	}
	m, err := mod.ResolveMethod(tok)
	if err != nil {
		e := c.fail(diag.V0300, "%v", err)
		e.Err = err
		return nil, e
	}
	return m, nil
}

func (c *Context) resolveField(tok meta.Token) (*meta.Field, error) {
	mod, err := c.module()
	if err != nil {
		return nil, err
	}
	f, err := mod.ResolveField(tok)
	if err != nil {
		e := c.fail(diag.V0300, "%v", err)
		e.Err = err
		return nil, e
	}
	return f, nil
}

// assignable 当前模式下的赋值检查
func (c *Context) assignable(it types.Item, t *meta.Type) bool {
	return types.Assignable(it, t, c.unsafe)
}
