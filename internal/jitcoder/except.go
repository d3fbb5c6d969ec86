package jitcoder

import (
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/runtime"
	"github.com/tangzhangming/ilengine/internal/verify"
)

// ============================================================================
// 异常
// ============================================================================

func (c *Coder) Throw() {
	c.fn.InsnThrow(c.pop1())
	c.stack.Reset()
}

// Rethrow 重新抛出所在 catch 块入口处保存的异常对象
func (c *Coder) Rethrow() {
	defer c.stack.Reset()
	if c.regions != nil && c.in != nil {
		for _, r := range c.regions.Enclosing(c.in.Offset, verify.RegionHandler) {
			if r.Clause.Kind != meta.ClauseCatch && r.Clause.Kind != meta.ClauseFilter {
				continue
			}
			l := c.labels.Get(r.Clause.HandlerOffset)
			c.fn.InsnThrow(l.Saved[0])
			return
		}
	}
	c.raise(runtime.ExcInvalidProgram)
	c.fn.InsnRethrowUnhandled()
}

// Leave 由内向外执行被跳出的 try 块的 finally，然后跳转
func (c *Coder) Leave(target uint32) {
	c.stack.Reset()
	if c.regions != nil && c.in != nil {
		for _, r := range c.regions.Enclosing(c.in.Offset, verify.RegionTry) {
			if r.Contains(target) || r.Clause.Kind != meta.ClauseFinally {
				continue
			}
			c.fn.InsnCallFinally(c.native(c.labels.Get(r.Clause.HandlerOffset)))
		}
	}
	l := c.labels.Get(target)
	c.spill(l)
	c.fn.InsnBranch(c.native(l))
}

func (c *Coder) EndFinally() {
	c.fn.InsnReturnFromFinally()
	c.stack.Reset()
}

// EndFilter 过滤结果留给分派代码判断
func (c *Coder) EndFilter() {
	c.fn.InsnStore(c.filter, c.pop1())
	c.fn.InsnReturnFromFinally()
	c.stack.Reset()
}

// ============================================================================
// 分派
// ============================================================================

// dispatch 生成函数的异常分派入口
//
// 按子句顺序（由内向外）检查抛出点所在的 try 块：catch 比较异常类型，
// filter 以子程序方式执行过滤块，finally 和 fault 就地执行后继续查找。
// 过滤块内再次抛出视为过滤失败。没有子句处理时把异常交给调用者。
func (c *Coder) dispatch() {
	f := c.fn
	f.SetOffset(-1)
	f.PlaceLabel(c.catcher)

	clauses := c.regions.Clauses()
	next := make([]*jit.Label, len(clauses))
	for i := range next {
		next[i] = f.NewLabel()
	}
	unhandled := f.NewLabel()

	pc := f.InsnThrowPC()
	f.InsnBranchIf(f.InsnEq(pc, c.constInt(-1)), unhandled)
	for i, cl := range clauses {
		if cl.Kind != meta.ClauseFilter {
			continue
		}
		in := f.InsnAnd(
			f.InsnGeUn(pc, c.constInt(int64(cl.FilterOffset))),
			f.InsnLtUn(pc, c.constInt(int64(cl.HandlerOffset))))
		f.InsnBranchIf(in, next[i])
	}
	f.InsnStore(c.exc, f.InsnThrown())
	f.InsnStore(c.excPC, pc)

	for i, cl := range clauses {
		covered := f.InsnAnd(
			f.InsnGeUn(c.excPC, c.constInt(int64(cl.TryOffset))),
			f.InsnLtUn(c.excPC, c.constInt(int64(cl.TryEnd()))))
		f.InsnBranchIfNot(covered, next[i])

		handler := c.labels.Get(cl.HandlerOffset)
		switch cl.Kind {
		case meta.ClauseCatch:
			t := meta.Object
			if cl.CatchType != nil {
				t = cl.CatchType.Type()
			}
			hit := f.InsnCallNative(c.h.IsInst, []*jit.Value{c.thread, c.exc, f.ConstRef(t)})
			f.InsnBranchIfNot(hit, next[i])
			f.InsnStore(handler.Saved[0], c.exc)
			f.InsnBranch(c.native(handler))

		case meta.ClauseFilter:
			fl := c.labels.Get(cl.FilterOffset)
			f.InsnStore(fl.Saved[0], c.exc)
			f.InsnStore(c.filter, c.constInt(0))
			f.InsnCallFinally(c.native(fl))
			f.InsnBranchIfNot(c.filter, next[i])
			f.InsnStore(handler.Saved[0], c.exc)
			f.InsnBranch(c.native(handler))

		default:
			f.InsnCallFinally(c.native(handler))
		}
		f.PlaceLabel(next[i])
	}
	f.InsnThrow(c.exc)

	f.PlaceLabel(unhandled)
	f.InsnRethrowUnhandled()
}
