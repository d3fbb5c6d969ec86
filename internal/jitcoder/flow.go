package jitcoder

import (
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/types"
	"github.com/tangzhangming/ilengine/internal/verify"
)

// ============================================================================
// 控制流
// ============================================================================

func (c *Coder) Branch(target uint32) {
	l := c.labels.Get(target)
	c.spill(l)
	c.fn.InsnBranch(c.native(l))
}

// BranchUnary brtrue/brfalse：条件值在写入目标临时变量之前取出
func (c *Coder) BranchUnary(a types.Item, onTrue bool, target uint32) {
	v := c.pop1()
	l := c.labels.Get(target)
	if l.HasSaved() {
		v = c.protect(l, v)
	}
	c.spill(l)
	if onTrue {
		c.fn.InsnBranchIf(v, c.native(l))
	} else {
		c.fn.InsnBranchIfNot(v, c.native(l))
	}
}

func (c *Coder) BranchCompare(cond verify.Cond, a, b types.Item, target uint32) {
	vs := c.pop(2)
	r := c.compare(cond, vs[0], vs[1])
	l := c.labels.Get(target)
	c.spill(l)
	c.fn.InsnBranchIf(r, c.native(l))
}

// Switch 先把栈写入每个目标，再按下标跳转；越界时顺序执行
func (c *Coder) Switch(value types.Item, targets []uint32) {
	v := c.pop1()
	for _, t := range targets {
		if l := c.labels.Get(t); l.HasSaved() {
			v = c.protect(l, v)
		}
	}
	natives := make([]*jit.Label, len(targets))
	for i, t := range targets {
		l := c.labels.Get(t)
		c.spill(l)
		natives[i] = c.native(l)
	}
	c.fn.InsnJumpTable(v, natives)
}

func (c *Coder) Return(t *meta.Type) {
	if t.IsVoid() {
		c.fn.InsnReturn(nil)
		return
	}
	c.fn.InsnReturn(c.pop1())
}
