package verify

import (
	"github.com/tangzhangming/ilengine/internal/cil"
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/types"
)

// ============================================================================
// 异常处理
// ============================================================================

func init() {
	register(verifyThrow, cil.OpThrow)
	register(verifyRethrow, cil.OpRethrow)
	register(verifyLeave, cil.OpLeave, cil.OpLeaveS)
	register(verifyEndfinally, cil.OpEndfinally)
	register(verifyEndfilter, cil.OpEndfilter)
}

func verifyThrow(c *Context, in *cil.Instr) (bool, error) {
	v, err := c.pop1()
	if err != nil {
		return false, err
	}
	if v.Kind != types.ObjectRef {
		return false, c.mismatch(diag.V0301, "O", v.String())
	}
	c.Stack.Reset()
	c.coder.Throw()
	return false, nil
}

// innermostHandler 包含当前指令的最内层处理块
func (c *Context) innermostHandler() (Region, bool) {
	return c.Regions.Innermost(c.in.Offset, RegionHandler)
}

func verifyRethrow(c *Context, in *cil.Instr) (bool, error) {
	r, ok := c.innermostHandler()
	if !ok || r.Clause.Kind != meta.ClauseCatch && r.Clause.Kind != meta.ClauseFilter {
		return false, c.fail(diag.V0401, "rethrow outside a catch handler")
	}
	if _, inFilter := c.Regions.Innermost(in.Offset, RegionFilter); inFilter {
		return false, c.fail(diag.V0401, "rethrow inside a filter block")
	}
	c.Stack.Reset()
	c.coder.Rethrow()
	return false, nil
}

func verifyLeave(c *Context, in *cil.Instr) (bool, error) {
	if c.Regions.InHandlerOf(in.Offset, meta.ClauseFinally, meta.ClauseFault) {
		return false, c.fail(diag.V0401, "leave inside a finally or fault handler")
	}
	if _, inFilter := c.Regions.Innermost(in.Offset, RegionFilter); inFilter {
		return false, c.fail(diag.V0401, "leave inside a filter block")
	}
	if err := c.checkBranchRegions(in.Offset, in.Target, true); err != nil {
		return false, err
	}
	c.Stack.Reset()
	if err := c.merge(c.Labels.Get(in.Target)); err != nil {
		return false, err
	}
	c.coder.Leave(in.Target)
	return false, nil
}

func verifyEndfinally(c *Context, in *cil.Instr) (bool, error) {
	r, ok := c.innermostHandler()
	if !ok || r.Clause.Kind != meta.ClauseFinally && r.Clause.Kind != meta.ClauseFault {
		return false, c.fail(diag.V0401, "endfinally outside a finally or fault handler")
	}
	c.Stack.Reset()
	c.coder.EndFinally()
	return false, nil
}

func verifyEndfilter(c *Context, in *cil.Instr) (bool, error) {
	if _, ok := c.Regions.Innermost(in.Offset, RegionFilter); !ok {
		return false, c.fail(diag.V0401, "endfilter outside a filter block")
	}
	v, err := c.pop1()
	if err != nil {
		return false, err
	}
	if v.Kind != types.Int32 {
		return false, c.mismatch(diag.V0104, "int32", v.String())
	}
	if c.Stack.Len() != 0 {
		return false, c.fail(diag.V0401, "endfilter with %d extra value(s) on the stack", c.Stack.Len())
	}
	c.coder.EndFilter()
	return false, nil
}
