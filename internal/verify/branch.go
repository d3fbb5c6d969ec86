package verify

import (
	"fmt"

	"github.com/tangzhangming/ilengine/internal/cil"
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/types"
)

// ============================================================================
// 分支与返回
// ============================================================================

func init() {
	register(verifyBranch, cil.OpBr, cil.OpBrS)
	register(verifyUnaryBranch, cil.OpBrtrue, cil.OpBrtrueS, cil.OpBrfalse, cil.OpBrfalseS)
	for op := range branchConds {
		register(verifyCompareBranch, op)
	}
	register(verifySwitch, cil.OpSwitch)
	register(verifyRet, cil.OpRet)
}

var branchConds = map[cil.OpCode]Cond{
	cil.OpBeq:    CondEq,
	cil.OpBeqS:   CondEq,
	cil.OpBneUn:  CondNeUn,
	cil.OpBneUnS: CondNeUn,
	cil.OpBge:    CondGe,
	cil.OpBgeS:   CondGe,
	cil.OpBgeUn:  CondGeUn,
	cil.OpBgeUnS: CondGeUn,
	cil.OpBgt:    CondGt,
	cil.OpBgtS:   CondGt,
	cil.OpBgtUn:  CondGtUn,
	cil.OpBgtUnS: CondGtUn,
	cil.OpBle:    CondLe,
	cil.OpBleS:   CondLe,
	cil.OpBleUn:  CondLeUn,
	cil.OpBleUnS: CondLeUn,
	cil.OpBlt:    CondLt,
	cil.OpBltS:   CondLt,
	cil.OpBltUn:  CondLtUn,
	cil.OpBltUnS: CondLtUn,
}

func verifyBranch(c *Context, in *cil.Instr) (bool, error) {
	if err := c.branchTo(in.Target); err != nil {
		return false, err
	}
	c.coder.Branch(in.Target)
	return false, nil
}

func verifyUnaryBranch(c *Context, in *cil.Instr) (bool, error) {
	a, err := c.pop1()
	if err != nil {
		return false, err
	}
	if !types.UnaryBranch(a.Kind) {
		return false, c.mismatch(diag.V0104, "integer, F, O or pointer", a.String())
	}
	if err := c.branchTo(in.Target); err != nil {
		return false, err
	}
	onTrue := in.Op == cil.OpBrtrue || in.Op == cil.OpBrtrueS
	c.coder.BranchUnary(a, onTrue, in.Target)
	return true, nil
}

func verifyCompareBranch(c *Context, in *cil.Instr) (bool, error) {
	ops, err := c.pop(2)
	if err != nil {
		return false, err
	}
	cond := branchConds[in.Op]
	if err := c.checkComparable(cond, ops[0], ops[1]); err != nil {
		return false, err
	}
	if err := c.branchTo(in.Target); err != nil {
		return false, err
	}
	c.coder.BranchCompare(cond, ops[0], ops[1], in.Target)
	return true, nil
}

func verifySwitch(c *Context, in *cil.Instr) (bool, error) {
	v, err := c.pop1()
	if err != nil {
		return false, err
	}
	if v.Kind != types.Int32 && v.Kind != types.NativeInt {
		return false, c.mismatch(diag.V0104, "int32", v.String())
	}
	for _, t := range in.Targets {
		if err := c.branchTo(t); err != nil {
			return false, err
		}
	}
	c.coder.Switch(v, in.Targets)
	return true, nil
}

func verifyRet(c *Context, in *cil.Instr) (bool, error) {
	if path := c.Regions.Path(in.Offset); len(path) > 0 {
		r := path[len(path)-1]
		return false, c.fail(diag.V0401, "ret inside %s region of clause %d", r.Kind, r.Index)
	}
	ret := c.Method.Sig.Return
	if ret.IsVoid() {
		if c.Stack.Len() != 0 {
			return false, c.mismatch(diag.V0303, "empty stack", fmt.Sprintf("%d value(s)", c.Stack.Len()))
		}
		c.coder.Return(nil)
		return false, nil
	}
	if c.Stack.Len() != 1 {
		return false, c.mismatch(diag.V0303, ret.String(), fmt.Sprintf("%d value(s)", c.Stack.Len()))
	}
	v, _ := c.pop1()
	if !c.assignable(v, ret) {
		return false, c.mismatch(diag.V0303, ret.String(), v.String())
	}
	c.coder.Return(ret)
	return false, nil
}
