package verify

import (
	"github.com/tangzhangming/ilengine/internal/cil"
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/types"
)

// ============================================================================
// 参数与局部变量
// ============================================================================

func init() {
	register(verifyLoadArg, cil.OpLdarg0, cil.OpLdarg1, cil.OpLdarg2, cil.OpLdarg3, cil.OpLdargS, cil.OpLdarg)
	register(verifyStoreArg, cil.OpStargS, cil.OpStarg)
	register(verifyArgAddr, cil.OpLdargaS, cil.OpLdarga)
	register(verifyLoadLocal, cil.OpLdloc0, cil.OpLdloc1, cil.OpLdloc2, cil.OpLdloc3, cil.OpLdlocS, cil.OpLdloc)
	register(verifyStoreLocal, cil.OpStloc0, cil.OpStloc1, cil.OpStloc2, cil.OpStloc3, cil.OpStlocS, cil.OpStloc)
	register(verifyLocalAddr, cil.OpLdlocaS, cil.OpLdloca)
}

// varIndex 变量索引，短形式编码在操作码中
func varIndex(in *cil.Instr) int {
	switch in.Op {
	case cil.OpLdarg0, cil.OpLdarg1, cil.OpLdarg2, cil.OpLdarg3:
		return int(in.Op - cil.OpLdarg0)
	case cil.OpLdloc0, cil.OpLdloc1, cil.OpLdloc2, cil.OpLdloc3:
		return int(in.Op - cil.OpLdloc0)
	case cil.OpStloc0, cil.OpStloc1, cil.OpStloc2, cil.OpStloc3:
		return int(in.Op - cil.OpStloc0)
	}
	return int(in.Int)
}

func (c *Context) arg(in *cil.Instr) (int, *meta.Type, error) {
	n := varIndex(in)
	if n >= len(c.Args) {
		return n, nil, c.fail(diag.V0201, "argument %d out of range (%d)", n, len(c.Args))
	}
	return n, c.Args[n], nil
}

func (c *Context) local(in *cil.Instr) (int, *meta.Type, error) {
	n := varIndex(in)
	if n >= len(c.Locals) {
		return n, nil, c.fail(diag.V0200, "local %d out of range (%d)", n, len(c.Locals))
	}
	return n, c.Locals[n], nil
}

// store 出栈并检查能否存入声明类型为 t 的槽
func (c *Context) store(t *meta.Type) (types.Item, error) {
	v, err := c.pop1()
	if err != nil {
		return v, err
	}
	if !c.assignable(v, t) {
		return v, c.mismatch(diag.V0202, t.String(), v.String())
	}
	return v, nil
}

func verifyLoadArg(c *Context, in *cil.Instr) (bool, error) {
	n, t, err := c.arg(in)
	if err != nil {
		return false, err
	}
	c.coder.LoadArg(n, t)
	return true, c.push(types.ItemFor(t))
}

func verifyStoreArg(c *Context, in *cil.Instr) (bool, error) {
	n, t, err := c.arg(in)
	if err != nil {
		return false, err
	}
	if _, err := c.store(t); err != nil {
		return false, err
	}
	c.coder.StoreArg(n, t)
	return true, nil
}

func verifyArgAddr(c *Context, in *cil.Instr) (bool, error) {
	n, t, err := c.arg(in)
	if err != nil {
		return false, err
	}
	c.coder.LoadArgAddr(n, t)
	return true, c.push(types.Of(types.ManagedPtr, t))
}

func verifyLoadLocal(c *Context, in *cil.Instr) (bool, error) {
	n, t, err := c.local(in)
	if err != nil {
		return false, err
	}
	c.coder.LoadLocal(n, t)
	return true, c.push(types.ItemFor(t))
}

func verifyStoreLocal(c *Context, in *cil.Instr) (bool, error) {
	n, t, err := c.local(in)
	if err != nil {
		return false, err
	}
	if _, err := c.store(t); err != nil {
		return false, err
	}
	c.coder.StoreLocal(n, t)
	return true, nil
}

func verifyLocalAddr(c *Context, in *cil.Instr) (bool, error) {
	n, t, err := c.local(in)
	if err != nil {
		return false, err
	}
	c.coder.LoadLocalAddr(n, t)
	return true, c.push(types.Of(types.ManagedPtr, t))
}
