package verify

import (
	"fmt"

	"github.com/tangzhangming/ilengine/internal/cil"
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/types"
)

// ============================================================================
// 调用
// ============================================================================

func init() {
	register(verifyCall, cil.OpCall, cil.OpCallvirt)
	register(verifyLoadFunction, cil.OpLdftn, cil.OpLdvirtftn)
}

// popArgs 按签名出栈并检查参数
func (c *Context) popArgs(params []*meta.Type) error {
	if len(params) == 0 {
		return nil
	}
	args, err := c.pop(len(params))
	if err != nil {
		return err
	}
	for i, p := range params {
		if !c.assignable(args[i], p) {
			e := c.mismatch(diag.V0302, p.String(), args[i].String())
			e.Message = fmt.Sprintf("argument %d", i)
			return e
		}
	}
	return nil
}

// checkThis 检查实例方法的 this 操作数
func (c *Context) checkThis(this types.Item, m *meta.Method) error {
	owner := m.Owner
	switch this.Kind {
	case types.ObjectRef:
		if this.Type == nil {
			return nil
		}
		if owner.IsValueType() {
			// 装箱值类型调用从 Object/ValueType 继承的方法
			if c.unsafe {
				return nil
			}
			break
		}
		if c.assignable(this, owner.Type()) {
			return nil
		}
	case types.ManagedPtr:
		if this.Type == nil || c.unsafe {
			return nil
		}
		if owner.IsValueType() && this.Type.Kind == meta.ElemValueType && this.Type.Class == owner {
			return nil
		}
		if owner.IsPrimitive() && this.Type.Equal(owner.Type()) {
			return nil
		}
	case types.TransientPtr, types.NativeInt:
		if c.unsafe {
			return nil
		}
		return c.mismatch(diag.V0103, m.ThisType().String(), this.String())
	}
	e := c.mismatch(diag.V0302, m.ThisType().String(), this.String())
	e.Message = "this"
	return e
}

func verifyCall(c *Context, in *cil.Instr) (bool, error) {
	m, err := c.resolveMethod(in.Token)
	if err != nil {
		return false, err
	}
	virt := in.Op == cil.OpCallvirt
	if virt && m.IsStatic() {
		return false, c.mismatch(diag.V0301, "instance method", m.FullName())
	}
	if !virt && m.IsAbstract() {
		return false, c.fail(diag.V0301, "call to abstract method %s", m.FullName())
	}
	if m.IsConstructor() && virt {
		return false, c.fail(diag.V0301, "callvirt to constructor %s", m.FullName())
	}

	if err := c.popArgs(m.Sig.Params); err != nil {
		return false, err
	}
	constrained := c.constrained
	if m.Sig.HasThis {
		this, err := c.pop1()
		if err != nil {
			return false, err
		}
		if constrained != nil {
			if !virt {
				return false, c.fail(diag.V0301, "constrained. prefix requires callvirt")
			}
			if this.Kind != types.ManagedPtr || this.Type != nil && !this.Type.Equal(constrained) {
				return false, c.mismatch(diag.V0302, constrained.String()+"&", this.String())
			}
			c.coder.ConstrainThis(constrained, len(m.Sig.Params))
		} else if err := c.checkThis(this, m); err != nil {
			return false, err
		}
	} else if constrained != nil {
		return false, c.fail(diag.V0301, "constrained. prefix on a static call")
	}

	kind := CallDirect
	if virt {
		switch {
		case m.Owner.IsInterface():
			kind = CallInterface
		case m.IsVirtual():
			kind = CallVirtual
		}
	}
	c.coder.Call(m, kind)
	if !m.Sig.Return.IsVoid() {
		return true, c.push(types.ItemFor(m.Sig.Return))
	}
	return true, nil
}

func verifyLoadFunction(c *Context, in *cil.Instr) (bool, error) {
	m, err := c.resolveMethod(in.Token)
	if err != nil {
		return false, err
	}
	virt := in.Op == cil.OpLdvirtftn
	if virt {
		if m.IsStatic() {
			return false, c.mismatch(diag.V0301, "instance method", m.FullName())
		}
		obj, err := c.pop1()
		if err != nil {
			return false, err
		}
		if obj.Kind != types.ObjectRef {
			return false, c.mismatch(diag.V0301, "O", obj.String())
		}
		if err := c.checkThis(obj, m); err != nil {
			return false, err
		}
	}
	c.coder.LoadFunction(m, virt)
	return true, c.push(types.Of(types.NativeInt, nil))
}
