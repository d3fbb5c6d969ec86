package interop

import (
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/runtime"
)

// ============================================================================
// 委托
// ============================================================================

// resolveRuntime 运行时合成的方法：委托的 .ctor 和 Invoke
func (r *Resolver) resolveRuntime(m *meta.Method) (*Binding, error) {
	if !m.Owner.IsDelegate() {
		return nil, errorf(m, diag.N0003, "runtime method on non-delegate class %s", m.Owner.FullName())
	}
	target := m.Owner.FindField("target")
	method := m.Owner.FindField("method")
	if target == nil || method == nil {
		return nil, errorf(m, diag.N0003, "delegate class does not derive from System.Delegate")
	}
	var fn HostFunc
	switch {
	case m.IsConstructor() && len(m.Sig.Params) == 2:
		fn = func(c *Call) (jit.Slot, error) {
			this, err := c.This()
			if err != nil {
				return jit.Slot{}, err
			}
			o := this.(*runtime.Object)
			if err := o.SetField(target, c.Args[1]); err != nil {
				return jit.Slot{}, err
			}
			return jit.Slot{}, o.SetField(method, c.Args[2])
		}
	case m.Name == "Invoke" && m.Sig.HasThis:
		fn = func(c *Call) (jit.Slot, error) {
			this, err := c.This()
			if err != nil {
				return jit.Slot{}, err
			}
			return r.invokeDelegate(c, this.(*runtime.Object), target, method)
		}
	default:
		return nil, errorf(m, diag.N0003, "unsupported runtime method %s", m.Name)
	}
	n, err := r.native(m, "runtime:"+MethodKey(m), fn)
	if err != nil {
		return nil, err
	}
	return &Binding{Method: m, Kind: KindRuntime, Native: n}, nil
}

// invokeDelegate 以委托保存的目标对象和方法句柄转发调用
func (r *Resolver) invokeDelegate(c *Call, d *runtime.Object, target, method *meta.Field) (jit.Slot, error) {
	h, err := d.Field(method)
	if err != nil {
		return jit.Slot{}, err
	}
	m := r.rt.MethodFromHandle(h.I)
	if m == nil {
		return jit.Slot{}, c.Throw(runtime.ExcMissingMethod, "delegate has no target method")
	}
	fn, err := r.rt.FunctionFor(m)
	if err != nil {
		return jit.Slot{}, err
	}
	args := []jit.Slot{{Ref: c.Thread}}
	if !m.IsStatic() {
		t, err := d.Field(target)
		if err != nil {
			return jit.Slot{}, err
		}
		if t.Ref == nil {
			return jit.Slot{}, c.Throw(runtime.ExcNullReference, "")
		}
		if m.Owner.IsValueType() {
			// 值类型方法的 this 为装箱值的地址
			boxed, ok := t.Ref.(*runtime.Object)
			if !ok {
				return jit.Slot{}, c.Throw(runtime.ExcInvalidCast, "")
			}
			t = jit.Slot{Ptr: jit.Pointer{Block: boxed.Data}}
		}
		args = append(args, t)
	}
	args = append(args, c.Args[1:]...)
	return fn.Apply(args...)
}
