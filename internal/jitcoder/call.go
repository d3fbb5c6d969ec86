package jitcoder

import (
	"github.com/tangzhangming/ilengine/internal/cil"
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/runtime"
	"github.com/tangzhangming/ilengine/internal/verify"
)

// ============================================================================
// 调用
// ============================================================================

// function 被调方法对应的函数，首次调用时才编译
func (c *Coder) function(m *meta.Method) *jit.Function {
	fn, err := c.rt.FunctionFor(m)
	if err != nil {
		c.fail(diag.J0004, err, "cannot link %s: %v", m.FullName(), err)
		return nil
	}
	return fn
}

func (c *Coder) signature(m *meta.Method) *jit.Signature {
	sig, err := c.rt.Signature(m)
	if err != nil {
		c.fail(diag.J0004, err, "signature of %s: %v", m.FullName(), err)
		return nil
	}
	return sig
}

// ConstrainThis constrained. 前缀：this 是指向 t 的托管指针，在 Call 中处理
func (c *Coder) ConstrainThis(t *meta.Type, depth int) {
	c.constrained, c.thisDepth = t, depth
}

// Call call/callvirt；参数从栈上弹出时 this 在最前
func (c *Coder) Call(m *meta.Method, kind verify.CallKind) {
	args := c.pop(m.ParamCount())
	if m.Sig.HasThis && c.constrained != nil {
		t := c.constrained
		c.constrained = nil
		m, kind, args[0] = c.constrain(t, m, kind, args[0])
		if m == nil {
			return
		}
	}
	all := append([]*jit.Value{c.thread}, args...)

	var r *jit.Value
	switch kind {
	case verify.CallDirect:
		fn := c.function(m)
		if fn == nil {
			return
		}
		if m.Sig.HasThis && c.in != nil && c.in.Op == cil.OpCallvirt && args[0].Type().Kind() == jit.KindRef {
			c.nullCheck(args[0])
		}
		r = c.fn.InsnCall(fn, all)

	case verify.CallVirtual:
		sig := c.signature(m)
		l := c.layout(m.Owner)
		if sig == nil || l == nil {
			return
		}
		slot, ok := l.Slot(m)
		if !ok {
			c.fail(diag.J0004, nil, "%s has no vtable slot", m.FullName())
			return
		}
		c.nullCheck(args[0])
		target := c.fn.InsnCallNative(c.h.VTableLookup, []*jit.Value{c.thread, args[0], c.constInt(int64(slot))})
		r = c.fn.InsnCallIndirect(target, sig, all)

	case verify.CallInterface:
		sig := c.signature(m)
		idx := methodIndex(m.Owner, m)
		if sig == nil {
			return
		}
		if idx < 0 {
			c.fail(diag.J0004, nil, "%s is not declared by %s", m.Name, m.Owner.FullName())
			return
		}
		c.nullCheck(args[0])
		target := c.fn.InsnCallNative(c.h.InterfaceLookup, []*jit.Value{
			c.thread, args[0], c.fn.ConstRef(m.Owner), c.constInt(int64(idx)),
		})
		c.require(target, runtime.ExcMissingMethod)
		r = c.fn.InsnCallIndirect(target, sig, all)
	}

	// 内部调用的构造函数返回新对象，作为普通调用时丢弃
	if r != nil && !(m.IsConstructor() && m.Impl == meta.ImplInternalCall) {
		c.pushWide(r)
	}
}

// constrain 解析 constrained. 调用：
// 引用类型取出指针处的对象；值类型自己实现了方法时直接调用，否则装箱后按虚调用分派
func (c *Coder) constrain(t *meta.Type, m *meta.Method, kind verify.CallKind, this *jit.Value) (*meta.Method, verify.CallKind, *jit.Value) {
	ptr := c.address(this)
	if t.IsReference() {
		return m, kind, c.fn.InsnLoadRelative(ptr, 0, jit.TypeRef)
	}
	cl := c.rt.Corlib.ClassFor(t)
	l := c.layout(cl)
	if l == nil {
		return nil, kind, this
	}
	var impl *meta.Method
	if m.Owner.IsInterface() {
		impl = l.InterfaceMethod(m.Owner, methodIndex(m.Owner, m))
	} else {
		impl = l.Resolve(m)
	}
	if impl != nil && impl.Owner == cl && !impl.IsAbstract() {
		return impl, verify.CallDirect, ptr
	}

	v := c.fn.InsnLoadRelative(ptr, 0, l.StructType)
	obj := c.fn.InsnCallNative(c.h.New, []*jit.Value{c.thread, c.fn.ConstRef(cl)})
	c.require(obj, runtime.ExcOutOfMemory)
	c.fn.InsnStoreRelative(obj, 0, v)
	if kind == verify.CallDirect && m.IsVirtual() {
		kind = verify.CallVirtual
	}
	return m, kind, obj
}

func methodIndex(cl *meta.Class, m *meta.Method) int {
	for i, x := range cl.Methods {
		if x == m {
			return i
		}
	}
	return -1
}

// LoadFunction ldftn 压入方法句柄；ldvirtftn 按对象的实际类型解析
func (c *Coder) LoadFunction(m *meta.Method, virtual bool) {
	if !virtual {
		c.push(c.fn.ConstInt(jit.TypeNInt, c.rt.MethodHandle(m)))
		return
	}
	obj := c.pop1()
	c.nullCheck(obj)
	c.push(c.fn.InsnCallNative(c.h.VirtualHandle, []*jit.Value{c.thread, obj, c.fn.ConstRef(m)}))
}
