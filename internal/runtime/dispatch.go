package runtime

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
)

// ============================================================================
// 类型初始化
// ============================================================================

// classInit 一个类的 .cctor 执行状态
type classInit struct {
	mu    sync.Mutex
	done  atomic.Bool
	owner atomic.Int64 // 正在执行 .cctor 的线程
	err   error
}

// InitClass 保证类的 .cctor 只执行一次
// 同一线程在 .cctor 执行期间再次请求时直接返回（初始化环）
func (r *Runtime) InitClass(t *Thread, c *meta.Class) error {
	cctor := c.StaticConstructor()
	if cctor == nil {
		return nil
	}
	r.initMu.Lock()
	st, ok := r.inits[c]
	if !ok {
		st = &classInit{}
		r.inits[c] = st
	}
	r.initMu.Unlock()

	if st.done.Load() {
		return st.err
	}
	if t != nil && st.owner.Load() == t.ID {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done.Load() {
		return st.err
	}
	if t == nil {
		t = r.NewThread()
	}
	st.owner.Store(t.ID)
	fn, err := r.FunctionFor(cctor)
	if err == nil {
		_, err = fn.Apply(jit.Slot{Ref: t})
	}
	st.owner.Store(0)
	st.err = err
	st.done.Store(true)
	r.log.Debug("class initialized", zap.String("class", c.FullName()), zap.Error(err))
	return err
}

// Initialized 类是否已完成初始化
func (r *Runtime) Initialized(c *meta.Class) bool {
	r.initMu.Lock()
	st, ok := r.inits[c]
	r.initMu.Unlock()
	return ok && st.done.Load()
}

// ============================================================================
// 虚调用目标
// ============================================================================

// DispatchVirtual 对象上虚表槽位 slot 的目标函数
func (r *Runtime) DispatchVirtual(obj any, slot int) (*jit.Function, error) {
	c := r.ClassOf(obj)
	if c == nil {
		return nil, fmt.Errorf("runtime: %T is not a managed object", obj)
	}
	l, err := r.Layouts.Layout(c)
	if err != nil {
		return nil, err
	}
	if slot < 0 || slot >= len(l.VTable) {
		return nil, nil
	}
	return r.targetFor(l.VTable[slot])
}

// DispatchInterface 对象上接口方法 iface[index] 的目标函数，未实现时为 nil
func (r *Runtime) DispatchInterface(obj any, iface *meta.Class, index int) (*jit.Function, error) {
	c := r.ClassOf(obj)
	if c == nil {
		return nil, fmt.Errorf("runtime: %T is not a managed object", obj)
	}
	l, err := r.Layouts.Layout(c)
	if err != nil {
		return nil, err
	}
	impl := l.InterfaceMethod(iface, index)
	if impl == nil {
		return nil, nil
	}
	return r.targetFor(impl)
}

// ResolveVirtual 对象上虚方法 m 的实际实现
func (r *Runtime) ResolveVirtual(obj any, m *meta.Method) (*meta.Method, error) {
	c := r.ClassOf(obj)
	if c == nil {
		return nil, fmt.Errorf("runtime: %T is not a managed object", obj)
	}
	l, err := r.Layouts.Layout(c)
	if err != nil {
		return nil, err
	}
	if m.Owner.IsInterface() {
		for i, im := range m.Owner.Methods {
			if im == m {
				return l.InterfaceMethod(m.Owner, i), nil
			}
		}
		return nil, nil
	}
	return l.Resolve(m), nil
}

// targetFor 以对象引用为 this 调用 m 的函数；值类型的方法经过拆箱转接
func (r *Runtime) targetFor(m *meta.Method) (*jit.Function, error) {
	if m.IsAbstract() {
		return nil, nil
	}
	if m.Owner.IsValueType() && !m.IsStatic() {
		return r.unboxingThunk(m)
	}
	return r.FunctionFor(m)
}

// unboxingThunk 把装箱对象的 this 转为值的地址再调用值类型的方法
func (r *Runtime) unboxingThunk(m *meta.Method) (*jit.Function, error) {
	r.thunkMu.Lock()
	defer r.thunkMu.Unlock()
	if fn, ok := r.thunks[m]; ok {
		return fn, nil
	}
	target, err := r.FunctionFor(m)
	if err != nil {
		return nil, err
	}
	sig := target.Signature()
	if len(sig.Params) < 2 {
		return nil, fmt.Errorf("runtime: %s has no this parameter", m.FullName())
	}
	params := append([]*jit.Type(nil), sig.Params...)
	params[1] = jit.TypeRef
	fn := target.Context().NewFunction(target.Name()+"$unbox", jit.NewSignature(sig.Return, params...))
	args := make([]*jit.Value, len(params))
	for i := range params {
		args[i] = fn.Param(i)
	}
	args[1] = fn.InsnAddRelative(fn.Param(1), 0)
	fn.InsnReturn(fn.InsnCall(target, args))
	if err := fn.Compile(); err != nil {
		return nil, err
	}
	r.thunks[m] = fn
	return fn, nil
}
