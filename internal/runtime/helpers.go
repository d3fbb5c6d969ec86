package runtime

import (
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
)

// ============================================================================
// 生成代码调用的辅助函数
// ============================================================================

// Helpers 生成代码通过 IR_CALL_NATIVE 调用的运行时辅助函数
// 第一个参数总是上下文句柄（*Thread）
type Helpers struct {
	// New(thread, class) ref：分配实例，内存不足返回 null
	New *jit.Native
	// NewArray(thread, elem, nint) ref：分配数组，内存不足返回 null
	NewArray *jit.Native
	// NewString(thread, char, int) ref
	NewString *jit.Native
	// Raise(thread, kind)：抛出系统异常
	Raise *jit.Native
	// IsInst(thread, obj, type) ref：obj 是 type 的实例时返回 obj，否则 null
	IsInst *jit.Native
	// Unbox(thread, obj, type) ptr：类型不符时返回空地址
	Unbox *jit.Native
	// StoreCheck(thread, array, value) int：stelem.ref 能否存储
	StoreCheck *jit.Native
	// ClassInit(thread, class)
	ClassInit *jit.Native
	// VTableLookup(thread, obj, slot) ref：虚表槽位的目标函数
	VTableLookup *jit.Native
	// InterfaceLookup(thread, obj, iface, index) ref：未实现时返回 null
	InterfaceLookup *jit.Native
	// VirtualHandle(thread, obj, method) nint：ldvirtftn
	VirtualHandle *jit.Native
	// ThreadStatic(thread, slot, size) ptr：线程静态数据地址
	ThreadStatic *jit.Native
}

// Helpers 运行时辅助函数，首次调用时创建
func (r *Runtime) Helpers() *Helpers {
	r.helpersOnce.Do(func() { r.helpers = r.newHelpers() })
	return r.helpers
}

func (r *Runtime) newHelpers() *Helpers {
	ref, ptr, i32, nint := jit.TypeRef, jit.TypePtr, jit.TypeInt, jit.TypeNInt
	sig := jit.NewSignature
	return &Helpers{
		New:             jit.NewNative("rt_new", sig(ref, ref, ref), r.helperNew),
		NewArray:        jit.NewNative("rt_newarr", sig(ref, ref, ref, nint), r.helperNewArray),
		NewString:       jit.NewNative("rt_newstr", sig(ref, ref, jit.TypeUShort, i32), r.helperNewString),
		Raise:           jit.NewNative("rt_raise", sig(jit.TypeVoid, ref, i32), r.helperRaise),
		IsInst:          jit.NewNative("rt_isinst", sig(ref, ref, ref, ref), r.helperIsInst),
		Unbox:           jit.NewNative("rt_unbox", sig(ptr, ref, ref, ref), r.helperUnbox),
		StoreCheck:      jit.NewNative("rt_storecheck", sig(i32, ref, ref, ref), r.helperStoreCheck),
		ClassInit:       jit.NewNative("rt_cctor", sig(jit.TypeVoid, ref, ref), r.helperClassInit),
		VTableLookup:    jit.NewNative("rt_vtable", sig(ref, ref, ref, i32), r.helperVTable),
		InterfaceLookup: jit.NewNative("rt_itable", sig(ref, ref, ref, ref, i32), r.helperInterface),
		VirtualHandle:   jit.NewNative("rt_ldvirtftn", sig(nint, ref, ref, ref), r.helperVirtualHandle),
		ThreadStatic:    jit.NewNative("rt_tls", sig(ptr, ref, i32, i32), r.helperThreadStatic),
	}
}

func (r *Runtime) helperNew(args []jit.Slot) (jit.Slot, error) {
	c, _ := args[1].Ref.(*meta.Class)
	if c == nil {
		return jit.Slot{}, r.Throw(threadOf(args[0]), ExcInvalidProgram, "allocation of an unknown class")
	}
	o, err := r.Allocate(c)
	if err == errOutOfMemory {
		return jit.Slot{}, nil
	}
	if err != nil {
		return jit.Slot{}, err
	}
	return jit.Slot{Ref: o}, nil
}

func (r *Runtime) helperNewArray(args []jit.Slot) (jit.Slot, error) {
	t := threadOf(args[0])
	elem, _ := args[1].Ref.(*meta.Type)
	n := args[2].I
	if n < 0 || n > maxObjectSize {
		return jit.Slot{}, r.Throw(t, ExcOverflow, "")
	}
	a, err := r.NewArray(elem, int(n))
	if err == errOutOfMemory {
		return jit.Slot{}, nil
	}
	if err != nil {
		return jit.Slot{}, err
	}
	return jit.Slot{Ref: a}, nil
}

func (r *Runtime) helperNewString(args []jit.Slot) (jit.Slot, error) {
	n := args[2].I
	if n < 0 {
		return jit.Slot{}, r.Throw(threadOf(args[0]), ExcOverflow, "negative string length")
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = uint16(args[1].I)
	}
	return jit.Slot{Ref: r.NewString(FromUTF16(units))}, nil
}

func (r *Runtime) helperRaise(args []jit.Slot) (jit.Slot, error) {
	return jit.Slot{}, r.Throw(threadOf(args[0]), ExceptionKind(args[1].I), "")
}

func (r *Runtime) helperIsInst(args []jit.Slot) (jit.Slot, error) {
	t, _ := args[2].Ref.(*meta.Type)
	if t != nil && r.IsInstance(args[1].Ref, t) {
		return jit.Slot{Ref: args[1].Ref}, nil
	}
	return jit.Slot{}, nil
}

func (r *Runtime) helperUnbox(args []jit.Slot) (jit.Slot, error) {
	o, ok := args[1].Ref.(*Object)
	t, _ := args[2].Ref.(*meta.Type)
	if !ok || t == nil || o.Class != r.Corlib.ClassFor(t) {
		return jit.Slot{}, nil
	}
	return jit.Slot{Ptr: jit.Pointer{Block: o.Data}}, nil
}

func (r *Runtime) helperStoreCheck(args []jit.Slot) (jit.Slot, error) {
	a, ok := args[1].Ref.(*Array)
	if ok && r.CanStore(a, args[2].Ref) {
		return jit.Slot{I: 1}, nil
	}
	return jit.Slot{}, nil
}

func (r *Runtime) helperClassInit(args []jit.Slot) (jit.Slot, error) {
	c, _ := args[1].Ref.(*meta.Class)
	if c == nil {
		return jit.Slot{}, nil
	}
	return jit.Slot{}, r.InitClass(threadOf(args[0]), c)
}

func (r *Runtime) helperVTable(args []jit.Slot) (jit.Slot, error) {
	fn, err := r.DispatchVirtual(args[1].Ref, int(args[2].I))
	if err != nil {
		return jit.Slot{}, err
	}
	if fn == nil {
		return jit.Slot{}, r.Throw(threadOf(args[0]), ExcMissingMethod, "")
	}
	return jit.Slot{Ref: fn}, nil
}

func (r *Runtime) helperInterface(args []jit.Slot) (jit.Slot, error) {
	iface, _ := args[2].Ref.(*meta.Class)
	fn, err := r.DispatchInterface(args[1].Ref, iface, int(args[3].I))
	if err != nil {
		return jit.Slot{}, err
	}
	if fn == nil {
		return jit.Slot{}, nil
	}
	return jit.Slot{Ref: fn}, nil
}

func (r *Runtime) helperVirtualHandle(args []jit.Slot) (jit.Slot, error) {
	m, _ := args[2].Ref.(*meta.Method)
	impl, err := r.ResolveVirtual(args[1].Ref, m)
	if err != nil {
		return jit.Slot{}, err
	}
	if impl == nil || impl.IsAbstract() {
		return jit.Slot{}, r.Throw(threadOf(args[0]), ExcMissingMethod, "")
	}
	return jit.Slot{I: r.MethodHandle(impl)}, nil
}

func (r *Runtime) helperThreadStatic(args []jit.Slot) (jit.Slot, error) {
	t := threadOf(args[0])
	if t == nil {
		return jit.Slot{}, r.Throw(nil, ExcInvalidProgram, "thread static access without a thread")
	}
	return jit.Slot{Ptr: jit.Pointer{Block: t.ThreadStatic(int(args[1].I), int(args[2].I))}}, nil
}
