package jitcoder

import (
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/runtime"
	"github.com/tangzhangming/ilengine/internal/types"
)

// address 把 native int 形式的地址转为指针，对象引用和指针原样返回
func (c *Coder) address(v *jit.Value) *jit.Value {
	switch v.Type().Kind() {
	case jit.KindPtr, jit.KindRef:
		return v
	}
	return c.fn.InsnIntToPtr(c.fn.InsnConvert(v, jit.TypeNInt, false))
}

func (c *Coder) nint(v *jit.Value) *jit.Value {
	return c.fn.InsnConvert(v, jit.TypeNInt, false)
}

// ============================================================================
// 间接访问
// ============================================================================

func (c *Coder) LoadIndirect(t *meta.Type) {
	p := c.address(c.pop1())
	c.pushWide(c.fn.InsnLoadRelative(p, 0, c.nativeType(t)))
}

func (c *Coder) StoreIndirect(t *meta.Type) {
	vs := c.pop(2)
	nt := c.nativeType(t)
	c.fn.InsnStoreRelative(c.address(vs[0]), 0, c.fn.InsnConvert(vs[1], nt, false))
}

func (c *Coder) CopyObject(t *meta.Type) {
	vs := c.pop(2)
	dst, src := c.address(vs[0]), c.address(vs[1])
	nt := c.nativeType(t)
	if nt.IsStruct() {
		c.fn.InsnMemcpy(dst, src, c.fn.ConstInt(jit.TypeNInt, int64(nt.Size())))
		return
	}
	c.fn.InsnStoreRelative(dst, 0, c.fn.InsnLoadRelative(src, 0, nt))
}

func (c *Coder) InitObject(t *meta.Type) {
	c.clear(c.address(c.pop1()), c.nativeType(t))
}

func (c *Coder) SizeOf(t *meta.Type) {
	n, err := c.rt.Layouts.SizeOf(t)
	if err != nil {
		c.fail(diag.J0003, err, "sizeof %s: %v", t, err)
		return
	}
	c.push(c.constInt(int64(n)))
}

func (c *Coder) LocalAlloc() {
	c.push(c.fn.InsnAlloca(c.nint(c.pop1())))
}

func (c *Coder) CopyBlock() {
	vs := c.pop(3)
	c.fn.InsnMemcpy(c.address(vs[0]), c.address(vs[1]), c.nint(vs[2]))
}

func (c *Coder) InitBlock() {
	vs := c.pop(3)
	c.fn.InsnMemset(c.address(vs[0]), c.fn.InsnConvert(vs[1], jit.TypeUByte, false), c.nint(vs[2]))
}

// ============================================================================
// 对象创建
// ============================================================================

// NewObject newobj：值类型在临时变量中构造，引用类型先分配再调用构造函数
func (c *Coder) NewObject(ctor *meta.Method) {
	args := c.pop(len(ctor.Sig.Params))
	fn := c.function(ctor)
	if fn == nil {
		return
	}
	cl := ctor.Owner

	switch {
	case ctor.Impl == meta.ImplInternalCall:
		// 内部调用的构造函数（字符串等）自己创建对象
		all := append([]*jit.Value{c.thread, c.fn.ConstRef(nil)}, args...)
		c.push(c.fn.InsnCall(fn, all))

	case cl.IsValueType():
		nt := c.nativeType(meta.ValueOf(cl))
		tmp := c.fn.NewValue(nt)
		p := c.fn.InsnAddressOfVar(tmp)
		c.clear(p, nt)
		all := append([]*jit.Value{c.thread, p}, args...)
		c.fn.InsnCall(fn, all)
		c.load(tmp)

	default:
		c.classInit(cl)
		obj := c.fn.InsnCallNative(c.h.New, []*jit.Value{c.thread, c.fn.ConstRef(cl)})
		c.require(obj, runtime.ExcOutOfMemory)
		all := append([]*jit.Value{c.thread, obj}, args...)
		c.fn.InsnCall(fn, all)
		c.push(obj)
	}
}

// ============================================================================
// 字段
// ============================================================================

// field 实例字段的基址和偏移
func (c *Coder) field(f *meta.Field, obj types.Item, v *jit.Value) (*jit.Value, int, *jit.Type, bool) {
	l := c.layout(f.Owner)
	if l == nil {
		return nil, 0, nil, false
	}
	off, ok := l.FieldOffset(f)
	if !ok {
		c.fail(diag.J0003, nil, "field %s has no instance slot", f)
		return nil, 0, nil, false
	}
	var base *jit.Value
	switch obj.Kind {
	case types.ObjectRef:
		c.nullCheck(v)
		base = v
	case types.ManagedValue:
		base = c.fn.InsnAddressOfVar(v)
	default:
		base = c.address(v)
	}
	return base, off, l.FieldType(f), true
}

func (c *Coder) LoadField(f *meta.Field, obj types.Item) {
	v := c.pop1()
	if base, off, nt, ok := c.field(f, obj, v); ok {
		c.pushWide(c.fn.InsnLoadRelative(base, off, nt))
	}
}

func (c *Coder) LoadFieldAddr(f *meta.Field, obj types.Item) {
	v := c.pop1()
	if base, off, _, ok := c.field(f, obj, v); ok {
		c.push(c.fn.InsnAddRelative(base, off))
	}
}

func (c *Coder) StoreField(f *meta.Field, obj types.Item) {
	vs := c.pop(2)
	if base, off, nt, ok := c.field(f, obj, vs[0]); ok {
		c.fn.InsnStoreRelative(base, off, c.fn.InsnConvert(vs[1], nt, false))
	}
}

// static 静态字段的基址和偏移；线程静态字段经由当前线程的槽位表
func (c *Coder) static(f *meta.Field) (*jit.Value, int, *jit.Type, bool) {
	c.classInit(f.Owner)
	l := c.layout(f.Owner)
	if l == nil {
		return nil, 0, nil, false
	}
	nt := l.FieldType(f)
	if f.IsThreadStatic() {
		ts, ok := l.ThreadStatic(f)
		if !ok {
			c.fail(diag.J0003, nil, "thread static %s has no slot", f)
			return nil, 0, nil, false
		}
		p := c.fn.InsnCallNative(c.h.ThreadStatic, []*jit.Value{
			c.thread, c.constInt(int64(ts.Slot)), c.constInt(int64(ts.Type.Size())),
		})
		return p, 0, nt, true
	}
	off, ok := l.StaticOffset(f)
	if !ok {
		c.fail(diag.J0003, nil, "static %s has no slot", f)
		return nil, 0, nil, false
	}
	return c.fn.ConstRef(l.Statics()), off, nt, true
}

func (c *Coder) LoadStaticField(f *meta.Field) {
	if base, off, nt, ok := c.static(f); ok {
		c.pushWide(c.fn.InsnLoadRelative(base, off, nt))
	}
}

func (c *Coder) LoadStaticFieldAddr(f *meta.Field) {
	if base, off, _, ok := c.static(f); ok {
		c.push(c.fn.InsnAddRelative(base, off))
	}
}

func (c *Coder) StoreStaticField(f *meta.Field) {
	v := c.pop1()
	if base, off, nt, ok := c.static(f); ok {
		c.fn.InsnStoreRelative(base, off, c.fn.InsnConvert(v, nt, false))
	}
}

// ============================================================================
// 装箱与类型检查
// ============================================================================

func (c *Coder) Box(t *meta.Type) {
	v := c.pop1()
	if t.IsReference() {
		c.push(v)
		return
	}
	cl := c.rt.Corlib.ClassFor(t)
	l := c.layout(cl)
	if l == nil {
		return
	}
	obj := c.fn.InsnCallNative(c.h.New, []*jit.Value{c.thread, c.fn.ConstRef(cl)})
	c.require(obj, runtime.ExcOutOfMemory)
	if l.StructType != nil {
		c.fn.InsnStoreRelative(obj, 0, c.fn.InsnConvert(v, l.StructType, false))
	}
	c.push(obj)
}

// unbox 取装箱值的地址，类型不符时抛出 InvalidCastException
func (c *Coder) unbox(obj *jit.Value, t *meta.Type) *jit.Value {
	c.nullCheck(obj)
	p := c.fn.InsnCallNative(c.h.Unbox, []*jit.Value{c.thread, obj, c.fn.ConstRef(t)})
	c.require(p, runtime.ExcInvalidCast)
	return p
}

func (c *Coder) Unbox(t *meta.Type) {
	c.push(c.unbox(c.pop1(), t))
}

func (c *Coder) UnboxAny(t *meta.Type) {
	if t.IsReference() {
		c.CastClass(t)
		return
	}
	p := c.unbox(c.pop1(), t)
	c.pushWide(c.fn.InsnLoadRelative(p, 0, c.nativeType(t)))
}

// CastClass null 总是通过
func (c *Coder) CastClass(t *meta.Type) {
	v := c.pop1()
	done := c.fn.NewLabel()
	c.fn.InsnBranchIfNot(v, done)
	r := c.fn.InsnCallNative(c.h.IsInst, []*jit.Value{c.thread, v, c.fn.ConstRef(t)})
	c.require(r, runtime.ExcInvalidCast)
	c.fn.PlaceLabel(done)
	c.push(v)
}

func (c *Coder) IsInst(t *meta.Type) {
	v := c.pop1()
	c.push(c.fn.InsnCallNative(c.h.IsInst, []*jit.Value{c.thread, v, c.fn.ConstRef(t)}))
}

// ============================================================================
// 数组
// ============================================================================

func (c *Coder) NewArray(elem *meta.Type) {
	n := c.nint(c.pop1())
	arr := c.fn.InsnCallNative(c.h.NewArray, []*jit.Value{c.thread, c.fn.ConstRef(elem), n})
	c.require(arr, runtime.ExcOutOfMemory)
	c.push(arr)
}

func (c *Coder) ArrayLength() {
	arr := c.pop1()
	c.nullCheck(arr)
	c.push(c.fn.InsnLoadRelative(arr, 0, jit.TypeNInt))
}

// element 元素地址：依次检查 null 和下标范围
func (c *Coder) element(arr, idx *jit.Value, nt *jit.Type) *jit.Value {
	c.nullCheck(arr)
	n := c.fn.InsnLoadRelative(arr, 0, jit.TypeNInt)
	i := c.nint(idx)
	c.require(c.fn.InsnLtUn(i, n), runtime.ExcIndexOutOfRange)
	base := c.fn.InsnAddRelative(arr, runtime.ArrayHeader)
	off := c.fn.InsnMul(i, c.fn.ConstInt(jit.TypeNInt, int64(runtime.ElementStride(nt))))
	return c.fn.InsnAdd(base, off)
}

func (c *Coder) LoadElement(elem *meta.Type) {
	vs := c.pop(2)
	nt := c.nativeType(elem)
	p := c.element(vs[0], vs[1], nt)
	c.pushWide(c.fn.InsnLoadRelative(p, 0, nt))
}

func (c *Coder) LoadElementAddr(elem *meta.Type) {
	vs := c.pop(2)
	c.push(c.element(vs[0], vs[1], c.nativeType(elem)))
}

func (c *Coder) StoreElement(elem *meta.Type) {
	vs := c.pop(3)
	arr, val := vs[0], vs[2]
	nt := c.nativeType(elem)
	p := c.element(arr, vs[1], nt)
	if elem.IsReference() {
		ok := c.fn.InsnCallNative(c.h.StoreCheck, []*jit.Value{c.thread, arr, val})
		c.require(ok, runtime.ExcArrayTypeMismatch)
	}
	c.fn.InsnStoreRelative(p, 0, c.fn.InsnConvert(val, nt, false))
}
