package verify

import (
	"github.com/tangzhangming/ilengine/internal/cil"
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/types"
)

func init() {
	for op := range ldindTypes {
		register(verifyLoadIndirect, op)
	}
	for op := range stindTypes {
		register(verifyStoreIndirect, op)
	}
	register(verifyObjOp, cil.OpLdobj, cil.OpStobj, cil.OpCpobj, cil.OpInitobj, cil.OpSizeof)
	register(verifyBlockOp, cil.OpLocalloc, cil.OpCpblk, cil.OpInitblk)

	register(verifyNewobj, cil.OpNewobj)
	register(verifyField, cil.OpLdfld, cil.OpLdflda, cil.OpStfld)
	register(verifyStaticField, cil.OpLdsfld, cil.OpLdsflda, cil.OpStsfld)
	register(verifyTypeOp, cil.OpBox, cil.OpUnbox, cil.OpUnboxAny, cil.OpCastclass, cil.OpIsinst)

	register(verifyNewarr, cil.OpNewarr)
	register(verifyLdlen, cil.OpLdlen)
	for op := range ldelemTypes {
		register(verifyLoadElement, op)
	}
	for op := range stelemTypes {
		register(verifyStoreElement, op)
	}
	register(verifyLoadElement, cil.OpLdelem, cil.OpLdelema)
	register(verifyStoreElement, cil.OpStelem)
}

// ============================================================================
// 间接访问
// ============================================================================

// nil 表示对象引用（.ref 形式）
var ldindTypes = map[cil.OpCode]*meta.Type{
	cil.OpLdindI1:  meta.Int8,
	cil.OpLdindU1:  meta.UInt8,
	cil.OpLdindI2:  meta.Int16,
	cil.OpLdindU2:  meta.UInt16,
	cil.OpLdindI4:  meta.Int32,
	cil.OpLdindU4:  meta.UInt32,
	cil.OpLdindI8:  meta.Int64,
	cil.OpLdindI:   meta.IntPtr,
	cil.OpLdindR4:  meta.Float32,
	cil.OpLdindR8:  meta.Float64,
	cil.OpLdindRef: nil,
}

var stindTypes = map[cil.OpCode]*meta.Type{
	cil.OpStindI1:  meta.Int8,
	cil.OpStindI2:  meta.Int16,
	cil.OpStindI4:  meta.Int32,
	cil.OpStindI8:  meta.Int64,
	cil.OpStindI:   meta.IntPtr,
	cil.OpStindR4:  meta.Float32,
	cil.OpStindR8:  meta.Float64,
	cil.OpStindRef: nil,
}

// address 检查地址操作数：托管指针总是可以，非托管指针和 native int 需要 unsafe
func (c *Context) address(addr types.Item) error {
	switch addr.Kind {
	case types.ManagedPtr:
		return nil
	case types.TransientPtr, types.NativeInt:
		if c.unsafe {
			return nil
		}
		return c.mismatch(diag.V0103, "managed pointer", addr.String())
	}
	return c.mismatch(diag.V0301, "pointer", addr.String())
}

// compatibleElem 通过指针访问 want 类型时目标类型是否相容（栈形式相同即可）
func compatibleElem(have, want *meta.Type) bool {
	if have == nil {
		return true
	}
	if want == nil {
		return have.IsReference()
	}
	if have.Equal(want) {
		return true
	}
	hk, wk := types.FromType(have), types.FromType(want)
	if hk == types.ManagedValue || wk == types.ManagedValue {
		return false
	}
	return hk.StackKind() == wk.StackKind() && sizeOfElem(have) == sizeOfElem(want)
}

// sizeOfElem 基元类型的字节数，用于区分 int8 与 int32 等同栈形式的类型
func sizeOfElem(t *meta.Type) int {
	switch t.Kind {
	case meta.ElemBoolean, meta.ElemI1, meta.ElemU1:
		return 1
	case meta.ElemChar, meta.ElemI2, meta.ElemU2:
		return 2
	case meta.ElemI4, meta.ElemU4, meta.ElemR4:
		return 4
	case meta.ElemI8, meta.ElemU8, meta.ElemR8:
		return 8
	}
	return types.Host.PtrSize
}

func (c *Context) checkTarget(addr types.Item, want *meta.Type) error {
	if addr.Kind == types.ManagedPtr && !c.unsafe && !compatibleElem(addr.Type, want) {
		expected := "O&"
		if want != nil {
			expected = want.String() + "&"
		}
		return c.mismatch(diag.V0301, expected, addr.String())
	}
	return nil
}

func verifyLoadIndirect(c *Context, in *cil.Instr) (bool, error) {
	want := ldindTypes[in.Op]
	addr, err := c.pop1()
	if err != nil {
		return false, err
	}
	if err := c.address(addr); err != nil {
		return false, err
	}
	if err := c.checkTarget(addr, want); err != nil {
		return false, err
	}
	t := want
	if t == nil {
		t = addr.Type
		if t == nil || !t.IsReference() {
			t = meta.Object
		}
	}
	c.coder.LoadIndirect(t)
	return true, c.push(types.ItemFor(t))
}

func verifyStoreIndirect(c *Context, in *cil.Instr) (bool, error) {
	want := stindTypes[in.Op]
	ops, err := c.pop(2)
	if err != nil {
		return false, err
	}
	addr, val := ops[0], ops[1]
	if err := c.address(addr); err != nil {
		return false, err
	}
	if err := c.checkTarget(addr, want); err != nil {
		return false, err
	}
	t := want
	if t == nil {
		t = meta.Object
		if addr.Type != nil && addr.Type.IsReference() {
			t = addr.Type
		}
	}
	if !c.assignable(val, t) {
		return false, c.mismatch(diag.V0202, t.String(), val.String())
	}
	c.coder.StoreIndirect(t)
	return true, nil
}

func verifyObjOp(c *Context, in *cil.Instr) (bool, error) {
	t, err := c.resolveType(in.Token)
	if err != nil {
		return false, err
	}
	switch in.Op {
	case cil.OpSizeof:
		c.coder.SizeOf(t)
		return true, c.push(types.Of(types.Int32, nil))

	case cil.OpLdobj:
		addr, err := c.pop1()
		if err != nil {
			return false, err
		}
		if err := c.address(addr); err != nil {
			return false, err
		}
		if err := c.checkTarget(addr, t); err != nil {
			return false, err
		}
		c.coder.LoadIndirect(t)
		return true, c.push(types.ItemFor(t))

	case cil.OpStobj:
		ops, err := c.pop(2)
		if err != nil {
			return false, err
		}
		if err := c.address(ops[0]); err != nil {
			return false, err
		}
		if err := c.checkTarget(ops[0], t); err != nil {
			return false, err
		}
		if !c.assignable(ops[1], t) {
			return false, c.mismatch(diag.V0202, t.String(), ops[1].String())
		}
		c.coder.StoreIndirect(t)
		return true, nil

	case cil.OpCpobj:
		ops, err := c.pop(2)
		if err != nil {
			return false, err
		}
		for _, addr := range ops {
			if err := c.address(addr); err != nil {
				return false, err
			}
			if err := c.checkTarget(addr, t); err != nil {
				return false, err
			}
		}
		c.coder.CopyObject(t)
		return true, nil
	}

	// initobj
	addr, err := c.pop1()
	if err != nil {
		return false, err
	}
	if err := c.address(addr); err != nil {
		return false, err
	}
	if err := c.checkTarget(addr, t); err != nil {
		return false, err
	}
	c.coder.InitObject(t)
	return true, nil
}

// isSize 块大小、数组长度等整数操作数
func isSize(it types.Item) bool {
	return it.Kind == types.Int32 || it.Kind == types.NativeInt
}

func verifyBlockOp(c *Context, in *cil.Instr) (bool, error) {
	if !c.unsafe {
		return false, c.fail(diag.V0103, "%s requires unsafe mode", in.Op)
	}
	switch in.Op {
	case cil.OpLocalloc:
		size, err := c.pop1()
		if err != nil {
			return false, err
		}
		if !isSize(size) {
			return false, c.mismatch(diag.V0301, "int32 or native int", size.String())
		}
		if c.Stack.Len() != 0 {
			return false, c.fail(diag.V0301, "localloc requires an otherwise empty stack")
		}
		c.coder.LocalAlloc()
		return true, c.push(types.Of(types.TransientPtr, nil))
	}
	ops, err := c.pop(3)
	if err != nil {
		return false, err
	}
	if err := c.address(ops[0]); err != nil {
		return false, err
	}
	if in.Op == cil.OpCpblk {
		if err := c.address(ops[1]); err != nil {
			return false, err
		}
	} else if ops[1].Kind != types.Int32 {
		return false, c.mismatch(diag.V0301, "int32 fill value", ops[1].String())
	}
	if !isSize(ops[2]) {
		return false, c.mismatch(diag.V0301, "int32 size", ops[2].String())
	}
	if in.Op == cil.OpCpblk {
		c.coder.CopyBlock()
	} else {
		c.coder.InitBlock()
	}
	return true, nil
}

// ============================================================================
// 对象与字段
// ============================================================================

func verifyNewobj(c *Context, in *cil.Instr) (bool, error) {
	ctor, err := c.resolveMethod(in.Token)
	if err != nil {
		return false, err
	}
	if !ctor.IsConstructor() {
		return false, c.mismatch(diag.V0301, "instance constructor", ctor.FullName())
	}
	owner := ctor.Owner
	if owner.IsAbstract() || owner.IsInterface() {
		return false, c.fail(diag.V0304, "cannot instantiate %s", owner.FullName())
	}
	if err := c.popArgs(ctor.Sig.Params); err != nil {
		return false, err
	}
	c.coder.NewObject(ctor)
	if owner.IsValueType() {
		return true, c.push(types.ItemFor(meta.ValueOf(owner)))
	}
	return true, c.push(types.Of(types.ObjectRef, owner.Type()))
}

// objectFor 检查实例字段访问的对象操作数
func (c *Context) objectFor(obj types.Item, owner *meta.Class, allowValue bool) error {
	switch obj.Kind {
	case types.ObjectRef:
		if owner.IsValueType() {
			break
		}
		if obj.Type == nil || c.assignable(obj, owner.Type()) {
			return nil
		}
	case types.ManagedPtr:
		if obj.Type == nil || c.unsafe {
			return nil
		}
		if owner.IsValueType() && obj.Type.Kind == meta.ElemValueType && obj.Type.Class == owner {
			return nil
		}
		if !owner.IsValueType() && obj.Type.IsReference() {
			// 引用类型变量的地址不能直接访问字段
			break
		}
	case types.TransientPtr, types.NativeInt:
		if c.unsafe {
			return nil
		}
		return c.mismatch(diag.V0103, owner.FullName(), obj.String())
	case types.ManagedValue:
		if allowValue && obj.Type.Class == owner {
			return nil
		}
	}
	return c.mismatch(diag.V0301, owner.FullName(), obj.String())
}

func verifyField(c *Context, in *cil.Instr) (bool, error) {
	f, err := c.resolveField(in.Token)
	if err != nil {
		return false, err
	}
	switch in.Op {
	case cil.OpLdfld, cil.OpLdflda:
		obj, err := c.pop1()
		if err != nil {
			return false, err
		}
		if err := c.objectFor(obj, f.Owner, in.Op == cil.OpLdfld); err != nil {
			return false, err
		}
		if in.Op == cil.OpLdflda {
			c.coder.LoadFieldAddr(f, obj)
			return true, c.push(types.Of(types.ManagedPtr, f.Type))
		}
		c.coder.LoadField(f, obj)
		return true, c.push(types.ItemFor(f.Type))
	}
	ops, err := c.pop(2)
	if err != nil {
		return false, err
	}
	obj, val := ops[0], ops[1]
	if err := c.objectFor(obj, f.Owner, false); err != nil {
		return false, err
	}
	if !c.assignable(val, f.Type) {
		return false, c.mismatch(diag.V0202, f.Type.String(), val.String())
	}
	c.coder.StoreField(f, obj)
	return true, nil
}

func verifyStaticField(c *Context, in *cil.Instr) (bool, error) {
	f, err := c.resolveField(in.Token)
	if err != nil {
		return false, err
	}
	if !f.IsStatic() {
		return false, c.mismatch(diag.V0301, "static field", f.String())
	}
	switch in.Op {
	case cil.OpLdsfld:
		c.coder.LoadStaticField(f)
		return true, c.push(types.ItemFor(f.Type))
	case cil.OpLdsflda:
		c.coder.LoadStaticFieldAddr(f)
		return true, c.push(types.Of(types.ManagedPtr, f.Type))
	}
	if _, err := c.store(f.Type); err != nil {
		return false, err
	}
	c.coder.StoreStaticField(f)
	return true, nil
}

func verifyTypeOp(c *Context, in *cil.Instr) (bool, error) {
	t, err := c.resolveType(in.Token)
	if err != nil {
		return false, err
	}
	v, err := c.pop1()
	if err != nil {
		return false, err
	}
	switch in.Op {
	case cil.OpBox:
		if !c.assignable(v, t) {
			return false, c.mismatch(diag.V0202, t.String(), v.String())
		}
		c.coder.Box(t)
		if t.IsReference() {
			return true, c.push(v)
		}
		return true, c.push(types.Of(types.ObjectRef, meta.Object))
	}

	if v.Kind != types.ObjectRef {
		return false, c.mismatch(diag.V0301, "O", v.String())
	}
	switch in.Op {
	case cil.OpUnbox:
		if !t.IsValueType() {
			return false, c.mismatch(diag.V0301, "value type", t.String())
		}
		c.coder.Unbox(t)
		return true, c.push(types.Of(types.ManagedPtr, t))
	case cil.OpUnboxAny:
		c.coder.UnboxAny(t)
		return true, c.push(types.ItemFor(t))
	case cil.OpCastclass:
		c.coder.CastClass(t)
	default:
		c.coder.IsInst(t)
	}
	if t.IsValueType() {
		return true, c.push(types.Of(types.ObjectRef, meta.Object))
	}
	return true, c.push(types.Of(types.ObjectRef, t))
}

// ============================================================================
// 数组
// ============================================================================

var ldelemTypes = map[cil.OpCode]*meta.Type{
	cil.OpLdelemI1:  meta.Int8,
	cil.OpLdelemU1:  meta.UInt8,
	cil.OpLdelemI2:  meta.Int16,
	cil.OpLdelemU2:  meta.UInt16,
	cil.OpLdelemI4:  meta.Int32,
	cil.OpLdelemU4:  meta.UInt32,
	cil.OpLdelemI8:  meta.Int64,
	cil.OpLdelemI:   meta.IntPtr,
	cil.OpLdelemR4:  meta.Float32,
	cil.OpLdelemR8:  meta.Float64,
	cil.OpLdelemRef: nil,
}

var stelemTypes = map[cil.OpCode]*meta.Type{
	cil.OpStelemI:   meta.IntPtr,
	cil.OpStelemI1:  meta.Int8,
	cil.OpStelemI2:  meta.Int16,
	cil.OpStelemI4:  meta.Int32,
	cil.OpStelemI8:  meta.Int64,
	cil.OpStelemR4:  meta.Float32,
	cil.OpStelemR8:  meta.Float64,
	cil.OpStelemRef: nil,
}

func verifyNewarr(c *Context, in *cil.Instr) (bool, error) {
	elem, err := c.resolveType(in.Token)
	if err != nil {
		return false, err
	}
	n, err := c.pop1()
	if err != nil {
		return false, err
	}
	if !isSize(n) {
		return false, c.mismatch(diag.V0301, "int32 length", n.String())
	}
	c.coder.NewArray(elem)
	return true, c.push(types.Of(types.ObjectRef, meta.ArrayOf(elem)))
}

// arrayElem 检查数组操作数，返回元素类型（null 数组返回 nil）
func (c *Context) arrayElem(arr types.Item) (*meta.Type, error) {
	if arr.Kind != types.ObjectRef {
		return nil, c.mismatch(diag.V0301, "array", arr.String())
	}
	if arr.Type == nil {
		return nil, nil
	}
	if arr.Type.Kind != meta.ElemSZArray {
		return nil, c.mismatch(diag.V0301, "array", arr.String())
	}
	return arr.Type.Elem, nil
}

func verifyLdlen(c *Context, in *cil.Instr) (bool, error) {
	arr, err := c.pop1()
	if err != nil {
		return false, err
	}
	if _, err := c.arrayElem(arr); err != nil {
		return false, err
	}
	c.coder.ArrayLength()
	return true, c.push(types.Of(types.NativeInt, nil))
}

// elementType 指令访问的元素类型：显式令牌、.ref 形式或固定类型
func (c *Context) elementType(in *cil.Instr, fixed map[cil.OpCode]*meta.Type, arrElem *meta.Type) (*meta.Type, error) {
	switch in.Op {
	case cil.OpLdelem, cil.OpLdelema, cil.OpStelem:
		return c.resolveType(in.Token)
	}
	want := fixed[in.Op]
	if want == nil {
		if arrElem != nil && arrElem.IsReference() {
			return arrElem, nil
		}
		return meta.Object, nil
	}
	return want, nil
}

func verifyLoadElement(c *Context, in *cil.Instr) (bool, error) {
	ops, err := c.pop(2)
	if err != nil {
		return false, err
	}
	arr, idx := ops[0], ops[1]
	arrElem, err := c.arrayElem(arr)
	if err != nil {
		return false, err
	}
	if !isSize(idx) {
		return false, c.mismatch(diag.V0301, "int32 index", idx.String())
	}
	t, err := c.elementType(in, ldelemTypes, arrElem)
	if err != nil {
		return false, err
	}
	if in.Op == cil.OpLdelemRef {
		if arrElem != nil && !arrElem.IsReference() {
			return false, c.mismatch(diag.V0301, "array of references", arr.String())
		}
	} else if in.Op == cil.OpLdelema {
		if arrElem != nil && !arrElem.Equal(t) {
			return false, c.mismatch(diag.V0301, meta.ArrayOf(t).String(), arr.String())
		}
		c.coder.LoadElementAddr(t)
		return true, c.push(types.Of(types.ManagedPtr, t))
	} else if !compatibleElem(arrElem, t) {
		return false, c.mismatch(diag.V0301, meta.ArrayOf(t).String(), arr.String())
	}
	c.coder.LoadElement(t)
	return true, c.push(types.ItemFor(t))
}

func verifyStoreElement(c *Context, in *cil.Instr) (bool, error) {
	ops, err := c.pop(3)
	if err != nil {
		return false, err
	}
	arr, idx, val := ops[0], ops[1], ops[2]
	arrElem, err := c.arrayElem(arr)
	if err != nil {
		return false, err
	}
	if !isSize(idx) {
		return false, c.mismatch(diag.V0301, "int32 index", idx.String())
	}
	t, err := c.elementType(in, stelemTypes, arrElem)
	if err != nil {
		return false, err
	}
	if in.Op == cil.OpStelemRef {
		// 协变数组的实际元素类型在运行时检查
		if arrElem != nil && !arrElem.IsReference() {
			return false, c.mismatch(diag.V0301, "array of references", arr.String())
		}
		if val.Kind != types.ObjectRef {
			return false, c.mismatch(diag.V0202, "O", val.String())
		}
	} else {
		if !compatibleElem(arrElem, t) {
			return false, c.mismatch(diag.V0301, meta.ArrayOf(t).String(), arr.String())
		}
		if !c.assignable(val, t) {
			return false, c.mismatch(diag.V0202, t.String(), val.String())
		}
	}
	c.coder.StoreElement(t)
	return true, nil
}
