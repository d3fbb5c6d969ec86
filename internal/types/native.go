package types

import (
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
)

// ============================================================================
// 原生类型映射
// ============================================================================

// NativePrimitive 基元和引用类型对应的原生类型
// 非基元值类型返回 nil，由布局服务给出结构体类型
func NativePrimitive(t *meta.Type) *jit.Type {
	if t.Kind == meta.ElemValueType && t.Class != nil && t.Class.IsPrimitive() {
		t = meta.Prim(t.Class.Primitive)
	}
	switch t.Kind {
	case meta.ElemVoid:
		return jit.TypeVoid
	case meta.ElemBoolean, meta.ElemU1:
		return jit.TypeUByte
	case meta.ElemI1:
		return jit.TypeSByte
	case meta.ElemChar, meta.ElemU2:
		return jit.TypeUShort
	case meta.ElemI2:
		return jit.TypeShort
	case meta.ElemI4:
		return jit.TypeInt
	case meta.ElemU4:
		return jit.TypeUInt
	case meta.ElemI8:
		return jit.TypeLong
	case meta.ElemU8:
		return jit.TypeULong
	case meta.ElemI:
		return jit.TypeNInt
	case meta.ElemU:
		return jit.TypeNUInt
	case meta.ElemR4:
		return jit.TypeFloat32
	case meta.ElemR8:
		return jit.TypeFloat64
	case meta.ElemString, meta.ElemObject, meta.ElemClass, meta.ElemSZArray:
		return jit.TypeRef
	case meta.ElemPtr, meta.ElemByRef:
		return jit.TypePtr
	}
	return nil
}

// StackNative 栈上规范形式对应的原生类型；valuetype 返回 nil
func StackNative(k EngineType) *jit.Type {
	switch k.StackKind() {
	case Int32:
		return jit.TypeInt
	case Int64:
		return jit.TypeLong
	case NativeInt:
		return jit.TypeNInt
	case NativeFloat:
		return jit.TypeNFloat
	case ObjectRef:
		return jit.TypeRef
	case ManagedPtr, TransientPtr:
		return jit.TypePtr
	}
	return nil
}

// StackNativeOf 原生类型加载到栈上后的原生类型
// 窄整数和无符号 int 扩展为 int，浮点统一为 nfloat
func StackNativeOf(t *jit.Type) *jit.Type {
	switch t.Kind() {
	case jit.KindSByte, jit.KindUByte, jit.KindShort, jit.KindUShort, jit.KindInt, jit.KindUInt:
		return jit.TypeInt
	case jit.KindLong, jit.KindULong:
		return jit.TypeLong
	case jit.KindNInt, jit.KindNUInt:
		return jit.TypeNInt
	case jit.KindFloat32, jit.KindFloat64, jit.KindNFloat:
		return jit.TypeNFloat
	}
	return t
}

// UnsignedOf 整数原生类型的无符号形式
func UnsignedOf(t *jit.Type) *jit.Type {
	switch t.Kind() {
	case jit.KindSByte:
		return jit.TypeUByte
	case jit.KindShort:
		return jit.TypeUShort
	case jit.KindInt:
		return jit.TypeUInt
	case jit.KindLong:
		return jit.TypeULong
	case jit.KindNInt:
		return jit.TypeNUInt
	}
	return t
}
