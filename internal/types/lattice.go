// Package types 定义验证器和代码生成器共用的引擎类型格
package types

import (
	"fmt"

	"github.com/tangzhangming/ilengine/internal/meta"
)

// ============================================================================
// 引擎类型
// ============================================================================

// EngineType 抽象引擎类型
type EngineType uint8

const (
	Invalid      EngineType = iota // 尚未定义
	Int32                          // int32
	UInt32                         // unsigned int32
	Int64                          // int64
	UInt64                         // unsigned int64
	NativeInt                      // native int
	NativeUInt                     // native unsigned int
	Float32                        // float32
	Float64                        // float64
	NativeFloat                    // F
	ObjectRef                      // O
	UnmanagedPtr                   // 声明为 T* 的非托管指针
	ManagedPtr                     // &
	TransientPtr                   // 栈上的非托管指针（*）
	ManagedValue                   // 值类型实例，Item.Type 给出类
)

var engineNames = [...]string{
	Invalid:      "invalid",
	Int32:        "int32",
	UInt32:       "unsigned int32",
	Int64:        "int64",
	UInt64:       "unsigned int64",
	NativeInt:    "native int",
	NativeUInt:   "native unsigned int",
	Float32:      "float32",
	Float64:      "float64",
	NativeFloat:  "F",
	ObjectRef:    "O",
	UnmanagedPtr: "unmanaged *",
	ManagedPtr:   "&",
	TransientPtr: "*",
	ManagedValue: "valuetype",
}

func (t EngineType) String() string {
	if int(t) < len(engineNames) {
		return engineNames[t]
	}
	return fmt.Sprintf("engine(%d)", uint8(t))
}

// StackKind 评估栈上的规范形式
// 栈上只有 int32、int64、native int、F、&、O、*、valuetype 八种
func (t EngineType) StackKind() EngineType {
	switch t {
	case UInt32:
		return Int32
	case UInt64:
		return Int64
	case NativeUInt:
		return NativeInt
	case Float32, Float64:
		return NativeFloat
	case UnmanagedPtr:
		return TransientPtr
	}
	return t
}

// IsInteger 是否为整数类型
func IsInteger(t EngineType) bool {
	switch t {
	case Int32, UInt32, Int64, UInt64, NativeInt, NativeUInt:
		return true
	}
	return false
}

// IsFloat 是否为浮点类型
func IsFloat(t EngineType) bool {
	switch t {
	case Float32, Float64, NativeFloat:
		return true
	}
	return false
}

// IsNumeric 是否为数值类型（整数或浮点）
func IsNumeric(t EngineType) bool {
	return IsInteger(t) || IsFloat(t)
}

// IsPointer 是否为指针（托管或非托管）
func IsPointer(t EngineType) bool {
	switch t {
	case UnmanagedPtr, ManagedPtr, TransientPtr:
		return true
	}
	return false
}

// IsUnsigned 是否为无符号整数
func IsUnsigned(t EngineType) bool {
	switch t {
	case UInt32, UInt64, NativeUInt:
		return true
	}
	return false
}

// ============================================================================
// 栈项
// ============================================================================

// Item 评估栈、局部变量或参数槽中的一项
// Type 对 O 给出类（nil 表示 null 常量），对 & 和 * 给出目标类型，对 valuetype 给出值类型
type Item struct {
	Kind  EngineType
	Type  *meta.Type
	Const bool  // 编译期整数常量
	Value int64 // Const 为真时的常量值
}

// Of 由引擎类型和附加类型构造栈项
func Of(kind EngineType, t *meta.Type) Item {
	return Item{Kind: kind, Type: t}
}

// Constant 整数常量栈项
func Constant(kind EngineType, v int64) Item {
	return Item{Kind: kind, Const: true, Value: v}
}

// Same 两个栈项在合并点是否一致：引擎类型相同且附加类型结构相同
func (it Item) Same(o Item) bool {
	if it.Kind != o.Kind {
		return false
	}
	switch it.Kind {
	case ObjectRef, ManagedPtr, TransientPtr, ManagedValue:
		return it.Type.Equal(o.Type)
	}
	return true
}

// IsNullConstant 是否为 ldnull 压入的 null
func (it Item) IsNullConstant() bool {
	return it.Kind == ObjectRef && it.Type == nil
}

// IsZeroConstant 是否为整数常量 0
func (it Item) IsZeroConstant() bool {
	return it.Const && it.Value == 0 && IsInteger(it.Kind)
}

func (it Item) String() string {
	switch it.Kind {
	case ObjectRef:
		if it.Type == nil {
			return "O(null)"
		}
		return "O(" + it.Type.String() + ")"
	case ManagedPtr, TransientPtr:
		if it.Type != nil {
			return it.Kind.String() + "(" + it.Type.String() + ")"
		}
	case ManagedValue:
		return it.Type.String()
	}
	return it.Kind.String()
}

// ============================================================================
// 声明类型到引擎类型
// ============================================================================

// FromType 声明类型对应的引擎类型（未归一到栈形式）
func FromType(t *meta.Type) EngineType {
	if t == nil {
		return Invalid
	}
	if t.Kind == meta.ElemValueType && t.Class != nil && t.Class.IsPrimitive() {
		t = meta.Prim(t.Class.Primitive)
	}
	switch t.Kind {
	case meta.ElemBoolean, meta.ElemChar, meta.ElemI1, meta.ElemU1, meta.ElemI2, meta.ElemU2, meta.ElemI4:
		return Int32
	case meta.ElemU4:
		return UInt32
	case meta.ElemI8:
		return Int64
	case meta.ElemU8:
		return UInt64
	case meta.ElemI:
		return NativeInt
	case meta.ElemU:
		return NativeUInt
	case meta.ElemR4:
		return Float32
	case meta.ElemR8:
		return Float64
	case meta.ElemString, meta.ElemObject, meta.ElemClass, meta.ElemSZArray:
		return ObjectRef
	case meta.ElemValueType, meta.ElemTypedRef:
		return ManagedValue
	case meta.ElemPtr:
		return UnmanagedPtr
	case meta.ElemByRef:
		return ManagedPtr
	}
	return Invalid
}

// ItemFor 声明类型加载到栈上后的栈项
func ItemFor(t *meta.Type) Item {
	kind := FromType(t).StackKind()
	switch kind {
	case ManagedPtr, TransientPtr:
		return Item{Kind: kind, Type: t.Elem}
	case ObjectRef, ManagedValue:
		return Item{Kind: kind, Type: t}
	}
	return Item{Kind: kind}
}

// Assignable 栈项能否存入声明类型为 t 的槽（局部变量、参数、字段、返回值）
func Assignable(it Item, t *meta.Type, unsafeAllowed bool) bool {
	target := FromType(t)
	switch it.Kind {
	case Int32, NativeInt:
		switch t.Kind {
		case meta.ElemBoolean, meta.ElemChar, meta.ElemI1, meta.ElemU1, meta.ElemI2, meta.ElemU2,
			meta.ElemI4, meta.ElemU4, meta.ElemI, meta.ElemU:
			return true
		case meta.ElemPtr, meta.ElemByRef:
			// 常量 0 可以作为空指针赋给任意指针
			if it.IsZeroConstant() {
				return true
			}
			return unsafeAllowed && target == UnmanagedPtr
		}
		return false
	case Int64:
		return t.Kind == meta.ElemI8 || t.Kind == meta.ElemU8
	case NativeFloat:
		return t.Kind == meta.ElemR4 || t.Kind == meta.ElemR8
	case ObjectRef:
		if !t.IsReference() {
			return false
		}
		if it.Type == nil {
			return true
		}
		return referenceAssignable(it.Type, t)
	case ManagedPtr:
		switch t.Kind {
		case meta.ElemByRef:
			return it.Type == nil || it.Type.Equal(t.Elem) || unsafeAllowed
		case meta.ElemPtr, meta.ElemI, meta.ElemU:
			return unsafeAllowed
		}
		return false
	case TransientPtr:
		switch t.Kind {
		case meta.ElemPtr:
			return it.Type == nil || it.Type.Equal(t.Elem) || unsafeAllowed
		case meta.ElemI, meta.ElemU, meta.ElemByRef:
			return unsafeAllowed
		}
		return false
	case ManagedValue:
		return t.Kind == meta.ElemValueType && it.Type.Equal(t) ||
			t.Kind == meta.ElemTypedRef && it.Type.Equal(t)
	}
	return false
}

// referenceAssignable 引用类型 from 是否可赋给 to（CLI is-a 规则）
func referenceAssignable(from, to *meta.Type) bool {
	if from.Equal(to) || to.Kind == meta.ElemObject {
		return true
	}
	switch to.Kind {
	case meta.ElemString:
		return from.Kind == meta.ElemString
	case meta.ElemSZArray:
		if from.Kind != meta.ElemSZArray {
			return false
		}
		// 引用元素数组协变
		if from.Elem.IsReference() && to.Elem.IsReference() {
			return referenceAssignable(from.Elem, to.Elem)
		}
		return from.Elem.Equal(to.Elem)
	case meta.ElemClass:
		target := to.Class
		switch from.Kind {
		case meta.ElemClass:
			return from.Class.IsAssignableTo(target)
		case meta.ElemString, meta.ElemObject, meta.ElemSZArray:
			c := meta.LoadCorlib().ClassFor(from)
			return c != nil && c.IsAssignableTo(target)
		}
	}
	return false
}
