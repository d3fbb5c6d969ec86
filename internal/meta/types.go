// Package meta 定义执行引擎使用的内存元数据模型（类型、类、字段、方法、方法体）
package meta

import (
	"fmt"
	"strings"
)

// ============================================================================
// 元素类型
// ============================================================================

// ElementType 元数据签名中的元素类型
type ElementType uint8

const (
	ElemVoid ElementType = iota
	ElemBoolean
	ElemChar
	ElemI1
	ElemU1
	ElemI2
	ElemU2
	ElemI4
	ElemU4
	ElemI8
	ElemU8
	ElemR4
	ElemR8
	ElemI
	ElemU
	ElemString
	ElemObject
	ElemTypedRef
	ElemClass     // 引用类型实例
	ElemValueType // 值类型实例
	ElemPtr       // 非托管指针
	ElemByRef     // 托管指针
	ElemSZArray   // 一维零基数组
)

var elementNames = [...]string{
	ElemVoid:      "void",
	ElemBoolean:   "bool",
	ElemChar:      "char",
	ElemI1:        "int8",
	ElemU1:        "unsigned int8",
	ElemI2:        "int16",
	ElemU2:        "unsigned int16",
	ElemI4:        "int32",
	ElemU4:        "unsigned int32",
	ElemI8:        "int64",
	ElemU8:        "unsigned int64",
	ElemR4:        "float32",
	ElemR8:        "float64",
	ElemI:         "native int",
	ElemU:         "native unsigned int",
	ElemString:    "string",
	ElemObject:    "object",
	ElemTypedRef:  "typedref",
	ElemClass:     "class",
	ElemValueType: "valuetype",
	ElemPtr:       "*",
	ElemByRef:     "&",
	ElemSZArray:   "[]",
}

func (e ElementType) String() string {
	if int(e) < len(elementNames) {
		return elementNames[e]
	}
	return fmt.Sprintf("elem(%d)", uint8(e))
}

// IsPrimitive 是否为基元类型
func (e ElementType) IsPrimitive() bool {
	return e >= ElemBoolean && e <= ElemU
}

// ============================================================================
// 类型
// ============================================================================

// Type 签名类型
// Class 仅对 ElemClass / ElemValueType 有效，Elem 仅对指针、引用和数组有效
type Type struct {
	Kind  ElementType
	Class *Class
	Elem  *Type
}

// 基元类型单例，构建后只读
var primitives = func() (p [ElemTypedRef + 1]*Type) {
	for k := ElemVoid; k <= ElemTypedRef; k++ {
		p[k] = &Type{Kind: k}
	}
	return p
}()

// Prim 返回基元类型
func Prim(k ElementType) *Type {
	if int(k) < len(primitives) {
		return primitives[k]
	}
	panic(fmt.Sprintf("meta: %s is not a primitive element type", k))
}

// 常用类型
var (
	Void    = Prim(ElemVoid)
	Bool    = Prim(ElemBoolean)
	Char    = Prim(ElemChar)
	Int8    = Prim(ElemI1)
	UInt8   = Prim(ElemU1)
	Int16   = Prim(ElemI2)
	UInt16  = Prim(ElemU2)
	Int32   = Prim(ElemI4)
	UInt32  = Prim(ElemU4)
	Int64   = Prim(ElemI8)
	UInt64  = Prim(ElemU8)
	Float32 = Prim(ElemR4)
	Float64 = Prim(ElemR8)
	IntPtr  = Prim(ElemI)
	UIntPtr = Prim(ElemU)
	String  = Prim(ElemString)
	Object  = Prim(ElemObject)
)

// ClassOf 引用类型实例
func ClassOf(c *Class) *Type {
	if c.IsValueType() {
		return &Type{Kind: ElemValueType, Class: c}
	}
	return &Type{Kind: ElemClass, Class: c}
}

// ValueOf 值类型实例
func ValueOf(c *Class) *Type {
	return &Type{Kind: ElemValueType, Class: c}
}

// PtrTo 非托管指针
func PtrTo(t *Type) *Type {
	return &Type{Kind: ElemPtr, Elem: t}
}

// ByRefTo 托管指针
func ByRefTo(t *Type) *Type {
	return &Type{Kind: ElemByRef, Elem: t}
}

// ArrayOf 一维数组
func ArrayOf(t *Type) *Type {
	return &Type{Kind: ElemSZArray, Elem: t}
}

// Equal 结构相等
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil {
		return false
	}
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case ElemClass, ElemValueType:
		return t.Class == o.Class
	case ElemPtr, ElemByRef, ElemSZArray:
		return t.Elem.Equal(o.Elem)
	}
	return true
}

// IsValueType 是否为值类型（包括基元类型）
func (t *Type) IsValueType() bool {
	switch t.Kind {
	case ElemValueType, ElemTypedRef:
		return true
	}
	return t.Kind.IsPrimitive()
}

// IsReference 是否为对象引用
func (t *Type) IsReference() bool {
	switch t.Kind {
	case ElemString, ElemObject, ElemClass, ElemSZArray:
		return true
	}
	return false
}

// IsVoid 是否为 void
func (t *Type) IsVoid() bool {
	return t == nil || t.Kind == ElemVoid
}

func (t *Type) String() string {
	if t == nil {
		return "void"
	}
	switch t.Kind {
	case ElemClass:
		return "class " + t.Class.FullName()
	case ElemValueType:
		return "valuetype " + t.Class.FullName()
	case ElemPtr:
		return t.Elem.String() + "*"
	case ElemByRef:
		return t.Elem.String() + "&"
	case ElemSZArray:
		return t.Elem.String() + "[]"
	}
	return t.Kind.String()
}

// ============================================================================
// 签名
// ============================================================================

// Signature 方法签名
type Signature struct {
	HasThis bool
	Params  []*Type
	Return  *Type
}

// NewSignature 创建静态方法签名
func NewSignature(ret *Type, params ...*Type) *Signature {
	if ret == nil {
		ret = Void
	}
	return &Signature{Params: params, Return: ret}
}

// NewInstanceSignature 创建实例方法签名
func NewInstanceSignature(ret *Type, params ...*Type) *Signature {
	s := NewSignature(ret, params...)
	s.HasThis = true
	return s
}

func (s *Signature) String() string {
	var sb strings.Builder
	if s.HasThis {
		sb.WriteString("instance ")
	}
	sb.WriteString(s.Return.String())
	sb.WriteString("(")
	for i, p := range s.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteString(")")
	return sb.String()
}

// Matches 参数和返回类型是否逐一相同（忽略 HasThis），用于重写和接口实现匹配
func (s *Signature) Matches(o *Signature) bool {
	if len(s.Params) != len(o.Params) || !s.Return.Equal(o.Return) {
		return false
	}
	for i := range s.Params {
		if !s.Params[i].Equal(o.Params[i]) {
			return false
		}
	}
	return true
}
