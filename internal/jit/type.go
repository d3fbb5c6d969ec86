package jit

import (
	"fmt"
	"strings"
)

// ============================================================================
// 类型
// ============================================================================

// Kind 原生类型种类
type Kind uint8

const (
	KindVoid Kind = iota
	KindSByte
	KindUByte
	KindShort
	KindUShort
	KindInt
	KindUInt
	KindNInt
	KindNUInt
	KindLong
	KindULong
	KindFloat32
	KindFloat64
	KindNFloat
	KindPtr    // 地址：Block 内偏移或寄存器单元
	KindRef    // 托管对象引用
	KindStruct // 按值传递的结构体
)

var kindNames = [...]string{
	"void", "sbyte", "ubyte", "short", "ushort", "int", "uint", "nint", "nuint",
	"long", "ulong", "float32", "float64", "nfloat", "ptr", "ref", "struct",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Type 原生类型，创建后不可变
type Type struct {
	kind   Kind
	size   int
	align  int
	name   string
	fields []StructField
	refs   bool // 结构体是否包含引用字段
}

// StructField 结构体字段
type StructField struct {
	Name   string
	Type   *Type
	Offset int
}

// 预定义类型单例
var (
	TypeVoid    = &Type{kind: KindVoid, name: "void"}
	TypeSByte   = &Type{kind: KindSByte, size: 1, align: 1, name: "sbyte"}
	TypeUByte   = &Type{kind: KindUByte, size: 1, align: 1, name: "ubyte"}
	TypeShort   = &Type{kind: KindShort, size: 2, align: 2, name: "short"}
	TypeUShort  = &Type{kind: KindUShort, size: 2, align: 2, name: "ushort"}
	TypeInt     = &Type{kind: KindInt, size: 4, align: 4, name: "int"}
	TypeUInt    = &Type{kind: KindUInt, size: 4, align: 4, name: "uint"}
	TypeNInt    = &Type{kind: KindNInt, size: 8, align: 8, name: "nint"}
	TypeNUInt   = &Type{kind: KindNUInt, size: 8, align: 8, name: "nuint"}
	TypeLong    = &Type{kind: KindLong, size: 8, align: 8, name: "long"}
	TypeULong   = &Type{kind: KindULong, size: 8, align: 8, name: "ulong"}
	TypeFloat32 = &Type{kind: KindFloat32, size: 4, align: 4, name: "float32"}
	TypeFloat64 = &Type{kind: KindFloat64, size: 8, align: 8, name: "float64"}
	TypeNFloat  = &Type{kind: KindNFloat, size: 8, align: 8, name: "nfloat"}
	TypePtr     = &Type{kind: KindPtr, size: 8, align: 8, name: "ptr"}
	TypeRef     = &Type{kind: KindRef, size: 8, align: 8, name: "ref", refs: true}
)

// NewStruct 按字段顺序和自然对齐创建结构体类型
func NewStruct(name string, fields ...StructField) *Type {
	t := &Type{kind: KindStruct, name: name, align: 1}
	off := 0
	for _, f := range fields {
		a := f.Type.Align()
		off = alignUp(off, a)
		f.Offset = off
		off += f.Type.Size()
		if a > t.align {
			t.align = a
		}
		if f.Type.HasRefs() {
			t.refs = true
		}
		t.fields = append(t.fields, f)
	}
	t.size = alignUp(off, t.align)
	return t
}

// NewOpaque 只有大小和对齐的结构体（字段偏移由调用方计算）
func NewOpaque(name string, size, align int, fields ...StructField) *Type {
	if align <= 0 {
		align = 1
	}
	t := &Type{kind: KindStruct, name: name, size: alignUp(size, align), align: align, fields: fields}
	for _, f := range fields {
		if f.Type.HasRefs() {
			t.refs = true
		}
	}
	return t
}

func alignUp(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) &^ (a - 1)
}

func (t *Type) Kind() Kind { return t.kind }
func (t *Type) Size() int { return t.size }
func (t *Type) Align() int { return t.align }
func (t *Type) Fields() []StructField { return t.fields }
func (t *Type) HasRefs() bool { return t.refs }
func (t *Type) IsStruct() bool { return t.kind == KindStruct }
func (t *Type) IsFloat() bool { return t.kind >= KindFloat32 && t.kind <= KindNFloat }
func (t *Type) IsPointerLike() bool { return t.kind == KindPtr || t.kind == KindRef }
func (t *Type) IsInteger() bool { return t.kind >= KindSByte && t.kind <= KindULong }
func (t *Type) String() string { return t.name }
func (t *Type) Field(i int) StructField { return t.fields[i] }

// IsUnsigned 无符号整数
func (t *Type) IsUnsigned() bool {
	switch t.kind {
	case KindUByte, KindUShort, KindUInt, KindNUInt, KindULong:
		return true
	}
	return false
}

// Bits 整数位宽
func (t *Type) Bits() int {
	switch t.kind {
	case KindSByte, KindUByte:
		return 8
	case KindShort, KindUShort:
		return 16
	case KindInt, KindUInt:
		return 32
	}
	return 64
}

// Promote 参与运算时提升后的类型：窄整数提升为 int，float32 保持
func (t *Type) Promote() *Type {
	switch t.kind {
	case KindSByte, KindUByte, KindShort, KindUShort:
		return TypeInt
	}
	return t
}

// ============================================================================
// 签名
// ============================================================================

// ABI 调用约定
type ABI uint8

const (
	ABICDecl ABI = iota
	ABIVararg
)

// Signature 函数签名
type Signature struct {
	ABI    ABI
	Return *Type
	Params []*Type
}

// NewSignature 创建签名
func NewSignature(ret *Type, params ...*Type) *Signature {
	if ret == nil {
		ret = TypeVoid
	}
	return &Signature{Return: ret, Params: params}
}

func (s *Signature) String() string {
	var b strings.Builder
	b.WriteString(s.Return.String())
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	return b.String()
}
