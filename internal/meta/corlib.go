package meta

import (
	"encoding/binary"
	"sync"
)

// ============================================================================
// 核心库
// ============================================================================

// CorlibName 核心库模块名
const CorlibName = "mscorlib"

// Corlib 核心库，进程内唯一，初始化后只读
type Corlib struct {
	Module *Module

	Object            *Class
	ValueType         *Class
	Enum              *Class
	String            *Class
	Array             *Class
	Decimal           *Class
	Delegate          *Class
	MulticastDelegate *Class
	Exception         *Class
	SystemException   *Class
	NullReference     *Class
	IndexOutOfRange   *Class
	DivideByZero      *Class
	Arithmetic        *Class
	Overflow          *Class
	InvalidCast       *Class
	OutOfMemory       *Class
	MissingMethod     *Class
	ArrayTypeMismatch *Class
	InvalidProgram    *Class

	prims map[ElementType]*Class
}

var (
	corlibOnce sync.Once
	corlib     *Corlib
)

// LoadCorlib 返回核心库
func LoadCorlib() *Corlib {
	corlibOnce.Do(func() {
		corlib = buildCorlib()
	})
	return corlib
}

// Primitive 返回基元类型对应的值类
func (c *Corlib) Primitive(k ElementType) *Class {
	return c.prims[k]
}

// ClassFor 返回类型对应的类（装箱后的类、字符串类、数组类等）
func (c *Corlib) ClassFor(t *Type) *Class {
	switch t.Kind {
	case ElemClass, ElemValueType:
		return t.Class
	case ElemString:
		return c.String
	case ElemObject:
		return c.Object
	case ElemSZArray:
		return c.Array
	}
	return c.prims[t.Kind]
}

func buildCorlib() *Corlib {
	b := NewBuilder(CorlibName)
	m := b.Module()
	m.IsCorlib = true
	c := &Corlib{Module: m, prims: make(map[ElementType]*Class)}

	c.Object = b.Class("System", "Object", nil, 0)
	c.ValueType = b.Class("System", "ValueType", c.Object, ClassAbstract)
	c.Enum = b.Class("System", "Enum", c.ValueType, ClassAbstract)
	c.String = b.Class("System", "String", c.Object, ClassSealed)
	c.Array = b.Class("System", "Array", c.Object, ClassAbstract)

	prims := []struct {
		name string
		kind ElementType
	}{
		{"Void", ElemVoid},
		{"Boolean", ElemBoolean},
		{"Char", ElemChar},
		{"SByte", ElemI1},
		{"Byte", ElemU1},
		{"Int16", ElemI2},
		{"UInt16", ElemU2},
		{"Int32", ElemI4},
		{"UInt32", ElemU4},
		{"Int64", ElemI8},
		{"UInt64", ElemU8},
		{"Single", ElemR4},
		{"Double", ElemR8},
		{"IntPtr", ElemI},
		{"UIntPtr", ElemU},
	}
	for _, p := range prims {
		k := b.Class("System", p.name, c.ValueType, ClassValueType|ClassSealed|ClassPrimitive)
		k.Primitive = p.kind
		c.prims[p.kind] = k
	}

	c.Decimal = b.Class("System", "Decimal", c.ValueType, ClassValueType|ClassSealed)
	b.Field(c.Decimal, "flags", Int32, 0)
	b.Field(c.Decimal, "hi", Int32, 0)
	b.Field(c.Decimal, "lo", Int32, 0)
	b.Field(c.Decimal, "mid", Int32, 0)

	// System.Object
	ctor := b.Method(c.Object, ".ctor", NewSignature(Void), 0)
	b.Body(ctor, 0, nil, ilRet())
	for _, v := range []struct {
		name string
		sig  *Signature
	}{
		{"GetHashCode", NewSignature(Int32)},
		{"ToString", NewSignature(String)},
		{"Equals", NewSignature(Bool, Object)},
	} {
		b.InternalCall(b.Method(c.Object, v.name, v.sig, MethodVirtual))
	}

	// System.String
	b.InternalCall(b.Method(c.String, ".ctor", NewSignature(Void, Char, Int32), 0))
	b.InternalCall(b.Method(c.String, "get_Length", NewSignature(Int32), 0))
	b.InternalCall(b.Method(c.String, "get_Chars", NewSignature(Char, Int32), 0))
	b.InternalCall(b.Method(c.String, "Concat", NewSignature(String, String, String), MethodStatic))
	b.InternalCall(b.Method(c.String, "Equals", NewSignature(Bool, String, String), MethodStatic))

	// System.Exception 及系统异常
	c.Exception = b.Class("System", "Exception", c.Object, 0)
	msg := b.Field(c.Exception, "_message", String, 0)
	ector := b.Method(c.Exception, ".ctor", NewSignature(Void), 0)
	b.Body(ector, 0, nil, ilRet())
	ectorMsg := b.Method(c.Exception, ".ctor", NewSignature(Void, String), 0)
	b.Body(ectorMsg, 2, nil, ilStoreArgField(b.FieldToken(msg)))
	getMsg := b.Method(c.Exception, "get_Message", NewSignature(String), MethodVirtual)
	b.Body(getMsg, 1, nil, ilLoadThisField(b.FieldToken(msg)))

	c.SystemException = c.exception(b, "SystemException", c.Exception)
	c.NullReference = c.exception(b, "NullReferenceException", c.SystemException)
	c.IndexOutOfRange = c.exception(b, "IndexOutOfRangeException", c.SystemException)
	c.Arithmetic = c.exception(b, "ArithmeticException", c.SystemException)
	c.DivideByZero = c.exception(b, "DivideByZeroException", c.Arithmetic)
	c.Overflow = c.exception(b, "OverflowException", c.Arithmetic)
	c.InvalidCast = c.exception(b, "InvalidCastException", c.SystemException)
	c.OutOfMemory = c.exception(b, "OutOfMemoryException", c.SystemException)
	c.MissingMethod = c.exception(b, "MissingMethodException", c.SystemException)
	c.ArrayTypeMismatch = c.exception(b, "ArrayTypeMismatchException", c.SystemException)
	c.InvalidProgram = c.exception(b, "InvalidProgramException", c.SystemException)

	// 委托
	c.Delegate = b.Class("System", "Delegate", c.Object, ClassAbstract)
	b.Field(c.Delegate, "target", Object, 0)
	b.Field(c.Delegate, "method", IntPtr, 0)
	c.MulticastDelegate = b.Class("System", "MulticastDelegate", c.Delegate, ClassAbstract)

	// 控制台与数学
	console := b.Class("System", "Console", c.Object, ClassAbstract|ClassSealed)
	for _, t := range []*Type{String, Int32, Int64, Float64, Bool, Char, Object} {
		b.InternalCall(b.Method(console, "WriteLine", NewSignature(Void, t), MethodStatic))
	}
	b.InternalCall(b.Method(console, "WriteLine", NewSignature(Void), MethodStatic))
	b.InternalCall(b.Method(console, "Write", NewSignature(Void, String), MethodStatic))

	math := b.Class("System", "Math", c.Object, ClassAbstract|ClassSealed)
	b.InternalCall(b.Method(math, "Sqrt", NewSignature(Float64, Float64), MethodStatic))
	b.InternalCall(b.Method(math, "Pow", NewSignature(Float64, Float64, Float64), MethodStatic))
	b.InternalCall(b.Method(math, "Abs", NewSignature(Int32, Int32), MethodStatic))
	b.InternalCall(b.Method(math, "Abs", NewSignature(Float64, Float64), MethodStatic))

	// 加密原语通过内部调用桥接到宿主实现
	bytes := ArrayOf(UInt8)
	const crypto = "System.Security.Cryptography"
	sha3 := b.Class(crypto, "SHA3_256", c.Object, ClassAbstract|ClassSealed)
	b.InternalCall(b.Method(sha3, "HashData", NewSignature(bytes, bytes), MethodStatic))
	blake := b.Class(crypto, "BLAKE2b", c.Object, ClassAbstract|ClassSealed)
	b.InternalCall(b.Method(blake, "HashData", NewSignature(bytes, bytes), MethodStatic))
	rfc := b.Class(crypto, "Rfc2898DeriveBytes", c.Object, ClassAbstract|ClassSealed)
	b.InternalCall(b.Method(rfc, "Pbkdf2", NewSignature(bytes, bytes, bytes, Int32, Int32), MethodStatic))
	hkdf := b.Class(crypto, "HKDF", c.Object, ClassAbstract|ClassSealed)
	b.InternalCall(b.Method(hkdf, "DeriveKey", NewSignature(bytes, bytes, Int32, bytes, bytes), MethodStatic))

	conv := b.Class("System", "Convert", c.Object, ClassAbstract|ClassSealed)
	b.InternalCall(b.Method(conv, "ToHexString", NewSignature(String, bytes), MethodStatic))
	enc := b.Class("System.Text", "Encoding", c.Object, ClassAbstract)
	b.InternalCall(b.Method(enc, "GetUTF8Bytes", NewSignature(bytes, String), MethodStatic))

	return c
}

func (c *Corlib) exception(b *Builder, name string, parent *Class) *Class {
	k := b.Class("System", name, parent, 0)
	b.Body(b.Method(k, ".ctor", NewSignature(Void), 0), 0, nil, ilRet())
	return k
}

// 核心库中的少量 IL 方法体直接以字节编码
const (
	ilLdarg0 = 0x02
	ilLdarg1 = 0x03
	ilRetOp  = 0x2A
	ilLdfld  = 0x7B
	ilStfld  = 0x7D
)

func ilRet() []byte { return []byte{ilRetOp} }

func ilStoreArgField(tok Token) []byte {
	code := []byte{ilLdarg0, ilLdarg1, ilStfld, 0, 0, 0, 0, ilRetOp}
	binary.LittleEndian.PutUint32(code[3:], uint32(tok))
	return code
}

func ilLoadThisField(tok Token) []byte {
	code := []byte{ilLdarg0, ilLdfld, 0, 0, 0, 0, ilRetOp}
	binary.LittleEndian.PutUint32(code[2:], uint32(tok))
	return code
}
