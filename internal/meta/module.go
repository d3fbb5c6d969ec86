package meta

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ============================================================================
// 元数据令牌
// ============================================================================

// Token 元数据令牌（高 8 位为表号，低 24 位为行号）
type Token uint32

// 元数据表
const (
	TableTypeRef   = 0x01
	TableTypeDef   = 0x02
	TableField     = 0x04
	TableMethod    = 0x06
	TableMemberRef = 0x0A
	TableTypeSpec  = 0x1B
	TableString    = 0x70
)

// MakeToken 组合令牌
func MakeToken(table uint8, row uint32) Token {
	return Token(uint32(table)<<24 | row&0x00FFFFFF)
}

// Table 表号
func (t Token) Table() uint8 { return uint8(t >> 24) }

// Row 行号
func (t Token) Row() uint32 { return uint32(t) & 0x00FFFFFF }

func (t Token) String() string { return fmt.Sprintf("0x%08X", uint32(t)) }

// 解析错误
var (
	ErrBadToken      = errors.New("bad metadata token")
	ErrNotFound      = errors.New("metadata entity not found")
	ErrMissingCorlib = errors.New("module has no corlib reference")
)

// ============================================================================
// 类
// ============================================================================

// ClassFlags 类标志
type ClassFlags uint32

const (
	ClassInterface ClassFlags = 1 << iota
	ClassValueType
	ClassAbstract
	ClassSealed
	ClassPrimitive  // 基元值类（System.Int32 等），Primitive 字段有效
	ClassBeforeInit // 静态构造函数可以延迟执行
	ClassDelegate   // 委托类型，Invoke 由运行时提供
)

// Class 类型定义
type Class struct {
	Token      Token
	Namespace  string
	Name       string
	Flags      ClassFlags
	Parent     *Class
	Interfaces []*Class
	Fields     []*Field
	Methods    []*Method
	Module     *Module
	Primitive  ElementType
}

// FullName 完整类名
func (c *Class) FullName() string {
	if c == nil {
		return "<nil>"
	}
	if c.Namespace == "" {
		return c.Name
	}
	return c.Namespace + "." + c.Name
}

func (c *Class) String() string { return c.FullName() }

// IsInterface 是否为接口
func (c *Class) IsInterface() bool { return c.Flags&ClassInterface != 0 }

// IsValueType 是否为值类型
func (c *Class) IsValueType() bool { return c.Flags&ClassValueType != 0 }

// IsAbstract 是否为抽象类
func (c *Class) IsAbstract() bool { return c.Flags&ClassAbstract != 0 }

// IsDelegate 是否为委托
func (c *Class) IsDelegate() bool { return c.Flags&ClassDelegate != 0 }

// IsPrimitive 是否为基元值类
func (c *Class) IsPrimitive() bool { return c.Flags&ClassPrimitive != 0 }

// Type 返回类对应的签名类型
func (c *Class) Type() *Type {
	if c.IsPrimitive() {
		return Prim(c.Primitive)
	}
	if c.Namespace == "System" && c.Module != nil && c.Module.IsCorlib {
		switch c.Name {
		case "String":
			return String
		case "Object":
			return Object
		}
	}
	return ClassOf(c)
}

// IsSubclassOf c 是否等于 base 或派生自 base
func (c *Class) IsSubclassOf(base *Class) bool {
	for k := c; k != nil; k = k.Parent {
		if k == base {
			return true
		}
	}
	return false
}

// Implements c 或其父类是否实现接口 iface
func (c *Class) Implements(iface *Class) bool {
	for k := c; k != nil; k = k.Parent {
		for _, i := range k.Interfaces {
			if i == iface || i.Implements(iface) {
				return true
			}
		}
	}
	return false
}

// IsAssignableTo c 的实例能否赋值给 target 类型的位置
func (c *Class) IsAssignableTo(target *Class) bool {
	if c == target {
		return true
	}
	if target.IsInterface() {
		return c.Implements(target)
	}
	return c.IsSubclassOf(target)
}

// FindMethod 按名称和参数个数查找方法，paramCount < 0 时忽略参数个数
func (c *Class) FindMethod(name string, paramCount int) *Method {
	for _, m := range c.Methods {
		if m.Name == name && (paramCount < 0 || len(m.Sig.Params) == paramCount) {
			return m
		}
	}
	return nil
}

// FindField 按名称查找字段（包括父类）
func (c *Class) FindField(name string) *Field {
	for k := c; k != nil; k = k.Parent {
		for _, f := range k.Fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

// StaticConstructor 返回 .cctor，没有时返回 nil
func (c *Class) StaticConstructor() *Method {
	for _, m := range c.Methods {
		if m.IsStaticConstructor() {
			return m
		}
	}
	return nil
}

// ============================================================================
// 字段
// ============================================================================

// FieldFlags 字段标志
type FieldFlags uint16

const (
	FieldStatic FieldFlags = 1 << iota
	FieldThreadStatic
	FieldLiteral
	FieldInitOnly
)

// Field 字段定义
type Field struct {
	Token Token
	Name  string
	Type  *Type
	Owner *Class
	Flags FieldFlags
}

// IsStatic 是否为静态字段（线程静态字段也是静态的）
func (f *Field) IsStatic() bool { return f.Flags&(FieldStatic|FieldThreadStatic) != 0 }

// IsThreadStatic 是否为线程静态字段
func (f *Field) IsThreadStatic() bool { return f.Flags&FieldThreadStatic != 0 }

func (f *Field) String() string { return f.Owner.FullName() + "::" + f.Name }

// ============================================================================
// 方法
// ============================================================================

// MethodFlags 方法标志
type MethodFlags uint16

const (
	MethodStatic MethodFlags = 1 << iota
	MethodVirtual
	MethodAbstract
	MethodNewSlot
	MethodFinal
)

// ImplKind 方法实现方式
type ImplKind uint8

const (
	ImplIL           ImplKind = iota // 有 IL 方法体
	ImplInternalCall                 // 引擎内部调用
	ImplPInvoke                      // 外部共享库
	ImplRuntime                      // 运行时合成（委托 Invoke 等）
)

func (k ImplKind) String() string {
	switch k {
	case ImplIL:
		return "il"
	case ImplInternalCall:
		return "internalcall"
	case ImplPInvoke:
		return "pinvoke"
	case ImplRuntime:
		return "runtime"
	}
	return "unknown"
}

// PInvokeInfo PInvoke 导入信息
type PInvokeInfo struct {
	Module string
	Symbol string
}

// Method 方法定义
type Method struct {
	Token   Token
	Name    string
	Owner   *Class
	Sig     *Signature
	Flags   MethodFlags
	Impl    ImplKind
	Body    *MethodBody
	PInvoke *PInvokeInfo
}

// FullName 完整方法名
func (m *Method) FullName() string {
	if m.Owner == nil {
		return m.Name
	}
	return m.Owner.FullName() + "::" + m.Name
}

func (m *Method) String() string { return m.FullName() }

// IsStatic 是否为静态方法
func (m *Method) IsStatic() bool { return m.Flags&MethodStatic != 0 }

// IsVirtual 是否为虚方法
func (m *Method) IsVirtual() bool { return m.Flags&MethodVirtual != 0 }

// IsAbstract 是否为抽象方法
func (m *Method) IsAbstract() bool { return m.Flags&MethodAbstract != 0 }

// IsConstructor 是否为实例构造函数
func (m *Method) IsConstructor() bool { return m.Name == ".ctor" && !m.IsStatic() }

// IsStaticConstructor 是否为类型初始化器
func (m *Method) IsStaticConstructor() bool { return m.Name == ".cctor" && m.IsStatic() }

// ParamCount 参数个数（包括隐式 this）
func (m *Method) ParamCount() int {
	n := len(m.Sig.Params)
	if m.Sig.HasThis {
		n++
	}
	return n
}

// ThisType 返回 this 的类型：引用类型为类本身，值类型为托管指针
func (m *Method) ThisType() *Type {
	if m.Owner.IsValueType() {
		return ByRefTo(ValueOf(m.Owner))
	}
	return m.Owner.Type()
}

// ============================================================================
// 方法体
// ============================================================================

// ClauseKind 异常子句种类
type ClauseKind uint8

const (
	ClauseCatch ClauseKind = iota
	ClauseFilter
	ClauseFinally
	ClauseFault
)

func (k ClauseKind) String() string {
	switch k {
	case ClauseCatch:
		return "catch"
	case ClauseFilter:
		return "filter"
	case ClauseFinally:
		return "finally"
	case ClauseFault:
		return "fault"
	}
	return "unknown"
}

// ExceptionClause 异常处理子句
type ExceptionClause struct {
	Kind          ClauseKind
	TryOffset     uint32
	TryLength     uint32
	HandlerOffset uint32
	HandlerLength uint32
	CatchType     *Class
	FilterOffset  uint32
}

// TryEnd try 块结束偏移（不含）
func (c *ExceptionClause) TryEnd() uint32 { return c.TryOffset + c.TryLength }

// HandlerEnd 处理块结束偏移（不含）
func (c *ExceptionClause) HandlerEnd() uint32 { return c.HandlerOffset + c.HandlerLength }

// InTry 偏移是否在 try 块内
func (c *ExceptionClause) InTry(off uint32) bool {
	return off >= c.TryOffset && off < c.TryEnd()
}

// InHandler 偏移是否在处理块内
func (c *ExceptionClause) InHandler(off uint32) bool {
	return off >= c.HandlerOffset && off < c.HandlerEnd()
}

// MethodBody IL 方法体
type MethodBody struct {
	MaxStack   uint16
	Locals     []*Type
	InitLocals bool
	Code       []byte
	Clauses    []*ExceptionClause
}

// ============================================================================
// 模块
// ============================================================================

// Module 已加载的模块（只读，构建完成后可在多个线程间共享）
type Module struct {
	Name       string
	Mvid       uuid.UUID
	IsCorlib   bool
	Classes    []*Class
	References []*Module

	mu        sync.RWMutex
	classes   map[Token]*Class
	methods   map[Token]*Method
	fields    map[Token]*Field
	typeSpecs map[Token]*Type
	strings   map[Token]string
	stringIdx map[string]Token
	nextRow   map[uint8]uint32
}

// NewModule 创建空模块
func NewModule(name string) *Module {
	return &Module{
		Name:      name,
		Mvid:      uuid.New(),
		classes:   make(map[Token]*Class),
		methods:   make(map[Token]*Method),
		fields:    make(map[Token]*Field),
		typeSpecs: make(map[Token]*Type),
		strings:   make(map[Token]string),
		stringIdx: make(map[string]Token),
		nextRow:   make(map[uint8]uint32),
	}
}

func (m *Module) allocToken(table uint8) Token {
	m.nextRow[table]++
	return MakeToken(table, m.nextRow[table])
}

// Corlib 返回模块引用的核心库（自身为核心库时返回自身）
func (m *Module) Corlib() *Module {
	if m.IsCorlib {
		return m
	}
	for _, r := range m.References {
		if r.IsCorlib {
			return r
		}
	}
	return nil
}

// ResolveClass 解析类令牌（TypeDef / TypeRef）
func (m *Module) ResolveClass(tok Token) (*Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.classes[tok]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: class %s in %s", ErrBadToken, tok, m.Name)
}

// ResolveType 解析类型令牌（TypeDef / TypeRef / TypeSpec）
func (m *Module) ResolveType(tok Token) (*Type, error) {
	if tok.Table() == TableTypeSpec {
		m.mu.RLock()
		defer m.mu.RUnlock()
		if t, ok := m.typeSpecs[tok]; ok {
			return t, nil
		}
		return nil, fmt.Errorf("%w: typespec %s in %s", ErrBadToken, tok, m.Name)
	}
	c, err := m.ResolveClass(tok)
	if err != nil {
		return nil, err
	}
	return c.Type(), nil
}

// ResolveMethod 解析方法令牌（MethodDef / MemberRef）
func (m *Module) ResolveMethod(tok Token) (*Method, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if me, ok := m.methods[tok]; ok {
		return me, nil
	}
	return nil, fmt.Errorf("%w: method %s in %s", ErrBadToken, tok, m.Name)
}

// ResolveField 解析字段令牌（FieldDef / MemberRef）
func (m *Module) ResolveField(tok Token) (*Field, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f, ok := m.fields[tok]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: field %s in %s", ErrBadToken, tok, m.Name)
}

// UserString 解析用户字符串令牌
func (m *Module) UserString(tok Token) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.strings[tok]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: string %s in %s", ErrBadToken, tok, m.Name)
}

// FindClass 按完整名称查找类，先查本模块再查引用模块
func (m *Module) FindClass(fullName string) *Class {
	for _, c := range m.Classes {
		if c.FullName() == fullName {
			return c
		}
	}
	for _, r := range m.References {
		if c := r.FindClass(fullName); c != nil {
			return c
		}
	}
	return nil
}

// Methods 返回模块内定义的所有方法
func (m *Module) Methods() []*Method {
	var out []*Method
	for _, c := range m.Classes {
		out = append(out, c.Methods...)
	}
	return out
}
