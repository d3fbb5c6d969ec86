package meta

import (
	"fmt"
	"strings"
)

// ============================================================================
// 模块构建器
// ============================================================================

// Builder 以编程方式构建模块，负责分配令牌
// 外部模块的类、方法和字段在首次引用时分配本模块的 TypeRef / MemberRef 令牌
type Builder struct {
	mod      *Module
	classTok map[*Class]Token
	methTok  map[*Method]Token
	fieldTok map[*Field]Token
}

// NewBuilder 创建模块构建器
func NewBuilder(name string, refs ...*Module) *Builder {
	mod := NewModule(name)
	mod.References = refs
	return &Builder{
		mod:      mod,
		classTok: make(map[*Class]Token),
		methTok:  make(map[*Method]Token),
		fieldTok: make(map[*Field]Token),
	}
}

// Module 返回正在构建的模块
func (b *Builder) Module() *Module { return b.mod }

// Class 定义类
func (b *Builder) Class(namespace, name string, parent *Class, flags ClassFlags) *Class {
	m := b.mod
	c := &Class{
		Namespace: namespace,
		Name:      name,
		Flags:     flags,
		Parent:    parent,
		Module:    m,
	}
	m.mu.Lock()
	c.Token = m.allocToken(TableTypeDef)
	m.classes[c.Token] = c
	m.mu.Unlock()
	m.Classes = append(m.Classes, c)
	b.classTok[c] = c.Token
	return c
}

// Implement 声明类实现的接口
func (b *Builder) Implement(c *Class, ifaces ...*Class) {
	c.Interfaces = append(c.Interfaces, ifaces...)
}

// Field 定义字段
func (b *Builder) Field(c *Class, name string, t *Type, flags FieldFlags) *Field {
	m := b.mod
	f := &Field{Name: name, Type: t, Owner: c, Flags: flags}
	m.mu.Lock()
	f.Token = m.allocToken(TableField)
	m.fields[f.Token] = f
	m.mu.Unlock()
	c.Fields = append(c.Fields, f)
	b.fieldTok[f] = f.Token
	return f
}

// Method 定义方法；实例方法的签名自动带 HasThis
func (b *Builder) Method(c *Class, name string, sig *Signature, flags MethodFlags) *Method {
	m := b.mod
	if flags&MethodStatic == 0 {
		sig.HasThis = true
	}
	me := &Method{Name: name, Owner: c, Sig: sig, Flags: flags, Impl: ImplIL}
	m.mu.Lock()
	me.Token = m.allocToken(TableMethod)
	m.methods[me.Token] = me
	m.mu.Unlock()
	c.Methods = append(c.Methods, me)
	b.methTok[me] = me.Token
	return me
}

// Body 设置方法体
func (b *Builder) Body(me *Method, maxStack uint16, locals []*Type, code []byte, clauses ...*ExceptionClause) *MethodBody {
	me.Impl = ImplIL
	me.Body = &MethodBody{
		MaxStack:   maxStack,
		Locals:     locals,
		InitLocals: true,
		Code:       code,
		Clauses:    clauses,
	}
	return me.Body
}

// InternalCall 标记方法为内部调用
func (b *Builder) InternalCall(me *Method) {
	me.Impl = ImplInternalCall
	me.Body = nil
}

// PInvoke 标记方法为 PInvoke 导入
func (b *Builder) PInvoke(me *Method, module, symbol string) {
	me.Impl = ImplPInvoke
	me.Body = nil
	if symbol == "" {
		symbol = me.Name
	}
	me.PInvoke = &PInvokeInfo{Module: module, Symbol: symbol}
}

// Runtime 标记方法由运行时合成
func (b *Builder) Runtime(me *Method) {
	me.Impl = ImplRuntime
	me.Body = nil
}

// ============================================================================
// 令牌分配
// ============================================================================

// ClassToken 返回类在本模块中的令牌
func (b *Builder) ClassToken(c *Class) Token {
	if tok, ok := b.classTok[c]; ok {
		return tok
	}
	m := b.mod
	m.mu.Lock()
	tok := m.allocToken(TableTypeRef)
	m.classes[tok] = c
	m.mu.Unlock()
	b.classTok[c] = tok
	return tok
}

// TypeToken 返回类型令牌，类使用 TypeDef/TypeRef，其余类型使用 TypeSpec
func (b *Builder) TypeToken(t *Type) Token {
	switch t.Kind {
	case ElemClass, ElemValueType:
		return b.ClassToken(t.Class)
	}
	m := b.mod
	m.mu.Lock()
	defer m.mu.Unlock()
	for tok, spec := range m.typeSpecs {
		if spec.Equal(t) {
			return tok
		}
	}
	tok := m.allocToken(TableTypeSpec)
	m.typeSpecs[tok] = t
	return tok
}

// MethodToken 返回方法令牌
func (b *Builder) MethodToken(me *Method) Token {
	if tok, ok := b.methTok[me]; ok {
		return tok
	}
	m := b.mod
	m.mu.Lock()
	tok := m.allocToken(TableMemberRef)
	m.methods[tok] = me
	m.mu.Unlock()
	b.methTok[me] = tok
	return tok
}

// FieldToken 返回字段令牌
func (b *Builder) FieldToken(f *Field) Token {
	if tok, ok := b.fieldTok[f]; ok {
		return tok
	}
	m := b.mod
	m.mu.Lock()
	tok := m.allocToken(TableMemberRef)
	m.fields[tok] = f
	m.mu.Unlock()
	b.fieldTok[f] = tok
	return tok
}

// StringToken 返回用户字符串令牌，相同内容共享令牌
func (b *Builder) StringToken(s string) Token {
	m := b.mod
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok, ok := m.stringIdx[s]; ok {
		return tok
	}
	tok := m.allocToken(TableString)
	m.strings[tok] = s
	m.stringIdx[s] = tok
	return tok
}

// ============================================================================
// 按名称解析（供文本汇编器使用）
// ============================================================================

// LookupType 按名称解析类型并返回令牌
func (b *Builder) LookupType(name string) (Token, error) {
	t, err := ParseType(b.mod, name)
	if err != nil {
		return 0, err
	}
	return b.TypeToken(t), nil
}

// LookupMethod 解析 "Class::Name" 或 "Class::Name(type, ...)" 形式的方法引用
func (b *Builder) LookupMethod(ref string) (Token, error) {
	owner, member, params, hasParams, err := splitMember(ref)
	if err != nil {
		return 0, err
	}
	c := b.mod.FindClass(owner)
	if c == nil {
		return 0, fmt.Errorf("%w: class %q", ErrNotFound, owner)
	}
	var want []*Type
	if hasParams {
		for _, p := range params {
			t, err := ParseType(b.mod, p)
			if err != nil {
				return 0, err
			}
			want = append(want, t)
		}
	}
	for _, me := range c.Methods {
		if me.Name != member {
			continue
		}
		if hasParams && !sameParams(me.Sig.Params, want) {
			continue
		}
		return b.MethodToken(me), nil
	}
	return 0, fmt.Errorf("%w: method %q", ErrNotFound, ref)
}

// LookupField 解析 "Class::field" 形式的字段引用
func (b *Builder) LookupField(ref string) (Token, error) {
	owner, member, _, _, err := splitMember(ref)
	if err != nil {
		return 0, err
	}
	c := b.mod.FindClass(owner)
	if c == nil {
		return 0, fmt.Errorf("%w: class %q", ErrNotFound, owner)
	}
	f := c.FindField(member)
	if f == nil {
		return 0, fmt.Errorf("%w: field %q", ErrNotFound, ref)
	}
	return b.FieldToken(f), nil
}

func sameParams(have, want []*Type) bool {
	if len(have) != len(want) {
		return false
	}
	for i := range have {
		if !have[i].Equal(want[i]) {
			return false
		}
	}
	return true
}

func splitMember(ref string) (owner, member string, params []string, hasParams bool, err error) {
	ref = stripScope(strings.TrimSpace(ref))
	if i := strings.IndexByte(ref, '('); i >= 0 {
		if !strings.HasSuffix(ref, ")") {
			return "", "", nil, false, fmt.Errorf("unterminated parameter list in %q", ref)
		}
		list := strings.TrimSpace(ref[i+1 : len(ref)-1])
		ref = ref[:i]
		hasParams = true
		if list != "" {
			for _, p := range strings.Split(list, ",") {
				params = append(params, strings.TrimSpace(p))
			}
		}
	}
	i := strings.Index(ref, "::")
	if i < 0 {
		return "", "", nil, false, fmt.Errorf("member reference %q has no '::'", ref)
	}
	return strings.TrimSpace(ref[:i]), strings.TrimSpace(ref[i+2:]), params, hasParams, nil
}

// stripScope 去掉 "[mscorlib] " 之类的程序集限定
func stripScope(s string) string {
	if strings.HasPrefix(s, "[") {
		if i := strings.IndexByte(s, ']'); i >= 0 {
			return strings.TrimSpace(s[i+1:])
		}
	}
	return s
}

var primitiveNames = map[string]*Type{
	"void":                Void,
	"bool":                Bool,
	"char":                Char,
	"int8":                Int8,
	"unsigned int8":       UInt8,
	"uint8":               UInt8,
	"int16":               Int16,
	"unsigned int16":      UInt16,
	"uint16":              UInt16,
	"int32":               Int32,
	"unsigned int32":      UInt32,
	"uint32":              UInt32,
	"int64":               Int64,
	"unsigned int64":      UInt64,
	"uint64":              UInt64,
	"float32":             Float32,
	"float64":             Float64,
	"native int":          IntPtr,
	"native unsigned int": UIntPtr,
	"native uint":         UIntPtr,
	"string":              String,
	"object":              Object,
	"typedref":            Prim(ElemTypedRef),
}

// ParseType 解析类型名称
// 支持 IL 基元关键字、"class X" / "valuetype X"、完整类名以及 "[]"、"*"、"&" 后缀
func ParseType(m *Module, name string) (*Type, error) {
	name = strings.TrimSpace(name)
	switch {
	case strings.HasSuffix(name, "[]"):
		elem, err := ParseType(m, name[:len(name)-2])
		if err != nil {
			return nil, err
		}
		return ArrayOf(elem), nil
	case strings.HasSuffix(name, "*"):
		elem, err := ParseType(m, name[:len(name)-1])
		if err != nil {
			return nil, err
		}
		return PtrTo(elem), nil
	case strings.HasSuffix(name, "&"):
		elem, err := ParseType(m, name[:len(name)-1])
		if err != nil {
			return nil, err
		}
		return ByRefTo(elem), nil
	}
	if t, ok := primitiveNames[name]; ok {
		return t, nil
	}
	valueType := false
	switch {
	case strings.HasPrefix(name, "class "):
		name = name[len("class "):]
	case strings.HasPrefix(name, "valuetype "):
		name = name[len("valuetype "):]
		valueType = true
	}
	name = stripScope(strings.TrimSpace(name))
	c := m.FindClass(name)
	if c == nil {
		return nil, fmt.Errorf("%w: type %q", ErrNotFound, name)
	}
	if valueType && !c.IsPrimitive() {
		return ValueOf(c), nil
	}
	return c.Type(), nil
}
