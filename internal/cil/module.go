package cil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tangzhangming/ilengine/internal/meta"
)

// ============================================================================
// 模块文本
//
//   .module NAME
//   .reference NAME
//   .class [interface|abstract|sealed|valuetype|beforefieldinit] Ns.Name
//          [extends Ns.Parent] [implements Ns.I1, Ns.I2]
//   {
//     .field [static|threadstatic|literal|initonly] TYPE name
//     .method [static|virtual|abstract|newslot|final] RET name(T1, T2)
//             [internalcall | runtime | pinvoke "lib" ["symbol"]]
//     {
//       方法体，格式同 Assemble
//     }
//   }
//
// 类先全部声明，再解析父类、成员签名，最后汇编方法体，成员之间可以前后引用
// ============================================================================

// ModuleOptions 模块汇编选项
type ModuleOptions struct {
	Name   string         // 没有 .module 指令时的模块名
	Corlib *meta.Module   // 核心库，总是被引用
	Import ImportFunc     // 解析 .reference，为 nil 时不允许引用其它模块
	Refs   []*meta.Module // 额外引用的模块
}

// ImportFunc 按名称加载被引用的模块
type ImportFunc func(name string) (*meta.Module, error)

type memberDecl struct {
	line     int
	header   string
	body     []string
	bodyLine int
	hasBody  bool
}

type classDecl struct {
	line       int
	cls        *meta.Class
	valueType  bool
	extends    string
	implements []string
	members    []*memberDecl
}

type moduleAsm struct {
	opts    ModuleOptions
	name    string
	refs    []*meta.Module
	classes []*classDecl
	b       *meta.Builder
}

// AssembleModule 汇编模块文本
func AssembleModule(src string, opts ModuleOptions) (*meta.Module, error) {
	a := &moduleAsm{opts: opts, name: opts.Name}
	if err := a.scan(strings.Split(src, "\n")); err != nil {
		return nil, err
	}
	refs := a.refs
	if opts.Corlib != nil {
		refs = append([]*meta.Module{opts.Corlib}, refs...)
	}
	refs = append(refs, opts.Refs...)
	if a.name == "" {
		a.name = "module"
	}
	a.b = meta.NewBuilder(a.name, refs...)

	for _, c := range a.classes {
		c.cls = a.b.Class(c.cls.Namespace, c.cls.Name, nil, c.cls.Flags)
	}
	for _, c := range a.classes {
		if err := a.hierarchy(c); err != nil {
			return nil, err
		}
	}
	var methods []*meta.Method
	var decls []*memberDecl
	for _, c := range a.classes {
		for _, m := range c.members {
			me, err := a.member(c.cls, m)
			if err != nil {
				return nil, err
			}
			if me != nil {
				methods = append(methods, me)
				decls = append(decls, m)
			}
		}
	}
	for i, me := range methods {
		if err := a.body(me, decls[i]); err != nil {
			return nil, err
		}
	}
	return a.b.Module(), nil
}

func errAt(line int, format string, args ...interface{}) error {
	return &AsmError{Line: line, Message: fmt.Sprintf(format, args...)}
}

// ============================================================================
// 第一遍：切分类、成员和方法体
// ============================================================================

func (a *moduleAsm) scan(lines []string) error {
	var (
		cls     *classDecl
		member  *memberDecl
		inClass bool // 已经读到类的 {
		inBody  bool // 已经读到方法体的 {
	)
	for i, raw := range lines {
		no := i + 1
		s := strings.TrimSpace(stripComment(raw))
		if inBody {
			if s == "}" {
				inBody = false
				member = nil
				continue
			}
			member.body = append(member.body, raw)
			continue
		}
		if s == "" {
			continue
		}

		switch {
		case s == "{":
			switch {
			case member != nil && !member.hasBody && strings.HasPrefix(member.header, ".method "):
				member.hasBody, member.bodyLine, inBody = true, no+1, true
			case cls != nil && !inClass:
				inClass = true
			default:
				return errAt(no, "unexpected {")
			}

		case s == "}":
			if !inClass {
				return errAt(no, "unexpected }")
			}
			cls, member, inClass = nil, nil, false

		case strings.HasPrefix(s, ".module "):
			a.name = strings.TrimSpace(s[len(".module "):])

		case strings.HasPrefix(s, ".reference "):
			if a.opts.Import == nil {
				return errAt(no, "module references are not available here")
			}
			name := strings.Trim(strings.TrimSpace(s[len(".reference "):]), `"`)
			ref, err := a.opts.Import(name)
			if err != nil {
				return &AsmError{Line: no, Message: fmt.Sprintf("reference %s: %v", name, err), Err: err}
			}
			a.refs = append(a.refs, ref)

		case strings.HasPrefix(s, ".class "):
			if inClass {
				return errAt(no, "nested classes are not supported")
			}
			c, err := parseClassHeader(no, s[len(".class "):])
			if err != nil {
				return err
			}
			a.classes = append(a.classes, c)
			cls, member = c, nil
			if strings.HasSuffix(s, "{") {
				inClass = true
			}

		case strings.HasPrefix(s, ".field "), strings.HasPrefix(s, ".method "):
			if !inClass {
				return errAt(no, "member outside of a class")
			}
			header := s
			open := strings.HasSuffix(header, "{")
			if open {
				header = strings.TrimSpace(strings.TrimSuffix(header, "{"))
			}
			member = &memberDecl{line: no, header: header}
			cls.members = append(cls.members, member)
			if open {
				member.hasBody, member.bodyLine, inBody = true, no+1, true
			}

		default:
			return errAt(no, "unexpected %q", s)
		}
	}
	if inBody || inClass {
		return errAt(len(lines), "unexpected end of input")
	}
	return nil
}

func parseClassHeader(no int, s string) (*classDecl, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "{"))
	c := &classDecl{line: no}
	if i := strings.Index(s, " implements "); i >= 0 {
		for _, n := range strings.Split(s[i+len(" implements "):], ",") {
			if n = strings.TrimSpace(n); n != "" {
				c.implements = append(c.implements, n)
			}
		}
		s = s[:i]
	}
	if i := strings.Index(s, " extends "); i >= 0 {
		c.extends = strings.TrimSpace(s[i+len(" extends "):])
		s = s[:i]
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errAt(no, "class name missing")
	}
	var flags meta.ClassFlags
	for _, f := range fields[:len(fields)-1] {
		switch f {
		case "public", "private", "auto", "ansi":
		case "interface":
			flags |= meta.ClassInterface | meta.ClassAbstract
		case "abstract":
			flags |= meta.ClassAbstract
		case "sealed":
			flags |= meta.ClassSealed
		case "valuetype":
			flags |= meta.ClassValueType | meta.ClassSealed
			c.valueType = true
		case "beforefieldinit":
			flags |= meta.ClassBeforeInit
		default:
			return nil, errAt(no, "unknown class attribute %q", f)
		}
	}
	full := fields[len(fields)-1]
	ns, name := "", full
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		ns, name = full[:i], full[i+1:]
	}
	c.cls = &meta.Class{Namespace: ns, Name: name, Flags: flags}
	return c, nil
}

// ============================================================================
// 第二遍：父类和接口
// ============================================================================

func (a *moduleAsm) hierarchy(c *classDecl) error {
	mod := a.b.Module()
	switch {
	case c.extends != "":
		p := mod.FindClass(c.extends)
		if p == nil {
			return errAt(c.line, "unknown class %s", c.extends)
		}
		c.cls.Parent = p
	case c.cls.IsInterface():
	case c.valueType:
		c.cls.Parent = mod.FindClass("System.ValueType")
	default:
		c.cls.Parent = mod.FindClass("System.Object")
	}
	for _, n := range c.implements {
		i := mod.FindClass(n)
		if i == nil || !i.IsInterface() {
			return errAt(c.line, "%s is not an interface", n)
		}
		a.b.Implement(c.cls, i)
	}
	return nil
}

// ============================================================================
// 第三遍：字段和方法签名
// ============================================================================

func (a *moduleAsm) member(c *meta.Class, m *memberDecl) (*meta.Method, error) {
	if strings.HasPrefix(m.header, ".field ") {
		return nil, a.field(c, m)
	}
	return a.method(c, m)
}

func (a *moduleAsm) field(c *meta.Class, m *memberDecl) error {
	fields := strings.Fields(m.header[len(".field "):])
	var flags meta.FieldFlags
	i := 0
loop:
	for ; i < len(fields); i++ {
		switch fields[i] {
		case "public", "private":
		case "static":
			flags |= meta.FieldStatic
		case "threadstatic":
			flags |= meta.FieldThreadStatic
		case "literal":
			flags |= meta.FieldLiteral | meta.FieldStatic
		case "initonly":
			flags |= meta.FieldInitOnly
		default:
			break loop
		}
	}
	if len(fields)-i < 2 {
		return errAt(m.line, "field needs a type and a name")
	}
	t, err := meta.ParseType(a.b.Module(), strings.Join(fields[i:len(fields)-1], " "))
	if err != nil {
		return errAt(m.line, "%v", err)
	}
	a.b.Field(c, fields[len(fields)-1], t, flags)
	return nil
}

func (a *moduleAsm) method(c *meta.Class, m *memberDecl) (*meta.Method, error) {
	s := m.header[len(".method "):]
	lp, rp := strings.IndexByte(s, '('), strings.LastIndexByte(s, ')')
	if lp < 0 || rp < lp {
		return nil, errAt(m.line, "method parameter list missing")
	}
	head := strings.Fields(s[:lp])
	var flags meta.MethodFlags
	i := 0
loop:
	for ; i < len(head); i++ {
		switch head[i] {
		case "public", "private", "hidebysig", "specialname", "rtspecialname", "instance":
		case "static":
			flags |= meta.MethodStatic
		case "virtual":
			flags |= meta.MethodVirtual
		case "abstract":
			flags |= meta.MethodAbstract | meta.MethodVirtual
		case "newslot":
			flags |= meta.MethodNewSlot
		case "final":
			flags |= meta.MethodFinal
		default:
			break loop
		}
	}
	if len(head)-i < 2 {
		return nil, errAt(m.line, "method needs a return type and a name")
	}
	mod := a.b.Module()
	ret, err := meta.ParseType(mod, strings.Join(head[i:len(head)-1], " "))
	if err != nil {
		return nil, errAt(m.line, "%v", err)
	}
	var params []*meta.Type
	for _, p := range splitList(s[lp+1 : rp]) {
		t, err := meta.ParseType(mod, p)
		if err != nil {
			return nil, errAt(m.line, "%v", err)
		}
		params = append(params, t)
	}
	me := a.b.Method(c, head[len(head)-1], meta.NewSignature(ret, params...), flags)

	impl := strings.Fields(strings.TrimSpace(s[rp+1:]))
	if len(impl) > 0 {
		switch impl[0] {
		case "internalcall":
			a.b.InternalCall(me)
		case "runtime":
			a.b.Runtime(me)
		case "pinvoke":
			if len(impl) < 2 {
				return nil, errAt(m.line, "pinvoke needs a library")
			}
			lib, err := strconv.Unquote(impl[1])
			if err != nil {
				return nil, errAt(m.line, "pinvoke library: %v", err)
			}
			sym := ""
			if len(impl) > 2 {
				if sym, err = strconv.Unquote(impl[2]); err != nil {
					return nil, errAt(m.line, "pinvoke symbol: %v", err)
				}
			}
			a.b.PInvoke(me, lib, sym)
		default:
			return nil, errAt(m.line, "unknown implementation %q", impl[0])
		}
		if m.hasBody {
			return nil, errAt(m.line, "%s method has a body", impl[0])
		}
	}
	return me, nil
}

// ============================================================================
// 第四遍：方法体
// ============================================================================

func (a *moduleAsm) body(me *meta.Method, m *memberDecl) error {
	if !m.hasBody {
		if me.Impl == meta.ImplIL && !me.IsAbstract() {
			return errAt(m.line, "method %s has no body", me.Name)
		}
		return nil
	}
	p, err := Assemble(strings.Join(m.body, "\n"), a.b)
	if err != nil {
		if ae, ok := err.(*AsmError); ok {
			return errAt(m.bodyLine+ae.Line-1, "%s", ae.Message)
		}
		return errAt(m.bodyLine, "%v", err)
	}
	a.b.Body(me, p.MaxStack, p.Locals, p.Code, p.Clauses...)
	return nil
}
