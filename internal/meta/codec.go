package meta

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
)

// ============================================================================
// 映像文件格式
//
//   偏移 0: 魔数 "ILIM"
//   偏移 4: 版本号 (2 bytes, 小端)
//   偏移 6: lz4 帧，内容为 CBOR 编码的 moduleDTO
//
// 外部模块（核心库）的成员按名称记录，加载时在引用模块中重新解析
// ============================================================================

const (
	imageMagic   = "ILIM"
	imageVersion = 1
)

// ImageExtension 映像文件扩展名
const ImageExtension = ".ilimg"

// 映像错误
var (
	ErrBadImage       = errors.New("bad image")
	ErrImageVersion   = errors.New("unsupported image version")
	ErrUnresolvedName = errors.New("unresolved external reference")
)

type typeDTO struct {
	Kind  uint8    `cbor:"k"`
	Class string   `cbor:"c,omitempty"`
	Elem  *typeDTO `cbor:"e,omitempty"`
}

type fieldDTO struct {
	Token uint32  `cbor:"t"`
	Name  string  `cbor:"n"`
	Type  typeDTO `cbor:"y"`
	Flags uint16  `cbor:"f"`
}

type clauseDTO struct {
	Kind          uint8  `cbor:"k"`
	TryOffset     uint32 `cbor:"to"`
	TryLength     uint32 `cbor:"tl"`
	HandlerOffset uint32 `cbor:"ho"`
	HandlerLength uint32 `cbor:"hl"`
	CatchType     string `cbor:"ct,omitempty"`
	FilterOffset  uint32 `cbor:"fo,omitempty"`
}

type bodyDTO struct {
	MaxStack   uint16      `cbor:"ms"`
	Locals     []typeDTO   `cbor:"l,omitempty"`
	InitLocals bool        `cbor:"i"`
	Code       []byte      `cbor:"c"`
	Clauses    []clauseDTO `cbor:"x,omitempty"`
}

type methodDTO struct {
	Token   uint32       `cbor:"t"`
	Name    string       `cbor:"n"`
	Flags   uint16       `cbor:"f"`
	Impl    uint8        `cbor:"i"`
	HasThis bool         `cbor:"h"`
	Params  []typeDTO    `cbor:"p,omitempty"`
	Return  typeDTO      `cbor:"r"`
	Body    *bodyDTO     `cbor:"b,omitempty"`
	PInvoke *PInvokeInfo `cbor:"pi,omitempty"`
}

type classDTO struct {
	Token      uint32      `cbor:"t"`
	Namespace  string      `cbor:"ns"`
	Name       string      `cbor:"n"`
	Flags      uint32      `cbor:"f"`
	Parent     string      `cbor:"p,omitempty"`
	Interfaces []string    `cbor:"if,omitempty"`
	Primitive  uint8       `cbor:"pr,omitempty"`
	Fields     []fieldDTO  `cbor:"fd,omitempty"`
	Methods    []methodDTO `cbor:"md,omitempty"`
}

// refDTO 对外部成员的引用（TypeRef / MemberRef）
type refDTO struct {
	Token  uint32    `cbor:"t"`
	Owner  string    `cbor:"o"`
	Name   string    `cbor:"n,omitempty"`
	Params []typeDTO `cbor:"p,omitempty"`
	Field  bool      `cbor:"f,omitempty"`
}

type specDTO struct {
	Token uint32  `cbor:"t"`
	Type  typeDTO `cbor:"y"`
}

type stringDTO struct {
	Token uint32 `cbor:"t"`
	Value string `cbor:"v"`
}

type moduleDTO struct {
	Name    string      `cbor:"n"`
	Mvid    []byte      `cbor:"id"`
	Classes []classDTO  `cbor:"c"`
	Refs    []refDTO    `cbor:"r,omitempty"`
	Specs   []specDTO   `cbor:"s,omitempty"`
	Strings []stringDTO `cbor:"us,omitempty"`
}

// ============================================================================
// 编码
// ============================================================================

// Encode 将模块写入映像
func Encode(w io.Writer, m *Module) error {
	dto := m.toDTO()
	payload, err := cbor.Marshal(dto)
	if err != nil {
		return fmt.Errorf("encode module %s: %w", m.Name, err)
	}
	header := []byte{imageMagic[0], imageMagic[1], imageMagic[2], imageMagic[3], imageVersion & 0xFF, imageVersion >> 8}
	if _, err := w.Write(header); err != nil {
		return err
	}
	zw := lz4.NewWriter(w)
	if _, err := zw.Write(payload); err != nil {
		return fmt.Errorf("compress module %s: %w", m.Name, err)
	}
	return zw.Close()
}

func encodeType(t *Type) typeDTO {
	if t == nil {
		return typeDTO{Kind: uint8(ElemVoid)}
	}
	d := typeDTO{Kind: uint8(t.Kind)}
	if t.Class != nil {
		d.Class = t.Class.FullName()
	}
	if t.Elem != nil {
		e := encodeType(t.Elem)
		d.Elem = &e
	}
	return d
}

func encodeTypes(ts []*Type) []typeDTO {
	if len(ts) == 0 {
		return nil
	}
	out := make([]typeDTO, len(ts))
	for i, t := range ts {
		out[i] = encodeType(t)
	}
	return out
}

func (m *Module) toDTO() *moduleDTO {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dto := &moduleDTO{Name: m.Name, Mvid: m.Mvid[:]}
	for _, c := range m.Classes {
		cd := classDTO{
			Token:     uint32(c.Token),
			Namespace: c.Namespace,
			Name:      c.Name,
			Flags:     uint32(c.Flags),
			Primitive: uint8(c.Primitive),
		}
		if c.Parent != nil {
			cd.Parent = c.Parent.FullName()
		}
		for _, i := range c.Interfaces {
			cd.Interfaces = append(cd.Interfaces, i.FullName())
		}
		for _, f := range c.Fields {
			cd.Fields = append(cd.Fields, fieldDTO{Token: uint32(f.Token), Name: f.Name, Type: encodeType(f.Type), Flags: uint16(f.Flags)})
		}
		for _, me := range c.Methods {
			md := methodDTO{
				Token:   uint32(me.Token),
				Name:    me.Name,
				Flags:   uint16(me.Flags),
				Impl:    uint8(me.Impl),
				HasThis: me.Sig.HasThis,
				Params:  encodeTypes(me.Sig.Params),
				Return:  encodeType(me.Sig.Return),
				PInvoke: me.PInvoke,
			}
			if body := me.Body; body != nil {
				bd := &bodyDTO{MaxStack: body.MaxStack, Locals: encodeTypes(body.Locals), InitLocals: body.InitLocals, Code: body.Code}
				for _, cl := range body.Clauses {
					x := clauseDTO{
						Kind:          uint8(cl.Kind),
						TryOffset:     cl.TryOffset,
						TryLength:     cl.TryLength,
						HandlerOffset: cl.HandlerOffset,
						HandlerLength: cl.HandlerLength,
						FilterOffset:  cl.FilterOffset,
					}
					if cl.CatchType != nil {
						x.CatchType = cl.CatchType.FullName()
					}
					bd.Clauses = append(bd.Clauses, x)
				}
				md.Body = bd
			}
			cd.Methods = append(cd.Methods, md)
		}
		dto.Classes = append(dto.Classes, cd)
	}
	for tok, c := range m.classes {
		if tok.Table() == TableTypeRef {
			dto.Refs = append(dto.Refs, refDTO{Token: uint32(tok), Owner: c.FullName()})
		}
	}
	for tok, me := range m.methods {
		if tok.Table() == TableMemberRef {
			dto.Refs = append(dto.Refs, refDTO{Token: uint32(tok), Owner: me.Owner.FullName(), Name: me.Name, Params: encodeTypes(me.Sig.Params)})
		}
	}
	for tok, f := range m.fields {
		if tok.Table() == TableMemberRef {
			dto.Refs = append(dto.Refs, refDTO{Token: uint32(tok), Owner: f.Owner.FullName(), Name: f.Name, Field: true})
		}
	}
	for tok, t := range m.typeSpecs {
		dto.Specs = append(dto.Specs, specDTO{Token: uint32(tok), Type: encodeType(t)})
	}
	for tok, s := range m.strings {
		dto.Strings = append(dto.Strings, stringDTO{Token: uint32(tok), Value: s})
	}
	return dto
}

// ============================================================================
// 解码
// ============================================================================

// Decode 从映像读取模块，refs 为被引用的模块（通常是核心库）
func Decode(r io.Reader, refs ...*Module) (*Module, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if string(header[:4]) != imageMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadImage, header[:4])
	}
	if v := int(header[4]) | int(header[5])<<8; v != imageVersion {
		return nil, fmt.Errorf("%w: %d", ErrImageVersion, v)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, lz4.NewReader(r)); err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrBadImage, err)
	}
	var dto moduleDTO
	if err := cbor.Unmarshal(buf.Bytes(), &dto); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrBadImage, err)
	}
	return fromDTO(&dto, refs)
}

type decoder struct {
	mod   *Module
	local map[string]*Class
}

func (d *decoder) class(name string) (*Class, error) {
	if c, ok := d.local[name]; ok {
		return c, nil
	}
	if c := d.mod.FindClass(name); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("%w: class %q", ErrUnresolvedName, name)
}

func (d *decoder) typ(t typeDTO) (*Type, error) {
	kind := ElementType(t.Kind)
	switch kind {
	case ElemClass, ElemValueType:
		c, err := d.class(t.Class)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: kind, Class: c}, nil
	case ElemPtr, ElemByRef, ElemSZArray:
		if t.Elem == nil {
			return nil, fmt.Errorf("%w: %s without element type", ErrBadImage, kind)
		}
		e, err := d.typ(*t.Elem)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: kind, Elem: e}, nil
	}
	if kind > ElemTypedRef {
		return nil, fmt.Errorf("%w: element type %d", ErrBadImage, t.Kind)
	}
	return Prim(kind), nil
}

func (d *decoder) types(ts []typeDTO) ([]*Type, error) {
	out := make([]*Type, 0, len(ts))
	for _, t := range ts {
		x, err := d.typ(t)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}

func (m *Module) bump(tok Token) {
	if row := tok.Row(); row > m.nextRow[tok.Table()] {
		m.nextRow[tok.Table()] = row
	}
}

func fromDTO(dto *moduleDTO, refs []*Module) (*Module, error) {
	m := NewModule(dto.Name)
	m.References = refs
	if id, err := uuid.FromBytes(dto.Mvid); err == nil {
		m.Mvid = id
	}
	d := &decoder{mod: m, local: make(map[string]*Class)}

	// 第一遍：创建类，使前向引用可以解析
	for _, cd := range dto.Classes {
		c := &Class{
			Token:     Token(cd.Token),
			Namespace: cd.Namespace,
			Name:      cd.Name,
			Flags:     ClassFlags(cd.Flags),
			Primitive: ElementType(cd.Primitive),
			Module:    m,
		}
		m.Classes = append(m.Classes, c)
		m.classes[c.Token] = c
		m.bump(c.Token)
		d.local[c.FullName()] = c
	}

	// 第二遍：父类、接口、字段、方法
	for i, cd := range dto.Classes {
		c := m.Classes[i]
		var err error
		if cd.Parent != "" {
			if c.Parent, err = d.class(cd.Parent); err != nil {
				return nil, err
			}
		}
		for _, name := range cd.Interfaces {
			iface, err := d.class(name)
			if err != nil {
				return nil, err
			}
			c.Interfaces = append(c.Interfaces, iface)
		}
		for _, fd := range cd.Fields {
			t, err := d.typ(fd.Type)
			if err != nil {
				return nil, err
			}
			f := &Field{Token: Token(fd.Token), Name: fd.Name, Type: t, Owner: c, Flags: FieldFlags(fd.Flags)}
			c.Fields = append(c.Fields, f)
			m.fields[f.Token] = f
			m.bump(f.Token)
		}
		for _, md := range cd.Methods {
			me, err := d.method(c, md)
			if err != nil {
				return nil, err
			}
			c.Methods = append(c.Methods, me)
			m.methods[me.Token] = me
			m.bump(me.Token)
		}
	}

	// 外部引用
	for _, r := range dto.Refs {
		tok := Token(r.Token)
		owner, err := d.class(r.Owner)
		if err != nil {
			return nil, err
		}
		switch {
		case r.Name == "":
			m.classes[tok] = owner
		case r.Field:
			f := owner.FindField(r.Name)
			if f == nil {
				return nil, fmt.Errorf("%w: field %s::%s", ErrUnresolvedName, r.Owner, r.Name)
			}
			m.fields[tok] = f
		default:
			params, err := d.types(r.Params)
			if err != nil {
				return nil, err
			}
			var found *Method
			for _, me := range owner.Methods {
				if me.Name == r.Name && sameParams(me.Sig.Params, params) {
					found = me
					break
				}
			}
			if found == nil {
				return nil, fmt.Errorf("%w: method %s::%s", ErrUnresolvedName, r.Owner, r.Name)
			}
			m.methods[tok] = found
		}
		m.bump(tok)
	}
	for _, s := range dto.Specs {
		t, err := d.typ(s.Type)
		if err != nil {
			return nil, err
		}
		m.typeSpecs[Token(s.Token)] = t
		m.bump(Token(s.Token))
	}
	for _, s := range dto.Strings {
		m.strings[Token(s.Token)] = s.Value
		m.stringIdx[s.Value] = Token(s.Token)
		m.bump(Token(s.Token))
	}
	return m, nil
}

func (d *decoder) method(c *Class, md methodDTO) (*Method, error) {
	params, err := d.types(md.Params)
	if err != nil {
		return nil, err
	}
	ret, err := d.typ(md.Return)
	if err != nil {
		return nil, err
	}
	me := &Method{
		Token:   Token(md.Token),
		Name:    md.Name,
		Owner:   c,
		Sig:     &Signature{HasThis: md.HasThis, Params: params, Return: ret},
		Flags:   MethodFlags(md.Flags),
		Impl:    ImplKind(md.Impl),
		PInvoke: md.PInvoke,
	}
	if bd := md.Body; bd != nil {
		locals, err := d.types(bd.Locals)
		if err != nil {
			return nil, err
		}
		body := &MethodBody{MaxStack: bd.MaxStack, Locals: locals, InitLocals: bd.InitLocals, Code: bd.Code}
		for _, x := range bd.Clauses {
			cl := &ExceptionClause{
				Kind:          ClauseKind(x.Kind),
				TryOffset:     x.TryOffset,
				TryLength:     x.TryLength,
				HandlerOffset: x.HandlerOffset,
				HandlerLength: x.HandlerLength,
				FilterOffset:  x.FilterOffset,
			}
			if x.CatchType != "" {
				if cl.CatchType, err = d.class(x.CatchType); err != nil {
					return nil, err
				}
			}
			body.Clauses = append(body.Clauses, cl)
		}
		me.Body = body
	}
	return me, nil
}

// Builder 返回一个在已解码模块上继续分配令牌的构建器
func (m *Module) Builder() *Builder {
	b := &Builder{
		mod:      m,
		classTok: make(map[*Class]Token),
		methTok:  make(map[*Method]Token),
		fieldTok: make(map[*Field]Token),
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for tok, c := range m.classes {
		b.classTok[c] = tok
	}
	for tok, me := range m.methods {
		b.methTok[me] = tok
	}
	for tok, f := range m.fields {
		b.fieldTok[f] = tok
	}
	return b
}
