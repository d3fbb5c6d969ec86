package cil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tangzhangming/ilengine/internal/meta"
)

// ============================================================================
// 文本汇编器
//
// 每行一条指令，可带 "label:" 前缀，"//" 或 ";" 开始注释。支持的指令：
//   .maxstack N
//   .locals (type, type, ...)
//   .try TRY_BEGIN TRY_END catch TYPE HANDLER_BEGIN HANDLER_END
//   .try TRY_BEGIN TRY_END finally|fault HANDLER_BEGIN HANDLER_END
//   .try TRY_BEGIN TRY_END filter FILTER_BEGIN HANDLER_BEGIN HANDLER_END
// 区间端点都是标签，结束标签指向区间之后的第一条指令（或方法体末尾）
// ============================================================================

// Resolver 汇编时把名称解析为本模块令牌
type Resolver interface {
	Module() *meta.Module
	LookupType(name string) (meta.Token, error)
	LookupMethod(ref string) (meta.Token, error)
	LookupField(ref string) (meta.Token, error)
	StringToken(s string) meta.Token
}

// Program 汇编结果
type Program struct {
	Code        []byte
	MaxStack    uint16
	HasMaxStack bool
	Locals      []*meta.Type
	Clauses     []*meta.ExceptionClause
}

// DefaultMaxStack 未声明 .maxstack 时使用的值（与 ilasm 一致）
const DefaultMaxStack = 8

// AsmError 汇编错误
type AsmError struct {
	Line    int
	Message string
	Err     error
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("asm line %d: %s", e.Line, e.Message)
}

func (e *AsmError) Unwrap() error { return e.Err }

// ErrUnsupported 汇编器不支持的操作数
var ErrUnsupported = errors.New("unsupported operand")

type fixup struct {
	line  int
	pos   int    // 操作数写入位置
	base  uint32 // 相对跳转的基准偏移
	label string
	short bool
}

type clauseRef struct {
	line                     int
	kind                     meta.ClauseKind
	catchType                string
	filterBegin              string
	tryBegin, tryEnd         string
	handlerBegin, handlerEnd string
}

type assembler struct {
	res     Resolver
	code    []byte
	labels  map[string]uint32
	fixups  []fixup
	clauses []clauseRef
	prog    *Program
}

// Assemble 汇编 IL 文本
func Assemble(src string, res Resolver) (*Program, error) {
	a := &assembler{
		res:    res,
		labels: make(map[string]uint32),
		prog:   &Program{MaxStack: DefaultMaxStack},
	}
	for i, raw := range strings.Split(src, "\n") {
		if err := a.line(i+1, raw); err != nil {
			return nil, err
		}
	}
	if err := a.patch(); err != nil {
		return nil, err
	}
	a.prog.Code = a.code
	return a.prog, nil
}

// MustAssemble 汇编失败时 panic，用于测试和内置程序
func MustAssemble(src string, res Resolver) *Program {
	p, err := Assemble(src, res)
	if err != nil {
		panic(err)
	}
	return p
}

func stripComment(s string) string {
	inString := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			if i == 0 || s[i-1] != '\\' {
				inString = !inString
			}
		case ';':
			if !inString {
				return s[:i]
			}
		case '/':
			if !inString && i+1 < len(s) && s[i+1] == '/' {
				return s[:i]
			}
		}
	}
	return s
}

func (a *assembler) errorf(line int, format string, args ...interface{}) error {
	return &AsmError{Line: line, Message: fmt.Sprintf(format, args...)}
}

func (a *assembler) line(no int, raw string) error {
	s := strings.TrimSpace(stripComment(raw))
	if s == "" {
		return nil
	}
	// 标签前缀
	if i := strings.IndexByte(s, ':'); i > 0 && !strings.Contains(s[:i], " ") && (i+1 == len(s) || s[i+1] != ':') {
		name := s[:i]
		if _, dup := a.labels[name]; dup {
			return a.errorf(no, "duplicate label %q", name)
		}
		a.labels[name] = uint32(len(a.code))
		s = strings.TrimSpace(s[i+1:])
		if s == "" {
			return nil
		}
	}
	if strings.HasPrefix(s, ".") {
		return a.directive(no, s)
	}
	mnemonic, operand := s, ""
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		mnemonic, operand = s[:i], strings.TrimSpace(s[i+1:])
	}
	op, ok := Lookup(mnemonic)
	if !ok {
		return a.errorf(no, "unknown instruction %q", mnemonic)
	}
	return a.emit(no, op, operand)
}

func (a *assembler) directive(no int, s string) error {
	fields := strings.Fields(s)
	switch fields[0] {
	case ".maxstack":
		if len(fields) != 2 {
			return a.errorf(no, ".maxstack needs one operand")
		}
		n, err := strconv.ParseUint(fields[1], 0, 16)
		if err != nil {
			return a.errorf(no, "bad .maxstack: %v", err)
		}
		a.prog.MaxStack = uint16(n)
		a.prog.HasMaxStack = true
	case ".locals":
		rest := strings.TrimSpace(strings.TrimPrefix(s, ".locals"))
		rest = strings.TrimSpace(strings.TrimPrefix(rest, "init"))
		if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
			return a.errorf(no, ".locals needs a parenthesised type list")
		}
		for _, name := range splitList(rest[1 : len(rest)-1]) {
			t, err := meta.ParseType(a.res.Module(), name)
			if err != nil {
				return a.errorf(no, "%v", err)
			}
			a.prog.Locals = append(a.prog.Locals, t)
		}
	case ".try":
		// .try A B catch T H1 H2 | .try A B finally H1 H2 | .try A B filter F H1 H2
		if len(fields) < 6 {
			return a.errorf(no, "malformed .try")
		}
		ref := clauseRef{line: no, tryBegin: fields[1], tryEnd: fields[2]}
		switch fields[3] {
		case "catch":
			if len(fields) < 7 {
				return a.errorf(no, "malformed .try catch")
			}
			ref.kind = meta.ClauseCatch
			ref.catchType = strings.Join(fields[4:len(fields)-2], " ")
		case "filter":
			if len(fields) != 7 {
				return a.errorf(no, "malformed .try filter")
			}
			ref.kind = meta.ClauseFilter
			ref.filterBegin = fields[4]
		case "finally":
			ref.kind = meta.ClauseFinally
		case "fault":
			ref.kind = meta.ClauseFault
		default:
			return a.errorf(no, "unknown handler kind %q", fields[3])
		}
		ref.handlerBegin, ref.handlerEnd = fields[len(fields)-2], fields[len(fields)-1]
		a.clauses = append(a.clauses, ref)
	default:
		return a.errorf(no, "unknown directive %s", fields[0])
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (a *assembler) put8(v uint8) { a.code = append(a.code, v) }

func (a *assembler) put16(v uint16) {
	a.code = binary.LittleEndian.AppendUint16(a.code, v)
}

func (a *assembler) put32(v uint32) {
	a.code = binary.LittleEndian.AppendUint32(a.code, v)
}

func (a *assembler) put64(v uint64) {
	a.code = binary.LittleEndian.AppendUint64(a.code, v)
}

func (a *assembler) emit(no int, op OpCode, operand string) error {
	if op >= 0xFE00 {
		a.put8(PrefixFE)
		a.put8(uint8(op))
	} else {
		a.put8(uint8(op))
	}
	info := op.Info()
	if info.Operand != OperandNone && operand == "" {
		return a.errorf(no, "%s needs an operand", info.Name)
	}
	if info.Operand == OperandNone && operand != "" {
		return a.errorf(no, "%s takes no operand", info.Name)
	}
	parseInt := func(bits int) (int64, error) {
		v, err := strconv.ParseInt(operand, 0, bits)
		if err != nil {
			return 0, a.errorf(no, "bad integer %q: %v", operand, err)
		}
		return v, nil
	}
	switch info.Operand {
	case OperandNone:
	case OperandInt8:
		v, err := parseInt(8)
		if err != nil {
			return err
		}
		a.put8(uint8(int8(v)))
	case OperandUInt8, OperandShortVar:
		v, err := strconv.ParseUint(operand, 0, 8)
		if err != nil {
			return a.errorf(no, "bad operand %q: %v", operand, err)
		}
		a.put8(uint8(v))
	case OperandVar:
		v, err := strconv.ParseUint(operand, 0, 16)
		if err != nil {
			return a.errorf(no, "bad operand %q: %v", operand, err)
		}
		a.put16(uint16(v))
	case OperandInt32:
		v, err := parseInt(32)
		if err != nil {
			return err
		}
		a.put32(uint32(int32(v)))
	case OperandInt64:
		v, err := parseInt(64)
		if err != nil {
			return err
		}
		a.put64(uint64(v))
	case OperandFloat32:
		f, err := strconv.ParseFloat(operand, 32)
		if err != nil {
			return a.errorf(no, "bad float %q: %v", operand, err)
		}
		a.put32(math.Float32bits(float32(f)))
	case OperandFloat64:
		f, err := strconv.ParseFloat(operand, 64)
		if err != nil {
			return a.errorf(no, "bad float %q: %v", operand, err)
		}
		a.put64(math.Float64bits(f))
	case OperandShortBranch:
		a.fixups = append(a.fixups, fixup{line: no, pos: len(a.code), base: uint32(len(a.code) + 1), label: operand, short: true})
		a.put8(0)
	case OperandBranch:
		a.fixups = append(a.fixups, fixup{line: no, pos: len(a.code), base: uint32(len(a.code) + 4), label: operand})
		a.put32(0)
	case OperandSwitch:
		if !strings.HasPrefix(operand, "(") || !strings.HasSuffix(operand, ")") {
			return a.errorf(no, "switch needs a parenthesised label list")
		}
		labels := splitList(operand[1 : len(operand)-1])
		a.put32(uint32(len(labels)))
		base := uint32(len(a.code) + 4*len(labels))
		for _, l := range labels {
			a.fixups = append(a.fixups, fixup{line: no, pos: len(a.code), base: base, label: l})
			a.put32(0)
		}
	case OperandMethod:
		tok, err := a.res.LookupMethod(strings.TrimSpace(strings.TrimPrefix(operand, "instance ")))
		if err != nil {
			return a.errorf(no, "%v", err)
		}
		a.put32(uint32(tok))
	case OperandField:
		tok, err := a.res.LookupField(operand)
		if err != nil {
			return a.errorf(no, "%v", err)
		}
		a.put32(uint32(tok))
	case OperandType, OperandToken:
		tok, err := a.res.LookupType(operand)
		if err != nil {
			return a.errorf(no, "%v", err)
		}
		a.put32(uint32(tok))
	case OperandString:
		s, err := strconv.Unquote(operand)
		if err != nil {
			return a.errorf(no, "bad string literal %s: %v", operand, err)
		}
		a.put32(uint32(a.res.StringToken(s)))
	default:
		return a.errorf(no, "%s: %v", info.Name, ErrUnsupported)
	}
	return nil
}

func (a *assembler) label(line int, name string) (uint32, error) {
	off, ok := a.labels[name]
	if !ok {
		return 0, a.errorf(line, "undefined label %q", name)
	}
	return off, nil
}

func (a *assembler) patch() error {
	for _, f := range a.fixups {
		target, err := a.label(f.line, f.label)
		if err != nil {
			return err
		}
		rel := int64(target) - int64(f.base)
		if f.short {
			if rel < math.MinInt8 || rel > math.MaxInt8 {
				return a.errorf(f.line, "short branch to %q out of range (%d)", f.label, rel)
			}
			a.code[f.pos] = uint8(int8(rel))
			continue
		}
		binary.LittleEndian.PutUint32(a.code[f.pos:], uint32(int32(rel)))
	}
	for _, c := range a.clauses {
		var offs [4]uint32
		for i, name := range []string{c.tryBegin, c.tryEnd, c.handlerBegin, c.handlerEnd} {
			off, err := a.label(c.line, name)
			if err != nil {
				return err
			}
			offs[i] = off
		}
		clause := &meta.ExceptionClause{
			Kind:          c.kind,
			TryOffset:     offs[0],
			TryLength:     offs[1] - offs[0],
			HandlerOffset: offs[2],
			HandlerLength: offs[3] - offs[2],
		}
		if offs[1] < offs[0] || offs[3] < offs[2] {
			return a.errorf(c.line, "exception region ends before it begins")
		}
		if c.kind == meta.ClauseFilter {
			off, err := a.label(c.line, c.filterBegin)
			if err != nil {
				return err
			}
			clause.FilterOffset = off
		}
		if c.kind == meta.ClauseCatch {
			t, err := meta.ParseType(a.res.Module(), c.catchType)
			if err != nil {
				return a.errorf(c.line, "%v", err)
			}
			clause.CatchType = meta.LoadCorlib().ClassFor(t)
		}
		a.prog.Clauses = append(a.prog.Clauses, clause)
	}
	return nil
}
