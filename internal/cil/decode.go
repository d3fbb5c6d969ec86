package cil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tangzhangming/ilengine/internal/meta"
)

// 解码错误
var (
	ErrTruncated = errors.New("truncated instruction")
	ErrBadOpcode = errors.New("invalid opcode")
	ErrBadTarget = errors.New("branch target out of range")
)

// Instr 已解码的指令
type Instr struct {
	Offset  uint32
	Op      OpCode
	Size    int
	Int     int64   // 整数常量、变量索引、unaligned. 对齐值
	Float   float64 // 浮点常量
	Token   meta.Token
	Target  uint32   // 跳转目标（绝对偏移）
	Targets []uint32 // switch 跳转表（绝对偏移）
}

// Next 下一条指令的偏移
func (in *Instr) Next() uint32 { return in.Offset + uint32(in.Size) }

// Info 指令描述
func (in *Instr) Info() *OpInfo { return in.Op.Info() }

// Decode 解码 pc 处的一条指令
func Decode(code []byte, pc uint32) (Instr, error) {
	in := Instr{Offset: pc}
	n := uint32(len(code))
	if pc >= n {
		return in, fmt.Errorf("%w at IL_%04X", ErrTruncated, pc)
	}
	p := pc
	op := OpCode(code[p])
	p++
	if code[pc] == PrefixFE {
		if p >= n {
			return in, fmt.Errorf("%w at IL_%04X", ErrTruncated, pc)
		}
		op = 0xFE00 | OpCode(code[p])
		p++
	}
	info := op.Info()
	if info == nil {
		return in, fmt.Errorf("%w 0x%X at IL_%04X", ErrBadOpcode, uint16(op), pc)
	}
	in.Op = op

	need := func(size uint32) error {
		if p+size > n {
			return fmt.Errorf("%w: %s at IL_%04X", ErrTruncated, info.Name, pc)
		}
		return nil
	}
	branch := func(rel int64) error {
		target := int64(p) + rel
		if target < 0 || target > math.MaxUint32 {
			return fmt.Errorf("%w: %s at IL_%04X", ErrBadTarget, info.Name, pc)
		}
		in.Target = uint32(target)
		return nil
	}

	switch info.Operand {
	case OperandNone:
	case OperandInt8:
		if err := need(1); err != nil {
			return in, err
		}
		in.Int = int64(int8(code[p]))
		p++
	case OperandUInt8, OperandShortVar:
		if err := need(1); err != nil {
			return in, err
		}
		in.Int = int64(code[p])
		p++
	case OperandVar:
		if err := need(2); err != nil {
			return in, err
		}
		in.Int = int64(binary.LittleEndian.Uint16(code[p:]))
		p += 2
	case OperandInt32:
		if err := need(4); err != nil {
			return in, err
		}
		in.Int = int64(int32(binary.LittleEndian.Uint32(code[p:])))
		p += 4
	case OperandInt64:
		if err := need(8); err != nil {
			return in, err
		}
		in.Int = int64(binary.LittleEndian.Uint64(code[p:]))
		p += 8
	case OperandFloat32:
		if err := need(4); err != nil {
			return in, err
		}
		in.Float = float64(math.Float32frombits(binary.LittleEndian.Uint32(code[p:])))
		p += 4
	case OperandFloat64:
		if err := need(8); err != nil {
			return in, err
		}
		in.Float = math.Float64frombits(binary.LittleEndian.Uint64(code[p:]))
		p += 8
	case OperandShortBranch:
		if err := need(1); err != nil {
			return in, err
		}
		rel := int64(int8(code[p]))
		p++
		if err := branch(rel); err != nil {
			return in, err
		}
	case OperandBranch:
		if err := need(4); err != nil {
			return in, err
		}
		rel := int64(int32(binary.LittleEndian.Uint32(code[p:])))
		p += 4
		if err := branch(rel); err != nil {
			return in, err
		}
	case OperandSwitch:
		if err := need(4); err != nil {
			return in, err
		}
		count := binary.LittleEndian.Uint32(code[p:])
		p += 4
		if uint64(count)*4 > uint64(n-p) {
			return in, fmt.Errorf("%w: switch table at IL_%04X", ErrTruncated, pc)
		}
		base := int64(p) + int64(count)*4
		in.Targets = make([]uint32, count)
		for i := uint32(0); i < count; i++ {
			rel := int64(int32(binary.LittleEndian.Uint32(code[p:])))
			p += 4
			target := base + rel
			if target < 0 || target > math.MaxUint32 {
				return in, fmt.Errorf("%w: switch at IL_%04X", ErrBadTarget, pc)
			}
			in.Targets[i] = uint32(target)
		}
	case OperandMethod, OperandField, OperandType, OperandString, OperandSig, OperandToken:
		if err := need(4); err != nil {
			return in, err
		}
		in.Token = meta.Token(binary.LittleEndian.Uint32(code[p:]))
		p += 4
	}
	in.Size = int(p - pc)
	return in, nil
}

// Walk 顺序解码整个方法体
func Walk(code []byte, fn func(in *Instr) error) error {
	for pc := uint32(0); pc < uint32(len(code)); {
		in, err := Decode(code, pc)
		if err != nil {
			return err
		}
		if err := fn(&in); err != nil {
			return err
		}
		pc = in.Next()
	}
	return nil
}

// ============================================================================
// 反汇编
// ============================================================================

// Format 指令的文本形式
func (in *Instr) Format() string {
	info := in.Info()
	var sb strings.Builder
	fmt.Fprintf(&sb, "IL_%04X: %s", in.Offset, info.Name)
	switch info.Operand {
	case OperandInt8, OperandUInt8, OperandInt32, OperandInt64, OperandShortVar, OperandVar:
		fmt.Fprintf(&sb, " %d", in.Int)
	case OperandFloat32, OperandFloat64:
		fmt.Fprintf(&sb, " %g", in.Float)
	case OperandShortBranch, OperandBranch:
		fmt.Fprintf(&sb, " IL_%04X", in.Target)
	case OperandSwitch:
		sb.WriteString(" (")
		for i, t := range in.Targets {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "IL_%04X", t)
		}
		sb.WriteString(")")
	case OperandMethod, OperandField, OperandType, OperandString, OperandSig, OperandToken:
		fmt.Fprintf(&sb, " %s", in.Token)
	}
	return sb.String()
}

// Disassemble 反汇编方法体，遇到错误时在末尾标注
func Disassemble(code []byte) string {
	var sb strings.Builder
	err := Walk(code, func(in *Instr) error {
		sb.WriteString(in.Format())
		sb.WriteByte('\n')
		return nil
	})
	if err != nil {
		fmt.Fprintf(&sb, "; error: %v\n", err)
	}
	return sb.String()
}
