package jit

import (
	"fmt"
	"strings"
)

// ============================================================================
// IR 指令定义
// ============================================================================

// IROp IR 操作码
type IROp int

const (
	IR_NOP IROp = iota
	IR_MARK
	IR_COPY

	// 算术运算（结果类型决定有无符号）
	IR_ADD
	IR_SUB
	IR_MUL
	IR_DIV
	IR_REM
	IR_ADD_OVF
	IR_SUB_OVF
	IR_MUL_OVF
	IR_NEG
	IR_CKFINITE

	// 位运算
	IR_AND
	IR_OR
	IR_XOR
	IR_NOT
	IR_SHL
	IR_SHR

	// 比较运算，结果为 int 0/1；_UN 形式对浮点表示无序也成立
	IR_EQ
	IR_NE
	IR_LT
	IR_LE
	IR_GT
	IR_GE
	IR_LT_UN
	IR_LE_UN
	IR_GT_UN
	IR_GE_UN

	// 转换
	IR_CONVERT
	IR_CONVERT_OVF
	IR_PTR_TO_INT
	IR_INT_TO_PTR

	// 跳转
	IR_BR
	IR_BR_TRUE
	IR_BR_FALSE
	IR_JUMP_TABLE

	// 内存
	IR_LOAD
	IR_STORE
	IR_ADDRESS_OF
	IR_VAR_ADDRESS
	IR_ALLOCA
	IR_MEMCPY
	IR_MEMSET

	// 调用
	IR_CALL
	IR_CALL_INDIRECT
	IR_CALL_NATIVE
	IR_RETURN

	// 异常
	IR_THROW
	IR_RETHROW
	IR_THROWN
	IR_THROW_PC
	IR_CALL_FINALLY
	IR_RETURN_FROM_FINALLY
)

var irNames = [...]string{
	"NOP", "MARK", "COPY",
	"ADD", "SUB", "MUL", "DIV", "REM", "ADD_OVF", "SUB_OVF", "MUL_OVF", "NEG", "CKFINITE",
	"AND", "OR", "XOR", "NOT", "SHL", "SHR",
	"EQ", "NE", "LT", "LE", "GT", "GE", "LT_UN", "LE_UN", "GT_UN", "GE_UN",
	"CONVERT", "CONVERT_OVF", "PTR_TO_INT", "INT_TO_PTR",
	"BR", "BR_TRUE", "BR_FALSE", "JUMP_TABLE",
	"LOAD", "STORE", "ADDRESS_OF", "VAR_ADDRESS", "ALLOCA", "MEMCPY", "MEMSET",
	"CALL", "CALL_INDIRECT", "CALL_NATIVE", "RETURN",
	"THROW", "RETHROW", "THROWN", "THROW_PC", "CALL_FINALLY", "RETURN_FROM_FINALLY",
}

// String 返回 IR 操作码的字符串表示
func (op IROp) String() string {
	if op >= 0 && int(op) < len(irNames) {
		return irNames[op]
	}
	return fmt.Sprintf("IR(%d)", int(op))
}

// IsTerminator 之后的指令不会顺序执行
func (op IROp) IsTerminator() bool {
	switch op {
	case IR_BR, IR_JUMP_TABLE, IR_RETURN, IR_THROW, IR_RETHROW, IR_RETURN_FROM_FINALLY:
		return true
	}
	return false
}

// IRInst IR 指令
type IRInst struct {
	Op      IROp
	Dest    *Value
	Args    []*Value
	Type    *Type      // 结果类型、加载存储类型
	Offset  int        // 相对地址偏移，IR_MARK 为 IL 偏移
	Target  *Label     // 跳转目标
	Targets []*Label   // 跳转表
	Callee  *Function  // IR_CALL
	Native  *Native    // IR_CALL_NATIVE
	Sig     *Signature // IR_CALL_INDIRECT
	IL      int        // 所属 IL 偏移，-1 表示生成的辅助代码
}

// String 调试输出
func (in *IRInst) String() string {
	var b strings.Builder
	if in.Dest != nil {
		fmt.Fprintf(&b, "%s = ", in.Dest)
	}
	b.WriteString(in.Op.String())
	if in.Type != nil && in.Op != IR_MARK {
		fmt.Fprintf(&b, ".%s", in.Type)
	}
	for i, a := range in.Args {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	switch in.Op {
	case IR_MARK:
		fmt.Fprintf(&b, " IL_%04X", in.Offset)
	case IR_LOAD, IR_STORE:
		if in.Offset != 0 {
			fmt.Fprintf(&b, " +%d", in.Offset)
		}
	case IR_CALL:
		fmt.Fprintf(&b, " %s", in.Callee.Name())
	case IR_CALL_NATIVE:
		fmt.Fprintf(&b, " %s", in.Native.Name)
	}
	if in.Target != nil {
		fmt.Fprintf(&b, " -> %s", in.Target)
	}
	if len(in.Targets) > 0 {
		names := make([]string, len(in.Targets))
		for i, l := range in.Targets {
			names[i] = l.String()
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(names, ", "))
	}
	return b.String()
}
