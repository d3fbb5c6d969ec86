// Package cil 定义 CIL 指令集、指令解码器和文本汇编器
package cil

import "fmt"

// OpCode 操作码；双字节指令编码为 0xFE00 | 第二字节
type OpCode uint16

// PrefixFE 双字节指令前缀
const PrefixFE = 0xFE

// 单字节指令
const (
	OpNop       OpCode = 0x00
	OpBreak     OpCode = 0x01
	OpLdarg0    OpCode = 0x02
	OpLdarg1    OpCode = 0x03
	OpLdarg2    OpCode = 0x04
	OpLdarg3    OpCode = 0x05
	OpLdloc0    OpCode = 0x06
	OpLdloc1    OpCode = 0x07
	OpLdloc2    OpCode = 0x08
	OpLdloc3    OpCode = 0x09
	OpStloc0    OpCode = 0x0A
	OpStloc1    OpCode = 0x0B
	OpStloc2    OpCode = 0x0C
	OpStloc3    OpCode = 0x0D
	OpLdargS    OpCode = 0x0E
	OpLdargaS   OpCode = 0x0F
	OpStargS    OpCode = 0x10
	OpLdlocS    OpCode = 0x11
	OpLdlocaS   OpCode = 0x12
	OpStlocS    OpCode = 0x13
	OpLdnull    OpCode = 0x14
	OpLdcI4M1   OpCode = 0x15
	OpLdcI40    OpCode = 0x16
	OpLdcI41    OpCode = 0x17
	OpLdcI42    OpCode = 0x18
	OpLdcI43    OpCode = 0x19
	OpLdcI44    OpCode = 0x1A
	OpLdcI45    OpCode = 0x1B
	OpLdcI46    OpCode = 0x1C
	OpLdcI47    OpCode = 0x1D
	OpLdcI48    OpCode = 0x1E
	OpLdcI4S    OpCode = 0x1F
	OpLdcI4     OpCode = 0x20
	OpLdcI8     OpCode = 0x21
	OpLdcR4     OpCode = 0x22
	OpLdcR8     OpCode = 0x23
	OpDup       OpCode = 0x25
	OpPop       OpCode = 0x26
	OpJmp       OpCode = 0x27
	OpCall      OpCode = 0x28
	OpCalli     OpCode = 0x29
	OpRet       OpCode = 0x2A
	OpBrS       OpCode = 0x2B
	OpBrfalseS  OpCode = 0x2C
	OpBrtrueS   OpCode = 0x2D
	OpBeqS      OpCode = 0x2E
	OpBgeS      OpCode = 0x2F
	OpBgtS      OpCode = 0x30
	OpBleS      OpCode = 0x31
	OpBltS      OpCode = 0x32
	OpBneUnS    OpCode = 0x33
	OpBgeUnS    OpCode = 0x34
	OpBgtUnS    OpCode = 0x35
	OpBleUnS    OpCode = 0x36
	OpBltUnS    OpCode = 0x37
	OpBr        OpCode = 0x38
	OpBrfalse   OpCode = 0x39
	OpBrtrue    OpCode = 0x3A
	OpBeq       OpCode = 0x3B
	OpBge       OpCode = 0x3C
	OpBgt       OpCode = 0x3D
	OpBle       OpCode = 0x3E
	OpBlt       OpCode = 0x3F
	OpBneUn     OpCode = 0x40
	OpBgeUn     OpCode = 0x41
	OpBgtUn     OpCode = 0x42
	OpBleUn     OpCode = 0x43
	OpBltUn     OpCode = 0x44
	OpSwitch    OpCode = 0x45
	OpLdindI1   OpCode = 0x46
	OpLdindU1   OpCode = 0x47
	OpLdindI2   OpCode = 0x48
	OpLdindU2   OpCode = 0x49
	OpLdindI4   OpCode = 0x4A
	OpLdindU4   OpCode = 0x4B
	OpLdindI8   OpCode = 0x4C
	OpLdindI    OpCode = 0x4D
	OpLdindR4   OpCode = 0x4E
	OpLdindR8   OpCode = 0x4F
	OpLdindRef  OpCode = 0x50
	OpStindRef  OpCode = 0x51
	OpStindI1   OpCode = 0x52
	OpStindI2   OpCode = 0x53
	OpStindI4   OpCode = 0x54
	OpStindI8   OpCode = 0x55
	OpStindR4   OpCode = 0x56
	OpStindR8   OpCode = 0x57
	OpAdd       OpCode = 0x58
	OpSub       OpCode = 0x59
	OpMul       OpCode = 0x5A
	OpDiv       OpCode = 0x5B
	OpDivUn     OpCode = 0x5C
	OpRem       OpCode = 0x5D
	OpRemUn     OpCode = 0x5E
	OpAnd       OpCode = 0x5F
	OpOr        OpCode = 0x60
	OpXor       OpCode = 0x61
	OpShl       OpCode = 0x62
	OpShr       OpCode = 0x63
	OpShrUn     OpCode = 0x64
	OpNeg       OpCode = 0x65
	OpNot       OpCode = 0x66
	OpConvI1    OpCode = 0x67
	OpConvI2    OpCode = 0x68
	OpConvI4    OpCode = 0x69
	OpConvI8    OpCode = 0x6A
	OpConvR4    OpCode = 0x6B
	OpConvR8    OpCode = 0x6C
	OpConvU4    OpCode = 0x6D
	OpConvU8    OpCode = 0x6E
	OpCallvirt  OpCode = 0x6F
	OpCpobj     OpCode = 0x70
	OpLdobj     OpCode = 0x71
	OpLdstr     OpCode = 0x72
	OpNewobj    OpCode = 0x73
	OpCastclass OpCode = 0x74
	OpIsinst    OpCode = 0x75
	OpConvRUn   OpCode = 0x76
	OpUnbox     OpCode = 0x79
	OpThrow     OpCode = 0x7A
	OpLdfld     OpCode = 0x7B
	OpLdflda    OpCode = 0x7C
	OpStfld     OpCode = 0x7D
	OpLdsfld    OpCode = 0x7E
	OpLdsflda   OpCode = 0x7F
	OpStsfld    OpCode = 0x80
	OpStobj     OpCode = 0x81

	OpConvOvfI1Un OpCode = 0x82
	OpConvOvfI2Un OpCode = 0x83
	OpConvOvfI4Un OpCode = 0x84
	OpConvOvfI8Un OpCode = 0x85
	OpConvOvfU1Un OpCode = 0x86
	OpConvOvfU2Un OpCode = 0x87
	OpConvOvfU4Un OpCode = 0x88
	OpConvOvfU8Un OpCode = 0x89
	OpConvOvfIUn  OpCode = 0x8A
	OpConvOvfUUn  OpCode = 0x8B

	OpBox       OpCode = 0x8C
	OpNewarr    OpCode = 0x8D
	OpLdlen     OpCode = 0x8E
	OpLdelema   OpCode = 0x8F
	OpLdelemI1  OpCode = 0x90
	OpLdelemU1  OpCode = 0x91
	OpLdelemI2  OpCode = 0x92
	OpLdelemU2  OpCode = 0x93
	OpLdelemI4  OpCode = 0x94
	OpLdelemU4  OpCode = 0x95
	OpLdelemI8  OpCode = 0x96
	OpLdelemI   OpCode = 0x97
	OpLdelemR4  OpCode = 0x98
	OpLdelemR8  OpCode = 0x99
	OpLdelemRef OpCode = 0x9A
	OpStelemI   OpCode = 0x9B
	OpStelemI1  OpCode = 0x9C
	OpStelemI2  OpCode = 0x9D
	OpStelemI4  OpCode = 0x9E
	OpStelemI8  OpCode = 0x9F
	OpStelemR4  OpCode = 0xA0
	OpStelemR8  OpCode = 0xA1
	OpStelemRef OpCode = 0xA2
	OpLdelem    OpCode = 0xA3
	OpStelem    OpCode = 0xA4
	OpUnboxAny  OpCode = 0xA5

	OpConvOvfI1 OpCode = 0xB3
	OpConvOvfU1 OpCode = 0xB4
	OpConvOvfI2 OpCode = 0xB5
	OpConvOvfU2 OpCode = 0xB6
	OpConvOvfI4 OpCode = 0xB7
	OpConvOvfU4 OpCode = 0xB8
	OpConvOvfI8 OpCode = 0xB9
	OpConvOvfU8 OpCode = 0xBA

	OpRefanyval  OpCode = 0xC2
	OpCkfinite   OpCode = 0xC3
	OpMkrefany   OpCode = 0xC6
	OpLdtoken    OpCode = 0xD0
	OpConvU2     OpCode = 0xD1
	OpConvU1     OpCode = 0xD2
	OpConvI      OpCode = 0xD3
	OpConvOvfI   OpCode = 0xD4
	OpConvOvfU   OpCode = 0xD5
	OpAddOvf     OpCode = 0xD6
	OpAddOvfUn   OpCode = 0xD7
	OpMulOvf     OpCode = 0xD8
	OpMulOvfUn   OpCode = 0xD9
	OpSubOvf     OpCode = 0xDA
	OpSubOvfUn   OpCode = 0xDB
	OpEndfinally OpCode = 0xDC
	OpLeave      OpCode = 0xDD
	OpLeaveS     OpCode = 0xDE
	OpStindI     OpCode = 0xDF
	OpConvU      OpCode = 0xE0
)

// 双字节指令
const (
	OpArglist     OpCode = 0xFE00
	OpCeq         OpCode = 0xFE01
	OpCgt         OpCode = 0xFE02
	OpCgtUn       OpCode = 0xFE03
	OpClt         OpCode = 0xFE04
	OpCltUn       OpCode = 0xFE05
	OpLdftn       OpCode = 0xFE06
	OpLdvirtftn   OpCode = 0xFE07
	OpLdarg       OpCode = 0xFE09
	OpLdarga      OpCode = 0xFE0A
	OpStarg       OpCode = 0xFE0B
	OpLdloc       OpCode = 0xFE0C
	OpLdloca      OpCode = 0xFE0D
	OpStloc       OpCode = 0xFE0E
	OpLocalloc    OpCode = 0xFE0F
	OpEndfilter   OpCode = 0xFE11
	OpUnaligned   OpCode = 0xFE12
	OpVolatile    OpCode = 0xFE13
	OpTail        OpCode = 0xFE14
	OpInitobj     OpCode = 0xFE15
	OpConstrained OpCode = 0xFE16
	OpCpblk       OpCode = 0xFE17
	OpInitblk     OpCode = 0xFE18
	OpNo          OpCode = 0xFE19
	OpRethrow     OpCode = 0xFE1A
	OpSizeof      OpCode = 0xFE1C
	OpRefanytype  OpCode = 0xFE1D
	OpReadonly    OpCode = 0xFE1E
)

// ============================================================================
// 操作数与控制流
// ============================================================================

// OperandKind 操作数编码方式
type OperandKind uint8

const (
	OperandNone        OperandKind = iota
	OperandInt8                    // ldc.i4.s
	OperandUInt8                   // unaligned.、no.
	OperandInt32                   // ldc.i4
	OperandInt64                   // ldc.i8
	OperandFloat32                 // ldc.r4
	OperandFloat64                 // ldc.r8
	OperandShortVar                // 单字节局部变量 / 参数索引
	OperandVar                     // 双字节局部变量 / 参数索引
	OperandShortBranch             // 单字节相对跳转
	OperandBranch                  // 四字节相对跳转
	OperandSwitch                  // 跳转表
	OperandMethod                  // 方法令牌
	OperandField                   // 字段令牌
	OperandType                    // 类型令牌
	OperandString                  // 字符串令牌
	OperandSig                     // 签名令牌
	OperandToken                   // 任意令牌（ldtoken）
)

// FlowKind 指令对控制流的影响
type FlowKind uint8

const (
	FlowNext   FlowKind = iota // 顺序执行
	FlowBranch                 // 无条件跳转
	FlowCond                   // 条件跳转
	FlowReturn                 // 返回
	FlowThrow                  // 抛出
	FlowCall                   // 调用
	FlowMeta                   // 前缀
)

// OpInfo 指令描述
type OpInfo struct {
	Name    string
	Operand OperandKind
	Flow    FlowKind
}

var (
	oneByte [256]*OpInfo
	twoByte [256]*OpInfo
	byName  = make(map[string]OpCode)
)

func def(op OpCode, name string, operand OperandKind, flow FlowKind) {
	info := &OpInfo{Name: name, Operand: operand, Flow: flow}
	if op >= 0xFE00 {
		twoByte[op&0xFF] = info
	} else {
		oneByte[op] = info
	}
	byName[name] = op
}

// Info 返回指令描述，未定义的操作码返回 nil
func (op OpCode) Info() *OpInfo {
	if op >= 0xFE00 {
		return twoByte[op&0xFF]
	}
	if op > 0xFF {
		return nil
	}
	return oneByte[op]
}

func (op OpCode) String() string {
	if info := op.Info(); info != nil {
		return info.Name
	}
	return fmt.Sprintf("op(0x%X)", uint16(op))
}

// Size 操作码自身占用的字节数
func (op OpCode) Size() int {
	if op >= 0xFE00 {
		return 2
	}
	return 1
}

// Lookup 按助记符查找操作码
func Lookup(name string) (OpCode, bool) {
	op, ok := byName[name]
	return op, ok
}

func init() {
	def(OpNop, "nop", OperandNone, FlowNext)
	def(OpBreak, "break", OperandNone, FlowNext)
	def(OpLdarg0, "ldarg.0", OperandNone, FlowNext)
	def(OpLdarg1, "ldarg.1", OperandNone, FlowNext)
	def(OpLdarg2, "ldarg.2", OperandNone, FlowNext)
	def(OpLdarg3, "ldarg.3", OperandNone, FlowNext)
	def(OpLdloc0, "ldloc.0", OperandNone, FlowNext)
	def(OpLdloc1, "ldloc.1", OperandNone, FlowNext)
	def(OpLdloc2, "ldloc.2", OperandNone, FlowNext)
	def(OpLdloc3, "ldloc.3", OperandNone, FlowNext)
	def(OpStloc0, "stloc.0", OperandNone, FlowNext)
	def(OpStloc1, "stloc.1", OperandNone, FlowNext)
	def(OpStloc2, "stloc.2", OperandNone, FlowNext)
	def(OpStloc3, "stloc.3", OperandNone, FlowNext)
	def(OpLdargS, "ldarg.s", OperandShortVar, FlowNext)
	def(OpLdargaS, "ldarga.s", OperandShortVar, FlowNext)
	def(OpStargS, "starg.s", OperandShortVar, FlowNext)
	def(OpLdlocS, "ldloc.s", OperandShortVar, FlowNext)
	def(OpLdlocaS, "ldloca.s", OperandShortVar, FlowNext)
	def(OpStlocS, "stloc.s", OperandShortVar, FlowNext)
	def(OpLdnull, "ldnull", OperandNone, FlowNext)
	def(OpLdcI4M1, "ldc.i4.m1", OperandNone, FlowNext)
	def(OpLdcI40, "ldc.i4.0", OperandNone, FlowNext)
	def(OpLdcI41, "ldc.i4.1", OperandNone, FlowNext)
	def(OpLdcI42, "ldc.i4.2", OperandNone, FlowNext)
	def(OpLdcI43, "ldc.i4.3", OperandNone, FlowNext)
	def(OpLdcI44, "ldc.i4.4", OperandNone, FlowNext)
	def(OpLdcI45, "ldc.i4.5", OperandNone, FlowNext)
	def(OpLdcI46, "ldc.i4.6", OperandNone, FlowNext)
	def(OpLdcI47, "ldc.i4.7", OperandNone, FlowNext)
	def(OpLdcI48, "ldc.i4.8", OperandNone, FlowNext)
	def(OpLdcI4S, "ldc.i4.s", OperandInt8, FlowNext)
	def(OpLdcI4, "ldc.i4", OperandInt32, FlowNext)
	def(OpLdcI8, "ldc.i8", OperandInt64, FlowNext)
	def(OpLdcR4, "ldc.r4", OperandFloat32, FlowNext)
	def(OpLdcR8, "ldc.r8", OperandFloat64, FlowNext)
	def(OpDup, "dup", OperandNone, FlowNext)
	def(OpPop, "pop", OperandNone, FlowNext)
	def(OpJmp, "jmp", OperandMethod, FlowCall)
	def(OpCall, "call", OperandMethod, FlowCall)
	def(OpCalli, "calli", OperandSig, FlowCall)
	def(OpRet, "ret", OperandNone, FlowReturn)
	def(OpBrS, "br.s", OperandShortBranch, FlowBranch)
	def(OpBrfalseS, "brfalse.s", OperandShortBranch, FlowCond)
	def(OpBrtrueS, "brtrue.s", OperandShortBranch, FlowCond)
	def(OpBeqS, "beq.s", OperandShortBranch, FlowCond)
	def(OpBgeS, "bge.s", OperandShortBranch, FlowCond)
	def(OpBgtS, "bgt.s", OperandShortBranch, FlowCond)
	def(OpBleS, "ble.s", OperandShortBranch, FlowCond)
	def(OpBltS, "blt.s", OperandShortBranch, FlowCond)
	def(OpBneUnS, "bne.un.s", OperandShortBranch, FlowCond)
	def(OpBgeUnS, "bge.un.s", OperandShortBranch, FlowCond)
	def(OpBgtUnS, "bgt.un.s", OperandShortBranch, FlowCond)
	def(OpBleUnS, "ble.un.s", OperandShortBranch, FlowCond)
	def(OpBltUnS, "blt.un.s", OperandShortBranch, FlowCond)
	def(OpBr, "br", OperandBranch, FlowBranch)
	def(OpBrfalse, "brfalse", OperandBranch, FlowCond)
	def(OpBrtrue, "brtrue", OperandBranch, FlowCond)
	def(OpBeq, "beq", OperandBranch, FlowCond)
	def(OpBge, "bge", OperandBranch, FlowCond)
	def(OpBgt, "bgt", OperandBranch, FlowCond)
	def(OpBle, "ble", OperandBranch, FlowCond)
	def(OpBlt, "blt", OperandBranch, FlowCond)
	def(OpBneUn, "bne.un", OperandBranch, FlowCond)
	def(OpBgeUn, "bge.un", OperandBranch, FlowCond)
	def(OpBgtUn, "bgt.un", OperandBranch, FlowCond)
	def(OpBleUn, "ble.un", OperandBranch, FlowCond)
	def(OpBltUn, "blt.un", OperandBranch, FlowCond)
	def(OpSwitch, "switch", OperandSwitch, FlowCond)
	def(OpLdindI1, "ldind.i1", OperandNone, FlowNext)
	def(OpLdindU1, "ldind.u1", OperandNone, FlowNext)
	def(OpLdindI2, "ldind.i2", OperandNone, FlowNext)
	def(OpLdindU2, "ldind.u2", OperandNone, FlowNext)
	def(OpLdindI4, "ldind.i4", OperandNone, FlowNext)
	def(OpLdindU4, "ldind.u4", OperandNone, FlowNext)
	def(OpLdindI8, "ldind.i8", OperandNone, FlowNext)
	def(OpLdindI, "ldind.i", OperandNone, FlowNext)
	def(OpLdindR4, "ldind.r4", OperandNone, FlowNext)
	def(OpLdindR8, "ldind.r8", OperandNone, FlowNext)
	def(OpLdindRef, "ldind.ref", OperandNone, FlowNext)
	def(OpStindRef, "stind.ref", OperandNone, FlowNext)
	def(OpStindI1, "stind.i1", OperandNone, FlowNext)
	def(OpStindI2, "stind.i2", OperandNone, FlowNext)
	def(OpStindI4, "stind.i4", OperandNone, FlowNext)
	def(OpStindI8, "stind.i8", OperandNone, FlowNext)
	def(OpStindR4, "stind.r4", OperandNone, FlowNext)
	def(OpStindR8, "stind.r8", OperandNone, FlowNext)
	def(OpAdd, "add", OperandNone, FlowNext)
	def(OpSub, "sub", OperandNone, FlowNext)
	def(OpMul, "mul", OperandNone, FlowNext)
	def(OpDiv, "div", OperandNone, FlowNext)
	def(OpDivUn, "div.un", OperandNone, FlowNext)
	def(OpRem, "rem", OperandNone, FlowNext)
	def(OpRemUn, "rem.un", OperandNone, FlowNext)
	def(OpAnd, "and", OperandNone, FlowNext)
	def(OpOr, "or", OperandNone, FlowNext)
	def(OpXor, "xor", OperandNone, FlowNext)
	def(OpShl, "shl", OperandNone, FlowNext)
	def(OpShr, "shr", OperandNone, FlowNext)
	def(OpShrUn, "shr.un", OperandNone, FlowNext)
	def(OpNeg, "neg", OperandNone, FlowNext)
	def(OpNot, "not", OperandNone, FlowNext)
	def(OpConvI1, "conv.i1", OperandNone, FlowNext)
	def(OpConvI2, "conv.i2", OperandNone, FlowNext)
	def(OpConvI4, "conv.i4", OperandNone, FlowNext)
	def(OpConvI8, "conv.i8", OperandNone, FlowNext)
	def(OpConvR4, "conv.r4", OperandNone, FlowNext)
	def(OpConvR8, "conv.r8", OperandNone, FlowNext)
	def(OpConvU4, "conv.u4", OperandNone, FlowNext)
	def(OpConvU8, "conv.u8", OperandNone, FlowNext)
	def(OpCallvirt, "callvirt", OperandMethod, FlowCall)
	def(OpCpobj, "cpobj", OperandType, FlowNext)
	def(OpLdobj, "ldobj", OperandType, FlowNext)
	def(OpLdstr, "ldstr", OperandString, FlowNext)
	def(OpNewobj, "newobj", OperandMethod, FlowCall)
	def(OpCastclass, "castclass", OperandType, FlowNext)
	def(OpIsinst, "isinst", OperandType, FlowNext)
	def(OpConvRUn, "conv.r.un", OperandNone, FlowNext)
	def(OpUnbox, "unbox", OperandType, FlowNext)
	def(OpThrow, "throw", OperandNone, FlowThrow)
	def(OpLdfld, "ldfld", OperandField, FlowNext)
	def(OpLdflda, "ldflda", OperandField, FlowNext)
	def(OpStfld, "stfld", OperandField, FlowNext)
	def(OpLdsfld, "ldsfld", OperandField, FlowNext)
	def(OpLdsflda, "ldsflda", OperandField, FlowNext)
	def(OpStsfld, "stsfld", OperandField, FlowNext)
	def(OpStobj, "stobj", OperandType, FlowNext)
	def(OpConvOvfI1Un, "conv.ovf.i1.un", OperandNone, FlowNext)
	def(OpConvOvfI2Un, "conv.ovf.i2.un", OperandNone, FlowNext)
	def(OpConvOvfI4Un, "conv.ovf.i4.un", OperandNone, FlowNext)
	def(OpConvOvfI8Un, "conv.ovf.i8.un", OperandNone, FlowNext)
	def(OpConvOvfU1Un, "conv.ovf.u1.un", OperandNone, FlowNext)
	def(OpConvOvfU2Un, "conv.ovf.u2.un", OperandNone, FlowNext)
	def(OpConvOvfU4Un, "conv.ovf.u4.un", OperandNone, FlowNext)
	def(OpConvOvfU8Un, "conv.ovf.u8.un", OperandNone, FlowNext)
	def(OpConvOvfIUn, "conv.ovf.i.un", OperandNone, FlowNext)
	def(OpConvOvfUUn, "conv.ovf.u.un", OperandNone, FlowNext)
	def(OpBox, "box", OperandType, FlowNext)
	def(OpNewarr, "newarr", OperandType, FlowNext)
	def(OpLdlen, "ldlen", OperandNone, FlowNext)
	def(OpLdelema, "ldelema", OperandType, FlowNext)
	def(OpLdelemI1, "ldelem.i1", OperandNone, FlowNext)
	def(OpLdelemU1, "ldelem.u1", OperandNone, FlowNext)
	def(OpLdelemI2, "ldelem.i2", OperandNone, FlowNext)
	def(OpLdelemU2, "ldelem.u2", OperandNone, FlowNext)
	def(OpLdelemI4, "ldelem.i4", OperandNone, FlowNext)
	def(OpLdelemU4, "ldelem.u4", OperandNone, FlowNext)
	def(OpLdelemI8, "ldelem.i8", OperandNone, FlowNext)
	def(OpLdelemI, "ldelem.i", OperandNone, FlowNext)
	def(OpLdelemR4, "ldelem.r4", OperandNone, FlowNext)
	def(OpLdelemR8, "ldelem.r8", OperandNone, FlowNext)
	def(OpLdelemRef, "ldelem.ref", OperandNone, FlowNext)
	def(OpStelemI, "stelem.i", OperandNone, FlowNext)
	def(OpStelemI1, "stelem.i1", OperandNone, FlowNext)
	def(OpStelemI2, "stelem.i2", OperandNone, FlowNext)
	def(OpStelemI4, "stelem.i4", OperandNone, FlowNext)
	def(OpStelemI8, "stelem.i8", OperandNone, FlowNext)
	def(OpStelemR4, "stelem.r4", OperandNone, FlowNext)
	def(OpStelemR8, "stelem.r8", OperandNone, FlowNext)
	def(OpStelemRef, "stelem.ref", OperandNone, FlowNext)
	def(OpLdelem, "ldelem", OperandType, FlowNext)
	def(OpStelem, "stelem", OperandType, FlowNext)
	def(OpUnboxAny, "unbox.any", OperandType, FlowNext)
	def(OpConvOvfI1, "conv.ovf.i1", OperandNone, FlowNext)
	def(OpConvOvfU1, "conv.ovf.u1", OperandNone, FlowNext)
	def(OpConvOvfI2, "conv.ovf.i2", OperandNone, FlowNext)
	def(OpConvOvfU2, "conv.ovf.u2", OperandNone, FlowNext)
	def(OpConvOvfI4, "conv.ovf.i4", OperandNone, FlowNext)
	def(OpConvOvfU4, "conv.ovf.u4", OperandNone, FlowNext)
	def(OpConvOvfI8, "conv.ovf.i8", OperandNone, FlowNext)
	def(OpConvOvfU8, "conv.ovf.u8", OperandNone, FlowNext)
	def(OpRefanyval, "refanyval", OperandType, FlowNext)
	def(OpCkfinite, "ckfinite", OperandNone, FlowNext)
	def(OpMkrefany, "mkrefany", OperandType, FlowNext)
	def(OpLdtoken, "ldtoken", OperandToken, FlowNext)
	def(OpConvU2, "conv.u2", OperandNone, FlowNext)
	def(OpConvU1, "conv.u1", OperandNone, FlowNext)
	def(OpConvI, "conv.i", OperandNone, FlowNext)
	def(OpConvOvfI, "conv.ovf.i", OperandNone, FlowNext)
	def(OpConvOvfU, "conv.ovf.u", OperandNone, FlowNext)
	def(OpAddOvf, "add.ovf", OperandNone, FlowNext)
	def(OpAddOvfUn, "add.ovf.un", OperandNone, FlowNext)
	def(OpMulOvf, "mul.ovf", OperandNone, FlowNext)
	def(OpMulOvfUn, "mul.ovf.un", OperandNone, FlowNext)
	def(OpSubOvf, "sub.ovf", OperandNone, FlowNext)
	def(OpSubOvfUn, "sub.ovf.un", OperandNone, FlowNext)
	def(OpEndfinally, "endfinally", OperandNone, FlowReturn)
	def(OpLeave, "leave", OperandBranch, FlowBranch)
	def(OpLeaveS, "leave.s", OperandShortBranch, FlowBranch)
	def(OpStindI, "stind.i", OperandNone, FlowNext)
	def(OpConvU, "conv.u", OperandNone, FlowNext)

	def(OpArglist, "arglist", OperandNone, FlowNext)
	def(OpCeq, "ceq", OperandNone, FlowNext)
	def(OpCgt, "cgt", OperandNone, FlowNext)
	def(OpCgtUn, "cgt.un", OperandNone, FlowNext)
	def(OpClt, "clt", OperandNone, FlowNext)
	def(OpCltUn, "clt.un", OperandNone, FlowNext)
	def(OpLdftn, "ldftn", OperandMethod, FlowNext)
	def(OpLdvirtftn, "ldvirtftn", OperandMethod, FlowNext)
	def(OpLdarg, "ldarg", OperandVar, FlowNext)
	def(OpLdarga, "ldarga", OperandVar, FlowNext)
	def(OpStarg, "starg", OperandVar, FlowNext)
	def(OpLdloc, "ldloc", OperandVar, FlowNext)
	def(OpLdloca, "ldloca", OperandVar, FlowNext)
	def(OpStloc, "stloc", OperandVar, FlowNext)
	def(OpLocalloc, "localloc", OperandNone, FlowNext)
	def(OpEndfilter, "endfilter", OperandNone, FlowReturn)
	def(OpUnaligned, "unaligned.", OperandUInt8, FlowMeta)
	def(OpVolatile, "volatile.", OperandNone, FlowMeta)
	def(OpTail, "tail.", OperandNone, FlowMeta)
	def(OpInitobj, "initobj", OperandType, FlowNext)
	def(OpConstrained, "constrained.", OperandType, FlowMeta)
	def(OpCpblk, "cpblk", OperandNone, FlowNext)
	def(OpInitblk, "initblk", OperandNone, FlowNext)
	def(OpNo, "no.", OperandUInt8, FlowMeta)
	def(OpRethrow, "rethrow", OperandNone, FlowThrow)
	def(OpSizeof, "sizeof", OperandType, FlowNext)
	def(OpRefanytype, "refanytype", OperandNone, FlowNext)
	def(OpReadonly, "readonly.", OperandNone, FlowMeta)
}
