// Package errors 提供执行引擎的诊断码、诊断记录和报告器
package errors

import "fmt"

// ============================================================================
// 错误级别
// ============================================================================

// Level 错误级别
type Level int

const (
	LevelError   Level = iota // 错误
	LevelWarning              // 警告
	LevelNote                 // 提示
	LevelHelp                 // 帮助
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelNote:
		return "note"
	case LevelHelp:
		return "help"
	default:
		return "unknown"
	}
}

// MarshalText JSON 输出使用级别名称
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText 解析级别名称
func (l *Level) UnmarshalText(b []byte) error {
	switch string(b) {
	case "error":
		*l = LevelError
	case "warning":
		*l = LevelWarning
	case "note":
		*l = LevelNote
	case "help":
		*l = LevelHelp
	default:
		return fmt.Errorf("unknown level %q", b)
	}
	return nil
}

// ============================================================================
// 验证错误码 (V 开头)
// ============================================================================

const (
	// V0001-V0099: 结构错误
	V0001 = "V0001" // 指令编码错误（截断、未知操作码）
	V0002 = "V0002" // 跳转目标不在指令边界上
	V0003 = "V0003" // 栈下溢
	V0004 = "V0004" // 栈溢出
	V0005 = "V0005" // 合并点栈类型不一致
	V0006 = "V0006" // 合并点栈深度不一致
	V0007 = "V0007" // 执行越过方法体末尾

	// V0100-V0199: 操作数类型错误
	V0100 = "V0100" // 算术操作数类型不匹配
	V0101 = "V0101" // 比较操作数类型不匹配
	V0102 = "V0102" // 转换操作数类型错误
	V0103 = "V0103" // 需要 unsafe 模式
	V0104 = "V0104" // 分支条件类型错误

	// V0200-V0299: 局部变量和参数
	V0200 = "V0200" // 局部变量索引越界
	V0201 = "V0201" // 参数索引越界
	V0202 = "V0202" // 值不能赋给目标类型

	// V0300-V0399: 对象、字段、数组、调用
	V0300 = "V0300" // 元数据标记无法解析
	V0301 = "V0301" // 对象或数组操作数类型错误
	V0302 = "V0302" // 调用参数类型不匹配
	V0303 = "V0303" // 返回值类型不匹配
	V0304 = "V0304" // 不能实例化抽象类或接口

	// V0400-V0499: 异常处理
	V0400 = "V0400" // 异常区域格式错误
	V0401 = "V0401" // 异常控制流指令位置错误
	V0402 = "V0402" // 进入 try 块时栈非空

	// V0500-V0599: 不支持的指令
	V0500 = "V0500" // 不支持的指令
)

// ============================================================================
// 代码生成错误码 (J 开头)
// ============================================================================

const (
	J0001 = "J0001" // 合并点栈深度不一致（验证器与代码生成器不同步）
	J0002 = "J0002" // 资源耗尽
	J0003 = "J0003" // 不支持的结构
	J0004 = "J0004" // 调用目标无法解析
	J0005 = "J0005" // 内部错误
)

// ============================================================================
// 本地调用错误码 (N 开头)
// ============================================================================

const (
	N0001 = "N0001" // 本地模块不存在
	N0002 = "N0002" // 本地符号不存在
	N0003 = "N0003" // PInvoke 元数据错误
	N0004 = "N0004" // 未注册的内部调用
	N0005 = "N0005" // 参数个数不一致
)

// ============================================================================
// 运行时错误码 (R 开头)
// ============================================================================

const (
	R0001 = "R0001" // 未捕获的异常
	R0100 = "R0100" // 数组索引越界
	R0200 = "R0200" // 除以零
	R0201 = "R0201" // 算术溢出
	R0300 = "R0300" // 空引用
	R0301 = "R0301" // 类型转换失败
	R0400 = "R0400" // 内存不足
	R0401 = "R0401" // 方法不存在
	R0402 = "R0402" // 数组元素类型不匹配
)

// ============================================================================
// 配置与映像错误码 (C 开头)
// ============================================================================

const (
	C0001 = "C0001" // 配置文件解析失败
	C0002 = "C0002" // 配置项无效
	C0100 = "C0100" // 映像格式错误
	C0101 = "C0101" // 映像版本不支持
	C0200 = "C0200" // IL 汇编错误
)

// ============================================================================
// 错误码信息
// ============================================================================

// ErrorInfo 错误码信息
type ErrorInfo struct {
	Code     string // 错误码
	Level    Level  // 错误级别
	Summary  string // 简述
	Category string // 错误分类
}

var codeTable = map[string]ErrorInfo{
	V0001: {V0001, LevelError, "malformed instruction", "structure"},
	V0002: {V0002, LevelError, "invalid branch target", "structure"},
	V0003: {V0003, LevelError, "stack underflow", "structure"},
	V0004: {V0004, LevelError, "stack overflow", "structure"},
	V0005: {V0005, LevelError, "stack type mismatch at merge point", "structure"},
	V0006: {V0006, LevelError, "stack sizes don't match at merge point", "structure"},
	V0007: {V0007, LevelError, "control falls off the end of the method", "structure"},

	V0100: {V0100, LevelError, "invalid arithmetic operands", "operand"},
	V0101: {V0101, LevelError, "invalid comparison operands", "operand"},
	V0102: {V0102, LevelError, "invalid conversion operand", "operand"},
	V0103: {V0103, LevelError, "operation requires unsafe mode", "operand"},
	V0104: {V0104, LevelError, "invalid branch condition", "operand"},

	V0200: {V0200, LevelError, "local variable index out of range", "variable"},
	V0201: {V0201, LevelError, "argument index out of range", "variable"},
	V0202: {V0202, LevelError, "value not assignable to slot type", "variable"},

	V0300: {V0300, LevelError, "unresolvable metadata token", "object"},
	V0301: {V0301, LevelError, "invalid object or array operand", "object"},
	V0302: {V0302, LevelError, "call argument mismatch", "object"},
	V0303: {V0303, LevelError, "return value mismatch", "object"},
	V0304: {V0304, LevelError, "cannot instantiate abstract type", "object"},

	V0400: {V0400, LevelError, "malformed exception region", "exception"},
	V0401: {V0401, LevelError, "exception control flow outside its region", "exception"},
	V0402: {V0402, LevelError, "stack not empty on try entry", "exception"},

	V0500: {V0500, LevelError, "unsupported instruction", "structure"},

	J0001: {J0001, LevelError, "coder stack desynchronised at merge point", "codegen"},
	J0002: {J0002, LevelError, "code generation resource exhausted", "codegen"},
	J0003: {J0003, LevelError, "unsupported construct", "codegen"},
	J0004: {J0004, LevelError, "unresolvable call target", "codegen"},
	J0005: {J0005, LevelError, "internal code generation error", "codegen"},

	N0001: {N0001, LevelError, "native module not found", "native"},
	N0002: {N0002, LevelError, "native symbol not found", "native"},
	N0003: {N0003, LevelError, "malformed native call metadata", "native"},
	N0004: {N0004, LevelError, "internal call not registered", "native"},
	N0005: {N0005, LevelError, "native arity mismatch", "native"},

	R0001: {R0001, LevelError, "uncaught exception", "runtime"},
	R0100: {R0100, LevelError, "index out of range", "runtime"},
	R0200: {R0200, LevelError, "division by zero", "runtime"},
	R0201: {R0201, LevelError, "arithmetic overflow", "runtime"},
	R0300: {R0300, LevelError, "null reference", "runtime"},
	R0301: {R0301, LevelError, "invalid cast", "runtime"},
	R0400: {R0400, LevelError, "out of memory", "runtime"},
	R0401: {R0401, LevelError, "missing method", "runtime"},
	R0402: {R0402, LevelError, "array type mismatch", "runtime"},

	C0001: {C0001, LevelError, "cannot parse configuration", "config"},
	C0002: {C0002, LevelError, "invalid configuration value", "config"},
	C0100: {C0100, LevelError, "malformed image", "image"},
	C0101: {C0101, LevelError, "unsupported image version", "image"},
	C0200: {C0200, LevelError, "IL assembly error", "image"},
}

// GetErrorInfo 获取错误码信息
func GetErrorInfo(code string) (ErrorInfo, bool) {
	info, ok := codeTable[code]
	return info, ok
}

// IsVerificationError 是否为验证错误码
func IsVerificationError(code string) bool {
	return len(code) > 0 && code[0] == 'V'
}

// IsCodeGenError 是否为代码生成错误码（包括本地调用解析失败）
func IsCodeGenError(code string) bool {
	return len(code) > 0 && (code[0] == 'J' || code[0] == 'N')
}

// IsRuntimeError 是否为运行时错误码
func IsRuntimeError(code string) bool {
	return len(code) > 0 && code[0] == 'R'
}
