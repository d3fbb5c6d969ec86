package errors

import (
	"fmt"
	"strings"
)

// ============================================================================
// 诊断记录
// ============================================================================

// Diagnostic 一条诊断记录
// 验证和代码生成失败都归结为 (IL 偏移, 操作码, 期望类型, 实际类型, 方法标记)
type Diagnostic struct {
	Level    Level    `json:"level"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Method   string   `json:"method,omitempty"`
	Token    uint32   `json:"token,omitempty"`
	Offset   int      `json:"offset"` // -1 表示与具体指令无关
	Opcode   string   `json:"opcode,omitempty"`
	Expected string   `json:"expected,omitempty"`
	Actual   string   `json:"actual,omitempty"`
	Hints    []string `json:"hints,omitempty"`
}

// Error 实现 error 接口
func (d *Diagnostic) Error() string {
	var sb strings.Builder
	sb.WriteString(d.Code)
	if d.Method != "" {
		sb.WriteString(" ")
		sb.WriteString(d.Method)
	}
	if d.Offset >= 0 {
		fmt.Fprintf(&sb, " IL_%04X", d.Offset)
	}
	if d.Opcode != "" {
		sb.WriteString(" ")
		sb.WriteString(d.Opcode)
	}
	sb.WriteString(": ")
	sb.WriteString(d.Message)
	if d.Expected != "" || d.Actual != "" {
		fmt.Fprintf(&sb, " (expected %s, got %s)", orNone(d.Expected), orNone(d.Actual))
	}
	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "nothing"
	}
	return s
}

// Diagnoser 能转换为诊断记录的错误
type Diagnoser interface {
	Diagnostic() *Diagnostic
}

// ============================================================================
// 格式化器
// ============================================================================

// Formatter 诊断格式化器
type Formatter struct {
	Colors    bool // 是否使用颜色
	ShowHints bool // 是否显示修复建议
}

// NewFormatter 创建默认格式化器
func NewFormatter() *Formatter {
	return &Formatter{
		Colors:    true,
		ShowHints: true,
	}
}

// Format 格式化一条诊断
//
//	error[V0100]: invalid arithmetic operands
//	 --> Program::Main IL_0004 add
//	  = expected: int32, int32
//	  = actual:   int32, int64
func (f *Formatter) Format(d *Diagnostic) string {
	var sb strings.Builder

	levelStr := f.colorize(d.Level.String(), f.levelColor(d.Level))
	codeStr := f.colorize(fmt.Sprintf("[%s]", d.Code), f.levelColor(d.Level))
	sb.WriteString(fmt.Sprintf("%s%s: %s\n", levelStr, codeStr, d.Message))

	if d.Method != "" || d.Offset >= 0 {
		arrow := f.colorize("-->", ColorCyan)
		var loc strings.Builder
		loc.WriteString(d.Method)
		if d.Token != 0 {
			fmt.Fprintf(&loc, " (0x%08X)", d.Token)
		}
		if d.Offset >= 0 {
			fmt.Fprintf(&loc, " IL_%04X", d.Offset)
		}
		if d.Opcode != "" {
			loc.WriteString(" " + d.Opcode)
		}
		sb.WriteString(fmt.Sprintf(" %s %s\n", arrow, f.colorize(strings.TrimSpace(loc.String()), ColorCyan)))
	}

	if d.Expected != "" {
		sb.WriteString(fmt.Sprintf("%s %s\n", f.colorize("  = expected:", ColorBlue), d.Expected))
	}
	if d.Actual != "" {
		sb.WriteString(fmt.Sprintf("%s %s\n", f.colorize("  = actual:  ", ColorBlue), d.Actual))
	}

	if f.ShowHints {
		for _, hint := range d.Hints {
			sb.WriteString(fmt.Sprintf("%s %s\n", f.colorize("  = help:", ColorCyan), hint))
		}
	}
	return sb.String()
}

// levelColor 获取错误级别对应的颜色
func (f *Formatter) levelColor(level Level) Color {
	switch level {
	case LevelError:
		return ColorBoldRed
	case LevelWarning:
		return ColorBoldYellow
	case LevelNote:
		return ColorBoldCyan
	default:
		return ColorBoldWhite
	}
}

// colorize 根据配置着色
func (f *Formatter) colorize(s string, color Color) string {
	if !f.Colors {
		return s
	}
	return Colorize(s, color)
}
