package errors

import (
	"os"
	"regexp"

	"go.uber.org/atomic"
)

// Color SGR 参数，例如 "1;31"
type Color string

const (
	ColorReset      Color = "0"
	ColorBlue       Color = "34"
	ColorCyan       Color = "36"
	ColorBoldRed    Color = "1;31"
	ColorBoldYellow Color = "1;33"
	ColorBoldCyan   Color = "1;36"
	ColorBoldWhite  Color = "1;37"
)

// sgr 匹配任意 SGR 转义序列
var sgr = regexp.MustCompile("\x1b\\[[0-9;]*m")

// colorsEnabled 全局开关；诊断可能在多个编译线程中格式化
var colorsEnabled = atomic.NewBool(detectColorSupport())

// detectColorSupport 标准错误是终端且未设置 NO_COLOR、TERM 不是 dumb 时启用
func detectColorSupport() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	return isTerminal(os.Stderr)
}

// ColorsEnabled 检查颜色是否启用
func ColorsEnabled() bool {
	return colorsEnabled.Load()
}

// SetColorsEnabled 设置颜色启用状态
func SetColorsEnabled(enabled bool) {
	colorsEnabled.Store(enabled)
}

// Colorize 着色字符串
func Colorize(s string, color Color) string {
	if !colorsEnabled.Load() || color == "" {
		return s
	}
	return "\x1b[" + string(color) + "m" + s + "\x1b[0m"
}

// Strip 移除 ANSI 颜色代码
func Strip(s string) string {
	return sgr.ReplaceAllString(s, "")
}
