package main

import (
	"os"
	"strings"
)

// Language 界面语言
type Language int

const (
	LangEnglish Language = iota
	LangChinese
)

// LangEnv 语言环境变量
const LangEnv = "ILRUN_LANG"

// Messages 命令行输出文本
type Messages struct {
	// 版本
	VersionTitle  string
	VersionDesc   string
	VersionTarget string
	VersionCPU    string

	// 帮助
	HelpUsage    string
	HelpCommands string
	HelpOptions  string
	HelpExamples string

	// 命令说明
	CmdVerify  string
	CmdRun     string
	CmdAsm     string
	CmdDump    string
	CmdInit    string
	CmdVersion string
	CmdHelp    string

	// 选项说明
	OptUnsafe     string
	OptJSON       string
	OptDepth      string
	OptEntry      string
	OptConfig     string
	OptVerifyOnly string
	OptLogLevel   string
	OptStats      string
	OptOutput     string
	OptForce      string

	// 错误
	ErrNoInput       string
	ErrUnknownCmd    string
	ErrLoad          string
	ErrConfig        string
	ErrLogger        string
	ErrNoEntry       string
	ErrEntryParams   string
	ErrRuntime       string
	ErrWriteFile     string
	ErrConfigExists  string
	ErrNotSourceFile string

	// 成功
	SuccessVerified   string
	SuccessFailed     string
	SuccessBuilt      string
	SuccessInit       string
	SuccessStats      string
	SuccessDepthTitle string
}

// 英文消息
var messagesEN = Messages{
	VersionTitle:  "ilrun v%s",
	VersionDesc:   "CIL verifier and JIT engine",
	VersionTarget: "Target: %s/%s, pointer size %d",
	VersionCPU:    "CPU features: %s",

	HelpUsage:    "Usage:",
	HelpCommands: "Commands:",
	HelpOptions:  "Options:",
	HelpExamples: "Examples:",

	CmdVerify:  "Verify every method of a module",
	CmdRun:     "Verify, compile and run a module entry point",
	CmdAsm:     "Assemble IL text into a module image",
	CmdDump:    "Disassemble method bodies",
	CmdInit:    "Write a default ilengine.toml",
	CmdVersion: "Show version information",
	CmdHelp:    "Show this help message",

	OptUnsafe:     "Allow unverifiable code (pointer arithmetic)",
	OptJSON:       "Print diagnostics as JSON",
	OptDepth:      "Print the stack depth of every method",
	OptEntry:      "Entry point as Class::Method (default: static Main)",
	OptConfig:     "Configuration file",
	OptVerifyOnly: "Verify without running",
	OptLogLevel:   "Log level (debug/info/warn/error)",
	OptStats:      "Print engine statistics after running",
	OptOutput:     "Output file path",
	OptForce:      "Overwrite an existing file",

	ErrNoInput:       "Error: no input file specified",
	ErrUnknownCmd:    "Unknown command: %s",
	ErrLoad:          "Error loading module: %v",
	ErrConfig:        "Error reading configuration: %v",
	ErrLogger:        "Error creating logger: %v",
	ErrNoEntry:       "Error: entry point %s not found",
	ErrEntryParams:   "Error: entry point %s must be static and take no parameters",
	ErrRuntime:       "Error: %v",
	ErrWriteFile:     "Error writing file: %v",
	ErrConfigExists:  "Error: %s already exists (use -force to overwrite)",
	ErrNotSourceFile: "Error: %s is not an IL source file (expected %s)",

	SuccessVerified:   "✓ %s: %d methods verified",
	SuccessFailed:     "✗ %s: %d of %d methods rejected",
	SuccessBuilt:      "✓ Built %s (%d bytes)",
	SuccessInit:       "✓ Created %s",
	SuccessStats:      "methods: %d verified, %d rejected, %d bound; objects: %d (%d bytes); calls: %d",
	SuccessDepthTitle: "Stack depth:",
}

// 中文消息
var messagesZH = Messages{
	VersionTitle:  "ilrun v%s",
	VersionDesc:   "CIL 校验器与 JIT 执行引擎",
	VersionTarget: "目标平台: %s/%s，指针宽度 %d",
	VersionCPU:    "CPU 特性: %s",

	HelpUsage:    "用法:",
	HelpCommands: "命令:",
	HelpOptions:  "选项:",
	HelpExamples: "示例:",

	CmdVerify:  "校验模块中的所有方法",
	CmdRun:     "校验、编译并运行模块入口",
	CmdAsm:     "把 IL 文本汇编为模块映像",
	CmdDump:    "反汇编方法体",
	CmdInit:    "生成默认的 ilengine.toml",
	CmdVersion: "显示版本信息",
	CmdHelp:    "显示帮助信息",

	OptUnsafe:     "允许不可验证的代码（指针运算）",
	OptJSON:       "以 JSON 输出诊断",
	OptDepth:      "输出每个方法的栈深度",
	OptEntry:      "入口方法 Class::Method（默认为静态 Main）",
	OptConfig:     "配置文件",
	OptVerifyOnly: "只校验，不运行",
	OptLogLevel:   "日志级别 (debug/info/warn/error)",
	OptStats:      "运行结束后输出引擎统计",
	OptOutput:     "输出文件路径",
	OptForce:      "覆盖已存在的文件",

	ErrNoInput:       "错误: 未指定输入文件",
	ErrUnknownCmd:    "未知命令: %s",
	ErrLoad:          "加载模块错误: %v",
	ErrConfig:        "读取配置错误: %v",
	ErrLogger:        "创建日志错误: %v",
	ErrNoEntry:       "错误: 找不到入口方法 %s",
	ErrEntryParams:   "错误: 入口方法 %s 必须是无参数的静态方法",
	ErrRuntime:       "运行时错误: %v",
	ErrWriteFile:     "写入文件错误: %v",
	ErrConfigExists:  "错误: %s 已存在（使用 -force 覆盖）",
	ErrNotSourceFile: "错误: %s 不是 IL 源文件（应为 %s）",

	SuccessVerified:   "✓ %s: %d 个方法校验通过",
	SuccessFailed:     "✗ %s: %d/%d 个方法被拒绝",
	SuccessBuilt:      "✓ 已生成 %s (%d 字节)",
	SuccessInit:       "✓ 已创建 %s",
	SuccessStats:      "方法: 校验 %d，拒绝 %d，绑定 %d；对象: %d (%d 字节)；调用: %d",
	SuccessDepthTitle: "栈深度:",
}

var (
	msg         = messagesEN
	currentLang = LangEnglish
)

// InitLanguage 初始化语言设置
// 优先级: 环境变量 ILRUN_LANG > 操作系统语言 > 默认英文
func InitLanguage() {
	if env := os.Getenv(LangEnv); env != "" {
		setLanguage(env)
		return
	}
	if detectChineseOS() {
		setLanguage("zh")
		return
	}
	setLanguage("en")
}

func setLanguage(lang string) {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "zh", "zh-cn", "zh-tw", "zh-hk", "chinese":
		currentLang = LangChinese
		msg = messagesZH
	default:
		currentLang = LangEnglish
		msg = messagesEN
	}
}

// detectChineseOS 检测操作系统是否为中文环境
func detectChineseOS() bool {
	if strings.HasPrefix(strings.ToLower(systemLocale()), "zh") {
		return true
	}
	for _, v := range []string{"LANG", "LANGUAGE", "LC_ALL", "LC_MESSAGES"} {
		if val := strings.ToLower(os.Getenv(v)); strings.Contains(val, "zh") || strings.Contains(val, "chinese") {
			return true
		}
	}
	return false
}

// Msg 当前消息
func Msg() *Messages {
	return &msg
}
