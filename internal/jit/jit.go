// Package jit 提供按需编译的本地代码抽象：类型、签名、函数、值、标签和指令。
//
// 函数先用 Insn* 系列方法构建，再由 Compile 校验并发布可执行的闭包；
// 闭包由执行器解释执行。首次调用未编译的函数时触发按需编译回调。
package jit

import (
	"runtime"
	"sync"
	"unsafe"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sys/cpu"
)

// ============================================================================
// 目标平台
// ============================================================================

// Target 目标平台描述
type Target struct {
	Arch     string
	OS       string
	PtrSize  int
	Features []string
}

// DetectTarget 检测当前平台的字宽和 CPU 特性
func DetectTarget() Target {
	t := Target{
		Arch:    runtime.GOARCH,
		OS:      runtime.GOOS,
		PtrSize: int(unsafe.Sizeof(uintptr(0))),
	}
	add := func(ok bool, name string) {
		if ok {
			t.Features = append(t.Features, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE2, "sse2")
		add(cpu.X86.HasSSE41, "sse4.1")
		add(cpu.X86.HasSSE42, "sse4.2")
		add(cpu.X86.HasPOPCNT, "popcnt")
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasBMI1, "bmi1")
		add(cpu.X86.HasBMI2, "bmi2")
		add(cpu.X86.HasAES, "aes")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "asimd")
		add(cpu.ARM64.HasAES, "aes")
		add(cpu.ARM64.HasSHA2, "sha2")
		add(cpu.ARM64.HasCRC32, "crc32")
		add(cpu.ARM64.HasATOMICS, "atomics")
	}
	return t
}

// ============================================================================
// 上下文
// ============================================================================

// Context JIT 上下文：构建锁、故障映射、函数表和统计
type Context struct {
	build  sync.Mutex
	target Target
	logger *zap.Logger
	faults FaultMapper
	addrs  addressTable
	funcs  *FunctionTable
	stats  contextStats

	// MaxCallDepth 调用嵌套上限，超过时以 FaultStackOverflow 结束
	MaxCallDepth int
	// OptLevel 发布前 IR 整理的级别 0..2
	OptLevel int
}

type contextStats struct {
	functions atomic.Int64
	compiled  atomic.Int64
	onDemand  atomic.Int64
	failed    atomic.Int64
	calls     atomic.Int64
	faults    atomic.Int64
	thrown    atomic.Int64
}

// Stats 统计快照
type Stats struct {
	Functions int64 // 创建的函数
	Compiled  int64 // 编译成功
	OnDemand  int64 // 其中由首次调用触发
	Failed    int64 // 编译失败
	Calls     int64 // 函数调用次数
	Faults    int64 // 执行器故障
	Thrown    int64 // 抛出的托管异常
}

// NewContext 创建上下文
func NewContext(logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		target:       DetectTarget(),
		logger:       logger,
		funcs:        newFunctionTable(),
		MaxCallDepth: 4096,
		OptLevel:     1,
	}
}

// Target 目标平台
func (c *Context) Target() Target { return c.target }

// Logger 日志
func (c *Context) Logger() *zap.Logger { return c.logger }

// SetFaultMapper 设置故障到托管异常的映射
func (c *Context) SetFaultMapper(m FaultMapper) { c.faults = m }

// BuildStart 获取构建锁；同一上下文中的函数构建互斥
func (c *Context) BuildStart() { c.build.Lock() }

// BuildEnd 释放构建锁
func (c *Context) BuildEnd() { c.build.Unlock() }

// Functions 函数表
func (c *Context) Functions() *FunctionTable { return c.funcs }

// PointerToInt 地址转 nint
func (c *Context) PointerToInt(p Pointer) int64 { return c.addrs.toInt(p) }

// IntToPointer nint 转地址
func (c *Context) IntToPointer(v int64) Pointer { return c.addrs.toPointer(v) }

// Stats 统计快照
func (c *Context) Stats() Stats {
	return Stats{
		Functions: c.stats.functions.Load(),
		Compiled:  c.stats.compiled.Load(),
		OnDemand:  c.stats.onDemand.Load(),
		Failed:    c.stats.failed.Load(),
		Calls:     c.stats.calls.Load(),
		Faults:    c.stats.faults.Load(),
		Thrown:    c.stats.thrown.Load(),
	}
}

// mapFault 故障转托管异常
func (c *Context) mapFault(f *Fault) any {
	c.stats.faults.Inc()
	if c.faults == nil {
		return nil
	}
	return c.faults(f)
}
