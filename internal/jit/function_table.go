// function_table.go - 函数表
//
// 上下文中所有具名函数的注册表，供 dump 和按名调用使用。
// 函数状态由各自的发布指针决定，表本身只做名称索引。

package jit

import (
	"sort"
	"sync"
)

// FunctionState 函数状态
type FunctionState int32

const (
	FuncStateNone      FunctionState = iota // 已创建，未编译
	FuncStatePending                        // 设置了按需编译
	FuncStateCompiling                      // 正在编译
	FuncStateCompiled                       // 已发布
	FuncStateFailed                         // 编译失败
)

func (s FunctionState) String() string {
	switch s {
	case FuncStatePending:
		return "pending"
	case FuncStateCompiling:
		return "compiling"
	case FuncStateCompiled:
		return "compiled"
	case FuncStateFailed:
		return "failed"
	}
	return "none"
}

// FunctionTable 函数名索引
type FunctionTable struct {
	mu        sync.RWMutex
	functions map[string]*Function
}

func newFunctionTable() *FunctionTable {
	return &FunctionTable{functions: make(map[string]*Function)}
}

// Register 注册函数，同名覆盖
func (t *FunctionTable) Register(fn *Function) {
	if fn.name == "" {
		return
	}
	t.mu.Lock()
	t.functions[fn.name] = fn
	t.mu.Unlock()
}

// Lookup 按名查找
func (t *FunctionTable) Lookup(name string) *Function {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.functions[name]
}

// Len 函数个数
func (t *FunctionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.functions)
}

// Names 按名称排序的函数名
func (t *FunctionTable) Names() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.functions))
	for name := range t.functions {
		names = append(names, name)
	}
	t.mu.RUnlock()
	sort.Strings(names)
	return names
}

// CountByState 各状态的函数个数
func (t *FunctionTable) CountByState() map[FunctionState]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[FunctionState]int)
	for _, fn := range t.functions {
		out[fn.State()]++
	}
	return out
}
