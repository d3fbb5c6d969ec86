package stack

import (
	"errors"
	"fmt"
	"sort"
)

// 标签错误
var (
	ErrStaleLabel    = errors.New("label belongs to a previous generation")
	ErrLabelResolved = errors.New("label resolved twice")
	ErrLabelUnsaved  = errors.New("label has no saved stack")
)

// 每个分配块容纳的标签数
const labelChunk = 32

// ============================================================================
// 标签
// ============================================================================

// Label 分支目标
// Saved 是第一次到达时捕获的栈形状，之后每次到达都必须与之合并
type Label[T any] struct {
	Addr   uint32 // IL 偏移
	Native any    // 代码生成器的本地标签
	Saved  []T

	saved    bool
	resolved bool
	gen      uint32
	arena    *Arena[T]
}

// HasSaved 是否已捕获栈形状
func (l *Label[T]) HasSaved() bool { return l.saved }

// Resolved 是否已到达标签位置
func (l *Label[T]) Resolved() bool { return l.resolved }

func (l *Label[T]) check() error {
	if l.arena == nil || l.gen != l.arena.gen {
		return fmt.Errorf("%w: IL_%04X", ErrStaleLabel, l.Addr)
	}
	return nil
}

// SaveAt 第一次到达标签时捕获当前栈，已捕获时返回 false
func (l *Label[T]) SaveAt(s *Stack[T]) (bool, error) {
	if err := l.check(); err != nil {
		return false, err
	}
	if l.saved {
		return false, nil
	}
	l.Saved = append(l.Saved[:0], s.Items()...)
	l.saved = true
	return true, nil
}

// MergeAt 将当前栈与标签捕获的栈合并
// 未捕获时等同于 SaveAt；深度不同返回 ErrDepthMismatch；逐项调用 merge 由调用方决定类型一致性或写回临时值
func (l *Label[T]) MergeAt(s *Stack[T], merge func(i int, saved, incoming T) error) error {
	first, err := l.SaveAt(s)
	if err != nil || first {
		return err
	}
	if len(l.Saved) != s.Len() {
		return fmt.Errorf("%w at IL_%04X: %d vs %d", ErrDepthMismatch, l.Addr, len(l.Saved), s.Len())
	}
	if merge == nil {
		return nil
	}
	for i, in := range s.Items() {
		if err := merge(i, l.Saved[i], in); err != nil {
			return err
		}
	}
	return nil
}

// RestoreAt 将标签捕获的栈复制回当前栈（无条件跳转之后）
func (l *Label[T]) RestoreAt(s *Stack[T]) error {
	if err := l.check(); err != nil {
		return err
	}
	if !l.saved {
		return fmt.Errorf("%w: IL_%04X", ErrLabelUnsaved, l.Addr)
	}
	s.Replace(l.Saved)
	return nil
}

// Resolve 标记字节码位置到达该标签，每个标签只能解析一次
func (l *Label[T]) Resolve() error {
	if err := l.check(); err != nil {
		return err
	}
	if l.resolved {
		return fmt.Errorf("%w: IL_%04X", ErrLabelResolved, l.Addr)
	}
	l.resolved = true
	return nil
}

// ============================================================================
// 标签池
// ============================================================================

// Arena 单个方法编译期间的标签池
// Reset 使代数加一并整体回收所有标签，旧标签此后不可再用
type Arena[T any] struct {
	chunks [][]Label[T]
	used   int // 当前块已用数量
	chunk  int // 当前块下标
	byAddr map[uint32]*Label[T]
	gen    uint32
}

// NewArena 创建标签池
func NewArena[T any]() *Arena[T] {
	return &Arena[T]{byAddr: make(map[uint32]*Label[T]), gen: 1}
}

// Generation 当前代数
func (a *Arena[T]) Generation() uint32 { return a.gen }

// Len 当前代的标签数
func (a *Arena[T]) Len() int { return len(a.byAddr) }

func (a *Arena[T]) alloc() *Label[T] {
	if a.chunk == len(a.chunks) {
		a.chunks = append(a.chunks, make([]Label[T], labelChunk))
	}
	l := &a.chunks[a.chunk][a.used]
	a.used++
	if a.used == labelChunk {
		a.chunk++
		a.used = 0
	}
	return l
}

// Get 返回 addr 处的标签，第一次引用时创建
func (a *Arena[T]) Get(addr uint32) *Label[T] {
	if l, ok := a.byAddr[addr]; ok {
		return l
	}
	l := a.alloc()
	saved := l.Saved[:0]
	*l = Label[T]{Addr: addr, Saved: saved, gen: a.gen, arena: a}
	a.byAddr[addr] = l
	return l
}

// Lookup 查找已引用的标签
func (a *Arena[T]) Lookup(addr uint32) (*Label[T], bool) {
	l, ok := a.byAddr[addr]
	return l, ok
}

// Labels 当前代的全部标签，按地址排序
func (a *Arena[T]) Labels() []*Label[T] {
	out := make([]*Label[T], 0, len(a.byAddr))
	for _, l := range a.byAddr {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Reset 回收全部标签并进入下一代
func (a *Arena[T]) Reset() {
	var zero T
	for _, l := range a.byAddr {
		for i := range l.Saved {
			l.Saved[i] = zero
		}
		l.Native = nil
	}
	a.gen++
	a.chunk, a.used = 0, 0
	for k := range a.byAddr {
		delete(a.byAddr, k)
	}
}
