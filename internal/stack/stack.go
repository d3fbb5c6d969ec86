// Package stack 实现验证器和代码生成器共用的评估栈与标签快照
//
// 验证器的栈元素是类型标记（types.Item），代码生成器的栈元素是本地值（*jit.Value），
// 两者共用同一套深度检查和合并算法。
package stack

import (
	"errors"
	"fmt"
)

// 栈错误
var (
	ErrOverflow      = errors.New("stack overflow")
	ErrUnderflow     = errors.New("stack underflow")
	ErrDepthMismatch = errors.New("stack sizes don't match")
)

// 初始容量
const initialCapacity = 8

// ============================================================================
// 评估栈
// ============================================================================

// Stack 有界评估栈
// 底层存储按倍数增长，方法编译期间不收缩
type Stack[T any] struct {
	items []T
	max   int // 声明的最大深度，<0 表示不限
}

// New 创建最大深度为 max 的栈
func New[T any](max int) *Stack[T] {
	c := initialCapacity
	if max >= 0 && max < c {
		c = max
	}
	return &Stack[T]{items: make([]T, 0, c), max: max}
}

// Len 当前深度
func (s *Stack[T]) Len() int { return len(s.items) }

// Max 声明的最大深度
func (s *Stack[T]) Max() int { return s.max }

// SetMax 重新设置最大深度（方法开始时）
func (s *Stack[T]) SetMax(max int) { s.max = max }

// Cap 当前底层容量
func (s *Stack[T]) Cap() int { return cap(s.items) }

// grow 容量不足时按倍数扩展
func (s *Stack[T]) grow() {
	n := cap(s.items) * 2
	if n < initialCapacity {
		n = initialCapacity
	}
	items := make([]T, len(s.items), n)
	copy(items, s.items)
	s.items = items
}

// Push 压入一项，超过最大深度时返回 ErrOverflow
func (s *Stack[T]) Push(v T) error {
	if s.max >= 0 && len(s.items) >= s.max {
		return fmt.Errorf("%w: max stack %d", ErrOverflow, s.max)
	}
	if len(s.items) == cap(s.items) {
		s.grow()
	}
	s.items = append(s.items, v)
	return nil
}

// Pop 弹出栈顶 n 项，返回顺序为从底到顶
func (s *Stack[T]) Pop(n int) ([]T, error) {
	if n < 0 || len(s.items) < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrUnderflow, n, len(s.items))
	}
	top := len(s.items) - n
	out := make([]T, n)
	copy(out, s.items[top:])
	var zero T
	for i := top; i < len(s.items); i++ {
		s.items[i] = zero
	}
	s.items = s.items[:top]
	return out, nil
}

// Pop1 弹出栈顶一项
func (s *Stack[T]) Pop1() (T, error) {
	var zero T
	if len(s.items) == 0 {
		return zero, fmt.Errorf("%w: need 1, have 0", ErrUnderflow)
	}
	v := s.items[len(s.items)-1]
	s.items[len(s.items)-1] = zero
	s.items = s.items[:len(s.items)-1]
	return v, nil
}

// Peek 查看栈顶 n 项但不弹出，返回的切片只读
func (s *Stack[T]) Peek(n int) ([]T, error) {
	if n < 0 || len(s.items) < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrUnderflow, n, len(s.items))
	}
	return s.items[len(s.items)-n:], nil
}

// Top 栈顶项
func (s *Stack[T]) Top() (T, bool) {
	if len(s.items) == 0 {
		var zero T
		return zero, false
	}
	return s.items[len(s.items)-1], true
}

// At 从栈底数第 i 项
func (s *Stack[T]) At(i int) T { return s.items[i] }

// Set 替换从栈底数第 i 项
func (s *Stack[T]) Set(i int, v T) { s.items[i] = v }

// Items 全部栈项（从底到顶），返回的切片只读
func (s *Stack[T]) Items() []T { return s.items }

// Truncate 截断到深度 n
func (s *Stack[T]) Truncate(n int) {
	if n < 0 || n > len(s.items) {
		return
	}
	var zero T
	for i := n; i < len(s.items); i++ {
		s.items[i] = zero
	}
	s.items = s.items[:n]
}

// Reset 清空栈，保留容量
func (s *Stack[T]) Reset() { s.Truncate(0) }

// Replace 用 items 的副本替换栈内容
func (s *Stack[T]) Replace(items []T) {
	s.Truncate(0)
	for len(items) > cap(s.items) {
		s.grow()
	}
	s.items = append(s.items, items...)
}

// Snapshot 当前栈内容的副本
func (s *Stack[T]) Snapshot() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}
