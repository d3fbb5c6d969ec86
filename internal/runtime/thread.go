package runtime

import (
	"github.com/tangzhangming/ilengine/internal/jit"
)

// ============================================================================
// 线程
// ============================================================================

// Thread 执行线程，作为上下文句柄传给每个生成的函数（第 0 个参数）
// 线程只被一个 goroutine 使用，内部状态不加锁
type Thread struct {
	ID int64

	rt      *Runtime
	exc     any
	statics []*jit.Block // 线程静态槽表，按需增长
}

// NewThread 创建线程
func (r *Runtime) NewThread() *Thread {
	return &Thread{ID: r.threadIDs.Inc(), rt: r}
}

// Runtime 所属运行时
func (t *Thread) Runtime() *Runtime { return t.rt }

// Exception 线程最近抛出的异常
func (t *Thread) Exception() any { return t.exc }

// SetException 记录当前异常
func (t *Thread) SetException(exc any) { t.exc = exc }

// ClearException 清除当前异常
func (t *Thread) ClearException() { t.exc = nil }

// ThreadStatic 线程静态槽 slot 的数据块，第一次访问时分配 size 字节
func (t *Thread) ThreadStatic(slot, size int) *jit.Block {
	if slot < 0 {
		return nil
	}
	if slot >= len(t.statics) {
		n := len(t.statics) * 2
		if n <= slot {
			n = slot + 1
		}
		grown := make([]*jit.Block, n)
		copy(grown, t.statics)
		t.statics = grown
	}
	b := t.statics[slot]
	if b == nil {
		b = jit.NewBlock(size)
		t.statics[slot] = b
	}
	return b
}

// threadOf 从上下文句柄取线程
func threadOf(s jit.Slot) *Thread {
	t, _ := s.Ref.(*Thread)
	return t
}
