// memory.go - 托管内存块与地址
//
// 生成代码访问的所有内存都位于 Block 中：
// 1. 标量按小端序存放在字节区
// 2. 引用和地址放在按 8 字节对齐的引用槽里，保证 Go 垃圾回收可见
// 3. 局部变量和参数的地址指向执行帧的寄存器单元
//
// 地址与整数互转（unsafe 代码的 conv.i）通过上下文的地址表完成。

package jit

import (
	"encoding/binary"
	"math"
	"sync"
)

const refSlotSize = 8

// ============================================================================
// Block
// ============================================================================

// Block 一块托管内存
type Block struct {
	data []byte
	refs []any
}

// NewBlock 分配 size 字节并清零
func NewBlock(size int) *Block {
	if size < 0 {
		size = 0
	}
	return &Block{
		data: make([]byte, size),
		refs: make([]any, (size+refSlotSize-1)/refSlotSize),
	}
}

// Size 字节数
func (b *Block) Size() int { return len(b.data) }

// Bytes 原始字节区
func (b *Block) Bytes() []byte { return b.data }

// Clone 深拷贝
func (b *Block) Clone() *Block {
	c := &Block{data: make([]byte, len(b.data)), refs: make([]any, len(b.refs))}
	copy(c.data, b.data)
	copy(c.refs, b.refs)
	return c
}

// Zero 把 [off, off+n) 清零
func (b *Block) Zero(off, n int) error {
	if err := b.check(off, n); err != nil {
		return err
	}
	clear(b.data[off : off+n])
	for i := off / refSlotSize; i*refSlotSize < off+n && i < len(b.refs); i++ {
		if i*refSlotSize >= off {
			b.refs[i] = nil
		}
	}
	return nil
}

// Fill 以字节 v 填充 [off, off+n)，引用槽被清空
func (b *Block) Fill(off, n int, v byte) error {
	if err := b.Zero(off, n); err != nil {
		return err
	}
	for i := off; i < off+n; i++ {
		b.data[i] = v
	}
	return nil
}

// CopyFrom 从 src 的 [srcOff, srcOff+n) 复制到本块 off 处
func (b *Block) CopyFrom(off int, src *Block, srcOff, n int) error {
	if err := b.check(off, n); err != nil {
		return err
	}
	if err := src.check(srcOff, n); err != nil {
		return err
	}
	copy(b.data[off:off+n], src.data[srcOff:srcOff+n])
	if off%refSlotSize == 0 && srcOff%refSlotSize == 0 {
		copy(b.refs[off/refSlotSize:], src.refs[srcOff/refSlotSize:(srcOff+n+refSlotSize-1)/refSlotSize])
	}
	return nil
}

func (b *Block) check(off, n int) error {
	if b == nil {
		return newFault(FaultNullReference, "null block")
	}
	if off < 0 || n < 0 || off+n > len(b.data) {
		return newFault(FaultAccessViolation, "access [%d, %d) outside block of %d bytes", off, off+n, len(b.data))
	}
	return nil
}

// Load 读取 off 处类型为 t 的值
func (b *Block) Load(off int, t *Type) (Slot, error) {
	size := t.size
	if t.kind == KindRef || t.kind == KindPtr {
		size = refSlotSize
	}
	if err := b.check(off, size); err != nil {
		return Slot{}, err
	}
	le := binary.LittleEndian
	d := b.data[off:]
	switch t.kind {
	case KindSByte:
		return Slot{I: int64(int8(d[0]))}, nil
	case KindUByte:
		return Slot{I: int64(d[0])}, nil
	case KindShort:
		return Slot{I: int64(int16(le.Uint16(d)))}, nil
	case KindUShort:
		return Slot{I: int64(le.Uint16(d))}, nil
	case KindInt:
		return Slot{I: int64(int32(le.Uint32(d)))}, nil
	case KindUInt:
		return Slot{I: int64(le.Uint32(d))}, nil
	case KindNInt, KindNUInt, KindLong, KindULong:
		return Slot{I: int64(le.Uint64(d))}, nil
	case KindFloat32:
		return Slot{F: float64(math.Float32frombits(le.Uint32(d)))}, nil
	case KindFloat64, KindNFloat:
		return Slot{F: math.Float64frombits(le.Uint64(d))}, nil
	case KindRef, KindPtr:
		if off%refSlotSize != 0 {
			return Slot{}, newFault(FaultAccessViolation, "misaligned %s load at %d", t, off)
		}
		r := b.refs[off/refSlotSize]
		if t.kind == KindPtr {
			p, _ := r.(Pointer)
			return Slot{Ptr: p}, nil
		}
		return Slot{Ref: r}, nil
	case KindStruct:
		agg := NewBlock(t.size)
		if err := agg.CopyFrom(0, b, off, t.size); err != nil {
			return Slot{}, err
		}
		return Slot{Agg: agg}, nil
	}
	return Slot{}, newFault(FaultAccessViolation, "cannot load %s", t)
}

// Store 在 off 处写入类型为 t 的值
func (b *Block) Store(off int, t *Type, v Slot) error {
	size := t.size
	if t.kind == KindRef || t.kind == KindPtr {
		size = refSlotSize
	}
	if err := b.check(off, size); err != nil {
		return err
	}
	le := binary.LittleEndian
	d := b.data[off:]
	switch t.kind {
	case KindSByte, KindUByte:
		d[0] = byte(v.I)
	case KindShort, KindUShort:
		le.PutUint16(d, uint16(v.I))
	case KindInt, KindUInt:
		le.PutUint32(d, uint32(v.I))
	case KindNInt, KindNUInt, KindLong, KindULong:
		le.PutUint64(d, uint64(v.I))
	case KindFloat32:
		le.PutUint32(d, math.Float32bits(float32(v.F)))
	case KindFloat64, KindNFloat:
		le.PutUint64(d, math.Float64bits(v.F))
	case KindRef, KindPtr:
		if off%refSlotSize != 0 {
			return newFault(FaultAccessViolation, "misaligned %s store at %d", t, off)
		}
		if t.kind == KindPtr {
			b.refs[off/refSlotSize] = v.Ptr
		} else {
			b.refs[off/refSlotSize] = v.Ref
		}
	case KindStruct:
		if v.Agg == nil {
			return b.Zero(off, t.size)
		}
		return b.CopyFrom(off, v.Agg, 0, t.size)
	default:
		return newFault(FaultAccessViolation, "cannot store %s", t)
	}
	return nil
}

// ============================================================================
// Pointer
// ============================================================================

// Pointer 地址：块内偏移，或执行帧中的寄存器单元
type Pointer struct {
	Block *Block
	Off   int
	Cell  *Slot
}

// IsNil 空地址
func (p Pointer) IsNil() bool { return p.Block == nil && p.Cell == nil }

// Add 地址加偏移
func (p Pointer) Add(n int64) Pointer {
	p.Off += int(n)
	return p
}

// Diff 两个地址的字节差；不在同一块内时为 false
func (p Pointer) Diff(q Pointer) (int64, bool) {
	if p.Block != q.Block || p.Cell != q.Cell {
		return 0, false
	}
	return int64(p.Off - q.Off), true
}

// Load 按类型读取
func (p Pointer) Load(t *Type) (Slot, error) {
	if p.Cell != nil {
		if p.Cell.Agg != nil {
			return p.Cell.Agg.Load(p.Off, t)
		}
		if p.Off != 0 {
			return Slot{}, newFault(FaultAccessViolation, "offset %d into a scalar local", p.Off)
		}
		return normalize(*p.Cell, t), nil
	}
	if p.Block == nil {
		return Slot{}, newFault(FaultNullReference, "load through null pointer")
	}
	return p.Block.Load(p.Off, t)
}

// Store 按类型写入
func (p Pointer) Store(t *Type, v Slot) error {
	if p.Cell != nil {
		if p.Cell.Agg != nil {
			return p.Cell.Agg.Store(p.Off, t, v)
		}
		if p.Off != 0 {
			return newFault(FaultAccessViolation, "offset %d into a scalar local", p.Off)
		}
		*p.Cell = normalize(v, t)
		return nil
	}
	if p.Block == nil {
		return newFault(FaultNullReference, "store through null pointer")
	}
	return p.Block.Store(p.Off, t, v)
}

// region 地址对应的块和偏移；寄存器单元只有结构体才有块
func (p Pointer) region() (*Block, int, error) {
	if p.Cell != nil {
		if p.Cell.Agg == nil {
			return nil, 0, newFault(FaultAccessViolation, "block operation on a scalar local")
		}
		return p.Cell.Agg, p.Off, nil
	}
	if p.Block == nil {
		return nil, 0, newFault(FaultNullReference, "block operation on null pointer")
	}
	return p.Block, p.Off, nil
}

// Addressable 可以直接取数据块的托管对象（对象字段、数组元素、装箱值）
type Addressable interface {
	DataBlock() *Block
}

// pointerOf 引用或地址统一为地址
func pointerOf(s Slot, t *Type) (Pointer, error) {
	if t.kind == KindRef {
		if s.Ref == nil {
			return Pointer{}, newFault(FaultNullReference, "null object reference")
		}
		a, ok := s.Ref.(Addressable)
		if !ok {
			return Pointer{}, newFault(FaultAccessViolation, "%T has no data block", s.Ref)
		}
		return Pointer{Block: a.DataBlock()}, nil
	}
	if s.Ptr.IsNil() {
		return Pointer{}, newFault(FaultNullReference, "null pointer")
	}
	return s.Ptr, nil
}

// ============================================================================
// 地址表
// ============================================================================

// addressTable 地址与 nint 互转：高 32 位为基址编号，低 32 位为偏移
type addressTable struct {
	mu    sync.Mutex
	bases []Pointer
	ids   map[Pointer]int64
}

func (t *addressTable) toInt(p Pointer) int64 {
	if p.IsNil() {
		return int64(p.Off)
	}
	base := Pointer{Block: p.Block, Cell: p.Cell}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ids == nil {
		t.ids = make(map[Pointer]int64)
		t.bases = []Pointer{{}}
	}
	id, ok := t.ids[base]
	if !ok {
		id = int64(len(t.bases))
		t.bases = append(t.bases, base)
		t.ids[base] = id
	}
	return id<<32 | int64(uint32(p.Off))
}

func (t *addressTable) toPointer(v int64) Pointer {
	id := v >> 32
	off := int(int32(uint32(v)))
	t.mu.Lock()
	defer t.mu.Unlock()
	if id <= 0 || id >= int64(len(t.bases)) {
		return Pointer{Off: off}
	}
	p := t.bases[id]
	p.Off = off
	return p
}
