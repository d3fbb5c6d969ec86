package jit

import "fmt"

// ============================================================================
// 值与寄存器单元
// ============================================================================

// Slot 寄存器单元，按值的类型使用其中一个字段
type Slot struct {
	I   int64   // 整数（按类型截断并扩展）
	F   float64 // 浮点
	Ref any     // 托管对象引用
	Ptr Pointer // 地址
	Agg *Block  // 结构体值
}

// Int 以 int 单元构造
func Int(v int32) Slot { return Slot{I: int64(v)} }

// Long 以 long 单元构造
func Long(v int64) Slot { return Slot{I: v} }

// Float 以浮点单元构造
func Float(v float64) Slot { return Slot{F: v} }

// RefSlot 以对象引用构造
func RefSlot(v any) Slot { return Slot{Ref: v} }

// Value 函数内的一个值：参数、临时变量或常量
type Value struct {
	fn       *Function
	index    int
	typ      *Type
	param    bool
	constant bool
	konst    Slot
	addr     bool // 取过地址
}

func (v *Value) Type() *Type { return v.typ }
func (v *Value) Function() *Function { return v.fn }
func (v *Value) IsConstant() bool { return v.constant }
func (v *Value) IsParam() bool { return v.param }
func (v *Value) IsAddressable() bool { return v.addr }
func (v *Value) Constant() Slot { return v.konst }
func (v *Value) Index() int { return v.index }

// ConstInt 整数常量的值；非常量返回 false
func (v *Value) ConstInt() (int64, bool) {
	if !v.constant || !v.typ.IsInteger() {
		return 0, false
	}
	return v.konst.I, true
}

func (v *Value) String() string {
	switch {
	case v.constant && v.typ.IsFloat():
		return fmt.Sprintf("%g", v.konst.F)
	case v.constant && v.typ.IsInteger():
		return fmt.Sprintf("%d", v.konst.I)
	case v.constant:
		return fmt.Sprintf("const(%s)", v.typ)
	case v.param:
		return fmt.Sprintf("p%d", v.index)
	}
	return fmt.Sprintf("v%d", v.index)
}

// Label 跳转目标
type Label struct {
	id  int
	pos int // 放置位置的指令下标，未放置为 -1
}

func (l *Label) ID() int { return l.id }
func (l *Label) Placed() bool { return l.pos >= 0 }
func (l *Label) String() string { return fmt.Sprintf("L%d", l.id) }

// ============================================================================
// 按类型规整
// ============================================================================

// normalize 把单元规整为类型 t 的表示：整数截断扩展，float32 舍入
func normalize(s Slot, t *Type) Slot {
	switch t.kind {
	case KindSByte:
		return Slot{I: int64(int8(s.I))}
	case KindUByte:
		return Slot{I: int64(uint8(s.I))}
	case KindShort:
		return Slot{I: int64(int16(s.I))}
	case KindUShort:
		return Slot{I: int64(uint16(s.I))}
	case KindInt:
		return Slot{I: int64(int32(s.I))}
	case KindUInt:
		return Slot{I: int64(uint32(s.I))}
	case KindNInt, KindNUInt, KindLong, KindULong:
		return Slot{I: s.I}
	case KindFloat32:
		return Slot{F: float64(float32(s.F))}
	case KindFloat64, KindNFloat:
		return Slot{F: s.F}
	case KindRef:
		return Slot{Ref: s.Ref}
	case KindPtr:
		return Slot{Ptr: s.Ptr}
	case KindStruct:
		if s.Agg == nil {
			return Slot{Agg: NewBlock(t.size)}
		}
		return Slot{Agg: s.Agg.Clone()}
	}
	return Slot{}
}

// isZero 条件分支用的真值判断
func isZero(s Slot, t *Type) bool {
	switch t.kind {
	case KindRef:
		return s.Ref == nil
	case KindPtr:
		return s.Ptr.IsNil()
	case KindFloat32, KindFloat64, KindNFloat:
		return s.F == 0
	}
	return s.I == 0
}
