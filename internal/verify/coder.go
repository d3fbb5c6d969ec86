package verify

import (
	"github.com/tangzhangming/ilengine/internal/cil"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/types"
)

// ============================================================================
// 代码生成回调
// ============================================================================

// Cond 比较条件，比较指令和条件分支共用
type Cond uint8

const (
	CondEq Cond = iota
	CondNeUn
	CondGt
	CondGtUn
	CondGe
	CondGeUn
	CondLt
	CondLtUn
	CondLe
	CondLeUn
)

var condNames = [...]string{"eq", "ne.un", "gt", "gt.un", "ge", "ge.un", "lt", "lt.un", "le", "le.un"}

func (c Cond) String() string { return condNames[c] }

// Unsigned 是否按无符号（浮点为无序）比较
func (c Cond) Unsigned() bool {
	switch c {
	case CondNeUn, CondGtUn, CondGeUn, CondLtUn, CondLeUn:
		return true
	}
	return false
}

// Mode 条件对应的操作数表
func (c Cond) Mode() types.CmpMode {
	switch c {
	case CondEq, CondNeUn:
		return types.CmpEquality
	case CondGtUn:
		return types.CmpUnordered
	}
	return types.CmpOrdered
}

// ShiftOp 移位运算
type ShiftOp uint8

const (
	Shl ShiftOp = iota
	Shr
	ShrUn
)

// Conv 数值转换描述
type Conv struct {
	Elem meta.ElementType // 目标元素类型
	Ovf  bool             // 溢出检查
	Un   bool             // 源操作数按无符号解释
}

// Result 转换结果在栈上的类型
func (c Conv) Result() types.Item {
	return types.ItemFor(meta.Prim(c.Elem))
}

// CallKind 调用形式
type CallKind uint8

const (
	CallDirect    CallKind = iota // 静态绑定
	CallVirtual                   // 通过虚表槽位
	CallInterface                 // 通过接口方法表
)

func (k CallKind) String() string {
	switch k {
	case CallVirtual:
		return "virtual"
	case CallInterface:
		return "interface"
	}
	return "direct"
}

// Coder 验证器驱动的代码生成器
//
// 验证器每通过一条指令就调用对应的回调，参数给出验证器推导出的操作数类型。
// 回调本身不返回错误：实现记录第一个错误，验证器在每条指令之后检查 Err。
type Coder interface {
	// Setup 方法开始，regions 为已校验的异常区域
	Setup(m *meta.Method, body *meta.MethodBody, regions *RegionIndex)
	// Finish 方法结束，生成最终代码
	Finish() error
	// Err 第一个记录的错误
	Err() error

	// Instruction 每条指令开始前调用
	Instruction(in *cil.Instr)
	// Label 到达分支目标；fallthru 为真表示前一条指令可以顺序执行到这里
	Label(addr uint32, fallthru bool)
	// Refresh 无条件跳转之后的不可达指令，栈从空开始
	Refresh()

	// 常量
	LoadInt32(v int32)
	LoadInt64(v int64)
	LoadFloat(v float64, single bool)
	LoadNull()
	LoadString(s string)

	// 参数与局部变量
	LoadArg(n int, t *meta.Type)
	StoreArg(n int, t *meta.Type)
	LoadArgAddr(n int, t *meta.Type)
	LoadLocal(n int, t *meta.Type)
	StoreLocal(n int, t *meta.Type)
	LoadLocalAddr(n int, t *meta.Type)

	// 栈操作
	Dup()
	Pop()

	// 运算
	Binary(op types.BinOp, a, b, result types.Item)
	Shift(op ShiftOp, value, amount types.Item)
	Unary(op types.UnOp, a types.Item)
	Compare(c Cond, a, b types.Item)
	Convert(c Conv, from types.Item)

	// 控制流
	Branch(target uint32)
	BranchUnary(a types.Item, onTrue bool, target uint32)
	BranchCompare(c Cond, a, b types.Item, target uint32)
	Switch(value types.Item, targets []uint32)
	Return(t *meta.Type)

	// 间接访问
	LoadIndirect(t *meta.Type)
	StoreIndirect(t *meta.Type)
	CopyObject(t *meta.Type)
	InitObject(t *meta.Type)
	SizeOf(t *meta.Type)
	LocalAlloc()
	CopyBlock()
	InitBlock()

	// 对象与字段
	NewObject(ctor *meta.Method)
	LoadField(f *meta.Field, obj types.Item)
	LoadFieldAddr(f *meta.Field, obj types.Item)
	StoreField(f *meta.Field, obj types.Item)
	LoadStaticField(f *meta.Field)
	LoadStaticFieldAddr(f *meta.Field)
	StoreStaticField(f *meta.Field)
	Box(t *meta.Type)
	Unbox(t *meta.Type)
	UnboxAny(t *meta.Type)
	CastClass(t *meta.Type)
	IsInst(t *meta.Type)

	// 数组
	NewArray(elem *meta.Type)
	ArrayLength()
	LoadElement(elem *meta.Type)
	LoadElementAddr(elem *meta.Type)
	StoreElement(elem *meta.Type)

	// 调用
	Call(m *meta.Method, kind CallKind)
	ConstrainThis(t *meta.Type, depth int)
	LoadFunction(m *meta.Method, virtual bool)

	// 异常
	Throw()
	Rethrow()
	Leave(target uint32)
	EndFinally()
	EndFilter()
}

// ============================================================================
// 空代码生成器
// ============================================================================

// NullCoder 只验证不生成代码
type NullCoder struct{}

var _ Coder = NullCoder{}

func (NullCoder) Setup(*meta.Method, *meta.MethodBody, *RegionIndex) {}
func (NullCoder) Finish() error { return nil }
func (NullCoder) Err() error { return nil }
func (NullCoder) Instruction(*cil.Instr) {}
func (NullCoder) Label(uint32, bool) {}
func (NullCoder) Refresh() {}
func (NullCoder) LoadInt32(int32) {}
func (NullCoder) LoadInt64(int64) {}
func (NullCoder) LoadFloat(float64, bool) {}
func (NullCoder) LoadNull() {}
func (NullCoder) LoadString(string) {}
func (NullCoder) LoadArg(int, *meta.Type) {}
func (NullCoder) StoreArg(int, *meta.Type) {}
func (NullCoder) LoadArgAddr(int, *meta.Type) {}
func (NullCoder) LoadLocal(int, *meta.Type) {}
func (NullCoder) StoreLocal(int, *meta.Type) {}
func (NullCoder) LoadLocalAddr(int, *meta.Type) {}
func (NullCoder) Dup() {}
func (NullCoder) Pop() {}
func (NullCoder) Binary(types.BinOp, types.Item, types.Item, types.Item) {}
func (NullCoder) Shift(ShiftOp, types.Item, types.Item) {}
func (NullCoder) Unary(types.UnOp, types.Item) {}
func (NullCoder) Compare(Cond, types.Item, types.Item) {}
func (NullCoder) Convert(Conv, types.Item) {}
func (NullCoder) Branch(uint32) {}
func (NullCoder) BranchUnary(types.Item, bool, uint32) {}
func (NullCoder) BranchCompare(Cond, types.Item, types.Item, uint32) {}
func (NullCoder) Switch(types.Item, []uint32) {}
func (NullCoder) Return(*meta.Type) {}
func (NullCoder) LoadIndirect(*meta.Type) {}
func (NullCoder) StoreIndirect(*meta.Type) {}
func (NullCoder) CopyObject(*meta.Type) {}
func (NullCoder) InitObject(*meta.Type) {}
func (NullCoder) SizeOf(*meta.Type) {}
func (NullCoder) LocalAlloc() {}
func (NullCoder) CopyBlock() {}
func (NullCoder) InitBlock() {}
func (NullCoder) NewObject(*meta.Method) {}
func (NullCoder) LoadField(*meta.Field, types.Item) {}
func (NullCoder) LoadFieldAddr(*meta.Field, types.Item) {}
func (NullCoder) StoreField(*meta.Field, types.Item) {}
func (NullCoder) LoadStaticField(*meta.Field) {}
func (NullCoder) LoadStaticFieldAddr(*meta.Field) {}
func (NullCoder) StoreStaticField(*meta.Field) {}
func (NullCoder) Box(*meta.Type) {}
func (NullCoder) Unbox(*meta.Type) {}
func (NullCoder) UnboxAny(*meta.Type) {}
func (NullCoder) CastClass(*meta.Type) {}
func (NullCoder) IsInst(*meta.Type) {}
func (NullCoder) NewArray(*meta.Type) {}
func (NullCoder) ArrayLength() {}
func (NullCoder) LoadElement(*meta.Type) {}
func (NullCoder) LoadElementAddr(*meta.Type) {}
func (NullCoder) StoreElement(*meta.Type) {}
func (NullCoder) Call(*meta.Method, CallKind) {}
func (NullCoder) ConstrainThis(*meta.Type, int) {}
func (NullCoder) LoadFunction(*meta.Method, bool) {}
func (NullCoder) Throw() {}
func (NullCoder) Rethrow() {}
func (NullCoder) Leave(uint32) {}
func (NullCoder) EndFinally() {}
func (NullCoder) EndFilter() {}
