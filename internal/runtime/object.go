package runtime

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/layout"
	"github.com/tangzhangming/ilengine/internal/meta"
)

// ============================================================================
// 对象模型
// ============================================================================

// Object 托管对象：类、布局和实例字段数据块
// 装箱的值类型也是 Object，值位于数据块偏移 0 处
type Object struct {
	Class  *meta.Class
	Layout *layout.ClassLayout
	Data   *jit.Block
}

// DataBlock 字段数据块，生成代码按布局偏移直接读写
func (o *Object) DataBlock() *jit.Block { return o.Data }

// Field 按字段读取（宿主代码使用）
func (o *Object) Field(f *meta.Field) (jit.Slot, error) {
	off, ok := o.Layout.FieldOffset(f)
	if !ok {
		return jit.Slot{}, fmt.Errorf("runtime: %s has no field %s", o.Class.FullName(), f.Name)
	}
	return o.Data.Load(off, o.Layout.FieldType(f))
}

// SetField 按字段写入
func (o *Object) SetField(f *meta.Field, v jit.Slot) error {
	off, ok := o.Layout.FieldOffset(f)
	if !ok {
		return fmt.Errorf("runtime: %s has no field %s", o.Class.FullName(), f.Name)
	}
	return o.Data.Store(off, o.Layout.FieldType(f), v)
}

func (o *Object) String() string {
	if msg, ok := exceptionMessage(o); ok {
		if msg == "" {
			return o.Class.FullName()
		}
		return o.Class.FullName() + ": " + msg
	}
	return o.Class.FullName()
}

// String 托管字符串，不可变
type String struct {
	Value string
}

func (s *String) String() string { return s.Value }

// chars UTF-16 代码单元
func (s *String) chars() []uint16 { return utf16.Encode([]rune(s.Value)) }

// FromUTF16 由 UTF-16 代码单元构造 Go 字符串
func FromUTF16(units []uint16) string { return string(utf16.Decode(units)) }

// Len 长度（UTF-16 代码单元）
func (s *String) Len() int { return len(s.chars()) }

// CharAt 第 i 个 UTF-16 代码单元
func (s *String) CharAt(i int) (uint16, bool) {
	cs := s.chars()
	if i < 0 || i >= len(cs) {
		return 0, false
	}
	return cs[i], true
}

// ============================================================================
// 数组
// ============================================================================

// ArrayHeader 数组数据块中元素之前的头部：长度（nint）
const ArrayHeader = 8

// Array 一维零基数组
// 数据块布局为 [长度][元素...]，元素间距 Stride，引用元素占 8 字节引用槽
type Array struct {
	Elem   *meta.Type
	Native *jit.Type
	Length int
	Stride int
	Data   *jit.Block
}

// DataBlock 数组数据块
func (a *Array) DataBlock() *jit.Block { return a.Data }

// Get 读取第 i 个元素
func (a *Array) Get(i int) (jit.Slot, error) {
	if i < 0 || i >= a.Length {
		return jit.Slot{}, fmt.Errorf("runtime: index %d outside array of %d", i, a.Length)
	}
	return a.Data.Load(ArrayHeader+i*a.Stride, a.Native)
}

// Set 写入第 i 个元素
func (a *Array) Set(i int, v jit.Slot) error {
	if i < 0 || i >= a.Length {
		return fmt.Errorf("runtime: index %d outside array of %d", i, a.Length)
	}
	return a.Data.Store(ArrayHeader+i*a.Stride, a.Native, v)
}

// Bytes 字节数组的内容
func (a *Array) Bytes() []byte {
	if a.Stride != 1 {
		return nil
	}
	return a.Data.Bytes()[ArrayHeader : ArrayHeader+a.Length]
}

func (a *Array) String() string {
	var b strings.Builder
	b.WriteString(a.Elem.String())
	fmt.Fprintf(&b, "[%d]", a.Length)
	return b.String()
}

// ElementStride 数组元素间距：引用和地址按引用槽对齐
func ElementStride(t *jit.Type) int {
	if t.HasRefs() || t.Kind() == jit.KindPtr {
		return (t.Size() + 7) &^ 7
	}
	if t.Size() == 0 {
		return 1
	}
	return t.Size()
}
