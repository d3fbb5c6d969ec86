// Package layout 计算类的内存布局：实例字段偏移、虚表、接口方法表、
// 静态数据和线程静态槽位。
//
// 布局在首次请求时计算，之后只读。服务以读写锁做双重检查，
// 同一个类在整个进程中只计算一次。
package layout

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/types"
)

// 布局错误
var (
	ErrRecursiveValueType = errors.New("layout: value type contains itself")
	ErrFieldType          = errors.New("layout: unsupported field type")
)

// ============================================================================
// 类布局
// ============================================================================

// ThreadStatic 线程静态字段在线程槽表中的位置
type ThreadStatic struct {
	Slot int
	Type *jit.Type
}

// ClassLayout 一个类的布局，计算完成后不可变
type ClassLayout struct {
	Class  *meta.Class
	Parent *ClassLayout

	// Size 实例数据字节数；值类型为值本身的大小
	Size  int
	Align int

	offsets    map[*meta.Field]int
	fieldTypes map[*meta.Field]*jit.Type

	// VTable 虚方法槽，子类的重写替换父类同一槽位
	VTable []*meta.Method
	slots  map[*meta.Method]int

	// InterfaceMap 接口到实现方法的映射，按接口方法声明顺序；未实现的位置为 nil
	InterfaceMap map[*meta.Class][]*meta.Method

	StaticData    *jit.Block
	statics       staticData
	staticOffsets map[*meta.Field]int
	threadStatics map[*meta.Field]ThreadStatic

	// StructType 值类型的原生结构体类型；基元值类为对应的原生类型
	StructType *jit.Type
}

// staticData 让静态数据块可以作为对象引用常量访问
type staticData struct{ block *jit.Block }

func (s *staticData) DataBlock() *jit.Block { return s.block }

// FieldOffset 实例字段偏移（包括继承的字段）
func (l *ClassLayout) FieldOffset(f *meta.Field) (int, bool) {
	off, ok := l.offsets[f]
	return off, ok
}

// FieldType 字段的原生类型（实例或静态）
func (l *ClassLayout) FieldType(f *meta.Field) *jit.Type {
	return l.fieldTypes[f]
}

// StaticOffset 静态字段在 StaticData 中的偏移
func (l *ClassLayout) StaticOffset(f *meta.Field) (int, bool) {
	off, ok := l.staticOffsets[f]
	return off, ok
}

// Statics 静态数据块的引用形式，可以直接作为 IR 中的对象引用常量
func (l *ClassLayout) Statics() jit.Addressable { return &l.statics }

// ThreadStatic 线程静态字段的槽位
func (l *ClassLayout) ThreadStatic(f *meta.Field) (ThreadStatic, bool) {
	ts, ok := l.threadStatics[f]
	return ts, ok
}

// Slot 虚方法的虚表槽位
func (l *ClassLayout) Slot(m *meta.Method) (int, bool) {
	s, ok := l.slots[m]
	return s, ok
}

// Resolve 虚调用 m 在本类上的实际目标
func (l *ClassLayout) Resolve(m *meta.Method) *meta.Method {
	if s, ok := l.slots[m]; ok {
		return l.VTable[s]
	}
	return m
}

// InterfaceMethod 接口方法在本类上的实现，未实现时为 nil
func (l *ClassLayout) InterfaceMethod(iface *meta.Class, index int) *meta.Method {
	impls := l.InterfaceMap[iface]
	if index < 0 || index >= len(impls) {
		return nil
	}
	return impls[index]
}

// ============================================================================
// 布局服务
// ============================================================================

// Service 布局服务，可在多个线程间共享
type Service struct {
	mu      sync.RWMutex
	layouts map[*meta.Class]*ClassLayout
	pending map[*meta.Class]bool

	computations atomic.Int64
	threadSlots  int
	log          *zap.Logger
}

// NewService 创建布局服务
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		layouts: make(map[*meta.Class]*ClassLayout),
		pending: make(map[*meta.Class]bool),
		log:     logger,
	}
}

// Computations 实际计算过的布局个数
func (s *Service) Computations() int64 { return s.computations.Load() }

// ThreadStaticSlots 已分配的线程静态槽位个数
func (s *Service) ThreadStaticSlots() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threadSlots
}

// Layout 返回类的布局，必要时计算
func (s *Service) Layout(c *meta.Class) (*ClassLayout, error) {
	s.mu.RLock()
	l := s.layouts[c]
	s.mu.RUnlock()
	if l != nil {
		return l, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layoutLocked(c)
}

// NativeType 声明类型的原生类型；非基元值类型为布局给出的结构体类型
func (s *Service) NativeType(t *meta.Type) (*jit.Type, error) {
	if nt := types.NativePrimitive(t); nt != nil {
		return nt, nil
	}
	if t.Kind != meta.ElemValueType || t.Class == nil {
		return nil, fmt.Errorf("%w: %s", ErrFieldType, t)
	}
	l, err := s.Layout(t.Class)
	if err != nil {
		return nil, err
	}
	return l.StructType, nil
}

// SizeOf sizeof 指令的结果
func (s *Service) SizeOf(t *meta.Type) (int, error) {
	nt, err := s.NativeType(t)
	if err != nil {
		return 0, err
	}
	return nt.Size(), nil
}

func (s *Service) nativeTypeLocked(t *meta.Type) (*jit.Type, error) {
	if nt := types.NativePrimitive(t); nt != nil {
		return nt, nil
	}
	if t.Kind != meta.ElemValueType || t.Class == nil {
		return nil, fmt.Errorf("%w: %s", ErrFieldType, t)
	}
	l, err := s.layoutLocked(t.Class)
	if err != nil {
		return nil, err
	}
	return l.StructType, nil
}

// layoutLocked 在持有写锁时取得或计算布局，父类和值类型字段先计算
func (s *Service) layoutLocked(c *meta.Class) (*ClassLayout, error) {
	if l := s.layouts[c]; l != nil {
		return l, nil
	}
	if s.pending[c] {
		return nil, fmt.Errorf("%w: %s", ErrRecursiveValueType, c.FullName())
	}
	s.pending[c] = true
	defer delete(s.pending, c)

	l, err := s.compute(c)
	if err != nil {
		return nil, err
	}
	s.layouts[c] = l
	s.computations.Inc()
	s.log.Debug("class laid out",
		zap.String("class", c.FullName()),
		zap.Int("size", l.Size),
		zap.Int("vtable", len(l.VTable)),
		zap.Int("interfaces", len(l.InterfaceMap)))
	return l, nil
}

func (s *Service) compute(c *meta.Class) (*ClassLayout, error) {
	l := &ClassLayout{
		Class:         c,
		Align:         1,
		offsets:       make(map[*meta.Field]int),
		fieldTypes:    make(map[*meta.Field]*jit.Type),
		slots:         make(map[*meta.Method]int),
		InterfaceMap:  make(map[*meta.Class][]*meta.Method),
		staticOffsets: make(map[*meta.Field]int),
		threadStatics: make(map[*meta.Field]ThreadStatic),
	}
	if c.Parent != nil {
		parent, err := s.layoutLocked(c.Parent)
		if err != nil {
			return nil, fmt.Errorf("layout %s: %w", c.FullName(), err)
		}
		l.Parent = parent
		for f, off := range parent.offsets {
			l.offsets[f] = off
			l.fieldTypes[f] = parent.fieldTypes[f]
		}
		if !c.IsValueType() {
			l.Size = parent.Size
			l.Align = parent.Align
		}
		l.VTable = append(l.VTable, parent.VTable...)
		for m, slot := range parent.slots {
			l.slots[m] = slot
		}
	}

	if err := s.layoutFields(l); err != nil {
		return nil, fmt.Errorf("layout %s: %w", c.FullName(), err)
	}
	layoutVTable(l)
	layoutInterfaces(l)
	return l, nil
}

// layoutFields 实例字段按声明顺序自然对齐，静态字段放入静态数据块
func (s *Service) layoutFields(l *ClassLayout) error {
	c := l.Class
	var fields []jit.StructField
	off := l.Size
	staticSize := 0
	for _, f := range c.Fields {
		if f.Flags&meta.FieldLiteral != 0 {
			continue
		}
		ft, err := s.nativeTypeLocked(f.Type)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		l.fieldTypes[f] = ft
		a := slotAlign(ft)
		switch {
		case f.IsThreadStatic():
			l.threadStatics[f] = ThreadStatic{Slot: s.threadSlots, Type: ft}
			s.threadSlots++
		case f.IsStatic():
			staticSize = alignUp(staticSize, a)
			l.staticOffsets[f] = staticSize
			staticSize += ft.Size()
		default:
			off = alignUp(off, a)
			l.offsets[f] = off
			fields = append(fields, jit.StructField{Name: f.Name, Type: ft, Offset: off})
			off += ft.Size()
			if a > l.Align {
				l.Align = a
			}
		}
	}
	l.Size = alignUp(off, l.Align)
	l.StaticData = jit.NewBlock(staticSize)
	l.statics.block = l.StaticData

	switch {
	case c.IsPrimitive():
		l.StructType = types.NativePrimitive(meta.Prim(c.Primitive))
		l.Size = l.StructType.Size()
		l.Align = l.StructType.Align()
	case c.IsValueType():
		l.StructType = jit.NewOpaque(c.FullName(), l.Size, l.Align, fields...)
		l.Size = l.StructType.Size()
	}
	return nil
}

// slotAlign 引用和地址占用 8 字节对齐的引用槽
func slotAlign(t *jit.Type) int {
	if t.HasRefs() || t.Kind() == jit.KindPtr {
		return 8
	}
	if t.Align() < 1 {
		return 1
	}
	return t.Align()
}

func alignUp(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) &^ (a - 1)
}

// layoutVTable 虚方法重写父类同名同签名的槽位，newslot 总是分配新槽位
func layoutVTable(l *ClassLayout) {
	for _, m := range l.Class.Methods {
		if !m.IsVirtual() || m.IsStatic() {
			continue
		}
		if m.Flags&meta.MethodNewSlot == 0 {
			if slot, ok := findSlot(l, m); ok {
				l.VTable[slot] = m
				l.slots[m] = slot
				continue
			}
		}
		l.slots[m] = len(l.VTable)
		l.VTable = append(l.VTable, m)
	}
}

func findSlot(l *ClassLayout, m *meta.Method) (int, bool) {
	for i := len(l.VTable) - 1; i >= 0; i-- {
		v := l.VTable[i]
		if v.Name == m.Name && v.Sig.Matches(m.Sig) {
			return i, true
		}
	}
	return 0, false
}

// layoutInterfaces 为类及其父类实现的每个接口建立方法表
func layoutInterfaces(l *ClassLayout) {
	if l.Class.IsInterface() {
		return
	}
	for _, iface := range allInterfaces(l.Class) {
		impls := make([]*meta.Method, len(iface.Methods))
		for i, im := range iface.Methods {
			impls[i] = findImplementation(l, im)
		}
		l.InterfaceMap[iface] = impls
	}
}

func findImplementation(l *ClassLayout, im *meta.Method) *meta.Method {
	if im.IsStatic() {
		return nil
	}
	for i := len(l.VTable) - 1; i >= 0; i-- {
		v := l.VTable[i]
		if v.Name == im.Name && v.Sig.Matches(im.Sig) && !v.IsAbstract() {
			return v
		}
	}
	return nil
}

func allInterfaces(c *meta.Class) []*meta.Class {
	seen := make(map[*meta.Class]bool)
	var out []*meta.Class
	var visit func(i *meta.Class)
	visit = func(i *meta.Class) {
		if seen[i] {
			return
		}
		seen[i] = true
		out = append(out, i)
		for _, p := range i.Interfaces {
			visit(p)
		}
	}
	for k := c; k != nil; k = k.Parent {
		for _, i := range k.Interfaces {
			visit(i)
		}
	}
	return out
}
