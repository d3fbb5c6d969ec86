package layout

import (
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
)

type fixture struct {
	corlib *meta.Corlib
	b      *meta.Builder
	point  *meta.Class
	base   *meta.Class
	derive *meta.Class
	shape  *meta.Class
}

func newFixture() *fixture {
	cl := meta.LoadCorlib()
	b := meta.NewBuilder("layout_test", cl.Module)
	f := &fixture{corlib: cl, b: b}

	f.point = b.Class("Test", "Point", cl.ValueType, meta.ClassValueType|meta.ClassSealed)
	b.Field(f.point, "X", meta.Int32, 0)
	b.Field(f.point, "Flag", meta.Bool, 0)
	b.Field(f.point, "Y", meta.Int64, 0)

	f.shape = b.Class("Test", "IShape", nil, meta.ClassInterface|meta.ClassAbstract)
	b.Method(f.shape, "Area", meta.NewSignature(meta.Float64), meta.MethodVirtual|meta.MethodAbstract)
	b.Method(f.shape, "Name", meta.NewSignature(meta.String), meta.MethodVirtual|meta.MethodAbstract)

	f.base = b.Class("Test", "Base", cl.Object, 0)
	b.Field(f.base, "id", meta.Int32, 0)
	b.Field(f.base, "name", meta.String, 0)
	b.Field(f.base, "count", meta.Int32, meta.FieldStatic)
	b.Field(f.base, "origin", meta.ValueOf(f.point), meta.FieldStatic)
	b.Field(f.base, "local", meta.Int64, meta.FieldThreadStatic)
	b.Method(f.base, "Area", meta.NewSignature(meta.Float64), meta.MethodVirtual)
	b.Method(f.base, "Describe", meta.NewSignature(meta.String), meta.MethodVirtual)
	b.Implement(f.base, f.shape)

	f.derive = b.Class("Test", "Derived", f.base, 0)
	b.Field(f.derive, "at", meta.ValueOf(f.point), 0)
	b.Method(f.derive, "Area", meta.NewSignature(meta.Float64), meta.MethodVirtual)
	b.Method(f.derive, "Name", meta.NewSignature(meta.String), meta.MethodVirtual)
	b.Method(f.derive, "Describe", meta.NewSignature(meta.String), meta.MethodVirtual|meta.MethodNewSlot)
	return f
}

func TestValueTypeLayout(t *testing.T) {
	f := newFixture()
	s := NewService(zaptest.NewLogger(t))
	l, err := s.Layout(f.point)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	want := map[string]int{"X": 0, "Flag": 4, "Y": 8}
	for _, fd := range f.point.Fields {
		off, ok := l.FieldOffset(fd)
		if !ok || off != want[fd.Name] {
			t.Errorf("offset of %s = %d (%v), want %d", fd.Name, off, ok, want[fd.Name])
		}
	}
	if l.Size != 16 {
		t.Errorf("size = %d, want 16", l.Size)
	}
	if l.StructType == nil || !l.StructType.IsStruct() || l.StructType.Size() != 16 {
		t.Errorf("struct type = %v", l.StructType)
	}
	if n, _ := s.SizeOf(meta.ValueOf(f.point)); n != 16 {
		t.Errorf("SizeOf = %d, want 16", n)
	}
}

func TestInheritedFieldsAndStatics(t *testing.T) {
	f := newFixture()
	s := NewService(nil)
	base, err := s.Layout(f.base)
	if err != nil {
		t.Fatalf("Layout(base): %v", err)
	}
	derived, err := s.Layout(f.derive)
	if err != nil {
		t.Fatalf("Layout(derived): %v", err)
	}

	id := f.base.FindField("id")
	name := f.base.FindField("name")
	if off, _ := derived.FieldOffset(id); off != 0 {
		t.Errorf("inherited id offset = %d, want 0", off)
	}
	if off, _ := derived.FieldOffset(name); off != 8 {
		t.Errorf("reference field offset = %d, want 8 (reference slots are 8-aligned)", off)
	}
	at := f.derive.FindField("at")
	if off, _ := derived.FieldOffset(at); off != base.Size {
		t.Errorf("derived field offset = %d, want %d", off, base.Size)
	}
	if derived.Size != base.Size+16 {
		t.Errorf("derived size = %d, want %d", derived.Size, base.Size+16)
	}

	count := f.base.FindField("count")
	if _, ok := base.FieldOffset(count); ok {
		t.Error("static field has an instance offset")
	}
	if off, ok := base.StaticOffset(count); !ok || off != 0 {
		t.Errorf("static offset = %d (%v)", off, ok)
	}
	if base.StaticData.Size() != 24 {
		t.Errorf("static data = %d bytes, want 24", base.StaticData.Size())
	}
	if base.Statics().DataBlock() != base.StaticData {
		t.Error("statics handle does not expose the static block")
	}
	ts, ok := base.ThreadStatic(f.base.FindField("local"))
	if !ok || ts.Type != jit.TypeLong {
		t.Errorf("thread static = %+v (%v)", ts, ok)
	}
	if s.ThreadStaticSlots() != 1 {
		t.Errorf("thread static slots = %d, want 1", s.ThreadStaticSlots())
	}
}

func TestVTableAndInterfaceMap(t *testing.T) {
	f := newFixture()
	s := NewService(nil)
	base, _ := s.Layout(f.base)
	derived, err := s.Layout(f.derive)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}

	objectSlots := len(base.Parent.VTable)
	baseArea := f.base.FindMethod("Area", 0)
	derivedArea := f.derive.FindMethod("Area", 0)
	slot, ok := base.Slot(baseArea)
	if !ok {
		t.Fatal("Base::Area has no slot")
	}
	if got, _ := derived.Slot(derivedArea); got != slot {
		t.Errorf("override slot = %d, want %d", got, slot)
	}
	if derived.Resolve(baseArea) != derivedArea {
		t.Error("virtual call of Base::Area on Derived does not reach the override")
	}

	baseDescribe := f.base.FindMethod("Describe", 0)
	newDescribe := f.derive.FindMethod("Describe", 0)
	if derived.Resolve(baseDescribe) != baseDescribe {
		t.Error("newslot method replaced the inherited slot")
	}
	if s1, _ := derived.Slot(newDescribe); s1 != len(derived.VTable)-1 {
		t.Errorf("newslot method slot = %d", s1)
	}
	if len(base.VTable) != objectSlots+2 {
		t.Errorf("base vtable = %d slots, want %d", len(base.VTable), objectSlots+2)
	}

	// Base 只实现了 Area，Name 留空
	if impl := base.InterfaceMethod(f.shape, 0); impl != baseArea {
		t.Errorf("IShape::Area on Base = %v", impl)
	}
	if impl := base.InterfaceMethod(f.shape, 1); impl != nil {
		t.Errorf("IShape::Name on Base = %v, want nil", impl)
	}
	if impl := derived.InterfaceMethod(f.shape, 1); impl != f.derive.FindMethod("Name", 0) {
		t.Errorf("IShape::Name on Derived = %v", impl)
	}
	if impl := derived.InterfaceMethod(f.shape, 5); impl != nil {
		t.Errorf("out-of-range interface index = %v", impl)
	}
}

func TestRecursiveValueType(t *testing.T) {
	cl := meta.LoadCorlib()
	b := meta.NewBuilder("recursive", cl.Module)
	node := b.Class("Test", "Node", cl.ValueType, meta.ClassValueType)
	b.Field(node, "next", meta.ValueOf(node), 0)

	s := NewService(nil)
	_, err := s.Layout(node)
	if !errors.Is(err, ErrRecursiveValueType) {
		t.Fatalf("err = %v, want ErrRecursiveValueType", err)
	}
	if s.Computations() != 2 {
		// Object 和 ValueType 已经计算
		t.Errorf("computations = %d, want 2", s.Computations())
	}
}

func TestLayoutIdempotentUnderConcurrency(t *testing.T) {
	f := newFixture()
	s := NewService(nil)

	const workers = 16
	results := make([]*ClassLayout, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := s.Layout(f.derive)
			if err != nil {
				t.Errorf("Layout: %v", err)
				return
			}
			results[i] = l
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("worker %d saw a different layout", i)
		}
	}
	// Object、Base、Derived、ValueType、Point 各一次
	if got := s.Computations(); got != 5 {
		t.Errorf("computations = %d, want 5", got)
	}
	if _, err := s.Layout(f.derive); err != nil {
		t.Fatal(err)
	}
	if got := s.Computations(); got != 5 {
		t.Errorf("second request recomputed: %d", got)
	}
}

func TestPrimitiveClassLayout(t *testing.T) {
	cl := meta.LoadCorlib()
	s := NewService(nil)
	l, err := s.Layout(cl.Primitive(meta.ElemR8))
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	if l.StructType != jit.TypeFloat64 || l.Size != 8 {
		t.Errorf("System.Double layout = %v / %d", l.StructType, l.Size)
	}
	nt, err := s.NativeType(meta.ArrayOf(meta.Int32))
	if err != nil || nt != jit.TypeRef {
		t.Errorf("array native type = %v, %v", nt, err)
	}
}
