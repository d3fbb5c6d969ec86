package runtime

import (
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/layout"
	"github.com/tangzhangming/ilengine/internal/meta"
)

func newRuntime(t *testing.T, limit int64) *Runtime {
	t.Helper()
	log := zaptest.NewLogger(t)
	return New(meta.LoadCorlib(), layout.NewService(log), Options{HeapLimit: limit, Logger: log})
}

type linkerFunc func(m *meta.Method) (*jit.Function, error)

func (f linkerFunc) FunctionFor(m *meta.Method) (*jit.Function, error) { return f(m) }

func TestAllocateAndFields(t *testing.T) {
	rt := newRuntime(t, 0)
	b := meta.NewBuilder("rt_test", rt.Corlib.Module)
	c := b.Class("Test", "Pair", rt.Corlib.Object, 0)
	first := b.Field(c, "first", meta.Int32, 0)
	second := b.Field(c, "second", meta.String, 0)

	o, err := rt.Allocate(c)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := o.SetField(first, jit.Int(42)); err != nil {
		t.Fatal(err)
	}
	if err := o.SetField(second, jit.RefSlot(rt.NewString("hi"))); err != nil {
		t.Fatal(err)
	}
	v, _ := o.Field(first)
	if v.I != 42 {
		t.Errorf("first = %d, want 42", v.I)
	}
	s, _ := o.Field(second)
	if str, ok := s.Ref.(*String); !ok || str.Value != "hi" {
		t.Errorf("second = %v", s.Ref)
	}
	if objs, _ := rt.Stats(); objs != 2 {
		t.Errorf("objects = %d, want 2", objs)
	}
}

func TestHeapLimit(t *testing.T) {
	rt := newRuntime(t, 64)
	if _, err := rt.NewArray(meta.Int64, 4); err != nil {
		t.Fatalf("first array: %v", err)
	}
	if _, err := rt.NewArray(meta.Int64, 4); err == nil {
		t.Fatal("allocation past the heap limit succeeded")
	}

	// 辅助函数在内存不足时返回 null，由生成代码抛出异常
	h := rt.Helpers()
	th := rt.NewThread()
	r, err := h.NewArray.Invoke(jit.RefSlot(th), jit.RefSlot(meta.Int64), jit.Long(100))
	if err != nil || r.Ref != nil {
		t.Errorf("NewArray helper = %v, %v; want null", r.Ref, err)
	}
	exc := rt.outOfMemory()
	if exc == nil || exc.Class != rt.Corlib.OutOfMemory {
		t.Fatalf("preallocated exception = %v", exc)
	}
}

func TestArrayLayout(t *testing.T) {
	rt := newRuntime(t, 0)
	tests := []struct {
		elem   *meta.Type
		stride int
	}{
		{meta.Bool, 1},
		{meta.Int16, 2},
		{meta.Int32, 4},
		{meta.Float64, 8},
		{meta.String, 8},
		{meta.ArrayOf(meta.Int32), 8},
	}
	for _, tt := range tests {
		t.Run(tt.elem.String(), func(t *testing.T) {
			a, err := rt.NewArray(tt.elem, 3)
			if err != nil {
				t.Fatal(err)
			}
			if a.Stride != tt.stride {
				t.Errorf("stride = %d, want %d", a.Stride, tt.stride)
			}
			n, _ := a.Data.Load(0, jit.TypeNInt)
			if n.I != 3 {
				t.Errorf("length header = %d", n.I)
			}
			if _, err := a.Get(3); err == nil {
				t.Error("Get past the end succeeded")
			}
		})
	}
}

func TestIsInstance(t *testing.T) {
	rt := newRuntime(t, 0)
	cl := rt.Corlib
	b := meta.NewBuilder("cast_test", cl.Module)
	shape := b.Class("Test", "IShape", nil, meta.ClassInterface|meta.ClassAbstract)
	base := b.Class("Test", "Base", cl.Object, 0)
	derived := b.Class("Test", "Derived", base, 0)
	b.Implement(derived, shape)

	d, _ := rt.Allocate(derived)
	strs, _ := rt.NewArray(meta.String, 1)
	bases, _ := rt.NewArray(meta.ClassOf(base), 1)

	tests := []struct {
		name string
		obj  any
		typ  *meta.Type
		want bool
	}{
		{"null", nil, meta.Object, false},
		{"self", d, meta.ClassOf(derived), true},
		{"base", d, meta.ClassOf(base), true},
		{"interface", d, meta.ClassOf(shape), true},
		{"object", d, meta.Object, true},
		{"unrelated", d, meta.String, false},
		{"string", rt.NewString("x"), meta.String, true},
		{"covariant array", strs, meta.ArrayOf(meta.Object), true},
		{"array to element", bases, meta.ArrayOf(meta.ClassOf(derived)), false},
		{"value array", mustArray(t, rt, meta.Int32), meta.ArrayOf(meta.Object), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rt.IsInstance(tt.obj, tt.typ); got != tt.want {
				t.Errorf("IsInstance(%v, %s) = %v, want %v", tt.obj, tt.typ, got, tt.want)
			}
		})
	}

	if rt.CanStore(strs, d) {
		t.Error("object stored into string[]")
	}
	if !rt.CanStore(bases, d) || !rt.CanStore(bases, nil) {
		t.Error("derived or null rejected by Base[]")
	}
}

func mustArray(t *testing.T, rt *Runtime, elem *meta.Type) *Array {
	t.Helper()
	a, err := rt.NewArray(elem, 1)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestMapFault(t *testing.T) {
	rt := newRuntime(t, 0)
	tests := []struct {
		kind jit.FaultKind
		want *meta.Class
	}{
		{jit.FaultNullReference, rt.Corlib.NullReference},
		{jit.FaultDivideByZero, rt.Corlib.DivideByZero},
		{jit.FaultOverflow, rt.Corlib.Overflow},
		{jit.FaultArithmetic, rt.Corlib.Arithmetic},
		{jit.FaultOutOfMemory, rt.Corlib.OutOfMemory},
		{jit.FaultInvalidProgram, rt.Corlib.InvalidProgram},
		{jit.FaultAccessViolation, nil},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			got := rt.MapFault(&jit.Fault{Kind: tt.kind, IL: 4})
			if tt.want == nil {
				if got != nil {
					t.Errorf("mapped to %v, want no mapping", got)
				}
				return
			}
			o, ok := got.(*Object)
			if !ok || o.Class != tt.want {
				t.Errorf("mapped to %v, want %s", got, tt.want.FullName())
			}
		})
	}

	exc := rt.SystemException(ExcIndexOutOfRange, "")
	if msg, ok := exceptionMessage(exc); !ok || msg == "" {
		t.Errorf("message = %q (%v)", msg, ok)
	}
	if exc.String() == exc.Class.FullName() {
		t.Error("exception string carries no message")
	}
}

func TestThreadStatics(t *testing.T) {
	rt := newRuntime(t, 0)
	a, b := rt.NewThread(), rt.NewThread()
	if a.ID == b.ID {
		t.Fatal("threads share an id")
	}
	blk := a.ThreadStatic(5, 8)
	if blk == nil || blk.Size() != 8 {
		t.Fatalf("slot block = %v", blk)
	}
	if a.ThreadStatic(5, 8) != blk {
		t.Error("slot reallocated on second access")
	}
	if b.ThreadStatic(5, 8) == blk {
		t.Error("threads share thread-static storage")
	}
}

func TestMethodHandles(t *testing.T) {
	rt := newRuntime(t, 0)
	m := rt.Corlib.Exception.FindMethod("get_Message", 0)
	h := rt.MethodHandle(m)
	if h == 0 || rt.MethodHandle(m) != h {
		t.Fatalf("handle = %d, not stable", h)
	}
	if rt.MethodFromHandle(h) != m {
		t.Error("handle does not resolve back")
	}
	if rt.MethodFromHandle(h+1) != nil || rt.MethodFromHandle(0) != nil {
		t.Error("invalid handle resolved")
	}
}

func TestInitClassRunsOnce(t *testing.T) {
	rt := newRuntime(t, 0)
	b := meta.NewBuilder("cctor_test", rt.Corlib.Module)
	c := b.Class("Test", "Config", rt.Corlib.Object, 0)
	cctor := b.Method(c, ".cctor", meta.NewSignature(meta.Void), meta.MethodStatic)

	ctx := jit.NewContext(zaptest.NewLogger(t))
	runs := 0
	bump := jit.NewNative("bump", jit.NewSignature(jit.TypeVoid), func([]jit.Slot) (jit.Slot, error) {
		runs++
		return jit.Slot{}, nil
	})
	fn := ctx.NewFunction("Config::.cctor", jit.NewSignature(jit.TypeVoid, jit.TypeRef))
	fn.InsnCallNative(bump, nil)
	fn.InsnReturn(nil)
	if err := fn.Compile(); err != nil {
		t.Fatal(err)
	}

	if err := rt.InitClass(rt.NewThread(), c); !errors.Is(err, ErrNoLinker) {
		t.Fatalf("InitClass without linker = %v", err)
	}

	rt2 := newRuntime(t, 0)
	rt2.SetLinker(linkerFunc(func(m *meta.Method) (*jit.Function, error) {
		if m != cctor {
			t.Fatalf("linked %s", m.FullName())
		}
		return fn, nil
	}))
	th := rt2.NewThread()
	for i := 0; i < 3; i++ {
		if err := rt2.InitClass(th, c); err != nil {
			t.Fatalf("InitClass: %v", err)
		}
	}
	if runs != 1 {
		t.Errorf(".cctor ran %d times, want 1", runs)
	}
	if !rt2.Initialized(c) {
		t.Error("class not marked initialized")
	}
}

func TestStringUTF16(t *testing.T) {
	s := &String{Value: "a😀"}
	if s.Len() != 3 {
		t.Errorf("Len = %d, want 3", s.Len())
	}
	if c, ok := s.CharAt(1); !ok || c != 0xD83D {
		t.Errorf("CharAt(1) = %#x", c)
	}
	if FromUTF16([]uint16{0x61, 0xD83D, 0xDE00}) != "a😀" {
		t.Error("FromUTF16 round trip")
	}
}
