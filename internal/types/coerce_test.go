package types

import (
	"testing"

	"github.com/tangzhangming/ilengine/internal/meta"
)

var allTypes = []EngineType{
	Int32, UInt32, Int64, UInt64, NativeInt, NativeUInt, Float32, Float64, NativeFloat,
	ObjectRef, UnmanagedPtr, ManagedPtr, TransientPtr, ManagedValue,
}

var pointerTypes = []EngineType{UnmanagedPtr, ManagedPtr, TransientPtr}

func TestCoerceIdentityIsNoop(t *testing.T) {
	for _, unsafeAllowed := range []bool{false, true} {
		for _, ty := range allTypes {
			p := Coerce(ty, ty, Options{Unsafe: unsafeAllowed})
			if !p.Legal() || !p.IsNoop() {
				t.Errorf("Coerce(%s, %s) = %s, want noop", ty, ty, p)
			}
		}
	}
}

func TestCoerceZeroToPointer(t *testing.T) {
	zero := int64(0)
	for _, unsafeAllowed := range []bool{false, true} {
		for _, from := range []EngineType{Int32, UInt32, Int64, NativeInt, NativeUInt} {
			for _, to := range pointerTypes {
				p := Coerce(from, to, Options{Unsafe: unsafeAllowed, Constant: &zero})
				if p != Null {
					t.Errorf("Coerce(%s 0, %s) = %s, want null without warnings", from, to, p)
				}
			}
		}
	}
}

func TestCoerceFloatPointerAlwaysIllegal(t *testing.T) {
	zero := int64(0)
	for _, unsafeAllowed := range []bool{false, true} {
		for _, f := range []EngineType{Float32, Float64, NativeFloat} {
			for _, ptr := range pointerTypes {
				if p := Coerce(f, ptr, Options{Unsafe: unsafeAllowed, Constant: &zero}); p.Legal() {
					t.Errorf("Coerce(%s, %s) unsafe=%v = %s, want illegal", f, ptr, unsafeAllowed, p)
				}
				if p := Coerce(ptr, f, Options{Unsafe: unsafeAllowed}); p.Legal() {
					t.Errorf("Coerce(%s, %s) unsafe=%v = %s, want illegal", ptr, f, unsafeAllowed, p)
				}
			}
		}
	}
}

func TestCoerceUnsafeGate(t *testing.T) {
	tests := []struct {
		from, to EngineType
		plan     Plan
	}{
		{NativeInt, ManagedPtr, IntToPtr},
		{Int32, TransientPtr, IntToPtr},
		{ManagedPtr, NativeInt, PtrToInt},
		{TransientPtr, Int64, PtrToInt},
		{ManagedPtr, TransientPtr, PtrToPtr},
	}
	for _, tt := range tests {
		if p := Coerce(tt.from, tt.to, Options{}); p.Legal() {
			t.Errorf("safe Coerce(%s, %s) = %s, want illegal", tt.from, tt.to, p)
		}
		if p := Coerce(tt.from, tt.to, Options{Unsafe: true}); p != tt.plan {
			t.Errorf("unsafe Coerce(%s, %s) = %s, want %s", tt.from, tt.to, p, tt.plan)
		}
	}
}

func TestCoerceNumeric(t *testing.T) {
	if p := Coerce(Int32, Float64, Options{}); p != Cast {
		t.Errorf("int32 -> float64 = %s, want cast", p)
	}
	if p := Coerce(Int64, NativeInt, Options{PtrSize: 4}); p != Cast|Lossy {
		t.Errorf("int64 -> native int on 32-bit = %s, want cast|lossy", p)
	}
	if p := Coerce(Int64, NativeInt, Options{PtrSize: 8}); p != Cast {
		t.Errorf("int64 -> native int on 64-bit = %s, want cast", p)
	}
	if p := Coerce(UnmanagedPtr, TransientPtr, Options{}); !p.IsNoop() {
		t.Errorf("unmanaged -> transient = %s, want noop", p)
	}
}

func TestCoerceConstLossIsWarning(t *testing.T) {
	p := Coerce(Int32, Int64, Options{ConstLoss: true})
	if !p.Legal() {
		t.Fatalf("const loss made conversion illegal: %s", p)
	}
	if p.Warnings() != ConstLoss {
		t.Errorf("warnings = %s, want const-loss", p.Warnings())
	}
}

func TestCoerceReferencesOutsideLattice(t *testing.T) {
	if p := Coerce(ObjectRef, Int32, Options{Unsafe: true}); p.Legal() {
		t.Errorf("O -> int32 = %s, want illegal", p)
	}
	if p := Coerce(Invalid, Int32, Options{}); p.Legal() {
		t.Errorf("invalid source accepted: %s", p)
	}
}

func TestStackKind(t *testing.T) {
	tests := map[EngineType]EngineType{
		UInt32:       Int32,
		UInt64:       Int64,
		NativeUInt:   NativeInt,
		Float32:      NativeFloat,
		Float64:      NativeFloat,
		UnmanagedPtr: TransientPtr,
		ObjectRef:    ObjectRef,
		ManagedPtr:   ManagedPtr,
	}
	for in, want := range tests {
		if got := in.StackKind(); got != want {
			t.Errorf("%s.StackKind() = %s, want %s", in, got, want)
		}
	}
}

func TestFromType(t *testing.T) {
	c := meta.LoadCorlib()
	tests := []struct {
		in   *meta.Type
		want EngineType
	}{
		{meta.Bool, Int32},
		{meta.Char, Int32},
		{meta.UInt32, UInt32},
		{meta.Int64, Int64},
		{meta.IntPtr, NativeInt},
		{meta.Float32, Float32},
		{meta.String, ObjectRef},
		{meta.ArrayOf(meta.Int32), ObjectRef},
		{meta.ByRefTo(meta.Int32), ManagedPtr},
		{meta.PtrTo(meta.Int32), UnmanagedPtr},
		{meta.ValueOf(c.Decimal), ManagedValue},
		{meta.ValueOf(c.Primitive(meta.ElemI4)), Int32},
		{meta.ClassOf(c.Exception), ObjectRef},
	}
	for _, tt := range tests {
		if got := FromType(tt.in); got != tt.want {
			t.Errorf("FromType(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestAssignable(t *testing.T) {
	c := meta.LoadCorlib()
	exc := meta.ClassOf(c.Exception)
	nre := meta.ClassOf(c.NullReference)
	tests := []struct {
		name   string
		item   Item
		target *meta.Type
		safe   bool
		unsafe bool
	}{
		{"int32 to bool", Of(Int32, nil), meta.Bool, true, true},
		{"int32 to int64", Of(Int32, nil), meta.Int64, false, false},
		{"int64 to uint64", Of(Int64, nil), meta.UInt64, true, true},
		{"F to float32", Of(NativeFloat, nil), meta.Float32, true, true},
		{"null to class", Of(ObjectRef, nil), exc, true, true},
		{"derived to base", Of(ObjectRef, nre), exc, true, true},
		{"base to derived", Of(ObjectRef, exc), nre, false, false},
		{"string to object", Of(ObjectRef, meta.String), meta.Object, true, true},
		{"zero to pointer", Constant(Int32, 0), meta.PtrTo(meta.Int32), true, true},
		{"int to pointer", Constant(Int32, 5), meta.PtrTo(meta.Int32), false, true},
		{"byref exact", Of(ManagedPtr, meta.Int32), meta.ByRefTo(meta.Int32), true, true},
		{"byref mismatch", Of(ManagedPtr, meta.Int64), meta.ByRefTo(meta.Int32), false, true},
		{"byref to native int", Of(ManagedPtr, meta.Int32), meta.IntPtr, false, true},
		{"object to int", Of(ObjectRef, meta.Object), meta.Int32, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Assignable(tt.item, tt.target, false); got != tt.safe {
				t.Errorf("safe Assignable(%s, %s) = %v, want %v", tt.item, tt.target, got, tt.safe)
			}
			if got := Assignable(tt.item, tt.target, true); got != tt.unsafe {
				t.Errorf("unsafe Assignable(%s, %s) = %v, want %v", tt.item, tt.target, got, tt.unsafe)
			}
		})
	}
}

func TestItemSame(t *testing.T) {
	c := meta.LoadCorlib()
	exc := meta.ClassOf(c.Exception)
	if !Constant(Int32, 1).Same(Constant(Int32, 2)) {
		t.Error("int32 constants with different values should merge")
	}
	if Of(Int32, nil).Same(Of(Int64, nil)) {
		t.Error("int32 and int64 should not merge")
	}
	if !Of(ObjectRef, exc).Same(Of(ObjectRef, meta.ClassOf(c.Exception))) {
		t.Error("structurally equal class types should merge")
	}
	if Of(ObjectRef, nil).Same(Of(ObjectRef, exc)) {
		t.Error("null and class reference should not merge")
	}
}
