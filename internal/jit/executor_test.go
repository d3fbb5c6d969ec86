package jit

import (
	"math"
	"testing"
)

type binaryBuilder func(f *Function, a, b *Value) *Value

func compileBinary(t *testing.T, ctx *Context, typ *Type, op binaryBuilder) *Function {
	t.Helper()
	f := ctx.NewFunction(t.Name(), NewSignature(typ, typ, typ))
	f.SetOffset(0x10)
	f.InsnReturn(op(f, f.Param(0), f.Param(1)))
	if err := f.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return f
}

// TestIntegerArithmetic 整数运算按结果类型截断
func TestIntegerArithmetic(t *testing.T) {
	tests := []struct {
		name string
		typ  *Type
		op   binaryBuilder
		a, b int64
		want int64
	}{
		{"add", TypeInt, (*Function).InsnAdd, 2, 3, 5},
		{"add wraps", TypeInt, (*Function).InsnAdd, math.MaxInt32, 1, math.MinInt32},
		{"sub", TypeInt, (*Function).InsnSub, 2, 5, -3},
		{"mul", TypeInt, (*Function).InsnMul, 6, 7, 42},
		{"div truncates", TypeInt, (*Function).InsnDiv, -7, 2, -3},
		{"rem sign", TypeInt, (*Function).InsnRem, -7, 2, -1},
		{"rem min by minus one", TypeInt, (*Function).InsnRem, math.MinInt32, -1, 0},
		{"unsigned div", TypeUInt, (*Function).InsnDiv, 0xFFFFFFFE, 2, 0x7FFFFFFF},
		{"and", TypeInt, (*Function).InsnAnd, 12, 10, 8},
		{"or", TypeInt, (*Function).InsnOr, 12, 10, 14},
		{"xor", TypeInt, (*Function).InsnXor, 12, 10, 6},
		{"shl masks amount", TypeInt, (*Function).InsnShl, 1, 33, 2},
		{"shr arithmetic", TypeInt, (*Function).InsnShr, -8, 1, -4},
		{"shr logical", TypeUInt, (*Function).InsnShr, 0x80000000, 4, 0x08000000},
		{"long add", TypeLong, (*Function).InsnAdd, 1 << 40, 1, 1<<40 + 1},
		{"checked add fits", TypeInt, (*Function).InsnAddOvf, 100, 200, 300},
		{"checked unsigned mul fits", TypeULong, (*Function).InsnMulOvf, 1 << 31, 1 << 32, math.MinInt64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext(nil)
			f := compileBinary(t, ctx, tt.typ, tt.op)
			got, err := f.Apply(Long(tt.a), Long(tt.b))
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if got.I != tt.want {
				t.Errorf("got %d, want %d", got.I, tt.want)
			}
		})
	}
}

// TestFloatArithmetic 浮点运算，float32 结果按单精度舍入
func TestFloatArithmetic(t *testing.T) {
	a32, b32 := float32(0.1), float32(0.2)
	tests := []struct {
		name string
		typ  *Type
		op   binaryBuilder
		a, b float64
		want float64
	}{
		{"add", TypeFloat64, (*Function).InsnAdd, 1.5, 2.25, 3.75},
		{"div by zero", TypeFloat64, (*Function).InsnDiv, 1, 0, math.Inf(1)},
		{"rem", TypeFloat64, (*Function).InsnRem, 7.5, 2, 1.5},
		{"single precision", TypeFloat32, (*Function).InsnAdd, 0.1, 0.2, float64(a32 + b32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext(nil)
			f := compileBinary(t, ctx, tt.typ, tt.op)
			got, err := f.Apply(Float(tt.a), Float(tt.b))
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if got.F != tt.want {
				t.Errorf("got %v, want %v", got.F, tt.want)
			}
		})
	}
}

// TestArithmeticFaults 溢出、除零在没有映射器时以 *Fault 返回
func TestArithmeticFaults(t *testing.T) {
	tests := []struct {
		name string
		typ  *Type
		op   binaryBuilder
		a, b int64
		want FaultKind
	}{
		{"signed add overflow", TypeInt, (*Function).InsnAddOvf, math.MaxInt32, 1, FaultOverflow},
		{"unsigned add overflow", TypeUInt, (*Function).InsnAddOvf, 0xFFFFFFFF, 1, FaultOverflow},
		{"unsigned sub overflow", TypeUInt, (*Function).InsnSubOvf, 0, 1, FaultOverflow},
		{"long mul overflow", TypeLong, (*Function).InsnMulOvf, math.MaxInt64, 2, FaultOverflow},
		{"divide by zero", TypeInt, (*Function).InsnDiv, 1, 0, FaultDivideByZero},
		{"remainder by zero", TypeLong, (*Function).InsnRem, 1, 0, FaultDivideByZero},
		{"min divided by minus one", TypeInt, (*Function).InsnDiv, math.MinInt32, -1, FaultArithmetic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext(nil)
			f := compileBinary(t, ctx, tt.typ, tt.op)
			_, err := f.Apply(Long(tt.a), Long(tt.b))
			fault, ok := AsFault(err)
			if !ok {
				t.Fatalf("expected fault, got %v", err)
			}
			if fault.Kind != tt.want {
				t.Errorf("kind = %s, want %s", fault.Kind, tt.want)
			}
			if fault.IL != 0x10 {
				t.Errorf("IL = %#x, want 0x10", fault.IL)
			}
			if ctx.Stats().Faults != 1 {
				t.Errorf("Faults = %d, want 1", ctx.Stats().Faults)
			}
		})
	}
}

// TestConversions 数值转换
func TestConversions(t *testing.T) {
	tests := []struct {
		name     string
		from, to *Type
		in       Slot
		ovf      bool
		want     Slot
		fault    FaultKind
	}{
		{name: "int to ulong", from: TypeInt, to: TypeULong, in: Int(-1), want: Long(-1)},
		{name: "long to ubyte", from: TypeLong, to: TypeUByte, in: Long(300), want: Long(44)},
		{name: "long to sbyte", from: TypeLong, to: TypeSByte, in: Long(200), want: Long(-56)},
		{name: "float to int truncates", from: TypeFloat64, to: TypeInt, in: Float(-3.7), want: Long(-3)},
		{name: "float to ubyte", from: TypeFloat64, to: TypeUByte, in: Float(3.9), want: Long(3)},
		{name: "uint to float", from: TypeUInt, to: TypeFloat64, in: Long(0xFFFFFFFF), want: Float(4294967295)},
		{name: "ulong to float", from: TypeULong, to: TypeFloat64, in: Long(-1), want: Float(math.MaxUint64)},
		{name: "int to float32", from: TypeInt, to: TypeFloat32, in: Int(7), want: Float(7)},
		{name: "checked widening", from: TypeInt, to: TypeLong, in: Int(-5), ovf: true, want: Long(-5)},
		{name: "checked negative to unsigned", from: TypeInt, to: TypeULong, in: Int(-1), ovf: true, fault: FaultOverflow},
		{name: "checked narrowing", from: TypeLong, to: TypeInt, in: Long(1 << 40), ovf: true, fault: FaultOverflow},
		{name: "checked unsigned source", from: TypeULong, to: TypeLong, in: Long(-1), ovf: true, fault: FaultOverflow},
		{name: "checked NaN", from: TypeFloat64, to: TypeInt, in: Float(math.NaN()), ovf: true, fault: FaultOverflow},
		{name: "checked float range", from: TypeFloat64, to: TypeUByte, in: Float(256), ovf: true, fault: FaultOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext(nil)
			f := ctx.NewFunction("conv", NewSignature(tt.to, tt.from))
			f.InsnReturn(f.InsnConvert(f.Param(0), tt.to, tt.ovf))
			if err := f.Compile(); err != nil {
				t.Fatalf("Compile: %v", err)
			}
			got, err := f.Apply(tt.in)
			if tt.fault != FaultNone {
				fault, ok := AsFault(err)
				if !ok || fault.Kind != tt.fault {
					t.Fatalf("expected %s fault, got %v", tt.fault, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if tt.to.IsFloat() {
				if got.F != tt.want.F {
					t.Errorf("got %v, want %v", got.F, tt.want.F)
				}
			} else if got.I != tt.want.I {
				t.Errorf("got %d, want %d", got.I, tt.want.I)
			}
		})
	}
}

// TestCompare 比较，包括无序浮点和无符号比较
func TestCompare(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name string
		typ  *Type
		op   binaryBuilder
		a, b Slot
		want int64
	}{
		{"lt", TypeInt, (*Function).InsnLt, Int(-1), Int(1), 1},
		{"gt signed", TypeInt, (*Function).InsnGt, Int(-1), Int(1), 0},
		{"gt unsigned", TypeInt, (*Function).InsnGtUn, Int(-1), Int(1), 1},
		{"lt unsigned", TypeLong, (*Function).InsnLtUn, Long(1), Long(-1), 1},
		{"eq", TypeLong, (*Function).InsnEq, Long(9), Long(9), 1},
		{"nan lt", TypeFloat64, (*Function).InsnLt, Float(nan), Float(1), 0},
		{"nan lt unordered", TypeFloat64, (*Function).InsnLtUn, Float(nan), Float(1), 1},
		{"nan eq", TypeFloat64, (*Function).InsnEq, Float(nan), Float(nan), 0},
		{"nan ne", TypeFloat64, (*Function).InsnNe, Float(nan), Float(nan), 1},
		{"ge", TypeFloat64, (*Function).InsnGe, Float(2), Float(2), 1},
		{"le unordered", TypeFloat64, (*Function).InsnLeUn, Float(3), Float(2), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext(nil)
			f := ctx.NewFunction("cmp", NewSignature(TypeInt, tt.typ, tt.typ))
			f.InsnReturn(tt.op(f, f.Param(0), f.Param(1)))
			if err := f.Compile(); err != nil {
				t.Fatalf("Compile: %v", err)
			}
			got, err := f.Apply(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if got.I != tt.want {
				t.Errorf("got %d, want %d", got.I, tt.want)
			}
		})
	}
}

func TestRefCompare(t *testing.T) {
	ctx := NewContext(nil)
	f := ctx.NewFunction("isnull", NewSignature(TypeInt, TypeRef))
	f.InsnReturn(f.InsnEq(f.Param(0), f.ConstRef(nil)))
	if err := f.Compile(); err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		in   any
		want int64
	}{{nil, 1}, {"x", 0}, {[]int{1}, 0}} {
		got, err := f.Apply(RefSlot(tc.in))
		if err != nil {
			t.Fatal(err)
		}
		if got.I != tc.want {
			t.Errorf("isnull(%v) = %d, want %d", tc.in, got.I, tc.want)
		}
	}
}

func TestUnary(t *testing.T) {
	ctx := NewContext(nil)
	neg := ctx.NewFunction("neg", NewSignature(TypeInt, TypeInt))
	neg.InsnReturn(neg.InsnNeg(neg.Param(0)))
	not := ctx.NewFunction("not", NewSignature(TypeLong, TypeLong))
	not.InsnReturn(not.InsnNot(not.Param(0)))
	ck := ctx.NewFunction("ckfinite", NewSignature(TypeFloat64, TypeFloat64))
	ck.InsnReturn(ck.InsnCkfinite(ck.Param(0)))
	for _, f := range []*Function{neg, not, ck} {
		if err := f.Compile(); err != nil {
			t.Fatal(err)
		}
	}

	if got, _ := neg.Apply(Int(math.MinInt32)); got.I != math.MinInt32 {
		t.Errorf("neg(MinInt32) = %d", got.I)
	}
	if got, _ := not.Apply(Long(0)); got.I != -1 {
		t.Errorf("not(0) = %d", got.I)
	}
	if got, err := ck.Apply(Float(2.5)); err != nil || got.F != 2.5 {
		t.Errorf("ckfinite(2.5) = %v, %v", got.F, err)
	}
	_, err := ck.Apply(Float(math.Inf(-1)))
	if fault, ok := AsFault(err); !ok || fault.Kind != FaultArithmetic {
		t.Errorf("ckfinite(-Inf) error = %v", err)
	}
}

// TestBranches 循环和条件跳转
func TestBranches(t *testing.T) {
	ctx := NewContext(nil)
	f := ctx.NewFunction("sum", NewSignature(TypeInt, TypeInt))
	one := f.ConstInt(TypeInt, 1)
	i := f.NewValue(TypeInt)
	s := f.NewValue(TypeInt)
	f.InsnStore(i, one)
	f.InsnStore(s, f.ConstInt(TypeInt, 0))
	top, done := f.NewLabel(), f.NewLabel()
	f.PlaceLabel(top)
	f.InsnBranchIf(f.InsnGt(i, f.Param(0)), done)
	f.InsnStore(s, f.InsnAdd(s, i))
	f.InsnStore(i, f.InsnAdd(i, one))
	f.InsnBranch(top)
	f.PlaceLabel(done)
	f.InsnReturn(s)
	if err := f.Compile(); err != nil {
		t.Fatal(err)
	}

	for n, want := range map[int32]int64{0: 0, 1: 1, 10: 55, 100: 5050} {
		got, err := f.Apply(Int(n))
		if err != nil {
			t.Fatal(err)
		}
		if got.I != want {
			t.Errorf("sum(%d) = %d, want %d", n, got.I, want)
		}
	}
}

func TestJumpTable(t *testing.T) {
	ctx := NewContext(nil)
	f := ctx.NewFunction("switch", NewSignature(TypeInt, TypeInt))
	labels := []*Label{f.NewLabel(), f.NewLabel(), f.NewLabel()}
	f.InsnJumpTable(f.Param(0), labels)
	f.InsnReturn(f.ConstInt(TypeInt, -1))
	for i, l := range labels {
		f.PlaceLabel(l)
		f.InsnReturn(f.ConstInt(TypeInt, int64(10*(i+1))))
	}
	if err := f.Compile(); err != nil {
		t.Fatal(err)
	}

	tests := map[int32]int64{0: 10, 1: 20, 2: 30, 3: -1, -1: -1}
	for in, want := range tests {
		got, err := f.Apply(Int(in))
		if err != nil {
			t.Fatal(err)
		}
		if got.I != want {
			t.Errorf("switch(%d) = %d, want %d", in, got.I, want)
		}
	}
}
