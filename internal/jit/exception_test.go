package jit

import (
	"errors"
	"testing"
)

// TestCatcherHandlesFault 故障经映射器转为异常后进入分派入口
func TestCatcherHandlesFault(t *testing.T) {
	ctx := NewContext(nil)
	ctx.SetFaultMapper(func(f *Fault) any { return f.Kind })

	f := ctx.NewFunction("safediv", NewSignature(TypeInt, TypeInt))
	f.SetOffset(5)
	f.InsnReturn(f.InsnDiv(f.ConstInt(TypeInt, 100), f.Param(0)))

	catcher, other := f.NewLabel(), f.NewLabel()
	f.SetCatcher(catcher)
	f.PlaceLabel(catcher)
	f.SetOffset(-1)
	exc := f.InsnThrown()
	pc := f.InsnThrowPC()
	f.InsnBranchIfNot(f.InsnEq(exc, f.ConstRef(FaultDivideByZero)), other)
	f.InsnReturn(f.InsnAdd(pc, f.ConstInt(TypeInt, 1000)))
	f.PlaceLabel(other)
	f.InsnRethrowUnhandled()
	if err := f.Compile(); err != nil {
		t.Fatal(err)
	}

	got, err := f.Apply(Int(5))
	if err != nil || got.I != 20 {
		t.Fatalf("safediv(5) = %d, %v", got.I, err)
	}
	got, err = f.Apply(Int(0))
	if err != nil {
		t.Fatal(err)
	}
	if got.I != 1005 {
		t.Errorf("safediv(0) = %d, want 1005", got.I)
	}
	if s := ctx.Stats(); s.Faults != 1 || s.Calls != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestUnmappedFaultSkipsCatcher(t *testing.T) {
	ctx := NewContext(nil)
	f := ctx.NewFunction("div", NewSignature(TypeInt, TypeInt))
	f.InsnReturn(f.InsnDiv(f.ConstInt(TypeInt, 1), f.Param(0)))
	catcher := f.NewLabel()
	f.SetCatcher(catcher)
	f.PlaceLabel(catcher)
	f.InsnReturn(f.ConstInt(TypeInt, -1))
	if err := f.Compile(); err != nil {
		t.Fatal(err)
	}
	_, err := f.Apply(Int(0))
	if fault, ok := AsFault(err); !ok || fault.Kind != FaultDivideByZero {
		t.Errorf("error = %v, want divide by zero fault", err)
	}
}

// TestFinally finally 块在正常路径和异常路径上都执行
func TestFinally(t *testing.T) {
	var trace []int64
	record := NewNative("record", NewSignature(nil, TypeInt), func(args []Slot) (Slot, error) {
		trace = append(trace, args[0].I)
		return Slot{}, nil
	})
	fail := NewNative("fail", NewSignature(nil, TypeInt), func(args []Slot) (Slot, error) {
		if args[0].I != 0 {
			return Slot{}, Throw("boom")
		}
		return Slot{}, nil
	})

	ctx := NewContext(nil)
	f := ctx.NewFunction("guarded", NewSignature(nil, TypeInt))
	fin, catcher := f.NewLabel(), f.NewLabel()
	f.SetOffset(1)
	f.InsnCallNative(record, []*Value{f.ConstInt(TypeInt, 1)})
	f.SetOffset(2)
	f.InsnCallNative(fail, []*Value{f.Param(0)})
	f.InsnCallNative(record, []*Value{f.ConstInt(TypeInt, 2)})
	f.InsnCallFinally(fin)
	f.InsnReturn(nil)

	f.SetCatcher(catcher)
	f.PlaceLabel(catcher)
	f.InsnCallFinally(fin)
	f.InsnRethrowUnhandled()

	f.PlaceLabel(fin)
	f.InsnCallNative(record, []*Value{f.ConstInt(TypeInt, 3)})
	f.InsnReturnFromFinally()
	if err := f.Compile(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		arg       int32
		wantTrace []int64
		wantErr   bool
	}{
		{"normal", 0, []int64{1, 2, 3}, false},
		{"exceptional", 1, []int64{1, 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trace = nil
			_, err := f.Apply(Int(tt.arg))
			if tt.wantErr {
				exc, ok := AsThrown(err)
				if !ok || exc != "boom" {
					t.Fatalf("error = %v, want thrown boom", err)
				}
			} else if err != nil {
				t.Fatal(err)
			}
			if len(trace) != len(tt.wantTrace) {
				t.Fatalf("trace = %v, want %v", trace, tt.wantTrace)
			}
			for i := range trace {
				if trace[i] != tt.wantTrace[i] {
					t.Fatalf("trace = %v, want %v", trace, tt.wantTrace)
				}
			}
		})
	}
}

// TestThrowAcrossCalls 被调函数未处理的异常在调用点重新分派
func TestThrowAcrossCalls(t *testing.T) {
	ctx := NewContext(nil)
	thrower := ctx.NewFunction("thrower", NewSignature(TypeInt))
	thrower.InsnThrow(thrower.ConstRef("oops"))
	if err := thrower.Compile(); err != nil {
		t.Fatal(err)
	}

	caller := ctx.NewFunction("caller", NewSignature(TypeInt))
	caller.SetOffset(7)
	caller.InsnReturn(caller.InsnCall(thrower, nil))
	catcher := caller.NewLabel()
	caller.SetCatcher(catcher)
	caller.PlaceLabel(catcher)
	caller.InsnReturn(caller.InsnThrowPC())
	if err := caller.Compile(); err != nil {
		t.Fatal(err)
	}

	got, err := caller.Apply()
	if err != nil {
		t.Fatal(err)
	}
	if got.I != 7 {
		t.Errorf("handler saw IL %d, want 7", got.I)
	}
	if ctx.Stats().Thrown != 1 {
		t.Errorf("Thrown = %d, want 1", ctx.Stats().Thrown)
	}

	_, err = thrower.Apply()
	if exc, ok := AsThrown(err); !ok || exc != "oops" {
		t.Errorf("direct call error = %v", err)
	}
}

func TestThrowNull(t *testing.T) {
	ctx := NewContext(nil)
	f := ctx.NewFunction("thrownull", NewSignature(nil))
	f.InsnThrow(f.ConstRef(nil))
	if err := f.Compile(); err != nil {
		t.Fatal(err)
	}
	_, err := f.Apply()
	if fault, ok := AsFault(err); !ok || fault.Kind != FaultNullReference {
		t.Errorf("error = %v, want null reference fault", err)
	}
}

func TestNativeError(t *testing.T) {
	ioErr := errors.New("device gone")
	n := NewNative("read", NewSignature(TypeInt), func([]Slot) (Slot, error) {
		return Slot{}, ioErr
	})
	ctx := NewContext(nil)
	f := ctx.NewFunction("reader", NewSignature(TypeInt))
	f.InsnReturn(f.InsnCallNative(n, nil))
	catcher := f.NewLabel()
	f.SetCatcher(catcher)
	f.PlaceLabel(catcher)
	f.InsnReturn(f.ConstInt(TypeInt, -1))
	if err := f.Compile(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Apply(); !errors.Is(err, ioErr) {
		t.Errorf("error = %v, want %v", err, ioErr)
	}
}
