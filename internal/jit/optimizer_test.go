package jit

import "testing"

// buildChain p 非零时经过两级无条件跳转返回 7，否则返回 0
func buildChain(ctx *Context) (*Function, *Label) {
	f := ctx.NewFunction("chain", NewSignature(TypeInt, TypeInt))
	l1, l2, l3 := f.NewLabel(), f.NewLabel(), f.NewLabel()
	f.InsnBranchIf(f.Param(0), l1)
	f.InsnReturn(f.ConstInt(TypeInt, 0))
	f.PlaceLabel(l1)
	f.InsnBranch(l2)
	f.PlaceLabel(l2)
	f.InsnBranch(l3)
	f.PlaceLabel(l3)
	f.InsnReturn(f.ConstInt(TypeInt, 7))
	return f, l3
}

func TestJumpThreading(t *testing.T) {
	for _, level := range []int{0, 1, 2} {
		ctx := NewContext(nil)
		ctx.OptLevel = level
		f, final := buildChain(ctx)
		if err := f.Compile(); err != nil {
			t.Fatalf("O%d: Compile: %v", level, err)
		}
		threaded := f.code.Load().insns[0].Target == final
		if threaded != (level > 0) {
			t.Errorf("O%d: first branch threaded = %v", level, threaded)
		}
		if f.Insns()[0].Target == final {
			t.Errorf("O%d: builder instructions rewritten", level)
		}
		for arg, want := range map[int32]int64{0: 0, 1: 7} {
			got, err := f.Apply(Int(arg))
			if err != nil || got.I != want {
				t.Errorf("O%d: chain(%d) = %d, %v; want %d", level, arg, got.I, err, want)
			}
		}
	}
}

func TestConstantBranchFolding(t *testing.T) {
	tests := []struct {
		name string
		cond int64
		want int64
	}{
		{"taken", 1, 2},
		{"not taken", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext(nil)
			ctx.OptLevel = 2
			f := ctx.NewFunction("fold", NewSignature(TypeInt))
			l := f.NewLabel()
			f.InsnBranchIf(f.ConstInt(TypeInt, tt.cond), l)
			f.InsnReturn(f.ConstInt(TypeInt, 1))
			f.PlaceLabel(l)
			f.InsnReturn(f.ConstInt(TypeInt, 2))
			if err := f.Compile(); err != nil {
				t.Fatalf("Compile: %v", err)
			}
			op := f.code.Load().insns[0].Op
			if op != IR_BR && op != IR_NOP {
				t.Errorf("branch not folded: %s", op)
			}
			got, err := f.Apply()
			if err != nil || got.I != tt.want {
				t.Errorf("fold = %d, %v; want %d", got.I, err, tt.want)
			}
		})
	}
}

func TestFallthroughJumpRemoved(t *testing.T) {
	ctx := NewContext(nil)
	f := ctx.NewFunction("next", NewSignature(TypeInt))
	l := f.NewLabel()
	f.InsnBranch(l)
	f.PlaceLabel(l)
	f.InsnReturn(f.ConstInt(TypeInt, 3))
	if err := f.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if op := f.code.Load().insns[0].Op; op != IR_NOP {
		t.Errorf("op = %s, want NOP", op)
	}
	if got, err := f.Apply(); err != nil || got.I != 3 {
		t.Errorf("next = %d, %v", got.I, err)
	}
}

func TestSelfLoopKept(t *testing.T) {
	ctx := NewContext(nil)
	f := ctx.NewFunction("spin", NewSignature(nil))
	l := f.NewLabel()
	f.PlaceLabel(l)
	f.InsnBranch(l)
	if err := f.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if in := f.code.Load().insns[0]; in.Op != IR_BR || in.Target != l {
		t.Errorf("self loop rewritten: %s", in.String())
	}
}
