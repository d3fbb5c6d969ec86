package verify

import (
	"errors"
	"testing"

	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/types"
)

// recorder 记录代码生成回调
type recorder struct {
	NullCoder
	binaries []types.BinOp
	results  []types.Item
	returns  []*meta.Type
	labels   []uint32
}

func (r *recorder) Binary(op types.BinOp, a, b, result types.Item) {
	r.binaries = append(r.binaries, op)
	r.results = append(r.results, result)
}

func (r *recorder) Return(t *meta.Type) { r.returns = append(r.returns, t) }

func (r *recorder) Label(addr uint32, fallthru bool) { r.labels = append(r.labels, addr) }

func TestScenarioIntegerAdd(t *testing.T) {
	f := newFixture()
	m := f.define(t, sig(meta.Int32), "ldc.i4.3\nldc.i4.5\nadd\nret")
	rec := &recorder{}
	if err := Verify(m, rec, Options{}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(rec.binaries) != 1 || rec.binaries[0] != types.BinAdd {
		t.Fatalf("binary callbacks = %v, want one add", rec.binaries)
	}
	if rec.results[0].Kind != types.Int32 {
		t.Errorf("add result = %s, want int32", rec.results[0])
	}
	if len(rec.returns) != 1 || !rec.returns[0].Equal(meta.Int32) {
		t.Errorf("return callbacks = %v, want int32", rec.returns)
	}
}

func TestScenarioMixedWidthAdd(t *testing.T) {
	f := newFixture()
	m := f.define(t, sig(meta.Int32), "ldc.i4.3\nldc.i8 5\nadd\nret")
	err := Verify(m, nil, Options{})
	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("expected verification error, got %v", err)
	}
	if ve.Code != diag.V0100 || ve.Opcode != "add" {
		t.Errorf("got %s at %s, want V0100 at add", ve.Code, ve.Opcode)
	}
	if ve.Offset != 10 {
		t.Errorf("offset = %d, want 10", ve.Offset)
	}
	if ve.Actual != "int32, int64" {
		t.Errorf("actual = %q", ve.Actual)
	}
}

func TestScenarioMergeTypeMismatch(t *testing.T) {
	f := newFixture()
	m := f.define(t, sig(meta.Void, meta.Int32), `
		ldarg.0
		brtrue other
		ldc.i4.1
		br join
	other:
		ldc.i8 2
	join:
		pop
		ret`)
	err := Verify(m, nil, Options{})
	var ve *Error
	if !errors.As(err, &ve) || ve.Code != diag.V0005 {
		t.Fatalf("expected V0005, got %v", err)
	}
	if ve.Expected != "int32" || ve.Actual != "int64" {
		t.Errorf("expected/actual = %q/%q", ve.Expected, ve.Actual)
	}
}

func TestScenarioPointerArithmetic(t *testing.T) {
	f := newFixture()
	src := ".locals (int32)\nldloca 0\nldc.i4.5\nadd\npop\nret"
	m := f.define(t, sig(meta.Void), src)
	if got := codeOf(Verify(m, nil, Options{})); got != diag.V0103 {
		t.Errorf("safe mode: code = %q, want V0103", got)
	}

	rec := &recorder{}
	if err := Verify(m, rec, Options{Unsafe: true}); err != nil {
		t.Fatalf("unsafe mode: %v", err)
	}
	if len(rec.results) != 1 {
		t.Fatalf("binary callbacks = %d", len(rec.results))
	}
	res := rec.results[0]
	if res.Kind != types.ManagedPtr || !res.Type.Equal(meta.Int32) {
		t.Errorf("result = %s, want &(int32)", res)
	}
}

func TestScenarioNullCompare(t *testing.T) {
	f := newFixture()
	m := f.define(t, sig(meta.Void), "ldnull\nldc.i4.0\nbeq done\ndone: ret")
	for _, unsafe := range []bool{false, true} {
		if got := codeOf(Verify(m, nil, Options{Unsafe: unsafe})); got != diag.V0101 {
			t.Errorf("unsafe=%v: code = %q, want V0101", unsafe, got)
		}
	}
}

func TestScenarioMaxStack(t *testing.T) {
	f := newFixture()
	m := f.define(t, sig(meta.Void), ".maxstack 1\nldc.i4.0\nldc.i4.0\nadd\npop\nret")
	err := Verify(m, nil, Options{})
	var ve *Error
	if !errors.As(err, &ve) || ve.Code != diag.V0004 {
		t.Fatalf("expected V0004, got %v", err)
	}
	if ve.Offset != 1 {
		t.Errorf("offset = %d, want 1", ve.Offset)
	}

	m = f.define(t, sig(meta.Void), ".maxstack 2\nldc.i4.0\nldc.i4.0\nadd\npop\nret")
	if err := Verify(m, nil, Options{}); err != nil {
		t.Errorf("maxstack 2: %v", err)
	}
}
