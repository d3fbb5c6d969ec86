package verify

import (
	"fmt"
	"testing"

	"go.uber.org/multierr"

	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/meta"
)

func TestConstants(t *testing.T) {
	runCases(t, newFixture(), []ilCase{
		{name: "ldc.i4", sig: sig(meta.Int32), src: "ldc.i4 100\nret"},
		{name: "ldc.i4.s", sig: sig(meta.Int32), src: "ldc.i4.s -3\nret"},
		{name: "ldc.i8", sig: sig(meta.Int64), src: "ldc.i8 5\nret"},
		{name: "ldc.r8", sig: sig(meta.Float64), src: "ldc.r8 1.5\nret"},
		{name: "ldstr", sig: sig(meta.String), src: "ldstr \"hi\"\nret"},
		{name: "ldnull as object", sig: sig(meta.Object), src: "ldnull\nret"},
		{name: "ldnull as string", sig: sig(meta.String), src: "ldnull\nret"},
		{name: "float as int32", sig: sig(meta.Int32), src: "ldc.r8 1.5\nret", code: diag.V0303},
		{name: "null as int32", sig: sig(meta.Int32), src: "ldnull\nret", code: diag.V0303},
		{name: "int32 as int64", sig: sig(meta.Int64), src: "ldc.i4.1\nret", code: diag.V0303},
	})
}

func TestArithmetic(t *testing.T) {
	i4, i8, r8, ni := meta.Int32, meta.Int64, meta.Float64, meta.IntPtr
	bin := "ldarg.0\nldarg.1\n%s\nret"
	op := func(name string) string { return fmt.Sprintf(bin, name) }
	runCases(t, newFixture(), []ilCase{
		{name: "add int32", sig: sig(i4, i4, i4), src: op("add")},
		{name: "sub int64", sig: sig(i8, i8, i8), src: op("sub")},
		{name: "mul float", sig: sig(r8, r8, r8), src: op("mul")},
		{name: "rem float", sig: sig(r8, r8, r8), src: op("rem")},
		{name: "div.un native int and int32", sig: sig(ni, ni, i4), src: op("div.un")},
		{name: "add.ovf int32 native int", sig: sig(ni, i4, ni), src: op("add.ovf")},
		{name: "xor int64", sig: sig(i8, i8, i8), src: op("xor")},
		{name: "add int32 int64", sig: sig(i8, i4, i8), src: op("add"), code: diag.V0100},
		{name: "and float", sig: sig(r8, r8, r8), src: op("and"), code: diag.V0100},
		{name: "mul.ovf float", sig: sig(r8, r8, r8), src: op("mul.ovf"), code: diag.V0100},
		{name: "add object", sig: sig(meta.Object, meta.Object, i4), src: op("add"), code: diag.V0100},
		{name: "add int64 float", sig: sig(r8, i8, r8), src: op("add"), code: diag.V0100},

		{name: "shl int64 by int32", sig: sig(i8, i8, i4), src: op("shl")},
		{name: "shr.un native int", sig: sig(ni, ni, i4), src: op("shr.un")},
		{name: "shl by int64", sig: sig(i4, i4, i8), src: op("shl"), code: diag.V0100},
		{name: "shr float", sig: sig(r8, r8, i4), src: op("shr"), code: diag.V0100},

		{name: "neg float", sig: sig(r8, r8), src: "ldarg.0\nneg\nret"},
		{name: "not int64", sig: sig(i8, i8), src: "ldarg.0\nnot\nret"},
		{name: "ckfinite float", sig: sig(r8, r8), src: "ldarg.0\nckfinite\nret"},
		{name: "not float", sig: sig(r8, r8), src: "ldarg.0\nnot\nret", code: diag.V0100},
		{name: "ckfinite int32", sig: sig(i4, i4), src: "ldarg.0\nckfinite\nret", code: diag.V0100},
		{name: "neg object", sig: sig(meta.Object, meta.Object), src: "ldarg.0\nneg\nret", code: diag.V0100},

		{name: "dup", sig: sig(i4), src: "ldc.i4.1\ndup\nadd\nret"},
		{name: "pop empty", sig: sig(meta.Void), src: "pop\nret", code: diag.V0003},
		{name: "dup empty", sig: sig(meta.Void), src: "dup\nret", code: diag.V0003},
		{name: "add one operand", sig: sig(i4), src: "ldc.i4.1\nadd\nret", code: diag.V0003},
	})
}

func TestComparisons(t *testing.T) {
	i4, i8, obj := meta.Int32, meta.Int64, meta.Object
	cmp := func(op string) string { return "ldarg.0\nldarg.1\n" + op + "\nret" }
	runCases(t, newFixture(), []ilCase{
		{name: "ceq int32", sig: sig(meta.Bool, i4, i4), src: cmp("ceq")},
		{name: "clt int64", sig: sig(i4, i8, i8), src: cmp("clt")},
		{name: "cgt float", sig: sig(i4, meta.Float64, meta.Float32), src: cmp("cgt")},
		{name: "clt.un native int int32", sig: sig(i4, meta.IntPtr, i4), src: cmp("clt.un")},
		{name: "ceq objects", sig: sig(i4, obj, meta.String), src: cmp("ceq")},
		{name: "cgt.un objects", sig: sig(i4, obj, obj), src: cmp("cgt.un")},
		{name: "clt objects", sig: sig(i4, obj, obj), src: cmp("clt"), code: diag.V0101},
		{name: "cgt objects", sig: sig(i4, obj, obj), src: cmp("cgt"), code: diag.V0101},
		{name: "ceq int32 int64", sig: sig(i4, i4, i8), src: cmp("ceq"), code: diag.V0101},
		{name: "ceq object int32", sig: sig(i4, obj, i4), src: cmp("ceq"), code: diag.V0101},
		{name: "clt float int32", sig: sig(i4, meta.Float64, i4), src: cmp("clt"), code: diag.V0101},
	})
}

func TestConversions(t *testing.T) {
	i4, i8, r8 := meta.Int32, meta.Int64, meta.Float64
	runCases(t, newFixture(), []ilCase{
		{name: "conv.i8", sig: sig(i8, i4), src: "ldarg.0\nconv.i8\nret"},
		{name: "conv.r8", sig: sig(r8, i4), src: "ldarg.0\nconv.r8\nret"},
		{name: "conv.i4 float", sig: sig(i4, r8), src: "ldarg.0\nconv.i4\nret"},
		{name: "conv.ovf.u1.un", sig: sig(i4, i8), src: "ldarg.0\nconv.ovf.u1.un\nret"},
		{name: "conv.r.un int64", sig: sig(r8, i8), src: "ldarg.0\nconv.r.un\nret"},
		{name: "conv.u native int", sig: sig(meta.UIntPtr, i4), src: "ldarg.0\nconv.u\nret"},
		{name: "conv.i4 object", sig: sig(i4, meta.Object), src: "ldarg.0\nconv.i4\nret", code: diag.V0102},
		{name: "conv.r.un float", sig: sig(r8, r8), src: "ldarg.0\nconv.r.un\nret", code: diag.V0102},
		{name: "conv.i8 result as int32", sig: sig(i4, i4), src: "ldarg.0\nconv.i8\nret", code: diag.V0303},

		{name: "conv.i managed pointer", sig: sig(meta.IntPtr), src: ".locals (int32)\nldloca.s 0\nconv.i\nret", code: diag.V0103},
		{name: "conv.i managed pointer unsafe", sig: sig(meta.IntPtr), src: ".locals (int32)\nldloca.s 0\nconv.i\nret", unsafe: true},
		{name: "conv.i4 managed pointer unsafe", sig: sig(i4), src: ".locals (int32)\nldloca.s 0\nconv.i4\nret", unsafe: true, code: diag.V0102},
	})
}

func TestConstantTruncationWarning(t *testing.T) {
	f := newFixture()
	m := f.define(t, sig(meta.Int32), "ldc.i4 300\nconv.i1\nret")
	rep := diag.NewReporter()
	if err := Verify(m, nil, Options{Reporter: rep}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	ws := rep.Warnings()
	if len(ws) != 1 || ws[0].Code != diag.V0102 {
		t.Fatalf("warnings = %v, want one V0102", ws)
	}
	if ws[0].Offset != 5 {
		t.Errorf("warning offset = %d, want 5", ws[0].Offset)
	}

	// 带溢出检查的转换在运行时报错，不警告
	m = f.define(t, sig(meta.Int32), "ldc.i4 300\nconv.ovf.i1\nret")
	rep = diag.NewReporter()
	if err := Verify(m, nil, Options{Reporter: rep}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if n := len(rep.Warnings()); n != 0 {
		t.Errorf("got %d warnings for conv.ovf.i1", n)
	}
}

func TestBranches(t *testing.T) {
	i4, i8 := meta.Int32, meta.Int64
	void := meta.Void
	runCases(t, newFixture(), []ilCase{
		{name: "br forward", sig: sig(void), src: "br done\nnop\ndone: ret"},
		{name: "brtrue int32", sig: sig(void, i4), src: "ldarg.0\nbrtrue.s a\na: ret"},
		{name: "brfalse object", sig: sig(void, meta.Object), src: "ldarg.0\nbrfalse a\na: ret"},
		{name: "brtrue float", sig: sig(void, meta.Float64), src: "ldarg.0\nbrtrue a\na: ret"},
		{name: "bge int32", sig: sig(void, i4, i4), src: "ldarg.0\nldarg.1\nbge a\na: ret"},
		{name: "beq objects", sig: sig(void, meta.Object, meta.Object), src: "ldarg.0\nldarg.1\nbeq.s a\na: ret"},
		{name: "bne.un int64", sig: sig(void, i8, i8), src: "ldarg.0\nldarg.1\nbne.un a\na: ret"},
		{name: "blt objects", sig: sig(void, meta.Object, meta.Object), src: "ldarg.0\nldarg.1\nblt a\na: ret", code: diag.V0101},
		{name: "bgt int32 int64", sig: sig(void, i4, i8), src: "ldarg.0\nldarg.1\nbgt a\na: ret", code: diag.V0101},
		{name: "brtrue empty stack", sig: sig(void), src: "brtrue a\na: ret", code: diag.V0003},

		{name: "switch", sig: sig(i4, i4), src: "ldarg.0\nswitch (a, b)\nldc.i4.0\nret\na: ldc.i4.1\nret\nb: ldc.i4.2\nret"},
		{name: "switch int64", sig: sig(void, i8), src: "ldarg.0\nswitch (a)\na: ret", code: diag.V0104},
		{name: "switch object", sig: sig(void, meta.Object), src: "ldarg.0\nswitch (a)\na: ret", code: diag.V0104},

		{name: "ret void with value", sig: sig(void), src: "ldc.i4.1\nret", code: diag.V0303},
		{name: "ret missing value", sig: sig(i4), src: "ret", code: diag.V0303},
		{name: "ret two values", sig: sig(i4), src: "ldc.i4.1\nldc.i4.2\nret", code: diag.V0303},
		{name: "fall off end", sig: sig(void), src: "nop", code: diag.V0007},
		{name: "unreachable code after br", sig: sig(void), src: "br a\nldc.i4.1\npop\na: ret"},
	})
}

func TestBadBranchTarget(t *testing.T) {
	f := newFixture()
	// br.s 跳到 ldc.i4 的操作数中间
	m := f.raw(sig(meta.Void), []byte{0x2B, 0x01, 0x20, 0, 0, 0, 0, 0x2A})
	if got := codeOf(Verify(m, nil, Options{})); got != diag.V0002 {
		t.Errorf("code = %q, want V0002", got)
	}

	// 截断的操作数
	m = f.raw(sig(meta.Void), []byte{0x20, 0x01})
	if got := codeOf(Verify(m, nil, Options{})); got != diag.V0001 {
		t.Errorf("code = %q, want V0001", got)
	}

	m = f.raw(sig(meta.Void), nil)
	if got := codeOf(Verify(m, nil, Options{})); got != diag.V0007 {
		t.Errorf("empty body: code = %q, want V0007", got)
	}
}

func TestVariables(t *testing.T) {
	i4, i8, void := meta.Int32, meta.Int64, meta.Void
	runCases(t, newFixture(), []ilCase{
		{name: "ldarg.1", sig: sig(i8, i4, i8), src: "ldarg.1\nret"},
		{name: "ldarg out of range", sig: sig(i4, i4), src: "ldarg.1\nret", code: diag.V0201},
		{name: "starg", sig: sig(void, i8), src: "ldc.i8 7\nstarg.s 0\nret"},
		{name: "starg mismatch", sig: sig(void, i8), src: "ldc.i4.1\nstarg.s 0\nret", code: diag.V0202},
		{name: "stloc ldloc", sig: sig(i4), src: ".locals (int32)\nldc.i4.3\nstloc.0\nldloc.0\nret"},
		{name: "stloc string into object", sig: sig(void), src: ".locals (object)\nldstr \"x\"\nstloc.0\nret"},
		{name: "stloc null into int32", sig: sig(void), src: ".locals (int32)\nldnull\nstloc.0\nret", code: diag.V0202},
		{name: "stloc object into string", sig: sig(void, meta.Object), src: ".locals (string)\nldarg.0\nstloc.0\nret", code: diag.V0202},
		{name: "stloc int32 into bool", sig: sig(void), src: ".locals (bool)\nldc.i4.1\nstloc.0\nret"},
		{name: "ldloc out of range", sig: sig(i4), src: ".locals (int32)\nldloc.1\nret", code: diag.V0200},
		{name: "ldloca ldind", sig: sig(i4), src: ".locals (int32)\nldloca.s 0\nldind.i4\nret"},
		{name: "ldarga stind", sig: sig(void, i8), src: "ldarga.s 0\nldc.i8 1\nstind.i8\nret"},
		{name: "ldarg.0 without arguments", sig: sig(void), src: "ldarg.0\npop\nret", code: diag.V0201},
	})
}

func TestCalls(t *testing.T) {
	i4, void := meta.Int32, meta.Void
	runCases(t, newFixture(), []ilCase{
		{name: "call static", sig: sig(i4, i4), src: "ldarg.0\ncall System.Math::Abs(int32)\nret"},
		{name: "call WriteLine", sig: sig(void), src: "ldstr \"hi\"\ncall System.Console::WriteLine(string)\nret"},
		{name: "call void returns nothing", sig: sig(i4), src: "ldc.i4.1\ncall System.Console::WriteLine(int32)\nret", code: diag.V0303},
		{name: "call wrong argument", sig: sig(meta.Float64, meta.Int64), src: "ldarg.0\ncall System.Math::Sqrt(float64)\nret", code: diag.V0302},
		{name: "call missing argument", sig: sig(meta.Float64), src: "call System.Math::Sqrt(float64)\nret", code: diag.V0003},
		{name: "callvirt static", sig: sig(i4), src: "ldc.i4.1\ncallvirt System.Math::Abs(int32)\nret", code: diag.V0301},
		{name: "callvirt ToString", sig: sig(meta.String, meta.Object), src: "ldarg.0\ncallvirt System.Object::ToString\nret"},
		{name: "callvirt ToString on string", sig: sig(meta.String, meta.String), src: "ldarg.0\ncallvirt System.Object::ToString\nret"},
		{name: "callvirt ToString on null", sig: sig(meta.String), src: "ldnull\ncallvirt System.Object::ToString\nret"},
		{name: "callvirt ToString on int32", sig: sig(meta.String, i4), src: "ldarg.0\ncallvirt System.Object::ToString\nret", code: diag.V0302},
		{name: "callvirt Equals", sig: sig(meta.Bool, meta.Object), src: "ldarg.0\nldarg.0\ncallvirt System.Object::Equals\nret"},
		{name: "call abstract", sig: sig(meta.Float64), src: "ldnull\ncall Test.Shape::Area\nret", code: diag.V0301},
		{name: "callvirt abstract", sig: sig(meta.Float64), src: "ldnull\ncallvirt Test.Shape::Area\nret"},
		{name: "value type method through address", sig: sig(i4), src: ".locals (valuetype Test.Point)\nldloca.s 0\ncall Test.Point::Sum\nret"},
		{name: "value type method on value", sig: sig(i4), src: ".locals (valuetype Test.Point)\nldloc.0\ncall Test.Point::Sum\nret", code: diag.V0302},
		{name: "ldftn", sig: sig(meta.IntPtr), src: "ldftn System.Math::Sqrt\nret"},
		{name: "ldvirtftn", sig: sig(meta.IntPtr, meta.Object), src: "ldarg.0\nldvirtftn System.Object::ToString\nret"},
		{name: "ldvirtftn static", sig: sig(meta.IntPtr), src: "ldnull\nldvirtftn System.Math::Sqrt\nret", code: diag.V0301},
		{name: "jmp rejected", sig: sig(void), src: "jmp System.Console::WriteLine()", code: diag.V0500},
		{name: "ldtoken rejected", sig: sig(void), src: "ldtoken int32\npop\nret", code: diag.V0500},
	})
}

func TestObjects(t *testing.T) {
	f := newFixture()
	i4, void := meta.Int32, meta.Void
	box := f.box.Type()
	runCases(t, f, []ilCase{
		{name: "newobj", sig: sig(meta.Object), src: "newobj System.Exception::.ctor()\nret"},
		{name: "newobj with argument", sig: sig(box), src: "ldc.i4.1\nnewobj Test.Box::.ctor\nret"},
		{name: "newobj wrong argument", sig: sig(box), src: "ldnull\nnewobj Test.Box::.ctor\nret", code: diag.V0302},
		{name: "newobj abstract", sig: sig(meta.Object), src: "newobj Test.Shape::.ctor\nret", code: diag.V0304},
		{name: "newobj non constructor", sig: sig(meta.Object), src: "newobj System.Object::ToString\nret", code: diag.V0301},

		{name: "ldfld", sig: sig(i4, box), src: "ldarg.0\nldfld Test.Box::value\nret"},
		{name: "ldfld on null", sig: sig(i4), src: "ldnull\nldfld Test.Box::value\nret"},
		{name: "ldfld on string", sig: sig(i4, meta.String), src: "ldarg.0\nldfld Test.Box::value\nret", code: diag.V0301},
		{name: "stfld", sig: sig(void, box), src: "ldarg.0\nldc.i4.2\nstfld Test.Box::value\nret"},
		{name: "stfld wrong value", sig: sig(void, box), src: "ldarg.0\nldnull\nstfld Test.Box::value\nret", code: diag.V0202},
		{name: "ldflda", sig: sig(i4, box), src: "ldarg.0\nldflda Test.Box::value\nldind.i4\nret"},
		{name: "ldfld value type local", sig: sig(i4), src: ".locals (valuetype Test.Point)\nldloca.s 0\nldfld Test.Point::X\nret"},
		{name: "ldfld value type value", sig: sig(i4), src: ".locals (valuetype Test.Point)\nldloc.0\nldfld Test.Point::Y\nret"},
		{name: "stfld value type value", sig: sig(void), src: ".locals (valuetype Test.Point)\nldloc.0\nldc.i4.1\nstfld Test.Point::Y\nret", code: diag.V0301},
		{name: "ldsfld", sig: sig(i4), src: "ldsfld Test.Box::count\nret"},
		{name: "stsfld", sig: sig(void), src: "ldc.i4.1\nstsfld Test.Box::count\nret"},
		{name: "ldsfld instance field", sig: sig(i4), src: "ldsfld Test.Box::value\nret", code: diag.V0301},

		{name: "box int32", sig: sig(meta.Object, i4), src: "ldarg.0\nbox int32\nret"},
		{name: "box wrong type", sig: sig(meta.Object, meta.Int64), src: "ldarg.0\nbox int32\nret", code: diag.V0202},
		{name: "unbox.any", sig: sig(i4, meta.Object), src: "ldarg.0\nunbox.any int32\nret"},
		{name: "unbox", sig: sig(i4, meta.Object), src: "ldarg.0\nunbox int32\nldind.i4\nret"},
		{name: "unbox reference type", sig: sig(meta.Object, meta.Object), src: "ldarg.0\nunbox string\nret", code: diag.V0301},
		{name: "castclass", sig: sig(meta.String, meta.Object), src: "ldarg.0\ncastclass string\nret"},
		{name: "isinst", sig: sig(box, meta.Object), src: "ldarg.0\nisinst Test.Box\nret"},
		{name: "isinst on int32", sig: sig(meta.Object, i4), src: "ldarg.0\nisinst string\nret", code: diag.V0301},
		{name: "castclass result is narrowed", sig: sig(meta.String, meta.Object), src: "ldarg.0\ncastclass System.Exception\nret", code: diag.V0303},
	})
}

func TestArrays(t *testing.T) {
	i4, void := meta.Int32, meta.Void
	runCases(t, newFixture(), []ilCase{
		{name: "newarr ldelem", sig: sig(i4), src: "ldc.i4.5\nnewarr int32\nldc.i4.0\nldelem.i4\nret"},
		{name: "newarr native int length", sig: sig(void, meta.IntPtr), src: "ldarg.0\nnewarr int32\npop\nret"},
		{name: "newarr int64 length", sig: sig(void, meta.Int64), src: "ldarg.0\nnewarr int32\npop\nret", code: diag.V0301},
		{name: "ldelem.i4 on byte array", sig: sig(i4), src: "ldc.i4.5\nnewarr uint8\nldc.i4.0\nldelem.i4\nret", code: diag.V0301},
		{name: "ldelem.u4 on int32 array", sig: sig(i4), src: "ldc.i4.5\nnewarr int32\nldc.i4.0\nldelem.u4\nret"},
		{name: "ldelem.ref", sig: sig(meta.String), src: "ldc.i4.1\nnewarr string\nldc.i4.0\nldelem.ref\nret"},
		{name: "ldelem.ref on int32 array", sig: sig(meta.Object), src: "ldc.i4.1\nnewarr int32\nldc.i4.0\nldelem.ref\nret", code: diag.V0301},
		{name: "ldelem token", sig: sig(meta.Int64), src: "ldc.i4.1\nnewarr int64\nldc.i4.0\nldelem int64\nret"},
		{name: "ldelema", sig: sig(i4), src: "ldc.i4.1\nnewarr int32\nldc.i4.0\nldelema int32\nldind.i4\nret"},
		{name: "ldelema wrong type", sig: sig(i4), src: "ldc.i4.1\nnewarr int32\nldc.i4.0\nldelema uint32\nldind.i4\nret", code: diag.V0301},
		{name: "ldelem float index", sig: sig(i4), src: "ldc.i4.1\nnewarr int32\nldc.r8 0\nldelem.i4\nret", code: diag.V0301},
		{name: "ldelem on object", sig: sig(i4, meta.Object), src: "ldarg.0\nldc.i4.0\nldelem.i4\nret", code: diag.V0301},
		{name: "stelem.i4", sig: sig(void), src: "ldc.i4.1\nnewarr int32\nldc.i4.0\nldc.i4.s 9\nstelem.i4\nret"},
		{name: "stelem.i4 null", sig: sig(void), src: "ldc.i4.1\nnewarr int32\nldc.i4.0\nldnull\nstelem.i4\nret", code: diag.V0202},
		{name: "stelem.ref", sig: sig(void), src: "ldc.i4.1\nnewarr string\nldc.i4.0\nldstr \"a\"\nstelem.ref\nret"},
		{name: "stelem.ref covariant", sig: sig(void, meta.Object), src: "ldc.i4.1\nnewarr string\nldc.i4.0\nldarg.0\nstelem.ref\nret"},
		{name: "stelem.ref int32", sig: sig(void), src: "ldc.i4.1\nnewarr object\nldc.i4.0\nldc.i4.1\nstelem.ref\nret", code: diag.V0202},
		{name: "ldlen", sig: sig(meta.IntPtr, meta.ArrayOf(i4)), src: "ldarg.0\nldlen\nret"},
		{name: "ldlen conv.i4", sig: sig(i4, meta.ArrayOf(i4)), src: "ldarg.0\nldlen\nconv.i4\nret"},
		{name: "ldlen on string", sig: sig(meta.IntPtr, meta.String), src: "ldarg.0\nldlen\nret", code: diag.V0301},
	})
}

func TestIndirect(t *testing.T) {
	i4, void := meta.Int32, meta.Void
	ref := meta.ByRefTo(i4)
	runCases(t, newFixture(), []ilCase{
		{name: "ldind.i4", sig: sig(i4, ref), src: "ldarg.0\nldind.i4\nret"},
		{name: "ldind.u4", sig: sig(i4, ref), src: "ldarg.0\nldind.u4\nret"},
		{name: "ldind.i8 from int32&", sig: sig(meta.Int64, ref), src: "ldarg.0\nldind.i8\nret", code: diag.V0301},
		{name: "ldind.i8 from int32& unsafe", sig: sig(meta.Int64, ref), src: "ldarg.0\nldind.i8\nret", unsafe: true},
		{name: "stind.i4", sig: sig(void, ref), src: "ldarg.0\nldc.i4.7\nstind.i4\nret"},
		{name: "stind.i4 float", sig: sig(void, ref), src: "ldarg.0\nldc.r8 1\nstind.i4\nret", code: diag.V0202},
		{name: "ldind.ref", sig: sig(meta.String, meta.ByRefTo(meta.String)), src: "ldarg.0\nldind.ref\nret"},
		{name: "ldind from native int", sig: sig(i4, meta.IntPtr), src: "ldarg.0\nldind.i4\nret", code: diag.V0103},
		{name: "ldind from native int unsafe", sig: sig(i4, meta.IntPtr), src: "ldarg.0\nldind.i4\nret", unsafe: true},
		{name: "ldind from int32", sig: sig(i4, i4), src: "ldarg.0\nldind.i4\nret", code: diag.V0301},
		{name: "ldobj", sig: sig(i4, ref), src: "ldarg.0\nldobj int32\nret"},
		{name: "stobj", sig: sig(void, ref), src: "ldarg.0\nldc.i4.1\nstobj int32\nret"},
		{name: "initobj", sig: sig(void), src: ".locals (valuetype Test.Point)\nldloca.s 0\ninitobj Test.Point\nret"},
		{name: "cpobj", sig: sig(void, ref, ref), src: "ldarg.0\nldarg.1\ncpobj int32\nret"},
		{name: "sizeof", sig: sig(i4), src: "sizeof Test.Point\nret"},
		{name: "localloc", sig: sig(void), src: "ldc.i4.8\nlocalloc\npop\nret", code: diag.V0103},
		{name: "localloc unsafe", sig: sig(void), src: "ldc.i4.8\nlocalloc\npop\nret", unsafe: true},
		{name: "localloc non-empty stack", sig: sig(void), src: "ldc.i4.1\nldc.i4.8\nlocalloc\npop\npop\nret", unsafe: true, code: diag.V0301},
		{name: "initblk", sig: sig(void, ref), src: "ldarg.0\nldc.i4.0\nldc.i4.4\ninitblk\nret", code: diag.V0103},
		{name: "cpblk unsafe", sig: sig(void, ref, ref), src: "ldarg.0\nldarg.1\nldc.i4.4\ncpblk\nret", unsafe: true},
	})
}

func TestPrefixes(t *testing.T) {
	f := newFixture()
	runCases(t, f, []ilCase{
		{name: "volatile", sig: sig(meta.Int32, meta.ByRefTo(meta.Int32)), src: "ldarg.0\nvolatile.\nldind.i4\nret"},
		{name: "constrained callvirt", sig: sig(meta.String), src: ".locals (int32)\nldloca.s 0\nconstrained. int32\ncallvirt System.Object::ToString\nret"},
		{name: "constrained wrong this", sig: sig(meta.String), src: ".locals (int64)\nldloca.s 0\nconstrained. int32\ncallvirt System.Object::ToString\nret", code: diag.V0302},
		{name: "constrained call", sig: sig(meta.String), src: ".locals (int32)\nldloca.s 0\nconstrained. int32\ncall System.Object::ToString\nret", code: diag.V0301},
	})
}

func TestVerifyModule(t *testing.T) {
	f := newFixture()
	f.define(t, sig(meta.Int32), "ldc.i4.1\nret")
	f.define(t, sig(meta.Int32), "ldnull\nret")
	f.define(t, sig(meta.Void), "ldc.i4.1\nldc.i8 2\nadd\npop\nret")

	err := VerifyModule(f.b.Module(), Options{})
	if err == nil {
		t.Fatal("expected errors")
	}
	errs := multierr.Errors(err)
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), err)
	}
	if codeOf(errs[0]) != diag.V0303 || codeOf(errs[1]) != diag.V0100 {
		t.Errorf("codes = %s, %s", codeOf(errs[0]), codeOf(errs[1]))
	}
	var ve *Error
	if e, ok := errs[0].(*Error); ok {
		ve = e
	}
	if ve == nil || ve.Method != "Test.Program::M2" {
		t.Errorf("error does not name its method: %+v", ve)
	}
}
