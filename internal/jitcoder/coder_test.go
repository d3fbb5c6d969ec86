package jitcoder

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/tangzhangming/ilengine/internal/cil"
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/layout"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/runtime"
	"github.com/tangzhangming/ilengine/internal/verify"
)

// env 测试环境：运行时、编译上下文和一个按需编译 IL 方法的链接器
type env struct {
	log  *zap.Logger
	rt   *runtime.Runtime
	ctx  *jit.Context
	b    *meta.Builder
	prog *meta.Class
	n    int

	mu  sync.Mutex
	fns map[*meta.Method]*jit.Function
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zaptest.NewLogger(t)
	cl := meta.LoadCorlib()
	rt := runtime.New(cl, layout.NewService(log), runtime.Options{Logger: log})
	ctx := jit.NewContext(log)
	ctx.SetFaultMapper(rt.MapFault)
	e := &env{
		log: log,
		rt:  rt,
		ctx: ctx,
		b:   meta.NewBuilder("jitcoder_test", cl.Module),
		fns: make(map[*meta.Method]*jit.Function),
	}
	rt.SetLinker(e)
	e.prog = e.b.Class("Test", "Program", cl.Object, 0)
	e.fixtures(t)
	return e
}

// FunctionFor 只链接 IL 方法
func (e *env) FunctionFor(m *meta.Method) (*jit.Function, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn, ok := e.fns[m]; ok {
		return fn, nil
	}
	if m.Impl != meta.ImplIL || m.Body == nil {
		return nil, fmt.Errorf("%s has no IL body", m.FullName())
	}
	sig, err := e.rt.Signature(m)
	if err != nil {
		return nil, err
	}
	fn := e.ctx.NewFunction(m.FullName(), sig)
	fn.SetOnDemand(func(fn *jit.Function) error {
		return verify.Verify(m, New(e.rt, fn, Options{Logger: e.log}), verify.Options{Logger: e.log})
	})
	e.fns[m] = fn
	return fn, nil
}

func (e *env) body(t *testing.T, m *meta.Method, src string) {
	t.Helper()
	p, err := cil.Assemble(src, e.b)
	if err != nil {
		t.Fatalf("assemble %s: %v", m.Name, err)
	}
	e.b.Body(m, p.MaxStack, p.Locals, p.Code, p.Clauses...)
}

// fixtures 引用类型 Box、值类型 Point 和 Animal/Dog 继承链
func (e *env) fixtures(t *testing.T) {
	b, cl := e.b, e.rt.Corlib

	box := b.Class("Test", "Box", cl.Object, 0)
	b.Field(box, "value", meta.Int32, 0)
	b.Field(box, "count", meta.Int32, meta.FieldStatic)
	ctor := b.Method(box, ".ctor", meta.NewSignature(meta.Void, meta.Int32), 0)
	e.body(t, ctor, `
		ldarg.0
		call System.Object::.ctor
		ldarg.0
		ldarg.1
		stfld Test.Box::value
		ret`)

	point := b.Class("Test", "Point", cl.ValueType, meta.ClassValueType|meta.ClassSealed)
	b.Field(point, "X", meta.Int32, 0)
	b.Field(point, "Y", meta.Int32, 0)
	sum := b.Method(point, "Sum", meta.NewSignature(meta.Int32), 0)
	e.body(t, sum, `
		ldarg.0
		ldfld Test.Point::X
		ldarg.0
		ldfld Test.Point::Y
		add
		ret`)

	animal := b.Class("Test", "Animal", cl.Object, 0)
	e.body(t, b.Method(animal, ".ctor", meta.NewSignature(meta.Void), 0), `
		ldarg.0
		call System.Object::.ctor
		ret`)
	e.body(t, b.Method(animal, "Legs", meta.NewSignature(meta.Int32), meta.MethodVirtual|meta.MethodNewSlot), `
		ldc.i4.2
		ret`)

	dog := b.Class("Test", "Dog", animal, 0)
	e.body(t, b.Method(dog, ".ctor", meta.NewSignature(meta.Void), 0), `
		ldarg.0
		call Test.Animal::.ctor
		ret`)
	e.body(t, b.Method(dog, "Legs", meta.NewSignature(meta.Int32), meta.MethodVirtual), `
		ldc.i4.4
		ret`)
}

// define 定义静态测试方法
func (e *env) define(t *testing.T, sig *meta.Signature, src string) *meta.Method {
	t.Helper()
	e.n++
	m := e.b.Method(e.prog, fmt.Sprintf("M%d", e.n), sig, meta.MethodStatic)
	e.body(t, m, src)
	return m
}

// run 在新线程上调用方法，参数不含上下文句柄
func (e *env) run(t *testing.T, m *meta.Method, args ...jit.Slot) (jit.Slot, error) {
	t.Helper()
	fn, err := e.FunctionFor(m)
	if err != nil {
		t.Fatalf("link %s: %v", m.Name, err)
	}
	all := append([]jit.Slot{jit.RefSlot(e.rt.NewThread())}, args...)
	return fn.Apply(all...)
}

func sig(ret *meta.Type, params ...*meta.Type) *meta.Signature {
	return meta.NewSignature(ret, params...)
}

// thrownClass 未处理异常的类型名，没有异常时为空
func thrownClass(err error) string {
	v, ok := jit.AsThrown(err)
	if !ok {
		return ""
	}
	if o, ok := v.(*runtime.Object); ok && o.Class != nil {
		return o.Class.FullName()
	}
	return fmt.Sprintf("%T", v)
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name string
		sig  *meta.Signature
		src  string
		args []int32
		want int64
	}{
		{
			name: "add",
			sig:  sig(meta.Int32),
			src:  "ldc.i4.3\nldc.i4.5\nadd\nret",
			want: 8,
		},
		{
			name: "loop sum",
			sig:  sig(meta.Int32, meta.Int32),
			src: `
				.locals (int32, int32)
				ldc.i4.0
				stloc.0
				ldc.i4.1
				stloc.1
				br.s check
			body:
				ldloc.0
				ldloc.1
				add
				stloc.0
				ldloc.1
				ldc.i4.1
				add
				stloc.1
			check:
				ldloc.1
				ldarg.0
				ble.s body
				ldloc.0
				ret`,
			args: []int32{10},
			want: 55,
		},
		{
			name: "stack value across merge zero",
			sig:  sig(meta.Int32, meta.Int32),
			src: `
				ldarg.0
				brtrue.s nonzero
				ldc.i4.1
				br.s done
			nonzero:
				ldc.i4.2
			done:
				ret`,
			args: []int32{0},
			want: 1,
		},
		{
			name: "stack value across merge nonzero",
			sig:  sig(meta.Int32, meta.Int32),
			src: `
				ldarg.0
				brtrue.s nonzero
				ldc.i4.1
				br.s done
			nonzero:
				ldc.i4.2
			done:
				ret`,
			args: []int32{5},
			want: 2,
		},
		{
			name: "switch first",
			sig:  sig(meta.Int32, meta.Int32),
			src:  switchSrc,
			args: []int32{0},
			want: 10,
		},
		{
			name: "switch second",
			sig:  sig(meta.Int32, meta.Int32),
			src:  switchSrc,
			args: []int32{1},
			want: 20,
		},
		{
			name: "switch out of range falls through",
			sig:  sig(meta.Int32, meta.Int32),
			src:  switchSrc,
			args: []int32{7},
			want: 99,
		},
		{
			name: "unsigned division",
			sig:  sig(meta.Int32),
			src:  "ldc.i4.m1\nldc.i4.2\ndiv.un\nret",
			want: 2147483647,
		},
		{
			name: "caught divide by zero",
			sig:  sig(meta.Int32, meta.Int32),
			src:  divideSrc,
			args: []int32{0},
			want: -1,
		},
		{
			name: "no exception skips handler",
			sig:  sig(meta.Int32, meta.Int32),
			src:  divideSrc,
			args: []int32{5},
			want: 2,
		},
		{
			name: "finally runs on leave",
			sig:  sig(meta.Int32),
			src: `
				.locals (int32)
			try:
				ldc.i4.1
				stloc.0
				leave.s after
			fin:
				ldloc.0
				ldc.i4.s 9
				add
				stloc.0
				endfinally
			after:
				ldloc.0
				ret
				.try try fin finally fin after`,
			want: 10,
		},
		{
			name: "inner finally before outer catch",
			sig:  sig(meta.Int32),
			src: `
				.locals (int32)
			outer:
			inner:
				ldnull
				throw
			fin:
				ldloc.0
				ldc.i4.1
				add
				stloc.0
				endfinally
			handler:
				pop
				ldloc.0
				ldc.i4.s 100
				add
				stloc.0
				leave.s done
			done:
				ldloc.0
				ret
				.try inner fin finally fin handler
				.try outer handler catch System.Object handler done`,
			want: 101,
		},
		{
			name: "filter selects handler",
			sig:  sig(meta.Int32),
			src: `
			try:
				ldnull
				throw
			flt:
				isinst System.NullReferenceException
				ldnull
				cgt.un
				endfilter
			handler:
				pop
				leave.s done
			done:
				ldc.i4.7
				ret
				.try try flt filter flt handler done`,
			want: 7,
		},
		{
			name: "arrays",
			sig:  sig(meta.Int32),
			src: `
				.locals (int32[])
				ldc.i4.3
				newarr int32
				stloc.0
				ldloc.0
				ldc.i4.1
				ldc.i4.s 40
				stelem.i4
				ldloc.0
				ldc.i4.1
				ldelem.i4
				ldloc.0
				ldlen
				conv.i4
				add
				ldc.i4.4
				add
				ret`,
			want: 47,
		},
		{
			name: "new object field",
			sig:  sig(meta.Int32),
			src: `
				ldc.i4.7
				newobj Test.Box::.ctor
				ldfld Test.Box::value
				ret`,
			want: 7,
		},
		{
			name: "static field",
			sig:  sig(meta.Int32),
			src: `
				ldc.i4.6
				stsfld Test.Box::count
				ldsfld Test.Box::count
				ret`,
			want: 6,
		},
		{
			name: "virtual call dispatches to override",
			sig:  sig(meta.Int32),
			src: `
				newobj Test.Dog::.ctor
				callvirt Test.Animal::Legs
				ret`,
			want: 4,
		},
		{
			name: "value type through local address",
			sig:  sig(meta.Int32),
			src: `
				.locals (valuetype Test.Point)
				ldloca.s 0
				ldc.i4.3
				stfld Test.Point::X
				ldloca.s 0
				ldc.i4.4
				stfld Test.Point::Y
				ldloca.s 0
				call Test.Point::Sum
				ret`,
			want: 7,
		},
		{
			name: "box and unbox",
			sig:  sig(meta.Int32),
			src: `
				ldc.i4.s 9
				box int32
				unbox.any int32
				ret`,
			want: 9,
		},
		{
			name: "isinst on boxed int",
			sig:  sig(meta.Int32),
			src: `
				ldc.i4.1
				box int32
				isinst System.String
				ldnull
				cgt.un
				ldc.i4.1
				add
				ret`,
			want: 1,
		},
		{
			name: "store through address of object local",
			sig:  sig(meta.Int32),
			src: `
				.locals (object)
				ldloca.s 0
				ldstr "x"
				stind.ref
				ldloc.0
				ldnull
				cgt.un
				ret`,
			want: 1,
		},
		{
			name: "interned literals",
			sig:  sig(meta.Int32),
			src: `
				ldstr "same"
				ldstr "same"
				ceq
				ret`,
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			m := e.define(t, tt.sig, tt.src)
			args := make([]jit.Slot, len(tt.args))
			for i, a := range tt.args {
				args[i] = jit.Int(a)
			}
			got, err := e.run(t, m, args...)
			if err != nil {
				t.Fatalf("run: %v\n%s", err, cil.Disassemble(m.Body.Code))
			}
			if got.I != tt.want {
				t.Errorf("result = %d, want %d", got.I, tt.want)
			}
		})
	}
}

const switchSrc = `
	ldarg.0
	switch (a, b)
	ldc.i4.s 99
	ret
a:
	ldc.i4.s 10
	ret
b:
	ldc.i4.s 20
	ret`

const divideSrc = `
	.locals (int32)
try:
	ldc.i4.s 10
	ldarg.0
	div
	stloc.0
	leave.s done
handler:
	pop
	ldc.i4.m1
	stloc.0
	leave.s done
done:
	ldloc.0
	ret
	.try try handler catch System.DivideByZeroException handler done`

func TestUnhandledExceptions(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "index out of range",
			src: `
				ldc.i4.2
				newarr int32
				ldc.i4.5
				ldelem.i4
				ret`,
			want: "System.IndexOutOfRangeException",
		},
		{
			name: "overflow",
			src: `
				ldc.i4 2147483647
				ldc.i4.1
				add.ovf
				ret`,
			want: "System.OverflowException",
		},
		{
			name: "null field access",
			src: `
				ldnull
				ldfld Test.Box::value
				ret`,
			want: "System.NullReferenceException",
		},
		{
			name: "invalid cast",
			src: `
				ldc.i4.1
				box int32
				unbox.any int64
				conv.i4
				ret`,
			want: "System.InvalidCastException",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			m := e.define(t, sig(meta.Int32), tt.src)
			_, err := e.run(t, m)
			if err == nil {
				t.Fatalf("expected %s", tt.want)
			}
			if got := thrownClass(err); got != tt.want {
				t.Errorf("thrown = %q, want %q (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestUnresolvableCallTarget(t *testing.T) {
	e := newEnv(t)
	m := e.define(t, sig(meta.Int32), `
		ldc.i4.m1
		call System.Math::Abs(int32)
		ret`)
	fn := e.ctx.NewFunction("direct", mustSignature(t, e.rt, m))
	err := verify.Verify(m, New(e.rt, fn, Options{Logger: e.log}), verify.Options{Logger: e.log})
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected coder error, got %v", err)
	}
	if ce.Code != diag.J0004 {
		t.Errorf("code = %s, want %s", ce.Code, diag.J0004)
	}
	if !strings.Contains(ce.Error(), "Abs") {
		t.Errorf("message %q does not name the target", ce.Error())
	}
	d := ce.Diagnostic()
	if d.Code != diag.J0004 || d.Level != diag.LevelError {
		t.Errorf("diagnostic = %+v", d)
	}
}

func TestSetupRejectsSignatureMismatch(t *testing.T) {
	e := newEnv(t)
	m := e.define(t, sig(meta.Int32, meta.Int32), "ldarg.0\nret")
	fn := e.ctx.NewFunction("short", jit.NewSignature(jit.TypeInt, jit.TypeRef))
	err := verify.Verify(m, New(e.rt, fn, Options{Logger: e.log}), verify.Options{Logger: e.log})
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected coder error, got %v", err)
	}
}

func mustSignature(t *testing.T, rt *runtime.Runtime, m *meta.Method) *jit.Signature {
	t.Helper()
	s, err := rt.Signature(m)
	if err != nil {
		t.Fatalf("signature: %v", err)
	}
	return s
}

func TestUnreachableAfterBranch(t *testing.T) {
	e := newEnv(t)
	// br 之后没有标签的指令从空栈开始
	m := e.define(t, sig(meta.Int32), `
		ldc.i4.7
		br.s done
		ldc.i4.1
		br.s done
	done:
		ret`)
	v, err := e.run(t, m)
	if err != nil {
		t.Fatal(err)
	}
	if v.I != 7 {
		t.Errorf("result = %d, want 7", v.I)
	}
}
