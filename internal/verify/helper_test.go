package verify

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tangzhangming/ilengine/internal/cil"
	"github.com/tangzhangming/ilengine/internal/meta"
)

// fixture 测试用模块：一个放测试方法的类和几个辅助类型
type fixture struct {
	corlib *meta.Corlib
	b      *meta.Builder
	prog   *meta.Class
	point  *meta.Class // 值类型 {X, Y int32}
	shape  *meta.Class // 抽象类
	box    *meta.Class // 引用类型 {value int32; static count int32}
	n      int
}

func newFixture() *fixture {
	cl := meta.LoadCorlib()
	b := meta.NewBuilder("verify_test", cl.Module)
	f := &fixture{corlib: cl, b: b}
	f.prog = b.Class("Test", "Program", cl.Object, 0)

	f.point = b.Class("Test", "Point", cl.ValueType, meta.ClassValueType|meta.ClassSealed)
	b.Field(f.point, "X", meta.Int32, 0)
	b.Field(f.point, "Y", meta.Int32, 0)
	b.Method(f.point, "Sum", meta.NewSignature(meta.Int32), 0)

	f.shape = b.Class("Test", "Shape", cl.Object, meta.ClassAbstract)
	b.Method(f.shape, ".ctor", meta.NewSignature(meta.Void), 0)
	b.Method(f.shape, "Area", meta.NewSignature(meta.Float64), meta.MethodVirtual|meta.MethodAbstract)

	f.box = b.Class("Test", "Box", cl.Object, 0)
	b.Field(f.box, "value", meta.Int32, 0)
	b.Field(f.box, "count", meta.Int32, meta.FieldStatic)
	b.Method(f.box, ".ctor", meta.NewSignature(meta.Void, meta.Int32), 0)
	return f
}

// define 定义静态方法并汇编方法体
func (f *fixture) define(t *testing.T, sig *meta.Signature, src string) *meta.Method {
	t.Helper()
	f.n++
	m := f.b.Method(f.prog, fmt.Sprintf("M%d", f.n), sig, meta.MethodStatic)
	p, err := cil.Assemble(src, f.b)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	f.b.Body(m, p.MaxStack, p.Locals, p.Code, p.Clauses...)
	return m
}

// raw 以原始字节定义静态方法
func (f *fixture) raw(sig *meta.Signature, code []byte, clauses ...*meta.ExceptionClause) *meta.Method {
	f.n++
	m := f.b.Method(f.prog, fmt.Sprintf("M%d", f.n), sig, meta.MethodStatic)
	f.b.Body(m, 8, nil, code, clauses...)
	return m
}

func sig(ret *meta.Type, params ...*meta.Type) *meta.Signature {
	return meta.NewSignature(ret, params...)
}

// codeOf 验证错误的诊断码，通过时为空
func codeOf(err error) string {
	if err == nil {
		return ""
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	return "non-verify: " + err.Error()
}

// ilCase 一条 IL 验证用例，code 为空表示应当通过
type ilCase struct {
	name   string
	sig    *meta.Signature
	src    string
	unsafe bool
	code   string
}

func runCases(t *testing.T, f *fixture, cases []ilCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := f.define(t, tc.sig, tc.src)
			err := Verify(m, nil, Options{Unsafe: tc.unsafe})
			if got := codeOf(err); got != tc.code {
				t.Errorf("code = %q, want %q (err: %v)\n%s", got, tc.code, err, cil.Disassemble(m.Body.Code))
			}
		})
	}
}
