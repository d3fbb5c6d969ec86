package meta

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseType(t *testing.T) {
	cl := LoadCorlib()
	b := NewBuilder("meta_test", cl.Module)
	point := b.Class("Test", "Point", cl.ValueType, ClassValueType|ClassSealed)

	tests := []struct {
		name string
		want *Type
	}{
		{"int32", Int32},
		{"native int", IntPtr},
		{"string", String},
		{"int32[]", ArrayOf(Int32)},
		{"int32*", PtrTo(Int32)},
		{"int64&", ByRefTo(Int64)},
		{"valuetype Test.Point", ValueOf(point)},
		{"Test.Point[]", ArrayOf(point.Type())},
		{"class System.Object", cl.Object.Type()},
		{"[corlib]System.String", cl.String.Type()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseType(b.Module(), tt.name)
			if err != nil {
				t.Fatalf("ParseType: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := ParseType(b.Module(), "Test.Missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing type: err = %v", err)
	}
}

func TestTokenResolution(t *testing.T) {
	cl := LoadCorlib()
	b := NewBuilder("meta_test", cl.Module)
	c := b.Class("Test", "Program", cl.Object, 0)
	f := b.Field(c, "n", Int32, FieldStatic)
	m := b.Method(c, "Run", NewSignature(Void), MethodStatic)

	if got, err := b.Module().ResolveMethod(b.MethodToken(m)); err != nil || got != m {
		t.Errorf("ResolveMethod = %v, %v", got, err)
	}
	if got, err := b.Module().ResolveField(b.FieldToken(f)); err != nil || got != f {
		t.Errorf("ResolveField = %v, %v", got, err)
	}
	// 外部类得到 TypeRef 令牌，仍然解析到同一个类
	ref := b.ClassToken(cl.String)
	if got, err := b.Module().ResolveClass(ref); err != nil || got != cl.String {
		t.Errorf("ResolveClass(ref) = %v, %v", got, err)
	}
	s1, s2 := b.StringToken("hi"), b.StringToken("hi")
	if s1 != s2 {
		t.Error("equal strings got different tokens")
	}
	if s, err := b.Module().UserString(s1); err != nil || s != "hi" {
		t.Errorf("UserString = %q, %v", s, err)
	}
	if _, err := b.Module().ResolveMethod(Token(0x06FFFFFF)); err == nil {
		t.Error("expected error for unknown token")
	}
}

func TestImageRoundTrip(t *testing.T) {
	cl := LoadCorlib()
	b := NewBuilder("image_test", cl.Module)
	c := b.Class("Test", "Program", cl.Object, 0)
	b.Field(c, "count", Int32, FieldStatic)
	run := b.Method(c, "Run", NewSignature(Int32, String), MethodStatic)
	code := []byte{0x72, 0, 0, 0, 0, 0x26, 0x16, 0x2A} // ldstr; pop; ldc.i4.0; ret
	tok := b.StringToken("hello")
	code[1], code[2], code[3], code[4] = byte(tok), byte(tok>>8), byte(tok>>16), byte(tok>>24)
	b.Body(run, 2, []*Type{Int64}, code, &ExceptionClause{
		Kind: ClauseFinally, TryOffset: 0, TryLength: 5, HandlerOffset: 5, HandlerLength: 1,
	})
	pi := b.Method(c, "Sqrt", NewSignature(Float64, Float64), MethodStatic)
	b.PInvoke(pi, "libm", "sqrt")

	var buf bytes.Buffer
	if err := Encode(&buf, b.Module()); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	mod, err := Decode(&buf, cl.Module)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if mod.Name != "image_test" || mod.Mvid != b.Module().Mvid {
		t.Errorf("identity = %s %s", mod.Name, mod.Mvid)
	}
	prog := mod.FindClass("Test.Program")
	if prog == nil || prog.Parent != cl.Object {
		t.Fatal("class or parent lost")
	}
	var gotRun, gotSqrt *Method
	for _, m := range prog.Methods {
		switch m.Name {
		case "Run":
			gotRun = m
		case "Sqrt":
			gotSqrt = m
		}
	}
	if gotRun == nil || gotRun.Body == nil {
		t.Fatal("method body lost")
	}
	if !bytes.Equal(gotRun.Body.Code, code) || len(gotRun.Body.Clauses) != 1 || !gotRun.Body.Locals[0].Equal(Int64) {
		t.Errorf("body = %+v", gotRun.Body)
	}
	if s, err := mod.UserString(tok); err != nil || s != "hello" {
		t.Errorf("user string = %q, %v", s, err)
	}
	if gotSqrt == nil || gotSqrt.PInvoke == nil || gotSqrt.PInvoke.Module != "libm" {
		t.Errorf("pinvoke = %+v", gotSqrt)
	}
}

func TestDecodeRejectsBadImages(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", []byte("IL"), ErrBadImage},
		{"magic", []byte("XXXX\x01\x00"), ErrBadImage},
		{"version", []byte("ILIM\x09\x00"), ErrImageVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
