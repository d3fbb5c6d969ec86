package verify

import (
	"testing"

	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/meta"
)

// 安全模式下通过的程序在非安全模式下也必须通过
func TestUnsafeIsMonotonic(t *testing.T) {
	f := newFixture()
	i4, void := meta.Int32, meta.Void
	ref := meta.ByRefTo(meta.Int32)
	programs := []struct {
		name string
		sig  *meta.Signature
		src  string
		safe bool // 安全模式下是否通过
	}{
		{"add", sig(i4), "ldc.i4.3\nldc.i4.5\nadd\nret", true},
		{"loop", sig(i4), ".locals (int32)\nldc.i4.0\nstloc.0\nloop: ldloc.0\nldc.i4.1\nadd\nstloc.0\nldloc.0\nldc.i4.s 10\nblt loop\nldloc.0\nret", true},
		{"ldind", sig(i4, ref), "ldarg.0\nldind.i4\nret", true},
		{"string concat", sig(meta.String), "ldstr \"a\"\nldstr \"b\"\ncall System.String::Concat\nret", true},
		{"pointer add", sig(void), ".locals (int32)\nldloca 0\nldc.i4.5\nadd\npop\nret", false},
		{"pointer conv.i", sig(meta.IntPtr), ".locals (int32)\nldloca.s 0\nconv.i\nret", false},
		{"localloc", sig(void), "ldc.i4.8\nlocalloc\npop\nret", false},
		{"cpblk", sig(void, ref, ref), "ldarg.0\nldarg.1\nldc.i4.4\ncpblk\nret", false},
		{"ldind from native int", sig(i4, meta.IntPtr), "ldarg.0\nldind.i4\nret", false},
	}
	for _, p := range programs {
		t.Run(p.name, func(t *testing.T) {
			m := f.define(t, p.sig, p.src)
			safeErr := Verify(m, nil, Options{})
			if (safeErr == nil) != p.safe {
				t.Fatalf("safe mode: err = %v, want pass=%v", safeErr, p.safe)
			}
			if err := Verify(m, nil, Options{Unsafe: true}); err != nil {
				t.Errorf("unsafe mode: %v", err)
			}
		})
	}
}

// 非安全模式也不放行真正的类型错误
func TestUnsafeStillRejects(t *testing.T) {
	runCases(t, newFixture(), []ilCase{
		{name: "int32 plus int64", sig: sig(meta.Int32), src: "ldc.i4.1\nldc.i8 1\nadd\nret", unsafe: true, code: diag.V0100},
		{name: "null compare", sig: sig(meta.Void), src: "ldnull\nldc.i4.0\nbeq done\ndone: ret", unsafe: true, code: diag.V0101},
		{name: "underflow", sig: sig(meta.Void), src: "pop\nret", unsafe: true, code: diag.V0003},
		{name: "ldtoken", sig: sig(meta.Void), src: "ldtoken int32\npop\nret", unsafe: true, code: diag.V0500},
	})
}

func TestTrustedImpliesUnsafe(t *testing.T) {
	f := newFixture()
	m := f.define(t, sig(meta.Void), "ldc.i4.8\nlocalloc\npop\nret")
	if err := Verify(m, nil, Options{Trusted: true}); err != nil {
		t.Errorf("trusted: %v", err)
	}
}
