package verify

import (
	"testing"

	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/meta"
)

func TestExceptionHandling(t *testing.T) {
	void := meta.Void
	runCases(t, newFixture(), []ilCase{
		{
			name: "try catch",
			sig:  sig(void),
			src: `
				.try t0 t1 catch System.Exception h0 h1
			t0:
				ldc.i4.1
				pop
				leave.s done
			t1:
			h0:
				pop
				leave.s done
			h1:
			done:
				ret`,
		},
		{
			name: "catch stores exception",
			sig:  sig(void),
			src: `
				.locals (System.Exception)
				.try t0 t1 catch System.Exception h0 h1
			t0:
				leave.s done
			t1:
			h0:
				stloc.0
				leave.s done
			h1:
			done:
				ret`,
		},
		{
			name: "leave empties the stack",
			sig:  sig(void),
			src: `
				.try t0 t1 catch System.Exception h0 h1
			t0:
				ldc.i4.1
				ldc.i4.2
				leave.s done
			t1:
			h0:
				pop
				leave.s done
			h1:
			done:
				ret`,
		},
		{
			name: "try finally",
			sig:  sig(void),
			src: `
				.try t0 t1 finally h0 h1
			t0:
				leave done
			t1:
			h0:
				endfinally
			h1:
			done:
				ret`,
		},
		{
			name: "filter",
			sig:  sig(void),
			src: `
				.try t0 t1 filter f0 h0 h1
			t0:
				leave.s done
			t1:
			f0:
				pop
				ldc.i4.1
				endfilter
			h0:
				pop
				leave.s done
			h1:
			done:
				ret`,
		},
		{
			name: "endfilter needs int32",
			sig:  sig(void),
			src: `
				.try t0 t1 filter f0 h0 h1
			t0:
				leave.s done
			t1:
			f0:
				pop
				ldnull
				endfilter
			h0:
				pop
				leave.s done
			h1:
			done:
				ret`,
			code: diag.V0104,
		},
		{
			name: "rethrow in catch",
			sig:  sig(void),
			src: `
				.try t0 t1 catch System.Exception h0 h1
			t0:
				leave.s done
			t1:
			h0:
				pop
				rethrow
			h1:
			done:
				ret`,
		},
		{
			name: "ret inside try",
			sig:  sig(void),
			src: `
				.try t0 t1 finally h0 h1
			t0:
				ret
			t1:
			h0:
				endfinally
			h1:
				ret`,
			code: diag.V0401,
		},
		{
			name: "branch into the middle of a try",
			sig:  sig(void),
			src: `
				.try t0 t1 catch System.Exception h0 h1
				br mid
			t0:
				nop
			mid:
				leave.s done
			t1:
			h0:
				pop
				leave.s done
			h1:
			done:
				ret`,
			code: diag.V0401,
		},
		{
			name: "branch out of try without leave",
			sig:  sig(void),
			src: `
				.try t0 t1 catch System.Exception h0 h1
			t0:
				br done
			t1:
			h0:
				pop
				leave.s done
			h1:
			done:
				ret`,
			code: diag.V0401,
		},
		{
			name: "fall out of try",
			sig:  sig(void),
			src: `
				.try t0 t1 catch System.Exception h0 h1
			t0:
				nop
			t1:
			h0:
				pop
				leave.s done
			h1:
			done:
				ret`,
			code: diag.V0401,
		},
		{
			name: "values on the stack at try entry",
			sig:  sig(void),
			src: `
				.try t0 t1 catch System.Exception h0 h1
				ldc.i4.1
			t0:
				pop
				leave.s done
			t1:
			h0:
				pop
				leave.s done
			h1:
			done:
				ret`,
			code: diag.V0402,
		},
		{
			name: "endfinally outside a handler",
			sig:  sig(void),
			src:  "endfinally",
			code: diag.V0401,
		},
		{
			name: "rethrow in finally",
			sig:  sig(void),
			src: `
				.try t0 t1 finally h0 h1
			t0:
				leave.s done
			t1:
			h0:
				rethrow
			h1:
			done:
				ret`,
			code: diag.V0401,
		},
		{
			name: "leave from finally",
			sig:  sig(void),
			src: `
				.try t0 t1 finally h0 h1
			t0:
				leave.s done
			t1:
			h0:
				leave.s done
			h1:
			done:
				ret`,
			code: diag.V0401,
		},
		{
			name: "throw int32",
			sig:  sig(void),
			src:  "ldc.i4.1\nthrow",
			code: diag.V0301,
		},
		{
			name: "throw new exception",
			sig:  sig(void),
			src:  "ldstr \"boom\"\nnewobj System.Exception::.ctor(string)\nthrow",
		},
	})
}
