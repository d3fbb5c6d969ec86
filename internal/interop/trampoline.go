package interop

import (
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/jit"
)

// Trampoline 为绑定生成可被托管代码直接调用的函数
// sig 为调用方期望的签名（上下文句柄、this、参数），个数必须与绑定一致
// 不获取构建锁：按需编译回调中已经持有
func Trampoline(ctx *jit.Context, b *Binding, sig *jit.Signature) (*jit.Function, error) {
	want := b.Native.Sig
	if sig == nil {
		sig = want
	}
	if len(sig.Params) != len(want.Params) {
		return nil, &Error{
			Method:  b.Method.FullName(),
			Code:    diag.N0005,
			Message: "caller passes a different number of arguments than the native target takes",
		}
	}
	fn := ctx.NewFunction(b.Method.FullName()+"$"+b.Kind.String(), sig)
	fn.Meta = b.Method
	args := make([]*jit.Value, len(sig.Params))
	for i := range args {
		args[i] = fn.Param(i)
	}
	r := fn.InsnCallNative(b.Native, args)
	if sig.Return == jit.TypeVoid || r == nil {
		fn.InsnReturn(nil)
	} else {
		fn.InsnReturn(r)
	}
	if err := fn.Compile(); err != nil {
		return nil, &Error{Method: b.Method.FullName(), Code: diag.N0003, Message: "trampoline failed to compile", Err: err}
	}
	return fn, nil
}
