// bridge.go - 本地函数桥接
//
// 生成代码通过 IR_CALL_NATIVE 调用 Go 实现的本地函数：
// 1. 参数按签名顺序以 Slot 传入，已按参数类型规整
// 2. 返回值按签名返回类型规整
// 3. 返回 *Thrown 错误表示抛出托管异常，*Fault 表示故障，其它错误终止执行

package jit

import "fmt"

// NativeFunc 本地函数
type NativeFunc func(args []Slot) (Slot, error)

// Native 可被生成代码调用的本地函数
type Native struct {
	Name string
	Sig  *Signature
	Fn   NativeFunc
}

// NewNative 创建本地函数描述
func NewNative(name string, sig *Signature, fn NativeFunc) *Native {
	return &Native{Name: name, Sig: sig, Fn: fn}
}

func (n *Native) String() string { return n.Name + n.Sig.String()[len(n.Sig.Return.String()):] }

// Invoke 直接调用本地函数
func (n *Native) Invoke(args ...Slot) (Slot, error) {
	if len(args) != len(n.Sig.Params) {
		return Slot{}, fmt.Errorf("%w: %s wants %d, got %d", ErrArgCount, n.Name, len(n.Sig.Params), len(args))
	}
	for i, t := range n.Sig.Params {
		args[i] = normalize(args[i], t)
	}
	r, err := n.Fn(args)
	if err != nil {
		return Slot{}, err
	}
	return normalize(r, n.Sig.Return), nil
}

// Throw 本地函数抛出托管异常
func Throw(exc any) error { return &Thrown{Value: exc} }
