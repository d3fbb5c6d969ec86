// Package interop 把没有 IL 方法体的方法绑定到宿主实现：
// 内部调用（引擎内置）、PInvoke（注册的宿主库或搜索路径中的共享库）和运行时合成方法（委托）。
//
// 绑定结果是一个 jit.Native，第一个参数总是上下文句柄；
// Trampoline 为绑定生成按位置转发参数的 jit.Function。
package interop

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/launix-de/NonLockingReadMap"
	"go.uber.org/zap"

	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/runtime"
)

// ============================================================================
// 错误
// ============================================================================

// Error 本地调用目标无法解析
type Error struct {
	Method  string
	Code    string // N0001..N0005
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Method, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Diagnostic 转为诊断记录
func (e *Error) Diagnostic() *diag.Diagnostic {
	return &diag.Diagnostic{
		Level:   diag.LevelError,
		Code:    e.Code,
		Message: e.Message,
		Method:  e.Method,
		Offset:  -1,
	}
}

func errorf(m *meta.Method, code, format string, args ...interface{}) *Error {
	return &Error{Method: m.FullName(), Code: code, Message: fmt.Sprintf(format, args...)}
}

// ============================================================================
// 绑定
// ============================================================================

// Kind 绑定种类
type Kind uint8

const (
	KindInternal Kind = iota
	KindPInvoke
	KindRuntime
)

func (k Kind) String() string {
	switch k {
	case KindPInvoke:
		return "pinvoke"
	case KindRuntime:
		return "runtime"
	}
	return "internalcall"
}

// Binding 方法的宿主实现
type Binding struct {
	Method *meta.Method
	Kind   Kind
	Native *jit.Native

	// Library PInvoke 绑定的库（规范化后的名字）
	Library string
	Symbol  string
}

// Call 一次宿主调用的参数
type Call struct {
	Runtime *runtime.Runtime
	Thread  *runtime.Thread
	Method  *meta.Method
	// Args 不含上下文句柄；实例方法的 this 在 Args[0]
	Args []jit.Slot

	out io.Writer
}

// HostFunc 宿主实现
type HostFunc func(c *Call) (jit.Slot, error)

// ============================================================================
// 解析器
// ============================================================================

// Options 解析器选项
type Options struct {
	SearchPaths []string          // 本地库搜索路径
	Aliases     map[string]string // 库名别名，例如 libc -> c
	Stdout      io.Writer         // Console 输出，默认 os.Stdout
	Logger      *zap.Logger
}

// Resolver 方法绑定解析器，可在多个线程间共享
type Resolver struct {
	rt   *runtime.Runtime
	opts Options
	log  *zap.Logger
	out  io.Writer

	methods NonLockingReadMap.NonLockingReadMap[internalCall, string]
	ctors   NonLockingReadMap.NonLockingReadMap[internalCall, string]

	libMu     sync.Mutex
	libraries map[string]*Library
	modules   map[string]*Library   // 规范化模块名 -> 库（含未找到的 nil）
	shared    map[string]*sharedLib // 规范化模块名 -> 磁盘上的共享库（含未找到的 nil）
}

// NewResolver 创建解析器并注册内置的内部调用和本地库
func NewResolver(rt *runtime.Runtime, opts Options) *Resolver {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	r := &Resolver{
		rt:        rt,
		opts:      opts,
		log:       log,
		out:       out,
		methods:   NonLockingReadMap.New[internalCall, string](),
		ctors:     NonLockingReadMap.New[internalCall, string](),
		libraries: make(map[string]*Library),
		modules:   make(map[string]*Library),
		shared:    make(map[string]*sharedLib),
	}
	registerBuiltins(r)
	registerCrypto(r)
	r.RegisterLibrary(libc())
	r.RegisterLibrary(libm())
	return r
}

// Runtime 运行时
func (r *Resolver) Runtime() *runtime.Runtime { return r.rt }

// Resolve 为没有 IL 方法体的方法查找宿主实现
func (r *Resolver) Resolve(m *meta.Method) (*Binding, error) {
	var (
		b   *Binding
		err error
	)
	switch m.Impl {
	case meta.ImplInternalCall:
		b, err = r.resolveInternal(m)
	case meta.ImplPInvoke:
		b, err = r.resolvePInvoke(m)
	case meta.ImplRuntime:
		b, err = r.resolveRuntime(m)
	default:
		err = errorf(m, diag.N0003, "method has an IL body")
	}
	if err != nil {
		r.log.Warn("native binding failed", zap.String("method", m.FullName()), zap.Error(err))
		return nil, err
	}
	r.log.Debug("native binding resolved",
		zap.String("method", m.FullName()),
		zap.Stringer("kind", b.Kind),
		zap.String("library", b.Library))
	return b, nil
}

// native 以宿主实现构造本地函数
func (r *Resolver) native(m *meta.Method, name string, fn HostFunc) (*jit.Native, error) {
	sig, err := r.rt.Signature(m)
	if err != nil {
		return nil, errorf(m, diag.N0003, "%v", err)
	}
	return jit.NewNative(name, sig, func(args []jit.Slot) (jit.Slot, error) {
		t, _ := args[0].Ref.(*runtime.Thread)
		return fn(&Call{Runtime: r.rt, Thread: t, Method: m, Args: args[1:], out: r.out})
	}), nil
}

// MethodKey 内部调用表的键：类名::方法名(参数类型)
func MethodKey(m *meta.Method) string {
	var b strings.Builder
	b.WriteString(m.FullName())
	b.WriteByte('(')
	for i, p := range m.Sig.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	return b.String()
}
