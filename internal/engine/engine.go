// Package engine 按需编译：首次调用方法时校验、生成代码、发布，然后执行
//
// 每个方法对应一个 Entry。托管代码之间的调用直接链接到被调方法的函数，
// 函数第一次被调用时才触发校验和代码生成；多个线程同时调用同一个未编译的
// 方法时只有一个线程编译，其余线程等待并得到相同的结果。
package engine

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/interop"
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/jitcoder"
	"github.com/tangzhangming/ilengine/internal/layout"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/runtime"
	"github.com/tangzhangming/ilengine/internal/verify"
)

// Options 引擎选项
type Options struct {
	Unsafe      bool // 允许 unsafe 代码
	Debug       bool // 生成 IL 偏移标记
	TrustSystem bool // 核心库方法按可信代码处理
	OptLevel    int  // IR 整理级别 0..2
	HeapLimit   int64

	SearchPaths []string
	Aliases     map[string]string
	Stdout      io.Writer

	Logger   *zap.Logger
	Reporter *diag.Reporter // 接收校验警告和编译错误，可为 nil
}

// Engine 一个执行引擎实例，可在多个线程间共享
type Engine struct {
	opts Options
	log  *zap.Logger

	Corlib   *meta.Corlib
	Layouts  *layout.Service
	Runtime  *runtime.Runtime
	Resolver *interop.Resolver
	ctx      *jit.Context

	mu      sync.Mutex
	entries map[*meta.Method]*Entry

	verified atomic.Int64
	rejected atomic.Int64
	bound    atomic.Int64
}

// New 创建引擎
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cl := meta.LoadCorlib()
	layouts := layout.NewService(log.Named("layout"))
	rt := runtime.New(cl, layouts, runtime.Options{HeapLimit: opts.HeapLimit, Logger: log.Named("runtime")})
	ctx := jit.NewContext(log.Named("jit"))
	ctx.SetFaultMapper(rt.MapFault)
	ctx.OptLevel = opts.OptLevel

	e := &Engine{
		opts:    opts,
		log:     log,
		Corlib:  cl,
		Layouts: layouts,
		Runtime: rt,
		Resolver: interop.NewResolver(rt, interop.Options{
			SearchPaths: opts.SearchPaths,
			Aliases:     opts.Aliases,
			Stdout:      opts.Stdout,
			Logger:      log.Named("interop"),
		}),
		ctx:     ctx,
		entries: make(map[*meta.Method]*Entry),
	}
	rt.SetLinker(e)
	return e
}

// Context 编译上下文
func (e *Engine) Context() *jit.Context { return e.ctx }

// ============================================================================
// 方法入口
// ============================================================================

// Entry 方法的入口：编译成功后发布函数，之后的读取不加锁
type Entry struct {
	Method *meta.Method

	shell     *jit.Function
	published atomic.Pointer[jit.Function]
}

// Function 已发布的函数，尚未编译时为 nil
func (en *Entry) Function() *jit.Function { return en.published.Load() }

// Compiled 是否已发布
func (en *Entry) Compiled() bool { return en.published.Load() != nil }

// Err 编译失败的原因
func (en *Entry) Err() error {
	if en.shell == nil {
		return nil
	}
	return en.shell.Err()
}

// Entry 返回方法的入口，第一次访问时创建
func (e *Engine) Entry(m *meta.Method) (*Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok := e.entries[m]; ok {
		return en, nil
	}
	en := &Entry{Method: m}
	switch {
	case m.Impl == meta.ImplIL && m.Body != nil:
		sig, err := e.Runtime.Signature(m)
		if err != nil {
			return nil, fmt.Errorf("engine: signature of %s: %w", m.FullName(), err)
		}
		en.shell = e.ctx.NewFunction(m.FullName(), sig)
		en.shell.Meta = m
		en.shell.SetOnDemand(func(fn *jit.Function) error {
			return e.compile(en, fn)
		})

	case m.Impl == meta.ImplIL:
		return nil, &jitcoder.Error{Method: m.FullName(), Offset: -1, Code: diag.J0004,
			Message: "method has neither an IL body nor a native implementation"}

	default:
		// 本地实现在链接时就绑定，不需要校验
		b, err := e.Resolver.Resolve(m)
		if err != nil {
			return nil, err
		}
		sig, err := e.Runtime.Signature(m)
		if err != nil {
			return nil, fmt.Errorf("engine: signature of %s: %w", m.FullName(), err)
		}
		fn, err := interop.Trampoline(e.ctx, b, sig)
		if err != nil {
			return nil, err
		}
		en.shell = fn
		en.published.Store(fn)
		e.bound.Inc()
	}
	e.entries[m] = en
	return en, nil
}

// FunctionFor 链接到方法的函数，供生成代码的直接调用和虚调用使用
func (e *Engine) FunctionFor(m *meta.Method) (*jit.Function, error) {
	en, err := e.Entry(m)
	if err != nil {
		return nil, err
	}
	return en.shell, nil
}

// compile 按需编译回调：在构建锁内运行，校验和代码生成一次完成
func (e *Engine) compile(en *Entry, fn *jit.Function) error {
	m := en.Method
	trusted := e.opts.TrustSystem && m.Owner != nil && m.Owner.Module == e.Corlib.Module
	coder := jitcoder.New(e.Runtime, fn, jitcoder.Options{Debug: e.opts.Debug, Logger: e.log.Named("coder")})
	err := verify.Verify(m, coder, verify.Options{
		Unsafe:   e.opts.Unsafe,
		Trusted:  trusted,
		Logger:   e.log.Named("verify"),
		Reporter: e.opts.Reporter,
	})
	if err != nil {
		e.rejected.Inc()
		if e.opts.Reporter != nil {
			e.opts.Reporter.ReportError(err)
		}
		e.log.Warn("method not compiled", zap.String("method", m.FullName()), zap.Error(err))
		return err
	}
	e.verified.Inc()
	en.published.Store(fn)
	e.log.Debug("method compiled", zap.String("method", m.FullName()), zap.Bool("trusted", trusted))
	return nil
}

// Compile 编译方法但不执行
func (e *Engine) Compile(m *meta.Method) (*Entry, error) {
	en, err := e.Entry(m)
	if err != nil {
		return nil, err
	}
	if err := en.shell.Prepare(); err != nil {
		return en, err
	}
	return en, nil
}

// CompileAll 编译模块中所有方法；单个方法失败不影响其余方法
func (e *Engine) CompileAll(mod *meta.Module) error {
	var errs error
	for _, m := range mod.Methods() {
		if m.IsAbstract() {
			continue
		}
		if _, err := e.Compile(m); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", m.FullName(), err))
		}
	}
	return errs
}

// ============================================================================
// 执行
// ============================================================================

// Invoke 在新线程上调用方法；args 不含上下文句柄，实例方法的 this 在最前
// 未处理的托管异常以 *runtime.ExceptionError 返回
func (e *Engine) Invoke(m *meta.Method, args ...jit.Slot) (jit.Slot, error) {
	en, err := e.Entry(m)
	if err != nil {
		return jit.Slot{}, err
	}
	th := e.Runtime.NewThread()
	all := make([]jit.Slot, 0, len(args)+1)
	all = append(all, jit.RefSlot(th))
	all = append(all, args...)
	r, err := en.shell.Apply(all...)
	if err != nil {
		if fault, ok := jit.AsFault(err); ok && fault.Err != nil {
			// 按需编译失败时返回编译错误本身
			return jit.Slot{}, fault.Err
		}
		return jit.Slot{}, runtime.AsError(err)
	}
	return r, nil
}

// ============================================================================
// 统计
// ============================================================================

// Stats 引擎统计
type Stats struct {
	Entries  int   // 已创建的方法入口
	Verified int64 // 校验并编译成功的方法
	Rejected int64 // 校验或代码生成失败的方法
	Bound    int64 // 绑定到本地实现的方法
	Layouts  int64 // 计算过的类布局
	Objects  int64 // 分配的对象
	Bytes    int64 // 分配的字节数
	JIT      jit.Stats
}

// Stats 返回当前统计
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	n := len(e.entries)
	e.mu.Unlock()
	objects, bytes := e.Runtime.Stats()
	return Stats{
		Entries:  n,
		Verified: e.verified.Load(),
		Rejected: e.rejected.Load(),
		Bound:    e.bound.Load(),
		Layouts:  e.Layouts.Computations(),
		Objects:  objects,
		Bytes:    bytes,
		JIT:      e.ctx.Stats(),
	}
}
