// Package runtime 提供生成代码运行所需的对象模型和辅助函数：
// 线程（上下文句柄）、对象分配、字符串、数组、装箱、类型转换、
// 系统异常构造以及执行器故障到托管异常的映射。
package runtime

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/layout"
	"github.com/tangzhangming/ilengine/internal/meta"
)

// maxObjectSize 单个对象或数组的数据块上限
const maxObjectSize = 1 << 31

// ErrNoLinker 尚未设置方法链接器
var ErrNoLinker = errors.New("runtime: no method linker")

// Linker 把方法解析为可调用的函数，由引擎实现
type Linker interface {
	FunctionFor(m *meta.Method) (*jit.Function, error)
}

// Options 运行时选项
type Options struct {
	HeapLimit int64 // 累计分配上限（字节），0 表示不限
	Logger    *zap.Logger
}

// Runtime 一个引擎实例的运行时状态，可在多个线程间共享
type Runtime struct {
	Corlib  *meta.Corlib
	Layouts *layout.Service

	log       *zap.Logger
	heapLimit int64
	allocated atomic.Int64
	objects   atomic.Int64
	threadIDs atomic.Int64

	linkMu sync.RWMutex
	linker Linker

	handleMu sync.RWMutex
	handles  []*meta.Method
	handleOf map[*meta.Method]int64

	initMu sync.Mutex
	inits  map[*meta.Class]*classInit

	thunkMu sync.Mutex
	thunks  map[*meta.Method]*jit.Function

	oomOnce sync.Once
	oom     *Object

	literalMu sync.Mutex
	literals  map[string]*String

	helpersOnce sync.Once
	helpers     *Helpers
}

// New 创建运行时
func New(corlib *meta.Corlib, layouts *layout.Service, opts Options) *Runtime {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Runtime{
		Corlib:    corlib,
		Layouts:   layouts,
		log:       log,
		heapLimit: opts.HeapLimit,
		handleOf:  make(map[*meta.Method]int64),
		inits:     make(map[*meta.Class]*classInit),
		thunks:    make(map[*meta.Method]*jit.Function),
		literals:  make(map[string]*String),
	}
}

// SetLinker 设置方法链接器
func (r *Runtime) SetLinker(l Linker) {
	r.linkMu.Lock()
	r.linker = l
	r.linkMu.Unlock()
}

// FunctionFor 方法对应的函数
func (r *Runtime) FunctionFor(m *meta.Method) (*jit.Function, error) {
	r.linkMu.RLock()
	l := r.linker
	r.linkMu.RUnlock()
	if l == nil {
		return nil, ErrNoLinker
	}
	return l.FunctionFor(m)
}

// Logger 日志
func (r *Runtime) Logger() *zap.Logger { return r.log }

// Stats 分配统计
func (r *Runtime) Stats() (objects, bytes int64) {
	return r.objects.Load(), r.allocated.Load()
}

// ============================================================================
// 分配
// ============================================================================

// reserve 记录一次分配；超过上限时返回 false
func (r *Runtime) reserve(size int64) bool {
	if size < 0 || size > maxObjectSize {
		return false
	}
	total := r.allocated.Add(size)
	if r.heapLimit > 0 && total > r.heapLimit {
		r.allocated.Sub(size)
		return false
	}
	r.objects.Inc()
	return true
}

// errOutOfMemory 分配失败
var errOutOfMemory = errors.New("runtime: out of memory")

// Allocate 分配类的实例，字段清零；不检查抽象类
func (r *Runtime) Allocate(c *meta.Class) (*Object, error) {
	l, err := r.Layouts.Layout(c)
	if err != nil {
		return nil, err
	}
	if !r.reserve(int64(l.Size)) {
		return nil, errOutOfMemory
	}
	return &Object{Class: c, Layout: l, Data: jit.NewBlock(l.Size)}, nil
}

// NewString 创建字符串
func (r *Runtime) NewString(s string) *String {
	r.reserve(int64(len(s)))
	return &String{Value: s}
}

// Literal ldstr 使用的驻留字符串，相同内容返回同一对象
func (r *Runtime) Literal(s string) *String {
	r.literalMu.Lock()
	defer r.literalMu.Unlock()
	if str, ok := r.literals[s]; ok {
		return str
	}
	str := r.NewString(s)
	r.literals[s] = str
	return str
}

// NewArray 创建数组
func (r *Runtime) NewArray(elem *meta.Type, n int) (*Array, error) {
	if n < 0 {
		return nil, fmt.Errorf("runtime: negative array length %d", n)
	}
	nt, err := r.Layouts.NativeType(elem)
	if err != nil {
		return nil, err
	}
	st := ElementStride(nt)
	size := int64(ArrayHeader) + int64(n)*int64(st)
	if !r.reserve(size) {
		return nil, errOutOfMemory
	}
	data := jit.NewBlock(int(size))
	if err := data.Store(0, jit.TypeNInt, jit.Slot{I: int64(n)}); err != nil {
		return nil, err
	}
	return &Array{Elem: elem, Native: nt, Length: n, Stride: st, Data: data}, nil
}

// NewByteArray 以字节内容创建 uint8[]
func (r *Runtime) NewByteArray(b []byte) (*Array, error) {
	a, err := r.NewArray(meta.UInt8, len(b))
	if err != nil {
		return nil, err
	}
	copy(a.Bytes(), b)
	return a, nil
}

// Box 把类型为 t 的值装箱
func (r *Runtime) Box(t *meta.Type, v jit.Slot) (*Object, error) {
	c := r.Corlib.ClassFor(t)
	if c == nil {
		return nil, fmt.Errorf("runtime: cannot box %s", t)
	}
	o, err := r.Allocate(c)
	if err != nil {
		return nil, err
	}
	if o.Layout.StructType != nil {
		if err := o.Data.Store(0, o.Layout.StructType, v); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// ============================================================================
// 方法句柄
// ============================================================================

// MethodHandle ldftn 使用的方法句柄，同一方法总是得到同一个值
func (r *Runtime) MethodHandle(m *meta.Method) int64 {
	r.handleMu.RLock()
	h, ok := r.handleOf[m]
	r.handleMu.RUnlock()
	if ok {
		return h
	}
	r.handleMu.Lock()
	defer r.handleMu.Unlock()
	if h, ok := r.handleOf[m]; ok {
		return h
	}
	r.handles = append(r.handles, m)
	h = int64(len(r.handles))
	r.handleOf[m] = h
	return h
}

// MethodFromHandle 句柄对应的方法，无效句柄返回 nil
func (r *Runtime) MethodFromHandle(h int64) *meta.Method {
	r.handleMu.RLock()
	defer r.handleMu.RUnlock()
	if h <= 0 || h > int64(len(r.handles)) {
		return nil
	}
	return r.handles[h-1]
}

// ============================================================================
// 类型检查
// ============================================================================

// ClassOf 对象的运行时类
func (r *Runtime) ClassOf(ref any) *meta.Class {
	switch o := ref.(type) {
	case *Object:
		return o.Class
	case *String:
		return r.Corlib.String
	case *Array:
		return r.Corlib.Array
	}
	return nil
}

// TypeOf 对象的运行时类型
func (r *Runtime) TypeOf(ref any) *meta.Type {
	switch o := ref.(type) {
	case *Object:
		return o.Class.Type()
	case *String:
		return meta.String
	case *Array:
		return meta.ArrayOf(o.Elem)
	}
	return nil
}

// IsInstance 非空对象能否视为类型 t
func (r *Runtime) IsInstance(ref any, t *meta.Type) bool {
	if ref == nil {
		return false
	}
	switch t.Kind {
	case meta.ElemObject:
		return true
	case meta.ElemSZArray:
		a, ok := ref.(*Array)
		return ok && elemAssignable(r, a.Elem, t.Elem)
	}
	target := r.Corlib.ClassFor(t)
	if target == nil {
		return false
	}
	c := r.ClassOf(ref)
	return c != nil && c.IsAssignableTo(target)
}

// elemAssignable 数组协变：引用元素按类继承，值类型元素必须相同
func elemAssignable(r *Runtime, have, want *meta.Type) bool {
	if have.Equal(want) {
		return true
	}
	if !have.IsReference() || !want.IsReference() {
		return false
	}
	if want.Kind == meta.ElemObject {
		return true
	}
	if have.Kind == meta.ElemSZArray || want.Kind == meta.ElemSZArray {
		return have.Kind == want.Kind && elemAssignable(r, have.Elem, want.Elem)
	}
	hc, wc := r.Corlib.ClassFor(have), r.Corlib.ClassFor(want)
	return hc != nil && wc != nil && hc.IsAssignableTo(wc)
}

// CanStore stelem.ref 的数组存储检查
func (r *Runtime) CanStore(arr *Array, v any) bool {
	if v == nil {
		return true
	}
	return r.IsInstance(v, arr.Elem)
}

// ============================================================================
// 调用约定
// ============================================================================

// Signature 方法对应函数的原生签名
// 参数依次为上下文句柄、this（值类型为地址）和声明的参数；
// 内部调用的构造函数返回新建的对象
func (r *Runtime) Signature(m *meta.Method) (*jit.Signature, error) {
	params := make([]*jit.Type, 0, m.ParamCount()+1)
	params = append(params, jit.TypeRef)
	if m.Sig.HasThis {
		if m.Owner.IsValueType() {
			params = append(params, jit.TypePtr)
		} else {
			params = append(params, jit.TypeRef)
		}
	}
	for _, p := range m.Sig.Params {
		t, err := r.Layouts.NativeType(p)
		if err != nil {
			return nil, err
		}
		params = append(params, t)
	}
	ret := jit.TypeVoid
	switch {
	case m.IsConstructor() && m.Impl == meta.ImplInternalCall:
		ret = jit.TypeRef
	case !m.Sig.Return.IsVoid():
		t, err := r.Layouts.NativeType(m.Sig.Return)
		if err != nil {
			return nil, err
		}
		ret = t
	}
	return jit.NewSignature(ret, params...), nil
}
