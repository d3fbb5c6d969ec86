package interop

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/runtime"
)

// ============================================================================
// 本地库
// ============================================================================

// Symbol 本地库导出的函数
type Symbol struct {
	Params int // 参数个数
	Fn     HostFunc
}

// Library 注册到解析器的本地库
type Library struct {
	Name    string
	Symbols map[string]Symbol
}

// RegisterLibrary 注册本地库；同名库被替换，模块缓存清空
func (r *Resolver) RegisterLibrary(lib *Library) {
	r.libMu.Lock()
	defer r.libMu.Unlock()
	r.libraries[normalizeModule(lib.Name)] = lib
	r.modules = make(map[string]*Library)
}

// normalizeModule 去掉 lib 前缀和共享库后缀，统一小写
func normalizeModule(name string) string {
	name = strings.ToLower(filepath.Base(strings.TrimSpace(name)))
	for _, ext := range []string{".dll", ".dylib", ".so"} {
		if i := strings.Index(name, ext); i > 0 {
			name = name[:i]
			break
		}
	}
	return strings.TrimPrefix(name, "lib")
}

// library 按模块名查找注册的宿主库，结果（包括未找到）按规范化名字缓存
func (r *Resolver) library(module string) (*Library, string) {
	name := r.moduleName(module)
	r.libMu.Lock()
	defer r.libMu.Unlock()
	if lib, ok := r.modules[name]; ok {
		return lib, name
	}
	lib := r.libraries[name]
	r.modules[name] = lib
	return lib, name
}

func (r *Resolver) moduleName(module string) string {
	name := normalizeModule(module)
	if alias, ok := r.opts.Aliases[name]; ok {
		name = normalizeModule(alias)
	}
	return name
}

// candidates 搜索路径中名字匹配的共享库文件，按路径顺序
func (r *Resolver) candidates(name string) []string {
	var out []string
	for _, dir := range r.opts.SearchPaths {
		for _, pattern := range []string{"lib" + name + ".so*", "lib" + name + ".dylib", name + ".dll"} {
			matches, _ := filepath.Glob(filepath.Join(dir, pattern))
			for _, m := range matches {
				if st, err := os.Stat(m); err == nil && !st.IsDir() {
					out = append(out, m)
				}
			}
		}
	}
	return out
}

// sharedLibrary 打开磁盘上的共享库；第一个能加载的候选文件胜出，结果（包括未找到）按规范化名字缓存
func (r *Resolver) sharedLibrary(name string) *sharedLib {
	r.libMu.Lock()
	defer r.libMu.Unlock()
	if lib, ok := r.shared[name]; ok {
		return lib
	}
	var lib *sharedLib
	for _, path := range r.candidates(name) {
		l, err := openShared(path)
		if err != nil {
			// 例如开发包里的 libm.so 链接脚本
			r.log.Debug("skip native library candidate", zap.String("path", path), zap.Error(err))
			continue
		}
		r.log.Info("native library loaded", zap.String("module", name), zap.String("path", path))
		lib = l
		break
	}
	r.shared[name] = lib
	return lib
}

func (r *Resolver) resolvePInvoke(m *meta.Method) (*Binding, error) {
	info := m.PInvoke
	if info == nil || info.Module == "" {
		return nil, errorf(m, diag.N0003, "pinvoke method has no import module")
	}
	if m.Sig.HasThis {
		return nil, errorf(m, diag.N0003, "pinvoke method must be static")
	}
	symbol := info.Symbol
	if symbol == "" {
		symbol = m.Name
	}

	// 宿主库优先，符号不在宿主库中时再查磁盘上的同名库
	lib, name := r.library(info.Module)
	if lib != nil {
		if sym, ok := lib.Symbols[symbol]; ok {
			if sym.Params != len(m.Sig.Params) {
				return nil, errorf(m, diag.N0005, "%s takes %d arguments, declared with %d", symbol, sym.Params, len(m.Sig.Params))
			}
			return r.pinvokeBinding(m, name, symbol, sym.Fn)
		}
	}
	shared := r.sharedLibrary(name)
	if shared == nil {
		if lib == nil {
			return nil, errorf(m, diag.N0001, "native module %q not found", info.Module)
		}
		return nil, errorf(m, diag.N0002, "symbol %q not found in %s", symbol, name)
	}
	fn, err := shared.bind(m, symbol)
	if err != nil {
		return nil, err
	}
	return r.pinvokeBinding(m, name, symbol, fn)
}

func (r *Resolver) pinvokeBinding(m *meta.Method, name, symbol string, fn HostFunc) (*Binding, error) {
	n, err := r.native(m, name+"!"+symbol, fn)
	if err != nil {
		return nil, err
	}
	return &Binding{Method: m, Kind: KindPInvoke, Native: n, Library: name, Symbol: symbol}, nil
}

// stringArg 第 i 个参数作为字符串；null 抛出 NullReferenceException，其他对象抛出 InvalidCastException
func stringArg(c *Call, i int) (string, error) {
	ref := c.Args[i].Ref
	if ref == nil {
		return "", c.Throw(runtime.ExcNullReference, "")
	}
	s, ok := ref.(*runtime.String)
	if !ok {
		return "", c.Throw(runtime.ExcInvalidCast, fmt.Sprintf("argument %d is not a string", i))
	}
	return s.Value, nil
}

// ============================================================================
// 内置本地库
// ============================================================================

func libc() *Library {
	return &Library{Name: "c", Symbols: map[string]Symbol{
		"abs": {1, func(c *Call) (jit.Slot, error) {
			v := int32(c.Args[0].I)
			if v < 0 {
				v = -v
			}
			return jit.Slot{I: int64(v)}, nil
		}},
		"labs": {1, func(c *Call) (jit.Slot, error) {
			v := c.Args[0].I
			if v < 0 {
				v = -v
			}
			return jit.Slot{I: v}, nil
		}},
		// strlen 以 UTF-8 编码计长
		"strlen": {1, func(c *Call) (jit.Slot, error) {
			s, err := stringArg(c, 0)
			if err != nil {
				return jit.Slot{}, err
			}
			return jit.Slot{I: int64(len(s))}, nil
		}},
	}}
}

func libm() *Library {
	return &Library{Name: "m", Symbols: map[string]Symbol{
		"sin": {1, func(c *Call) (jit.Slot, error) { return jit.Slot{F: math.Sin(c.Args[0].F)}, nil }},
		"cos": {1, func(c *Call) (jit.Slot, error) { return jit.Slot{F: math.Cos(c.Args[0].F)}, nil }},
		"pow": {2, func(c *Call) (jit.Slot, error) { return jit.Slot{F: math.Pow(c.Args[0].F, c.Args[1].F)}, nil }},
	}}
}
