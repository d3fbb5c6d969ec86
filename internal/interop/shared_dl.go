//go:build (darwin || linux) && (amd64 || arm64)

package interop

import (
	"fmt"
	"reflect"

	"github.com/ebitengine/purego"

	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
)

// ============================================================================
// 共享库
// ============================================================================

// sharedLib dlopen 打开的共享库，句柄在进程内不关闭
type sharedLib struct {
	path   string
	handle uintptr
}

func openShared(path string) (*sharedLib, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, err
	}
	return &sharedLib{path: path, handle: h}, nil
}

// bind 查找符号，按声明的签名生成调用；只支持基元、本地整数和字符串参数
func (l *sharedLib) bind(m *meta.Method, symbol string) (HostFunc, error) {
	addr, err := purego.Dlsym(l.handle, symbol)
	if err != nil || addr == 0 {
		return nil, errorf(m, diag.N0002, "symbol %q not found in %s", symbol, l.path)
	}

	in := make([]reflect.Type, len(m.Sig.Params))
	for i, p := range m.Sig.Params {
		t, ok := marshalType(p)
		if !ok {
			return nil, errorf(m, diag.N0003, "parameter %d of type %s cannot be marshalled", i, p)
		}
		in[i] = t
	}
	var out []reflect.Type
	if !m.Sig.Return.IsVoid() {
		t, ok := marshalType(m.Sig.Return)
		if !ok {
			return nil, errorf(m, diag.N0003, "return type %s cannot be marshalled", m.Sig.Return)
		}
		out = []reflect.Type{t}
	}

	fptr := reflect.New(reflect.FuncOf(in, out, false))
	if err := registerFunc(fptr.Interface(), addr); err != nil {
		return nil, errorf(m, diag.N0003, "%s: %v", symbol, err)
	}
	fn := fptr.Elem()

	return func(c *Call) (jit.Slot, error) {
		args := make([]reflect.Value, len(in))
		for i, t := range in {
			v, err := toNative(c, i, t)
			if err != nil {
				return jit.Slot{}, err
			}
			args[i] = v
		}
		res := fn.Call(args)
		if len(res) == 0 {
			return jit.Slot{}, nil
		}
		return fromNative(c, res[0])
	}, nil
}

// registerFunc purego 对不支持的签名直接 panic
func registerFunc(fptr any, addr uintptr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	purego.RegisterFunc(fptr, addr)
	return nil
}

// marshalType 托管类型对应的 Go 类型
func marshalType(t *meta.Type) (reflect.Type, bool) {
	switch t.Kind {
	case meta.ElemBoolean:
		return reflect.TypeOf(false), true
	case meta.ElemChar, meta.ElemU2:
		return reflect.TypeOf(uint16(0)), true
	case meta.ElemI1:
		return reflect.TypeOf(int8(0)), true
	case meta.ElemU1:
		return reflect.TypeOf(uint8(0)), true
	case meta.ElemI2:
		return reflect.TypeOf(int16(0)), true
	case meta.ElemI4:
		return reflect.TypeOf(int32(0)), true
	case meta.ElemU4:
		return reflect.TypeOf(uint32(0)), true
	case meta.ElemI8:
		return reflect.TypeOf(int64(0)), true
	case meta.ElemU8:
		return reflect.TypeOf(uint64(0)), true
	case meta.ElemR4:
		return reflect.TypeOf(float32(0)), true
	case meta.ElemR8:
		return reflect.TypeOf(float64(0)), true
	case meta.ElemI:
		return reflect.TypeOf(int(0)), true
	case meta.ElemU:
		return reflect.TypeOf(uintptr(0)), true
	case meta.ElemString:
		return reflect.TypeOf(""), true
	}
	return nil, false
}

func toNative(c *Call, i int, t reflect.Type) (reflect.Value, error) {
	a := c.Args[i]
	switch t.Kind() {
	case reflect.Bool:
		return reflect.ValueOf(a.I != 0), nil
	case reflect.Float32, reflect.Float64:
		return reflect.ValueOf(a.F).Convert(t), nil
	case reflect.String:
		s, err := stringArg(c, i)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(s), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return reflect.ValueOf(uint64(a.I)).Convert(t), nil
	}
	return reflect.ValueOf(a.I).Convert(t), nil
}

func fromNative(c *Call, v reflect.Value) (jit.Slot, error) {
	switch v.Kind() {
	case reflect.Bool:
		return boolSlot(v.Bool()), nil
	case reflect.Float32, reflect.Float64:
		return jit.Slot{F: v.Float()}, nil
	case reflect.String:
		return c.ReturnString(v.String())
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return jit.Slot{I: int64(v.Uint())}, nil
	}
	return jit.Slot{I: v.Int()}, nil
}
