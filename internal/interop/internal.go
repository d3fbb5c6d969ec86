package interop

import (
	"fmt"
	"hash/fnv"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf16"

	"go.uber.org/zap"

	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/runtime"
)

// ============================================================================
// 内部调用表
// ============================================================================

// internalCall 内部调用表的一项；键为 MethodKey
type internalCall struct {
	key string
	fn  HostFunc
}

func (c internalCall) GetKey() string { return c.key }

func (c internalCall) ComputeSize() uint { return uint(len(c.key)) + 32 }

// Register 注册方法的内部调用实现，key 形如 "System.Math::Abs(int32)"
// 构造函数（.ctor）进入单独的表：实现返回新建的对象而不是初始化 this
func (r *Resolver) Register(key string, fn HostFunc) {
	e := &internalCall{key: key, fn: fn}
	if strings.Contains(key, "::.ctor(") {
		r.ctors.Set(e)
	} else {
		r.methods.Set(e)
	}
}

// Registered 已注册的内部调用键
func (r *Resolver) Registered() []string {
	var keys []string
	for _, e := range r.methods.GetAll() {
		keys = append(keys, e.key)
	}
	for _, e := range r.ctors.GetAll() {
		keys = append(keys, e.key)
	}
	return keys
}

func (r *Resolver) resolveInternal(m *meta.Method) (*Binding, error) {
	key := MethodKey(m)
	table := &r.methods
	if m.IsConstructor() {
		table = &r.ctors
	}
	e := table.Get(key)
	if e == nil {
		return nil, errorf(m, diag.N0004, "no internal call registered for %s", key)
	}
	n, err := r.native(m, "icall:"+key, e.fn)
	if err != nil {
		return nil, err
	}
	return &Binding{Method: m, Kind: KindInternal, Native: n}, nil
}

// ============================================================================
// 参数读取
// ============================================================================

// This 实例方法的 this；为 null 时抛出 NullReferenceException
func (c *Call) This() (any, error) {
	if len(c.Args) == 0 || c.Args[0].Ref == nil {
		return nil, c.Throw(runtime.ExcNullReference, "")
	}
	return c.Args[0].Ref, nil
}

// Throw 抛出系统异常
func (c *Call) Throw(k runtime.ExceptionKind, detail string) error {
	return c.Runtime.Throw(c.Thread, k, detail)
}

// String 第 i 个参数作为字符串；null 为 false
func (c *Call) String(i int) (string, bool) {
	s, ok := c.Args[i].Ref.(*runtime.String)
	if !ok {
		return "", false
	}
	return s.Value, true
}

// Bytes 第 i 个参数作为 byte[]；null 时抛出 NullReferenceException
func (c *Call) Bytes(i int) ([]byte, error) {
	a, ok := c.Args[i].Ref.(*runtime.Array)
	if !ok || a == nil {
		return nil, c.Throw(runtime.ExcNullReference, "")
	}
	b := a.Bytes()
	if b == nil {
		return nil, c.Throw(runtime.ExcInvalidCast, "array is not a byte array")
	}
	return b, nil
}

// ReturnBytes 新建 byte[] 作为返回值
func (c *Call) ReturnBytes(b []byte) (jit.Slot, error) {
	a, err := c.Runtime.NewByteArray(b)
	if err != nil {
		return jit.Slot{}, c.Throw(runtime.ExcOutOfMemory, "")
	}
	return jit.Slot{Ref: a}, nil
}

// ReturnString 新建字符串作为返回值
func (c *Call) ReturnString(s string) (jit.Slot, error) {
	return jit.Slot{Ref: c.Runtime.NewString(s)}, nil
}

func (c *Call) println(s string) (jit.Slot, error) {
	_, err := fmt.Fprintln(c.out, s)
	return jit.Slot{}, err
}

func boolSlot(b bool) jit.Slot {
	if b {
		return jit.Slot{I: 1}
	}
	return jit.Slot{}
}

// ============================================================================
// 内置实现
// ============================================================================

func registerBuiltins(r *Resolver) {
	// System.Object
	r.Register("System.Object::GetHashCode()", objectHashCode)
	r.Register("System.Object::ToString()", func(c *Call) (jit.Slot, error) {
		this, err := c.This()
		if err != nil {
			return jit.Slot{}, err
		}
		return c.ReturnString(displayString(c.Runtime, this))
	})
	r.Register("System.Object::Equals(object)", func(c *Call) (jit.Slot, error) {
		this, err := c.This()
		if err != nil {
			return jit.Slot{}, err
		}
		return boolSlot(objectEquals(this, c.Args[1].Ref)), nil
	})

	// System.String
	r.Register("System.String::.ctor(char,int32)", func(c *Call) (jit.Slot, error) {
		n := c.Args[2].I
		if n < 0 {
			return jit.Slot{}, c.Throw(runtime.ExcOverflow, "negative string length")
		}
		units := make([]uint16, n)
		for i := range units {
			units[i] = uint16(c.Args[1].I)
		}
		return c.ReturnString(runtime.FromUTF16(units))
	})
	r.Register("System.String::get_Length()", func(c *Call) (jit.Slot, error) {
		this, err := c.This()
		if err != nil {
			return jit.Slot{}, err
		}
		return jit.Slot{I: int64(this.(*runtime.String).Len())}, nil
	})
	r.Register("System.String::get_Chars(int32)", func(c *Call) (jit.Slot, error) {
		this, err := c.This()
		if err != nil {
			return jit.Slot{}, err
		}
		ch, ok := this.(*runtime.String).CharAt(int(c.Args[1].I))
		if !ok {
			return jit.Slot{}, c.Throw(runtime.ExcIndexOutOfRange, "")
		}
		return jit.Slot{I: int64(ch)}, nil
	})
	r.Register("System.String::Concat(string,string)", func(c *Call) (jit.Slot, error) {
		a, _ := c.String(0)
		b, _ := c.String(1)
		return c.ReturnString(a + b)
	})
	r.Register("System.String::Equals(string,string)", func(c *Call) (jit.Slot, error) {
		a, aok := c.String(0)
		b, bok := c.String(1)
		return boolSlot(aok == bok && a == b), nil
	})

	// System.Console
	r.Register("System.Console::WriteLine()", func(c *Call) (jit.Slot, error) { return c.println("") })
	r.Register("System.Console::WriteLine(string)", func(c *Call) (jit.Slot, error) {
		s, _ := c.String(0)
		return c.println(s)
	})
	r.Register("System.Console::WriteLine(int32)", func(c *Call) (jit.Slot, error) {
		return c.println(strconv.FormatInt(c.Args[0].I, 10))
	})
	r.Register("System.Console::WriteLine(int64)", func(c *Call) (jit.Slot, error) {
		return c.println(strconv.FormatInt(c.Args[0].I, 10))
	})
	r.Register("System.Console::WriteLine(float64)", func(c *Call) (jit.Slot, error) {
		return c.println(formatFloat(c.Args[0].F))
	})
	r.Register("System.Console::WriteLine(bool)", func(c *Call) (jit.Slot, error) {
		if c.Args[0].I != 0 {
			return c.println("True")
		}
		return c.println("False")
	})
	r.Register("System.Console::WriteLine(char)", func(c *Call) (jit.Slot, error) {
		return c.println(string(utf16.Decode([]uint16{uint16(c.Args[0].I)})))
	})
	r.Register("System.Console::WriteLine(object)", func(c *Call) (jit.Slot, error) {
		if c.Args[0].Ref == nil {
			return c.println("")
		}
		return c.println(displayString(c.Runtime, c.Args[0].Ref))
	})
	r.Register("System.Console::Write(string)", func(c *Call) (jit.Slot, error) {
		s, _ := c.String(0)
		_, err := fmt.Fprint(c.out, s)
		return jit.Slot{}, err
	})

	// System.Math
	r.Register("System.Math::Sqrt(float64)", func(c *Call) (jit.Slot, error) {
		return jit.Slot{F: math.Sqrt(c.Args[0].F)}, nil
	})
	r.Register("System.Math::Pow(float64,float64)", func(c *Call) (jit.Slot, error) {
		return jit.Slot{F: math.Pow(c.Args[0].F, c.Args[1].F)}, nil
	})
	r.Register("System.Math::Abs(int32)", func(c *Call) (jit.Slot, error) {
		v := int32(c.Args[0].I)
		if v == math.MinInt32 {
			return jit.Slot{}, c.Throw(runtime.ExcOverflow, "Negating the minimum value of a twos complement number is invalid.")
		}
		if v < 0 {
			v = -v
		}
		return jit.Slot{I: int64(v)}, nil
	})
	r.Register("System.Math::Abs(float64)", func(c *Call) (jit.Slot, error) {
		return jit.Slot{F: math.Abs(c.Args[0].F)}, nil
	})

	// System.Convert / System.Text.Encoding
	r.Register("System.Convert::ToHexString(unsigned int8[])", func(c *Call) (jit.Slot, error) {
		b, err := c.Bytes(0)
		if err != nil {
			return jit.Slot{}, err
		}
		return c.ReturnString(strings.ToUpper(fmt.Sprintf("%x", b)))
	})
	r.Register("System.Text.Encoding::GetUTF8Bytes(string)", func(c *Call) (jit.Slot, error) {
		s, ok := c.String(0)
		if !ok {
			return jit.Slot{}, c.Throw(runtime.ExcNullReference, "")
		}
		return c.ReturnBytes([]byte(s))
	})

	r.log.Debug("internal calls registered", zap.Int("methods", len(r.methods.GetAll())), zap.Int("ctors", len(r.ctors.GetAll())))
}

func objectHashCode(c *Call) (jit.Slot, error) {
	this, err := c.This()
	if err != nil {
		return jit.Slot{}, err
	}
	h := fnv.New32a()
	switch v := this.(type) {
	case *runtime.String:
		h.Write([]byte(v.Value))
	default:
		p := reflect.ValueOf(this).Pointer()
		h.Write([]byte(strconv.FormatUint(uint64(p), 16)))
	}
	return jit.Slot{I: int64(int32(h.Sum32()))}, nil
}

func objectEquals(a, b any) bool {
	if sa, ok := a.(*runtime.String); ok {
		sb, ok := b.(*runtime.String)
		return ok && sa.Value == sb.Value
	}
	return a == b
}

// displayString Object.ToString 的宿主实现
func displayString(rt *runtime.Runtime, v any) string {
	switch o := v.(type) {
	case *runtime.String:
		return o.Value
	case *runtime.Object:
		if o.Class.IsPrimitive() {
			return boxedString(o)
		}
		return o.String()
	}
	if c := rt.ClassOf(v); c != nil {
		return c.FullName()
	}
	return fmt.Sprint(v)
}

// boxedString 装箱基元值的文本
func boxedString(o *runtime.Object) string {
	nt := o.Layout.StructType
	if nt == nil {
		return o.Class.FullName()
	}
	s, err := o.Data.Load(0, nt)
	if err != nil {
		return o.Class.FullName()
	}
	switch o.Class.Primitive {
	case meta.ElemBoolean:
		if s.I != 0 {
			return "True"
		}
		return "False"
	case meta.ElemChar:
		return string(utf16.Decode([]uint16{uint16(s.I)}))
	case meta.ElemR4, meta.ElemR8:
		return formatFloat(s.F)
	case meta.ElemU8, meta.ElemU:
		return strconv.FormatUint(uint64(s.I), 10)
	}
	return strconv.FormatInt(s.I, 10)
}

// formatFloat 浮点数的最短往返表示，指数形式与 .NET 一致
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "∞"
	case math.IsInf(f, -1):
		return "-∞"
	}
	return strings.ToUpper(strconv.FormatFloat(f, 'g', -1, 64))
}
