// executor.go - 已编译函数的执行
//
// 执行器逐条解释闭包中的指令：
// 1. 每次调用分配一个帧，寄存器按值下标排列
// 2. 指令产生的异常（故障、本地函数抛出、被调函数未处理的异常）
//    记录为帧的当前异常后跳到函数的分派入口
// 3. 没有分派入口或分派代码执行 IR_RETHROW 时，异常以 *Thrown 离开函数

package jit

import (
	"errors"
	"fmt"
)

const maxAlloca = 1 << 20

// frame 一次调用的执行状态
type frame struct {
	fn      *Function
	cl      *closure
	regs    []Slot
	finally []int // CALL_FINALLY 的返回位置
	exc     any
	excIL   int
	depth   int
}

// Apply 调用函数；未编译的函数先按需编译
func (f *Function) Apply(args ...Slot) (Slot, error) {
	return f.call(args, 0)
}

func (f *Function) call(args []Slot, depth int) (Slot, error) {
	cl, err := f.ensureCompiled()
	if err != nil {
		return Slot{}, &Fault{Kind: FaultInvalidProgram, IL: -1, Err: err}
	}
	if len(args) != len(f.params) {
		return Slot{}, fmt.Errorf("%w: %s wants %d, got %d", ErrArgCount, f.name, len(f.params), len(args))
	}
	if depth > f.ctx.MaxCallDepth {
		return Slot{}, newFault(FaultStackOverflow, "call depth exceeds %d in %s", f.ctx.MaxCallDepth, f.name)
	}
	f.ctx.stats.calls.Inc()

	fr := &frame{fn: f, cl: cl, regs: make([]Slot, cl.nregs), excIL: -1, depth: depth}
	for _, c := range cl.consts {
		fr.regs[c.index] = c.value
	}
	for _, a := range cl.aggs {
		fr.regs[a.index] = Slot{Agg: NewBlock(a.size)}
	}
	for i, p := range f.params {
		fr.regs[p.index] = normalize(args[i], p.typ)
	}
	return fr.run()
}

func (fr *frame) get(v *Value) Slot { return fr.regs[v.index] }

func (fr *frame) set(v *Value, s Slot) { fr.regs[v.index] = s }

// raise 把指令错误转为帧的当前异常；返回值为 nil 时继续在分派入口执行
func (fr *frame) raise(err error, il int) error {
	ctx := fr.fn.ctx
	var exc any
	var thrown *Thrown
	var fault *Fault
	switch {
	case errors.As(err, &thrown):
		exc = thrown.Value
	case errors.As(err, &fault):
		if fault.IL < 0 {
			fault.IL = il
		}
		if fault.Kind == FaultStackOverflow || fault.declined {
			return fault
		}
		exc = ctx.mapFault(fault)
		if exc == nil {
			fault.declined = true
			return fault
		}
	default:
		return err
	}
	if fr.cl.catcher < 0 {
		return &Thrown{Value: exc}
	}
	fr.exc = exc
	fr.excIL = il
	fr.finally = fr.finally[:0]
	return nil
}

func (fr *frame) run() (Slot, error) {
	ctx := fr.fn.ctx
	insns := fr.cl.insns
	pc := 0
	for {
		in := &insns[pc]
		next := pc + 1
		var err error

		switch in.Op {
		case IR_NOP, IR_MARK:

		case IR_COPY:
			var s Slot
			s, err = ctx.convert(fr.get(in.Args[0]), in.Args[0].typ, in.Type, false)
			if err == nil {
				fr.set(in.Dest, s)
			}

		case IR_ADD, IR_SUB, IR_MUL, IR_DIV, IR_REM, IR_ADD_OVF, IR_SUB_OVF, IR_MUL_OVF,
			IR_AND, IR_OR, IR_XOR, IR_SHL, IR_SHR:
			a, b := in.Args[0], in.Args[1]
			var s Slot
			s, err = ctx.arith(in.Op, fr.get(a), fr.get(b), a.typ, b.typ, in.Type)
			if err == nil {
				fr.set(in.Dest, s)
			}

		case IR_EQ, IR_NE, IR_LT, IR_LE, IR_GT, IR_GE, IR_LT_UN, IR_LE_UN, IR_GT_UN, IR_GE_UN:
			a, b := in.Args[0], in.Args[1]
			var s Slot
			s, err = ctx.compare(in.Op, fr.get(a), fr.get(b), a.typ, b.typ)
			if err == nil {
				fr.set(in.Dest, s)
			}

		case IR_NEG, IR_NOT, IR_CKFINITE:
			var s Slot
			s, err = unaryArith(in.Op, fr.get(in.Args[0]), in.Type)
			if err == nil {
				fr.set(in.Dest, s)
			}

		case IR_CONVERT, IR_CONVERT_OVF:
			var s Slot
			s, err = ctx.convert(fr.get(in.Args[0]), in.Args[0].typ, in.Type, in.Op == IR_CONVERT_OVF)
			if err == nil {
				fr.set(in.Dest, s)
			}

		case IR_PTR_TO_INT:
			a := in.Args[0]
			var p Pointer
			if a.typ.kind == KindRef {
				if fr.get(a).Ref != nil {
					p, err = pointerOf(fr.get(a), a.typ)
				}
			} else {
				p = fr.get(a).Ptr
			}
			if err == nil {
				fr.set(in.Dest, Slot{I: ctx.addrs.toInt(p)})
			}

		case IR_INT_TO_PTR:
			fr.set(in.Dest, Slot{Ptr: ctx.addrs.toPointer(fr.get(in.Args[0]).I)})

		case IR_BR:
			next = in.Target.pos

		case IR_BR_TRUE, IR_BR_FALSE:
			a := in.Args[0]
			if isZero(fr.get(a), a.typ) == (in.Op == IR_BR_FALSE) {
				next = in.Target.pos
			}

		case IR_JUMP_TABLE:
			idx := uint64(fr.get(in.Args[0]).I) & mask(in.Args[0].typ)
			if idx < uint64(len(in.Targets)) {
				next = in.Targets[idx].pos
			}

		case IR_LOAD:
			base := in.Args[0]
			var p Pointer
			p, err = pointerOf(fr.get(base), base.typ)
			if err == nil {
				var s Slot
				s, err = p.Add(int64(in.Offset)).Load(in.Type)
				if err == nil {
					fr.set(in.Dest, s)
				}
			}

		case IR_STORE:
			base := in.Args[0]
			var p Pointer
			p, err = pointerOf(fr.get(base), base.typ)
			if err == nil {
				err = p.Add(int64(in.Offset)).Store(in.Type, fr.get(in.Args[1]))
			}

		case IR_ADDRESS_OF:
			a := in.Args[0]
			if a.typ.kind == KindRef {
				var p Pointer
				p, err = pointerOf(fr.get(a), a.typ)
				if err == nil {
					fr.set(in.Dest, Slot{Ptr: p})
				}
				break
			}
			fr.set(in.Dest, Slot{Ptr: Pointer{Cell: &fr.regs[a.index]}})

		case IR_VAR_ADDRESS:
			fr.set(in.Dest, Slot{Ptr: Pointer{Cell: &fr.regs[in.Args[0].index]}})

		case IR_ALLOCA:
			n := fr.get(in.Args[0]).I
			if n < 0 || n > maxAlloca {
				err = newFault(FaultOutOfMemory, "cannot allocate %d bytes in frame", n)
				break
			}
			fr.set(in.Dest, Slot{Ptr: Pointer{Block: NewBlock(int(n))}})

		case IR_MEMCPY:
			err = fr.memcpy(in)

		case IR_MEMSET:
			err = fr.memset(in)

		case IR_CALL:
			err = fr.invoke(in, in.Callee, in.Args)

		case IR_CALL_INDIRECT:
			target := fr.get(in.Args[0]).Ref
			switch callee := target.(type) {
			case nil:
				err = newFault(FaultNullReference, "indirect call through null")
			case *Function:
				err = fr.invoke(in, callee, in.Args[1:])
			case *Native:
				err = fr.invokeNative(in, callee, in.Args[1:])
			default:
				err = newFault(FaultInvalidProgram, "indirect call target %T", target)
			}

		case IR_CALL_NATIVE:
			err = fr.invokeNative(in, in.Native, in.Args)

		case IR_RETURN:
			if len(in.Args) == 0 {
				return Slot{}, nil
			}
			a := in.Args[0]
			var s Slot
			s, err = ctx.convert(fr.get(a), a.typ, fr.fn.sig.Return, false)
			if err == nil {
				return s, nil
			}

		case IR_THROW:
			exc := fr.get(in.Args[0]).Ref
			if exc == nil {
				err = newFault(FaultNullReference, "throw of null")
				break
			}
			ctx.stats.thrown.Inc()
			err = &Thrown{Value: exc}

		case IR_RETHROW:
			return Slot{}, &Thrown{Value: fr.exc}

		case IR_THROWN:
			fr.set(in.Dest, Slot{Ref: fr.exc})

		case IR_THROW_PC:
			fr.set(in.Dest, Slot{I: int64(fr.excIL)})

		case IR_CALL_FINALLY:
			fr.finally = append(fr.finally, pc+1)
			next = in.Target.pos

		case IR_RETURN_FROM_FINALLY:
			n := len(fr.finally)
			if n == 0 {
				err = newFault(FaultInvalidProgram, "return from finally without a call")
				break
			}
			next = fr.finally[n-1]
			fr.finally = fr.finally[:n-1]

		default:
			err = newFault(FaultInvalidProgram, "unknown instruction %s", in.Op)
		}

		if err != nil {
			if out := fr.raise(err, in.IL); out != nil {
				return Slot{}, out
			}
			next = fr.cl.catcher
		}
		pc = next
	}
}

func (fr *frame) args(vs []*Value) []Slot {
	out := make([]Slot, len(vs))
	for i, v := range vs {
		out[i] = fr.get(v)
	}
	return out
}

func (fr *frame) invoke(in *IRInst, callee *Function, vs []*Value) error {
	r, err := callee.call(fr.args(vs), fr.depth+1)
	if err != nil {
		return err
	}
	if in.Dest != nil {
		fr.set(in.Dest, normalize(r, in.Dest.typ))
	}
	return nil
}

func (fr *frame) invokeNative(in *IRInst, n *Native, vs []*Value) error {
	r, err := n.Invoke(fr.args(vs)...)
	if err != nil {
		return err
	}
	if in.Dest != nil {
		fr.set(in.Dest, normalize(r, in.Dest.typ))
	}
	return nil
}

func (fr *frame) memcpy(in *IRInst) error {
	dst, err := pointerOf(fr.get(in.Args[0]), in.Args[0].typ)
	if err != nil {
		return err
	}
	src, err := pointerOf(fr.get(in.Args[1]), in.Args[1].typ)
	if err != nil {
		return err
	}
	n := int(fr.get(in.Args[2]).I)
	db, doff, err := dst.region()
	if err != nil {
		return err
	}
	sb, soff, err := src.region()
	if err != nil {
		return err
	}
	return db.CopyFrom(doff, sb, soff, n)
}

func (fr *frame) memset(in *IRInst) error {
	dst, err := pointerOf(fr.get(in.Args[0]), in.Args[0].typ)
	if err != nil {
		return err
	}
	b, off, err := dst.region()
	if err != nil {
		return err
	}
	return b.Fill(off, int(fr.get(in.Args[2]).I), byte(fr.get(in.Args[1]).I))
}
