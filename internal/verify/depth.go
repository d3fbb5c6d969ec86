package verify

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/tangzhangming/ilengine/internal/cil"
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/meta"
)

// ============================================================================
// 栈深度数据流分析
// ============================================================================

// DepthResult 栈深度分析结果
type DepthResult struct {
	MaxDepth int            // 实际最大深度
	Depths   map[uint32]int // 每条可达指令执行前的深度
}

// Reachable 指令是否可达
func (r *DepthResult) Reachable(off uint32) bool {
	_, ok := r.Depths[off]
	return ok
}

// AnalyzeDepth 以工作列表计算方法体每条指令前的栈深度
// 只关心深度，不检查类型；所有问题合并为一个错误返回
func AnalyzeDepth(m *meta.Method) (*DepthResult, error) {
	body := m.Body
	if body == nil {
		return nil, errorf(diag.V0001, "method %s has no IL body", m.FullName())
	}
	code := body.Code
	res := &DepthResult{Depths: make(map[uint32]int)}
	if len(code) == 0 {
		return res, nil
	}
	var mod *meta.Module
	if m.Owner != nil {
		mod = m.Owner.Module
	}

	type workItem struct {
		pos   uint32
		depth int
	}
	worklist := []workItem{{0, 0}}
	for _, cl := range body.Clauses {
		entry := 0
		if cl.Kind == meta.ClauseCatch || cl.Kind == meta.ClauseFilter {
			entry = 1
		}
		worklist = append(worklist, workItem{cl.HandlerOffset, entry})
		if cl.Kind == meta.ClauseFilter {
			worklist = append(worklist, workItem{cl.FilterOffset, 1})
		}
	}

	var errs error
	report := func(off uint32, format string, args ...interface{}) {
		e := errorf(diag.V0006, format, args...)
		e.Offset = int(off)
		e.Method = m.FullName()
		e.Token = m.Token
		errs = multierr.Append(errs, e)
	}

	for len(worklist) > 0 {
		item := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		pos, depth := item.pos, item.depth

		for pos < uint32(len(code)) {
			if seen, ok := res.Depths[pos]; ok {
				if seen != depth {
					report(pos, "stack depth %d and %d meet at IL_%04X", seen, depth, pos)
				}
				break
			}
			res.Depths[pos] = depth

			in, err := cil.Decode(code, pos)
			if err != nil {
				return res, multierr.Append(errs, &Error{Code: diag.V0001, Offset: int(pos), Message: err.Error(), Err: err})
			}
			pop, push, err := stackEffect(&in, m, mod)
			if err != nil {
				errs = multierr.Append(errs, err)
				break
			}
			if pop < 0 {
				// 清空栈
				pop = depth
			}
			if depth < pop {
				e := errorf(diag.V0003, "%s needs %d value(s), depth is %d", in.Op, pop, depth)
				e.Offset = int(pos)
				e.Opcode = in.Op.String()
				errs = multierr.Append(errs, e)
				break
			}
			depth = depth - pop + push
			if depth > res.MaxDepth {
				res.MaxDepth = depth
			}

			switch in.Info().Flow {
			case cil.FlowBranch:
				worklist = append(worklist, workItem{in.Target, depth})
				pos = uint32(len(code))
			case cil.FlowCond:
				if in.Op == cil.OpSwitch {
					for _, t := range in.Targets {
						worklist = append(worklist, workItem{t, depth})
					}
				} else {
					worklist = append(worklist, workItem{in.Target, depth})
				}
				pos = in.Next()
			case cil.FlowReturn, cil.FlowThrow:
				pos = uint32(len(code))
			default:
				pos = in.Next()
			}
		}
	}
	return res, errs
}

// stackEffect 指令出栈和入栈的个数；pop 为 -1 表示清空栈
func stackEffect(in *cil.Instr, m *meta.Method, mod *meta.Module) (pop, push int, err error) {
	switch in.Op {
	case cil.OpNop, cil.OpBreak, cil.OpBr, cil.OpBrS,
		cil.OpUnaligned, cil.OpVolatile, cil.OpTail, cil.OpReadonly, cil.OpConstrained, cil.OpNo:
		return 0, 0, nil

	case cil.OpLdarg0, cil.OpLdarg1, cil.OpLdarg2, cil.OpLdarg3, cil.OpLdargS, cil.OpLdarg,
		cil.OpLdloc0, cil.OpLdloc1, cil.OpLdloc2, cil.OpLdloc3, cil.OpLdlocS, cil.OpLdloc,
		cil.OpLdargaS, cil.OpLdarga, cil.OpLdlocaS, cil.OpLdloca,
		cil.OpLdnull, cil.OpLdcI4M1, cil.OpLdcI40, cil.OpLdcI41, cil.OpLdcI42, cil.OpLdcI43,
		cil.OpLdcI44, cil.OpLdcI45, cil.OpLdcI46, cil.OpLdcI47, cil.OpLdcI48, cil.OpLdcI4S,
		cil.OpLdcI4, cil.OpLdcI8, cil.OpLdcR4, cil.OpLdcR8, cil.OpLdstr,
		cil.OpLdsfld, cil.OpLdsflda, cil.OpLdftn, cil.OpSizeof:
		return 0, 1, nil

	case cil.OpDup:
		return 1, 2, nil

	case cil.OpStloc0, cil.OpStloc1, cil.OpStloc2, cil.OpStloc3, cil.OpStlocS, cil.OpStloc,
		cil.OpStargS, cil.OpStarg, cil.OpPop,
		cil.OpBrtrue, cil.OpBrtrueS, cil.OpBrfalse, cil.OpBrfalseS, cil.OpSwitch,
		cil.OpStsfld, cil.OpInitobj, cil.OpEndfilter:
		return 1, 0, nil

	case cil.OpNeg, cil.OpNot, cil.OpCkfinite,
		cil.OpLdobj, cil.OpBox, cil.OpUnbox, cil.OpUnboxAny, cil.OpCastclass, cil.OpIsinst,
		cil.OpNewarr, cil.OpLdlen, cil.OpLdfld, cil.OpLdflda, cil.OpLdvirtftn, cil.OpLocalloc:
		return 1, 1, nil

	case cil.OpStobj, cil.OpCpobj, cil.OpStfld:
		return 2, 0, nil

	case cil.OpLdelem, cil.OpLdelema:
		return 2, 1, nil

	case cil.OpStelem, cil.OpCpblk, cil.OpInitblk:
		return 3, 0, nil

	case cil.OpThrow:
		return 1, 0, nil
	case cil.OpRethrow:
		return 0, 0, nil
	case cil.OpLeave, cil.OpLeaveS, cil.OpEndfinally:
		return -1, 0, nil

	case cil.OpRet:
		if m.Sig.Return.IsVoid() {
			return 0, 0, nil
		}
		return 1, 0, nil

	case cil.OpCall, cil.OpCallvirt, cil.OpNewobj:
		if mod == nil {
			return 0, 0, errorf(diag.V0300, "method has no owning module")
		}
		callee, rerr := mod.ResolveMethod(in.Token)
		if rerr != nil {
			e := errorf(diag.V0300, "%v", rerr)
			e.Offset = int(in.Offset)
			e.Err = rerr
			return 0, 0, e
		}
		pop = len(callee.Sig.Params)
		if in.Op == cil.OpNewobj {
			return pop, 1, nil
		}
		if callee.Sig.HasThis {
			pop++
		}
		if !callee.Sig.Return.IsVoid() {
			push = 1
		}
		return pop, push, nil
	}

	if _, ok := binOps[in.Op]; ok {
		return 2, 1, nil
	}
	if _, ok := shiftOps[in.Op]; ok {
		return 2, 1, nil
	}
	if _, ok := cmpOps[in.Op]; ok {
		return 2, 1, nil
	}
	if _, ok := branchConds[in.Op]; ok {
		return 2, 0, nil
	}
	if _, ok := convOps[in.Op]; ok {
		return 1, 1, nil
	}
	if _, ok := ldindTypes[in.Op]; ok {
		return 1, 1, nil
	}
	if _, ok := stindTypes[in.Op]; ok {
		return 2, 0, nil
	}
	if _, ok := ldelemTypes[in.Op]; ok {
		return 2, 1, nil
	}
	if _, ok := stelemTypes[in.Op]; ok {
		return 3, 0, nil
	}
	e := errorf(diag.V0500, "%s is not supported", in.Op)
	e.Offset = int(in.Offset)
	e.Opcode = in.Op.String()
	return 0, 0, e
}

// String 调试输出
func (r *DepthResult) String() string {
	return fmt.Sprintf("max depth %d, %d reachable instruction(s)", r.MaxDepth, len(r.Depths))
}
