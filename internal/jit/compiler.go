package jit

import (
	"fmt"

	"go.uber.org/zap"
)

// ============================================================================
// 编译与发布
// ============================================================================

// closure 已编译的函数：不可变的指令序列和帧描述
type closure struct {
	insns   []IRInst
	nregs   int
	catcher int            // 分派入口指令下标，-1 表示没有
	aggs    []aggregateReg // 结构体寄存器，帧初始化时分配数据块
	consts  []constReg
}

type aggregateReg struct {
	index int
	size  int
}

type constReg struct {
	index int
	value Slot
}

// Compile 校验函数体并发布；之后函数可以被调用，不能再添加指令
func (f *Function) Compile() error {
	if f.IsCompiled() {
		return nil
	}
	if f.err != nil {
		f.failed(f.err)
		return f.err
	}
	cl, err := f.assemble()
	if err != nil {
		f.err = err
		f.failed(err)
		return err
	}
	f.code.Store(cl)
	f.state.Store(int32(FuncStateCompiled))
	f.ctx.stats.compiled.Inc()
	f.ctx.logger.Debug("function compiled",
		zap.String("function", f.name),
		zap.Int("insns", len(cl.insns)),
		zap.Int("registers", cl.nregs))
	return nil
}

func (f *Function) failed(err error) {
	f.state.Store(int32(FuncStateFailed))
	f.ctx.stats.failed.Inc()
	f.ctx.logger.Debug("function compile failed", zap.String("function", f.name), zap.Error(err))
}

func (f *Function) assemble() (*closure, error) {
	check := func(l *Label) error {
		if l == nil || l.pos < 0 {
			return fmt.Errorf("%w: %s in %s", ErrLabelNotPlaced, l, f.name)
		}
		return nil
	}
	endReachable := len(f.insns) == 0 || !f.insns[len(f.insns)-1].Op.IsTerminator()
	for i := range f.insns {
		in := &f.insns[i]
		if in.Target != nil {
			if err := check(in.Target); err != nil {
				return nil, err
			}
			if in.Target.pos == len(f.insns) {
				endReachable = true
			}
		}
		for _, l := range in.Targets {
			if err := check(l); err != nil {
				return nil, err
			}
			if l.pos == len(f.insns) {
				endReachable = true
			}
		}
	}
	catcher := -1
	if f.catcher != nil {
		if err := check(f.catcher); err != nil {
			return nil, err
		}
		catcher = f.catcher.pos
	}

	insns := make([]IRInst, len(f.insns), len(f.insns)+1)
	copy(insns, f.insns)
	if endReachable {
		if f.sig.Return.kind != KindVoid {
			return nil, fmt.Errorf("%w: %s", ErrNoReturn, f.name)
		}
		insns = append(insns, IRInst{Op: IR_RETURN, IL: -1})
	}

	if o := newOptimizer(f.ctx.OptLevel, insns); o.run() {
		f.ctx.logger.Debug("function optimized",
			zap.String("function", f.name),
			zap.Int("threaded", o.threaded),
			zap.Int("folded", o.folded),
			zap.Int("removed", o.removed))
	}

	cl := &closure{insns: insns, nregs: len(f.values), catcher: catcher}
	for _, v := range f.values {
		switch {
		case v.constant:
			cl.consts = append(cl.consts, constReg{v.index, v.konst})
		case v.typ.kind == KindStruct:
			cl.aggs = append(cl.aggs, aggregateReg{v.index, v.typ.size})
		}
	}
	return cl, nil
}

// Prepare 需要时执行按需编译，但不调用函数
func (f *Function) Prepare() error {
	_, err := f.ensureCompiled()
	return err
}

// ensureCompiled 返回已发布的闭包，必要时执行按需编译。
// 同一函数的并发请求串行化，所有调用者看到同一个结果。

func (f *Function) ensureCompiled() (*closure, error) {
	if cl := f.code.Load(); cl != nil {
		return cl, nil
	}
	f.compileMu.Lock()
	defer f.compileMu.Unlock()
	if cl := f.code.Load(); cl != nil {
		return cl, nil
	}
	if f.State() == FuncStateFailed {
		return nil, f.err
	}
	if f.onDemand == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotCompiled, f.name)
	}

	f.state.Store(int32(FuncStateCompiling))
	f.ctx.BuildStart()
	err := f.onDemand(f)
	if err == nil {
		err = f.Compile()
	}
	f.ctx.BuildEnd()
	if err != nil {
		if f.err == nil {
			f.err = err
		}
		if f.State() != FuncStateFailed {
			f.failed(err)
		}
		return nil, f.err
	}
	f.ctx.stats.onDemand.Inc()
	return f.code.Load(), nil
}
