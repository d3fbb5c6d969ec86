// optimizer.go - 发布前的 IR 整理
//
// 优化级别：
//   O0: 不优化，指令与构建时一一对应（用于调试）
//   O1: 跳转串联 - 目标是无条件跳转的跳转直接指向最终目标；跳到下一条的跳转删除
//   O2: 增加常量条件分支折叠
//
// 只改写发布用的指令副本，标签和值不变，因此不影响按 IL 偏移映射故障。

package jit

// ============================================================================
// 优化器
// ============================================================================

// optimizer 作用于一个闭包的指令序列
type optimizer struct {
	level int
	insns []IRInst

	threaded int
	folded   int
	removed  int
}

func newOptimizer(level int, insns []IRInst) *optimizer {
	if level < 0 {
		level = 0
	}
	if level > 2 {
		level = 2
	}
	return &optimizer{level: level, insns: insns}
}

// run 按级别执行各遍，返回是否有改动
func (o *optimizer) run() bool {
	if o.level == 0 {
		return false
	}
	if o.level >= 2 {
		o.foldConstantBranches()
	}
	o.threadJumps()
	o.removeFallthroughJumps()
	return o.threaded+o.folded+o.removed > 0
}

// finalTarget 沿无条件跳转链找到最终目标；链长以指令数为上限，死循环保持原样
func (o *optimizer) finalTarget(l *Label) *Label {
	seen := 0
	for l != nil && seen < len(o.insns) {
		pos := l.pos
		for pos < len(o.insns) && o.insns[pos].Op == IR_NOP {
			pos++
		}
		if pos >= len(o.insns) || o.insns[pos].Op != IR_BR {
			return l
		}
		next := o.insns[pos].Target
		if next == l || next.pos == l.pos {
			return l
		}
		l = next
		seen++
	}
	return l
}

func (o *optimizer) threadJumps() {
	for i := range o.insns {
		in := &o.insns[i]
		switch in.Op {
		case IR_BR, IR_BR_TRUE, IR_BR_FALSE:
			if t := o.finalTarget(in.Target); t != in.Target {
				in.Target = t
				o.threaded++
			}
		case IR_JUMP_TABLE:
			var targets []*Label
			for k, l := range in.Targets {
				t := o.finalTarget(l)
				if t == l {
					continue
				}
				if targets == nil {
					targets = append([]*Label(nil), in.Targets...)
				}
				targets[k] = t
				o.threaded++
			}
			if targets != nil {
				in.Targets = targets
			}
		}
	}
}

// foldConstantBranches 条件为常量的分支改为无条件跳转或空指令
func (o *optimizer) foldConstantBranches() {
	for i := range o.insns {
		in := &o.insns[i]
		if in.Op != IR_BR_TRUE && in.Op != IR_BR_FALSE {
			continue
		}
		c := in.Args[0]
		if !c.IsConstant() {
			continue
		}
		taken := !isZero(c.Constant(), c.Type())
		if in.Op == IR_BR_FALSE {
			taken = !taken
		}
		if taken {
			*in = IRInst{Op: IR_BR, Target: in.Target, IL: in.IL}
		} else {
			*in = IRInst{Op: IR_NOP, IL: in.IL}
		}
		o.folded++
	}
}

// removeFallthroughJumps 跳到紧随其后位置的无条件跳转改为空指令
func (o *optimizer) removeFallthroughJumps() {
	for i := range o.insns {
		in := &o.insns[i]
		if in.Op != IR_BR {
			continue
		}
		pos := i + 1
		for pos < len(o.insns) && pos < in.Target.pos && o.insns[pos].Op == IR_NOP {
			pos++
		}
		if in.Target.pos == pos {
			*in = IRInst{Op: IR_NOP, IL: in.IL}
			o.removed++
		}
	}
}
