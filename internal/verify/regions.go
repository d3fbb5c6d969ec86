package verify

import (
	"math"

	"github.com/google/btree"

	"github.com/tangzhangming/ilengine/internal/meta"
)

// ============================================================================
// 异常区域索引
// ============================================================================

// RegionKind 区域种类
type RegionKind uint8

const (
	RegionTry     RegionKind = iota // 受保护块
	RegionHandler                   // catch/finally/fault 处理块
	RegionFilter                    // filter 块
)

func (k RegionKind) String() string {
	switch k {
	case RegionTry:
		return "try"
	case RegionHandler:
		return "handler"
	}
	return "filter"
}

// Region 一段 IL 范围 [Start, End)
type Region struct {
	Start  uint32
	End    uint32
	Kind   RegionKind
	Clause *meta.ExceptionClause
	Index  int // 子句在方法体中的下标
}

// Contains 偏移是否在区域内
func (r Region) Contains(off uint32) bool { return off >= r.Start && off < r.End }

// regionLess 起点升序，起点相同时外层在前，完全相同时按子句顺序
func regionLess(a, b Region) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.End != b.End {
		return a.End > b.End
	}
	if a.Index != b.Index {
		return a.Index < b.Index
	}
	return a.Kind < b.Kind
}

// RegionIndex 按起点排序的异常区域，支持查询包含某偏移的最内层区域
type RegionIndex struct {
	tree    *btree.BTreeG[Region]
	clauses []*meta.ExceptionClause
}

// NewRegionIndex 为方法体的异常子句建立索引
func NewRegionIndex(clauses []*meta.ExceptionClause) *RegionIndex {
	idx := &RegionIndex{
		tree:    btree.NewG[Region](8, regionLess),
		clauses: clauses,
	}
	for i, c := range clauses {
		idx.tree.ReplaceOrInsert(Region{Start: c.TryOffset, End: c.TryEnd(), Kind: RegionTry, Clause: c, Index: i})
		idx.tree.ReplaceOrInsert(Region{Start: c.HandlerOffset, End: c.HandlerEnd(), Kind: RegionHandler, Clause: c, Index: i})
		if c.Kind == meta.ClauseFilter {
			idx.tree.ReplaceOrInsert(Region{Start: c.FilterOffset, End: c.HandlerOffset, Kind: RegionFilter, Clause: c, Index: i})
		}
	}
	return idx
}

// Len 区域个数
func (x *RegionIndex) Len() int { return x.tree.Len() }

// Clauses 原始子句
func (x *RegionIndex) Clauses() []*meta.ExceptionClause { return x.clauses }

// Enclosing 包含 off 的指定种类区域，最内层在前
func (x *RegionIndex) Enclosing(off uint32, kind RegionKind) []Region {
	var out []Region
	pivot := Region{Start: off, End: 0, Index: math.MaxInt32, Kind: RegionFilter}
	x.tree.DescendLessOrEqual(pivot, func(r Region) bool {
		if r.Kind == kind && r.Contains(off) {
			out = append(out, r)
		}
		return true
	})
	return out
}

// Innermost 包含 off 的最内层指定种类区域
func (x *RegionIndex) Innermost(off uint32, kind RegionKind) (Region, bool) {
	var found Region
	ok := false
	pivot := Region{Start: off, End: 0, Index: math.MaxInt32, Kind: RegionFilter}
	x.tree.DescendLessOrEqual(pivot, func(r Region) bool {
		if r.Kind == kind && r.Contains(off) {
			found, ok = r, true
			return false
		}
		return true
	})
	return found, ok
}

// All 全部区域，按起点排序
func (x *RegionIndex) All() []Region {
	out := make([]Region, 0, x.tree.Len())
	x.tree.Ascend(func(r Region) bool {
		out = append(out, r)
		return true
	})
	return out
}

// StartsAt 从 off 开始的全部区域
func (x *RegionIndex) StartsAt(off uint32) []Region {
	var out []Region
	x.tree.AscendGreaterOrEqual(Region{Start: off, End: math.MaxUint32}, func(r Region) bool {
		if r.Start != off {
			return false
		}
		out = append(out, r)
		return true
	})
	return out
}

// InHandlerOf 偏移是否在某种子句的处理块内
func (x *RegionIndex) InHandlerOf(off uint32, kinds ...meta.ClauseKind) bool {
	for _, r := range x.Enclosing(off, RegionHandler) {
		for _, k := range kinds {
			if r.Clause.Kind == k {
				return true
			}
		}
	}
	return false
}

// Path 从外到内包含 off 的所有区域（任意种类）
func (x *RegionIndex) Path(off uint32) []Region {
	var out []Region
	x.tree.Ascend(func(r Region) bool {
		if r.Start > off {
			return false
		}
		if r.Contains(off) {
			out = append(out, r)
		}
		return true
	})
	return out
}
