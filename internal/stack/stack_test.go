package stack

import (
	"errors"
	"fmt"
	"testing"
)

func TestPushPop(t *testing.T) {
	s := New[int](3)
	for i := 1; i <= 3; i++ {
		if err := s.Push(i); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if err := s.Push(4); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}

	top, err := s.Pop(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 || top[0] != 2 || top[1] != 3 {
		t.Errorf("Pop(2) = %v, want [2 3]", top)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	if _, err := s.Pop(2); !errors.Is(err, ErrUnderflow) {
		t.Errorf("expected underflow, got %v", err)
	}
	v, err := s.Pop1()
	if err != nil || v != 1 {
		t.Errorf("Pop1 = %d, %v", v, err)
	}
	if _, err := s.Pop1(); !errors.Is(err, ErrUnderflow) {
		t.Errorf("expected underflow on empty stack, got %v", err)
	}
}

func TestPopReturnsCopy(t *testing.T) {
	s := New[int](-1)
	s.Push(1)
	s.Push(2)
	got, _ := s.Pop(1)
	s.Push(9)
	if got[0] != 2 {
		t.Errorf("popped slice aliased stack storage: %v", got)
	}
}

func TestPeek(t *testing.T) {
	s := New[string](4)
	s.Push("a")
	s.Push("b")
	got, err := s.Peek(2)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != "a" || got[1] != "b" {
		t.Errorf("Peek(2) = %v", got)
	}
	if s.Len() != 2 {
		t.Errorf("Peek changed depth to %d", s.Len())
	}
	if _, err := s.Peek(3); !errors.Is(err, ErrUnderflow) {
		t.Errorf("expected underflow, got %v", err)
	}
	if top, ok := s.Top(); !ok || top != "b" {
		t.Errorf("Top = %q, %v", top, ok)
	}
}

func TestGrowthNeverShrinks(t *testing.T) {
	s := New[int](-1)
	prev := s.Cap()
	for i := 0; i < 100; i++ {
		s.Push(i)
		if s.Cap() < prev {
			t.Fatalf("capacity shrank from %d to %d", prev, s.Cap())
		}
		prev = s.Cap()
	}
	s.Truncate(0)
	if s.Cap() != prev {
		t.Errorf("Truncate changed capacity from %d to %d", prev, s.Cap())
	}
	if prev < 100 {
		t.Errorf("capacity %d smaller than pushed items", prev)
	}
}

func TestLabelMerge(t *testing.T) {
	a := NewArena[int]()
	s := New[int](8)
	s.Push(1)
	s.Push(2)

	l := a.Get(0x10)
	if first, err := l.SaveAt(s); err != nil || !first {
		t.Fatalf("SaveAt = %v, %v", first, err)
	}

	// 同深度，逐项回调
	var seen []string
	err := l.MergeAt(s, func(i int, saved, in int) error {
		seen = append(seen, fmt.Sprintf("%d:%d/%d", i, saved, in))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 {
		t.Errorf("merge visited %v", seen)
	}

	// 深度不同
	s.Push(3)
	if err := l.MergeAt(s, nil); !errors.Is(err, ErrDepthMismatch) {
		t.Errorf("expected depth mismatch, got %v", err)
	}

	// 回调错误原样返回
	s.Truncate(2)
	bad := errors.New("type mismatch")
	if err := l.MergeAt(s, func(int, int, int) error { return bad }); err != bad {
		t.Errorf("expected callback error, got %v", err)
	}
}

func TestLabelRestore(t *testing.T) {
	a := NewArena[int]()
	s := New[int](8)
	l := a.Get(4)
	if err := l.RestoreAt(s); !errors.Is(err, ErrLabelUnsaved) {
		t.Fatalf("expected unsaved error, got %v", err)
	}
	s.Push(7)
	l.SaveAt(s)
	s.Reset()
	s.Push(1)
	s.Push(2)
	if err := l.RestoreAt(s); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 || s.At(0) != 7 {
		t.Errorf("restored stack = %v", s.Items())
	}
}

func TestLabelResolveOnce(t *testing.T) {
	a := NewArena[int]()
	l := a.Get(8)
	if a.Get(8) != l {
		t.Fatal("Get returned a different label for the same address")
	}
	if err := l.Resolve(); err != nil {
		t.Fatal(err)
	}
	if err := l.Resolve(); !errors.Is(err, ErrLabelResolved) {
		t.Errorf("expected resolved twice error, got %v", err)
	}
}

func TestArenaGeneration(t *testing.T) {
	a := NewArena[int]()
	for i := 0; i < labelChunk+5; i++ {
		a.Get(uint32(i))
	}
	if a.Len() != labelChunk+5 {
		t.Fatalf("Len = %d", a.Len())
	}
	old := a.Get(labelChunk + 4)
	gen := a.Generation()
	a.Reset()
	if a.Generation() != gen+1 {
		t.Errorf("generation = %d, want %d", a.Generation(), gen+1)
	}
	if a.Len() != 0 {
		t.Errorf("Len after reset = %d", a.Len())
	}
	if _, err := old.SaveAt(New[int](1)); !errors.Is(err, ErrStaleLabel) {
		t.Errorf("expected stale label error, got %v", err)
	}
	if _, ok := a.Lookup(3); ok {
		t.Error("label survived reset")
	}
}

func TestLabelsSorted(t *testing.T) {
	a := NewArena[int]()
	for _, addr := range []uint32{30, 10, 20} {
		a.Get(addr)
	}
	ls := a.Labels()
	for i := 1; i < len(ls); i++ {
		if ls[i-1].Addr >= ls[i].Addr {
			t.Fatalf("labels not sorted: %d before %d", ls[i-1].Addr, ls[i].Addr)
		}
	}
}
