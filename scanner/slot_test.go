package scanner

import "testing"

func TestSlotDropsOldestWhenFull(t *testing.T) {
	s := newSlot[int]()
	var dropped []int
	s.put(1, func(v int) { dropped = append(dropped, v) })
	s.put(2, func(v int) { dropped = append(dropped, v) })

	if len(dropped) != 1 || dropped[0] != 1 {
		t.Fatalf("dropped = %v, want [1]", dropped)
	}
	v, ok := s.tryTake()
	if !ok || v != 2 {
		t.Fatalf("tryTake() = (%d, %v), want (2, true)", v, ok)
	}
}

func TestSlotTryTakeEmpty(t *testing.T) {
	s := newSlot[int]()
	if _, ok := s.tryTake(); ok {
		t.Fatalf("tryTake() on empty slot returned ok=true")
	}
}

func TestSlotDrain(t *testing.T) {
	s := newSlot[int]()
	s.put(5, nil)
	s.drain()
	if _, ok := s.tryTake(); ok {
		t.Fatalf("tryTake() after drain returned ok=true, want empty")
	}
}

func TestSlotTakeBlocksThenReturns(t *testing.T) {
	s := newSlot[int]()
	done := make(chan int, 1)
	go func() {
		v, ok := s.take()
		if ok {
			done <- v
		}
	}()
	s.put(42, nil)
	if got := <-done; got != 42 {
		t.Fatalf("take() = %d, want 42", got)
	}
}

func TestSlotCloseUnblocksTake(t *testing.T) {
	s := newSlot[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok := s.take()
		done <- ok
	}()
	s.close()
	if ok := <-done; ok {
		t.Fatalf("take() after close returned ok=true, want false")
	}
}
