package ringbuf

import (
	"bytes"
	"testing"
)

func TestEmptyFullInvariant(t *testing.T) {
	b := New(4) // 3 usable slots
	if b.Room() != 3 {
		t.Fatalf("room = %d, want 3", b.Room())
	}
	b.PushSlice([]byte{1, 2, 3})
	if b.Room() != 0 {
		t.Fatalf("room = %d, want 0 when full", b.Room())
	}
	if !b.HasRoom(0) || b.HasRoom(1) {
		t.Fatalf("HasRoom wrong at full")
	}
	if b.Len() != 3 {
		t.Fatalf("len = %d, want 3", b.Len())
	}
}

func TestPushPopWraps(t *testing.T) {
	b := New(4)
	for round := 0; round < 3; round++ {
		b.PushSlice([]byte{1, 2, 3})
		var got []byte
		for !b.Empty() {
			got = append(got, b.Pop())
		}
		if !bytes.Equal(got, []byte{1, 2, 3}) {
			t.Fatalf("round %d: got %v", round, got)
		}
	}
}

func TestPeekContiguousWrap(t *testing.T) {
	b := New(4)
	b.PushSlice([]byte{1, 2, 3})
	b.AdvanceRead(2) // read=2, write=3
	b.Push(4)        // wraps write to 0
	b.Push(5)        // write=1, data len+1 overflow guard: room should be 0 now

	// Contiguous slice from read=2 should be just data[2:4]={3,4}; the
	// wrapped byte 5 is not contiguous with it.
	first := b.PeekContiguous()
	if !bytes.Equal(first, []byte{3, 4}) {
		t.Fatalf("first peek = %v, want [3 4]", first)
	}
	b.AdvanceRead(len(first))
	second := b.PeekContiguous()
	if !bytes.Equal(second, []byte{5}) {
		t.Fatalf("second peek = %v, want [5]", second)
	}
}

func TestPushOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on overflow push")
		}
	}()
	b := New(2)
	b.Push(1)
	b.Push(2) // room is 0, this must panic
}

func TestPopEmptyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on pop of empty buffer")
		}
	}()
	New(4).Pop()
}

func TestClearResetsState(t *testing.T) {
	b := New(4)
	b.PushSlice([]byte{1, 2})
	b.Clear()
	if b.Len() != 0 || !b.Empty() {
		t.Fatalf("clear did not reset state")
	}
	if b.Room() != 3 {
		t.Fatalf("room after clear = %d, want 3", b.Room())
	}
}

func TestCombinedCapacityNeverExceeded(t *testing.T) {
	toDev := New(8)
	toNet := New(8)
	total := toDev.Cap() - 1 + toNet.Cap() - 1
	for i := 0; i < 1000; i++ {
		if toDev.HasRoom(1) {
			toDev.Push(byte(i))
		}
		if toNet.HasRoom(1) {
			toNet.Push(byte(i))
		}
		if toDev.Len()+toNet.Len() > total {
			t.Fatalf("combined length exceeded capacity at iteration %d", i)
		}
		if i%3 == 0 && !toDev.Empty() {
			toDev.Pop()
		}
		if i%5 == 0 && !toNet.Empty() {
			toNet.Pop()
		}
	}
}
