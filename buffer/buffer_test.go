package buffer

import (
	"sync"
	"testing"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := NewQueue[int](4)
	for i := 0; i < 100; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) refused", i)
		}
	}
	for i := 0; i < 100; i++ {
		v, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop returned closed at %d", i)
		}
		if v != i {
			t.Fatalf("Pop = %d, want %d", v, i)
		}
	}
}

func TestQueue_GrowsPastInitialCapacity(t *testing.T) {
	q := NewQueue[int](1)
	for i := 0; i < 1000; i++ {
		q.Push(i)
	}
	if q.Len() != 1000 {
		t.Errorf("Len = %d, want 1000", q.Len())
	}
	pushed, popped := q.Stats()
	if pushed != 1000 || popped != 0 {
		t.Errorf("Stats = (%d, %d), want (1000, 0)", pushed, popped)
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue[string](2)

	got := make(chan string, 1)
	go func() {
		v, _ := q.Pop()
		got <- v
	}()

	q.Push("hello")
	if v := <-got; v != "hello" {
		t.Errorf("Pop = %q, want hello", v)
	}
}

func TestQueue_CloseDrainsThenReportsClosed(t *testing.T) {
	q := NewQueue[int](4)
	q.Push(1)
	q.Push(2)
	q.Close()

	if ok := q.Push(3); ok {
		t.Error("Push accepted after Close")
	}

	for want := 1; want <= 2; want++ {
		v, ok := q.Pop()
		if !ok || v != want {
			t.Fatalf("Pop = (%d, %v), want (%d, true)", v, ok, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop reported open after drain of closed queue")
	}
}

func TestQueue_ConcurrentProducersSingleConsumer(t *testing.T) {
	q := NewQueue[int](8)
	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(i)
			}
		}()
	}
	go func() {
		wg.Wait()
		q.Close()
	}()

	count := 0
	for {
		if _, ok := q.Pop(); !ok {
			break
		}
		count++
	}
	if count != producers*perProducer {
		t.Errorf("popped %d items, want %d", count, producers*perProducer)
	}
}
