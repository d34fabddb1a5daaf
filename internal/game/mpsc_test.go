package game

import (
	"sync"
	"testing"
)

func TestCommandQueueFIFO(t *testing.T) {
	q := NewCommandQueue[int](5)
	if q.Cap() != 8 {
		t.Fatalf("Cap = %d, want 8 (rounded up)", q.Cap())
	}

	for i := 0; i < 8; i++ {
		if !q.TryPush(i) {
			t.Fatalf("push %d failed", i)
		}
	}
	if q.TryPush(99) {
		t.Error("push into a full queue succeeded")
	}
	if q.Len() != 8 {
		t.Errorf("Len = %d, want 8", q.Len())
	}

	for i := 0; i < 8; i++ {
		v, ok := q.TryPop()
		if !ok || v != i {
			t.Fatalf("pop = %d, %v; want %d", v, ok, i)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("pop from an empty queue succeeded")
	}

	// Wraps around after a full lap
	for lap := 0; lap < 3; lap++ {
		for i := 0; i < 8; i++ {
			q.TryPush(lap*10 + i)
		}
		buf := make([]int, 16)
		if n := q.DrainTo(buf); n != 8 || buf[0] != lap*10 || buf[7] != lap*10+7 {
			t.Fatalf("lap %d: DrainTo = %d %v", lap, n, buf[:n])
		}
	}
}

func TestCommandQueueConcurrentProducers(t *testing.T) {
	const producers = 8
	perProducer := 10_000
	if testing.Short() {
		perProducer = 1000
	}

	q := NewCommandQueue[int](1024)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.TryPush(p*perProducer + i) {
				}
			}
		}(p)
	}

	seen := make([]bool, producers*perProducer)
	lastPerProducer := make([]int, producers)
	for i := range lastPerProducer {
		lastPerProducer[i] = -1
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	received := 0
	for received < producers*perProducer {
		v, ok := q.TryPop()
		if !ok {
			select {
			case <-done:
				// Producers finished; drain whatever is left
				if q.Len() == 0 {
					t.Fatalf("lost items: received %d of %d", received, producers*perProducer)
				}
			default:
			}
			continue
		}
		if seen[v] {
			t.Fatalf("duplicate item %d", v)
		}
		seen[v] = true

		// Items from one producer arrive in push order
		p, i := v/perProducer, v%perProducer
		if i <= lastPerProducer[p] {
			t.Fatalf("producer %d out of order: %d after %d", p, i, lastPerProducer[p])
		}
		lastPerProducer[p] = i
		received++
	}
}
