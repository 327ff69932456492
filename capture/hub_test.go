package capture

import (
	"slices"
	"sync"
	"testing"
)

func TestHubDeliversInOrder(t *testing.T) {
	var h Hub[int]
	var a, b []int
	h.Subscribe(func(v int) { a = append(a, v) })
	unsub := h.Subscribe(func(v int) { b = append(b, v) })

	h.Publish(1)
	h.Publish(2)
	unsub()
	unsub() // second call is a no-op
	h.Publish(3)

	if !slices.Equal(a, []int{1, 2, 3}) {
		t.Errorf("a = %v", a)
	}
	if !slices.Equal(b, []int{1, 2}) {
		t.Errorf("b = %v", b)
	}
	if h.Len() != 1 {
		t.Errorf("len = %d", h.Len())
	}
}

// Concurrent publishers never run a subscriber concurrently with itself.
func TestHubSerializesConcurrentPublish(t *testing.T) {
	var h Hub[int]
	inside := 0
	total := 0
	h.Subscribe(func(int) {
		inside++
		if inside != 1 {
			t.Errorf("subscriber entered concurrently")
		}
		total++
		inside--
	})

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				h.Publish(i)
			}
		}()
	}
	wg.Wait()
	if total != 2000 {
		t.Errorf("total = %d", total)
	}
}
