package capture

import (
	"slices"
	"testing"
)

func TestRing(t *testing.T) {
	r := newRing[int](3)
	if got := r.snapshot(); len(got) != 0 {
		t.Errorf("empty snapshot = %v", got)
	}
	r.push(1)
	r.push(2)
	if got := r.snapshot(); !slices.Equal(got, []int{1, 2}) {
		t.Errorf("got %v", got)
	}
	r.push(3)
	r.push(4)
	r.push(5)
	if got := r.snapshot(); !slices.Equal(got, []int{3, 4, 5}) {
		t.Errorf("got %v", got)
	}
	if r.len() != 3 {
		t.Errorf("len = %d", r.len())
	}
}
