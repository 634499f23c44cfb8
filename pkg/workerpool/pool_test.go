package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMapPreservesInputOrder(t *testing.T) {
	p := New(4)
	defer p.Close()

	in := []int{5, 3, 8, 1, 9, 2}
	out := Map(p, in, func(v int) int {
		time.Sleep(time.Duration(v) * time.Millisecond)
		return v * 10
	})

	assert.Equal(t, []int{50, 30, 80, 10, 90, 20}, out)
}

func TestParallelismIsBounded(t *testing.T) {
	p := New(2)
	defer p.Close()

	var current, peak atomic.Int32
	Map(p, make([]int, 10), func(int) int {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return 0
	})

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPanickingTaskDoesNotShrinkPool(t *testing.T) {
	p := New(1)
	defer p.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	p.Submit(func() {
		defer wg.Done()
		panic("task failure")
	})
	wg.Wait()

	// The pool must still execute subsequent tasks.
	done := make(chan struct{})
	assert.True(t, p.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool stopped processing after panic")
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	p := New(1)
	p.Close()
	assert.False(t, p.Submit(func() {}))
}
