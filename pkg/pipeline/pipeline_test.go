package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intSeq(n int) func(yield func(int) bool) {
	return func(yield func(int) bool) {
		for i := 0; i < n; i++ {
			if !yield(i) {
				return
			}
		}
	}
}

// TestRunYieldsExactlyOneResultPerInput is the executor's core invariant:
// regardless of worker count, every input produces exactly one output.
func TestRunYieldsExactlyOneResultPerInput(t *testing.T) {
	t.Parallel()

	const n = 37
	for _, workers := range []int{1, 2, 5, 16} {
		workers := workers
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()

			seen := make(map[int]bool)
			count := 0
			for v, err := range Run(context.Background(), intSeq(n), workers, func(_ context.Context, i int) (int, error) {
				return i * i, nil
			}) {
				assert.NoError(t, err)
				seen[v] = true
				count++
			}
			assert.Equal(t, n, count)
			for i := 0; i < n; i++ {
				assert.True(t, seen[i*i], "missing result for input %d", i)
			}
		})
	}
}

// TestRunCompletionOrderNotInputOrder shows results can arrive out of
// input order: a deliberately-slow first item must not block faster later
// items from being yielded first.
func TestRunCompletionOrderNotInputOrder(t *testing.T) {
	t.Parallel()

	order := make([]int, 0, 4)
	for v := range Run(context.Background(), intSeq(4), 4, func(_ context.Context, i int) (int, error) {
		if i == 0 {
			time.Sleep(100 * time.Millisecond)
		}
		return i, nil
	}) {
		order = append(order, v)
	}

	sorted := sort.IntsAreSorted(order)
	assert.False(t, sorted, "expected input 0 (slow) to complete after the others, got order %v", order)
	assert.Equal(t, 0, order[len(order)-1], "slow item should complete last")
}

// TestRunPropagatesWorkerErrors ensures a worker's error reaches the
// consumer alongside its (zero-value) result, and the pipeline keeps
// running the other items rather than aborting the batch.
func TestRunPropagatesWorkerErrors(t *testing.T) {
	t.Parallel()

	var errCount, okCount int64
	for _, err := range Run(context.Background(), intSeq(10), 3, func(_ context.Context, i int) (int, error) {
		if i%3 == 0 {
			return 0, fmt.Errorf("item %d failed", i)
		}
		return i, nil
	}) {
		if err != nil {
			atomic.AddInt64(&errCount, 1)
		} else {
			atomic.AddInt64(&okCount, 1)
		}
	}

	assert.Equal(t, int64(4), errCount) // 0, 3, 6, 9
	assert.Equal(t, int64(6), okCount)
}

// TestRunStopsEarlyOnConsumerBreak checks that breaking out of the range
// loop early doesn't hang: in-flight tasks are allowed to finish but the
// iterator itself returns promptly.
func TestRunStopsEarlyOnConsumerBreak(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		count := 0
		for range Run(context.Background(), intSeq(1000), 4, func(_ context.Context, i int) (int, error) {
			return i, nil
		}) {
			count++
			if count == 3 {
				break
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return promptly after early consumer break")
	}
}

// TestRunContextCancellationStopsFeeding confirms a cancelled context
// halts the feeder rather than exhausting an effectively-infinite input.
func TestRunContextCancellationStopsFeeding(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	infinite := func(yield func(int) bool) {
		for i := 0; ; i++ {
			if !yield(i) {
				return
			}
		}
	}

	count := 0
	for range Run(ctx, infinite, 2, func(_ context.Context, i int) (int, error) {
		return i, nil
	}) {
		count++
		if count == 5 {
			cancel()
		}
		if count > 10000 {
			t.Fatal("pipeline did not stop after context cancellation")
		}
	}

	assert.GreaterOrEqual(t, count, 5)
}

// TestRunEmptyInput covers the empty-sequence boundary: zero inputs must
// yield zero results without blocking.
func TestRunEmptyInput(t *testing.T) {
	t.Parallel()

	count := 0
	for range Run(context.Background(), intSeq(0), 4, func(_ context.Context, i int) (int, error) {
		return i, nil
	}) {
		count++
	}
	assert.Equal(t, 0, count)
}

// TestRunDefaultsWorkersToOne covers workers<1 being clamped to a single
// worker rather than panicking or deadlocking.
func TestRunDefaultsWorkersToOne(t *testing.T) {
	t.Parallel()

	count := 0
	for range Run(context.Background(), intSeq(5), 0, func(_ context.Context, i int) (int, error) {
		return i, nil
	}) {
		count++
	}
	assert.Equal(t, 5, count)
}
