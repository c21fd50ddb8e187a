// Package pipeline implements the bounded worker pool that feeds the
// download engine: it pulls items lazily from an input sequence and fans
// them out to a fixed number of workers, yielding results in completion
// order rather than input order.
package pipeline

import (
	"context"
	"math"
)

// result carries one worker's output value and error to the consumer;
// results reach the output channel in the order the workers finish.
type result[O any] struct {
	value O
	err   error
}

// Run drives f over every value produced by in using workers concurrent
// goroutines, sized per the specification's low-water mark
// (ceil(1.5*workers) tasks kept in flight so workers are never left idle
// waiting on the producer). It returns a function suitable for
// range-over-func iteration; results are yielded in completion order. If
// the consumer stops ranging early, in-flight tasks still run to
// completion but their results are discarded.
func Run[I, O any](ctx context.Context, in func(yield func(I) bool), workers int, f func(context.Context, I) (O, error)) func(yield func(O, error) bool) {
	if workers < 1 {
		workers = 1
	}
	lowWaterMark := int(math.Ceil(1.5 * float64(workers)))

	return func(yield func(O, error) bool) {
		// items is buffered to the low-water mark so the feeder can stay
		// ahead of the workers: with workers busy running f, up to
		// lowWaterMark-workers additional items sit ready, keeping a worker
		// that finishes early from ever blocking on the producer.
		items := make(chan I, lowWaterMark-workers)
		results := make(chan result[O])
		done := make(chan struct{})
		defer close(done)

		// Feeder: pulls from the input sequence and pushes items onto the
		// buffered channel, stopping when the sequence is exhausted or the
		// consumer has stopped ranging.
		go func() {
			defer close(items)
			in(func(i I) bool {
				select {
				case items <- i:
					return true
				case <-done:
					return false
				case <-ctx.Done():
					return false
				}
			})
		}()

		// Fixed worker pool: each worker pulls from items and pushes its
		// result, preserving nothing about input order — only completion
		// order matters downstream.
		workerDone := make(chan struct{})
		for w := 0; w < workers; w++ {
			go func() {
				defer func() { workerDone <- struct{}{} }()
				for {
					select {
					case i, ok := <-items:
						if !ok {
							return
						}
						v, err := f(ctx, i)
						select {
						case results <- result[O]{value: v, err: err}:
						case <-done:
							return
						}
					case <-done:
						return
					}
				}
			}()
		}

		go func() {
			for w := 0; w < workers; w++ {
				<-workerDone
			}
			close(results)
		}()

		for r := range results {
			if !yield(r.value, r.err) {
				return
			}
		}
	}
}
