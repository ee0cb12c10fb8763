// Package chunker re-batches raw text fragments into UI-friendly increments.
// Small fragments are buffered and merged, oversized ones are split, and a
// fixed delay paces emissions so the UI repaints smoothly instead of
// thrashing on every network read.
package chunker

import (
	"context"
	"time"
)

type Chunker struct {
	minSize int
	maxSize int
	delay   time.Duration
}

// New creates a Chunker. minSize and maxSize are measured in runes so
// multi-byte text is never split mid-character. Values are clamped to sane
// bounds: minSize >= 1, maxSize >= minSize.
func New(minSize, maxSize int, delay time.Duration) *Chunker {
	if minSize < 1 {
		minSize = 1
	}
	if maxSize < minSize {
		maxSize = minSize
	}
	return &Chunker{minSize: minSize, maxSize: maxSize, delay: delay}
}

// Run consumes fragments from in and emits re-batched chunks on the returned
// channel. The concatenation of all emitted chunks equals the concatenation
// of all consumed fragments; nothing is dropped or reordered. The output
// channel closes when in closes (after flushing any buffered remainder) or
// when ctx is cancelled.
func (c *Chunker) Run(ctx context.Context, in <-chan string) <-chan string {
	out := make(chan string)

	go func() {
		defer close(out)

		var pending []rune
		emit := func(text string) bool {
			select {
			case out <- text:
			case <-ctx.Done():
				return false
			}
			if c.delay > 0 {
				select {
				case <-time.After(c.delay):
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				return
			case fragment, ok := <-in:
				if !ok {
					// Flush the remainder even if it is below minSize.
					for len(pending) > 0 {
						n := len(pending)
						if n > c.maxSize {
							n = c.maxSize
						}
						if !emit(string(pending[:n])) {
							return
						}
						pending = pending[n:]
					}
					return
				}
				pending = append(pending, []rune(fragment)...)
				for len(pending) >= c.minSize {
					n := len(pending)
					if n > c.maxSize {
						n = c.maxSize
					}
					if !emit(string(pending[:n])) {
						return
					}
					pending = pending[n:]
				}
			}
		}
	}()

	return out
}
