package controller

import (
	"context"
	"sync"
)

// pipeline paces one stream's OnChunk delivery through the chunker. The
// registry always holds the authoritative content; the pipeline only shapes
// how fast the UI sees it.
type pipeline struct {
	mu     sync.Mutex
	in     chan string
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

func (c *Controller) newPipeline(parent context.Context, streamID string) *pipeline {
	ctx, cancel := context.WithCancel(parent)
	p := &pipeline{
		in:     make(chan string, 64),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	out := c.chunker.Run(ctx, p.in)
	go func() {
		defer close(p.done)
		for text := range out {
			if c.cb.OnChunk != nil {
				c.cb.OnChunk(streamID, text)
			}
		}
	}()
	return p
}

// append queues text for paced delivery. Appends racing a concurrent
// finalize are dropped from UI delivery; the registry applied them first, so
// no content is lost from the message itself.
func (p *pipeline) append(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.in <- text:
	case <-p.ctx.Done():
	}
}

// flush stops accepting appends, lets the chunker drain, and waits until the
// last chunk was delivered. Safe to call more than once.
func (p *pipeline) flush() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.in)
	}
	p.mu.Unlock()
	<-p.done
}

// abort drops everything still queued. Used on cancellation and before a
// wholesale content replace, where pending increments belong to superseded
// text.
func (p *pipeline) abort() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.cancel()
	}
	p.mu.Unlock()
	<-p.done
}

// deliverAppend routes an applied delta into the stream's pacing pipeline.
func (c *Controller) deliverAppend(streamID, text string) {
	c.mu.Lock()
	st, ok := c.streams[streamID]
	c.mu.Unlock()
	if !ok {
		return
	}
	st.pipe.append(text)
}

// deliverReplace drops any queued increments of the superseded content,
// hands the full replacement text to the UI in one piece, and restarts the
// pacing pipeline for subsequent deltas.
func (c *Controller) deliverReplace(streamID, text string) {
	c.mu.Lock()
	st, ok := c.streams[streamID]
	if !ok {
		c.mu.Unlock()
		return
	}
	old := st.pipe
	c.mu.Unlock()

	old.abort()
	if c.cb.OnChunk != nil {
		c.cb.OnChunk(streamID, text)
	}

	c.mu.Lock()
	if st, ok := c.streams[streamID]; ok {
		st.pipe = c.newPipeline(st.ctx, streamID)
	}
	c.mu.Unlock()
}
