// Package controller owns the lifecycle of streamed responses: it funnels
// normalized events from both transports into the session registry, paces UI
// delivery through the chunker, detects completion, recovers interrupted
// streams, and guards the single exit point that finalizes a message.
package controller

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/parakeetlabs/streamcore/internal/chunker"
	"github.com/parakeetlabs/streamcore/internal/events"
	"github.com/parakeetlabs/streamcore/internal/recovery"
	"github.com/parakeetlabs/streamcore/internal/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle phase of one stream.
type State int

const (
	StateActive State = iota
	StateSuspended
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SourceKind identifies which transport an event channel belongs to, so the
// suppression rule knows which side is secondary.
type SourceKind int

const (
	SourceHTTP SourceKind = iota
	SourceSocket
	SourceContinuation
)

// Source is one transport's normalized event feed for a stream.
type Source struct {
	Kind   SourceKind
	Events <-chan events.Event
}

// Callbacks are the hooks exposed to the UI layer. Any hook may be nil.
type Callbacks struct {
	OnChunk         func(streamID, text string)
	OnFilesAttached func(streamID string, files []events.AttachedFile)
	OnStatus        func(streamID, status string)
	OnDone          func(streamID string)
	OnError         func(streamID string, err error)
}

// HistoryStore fetches finalized message content, used as the fallback when
// a server signals completion before any delta was observed.
type HistoryStore interface {
	MessageContent(ctx context.Context, conversationID, messageID string) (string, error)
}

// RecoveryManager is the durable snapshot and resume surface.
type RecoveryManager interface {
	Persist(ctx context.Context, v session.View) error
	PersistNow(ctx context.Context, v session.View) error
	Clear(ctx context.Context, streamID string) error
	ListRecoverable(ctx context.Context) ([]recovery.Snapshot, error)
	Resume(ctx context.Context, snap recovery.Snapshot) (<-chan events.Event, error)
}

// Config tunes lifecycle ceilings. Zero values take defaults.
type Config struct {
	// SocketTimeout is the hard terminal-event ceiling for sessions served
	// by the base transports.
	SocketTimeout time.Duration
	// ChannelTimeout is the longer ceiling applied once a session is
	// promoted to a dedicated side channel, and for resumed sessions.
	ChannelTimeout time.Duration
	// ResumeLimit bounds concurrent resume attempts during ResumeAll.
	ResumeLimit int
}

type Controller struct {
	registry *session.Registry
	recovery RecoveryManager
	history  HistoryStore
	chunker  *chunker.Chunker
	cb       Callbacks
	cfg      Config

	mu      sync.Mutex
	streams map[string]*streamState
}

type streamState struct {
	state    State
	ctx      context.Context
	cancel   context.CancelFunc
	watchdog *time.Timer
	doneOnce sync.Once
	sources  int
	pipe     *pipeline
}

func New(registry *session.Registry, rec RecoveryManager, hist HistoryStore, ck *chunker.Chunker, cb Callbacks, cfg Config) *Controller {
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = 90 * time.Second
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 3 * time.Minute
	}
	if cfg.ResumeLimit <= 0 {
		cfg.ResumeLimit = 4
	}
	if ck == nil {
		ck = chunker.New(1, 1<<16, 0)
	}
	return &Controller{
		registry: registry,
		recovery: rec,
		history:  hist,
		chunker:  ck,
		cb:       cb,
		cfg:      cfg,
		streams:  make(map[string]*streamState),
	}
}

// Start registers a new stream session and begins consuming the given
// transport sources. The returned stream id keys every later operation.
func (c *Controller) Start(ctx context.Context, mode session.TransportMode, conversationID, messageID string, sources ...Source) (string, error) {
	streamID, err := c.registry.Register(mode, conversationID, messageID)
	if err != nil {
		return "", err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	st := &streamState{
		state:   StateActive,
		ctx:     streamCtx,
		cancel:  cancel,
		sources: len(sources),
	}
	st.pipe = c.newPipeline(streamCtx, streamID)
	st.watchdog = time.AfterFunc(c.cfg.SocketTimeout, func() { c.timeout(streamID) })

	c.mu.Lock()
	c.streams[streamID] = st
	c.mu.Unlock()

	for _, src := range sources {
		go c.pump(streamCtx, streamID, src)
	}

	log.Info().
		Str("stream_id", streamID).
		Str("mode", string(mode)).
		Int("sources", len(sources)).
		Msg("Stream started")
	return streamID, nil
}

// Attach adds a transport source to a running stream.
func (c *Controller) Attach(streamID string, src Source) {
	c.mu.Lock()
	st, ok := c.streams[streamID]
	if !ok || (st.state != StateActive && st.state != StateSuspended) {
		c.mu.Unlock()
		return
	}
	st.sources++
	ctx := st.ctx
	c.mu.Unlock()

	go c.pump(ctx, streamID, src)
}

func (c *Controller) pump(ctx context.Context, streamID string, src Source) {
	for {
		select {
		case <-ctx.Done():
			c.sourceClosed(streamID)
			return
		case ev, ok := <-src.Events:
			if !ok {
				c.sourceClosed(streamID)
				return
			}
			c.handleEvent(ctx, streamID, src.Kind, ev)
		}
	}
}

// handleEvent is the single application point for normalized events. Every
// mutation goes through the registry, which enforces terminal exclusivity;
// events for absent or finalized sessions fall through as no-ops.
func (c *Controller) handleEvent(ctx context.Context, streamID string, kind SourceKind, ev events.Event) {
	switch e := ev.(type) {
	case *events.ContentDelta:
		if c.suppressed(streamID, kind) {
			return
		}
		if c.registry.ApplyDelta(streamID, e.Text) {
			c.persist(ctx, streamID)
			c.deliverAppend(streamID, e.Text)
		}

	case *events.ContentReplace:
		if c.suppressed(streamID, kind) {
			return
		}
		if c.registry.ReplaceContent(streamID, e.Text) {
			c.persist(ctx, streamID)
			c.deliverReplace(streamID, e.Text)
		}

	case *events.ToolCallStarted:
		banner := events.ToolBanner(e.Name)
		if strings.Contains(c.registry.Content(streamID), banner) {
			return
		}
		if c.registry.ApplyDelta(streamID, banner) {
			c.persist(ctx, streamID)
			c.deliverAppend(streamID, banner)
		}

	case *events.FilesAttached:
		// Files, status and terminal signals are never suppressed; only
		// content from the secondary transport is.
		if added := c.registry.AddFiles(streamID, e.Files); len(added) > 0 {
			c.onFiles(streamID, added)
		}

	case *events.StatusUpdate:
		if _, ok := c.registry.Get(streamID); ok {
			c.onStatus(streamID, e.Status)
		}

	case *events.ChannelSwitch:
		// The server will push the rest of this response exclusively over
		// the named channel: socket becomes primary, HTTP content is muted,
		// and the session earns the longer ceiling.
		c.registry.SuppressSecondary(streamID)
		c.mu.Lock()
		if st, ok := c.streams[streamID]; ok && st.watchdog != nil {
			st.watchdog.Reset(c.cfg.ChannelTimeout)
		}
		c.mu.Unlock()
		log.Info().Str("stream_id", streamID).Str("channel", e.Channel).Msg("Session switched to socket-primary")

	case *events.Done:
		c.finalizeDone(ctx, streamID)

	case *events.Error:
		if _, ok := c.registry.Get(streamID); !ok {
			return
		}
		if e.Message != "" && c.registry.ApplyDelta(streamID, e.Message) {
			c.deliverAppend(streamID, e.Message)
		}
		c.onError(streamID, events.NewStreamError(events.KindServerReported, e.Message, nil))
		c.complete(streamID, false, true)
	}
}

func (c *Controller) suppressed(streamID string, kind SourceKind) bool {
	if kind != SourceHTTP {
		return false
	}
	v, ok := c.registry.Get(streamID)
	return ok && v.SuppressSecondary
}

func (c *Controller) persist(ctx context.Context, streamID string) {
	if v, ok := c.registry.Get(streamID); ok {
		if err := c.recovery.Persist(ctx, v); err != nil {
			log.Warn().Err(err).Str("stream_id", streamID).Msg("Snapshot persist failed")
		}
	}
}

// finalizeDone handles the Done terminal, including the empty-content
// fallback: some servers signal completion before any delta was observed,
// so the finalized message is fetched from the history store once.
func (c *Controller) finalizeDone(ctx context.Context, streamID string) {
	if v, ok := c.registry.Get(streamID); ok && v.AccumulatedContent == "" && c.history != nil {
		content, err := c.history.MessageContent(ctx, v.ConversationID, v.MessageID)
		if err != nil {
			log.Warn().Err(err).Str("stream_id", streamID).Msg("Completion fallback fetch failed")
		} else if content != "" {
			if c.registry.ReplaceContent(streamID, content) {
				c.deliverReplace(streamID, content)
			}
		}
	}
	c.complete(streamID, true, true)
}

// complete is the single exit point. The registry's Finalize reports whether
// this call won the terminal race; losers return without side effects.
func (c *Controller) complete(streamID string, fireDone, clearSnapshot bool) {
	v, finalized := c.registry.Finalize(streamID)
	if !finalized {
		return
	}
	c.registry.Remove(streamID)

	c.mu.Lock()
	st, ok := c.streams[streamID]
	var pipe *pipeline
	if ok {
		st.state = StateCompleted
		if st.watchdog != nil {
			st.watchdog.Stop()
		}
		pipe = st.pipe
		delete(c.streams, streamID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if clearSnapshot {
		if err := c.recovery.Clear(context.Background(), streamID); err != nil {
			log.Warn().Err(err).Str("stream_id", streamID).Msg("Snapshot clear failed")
		}
	}

	// Flush paced UI delivery before reporting completion.
	pipe.flush()
	if fireDone {
		st.doneOnce.Do(func() { c.onDone(streamID) })
	}
	st.cancel()

	log.Info().
		Str("stream_id", streamID).
		Int("chunks", v.LastChunkIndex).
		Int("content_len", len(v.AccumulatedContent)).
		Msg("Stream completed")
}

// timeout is the watchdog's force-finalize: a safety valve against servers
// that go silent without a terminal event. Accumulated partial content is
// kept and OnDone still fires exactly once.
func (c *Controller) timeout(streamID string) {
	c.mu.Lock()
	st, ok := c.streams[streamID]
	if !ok || st.state == StateCompleted || st.state == StateCancelled {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	log.Warn().Str("stream_id", streamID).Msg("No terminal event within ceiling, force-finalizing")
	c.complete(streamID, true, true)
}

// Cancel is the user abort: both transports are unsubscribed, no recovery is
// attempted, and no completion callback fires.
func (c *Controller) Cancel(streamID string) {
	c.mu.Lock()
	st, ok := c.streams[streamID]
	if !ok || st.state == StateCompleted || st.state == StateCancelled {
		c.mu.Unlock()
		return
	}
	st.state = StateCancelled
	if st.watchdog != nil {
		st.watchdog.Stop()
	}
	delete(c.streams, streamID)
	c.mu.Unlock()

	st.cancel()
	c.registry.Finalize(streamID)
	c.registry.Remove(streamID)
	if err := c.recovery.Clear(context.Background(), streamID); err != nil {
		log.Warn().Err(err).Str("stream_id", streamID).Msg("Snapshot clear failed on cancel")
	}
	log.Info().Str("stream_id", streamID).Msg("Stream cancelled")
}

// sourceClosed runs when a transport's event channel closes. When the last
// source closes without a terminal event the stream was interrupted:
// snapshot it and try to resume.
func (c *Controller) sourceClosed(streamID string) {
	c.mu.Lock()
	st, ok := c.streams[streamID]
	if !ok {
		c.mu.Unlock()
		return
	}
	st.sources--
	if st.sources > 0 || st.state != StateActive {
		c.mu.Unlock()
		return
	}
	st.state = StateSuspended
	ctx := st.ctx
	c.mu.Unlock()

	v, ok := c.registry.Get(streamID)
	if !ok || v.Terminal {
		return
	}
	if err := c.recovery.PersistNow(context.Background(), v); err != nil {
		log.Warn().Err(err).Str("stream_id", streamID).Msg("Suspension snapshot failed")
	}
	log.Warn().Str("stream_id", streamID).Msg("All transports closed without terminal event, attempting resume")
	go c.recoverStream(ctx, streamID, recovery.FromView(v))
}

// recoverStream resumes an interrupted stream in place. Resume failure after
// retries completes the session degraded: partial content is kept and the
// snapshot is retained for the next launch.
func (c *Controller) recoverStream(ctx context.Context, streamID string, snap recovery.Snapshot) {
	stream, err := c.recovery.Resume(ctx, snap)
	if err != nil {
		c.onError(streamID, err)
		c.complete(streamID, false, false)
		return
	}

	c.mu.Lock()
	st, ok := c.streams[streamID]
	if !ok {
		c.mu.Unlock()
		return
	}
	st.state = StateActive
	st.sources++
	if st.watchdog != nil {
		st.watchdog.Reset(c.cfg.ChannelTimeout)
	}
	c.mu.Unlock()

	go c.pump(ctx, streamID, Source{Kind: SourceContinuation, Events: stream})
}

// Suspend snapshots a stream ahead of host-signaled process suspension.
func (c *Controller) Suspend(ctx context.Context, streamID string) error {
	c.mu.Lock()
	st, ok := c.streams[streamID]
	if ok && st.state == StateActive {
		st.state = StateSuspended
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	v, ok := c.registry.Get(streamID)
	if !ok {
		return nil
	}
	return c.recovery.PersistNow(ctx, v)
}

// SuspendAll snapshots every live stream. Called when the host signals the
// process may be paused.
func (c *Controller) SuspendAll(ctx context.Context) {
	for _, v := range c.registry.Views() {
		if err := c.Suspend(ctx, v.StreamID); err != nil {
			log.Warn().Err(err).Str("stream_id", v.StreamID).Msg("SuspendAll snapshot failed")
		}
	}
}

// ResumeAll recovers every resumable snapshot found at startup, bounded by
// ResumeLimit concurrent attempts. Individual failures finalize degraded and
// do not fail the batch.
func (c *Controller) ResumeAll(ctx context.Context) error {
	snaps, err := c.recovery.ListRecoverable(ctx)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return nil
	}
	log.Info().Int("count", len(snaps)).Msg("Resuming interrupted streams")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ResumeLimit)
	for _, snap := range snaps {
		snap := snap
		g.Go(func() error {
			c.resumeSnapshot(gctx, snap)
			return nil
		})
	}
	return g.Wait()
}

func (c *Controller) resumeSnapshot(ctx context.Context, snap recovery.Snapshot) {
	err := c.registry.Restore(snap.StreamID, snap.ConversationID, snap.MessageID,
		snap.Mode, snap.LastChunkIndex, snap.AccumulatedContent)
	if err != nil {
		log.Warn().Err(err).Str("stream_id", snap.StreamID).Msg("Cannot restore session for resume")
		return
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	st := &streamState{
		state:  StateSuspended,
		ctx:    streamCtx,
		cancel: cancel,
	}
	st.pipe = c.newPipeline(streamCtx, snap.StreamID)
	st.watchdog = time.AfterFunc(c.cfg.ChannelTimeout, func() { c.timeout(snap.StreamID) })

	c.mu.Lock()
	c.streams[snap.StreamID] = st
	c.mu.Unlock()

	c.recoverStream(streamCtx, snap.StreamID, snap)
}

// States returns the lifecycle state of every tracked stream, for the debug
// surface.
func (c *Controller) States() map[string]State {
	c.mu.Lock()
	defer c.mu.Unlock()
	states := make(map[string]State, len(c.streams))
	for id, st := range c.streams {
		states[id] = st.state
	}
	return states
}

// State returns one stream's lifecycle state.
func (c *Controller) State(streamID string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.streams[streamID]
	if !ok {
		return 0, false
	}
	return st.state, true
}

func (c *Controller) onFiles(streamID string, files []events.AttachedFile) {
	if c.cb.OnFilesAttached != nil {
		c.cb.OnFilesAttached(streamID, files)
	}
}

func (c *Controller) onStatus(streamID, status string) {
	if c.cb.OnStatus != nil {
		c.cb.OnStatus(streamID, status)
	}
}

func (c *Controller) onDone(streamID string) {
	if c.cb.OnDone != nil {
		c.cb.OnDone(streamID)
	}
}

func (c *Controller) onError(streamID string, err error) {
	if c.cb.OnError != nil {
		c.cb.OnError(streamID, err)
	}
}
