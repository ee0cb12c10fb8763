package recovery

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/parakeetlabs/streamcore/internal/events"
	"github.com/parakeetlabs/streamcore/internal/session"
	"github.com/parakeetlabs/streamcore/pkg/httpext"
	"github.com/parakeetlabs/streamcore/pkg/ratelimit"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second

	// persistWindow/persistMaxWrites bound how often a single stream's
	// snapshot is rewritten; deltas arrive far faster than durability needs.
	persistWindow    = time.Second
	persistMaxWrites = 4
)

// Config tunes the manager. Zero values take defaults.
type Config struct {
	ContinuationURL string
	AuthToken       string
	MaxAttempts     int
	Backoff         time.Duration
	StaleThreshold  time.Duration
	HTTPClient      *http.Client
}

// Manager persists and resumes stream snapshots.
type Manager struct {
	store       Store
	url         string
	token       string
	maxAttempts int
	backoff     time.Duration
	stale       time.Duration
	httpClient  *http.Client
	limiter     *ratelimit.Limiter
	now         func() time.Time
}

func NewManager(store Store, cfg Config) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = session.DefaultStaleThreshold
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Manager{
		store:       store,
		url:         cfg.ContinuationURL,
		token:       cfg.AuthToken,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		stale:       cfg.StaleThreshold,
		httpClient:  cfg.HTTPClient,
		limiter:     ratelimit.NewLimiter(persistWindow, persistMaxWrites),
		now:         time.Now,
	}
}

// Persist writes the session's snapshot to durable storage, rate-limited per
// stream so a fast delta flood does not hammer the store.
func (m *Manager) Persist(ctx context.Context, v session.View) error {
	if !m.limiter.Allow(v.StreamID) {
		return nil
	}
	return m.store.Save(ctx, FromView(v))
}

// PersistNow writes the snapshot unconditionally. Used when the host signals
// imminent suspension and the latest offset must not be lost.
func (m *Manager) PersistNow(ctx context.Context, v session.View) error {
	return m.store.Save(ctx, FromView(v))
}

// Clear deletes the snapshot for a cleanly finalized stream.
func (m *Manager) Clear(ctx context.Context, streamID string) error {
	m.limiter.Reset(streamID)
	return m.store.Delete(ctx, streamID)
}

// ListRecoverable returns all snapshots worth resuming, purging abandoned
// ones as a side effect.
func (m *Manager) ListRecoverable(ctx context.Context) ([]Snapshot, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	recoverable := make([]Snapshot, 0, len(all))
	for _, snap := range all {
		if snap.Stale(m.stale, now) {
			log.Info().
				Str("stream_id", snap.StreamID).
				Time("last_activity", snap.LastActivityAt).
				Msg("Purging abandoned recovery snapshot")
			_ = m.store.Delete(ctx, snap.StreamID)
			continue
		}
		recoverable = append(recoverable, snap)
	}
	return recoverable, nil
}

// continuationRequest asks the server to replay a stream from an offset.
type continuationRequest struct {
	ConversationID     string `json:"conversation_id"`
	MessageID          string `json:"message_id"`
	ContinueFromIndex  int    `json:"continue_from_index"`
	AccumulatedContent string `json:"accumulated_content"`
	Stream             bool   `json:"stream"`
}

// Resume issues a continuation request for the snapshot and returns the
// normalized event stream. Events whose index is at or below the snapshot's
// last applied index are filtered out: that is the de-duplication contract
// for resumption. Up to MaxAttempts requests are made with linear backoff;
// when all fail the snapshot is retained for a later launch and a
// RecoveryExhausted error is returned.
func (m *Manager) Resume(ctx context.Context, snap Snapshot) (<-chan events.Event, error) {
	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := m.backoff * time.Duration(attempt-1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, events.NewStreamError(events.KindTransport, "resume cancelled", ctx.Err())
			}
		}

		stream, err := m.requestContinuation(ctx, snap)
		if err == nil {
			log.Info().
				Str("stream_id", snap.StreamID).
				Int("attempt", attempt).
				Int("continue_from", snap.LastChunkIndex).
				Msg("Stream continuation established")
			return stream, nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Str("stream_id", snap.StreamID).
			Int("attempt", attempt).
			Msg("Stream continuation attempt failed")
	}

	return nil, events.NewStreamError(events.KindRecoveryExhausted,
		fmt.Sprintf("all %d resume attempts failed", m.maxAttempts), lastErr)
}

func (m *Manager) requestContinuation(ctx context.Context, snap Snapshot) (<-chan events.Event, error) {
	body, err := json.Marshal(continuationRequest{
		ConversationID:     snap.ConversationID,
		MessageID:          snap.MessageID,
		ContinueFromIndex:  snap.LastChunkIndex,
		AccumulatedContent: snap.AccumulatedContent,
		Stream:             true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, events.NewStreamError(events.KindTransport, "continuation request failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, events.NewStreamError(events.KindTransport, "continuation rejected", httpext.DecodeError(resp))
	}

	out := make(chan events.Event)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for scanner.Scan() {
			for _, ev := range events.ParseContinuationLine(scanner.Text()) {
				if delta, ok := ev.(*events.ContentDelta); ok &&
					delta.Index >= 0 && delta.Index <= snap.LastChunkIndex {
					// Already applied before the interruption.
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Str("stream_id", snap.StreamID).Msg("Continuation stream read failed")
		}
	}()
	return out, nil
}
