// Package session tracks one logical stream per in-flight assistant
// response. The Registry is the single mutation point for accumulated
// content: both transports and all timers funnel their effects through it,
// serialized by one mutex.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parakeetlabs/streamcore/internal/events"
	"github.com/rs/zerolog/log"
)

// TransportMode determines which transports feed a session and how duplicate
// content between them is suppressed.
type TransportMode string

const (
	ModeSSEOnly    TransportMode = "sse"
	ModeSocketOnly TransportMode = "socket"
	ModeDual       TransportMode = "dual"
)

// DefaultStaleThreshold is how long a session may sit without activity
// before it is considered orphaned.
const DefaultStaleThreshold = 5 * time.Minute

type stream struct {
	streamID           string
	conversationID     string
	messageID          string
	mode               TransportMode
	lastChunkIndex     int
	accumulatedContent string
	suppressSecondary  bool
	terminal           bool
	files              []events.AttachedFile
	fileSeen           map[string]struct{}
	createdAt          time.Time
	lastActivityAt     time.Time
}

// View is a read-only copy of a session's state, safe to hand to recovery
// and debug consumers.
type View struct {
	StreamID           string                `json:"stream_id"`
	ConversationID     string                `json:"conversation_id"`
	MessageID          string                `json:"message_id"`
	Mode               TransportMode         `json:"transport_mode"`
	LastChunkIndex     int                   `json:"last_chunk_index"`
	AccumulatedContent string                `json:"accumulated_content"`
	SuppressSecondary  bool                  `json:"suppress_secondary"`
	Terminal           bool                  `json:"terminal"`
	Files              []events.AttachedFile `json:"files,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	LastActivityAt     time.Time             `json:"last_activity_at"`
}

// Registry holds all live sessions. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*stream
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		streams: make(map[string]*stream),
		now:     time.Now,
	}
}

// Register allocates a new session and returns its stream id. It fails only
// on malformed input.
func (r *Registry) Register(mode TransportMode, conversationID, messageID string) (string, error) {
	if conversationID == "" || messageID == "" {
		return "", fmt.Errorf("conversation id and message id are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s := &stream{
		streamID:       uuid.New().String(),
		conversationID: conversationID,
		messageID:      messageID,
		mode:           mode,
		fileSeen:       make(map[string]struct{}),
		createdAt:      now,
		lastActivityAt: now,
	}
	r.streams[s.streamID] = s

	log.Debug().
		Str("stream_id", s.streamID).
		Str("conversation_id", conversationID).
		Str("message_id", messageID).
		Str("mode", string(mode)).
		Msg("Registered stream session")
	return s.streamID, nil
}

// Restore re-registers a session from recovered state, seeding the
// accumulated content and chunk index so resumed deltas continue from the
// correct offset.
func (r *Registry) Restore(streamID, conversationID, messageID string, mode TransportMode, lastChunkIndex int, accumulatedContent string) error {
	if streamID == "" || conversationID == "" || messageID == "" {
		return fmt.Errorf("stream, conversation and message ids are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[streamID]; exists {
		return fmt.Errorf("stream %s already registered", streamID)
	}

	now := r.now()
	r.streams[streamID] = &stream{
		streamID:           streamID,
		conversationID:     conversationID,
		messageID:          messageID,
		mode:               mode,
		lastChunkIndex:     lastChunkIndex,
		accumulatedContent: accumulatedContent,
		fileSeen:           make(map[string]struct{}),
		createdAt:          now,
		lastActivityAt:     now,
	}
	return nil
}

// ApplyDelta appends text and bumps the chunk index. A missing or already
// finalized session is a silent no-op: late deltas from a transport that
// lost the race are expected, not errors. Returns whether the delta was
// applied.
func (r *Registry) ApplyDelta(streamID, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[streamID]
	if !ok || s.terminal {
		return false
	}
	s.accumulatedContent += text
	s.lastChunkIndex++
	s.lastActivityAt = r.now()
	return true
}

// ReplaceContent overwrites the accumulated content wholesale. The chunk
// index keeps counting monotonically so recovery ordering is preserved
// across replaces.
func (r *Registry) ReplaceContent(streamID, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[streamID]
	if !ok || s.terminal {
		return false
	}
	s.accumulatedContent = text
	s.lastChunkIndex++
	s.lastActivityAt = r.now()
	return true
}

// AddFiles merges files into the session's file list, de-duplicated by URL
// with first-occurrence order preserved. Returns only the newly added files.
func (r *Registry) AddFiles(streamID string, files []events.AttachedFile) []events.AttachedFile {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[streamID]
	if !ok || s.terminal {
		return nil
	}

	var added []events.AttachedFile
	for _, f := range files {
		if _, seen := s.fileSeen[f.URL]; seen {
			continue
		}
		s.fileSeen[f.URL] = struct{}{}
		s.files = append(s.files, f)
		added = append(added, f)
	}
	if len(added) > 0 {
		s.lastActivityAt = r.now()
	}
	return added
}

// SuppressSecondary marks one transport authoritative for content so the
// other transport's echo of the same text is not double-applied.
func (r *Registry) SuppressSecondary(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.streams[streamID]; ok && !s.terminal {
		s.suppressSecondary = true
		s.lastActivityAt = r.now()
	}
}

// Finalize marks the session terminal. Further deltas, replaces and file
// attachments are refused. Returns the final view and whether this call was
// the one that finalized (false if already terminal or absent).
func (r *Registry) Finalize(streamID string) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[streamID]
	if !ok || s.terminal {
		return View{}, false
	}
	s.terminal = true
	s.lastActivityAt = r.now()
	return s.view(), true
}

// Remove drops the session from the registry entirely.
func (r *Registry) Remove(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, streamID)
}

// Get returns a copy of the session state.
func (r *Registry) Get(streamID string) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[streamID]
	if !ok {
		return View{}, false
	}
	return s.view(), true
}

// Content returns the accumulated content for a session, or "" if absent.
func (r *Registry) Content(streamID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.streams[streamID]; ok {
		return s.accumulatedContent
	}
	return ""
}

// IsStale reports whether the session has seen no activity within threshold.
func (r *Registry) IsStale(streamID string, threshold time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[streamID]
	if !ok {
		return false
	}
	return r.now().Sub(s.lastActivityAt) > threshold
}

// EvictStale removes sessions with no activity within threshold and returns
// their ids. Used to garbage-collect streams orphaned by an unclean exit.
func (r *Registry) EvictStale(threshold time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var evicted []string
	for id, s := range r.streams {
		if now.Sub(s.lastActivityAt) > threshold {
			delete(r.streams, id)
			evicted = append(evicted, id)
		}
	}
	if len(evicted) > 0 {
		log.Info().Int("count", len(evicted)).Msg("Evicted stale stream sessions")
	}
	return evicted
}

// Views returns copies of all live sessions.
func (r *Registry) Views() []View {
	r.mu.Lock()
	defer r.mu.Unlock()

	views := make([]View, 0, len(r.streams))
	for _, s := range r.streams {
		views = append(views, s.view())
	}
	return views
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

func (s *stream) view() View {
	files := make([]events.AttachedFile, len(s.files))
	copy(files, s.files)
	return View{
		StreamID:           s.streamID,
		ConversationID:     s.conversationID,
		MessageID:          s.messageID,
		Mode:               s.mode,
		LastChunkIndex:     s.lastChunkIndex,
		AccumulatedContent: s.accumulatedContent,
		SuppressSecondary:  s.suppressSecondary,
		Terminal:           s.terminal,
		Files:              files,
		CreatedAt:          s.createdAt,
		LastActivityAt:     s.lastActivityAt,
	}
}
