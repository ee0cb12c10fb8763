// Package recovery persists minimal stream state so a response interrupted
// by process suspension or network loss can be resumed from the correct
// offset without re-applying content the client already has.
package recovery

import (
	"time"

	"github.com/parakeetlabs/streamcore/internal/session"
)

// Snapshot is the durable projection of a stream session. LastChunkIndex and
// AccumulatedContent form a paired offset: consumers must never interpret
// one without the other.
type Snapshot struct {
	StreamID           string                `json:"stream_id"`
	ConversationID     string                `json:"conversation_id"`
	MessageID          string                `json:"message_id"`
	Mode               session.TransportMode `json:"transport_mode"`
	LastChunkIndex     int                   `json:"last_chunk_index"`
	AccumulatedContent string                `json:"accumulated_content"`
	LastActivityAt     time.Time             `json:"last_activity_at"`
}

// FromView projects a session view into its durable form.
func FromView(v session.View) Snapshot {
	return Snapshot{
		StreamID:           v.StreamID,
		ConversationID:     v.ConversationID,
		MessageID:          v.MessageID,
		Mode:               v.Mode,
		LastChunkIndex:     v.LastChunkIndex,
		AccumulatedContent: v.AccumulatedContent,
		LastActivityAt:     v.LastActivityAt,
	}
}

// Stale reports whether the snapshot is old enough to be considered
// abandoned and purged without a resume attempt.
func (s Snapshot) Stale(threshold time.Duration, now time.Time) bool {
	return now.Sub(s.LastActivityAt) > threshold
}
