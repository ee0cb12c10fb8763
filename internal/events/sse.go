package events

import (
	"encoding/json"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	doneSentinel = "[DONE]"
	dataPrefix   = "data:"
)

// ParseSSELine converts one line of an HTTP streaming response into
// normalized events. accumulated is the message content assembled so far,
// consulted to suppress duplicate tool banners. Malformed JSON degrades to a
// literal content delta; this function never fails.
func ParseSSELine(line, accumulated string) []Event {
	payload := strings.TrimSpace(line)
	if payload == "" {
		return nil
	}
	if strings.HasPrefix(payload, dataPrefix) {
		payload = strings.TrimSpace(strings.TrimPrefix(payload, dataPrefix))
	}
	if payload == doneSentinel {
		return []Event{&Done{}}
	}

	var resp openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		// Best-effort degradation: surface the raw line as content rather
		// than dropping it.
		return []Event{&ContentDelta{Text: payload, Index: -1}}
	}
	if len(resp.Choices) == 0 {
		return nil
	}

	var evs []Event
	delta := resp.Choices[0].Delta
	if delta.Content != "" {
		evs = append(evs, &ContentDelta{Text: delta.Content, Index: -1})
	}
	for _, tc := range delta.ToolCalls {
		name := tc.Function.Name
		if name == "" {
			continue
		}
		if strings.Contains(accumulated, ToolBanner(name)) {
			continue
		}
		evs = append(evs, &ToolCallStarted{Name: name})
	}
	return evs
}

// continuationChunk is one line of a stream continuation response. Chunks
// are numbered so already-applied indices can be discarded on resume.
type continuationChunk struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// ParseContinuationLine converts one line of a continuation response into
// normalized events. Deltas carry the server chunk index for resume
// de-duplication.
func ParseContinuationLine(line string) []Event {
	payload := strings.TrimSpace(line)
	if payload == "" {
		return nil
	}
	if strings.HasPrefix(payload, dataPrefix) {
		payload = strings.TrimSpace(strings.TrimPrefix(payload, dataPrefix))
	}
	if payload == doneSentinel {
		return []Event{&Done{}}
	}

	var chunk continuationChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return []Event{&ContentDelta{Text: payload, Index: -1}}
	}

	var evs []Event
	if chunk.Content != "" {
		evs = append(evs, &ContentDelta{Text: chunk.Content, Index: chunk.Index})
	}
	if chunk.Done {
		evs = append(evs, &Done{})
	}
	return evs
}
