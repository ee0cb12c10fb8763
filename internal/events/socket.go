package events

import (
	"encoding/json"
	"strings"
)

// Envelope is the outer frame of every realtime push message:
// {"data": {"type": ..., "data": <payload>}, "id": <optional ack id>}.
type Envelope struct {
	Data EnvelopeData `json:"data"`
	ID   string       `json:"id,omitempty"`
}

// EnvelopeData discriminates the payload by its type string.
type EnvelopeData struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// completionPayload covers both payload shapes of chat:completion frames:
// nested choices/delta, or flat content/tool_calls.
type completionPayload struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
	Content   string `json:"content"`
	ToolCalls []struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tool_calls"`
	Done bool `json:"done"`
}

// DecodeEnvelope parses the outer frame. Callers that need the ack id use
// this before NormalizeEnvelope; everyone else goes through
// ParseSocketEnvelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, NewStreamError(KindParse, "undecodable socket envelope", err)
	}
	return env, nil
}

// ParseSocketEnvelope converts one realtime push frame into normalized
// events. A ParseError is returned for an undecodable envelope so callers
// can record the failure; the event slice is always safe to apply.
func ParseSocketEnvelope(raw []byte, accumulated string) ([]Event, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	return NormalizeEnvelope(env.Data, accumulated)
}

// NormalizeEnvelope maps a decoded frame's typed payload onto the event
// vocabulary.
func NormalizeEnvelope(data EnvelopeData, accumulated string) ([]Event, error) {
	switch data.Type {
	case "chat:completion":
		return normalizeCompletion(data.Data, accumulated)

	case "chat:message:error":
		return []Event{&Error{Message: payloadText(data.Data, "error")}}, nil

	case "chat:message:delta", "message":
		if text := payloadText(data.Data, "content"); text != "" {
			return []Event{&ContentDelta{Text: text, Index: -1}}, nil
		}
		return nil, nil

	case "chat:message", "replace":
		return []Event{&ContentReplace{Text: payloadText(data.Data, "content")}}, nil

	case "chat:message:files", "files", "event:tool":
		files := payloadFiles(data.Data)
		if len(files) == 0 {
			return nil, nil
		}
		return []Event{&FilesAttached{Files: files}}, nil

	case "event:status":
		return []Event{&StatusUpdate{Status: payloadText(data.Data, "status")}}, nil

	case "request:chat:completion":
		channel := payloadText(data.Data, "channel")
		if channel == "" {
			return nil, NewStreamError(KindParse, "channel request without channel name", nil)
		}
		return []Event{&ChannelSwitch{Channel: channel}}, nil

	default:
		// Unknown frame types are ignored, not errors; servers add types
		// faster than clients update.
		return nil, nil
	}
}

func normalizeCompletion(raw json.RawMessage, accumulated string) ([]Event, error) {
	var payload completionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, NewStreamError(KindParse, "undecodable chat:completion payload", err)
	}

	content := payload.Content
	toolNames := make([]string, 0, len(payload.ToolCalls))
	for _, tc := range payload.ToolCalls {
		toolNames = append(toolNames, tc.Function.Name)
	}
	if len(payload.Choices) > 0 {
		delta := payload.Choices[0].Delta
		if delta.Content != "" {
			content = delta.Content
		}
		for _, tc := range delta.ToolCalls {
			toolNames = append(toolNames, tc.Function.Name)
		}
	}

	var evs []Event
	if content != "" {
		evs = append(evs, &ContentDelta{Text: content, Index: -1})
	}
	for _, name := range toolNames {
		if name == "" || strings.Contains(accumulated, ToolBanner(name)) {
			continue
		}
		evs = append(evs, &ToolCallStarted{Name: name})
	}
	if payload.Done {
		evs = append(evs, &Done{})
	}
	return evs, nil
}

// payloadText extracts a string payload delivered either bare ("...") or as
// an object field ({"content": "..."}).
func payloadText(raw json.RawMessage, field string) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if v, ok := obj[field]; ok {
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	return ""
}

// payloadFiles extracts an attached-file list delivered either bare
// ([{...}]) or as an object field ({"files": [{...}]}).
func payloadFiles(raw json.RawMessage) []AttachedFile {
	if len(raw) == 0 {
		return nil
	}
	var files []AttachedFile
	if err := json.Unmarshal(raw, &files); err == nil {
		return files
	}
	var obj struct {
		Files []AttachedFile `json:"files"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj.Files
}
