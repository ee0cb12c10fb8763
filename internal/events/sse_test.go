package events

import (
	"reflect"
	"testing"
)

func TestParseSSELine(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		accumulated string
		want        []Event
	}{
		{
			name: "content delta",
			line: `data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			want: []Event{&ContentDelta{Text: "Hel", Index: -1}},
		},
		{
			name: "done sentinel",
			line: "data: [DONE]",
			want: []Event{&Done{}},
		},
		{
			name: "done sentinel without data prefix",
			line: "[DONE]",
			want: []Event{&Done{}},
		},
		{
			name: "blank line ignored",
			line: "   ",
			want: nil,
		},
		{
			name: "malformed json degrades to literal text",
			line: "data: {not json",
			want: []Event{&ContentDelta{Text: "{not json", Index: -1}},
		},
		{
			name: "valid json without choices produces nothing",
			line: `data: {"id":"x","choices":[]}`,
			want: nil,
		},
		{
			name: "tool call start",
			line: `data: {"choices":[{"delta":{"tool_calls":[{"function":{"name":"search_docs"}}]}}]}`,
			want: []Event{&ToolCallStarted{Name: "search_docs"}},
		},
		{
			name:        "tool call suppressed when banner already present",
			line:        `data: {"choices":[{"delta":{"tool_calls":[{"function":{"name":"search_docs"}}]}}]}`,
			accumulated: "intro" + ToolBanner("search_docs"),
			want:        nil,
		},
		{
			name: "content and tool call in one delta",
			line: `data: {"choices":[{"delta":{"content":"Let me check.","tool_calls":[{"function":{"name":"search_docs"}}]}}]}`,
			want: []Event{
				&ContentDelta{Text: "Let me check.", Index: -1},
				&ToolCallStarted{Name: "search_docs"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseSSELine(tt.line, tt.accumulated)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseSSELine() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseContinuationLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []Event
	}{
		{
			name: "indexed delta",
			line: `data: {"index":3,"content":"lo!"}`,
			want: []Event{&ContentDelta{Text: "lo!", Index: 3}},
		},
		{
			name: "delta with done flag",
			line: `data: {"index":4,"content":"","done":true}`,
			want: []Event{&Done{}},
		},
		{
			name: "content and done together",
			line: `data: {"index":4,"content":"end","done":true}`,
			want: []Event{&ContentDelta{Text: "end", Index: 4}, &Done{}},
		},
		{
			name: "done sentinel",
			line: "data: [DONE]",
			want: []Event{&Done{}},
		},
		{
			name: "malformed line degrades to literal text",
			line: "data: ???",
			want: []Event{&ContentDelta{Text: "???", Index: -1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseContinuationLine(tt.line)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseContinuationLine() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
