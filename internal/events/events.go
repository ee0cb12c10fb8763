package events

import "fmt"

// Event is the normalized vocabulary produced by both transports. Downstream
// logic switches exhaustively on the concrete types instead of probing raw
// payload maps.
type Event interface {
	isEvent()
}

// ContentDelta appends text to the in-progress message. Index is the server
// chunk index when the event came from a continuation response, or -1 when
// the transport does not number its deltas.
type ContentDelta struct {
	Text  string
	Index int
}

// ContentReplace overwrites the accumulated message wholesale.
type ContentReplace struct {
	Text string
}

// ToolCallStarted signals the server began executing a named tool.
type ToolCallStarted struct {
	Name string
}

// AttachedFile is a file the server attached to the message. URL may be a
// direct URL or a data URI.
type AttachedFile struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// FilesAttached carries files to merge into the message's file list.
type FilesAttached struct {
	Files []AttachedFile
}

// StatusUpdate carries a transient server-side status string.
type StatusUpdate struct {
	Status string
}

// ChannelSwitch instructs the client to subscribe to a dynamically named
// socket channel; the session becomes socket-primary from that point.
type ChannelSwitch struct {
	Channel string
}

// Done is the successful terminal event.
type Done struct{}

// Error is the failure terminal event, carrying the server-reported message.
type Error struct {
	Message string
}

func (*ContentDelta) isEvent()    {}
func (*ContentReplace) isEvent()  {}
func (*ToolCallStarted) isEvent() {}
func (*FilesAttached) isEvent()   {}
func (*StatusUpdate) isEvent()    {}
func (*ChannelSwitch) isEvent()   {}
func (*Done) isEvent()            {}
func (*Error) isEvent()           {}

// ToolBanner is the text appended to the message body when a tool call
// starts. The same string doubles as the duplicate-suppression marker when
// both transports report the same tool call.
func ToolBanner(name string) string {
	return fmt.Sprintf("\n\nExecuting %s...\n\n", name)
}
