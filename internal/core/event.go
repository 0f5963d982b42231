package core

// EventKind discriminates adapter events.
type EventKind int

const (
	EventMessage EventKind = iota
	EventRoomState
	EventModAction
	EventClearChat
	EventStatus
)

// ModActionKind is the kind of moderator action observed in-band.
type ModActionKind string

const (
	ModDelete  ModActionKind = "delete"
	ModTimeout ModActionKind = "timeout"
	ModBan     ModActionKind = "ban"
)

// ModAction marks one or more messages as moderated. Messages are never
// removed from the buffer; the renderer consults the deleted-id set.
type ModAction struct {
	Kind            ModActionKind
	TargetMsgID     string // delete: the single message id
	TargetUsername  string // timeout/ban: all messages from this user
	DurationSeconds int    // timeout only
}

// Event is the closed tagged union every adapter translates its native
// callbacks and frames into before handing them to the pipeline. Exactly
// one payload field is set, matching Kind.
type Event struct {
	Kind     EventKind
	Platform Platform

	Message   *ChatMessage
	Room      *RoomStatePatch
	Mod       *ModAction
	Connected bool // EventStatus
}
