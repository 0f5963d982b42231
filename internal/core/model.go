// Package core holds the canonical data model shared by every adapter,
// the pipeline, and the overlay-facing API.
package core

// Platform identifies which adapter produced a message or event.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformKick    Platform = "kick"
	PlatformYouTube Platform = "youtube"
	PlatformVelora  Platform = "velora"
)

// MessageType is the closed set of message/event kinds. It determines the
// renderer's styling class and whether a message counts toward filtering.
type MessageType string

const (
	TypeChat         MessageType = "chat"
	TypeAction       MessageType = "action"
	TypeSub          MessageType = "sub"
	TypeResub        MessageType = "resub"
	TypeSubGift      MessageType = "subgift"
	TypeMassSubGift  MessageType = "mass-subgift"
	TypeRaid         MessageType = "raid"
	TypeAnnouncement MessageType = "announcement"
	TypeFirstMessage MessageType = "first-message"
	TypeHighlighted  MessageType = "highlighted"
	TypeReply        MessageType = "reply"
	TypeCheer        MessageType = "cheer"
	TypeSystem       MessageType = "system"
)

// SegmentKind discriminates parsed content segments.
type SegmentKind string

const (
	SegmentText  SegmentKind = "text"
	SegmentEmote SegmentKind = "emote"
	SegmentCheer SegmentKind = "cheer"
)

// Segment is one piece of parsed message content. Segments appear in the
// same left-to-right order as the raw text they were derived from.
type Segment struct {
	Kind  SegmentKind `json:"kind"`
	Text  string      `json:"text,omitempty"`
	Emote *EmoteRef   `json:"emote,omitempty"`
	Cheer *CheerRef   `json:"cheer,omitempty"`
}

// EmoteRef points at an emote image. ZeroWidth emotes render layered on
// top of the preceding emote instead of occupying their own slot.
type EmoteRef struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Provider  string `json:"provider"`
	ZeroWidth bool   `json:"zeroWidth,omitempty"`
}

// CheerRef is a bits/cheer marker with its tier-derived color.
type CheerRef struct {
	Prefix  string `json:"prefix"`
	Amount  int    `json:"amount"`
	Color   string `json:"color"`
	IconURL string `json:"iconUrl,omitempty"`
}

// Badge is one badge slot. Order in ChatMessage.Badges is provider
// priority then arrival order; enrichment appends, never reorders.
type Badge struct {
	ID       string `json:"id"`
	Version  string `json:"version,omitempty"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	Provider string `json:"provider"`
}

// Paint is a name-paint cosmetic (gradient/image treatment for a username).
type Paint struct {
	ID       string      `json:"id"`
	Name     string      `json:"name,omitempty"`
	Color    string      `json:"color,omitempty"`
	Stops    []PaintStop `json:"stops,omitempty"`
	ImageURL string      `json:"imageUrl,omitempty"`
}

type PaintStop struct {
	At    float64 `json:"at"`
	Color string  `json:"color"`
}

// Reply carries the parent message a reply points at.
type Reply struct {
	ParentID       string `json:"parentId"`
	ParentUsername string `json:"parentUsername"`
	ParentBody     string `json:"parentBody"`
}

// SubInfo describes subscription notices (sub, resub, gifts).
type SubInfo struct {
	Months    int    `json:"months,omitempty"`
	Tier      string `json:"tier,omitempty"`
	GiftCount int    `json:"giftCount,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

// RaidInfo describes an incoming raid.
type RaidInfo struct {
	From    string `json:"from"`
	Viewers int    `json:"viewers"`
}

// SharedChat identifies the source channel of a shared-chat message.
type SharedChat struct {
	SourceRoomID   string `json:"sourceRoomId"`
	SourceName     string `json:"sourceName,omitempty"`
	SourceBadgeURL string `json:"sourceBadgeUrl,omitempty"`
}

// Card is Velora's rich attachment payload, passed through opaquely.
type Card struct {
	Kind     string `json:"kind"`
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	LinkURL  string `json:"linkUrl,omitempty"`
}

// ChatMessage is the canonical unit emitted to the overlay renderer.
//
// Once appended to the buffer the base fields never change; only the
// enrichment fields (Pronouns, Paint, badge appends, Shared) may be
// patched in place afterwards.
type ChatMessage struct {
	ID          string      `json:"id"`
	Username    string      `json:"username"`
	DisplayName string      `json:"displayName"`
	UserID      string      `json:"userId"` // empty when the platform withholds it
	Content     string      `json:"content"`
	Parsed      []Segment   `json:"parsedContent"`
	Color       string      `json:"color"`
	Timestamp   int64       `json:"timestamp"` // ms since epoch
	Type        MessageType `json:"type"`
	Platform    Platform    `json:"platform"`
	Badges      []Badge     `json:"badges,omitempty"`

	// Classification hints set by adapters; the pipeline folds them into
	// Type and they are not serialized on their own.
	Action      bool `json:"-"`
	First       bool `json:"-"`
	Highlighted bool `json:"-"`

	// Enrichment fields; absent until resolved, never blocking render.
	Pronouns string      `json:"pronouns,omitempty"`
	Paint    *Paint      `json:"paint,omitempty"`
	Reply    *Reply      `json:"reply,omitempty"`
	Bits     int         `json:"bits,omitempty"`
	Sub      *SubInfo    `json:"subInfo,omitempty"`
	Raid     *RaidInfo   `json:"raidInfo,omitempty"`
	Shared   *SharedChat `json:"sharedChat,omitempty"`
	Card     *Card       `json:"card,omitempty"`
}

// HasBadge reports whether an exact (url+title) duplicate is already present.
func (m *ChatMessage) HasBadge(b Badge) bool {
	for _, have := range m.Badges {
		if have.URL == b.URL && have.Title == b.Title {
			return true
		}
	}
	return false
}

// AppendBadge appends b unless an exact duplicate exists. Earlier entries
// are never disturbed.
func (m *ChatMessage) AppendBadge(b Badge) {
	if m.HasBadge(b) {
		return
	}
	m.Badges = append(m.Badges, b)
}

// RoomState is the ephemeral channel-wide moderation settings snapshot.
// Last write wins per field.
type RoomState struct {
	SlowSeconds          int  `json:"slowSeconds"`          // 0 = off
	EmoteOnly            bool `json:"emoteOnly"`            //
	FollowersOnlyMinutes int  `json:"followersOnlyMinutes"` // -1 off, 0 on w/o minimum
	SubOnly              bool `json:"subOnly"`              //
	Unique               bool `json:"unique"`               // R9K
}

// RoomStatePatch is a partial room-state update; nil fields are untouched.
type RoomStatePatch struct {
	SlowSeconds          *int
	EmoteOnly            *bool
	FollowersOnlyMinutes *int
	SubOnly              *bool
	Unique               *bool
}

// Apply merges the patch into s, field by field.
func (p RoomStatePatch) Apply(s *RoomState) {
	if p.SlowSeconds != nil {
		s.SlowSeconds = *p.SlowSeconds
	}
	if p.EmoteOnly != nil {
		s.EmoteOnly = *p.EmoteOnly
	}
	if p.FollowersOnlyMinutes != nil {
		s.FollowersOnlyMinutes = *p.FollowersOnlyMinutes
	}
	if p.SubOnly != nil {
		s.SubOnly = *p.SubOnly
	}
	if p.Unique != nil {
		s.Unique = *p.Unique
	}
}
