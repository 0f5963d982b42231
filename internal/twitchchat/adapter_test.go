package twitchchat

import (
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/you/chatglass/internal/core"
)

func testAdapter() *Adapter {
	return New("SomeStreamer", nil, nil)
}

func TestConvertMessageBasics(t *testing.T) {
	a := testAdapter()
	msg := twitch.PrivateMessage{
		ID:      "abc",
		Message: "hello world",
		Time:    time.UnixMilli(1700000000000),
		User: twitch.User{
			ID:          "123",
			Name:        "alice",
			DisplayName: "Alice",
			Color:       "#ff0000",
			Badges:      map[string]int{"subscriber": 12, "moderator": 1},
		},
		Tags: map[string]string{},
	}

	m := a.convertMessage(msg)
	if m.ID != "abc" || m.Username != "alice" || m.DisplayName != "Alice" || m.UserID != "123" {
		t.Fatalf("identity fields: %+v", m)
	}
	if m.Timestamp != 1700000000000 {
		t.Fatalf("timestamp = %d", m.Timestamp)
	}
	if m.Platform != core.PlatformTwitch || m.Type != core.TypeChat {
		t.Fatalf("platform/type: %+v", m)
	}
	if len(m.Badges) != 2 || m.Badges[0].ID != "moderator" || m.Badges[1].ID != "subscriber" {
		t.Fatalf("badge order: %+v", m.Badges)
	}
	if m.Badges[1].Version != "12" {
		t.Fatalf("badge version: %+v", m.Badges[1])
	}
}

func TestConvertMessageInlineEmotes(t *testing.T) {
	a := testAdapter()
	msg := twitch.PrivateMessage{
		ID:      "abc",
		Message: "Kappa hi",
		Time:    time.Now(),
		User:    twitch.User{Name: "bob"},
		Emotes: []*twitch.Emote{
			{Name: "Kappa", ID: "25", Positions: []twitch.EmotePosition{{Start: 0, End: 4}}},
		},
		Tags: map[string]string{},
	}
	m := a.convertMessage(msg)
	if len(m.Parsed) != 2 {
		t.Fatalf("segments = %+v", m.Parsed)
	}
	if m.Parsed[0].Kind != core.SegmentEmote || m.Parsed[0].Emote.URL != twitchEmoteURL("25") {
		t.Fatalf("segment 0 = %+v", m.Parsed[0])
	}
	if m.Parsed[1].Kind != core.SegmentText || m.Parsed[1].Text != " hi" {
		t.Fatalf("segment 1 = %+v", m.Parsed[1])
	}
}

func TestConvertMessageReplyAndHints(t *testing.T) {
	a := testAdapter()
	msg := twitch.PrivateMessage{
		ID:           "abc",
		Message:      "agreed",
		Time:         time.Now(),
		User:         twitch.User{Name: "bob"},
		Action:       true,
		FirstMessage: true,
		Bits:         250,
		Reply: &twitch.Reply{
			ParentMsgID:     "parent1",
			ParentUserLogin: "alice",
			ParentMsgBody:   "original take",
		},
		Tags: map[string]string{"msg-id": "highlighted-message"},
	}
	m := a.convertMessage(msg)
	if !m.Action || !m.First || !m.Highlighted || m.Bits != 250 {
		t.Fatalf("hints: %+v", m)
	}
	if m.Reply == nil || m.Reply.ParentID != "parent1" || m.Reply.ParentUsername != "alice" || m.Reply.ParentBody != "original take" {
		t.Fatalf("reply: %+v", m.Reply)
	}
}

func TestConvertMessageWithoutReplyTags(t *testing.T) {
	a := testAdapter()
	m := a.convertMessage(twitch.PrivateMessage{
		ID:      "abc",
		Message: "plain",
		Time:    time.Now(),
		User:    twitch.User{Name: "bob"},
		Tags:    map[string]string{},
	})
	if m.Reply != nil {
		t.Fatalf("reply set without reply tags: %+v", m.Reply)
	}
}

func TestConvertMessageSharedChat(t *testing.T) {
	a := testAdapter()
	msg := twitch.PrivateMessage{
		ID:      "abc",
		Message: "hi from over there",
		Time:    time.Now(),
		User:    twitch.User{Name: "bob"},
		RoomID:  "111",
		Tags:    map[string]string{"source-room-id": "222"},
	}
	m := a.convertMessage(msg)
	if m.Shared == nil || m.Shared.SourceRoomID != "222" {
		t.Fatalf("shared chat: %+v", m.Shared)
	}

	// same room id means no shared-chat marker
	msg.Tags["source-room-id"] = "111"
	if m := a.convertMessage(msg); m.Shared != nil {
		t.Fatalf("own-room message marked shared: %+v", m.Shared)
	}
}

func TestConvertNoticeVariants(t *testing.T) {
	a := testAdapter()
	base := twitch.UserNoticeMessage{
		ID:   "n1",
		Time: time.Now(),
		User: twitch.User{Name: "gifter"},
	}

	resub := base
	resub.MsgID = "resub"
	resub.Message = "great stream"
	resub.MsgParams = map[string]string{"msg-param-cumulative-months": "14", "msg-param-sub-plan": "2000"}
	m, ok := a.convertNotice(resub)
	if !ok || m.Type != core.TypeResub {
		t.Fatalf("resub: %+v", m)
	}
	if m.Sub == nil || m.Sub.Months != 14 || m.Sub.Tier != "2" {
		t.Fatalf("resub info: %+v", m.Sub)
	}

	gift := base
	gift.MsgID = "submysterygift"
	gift.MsgParams = map[string]string{"msg-param-mass-gift-count": "5", "msg-param-sub-plan": "1000"}
	m, ok = a.convertNotice(gift)
	if !ok || m.Type != core.TypeMassSubGift || m.Sub.GiftCount != 5 {
		t.Fatalf("mass gift: %+v", m)
	}

	raid := base
	raid.MsgID = "raid"
	raid.MsgParams = map[string]string{"msg-param-displayName": "Raider", "msg-param-viewerCount": "420"}
	m, ok = a.convertNotice(raid)
	if !ok || m.Type != core.TypeRaid || m.Raid.Viewers != 420 || m.Raid.From != "Raider" {
		t.Fatalf("raid: %+v", m)
	}

	unknown := base
	unknown.MsgID = "viewermilestone"
	if _, ok := a.convertNotice(unknown); ok {
		t.Fatal("unknown notice kinds must be skipped")
	}
}

func TestRoomStatePatchPartial(t *testing.T) {
	patch := roomStatePatch(map[string]string{"slow": "30", "followers-only": "-1"})
	if patch.SlowSeconds == nil || *patch.SlowSeconds != 30 {
		t.Fatalf("slow: %+v", patch.SlowSeconds)
	}
	if patch.FollowersOnlyMinutes == nil || *patch.FollowersOnlyMinutes != -1 {
		t.Fatalf("followers: %+v", patch.FollowersOnlyMinutes)
	}
	if patch.EmoteOnly != nil || patch.SubOnly != nil || patch.Unique != nil {
		t.Fatal("absent tags must stay nil")
	}
}

func TestEmoteSpansMultiplePositions(t *testing.T) {
	spans := emoteSpans([]*twitch.Emote{
		{Name: "Kappa", ID: "25", Positions: []twitch.EmotePosition{{Start: 0, End: 4}, {Start: 10, End: 14}}},
		nil,
	})
	if len(spans) != 2 {
		t.Fatalf("spans = %+v", spans)
	}
	if spans[1].Start != 10 || spans[1].Emote.Name != "Kappa" {
		t.Fatalf("span 1 = %+v", spans[1])
	}
}
