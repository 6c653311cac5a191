package store

import (
	"encoding/json"
)

// Fragments are the normalized input shapes of the store. Every inbound
// payload, whether push event, streaming event or REST reply, is decoded into one
// of these before it touches an entity. Optional fields are pointers so a
// patch can tell "key absent" from "key present but empty": a nil pointer
// leaves the entity field untouched, a non-nil pointer always overwrites.
// Slices and maps follow the same rule with nil standing for absent.

// IconMap is a keyed image map as sent by the remote API: "image_NN" and
// "image_original" keys with URL values, plus the odd boolean marker like
// "image_default" and an optional "emoji" key.
type IconMap map[string]interface{}

// CreatorValue is the remote shape of topic/purpose fields.
type CreatorValue struct {
	Value   string `json:"value"`
	Creator string `json:"creator"`
	LastSet int64  `json:"last_set"`
}

type TeamFragment struct {
	ID             string  `json:"id"`
	Name           *string `json:"name"`
	Domain         *string `json:"domain"`
	EmailDomain    *string `json:"email_domain"`
	Icon           IconMap `json:"icon"`
	EnterpriseID   *string `json:"enterprise_id"`
	EnterpriseName *string `json:"enterprise_name"`

	// FakeID marks this fragment as a proxy stand-in for a workspace the
	// local credentials do not belong to. It names the real, credentialed
	// team whose web client must be used instead. Never sent on the wire.
	FakeID string `json:"-"`
}

// ProfileFragment is a user profile. The remote API mixes named fields and
// image_NN keys in the same object, so unmarshalling keeps the raw map
// around for icon resolution.
type ProfileFragment struct {
	RealName    string `json:"real_name"`
	DisplayName string `json:"display_name"`
	StatusText  string `json:"status_text"`
	StatusEmoji string `json:"status_emoji"`

	// Raw is the whole profile object, image keys included.
	Raw IconMap `json:"-"`
}

func (p *ProfileFragment) UnmarshalJSON(b []byte) error {
	type alias ProfileFragment
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	var raw IconMap
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = ProfileFragment(a)
	p.Raw = raw
	return nil
}

type UserFragment struct {
	ID       string           `json:"id"`
	TeamID   string           `json:"team_id"`
	Name     *string          `json:"name"`
	Color    *string          `json:"color"`
	RealName *string          `json:"real_name"`
	Profile  *ProfileFragment `json:"profile"`
	Icons    IconMap          `json:"icons"`
	IsBot    *bool            `json:"is_bot"`
	Deleted  *bool            `json:"deleted"`

	// FullBot marks a record synthesized from a bare bot-id reference.
	// Such shadow users populate the cache but are excluded from "added"
	// notifications until a real profile arrives.
	FullBot bool `json:"-"`
}

// Normalize folds alternate source shapes into the canonical one.
func (f *UserFragment) Normalize() {
	if f.Name == nil && f.Profile != nil && f.Profile.DisplayName != "" {
		name := f.Profile.DisplayName
		f.Name = &name
	}
}

type ChannelFragment struct {
	ID            string        `json:"id"`
	Name          *string       `json:"name"`
	IsChannel     bool          `json:"is_channel"`
	IsGroup       bool          `json:"is_group"`
	IsMPIM        bool          `json:"is_mpim"`
	IsIM          bool          `json:"is_im"`
	Topic         *CreatorValue `json:"topic"`
	Purpose       *CreatorValue `json:"purpose"`
	Private       *bool         `json:"is_private"`
	TeamID        string        `json:"team_id"`
	SharedTeamIDs []string      `json:"shared_team_ids"`
	User          *string       `json:"user"`
}

// OwnerTeamID resolves the owning team: the stamped team id when present,
// else the first shared team id (the canonical owner of a shared channel).
func (f *ChannelFragment) OwnerTeamID() string {
	if f.TeamID != "" {
		return f.TeamID
	}
	if len(f.SharedTeamIDs) > 0 {
		return f.SharedTeamIDs[0]
	}
	return ""
}

type BotProfileFragment struct {
	Name  string  `json:"name"`
	Icons IconMap `json:"icons"`
}

type BotFragment struct {
	BotID    string              `json:"bot_id"`
	AltID    string              `json:"id"`
	TeamID   string              `json:"team_id"`
	UserID   *string             `json:"user_id"`
	Name     *string             `json:"name"`
	Username *string             `json:"username"`
	Icons    IconMap             `json:"icons"`
	Profile  *BotProfileFragment `json:"bot_profile"`
}

// Normalize folds the bots.info reply shape (plain "id") into the event
// shape ("bot_id").
func (f *BotFragment) Normalize() {
	if f.BotID == "" {
		f.BotID = f.AltID
	}
}

// ItemFragment is the reacted-to item reference inside a reaction payload.
type ItemFragment struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

type MessageFragment struct {
	TS          string        `json:"ts"`
	TeamID      string        `json:"team_id"`
	SourceTeam  string        `json:"source_team"`
	Channel     string        `json:"channel"`
	User        string        `json:"user"`
	BotID       string        `json:"bot_id"`
	Text        *string       `json:"text"`
	Blocks      []interface{} `json:"blocks"`
	Attachments []interface{} `json:"attachments"`
	Files       []interface{} `json:"files"`
	Subtype     string        `json:"subtype"`
	ThreadTS    *string       `json:"thread_ts"`
	Item        *ItemFragment `json:"item"`

	// Nested payloads of message_changed / message_deleted events.
	Message     *MessageFragment `json:"message"`
	PrevMessage *MessageFragment `json:"previous_message"`
}

type ReactionFragment struct {
	User     string        `json:"user"`
	Reaction string        `json:"reaction"`
	ItemUser string        `json:"item_user"`
	EventTS  string        `json:"event_ts"`
	TS       string        `json:"ts"`
	TeamID   string        `json:"team_id"`
	Item     *ItemFragment `json:"item"`
}
