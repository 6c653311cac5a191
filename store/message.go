package store

// Author is the polymorphic sender of a message: a *User or a *Bot.
type Author interface {
	AuthorID() string
	AuthorName() string
}

func (u *User) AuthorID() string   { return u.ID }
func (u *User) AuthorName() string { return u.DisplayName }

func (b *Bot) AuthorID() string   { return b.ID }
func (b *Bot) AuthorName() string { return b.DisplayName }

// Message is a transient, per-event construction. It is never retained in
// any map; equality for edit/delete correlation is by TS plus channel
// identity and is the caller's concern.
type Message struct {
	TS          string
	Channel     *Channel
	Author      Author
	Text        string
	Blocks      []interface{}
	Attachments []interface{}
	Files       []interface{}
	ThreadTS    string
	MeMessage   bool

	// Partial is true until at least one content field is populated. A
	// message can legitimately arrive content-free, e.g. as a deletion
	// notice.
	Partial bool
}

func newMessage(channel *Channel, author Author, f *MessageFragment) *Message {
	m := &Message{
		Channel: channel,
		Author:  author,
		Partial: true,
	}
	m.patch(f)
	return m
}

func (m *Message) patch(f *MessageFragment) {
	m.TS = f.TS
	if f.Text != nil {
		m.Text = *f.Text
	}
	if f.Blocks != nil {
		m.Blocks = f.Blocks
	}
	if f.Attachments != nil {
		m.Attachments = f.Attachments
	}
	m.MeMessage = f.Subtype == "me_message"
	if f.ThreadTS != nil {
		m.ThreadTS = *f.ThreadTS
	}
	if f.Files != nil {
		m.Files = f.Files
	}
	if m.Text != "" || m.Blocks != nil || m.Attachments != nil || m.Files != nil {
		m.Partial = false
	}
}

// Empty reports whether the message carries no displayable content.
func (m *Message) Empty() bool {
	return m.Text == "" && len(m.Attachments) == 0 && len(m.Blocks) == 0
}
