package store

import (
	"context"
	"fmt"
)

// Bot is a bot identity, distinct from its possible bound User record.
type Bot struct {
	ID          string
	TeamID      string
	UserID      string
	Name        string
	DisplayName string
	Icon        IconMap
	Partial     bool

	store *Store
}

func newBot(s *Store, f *BotFragment) *Bot {
	b := &Bot{
		TeamID:  f.TeamID,
		Partial: true,
		store:   s,
	}
	b.patch(f)
	return b
}

// Team resolves the owning team through the store.
func (b *Bot) Team() *Team {
	return b.store.GetTeam(b.TeamID)
}

// User resolves the bound user record, nil when the bot has none.
func (b *Bot) User() *User {
	if b.UserID == "" {
		return nil
	}
	return b.store.GetUser(b.UserID, b.TeamID)
}

// FullID is the cross-team-safe qualified id.
func (b *Bot) FullID() string {
	return b.store.ComposeID(b.TeamID, b.ID)
}

func (b *Bot) IconURL() string   { return b.Icon.URL() }
func (b *Bot) IconEmoji() string { return b.Icon.Emoji() }

func (b *Bot) clone() *Bot {
	c := *b
	return &c
}

func (b *Bot) patch(f *BotFragment) {
	if f.BotID != "" {
		b.ID = f.BotID
	}
	if f.Name != nil || f.Profile != nil {
		v := ""
		if f.Profile != nil {
			v = f.Profile.Name
		}
		if v == "" && f.Name != nil {
			v = *f.Name
		}
		b.Name = v
	}
	if f.Username != nil {
		b.DisplayName = *f.Username
	}
	if b.DisplayName == "" {
		b.DisplayName = b.Name
	}
	if f.UserID != nil {
		b.UserID = *f.UserID
	}
	switch {
	case f.Profile != nil && f.Profile.Icons != nil:
		b.Icon = f.Profile.Icons
	case f.Icons != nil:
		b.Icon = f.Icons
	}
}

// Load fetches the full bot info and clears Partial.
func (b *Bot) Load(ctx context.Context) error {
	web := b.store.web(b.TeamID)
	if web == nil {
		return fmt.Errorf("load bot %s: %w", b.ID, ErrNoCredentials)
	}
	frag, err := web.BotInfo(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("load bot %s: %w", b.ID, err)
	}
	frag.Normalize()
	frag.TeamID = b.TeamID
	b.store.mu.Lock()
	b.patch(frag)
	b.Partial = false
	b.store.mu.Unlock()
	return nil
}
