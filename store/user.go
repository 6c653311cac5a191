package store

import (
	"context"
	"fmt"
)

// User is a workspace member, or a bot's user-shaped shadow. It holds the
// owning team's id rather than a live pointer; the Team accessor resolves
// through the store.
type User struct {
	ID          string
	TeamID      string
	Name        string
	Color       string
	DisplayName string
	RealName    string
	StatusText  string
	StatusEmoji string
	Icon        IconMap
	Bot         bool

	// FullBot marks a shadow record synthesized from a bare bot-id
	// reference. Shadow users never produce an "added" notification; the
	// flag clears once a real profile arrives.
	FullBot bool

	Partial bool

	store       *Store
	imChannelID string
}

func newUser(s *Store, f *UserFragment) *User {
	u := &User{
		TeamID:  f.TeamID,
		Partial: true,
		store:   s,
	}
	u.patch(f)
	u.Partial = f.Profile == nil && f.Icons == nil
	return u
}

// Team resolves the owning team through the store.
func (u *User) Team() *Team {
	return u.store.GetTeam(u.TeamID)
}

// FullID is the cross-team-safe qualified id.
func (u *User) FullID() string {
	return u.store.ComposeID(u.TeamID, u.ID)
}

func (u *User) IconURL() string   { return u.Icon.URL() }
func (u *User) IconEmoji() string { return u.Icon.Emoji() }

func (u *User) clone() *User {
	c := *u
	return &c
}

func (u *User) patch(f *UserFragment) {
	if f.ID != "" {
		u.ID = f.ID
	}
	if f.Name != nil {
		u.Name = *f.Name
	}
	if f.Color != nil {
		u.Color = *f.Color
	}
	// Real and display names fall back through the fragment's shapes: a
	// profile wins over the top-level field, and either one re-derives
	// the name when it left the better source empty.
	if u.RealName == "" || f.Profile != nil || f.RealName != nil {
		v := ""
		if f.Profile != nil {
			v = f.Profile.RealName
		}
		if v == "" && f.RealName != nil {
			v = *f.RealName
		}
		if v == "" {
			v = u.Name
		}
		u.RealName = v
	}
	if u.DisplayName == "" || f.Profile != nil {
		v := ""
		if f.Profile != nil {
			v = f.Profile.DisplayName
		}
		if v == "" {
			v = u.RealName
		}
		u.DisplayName = v
	}
	if u.Icon == nil || f.Icons != nil || f.Profile != nil {
		switch {
		case f.Icons != nil:
			u.Icon = f.Icons
		case f.Profile != nil:
			u.Icon = f.Profile.Raw
		default:
			u.Icon = nil
		}
	}
	if f.IsBot != nil {
		u.Bot = *f.IsBot
	}
	if f.Profile != nil && f.Profile.StatusText != "" {
		u.StatusText = f.Profile.StatusText
	}
	if f.Profile != nil && f.Profile.StatusEmoji != "" {
		u.StatusEmoji = f.Profile.StatusEmoji
	}
	if f.FullBot {
		u.FullBot = true
	}
	if f.Profile != nil || f.Icons != nil {
		// Real profile data promotes a shadow record.
		u.FullBot = false
	}
}

// Load fetches the full user profile and clears Partial.
func (u *User) Load(ctx context.Context) error {
	web := u.store.web(u.TeamID)
	if web == nil {
		return fmt.Errorf("load user %s: %w", u.ID, ErrNoCredentials)
	}
	frag, err := web.UserInfo(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", u.ID, err)
	}
	u.store.mu.Lock()
	u.patch(frag)
	u.Partial = false
	u.store.mu.Unlock()
	return nil
}

// IM returns the direct-message channel with this user, opening one
// remotely on first use.
func (u *User) IM(ctx context.Context) (*Channel, error) {
	u.store.mu.RLock()
	imID := u.imChannelID
	u.store.mu.RUnlock()
	if imID != "" {
		if c := u.store.GetChannel(imID, u.TeamID); c != nil {
			return c, nil
		}
	}
	web := u.store.web(u.TeamID)
	if web == nil {
		return nil, fmt.Errorf("open im with %s: %w", u.ID, ErrNoCredentials)
	}
	frag, err := web.ConversationOpen(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("open im with %s: %w", u.ID, err)
	}
	frag.TeamID = u.TeamID
	ch := u.store.AddChannel(ctx, frag)
	if ch == nil {
		return nil, ErrChannelNotFound
	}
	u.store.mu.Lock()
	u.imChannelID = ch.ID
	u.store.mu.Unlock()
	return ch, nil
}
