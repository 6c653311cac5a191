package store

import (
	"context"
	"fmt"
)

type ChannelType string

const (
	ChannelTypeChannel ChannelType = "channel"
	ChannelTypeGroup   ChannelType = "group"
	ChannelTypeMPIM    ChannelType = "mpim"
	ChannelTypeIM      ChannelType = "im"
	ChannelTypeUnknown ChannelType = "unknown"
)

// Channel is a conversation: public/private channel, group DM or direct
// message. Its type is re-derived from the remote boolean flags on every
// patch, since a conversation can convert (a group becoming a public
// channel, for instance).
type Channel struct {
	ID      string
	TeamID  string
	Name    string
	Type    ChannelType
	Topic   string
	Purpose string
	Private bool
	Partial bool

	store   *Store
	members map[string]*User
}

func newChannel(s *Store, f *ChannelFragment) *Channel {
	c := &Channel{
		TeamID:  f.OwnerTeamID(),
		Partial: true,
		store:   s,
		members: make(map[string]*User),
	}
	c.patch(f)
	return c
}

// Team resolves the owning team through the store.
func (c *Channel) Team() *Team {
	return c.store.GetTeam(c.TeamID)
}

// FullID is the cross-team-safe qualified id.
func (c *Channel) FullID() string {
	return c.store.ComposeID(c.TeamID, c.ID)
}

// Member returns the member with the given id, nil on miss.
func (c *Channel) Member(id string) *User {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	return c.members[id]
}

// Members returns a snapshot slice of the channel's members.
func (c *Channel) Members() []*User {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	out := make([]*User, 0, len(c.members))
	for _, u := range c.members {
		out = append(out, u)
	}
	return out
}

func (c *Channel) clone() *Channel {
	cp := *c
	cp.members = make(map[string]*User, len(c.members))
	for k, v := range c.members {
		cp.members[k] = v
	}
	return &cp
}

// patch applies a channel fragment. Type precedence is fixed:
// is_channel > is_mpim > is_group > is_im, unknown when no flag is set.
// An im is always private.
func (c *Channel) patch(f *ChannelFragment) {
	if f.ID != "" {
		c.ID = f.ID
	}
	if f.Name != nil {
		c.Name = *f.Name
	}
	switch {
	case f.IsChannel:
		c.Type = ChannelTypeChannel
	case f.IsMPIM:
		c.Type = ChannelTypeMPIM
	case f.IsGroup:
		c.Type = ChannelTypeGroup
	case f.IsIM:
		c.Type = ChannelTypeIM
	default:
		c.Type = ChannelTypeUnknown
	}
	if f.Topic != nil {
		c.Topic = f.Topic.Value
	}
	if f.Purpose != nil {
		c.Purpose = f.Purpose.Value
	}
	c.Private = f.IsIM || (f.Private != nil && *f.Private)
	if f.User != nil {
		if t := c.store.teams[c.TeamID]; t != nil {
			if u := t.users[*f.User]; u != nil {
				c.members[u.ID] = u
			}
		}
	}
}

// Load fetches the full conversation info and the cursor-paginated member
// listing, then clears Partial. Members not yet present in the team's user
// map are skipped; they attach when their user fragment arrives.
func (c *Channel) Load(ctx context.Context) error {
	web := c.store.web(c.TeamID)
	if web == nil {
		return fmt.Errorf("load channel %s: %w", c.ID, ErrNoCredentials)
	}

	frag, err := web.ConversationInfo(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("load channel %s: %w", c.ID, err)
	}
	c.store.mu.Lock()
	c.patch(frag)
	c.store.mu.Unlock()

	cursor := ""
	for {
		memberIDs, next, err := web.ConversationMembers(ctx, c.ID, cursor)
		if err != nil {
			return fmt.Errorf("load channel %s members: %w", c.ID, err)
		}
		c.store.mu.Lock()
		if t := c.store.teams[c.TeamID]; t != nil {
			for _, id := range memberIDs {
				if u := t.users[id]; u != nil {
					c.members[u.ID] = u
				}
			}
		}
		c.store.mu.Unlock()
		if next == "" {
			break
		}
		cursor = next
	}

	c.store.mu.Lock()
	c.Partial = false
	c.store.mu.Unlock()
	return nil
}
