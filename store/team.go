package store

import (
	"context"
	"fmt"

	"github.com/golang/glog"
)

// Team is a workspace: the top-level tenant boundary owning the user,
// channel and bot maps. A Team starts partial and stays that way until
// Load has run a full hydration pass.
type Team struct {
	ID             string
	Name           string
	Domain         string
	EmailDomain    string
	Icon           IconMap
	EnterpriseID   string
	EnterpriseName string

	// FakeID, when set, marks this Team as a proxy standing in for a
	// workspace the local credentials do not belong to. It names the
	// real team whose credentials are used for any remote call.
	FakeID string

	Partial bool

	store    *Store
	users    map[string]*User
	channels map[string]*Channel
	bots     map[string]*Bot
}

func newTeam(s *Store, f *TeamFragment) *Team {
	t := &Team{
		Partial:  true,
		store:    s,
		users:    make(map[string]*User),
		channels: make(map[string]*Channel),
		bots:     make(map[string]*Bot),
	}
	t.patch(f)
	return t
}

// clone snapshots the team for change diffing. The child maps are copied
// so the snapshot does not alias the live containers.
func (t *Team) clone() *Team {
	c := *t
	c.users = make(map[string]*User, len(t.users))
	for k, v := range t.users {
		c.users[k] = v
	}
	c.channels = make(map[string]*Channel, len(t.channels))
	for k, v := range t.channels {
		c.channels[k] = v
	}
	c.bots = make(map[string]*Bot, len(t.bots))
	for k, v := range t.bots {
		c.bots[k] = v
	}
	return &c
}

func (t *Team) patch(f *TeamFragment) {
	if f.ID != "" {
		t.ID = f.ID
	}
	if f.Name != nil {
		t.Name = *f.Name
	}
	if f.Domain != nil {
		t.Domain = *f.Domain
	}
	if f.EmailDomain != nil {
		t.EmailDomain = *f.EmailDomain
	}
	if f.Icon != nil {
		t.Icon = f.Icon
	}
	if f.EnterpriseID != nil {
		t.EnterpriseID = *f.EnterpriseID
	}
	if f.EnterpriseName != nil {
		t.EnterpriseName = *f.EnterpriseName
	}
	if f.FakeID != "" {
		t.FakeID = f.FakeID
	}
}

// User returns the team member with the given local id, nil on miss.
func (t *Team) User(id string) *User {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.users[id]
}

// Channel returns the channel with the given local id, nil on miss.
func (t *Team) Channel(id string) *Channel {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.channels[id]
}

// Bot returns the bot with the given local id, nil on miss.
func (t *Team) Bot(id string) *Bot {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.bots[id]
}

// Users returns a snapshot slice of the team's users.
func (t *Team) Users() []*User {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	out := make([]*User, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, u)
	}
	return out
}

// Channels returns a snapshot slice of the team's channels.
func (t *Team) Channels() []*Channel {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	out := make([]*Channel, 0, len(t.channels))
	for _, c := range t.channels {
		out = append(out, c)
	}
	return out
}

// Bots returns a snapshot slice of the team's bots.
func (t *Team) Bots() []*Bot {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	out := make([]*Bot, 0, len(t.bots))
	for _, b := range t.bots {
		out = append(out, b)
	}
	return out
}

// Load hydrates the team: its own metadata, then every channel and every
// member through cursor-paginated listings. Listed fragments flow through
// the store's regular add paths, so a team in its startup window hydrates
// without emitting a single notification. Clears Partial on success.
//
// For a proxy team the calls are issued with the owning team's
// credentials; the remote team id is never dialed directly.
func (t *Team) Load(ctx context.Context) error {
	web := t.store.web(t.ID)
	if web == nil {
		return fmt.Errorf("load team %s: %w", t.ID, ErrNoCredentials)
	}

	frag, err := web.TeamInfo(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("load team %s: %w", t.ID, err)
	}
	t.store.mu.Lock()
	t.patch(frag)
	t.store.mu.Unlock()

	cursor := ""
	for {
		frags, next, err := web.ConversationsList(ctx, cursor)
		if err != nil {
			return fmt.Errorf("load team %s channels: %w", t.ID, err)
		}
		for _, cf := range frags {
			cf.TeamID = t.ID
			t.store.AddChannel(ctx, cf)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	cursor = ""
	for {
		frags, next, err := web.UsersList(ctx, cursor)
		if err != nil {
			return fmt.Errorf("load team %s users: %w", t.ID, err)
		}
		for _, uf := range frags {
			if uf.TeamID == "" {
				uf.TeamID = t.ID
			}
			t.store.AddUser(ctx, uf)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	t.store.mu.Lock()
	t.Partial = false
	nc, nu := len(t.channels), len(t.users)
	t.store.mu.Unlock()

	glog.V(5).Infof("team %s loaded: %d channels, %d users", t.ID, nc, nu)
	return nil
}
