package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"
)

const DefaultSeparator = "-"

// Store owns the canonical team map and drives every create-vs-merge
// decision. All inbound fragments (push events, streaming events and REST
// replies alike) enter through the AddX family; notifications leave
// through registered Listeners, gated by each team's startup window.
type Store struct {
	mu sync.RWMutex

	separator string
	webs      IWebRegistry
	teams     map[string]*Team

	// startup holds team ids whose bulk hydration is in flight; add and
	// change notifications for entities under them are swallowed.
	startup map[string]struct{}

	// inflight memoizes pending remote team lookups so a burst of events
	// for one unknown team triggers a single team-info call.
	inflight map[string]chan struct{}

	emitter emitter
}

// NewStore creates a Store resolving outbound calls through webs. An empty
// separator selects DefaultSeparator.
func NewStore(webs IWebRegistry, separator string) *Store {
	if separator == "" {
		separator = DefaultSeparator
	}
	return &Store{
		separator: separator,
		webs:      webs,
		teams:     make(map[string]*Team),
		startup:   make(map[string]struct{}),
		inflight:  make(map[string]chan struct{}),
	}
}

// AddListener registers a notification listener. Listeners cannot be
// removed; register once per consumer.
func (s *Store) AddListener(l *Listener) {
	s.emitter.add(l)
}

// Separator returns the composite-id separator.
func (s *Store) Separator() string {
	return s.separator
}

// ComposeID builds the cross-team-safe qualified id "{team}{sep}{local}".
func (s *Store) ComposeID(teamID, localID string) string {
	return teamID + s.separator + localID
}

// DecomposeID is the inverse of ComposeID, splitting at the first
// separator occurrence.
func (s *Store) DecomposeID(id string) (teamID, localID string) {
	teamID, localID, _ = strings.Cut(id, s.separator)
	return teamID, localID
}

// BeginStartup opens the startup-suppression window for a team. Safe to
// call for a team that does not exist yet.
func (s *Store) BeginStartup(teamID string) {
	s.mu.Lock()
	s.startup[teamID] = struct{}{}
	s.mu.Unlock()
}

// EndStartup closes the startup-suppression window.
func (s *Store) EndStartup(teamID string) {
	s.mu.Lock()
	delete(s.startup, teamID)
	s.mu.Unlock()
}

// InStartup reports whether the team's hydration window is open.
func (s *Store) InStartup(teamID string) bool {
	s.mu.RLock()
	_, ok := s.startup[teamID]
	s.mu.RUnlock()
	return ok
}

func (s *Store) suppressedLocked(teamID string) bool {
	_, ok := s.startup[teamID]
	if ok {
		suppressedTotal.Inc()
	}
	return ok
}

// web resolves the REST client for a team, following the proxy-team
// indirection: calls for a team with FakeID set are issued with the real
// team's credentials.
func (s *Store) web(teamID string) IWebAPI {
	s.mu.RLock()
	if t := s.teams[teamID]; t != nil && t.FakeID != "" {
		teamID = t.FakeID
	}
	s.mu.RUnlock()
	return s.webs.Web(teamID)
}

// AddTeam inserts or patches a team. Purely local: no remote calls.
func (s *Store) AddTeam(f *TeamFragment) *Team {
	if f.ID == "" {
		glog.Errorf("dropping team fragment without id")
		droppedFragmentsTotal.Inc()
		return nil
	}
	s.mu.Lock()
	if t := s.teams[f.ID]; t != nil {
		old := t.clone()
		t.patch(f)
		suppressed := s.suppressedLocked(t.ID)
		s.mu.Unlock()
		if !suppressed {
			s.emitter.changeTeam(old, t)
		}
		return t
	}
	t := newTeam(s, f)
	s.teams[t.ID] = t
	suppressed := s.suppressedLocked(t.ID)
	s.mu.Unlock()
	if !suppressed {
		s.emitter.addTeam(t)
	}
	return t
}

// GetTeam is a pure lookup: nil on miss, never a fetch.
func (s *Store) GetTeam(teamID string) *Team {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.teams[teamID]
}

// Teams returns a snapshot slice of all teams.
func (s *Store) Teams() []*Team {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Team, 0, len(s.teams))
	for _, t := range s.teams {
		out = append(out, t)
	}
	return out
}

// RemoveTeam tears down a team and everything it owns. The only deletion
// path in the store.
func (s *Store) RemoveTeam(teamID string) {
	s.mu.Lock()
	delete(s.teams, teamID)
	delete(s.startup, teamID)
	s.mu.Unlock()
	glog.Infof("team %s removed from store", teamID)
}

// ensureTeam returns the team, fetching its metadata remotely when absent.
// Concurrent callers for the same unknown team share one in-flight lookup.
func (s *Store) ensureTeam(ctx context.Context, teamID string) *Team {
	if teamID == "" {
		return nil
	}
	s.mu.Lock()
	if t := s.teams[teamID]; t != nil {
		s.mu.Unlock()
		return t
	}
	if ch, ok := s.inflight[teamID]; ok {
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil
		}
		return s.GetTeam(teamID)
	}
	ch := make(chan struct{})
	s.inflight[teamID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, teamID)
		s.mu.Unlock()
		close(ch)
	}()

	web := s.webs.Web(teamID)
	if web == nil {
		glog.V(5).Infof("no credentials to look up team %s", teamID)
		return nil
	}
	frag, err := web.TeamInfo(ctx, teamID)
	if err != nil {
		glog.Errorf("team info lookup for %s failed: %v", teamID, err)
		return nil
	}
	return s.AddTeam(frag)
}

// AddUser inserts or patches a user under its team, resolving a missing
// team through one remote lookup.
func (s *Store) AddUser(ctx context.Context, f *UserFragment) *User {
	return s.addUser(ctx, f, true)
}

func (s *Store) addUser(ctx context.Context, f *UserFragment, createTeam bool) *User {
	f.Normalize()
	if f.ID == "" {
		glog.Errorf("dropping user fragment without id")
		droppedFragmentsTotal.Inc()
		return nil
	}
	s.mu.Lock()
	team := s.teams[f.TeamID]
	if team == nil {
		s.mu.Unlock()
		if !createTeam || s.ensureTeam(ctx, f.TeamID) == nil {
			glog.V(5).Infof("dropping user %s: team %s unresolved", f.ID, f.TeamID)
			droppedFragmentsTotal.Inc()
			return nil
		}
		return s.addUser(ctx, f, false)
	}
	if u := team.users[f.ID]; u != nil {
		old := u.clone()
		u.patch(f)
		suppressed := s.suppressedLocked(team.ID)
		s.mu.Unlock()
		if !suppressed {
			s.emitter.changeUser(old, u)
		}
		return u
	}
	u := newUser(s, f)
	team.users[u.ID] = u
	suppressed := s.suppressedLocked(team.ID)
	s.mu.Unlock()
	if !suppressed && !u.FullBot {
		s.emitter.addUser(u)
	}
	return u
}

// GetUser looks a user up without fetching. With an empty teamID the id is
// treated as a qualified composite id. Resolution order: exact team match,
// then teams proxying for the queried id (fakeId), then any team's map as a
// last resort for legacy unqualified lookups. The global fallback is
// first-match in map iteration order, which is implementation-defined
// under id collisions across teams.
func (s *Store) GetUser(userID, teamID string) *User {
	if teamID == "" {
		teamID, userID = s.DecomposeID(userID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.teams[teamID]; t != nil {
		if u := t.users[userID]; u != nil {
			return u
		}
	}
	for _, t := range s.teams {
		if t.FakeID == teamID {
			if u := t.users[userID]; u != nil {
				return u
			}
		}
	}
	for _, t := range s.teams {
		if u := t.users[userID]; u != nil {
			return u
		}
	}
	return nil
}

// AddChannel inserts or patches a channel under its owning team. A shared
// channel's owner is the stamped team id, else the first shared team id.
func (s *Store) AddChannel(ctx context.Context, f *ChannelFragment) *Channel {
	return s.addChannel(ctx, f, true)
}

func (s *Store) addChannel(ctx context.Context, f *ChannelFragment, createTeam bool) *Channel {
	if f.ID == "" {
		glog.Errorf("dropping channel fragment without id")
		droppedFragmentsTotal.Inc()
		return nil
	}
	teamID := f.OwnerTeamID()
	if teamID == "" {
		glog.V(5).Infof("dropping channel %s: no associated team", f.ID)
		droppedFragmentsTotal.Inc()
		return nil
	}
	s.mu.Lock()
	team := s.teams[teamID]
	if team == nil {
		s.mu.Unlock()
		if !createTeam || s.ensureTeam(ctx, teamID) == nil {
			glog.V(5).Infof("dropping channel %s: team %s unresolved", f.ID, teamID)
			droppedFragmentsTotal.Inc()
			return nil
		}
		return s.addChannel(ctx, f, false)
	}
	if c := team.channels[f.ID]; c != nil {
		old := c.clone()
		c.patch(f)
		suppressed := s.suppressedLocked(team.ID)
		s.mu.Unlock()
		if !suppressed {
			s.emitter.changeChannel(old, c)
		}
		return c
	}
	c := newChannel(s, f)
	team.channels[c.ID] = c
	suppressed := s.suppressedLocked(team.ID)
	s.mu.Unlock()
	if !suppressed {
		s.emitter.addChannel(c)
	}
	return c
}

// GetChannel looks a channel up without fetching. With an empty teamID the
// id is treated as a qualified composite id.
func (s *Store) GetChannel(channelID, teamID string) *Channel {
	if teamID == "" {
		teamID, channelID = s.DecomposeID(channelID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.teams[teamID]; t != nil {
		if c := t.channels[channelID]; c != nil {
			return c
		}
	}
	for _, t := range s.teams {
		if t.FakeID == teamID {
			if c := t.channels[channelID]; c != nil {
				return c
			}
		}
	}
	return nil
}

// AddBot inserts or patches a bot under its team. A bot with no bound user
// record gets a shadow user synthesized alongside it, so author and
// presence lookups by bot id resolve through the user map.
func (s *Store) AddBot(ctx context.Context, f *BotFragment) *Bot {
	return s.addBot(ctx, f, true)
}

func (s *Store) addBot(ctx context.Context, f *BotFragment, createTeam bool) *Bot {
	f.Normalize()
	if f.BotID == "" {
		glog.Errorf("dropping bot fragment without id")
		droppedFragmentsTotal.Inc()
		return nil
	}
	s.mu.Lock()
	team := s.teams[f.TeamID]
	if team == nil {
		s.mu.Unlock()
		if !createTeam || s.ensureTeam(ctx, f.TeamID) == nil {
			glog.V(5).Infof("dropping bot %s: team %s unresolved", f.BotID, f.TeamID)
			droppedFragmentsTotal.Inc()
			return nil
		}
		return s.addBot(ctx, f, false)
	}

	var bot *Bot
	var notify func()
	if b := team.bots[f.BotID]; b != nil {
		old := b.clone()
		b.patch(f)
		bot = b
		notify = func() { s.emitter.changeBot(old, b) }
	} else {
		b := newBot(s, f)
		team.bots[b.ID] = b
		bot = b
		notify = func() { s.emitter.addBot(b) }
	}
	suppressed := s.suppressedLocked(team.ID)
	shadow := team.users[bot.ID] == nil && bot.UserID == ""
	s.mu.Unlock()
	if !suppressed {
		notify()
	}
	if shadow {
		isBot := true
		name := bot.Name
		s.addUser(ctx, &UserFragment{
			ID:      bot.ID,
			TeamID:  f.TeamID,
			Name:    &name,
			IsBot:   &isBot,
			FullBot: true,
		}, false)
	}
	return bot
}

// GetBot looks a bot up without fetching. With an empty teamID the id is
// treated as a qualified composite id.
func (s *Store) GetBot(botID, teamID string) *Bot {
	if teamID == "" {
		teamID, botID = s.DecomposeID(botID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.teams[teamID]; t != nil {
		if b := t.bots[botID]; b != nil {
			return b
		}
	}
	return nil
}

// GetUserOrBot resolves an ambiguous author id, users first.
func (s *Store) GetUserOrBot(id, teamID string) Author {
	if u := s.GetUser(id, teamID); u != nil {
		return u
	}
	if b := s.GetBot(id, teamID); b != nil {
		return b
	}
	return nil
}

// MemberJoined records channel membership directly, bypassing patch, and
// notifies. Unresolvable references are dropped.
func (s *Store) MemberJoined(teamID, userID, channelID string) {
	u := s.GetUser(userID, teamID)
	c := s.GetChannel(channelID, teamID)
	if u == nil || c == nil {
		glog.V(5).Infof("dropping member_joined: user=%s channel=%s team=%s", userID, channelID, teamID)
		droppedFragmentsTotal.Inc()
		return
	}
	s.mu.Lock()
	c.members[u.ID] = u
	s.mu.Unlock()
	s.emitter.memberJoinedChannel(u, c)
}

// MemberLeft removes channel membership directly and notifies.
func (s *Store) MemberLeft(teamID, userID, channelID string) {
	u := s.GetUser(userID, teamID)
	c := s.GetChannel(channelID, teamID)
	if u == nil || c == nil {
		glog.V(5).Infof("dropping member_left: user=%s channel=%s team=%s", userID, channelID, teamID)
		droppedFragmentsTotal.Inc()
		return
	}
	s.mu.Lock()
	delete(c.members, u.ID)
	s.mu.Unlock()
	s.emitter.memberLeftChannel(u, c)
}

// HandleTyping notifies a typing indicator when both ends resolve.
func (s *Store) HandleTyping(teamID, channelID, authorID string) {
	c := s.GetChannel(channelID, teamID)
	u := s.GetUser(authorID, teamID)
	if c == nil || u == nil {
		return
	}
	s.emitter.typing(c, u)
}

// HandlePresence notifies a presence change when the user resolves.
func (s *Store) HandlePresence(teamID, authorID, presence string) {
	u := s.GetUser(authorID, teamID)
	if u == nil {
		return
	}
	s.emitter.presenceChange(u, presence)
}

// Connected notifies listeners that a transport came up.
func (s *Store) Connected() { s.emitter.connected() }

// Disconnected notifies listeners that the transports went away.
func (s *Store) Disconnected() { s.emitter.disconnected() }

// channelAndAuthor resolves the channel and author of a content fragment.
// A source_team differing from the delivery team means the message crossed
// a shared channel from a foreign workspace: the store fabricates a proxy
// team (FakeID pointing at the delivery team) and hydrates it with the
// delivery team's credentials.
func (s *Store) channelAndAuthor(ctx context.Context, f *MessageFragment) (*Channel, Author, error) {
	teamID := f.TeamID
	if team := s.GetTeam(teamID); team != nil && team.Partial {
		if err := team.Load(ctx); err != nil {
			return nil, nil, err
		}
	}

	sourceTeamID := teamID
	if f.SourceTeam != "" && f.SourceTeam != teamID {
		sourceTeamID = f.SourceTeam
		src := s.GetTeam(sourceTeamID)
		if src == nil {
			s.BeginStartup(sourceTeamID)
			src = s.AddTeam(&TeamFragment{ID: sourceTeamID, FakeID: teamID})
			err := src.Load(ctx)
			s.EndStartup(sourceTeamID)
			if err != nil {
				return nil, nil, err
			}
		} else if src.Partial {
			if err := src.Load(ctx); err != nil {
				return nil, nil, err
			}
		}
	}

	channelID := f.Channel
	if channelID == "" && f.Item != nil {
		channelID = f.Item.Channel
	}
	channel := s.GetChannel(channelID, teamID)
	if channel == nil {
		return nil, nil, fmt.Errorf("channel %s in team %s: %w", channelID, teamID, ErrChannelNotFound)
	}

	userID, botID := f.User, f.BotID
	for _, sub := range []*MessageFragment{f.Message, f.PrevMessage} {
		if sub == nil {
			continue
		}
		if userID == "" {
			userID = sub.User
		}
		if botID == "" {
			botID = sub.BotID
		}
	}

	var author Author
	switch {
	case userID != "":
		if u := s.GetUser(userID, sourceTeamID); u != nil {
			author = u
		} else if u := s.AddUser(ctx, &UserFragment{ID: userID, TeamID: sourceTeamID}); u != nil {
			author = u
		}
	case botID != "":
		if b := s.GetBot(botID, sourceTeamID); b != nil {
			author = b
		} else if b := s.AddBot(ctx, &BotFragment{BotID: botID, TeamID: sourceTeamID}); b != nil {
			author = b
		}
	}
	if author == nil {
		return nil, nil, fmt.Errorf("author of %s: %w", f.TS, ErrAuthorNotFound)
	}
	return channel, author, nil
}

// Protocol-noise message subtypes: no notification, no state change.
var filteredSubtypes = map[string]struct{}{
	"channel_join":    {},
	"channel_name":    {},
	"group_join":      {},
	"group_name":      {},
	"message_replied": {},
}

// HandleMessage routes a content fragment into exactly one of the message,
// messageChanged or messageDeleted notifications, or filters it out.
func (s *Store) HandleMessage(ctx context.Context, f *MessageFragment) error {
	if _, noise := filteredSubtypes[f.Subtype]; noise {
		glog.V(5).Infof("filtered message subtype %q", f.Subtype)
		return nil
	}
	channel, author, err := s.channelAndAuthor(ctx, f)
	if err != nil {
		glog.Errorf("dropping message %s: %v", f.TS, err)
		droppedFragmentsTotal.Inc()
		return err
	}
	switch f.Subtype {
	case "message_changed":
		if f.PrevMessage == nil || f.Message == nil {
			droppedFragmentsTotal.Inc()
			return fmt.Errorf("message_changed without nested payloads: %w", ErrBadFragment)
		}
		old := newMessage(channel, author, f.PrevMessage)
		cur := newMessage(channel, author, f.Message)
		s.emitter.messageChanged(old, cur)
	case "message_deleted":
		if f.PrevMessage == nil {
			droppedFragmentsTotal.Inc()
			return fmt.Errorf("message_deleted without previous_message: %w", ErrBadFragment)
		}
		s.emitter.messageDeleted(newMessage(channel, author, f.PrevMessage))
	default:
		s.emitter.message(newMessage(channel, author, f))
	}
	return nil
}

// HandleReaction resolves the reacted-to item into a fresh Message and
// notifies reactionAdded or reactionRemoved. The message's author is the
// original item's author when the payload names one, the reactor
// otherwise.
func (s *Store) HandleReaction(ctx context.Context, f *ReactionFragment, removed bool) error {
	authorID := f.ItemUser
	if authorID == "" {
		authorID = f.User
	}
	mf := &MessageFragment{
		TeamID: f.TeamID,
		User:   authorID,
		Item:   f.Item,
	}
	channel, author, err := s.channelAndAuthor(ctx, mf)
	if err != nil {
		glog.Errorf("dropping reaction %s: %v", f.Reaction, err)
		droppedFragmentsTotal.Inc()
		return err
	}
	var itemFrag MessageFragment
	if f.Item != nil {
		itemFrag.TS = f.Item.TS
		itemFrag.Channel = f.Item.Channel
	}
	msg := newMessage(channel, author, &itemFrag)
	r := newReaction(f, msg)
	if removed {
		s.emitter.reactionRemoved(r)
	} else {
		s.emitter.reactionAdded(r)
	}
	return nil
}
