// Package slackmirror maintains a live client-side mirror of the object
// graph of one or more Slack workspaces: teams, users, channels and bots,
// kept current from streaming events, push events and REST hydration.
package slackmirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/leliel/slackmirror/auth"
	"github.com/leliel/slackmirror/events"
	"github.com/leliel/slackmirror/rtm"
	"github.com/leliel/slackmirror/store"
	"github.com/leliel/slackmirror/web"
)

// ClientOpts configures a Client. Zero-value works for a single-token,
// RTM-connected mirror.
type ClientOpts struct {
	// Separator for composite ids, store.DefaultSeparator when empty.
	Separator string

	// NoRTM disables streaming connections; the mirror then only moves on
	// push events and explicit loads.
	NoRTM bool

	// Events enables the push-event endpoint. Nil disables it.
	Events *events.Config

	// Tokens persists workspace credentials. Nil falls back to an
	// in-memory store.
	Tokens auth.TokenStore

	// APIBaseURL overrides the REST endpoint for every created web
	// client. Meant for tests and API-compatible proxies.
	APIBaseURL string
}

// Client ties the transports to the entity store: it owns the per-team web
// clients, the streaming connections, and the event router feeding the
// store.
type Client struct {
	opts     ClientOpts
	store    *store.Store
	registry *web.Registry
	tokens   auth.TokenStore
	events   *events.Server

	mu     sync.Mutex
	conns  map[string]*rtm.Conn
	selves map[string]string
}

func New(opts ClientOpts) *Client {
	c := &Client{
		opts:     opts,
		registry: web.NewRegistry(),
		tokens:   opts.Tokens,
		conns:    make(map[string]*rtm.Conn),
		selves:   make(map[string]string),
	}
	if c.tokens == nil {
		c.tokens = auth.NewMemStore()
	}
	c.store = store.NewStore(c.registry, opts.Separator)
	if opts.Events != nil {
		c.events = events.NewServer(*opts.Events, c, c.tokens)
	}
	return c
}

// Store exposes the entity store for lookups and listener registration.
func (c *Client) Store() *store.Store { return c.store }

// AddListener registers a notification listener on the store.
func (c *Client) AddListener(l *store.Listener) { c.store.AddListener(l) }

// EventsHandler returns the push-event HTTP handler, nil when the endpoint
// is disabled.
func (c *Client) EventsHandler() http.Handler {
	if c.events == nil {
		return nil
	}
	return c.events.Handler()
}

// Self returns the mirror's own user identity in a team, nil before that
// team's token is added.
func (c *Client) Self(teamID string) *store.User {
	c.mu.Lock()
	userID := c.selves[teamID]
	c.mu.Unlock()
	if userID == "" {
		return nil
	}
	return c.store.GetUser(userID, teamID)
}

// AddToken registers a workspace credential and bootstraps its mirror:
// resolve the token's identity, hydrate the team under a startup window,
// then connect the stream. Also persists the token.
func (c *Client) AddToken(ctx context.Context, token, cookie string) error {
	wc := c.newWebClient(token, cookie)
	id, err := wc.AuthTest(ctx)
	if err != nil {
		return fmt.Errorf("add token: %w", err)
	}
	t := &auth.Token{TeamID: id.TeamID, UserID: id.UserID, Token: token, Cookie: cookie}
	if err := c.tokens.Put(t); err != nil {
		glog.Errorf("persist token for %s: %v", id.TeamID, err)
	}
	return c.bootstrap(ctx, t, wc)
}

// TokenAdded bootstraps a workspace from an already-persisted token. Part
// of the events sink contract.
func (c *Client) TokenAdded(ctx context.Context, t *auth.Token) error {
	return c.bootstrap(ctx, t, c.newWebClient(t.Token, t.Cookie))
}

func (c *Client) newWebClient(token, cookie string) *web.Client {
	wc := web.NewClient(token, cookie)
	if c.opts.APIBaseURL != "" {
		wc.BaseURL = c.opts.APIBaseURL
	}
	return wc
}

func (c *Client) bootstrap(ctx context.Context, t *auth.Token, wc *web.Client) error {
	c.registry.Add(t.TeamID, wc)

	c.store.BeginStartup(t.TeamID)
	team := c.store.AddTeam(&store.TeamFragment{ID: t.TeamID})
	err := team.Load(ctx)
	if err == nil && t.UserID != "" {
		if u := c.store.GetUser(t.UserID, t.TeamID); u == nil {
			c.store.AddUser(ctx, &store.UserFragment{ID: t.UserID, TeamID: t.TeamID})
		}
	}
	c.store.EndStartup(t.TeamID)
	if err != nil {
		c.registry.Remove(t.TeamID)
		return fmt.Errorf("bootstrap team %s: %w", t.TeamID, err)
	}

	c.mu.Lock()
	c.selves[t.TeamID] = t.UserID
	alreadyConnected := c.conns[t.TeamID] != nil
	c.mu.Unlock()

	if !c.opts.NoRTM && !alreadyConnected {
		conn := rtm.NewConn(t.TeamID, wc, c)
		c.mu.Lock()
		c.conns[t.TeamID] = conn
		c.mu.Unlock()
		conn.Start(ctx)
	}

	glog.Infof("team %s mirrored as user %s", t.TeamID, t.UserID)
	return nil
}

// Connect bootstraps every persisted token.
func (c *Client) Connect(ctx context.Context) error {
	toks, err := c.tokens.List()
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	for _, t := range toks {
		if err := c.TokenAdded(ctx, t); err != nil {
			glog.Errorf("connect: %v", err)
		}
	}
	return nil
}

// Disconnect stops every streaming connection. The mirrored state stays.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conns := make([]*rtm.Conn, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.conns = make(map[string]*rtm.Conn)
	c.mu.Unlock()

	for _, conn := range conns {
		conn.Stop()
	}
}

// RTMConnected implements rtm.Sink.
func (c *Client) RTMConnected(teamID string) { c.store.Connected() }

// RTMDisconnected implements rtm.Sink.
func (c *Client) RTMDisconnected(teamID string) { c.store.Disconnected() }

// HandleRTMEvent implements rtm.Sink: streaming frames feed the same
// router as push events.
func (c *Client) HandleRTMEvent(teamID, eventType string, raw []byte) {
	c.route(context.Background(), teamID, eventType, raw)
}

// HandlePushEvent implements events.Sink.
func (c *Client) HandlePushEvent(teamID, eventType string, raw []byte) {
	c.route(context.Background(), teamID, eventType, raw)
}

// AppUninstalled implements events.Sink: full teardown of the team.
func (c *Client) AppUninstalled(teamID string) {
	c.mu.Lock()
	conn := c.conns[teamID]
	delete(c.conns, teamID)
	delete(c.selves, teamID)
	c.mu.Unlock()
	if conn != nil {
		conn.Stop()
	}
	c.registry.Remove(teamID)
	c.store.RemoveTeam(teamID)
	if err := c.tokens.Delete(teamID); err != nil && err != auth.ErrNotFound {
		glog.Errorf("drop token for %s: %v", teamID, err)
	}
}

// route decodes one event payload into the matching store operation. The
// delivering connection's team id is stamped onto fragments whose protocol
// reports it out-of-band.
func (c *Client) route(ctx context.Context, teamID, eventType string, raw []byte) {
	var err error
	switch eventType {
	case "message":
		var f struct {
			store.MessageFragment
			Team string `json:"team"`
		}
		if err = json.Unmarshal(raw, &f); err == nil {
			frag := f.MessageFragment
			if frag.TeamID == "" {
				frag.TeamID = f.Team
			}
			if frag.TeamID == "" {
				frag.TeamID = teamID
			}
			err = c.store.HandleMessage(ctx, &frag)
		}

	case "reaction_added", "reaction_removed":
		var f store.ReactionFragment
		if err = json.Unmarshal(raw, &f); err == nil {
			if f.TeamID == "" {
				f.TeamID = teamID
			}
			err = c.store.HandleReaction(ctx, &f, eventType == "reaction_removed")
		}

	case "team_join", "user_change":
		var f struct {
			User *store.UserFragment `json:"user"`
		}
		if err = json.Unmarshal(raw, &f); err == nil && f.User != nil {
			if f.User.TeamID == "" {
				f.User.TeamID = teamID
			}
			c.store.AddUser(ctx, f.User)
		}

	case "bot_added", "bot_changed":
		var f struct {
			Bot *store.BotFragment `json:"bot"`
		}
		if err = json.Unmarshal(raw, &f); err == nil && f.Bot != nil {
			if f.Bot.TeamID == "" {
				f.Bot.TeamID = teamID
			}
			c.store.AddBot(ctx, f.Bot)
		}

	case "channel_created", "channel_joined", "channel_rename",
		"group_joined", "group_rename", "im_created":
		var f struct {
			Channel *store.ChannelFragment `json:"channel"`
		}
		if err = json.Unmarshal(raw, &f); err == nil && f.Channel != nil {
			if f.Channel.TeamID == "" {
				f.Channel.TeamID = teamID
			}
			c.store.AddChannel(ctx, f.Channel)
		}

	case "member_joined_channel", "member_left_channel":
		var f struct {
			User    string `json:"user"`
			Channel string `json:"channel"`
			Team    string `json:"team"`
		}
		if err = json.Unmarshal(raw, &f); err == nil {
			if f.Team == "" {
				f.Team = teamID
			}
			if eventType == "member_joined_channel" {
				c.store.MemberJoined(f.Team, f.User, f.Channel)
			} else {
				c.store.MemberLeft(f.Team, f.User, f.Channel)
			}
		}

	case "team_rename":
		var f struct {
			Name string `json:"name"`
		}
		if err = json.Unmarshal(raw, &f); err == nil && f.Name != "" {
			c.store.AddTeam(&store.TeamFragment{ID: teamID, Name: &f.Name})
		}

	case "team_domain_change":
		var f struct {
			Domain string `json:"domain"`
		}
		if err = json.Unmarshal(raw, &f); err == nil && f.Domain != "" {
			c.store.AddTeam(&store.TeamFragment{ID: teamID, Domain: &f.Domain})
		}

	case "team_pref_change", "team_profile_change":
		// Prefs arrive as loose key/value pairs; refresh the whole record.
		if api := c.registry.Web(teamID); api != nil {
			if frag, ferr := api.TeamInfo(ctx, teamID); ferr == nil {
				c.store.AddTeam(frag)
			} else {
				err = ferr
			}
		}

	case "user_typing":
		var f struct {
			Channel string `json:"channel"`
			User    string `json:"user"`
		}
		if err = json.Unmarshal(raw, &f); err == nil {
			c.store.HandleTyping(teamID, f.Channel, f.User)
		}

	case "presence_change":
		var f struct {
			User     string   `json:"user"`
			Users    []string `json:"users"`
			Presence string   `json:"presence"`
		}
		if err = json.Unmarshal(raw, &f); err == nil {
			if f.User != "" {
				c.store.HandlePresence(teamID, f.User, f.Presence)
			}
			for _, u := range f.Users {
				c.store.HandlePresence(teamID, u, f.Presence)
			}
		}

	case "app_uninstalled":
		c.AppUninstalled(teamID)

	default:
		glog.V(5).Infof("route: unhandled %s event for %s", eventType, teamID)
	}

	if err != nil {
		glog.Errorf("route: %s event for %s: %v", eventType, teamID, err)
	}
}

// JoinAllChannels joins the team's self user into every public channel it
// is not yet a member of. Join replies flow back into the store.
func (c *Client) JoinAllChannels(ctx context.Context, teamID string) error {
	wc := c.registry.Client(teamID)
	if wc == nil {
		return store.ErrNoCredentials
	}
	cursor := ""
	for {
		frags, next, err := wc.ConversationsList(ctx, cursor)
		if err != nil {
			return fmt.Errorf("join all %s: %w", teamID, err)
		}
		for _, f := range frags {
			if !f.IsChannel || (f.Private != nil && *f.Private) {
				continue
			}
			joined, err := wc.ConversationsJoin(ctx, f.ID)
			if err != nil {
				glog.Errorf("join %s in %s: %v", f.ID, teamID, err)
				continue
			}
			if joined != nil {
				if joined.TeamID == "" {
					joined.TeamID = teamID
				}
				c.store.AddChannel(ctx, joined)
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// DownloadFile fetches a private file URL with the bearer token of the
// workspace hosting it, matched by the team domain or id in the URL.
func (c *Client) DownloadFile(ctx context.Context, fileURL string) ([]byte, error) {
	var token string
	c.registry.Each(func(teamID string, wc *web.Client) {
		if token != "" {
			return
		}
		team := c.store.GetTeam(teamID)
		if team != nil && team.Domain != "" && strings.Contains(fileURL, "://"+team.Domain+".") {
			token = wc.Token()
			return
		}
		if strings.Contains(fileURL, teamID) {
			token = wc.Token()
		}
	})
	if token == "" {
		// Any token beats none for enterprise-shared files.
		c.registry.Each(func(_ string, wc *web.Client) {
			if token == "" {
				token = wc.Token()
			}
		})
	}
	if token == "" {
		return nil, store.ErrNoCredentials
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d: %w", fileURL, resp.StatusCode, web.ErrBadResponse)
	}
	return io.ReadAll(resp.Body)
}
