package slackmirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leliel/slackmirror/auth"
	"github.com/leliel/slackmirror/store"
)

// fakeSlack answers the REST calls a bootstrap issues.
func fakeSlack(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth.test", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"team":"acme","user":"mirror","team_id":"T1","user_id":"U0"}`))
	})
	mux.HandleFunc("/team.info", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"team":{"id":"T1","name":"acme","domain":"acme"}}`))
	})
	mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"channels":[{"id":"C1","name":"general","is_channel":true}],"response_metadata":{"next_cursor":""}}`))
	})
	mux.HandleFunc("/users.list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"members":[{"id":"U0","name":"mirror"},{"id":"U1","name":"alice"}],"response_metadata":{"next_cursor":""}}`))
	})
	mux.HandleFunc("/conversations.join", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Write([]byte(`{"ok":true,"channel":{"id":"` + r.Form.Get("channel") + `","is_channel":true}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	srv := fakeSlack(t)
	return New(ClientOpts{NoRTM: true, APIBaseURL: srv.URL})
}

func bootstrapT1(t *testing.T, c *Client) {
	t.Helper()
	require.NoError(t, c.AddToken(context.Background(), "xoxb-test", ""))
}

func TestAddTokenBootstraps(t *testing.T) {
	c := newTestClient(t)

	var mu sync.Mutex
	var kinds []string
	c.AddListener(&store.Listener{
		AddUser:    func(*store.User) { mu.Lock(); kinds = append(kinds, "addUser"); mu.Unlock() },
		AddChannel: func(*store.Channel) { mu.Lock(); kinds = append(kinds, "addChannel"); mu.Unlock() },
		AddTeam:    func(*store.Team) { mu.Lock(); kinds = append(kinds, "addTeam"); mu.Unlock() },
	})

	bootstrapT1(t, c)

	team := c.Store().GetTeam("T1")
	require.NotNil(t, team)
	assert.Equal(t, "acme", team.Name)
	assert.False(t, team.Partial)
	assert.Len(t, team.Users(), 2)
	assert.Len(t, team.Channels(), 1)

	self := c.Self("T1")
	require.NotNil(t, self)
	assert.Equal(t, "U0", self.ID)

	// Bootstrap hydration runs suppressed.
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, kinds)

	tok, err := c.tokens.Get("T1")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-test", tok.Token)
}

func TestRouteMessage(t *testing.T) {
	c := newTestClient(t)
	bootstrapT1(t, c)

	var mu sync.Mutex
	var msgs []*store.Message
	c.AddListener(&store.Listener{
		Message: func(m *store.Message) { mu.Lock(); msgs = append(msgs, m); mu.Unlock() },
	})

	c.HandleRTMEvent("T1", "message", []byte(`{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"100.1","team":"T1"}`))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
	assert.Equal(t, "U1", msgs[0].Author.AuthorID())
	assert.Equal(t, "C1", msgs[0].Channel.ID)
}

func TestRouteEntityLifecycle(t *testing.T) {
	c := newTestClient(t)
	bootstrapT1(t, c)

	c.HandlePushEvent("T1", "team_join", []byte(`{"type":"team_join","user":{"id":"U9","name":"newbie"}}`))
	u := c.Store().GetUser("U9", "T1")
	require.NotNil(t, u)
	assert.Equal(t, "newbie", u.Name)

	c.HandlePushEvent("T1", "channel_created", []byte(`{"type":"channel_created","channel":{"id":"C9","name":"random","is_channel":true}}`))
	ch := c.Store().GetChannel("C9", "T1")
	require.NotNil(t, ch)
	assert.Equal(t, store.ChannelTypeChannel, ch.Type)

	c.HandlePushEvent("T1", "channel_rename", []byte(`{"type":"channel_rename","channel":{"id":"C9","name":"renamed","is_channel":true}}`))
	assert.Equal(t, "renamed", ch.Name)

	c.HandlePushEvent("T1", "team_rename", []byte(`{"type":"team_rename","name":"acme2"}`))
	assert.Equal(t, "acme2", c.Store().GetTeam("T1").Name)

	c.HandlePushEvent("T1", "member_joined_channel", []byte(`{"type":"member_joined_channel","user":"U1","channel":"C9","team":"T1"}`))
	assert.NotNil(t, ch.Member("U1"))
}

func TestRouteReactionAndPresence(t *testing.T) {
	c := newTestClient(t)
	bootstrapT1(t, c)

	var mu sync.Mutex
	var reactions []*store.Reaction
	var presences []string
	c.AddListener(&store.Listener{
		ReactionAdded:  func(r *store.Reaction) { mu.Lock(); reactions = append(reactions, r); mu.Unlock() },
		PresenceChange: func(u *store.User, p string) { mu.Lock(); presences = append(presences, u.ID+"="+p); mu.Unlock() },
	})

	c.HandleRTMEvent("T1", "reaction_added", []byte(`{"type":"reaction_added","user":"U1","reaction":"tada","item":{"type":"message","channel":"C1","ts":"100.1"},"ts":"101.0"}`))
	c.HandleRTMEvent("T1", "presence_change", []byte(`{"type":"presence_change","user":"U1","presence":"away"}`))
	c.HandleRTMEvent("T1", "presence_change", []byte(`{"type":"presence_change","users":["U0","U1"],"presence":"active"}`))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reactions, 1)
	assert.Equal(t, "tada", reactions[0].Reaction)
	assert.Equal(t, []string{"U1=away", "U0=active", "U1=active"}, presences)
}

func TestAppUninstalledTeardown(t *testing.T) {
	c := newTestClient(t)
	bootstrapT1(t, c)

	c.HandlePushEvent("T1", "app_uninstalled", []byte(`{"type":"app_uninstalled"}`))

	assert.Nil(t, c.Store().GetTeam("T1"))
	assert.Nil(t, c.Self("T1"))
	_, err := c.tokens.Get("T1")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	// Events for the removed team drop without panicking.
	c.HandlePushEvent("T1", "message", []byte(`{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"1.0"}`))
}

func TestConnectFromPersistedTokens(t *testing.T) {
	srv := fakeSlack(t)
	tokens := auth.NewMemStore()
	require.NoError(t, tokens.Put(&auth.Token{TeamID: "T1", UserID: "U0", Token: "xoxb-test"}))

	c := New(ClientOpts{NoRTM: true, APIBaseURL: srv.URL, Tokens: tokens})
	require.NoError(t, c.Connect(context.Background()))

	require.NotNil(t, c.Store().GetTeam("T1"))
	assert.Equal(t, "U0", c.Self("T1").ID)
}

func TestJoinAllChannels(t *testing.T) {
	c := newTestClient(t)
	bootstrapT1(t, c)

	require.NoError(t, c.JoinAllChannels(context.Background(), "T1"))
	assert.NotNil(t, c.Store().GetChannel("C1", "T1"))

	assert.ErrorIs(t, c.JoinAllChannels(context.Background(), "T404"), store.ErrNoCredentials)
}

func TestDownloadFile(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("file-bytes"))
	}))
	defer files.Close()

	c := newTestClient(t)
	bootstrapT1(t, c)

	// The URL carries the team id, so the T1 token is picked.
	buf, err := c.DownloadFile(context.Background(), files.URL+"/files-pri/T1-F1/dump.txt")
	require.NoError(t, err)
	assert.Equal(t, "file-bytes", string(buf))
}
