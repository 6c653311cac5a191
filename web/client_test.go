package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("xoxb-test", "d=cookie")
	c.BaseURL = srv.URL
	return c
}

func TestCallSendsAuthHeaders(t *testing.T) {
	var gotAuth, gotCookie, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCookie = r.Header.Get("Cookie")
		gotPath = r.URL.Path
		w.Write([]byte(`{"ok":true,"team":{"id":"T1","name":"acme"}}`))
	})

	team, err := c.TeamInfo(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "T1", team.ID)
	assert.Equal(t, "Bearer xoxb-test", gotAuth)
	assert.Equal(t, "d=cookie", gotCookie)
	assert.Equal(t, "/team.info", gotPath)
}

func TestCallProtocolError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error":"invalid_auth"}`))
	})

	_, err := c.UserInfo(context.Background(), "U1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "users.info", apiErr.Method)
	assert.Equal(t, "invalid_auth", apiErr.Reason)
}

func TestCallMalformedReplies(t *testing.T) {
	cases := []struct {
		name string
		body string
		code int
	}{
		{"not json", "<html>gateway error</html>", http.StatusOK},
		{"bad status", `{"ok":true}`, http.StatusBadGateway},
		{"ok without payload", `{"ok":true}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				w.Write([]byte(tc.body))
			})
			_, err := c.TeamInfo(context.Background(), "T1")
			assert.True(t, errors.Is(err, ErrBadResponse), "got %v", err)
		})
	}
}

func TestConversationsListPagination(t *testing.T) {
	var cursors []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		cursors = append(cursors, r.Form.Get("cursor"))
		if r.Form.Get("cursor") == "" {
			w.Write([]byte(`{"ok":true,"channels":[{"id":"C1","is_channel":true}],"response_metadata":{"next_cursor":"page2"}}`))
			return
		}
		w.Write([]byte(`{"ok":true,"channels":[{"id":"C2","is_im":true}],"response_metadata":{"next_cursor":""}}`))
	})

	ctx := context.Background()
	frags, next, err := c.ConversationsList(ctx, "")
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "C1", frags[0].ID)
	assert.Equal(t, "page2", next)

	frags, next, err = c.ConversationsList(ctx, next)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "C2", frags[0].ID)
	assert.Empty(t, next)
	assert.Equal(t, []string{"", "page2"}, cursors)
}

func TestBotInfoNormalizesID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// bots.info replies with "id", not "bot_id".
		w.Write([]byte(`{"ok":true,"bot":{"id":"B1","name":"deploybot","user_id":"U9"}}`))
	})
	bot, err := c.BotInfo(context.Background(), "B1")
	require.NoError(t, err)
	assert.Equal(t, "B1", bot.BotID)
	require.NotNil(t, bot.UserID)
	assert.Equal(t, "U9", *bot.UserID)
}

func TestRTMConnect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"url":"wss://gw.example/ws","team":{"id":"T1","name":"acme"},"self":{"id":"U1","name":"bot"}}`))
	})
	s, err := c.RTMConnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://gw.example/ws", s.URL)
	assert.Equal(t, "T1", s.Team.ID)
	assert.Equal(t, "U1", s.Self.ID)
}

func TestAuthTestIncomplete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"team":"acme"}`))
	})
	_, err := c.AuthTest(context.Background())
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestPostMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "C1", r.Form.Get("channel"))
		assert.Equal(t, "hello", r.Form.Get("text"))
		w.Write([]byte(`{"ok":true,"ts":"123.456"}`))
	})
	ts, err := c.PostMessage(context.Background(), "C1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "123.456", ts)
}

func TestRegistryNilInterface(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Web("T404"))

	c := NewClient("xoxb-1", "")
	r.Add("T1", c)
	assert.NotNil(t, r.Web("T1"))
	assert.Same(t, c, r.Client("T1"))

	r.Remove("T1")
	assert.Nil(t, r.Web("T1"))

	// The registry's miss must be an untyped nil so interface comparisons
	// in the store behave.
	assert.True(t, r.Web("T1") == nil)
}
