package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang/glog"

	"github.com/leliel/slackmirror/store"
)

const (
	DefaultBaseURL = "https://slack.com/api"

	// listLimit is the page size requested from cursor-paginated listings.
	listLimit = "1000"
)

// ErrBadResponse flags a transport-level or malformed reply: non-200
// status, undecodable body, or a missing payload object on an ok reply.
var ErrBadResponse = errors.New("malformed web api reply")

// APIError is a protocol-level failure: the remote answered ok=false.
type APIError struct {
	Method string
	Reason string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Reason)
}

// apiResponse is the envelope every reply embeds.
type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Client is a single-workspace REST client. Zero-value is not usable; use
// NewClient. BaseURL and HTTP are overridable for tests.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	token  string
	cookie string
}

// NewClient builds a client for one token. cookie is the optional browser
// cookie header required by workspace-app tokens; empty for bot tokens.
func NewClient(token, cookie string) *Client {
	return &Client{
		BaseURL: DefaultBaseURL,
		HTTP:    http.DefaultClient,
		token:   token,
		cookie:  cookie,
	}
}

// Token returns the bearer token this client authenticates with.
func (c *Client) Token() string { return c.token }

// call posts a form-encoded request and decodes the reply into out. The
// envelope is always checked first: ok=false fails with APIError before
// any payload decoding.
func (c *Client) call(ctx context.Context, method string, form url.Values, out interface{}) error {
	if form == nil {
		form = url.Values{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d: %w", method, resp.StatusCode, ErrBadResponse)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	var probe apiResponse
	if err := json.Unmarshal(body, &probe); err != nil {
		return fmt.Errorf("%s: %v: %w", method, err, ErrBadResponse)
	}
	if !probe.OK {
		return &APIError{Method: method, Reason: probe.Error}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s: %v: %w", method, err, ErrBadResponse)
		}
	}
	glog.V(5).Infof("web %s ok", method)
	return nil
}

// TeamInfo fetches workspace metadata. teamID may differ from the token's
// own workspace for enterprise/shared lookups.
func (c *Client) TeamInfo(ctx context.Context, teamID string) (*store.TeamFragment, error) {
	form := url.Values{}
	if teamID != "" {
		form.Set("team", teamID)
	}
	var resp struct {
		apiResponse
		Team *store.TeamFragment `json:"team"`
	}
	if err := c.call(ctx, "team.info", form, &resp); err != nil {
		return nil, err
	}
	if resp.Team == nil || resp.Team.ID == "" {
		return nil, fmt.Errorf("team.info: no team in reply: %w", ErrBadResponse)
	}
	return resp.Team, nil
}

// ConversationsList fetches one page of every conversation type visible to
// the token. Returns the next-page cursor, empty at the end.
func (c *Client) ConversationsList(ctx context.Context, cursor string) ([]*store.ChannelFragment, string, error) {
	form := url.Values{}
	form.Set("types", "public_channel,private_channel,mpim,im")
	form.Set("limit", listLimit)
	if cursor != "" {
		form.Set("cursor", cursor)
	}
	var resp struct {
		apiResponse
		Channels []*store.ChannelFragment `json:"channels"`
		Metadata struct {
			NextCursor string `json:"next_cursor"`
		} `json:"response_metadata"`
	}
	if err := c.call(ctx, "conversations.list", form, &resp); err != nil {
		return nil, "", err
	}
	return resp.Channels, resp.Metadata.NextCursor, nil
}

// UsersList fetches one page of the workspace member roster.
func (c *Client) UsersList(ctx context.Context, cursor string) ([]*store.UserFragment, string, error) {
	form := url.Values{}
	form.Set("limit", listLimit)
	if cursor != "" {
		form.Set("cursor", cursor)
	}
	var resp struct {
		apiResponse
		Members  []*store.UserFragment `json:"members"`
		Metadata struct {
			NextCursor string `json:"next_cursor"`
		} `json:"response_metadata"`
	}
	if err := c.call(ctx, "users.list", form, &resp); err != nil {
		return nil, "", err
	}
	return resp.Members, resp.Metadata.NextCursor, nil
}

// ConversationInfo fetches full metadata of one conversation.
func (c *Client) ConversationInfo(ctx context.Context, channelID string) (*store.ChannelFragment, error) {
	form := url.Values{}
	form.Set("channel", channelID)
	var resp struct {
		apiResponse
		Channel *store.ChannelFragment `json:"channel"`
	}
	if err := c.call(ctx, "conversations.info", form, &resp); err != nil {
		return nil, err
	}
	if resp.Channel == nil || resp.Channel.ID == "" {
		return nil, fmt.Errorf("conversations.info: no channel in reply: %w", ErrBadResponse)
	}
	return resp.Channel, nil
}

// ConversationMembers fetches one page of member ids of a conversation.
func (c *Client) ConversationMembers(ctx context.Context, channelID, cursor string) ([]string, string, error) {
	form := url.Values{}
	form.Set("channel", channelID)
	form.Set("limit", listLimit)
	if cursor != "" {
		form.Set("cursor", cursor)
	}
	var resp struct {
		apiResponse
		Members  []string `json:"members"`
		Metadata struct {
			NextCursor string `json:"next_cursor"`
		} `json:"response_metadata"`
	}
	if err := c.call(ctx, "conversations.members", form, &resp); err != nil {
		return nil, "", err
	}
	return resp.Members, resp.Metadata.NextCursor, nil
}

// BotInfo fetches a bot record.
func (c *Client) BotInfo(ctx context.Context, botID string) (*store.BotFragment, error) {
	form := url.Values{}
	form.Set("bot", botID)
	var resp struct {
		apiResponse
		Bot *store.BotFragment `json:"bot"`
	}
	if err := c.call(ctx, "bots.info", form, &resp); err != nil {
		return nil, err
	}
	if resp.Bot == nil {
		return nil, fmt.Errorf("bots.info: no bot in reply: %w", ErrBadResponse)
	}
	resp.Bot.Normalize()
	if resp.Bot.BotID == "" {
		return nil, fmt.Errorf("bots.info: no bot id in reply: %w", ErrBadResponse)
	}
	return resp.Bot, nil
}

// UserInfo fetches a full user profile.
func (c *Client) UserInfo(ctx context.Context, userID string) (*store.UserFragment, error) {
	form := url.Values{}
	form.Set("user", userID)
	var resp struct {
		apiResponse
		User *store.UserFragment `json:"user"`
	}
	if err := c.call(ctx, "users.info", form, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil || resp.User.ID == "" {
		return nil, fmt.Errorf("users.info: no user in reply: %w", ErrBadResponse)
	}
	return resp.User, nil
}

// ConversationOpen opens (or resumes) a direct-message conversation with
// one user.
func (c *Client) ConversationOpen(ctx context.Context, userID string) (*store.ChannelFragment, error) {
	form := url.Values{}
	form.Set("users", userID)
	form.Set("return_im", "true")
	var resp struct {
		apiResponse
		Channel *store.ChannelFragment `json:"channel"`
	}
	if err := c.call(ctx, "conversations.open", form, &resp); err != nil {
		return nil, err
	}
	if resp.Channel == nil || resp.Channel.ID == "" {
		return nil, fmt.Errorf("conversations.open: no channel in reply: %w", ErrBadResponse)
	}
	return resp.Channel, nil
}

// ConversationsJoin joins the token's user into a public channel.
func (c *Client) ConversationsJoin(ctx context.Context, channelID string) (*store.ChannelFragment, error) {
	form := url.Values{}
	form.Set("channel", channelID)
	var resp struct {
		apiResponse
		Channel *store.ChannelFragment `json:"channel"`
	}
	if err := c.call(ctx, "conversations.join", form, &resp); err != nil {
		return nil, err
	}
	return resp.Channel, nil
}

// RTMSession is the rtm.connect reply: the websocket URL plus the identity
// it authenticates as.
type RTMSession struct {
	URL  string `json:"url"`
	Team *store.TeamFragment
	Self struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"self"`
}

// RTMConnect obtains a fresh streaming URL. The URL is single-use and
// short-lived; call again for every (re)connection attempt.
func (c *Client) RTMConnect(ctx context.Context) (*RTMSession, error) {
	var resp struct {
		apiResponse
		URL  string              `json:"url"`
		Team *store.TeamFragment `json:"team"`
		Self struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"self"`
	}
	if err := c.call(ctx, "rtm.connect", nil, &resp); err != nil {
		return nil, err
	}
	if resp.URL == "" || resp.Team == nil || resp.Team.ID == "" {
		return nil, fmt.Errorf("rtm.connect: incomplete reply: %w", ErrBadResponse)
	}
	s := &RTMSession{URL: resp.URL, Team: resp.Team}
	s.Self = resp.Self
	return s, nil
}

// AuthIdentity is the auth.test reply.
type AuthIdentity struct {
	URL    string `json:"url"`
	Team   string `json:"team"`
	User   string `json:"user"`
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
	BotID  string `json:"bot_id"`
}

// AuthTest resolves the token's own identity.
func (c *Client) AuthTest(ctx context.Context) (*AuthIdentity, error) {
	var resp struct {
		apiResponse
		AuthIdentity
	}
	if err := c.call(ctx, "auth.test", nil, &resp); err != nil {
		return nil, err
	}
	if resp.TeamID == "" || resp.UserID == "" {
		return nil, fmt.Errorf("auth.test: incomplete reply: %w", ErrBadResponse)
	}
	id := resp.AuthIdentity
	return &id, nil
}

// OAuthGrant is the oauth.access reply.
type OAuthGrant struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
	TeamID      string `json:"team_id"`
	TeamName    string `json:"team_name"`
	UserID      string `json:"user_id"`
	Bot         *struct {
		BotUserID      string `json:"bot_user_id"`
		BotAccessToken string `json:"bot_access_token"`
	} `json:"bot"`
}

// OAuthAccess exchanges an OAuth code for an access grant. Authenticates
// with the app credentials, not the bearer token.
func (c *Client) OAuthAccess(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*OAuthGrant, error) {
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("code", code)
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}
	var resp struct {
		apiResponse
		OAuthGrant
	}
	if err := c.call(ctx, "oauth.access", form, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" || resp.TeamID == "" {
		return nil, fmt.Errorf("oauth.access: incomplete grant: %w", ErrBadResponse)
	}
	grant := resp.OAuthGrant
	return &grant, nil
}

// PostMessage sends a plain text message and returns its ts.
func (c *Client) PostMessage(ctx context.Context, channelID, text string) (string, error) {
	form := url.Values{}
	form.Set("channel", channelID)
	form.Set("text", text)
	form.Set("as_user", "true")
	var resp struct {
		apiResponse
		TS string `json:"ts"`
	}
	if err := c.call(ctx, "chat.postMessage", form, &resp); err != nil {
		return "", err
	}
	return resp.TS, nil
}

// UpdateMessage edits an existing message in place.
func (c *Client) UpdateMessage(ctx context.Context, channelID, ts, text string) error {
	form := url.Values{}
	form.Set("channel", channelID)
	form.Set("ts", ts)
	form.Set("text", text)
	form.Set("as_user", "true")
	return c.call(ctx, "chat.update", form, nil)
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, ts string) error {
	form := url.Values{}
	form.Set("channel", channelID)
	form.Set("ts", ts)
	form.Set("as_user", "true")
	return c.call(ctx, "chat.delete", form, nil)
}

// MeMessage sends an italicized me-message.
func (c *Client) MeMessage(ctx context.Context, channelID, text string) (string, error) {
	form := url.Values{}
	form.Set("channel", channelID)
	form.Set("text", text)
	var resp struct {
		apiResponse
		TS string `json:"ts"`
	}
	if err := c.call(ctx, "chat.meMessage", form, &resp); err != nil {
		return "", err
	}
	return resp.TS, nil
}
