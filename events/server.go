// Package events serves the push-event endpoint: signature-verified event
// callbacks, the OAuth install handshake, and prometheus metrics.
package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leliel/slackmirror/auth"
	"github.com/leliel/slackmirror/web"
)

const (
	// Requests older than this are replays or clock trouble; reject both.
	maxTimestampSkew = 5 * time.Minute

	signaturePrefix = "v0"

	readBodyLimit = 1 << 20
)

// Config wires the endpoint. SigningSecret is required; the OAuth fields
// are only needed when the install handshake is served.
type Config struct {
	SigningSecret string
	AppID         string

	ClientID     string
	ClientSecret string
	RedirectURI  string

	DisableMetrics bool
}

// Sink consumes verified pushes. Implemented by the root client.
type Sink interface {
	// HandlePushEvent receives one inner event object plus its decoded
	// type. raw is only valid for the duration of the call.
	HandlePushEvent(teamID, eventType string, raw []byte)

	// AppUninstalled fires after the team's token is deleted.
	AppUninstalled(teamID string)

	// TokenAdded fires after a fresh OAuth grant is persisted.
	TokenAdded(ctx context.Context, t *auth.Token) error
}

// Server is the HTTP surface. Mount Handler() wherever the deployment
// terminates Slack's requests.
type Server struct {
	conf   Config
	sink   Sink
	tokens auth.TokenStore

	// oauthClient performs the code exchange. Credential-less: oauth.access
	// authenticates with the app secret, not a bearer token.
	oauthClient *web.Client
}

func NewServer(conf Config, sink Sink, tokens auth.TokenStore) *Server {
	return &Server{
		conf:        conf,
		sink:        sink,
		tokens:      tokens,
		oauthClient: web.NewClient("", ""),
	}
}

// OAuthBaseURL overrides the exchange endpoint, for tests.
func (s *Server) OAuthBaseURL(u string) { s.oauthClient.BaseURL = u }

// Handler builds the mux: /events, /oauth and (unless disabled) /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvent)
	mux.HandleFunc("/oauth", s.handleOAuth)
	if !s.conf.DisableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}
	return mux
}

// verify checks the v0 request signature: HMAC-SHA256 of
// "v0:{timestamp}:{body}" under the signing secret, plus timestamp skew.
func (s *Server) verify(r *http.Request, body []byte) error {
	ts := r.Header.Get("X-Slack-Request-Timestamp")
	sig := r.Header.Get("X-Slack-Signature")
	if ts == "" || sig == "" {
		return fmt.Errorf("missing signature headers")
	}
	tsec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("bad timestamp %q", ts)
	}
	if skew := time.Since(time.Unix(tsec, 0)); skew > maxTimestampSkew || skew < -maxTimestampSkew {
		return fmt.Errorf("timestamp outside allowed skew: %s", skew)
	}

	mac := hmac.New(sha256.New, []byte(s.conf.SigningSecret))
	fmt.Fprintf(mac, "%s:%s:", signaturePrefix, ts)
	mac.Write(body)
	want := signaturePrefix + "=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// callbackEnvelope is the outer push payload.
type callbackEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	APIAppID  string `json:"api_app_id"`
	TeamID    string `json:"team_id"`

	Event json.RawMessage `json:"event"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	rid := uuid.New()
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, readBodyLimit))
	if err != nil {
		glog.Errorf("push %s: read body: %v", rid, err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.verify(r, body); err != nil {
		glog.Errorf("push %s: verify: %v", rid, err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		glog.Errorf("push %s: decode: %v", rid, err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch env.Type {
	case "url_verification":
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(env.Challenge))
		return
	case "event_callback":
		// Fall through.
	default:
		glog.V(5).Infof("push %s: ignoring envelope type %q", rid, env.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	if s.conf.AppID != "" && env.APIAppID != s.conf.AppID {
		glog.V(5).Infof("push %s: foreign app id %q", rid, env.APIAppID)
		w.WriteHeader(http.StatusOK)
		return
	}

	var inner struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(env.Event, &inner); err != nil || inner.Type == "" {
		glog.Errorf("push %s: bad inner event: %v", rid, err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Ack before processing: Slack retries on slow responses. The flush
	// pushes the status line out now instead of when the handler returns.
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if inner.Type == "app_uninstalled" {
		glog.Infof("push %s: app uninstalled from %s", rid, env.TeamID)
		if err := s.tokens.Delete(env.TeamID); err != nil {
			glog.Errorf("push %s: delete token for %s: %v", rid, env.TeamID, err)
		}
		s.sink.AppUninstalled(env.TeamID)
		return
	}
	glog.V(5).Infof("push %s: %s event for %s", rid, inner.Type, env.TeamID)
	s.sink.HandlePushEvent(env.TeamID, inner.Type, env.Event)
}

func (s *Server) handleOAuth(w http.ResponseWriter, r *http.Request) {
	rid := uuid.New()
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	grant, err := s.oauthClient.OAuthAccess(r.Context(), s.conf.ClientID, s.conf.ClientSecret, code, s.conf.RedirectURI)
	if err != nil {
		glog.Errorf("oauth %s: exchange: %v", rid, err)
		http.Error(w, "oauth exchange failed", http.StatusBadGateway)
		return
	}

	tok := &auth.Token{
		TeamID: grant.TeamID,
		UserID: grant.UserID,
		Token:  grant.AccessToken,
	}
	// A bot grant supersedes the user token for the mirror's purposes.
	if grant.Bot != nil && grant.Bot.BotAccessToken != "" {
		tok.Token = grant.Bot.BotAccessToken
		tok.UserID = grant.Bot.BotUserID
	}
	if err := s.tokens.Put(tok); err != nil {
		glog.Errorf("oauth %s: persist token for %s: %v", rid, tok.TeamID, err)
		http.Error(w, "token persistence failed", http.StatusInternalServerError)
		return
	}
	if err := s.sink.TokenAdded(r.Context(), tok); err != nil {
		glog.Errorf("oauth %s: bootstrap %s: %v", rid, tok.TeamID, err)
		http.Error(w, "workspace bootstrap failed", http.StatusInternalServerError)
		return
	}

	glog.Infof("oauth %s: installed into team %s", rid, tok.TeamID)
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "installed into workspace %s", tok.TeamID)
}
