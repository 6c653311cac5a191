package store

import (
	"context"
	"errors"
)

var (
	ErrTeamNotFound    = errors.New("team not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrAuthorNotFound  = errors.New("user or bot not found")
	ErrNoCredentials   = errors.New("no web client for team")
	ErrBadFragment     = errors.New("bad fragment")
)

// IWebAPI is the narrow outbound REST contract the store consumes. Replies
// are pre-validated by the implementation: a non-nil fragment means the
// remote call succeeded with a well-formed payload.
//
// List calls are cursor-paginated: they return the next-page cursor, empty
// when the listing is exhausted.
type IWebAPI interface {
	TeamInfo(ctx context.Context, teamID string) (*TeamFragment, error)
	ConversationsList(ctx context.Context, cursor string) ([]*ChannelFragment, string, error)
	UsersList(ctx context.Context, cursor string) ([]*UserFragment, string, error)
	ConversationInfo(ctx context.Context, channelID string) (*ChannelFragment, error)
	ConversationMembers(ctx context.Context, channelID, cursor string) ([]string, string, error)
	BotInfo(ctx context.Context, botID string) (*BotFragment, error)
	UserInfo(ctx context.Context, userID string) (*UserFragment, error)
	ConversationOpen(ctx context.Context, userID string) (*ChannelFragment, error)
}

// IWebRegistry resolves the per-team REST client. Web returns nil when no
// credentials are registered for the team.
type IWebRegistry interface {
	Web(teamID string) IWebAPI
}
