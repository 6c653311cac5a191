// Package bridge forwards mirror notifications to kafka, one JSON message
// per notification, for downstream consumers that prefer a log over
// callbacks.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang/glog"
	"github.com/segmentio/kafka-go"

	"github.com/leliel/slackmirror/store"
)

type IKafkaWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Notification is the wire shape of one forwarded callback.
type Notification struct {
	Kind      string `json:"kind"`
	TeamID    string `json:"team_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	AuthorID  string `json:"author_id,omitempty"`
	TS        string `json:"ts,omitempty"`
	Text      string `json:"text,omitempty"`
	Reaction  string `json:"reaction,omitempty"`
	Presence  string `json:"presence,omitempty"`
}

// Forwarder writes notifications to one topic. Messages whose encoded
// payload exceeds valueMaxBytes are dropped with an error log, never
// truncated.
type Forwarder struct {
	writer        IKafkaWriter
	valueMaxBytes int
}

// NewWriter builds the production kafka writer for the forwarder.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func NewForwarder(writer IKafkaWriter, valueMaxBytes int) *Forwarder {
	return &Forwarder{writer: writer, valueMaxBytes: valueMaxBytes}
}

func (f *Forwarder) Close() error {
	return f.writer.Close()
}

func (f *Forwarder) publish(n *Notification) {
	buf, err := json.Marshal(n)
	if err != nil {
		glog.Errorf("bridge: marshal %s: %v", n.Kind, err)
		return
	}
	if f.valueMaxBytes > 0 && len(buf) > f.valueMaxBytes {
		glog.Errorf("bridge: %s payload out of limit: %d > %d bytes", n.Kind, len(buf), f.valueMaxBytes)
		return
	}
	msg := kafka.Message{
		Key:   []byte(n.TeamID),
		Value: buf,
		Time:  time.Now(),
	}
	if err := f.writer.WriteMessages(context.Background(), msg); err != nil {
		glog.Errorf("bridge: write %s: %v", n.Kind, err)
	}
}

func messageNotification(kind string, m *store.Message) *Notification {
	n := &Notification{
		Kind:      kind,
		ChannelID: m.Channel.ID,
		TeamID:    m.Channel.TeamID,
		TS:        m.TS,
		Text:      m.Text,
	}
	if m.Author != nil {
		n.AuthorID = m.Author.AuthorID()
	}
	return n
}

// Listener builds the store listener that feeds this forwarder. Register
// the result with Store.AddListener.
func (f *Forwarder) Listener() *store.Listener {
	return &store.Listener{
		AddTeam: func(t *store.Team) {
			f.publish(&Notification{Kind: "addTeam", TeamID: t.ID})
		},
		AddChannel: func(c *store.Channel) {
			f.publish(&Notification{Kind: "addChannel", TeamID: c.TeamID, ChannelID: c.ID})
		},
		AddUser: func(u *store.User) {
			f.publish(&Notification{Kind: "addUser", TeamID: u.TeamID, AuthorID: u.ID})
		},
		Message: func(m *store.Message) {
			f.publish(messageNotification("message", m))
		},
		MessageChanged: func(old, cur *store.Message) {
			f.publish(messageNotification("messageChanged", cur))
		},
		MessageDeleted: func(m *store.Message) {
			f.publish(messageNotification("messageDeleted", m))
		},
		ReactionAdded: func(r *store.Reaction) {
			n := messageNotification("reactionAdded", r.Message)
			n.Reaction = r.Reaction
			f.publish(n)
		},
		ReactionRemoved: func(r *store.Reaction) {
			n := messageNotification("reactionRemoved", r.Message)
			n.Reaction = r.Reaction
			f.publish(n)
		},
		MemberJoinedChannel: func(u *store.User, c *store.Channel) {
			f.publish(&Notification{Kind: "memberJoinedChannel", TeamID: c.TeamID, ChannelID: c.ID, AuthorID: u.ID})
		},
		MemberLeftChannel: func(u *store.User, c *store.Channel) {
			f.publish(&Notification{Kind: "memberLeftChannel", TeamID: c.TeamID, ChannelID: c.ID, AuthorID: u.ID})
		},
		PresenceChange: func(u *store.User, presence string) {
			f.publish(&Notification{Kind: "presenceChange", TeamID: u.TeamID, AuthorID: u.ID, Presence: presence})
		},
	}
}
