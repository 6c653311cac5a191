package store

import (
	"sync"
)

// Listener is a set of optional notification callbacks. Consumers fill in
// the ones they care about and register the struct with AddListener. Change
// callbacks receive the pre-patch snapshot and the live entity, in that
// order.
type Listener struct {
	AddTeam    func(*Team)
	ChangeTeam func(old, cur *Team)

	AddUser    func(*User)
	ChangeUser func(old, cur *User)

	AddChannel    func(*Channel)
	ChangeChannel func(old, cur *Channel)

	AddBot    func(*Bot)
	ChangeBot func(old, cur *Bot)

	Message        func(*Message)
	MessageChanged func(old, cur *Message)
	MessageDeleted func(*Message)

	ReactionAdded   func(*Reaction)
	ReactionRemoved func(*Reaction)

	MemberJoinedChannel func(*User, *Channel)
	MemberLeftChannel   func(*User, *Channel)

	Typing         func(*Channel, *User)
	PresenceChange func(*User, string)

	Connected    func()
	Disconnected func()
}

// emitter fans one notification out to every registered listener.
type emitter struct {
	sync.RWMutex
	listeners []*Listener
}

func (e *emitter) add(l *Listener) {
	e.Lock()
	e.listeners = append(e.listeners, l)
	e.Unlock()
}

// each snapshots the listener slice so callbacks can register further
// listeners without deadlocking.
func (e *emitter) each(kind string, fn func(*Listener)) {
	e.RLock()
	snapshot := make([]*Listener, len(e.listeners))
	copy(snapshot, e.listeners)
	e.RUnlock()

	notificationsTotal.WithLabelValues(kind).Inc()
	for _, l := range snapshot {
		fn(l)
	}
}

func (e *emitter) addTeam(t *Team) {
	e.each("addTeam", func(l *Listener) {
		if l.AddTeam != nil {
			l.AddTeam(t)
		}
	})
}

func (e *emitter) changeTeam(old, cur *Team) {
	e.each("changeTeam", func(l *Listener) {
		if l.ChangeTeam != nil {
			l.ChangeTeam(old, cur)
		}
	})
}

func (e *emitter) addUser(u *User) {
	e.each("addUser", func(l *Listener) {
		if l.AddUser != nil {
			l.AddUser(u)
		}
	})
}

func (e *emitter) changeUser(old, cur *User) {
	e.each("changeUser", func(l *Listener) {
		if l.ChangeUser != nil {
			l.ChangeUser(old, cur)
		}
	})
}

func (e *emitter) addChannel(c *Channel) {
	e.each("addChannel", func(l *Listener) {
		if l.AddChannel != nil {
			l.AddChannel(c)
		}
	})
}

func (e *emitter) changeChannel(old, cur *Channel) {
	e.each("changeChannel", func(l *Listener) {
		if l.ChangeChannel != nil {
			l.ChangeChannel(old, cur)
		}
	})
}

func (e *emitter) addBot(b *Bot) {
	e.each("addBot", func(l *Listener) {
		if l.AddBot != nil {
			l.AddBot(b)
		}
	})
}

func (e *emitter) changeBot(old, cur *Bot) {
	e.each("changeBot", func(l *Listener) {
		if l.ChangeBot != nil {
			l.ChangeBot(old, cur)
		}
	})
}

func (e *emitter) message(m *Message) {
	e.each("message", func(l *Listener) {
		if l.Message != nil {
			l.Message(m)
		}
	})
}

func (e *emitter) messageChanged(old, cur *Message) {
	e.each("messageChanged", func(l *Listener) {
		if l.MessageChanged != nil {
			l.MessageChanged(old, cur)
		}
	})
}

func (e *emitter) messageDeleted(m *Message) {
	e.each("messageDeleted", func(l *Listener) {
		if l.MessageDeleted != nil {
			l.MessageDeleted(m)
		}
	})
}

func (e *emitter) reactionAdded(r *Reaction) {
	e.each("reactionAdded", func(l *Listener) {
		if l.ReactionAdded != nil {
			l.ReactionAdded(r)
		}
	})
}

func (e *emitter) reactionRemoved(r *Reaction) {
	e.each("reactionRemoved", func(l *Listener) {
		if l.ReactionRemoved != nil {
			l.ReactionRemoved(r)
		}
	})
}

func (e *emitter) memberJoinedChannel(u *User, c *Channel) {
	e.each("memberJoinedChannel", func(l *Listener) {
		if l.MemberJoinedChannel != nil {
			l.MemberJoinedChannel(u, c)
		}
	})
}

func (e *emitter) memberLeftChannel(u *User, c *Channel) {
	e.each("memberLeftChannel", func(l *Listener) {
		if l.MemberLeftChannel != nil {
			l.MemberLeftChannel(u, c)
		}
	})
}

func (e *emitter) typing(c *Channel, u *User) {
	e.each("typing", func(l *Listener) {
		if l.Typing != nil {
			l.Typing(c, u)
		}
	})
}

func (e *emitter) presenceChange(u *User, presence string) {
	e.each("presenceChange", func(l *Listener) {
		if l.PresenceChange != nil {
			l.PresenceChange(u, presence)
		}
	})
}

func (e *emitter) connected() {
	e.each("connected", func(l *Listener) {
		if l.Connected != nil {
			l.Connected()
		}
	})
}

func (e *emitter) disconnected() {
	e.each("disconnected", func(l *Listener) {
		if l.Disconnected != nil {
			l.Disconnected()
		}
	})
}
