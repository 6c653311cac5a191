package store

// Reaction is an emoji reaction event. Like Message it is transient: it is
// constructed per event and carries a freshly resolved Message for the
// reacted-to item.
type Reaction struct {
	TS       string
	Reaction string
	Message  *Message
}

func newReaction(f *ReactionFragment, msg *Message) *Reaction {
	return &Reaction{
		TS:       f.TS,
		Reaction: f.Reaction,
		Message:  msg,
	}
}
