package models

import "time"

// Message is a chat message between two users. Only the read-state fields change
// after it is stored.
type Message struct {
	ID         string     `db:"id" json:"id"`
	SenderID   string     `db:"sender_id" json:"senderId"`
	ReceiverID string     `db:"receiver_id" json:"receiverId"`
	Text       string     `db:"text" json:"text,omitempty"`
	Attachment string     `db:"attachment" json:"attachment,omitempty"`
	IsRead     bool       `db:"is_read" json:"isRead"`
	ReadAt     *time.Time `db:"read_at" json:"readAt,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	// Seq is the store insertion order; it breaks createdAt ties.
	Seq int64 `db:"seq" json:"-"`
}

// Counterpart returns the other party of the message as seen by userID.
func (m Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// ConversationGroup is the store-level aggregate for one counterpart.
type ConversationGroup struct {
	CounterpartID string
	LastMessage   Message
	UnreadCount   int
}

// ConversationSummary is the API view of a conversation for one user.
type ConversationSummary struct {
	User        UserProfile `json:"user"`
	LastMessage Message     `json:"lastMessage"`
	UnreadCount int         `json:"unreadCount"`
}
